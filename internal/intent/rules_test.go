package intent

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/writecoach/internal/domain"
	"github.com/ashureev/writecoach/internal/workflow"
)

func sessionAt(phase domain.Phase, args ...domain.Argument) domain.Session {
	s := domain.NewSession("s1", "u1", "Remote work is better than office work.", domain.NoMemory(), time.Unix(0, 0))
	s.Phase = phase
	s.Arguments = args
	return s
}

func classify(t *testing.T, s domain.Session, speaker domain.Role, text string) []workflow.Intent {
	t.Helper()
	out, err := NewRules().Classify(context.Background(), Utterance{Session: s, Speaker: speaker, Text: text})
	require.NoError(t, err)
	return out
}

func TestRules_Stance(t *testing.T) {
	s := sessionAt(domain.PhaseCollectStance)

	tests := []struct {
		name      string
		text      string
		position  domain.Position
		rationale string
		ok        bool
	}{
		{"agree", "I agree because commuting wastes time", domain.PositionAgree, "commuting wastes time", true},
		{"disagree", "I disagree since teams need contact", domain.PositionDisagree, "teams need contact", true},
		{"negated agree", "I don't agree: offices build culture", domain.PositionDisagree, "offices build culture", true},
		{"neutral", "I partly agree because it depends on the job", domain.PositionNeutral, "it depends on the job", true},
		{"no rationale", "I agree", "", "", false},
		{"as clause", "I agree as working from home saves time", domain.PositionAgree, "working from home saves time", true},
		{"as well", "I agree as well", "", "", false},
		{"as well because", "I agree as well because offices are noisy", domain.PositionAgree, "offices are noisy", true},
		{"no position", "because it is nice", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := classify(t, s, domain.RoleUser, tt.text)
			if !tt.ok {
				assert.Empty(t, out)
				return
			}
			require.Len(t, out, 1)
			assert.Equal(t, workflow.IntentDeclareStance, out[0].Kind)
			assert.Equal(t, tt.position, out[0].Position)
			assert.Equal(t, tt.rationale, out[0].Rationale)
		})
	}
}

func TestRules_AssistantProposals(t *testing.T) {
	s := sessionAt(domain.PhaseProposeArguments)
	reply := "Here are two ideas:\n<argument>Less commuting.</argument>\n<argument> Flexible hours. </argument>\n<argument></argument>"

	out := classify(t, s, domain.RoleAssistant, reply)
	require.Len(t, out, 2)
	assert.Equal(t, workflow.ProposeArgument("Less commuting."), out[0])
	assert.Equal(t, workflow.ProposeArgument("Flexible hours."), out[1])
}

func TestRules_AssistantProposalsIgnoredInOtherPhases(t *testing.T) {
	for _, phase := range []domain.Phase{domain.PhaseCollectStance, domain.PhaseDrafting, domain.PhaseDone} {
		out := classify(t, sessionAt(phase), domain.RoleAssistant, "<argument>A</argument>")
		assert.Empty(t, out, phase.String())
	}
}

func TestRules_UserResponses(t *testing.T) {
	args := []domain.Argument{
		{Text: "A", Status: domain.ArgumentProposed},
		{Text: "B", Status: domain.ArgumentProposed},
		{Text: "C", Status: domain.ArgumentProposed},
	}
	s := sessionAt(domain.PhaseProposeArguments, args...)

	out := classify(t, s, domain.RoleUser, "I accept 1 and 2, but reject 3")
	assert.Equal(t, []workflow.Intent{
		workflow.RespondArgument(0, true),
		workflow.RespondArgument(1, true),
		workflow.RespondArgument(2, false),
	}, out)

	out = classify(t, s, domain.RoleUser, "Drop the second, keep the first")
	assert.ElementsMatch(t, []workflow.Intent{
		workflow.RespondArgument(1, false),
		workflow.RespondArgument(0, true),
	}, out)

	out = classify(t, s, domain.RoleUser, "I don't like #3")
	assert.Equal(t, []workflow.Intent{workflow.RespondArgument(2, false)}, out)

	out = classify(t, s, domain.RoleUser, "accept all")
	assert.Len(t, out, 3)

	out = classify(t, s, domain.RoleUser, "accept 7")
	assert.Empty(t, out)
}

func TestRules_StanceConfirmation(t *testing.T) {
	accepted := []domain.Argument{
		{Text: "A", Status: domain.ArgumentAccepted},
		{Text: "B", Status: domain.ArgumentAccepted},
	}

	out := classify(t, sessionAt(domain.PhaseStanceConfirmation, accepted...), domain.RoleUser, "Yes, let's write")
	assert.Equal(t, []workflow.Intent{workflow.ConfirmArguments()}, out)

	out = classify(t, sessionAt(domain.PhaseStanceConfirmation, accepted...), domain.RoleUser, "Actually reject 2")
	assert.Equal(t, []workflow.Intent{workflow.RespondArgument(1, false), workflow.ConfirmArguments()}, out)

	out = classify(t, sessionAt(domain.PhaseStanceConfirmation, accepted...), domain.RoleUser, "hmm")
	assert.Empty(t, out)
}

func TestRules_ReplacementAfterRejection(t *testing.T) {
	args := []domain.Argument{
		{Text: "A", Status: domain.ArgumentAccepted},
		{Text: "B", Status: domain.ArgumentRejected},
	}
	s := sessionAt(domain.PhaseStanceConfirmation, args...)

	out := classify(t, s, domain.RoleAssistant, "How about <argument>D</argument>?")
	assert.Equal(t, []workflow.Intent{workflow.ConfirmArguments(), workflow.ProposeArgument("D")}, out)

	args[1].Status = domain.ArgumentAccepted
	out = classify(t, sessionAt(domain.PhaseStanceConfirmation, args...), domain.RoleAssistant, "<argument>D</argument>")
	assert.Empty(t, out)
}

func TestRules_Paragraphs(t *testing.T) {
	out := classify(t, sessionAt(domain.PhaseDrafting), domain.RoleAssistant, "Draft:\n<paragraph>Intro text.</paragraph>\nWhat do you think?")
	assert.Equal(t, []workflow.Intent{workflow.SubmitParagraph("Intro text.")}, out)

	out = classify(t, sessionAt(domain.PhaseParagraphReview), domain.RoleAssistant, "<PARAGRAPH>Revised.</PARAGRAPH>")
	assert.Equal(t, []workflow.Intent{workflow.SubmitParagraph("Revised.")}, out)
}

func TestRules_Review(t *testing.T) {
	s := sessionAt(domain.PhaseParagraphReview)

	assert.Equal(t, []workflow.Intent{workflow.ReviewParagraph(true)}, classify(t, s, domain.RoleUser, "Looks great, next"))
	assert.Equal(t, []workflow.Intent{workflow.ReviewParagraph(false)}, classify(t, s, domain.RoleUser, "Good, but make it shorter"))
	assert.Equal(t, []workflow.Intent{workflow.ReviewParagraph(false)}, classify(t, s, domain.RoleUser, "Please revise the second sentence"))
	assert.Empty(t, classify(t, s, domain.RoleUser, "hmm"))

	approvals := []string{
		"Looks good, no changes needed.",
		"Perfect, nothing to fix.",
		"Great, I have no complaints",
		"No changes, thanks",
	}
	for _, text := range approvals {
		assert.Equal(t, []workflow.Intent{workflow.ReviewParagraph(true)}, classify(t, s, domain.RoleUser, text), text)
	}

	revisions := []string{
		"No, it is too informal",
		"No changes to the intro, but fix the last sentence",
		"Nice, but rewrite the opening",
	}
	for _, text := range revisions {
		assert.Equal(t, []workflow.Intent{workflow.ReviewParagraph(false)}, classify(t, s, domain.RoleUser, text), text)
	}
}

func TestRules_DoneIgnoresEverything(t *testing.T) {
	s := sessionAt(domain.PhaseDone)
	assert.Empty(t, classify(t, s, domain.RoleUser, "I agree because yes, accept 1, looks good"))
	assert.Empty(t, classify(t, s, domain.RoleAssistant, "<paragraph>More</paragraph>"))
}
