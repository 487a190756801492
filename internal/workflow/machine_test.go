package workflow

import (
	"encoding/json"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/writecoach/internal/domain"
)

var testNow = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func newTestSession() domain.Session {
	return domain.NewSession("sess-1", "user-1", "Some people think remote work is better.", domain.NoMemory(), testNow)
}

// mustApply advances s through every intent and fails the test if one is a no-op.
func mustApply(t *testing.T, m *Machine, s domain.Session, intents ...Intent) domain.Session {
	t.Helper()
	for _, in := range intents {
		var out Outcome
		s, out = m.Advance(s, in)
		require.Truef(t, out.Applied, "%s in %s was a no-op: %s", in, out.From, out.Reason)
		require.NoError(t, out.Err)
	}
	return s
}

func TestAdvance_StanceMovesToProposeArguments(t *testing.T) {
	m := NewMachine()
	s, out := m.Advance(newTestSession(), DeclareStance(domain.PositionAgree, "it saves commuting time"))

	require.True(t, out.Applied)
	assert.Equal(t, domain.PhaseProposeArguments, s.Phase)
	require.NotNil(t, s.Stance)
	assert.Equal(t, domain.PositionAgree, s.Stance.Position)
	assert.Equal(t, "it saves commuting time", s.Stance.Rationale)
}

func TestAdvance_AmbiguousStanceIsNoop(t *testing.T) {
	m := NewMachine()
	start := newTestSession()

	for _, in := range []Intent{
		DeclareStance("", "no idea"),
		DeclareStance("maybe", "because"),
		DeclareStance(domain.PositionDisagree, "   "),
	} {
		s, out := m.Advance(start, in)
		assert.False(t, out.Applied)
		assert.NotEmpty(t, out.Reason)
		assert.Equal(t, start, s)
	}
}

func TestAdvance_IllegalIntentIsNoop(t *testing.T) {
	m := NewMachine()
	start := newTestSession()

	s, out := m.Advance(start, SubmitParagraph("An early paragraph."))
	assert.False(t, out.Applied)
	assert.NoError(t, out.Err)
	assert.Equal(t, domain.PhaseCollectStance, s.Phase)
	assert.Equal(t, start, s)
}

func TestAdvance_DoesNotMutateInput(t *testing.T) {
	m := NewMachine()
	s := mustApply(t, m, newTestSession(),
		DeclareStance(domain.PositionAgree, "flexibility"),
		ProposeArgument("Less commuting"),
	)
	before := s.Clone()

	_, out := m.Advance(s, ProposeArgument("Better focus"))
	require.True(t, out.Applied)
	assert.Equal(t, before, s)
}

func TestAdvance_RejectsFourthProposal(t *testing.T) {
	m := NewMachine()
	s := mustApply(t, m, newTestSession(),
		DeclareStance(domain.PositionDisagree, "isolation harms teams"),
		ProposeArgument("A"),
		ProposeArgument("B"),
		ProposeArgument("C"),
	)

	next, out := m.Advance(s, ProposeArgument("D"))
	assert.False(t, out.Applied)
	assert.Len(t, next.Arguments, 3)
}

func TestAdvance_WaitsForEveryArgumentResponse(t *testing.T) {
	m := NewMachine()
	s := mustApply(t, m, newTestSession(),
		DeclareStance(domain.PositionNeutral, "both sides have merit"),
		ProposeArgument("A"),
		ProposeArgument("B"),
		ProposeArgument("C"),
		RespondArgument(0, true),
		RespondArgument(1, true),
	)
	assert.Equal(t, domain.PhaseProposeArguments, s.Phase)

	_, out := m.Advance(s, RespondArgument(0, false))
	assert.False(t, out.Applied, "a decided argument cannot be decided again")

	s = mustApply(t, m, s, RespondArgument(2, true))
	assert.Equal(t, domain.PhaseStanceConfirmation, s.Phase)
}

func TestAdvance_SingleArgumentCannotConfirm(t *testing.T) {
	m := NewMachine()
	s := mustApply(t, m, newTestSession(),
		DeclareStance(domain.PositionAgree, "cheaper"),
		ProposeArgument("A"),
		RespondArgument(0, true),
	)
	assert.Equal(t, domain.PhaseProposeArguments, s.Phase)
}

func TestAdvance_ObjectionInConfirmationLoops(t *testing.T) {
	m := NewMachine()
	s := mustApply(t, m, newTestSession(),
		DeclareStance(domain.PositionAgree, "cheaper"),
		ProposeArgument("A"),
		ProposeArgument("B"),
		RespondArgument(0, true),
		RespondArgument(1, true),
		RespondArgument(1, false),
	)
	assert.Equal(t, domain.PhaseStanceConfirmation, s.Phase)
	assert.Equal(t, domain.ArgumentRejected, s.Arguments[1].Status)

	s = mustApply(t, m, s, ConfirmArguments())
	assert.Equal(t, domain.PhaseProposeArguments, s.Phase)
	require.Len(t, s.Arguments, 1)
	assert.Equal(t, "A", s.Arguments[0].Text)
}

func TestAdvance_FullScenario(t *testing.T) {
	m := NewMachine()
	s := mustApply(t, m, newTestSession(), DeclareStance(domain.PositionAgree, "it gives people time back"))
	require.Equal(t, domain.PhaseProposeArguments, s.Phase)

	s = mustApply(t, m, s,
		ProposeArgument("Less commuting"),
		ProposeArgument("Better focus"),
		ProposeArgument("Lower office costs"),
		RespondArgument(0, true),
		RespondArgument(1, true),
		RespondArgument(2, false),
	)
	require.Equal(t, domain.PhaseStanceConfirmation, s.Phase)

	s = mustApply(t, m, s, ConfirmArguments())
	require.Equal(t, domain.PhaseProposeArguments, s.Phase)
	require.Len(t, s.Arguments, 2)

	s = mustApply(t, m, s, ProposeArgument("Wider hiring pool"), RespondArgument(2, true))
	require.Equal(t, domain.PhaseStanceConfirmation, s.Phase)

	s = mustApply(t, m, s, ConfirmArguments())
	require.Equal(t, domain.PhaseDrafting, s.Phase)

	s = mustApply(t, m, s, SubmitParagraph("First."), ReviewParagraph(true))
	require.Equal(t, domain.PhaseParagraphReview, s.Phase)

	s = mustApply(t, m, s, SubmitParagraph("Second, rough."), ReviewParagraph(false))
	require.Equal(t, domain.ReviewDraft, s.Paragraphs[1].ReviewStatus)

	_, out := m.Advance(s, ReviewParagraph(true))
	assert.False(t, out.Applied, "a draft paragraph needs resubmission before approval")

	s = mustApply(t, m, s, SubmitParagraph("Second."), ReviewParagraph(true))
	require.Len(t, s.Paragraphs, 2)
	assert.Equal(t, 1, s.Paragraphs[1].Index)
	assert.Equal(t, "Second.", s.Paragraphs[1].Content)

	s = mustApply(t, m, s, SubmitParagraph("Third."))
	_, out = m.Advance(s, SubmitParagraph("Fourth while third is pending."))
	assert.False(t, out.Applied)

	s = mustApply(t, m, s, ReviewParagraph(true))
	require.Equal(t, domain.PhaseDone, s.Phase)

	for i, p := range s.Paragraphs {
		assert.Equal(t, i, p.Index)
	}

	payload, err := Deliver(s)
	require.NoError(t, err)
	assert.Equal(t, []string{"First.", "Second.", "Third."}, payload.Paragraphs)
	assert.Equal(t, "First.Second.Third.", payload.Text())

	_, out = m.Advance(s, SubmitParagraph("late"))
	assert.False(t, out.Applied, "done accepts nothing")
}

func TestAdvance_DoneRequiresOneParagraphPerArgument(t *testing.T) {
	m := NewMachine()
	s := newTestSession()
	s.Phase = domain.PhaseParagraphReview
	s.Arguments = []domain.Argument{
		{Text: "A", Status: domain.ArgumentAccepted},
		{Text: "B", Status: domain.ArgumentAccepted},
	}
	s.Paragraphs = []domain.Paragraph{
		{Index: 0, Content: "one", ReviewStatus: domain.ReviewApproved},
		{Index: 1, Content: "two", ReviewStatus: domain.ReviewApproved},
		{Index: 2, Content: "three", ReviewStatus: domain.ReviewUnderReview},
	}

	next, out := m.Advance(s, ReviewParagraph(true))
	assert.False(t, out.Applied)
	assert.ErrorIs(t, out.Err, ErrInvariantViolation)
	assert.Equal(t, domain.PhaseParagraphReview, next.Phase)
	assert.Equal(t, domain.ReviewUnderReview, next.Paragraphs[2].ReviewStatus)
}

func TestDeliver_OutOfPhaseLeavesSessionUnchanged(t *testing.T) {
	m := NewMachine()
	s := mustApply(t, m, newTestSession(),
		DeclareStance(domain.PositionAgree, "x"),
		ProposeArgument("A"),
		ProposeArgument("B"),
		RespondArgument(0, true),
		RespondArgument(1, true),
		ConfirmArguments(),
	)
	require.Equal(t, domain.PhaseDrafting, s.Phase)

	before, err := json.Marshal(s)
	require.NoError(t, err)

	payload, err := Deliver(s)
	assert.ErrorIs(t, err, ErrToolInvocationOutOfPhase)
	assert.Empty(t, payload.Paragraphs)

	after, err := json.Marshal(s)
	require.NoError(t, err)
	assert.Equal(t, string(before), string(after))
}

func TestDeliver_OnlyInDone(t *testing.T) {
	for _, phase := range domain.Phases {
		s := newTestSession()
		s.Phase = phase
		_, err := Deliver(s)
		if phase == domain.PhaseDone {
			assert.NoError(t, err, phase)
		} else {
			assert.ErrorIs(t, err, ErrToolInvocationOutOfPhase, phase)
		}
	}
}

func TestCanMove(t *testing.T) {
	assert.True(t, CanMove(domain.PhaseStanceConfirmation, domain.PhaseProposeArguments))
	assert.False(t, CanMove(domain.PhaseParagraphReview, domain.PhaseDrafting))
	assert.False(t, CanMove(domain.PhaseProposeArguments, domain.PhaseCollectStance))
	assert.False(t, CanMove(domain.PhaseCollectStance, domain.PhaseDone))
	assert.False(t, CanMove("bogus", "bogus"))
}

func randomIntent(r *rand.Rand) Intent {
	positions := []domain.Position{domain.PositionAgree, domain.PositionDisagree, domain.PositionNeutral, ""}
	switch r.Intn(6) {
	case 0:
		return DeclareStance(positions[r.Intn(len(positions))], []string{"", "because"}[r.Intn(2)])
	case 1:
		return ProposeArgument([]string{"", "point"}[r.Intn(2)])
	case 2:
		return RespondArgument(r.Intn(4)-1, r.Intn(3) > 0)
	case 3:
		return ConfirmArguments()
	case 4:
		return SubmitParagraph([]string{"", "para"}[r.Intn(2)])
	default:
		return ReviewParagraph(r.Intn(3) > 0)
	}
}

func TestAdvance_RandomTracesRespectPhaseGraph(t *testing.T) {
	m := NewMachine()
	r := rand.New(rand.NewSource(42))

	for run := 0; run < 500; run++ {
		s := newTestSession()
		left := map[domain.Phase]bool{}
		for step := 0; step < 200; step++ {
			next, out := m.Advance(s, randomIntent(r))
			require.True(t, next.Phase.Valid())

			if out.Moved() {
				require.True(t, CanMove(out.From, out.To), "%s -> %s", out.From, out.To)
				if out.To.Order() < out.From.Order() {
					require.Equal(t, domain.PhaseStanceConfirmation, out.From)
					require.Equal(t, domain.PhaseProposeArguments, out.To)
				}
				left[out.From] = true
				for _, once := range []domain.Phase{domain.PhaseCollectStance, domain.PhaseDrafting, domain.PhaseDone} {
					require.False(t, out.To == once && left[once], "re-entered %s", once)
				}
			}
			if !out.Applied {
				require.Equal(t, s, next)
			}
			if next.Phase == domain.PhaseDone {
				require.Equal(t, next.AcceptedArguments(), len(next.Paragraphs))
			}
			for i, p := range next.Paragraphs {
				require.Equal(t, i, p.Index)
			}
			s = next
		}
	}
}
