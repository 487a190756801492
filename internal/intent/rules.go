// Package intent maps conversation turns onto workflow intents.
package intent

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/ashureev/writecoach/internal/domain"
	"github.com/ashureev/writecoach/internal/workflow"
)

// Utterance is one side of a turn together with the session it is classified against.
type Utterance struct {
	Session domain.Session
	Speaker domain.Role
	Text    string
}

// Classifier turns an utterance into the intents it expresses for the
// session's current phase. An utterance that expresses nothing yields no
// intents and no error.
type Classifier interface {
	Classify(ctx context.Context, u Utterance) ([]workflow.Intent, error)
}

var (
	argumentTag  = regexp.MustCompile(`(?is)<argument>(.*?)</argument>`)
	paragraphTag = regexp.MustCompile(`(?is)<paragraph>(.*?)</paragraph>`)

	disagreePattern = regexp.MustCompile(`(?i)\b(disagree|don't agree|do not agree|oppose|against)\b`)
	neutralPattern  = regexp.MustCompile(`(?i)\b(neutral|partly agree|partially agree|both sides|mixed|in between)\b`)
	agreePattern    = regexp.MustCompile(`(?i)\b(agree|support|in favou?r)\b`)
	rationaleMarker = regexp.MustCompile(`(?i)(\bbecause\b|\bsince\b|\bdue to\b|:)`)

	// "as" only introduces a rationale when a clause of three or more words follows.
	asClause = regexp.MustCompile(`(?i)\bas\s+(\S+(?:\s+\S+){2,})`)

	confirmPattern = regexp.MustCompile(`(?i)\b(confirm(ed)?|proceed|go ahead|looks good|let's write|lets write|start writing|sounds good|yes)\b`)
	revisePattern  = regexp.MustCompile(`(?i)\b(revise|change|rewrite|reject|fix|improve|shorter|longer|redo)\b`)
	approvePattern = regexp.MustCompile(`(?i)\b(approve[sd]?|good|great|lgtm|perfect|fine|ok|okay|yes|next|continue)\b`)
	refusalPrefix  = regexp.MustCompile(`(?i)^\W*(no|nope|not yet)\b`)

	// satisfiedPattern matches negated revision requests ("no changes", "nothing to fix").
	satisfiedPattern = regexp.MustCompile(`(?i)\b(no|nothing|not any|without)\s+(more\s+|further\s+|other\s+)?(changes?|complaints?|edits?|revisions?|issues?|problems?|notes?|to\s+(fix|change|revise|rewrite|improve|redo))\b`)
)

var (
	acceptWords = map[string]bool{"accept": true, "accepted": true, "keep": true, "agree": true, "like": true, "yes": true, "ok": true, "okay": true, "fine": true, "good": true}
	rejectWords = map[string]bool{"reject": true, "rejected": true, "drop": true, "remove": true, "disagree": true, "replace": true}
	negations   = map[string]bool{"no": true, "not": true, "don't": true}
	allWords    = map[string]bool{"all": true, "both": true, "everything": true, "each": true}
	ordinals    = map[string]int{"first": 1, "second": 2, "third": 3, "one": 1, "two": 2, "three": 3}
)

// Rules is a deterministic keyword and markup classifier.
type Rules struct{}

// NewRules returns the rule-based classifier.
func NewRules() *Rules {
	return &Rules{}
}

// Classify implements Classifier.
func (r *Rules) Classify(_ context.Context, u Utterance) ([]workflow.Intent, error) {
	if u.Speaker == domain.RoleAssistant {
		return classifyAssistant(u), nil
	}
	return classifyUser(u), nil
}

func classifyAssistant(u Utterance) []workflow.Intent {
	switch u.Session.Phase {
	case domain.PhaseProposeArguments:
		return proposals(u.Text)
	case domain.PhaseStanceConfirmation:
		// A replacement for a rejected argument implies the set is being revisited.
		if !hasRejected(u.Session.Arguments) {
			return nil
		}
		found := proposals(u.Text)
		if len(found) == 0 {
			return nil
		}
		return append([]workflow.Intent{workflow.ConfirmArguments()}, found...)
	case domain.PhaseDrafting, domain.PhaseParagraphReview:
		var out []workflow.Intent
		for _, m := range paragraphTag.FindAllStringSubmatch(u.Text, -1) {
			if body := strings.TrimSpace(m[1]); body != "" {
				out = append(out, workflow.SubmitParagraph(body))
			}
		}
		return out
	}
	return nil
}

func classifyUser(u Utterance) []workflow.Intent {
	switch u.Session.Phase {
	case domain.PhaseCollectStance:
		if in, ok := stance(u.Text); ok {
			return []workflow.Intent{in}
		}
	case domain.PhaseProposeArguments:
		return responses(u.Text, len(u.Session.Arguments))
	case domain.PhaseStanceConfirmation:
		var out []workflow.Intent
		for _, in := range responses(u.Text, len(u.Session.Arguments)) {
			if !in.Accept {
				out = append(out, in)
			}
		}
		if len(out) > 0 || confirmPattern.MatchString(u.Text) {
			out = append(out, workflow.ConfirmArguments())
		}
		return out
	case domain.PhaseParagraphReview:
		rest := satisfiedPattern.ReplaceAllString(u.Text, " ")
		switch {
		case revisePattern.MatchString(rest):
			return []workflow.Intent{workflow.ReviewParagraph(false)}
		case approvePattern.MatchString(rest), rest != u.Text:
			return []workflow.Intent{workflow.ReviewParagraph(true)}
		case refusalPrefix.MatchString(rest):
			return []workflow.Intent{workflow.ReviewParagraph(false)}
		}
	}
	return nil
}

func stance(text string) (workflow.Intent, bool) {
	var position domain.Position
	switch {
	case disagreePattern.MatchString(text):
		position = domain.PositionDisagree
	case neutralPattern.MatchString(text):
		position = domain.PositionNeutral
	case agreePattern.MatchString(text):
		position = domain.PositionAgree
	default:
		return workflow.Intent{}, false
	}

	var rationale string
	if loc := rationaleMarker.FindStringIndex(text); loc != nil {
		rationale = strings.TrimSpace(text[loc[1]:])
	} else if m := asClause.FindStringSubmatch(text); m != nil {
		rationale = strings.TrimSpace(m[1])
	}
	if rationale == "" {
		return workflow.Intent{}, false
	}
	return workflow.DeclareStance(position, rationale), true
}

func proposals(text string) []workflow.Intent {
	var out []workflow.Intent
	for _, m := range argumentTag.FindAllStringSubmatch(text, -1) {
		if body := strings.TrimSpace(m[1]); body != "" {
			out = append(out, workflow.ProposeArgument(body))
		}
	}
	return out
}

// responses reads "accept 1 and 3, reject 2" style replies. Numbers are
// 1-based in conversation and 0-based in intents.
func responses(text string, count int) []workflow.Intent {
	var out []workflow.Intent
	seen := map[int]bool{}
	polarity := 0

	emit := func(n int) {
		idx := n - 1
		if polarity == 0 || idx < 0 || idx >= count || seen[idx] {
			return
		}
		seen[idx] = true
		out = append(out, workflow.RespondArgument(idx, polarity > 0))
	}

	negated := false
	for _, word := range words(text) {
		switch {
		case negations[word]:
			negated = true
			polarity = -1
			continue
		case rejectWords[word]:
			polarity = -1
		case acceptWords[word]:
			if !negated {
				polarity = 1
			}
		case allWords[word]:
			for n := 1; n <= count; n++ {
				emit(n)
			}
		default:
			if n, ok := ordinals[word]; ok {
				emit(n)
			} else if n, err := strconv.Atoi(strings.TrimPrefix(word, "#")); err == nil {
				emit(n)
			}
		}
		negated = false
	}
	return out
}

func words(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '\'', r == '#':
			return false
		}
		return true
	})
}

func hasRejected(args []domain.Argument) bool {
	for _, a := range args {
		if a.Status == domain.ArgumentRejected {
			return true
		}
	}
	return false
}
