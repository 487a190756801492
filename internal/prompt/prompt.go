// Package prompt assembles the instruction document sent to the completion
// gateway on every turn.
package prompt

import (
	"strings"

	"github.com/ashureev/writecoach/internal/domain"
)

// Section is one titled block of the instruction document.
type Section struct {
	Title string
	Body  string
}

// PreferencesTitle is the title of the optional memory section.
const PreferencesTitle = "User preferences"

// Document is the assembled instruction document. Sections are in fixed
// order: role, phase protocol, formatting policy, then the optional
// preferences section.
type Document struct {
	sections    []Section
	preferences *Section
}

// Assemble renders the fixed instructions plus, when memory is present, a
// preferences section holding exactly the memory text. It performs no I/O and
// identical input always yields identical output.
func Assemble(memory domain.MemorySnapshot) Document {
	doc := Document{
		sections: []Section{
			{Title: "Role", Body: roleStatement},
			{Title: "Workflow", Body: phaseProtocol},
			{Title: "Tone and style", Body: formattingPolicy},
		},
	}
	if text, ok := memory.Text(); ok {
		doc.preferences = &Section{Title: PreferencesTitle, Body: preferencesLead + text}
	}
	return doc
}

// Sections returns the document's sections in render order.
func (d Document) Sections() []Section {
	out := make([]Section, 0, len(d.sections)+1)
	out = append(out, d.sections...)
	if d.preferences != nil {
		out = append(out, *d.preferences)
	}
	return out
}

// Preferences returns the memory text carried by the document, if any.
func (d Document) Preferences() (string, bool) {
	if d.preferences == nil {
		return "", false
	}
	return strings.TrimPrefix(d.preferences.Body, preferencesLead), true
}

// String renders the document as plain text.
func (d Document) String() string {
	var b strings.Builder
	for i, s := range d.Sections() {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString("# ")
		b.WriteString(s.Title)
		b.WriteString("\n\n")
		b.WriteString(s.Body)
	}
	b.WriteString("\n")
	return b.String()
}
