package domain

import "encoding/json"

// MemorySnapshot is the opaque preference text retrieved once per session.
// An absent snapshot is distinct from a present, empty one.
type MemorySnapshot struct {
	text    string
	present bool
}

// NoMemory returns the absent snapshot.
func NoMemory() MemorySnapshot {
	return MemorySnapshot{}
}

// MemoryOf returns a present snapshot holding text, which may be empty.
func MemoryOf(text string) MemorySnapshot {
	return MemorySnapshot{text: text, present: true}
}

// Text returns the preference text and whether the snapshot is present.
func (m MemorySnapshot) Text() (string, bool) {
	return m.text, m.present
}

// Present reports whether the snapshot holds any value, including "".
func (m MemorySnapshot) Present() bool {
	return m.present
}

type memoryJSON struct {
	Present bool   `json:"present"`
	Text    string `json:"text,omitempty"`
}

// MarshalJSON keeps the absent/empty distinction across persistence.
func (m MemorySnapshot) MarshalJSON() ([]byte, error) {
	return json.Marshal(memoryJSON{Present: m.present, Text: m.text})
}

// UnmarshalJSON implements json.Unmarshaler.
func (m *MemorySnapshot) UnmarshalJSON(data []byte) error {
	var raw memoryJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	m.present = raw.Present
	m.text = ""
	if raw.Present {
		m.text = raw.Text
	}
	return nil
}
