// Package sections splits generated prose into labeled section bodies.
//
// A heading is a line consisting only of a section label, case-insensitive,
// optionally indented, optionally preceded by markdown '#' markers and
// optionally followed by ':', '.' or whitespace. The body of a label runs
// from the end of its heading line to the earliest heading of any label that
// comes after it in the caller's list, or to the end of the text.
package sections

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

var separatorRun = regexp.MustCompile(`[\s_-]+`)

// Key returns the normalized map key for a section label:
// lower-cased, trimmed, with runs of whitespace, '-' and '_' collapsed to '_'.
func Key(label string) string {
	k := strings.ToLower(strings.TrimSpace(label))
	return separatorRun.ReplaceAllString(k, "_")
}

// Section is one extracted section body.
type Section struct {
	Key   string `json:"key"`
	Label string `json:"label"`
	Body  string `json:"body"`
}

// Map is an ordered mapping from normalized key to section body. Order
// follows the label order the map was extracted with.
type Map struct {
	items []Section
}

// NewMap builds a Map from sections in the given order. Later duplicates of
// a key are dropped.
func NewMap(items ...Section) Map {
	var m Map
	for _, s := range items {
		m.add(s)
	}
	return m
}

func (m *Map) add(s Section) {
	if s.Key == "" {
		s.Key = Key(s.Label)
	}
	if _, ok := m.Get(s.Key); ok {
		return
	}
	m.items = append(m.items, s)
}

// Get returns the body stored under key.
func (m Map) Get(key string) (string, bool) {
	for _, s := range m.items {
		if s.Key == key {
			return s.Body, true
		}
	}
	return "", false
}

// Len returns the number of sections found.
func (m Map) Len() int { return len(m.items) }

// Keys returns keys in order.
func (m Map) Keys() []string {
	keys := make([]string, len(m.items))
	for i, s := range m.items {
		keys[i] = s.Key
	}
	return keys
}

// Sections returns a copy of the ordered sections.
func (m Map) Sections() []Section {
	out := make([]Section, len(m.items))
	copy(out, m.items)
	return out
}

// WithLabels returns a copy of m whose sections take their display label
// from the label in labels that normalizes to the same key.
func (m Map) WithLabels(labels []string) Map {
	byKey := make(map[string]string, len(labels))
	for _, l := range labels {
		byKey[Key(l)] = strings.TrimSpace(l)
	}
	items := m.Sections()
	for i := range items {
		if l, ok := byKey[items[i].Key]; ok {
			items[i].Label = l
		}
	}
	return Map{items: items}
}

// Bodies returns section bodies in order.
func (m Map) Bodies() []string {
	out := make([]string, len(m.items))
	for i, s := range m.items {
		out[i] = s.Body
	}
	return out
}

// MarshalJSON encodes the map as a JSON object, preserving order.
func (m Map) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, s := range m.items {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(s.Key)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(s.Body)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object, preserving key order. Labels are not
// recoverable from the wire form, so Label is set to the key.
func (m *Map) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("sections: expected JSON object, got %v", tok)
	}
	m.items = nil
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, _ := tok.(string)
		var body string
		if err := dec.Decode(&body); err != nil {
			return err
		}
		m.add(Section{Key: key, Label: key, Body: body})
	}
	_, err = dec.Token()
	return err
}

// headingPattern matches a heading line for label. Without the (?m) flag, ^
// and $ anchor at the start and end of the searched text, so a heading must
// either open the text or follow a newline.
func headingPattern(label string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)(?:^|\n)[ \t]*(?:#{1,6}[ \t]*)?(` + regexp.QuoteMeta(strings.TrimSpace(label)) + `[:.\s]*?)(?:\n|$)`)
}

// Extract splits content into sections for the given ordered labels.
// Labels whose heading is missing, or whose body trims to nothing, are
// absent from the result. Blank labels are ignored.
func Extract(content string, labels []string) Map {
	patterns := make([]*regexp.Regexp, len(labels))
	for i, l := range labels {
		if strings.TrimSpace(l) == "" {
			continue
		}
		patterns[i] = headingPattern(l)
	}

	var m Map
	for i, label := range labels {
		if patterns[i] == nil {
			continue
		}
		loc := patterns[i].FindStringIndex(content)
		if loc == nil {
			continue
		}

		start := loc[1]
		end := len(content)
		rest := content[start:]
		for _, p := range patterns[i+1:] {
			if p == nil {
				continue
			}
			if next := p.FindStringIndex(rest); next != nil && start+next[0] < end {
				end = start + next[0]
			}
		}

		body := strings.TrimSpace(content[start:end])
		if body == "" {
			continue
		}
		m.add(Section{Key: Key(label), Label: strings.TrimSpace(label), Body: body})
	}
	return m
}
