package graph

import (
	"encoding/json"
	"unicode/utf8"
)

// Kind 语句类别
type Kind string

const (
	KindCase         Kind = "case"
	KindNode         Kind = "node"
	KindRelationship Kind = "relationship"
)

// Statement is one parameterized graph mutation. Text never contains
// values; every value travels in Params.
type Statement struct {
	Kind    Kind           `json:"kind"`
	Text    string         `json:"text"`
	Params  map[string]any `json:"params"`
	Label   string         `json:"label,omitempty"`
	RelType string         `json:"rel_type,omitempty"`
}

// String renders the text followed by the parameters as compact JSON.
func (s Statement) String() string {
	if len(s.Params) == 0 {
		return s.Text
	}
	raw, err := json.Marshal(s.Params)
	if err != nil {
		return s.Text
	}
	return s.Text + " " + string(raw)
}

// Preview returns the first n characters of String(), with "..." appended
// when truncated.
func (s Statement) Preview(n int) string {
	text := s.String()
	if n <= 0 || utf8.RuneCountInString(text) <= n {
		return text
	}
	runes := []rune(text)
	return string(runes[:n]) + "..."
}
