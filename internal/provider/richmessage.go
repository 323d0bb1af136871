package provider

import (
	"encoding/json"
	"strings"
)

// RichMessage is the provider-neutral structured message: an ordered
// sequence of sections. Slack renders sections as Block Kit blocks;
// Mattermost flattens them into one markdown string.
type RichMessage struct {
	Sections []Section `json:"sections"`
}

// Section is one block of a rich message. Fields render as a two-column
// label/value grid where the provider supports it.
type Section struct {
	Title  string  `json:"title,omitempty"`
	Text   string  `json:"text,omitempty"`
	Fields []Field `json:"fields,omitempty"`
}

// Field is a labelled value inside a section.
type Field struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// Encode serializes the message so it can travel through the plain-string
// SendMessage path. ParseRichMessage recovers it on the other side.
func (m RichMessage) Encode() string {
	b, err := json.Marshal(m)
	if err != nil {
		return ""
	}
	return string(b)
}

// ParseRichMessage attempts to interpret content as a serialized
// RichMessage. Returns false for anything that is not one, including
// arbitrary JSON that lacks sections.
func ParseRichMessage(content string) (RichMessage, bool) {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "{") {
		return RichMessage{}, false
	}
	var m RichMessage
	if err := json.Unmarshal([]byte(trimmed), &m); err != nil {
		return RichMessage{}, false
	}
	if len(m.Sections) == 0 {
		return RichMessage{}, false
	}
	return m, true
}
