package conversation

import (
	"encoding/json"
	"time"
)

// Timestamp is a remote service time in fractional seconds since the epoch.
type Timestamp float64

// Time converts the timestamp to a UTC time.Time.
func (t Timestamp) Time() time.Time {
	sec := int64(t)
	nsec := int64((float64(t) - float64(sec)) * 1e9)
	return time.Unix(sec, nsec).UTC()
}

// Summary identifies a conversation and the page offset it was listed at.
type Summary struct {
	ID     string `json:"id"`
	Title  string `json:"title,omitempty"`
	Offset int    `json:"offset"`
}

// RawDocument is a conversation as returned by the remote service.
type RawDocument struct {
	Title      string     `json:"title"`
	CreateTime *Timestamp `json:"create_time"`
	Mapping    *Mapping   `json:"mapping"`
}

// Node is one vertex of the conversation graph. Root and structural nodes
// carry no message.
type Node struct {
	ID       string       `json:"id,omitempty"`
	Message  *MessageNode `json:"message"`
	Parent   *string      `json:"parent,omitempty"`
	Children []string     `json:"children,omitempty"`
}

type MessageNode struct {
	Author     *Author    `json:"author"`
	Content    *Content   `json:"content"`
	CreateTime *Timestamp `json:"create_time"`
}

type Author struct {
	Role string `json:"role"`
}

// Content holds message parts verbatim; most are strings but multimodal
// parts are objects.
type Content struct {
	ContentType string            `json:"content_type,omitempty"`
	Parts       []json.RawMessage `json:"parts"`
}

// Message is a single flattened turn. Content is omitted when the source
// message had no parts; an empty parts list stays [].
type Message struct {
	Role       string            `json:"role"`
	Content    []json.RawMessage `json:"content,omitzero"`
	CreateTime *Timestamp        `json:"create_time"`
}

// Normalized is the flat record written to backups. Field order is part of
// the output format.
type Normalized struct {
	Messages   []Message  `json:"messages"`
	CreateTime *Timestamp `json:"create_time"`
	Title      string     `json:"title"`
}

// Text joins the string parts of a message, skipping non-text parts.
func (m Message) Text() string {
	var text string
	for _, p := range m.Content {
		var s string
		if err := json.Unmarshal(p, &s); err != nil {
			continue
		}
		if text != "" {
			text += "\n"
		}
		text += s
	}
	return text
}
