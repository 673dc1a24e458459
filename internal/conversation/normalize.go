package conversation

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformedDocument is returned when a conversation document does not have
// the expected shape.
var ErrMalformedDocument = errors.New("malformed conversation document")

// Decode parses a raw conversation document.
func Decode(data []byte) (*RawDocument, error) {
	var doc RawDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedDocument, err)
	}
	return &doc, nil
}

// Normalize flattens a conversation graph into its messages, in the key order
// of the source mapping. Nodes without a message are dropped.
func Normalize(doc *RawDocument) (Normalized, error) {
	if doc == nil {
		return Normalized{}, fmt.Errorf("%w: nil document", ErrMalformedDocument)
	}
	if doc.Mapping == nil {
		return Normalized{}, fmt.Errorf("%w: missing mapping", ErrMalformedDocument)
	}

	messages := make([]Message, 0, len(*doc.Mapping))
	for _, e := range *doc.Mapping {
		msg := e.Node.Message
		if msg == nil {
			continue
		}
		if msg.Author == nil {
			return Normalized{}, fmt.Errorf("%w: node %s has no author", ErrMalformedDocument, e.ID)
		}
		if msg.Content == nil {
			return Normalized{}, fmt.Errorf("%w: node %s has no content", ErrMalformedDocument, e.ID)
		}
		messages = append(messages, Message{
			Role:       msg.Author.Role,
			Content:    msg.Content.Parts,
			CreateTime: msg.CreateTime,
		})
	}

	return Normalized{
		Messages:   messages,
		CreateTime: doc.CreateTime,
		Title:      doc.Title,
	}, nil
}
