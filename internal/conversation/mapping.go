package conversation

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Entry is a single keyed node of a Mapping.
type Entry struct {
	ID   string
	Node Node
}

// Mapping is the conversation graph keyed by node id. Unlike a Go map it
// keeps the key order of the source JSON object.
type Mapping []Entry

// UnmarshalJSON decodes a JSON object token by token so entries stay in
// document order.
func (m *Mapping) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))

	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("read mapping: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("mapping: expected object, got %v", tok)
	}

	entries := Mapping{}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("read mapping key: %w", err)
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("mapping: expected string key, got %v", keyTok)
		}

		var node Node
		if err := dec.Decode(&node); err != nil {
			return fmt.Errorf("decode node %s: %w", key, err)
		}
		entries = append(entries, Entry{ID: key, Node: node})
	}

	if _, err := dec.Token(); err != nil {
		return fmt.Errorf("read mapping end: %w", err)
	}

	*m = entries
	return nil
}

// MarshalJSON writes the mapping back as an object in entry order.
func (m Mapping) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range m {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(e.ID)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		node, err := json.Marshal(e.Node)
		if err != nil {
			return nil, err
		}
		buf.Write(node)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
