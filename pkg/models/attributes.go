package models

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Attribute is one key/value pair of a log record's attributes.
type Attribute struct {
	Key   string
	Value any
}

// Attributes is an ordered attribute map. It decodes from and encodes to a
// JSON object while keeping the document order of the keys, which the
// normalizer relies on when it caps the number of entries.
type Attributes []Attribute

// Get returns the value stored under key.
func (a Attributes) Get(key string) (any, bool) {
	for _, attr := range a {
		if attr.Key == key {
			return attr.Value, true
		}
	}
	return nil, false
}

// Map flattens the attributes into a plain map. Later duplicates win.
func (a Attributes) Map() map[string]any {
	m := make(map[string]any, len(a))
	for _, attr := range a {
		m[attr.Key] = attr.Value
	}
	return m
}

// UnmarshalJSON decodes a JSON object, preserving key order. Numbers are kept
// as json.Number so their textual form survives coercion to text.
func (a *Attributes) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if bytes.Equal(trimmed, []byte("null")) {
		*a = nil
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("decoding attributes: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("decoding attributes: expected object, got %v", tok)
	}

	out := Attributes{}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("decoding attributes: %w", err)
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("decoding attributes: unexpected key %v", keyTok)
		}

		var value any
		if err := dec.Decode(&value); err != nil {
			return fmt.Errorf("decoding attribute %q: %w", key, err)
		}
		out = append(out, Attribute{Key: key, Value: value})
	}

	if _, err := dec.Token(); err != nil {
		return fmt.Errorf("decoding attributes: %w", err)
	}

	*a = out
	return nil
}

// MarshalJSON encodes the attributes as a JSON object in slice order.
func (a Attributes) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, attr := range a {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(attr.Key)
		if err != nil {
			return nil, err
		}
		value, err := json.Marshal(attr.Value)
		if err != nil {
			return nil, fmt.Errorf("encoding attribute %q: %w", attr.Key, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
