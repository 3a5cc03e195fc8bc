package resolver

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
)

// ExtractArray normalizes a list response into its items. The lookup order is:
// a bare array, the "screens" property, the "values" property, then the first
// array-valued property in document order. Anything else yields an empty slice.
func ExtractArray(raw json.RawMessage) []json.RawMessage {
	items, _ := extractArray(raw)
	return items
}

func extractArray(raw json.RawMessage) ([]json.RawMessage, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return []json.RawMessage{}, errors.New("empty response")
	}

	switch raw[0] {
	case '[':
		return decodeArray(raw)
	case '{':
	default:
		return []json.RawMessage{}, errors.New("response is neither an array nor an object")
	}

	props, err := orderedProperties(raw)
	if err != nil {
		return []json.RawMessage{}, err
	}
	for _, name := range []string{"screens", "values"} {
		for _, p := range props {
			if p.name == name && isArray(p.value) {
				return decodeArray(p.value)
			}
		}
	}
	for _, p := range props {
		if isArray(p.value) {
			return decodeArray(p.value)
		}
	}
	return []json.RawMessage{}, nil
}

type property struct {
	name  string
	value json.RawMessage
}

// orderedProperties returns the top-level members of a JSON object in the
// order they appear.
func orderedProperties(raw json.RawMessage) ([]property, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	var props []property
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		name, ok := tok.(string)
		if !ok {
			return nil, errors.New("unexpected object key")
		}
		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return nil, err
		}
		props = append(props, property{name: name, value: value})
	}
	if _, err := dec.Token(); err != nil && err != io.EOF {
		return nil, err
	}
	return props, nil
}

func isArray(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '['
}

func decodeArray(raw json.RawMessage) ([]json.RawMessage, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return []json.RawMessage{}, err
	}
	if items == nil {
		items = []json.RawMessage{}
	}
	return items, nil
}
