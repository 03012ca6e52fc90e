package jsondoc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
)

type undefined struct{}

// MarshalJSON implements json.Marshaler.
func (undefined) MarshalJSON() ([]byte, error) {
	return []byte("null"), nil
}

// Undefined marks a value that is present in a tree but has no value.
// Normalize turns it into nil.
var Undefined any = undefined{}

// Normalize converts v into a plain JSON tree with every absent value
// replaced by nil, recursively through objects and arrays.
func Normalize(v any) (any, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case undefined:
		return nil, nil
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, elem := range t {
			n, err := Normalize(elem)
			if err != nil {
				return nil, fmt.Errorf("field %q: %w", k, err)
			}
			out[k] = n
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, elem := range t {
			n, err := Normalize(elem)
			if err != nil {
				return nil, fmt.Errorf("index %d: %w", i, err)
			}
			out[i] = n
		}
		return out, nil
	case string, bool, json.Number:
		return t, nil
	case json.RawMessage:
		if len(t) == 0 {
			return nil, nil
		}
		return decodeTree(t)
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice:
		if rv.IsNil() {
			return nil, nil
		}
	}

	// Typed values go through encoding/json so struct tags and Optional apply.
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal document: %w", err)
	}
	return decodeTree(data)
}

// Canonical returns the key-order-stable JSON encoding of v.
func Canonical(v any) ([]byte, error) {
	tree, err := Normalize(v)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(tree); err != nil {
		return nil, fmt.Errorf("failed to encode document: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Fingerprint returns the canonical encoding of v as a string, for cheap
// equality comparison.
func Fingerprint(v any) (string, error) {
	data, err := Canonical(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeTree(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var tree any
	if err := dec.Decode(&tree); err != nil {
		return nil, fmt.Errorf("failed to decode document: %w", err)
	}
	if dec.More() {
		return nil, fmt.Errorf("failed to decode document: trailing data")
	}
	return tree, nil
}
