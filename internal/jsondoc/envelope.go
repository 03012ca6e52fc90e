package jsondoc

import (
	"errors"
	"fmt"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// LastModifiedField is the envelope field holding the push timestamp.
const LastModifiedField = "_lastModified"

// TimestampLayout is ISO-8601 in UTC with millisecond precision.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

var (
	// ErrNotObject is returned when a document is not a JSON object.
	ErrNotObject = errors.New("document is not a JSON object")

	// ErrInvalidJSON is returned for payloads that do not parse.
	ErrInvalidJSON = errors.New("invalid JSON payload")
)

// Timestamp formats t the way envelopes and documents store times.
func Timestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// IsObject reports whether data is a JSON object.
func IsObject(data []byte) bool {
	return gjson.ValidBytes(data) && gjson.ParseBytes(data).IsObject()
}

// Wrap adds a _lastModified field to canonical document bytes.
func Wrap(doc []byte, modified time.Time) ([]byte, error) {
	if !IsObject(doc) {
		return nil, ErrNotObject
	}
	buf := make([]byte, len(doc))
	copy(buf, doc)
	out, err := sjson.SetBytes(buf, LastModifiedField, Timestamp(modified))
	if err != nil {
		return nil, fmt.Errorf("failed to stamp envelope: %w", err)
	}
	return out, nil
}

// Unwrap strips _lastModified from an envelope and returns the canonical
// bytes of the remaining document. Non-object payloads are returned in
// canonical form unchanged.
func Unwrap(envelope []byte) ([]byte, error) {
	if !gjson.ValidBytes(envelope) {
		return nil, ErrInvalidJSON
	}
	payload := envelope
	if gjson.GetBytes(envelope, LastModifiedField).Exists() {
		buf := make([]byte, len(envelope))
		copy(buf, envelope)
		stripped, err := sjson.DeleteBytes(buf, LastModifiedField)
		if err != nil {
			return nil, fmt.Errorf("failed to strip envelope: %w", err)
		}
		payload = stripped
	}
	tree, err := decodeTree(payload)
	if err != nil {
		return nil, err
	}
	return Canonical(tree)
}

// LastModified returns the envelope timestamp, if present and parseable.
func LastModified(envelope []byte) (time.Time, bool) {
	r := gjson.GetBytes(envelope, LastModifiedField)
	if r.Type != gjson.String {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, r.String())
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
