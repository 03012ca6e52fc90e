// Package jsondoc provides the serialization boundary for synced documents.
//
// Every document that leaves a device goes through this package:
//
//	Domain struct ──Normalize──▶ plain tree ──Canonical──▶ bytes ──Wrap──▶ envelope
//
// The plain tree contains only map[string]any, []any, string, bool,
// json.Number and nil. Absent values (unset Optional fields, nil pointers,
// nil slices and maps, the Undefined sentinel) become explicit nulls.
//
// # Fingerprints
//
// Canonical output is stable under key reordering: objects are emitted with
// sorted keys and number literals are preserved through json.Number. Two
// documents with the same content always produce the same fingerprint, which
// is what the sync channel relies on to tell real changes from echoes.
//
// # Envelopes
//
// The remote copy of a document carries one extra field, _lastModified.
// Wrap adds it to canonical bytes and Unwrap removes it again before the
// payload is treated as a domain document.
package jsondoc
