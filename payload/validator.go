// Package payload checks upstream JSON responses against the shape the
// gateway expects.
//
// Upstream APIs occasionally rename fields or change their types without
// notice.  The quota lookup still relays whatever JSON it receives, but a
// Mismatch list lets operators notice drift in the logs before callers do.
//
// Schemas are fixed values.  Nothing is learned from earlier responses, so
// checking one response never depends on another.
package payload

import (
	"fmt"
	"sort"
	"strings"

	"github.com/tidwall/gjson"
)

// MismatchKind classifies the type of schema difference detected.
type MismatchKind string

const (
	// MismatchKindMissing indicates an expected field is absent.
	MismatchKindMissing MismatchKind = "MISSING_FIELD"

	// MismatchKindTypeChange indicates a field exists but its JSON type
	// differs from the expected one (e.g. "number" → "string").
	MismatchKindTypeChange MismatchKind = "TYPE_CHANGE"
)

// Mismatch describes a single structural difference.
type Mismatch struct {
	Kind  MismatchKind
	Field string

	// ExpectedType is the JSON type in the Schema ("string", "number",
	// "bool", "array", "object", "null").
	ExpectedType string

	// CurrentType is the JSON type found.  Empty for MismatchKindMissing.
	CurrentType string
}

// String returns a one-line description suitable for logs.
func (m Mismatch) String() string {
	switch m.Kind {
	case MismatchKindMissing:
		return fmt.Sprintf("[%s] field %q missing (want %s)", m.Kind, m.Field, m.ExpectedType)
	case MismatchKindTypeChange:
		return fmt.Sprintf("[%s] field %q is %s, want %s", m.Kind, m.Field, m.CurrentType, m.ExpectedType)
	default:
		return fmt.Sprintf("[%s] field %q", m.Kind, m.Field)
	}
}

// Schema maps gjson paths (dot-separated, e.g. "data.quota") to the JSON
// type expected there.
type Schema map[string]string

// QuotaSchema is the shape of the upstream's /api/user/self response.
var QuotaSchema = Schema{
	"success":            "bool",
	"data":               "object",
	"data.quota":         "number",
	"data.used_quota":    "number",
	"data.request_count": "number",
}

// Check compares data with expected.  An empty result means every expected
// field is present with the expected type; extra fields are ignored.  It
// returns an error when data is not a JSON object.
func Check(expected Schema, data []byte) ([]Mismatch, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("payload: invalid JSON")
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return nil, fmt.Errorf("payload: expected JSON object, got %s", typeName(root))
	}

	var mismatches []Mismatch
	for field, want := range expected {
		got := root.Get(field)
		if !got.Exists() {
			mismatches = append(mismatches, Mismatch{Kind: MismatchKindMissing, Field: field, ExpectedType: want})
			continue
		}
		if have := typeName(got); have != want {
			mismatches = append(mismatches, Mismatch{
				Kind:         MismatchKindTypeChange,
				Field:        field,
				ExpectedType: want,
				CurrentType:  have,
			})
		}
	}

	sort.Slice(mismatches, func(i, j int) bool {
		return mismatches[i].Field < mismatches[j].Field
	})
	return mismatches, nil
}

func typeName(r gjson.Result) string {
	switch {
	case r.IsObject():
		return "object"
	case r.IsArray():
		return "array"
	}
	switch r.Type {
	case gjson.String:
		return "string"
	case gjson.Number:
		return "number"
	case gjson.True, gjson.False:
		return "bool"
	case gjson.Null:
		return "null"
	default:
		return "unknown"
	}
}

// FormatMismatches joins mismatches into a single "; "-separated line.
// Returns an empty string if mismatches is empty.
func FormatMismatches(mismatches []Mismatch) string {
	if len(mismatches) == 0 {
		return ""
	}
	parts := make([]string, len(mismatches))
	for i, m := range mismatches {
		parts[i] = m.String()
	}
	return strings.Join(parts, "; ")
}
