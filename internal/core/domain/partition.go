package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// PartitionKeyPath is the ordered list of field names leading to a
// container's partition key, e.g. ["tenant", "id"] for "/tenant/id".
type PartitionKeyPath []string

// ParsePartitionKeyPath parses the slash-separated form ("/tenant/id").
// The leading slash is optional. Empty segments are rejected.
func ParsePartitionKeyPath(s string) (PartitionKeyPath, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "/")
	if s == "" {
		return nil, fmt.Errorf("%w: empty partition key path", ErrInvalidInput)
	}

	segments := strings.Split(s, "/")
	for _, seg := range segments {
		if seg == "" {
			return nil, fmt.Errorf("%w: partition key path %q has an empty segment", ErrInvalidInput, s)
		}
	}
	return PartitionKeyPath(segments), nil
}

// String returns the slash-separated form.
func (p PartitionKeyPath) String() string {
	return "/" + strings.Join(p, "/")
}

// Resolve walks the document along the path and returns the scalar found
// at its end. It returns NoPartitionKey when a segment is missing, when an
// intermediate value is not an object, or when the terminal value is not a
// scalar (string, number, bool or null).
func (p PartitionKeyPath) Resolve(doc Document) PartitionKeyValue {
	if len(p) == 0 {
		return NoPartitionKey
	}

	var current map[string]json.RawMessage
	if err := json.Unmarshal(doc.Body, &current); err != nil {
		return NoPartitionKey
	}

	for i, seg := range p {
		raw, ok := current[seg]
		if !ok {
			return NoPartitionKey
		}

		if i == len(p)-1 {
			return scalarValue(raw)
		}

		var next map[string]json.RawMessage
		if err := json.Unmarshal(raw, &next); err != nil || next == nil {
			return NoPartitionKey
		}
		current = next
	}

	return NoPartitionKey
}

// PartitionKeyValue is a resolved partition key. The zero value is
// NoPartitionKey.
type PartitionKeyValue struct {
	value   any
	present bool
}

// NoPartitionKey is the sentinel for documents without a usable partition key.
var NoPartitionKey = PartitionKeyValue{}

// StringPartitionKey builds a present string partition key.
func StringPartitionKey(s string) PartitionKeyValue {
	return PartitionKeyValue{value: s, present: true}
}

// Present reports whether a partition key was resolved.
func (v PartitionKeyValue) Present() bool {
	return v.present
}

// Value returns the scalar: string, json.Number, bool or nil.
func (v PartitionKeyValue) Value() any {
	return v.value
}

// String returns the textual form of the key, or "" when absent.
func (v PartitionKeyValue) String() string {
	if !v.present {
		return ""
	}
	switch t := v.value.(type) {
	case nil:
		return "null"
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}

func scalarValue(raw json.RawMessage) PartitionKeyValue {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return NoPartitionKey
	}
	switch v.(type) {
	case string, bool, nil:
		return PartitionKeyValue{value: v, present: true}
	case float64:
		return PartitionKeyValue{value: json.Number(strings.TrimSpace(string(raw))), present: true}
	default:
		return NoPartitionKey
	}
}
