package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// IDField is the document field holding the stable identifier.
const IDField = "id"

// Document is a single JSON document read from a container.
// The body is kept serialized while documents sit in pipeline queues;
// it is only decoded when a field has to be inspected.
type Document struct {
	// ID is the value of the document's identifier field.
	ID string

	// Body is the document as a single JSON object.
	Body json.RawMessage
}

// NewDocument wraps a serialized JSON object and extracts its identifier.
// The body must be a JSON object with a scalar "id" field.
func NewDocument(body []byte) (Document, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Document{}, fmt.Errorf("%w: document is not a JSON object", ErrInvalidInput)
	}

	var head struct {
		ID json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(trimmed, &head); err != nil {
		return Document{}, fmt.Errorf("%w: decode document: %v", ErrInvalidInput, err)
	}
	if len(head.ID) == 0 {
		return Document{}, fmt.Errorf("%w: document has no %q field", ErrInvalidInput, IDField)
	}

	id, err := scalarString(head.ID)
	if err != nil {
		return Document{}, fmt.Errorf("%w: document id: %v", ErrInvalidInput, err)
	}

	// Copy so the caller may reuse its buffer.
	owned := make([]byte, len(trimmed))
	copy(owned, trimmed)

	return Document{ID: id, Body: owned}, nil
}

// MustDocument is NewDocument for literals in tests and demo data.
// It panics if the body is not a valid document.
func MustDocument(body string) Document {
	doc, err := NewDocument([]byte(body))
	if err != nil {
		panic(err)
	}
	return doc
}

// Fields decodes the document body into a generic JSON tree.
func (d Document) Fields() (map[string]any, error) {
	var fields map[string]any
	dec := json.NewDecoder(bytes.NewReader(d.Body))
	dec.UseNumber()
	if err := dec.Decode(&fields); err != nil {
		return nil, fmt.Errorf("decode document %s: %w", d.ID, err)
	}
	return fields, nil
}

// Size returns the serialized size in bytes.
func (d Document) Size() int {
	return len(d.Body)
}

// scalarString renders a JSON scalar as the string form used for identifiers.
func scalarString(raw json.RawMessage) (string, error) {
	var v any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return "", err
	}
	switch t := v.(type) {
	case string:
		return t, nil
	case json.Number:
		return t.String(), nil
	case bool:
		return fmt.Sprintf("%t", t), nil
	default:
		return "", fmt.Errorf("not a scalar")
	}
}
