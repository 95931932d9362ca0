// Package serialization encodes a whole objects.Store as a flat JSON array of
// self-describing object descriptors and rebuilds stores from such arrays.
// Cross-object references travel as (type, ID) pairs, so descriptors may
// appear in any order.
package serialization

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"objectcore/pkg/objects"
)

// ErrMalformedDocument is returned for input that is not a well-formed
// object descriptor array.
var ErrMalformedDocument = errors.New("malformed document")

// Wire type tags beyond the scalar kinds.
const (
	TypeEnum      = "Enum"
	TypeReference = "ObjectReference"
)

// Document is the decoded top-level array.
type Document []ObjectDescriptor

// ObjectDescriptor describes one serialized object.
type ObjectDescriptor struct {
	ObjectType string               `json:"ObjectType"`
	Properties []PropertyDescriptor `json:"Properties"`
}

// PropertyDescriptor is one serialized property. Field order is the wire
// key order.
type PropertyDescriptor struct {
	Name                      string          `json:"Name"`
	Type                      string          `json:"Type"`
	ConstructorParameterOrder *int            `json:"ConstructorParameterOrder,omitempty"`
	Value                     json.RawMessage `json:"Value"`
}

// EnumValue is the Value of an Enum property.
type EnumValue struct {
	EnumType string `json:"EnumType"`
	Value    string `json:"Value"`
}

// ReferenceValue is the Value of an ObjectReference property. The empty
// reference encodes as {}.
type ReferenceValue struct {
	ObjectType string `json:"ObjectType,omitempty"`
	ID         uint32 `json:"ID,omitempty"`
}

// IsEmpty reports whether v is the empty reference.
func (v ReferenceValue) IsEmpty() bool { return v.ObjectType == "" || v.ID == 0 }

// DocumentError locates a failure inside a document. Index is the position
// of the offending descriptor, or -1 for document-level failures.
type DocumentError struct {
	Index    int
	Type     string
	Property string
	Err      error
}

func (e *DocumentError) Error() string {
	var b bytes.Buffer
	b.WriteString("document")
	if e.Index >= 0 {
		fmt.Fprintf(&b, " object %d", e.Index)
		if e.Type != "" {
			fmt.Fprintf(&b, " (%s)", e.Type)
		}
	}
	if e.Property != "" {
		fmt.Fprintf(&b, " property %s", e.Property)
	}
	b.WriteString(": ")
	b.WriteString(e.Err.Error())
	return b.String()
}

func (e *DocumentError) Unwrap() error { return e.Err }

func malformed(index int, typ, prop, format string, args ...any) error {
	return &DocumentError{
		Index:    index,
		Type:     typ,
		Property: prop,
		Err:      fmt.Errorf("%w: %s", ErrMalformedDocument, fmt.Sprintf(format, args...)),
	}
}

// Parse decodes data and checks its shape: a JSON array of descriptors, each
// with an ObjectType and named, typed properties carrying a Value.
func Parse(data []byte) (Document, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, malformed(-1, "", "", "root must be an array")
	}
	var doc Document
	if err := json.Unmarshal(trimmed, &doc); err != nil {
		return nil, &DocumentError{Index: -1, Err: fmt.Errorf("%w: %v", ErrMalformedDocument, err)}
	}
	for i, obj := range doc {
		if obj.ObjectType == "" {
			return nil, malformed(i, "", "", "missing ObjectType")
		}
		for _, p := range obj.Properties {
			if p.Name == "" || p.Type == "" {
				return nil, malformed(i, obj.ObjectType, p.Name, "property needs Name and Type")
			}
			if len(p.Value) == 0 {
				return nil, malformed(i, obj.ObjectType, p.Name, "missing Value")
			}
			if p.ConstructorParameterOrder != nil && *p.ConstructorParameterOrder < 0 {
				return nil, malformed(i, obj.ObjectType, p.Name, "negative constructor order %d", *p.ConstructorParameterOrder)
			}
		}
		if _, ok := obj.idProperty(); !ok {
			return nil, malformed(i, obj.ObjectType, "", "missing constructor slot 0")
		}
	}
	return doc, nil
}

func (o ObjectDescriptor) idProperty() (PropertyDescriptor, bool) {
	for _, p := range o.Properties {
		if p.ConstructorParameterOrder != nil && *p.ConstructorParameterOrder == 0 {
			return p, true
		}
	}
	return PropertyDescriptor{}, false
}

// ID returns the descriptor's object ID from its slot 0 property.
func (o ObjectDescriptor) ID() (uint32, error) {
	p, ok := o.idProperty()
	if !ok {
		return 0, fmt.Errorf("%w: missing constructor slot 0", ErrMalformedDocument)
	}
	var id uint32
	if err := json.Unmarshal(p.Value, &id); err != nil || id == 0 {
		return 0, fmt.Errorf("%w: invalid ID %s", ErrMalformedDocument, string(p.Value))
	}
	return id, nil
}

// References returns every non-empty reference value in the descriptor.
func (o ObjectDescriptor) References() ([]ReferenceValue, error) {
	var out []ReferenceValue
	for _, p := range o.Properties {
		if p.Type != TypeReference {
			continue
		}
		var ref ReferenceValue
		if err := json.Unmarshal(p.Value, &ref); err != nil {
			return nil, fmt.Errorf("%w: property %s: %v", ErrMalformedDocument, p.Name, err)
		}
		if !ref.IsEmpty() {
			out = append(out, ref)
		}
	}
	return out, nil
}

// Marshal serializes store with its own registry.
func Marshal(store *objects.Store) ([]byte, error) {
	return NewWriter(store.Registry()).Marshal(store)
}

// Unmarshal loads data into store with the store's registry.
func Unmarshal(store *objects.Store, data []byte) ([]objects.Handle, error) {
	return NewReader(store.Registry()).Unmarshal(store, data)
}
