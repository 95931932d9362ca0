package serialization

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strconv"

	"objectcore/pkg/objects"
)

// Writer serializes every live object of a store.
type Writer struct {
	registry *objects.Registry
}

// NewWriter returns a writer resolving property tables through registry.
func NewWriter(registry *objects.Registry) *Writer {
	return &Writer{registry: registry}
}

// Marshal returns the compact wire document for store.
func (w *Writer) Marshal(store *objects.Store) ([]byte, error) {
	doc, err := w.Document(store)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// Write streams the wire document for store to out.
func (w *Writer) Write(out io.Writer, store *objects.Store) error {
	data, err := w.Marshal(store)
	if err != nil {
		return err
	}
	_, err = out.Write(data)
	return err
}

// Document builds the descriptor list in store iteration order.
func (w *Writer) Document(store *objects.Store) (Document, error) {
	doc := make(Document, 0, store.Len())
	for h, obj := range store.All() {
		desc, err := w.describe(h, obj)
		if err != nil {
			return nil, err
		}
		doc = append(doc, desc)
	}
	return doc, nil
}

func (w *Writer) describe(h objects.Handle, obj objects.Object) (ObjectDescriptor, error) {
	props, ok := w.registry.Properties(h.Type())
	if !ok {
		return ObjectDescriptor{}, &objects.TypeError{Name: h.Type()}
	}
	desc := ObjectDescriptor{
		ObjectType: string(h.Type()),
		Properties: make([]PropertyDescriptor, 0, len(props)),
	}
	for _, p := range props {
		if p.Kind == objects.KindList || p.Get == nil {
			continue
		}
		raw, err := w.encodeValue(h.Type(), p, p.Get(obj))
		if err != nil {
			return ObjectDescriptor{}, err
		}
		pd := PropertyDescriptor{Name: p.Name, Type: string(p.Kind), Value: raw}
		if order, ok := p.ConstructorOrder(); ok {
			pd.ConstructorParameterOrder = &order
		}
		desc.Properties = append(desc.Properties, pd)
	}
	return desc, nil
}

func (w *Writer) encodeValue(t objects.TypeKey, p objects.Property, v any) (json.RawMessage, error) {
	cv, err := w.registry.Normalize(t, p, v)
	if err != nil {
		return nil, err
	}
	if p.Kind == objects.KindEnum {
		name, ok := w.registry.EnumMemberName(p.Enum, cv)
		if !ok {
			return nil, &objects.ValueError{Type: t, Property: p.Name, Kind: p.Kind, Value: v}
		}
		return marshalNoEscape(EnumValue{EnumType: p.Enum, Value: name})
	}
	switch x := cv.(type) {
	case int32:
		return json.RawMessage(strconv.FormatInt(int64(x), 10)), nil
	case uint32:
		return json.RawMessage(strconv.FormatUint(uint64(x), 10)), nil
	case float32:
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, &objects.ValueError{Type: t, Property: p.Name, Kind: p.Kind, Value: v}
		}
		return json.RawMessage(strconv.FormatFloat(f, 'g', -1, 32)), nil
	case bool:
		return json.RawMessage(strconv.FormatBool(x)), nil
	case string:
		return marshalNoEscape(x)
	case objects.Handle:
		if x.IsZero() {
			return json.RawMessage(`{}`), nil
		}
		return marshalNoEscape(ReferenceValue{ObjectType: string(x.Type()), ID: x.ID()})
	}
	return nil, &objects.ValueError{Type: t, Property: p.Name, Kind: p.Kind, Value: v}
}

func marshalNoEscape(v any) (json.RawMessage, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return json.RawMessage(bytes.TrimSuffix(buf.Bytes(), []byte("\n"))), nil
}
