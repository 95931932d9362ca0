package serialization

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"

	"objectcore/pkg/objects"
)

// Reader rebuilds objects from a wire document.
type Reader struct {
	registry *objects.Registry
}

// NewReader returns a reader resolving types through registry.
func NewReader(registry *objects.Registry) *Reader {
	return &Reader{registry: registry}
}

type plannedObject struct {
	index   int
	typ     objects.TypeKey
	id      uint32
	args    []any
	setters []plannedValue
}

type plannedValue struct {
	name  string
	value any
}

type orderedValue struct {
	order int
	value any
}

// Unmarshal adds every object of data to store and returns their handles in
// document order. Descriptors may reference objects that appear later. The
// whole document is validated before the store is touched, and a failure
// while inserting removes everything inserted so far.
func (r *Reader) Unmarshal(store *objects.Store, data []byte) ([]objects.Handle, error) {
	doc, err := Parse(data)
	if err != nil {
		return nil, err
	}
	return r.Load(store, doc)
}

// Read is Unmarshal over a stream.
func (r *Reader) Read(store *objects.Store, in io.Reader) ([]objects.Handle, error) {
	data, err := io.ReadAll(in)
	if err != nil {
		return nil, fmt.Errorf("read document: %w", err)
	}
	return r.Unmarshal(store, data)
}

// Load inserts an already parsed document. Post-load hooks run once every
// object of the document exists.
func (r *Reader) Load(store *objects.Store, doc Document) ([]objects.Handle, error) {
	plan, err := r.plan(doc)
	if err != nil {
		return nil, err
	}
	var created []objects.Handle
	err = store.RunInBatch(func(b *objects.Batch) error {
		for _, p := range plan {
			if _, err := b.CreateWithID(p.typ, p.id, p.args...); err != nil {
				return &DocumentError{Index: p.index, Type: string(p.typ), Err: err}
			}
		}
		created = b.Created()
		for i, p := range plan {
			for _, s := range p.setters {
				if err := b.SetProperty(created[i], s.name, s.value); err != nil {
					return &DocumentError{Index: p.index, Type: string(p.typ), Property: s.name, Err: err}
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, h := range created {
		obj, ok := store.Lookup(h)
		if !ok {
			continue
		}
		if hook, ok := obj.(objects.Loaded); ok {
			hook.OnLoaded()
		}
	}
	return created, nil
}

// plan resolves every descriptor of doc without touching a store.
func (r *Reader) plan(doc Document) ([]plannedObject, error) {
	plan := make([]plannedObject, 0, len(doc))
	for i, desc := range doc {
		p, err := r.planObject(i, desc)
		if err != nil {
			return nil, err
		}
		plan = append(plan, p)
	}
	return plan, nil
}

func (r *Reader) planObject(index int, desc ObjectDescriptor) (plannedObject, error) {
	typ := objects.TypeKey(desc.ObjectType)
	if !r.registry.Known(typ) {
		return plannedObject{}, &DocumentError{Index: index, Type: desc.ObjectType, Err: &objects.TypeError{Name: typ}}
	}
	id, err := desc.ID()
	if err != nil {
		return plannedObject{}, &DocumentError{Index: index, Type: desc.ObjectType, Err: err}
	}
	p := plannedObject{index: index, typ: typ, id: id}
	var ordered []orderedValue
	for _, prop := range desc.Properties {
		order := prop.ConstructorParameterOrder
		if order != nil && *order == 0 {
			continue
		}
		v, err := r.decodeValue(prop)
		if err != nil {
			return plannedObject{}, &DocumentError{Index: index, Type: desc.ObjectType, Property: prop.Name, Err: err}
		}
		if order != nil {
			ordered = append(ordered, orderedValue{order: *order, value: v})
			continue
		}
		if _, known := r.registry.Property(typ, prop.Name); !known {
			continue
		}
		p.setters = append(p.setters, plannedValue{name: prop.Name, value: v})
	}
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].order < ordered[j].order })
	for _, o := range ordered {
		p.args = append(p.args, o.value)
	}
	return p, nil
}

func (r *Reader) decodeValue(prop PropertyDescriptor) (any, error) {
	switch objects.Kind(prop.Type) {
	case objects.KindInt32, objects.KindUInt32, objects.KindSingle:
		return decodeNumber(objects.Kind(prop.Type), prop.Value)
	case objects.KindString:
		var s string
		if err := json.Unmarshal(prop.Value, &s); err != nil {
			return nil, fmt.Errorf("%w: expected string, got %s", ErrMalformedDocument, string(prop.Value))
		}
		return s, nil
	case objects.KindBoolean:
		var b bool
		if err := json.Unmarshal(prop.Value, &b); err != nil {
			return nil, fmt.Errorf("%w: expected boolean, got %s", ErrMalformedDocument, string(prop.Value))
		}
		return b, nil
	}
	switch prop.Type {
	case TypeEnum:
		var ev EnumValue
		if err := json.Unmarshal(prop.Value, &ev); err != nil {
			return nil, fmt.Errorf("%w: enum value: %v", ErrMalformedDocument, err)
		}
		v, ok := r.registry.EnumValue(ev.EnumType, ev.Value)
		if !ok {
			return nil, fmt.Errorf("%w: enum %s has no member %q", objects.ErrUnsupportedValueType, ev.EnumType, ev.Value)
		}
		return v, nil
	case TypeReference:
		var ref ReferenceValue
		if err := json.Unmarshal(prop.Value, &ref); err != nil {
			return nil, fmt.Errorf("%w: reference value: %v", ErrMalformedDocument, err)
		}
		if ref.IsEmpty() {
			return objects.Handle{}, nil
		}
		target := objects.TypeKey(ref.ObjectType)
		if !r.registry.Known(target) {
			return nil, &objects.TypeError{Name: target}
		}
		return objects.NewHandle(target, ref.ID), nil
	}
	return nil, fmt.Errorf("%w: type tag %q", objects.ErrUnsupportedValueType, prop.Type)
}

func decodeNumber(kind objects.Kind, raw json.RawMessage) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var n json.Number
	if err := dec.Decode(&n); err != nil {
		return nil, fmt.Errorf("%w: expected number, got %s", ErrMalformedDocument, string(raw))
	}
	switch kind {
	case objects.KindInt32:
		v, err := strconv.ParseInt(n.String(), 10, 32)
		if err != nil {
			return nil, fmt.Errorf("%w: %s is not an Int32", ErrMalformedDocument, n)
		}
		return int32(v), nil
	case objects.KindUInt32:
		v, err := strconv.ParseUint(n.String(), 10, 32)
		if err != nil {
			return nil, fmt.Errorf("%w: %s is not a UInt32", ErrMalformedDocument, n)
		}
		return uint32(v), nil
	default:
		v, err := strconv.ParseFloat(n.String(), 32)
		if err != nil {
			return nil, fmt.Errorf("%w: %s is not a Single", ErrMalformedDocument, n)
		}
		return float32(v), nil
	}
}
