package objects

import "fmt"

// TypeKey is the stable registered name of an object type. It is also the
// "ObjectType" value of the wire format.
type TypeKey string

// Handle identifies an object by (type, ID). It is a lookup key, never an
// owning pointer: copying it is free and it cannot dangle. Validity is
// re-evaluated against a store on every check.
type Handle struct {
	typ TypeKey
	id  uint32
}

// NewHandle builds a handle for the given identity. The object does not need
// to exist yet.
func NewHandle(t TypeKey, id uint32) Handle {
	return Handle{typ: t, id: id}
}

// Type returns the handle's type key.
func (h Handle) Type() TypeKey { return h.typ }

// ID returns the handle's per-type ID.
func (h Handle) ID() uint32 { return h.id }

// IsZero reports whether the handle can never resolve.
func (h Handle) IsZero() bool { return h.id == 0 || h.typ == "" }

func (h Handle) String() string {
	if h.IsZero() {
		return "<none>"
	}
	return fmt.Sprintf("%s#%d", h.typ, h.id)
}

// Lookup resolves handles to live objects. *Store implements it.
type Lookup interface {
	Lookup(h Handle) (Object, bool)
}

// Resolve returns the live object behind h, if any.
func (h Handle) Resolve(l Lookup) (Object, bool) {
	if h.IsZero() || l == nil {
		return nil, false
	}
	return l.Lookup(h)
}

// IsValid reports whether h currently resolves in l.
func (h Handle) IsValid(l Lookup) bool {
	_, ok := h.Resolve(l)
	return ok
}

// Resolve returns the object behind h asserted to T.
func Resolve[T any](l Lookup, h Handle) (T, bool) {
	var zero T
	obj, ok := h.Resolve(l)
	if !ok {
		return zero, false
	}
	typed, ok := obj.(T)
	if !ok {
		return zero, false
	}
	return typed, true
}

// Ref binds a Handle to the store it resolves against. It is what external
// collaborators such as the event dispatcher hold on to.
type Ref struct {
	h     Handle
	store *Store
}

// Handle returns the unbound identity.
func (r Ref) Handle() Handle { return r.h }

// Type returns the referenced type key.
func (r Ref) Type() TypeKey { return r.h.typ }

// ID returns the referenced ID.
func (r Ref) ID() uint32 { return r.h.id }

// Resolve returns the live object, if any.
func (r Ref) Resolve() (Object, bool) {
	if r.store == nil {
		return nil, false
	}
	return r.h.Resolve(r.store)
}

// IsValid reports whether the referenced object is still stored.
func (r Ref) IsValid() bool {
	_, ok := r.Resolve()
	return ok
}

// IsValidHandler is the validity contract consumed by event dispatchers:
// handlers owned by an invalid reference are dropped.
func (r Ref) IsValidHandler() bool { return r.IsValid() }

func (r Ref) String() string { return r.h.String() }
