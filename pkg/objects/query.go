package objects

import "iter"

// Predicate filters query results.
type Predicate func(Object) bool

// Query yields handles of every live object whose type is t or a registered
// subtype of t, exact type first. Every predicate must accept the object.
// Candidates are captured when iteration starts, so callers may add or
// remove objects while consuming the sequence; ranging again rescans.
func (s *Store) Query(t TypeKey, preds ...Predicate) iter.Seq[Handle] {
	return func(yield func(Handle) bool) {
		for _, h := range s.candidates(t) {
			obj, ok := s.Lookup(h)
			if !ok || !accept(obj, preds) {
				continue
			}
			if !yield(h) {
				return
			}
		}
	}
}

// QueryFirst returns the first Query match or the zero Handle.
func (s *Store) QueryFirst(t TypeKey, preds ...Predicate) Handle {
	for h := range s.Query(t, preds...) {
		return h
	}
	return Handle{}
}

// Count returns the number of Query matches.
func (s *Store) Count(t TypeKey, preds ...Predicate) int {
	n := 0
	for range s.Query(t, preds...) {
		n++
	}
	return n
}

func (s *Store) candidates(t TypeKey) []Handle {
	out := s.handlesOf(t)
	for _, other := range s.typeOrder {
		if other != t && s.registry.IsA(other, t) {
			out = append(out, s.handlesOf(other)...)
		}
	}
	return out
}

func accept(obj Object, preds []Predicate) bool {
	for _, p := range preds {
		if p != nil && !p(obj) {
			return false
		}
	}
	return true
}

// QueryOf yields objects assignable to T. When T was bound with RegisterType
// the query is polymorphic over that type's registered subtypes; otherwise
// (typically an interface) every live object implementing T is considered.
func QueryOf[T any](s *Store, preds ...func(T) bool) iter.Seq2[Handle, T] {
	return func(yield func(Handle, T) bool) {
		var handles []Handle
		if t, ok := KeyOf[T](s.registry); ok {
			handles = s.candidates(t)
		} else {
			for h := range s.All() {
				handles = append(handles, h)
			}
		}
		for _, h := range handles {
			typed, ok := Resolve[T](s, h)
			if !ok || !acceptTyped(typed, preds) {
				continue
			}
			if !yield(h, typed) {
				return
			}
		}
	}
}

func acceptTyped[T any](v T, preds []func(T) bool) bool {
	for _, p := range preds {
		if p != nil && !p(v) {
			return false
		}
	}
	return true
}
