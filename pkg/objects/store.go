package objects

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"slices"
	"time"

	"objectcore/pkg/identity"
)

// Store owns every live object, partitioned by type. It is not safe for
// concurrent use; one logical thread of control drives it.
type Store struct {
	registry   *Registry
	partitions map[TypeKey]map[uint32]Object
	typeOrder  []TypeKey
	allocators map[TypeKey]*identity.Allocator
	changes    *ChangeTracker

	logger  Logger
	metrics MetricsRecorder
	clock   Clock
}

// NewStore constructs an empty store backed by registry.
func NewStore(registry *Registry, opts ...Option) *Store {
	if registry == nil {
		registry = NewRegistry()
	}
	o := defaultStoreOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Store{
		registry:   registry,
		partitions: make(map[TypeKey]map[uint32]Object),
		allocators: make(map[TypeKey]*identity.Allocator),
		changes:    newChangeTracker(),
		logger:     o.logger,
		metrics:    o.metrics,
		clock:      o.clock,
	}
}

// Registry returns the registry the store resolves types against.
func (s *Store) Registry() *Registry { return s.registry }

func (s *Store) observe(op string, start time.Time, err error) {
	s.metrics.Observe(context.Background(), op, err == nil, s.clock.Now().Sub(start))
}

func (s *Store) allocator(t TypeKey) *identity.Allocator {
	a, ok := s.allocators[t]
	if !ok {
		a = identity.New()
		s.allocators[t] = a
	}
	return a
}

// Create builds a new object of type t from args and assigns it the next ID
// of its type. The ID is only drawn once exactly one constructor matched.
// IDs still held by live objects, possible after an allocator reset, are
// skipped.
func (s *Store) Create(t TypeKey, args ...any) (h Handle, err error) {
	start := s.clock.Now()
	defer func() { s.observe("objects.create", start, err) }()

	info, ok := s.registry.lookup(t)
	if !ok {
		return Handle{}, &TypeError{Name: t}
	}
	ctor, bound, err := s.registry.resolveConstructor(info, args)
	if err != nil {
		s.logger.Warn("object construction rejected", "type", string(t), "error", err)
		return Handle{}, err
	}
	alloc := s.allocator(t)
	id := alloc.Next()
	for id != 0 && s.Contains(NewHandle(t, id)) {
		id = alloc.Next()
	}
	if id == 0 {
		return Handle{}, fmt.Errorf("create %s: %w", t, ErrIDSpaceExhausted)
	}
	h = NewHandle(t, id)
	obj, err := s.instantiate(ctor, h, args, bound)
	if err != nil {
		alloc.Reset(id)
		s.logger.Warn("object construction failed", "type", string(t), "error", err)
		return Handle{}, err
	}
	s.insert(h, obj)
	if hook, ok := obj.(Created); ok {
		hook.OnCreated()
	}
	s.changes.recordAdded(h)
	s.logger.Debug("object created", "type", string(t), "id", id)
	return h, nil
}

// CreateOf is Create for the type bound to T by RegisterType.
func CreateOf[T any](s *Store, args ...any) (Handle, error) {
	t, ok := KeyOf[T](s.registry)
	if !ok {
		var zero T
		return Handle{}, &TypeError{Name: TypeKey(fmt.Sprintf("%T", zero))}
	}
	return s.Create(t, args...)
}

// CreateWithID builds an object under a caller-supplied ID. It advances the
// type's allocator past id, skips the Created hook and records no change;
// it is the deserialization path.
func (s *Store) CreateWithID(t TypeKey, id uint32, args ...any) (h Handle, err error) {
	start := s.clock.Now()
	defer func() { s.observe("objects.create_with_id", start, err) }()
	return s.createWithID(t, id, args)
}

func (s *Store) createWithID(t TypeKey, id uint32, args []any) (Handle, error) {
	if id == 0 {
		return Handle{}, fmt.Errorf("create %s: %w", t, ErrInvalidID)
	}
	info, ok := s.registry.lookup(t)
	if !ok {
		return Handle{}, &TypeError{Name: t}
	}
	h := NewHandle(t, id)
	if s.Contains(h) {
		return Handle{}, &DuplicateIDError{Handle: h}
	}
	ctor, bound, err := s.registry.resolveConstructor(info, args)
	if err != nil {
		return Handle{}, err
	}
	obj, err := s.instantiate(ctor, h, args, bound)
	if err != nil {
		return Handle{}, err
	}
	s.insert(h, obj)
	s.allocator(t).AdvancePast(id)
	return h, nil
}

func (s *Store) instantiate(ctor Constructor, h Handle, args, bound []any) (Object, error) {
	obj, err := ctor.New(h, bound)
	if err != nil {
		return nil, &ConstructorError{Type: h.typ, Args: args, Cause: err}
	}
	if obj == nil {
		return nil, &ConstructorError{Type: h.typ, Args: args, Cause: errors.New("constructor returned nil")}
	}
	if got := obj.Handle(); got != h {
		return nil, &ConstructorError{Type: h.typ, Args: args, Cause: fmt.Errorf("constructor returned identity %s, want %s", got, h)}
	}
	return obj, nil
}

func (s *Store) insert(h Handle, obj Object) {
	part, ok := s.partitions[h.typ]
	if !ok {
		part = make(map[uint32]Object)
		s.partitions[h.typ] = part
		s.typeOrder = append(s.typeOrder, h.typ)
	}
	part[h.id] = obj
}

// Lookup implements the Lookup interface.
func (s *Store) Lookup(h Handle) (Object, bool) {
	if s == nil || h.IsZero() {
		return nil, false
	}
	obj, ok := s.partitions[h.typ][h.id]
	return obj, ok
}

// Contains reports whether h currently resolves.
func (s *Store) Contains(h Handle) bool {
	_, ok := s.Lookup(h)
	return ok
}

// Ref binds h to the store.
func (s *Store) Ref(h Handle) Ref {
	return Ref{h: h, store: s}
}

// Len returns the number of live objects.
func (s *Store) Len() int {
	n := 0
	for _, part := range s.partitions {
		n += len(part)
	}
	return n
}

// Types returns the partitions' type keys in first-insertion order.
func (s *Store) Types() []TypeKey {
	return append([]TypeKey(nil), s.typeOrder...)
}

// All yields every live object, types in first-insertion order and IDs
// ascending. The set is captured when iteration starts.
func (s *Store) All() iter.Seq2[Handle, Object] {
	return func(yield func(Handle, Object) bool) {
		for _, t := range s.Types() {
			for _, h := range s.handlesOf(t) {
				obj, ok := s.Lookup(h)
				if !ok {
					continue
				}
				if !yield(h, obj) {
					return
				}
			}
		}
	}
}

func (s *Store) handlesOf(t TypeKey) []Handle {
	part := s.partitions[t]
	ids := make([]uint32, 0, len(part))
	for id := range part {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	out := make([]Handle, len(ids))
	for i, id := range ids {
		out[i] = NewHandle(t, id)
	}
	return out
}

// Remove deletes the object behind h and records the removal. It reports
// whether anything was removed.
func (s *Store) Remove(h Handle) bool {
	start := s.clock.Now()
	if !s.Contains(h) {
		return false
	}
	delete(s.partitions[h.typ], h.id)
	s.changes.recordRemoved(h)
	s.logger.Debug("object removed", "type", string(h.typ), "id", h.id)
	s.observe("objects.remove", start, nil)
	return true
}

// RemoveAll removes every object of the given types, or of all types when
// none are given. Each removal is recorded individually. It returns the
// number of objects removed.
func (s *Store) RemoveAll(types ...TypeKey) int {
	start := s.clock.Now()
	everything := len(types) == 0
	if everything {
		types = s.Types()
	}
	removed := 0
	for _, t := range types {
		for _, h := range s.handlesOf(t) {
			if s.Remove(h) {
				removed++
			}
		}
	}
	if everything {
		clear(s.partitions)
		s.typeOrder = s.typeOrder[:0]
	}
	s.observe("objects.remove_all", start, nil)
	return removed
}

// ResetIdentityAllocator rewinds t's allocator to the first ID. Stored
// objects are kept.
func (s *Store) ResetIdentityAllocator(t TypeKey) {
	s.allocator(t).Reset()
}

// ResetAllIdentityAllocators rewinds every allocator.
func (s *Store) ResetAllIdentityAllocators() {
	for _, a := range s.allocators {
		a.Reset()
	}
}

// Changes returns the store's change tracker.
func (s *Store) Changes() *ChangeTracker { return s.changes }

// HasChanges reports whether objects were added or removed since the last
// ClearChanges.
func (s *Store) HasChanges() bool { return s.changes.HasChanges() }

// ClearChanges starts a new change epoch.
func (s *Store) ClearChanges() { s.changes.Clear() }

// ClearChangesForObject forgets pending changes of h.
func (s *Store) ClearChangesForObject(h Handle) { s.changes.ClearObject(h) }

// Batch stages explicit-ID creations inside RunInBatch.
type Batch struct {
	store    *Store
	created  []Handle
	saved    map[TypeKey]*identity.Allocator
	newTypes map[TypeKey]bool
}

// CreateWithID is Store.CreateWithID recorded for rollback.
func (b *Batch) CreateWithID(t TypeKey, id uint32, args ...any) (Handle, error) {
	if _, seen := b.saved[t]; !seen {
		var saved *identity.Allocator
		if a, existed := b.store.allocators[t]; existed {
			cp := *a
			saved = &cp
		}
		b.saved[t] = saved
		if _, ok := b.store.partitions[t]; !ok {
			b.newTypes[t] = true
		}
	}
	h, err := b.store.CreateWithID(t, id, args...)
	if err != nil {
		return Handle{}, err
	}
	b.created = append(b.created, h)
	return h, nil
}

// SetProperty assigns a property of an object created in this batch.
func (b *Batch) SetProperty(h Handle, name string, v any) error {
	obj, ok := b.store.Lookup(h)
	if !ok {
		return fmt.Errorf("set %s.%s: object not found", h, name)
	}
	return b.store.registry.SetProperty(obj, name, v)
}

// Created returns the handles created so far, in creation order.
func (b *Batch) Created() []Handle {
	return append([]Handle(nil), b.created...)
}

func (b *Batch) rollback() {
	s := b.store
	for i := len(b.created) - 1; i >= 0; i-- {
		h := b.created[i]
		delete(s.partitions[h.typ], h.id)
	}
	for t := range b.newTypes {
		if len(s.partitions[t]) == 0 {
			delete(s.partitions, t)
		}
	}
	s.typeOrder = slices.DeleteFunc(s.typeOrder, func(t TypeKey) bool {
		_, ok := s.partitions[t]
		return !ok
	})
	for t, saved := range b.saved {
		if saved == nil {
			delete(s.allocators, t)
			continue
		}
		*s.allocators[t] = *saved
	}
}

// RunInBatch runs fn and undoes every creation it made when fn fails, so the
// store and its allocators end up as they were before the call.
func (s *Store) RunInBatch(fn func(b *Batch) error) error {
	b := &Batch{
		store:    s,
		saved:    make(map[TypeKey]*identity.Allocator),
		newTypes: make(map[TypeKey]bool),
	}
	if err := fn(b); err != nil {
		b.rollback()
		s.logger.Warn("batch rolled back", "created", len(b.created), "error", err)
		return err
	}
	return nil
}
