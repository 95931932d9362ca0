package objects_test

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"objectcore/pkg/objects"
	"objectcore/pkg/objects/objectstest"
)

func TestCreateAssignsSequentialIDsPerType(t *testing.T) {
	store := objectstest.NewStore()
	for want := uint32(1); want <= 3; want++ {
		h, err := store.Create(objectstest.DummyType)
		if err != nil {
			t.Fatalf("create dummy: %v", err)
		}
		if h.ID() != want {
			t.Fatalf("expected dummy id %d, got %d", want, h.ID())
		}
		th, err := store.Create(objectstest.ThingType)
		if err != nil {
			t.Fatalf("create thing: %v", err)
		}
		if th.ID() != want {
			t.Fatalf("expected independent thing counter %d, got %d", want, th.ID())
		}
	}
	if store.Len() != 6 {
		t.Fatalf("expected 6 objects, got %d", store.Len())
	}
}

func TestRemovedIDsAreNeverReusedUntilReset(t *testing.T) {
	store := objectstest.NewStore()
	first, _ := store.Create(objectstest.DummyType)
	second, _ := store.Create(objectstest.DummyType)
	if first.ID() != 1 || second.ID() != 2 {
		t.Fatalf("unexpected ids %d %d", first.ID(), second.ID())
	}
	if !store.Remove(first) {
		t.Fatalf("expected remove to report removal")
	}
	third, err := store.Create(objectstest.DummyType)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if third.ID() != 3 {
		t.Fatalf("expected id 3 after removal, got %d", third.ID())
	}

	store.ResetIdentityAllocator(objectstest.DummyType)
	again, err := store.Create(objectstest.DummyType)
	if err != nil {
		t.Fatalf("create after reset: %v", err)
	}
	if again.ID() != 1 {
		t.Fatalf("expected id 1 after reset, got %d", again.ID())
	}
	if !store.Contains(second) {
		t.Fatalf("reset must not drop stored objects")
	}
}

func TestCreateAfterResetSkipsLiveIDs(t *testing.T) {
	store := objectstest.NewStore()
	var created []objects.Handle
	for i := 0; i < 3; i++ {
		h, err := store.Create(objectstest.DummyType)
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		created = append(created, h)
	}
	store.Remove(created[0])
	store.ResetAllIdentityAllocators()
	for _, want := range []uint32{1, 4, 5} {
		h, err := store.Create(objectstest.DummyType)
		if err != nil {
			t.Fatalf("create after reset: %v", err)
		}
		if h.ID() != want {
			t.Fatalf("expected id %d, got %d", want, h.ID())
		}
	}
	if store.Len() != 5 || !store.Contains(created[1]) || !store.Contains(created[2]) {
		t.Fatalf("live objects must survive the reset, len=%d", store.Len())
	}
	store.RemoveAll(objectstest.DummyType)
	store.ResetIdentityAllocator(objectstest.DummyType)
	h, err := store.Create(objectstest.DummyType)
	if err != nil || h.ID() != 1 {
		t.Fatalf("expected clean id space after RemoveAll, got %v %v", h, err)
	}
}

func TestCreateFailsOnceIDSpaceIsExhausted(t *testing.T) {
	store := objectstest.NewStore()
	last, err := store.CreateWithID(objectstest.DummyType, math.MaxUint32)
	if err != nil {
		t.Fatalf("create with max id: %v", err)
	}
	h, err := store.Create(objectstest.DummyType)
	if !errors.Is(err, objects.ErrIDSpaceExhausted) {
		t.Fatalf("expected exhausted id space, got %v %v", h, err)
	}
	if store.Len() != 1 || !store.Contains(last) {
		t.Fatalf("failed create must not touch the store, len=%d", store.Len())
	}
	if _, err := store.Create(objectstest.DummyType); !errors.Is(err, objects.ErrIDSpaceExhausted) {
		t.Fatalf("expected allocator to stay exhausted, got %v", err)
	}
	store.Remove(last)
	store.ResetIdentityAllocator(objectstest.DummyType)
	if h, err := store.Create(objectstest.DummyType); err != nil || h.ID() != 1 {
		t.Fatalf("expected reset to reopen the id space, got %v %v", h, err)
	}
}

func TestCreateWithIDAdvancesAllocator(t *testing.T) {
	cases := []struct {
		name     string
		existing int
		explicit uint32
		wantNext uint32
	}{
		{name: "ahead", existing: 0, explicit: 5, wantNext: 6},
		{name: "behind", existing: 4, explicit: 2, wantNext: 5},
		{name: "equal", existing: 2, explicit: 3, wantNext: 4},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := objectstest.NewStore()
			for i := 0; i < tc.existing; i++ {
				if _, err := store.Create(objectstest.ThingType); err != nil {
					t.Fatalf("seed: %v", err)
				}
			}
			if tc.existing >= int(tc.explicit) {
				store.Remove(objects.NewHandle(objectstest.ThingType, tc.explicit))
			}
			if _, err := store.CreateWithID(objectstest.ThingType, tc.explicit); err != nil {
				t.Fatalf("create with id: %v", err)
			}
			h, err := store.Create(objectstest.ThingType)
			if err != nil {
				t.Fatalf("create: %v", err)
			}
			if h.ID() != tc.wantNext {
				t.Fatalf("expected next id %d, got %d", tc.wantNext, h.ID())
			}
		})
	}
}

func TestCreateWithIDRejectsDuplicateAndZero(t *testing.T) {
	store := objectstest.NewStore()
	h, err := store.CreateWithID(objectstest.DummyType, 7)
	if err != nil {
		t.Fatalf("create with id: %v", err)
	}
	_, err = store.CreateWithID(objectstest.DummyType, 7)
	var dup *objects.DuplicateIDError
	if !errors.As(err, &dup) || dup.Handle != h {
		t.Fatalf("expected DuplicateIDError for %v, got %v", h, err)
	}
	if _, err := store.CreateWithID(objectstest.DummyType, 0); !errors.Is(err, objects.ErrInvalidID) {
		t.Fatalf("expected invalid id error, got %v", err)
	}
	if _, err := store.CreateWithID("Nope", 1); !errors.Is(err, objects.ErrUnknownType) {
		t.Fatalf("expected unknown type error, got %v", err)
	}
	if store.Len() != 1 {
		t.Fatalf("failed calls must not insert, len=%d", store.Len())
	}
}

func TestCreateWithIDSkipsHooksAndChanges(t *testing.T) {
	store := objectstest.NewStore()
	h, err := store.CreateWithID(objectstest.DummyType, 3)
	if err != nil {
		t.Fatalf("create with id: %v", err)
	}
	d, ok := objects.Resolve[*objectstest.Dummy](store, h)
	if !ok {
		t.Fatalf("expected dummy to resolve")
	}
	if d.CreatedCalls != 0 {
		t.Fatalf("explicit-id path must not run the created hook")
	}
	if store.HasChanges() {
		t.Fatalf("explicit-id path must not record a change")
	}
}

func TestCreateRunsCreatedHookAndRecordsAddition(t *testing.T) {
	store := objectstest.NewStore()
	h, err := objects.CreateOf[*objectstest.Dummy](store)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	d, ok := objects.Resolve[*objectstest.Dummy](store, h)
	if !ok || d.CreatedCalls != 1 {
		t.Fatalf("expected one created hook call, got %+v", d)
	}
	added := store.Changes().Added()
	if len(added) != 1 || added[0] != h {
		t.Fatalf("expected addition of %v, got %v", h, added)
	}
}

func TestConstructorMatching(t *testing.T) {
	cases := []struct {
		name    string
		typ     objects.TypeKey
		args    []any
		wantErr error
		check   func(t *testing.T, obj objects.Object)
	}{
		{name: "pair no args is ambiguous", typ: objectstest.PairType, wantErr: objects.ErrAmbiguousConstructor},
		{name: "pair nil is ambiguous", typ: objectstest.PairType, args: []any{nil}, wantErr: objects.ErrAmbiguousConstructor},
		{name: "pair int picks numeric", typ: objectstest.PairType, args: []any{5}, check: func(t *testing.T, obj objects.Object) {
			if obj.(*objectstest.Pair).N != 5 {
				t.Fatalf("expected N=5")
			}
		}},
		{name: "pair string picks text", typ: objectstest.PairType, args: []any{"s"}, check: func(t *testing.T, obj objects.Object) {
			if obj.(*objectstest.Pair).S != "s" {
				t.Fatalf("expected S=s")
			}
		}},
		{name: "pair extra args", typ: objectstest.PairType, args: []any{1, 2}, wantErr: objects.ErrNoMatchingConstructor},
		{name: "unit missing required", typ: objectstest.UnitType, wantErr: objects.ErrNoMatchingConstructor},
		{name: "unit default padding", typ: objectstest.UnitType, args: []any{"a"}, check: func(t *testing.T, obj objects.Object) {
			u := obj.(*objectstest.Unit)
			if u.Name != "a" || u.Level != 1 {
				t.Fatalf("unexpected unit %+v", u)
			}
		}},
		{name: "unit explicit level", typ: objectstest.UnitType, args: []any{"a", int64(7)}, check: func(t *testing.T, obj objects.Object) {
			if obj.(*objectstest.Unit).Level != 7 {
				t.Fatalf("expected level 7")
			}
		}},
		{name: "unit wrong kind", typ: objectstest.UnitType, args: []any{"a", "b"}, wantErr: objects.ErrNoMatchingConstructor},
		{name: "int32 overflow", typ: objectstest.UnitType, args: []any{"a", int64(1) << 40}, wantErr: objects.ErrNoMatchingConstructor},
		{name: "nil pads to zero", typ: objectstest.CircleType, args: []any{nil}, check: func(t *testing.T, obj objects.Object) {
			if obj.(*objectstest.Circle).Radius != 0 {
				t.Fatalf("expected zero radius")
			}
		}},
		{name: "abstract type", typ: objectstest.ShapeType, wantErr: objects.ErrNoMatchingConstructor},
		{name: "unknown type", typ: "Nope", wantErr: objects.ErrUnknownType},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := objectstest.NewStore()
			h, err := store.Create(tc.typ, tc.args...)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("expected %v, got %v", tc.wantErr, err)
				}
				if store.Len() != 0 || store.HasChanges() {
					t.Fatalf("failed create must leave the store unmodified")
				}
				return
			}
			if err != nil {
				t.Fatalf("create: %v", err)
			}
			obj, ok := h.Resolve(store)
			if !ok {
				t.Fatalf("expected %v to resolve", h)
			}
			tc.check(t, obj)
		})
	}
}

func TestFailedCreateDoesNotConsumeID(t *testing.T) {
	store := objectstest.NewStore()
	_, err := store.Create(objectstest.BrokenType, true)
	if !errors.Is(err, objectstest.ErrBroken) {
		t.Fatalf("expected constructor failure, got %v", err)
	}
	var cerr *objects.ConstructorError
	if !errors.As(err, &cerr) || cerr.Type != objectstest.BrokenType {
		t.Fatalf("expected ConstructorError, got %T", err)
	}
	if _, err := store.Create(objectstest.PairType); err == nil {
		t.Fatalf("expected ambiguous pair")
	}
	h, err := store.Create(objectstest.BrokenType)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if h.ID() != 1 {
		t.Fatalf("expected failed calls not to consume ids, got %d", h.ID())
	}
}

func TestConstructorErrorMessage(t *testing.T) {
	store := objectstest.NewStore()
	_, err := store.Create(objectstest.DummyType, 1)
	if err == nil {
		t.Fatalf("expected error")
	}
	want := "instantiation of Dummy failed as no matching constructor found for parameters (1)"
	if err.Error() != want {
		t.Fatalf("unexpected message %q", err.Error())
	}
	_, err = store.Create(objectstest.PairType, nil)
	if err == nil || !strings.Contains(err.Error(), "multiple matching constructors") {
		t.Fatalf("unexpected ambiguous message %v", err)
	}
}

func TestHandleInvalidAfterRemove(t *testing.T) {
	store := objectstest.NewStore()
	h, _ := store.Create(objectstest.ThingType)
	ref := store.Ref(h)
	if !ref.IsValid() || !ref.IsValidHandler() || !h.IsValid(store) {
		t.Fatalf("expected fresh handle to be valid")
	}
	store.Remove(h)
	if ref.IsValid() || ref.IsValidHandler() || h.IsValid(store) {
		t.Fatalf("expected handle to be invalid after removal")
	}
	if obj, ok := ref.Resolve(); ok || obj != nil {
		t.Fatalf("expected no object, got %v", obj)
	}
	for got := range store.Query(objectstest.ThingType) {
		t.Fatalf("removed object must not be queried, got %v", got)
	}
	if store.Remove(h) {
		t.Fatalf("removing an absent object must be a no-op")
	}
	var zero objects.Handle
	if zero.IsValid(store) || store.Ref(zero).IsValid() {
		t.Fatalf("zero handle must be invalid")
	}
	var nilStore *objects.Store
	if h.IsValid(nilStore) || nilStore.Contains(h) {
		t.Fatalf("handles must not resolve against a nil store")
	}
	if zero.String() != "<none>" || h.String() != "Thing#1" {
		t.Fatalf("unexpected handle strings %q %q", zero.String(), h.String())
	}
}

func TestRemoveAll(t *testing.T) {
	store := objectstest.NewStore()
	for i := 0; i < 3; i++ {
		store.Create(objectstest.DummyType)
		store.Create(objectstest.ThingType)
	}
	store.ClearChanges()
	if n := store.RemoveAll(objectstest.DummyType); n != 3 {
		t.Fatalf("expected 3 removals, got %d", n)
	}
	if got := len(store.Changes().RemovedOf(objectstest.DummyType)); got != 3 {
		t.Fatalf("expected 3 recorded removals, got %d", got)
	}
	if store.Len() != 3 {
		t.Fatalf("other types must survive, len=%d", store.Len())
	}
	if n := store.RemoveAll(); n != 3 || store.Len() != 0 {
		t.Fatalf("expected everything removed, n=%d len=%d", n, store.Len())
	}
	if len(store.Types()) != 0 {
		t.Fatalf("expected no partitions, got %v", store.Types())
	}
}

func TestAllIteratesTypesInInsertionOrderAndIDsAscending(t *testing.T) {
	store := objectstest.NewStore()
	store.CreateWithID(objectstest.ThingType, 9)
	store.Create(objectstest.DummyType)
	store.CreateWithID(objectstest.ThingType, 2)
	store.Create(objectstest.DummyType)

	var got []string
	for h := range store.All() {
		got = append(got, h.String())
	}
	want := "Thing#2,Thing#9,Dummy#1,Dummy#2"
	if strings.Join(got, ",") != want {
		t.Fatalf("expected %s, got %v", want, got)
	}
}

func TestRunInBatchRollsBack(t *testing.T) {
	store := objectstest.NewStore()
	keep, _ := store.Create(objectstest.DummyType)
	boom := errors.New("boom")
	err := store.RunInBatch(func(b *objects.Batch) error {
		if _, err := b.CreateWithID(objectstest.DummyType, 10); err != nil {
			return err
		}
		if _, err := b.CreateWithID(objectstest.ThingType, 4); err != nil {
			return err
		}
		if len(b.Created()) != 2 {
			t.Fatalf("expected 2 staged objects")
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected batch error, got %v", err)
	}
	if store.Len() != 1 || !store.Contains(keep) {
		t.Fatalf("expected only the pre-existing object, len=%d", store.Len())
	}
	if types := store.Types(); len(types) != 1 || types[0] != objectstest.DummyType {
		t.Fatalf("expected rolled back partitions, got %v", types)
	}
	next, _ := store.Create(objectstest.DummyType)
	if next.ID() != 2 {
		t.Fatalf("expected allocator restored, got %d", next.ID())
	}
	thing, _ := store.Create(objectstest.ThingType)
	if thing.ID() != 1 {
		t.Fatalf("expected fresh thing allocator, got %d", thing.ID())
	}
}

func TestRunInBatchRestoresExhaustedAllocator(t *testing.T) {
	store := objectstest.NewStore()
	if _, err := store.CreateWithID(objectstest.DummyType, math.MaxUint32); err != nil {
		t.Fatalf("create with max id: %v", err)
	}
	boom := errors.New("boom")
	err := store.RunInBatch(func(b *objects.Batch) error {
		if _, err := b.CreateWithID(objectstest.DummyType, 3); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected batch error, got %v", err)
	}
	if _, err := store.Create(objectstest.DummyType); !errors.Is(err, objects.ErrIDSpaceExhausted) {
		t.Fatalf("expected rollback to keep the allocator exhausted, got %v", err)
	}
}

type captureMetrics struct {
	calls map[string]int
}

func (c *captureMetrics) Observe(_ context.Context, op string, success bool, _ time.Duration) {
	if c.calls == nil {
		c.calls = make(map[string]int)
	}
	key := op + ":ok"
	if !success {
		key = op + ":error"
	}
	c.calls[key]++
}

type captureLogger struct{ calls []string }

func (c *captureLogger) Debug(msg string, _ ...any) { c.calls = append(c.calls, "d:"+msg) }
func (c *captureLogger) Info(msg string, _ ...any)  { c.calls = append(c.calls, "i:"+msg) }
func (c *captureLogger) Warn(msg string, _ ...any)  { c.calls = append(c.calls, "w:"+msg) }
func (c *captureLogger) Error(msg string, _ ...any) { c.calls = append(c.calls, "e:"+msg) }

func TestStoreOptionsObserveOperations(t *testing.T) {
	metrics := &captureMetrics{}
	logger := &captureLogger{}
	fixed := time.Unix(100, 0)
	store := objectstest.NewStore(
		objects.WithMetrics(metrics),
		objects.WithLogger(logger),
		objects.WithClock(objects.ClockFunc(func() time.Time { return fixed })),
	)
	h, _ := store.Create(objectstest.DummyType)
	store.Create(objectstest.DummyType, 1)
	store.Remove(h)

	if metrics.calls["objects.create:ok"] != 1 || metrics.calls["objects.create:error"] != 1 {
		t.Fatalf("unexpected create metrics %v", metrics.calls)
	}
	if metrics.calls["objects.remove:ok"] != 1 {
		t.Fatalf("expected remove metric, got %v", metrics.calls)
	}
	joined := strings.Join(logger.calls, "|")
	for _, want := range []string{"d:object created", "w:object construction rejected", "d:object removed"} {
		if !strings.Contains(joined, want) {
			t.Fatalf("expected log %q in %s", want, joined)
		}
	}
}
