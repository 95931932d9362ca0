package objects_test

import (
	"errors"
	"strings"
	"testing"

	"objectcore/pkg/objects"
	"objectcore/pkg/objects/objectstest"
)

func newPlain(self objects.Handle, _ []any) (objects.Object, error) {
	b := objects.NewBase(self)
	return &b, nil
}

func TestRegisterRejectsInvalidSpecs(t *testing.T) {
	get := func(objects.Object) any { return int32(0) }
	ctor := []objects.Constructor{{New: newPlain}}
	cases := []struct {
		name string
		spec objects.TypeSpec
		want string
	}{
		{name: "empty name", spec: objects.TypeSpec{Constructors: ctor}, want: "type name required"},
		{name: "duplicate type", spec: objects.TypeSpec{Name: objectstest.DummyType, Constructors: ctor}, want: "already registered"},
		{name: "unknown parent", spec: objects.TypeSpec{Name: "X", Parents: []objects.TypeKey{"Ghost"}, Constructors: ctor}, want: "not registered"},
		{name: "duplicate property", spec: objects.TypeSpec{Name: "X", Constructors: ctor, Properties: []objects.Property{
			{Name: "A", Kind: objects.KindInt32, Get: get},
			{Name: "A", Kind: objects.KindInt32, Get: get},
		}}, want: "duplicate property"},
		{name: "slot collision", spec: objects.TypeSpec{Name: "X", Constructors: ctor, Properties: []objects.Property{
			{Name: "A", Kind: objects.KindInt32, Slot: 1, Get: get},
			{Name: "B", Kind: objects.KindInt32, Slot: 1, Get: get},
		}}, want: "share constructor slot"},
		{name: "reserved id", spec: objects.TypeSpec{Name: "X", Constructors: ctor, Properties: []objects.Property{
			{Name: objects.IDProperty, Kind: objects.KindUInt32, Get: get},
		}}, want: "invalid property name"},
		{name: "missing getter", spec: objects.TypeSpec{Name: "X", Constructors: ctor, Properties: []objects.Property{
			{Name: "A", Kind: objects.KindInt32},
		}}, want: "getter required"},
		{name: "unknown enum", spec: objects.TypeSpec{Name: "X", Constructors: ctor, Properties: []objects.Property{
			{Name: "A", Kind: objects.KindEnum, Enum: "Mood", Get: get},
		}}, want: "not registered"},
		{name: "unknown kind", spec: objects.TypeSpec{Name: "X", Constructors: ctor, Properties: []objects.Property{
			{Name: "A", Kind: "Decimal", Get: get},
		}}, want: "unsupported value type"},
		{name: "concrete without constructor", spec: objects.TypeSpec{Name: "X"}, want: "needs a constructor"},
		{name: "bad default", spec: objects.TypeSpec{Name: "X", Constructors: []objects.Constructor{{
			Params: []objects.Param{objects.Param{Name: "n", Kind: objects.KindInt32}.WithDefault("ten")},
			New:    newPlain,
		}}}, want: "default"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := objectstest.NewRegistry()
			err := r.Register(tc.spec)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestIsAIsTransitive(t *testing.T) {
	r := objectstest.NewRegistry()
	r.MustRegister(objects.TypeSpec{
		Name:         "Ring",
		Parents:      []objects.TypeKey{objectstest.CircleType},
		Constructors: []objects.Constructor{{New: newPlain}},
	})
	for _, tc := range []struct {
		t, base objects.TypeKey
		want    bool
	}{
		{"Ring", objectstest.CircleType, true},
		{"Ring", objectstest.ShapeType, true},
		{objectstest.CircleType, objectstest.ShapeType, true},
		{objectstest.ShapeType, objectstest.CircleType, false},
		{objectstest.SquareType, objectstest.CircleType, false},
		{objectstest.DummyType, objectstest.DummyType, true},
		{"Ghost", objectstest.ShapeType, false},
	} {
		if got := r.IsA(tc.t, tc.base); got != tc.want {
			t.Fatalf("IsA(%s, %s) = %v, want %v", tc.t, tc.base, got, tc.want)
		}
	}
	props, _ := r.Properties("Ring")
	if len(props) != 2 || props[1].Name != "Radius" {
		t.Fatalf("expected inherited Radius property, got %v", props)
	}
}

func TestPropertiesSortedWithImplicitID(t *testing.T) {
	r := objectstest.NewRegistry()
	props, ok := r.Properties(objectstest.UnitType)
	if !ok {
		t.Fatalf("expected unit properties")
	}
	var names []string
	for _, p := range props {
		names = append(names, p.Name)
	}
	want := "Active,Code,Color,ID,Level,Name,Rank,Speed,Tags,Target"
	if strings.Join(names, ",") != want {
		t.Fatalf("expected %s, got %v", want, names)
	}
	id, _ := r.Property(objectstest.UnitType, objects.IDProperty)
	if order, ok := id.ConstructorOrder(); !id.IsID() || !ok || order != 0 {
		t.Fatalf("expected ID at constructor order 0")
	}
	rank, _ := r.Property(objectstest.UnitType, "Rank")
	if _, ok := rank.ConstructorOrder(); ok {
		t.Fatalf("expected Rank to be a setter property")
	}
}

func TestSetPropertiesAppliesTemplateValues(t *testing.T) {
	store := objectstest.NewStore()
	h, err := store.Create(objectstest.UnitType, "scout")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	u, _ := objects.Resolve[*objectstest.Unit](store, h)
	err = store.Registry().SetProperties(u, map[string]any{
		"Rank":    float64(3),
		"Speed":   float64(1.5),
		"Active":  true,
		"Color":   "Blue",
		"Tags":    []any{"a", "b"},
		"Unknown": 42,
		"Name":    "ignored-no-setter",
		"ID":      float64(99),
	})
	if err != nil {
		t.Fatalf("set properties: %v", err)
	}
	if u.Rank != 3 || u.Speed != 1.5 || !u.Active || u.Color != objectstest.Blue {
		t.Fatalf("unexpected unit %+v", u)
	}
	if len(u.Tags) != 2 || u.Tags[1] != "b" {
		t.Fatalf("unexpected tags %v", u.Tags)
	}
	if u.Name != "scout" || u.ID() != 1 {
		t.Fatalf("read-only properties must be untouched")
	}

	err = store.Registry().SetProperties(u, map[string]any{"Rank": 1.5})
	var verr *objects.ValueError
	if !errors.As(err, &verr) || !errors.Is(err, objects.ErrUnsupportedValueType) || verr.Property != "Rank" {
		t.Fatalf("expected ValueError for Rank, got %v", err)
	}
}

func TestPropertyMap(t *testing.T) {
	store := objectstest.NewStore()
	target, _ := store.Create(objectstest.ThingType)
	h, _ := store.Create(objectstest.UnitType, "scout", 4)
	u, _ := objects.Resolve[*objectstest.Unit](store, h)
	u.Color = objectstest.Green
	u.Target = target

	m := store.Registry().PropertyMap(u)
	if m["Name"] != "scout" || m["Level"] != int32(4) || m["Color"] != "Green" || m["ID"] != uint32(1) {
		t.Fatalf("unexpected map %v", m)
	}
	ref, ok := m["Target"].(map[string]any)
	if !ok || ref["ObjectType"] != "Thing" || ref["ID"] != uint32(1) {
		t.Fatalf("unexpected reference %v", m["Target"])
	}
	if _, ok := m["Tags"]; ok {
		t.Fatalf("write-only list must not be read")
	}
}

type linked struct {
	objects.Base
	next objects.Ref
}

func TestPropertyMapAcceptsRefGetters(t *testing.T) {
	r := objectstest.NewRegistry()
	err := r.Register(objects.TypeSpec{
		Name: "Linked",
		Constructors: []objects.Constructor{{New: func(self objects.Handle, _ []any) (objects.Object, error) {
			return &linked{Base: objects.NewBase(self)}, nil
		}}},
		Properties: []objects.Property{
			{Name: "Next", Kind: objects.KindReference, Get: func(o objects.Object) any { return o.(*linked).next }},
		},
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	store := objects.NewStore(r)
	target, _ := store.Create(objectstest.ThingType)
	h, err := store.Create("Linked")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	l, _ := objects.Resolve[*linked](store, h)

	if m := r.PropertyMap(l); m["Next"] != nil {
		t.Fatalf("expected nil for an unset reference, got %v", m["Next"])
	}
	l.next = store.Ref(target)
	ref, ok := r.PropertyMap(l)["Next"].(map[string]any)
	if !ok || ref["ObjectType"] != "Thing" || ref["ID"] != uint32(1) {
		t.Fatalf("unexpected reference %v", ref)
	}
}

func TestEnumLookups(t *testing.T) {
	r := objectstest.NewRegistry()
	if name, ok := r.EnumMemberName(objectstest.ColorEnum, objectstest.Blue); !ok || name != "Blue" {
		t.Fatalf("unexpected member name %q", name)
	}
	if v, ok := r.EnumValue(objectstest.ColorEnum, "Green"); !ok || v != objectstest.Green {
		t.Fatalf("unexpected member value %v", v)
	}
	if _, ok := r.EnumMemberName(objectstest.ColorEnum, 2); ok {
		t.Fatalf("plain int must not match a typed enum value")
	}
	if err := r.RegisterEnum(objects.EnumSpec{Name: objectstest.ColorEnum, Members: []objects.EnumMember{{Name: "X", Value: 1}}}); err == nil {
		t.Fatalf("expected duplicate enum error")
	}
}
