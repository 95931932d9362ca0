// Package objectstest provides registered fixture types for tests of
// packages built on objects.Store.
package objectstest

import (
	"errors"

	"objectcore/pkg/objects"
)

// Fixture type keys.
const (
	DummyType  objects.TypeKey = "Dummy"
	ThingType  objects.TypeKey = "Thing"
	ShapeType  objects.TypeKey = "Shape"
	CircleType objects.TypeKey = "Circle"
	SquareType objects.TypeKey = "Square"
	UnitType   objects.TypeKey = "Unit"
	PairType   objects.TypeKey = "Pair"
	BrokenType objects.TypeKey = "Broken"
)

// ColorEnum is the registered name of Color.
const ColorEnum = "Color"

// Color is a fixture enum.
type Color int

const (
	Red Color = iota
	Green
	Blue
)

func (c Color) String() string {
	switch c {
	case Red:
		return "Red"
	case Green:
		return "Green"
	case Blue:
		return "Blue"
	}
	return "Unknown"
}

// Dummy has a single argument-less constructor and counts its hooks.
type Dummy struct {
	objects.Base
	CreatedCalls int
	LoadedCalls  int
}

func (d *Dummy) OnCreated() { d.CreatedCalls++ }
func (d *Dummy) OnLoaded()  { d.LoadedCalls++ }

// Thing holds a settable reference to another Thing.
type Thing struct {
	objects.Base
	Other       objects.Handle
	LoadedCalls int
}

func (t *Thing) OnLoaded() { t.LoadedCalls++ }

// Shape is the abstract base of Circle and Square.
type Shape interface {
	objects.Object
	Area() float32
}

// Circle is a Shape subtype.
type Circle struct {
	objects.Base
	Radius float32
}

func (c *Circle) Area() float32 { return 3 * c.Radius * c.Radius }

// Square is a Shape subtype.
type Square struct {
	objects.Base
	Side float32
}

func (s *Square) Area() float32 { return s.Side * s.Side }

// Unit exercises every serializable kind.
type Unit struct {
	objects.Base
	Name   string
	Level  int32
	Rank   uint32
	Speed  float32
	Active bool
	Code   string
	Color  Color
	Target objects.Handle
	Tags   []string

	TemplateName string
}

func (u *Unit) SetupFromTemplate(name string, _ map[string]any) { u.TemplateName = name }

// Pair has two constructors that both accept zero arguments.
type Pair struct {
	objects.Base
	N int32
	S string
}

// Broken fails construction when asked to.
type Broken struct {
	objects.Base
}

// ErrBroken is returned by the Broken constructor for fail=true.
var ErrBroken = errors.New("broken on purpose")

func setter[T objects.Object, V any](fn func(T, V)) func(objects.Object, any) error {
	return func(o objects.Object, v any) error {
		fn(o.(T), v.(V))
		return nil
	}
}

func getter[T objects.Object](fn func(T) any) func(objects.Object) any {
	return func(o objects.Object) any { return fn(o.(T)) }
}

// NewRegistry returns a registry with every fixture type registered.
//
//nolint:funlen // fixture table.
func NewRegistry() *objects.Registry {
	r := objects.NewRegistry()
	if err := r.RegisterEnum(objects.EnumOf(ColorEnum, Red, Green, Blue)); err != nil {
		panic(err)
	}
	must(objects.RegisterType[*Dummy](r, objects.TypeSpec{
		Name: DummyType,
		Constructors: []objects.Constructor{{
			New: func(self objects.Handle, _ []any) (objects.Object, error) {
				return &Dummy{Base: objects.NewBase(self)}, nil
			},
		}},
	}))
	must(objects.RegisterType[*Thing](r, objects.TypeSpec{
		Name: ThingType,
		Constructors: []objects.Constructor{{
			New: func(self objects.Handle, _ []any) (objects.Object, error) {
				return &Thing{Base: objects.NewBase(self)}, nil
			},
		}},
		Properties: []objects.Property{{
			Name: "Other",
			Kind: objects.KindReference,
			Ref:  ThingType,
			Get:  getter(func(t *Thing) any { return t.Other }),
			Set:  setter(func(t *Thing, h objects.Handle) { t.Other = h }),
		}},
	}))
	must(r.Register(objects.TypeSpec{Name: ShapeType, Abstract: true}))
	must(objects.RegisterType[*Circle](r, objects.TypeSpec{
		Name:    CircleType,
		Parents: []objects.TypeKey{ShapeType},
		Constructors: []objects.Constructor{{
			Params: []objects.Param{objects.Param{Name: "radius", Kind: objects.KindSingle}.WithDefault(float32(1))},
			New: func(self objects.Handle, args []any) (objects.Object, error) {
				return &Circle{Base: objects.NewBase(self), Radius: args[0].(float32)}, nil
			},
		}},
		Properties: []objects.Property{{
			Name: "Radius",
			Kind: objects.KindSingle,
			Slot: 1,
			Get:  getter(func(c *Circle) any { return c.Radius }),
		}},
	}))
	must(objects.RegisterType[*Square](r, objects.TypeSpec{
		Name:    SquareType,
		Parents: []objects.TypeKey{ShapeType},
		Constructors: []objects.Constructor{{
			Params: []objects.Param{{Name: "side", Kind: objects.KindSingle}},
			New: func(self objects.Handle, args []any) (objects.Object, error) {
				return &Square{Base: objects.NewBase(self), Side: args[0].(float32)}, nil
			},
		}},
		Properties: []objects.Property{{
			Name: "Side",
			Kind: objects.KindSingle,
			Slot: 1,
			Get:  getter(func(s *Square) any { return s.Side }),
		}},
	}))
	must(objects.RegisterType[*Unit](r, unitSpec()))
	must(objects.RegisterType[*Pair](r, objects.TypeSpec{
		Name: PairType,
		Constructors: []objects.Constructor{
			{
				Params: []objects.Param{objects.Param{Name: "n", Kind: objects.KindInt32}.WithDefault(int32(0))},
				New: func(self objects.Handle, args []any) (objects.Object, error) {
					return &Pair{Base: objects.NewBase(self), N: args[0].(int32)}, nil
				},
			},
			{
				Params: []objects.Param{objects.Param{Name: "s", Kind: objects.KindString}.WithDefault("")},
				New: func(self objects.Handle, args []any) (objects.Object, error) {
					return &Pair{Base: objects.NewBase(self), S: args[0].(string)}, nil
				},
			},
		},
	}))
	must(objects.RegisterType[*Broken](r, objects.TypeSpec{
		Name: BrokenType,
		Constructors: []objects.Constructor{{
			Params: []objects.Param{objects.Param{Name: "fail", Kind: objects.KindBoolean}.WithDefault(false)},
			New: func(self objects.Handle, args []any) (objects.Object, error) {
				if args[0].(bool) {
					return nil, ErrBroken
				}
				return &Broken{Base: objects.NewBase(self)}, nil
			},
		}},
	}))
	return r
}

func unitSpec() objects.TypeSpec {
	return objects.TypeSpec{
		Name: UnitType,
		Constructors: []objects.Constructor{{
			Params: []objects.Param{
				{Name: "name", Kind: objects.KindString},
				objects.Param{Name: "level", Kind: objects.KindInt32}.WithDefault(int32(1)),
			},
			New: func(self objects.Handle, args []any) (objects.Object, error) {
				return &Unit{Base: objects.NewBase(self), Name: args[0].(string), Level: args[1].(int32)}, nil
			},
		}},
		Properties: []objects.Property{
			{Name: "Name", Kind: objects.KindString, Slot: 1, Get: getter(func(u *Unit) any { return u.Name })},
			{Name: "Level", Kind: objects.KindInt32, Slot: 2, Get: getter(func(u *Unit) any { return u.Level })},
			{
				Name: "Rank", Kind: objects.KindUInt32,
				Get: getter(func(u *Unit) any { return u.Rank }),
				Set: setter(func(u *Unit, v uint32) { u.Rank = v }),
			},
			{
				Name: "Speed", Kind: objects.KindSingle,
				Get: getter(func(u *Unit) any { return u.Speed }),
				Set: setter(func(u *Unit, v float32) { u.Speed = v }),
			},
			{
				Name: "Active", Kind: objects.KindBoolean,
				Get: getter(func(u *Unit) any { return u.Active }),
				Set: setter(func(u *Unit, v bool) { u.Active = v }),
			},
			{
				Name: "Code", Kind: objects.KindString,
				Get: getter(func(u *Unit) any { return u.Code }),
				Set: setter(func(u *Unit, v string) { u.Code = v }),
			},
			{
				Name: "Color", Kind: objects.KindEnum, Enum: ColorEnum,
				Get: getter(func(u *Unit) any { return u.Color }),
				Set: setter(func(u *Unit, v Color) { u.Color = v }),
			},
			{
				Name: "Target", Kind: objects.KindReference, Ref: ThingType,
				Get: getter(func(u *Unit) any { return u.Target }),
				Set: setter(func(u *Unit, v objects.Handle) { u.Target = v }),
			},
			{
				Name: "Tags", Kind: objects.KindList, Elem: objects.KindString,
				Set: func(o objects.Object, v any) error {
					tags, _ := v.([]string)
					o.(*Unit).Tags = tags
					return nil
				},
			},
		},
	}
}

// NewStore returns a store over NewRegistry.
func NewStore(opts ...objects.Option) *objects.Store {
	return objects.NewStore(NewRegistry(), opts...)
}

func must(err error) {
	if err != nil {
		panic(err)
	}
}
