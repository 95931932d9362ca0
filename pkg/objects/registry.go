package objects

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
)

// IDProperty is the implicit property every object serializes at
// constructor order 0.
const IDProperty = "ID"

// NoOrder is the Slot of a property set after construction.
const NoOrder = 0

// Param declares one constructor parameter after the implicit ID slot.
type Param struct {
	Name string
	Kind Kind
	// Elem is the element kind of a KindList parameter.
	Elem Kind
	// Enum names the registered enum of a KindEnum parameter.
	Enum string
	// Ref restricts a KindReference parameter to a type and its subtypes.
	// Empty accepts any type.
	Ref        TypeKey
	Default    any
	HasDefault bool
}

// WithDefault returns a copy of p that may be omitted by callers.
func (p Param) WithDefault(v any) Param {
	p.Default = v
	p.HasDefault = true
	return p
}

func (p Param) value() valueSpec {
	return valueSpec{kind: p.Kind, elem: p.Elem, enum: p.Enum, ref: p.Ref}
}

// Constructor is one way to build a type. New receives the new identity and
// exactly len(Params) arguments, converted to the canonical Go type of each
// parameter kind and padded with defaults.
type Constructor struct {
	Params []Param
	New    func(self Handle, args []any) (Object, error)
}

// Property declares a serializable or template-assignable property.
type Property struct {
	Name string
	Kind Kind
	Elem Kind
	Enum string
	Ref  TypeKey
	// Slot is the 1-based constructor argument position the property feeds
	// when an object is rebuilt. Zero marks a post-construction property.
	Slot int
	Get  func(Object) any
	Set  func(Object, any) error

	id bool
}

// IsID reports whether p is the implicit identity property.
func (p Property) IsID() bool { return p.id }

// ConstructorOrder returns the wire constructor order of p, or false for
// post-construction properties.
func (p Property) ConstructorOrder() (int, bool) {
	if p.id {
		return 0, true
	}
	if p.Slot > 0 {
		return p.Slot, true
	}
	return 0, false
}

func (p Property) value() valueSpec {
	return valueSpec{kind: p.Kind, elem: p.Elem, enum: p.Enum, ref: p.Ref}
}

// TypeSpec describes a registrable type. Parents must be registered first;
// a subtype inherits its parents' properties and may override them by name.
type TypeSpec struct {
	Name         TypeKey
	Parents      []TypeKey
	Abstract     bool
	Constructors []Constructor
	Properties   []Property
}

// EnumMember binds a wire member name to a Go value.
type EnumMember struct {
	Name  string
	Value any
}

// EnumSpec describes an enum table. The first member is the zero value used
// when a nil argument is supplied.
type EnumSpec struct {
	Name    string
	Members []EnumMember
}

// EnumOf builds an EnumSpec whose member names come from String.
func EnumOf[E interface {
	comparable
	fmt.Stringer
}](name string, values ...E) EnumSpec {
	spec := EnumSpec{Name: name, Members: make([]EnumMember, 0, len(values))}
	for _, v := range values {
		spec.Members = append(spec.Members, EnumMember{Name: v.String(), Value: v})
	}
	return spec
}

type valueSpec struct {
	kind Kind
	elem Kind
	enum string
	ref  TypeKey
}

type typeInfo struct {
	spec      TypeSpec
	props     []Property
	byName    map[string]Property
	ancestors map[TypeKey]struct{}
}

type enumInfo struct {
	name    string
	byName  map[string]any
	byValue map[any]string
	zero    any
}

// Registry maps type names to constructors and property tables. Populate it
// once at startup; it is read-only afterwards.
type Registry struct {
	types   map[TypeKey]*typeInfo
	order   []TypeKey
	enums   map[string]*enumInfo
	goTypes map[reflect.Type]TypeKey
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		types:   make(map[TypeKey]*typeInfo),
		enums:   make(map[string]*enumInfo),
		goTypes: make(map[reflect.Type]TypeKey),
	}
}

// RegisterEnum adds an enum table.
func (r *Registry) RegisterEnum(spec EnumSpec) error {
	if spec.Name == "" {
		return errors.New("enum name required")
	}
	if _, exists := r.enums[spec.Name]; exists {
		return fmt.Errorf("enum %s already registered", spec.Name)
	}
	if len(spec.Members) == 0 {
		return fmt.Errorf("enum %s has no members", spec.Name)
	}
	info := &enumInfo{
		name:    spec.Name,
		byName:  make(map[string]any, len(spec.Members)),
		byValue: make(map[any]string, len(spec.Members)),
		zero:    spec.Members[0].Value,
	}
	for _, m := range spec.Members {
		if m.Name == "" || m.Value == nil || !reflect.TypeOf(m.Value).Comparable() {
			return fmt.Errorf("enum %s: invalid member %q", spec.Name, m.Name)
		}
		if _, dup := info.byName[m.Name]; dup {
			return fmt.Errorf("enum %s: duplicate member %s", spec.Name, m.Name)
		}
		info.byName[m.Name] = m.Value
		info.byValue[m.Value] = m.Name
	}
	r.enums[spec.Name] = info
	return nil
}

// Register adds a type descriptor.
func (r *Registry) Register(spec TypeSpec) error {
	_, err := r.register(spec)
	return err
}

// MustRegister is Register for package-level setup; it panics on error.
func (r *Registry) MustRegister(spec TypeSpec) {
	if err := r.Register(spec); err != nil {
		panic(err)
	}
}

// RegisterType registers spec and binds it to the Go type T so the generic
// helpers (KeyOf, CreateOf, QueryOf) can find it.
func RegisterType[T any](r *Registry, spec TypeSpec) error {
	rt := reflect.TypeFor[T]()
	if existing, ok := r.goTypes[rt]; ok {
		return fmt.Errorf("go type %s already bound to %s", rt, existing)
	}
	if _, err := r.register(spec); err != nil {
		return err
	}
	r.goTypes[rt] = spec.Name
	return nil
}

// KeyOf returns the type key bound to T by RegisterType.
func KeyOf[T any](r *Registry) (TypeKey, bool) {
	key, ok := r.goTypes[reflect.TypeFor[T]()]
	return key, ok
}

//nolint:gocyclo // registration validates every descriptor field in one pass.
func (r *Registry) register(spec TypeSpec) (*typeInfo, error) {
	if spec.Name == "" {
		return nil, errors.New("type name required")
	}
	if _, exists := r.types[spec.Name]; exists {
		return nil, fmt.Errorf("type %s already registered", spec.Name)
	}
	info := &typeInfo{
		spec:      spec,
		byName:    make(map[string]Property),
		ancestors: make(map[TypeKey]struct{}),
	}
	for _, parent := range spec.Parents {
		pinfo, ok := r.types[parent]
		if !ok {
			return nil, fmt.Errorf("type %s: parent %w", spec.Name, &TypeError{Name: parent})
		}
		info.ancestors[parent] = struct{}{}
		for a := range pinfo.ancestors {
			info.ancestors[a] = struct{}{}
		}
		for _, p := range pinfo.props {
			if p.id {
				continue
			}
			if _, seen := info.byName[p.Name]; !seen {
				info.byName[p.Name] = p
			}
		}
	}
	own := make(map[string]struct{}, len(spec.Properties))
	for _, p := range spec.Properties {
		if p.Name == "" || p.Name == IDProperty {
			return nil, fmt.Errorf("type %s: invalid property name %q", spec.Name, p.Name)
		}
		if _, dup := own[p.Name]; dup {
			return nil, fmt.Errorf("type %s: duplicate property %s", spec.Name, p.Name)
		}
		own[p.Name] = struct{}{}
		if err := r.checkValueSpec(p.value(), spec.Name); err != nil {
			return nil, fmt.Errorf("type %s property %s: %w", spec.Name, p.Name, err)
		}
		if p.Slot < 0 {
			return nil, fmt.Errorf("type %s property %s: negative slot", spec.Name, p.Name)
		}
		if p.Kind != KindList && p.Get == nil {
			return nil, fmt.Errorf("type %s property %s: getter required", spec.Name, p.Name)
		}
		info.byName[p.Name] = p
	}
	slots := make(map[int]string)
	for _, p := range info.byName {
		if p.Slot == 0 {
			continue
		}
		if other, taken := slots[p.Slot]; taken {
			return nil, fmt.Errorf("type %s: properties %s and %s share constructor slot %d", spec.Name, other, p.Name, p.Slot)
		}
		slots[p.Slot] = p.Name
	}
	if !spec.Abstract && len(spec.Constructors) == 0 {
		return nil, fmt.Errorf("type %s: concrete type needs a constructor", spec.Name)
	}
	for i, c := range spec.Constructors {
		if c.New == nil {
			return nil, fmt.Errorf("type %s constructor %d: New is nil", spec.Name, i)
		}
		for _, param := range c.Params {
			if err := r.checkValueSpec(param.value(), spec.Name); err != nil {
				return nil, fmt.Errorf("type %s constructor %d param %s: %w", spec.Name, i, param.Name, err)
			}
			if param.HasDefault {
				if _, ok := r.convert(param.value(), param.Default, false); !ok {
					return nil, fmt.Errorf("type %s constructor %d param %s: default %s is not a %s", spec.Name, i, param.Name, describe(param.Default), param.Kind)
				}
			}
		}
	}

	idProp := Property{
		Name: IDProperty,
		Kind: KindUInt32,
		Get:  func(o Object) any { return o.Handle().ID() },
		id:   true,
	}
	info.byName[IDProperty] = idProp
	info.props = make([]Property, 0, len(info.byName))
	for _, p := range info.byName {
		info.props = append(info.props, p)
	}
	sort.Slice(info.props, func(i, j int) bool { return info.props[i].Name < info.props[j].Name })

	r.types[spec.Name] = info
	r.order = append(r.order, spec.Name)
	return info, nil
}

// checkValueSpec validates a declared value shape. self may be referenced
// before its own registration completes.
func (r *Registry) checkValueSpec(vs valueSpec, self TypeKey) error {
	if !vs.kind.valid() {
		return fmt.Errorf("%w: kind %q", ErrUnsupportedValueType, vs.kind)
	}
	switch vs.kind {
	case KindEnum:
		if _, ok := r.enums[vs.enum]; !ok {
			return fmt.Errorf("enum %q not registered", vs.enum)
		}
	case KindList:
		if !vs.elem.Scalar() {
			return fmt.Errorf("%w: list element kind %q", ErrUnsupportedValueType, vs.elem)
		}
	case KindReference:
		if vs.ref != "" && vs.ref != self {
			if _, ok := r.types[vs.ref]; !ok {
				return &TypeError{Name: vs.ref}
			}
		}
	}
	return nil
}

func (r *Registry) lookup(t TypeKey) (*typeInfo, bool) {
	if r == nil {
		return nil, false
	}
	info, ok := r.types[t]
	return info, ok
}

// Known reports whether t is registered.
func (r *Registry) Known(t TypeKey) bool {
	_, ok := r.lookup(t)
	return ok
}

// Types returns registered type keys in registration order.
func (r *Registry) Types() []TypeKey {
	return append([]TypeKey(nil), r.order...)
}

// Abstract reports whether t is registered as abstract.
func (r *Registry) Abstract(t TypeKey) bool {
	info, ok := r.lookup(t)
	return ok && info.spec.Abstract
}

// IsA reports whether t equals base or is a declared (transitive) subtype.
func (r *Registry) IsA(t, base TypeKey) bool {
	if t == base {
		return true
	}
	info, ok := r.lookup(t)
	if !ok {
		return false
	}
	_, ok = info.ancestors[base]
	return ok
}

// Properties returns t's properties, including the implicit ID, sorted by name.
func (r *Registry) Properties(t TypeKey) ([]Property, bool) {
	info, ok := r.lookup(t)
	if !ok {
		return nil, false
	}
	return append([]Property(nil), info.props...), true
}

// Property returns a single property of t.
func (r *Registry) Property(t TypeKey, name string) (Property, bool) {
	info, ok := r.lookup(t)
	if !ok {
		return Property{}, false
	}
	p, ok := info.byName[name]
	return p, ok
}

// EnumMemberName returns the member name of v in enum.
func (r *Registry) EnumMemberName(enum string, v any) (string, bool) {
	info, ok := r.enums[enum]
	if !ok || v == nil || !reflect.TypeOf(v).Comparable() {
		return "", false
	}
	name, ok := info.byValue[v]
	return name, ok
}

// EnumValue returns the Go value of member in enum.
func (r *Registry) EnumValue(enum, member string) (any, bool) {
	info, ok := r.enums[enum]
	if !ok {
		return nil, false
	}
	v, ok := info.byName[member]
	return v, ok
}

// convert maps v onto the canonical Go type of vs. nil converts to the
// kind's zero value.
func (r *Registry) convert(vs valueSpec, v any, lenient bool) (any, bool) {
	if v == nil {
		switch vs.kind {
		case KindEnum:
			info, ok := r.enums[vs.enum]
			if !ok {
				return nil, false
			}
			return info.zero, true
		case KindList:
			return nil, true
		}
		return zeroOf(vs.kind), true
	}
	switch vs.kind {
	case KindInt32, KindUInt32, KindSingle, KindString, KindBoolean:
		return convertScalar(vs.kind, v, lenient)
	case KindEnum:
		if _, ok := r.EnumMemberName(vs.enum, v); ok {
			return v, true
		}
		if s, isString := v.(string); lenient && isString {
			return r.EnumValue(vs.enum, s)
		}
		return nil, false
	case KindReference:
		var h Handle
		switch x := v.(type) {
		case Handle:
			h = x
		case Ref:
			h = x.Handle()
		default:
			return nil, false
		}
		if h.IsZero() {
			return Handle{}, true
		}
		if vs.ref != "" && !r.IsA(h.Type(), vs.ref) {
			return nil, false
		}
		return h, true
	case KindList:
		return convertList(vs.elem, v, lenient)
	}
	return nil, false
}

// resolveConstructor picks the single constructor of info accepting args and
// returns the bound, default-padded argument list.
func (r *Registry) resolveConstructor(info *typeInfo, args []any) (Constructor, []any, error) {
	if info.spec.Abstract {
		return Constructor{}, nil, &ConstructorError{
			Type:   info.spec.Name,
			Args:   args,
			Reason: ErrNoMatchingConstructor,
			Cause:  errors.New("type is abstract"),
		}
	}
	var (
		match   Constructor
		bound   []any
		matched int
	)
	for _, c := range info.spec.Constructors {
		call, ok := r.bindArgs(c.Params, args)
		if !ok {
			continue
		}
		matched++
		match, bound = c, call
	}
	switch matched {
	case 1:
		return match, bound, nil
	case 0:
		return Constructor{}, nil, &ConstructorError{Type: info.spec.Name, Args: args, Reason: ErrNoMatchingConstructor}
	default:
		return Constructor{}, nil, &ConstructorError{Type: info.spec.Name, Args: args, Reason: ErrAmbiguousConstructor}
	}
}

func (r *Registry) bindArgs(params []Param, args []any) ([]any, bool) {
	if len(args) > len(params) {
		return nil, false
	}
	out := make([]any, len(params))
	for i, p := range params {
		src := p.Default
		switch {
		case i < len(args):
			src = args[i]
		case !p.HasDefault:
			return nil, false
		}
		v, ok := r.convert(p.value(), src, false)
		if !ok {
			return nil, false
		}
		out[i] = v
	}
	return out, true
}

// SetProperty assigns one property with strict conversion. Unknown names,
// the ID and properties without a setter are ignored.
func (r *Registry) SetProperty(obj Object, name string, v any) error {
	return r.assign(obj, name, v, false)
}

// SetProperties assigns a name→value map to obj's settable properties, the
// way template data is applied. Numbers may arrive as float64 and enum
// members by name. Unknown names are ignored.
func (r *Registry) SetProperties(obj Object, values map[string]any) error {
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := r.assign(obj, name, values[name], true); err != nil {
			return err
		}
	}
	return nil
}

func (r *Registry) assign(obj Object, name string, v any, lenient bool) error {
	t := obj.Handle().Type()
	info, ok := r.lookup(t)
	if !ok {
		return &TypeError{Name: t}
	}
	p, ok := info.byName[name]
	if !ok || p.id || p.Set == nil {
		return nil
	}
	cv, ok := r.convert(p.value(), v, lenient)
	if !ok {
		return &ValueError{Type: t, Property: name, Kind: p.Kind, Value: v}
	}
	if err := p.Set(obj, cv); err != nil {
		return fmt.Errorf("set %s.%s: %w", t, name, err)
	}
	return nil
}

// PropertyMap reads every readable property of obj into a plain map: enums
// as member names, references as {"ObjectType","ID"} maps (nil when empty).
func (r *Registry) PropertyMap(obj Object) map[string]any {
	info, ok := r.lookup(obj.Handle().Type())
	if !ok {
		return map[string]any{IDProperty: obj.Handle().ID()}
	}
	out := make(map[string]any, len(info.props))
	for _, p := range info.props {
		if p.Get == nil {
			continue
		}
		v := p.Get(obj)
		switch p.Kind {
		case KindEnum:
			if name, ok := r.EnumMemberName(p.Enum, v); ok {
				v = name
			}
		case KindReference:
			var h Handle
			switch x := v.(type) {
			case Handle:
				h = x
			case Ref:
				h = x.Handle()
			}
			if h.IsZero() {
				v = nil
			} else {
				v = map[string]any{"ObjectType": string(h.Type()), "ID": h.ID()}
			}
		}
		out[p.Name] = v
	}
	return out
}

// Normalize converts a getter result of p to the canonical Go type of its
// kind with strict conversion.
func (r *Registry) Normalize(t TypeKey, p Property, v any) (any, error) {
	cv, ok := r.convert(p.value(), v, false)
	if !ok {
		return nil, &ValueError{Type: t, Property: p.Name, Kind: p.Kind, Value: v}
	}
	return cv, nil
}
