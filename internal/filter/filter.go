// Package filter compiles predicate expressions over an object's properties
// into store query predicates. Two languages are supported: expr
// (github.com/expr-lang/expr) and CEL (github.com/google/cel-go).
//
// Every readable property of the queried type is a variable named after the
// property, plus ObjectType holding the concrete type name. Enums read as
// member names, references as {"ObjectType","ID"} maps or null, integers as
// int and Single values as double.
package filter

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"objectcore/pkg/objects"
)

// Language selects the expression dialect.
type Language string

const (
	LanguageExpr Language = "expr"
	LanguageCEL  Language = "cel"
)

// TypeVariable is the variable holding the object's concrete type name.
const TypeVariable = "ObjectType"

var (
	// ErrCompile is returned for expressions that do not compile against the
	// queried type.
	ErrCompile = errors.New("filter compile failed")
	// ErrEvaluate is returned when a compiled expression fails at runtime or
	// yields a non-boolean.
	ErrEvaluate = errors.New("filter evaluation failed")
)

type program interface {
	eval(vars map[string]any) (bool, error)
}

// Filter is a compiled expression bound to one object type.
type Filter struct {
	registry *objects.Registry
	typ      objects.TypeKey
	lang     Language
	source   string
	prog     program
}

// Compile parses source in lang against the properties of t.
func Compile(reg *objects.Registry, t objects.TypeKey, lang Language, source string) (*Filter, error) {
	if strings.TrimSpace(source) == "" {
		return nil, fmt.Errorf("%w: expression must not be empty", ErrCompile)
	}
	props, ok := reg.Properties(t)
	if !ok {
		return nil, &objects.TypeError{Name: t}
	}
	vars := make([]variable, 0, len(props)+1)
	vars = append(vars, variable{name: TypeVariable, kind: objects.KindString})
	for _, p := range props {
		if p.Get == nil || p.Name == TypeVariable {
			continue
		}
		vars = append(vars, variable{name: p.Name, kind: p.Kind, elem: p.Elem})
	}

	var (
		prog program
		err  error
	)
	switch lang {
	case LanguageExpr:
		prog, err = compileExpr(source, vars)
	case LanguageCEL:
		prog, err = compileCEL(source, vars)
	default:
		return nil, fmt.Errorf("%w: unknown language %q", ErrCompile, lang)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s %q: %v", ErrCompile, lang, source, err)
	}
	return &Filter{registry: reg, typ: t, lang: lang, source: source, prog: prog}, nil
}

// MustCompile is Compile that panics on error.
func MustCompile(reg *objects.Registry, t objects.TypeKey, lang Language, source string) *Filter {
	f, err := Compile(reg, t, lang, source)
	if err != nil {
		panic(err)
	}
	return f
}

// Type returns the type the filter was compiled for.
func (f *Filter) Type() objects.TypeKey { return f.typ }

// Language returns the filter's dialect.
func (f *Filter) Language() Language { return f.lang }

// String returns the source expression.
func (f *Filter) String() string { return f.source }

// Match evaluates the filter against obj.
func (f *Filter) Match(obj objects.Object) (bool, error) {
	vars := Variables(f.registry, obj)
	ok, err := f.prog.eval(vars)
	if err != nil {
		return false, fmt.Errorf("%w: %q on %s: %v", ErrEvaluate, f.source, obj.Handle(), err)
	}
	return ok, nil
}

// Predicate adapts f for Store.Query. Objects that fail evaluation do not
// match; onError, when given, receives the failure.
func (f *Filter) Predicate(onError ...func(error)) objects.Predicate {
	return func(obj objects.Object) bool {
		ok, err := f.Match(obj)
		if err != nil {
			for _, fn := range onError {
				fn(err)
			}
			return false
		}
		return ok
	}
}

// Query runs f over the objects of its type in store, subtypes included.
func (f *Filter) Query(store *objects.Store) ([]objects.Handle, error) {
	var firstErr error
	var out []objects.Handle
	for h := range store.Query(f.typ, f.Predicate(func(err error) {
		if firstErr == nil {
			firstErr = err
		}
	})) {
		out = append(out, h)
	}
	return out, firstErr
}

// Variables returns the evaluation variables of obj.
func Variables(reg *objects.Registry, obj objects.Object) map[string]any {
	props := reg.PropertyMap(obj)
	vars := make(map[string]any, len(props)+1)
	for name, v := range props {
		vars[name] = normalize(v)
	}
	vars[TypeVariable] = string(obj.Handle().Type())
	return vars
}

type variable struct {
	name string
	kind objects.Kind
	elem objects.Kind
}

func normalize(v any) any {
	switch x := v.(type) {
	case nil, string, bool, int64, float64:
		return x
	case int32:
		return int64(x)
	case uint32:
		return int64(x)
	case int:
		return int64(x)
	case float32:
		return float64(x)
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, item := range x {
			out[k] = normalize(item)
		}
		return out
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice {
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = normalize(rv.Index(i).Interface())
		}
		return out
	}
	return v
}
