package objects

import (
	"fmt"
	"math"
)

// Kind is the declared type tag of a constructor parameter or property. The
// scalar kinds double as the "Type" tag of the wire format.
type Kind string

const (
	KindInt32     Kind = "Int32"
	KindUInt32    Kind = "UInt32"
	KindSingle    Kind = "Single"
	KindString    Kind = "String"
	KindBoolean   Kind = "Boolean"
	KindEnum      Kind = "Enum"
	KindReference Kind = "ObjectReference"
	KindList      Kind = "List"
)

// Scalar reports whether k renders as a bare JSON literal.
func (k Kind) Scalar() bool {
	switch k {
	case KindInt32, KindUInt32, KindSingle, KindString, KindBoolean:
		return true
	}
	return false
}

func (k Kind) valid() bool {
	return k.Scalar() || k == KindEnum || k == KindReference || k == KindList
}

// zeroOf returns the canonical zero value for a scalar kind.
func zeroOf(k Kind) any {
	switch k {
	case KindInt32:
		return int32(0)
	case KindUInt32:
		return uint32(0)
	case KindSingle:
		return float32(0)
	case KindString:
		return ""
	case KindBoolean:
		return false
	case KindReference:
		return Handle{}
	}
	return nil
}

// convertScalar maps v onto the canonical Go type of k: int32, uint32,
// float32, string or bool. Integer families convert when the value fits.
// lenient additionally accepts integral floats for integer kinds and
// integers for Single; template values arrive as float64.
func convertScalar(k Kind, v any, lenient bool) (any, bool) {
	switch k {
	case KindInt32:
		n, ok := asInt64(v, lenient)
		if !ok || n < math.MinInt32 || n > math.MaxInt32 {
			return nil, false
		}
		return int32(n), true
	case KindUInt32:
		n, ok := asInt64(v, lenient)
		if !ok || n < 0 || n > math.MaxUint32 {
			return nil, false
		}
		return uint32(n), true
	case KindSingle:
		switch x := v.(type) {
		case float32:
			return x, true
		case float64:
			return float32(x), true
		}
		if lenient {
			if n, ok := asInt64(v, false); ok {
				return float32(n), true
			}
		}
		return nil, false
	case KindString:
		s, ok := v.(string)
		return s, ok
	case KindBoolean:
		b, ok := v.(bool)
		return b, ok
	}
	return nil, false
}

func asInt64(v any, lenient bool) (int64, bool) {
	switch x := v.(type) {
	case int:
		return int64(x), true
	case int8:
		return int64(x), true
	case int16:
		return int64(x), true
	case int32:
		return int64(x), true
	case int64:
		return x, true
	case uint:
		if uint64(x) > math.MaxInt64 {
			return 0, false
		}
		return int64(x), true
	case uint8:
		return int64(x), true
	case uint16:
		return int64(x), true
	case uint32:
		return int64(x), true
	case uint64:
		if x > math.MaxInt64 {
			return 0, false
		}
		return int64(x), true
	case float64:
		if lenient && x == math.Trunc(x) && x >= math.MinInt64 && x < math.MaxInt64 {
			return int64(x), true
		}
	case float32:
		f := float64(x)
		if lenient && f == math.Trunc(f) {
			return int64(f), true
		}
	}
	return 0, false
}

// convertList converts a homogeneous list into a typed slice of the element
// kind's canonical Go type.
func convertList(elem Kind, v any, lenient bool) (any, bool) {
	items, ok := listItems(v)
	if !ok {
		return nil, false
	}
	switch elem {
	case KindInt32:
		return typedList[int32](elem, items, lenient)
	case KindUInt32:
		return typedList[uint32](elem, items, lenient)
	case KindSingle:
		return typedList[float32](elem, items, lenient)
	case KindString:
		return typedList[string](elem, items, lenient)
	case KindBoolean:
		return typedList[bool](elem, items, lenient)
	}
	return nil, false
}

func typedList[T any](elem Kind, items []any, lenient bool) (any, bool) {
	out := make([]T, 0, len(items))
	for _, item := range items {
		cv, ok := convertScalar(elem, item, lenient)
		if !ok {
			return nil, false
		}
		out = append(out, cv.(T))
	}
	return out, true
}

func listItems(v any) ([]any, bool) {
	switch x := v.(type) {
	case []any:
		return x, true
	case []int32:
		return toAny(x), true
	case []uint32:
		return toAny(x), true
	case []float32:
		return toAny(x), true
	case []float64:
		return toAny(x), true
	case []int:
		return toAny(x), true
	case []string:
		return toAny(x), true
	case []bool:
		return toAny(x), true
	}
	return nil, false
}

func toAny[T any](in []T) []any {
	out := make([]any, len(in))
	for i, v := range in {
		out[i] = v
	}
	return out
}

// describe renders a value for error messages.
func describe(v any) string {
	if v == nil {
		return "<nil>"
	}
	if s, ok := v.(string); ok {
		return fmt.Sprintf("%q", s)
	}
	return fmt.Sprintf("%v", v)
}
