package objects

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNoMatchingConstructor is returned when no registered constructor accepts the supplied arguments.
	ErrNoMatchingConstructor = errors.New("no matching constructor")
	// ErrAmbiguousConstructor is returned when more than one registered constructor accepts the supplied arguments.
	ErrAmbiguousConstructor = errors.New("multiple matching constructors")
	// ErrDuplicateID is returned when an explicit ID is already in use for the type.
	ErrDuplicateID = errors.New("duplicate object id")
	// ErrUnknownType is returned for type names absent from the registry.
	ErrUnknownType = errors.New("unknown object type")
	// ErrUnsupportedValueType is returned for values outside the representable kinds.
	ErrUnsupportedValueType = errors.New("unsupported value type")
	// ErrInvalidID is returned when ID 0 is supplied explicitly.
	ErrInvalidID = errors.New("invalid object id")
	// ErrIDSpaceExhausted is returned by Create once a type's allocator has handed out its last ID.
	ErrIDSpaceExhausted = errors.New("object id space exhausted")
)

// ConstructorError reports why an object of Type could not be instantiated
// from Args. Reason is one of the constructor sentinels; Cause carries the
// constructor's own failure when it rejected otherwise matching arguments.
type ConstructorError struct {
	Type   TypeKey
	Args   []any
	Reason error
	Cause  error
}

func (e *ConstructorError) Error() string {
	args := make([]string, len(e.Args))
	for i, a := range e.Args {
		args[i] = describe(a)
	}
	msg := fmt.Sprintf("instantiation of %s failed", e.Type)
	switch {
	case errors.Is(e.Reason, ErrNoMatchingConstructor):
		msg += " as no matching constructor found"
	case errors.Is(e.Reason, ErrAmbiguousConstructor):
		msg += " as multiple matching constructors found"
	}
	msg += fmt.Sprintf(" for parameters (%s)", strings.Join(args, ", "))
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *ConstructorError) Unwrap() []error {
	var out []error
	if e.Reason != nil {
		out = append(out, e.Reason)
	}
	if e.Cause != nil {
		out = append(out, e.Cause)
	}
	return out
}

// DuplicateIDError is returned by CreateWithID when the identity is taken.
type DuplicateIDError struct {
	Handle Handle
}

func (e *DuplicateIDError) Error() string {
	return fmt.Sprintf("%s id %d already in use", e.Handle.Type(), e.Handle.ID())
}

func (e *DuplicateIDError) Unwrap() error { return ErrDuplicateID }

// TypeError reports a type name the registry does not know.
type TypeError struct {
	Name TypeKey
}

func (e *TypeError) Error() string {
	return fmt.Sprintf("object type %q is not registered", string(e.Name))
}

func (e *TypeError) Unwrap() error { return ErrUnknownType }

// ValueError reports a value that cannot be represented as the declared kind
// of a property or parameter.
type ValueError struct {
	Type     TypeKey
	Property string
	Kind     Kind
	Value    any
}

func (e *ValueError) Error() string {
	return fmt.Sprintf("%s.%s: value %s (%T) is not a valid %s", e.Type, e.Property, describe(e.Value), e.Value, e.Kind)
}

func (e *ValueError) Unwrap() error { return ErrUnsupportedValueType }
