// Package events dispatches named events to handlers. Handlers may be owned
// by an object reference; once the owner stops being a valid handler, its
// handlers are skipped and then dropped.
package events

import (
	"reflect"

	"objectcore/pkg/objects"
)

// Owner is the validity contract of a handler owner. objects.Ref satisfies it.
type Owner interface {
	IsValidHandler() bool
}

// Handler receives the owner it was registered with (nil for free handlers)
// and the event arguments.
type Handler func(owner Owner, args ...any)

type registration struct {
	key   string
	owner Owner
	fn    Handler
}

func (r registration) same(key string, owner Owner) bool {
	if r.key != key {
		return false
	}
	if r.owner == nil || owner == nil {
		return r.owner == nil && owner == nil
	}
	if !reflect.TypeOf(owner).Comparable() || !reflect.TypeOf(r.owner).Comparable() {
		return false
	}
	return r.owner == owner
}

// Dispatcher holds handlers per event name. It is not safe for concurrent use.
type Dispatcher struct {
	handlers map[string][]registration
	logger   objects.Logger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger installs a logger.
func WithLogger(l objects.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// NewDispatcher returns an empty dispatcher.
func NewDispatcher(opts ...Option) *Dispatcher {
	d := &Dispatcher{handlers: make(map[string][]registration), logger: nopLogger{}}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// AddHandler registers fn for event under key. A second registration with
// the same event, key and owner is ignored and reported as false.
func (d *Dispatcher) AddHandler(event, key string, owner Owner, fn Handler) bool {
	for _, r := range d.handlers[event] {
		if r.same(key, owner) {
			return false
		}
	}
	d.handlers[event] = append(d.handlers[event], registration{key: key, owner: owner, fn: fn})
	return true
}

// OnObject registers a handler owned by ref that receives the resolved
// object asserted to T.
func OnObject[T objects.Object](d *Dispatcher, event, key string, ref objects.Ref, fn func(obj T, args ...any)) bool {
	return d.AddHandler(event, key, ref, func(_ Owner, args ...any) {
		obj, ok := ref.Resolve()
		if !ok {
			return
		}
		typed, ok := obj.(T)
		if !ok {
			return
		}
		fn(typed, args...)
	})
}

// RemoveHandler unregisters the handler with the given key and owner.
func (d *Dispatcher) RemoveHandler(event, key string, owner Owner) bool {
	regs := d.handlers[event]
	for i, r := range regs {
		if r.same(key, owner) {
			d.handlers[event] = append(regs[:i:i], regs[i+1:]...)
			return true
		}
	}
	return false
}

// Raise calls every handler of event whose owner is valid, in registration
// order, then drops handlers whose owner has become invalid. Handlers added
// while raising run from the next Raise on. It returns the number of calls.
func (d *Dispatcher) Raise(event string, args ...any) int {
	regs := d.handlers[event]
	if len(regs) == 0 {
		return 0
	}
	snapshot := append([]registration(nil), regs...)
	calls := 0
	for _, r := range snapshot {
		if r.owner != nil && !r.owner.IsValidHandler() {
			continue
		}
		r.fn(r.owner, args...)
		calls++
	}
	kept := d.handlers[event][:0]
	dropped := 0
	for _, r := range d.handlers[event] {
		if r.owner != nil && !r.owner.IsValidHandler() {
			dropped++
			continue
		}
		kept = append(kept, r)
	}
	d.handlers[event] = kept
	if dropped > 0 {
		d.logger.Debug("event handlers dropped", "event", event, "count", dropped)
	}
	return calls
}

// Len returns the number of handlers registered for event.
func (d *Dispatcher) Len(event string) int {
	return len(d.handlers[event])
}

// Clear removes every handler.
func (d *Dispatcher) Clear() {
	clear(d.handlers)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
