// Package identity provides the per-type monotonic ID source used by the
// object store. IDs start at 1; 0 is reserved as "no object".
package identity

import "math"

// First is the initial counter value of a fresh Allocator.
const First uint32 = 1

// exhausted is the counter value once math.MaxUint32 has been handed out.
const exhausted = uint64(math.MaxUint32) + 1

// Allocator hands out strictly increasing IDs within one type namespace.
// Once math.MaxUint32 has been issued the allocator is exhausted and Next
// returns 0 until Reset. It is not safe for concurrent use.
type Allocator struct {
	next uint64
}

// New returns an allocator whose first Next call yields First.
func New() *Allocator {
	return &Allocator{next: uint64(First)}
}

func (a *Allocator) current() uint64 {
	if a.next == 0 {
		return uint64(First)
	}
	return a.next
}

// Next returns the current counter value and increments it. It returns 0
// when the allocator is exhausted.
func (a *Allocator) Next() uint32 {
	id := a.current()
	if id >= exhausted {
		a.next = exhausted
		return 0
	}
	a.next = id + 1
	return uint32(id)
}

// Peek reports the value the next call to Next would return.
func (a *Allocator) Peek() uint32 {
	id := a.current()
	if id >= exhausted {
		return 0
	}
	return uint32(id)
}

// Exhausted reports whether every ID has been handed out.
func (a *Allocator) Exhausted() bool {
	return a.current() >= exhausted
}

// Reset rewinds the counter. With no argument the counter returns to First.
func (a *Allocator) Reset(to ...uint32) {
	a.next = uint64(First)
	if len(to) > 0 && to[0] > 0 {
		a.next = uint64(to[0])
	}
}

// AdvancePast moves the counter to max(counter, id+1) so an externally
// supplied id never collides with a later Next. Advancing past
// math.MaxUint32 exhausts the allocator.
func (a *Allocator) AdvancePast(id uint32) {
	if want := uint64(id) + 1; want > a.current() {
		a.next = want
	}
}
