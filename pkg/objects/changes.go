package objects

import "sort"

// ChangeTracker records which objects were added and removed since the last
// Clear. Adding then removing the same object within one epoch cancels out.
type ChangeTracker struct {
	added   map[TypeKey]map[Handle]uint64
	removed map[TypeKey]map[Handle]uint64
	seq     uint64
}

func newChangeTracker() *ChangeTracker {
	return &ChangeTracker{
		added:   make(map[TypeKey]map[Handle]uint64),
		removed: make(map[TypeKey]map[Handle]uint64),
	}
}

func (c *ChangeTracker) recordAdded(h Handle) {
	c.seq++
	put(c.added, h, c.seq)
}

func (c *ChangeTracker) recordRemoved(h Handle) {
	if drop(c.added, h) {
		return
	}
	c.seq++
	put(c.removed, h, c.seq)
}

// HasChanges reports whether any addition or removal is pending.
func (c *ChangeTracker) HasChanges() bool {
	return len(c.added) > 0 || len(c.removed) > 0
}

// Added returns pending additions in record order.
func (c *ChangeTracker) Added() []Handle { return flatten(c.added, "") }

// Removed returns pending removals in record order.
func (c *ChangeTracker) Removed() []Handle { return flatten(c.removed, "") }

// AddedOf returns pending additions of exactly type t.
func (c *ChangeTracker) AddedOf(t TypeKey) []Handle { return flatten(c.added, t) }

// RemovedOf returns pending removals of exactly type t.
func (c *ChangeTracker) RemovedOf(t TypeKey) []Handle { return flatten(c.removed, t) }

// Clear starts a new epoch.
func (c *ChangeTracker) Clear() {
	clear(c.added)
	clear(c.removed)
}

// ClearObject forgets any pending change of h.
func (c *ChangeTracker) ClearObject(h Handle) {
	drop(c.added, h)
	drop(c.removed, h)
}

func put(set map[TypeKey]map[Handle]uint64, h Handle, seq uint64) {
	part, ok := set[h.typ]
	if !ok {
		part = make(map[Handle]uint64)
		set[h.typ] = part
	}
	part[h] = seq
}

func drop(set map[TypeKey]map[Handle]uint64, h Handle) bool {
	part, ok := set[h.typ]
	if !ok {
		return false
	}
	if _, ok := part[h]; !ok {
		return false
	}
	delete(part, h)
	if len(part) == 0 {
		delete(set, h.typ)
	}
	return true
}

func flatten(set map[TypeKey]map[Handle]uint64, only TypeKey) []Handle {
	type entry struct {
		h   Handle
		seq uint64
	}
	var entries []entry
	for t, part := range set {
		if only != "" && t != only {
			continue
		}
		for h, seq := range part {
			entries = append(entries, entry{h: h, seq: seq})
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	out := make([]Handle, len(entries))
	for i, e := range entries {
		out[i] = e.h
	}
	return out
}
