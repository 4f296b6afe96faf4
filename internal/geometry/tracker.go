package geometry

import "sync"

// TrackerEntry is the relative-mode state of one pointer.
type TrackerEntry struct {
	PhysicalRing int
	LogicalRing  int
}

// Tracker records the last physical ring and current logical ring of every
// pointer seen in relative mode. One mutex guards the whole map so eviction
// never interleaves with an insert.
type Tracker struct {
	mu      sync.Mutex
	entries map[uint32]TrackerEntry
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{entries: make(map[uint32]TrackerEntry)}
}

// Observe inserts or updates the entry for pointerID and returns its logical
// ring. A new pointer starts on start. An existing pointer moves by
// (ring-previous)/threshold logical rings, truncated toward zero and clamped
// to [0, LogicalRings-1].
func (t *Tracker) Observe(pointerID uint32, ring, start, threshold int) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	prev, ok := t.entries[pointerID]
	if !ok {
		t.entries[pointerID] = TrackerEntry{PhysicalRing: ring, LogicalRing: start}
		return start
	}

	logical := clamp(prev.LogicalRing+(ring-prev.PhysicalRing)/threshold, 0, LogicalRings-1)
	t.entries[pointerID] = TrackerEntry{PhysicalRing: ring, LogicalRing: logical}
	return logical
}

// Remove drops the entry for pointerID, if any.
func (t *Tracker) Remove(pointerID uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, pointerID)
}

// Retain drops every entry whose id keep rejects and returns the number
// removed.
func (t *Tracker) Retain(keep func(pointerID uint32) bool) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for id := range t.entries {
		if !keep(id) {
			delete(t.entries, id)
			removed++
		}
	}
	return removed
}

// Get returns the entry for pointerID.
func (t *Tracker) Get(pointerID uint32) (TrackerEntry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[pointerID]
	return e, ok
}

// Len returns the number of tracked pointers.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
