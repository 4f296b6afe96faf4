package cells

import (
	"sync"

	"github.com/banshee-data/touchring/internal/geometry"
)

// Activity counts, per cell, how many snapshots had that cell active. Its
// Observe method is a Sink.
type Activity struct {
	mu        sync.Mutex
	counts    [geometry.CellCount]uint64
	snapshots uint64
}

// Observe adds one snapshot to the counts.
func (a *Activity) Observe(s Snapshot) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.snapshots++
	for i, on := range s {
		if on {
			a.counts[i]++
		}
	}
}

// Counts returns the per-cell totals and the number of snapshots observed.
func (a *Activity) Counts() ([geometry.CellCount]uint64, uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.counts, a.snapshots
}

// Reset zeroes all counts.
func (a *Activity) Reset() {
	a.mu.Lock()
	a.counts = [geometry.CellCount]uint64{}
	a.snapshots = 0
	a.mu.Unlock()
}
