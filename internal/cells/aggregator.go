package cells

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/touchring/internal/geometry"
	"github.com/banshee-data/touchring/internal/monitoring"
	"github.com/banshee-data/touchring/internal/timeutil"
)

// Sink receives every snapshot the poller builds.
type Sink func(Snapshot)

// Aggregator owns the active pointer table and rebuilds the activation
// snapshot from it, the current reference frame and the override set.
type Aggregator struct {
	mapper    *geometry.Mapper
	frames    *geometry.FrameStore
	overrides *OverrideSet

	mu       sync.Mutex
	pointers map[uint32]pointer
	nextGen  uint64

	// afterCopy, when set, runs between copying the pointer table and
	// mapping it.
	afterCopy func()

	latest atomic.Pointer[Snapshot]
}

// pointer is one entry of the pointer table. gen changes only when the id is
// (re)inserted after a release, so a position update keeps it.
type pointer struct {
	obs geometry.Observation
	gen uint64
}

// NewAggregator wires an aggregator to its collaborators.
func NewAggregator(mapper *geometry.Mapper, frames *geometry.FrameStore, overrides *OverrideSet) *Aggregator {
	a := &Aggregator{
		mapper:    mapper,
		frames:    frames,
		overrides: overrides,
		pointers:  make(map[uint32]pointer),
	}
	a.latest.Store(&Snapshot{})
	return a
}

// Overrides returns the override set the aggregator reads.
func (a *Aggregator) Overrides() *OverrideSet { return a.overrides }

// Frames returns the reference frame store the aggregator reads.
func (a *Aggregator) Frames() *geometry.FrameStore { return a.frames }

// UpdatePointer records the latest position of a pointer.
func (a *Aggregator) UpdatePointer(obs geometry.Observation) {
	a.mu.Lock()
	defer a.mu.Unlock()
	p, ok := a.pointers[obs.PointerID]
	if !ok {
		a.nextGen++
		p.gen = a.nextGen
	}
	p.obs = obs
	a.pointers[obs.PointerID] = p
}

// ReleasePointer removes a pointer and its relative-mode state together, so
// a reused id starts fresh.
func (a *Aggregator) ReleasePointer(id uint32) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.pointers, id)
	a.mapper.Release(id)
}

// Pointers returns the number of active pointers.
func (a *Aggregator) Pointers() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pointers)
}

// Aggregate builds a snapshot from a copy of the pointer table, publishes it
// as the latest snapshot and returns it. The pointer lock is not held while
// mapping. A pointer released during mapping contributes no cells and its
// relative-mode state is dropped again, even if the id was re-reported.
func (a *Aggregator) Aggregate() Snapshot {
	a.mu.Lock()
	copied := make([]pointer, 0, len(a.pointers))
	for _, p := range a.pointers {
		copied = append(copied, p)
	}
	a.mu.Unlock()

	if a.afterCopy != nil {
		a.afterCopy()
	}

	frame := a.frames.Load()
	mapped := make([][]int, len(copied))
	for i, p := range copied {
		mapped[i] = a.mapper.Map(p.obs, frame)
	}

	var snap Snapshot
	a.mu.Lock()
	for i, p := range copied {
		if cur, ok := a.pointers[p.obs.PointerID]; !ok || cur.gen != p.gen {
			a.mapper.Release(p.obs.PointerID)
			continue
		}
		for _, c := range mapped[i] {
			snap[c] = true
		}
	}
	// Drop tracker entries for pointers the table no longer holds.
	a.mapper.Retain(func(id uint32) bool {
		_, ok := a.pointers[id]
		return ok
	})
	a.mu.Unlock()

	a.overrides.apply(&snap)
	a.latest.Store(&snap)
	return snap
}

// Latest returns the most recently published snapshot.
func (a *Aggregator) Latest() Snapshot {
	return *a.latest.Load()
}

// Run rebuilds the snapshot every interval and hands it to sink until ctx
// is cancelled.
func (a *Aggregator) Run(ctx context.Context, clock timeutil.Clock, interval time.Duration, sink Sink) error {
	ticker := clock.NewTicker(interval)
	defer ticker.Stop()
	monitoring.Logf("aggregator running every %v", interval)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
			snap := a.Aggregate()
			if sink != nil {
				sink(snap)
			}
		}
	}
}
