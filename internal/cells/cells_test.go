package cells

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/touchring/internal/geometry"
	"github.com/banshee-data/touchring/internal/timeutil"
)

func newAggregator(t *testing.T, mode geometry.Mode) *Aggregator {
	t.Helper()
	topo, err := geometry.NewTopology(8, 1, 0, mode)
	require.NoError(t, err)
	frames := geometry.NewFrameStore(geometry.FrameFromRect(0, 0, 200, 200))
	return NewAggregator(geometry.NewMapper(topo), frames, NewOverrideSet())
}

func TestSnapshot_Half(t *testing.T) {
	var s Snapshot
	s[0] = true
	s[119] = true
	s[120] = true
	s[239] = true

	first := s.Half(false)
	second := s.Half(true)
	assert.True(t, first[0])
	assert.True(t, first[119])
	assert.True(t, second[0])
	assert.True(t, second[119])
	assert.Equal(t, 4, s.Count())
	assert.Equal(t, []int{0, 119, 120, 239}, s.Active())
}

func TestMask(t *testing.T) {
	var s Snapshot
	for _, c := range []int{0, 9, 120, 239} {
		s[c] = true
	}
	mask := s.Mask()
	require.Len(t, mask, MaskBytes)
	assert.Equal(t, byte(0x01), mask[0])
	assert.Equal(t, byte(0x02), mask[1])
	assert.Equal(t, byte(0x80), mask[29])

	got, err := DecodeMask(mask)
	require.NoError(t, err)
	if diff := cmp.Diff([]int{0, 9, 120, 239}, got); diff != "" {
		t.Errorf("DecodeMask mismatch (-want +got):\n%s", diff)
	}

	_, err = DecodeMask(mask[:29])
	assert.Error(t, err)
}

func TestOverrideSet(t *testing.T) {
	o := NewOverrideSet()
	require.NoError(t, o.Replace("keys", []int{1, 2}))
	require.NoError(t, o.Replace("ws", []int{2, 200}))
	require.NoError(t, o.Toggle("api", 5, true))

	var s Snapshot
	o.apply(&s)
	assert.Equal(t, []int{1, 2, 5, 200}, s.Active())
	assert.Equal(t, []string{"api", "keys", "ws"}, o.Sources())

	require.NoError(t, o.Toggle("api", 5, false))
	o.Clear("keys")
	require.NoError(t, o.Replace("ws", nil))
	assert.Empty(t, o.Sources())

	err := o.Replace("keys", []int{3, 240})
	assert.True(t, errors.Is(err, ErrCellOutOfRange))
	assert.Empty(t, o.Sources(), "a rejected replace must not change anything")

	assert.True(t, errors.Is(o.Toggle("keys", -1, true), ErrCellOutOfRange))
}

func TestAggregate_EmptyInputs(t *testing.T) {
	a := newAggregator(t, geometry.NewAbsolute(geometry.DefaultRingRanges(8)))
	snap := a.Aggregate()
	assert.Zero(t, snap.Count())
}

func TestAggregate_OverridesOnly(t *testing.T) {
	a := newAggregator(t, geometry.NewAbsolute(geometry.DefaultRingRanges(8)))
	require.NoError(t, a.Overrides().Replace("keys", []int{7, 130}))
	snap := a.Aggregate()
	assert.Equal(t, []int{7, 130}, snap.Active())
	assert.Equal(t, snap, a.Latest())
}

func TestAggregate_UnionOfPointersAndOverrides(t *testing.T) {
	a := newAggregator(t, geometry.NewAbsolute(geometry.DefaultRingRanges(8)))
	// distance 95 just right of top: section 0, physical ring 7, logical 3
	a.UpdatePointer(geometry.Observation{PointerID: 1, X: 101, Y: 5})
	require.NoError(t, a.Overrides().Replace("keys", []int{geometry.CellIndex(0, 3), 4}))

	snap := a.Aggregate()
	assert.Equal(t, []int{4, geometry.CellIndex(0, 3)}, snap.Active())
}

func TestReleasePointer_ClearsTracker(t *testing.T) {
	mode := geometry.NewRelative(1, 1)
	a := newAggregator(t, mode)

	a.UpdatePointer(geometry.Observation{PointerID: 9, X: 100, Y: 50})
	a.Aggregate()
	require.Equal(t, 1, mode.Tracker().Len())

	a.ReleasePointer(9)
	assert.Equal(t, 0, a.Pointers())
	assert.Equal(t, 0, mode.Tracker().Len())
	assert.Zero(t, a.Aggregate().Count())
}

func TestSnapshot_MethodsOnReturnedValues(t *testing.T) {
	a := newAggregator(t, geometry.NewAbsolute(geometry.DefaultRingRanges(8)))
	require.NoError(t, a.Overrides().Replace("keys", []int{2}))

	assert.Equal(t, 1, a.Aggregate().Count())
	assert.Equal(t, []int{2}, a.Latest().Active())
	assert.Equal(t, byte(1<<2), a.Latest().Mask()[0])
	assert.True(t, a.Latest().Half(false)[2])
}

func TestAggregate_ReleaseDuringMappingStartsFresh(t *testing.T) {
	mode := geometry.NewRelative(1, 1)
	a := newAggregator(t, mode)

	// physical ring 7, just right of top
	a.UpdatePointer(geometry.Observation{PointerID: 9, X: 101, Y: 5})
	a.afterCopy = func() {
		a.ReleasePointer(9)
		// same id reported again near the centre, physical ring 0
		a.UpdatePointer(geometry.Observation{PointerID: 9, X: 101, Y: 90})
	}
	snap := a.Aggregate()
	a.afterCopy = nil

	assert.Zero(t, snap.Count(), "released observation contributes no cells")
	_, ok := mode.Tracker().Get(9)
	assert.False(t, ok, "no tracker state survives from the released observation")

	snap = a.Aggregate()
	assert.Equal(t, []int{geometry.CellIndex(0, 1)}, snap.Active(), "reused id lands on the start ring")
	e, ok := mode.Tracker().Get(9)
	require.True(t, ok)
	assert.Equal(t, geometry.TrackerEntry{PhysicalRing: 0, LogicalRing: 1}, e)
}

func TestAggregate_PositionUpdateDuringMappingKeepsCells(t *testing.T) {
	a := newAggregator(t, geometry.NewAbsolute(geometry.DefaultRingRanges(8)))
	a.UpdatePointer(geometry.Observation{PointerID: 1, X: 101, Y: 5})
	a.afterCopy = func() {
		a.UpdatePointer(geometry.Observation{PointerID: 1, X: 101, Y: 6})
	}
	snap := a.Aggregate()
	assert.Equal(t, []int{geometry.CellIndex(0, 3)}, snap.Active())
}

func TestAggregate_PrunesStaleTrackerEntries(t *testing.T) {
	mode := geometry.NewRelative(1, 1)
	a := newAggregator(t, mode)

	// An entry for a pointer the aggregator no longer knows about.
	mode.Tracker().Observe(42, 3, 1, 1)
	a.UpdatePointer(geometry.Observation{PointerID: 1, X: 100, Y: 50})
	a.Aggregate()

	_, ok := mode.Tracker().Get(42)
	assert.False(t, ok)
	_, ok = mode.Tracker().Get(1)
	assert.True(t, ok)
}

func TestAggregate_ConcurrentWriters(t *testing.T) {
	a := newAggregator(t, geometry.NewRelative(1, 1))
	var wg sync.WaitGroup
	for id := uint32(0); id < 8; id++ {
		wg.Add(1)
		go func(id uint32) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				a.UpdatePointer(geometry.Observation{PointerID: id, X: float64(50 + i%100), Y: 60})
				if i%7 == 0 {
					a.ReleasePointer(id)
				}
			}
		}(id)
	}
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			default:
				a.Aggregate()
			}
		}
	}()
	wg.Wait()
	close(done)
}

func TestRun_DeliversSnapshots(t *testing.T) {
	a := newAggregator(t, geometry.NewAbsolute(geometry.DefaultRingRanges(8)))
	require.NoError(t, a.Overrides().Replace("keys", []int{3}))

	clock := timeutil.NewMockClock(time.Unix(0, 0))
	got := make(chan Snapshot, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errc := make(chan error, 1)
	go func() {
		errc <- a.Run(ctx, clock, time.Millisecond, func(s Snapshot) { got <- s })
	}()
	clock.WaitForTicker()
	clock.Advance(time.Millisecond)

	select {
	case s := <-got:
		assert.Equal(t, []int{3}, s.Active())
	case <-time.After(2 * time.Second):
		t.Fatal("no snapshot delivered")
	}

	cancel()
	assert.ErrorIs(t, <-errc, context.Canceled)
}

func TestActivity(t *testing.T) {
	var act Activity
	var s Snapshot
	s[10] = true
	act.Observe(s)
	act.Observe(s)
	act.Observe(Snapshot{})

	counts, total := act.Counts()
	assert.Equal(t, uint64(3), total)
	assert.Equal(t, uint64(2), counts[10])

	act.Reset()
	_, total = act.Counts()
	assert.Zero(t, total)
}
