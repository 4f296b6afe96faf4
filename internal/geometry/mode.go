package geometry

import (
	"fmt"
)

// Mode selects how a physical ring is turned into logical rings. It is a
// closed set: *Absolute and *Relative.
type Mode interface {
	// logicalRings returns the logical rings activated by a pointer on the
	// given physical ring.
	logicalRings(pointerID uint32, ring int) []int
	validate(divisions int) error
	String() string
}

// Absolute maps each logical ring to a fixed inclusive range of physical
// rings. Ranges may overlap.
type Absolute struct {
	Ranges [LogicalRings]RingRange
}

// NewAbsolute returns an absolute mode over the given ranges.
func NewAbsolute(ranges [LogicalRings]RingRange) *Absolute {
	return &Absolute{Ranges: ranges}
}

func (a *Absolute) validate(divisions int) error {
	for i, r := range a.Ranges {
		if r.Low < 0 || r.Low > r.High || r.High >= divisions {
			return fmt.Errorf("%w: ring %d range %d-%d (divisions %d)", ErrInvalidTopology, i, r.Low, r.High, divisions)
		}
	}
	return nil
}

func (a *Absolute) logicalRings(_ uint32, ring int) []int {
	var out []int
	for i, r := range a.Ranges {
		if r.Low <= ring && ring <= r.High {
			out = append(out, i)
		}
	}
	return out
}

func (a *Absolute) String() string {
	return fmt.Sprintf("absolute%v", a.Ranges)
}

// Relative moves a pointer between logical rings by its accumulated radial
// movement. A new pointer lands on Start; every Threshold physical rings of
// movement shifts it by one logical ring.
type Relative struct {
	Start     int
	Threshold int

	tracker *Tracker
}

// NewRelative returns a relative mode with an empty tracker.
func NewRelative(start, threshold int) *Relative {
	return &Relative{
		Start:     start,
		Threshold: threshold,
		tracker:   NewTracker(),
	}
}

func (r *Relative) validate(int) error {
	if r.Start < 0 || r.Start >= LogicalRings {
		return fmt.Errorf("%w: relative start %d outside [0,%d]", ErrInvalidTopology, r.Start, LogicalRings-1)
	}
	if r.Threshold < 1 {
		return fmt.Errorf("%w: relative threshold %d must be positive", ErrInvalidTopology, r.Threshold)
	}
	if r.tracker == nil {
		r.tracker = NewTracker()
	}
	return nil
}

func (r *Relative) logicalRings(pointerID uint32, ring int) []int {
	return []int{r.tracker.Observe(pointerID, ring, r.Start, r.Threshold)}
}

// Tracker exposes the per-pointer bookkeeping.
func (r *Relative) Tracker() *Tracker {
	return r.tracker
}

func (r *Relative) String() string {
	return fmt.Sprintf("relative{start:%d threshold:%d}", r.Start, r.Threshold)
}
