package geometry

import (
	"math"
	"sync"

	"gonum.org/v1/gonum/spatial/r2"
)

// Frame is the reference frame pointer coordinates are measured in: the
// playfield centre and its geometric radius, in screen units with y growing
// downwards.
type Frame struct {
	Center r2.Vec
	Radius float64
}

// FrameFromRect derives a frame from a window rectangle. The playfield is
// the largest circle centred in the rectangle.
func FrameFromRect(left, top, right, bottom float64) Frame {
	return Frame{
		Center: r2.Vec{X: (left + right) / 2, Y: (top + bottom) / 2},
		Radius: math.Min(right-left, bottom-top) / 2,
	}
}

// Relative converts a screen position into playfield coordinates: origin at
// the centre, y up, rotated a quarter turn so that angle zero points to the
// top of the playfield.
func (f Frame) Relative(x, y float64) r2.Vec {
	d := r2.Sub(r2.Vec{X: x, Y: y}, f.Center)
	cart := r2.Vec{X: d.X, Y: -d.Y}
	return r2.Vec{X: cart.Y, Y: -cart.X}
}

// Position is a pointer's location in section/ring coordinates.
type Position struct {
	Section  int
	Ring     int
	Distance float64
}

// Locate applies the polar transform to a playfield-relative point.
// playfieldRadius already includes any radius compensation. It reports
// false when the point lies outside the playfield.
func Locate(p r2.Vec, playfieldRadius float64, divisions int) (Position, bool) {
	dist := r2.Norm(p)
	if playfieldRadius <= 0 || dist > playfieldRadius {
		return Position{Distance: dist}, false
	}
	return Position{
		Section:  SectionAt(math.Atan2(p.Y, p.X)),
		Ring:     int(float64(divisions) * dist / playfieldRadius),
		Distance: dist,
	}, true
}

// SectionAt maps an angle from atan2 to a section. Negative angles fill
// sections 0-29, non-negative angles 30-59. An angle of exactly pi lands on
// the last section.
func SectionAt(angle float64) int {
	var s float64
	if angle < 0 {
		s = -angle / math.Pi * HalfSections
	} else {
		s = angle/math.Pi*HalfSections + HalfSections
	}
	section := int(s)
	if section >= Sections {
		section = Sections - 1
	}
	return section
}

// FrameStore holds the current reference frame. Writers replace it whole;
// readers may observe a frame that is one update stale.
type FrameStore struct {
	mu    sync.RWMutex
	frame Frame
}

// NewFrameStore returns a store holding f.
func NewFrameStore(f Frame) *FrameStore {
	return &FrameStore{frame: f}
}

// Load returns the current frame.
func (s *FrameStore) Load() Frame {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.frame
}

// Store replaces the current frame.
func (s *FrameStore) Store(f Frame) {
	s.mu.Lock()
	s.frame = f
	s.mu.Unlock()
}
