package geometry

import (
	"github.com/banshee-data/touchring/internal/monitoring"
)

// Observation is one pointer sample in screen coordinates. A zero Radius
// means the topology's configured pointer radius.
type Observation struct {
	PointerID uint32  `json:"id"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Radius    int     `json:"radius,omitempty"`
}

// Mapper turns pointer positions into cell indices for one topology. It is
// safe for concurrent use; the only mutable state is the relative-mode
// tracker.
type Mapper struct {
	topo *Topology
}

// NewMapper returns a mapper over a validated topology.
func NewMapper(topo *Topology) *Mapper {
	return &Mapper{topo: topo}
}

// Topology returns the topology the mapper was built with.
func (m *Mapper) Topology() *Topology {
	return m.topo
}

// ToCells returns the cells activated by a pointer at (section, ring) with
// the given contact radius. The logical rings are resolved once per call, so
// in relative mode the tracker advances exactly once per observation.
func (m *Mapper) ToCells(pointerID uint32, section, ring, radius int) []int {
	logical := m.topo.Mode.logicalRings(pointerID, ring)
	if len(logical) == 0 {
		return nil
	}
	sections := ExpandSection(section, radius)
	cells := make([]int, 0, len(sections)*len(logical))
	for _, s := range sections {
		for _, l := range logical {
			cells = append(cells, CellIndex(s, l))
		}
	}
	return cells
}

// Map runs the full transform for one observation against frame f.
// Observations outside the playfield activate nothing and leave the
// tracker untouched.
func (m *Mapper) Map(obs Observation, f Frame) []int {
	playfield := f.Radius + float64(m.topo.RadiusCompensation)
	pos, ok := Locate(f.Relative(obs.X, obs.Y), playfield, m.topo.Divisions)
	if !ok {
		monitoring.Debugf("pointer %d outside playfield (distance %.1f > %.1f)", obs.PointerID, pos.Distance, playfield)
		return nil
	}

	radius := obs.Radius
	if radius <= 0 {
		radius = m.topo.PointerRadius
	}
	radius = clamp(radius, MinPointerRadius, MaxPointerRadius)
	cells := m.ToCells(obs.PointerID, pos.Section, pos.Ring, radius)
	monitoring.Debugf("pointer %d section %d ring %d -> %v", obs.PointerID, pos.Section, pos.Ring, cells)
	return cells
}

// Release forgets any per-pointer state held for pointerID.
func (m *Mapper) Release(pointerID uint32) {
	if rel, ok := m.topo.Mode.(*Relative); ok {
		rel.tracker.Remove(pointerID)
	}
}

// Retain forgets per-pointer state for every id that active rejects.
func (m *Mapper) Retain(active func(pointerID uint32) bool) {
	if rel, ok := m.topo.Mode.(*Relative); ok {
		if n := rel.tracker.Retain(active); n > 0 {
			monitoring.Debugf("evicted %d stale relative-mode pointers", n)
		}
	}
}
