package geometry

import (
	"errors"
	"fmt"
)

const (
	// Sections is the number of angular sections around the playfield.
	Sections = 60
	// HalfSections is the width of one folded half.
	HalfSections = Sections / 2
	// LogicalRings is the number of rings the game addresses.
	LogicalRings = 4
	// CellCount is the number of addressable cells.
	CellCount = Sections * LogicalRings

	MinDivisions     = 4
	MaxDivisions     = 20
	MinPointerRadius = 1
	MaxPointerRadius = 10
)

// ErrInvalidTopology is wrapped by every topology validation failure.
var ErrInvalidTopology = errors.New("invalid touch topology")

// RingRange is an inclusive range of physical rings assigned to one logical
// ring in absolute mode.
type RingRange struct {
	Low  int `json:"low"`
	High int `json:"high"`
}

// Topology is the validated, immutable description of the ring grid.
type Topology struct {
	Divisions          int
	PointerRadius      int
	RadiusCompensation int
	Mode               Mode
}

// NewTopology validates the parameters and returns a Topology. The mode is
// validated against divisions as well.
func NewTopology(divisions, pointerRadius, radiusCompensation int, mode Mode) (*Topology, error) {
	if divisions < MinDivisions || divisions > MaxDivisions {
		return nil, fmt.Errorf("%w: divisions %d outside [%d,%d]", ErrInvalidTopology, divisions, MinDivisions, MaxDivisions)
	}
	if pointerRadius < MinPointerRadius || pointerRadius > MaxPointerRadius {
		return nil, fmt.Errorf("%w: pointer radius %d outside [%d,%d]", ErrInvalidTopology, pointerRadius, MinPointerRadius, MaxPointerRadius)
	}
	if mode == nil {
		return nil, fmt.Errorf("%w: no mode", ErrInvalidTopology)
	}
	if err := mode.validate(divisions); err != nil {
		return nil, err
	}
	return &Topology{
		Divisions:          divisions,
		PointerRadius:      pointerRadius,
		RadiusCompensation: radiusCompensation,
		Mode:               mode,
	}, nil
}

// DefaultRingRanges returns the absolute ranges used when none are
// configured: logical ring i covers physical ring divisions-4+i.
func DefaultRingRanges(divisions int) [LogicalRings]RingRange {
	var ranges [LogicalRings]RingRange
	for i := range ranges {
		r := divisions - LogicalRings + i
		ranges[i] = RingRange{Low: r, High: r}
	}
	return ranges
}
