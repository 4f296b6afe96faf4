// Package protocol implements the touch controller wire format: the
// handshake command vocabulary and the 36-byte activation frame.
package protocol

import (
	"fmt"
	"strings"
)

// Side identifies one of the two hardware channels.
type Side int

const (
	// Right drives cells 120-239 (sections 30-59) and reports itself as 'R'.
	Right Side = iota
	// Left drives cells 0-119 (sections 0-29) and reports itself as 'L'.
	Left
)

// Sides lists both channels in polling order.
var Sides = [2]Side{Right, Left}

func (s Side) String() string {
	switch s {
	case Right:
		return "right"
	case Left:
		return "left"
	}
	return fmt.Sprintf("side(%d)", int(s))
}

// SecondHalf reports whether the side drives the upper 120 cells.
func (s Side) SecondHalf() bool { return s == Right }

// ParseSide accepts "left"/"right" (or "l"/"r"), case-insensitively.
func ParseSide(v string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "right", "r":
		return Right, nil
	case "left", "l":
		return Left, nil
	}
	return 0, fmt.Errorf("unknown side %q", v)
}

// State is the handshake state of one channel.
type State int

const (
	Handshaking State = iota
	Active
)

func (s State) String() string {
	if s == Active {
		return "active"
	}
	return "handshaking"
}
