// Package cells combines pointer mappings and digital overrides into the
// 240-cell activation snapshot.
package cells

import (
	"errors"
	"fmt"

	"github.com/banshee-data/touchring/internal/geometry"
)

// HalfCells is the number of cells driven by one hardware channel.
const HalfCells = geometry.CellCount / 2

// MaskBytes is the size of a packed 240-bit cell mask.
const MaskBytes = geometry.CellCount / 8

// ErrCellOutOfRange is returned for cell indices outside [0, 240).
var ErrCellOutOfRange = errors.New("cell index out of range")

// Snapshot is the activation state of every cell. It is a value; copies are
// independent.
type Snapshot [geometry.CellCount]bool

// Active returns the indices of all active cells in ascending order.
func (s Snapshot) Active() []int {
	out := []int{}
	for i, on := range s {
		if on {
			out = append(out, i)
		}
	}
	return out
}

// Count returns the number of active cells.
func (s Snapshot) Count() int {
	n := 0
	for _, on := range s {
		if on {
			n++
		}
	}
	return n
}

// Half returns the 120 cells of one side. The first half (cells 0-119)
// holds sections 0-29, the second half sections 30-59.
func (s Snapshot) Half(second bool) [HalfCells]bool {
	var h [HalfCells]bool
	if second {
		copy(h[:], s[HalfCells:])
	} else {
		copy(h[:], s[:HalfCells])
	}
	return h
}

// Mask packs the snapshot LSB-first into 30 bytes.
func (s Snapshot) Mask() []byte {
	b := make([]byte, MaskBytes)
	for i, on := range s {
		if on {
			b[i/8] |= 1 << (i % 8)
		}
	}
	return b
}

// DecodeMask returns the cells set in a 30-byte LSB-first mask.
func DecodeMask(b []byte) ([]int, error) {
	if len(b) != MaskBytes {
		return nil, fmt.Errorf("cell mask is %d bytes, want %d", len(b), MaskBytes)
	}
	var out []int
	for i := 0; i < geometry.CellCount; i++ {
		if b[i/8]&(1<<(i%8)) != 0 {
			out = append(out, i)
		}
	}
	return out, nil
}
