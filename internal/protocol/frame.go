package protocol

import (
	"fmt"
	"strings"
)

const (
	// FrameSize is the length of one activation frame.
	FrameSize = 36
	// FrameMarker is the fixed first byte of every frame.
	FrameMarker byte = 0x81
	// FrameCells is the number of cells carried by one frame.
	FrameCells = 120

	seqIndex      = 34
	checksumIndex = 35
	// seqModulus keeps the counter to 7 bits.
	seqModulus = 128

	firstPackedByte = 1
	lastPackedByte  = seqIndex - 1
)

// Frame is one encoded activation frame.
type Frame [FrameSize]byte

// Layout selects how cells are packed into the frame body.
type Layout int

const (
	// Dense packs cell i at bit 8+i, eight cells per byte.
	Dense Layout = iota
	// Grouped packs five cells per byte, cell i at bit 8+i+(i/5)*3, as later
	// hardware revisions expect.
	Grouped
)

func (l Layout) String() string {
	if l == Grouped {
		return "grouped"
	}
	return "dense"
}

// ParseLayout maps a configuration value to a Layout. Empty means Dense.
func ParseLayout(v string) (Layout, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "dense":
		return Dense, nil
	case "grouped":
		return Grouped, nil
	}
	return Dense, fmt.Errorf("unknown frame layout %q", v)
}

// bit returns the frame bit index of local cell i.
func (l Layout) bit(i int) int {
	if l == Grouped {
		return 8*firstPackedByte + i + (i/5)*3
	}
	return 8*firstPackedByte + i
}

// SetBit sets or clears bit index%8 of byte index/8, LSB first. The index
// must fall inside the packed body; anything else is a caller bug and
// panics.
func SetBit(f *Frame, index int, on bool) {
	b := index / 8
	if index < 0 || b < firstPackedByte || b > lastPackedByte {
		panic(fmt.Sprintf("protocol: bit %d outside frame body", index))
	}
	mask := byte(1) << (index % 8)
	if on {
		f[b] |= mask
	} else {
		f[b] &^= mask
	}
}

// FrameBuilder encodes consecutive frames for one channel. The sequence
// counter advances by one per frame and wraps from 127 to 0. A builder is
// not safe for concurrent use.
type FrameBuilder struct {
	layout Layout
	seq    byte
}

// NewFrameBuilder returns a builder whose first frame carries sequence 1.
func NewFrameBuilder(layout Layout) *FrameBuilder {
	return &FrameBuilder{layout: layout}
}

// Seq returns the sequence number of the last frame built.
func (b *FrameBuilder) Seq() byte { return b.seq }

// Build encodes cells into a new frame. The checksum covers every earlier
// byte, sequence counter included, and is written last.
func (b *FrameBuilder) Build(cells [FrameCells]bool) Frame {
	var f Frame
	f[0] = FrameMarker
	for i, on := range cells {
		if on {
			SetBit(&f, b.layout.bit(i), true)
		}
	}
	b.seq = (b.seq + 1) % seqModulus
	f[seqIndex] = b.seq
	f[checksumIndex] = Checksum(f[:checksumIndex])
	return f
}

// Cells decodes the cell states from a frame built with layout.
func (l Layout) Cells(f Frame) [FrameCells]bool {
	var cells [FrameCells]bool
	for i := range cells {
		bit := l.bit(i)
		cells[i] = f[bit/8]&(1<<(bit%8)) != 0
	}
	return cells
}

// Valid reports whether the frame carries the marker and a correct
// checksum.
func (f Frame) Valid() bool {
	return f[0] == FrameMarker && f[checksumIndex] == Checksum(f[:checksumIndex])
}
