package protocol

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChecksum(t *testing.T) {
	assert.Equal(t, byte(0), Checksum(nil))
	assert.Equal(t, byte(0x81^0x01), Checksum([]byte{0x81, 0x01}))

	prefix := make([]byte, 35)
	for i := range prefix {
		prefix[i] = byte(i*37 + 11)
	}
	want := Checksum(prefix)
	for i := range prefix {
		for bit := 0; bit < 8; bit++ {
			corrupt := append([]byte(nil), prefix...)
			corrupt[i] ^= 1 << bit
			if Checksum(corrupt) == want {
				t.Fatalf("flipping bit %d of byte %d left checksum unchanged", bit, i)
			}
		}
	}
}

func TestDispatch(t *testing.T) {
	tests := []struct {
		name     string
		side     Side
		chunk    []byte
		wantName string
		wantNext Transition
		wantResp []byte
	}{
		{
			name:     "sync board version",
			chunk:    []byte{OpSyncBoardVersion},
			wantName: "sync-board-version",
			wantNext: ToHandshaking,
			wantResp: []byte{0xA0, '1', '9', '0', '5', '2', '3', 44},
		},
		{"query a2", Right, []byte{OpQueryA2, 1, 2}, "query-a2", ToHandshaking, []byte{162, 63, 29}},
		{"query 94", Left, []byte{OpQuery94}, "query-94", ToHandshaking, []byte{148, 0, 20}},
		{"start auto scan", Right, []byte{OpStartAutoScan}, "start-auto-scan", ToActive, []byte{201, 0, 73}},
		{"begin write", Right, []byte{OpBeginWrite, 9, 9}, "begin-write", Keep, nil},
		{"next write", Right, []byte{OpNextWrite}, "next-write", Keep, nil},
		{"bad input", Right, []byte{OpBadInput}, "bad-input", ToHandshaking, nil},
		{"unknown", Right, []byte{0x55, 1}, "unknown", Keep, nil},
		{"next read unknown selector", Right, []byte{OpNextRead, 0, 0, 0x32}, "next-read", ToHandshaking, nil},
		{"next read truncated", Right, []byte{OpNextRead, 0}, "next-read", ToHandshaking, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, ok := ParseCommand(tt.chunk)
			require.True(t, ok)
			res := Dispatch(tt.side, cmd)
			assert.Equal(t, tt.wantName, res.Name)
			assert.Equal(t, tt.wantNext, res.Next)
			assert.Equal(t, tt.wantResp, res.Response)
		})
	}
}

func TestDispatch_NextReadBlocks(t *testing.T) {
	tests := []struct {
		selector byte
		prefix   string
		checksum byte
	}{
		{0x30, "    0    0    1", 17},
		{0x31, "   11   11   11  128", 12},
		{0x33, "  101  115   98", 1},
	}
	for _, tt := range tests {
		res := Dispatch(Right, Command{Opcode: OpNextRead, Payload: []byte{0x00, 0x00, tt.selector}})
		require.Len(t, res.Response, 81, "selector %#x", tt.selector)
		assert.True(t, bytes.HasPrefix(res.Response, []byte(tt.prefix)))
		assert.Equal(t, tt.checksum, res.Response[80])
		assert.Equal(t, Checksum(res.Response[:80]), res.Response[80])
	}
}

func TestDispatch_UnitBoardVersion(t *testing.T) {
	for _, tt := range []struct {
		side     Side
		marker   byte
		checksum byte
	}{
		{Right, 'R', 118},
		{Left, 'L', 104},
	} {
		res := Dispatch(tt.side, Command{Opcode: OpUnitBoardVersion})
		require.Len(t, res.Response, 45)
		assert.Equal(t, OpUnitBoardVersion, res.Response[0])
		assert.Equal(t, "190523", string(res.Response[1:7]))
		assert.Equal(t, tt.marker, res.Response[7])
		assert.Equal(t, bytes.Repeat([]byte("190514"), 6), res.Response[8:44])
		assert.Equal(t, tt.checksum, res.Response[44])
	}
}

func TestDispatch_ResponsesAreCopies(t *testing.T) {
	a := Dispatch(Right, Command{Opcode: OpQueryA2})
	a.Response[0] = 0
	b := Dispatch(Right, Command{Opcode: OpQueryA2})
	assert.Equal(t, byte(0xA2), b.Response[0])
}

func TestTransitions_HandshakeSequence(t *testing.T) {
	state := Handshaking
	activations := 0
	for _, op := range []byte{OpSyncBoardVersion, OpQueryA2, OpNextRead, OpUnitBoardVersion, OpQuery94, OpBeginWrite, OpStartAutoScan} {
		prev := state
		state = Dispatch(Right, Command{Opcode: op}).Next.Apply(state)
		if prev != Active && state == Active {
			activations++
		}
	}
	assert.Equal(t, Active, state)
	assert.Equal(t, 1, activations)

	state = Dispatch(Right, Command{Opcode: OpNextWrite}).Next.Apply(state)
	assert.Equal(t, Active, state, "write commands keep the state")

	state = Dispatch(Right, Command{Opcode: OpSyncBoardVersion}).Next.Apply(state)
	assert.Equal(t, Handshaking, state, "handshake commands re-enter handshaking")
}

func TestParseCommand_Empty(t *testing.T) {
	_, ok := ParseCommand(nil)
	assert.False(t, ok)
}

func TestFrameBuilder_Dense(t *testing.T) {
	b := NewFrameBuilder(Dense)

	var cells [FrameCells]bool
	cells[0] = true
	cells[119] = true
	f := b.Build(cells)

	assert.Equal(t, FrameMarker, f[0])
	assert.Equal(t, byte(0x01), f[1])
	assert.Equal(t, byte(0x80), f[15])
	assert.Equal(t, byte(1), f[34], "first frame carries sequence 1")
	assert.Equal(t, Checksum(f[:35]), f[35])
	assert.True(t, f.Valid())
	assert.Equal(t, cells, Dense.Cells(f))
}

func TestFrameBuilder_EmptyFrame(t *testing.T) {
	f := NewFrameBuilder(Dense).Build([FrameCells]bool{})
	assert.Equal(t, byte(0x81^0x01), f[35])
}

func TestFrameBuilder_Grouped(t *testing.T) {
	var cells [FrameCells]bool
	cells[4] = true
	cells[5] = true
	cells[119] = true
	f := NewFrameBuilder(Grouped).Build(cells)

	assert.Equal(t, byte(1<<4), f[1])
	assert.Equal(t, byte(1), f[2])
	assert.Equal(t, byte(1<<4), f[24])
	assert.Equal(t, cells, Grouped.Cells(f))
	assert.True(t, f.Valid())
}

func TestFrameBuilder_SequenceWraps(t *testing.T) {
	b := NewFrameBuilder(Dense)
	prev := byte(0)
	for i := 1; i <= 300; i++ {
		f := b.Build([FrameCells]bool{})
		want := byte(i % 128)
		require.Equal(t, want, f[34], "frame %d", i)
		require.Less(t, f[34], byte(128))
		if want != 0 {
			require.Equal(t, prev+1, f[34])
		}
		prev = f[34]
		require.True(t, f.Valid())
	}
	assert.Equal(t, byte(300%128), b.Seq())
}

func TestFrameValid_DetectsCorruption(t *testing.T) {
	f := NewFrameBuilder(Dense).Build([FrameCells]bool{true})
	f[5] ^= 0x10
	assert.False(t, f.Valid())
}

func TestSetBit(t *testing.T) {
	var f Frame
	SetBit(&f, 8, true)
	SetBit(&f, 9, true)
	SetBit(&f, 8, false)
	assert.Equal(t, byte(0x02), f[1])

	for _, idx := range []int{-1, 0, 7, 34 * 8, 36 * 8} {
		assert.Panics(t, func() { SetBit(&f, idx, true) }, "index %d", idx)
	}
}

func TestParseLayout(t *testing.T) {
	l, err := ParseLayout("")
	require.NoError(t, err)
	assert.Equal(t, Dense, l)
	l, err = ParseLayout("Grouped")
	require.NoError(t, err)
	assert.Equal(t, Grouped, l)
	_, err = ParseLayout("sparse")
	assert.Error(t, err)
}

func TestParseSide(t *testing.T) {
	s, err := ParseSide("L")
	require.NoError(t, err)
	assert.Equal(t, Left, s)
	assert.False(t, s.SecondHalf())
	assert.True(t, Right.SecondHalf())
	assert.Equal(t, "right", Right.String())
	_, err = ParseSide("up")
	assert.Error(t, err)
}
