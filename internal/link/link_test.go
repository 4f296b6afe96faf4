package link

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/touchring/internal/cells"
	"github.com/banshee-data/touchring/internal/protocol"
	"github.com/banshee-data/touchring/internal/serialmux"
	"github.com/banshee-data/touchring/internal/timeutil"
)

type fakeSource struct {
	mu   sync.Mutex
	snap cells.Snapshot
}

func (f *fakeSource) Latest() cells.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}

type memRecorder struct {
	mu  sync.Mutex
	got []Exchange
}

func (m *memRecorder) RecordExchange(e Exchange) {
	m.mu.Lock()
	m.got = append(m.got, e)
	m.mu.Unlock()
}

func (m *memRecorder) kinds() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, e := range m.got {
		out = append(out, e.Kind+":"+e.Name)
	}
	return out
}

func newSession(t *testing.T, side protocol.Side, opts ...SessionOption) (*Session, *serialmux.TestableSerialPort) {
	t.Helper()
	port := serialmux.NewTestableSerialPort()
	return NewSession(side, serialmux.NewSerialMux(side.String(), port), opts...), port
}

func TestSession_NoFramesWhileHandshaking(t *testing.T) {
	s, port := newSession(t, protocol.Right)
	require.NoError(t, s.Poll(cells.Snapshot{}))
	require.NoError(t, s.Poll(cells.Snapshot{}))
	assert.Empty(t, port.Writes())
	assert.Equal(t, protocol.Handshaking, s.State())
}

func TestSession_HandshakeThenFrames(t *testing.T) {
	s, port := newSession(t, protocol.Left)

	for _, cmd := range [][]byte{
		{protocol.OpSyncBoardVersion},
		{protocol.OpNextRead, 0, 0, 0x30},
		{protocol.OpUnitBoardVersion},
		{protocol.OpQueryA2},
		{protocol.OpQuery94},
	} {
		port.QueueRead(cmd)
		require.NoError(t, s.Poll(cells.Snapshot{}))
		require.Equal(t, protocol.Handshaking, s.State())
	}
	assert.Len(t, port.Writes(), 5, "one response per handshake command, no frames")

	port.ResetWrites()
	port.QueueRead([]byte{protocol.OpStartAutoScan})
	var snap cells.Snapshot
	snap[3] = true
	snap[200] = true // other side, must not appear
	require.NoError(t, s.Poll(snap))
	assert.Equal(t, protocol.Active, s.State())

	writes := port.Writes()
	require.Len(t, writes, 2)
	assert.Equal(t, []byte{201, 0, 73}, writes[0])

	var f protocol.Frame
	require.Len(t, writes[1], protocol.FrameSize)
	copy(f[:], writes[1])
	assert.True(t, f.Valid())
	assert.Equal(t, byte(1), f[34])
	got := protocol.Dense.Cells(f)
	assert.True(t, got[3])
	for i, on := range got {
		if i != 3 {
			assert.False(t, on, "cell %d", i)
		}
	}

	// idle polls keep streaming
	require.NoError(t, s.Poll(snap))
	writes = port.Writes()
	require.Len(t, writes, 3)
	assert.Equal(t, byte(2), writes[2][34])

	info := s.Info()
	assert.Equal(t, "active", info.State)
	assert.Equal(t, uint64(6), info.Commands)
	assert.Equal(t, uint64(2), info.FramesSent)
	assert.Equal(t, "start-auto-scan", info.LastCommand)
}

func TestSession_RehandshakeStopsFrames(t *testing.T) {
	s, port := newSession(t, protocol.Left)
	port.QueueRead([]byte{protocol.OpStartAutoScan})
	require.NoError(t, s.Poll(cells.Snapshot{}))
	require.Equal(t, protocol.Active, s.State())

	port.ResetWrites()
	port.QueueRead([]byte{protocol.OpBadInput})
	require.NoError(t, s.Poll(cells.Snapshot{}))
	assert.Equal(t, protocol.Handshaking, s.State())
	assert.Empty(t, port.Writes(), "bad input has no response and no frame follows")
}

func TestSession_RightSideSendsUpperHalf(t *testing.T) {
	s, port := newSession(t, protocol.Right, WithLayout(protocol.Grouped))
	port.QueueRead([]byte{protocol.OpStartAutoScan})

	var snap cells.Snapshot
	snap[120] = true
	snap[239] = true
	snap[0] = true
	require.NoError(t, s.Poll(snap))

	writes := port.Writes()
	require.Len(t, writes, 2)
	var f protocol.Frame
	copy(f[:], writes[1])
	got := protocol.Grouped.Cells(f)
	assert.True(t, got[0])
	assert.True(t, got[119])
	assert.Equal(t, 2, countTrue(got[:]))
}

func TestSession_UnitMarkerMatchesCarriedHalf(t *testing.T) {
	tests := []struct {
		side     protocol.Side
		marker   byte
		checksum byte
		cell     int
	}{
		{protocol.Left, 'L', 104, 7},
		{protocol.Right, 'R', 118, 207},
	}
	for _, tt := range tests {
		t.Run(tt.side.String(), func(t *testing.T) {
			s, port := newSession(t, tt.side)
			port.QueueRead([]byte{protocol.OpUnitBoardVersion})
			require.NoError(t, s.Poll(cells.Snapshot{}))
			port.QueueRead([]byte{protocol.OpStartAutoScan})
			var snap cells.Snapshot
			snap[tt.cell] = true
			require.NoError(t, s.Poll(snap))

			writes := port.Writes()
			require.Len(t, writes, 3)
			unit := writes[0]
			assert.Equal(t, tt.marker, unit[7], "side marker follows the version string")
			assert.Equal(t, tt.checksum, unit[len(unit)-1])

			var f protocol.Frame
			copy(f[:], writes[2])
			got := protocol.Dense.Cells(f)
			assert.True(t, got[tt.cell%cells.HalfCells], "port answering %q carries cell %d", tt.marker, tt.cell)
			assert.Equal(t, 1, countTrue(got[:]))
		})
	}
}

func countTrue(v []bool) int {
	n := 0
	for _, b := range v {
		if b {
			n++
		}
	}
	return n
}

func TestSession_ReadErrorLeavesState(t *testing.T) {
	s, port := newSession(t, protocol.Right)
	port.QueueRead([]byte{protocol.OpStartAutoScan})
	require.NoError(t, s.Poll(cells.Snapshot{}))

	boom := errors.New("cable pulled")
	port.ReadError = boom
	err := s.Poll(cells.Snapshot{})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, protocol.Active, s.State())
	assert.Equal(t, uint64(1), s.Info().Errors)
	assert.Len(t, port.Writes(), 3, "a frame is still sent after a failed read")
}

func TestSession_WriteError(t *testing.T) {
	s, port := newSession(t, protocol.Right)
	port.QueueRead([]byte{protocol.OpSyncBoardVersion})
	port.WriteError = errors.New("tx stuck")
	assert.Error(t, s.Poll(cells.Snapshot{}))
	assert.Equal(t, uint64(1), s.Info().Errors)
}

func TestSession_UnknownOpcodeIgnored(t *testing.T) {
	s, port := newSession(t, protocol.Right)
	port.QueueRead([]byte{0x01, 0x02})
	require.NoError(t, s.Poll(cells.Snapshot{}))
	assert.Empty(t, port.Writes())
	assert.Equal(t, "unknown", s.Info().LastCommand)
}

func TestSession_Recorder(t *testing.T) {
	rec := &memRecorder{}
	s, port := newSession(t, protocol.Right, WithRecorder(rec, true))
	port.QueueRead([]byte{protocol.OpStartAutoScan})
	require.NoError(t, s.Poll(cells.Snapshot{}))

	assert.Equal(t, []string{
		"command:start-auto-scan",
		"state:active",
		"response:start-auto-scan",
		"frame:frame",
	}, rec.kinds())
	for _, e := range rec.got {
		assert.Equal(t, s.ID(), e.SessionID)
	}
}

func TestBridge_CycleAndStats(t *testing.T) {
	src := &fakeSource{}
	src.snap[5] = true
	right, rport := newSession(t, protocol.Right)
	left, lport := newSession(t, protocol.Left)
	rport.QueueRead([]byte{protocol.OpStartAutoScan})

	clock := timeutil.NewMockClock(time.Unix(0, 0))
	b := NewBridge(src, clock, right, left)
	b.Cycle()

	assert.Len(t, rport.Writes(), 2)
	assert.Empty(t, lport.Writes(), "left is still handshaking")
	assert.Equal(t, uint64(1), b.Stats().Cycles)
	assert.Len(t, b.Sessions(), 2)
}

func TestBridge_ErrorOnOneSideDoesNotStopOther(t *testing.T) {
	right, rport := newSession(t, protocol.Right)
	left, lport := newSession(t, protocol.Left)
	rport.ReadError = errors.New("gone")
	lport.QueueRead([]byte{protocol.OpQueryA2})

	NewBridge(&fakeSource{}, timeutil.RealClock{}, right, left).Cycle()
	assert.Equal(t, [][]byte{{162, 63, 29}}, lport.Writes())
}

func TestBridge_Run(t *testing.T) {
	s, port := newSession(t, protocol.Right)
	port.QueueRead([]byte{protocol.OpStartAutoScan})
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	b := NewBridge(&fakeSource{}, clock, s)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- b.Run(ctx, DefaultInterval) }()
	clock.WaitForTicker()
	clock.Advance(DefaultInterval)

	require.Eventually(t, func() bool { return s.State() == protocol.Active }, 2*time.Second, time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-errc, context.Canceled)
}

func TestBridge_StatsWindow(t *testing.T) {
	b := NewBridge(&fakeSource{}, timeutil.RealClock{})
	for i := 0; i < timingWindow+10; i++ {
		b.observe(time.Duration(i%2+1) * time.Millisecond)
	}
	st := b.Stats()
	assert.Equal(t, uint64(timingWindow+10), st.Cycles)
	assert.InDelta(t, 1500, st.MeanUS, 1)
	assert.Equal(t, 2000.0, st.MaxUS)
	assert.Greater(t, st.StdDevUS, 0.0)
}

func TestBridge_AdminRoutes(t *testing.T) {
	s, _ := newSession(t, protocol.Right)
	b := NewBridge(&fakeSource{}, timeutil.RealClock{}, s)
	mux := http.NewServeMux()
	b.AttachAdminRoutes(mux)

	srv := httptest.NewServer(mux)
	defer srv.Close()
	resp, err := http.Get(srv.URL + "/debug/")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
