package link

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"
	"tailscale.com/tsweb"

	"github.com/banshee-data/touchring/internal/cells"
	"github.com/banshee-data/touchring/internal/monitoring"
	"github.com/banshee-data/touchring/internal/timeutil"
)

// DefaultInterval is the hardware polling period.
const DefaultInterval = 16 * time.Millisecond

// timingWindow is how many recent cycle durations feed CycleStats.
const timingWindow = 256

// SnapshotSource supplies the activation state to send.
type SnapshotSource interface {
	Latest() cells.Snapshot
}

// CycleStats summarises recent poll cycle durations.
type CycleStats struct {
	Cycles   uint64  `json:"cycles"`
	MeanUS   float64 `json:"mean_us"`
	StdDevUS float64 `json:"stddev_us"`
	MaxUS    float64 `json:"max_us"`
}

// Bridge polls every session on a fixed interval. All sessions in one cycle
// see the same snapshot.
type Bridge struct {
	sessions []*Session
	source   SnapshotSource
	clock    timeutil.Clock

	mu      sync.Mutex
	cycles  uint64
	samples []float64
	next    int
}

// NewBridge returns a bridge over sessions, reading snapshots from source.
func NewBridge(source SnapshotSource, clock timeutil.Clock, sessions ...*Session) *Bridge {
	return &Bridge{
		sessions: sessions,
		source:   source,
		clock:    clock,
		samples:  make([]float64, 0, timingWindow),
	}
}

// Sessions returns the sessions in polling order.
func (b *Bridge) Sessions() []*Session {
	return b.sessions
}

// Cycle polls each session once. Errors are logged and do not stop the
// remaining sessions.
func (b *Bridge) Cycle() {
	start := b.clock.Now()
	snap := b.source.Latest()
	for _, s := range b.sessions {
		if err := s.Poll(snap); err != nil {
			monitoring.Logf("%s channel: %v", s.Side(), err)
		}
	}
	b.observe(b.clock.Since(start))
}

func (b *Bridge) observe(d time.Duration) {
	us := float64(d) / float64(time.Microsecond)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cycles++
	if len(b.samples) < timingWindow {
		b.samples = append(b.samples, us)
		return
	}
	b.samples[b.next] = us
	b.next = (b.next + 1) % timingWindow
}

// Stats returns timing statistics over the most recent cycles.
func (b *Bridge) Stats() CycleStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := CycleStats{Cycles: b.cycles}
	if len(b.samples) == 0 {
		return out
	}
	out.MeanUS, out.StdDevUS = stat.MeanStdDev(b.samples, nil)
	if len(b.samples) == 1 {
		// the unbiased estimate is undefined for one sample
		out.StdDevUS = 0
	}
	for _, v := range b.samples {
		if v > out.MaxUS {
			out.MaxUS = v
		}
	}
	return out
}

// Run calls Cycle every interval until ctx is cancelled.
func (b *Bridge) Run(ctx context.Context, interval time.Duration) error {
	ticker := b.clock.NewTicker(interval)
	defer ticker.Stop()
	monitoring.Logf("hardware link polling %d channel(s) every %v", len(b.sessions), interval)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
			b.Cycle()
		}
	}
}

// AttachAdminRoutes adds session state and cycle timing to the debug index.
func (b *Bridge) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	for _, s := range b.sessions {
		debug.KVFunc(fmt.Sprintf("Link %s", s.Side()), func() any {
			info := s.Info()
			return fmt.Sprintf("%s, %d commands, %d frames, %d errors", info.State, info.Commands, info.FramesSent, info.Errors)
		})
	}
	debug.KVFunc("Link cycle", func() any {
		st := b.Stats()
		return fmt.Sprintf("%d cycles, mean %.0fus, stddev %.0fus, max %.0fus", st.Cycles, st.MeanUS, st.StdDevUS, st.MaxUS)
	})
}
