// Package link drives the hardware side of the bridge: one Session per
// serial channel answering the handshake and, once active, streaming
// activation frames.
package link

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/touchring/internal/cells"
	"github.com/banshee-data/touchring/internal/monitoring"
	"github.com/banshee-data/touchring/internal/protocol"
	"github.com/banshee-data/touchring/internal/serialmux"
)

// Exchange kinds passed to a Recorder.
const (
	KindCommand  = "command"
	KindResponse = "response"
	KindFrame    = "frame"
	KindState    = "state"
)

// Exchange is one protocol event offered to a Recorder.
type Exchange struct {
	Time      time.Time
	SessionID uuid.UUID
	Side      protocol.Side
	Kind      string
	Name      string
	Data      []byte
}

// Recorder receives protocol events. Implementations must not block.
type Recorder interface {
	RecordExchange(Exchange)
}

// Info is a point-in-time view of a session, safe to serialise.
type Info struct {
	Side        string `json:"side"`
	ID          string `json:"id"`
	Channel     string `json:"channel"`
	State       string `json:"state"`
	Commands    uint64 `json:"commands"`
	FramesSent  uint64 `json:"frames_sent"`
	Errors      uint64 `json:"errors"`
	LastCommand string `json:"last_command,omitempty"`
	FrameSeq    int    `json:"frame_seq"`
}

// Session is the protocol state of one hardware channel. Poll must be
// called from a single goroutine; Info and State may be called from any.
type Session struct {
	id       uuid.UUID
	side     protocol.Side
	port     serialmux.SerialMuxInterface
	builder  *protocol.FrameBuilder
	recorder Recorder
	// recordFrames includes outbound frames in what the recorder sees.
	recordFrames bool

	mu          sync.Mutex
	state       protocol.State
	commands    uint64
	framesSent  uint64
	errors      uint64
	lastCommand string
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithRecorder attaches a recorder. When frames is true every outbound frame
// is recorded too.
func WithRecorder(r Recorder, frames bool) SessionOption {
	return func(s *Session) {
		s.recorder = r
		s.recordFrames = frames
	}
}

// WithLayout selects the frame layout. The default is protocol.Dense.
func WithLayout(l protocol.Layout) SessionOption {
	return func(s *Session) { s.builder = protocol.NewFrameBuilder(l) }
}

// NewSession returns a session in the Handshaking state.
func NewSession(side protocol.Side, port serialmux.SerialMuxInterface, opts ...SessionOption) *Session {
	s := &Session{
		id:      uuid.New(),
		side:    side,
		port:    port,
		builder: protocol.NewFrameBuilder(protocol.Dense),
		state:   protocol.Handshaking,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Session) ID() uuid.UUID       { return s.id }
func (s *Session) Side() protocol.Side { return s.side }

// State returns the current handshake state.
func (s *Session) State() protocol.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Info returns counters and state for reporting.
func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Info{
		Side:        s.side.String(),
		ID:          s.id.String(),
		Channel:     s.port.Name(),
		State:       s.state.String(),
		Commands:    s.commands,
		FramesSent:  s.framesSent,
		Errors:      s.errors,
		LastCommand: s.lastCommand,
		FrameSeq:    int(s.builder.Seq()),
	}
}

func (s *Session) record(kind, name string, data []byte) {
	if s.recorder == nil {
		return
	}
	s.recorder.RecordExchange(Exchange{
		Time:      time.Now(),
		SessionID: s.id,
		Side:      s.side,
		Kind:      kind,
		Name:      name,
		Data:      append([]byte(nil), data...),
	})
}

// Handle applies one inbound command: it updates the state and writes any
// response. It is the dispatch half of Poll.
func (s *Session) Handle(cmd protocol.Command) error {
	res := protocol.Dispatch(s.side, cmd)
	monitoring.Debugf("%s: %s (%#02x) payload %x", s.side, res.Name, cmd.Opcode, cmd.Payload)
	s.record(KindCommand, res.Name, append([]byte{cmd.Opcode}, cmd.Payload...))

	s.mu.Lock()
	s.commands++
	s.lastCommand = res.Name
	prev := s.state
	s.state = res.Next.Apply(prev)
	next := s.state
	s.mu.Unlock()

	if next != prev {
		monitoring.Logf("%s channel %s -> %s", s.side, prev, next)
		s.record(KindState, next.String(), nil)
	}

	if len(res.Response) == 0 {
		return nil
	}
	if err := s.port.Write(res.Response); err != nil {
		s.countError()
		return err
	}
	s.record(KindResponse, res.Name, res.Response)
	return nil
}

// Frame encodes this side's half of snap and writes it. It does nothing
// unless the session is Active.
func (s *Session) Frame(snap cells.Snapshot) error {
	s.mu.Lock()
	if s.state != protocol.Active {
		s.mu.Unlock()
		return nil
	}
	f := s.builder.Build(snap.Half(s.side.SecondHalf()))
	s.mu.Unlock()

	if err := s.port.Write(f[:]); err != nil {
		s.countError()
		return err
	}

	s.mu.Lock()
	s.framesSent++
	s.mu.Unlock()
	if s.recordFrames {
		s.record(KindFrame, "frame", f[:])
	}
	return nil
}

// Poll runs one cycle: read at most one command, dispatch it, then send a
// frame of snap if the session is Active. Idle channels are not an error.
// Read and write failures are returned joined; the state is left as it was.
func (s *Session) Poll(snap cells.Snapshot) error {
	var errs []error

	chunk, err := s.port.ReadChunk()
	switch {
	case errors.Is(err, serialmux.ErrNoData):
	case err != nil:
		s.countError()
		errs = append(errs, err)
	}
	if cmd, ok := protocol.ParseCommand(chunk); ok {
		if err := s.Handle(cmd); err != nil {
			errs = append(errs, err)
		}
	}

	if err := s.Frame(snap); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (s *Session) countError() {
	s.mu.Lock()
	s.errors++
	s.mu.Unlock()
}
