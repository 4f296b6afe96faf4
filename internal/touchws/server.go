// Package touchws accepts touch input from the browser controller over a
// websocket. Each connection owns one override source and the pointers it
// reported; both are dropped when the connection closes.
package touchws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"tailscale.com/tsweb"

	"github.com/banshee-data/touchring/internal/cells"
	"github.com/banshee-data/touchring/internal/geometry"
	"github.com/banshee-data/touchring/internal/monitoring"
)

// DefaultAddr is where the browser controller expects the bridge.
const DefaultAddr = "127.0.0.1:25730"

// greeting is the first text message the controller sends.
const greeting = "G"

// message is a JSON text message from a client.
type message struct {
	Type string `json:"type"`

	// pointer
	ID     uint32  `json:"id"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Down   *bool   `json:"down"`
	Radius int     `json:"radius"`

	// frame
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Right  float64 `json:"right"`
	Bottom float64 `json:"bottom"`
}

// Server is an http.Handler upgrading every request to a controller
// connection.
type Server struct {
	agg     *cells.Aggregator
	nextID  atomic.Uint64
	clients atomic.Int64
}

// NewServer returns a server feeding agg.
func NewServer(agg *cells.Aggregator) *Server {
	return &Server{agg: agg}
}

// Clients returns the number of connected controllers.
func (s *Server) Clients() int64 { return s.clients.Load() }

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// the controller page is opened from a file or another port
		InsecureSkipVerify: true,
	})
	if err != nil {
		monitoring.Logf("touchws: accept: %v", err)
		return
	}
	defer c.CloseNow()

	cl := &client{
		srv:      s,
		conn:     c,
		source:   fmt.Sprintf("ws-%d", s.nextID.Add(1)),
		pointers: make(map[uint32]struct{}),
	}
	s.clients.Add(1)
	defer s.clients.Add(-1)
	defer cl.cleanup()

	monitoring.Logf("touchws: %s connected from %s", cl.source, r.RemoteAddr)
	err = cl.serve(r.Context())
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		monitoring.Logf("touchws: %s closed", cl.source)
	default:
		if !errors.Is(err, context.Canceled) {
			monitoring.Logf("touchws: %s: %v", cl.source, err)
		}
	}
}

type client struct {
	srv      *Server
	conn     *websocket.Conn
	source   string
	pointers map[uint32]struct{}
}

func (cl *client) serve(ctx context.Context) error {
	for {
		typ, data, err := cl.conn.Read(ctx)
		if err != nil {
			return err
		}
		switch typ {
		case websocket.MessageBinary:
			cl.handleMask(data)
		case websocket.MessageText:
			if string(data) == greeting {
				if err := cl.greet(ctx); err != nil {
					return err
				}
				continue
			}
			cl.handleJSON(data)
		}
	}
}

// greet answers the greeting with the current activation mask.
func (cl *client) greet(ctx context.Context) error {
	snap := cl.srv.agg.Latest()
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	return cl.conn.Write(ctx, websocket.MessageBinary, snap.Mask())
}

func (cl *client) handleMask(data []byte) {
	active, err := cells.DecodeMask(data)
	if err != nil {
		monitoring.Logf("touchws: %s: %v", cl.source, err)
		return
	}
	if err := cl.srv.agg.Overrides().Replace(cl.source, active); err != nil {
		monitoring.Logf("touchws: %s: %v", cl.source, err)
	}
}

func (cl *client) handleJSON(data []byte) {
	var msg message
	if err := json.Unmarshal(data, &msg); err != nil {
		monitoring.Logf("touchws: %s: bad message: %v", cl.source, err)
		return
	}
	switch msg.Type {
	case "pointer":
		if msg.Down != nil && !*msg.Down {
			cl.srv.agg.ReleasePointer(msg.ID)
			delete(cl.pointers, msg.ID)
			return
		}
		cl.pointers[msg.ID] = struct{}{}
		cl.srv.agg.UpdatePointer(geometry.Observation{PointerID: msg.ID, X: msg.X, Y: msg.Y, Radius: msg.Radius})
	case "frame":
		if msg.Right <= msg.Left || msg.Bottom <= msg.Top {
			monitoring.Logf("touchws: %s: empty frame rectangle", cl.source)
			return
		}
		cl.srv.agg.Frames().Store(geometry.FrameFromRect(msg.Left, msg.Top, msg.Right, msg.Bottom))
	default:
		monitoring.Debugf("touchws: %s: ignoring message type %q", cl.source, msg.Type)
	}
}

func (cl *client) cleanup() {
	cl.srv.agg.Overrides().Clear(cl.source)
	for id := range cl.pointers {
		cl.srv.agg.ReleasePointer(id)
	}
}

// AttachAdminRoutes reports the connected controller count on the tsweb
// debug page.
func (s *Server) AttachAdminRoutes(mux *http.ServeMux) {
	tsweb.Debugger(mux).KVFunc("Controller clients", func() any { return s.Clients() })
}

// ListenAndServe serves controllers on addr until ctx is cancelled.
func ListenAndServe(ctx context.Context, addr string, s *Server) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 5 * time.Second,
		// hijacked connections ignore Shutdown; this ends their reads
		BaseContext: func(net.Listener) context.Context { return ctx },
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			monitoring.Logf("touchws: shutdown: %v", err)
		}
	}()

	monitoring.Logf("touchws: listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
