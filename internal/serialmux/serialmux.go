// Package serialmux wraps one hardware serial channel. A single owner reads
// command chunks and writes responses; any number of observers may subscribe
// to a copy of the traffic for debugging and capture.
package serialmux

import (
	crand "crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

var (
	// ErrWriteFailed is returned when the port accepted fewer bytes than
	// were written.
	ErrWriteFailed = fmt.Errorf("failed to write to serial port")
	// ErrNoData is returned by ReadChunk when nothing arrived before the
	// read timeout. It is the normal idle result, not a failure.
	ErrNoData = errors.New("no data available")
)

// readBufferSize bounds one ReadChunk. Handshake commands are far shorter.
const readBufferSize = 256

// Direction tells observers which way a WireEvent travelled.
type Direction int

const (
	Inbound Direction = iota
	Outbound
)

func (d Direction) String() string {
	if d == Outbound {
		return "out"
	}
	return "in"
}

// WireEvent is one chunk of traffic seen on the channel.
type WireEvent struct {
	Time      time.Time
	Direction Direction
	Data      []byte
}

// SerialMux owns a serial port and fans its traffic out to observers.
type SerialMux[T SerialPorter] struct {
	name         string
	port         T
	subscribers  map[string]chan WireEvent
	subscriberMu sync.Mutex
	writeMu      sync.Mutex
	closing      bool
	closingMu    sync.Mutex
	buf          []byte
}

// SerialMuxInterface defines the interface for the SerialMux type.
type SerialMuxInterface interface {
	// Name identifies the channel in logs and admin routes.
	Name() string
	// Subscribe creates a new channel receiving a copy of every chunk read
	// or written. The ID is used to unsubscribe.
	Subscribe() (string, chan WireEvent)
	// Unsubscribe removes a channel from the list of subscribers.
	Unsubscribe(string)
	// ReadChunk returns whatever bytes arrived since the last call, or
	// ErrNoData. Only the channel owner may call it.
	ReadChunk() ([]byte, error)
	// Write sends b to the port in full.
	Write(b []byte) error
	// Close closes all subscribed channels and closes the serial port.
	Close() error

	// AttachAdminRoutes attaches admin debugging endpoints to the given HTTP
	// mux served at /debug/. These routes are accessible only over
	// localhost and are not publicly accessible.
	AttachAdminRoutes(*http.ServeMux)
}

// NewSerialMux creates a SerialMux over an already opened port.
func NewSerialMux[T SerialPorter](name string, port T) *SerialMux[T] {
	return &SerialMux[T]{
		name:        name,
		port:        port,
		subscribers: make(map[string]chan WireEvent),
		buf:         make([]byte, readBufferSize),
	}
}

// randomID generates a random channel ID (8 byte random hex encoded value)
func randomID() string {
	b := make([]byte, 8)
	crand.Read(b)
	return hex.EncodeToString(b)
}

func (s *SerialMux[T]) Name() string { return s.name }

func (s *SerialMux[T]) Subscribe() (string, chan WireEvent) {
	id := randomID()
	ch := make(chan WireEvent, 64)
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	s.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber from the serial mux.
func (s *SerialMux[T]) Unsubscribe(id string) {
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	if ch, ok := s.subscribers[id]; ok {
		close(ch)
		delete(s.subscribers, id)
	}
}

func (s *SerialMux[T]) publish(dir Direction, data []byte) {
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	if len(s.subscribers) == 0 {
		return
	}
	ev := WireEvent{Time: time.Now(), Direction: dir, Data: append([]byte(nil), data...)}
	for _, ch := range s.subscribers {
		select {
		case ch <- ev:
		default:
			// slow observers miss events rather than stall the owner
		}
	}
}

func (s *SerialMux[T]) isClosing() bool {
	s.closingMu.Lock()
	defer s.closingMu.Unlock()
	return s.closing
}

// ReadChunk performs one read. A read that times out with no bytes, or a
// port reporting EOF with no bytes, yields ErrNoData.
func (s *SerialMux[T]) ReadChunk() ([]byte, error) {
	if s.isClosing() {
		return nil, io.ErrClosedPipe
	}
	n, err := s.port.Read(s.buf)
	if n == 0 {
		if err == nil || errors.Is(err, io.EOF) {
			return nil, ErrNoData
		}
		return nil, fmt.Errorf("read %s: %w", s.name, err)
	}
	chunk := append([]byte(nil), s.buf[:n]...)
	s.publish(Inbound, chunk)
	// bytes that did arrive are still delivered alongside a late error
	if err != nil && !errors.Is(err, io.EOF) {
		return chunk, fmt.Errorf("read %s: %w", s.name, err)
	}
	return chunk, nil
}

// Write sends b to the port.
func (s *SerialMux[T]) Write(b []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	n, err := s.port.Write(b)
	if err != nil {
		return fmt.Errorf("write %s: %w", s.name, err)
	}
	if n != len(b) {
		return ErrWriteFailed
	}
	s.publish(Outbound, b)
	return nil
}

func (s *SerialMux[T]) Close() error {
	s.closingMu.Lock()
	s.closing = true
	s.closingMu.Unlock()

	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	for id, ch := range s.subscribers {
		close(ch)
		delete(s.subscribers, id)
	}
	return s.port.Close()
}

func (s *SerialMux[T]) AttachAdminRoutes(mux *http.ServeMux) {
	AttachAdminRoutesForMux(mux, s)
}
