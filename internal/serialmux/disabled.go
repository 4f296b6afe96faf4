package serialmux

import (
	"net/http"
	"sync"
)

// DisabledSerialMux is a no-op channel used when the hardware is absent
// (-dev). Reads always report ErrNoData and writes are discarded. It tracks
// subscribers so their channels are closed on Unsubscribe() or Close(),
// letting readers unblock predictably during shutdown.
type DisabledSerialMux struct {
	name        string
	mu          sync.Mutex
	subscribers map[string]chan WireEvent
	closing     bool
}

func NewDisabledSerialMux(name string) *DisabledSerialMux {
	return &DisabledSerialMux{
		name:        name,
		subscribers: make(map[string]chan WireEvent),
	}
}

func (d *DisabledSerialMux) Name() string { return d.name }

func (d *DisabledSerialMux) Subscribe() (string, chan WireEvent) {
	id := randomID()
	ch := make(chan WireEvent)

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closing {
		// If already closing, return a closed channel so callers don't block.
		close(ch)
		return id, ch
	}
	d.subscribers[id] = ch
	return id, ch
}

func (d *DisabledSerialMux) Unsubscribe(id string) {
	d.mu.Lock()
	if ch, ok := d.subscribers[id]; ok {
		close(ch)
		delete(d.subscribers, id)
	}
	d.mu.Unlock()
}

func (d *DisabledSerialMux) ReadChunk() ([]byte, error) { return nil, ErrNoData }

func (d *DisabledSerialMux) Write([]byte) error { return nil }

func (d *DisabledSerialMux) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closing {
		return nil
	}
	d.closing = true
	for id, ch := range d.subscribers {
		close(ch)
		delete(d.subscribers, id)
	}
	return nil
}

func (d *DisabledSerialMux) AttachAdminRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/debug/serial-"+d.name+"-disabled", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("serial disabled"))
	})
}
