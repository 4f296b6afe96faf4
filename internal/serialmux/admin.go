package serialmux

import (
	"encoding/hex"
	"fmt"
	"net/http"
	"time"

	"tailscale.com/tsweb"
)

// AttachAdminRoutesForMux registers the wire tail for m under
// /debug/serial-<name>/tail. It streams every chunk as a server-sent event
// of the form "<direction> <hex>".
func AttachAdminRoutesForMux(mux *http.ServeMux, m SerialMuxInterface) {
	debug := tsweb.Debugger(mux)
	slug := "serial-" + m.Name() + "/tail"

	debug.HandleFunc(slug, fmt.Sprintf("live hex tail of the %s serial channel", m.Name()), func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no") // Disable buffering for nginx

		id, c := m.Subscribe()
		defer m.Unsubscribe(id)

		// Send initial ping to establish connection
		w.Write([]byte(": ping\n\n"))
		flusher.Flush()

		for {
			select {
			case ev, ok := <-c:
				if !ok {
					return
				}
				line := fmt.Sprintf("data: %s %s %s\n\n", ev.Time.Format(time.TimeOnly), ev.Direction, hex.EncodeToString(ev.Data))
				if _, err := w.Write([]byte(line)); err != nil {
					return
				}
				flusher.Flush()
			case <-r.Context().Done():
				return
			}
		}
	})
}
