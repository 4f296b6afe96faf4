package capture

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"

	"github.com/tailscale/tailsql/server/tailsql"
	"tailscale.com/tsweb"
)

// AttachAdminRoutes mounts a tailsql console over the capture database and a
// JSON transcript export under /debug/.
func (db *DB) AttachAdminRoutes(mux *http.ServeMux, rec *Recorder) {
	debug := tsweb.Debugger(mux)

	// create a tailSQL instance and point it to our DB
	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		log.Fatalf("failed to create tailsql server: %v", err)
	}
	tsql.SetDB("sqlite://"+db.path, db.DB, &tailsql.DBOptions{
		Label: "Wire capture",
	})

	// mount the tailSQL server on the debug /tailsql path
	debug.Handle("tailsql/", "SQL live debugging of the wire capture", tsql.NewMux())

	debug.HandleFunc("capture-sessions", "Recorded link sessions (JSON)", func(w http.ResponseWriter, r *http.Request) {
		sessions, err := db.Sessions(r.Context())
		if err != nil {
			http.Error(w, fmt.Sprintf("failed to list sessions: %v", err), http.StatusInternalServerError)
			return
		}
		writeJSON(w, sessions)
	})

	debug.HandleSilentFunc("capture-transcript", func(w http.ResponseWriter, r *http.Request) {
		id := r.URL.Query().Get("session")
		if id == "" {
			http.Error(w, "missing session", http.StatusBadRequest)
			return
		}
		limit := 0
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				http.Error(w, "invalid limit", http.StatusBadRequest)
				return
			}
			limit = n
		}
		entries, err := db.Transcript(r.Context(), id, limit)
		if err != nil {
			http.Error(w, fmt.Sprintf("failed to read transcript: %v", err), http.StatusInternalServerError)
			return
		}
		writeJSON(w, entries)
	})

	if rec != nil {
		debug.KVFunc("Capture written", func() any { return rec.Written() })
		debug.KVFunc("Capture dropped", func() any { return rec.Dropped() })
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("capture: failed to encode response: %v", err)
	}
}
