// Package api serves the bridge's HTTP control surface: the current cell
// snapshot, link session state, and endpoints to inject pointers, the
// reference frame and cell overrides without a browser controller.
package api

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/touchring/internal/cells"
	"github.com/banshee-data/touchring/internal/geometry"
	"github.com/banshee-data/touchring/internal/link"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// OverrideSource is the override source owned by PUT /api/overrides.
const OverrideSource = "api"

// maxBodyBytes caps request bodies; the largest valid one is a 240-cell list.
const maxBodyBytes = 64 * 1024

// SessionLister is implemented by *link.Bridge.
type SessionLister interface {
	Sessions() []*link.Session
}

type Server struct {
	agg      *cells.Aggregator
	sessions SessionLister
	activity *cells.Activity
}

// NewServer returns an API server. sessions and activity may be nil.
func NewServer(agg *cells.Aggregator, sessions SessionLister, activity *cells.Activity) *Server {
	return &Server{
		agg:      agg,
		sessions: sessions,
		activity: activity,
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

// ServeMux returns a mux with every /api route registered.
func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	s.Register(mux)
	return mux
}

// Register adds the /api routes to an existing mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/cells", s.showCells)
	mux.HandleFunc("/api/sessions", s.listSessions)
	mux.HandleFunc("/api/frame", s.setFrame)
	mux.HandleFunc("/api/pointers", s.pointers)
	mux.HandleFunc("/api/overrides", s.replaceOverrides)
}

// cellsResponse is the body of GET /api/cells.
type cellsResponse struct {
	Active []int `json:"active"`
	Count  int   `json:"count"`
}

func (s *Server) showCells(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	snap := s.agg.Latest()
	writeJSONOK(w, cellsResponse{Active: snap.Active(), Count: snap.Count()})
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	infos := []link.Info{}
	if s.sessions != nil {
		for _, sess := range s.sessions.Sessions() {
			infos = append(infos, sess.Info())
		}
	}
	writeJSONOK(w, infos)
}

// frameRequest is a window rectangle in screen units.
type frameRequest struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Right  float64 `json:"right"`
	Bottom float64 `json:"bottom"`
}

func (s *Server) setFrame(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req frameRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Right <= req.Left || req.Bottom <= req.Top {
		badRequest(w, "frame rectangle is empty")
		return
	}
	f := geometry.FrameFromRect(req.Left, req.Top, req.Right, req.Bottom)
	s.agg.Frames().Store(f)
	writeJSONOK(w, map[string]float64{"x": f.Center.X, "y": f.Center.Y, "radius": f.Radius})
}

func (s *Server) pointers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSONOK(w, map[string]int{"count": s.agg.Pointers()})
	case http.MethodPost:
		var obs geometry.Observation
		if !decodeBody(w, r, &obs) {
			return
		}
		s.agg.UpdatePointer(obs)
		writeJSON(w, http.StatusAccepted, obs)
	case http.MethodDelete:
		v := r.URL.Query().Get("id")
		id, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			badRequest(w, fmt.Sprintf("invalid 'id' parameter %q", v))
			return
		}
		s.agg.ReleasePointer(uint32(id))
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w)
	}
}

// overridesRequest is the body of PUT /api/overrides.
type overridesRequest struct {
	Cells []int `json:"cells"`
}

func (s *Server) replaceOverrides(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w)
		return
	}
	var req overridesRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.agg.Overrides().Replace(OverrideSource, req.Cells); err != nil {
		badRequest(w, err.Error())
		return
	}
	writeJSONOK(w, map[string]int{"count": len(req.Cells)})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		badRequest(w, fmt.Sprintf("invalid JSON body: %v", err))
		return false
	}
	return true
}
