// Package api serves the tracker's read-only status surface: live servo
// duties, lock ownership, controller state, pipeline timing and the command
// journal.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/facelock/internal/db"
	"github.com/banshee-data/facelock/internal/monitoring"
	"github.com/banshee-data/facelock/internal/pipeline"
	"github.com/banshee-data/facelock/internal/servo"
	"github.com/banshee-data/facelock/internal/track"
	"github.com/banshee-data/facelock/internal/version"
)

// ANSI escape codes for status colouring in request logs.
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

const (
	defaultCommandLimit = 100
	maxCommandLimit     = 1000
)

// DutyReader exposes the actuator's last commanded duties.
type DutyReader interface {
	Snapshot() map[servo.Axis]int
}

// StateReader exposes the automatic controller's state.
type StateReader interface {
	State() track.State
	Lock() *track.ExclusionLock
}

// StatsReader exposes pipeline counters.
type StatsReader interface {
	Stats() pipeline.Stats
}

// DropCounter reports journal entries lost to back-pressure.
type DropCounter interface {
	Dropped() uint64
}

// Server holds the components the status endpoints report on. Any of them
// may be nil; the corresponding fields are then omitted.
type Server struct {
	Duties     DutyReader
	Controller StateReader
	Pipeline   StatsReader
	Journal    DropCounter
	DB         *db.DB
	SessionID  string

	started time.Time
}

// NewServer returns a Server whose uptime is measured from now.
func NewServer() *Server {
	return &Server{started: time.Now()}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
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
		monitoring.Logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

// Attach registers the status routes on mux.
func (s *Server) Attach(mux *http.ServeMux) {
	mux.HandleFunc("/api/status", s.showStatus)
	mux.HandleFunc("/api/commands", s.listCommands)
	mux.HandleFunc("/api/sessions", s.listSessions)
	mux.HandleFunc("/debug/duty-chart", s.showDutyChart)
}

// ServeMux returns a new mux with the status routes attached.
func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	s.Attach(mux)
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		monitoring.Logf("api: failed to encode response: %v", err)
	}
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// Status is the /api/status payload.
type Status struct {
	Version     string          `json:"version"`
	SessionID   string          `json:"session_id,omitempty"`
	UptimeS     float64         `json:"uptime_s"`
	Duties      map[string]int  `json:"duties,omitempty"`
	LockHolder  track.Driver    `json:"lock_holder"`
	Track       *track.State    `json:"track,omitempty"`
	Pipeline    *pipeline.Stats `json:"pipeline,omitempty"`
	DroppedCmds uint64          `json:"dropped_commands"`
}

func (s *Server) status() Status {
	st := Status{Version: version.Version, SessionID: s.SessionID}
	if !s.started.IsZero() {
		st.UptimeS = time.Since(s.started).Seconds()
	}
	if s.Duties != nil {
		st.Duties = make(map[string]int, len(servo.Axes))
		for axis, duty := range s.Duties.Snapshot() {
			st.Duties[axis.String()] = duty
		}
	}
	if s.Controller != nil {
		state := s.Controller.State()
		st.Track = &state
		if lock := s.Controller.Lock(); lock != nil {
			st.LockHolder = lock.Holder()
		}
	}
	if s.Pipeline != nil {
		stats := s.Pipeline.Stats()
		st.Pipeline = &stats
	}
	if s.Journal != nil {
		st.DroppedCmds = s.Journal.Dropped()
	}
	return st
}

func (s *Server) showStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, s.status())
}

func parseLimit(r *http.Request, def int) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, false
	}
	if n > maxCommandLimit {
		n = maxCommandLimit
	}
	return n, true
}

func (s *Server) listCommands(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if s.DB == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "command journal not available")
		return
	}
	limit, ok := parseLimit(r, defaultCommandLimit)
	if !ok {
		writeJSONError(w, http.StatusBadRequest, "limit must be a positive integer")
		return
	}

	var (
		cmds []db.CommandRecord
		err  error
	)
	if session := r.URL.Query().Get("session"); session != "" {
		cmds, err = s.DB.SessionCommands(r.Context(), session)
	} else {
		cmds, err = s.DB.RecentCommands(r.Context(), limit)
	}
	if err != nil {
		monitoring.Logf("api: failed to list commands: %v", err)
		writeJSONError(w, http.StatusInternalServerError, "failed to list commands")
		return
	}
	if cmds == nil {
		cmds = []db.CommandRecord{}
	}
	writeJSON(w, http.StatusOK, cmds)
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if s.DB == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "session store not available")
		return
	}
	limit, ok := parseLimit(r, 20)
	if !ok {
		writeJSONError(w, http.StatusBadRequest, "limit must be a positive integer")
		return
	}
	sessions, err := s.DB.Sessions(r.Context(), limit)
	if err != nil {
		monitoring.Logf("api: failed to list sessions: %v", err)
		writeJSONError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}
	if sessions == nil {
		sessions = []db.Session{}
	}
	writeJSON(w, http.StatusOK, sessions)
}
