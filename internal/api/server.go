package api

import (
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/banshee-data/pulse.report/internal/db"
	"github.com/banshee-data/pulse.report/internal/httputil"
	"github.com/banshee-data/pulse.report/internal/sampler"
	"github.com/banshee-data/pulse.report/internal/serialmux"
	"github.com/banshee-data/pulse.report/internal/units"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

type Server struct {
	m       serialmux.SerialMuxInterface
	db      *db.DB
	sampler *sampler.Sampler
	units   string
}

func NewServer(m serialmux.SerialMuxInterface, db *db.DB, smp *sampler.Sampler, rateUnits string) *Server {
	return &Server{
		m:       m,
		db:      db,
		sampler: smp,
		units:   rateUnits,
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
	case statusCode >= 400 && statusCode < 500:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 500:
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

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", s.showMetrics)
	mux.HandleFunc("/beats", s.listBeats)
	mux.HandleFunc("/sessions", s.listSessions)
	mux.HandleFunc("/stats", s.showSessionStats)
	mux.HandleFunc("/live", s.streamLive)
	mux.HandleFunc("/command", s.sendCommandHandler)
	mux.HandleFunc("/config", s.handleConfig)
	return mux
}

// boardCommands are the write operations the sensor board accepts over
// serial. Anything else is refused rather than forwarded blind.
var boardCommands = map[string]bool{
	"AX": true, // reset to factory defaults
	"OR": true, // stream raw ADC counts with each sample
	"OT": true, // prefix samples with the board uptime in ms
	"S2": true, // set sampling cadence to 50 samples/second
	"O+": true, // start streaming samples
}

func validBoardCommand(command string) bool {
	if boardCommands[command] {
		return true
	}
	// Clock sync: C=<unix seconds>.
	if rest, ok := strings.CutPrefix(command, "C="); ok {
		_, err := strconv.ParseInt(rest, 10, 64)
		return err == nil
	}
	return false
}

func (s *Server) sendCommandHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	command := r.FormValue("command")
	if !validBoardCommand(command) {
		http.Error(w, fmt.Sprintf("Unknown board command %q", command), http.StatusBadRequest)
		return
	}

	if err := s.m.SendCommand(command); err != nil {
		http.Error(w, "Failed to send command", http.StatusInternalServerError)
		return
	}
	io.WriteString(w, "Command sent successfully")
}

// metricsResponse is the sampler snapshot plus the configured-unit rate.
type metricsResponse struct {
	sampler.Snapshot
	Rate      float64 `json:"rate"`
	RateUnits string  `json:"rate_units"`
}

func (s *Server) showMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	snap := s.sampler.Snapshot()
	httputil.WriteJSONOK(w, metricsResponse{
		Snapshot:  snap,
		Rate:      units.ConvertRate(float64(snap.BPM), s.units),
		RateUnits: s.units,
	})
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	sessions, err := s.db.Sessions()
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to retrieve sessions: %v", err))
		return
	}
	if sessions == nil {
		sessions = []db.Session{}
	}
	httputil.WriteJSONOK(w, sessions)
}

// sessionID resolves the session query parameter, defaulting to the
// sampler's live session.
func (s *Server) sessionID(r *http.Request) string {
	if id := r.URL.Query().Get("session"); id != "" {
		return id
	}
	return s.sampler.Session().ID
}

func (s *Server) listBeats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	limit := 0
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 1 {
			httputil.BadRequest(w, "Invalid 'limit' parameter")
			return
		}
		limit = parsed
	}

	beats, err := s.db.Beats(s.sessionID(r), limit)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to retrieve beats: %v", err))
		return
	}
	if beats == nil {
		beats = []db.Beat{}
	}
	httputil.WriteJSONOK(w, beats)
}

func (s *Server) showSessionStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	stats, err := s.db.SessionStats(s.sessionID(r))
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to retrieve stats: %v", err))
		return
	}
	httputil.WriteJSONOK(w, stats)
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		httputil.WriteJSONOK(w, map[string]interface{}{
			"units":     s.units,
			"threshold": s.sampler.Threshold(),
		})

	case http.MethodPost:
		raw := r.FormValue("threshold")
		threshold, err := strconv.ParseFloat(raw, 64)
		if err != nil || threshold <= 0 {
			httputil.BadRequest(w, "Invalid 'threshold' parameter")
			return
		}
		s.sampler.SetThreshold(threshold)
		httputil.WriteJSONOK(w, map[string]interface{}{"threshold": threshold})

	default:
		httputil.MethodNotAllowed(w)
	}
}
