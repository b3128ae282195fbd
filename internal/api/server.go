// Package api serves stored tracking runs over HTTP.
package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/lift.report/internal/db"
	"github.com/banshee-data/lift.report/internal/httputil"
	"github.com/banshee-data/lift.report/internal/kinematics"
	"github.com/banshee-data/lift.report/internal/monitoring"
	"github.com/banshee-data/lift.report/internal/units"
	"github.com/banshee-data/lift.report/internal/version"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

const defaultListLimit = 100

// RunStore is the subset of *db.DB the server reads from.
type RunStore interface {
	ListRuns(limit int) ([]db.Run, error)
	GetRun(id string) (*db.Run, error)
	DeleteRun(id string) error
}

type Server struct {
	store RunStore
	units string
}

// NewServer returns a server reporting velocities in units unless a request
// asks for others.
func NewServer(store RunStore, units string) *Server {
	return &Server{
		store: store,
		units: units,
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
		monitoring.Logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/runs", s.listRuns)
	mux.HandleFunc("/api/runs/{id}", s.handleRun)
	mux.HandleFunc("/api/runs/{id}/velocities", s.showVelocities)
	mux.HandleFunc("/api/config", s.showConfig)
	mux.HandleFunc("/api/version", s.showVersion)
	return mux
}

// runAPI is a stored run with its velocities converted to Units.
type runAPI struct {
	db.Run
	Units   string             `json:"units"`
	Summary kinematics.Summary `json:"summary"`
}

func (s *Server) toAPI(run db.Run, u string) runAPI {
	sum := run.Summary
	sum.PeakConcentric = units.ConvertSpeed(sum.PeakConcentric, u)
	sum.PeakEccentric = units.ConvertSpeed(sum.PeakEccentric, u)
	sum.MeanConcentric = units.ConvertSpeed(sum.MeanConcentric, u)
	if run.Velocities != nil {
		run.Velocities = units.ConvertSeries(run.Velocities, u)
	}
	return runAPI{Run: run, Units: u, Summary: sum}
}

// requestUnits returns the units query parameter, falling back to the
// server default.
func (s *Server) requestUnits(r *http.Request) (string, error) {
	u := r.URL.Query().Get("units")
	if u == "" {
		return s.units, nil
	}
	if !units.IsValid(u) {
		return "", fmt.Errorf("invalid 'units' parameter; must be one of: %s", units.GetValidUnitsString())
	}
	return u, nil
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	limit := defaultListLimit
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 1 {
			httputil.BadRequest(w, "Invalid 'limit' parameter")
			return
		}
		limit = parsed
	}
	u, err := s.requestUnits(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	runs, err := s.store.ListRuns(limit)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to retrieve runs: %v", err))
		return
	}
	out := make([]runAPI, len(runs))
	for i, run := range runs {
		out[i] = s.toAPI(run, u)
	}
	httputil.WriteJSONOK(w, out)
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	switch r.Method {
	case http.MethodGet:
		s.showRun(w, r, id)
	case http.MethodDelete:
		s.deleteRun(w, id)
	default:
		httputil.MethodNotAllowed(w)
	}
}

func (s *Server) showRun(w http.ResponseWriter, r *http.Request, id string) {
	u, err := s.requestUnits(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	run, ok := s.getRun(w, id)
	if !ok {
		return
	}
	httputil.WriteJSONOK(w, s.toAPI(*run, u))
}

func (s *Server) deleteRun(w http.ResponseWriter, id string) {
	if err := s.store.DeleteRun(id); err != nil {
		if errors.Is(err, db.ErrRunNotFound) {
			httputil.NotFound(w, err.Error())
			return
		}
		httputil.InternalServerError(w, fmt.Sprintf("Failed to delete run: %v", err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// getRun writes the error response itself and reports whether the caller
// should continue.
func (s *Server) getRun(w http.ResponseWriter, id string) (*db.Run, bool) {
	run, err := s.store.GetRun(id)
	if err != nil {
		if errors.Is(err, db.ErrRunNotFound) {
			httputil.NotFound(w, err.Error())
			return nil, false
		}
		httputil.InternalServerError(w, fmt.Sprintf("Failed to retrieve run: %v", err))
		return nil, false
	}
	return run, true
}

type velocitiesAPI struct {
	RunID      string    `json:"run_id"`
	Units      string    `json:"units"`
	FPS        float64   `json:"fps"`
	Timestamps []float64 `json:"timestamps_s"`
	Velocities []float64 `json:"velocities"`
}

func (s *Server) showVelocities(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	u, err := s.requestUnits(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	format := r.URL.Query().Get("format")
	if format != "" && format != "json" && format != "csv" {
		httputil.BadRequest(w, "Invalid 'format' parameter; must be json or csv")
		return
	}

	run, ok := s.getRun(w, r.PathValue("id"))
	if !ok {
		return
	}

	if format == "csv" {
		httputil.WriteCSV(w, fmt.Sprintf("run-%s.csv", run.ID), func(out io.Writer) error {
			cw := &kinematics.CSVWriter{W: out, FPS: run.FPS, Units: u}
			return cw.WriteVelocities(run.Velocities)
		})
		return
	}

	ts, err := kinematics.Timestamps(len(run.Velocities), run.FPS)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to compute timestamps: %v", err))
		return
	}
	httputil.WriteJSONOK(w, velocitiesAPI{
		RunID:      run.ID,
		Units:      u,
		FPS:        run.FPS,
		Timestamps: ts,
		Velocities: units.ConvertSeries(run.Velocities, u),
	})
}

func (s *Server) showConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, map[string]interface{}{
		"units":       s.units,
		"valid_units": units.ValidUnits,
	})
}

func (s *Server) showVersion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, version.Get())
}
