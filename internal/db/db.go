// Package db stores completed tracking runs in SQLite.
package db

import (
	"compress/gzip"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/tailscale/tailsql/server/tailsql"
	_ "modernc.org/sqlite"
	"tailscale.com/tsweb"

	"github.com/banshee-data/lift.report/internal/kinematics"
	"github.com/banshee-data/lift.report/internal/monitoring"
	"github.com/banshee-data/lift.report/internal/vision"
)

// ErrRunNotFound is returned when no run has the requested ID.
var ErrRunNotFound = errors.New("run not found")

type DB struct {
	*sql.DB
	path string
}

// pragmas are applied to every pooled connection through the DSN.
var pragmas = []string{
	"journal_mode(WAL)",
	"busy_timeout(5000)",
	"synchronous(NORMAL)",
	"temp_store(MEMORY)",
	"foreign_keys(ON)",
}

func dsn(path string) string {
	s := "file:" + path
	for i, p := range pragmas {
		if i == 0 {
			s += "?"
		} else {
			s += "&"
		}
		s += "_pragma=" + p
	}
	return s
}

// OpenDB opens the database at path without touching the schema.
func OpenDB(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, err
	}
	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	return &DB{DB: sqlDB, path: path}, nil
}

// NewDB opens the database at path and applies any pending migrations.
func NewDB(path string) (*DB, error) {
	db, err := OpenDB(path)
	if err != nil {
		return nil, err
	}
	migrations, err := getMigrationsFS()
	if err != nil {
		db.Close()
		return nil, err
	}
	if err := db.MigrateUp(migrations); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// Run is one completed tracking session.
type Run struct {
	ID               string             `json:"id"`
	CreatedAt        time.Time          `json:"created_at"`
	Source           string             `json:"source"`
	Region           vision.Region      `json:"roi"`
	FPS              float64            `json:"fps"`
	ReferenceLengthM float64            `json:"reference_length_m"`
	MetersPerPixel   float64            `json:"meters_per_pixel"`
	Frames           int                `json:"frames"`
	DegenerateFrames []int              `json:"degenerate_frames"`
	Summary          kinematics.Summary `json:"summary"`

	// Positions and Velocities are omitted by ListRuns.
	Positions  []float64 `json:"positions_px,omitempty"`
	Velocities []float64 `json:"velocities,omitempty"`
}

// RecordRun inserts run, assigning an ID and creation time when they are
// unset, and returns the stored ID.
func (db *DB) RecordRun(run *Run) (string, error) {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now()
	}

	roi, err := json.Marshal(run.Region)
	if err != nil {
		return "", fmt.Errorf("failed to encode roi: %w", err)
	}
	positions, err := marshalSeries(run.Positions)
	if err != nil {
		return "", fmt.Errorf("failed to encode positions: %w", err)
	}
	velocities, err := marshalSeries(run.Velocities)
	if err != nil {
		return "", fmt.Errorf("failed to encode velocities: %w", err)
	}
	degenerate := run.DegenerateFrames
	if degenerate == nil {
		degenerate = []int{}
	}
	degenerateJSON, err := json.Marshal(degenerate)
	if err != nil {
		return "", fmt.Errorf("failed to encode degenerate frames: %w", err)
	}
	summary, err := json.Marshal(run.Summary)
	if err != nil {
		return "", fmt.Errorf("failed to encode summary: %w", err)
	}

	_, err = db.Exec(
		`INSERT INTO runs (
			run_id, created_unix, source, roi_json, fps, reference_length_m,
			meters_per_pixel, frames, positions_json, velocities_json,
			degenerate_json, summary_json, peak_concentric_mps
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, unixSeconds(run.CreatedAt), run.Source, string(roi), run.FPS, run.ReferenceLengthM,
		run.MetersPerPixel, run.Frames, positions, velocities,
		string(degenerateJSON), string(summary), run.Summary.PeakConcentric,
	)
	if err != nil {
		return "", fmt.Errorf("failed to insert run: %w", err)
	}
	return run.ID, nil
}

// GetRun returns the run with the given ID, series included.
func (db *DB) GetRun(id string) (*Run, error) {
	row := db.QueryRow(
		`SELECT run_id, created_unix, source, roi_json, fps, reference_length_m,
			meters_per_pixel, frames, degenerate_json, summary_json,
			positions_json, velocities_json
		FROM runs WHERE run_id = ?`, id)

	var run Run
	var positions, velocities string
	if err := scanRun(row, &run, &positions, &velocities); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
		}
		return nil, err
	}
	if err := json.Unmarshal([]byte(positions), &run.Positions); err != nil {
		return nil, fmt.Errorf("failed to decode positions: %w", err)
	}
	if err := json.Unmarshal([]byte(velocities), &run.Velocities); err != nil {
		return nil, fmt.Errorf("failed to decode velocities: %w", err)
	}
	return &run, nil
}

// ListRuns returns up to limit runs, newest first, without their series.
// A non-positive limit returns every run.
func (db *DB) ListRuns(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := db.Query(
		`SELECT run_id, created_unix, source, roi_json, fps, reference_length_m,
			meters_per_pixel, frames, degenerate_json, summary_json
		FROM runs ORDER BY created_unix DESC, run_id LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		var run Run
		if err := scanRun(rows, &run); err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return runs, nil
}

// DeleteRun removes the run with the given ID.
func (db *DB) DeleteRun(id string) error {
	res, err := db.Exec("DELETE FROM runs WHERE run_id = ?", id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

// scanRun reads the common run columns followed by any extra destinations.
func scanRun(s scanner, run *Run, extra ...any) error {
	var created float64
	var roi, degenerate, summary string
	dest := []any{
		&run.ID, &created, &run.Source, &roi, &run.FPS, &run.ReferenceLengthM,
		&run.MetersPerPixel, &run.Frames, &degenerate, &summary,
	}
	if err := s.Scan(append(dest, extra...)...); err != nil {
		return err
	}
	run.CreatedAt = fromUnixSeconds(created)
	if err := json.Unmarshal([]byte(roi), &run.Region); err != nil {
		return fmt.Errorf("failed to decode roi: %w", err)
	}
	if err := json.Unmarshal([]byte(degenerate), &run.DegenerateFrames); err != nil {
		return fmt.Errorf("failed to decode degenerate frames: %w", err)
	}
	if err := json.Unmarshal([]byte(summary), &run.Summary); err != nil {
		return fmt.Errorf("failed to decode summary: %w", err)
	}
	return nil
}

func marshalSeries(v []float64) (string, error) {
	if v == nil {
		v = []float64{}
	}
	b, err := json.Marshal(v)
	return string(b), err
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

func fromUnixSeconds(s float64) time.Time {
	return time.Unix(0, int64(s*1e9)).UTC()
}

func (db *DB) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	// create a tailSQL instance and point it to our DB
	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		log.Fatalf("failed to create tailsql server: %v", err)
	}
	tsql.SetDB("sqlite://"+filepath.Base(db.path), db.DB, &tailsql.DBOptions{
		Label: "Lift runs DB",
	})

	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())

	debug.Handle("backup", "Create and download a backup of the database now", http.HandlerFunc(db.serveBackup))
}

func (db *DB) serveBackup(w http.ResponseWriter, r *http.Request) {
	backupPath := filepath.Join(os.TempDir(), fmt.Sprintf("lift-backup-%d.db", time.Now().UnixNano()))
	if _, err := db.Exec("VACUUM INTO ?", backupPath); err != nil {
		http.Error(w, fmt.Sprintf("Failed to create backup: %v", err), http.StatusInternalServerError)
		return
	}
	defer func() {
		if err := os.Remove(backupPath); err != nil {
			monitoring.Logf("failed to remove backup file: %v", err)
		}
	}()

	backupFile, err := os.Open(backupPath)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to open backup file: %v", err), http.StatusInternalServerError)
		return
	}
	defer backupFile.Close()

	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s.gz", filepath.Base(backupPath)))
	w.Header().Set("Content-Type", "application/gzip")

	gz := gzip.NewWriter(w)
	defer gz.Close()
	if _, err := io.Copy(gz, backupFile); err != nil {
		monitoring.Logf("failed to stream backup: %v", err)
	}
}
