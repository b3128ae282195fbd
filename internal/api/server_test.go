package api

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/lift.report/internal/db"
	"github.com/banshee-data/lift.report/internal/kinematics"
	"github.com/banshee-data/lift.report/internal/testutil"
	"github.com/banshee-data/lift.report/internal/version"
	"github.com/banshee-data/lift.report/internal/vision"
)

func setupTestServer(t *testing.T, units string) (*Server, *db.DB) {
	t.Helper()
	return serverFromTemplate(t, emptyTemplate, units)
}

func serverFromTemplate(t *testing.T, template, units string) (*Server, *db.DB) {
	t.Helper()
	dbInst, err := db.NewDB(cloneTemplate(t, template))
	require.NoError(t, err)
	t.Cleanup(func() { dbInst.Close() })
	return NewServer(dbInst, units), dbInst
}

func recordSampleRun(t *testing.T, store *db.DB, source string, created time.Time) string {
	t.Helper()
	id, err := store.RecordRun(&db.Run{
		CreatedAt:        created,
		Source:           source,
		Region:           vision.Region{X: 1, Y: 2, Width: 50, Height: 50},
		FPS:              10,
		ReferenceLengthM: 0.45,
		MetersPerPixel:   0.009,
		Frames:           3,
		Positions:        []float64{100, 90, 95},
		Velocities:       []float64{1, -0.5},
		Summary: kinematics.Summary{
			Samples:        2,
			PeakConcentric: 1,
			PeakEccentric:  -0.5,
			MeanConcentric: 1,
			DisplacementM:  0.05,
			DurationS:      0.2,
		},
	})
	require.NoError(t, err)
	return id
}

func get(t *testing.T, s *Server, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	s.ServeMux().ServeHTTP(rec, req)
	return rec
}

func TestListRuns(t *testing.T) {
	t.Parallel()
	server, store := setupTestServer(t, "mps")

	base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	recordSampleRun(t, store, "first.mp4", base)
	recordSampleRun(t, store, "second.mp4", base.Add(time.Hour))

	rec := get(t, server, http.MethodGet, "/api/runs")
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var runs []map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&runs))
	require.Len(t, runs, 2)
	assert.Equal(t, "second.mp4", runs[0]["source"])
	assert.Equal(t, "mps", runs[0]["units"])
	assert.NotContains(t, runs[0], "velocities")

	rec = get(t, server, http.MethodGet, "/api/runs?limit=1")
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&runs))
	assert.Len(t, runs, 1)
}

func TestListRunsConvertsSummary(t *testing.T) {
	t.Parallel()
	server, store := setupTestServer(t, "kmph")
	recordSampleRun(t, store, "a.mp4", time.Now())

	rec := get(t, server, http.MethodGet, "/api/runs")
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)

	var runs []struct {
		Units   string             `json:"units"`
		Summary kinematics.Summary `json:"summary"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&runs))
	require.Len(t, runs, 1)
	assert.Equal(t, "kmph", runs[0].Units)
	assert.InDelta(t, 3.6, runs[0].Summary.PeakConcentric, 1e-9)
	assert.InDelta(t, -1.8, runs[0].Summary.PeakEccentric, 1e-9)
	// Distances and durations are not speeds.
	assert.InDelta(t, 0.05, runs[0].Summary.DisplacementM, 1e-9)
}

func TestListRunsBadParams(t *testing.T) {
	t.Parallel()
	server, _ := setupTestServer(t, "mps")

	tests := []struct {
		name   string
		method string
		target string
		want   int
	}{
		{"zero limit", http.MethodGet, "/api/runs?limit=0", http.StatusBadRequest},
		{"text limit", http.MethodGet, "/api/runs?limit=abc", http.StatusBadRequest},
		{"bad units", http.MethodGet, "/api/runs?units=furlongs", http.StatusBadRequest},
		{"post", http.MethodPost, "/api/runs", http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := get(t, server, tt.method, tt.target)
			testutil.AssertStatusCode(t, rec.Code, tt.want)
		})
	}
}

func TestShowRun(t *testing.T) {
	t.Parallel()
	server, store := setupTestServer(t, "mps")
	id := recordSampleRun(t, store, "squat.mp4", time.Now())

	rec := get(t, server, http.MethodGet, "/api/runs/"+id+"?units=mph")
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)

	var run struct {
		ID         string        `json:"id"`
		Units      string        `json:"units"`
		Region     vision.Region `json:"roi"`
		Positions  []float64     `json:"positions_px"`
		Velocities []float64     `json:"velocities"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&run))
	assert.Equal(t, id, run.ID)
	assert.Equal(t, "mph", run.Units)
	assert.Equal(t, vision.Region{X: 1, Y: 2, Width: 50, Height: 50}, run.Region)
	assert.Equal(t, []float64{100, 90, 95}, run.Positions)
	require.Len(t, run.Velocities, 2)
	assert.InDelta(t, 2.2369362920544, run.Velocities[0], 1e-9)
}

func TestShowRunNotFound(t *testing.T) {
	t.Parallel()
	server, _ := setupTestServer(t, "mps")

	rec := get(t, server, http.MethodGet, "/api/runs/nope")
	testutil.AssertStatusCode(t, rec.Code, http.StatusNotFound)

	var resp map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Contains(t, resp["error"], "run not found")
}

func TestDeleteRun(t *testing.T) {
	t.Parallel()
	server, store := setupTestServer(t, "mps")
	id := recordSampleRun(t, store, "squat.mp4", time.Now())

	rec := get(t, server, http.MethodDelete, "/api/runs/"+id)
	testutil.AssertStatusCode(t, rec.Code, http.StatusNoContent)

	_, err := store.GetRun(id)
	assert.True(t, errors.Is(err, db.ErrRunNotFound))

	rec = get(t, server, http.MethodDelete, "/api/runs/"+id)
	testutil.AssertStatusCode(t, rec.Code, http.StatusNotFound)

	rec = get(t, server, http.MethodPut, "/api/runs/"+id)
	testutil.AssertStatusCode(t, rec.Code, http.StatusMethodNotAllowed)
}

func TestShowVelocitiesJSON(t *testing.T) {
	t.Parallel()
	server, store := setupTestServer(t, "mps")
	id := recordSampleRun(t, store, "squat.mp4", time.Now())

	rec := get(t, server, http.MethodGet, "/api/runs/"+id+"/velocities")
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)

	var resp velocitiesAPI
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, id, resp.RunID)
	assert.Equal(t, "mps", resp.Units)
	assert.Equal(t, 10.0, resp.FPS)
	assert.InDeltaSlice(t, []float64{0.1, 0.2}, resp.Timestamps, 1e-12)
	assert.Equal(t, []float64{1, -0.5}, resp.Velocities)
}

func TestShowVelocitiesCSV(t *testing.T) {
	t.Parallel()
	server, store := setupTestServer(t, "mps")
	id := recordSampleRun(t, store, "squat.mp4", time.Now())

	rec := get(t, server, http.MethodGet, "/api/runs/"+id+"/velocities?format=csv&units=kmph")
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "run-"+id+".csv")

	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	assert.Equal(t, []string{
		"sample,time_s,velocity_kmph",
		"0,0.1000,3.6000",
		"1,0.2000,-1.8000",
	}, lines)
}

func TestShowVelocitiesBadParams(t *testing.T) {
	t.Parallel()
	server, store := setupTestServer(t, "mps")
	id := recordSampleRun(t, store, "squat.mp4", time.Now())

	tests := []struct {
		name   string
		method string
		target string
		want   int
	}{
		{"bad format", http.MethodGet, "/api/runs/" + id + "/velocities?format=xml", http.StatusBadRequest},
		{"bad units", http.MethodGet, "/api/runs/" + id + "/velocities?units=knots", http.StatusBadRequest},
		{"missing run", http.MethodGet, "/api/runs/nope/velocities", http.StatusNotFound},
		{"post", http.MethodPost, "/api/runs/" + id + "/velocities", http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := get(t, server, tt.method, tt.target)
			testutil.AssertStatusCode(t, rec.Code, tt.want)
		})
	}
}

func TestShowConfigAndVersion(t *testing.T) {
	t.Parallel()
	server, _ := setupTestServer(t, "ftps")

	rec := get(t, server, http.MethodGet, "/api/config")
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	var cfg map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&cfg))
	assert.Equal(t, "ftps", cfg["units"])

	rec = get(t, server, http.MethodGet, "/api/version")
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	var info version.Info
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&info))
	assert.Equal(t, version.Get(), info)
}

type failingStore struct{}

func (failingStore) ListRuns(int) ([]db.Run, error) { return nil, errors.New("disk on fire") }
func (failingStore) GetRun(string) (*db.Run, error) { return nil, errors.New("disk on fire") }
func (failingStore) DeleteRun(string) error { return errors.New("disk on fire") }

func TestStoreErrors(t *testing.T) {
	t.Parallel()
	server := NewServer(failingStore{}, "mps")

	for _, target := range []string{"/api/runs", "/api/runs/x", "/api/runs/x/velocities"} {
		rec := get(t, server, http.MethodGet, target)
		testutil.AssertStatusCode(t, rec.Code, http.StatusInternalServerError)
	}
	rec := get(t, server, http.MethodDelete, "/api/runs/x")
	testutil.AssertStatusCode(t, rec.Code, http.StatusInternalServerError)
}

func TestLoggingMiddleware(t *testing.T) {
	t.Parallel()

	h := LoggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/runs", nil))
	testutil.AssertStatusCode(t, rec.Code, http.StatusTeapot)
}

func TestStatusCodeColor(t *testing.T) {
	t.Parallel()

	assert.Contains(t, statusCodeColor(200), colorBoldGreen)
	assert.Contains(t, statusCodeColor(302), colorYellow)
	assert.Contains(t, statusCodeColor(404), colorBoldRed)
	assert.Contains(t, statusCodeColor(500), colorBoldRed)
	assert.Equal(t, "100", statusCodeColor(100))
}

func TestSeededRunVelocities(t *testing.T) {
	t.Parallel()
	server, _ := serverFromTemplate(t, seededTemplate, "mps")

	rec := get(t, server, http.MethodGet, "/api/runs")
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	var runs []struct {
		ID     string `json:"id"`
		Frames int    `json:"frames"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&runs); err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 || runs[0].ID != seededRunID || runs[0].Frames != len(seededPositions) {
		t.Fatalf("runs = %+v, want the single seeded run", runs)
	}

	rec = get(t, server, http.MethodGet, "/api/runs/"+seededRunID+"/velocities")
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	var resp velocitiesAPI
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Velocities) != len(seededPositions)-1 {
		t.Fatalf("got %d velocities, want %d", len(resp.Velocities), len(seededPositions)-1)
	}
	for i, v := range resp.Velocities {
		if math.Abs(v-seededVelocity) > 1e-9 {
			t.Errorf("velocity[%d] = %v, want %v", i, v, seededVelocity)
		}
	}

	rec = get(t, server, http.MethodGet, "/api/runs/"+seededRunID+"/velocities?format=csv")
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	want := "sample,time_s,velocity_mps\n0,0.0333,5.0625\n1,0.0667,5.0625\n2,0.1000,5.0625\n"
	if got := rec.Body.String(); got != want {
		t.Errorf("csv = %q, want %q", got, want)
	}
}

func TestSeededTemplateIsolation(t *testing.T) {
	t.Parallel()
	server, store := serverFromTemplate(t, seededTemplate, "mps")

	rec := get(t, server, http.MethodDelete, "/api/runs/"+seededRunID)
	testutil.AssertStatusCode(t, rec.Code, http.StatusNoContent)
	if _, err := store.GetRun(seededRunID); !errors.Is(err, db.ErrRunNotFound) {
		t.Fatalf("GetRun after delete: %v", err)
	}

	// A fresh clone still has the run.
	_, other := serverFromTemplate(t, seededTemplate, "mps")
	if _, err := other.GetRun(seededRunID); err != nil {
		t.Errorf("seeded run missing from a fresh clone: %v", err)
	}
}
