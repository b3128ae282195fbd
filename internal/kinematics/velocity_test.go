package kinematics

import (
	"bytes"
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

var approx = cmpopts.EquateApprox(0, 1e-9)

func TestEstimateCalibrationScenario(t *testing.T) {
	t.Parallel()

	mpp, err := MetersPerPixel(50, 0.45)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(mpp-0.009) > 1e-12 {
		t.Errorf("MetersPerPixel = %v, want 0.009", mpp)
	}

	v, err := Estimate([]float64{100, 90, 80, 80}, 50, 30, 0.45)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]float64{2.7, 2.7, 0}, v, approx); diff != "" {
		t.Errorf("Estimate() mismatch (-want +got):\n%s", diff)
	}
}

func TestEstimateLengthLaw(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(42))
	for n := 2; n <= 40; n++ {
		positions := make([]float64, n)
		for i := range positions {
			positions[i] = rng.Float64() * 500
		}
		v, err := Estimate(positions, 64, 60, 0.45)
		if err != nil {
			t.Fatalf("n=%d: %v", n, err)
		}
		if len(v) != n-1 {
			t.Errorf("n=%d: got %d velocities, want %d", n, len(v), n-1)
		}
	}
}

func TestEstimateSignLaw(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		k    float64
		fps  float64
	}{
		{"1px per frame at 30fps", 1, 30},
		{"4px per frame at 60fps", 4, 60},
		{"fractional step", 0.5, 24},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			positions := make([]float64, 12)
			for i := range positions {
				positions[i] = 400 - float64(i)*tt.k
			}
			mpp, err := MetersPerPixel(80, 0.45)
			if err != nil {
				t.Fatal(err)
			}

			v, err := Estimate(positions, 80, tt.fps, 0.45)
			if err != nil {
				t.Fatal(err)
			}
			want := tt.k * mpp * tt.fps
			for i, got := range v {
				if got <= 0 || math.Abs(got-want) > 1e-9 {
					t.Errorf("sample %d = %v, want %v", i, got, want)
				}
			}
		})
	}
}

func TestEstimateDownwardIsNegative(t *testing.T) {
	t.Parallel()

	v, err := Estimate([]float64{10, 20}, 10, 10, 1)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(v[0]+10) > 1e-12 {
		t.Errorf("v = %v, want -10", v[0])
	}
}

func TestEstimateErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		positions []float64
		height    float64
		fps       float64
		ref       float64
		want      error
	}{
		{"zero height", []float64{1, 2}, 0, 30, 0.45, ErrInvalidCalibration},
		{"negative height", []float64{1, 2}, -5, 30, 0.45, ErrInvalidCalibration},
		{"zero reference", []float64{1, 2}, 50, 30, 0, ErrInvalidCalibration},
		{"negative reference", []float64{1, 2}, 50, 30, -0.45, ErrInvalidCalibration},
		{"NaN reference", []float64{1, 2}, 50, 30, math.NaN(), ErrInvalidCalibration},
		{"zero fps", []float64{1, 2}, 50, 0, 0.45, ErrInvalidFrameRate},
		{"negative fps", []float64{1, 2}, 50, -30, 0.45, ErrInvalidFrameRate},
		{"infinite fps", []float64{1, 2}, 50, math.Inf(1), 0.45, ErrInvalidFrameRate},
		{"single position", []float64{1}, 50, 30, 0.45, ErrShortTrace},
		{"no positions", nil, 50, 30, 0.45, ErrShortTrace},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := Estimate(tt.positions, tt.height, tt.fps, tt.ref)
			if v != nil {
				t.Errorf("got velocities %v alongside an error", v)
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestEstimateDoesNotModifyInput(t *testing.T) {
	t.Parallel()

	positions := []float64{5, 3, 8}
	if _, err := Estimate(positions, 10, 10, 1); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]float64{5, 3, 8}, positions); diff != "" {
		t.Errorf("input modified (-want +got):\n%s", diff)
	}
}

func TestTimestamps(t *testing.T) {
	t.Parallel()

	ts, err := Timestamps(3, 4)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]float64{0.25, 0.5, 0.75}, ts, approx); diff != "" {
		t.Errorf("Timestamps() mismatch (-want +got):\n%s", diff)
	}

	ts, err = Timestamps(0, 30)
	if err != nil || len(ts) != 0 {
		t.Errorf("Timestamps(0, 30) = %v, %v; want empty", ts, err)
	}

	if _, err := Timestamps(3, 0); !errors.Is(err, ErrInvalidFrameRate) {
		t.Errorf("Timestamps(3, 0) error = %v, want ErrInvalidFrameRate", err)
	}
	if _, err := Timestamps(-1, 30); err == nil {
		t.Error("Timestamps(-1, 30) should fail")
	}
}

func TestSummarize(t *testing.T) {
	t.Parallel()

	s, err := Summarize([]float64{-0.5, -1.0, 0, 0.8, 1.2, 0.4}, 10)
	if err != nil {
		t.Fatal(err)
	}
	want := Summary{
		Samples:        6,
		PeakConcentric: 1.2,
		PeakEccentric:  -1.0,
		MeanConcentric: 0.8,
		DisplacementM:  0.09,
		DurationS:      0.6,
	}
	if diff := cmp.Diff(want, s, cmpopts.EquateApprox(0, 1e-12)); diff != "" {
		t.Errorf("Summarize() mismatch (-want +got):\n%s", diff)
	}
}

func TestSummarizeMatchesTrace(t *testing.T) {
	t.Parallel()

	positions := []float64{300, 290, 270, 250, 245, 245}
	v, err := Estimate(positions, 50, 30, 0.45)
	if err != nil {
		t.Fatal(err)
	}

	s, err := Summarize(v, 30)
	if err != nil {
		t.Fatal(err)
	}
	// Net travel of 55px at 0.009 m/px.
	if math.Abs(s.DisplacementM-0.495) > 1e-9 {
		t.Errorf("DisplacementM = %v, want 0.495", s.DisplacementM)
	}
	if s.PeakEccentric != 0 {
		t.Errorf("PeakEccentric = %v, want 0", s.PeakEccentric)
	}
}

func TestSummarizeEdgeCases(t *testing.T) {
	t.Parallel()

	s, err := Summarize(nil, 30)
	if err != nil || s != (Summary{}) {
		t.Errorf("Summarize(nil) = %+v, %v; want zero summary", s, err)
	}

	s, err = Summarize([]float64{-1, -2}, 30)
	if err != nil {
		t.Fatal(err)
	}
	if s.PeakConcentric != 0 || s.MeanConcentric != 0 {
		t.Errorf("descent only: concentric = %v / %v, want 0", s.PeakConcentric, s.MeanConcentric)
	}
	if s.PeakEccentric != -2 {
		t.Errorf("PeakEccentric = %v, want -2", s.PeakEccentric)
	}

	if _, err := Summarize([]float64{1}, 0); !errors.Is(err, ErrInvalidFrameRate) {
		t.Errorf("Summarize at 0 fps error = %v, want ErrInvalidFrameRate", err)
	}
}

func TestCSVWriter(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	w := &CSVWriter{W: &buf, FPS: 10, Units: "kmph"}
	if err := w.WriteVelocities([]float64{1, -0.5}); err != nil {
		t.Fatal(err)
	}

	want := "sample,time_s,velocity_kmph\n" +
		"0,0.1000,3.6000\n" +
		"1,0.2000,-1.8000\n"
	if got := buf.String(); got != want {
		t.Errorf("csv = %q, want %q", got, want)
	}
}

func TestCSVWriterDefaultsAndErrors(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	w := &CSVWriter{W: &buf, FPS: 30, Units: "furlongs"}
	if err := w.WriteVelocities(nil); err != nil {
		t.Fatal(err)
	}
	if got, want := buf.String(), "sample,time_s,velocity_mps\n"; got != want {
		t.Errorf("csv = %q, want %q", got, want)
	}

	w = &CSVWriter{W: &buf, FPS: 0}
	if err := w.WriteVelocities([]float64{1}); !errors.Is(err, ErrInvalidFrameRate) {
		t.Errorf("error = %v, want ErrInvalidFrameRate", err)
	}
}
