package kinematics

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Summary condenses a velocity series for reporting. All velocities are in
// m/s, positive upward.
type Summary struct {
	Samples int `json:"samples"`
	// PeakConcentric is the fastest upward velocity (0 if the object never rose).
	PeakConcentric float64 `json:"peak_concentric_mps"`
	// PeakEccentric is the fastest downward velocity, reported as a
	// negative number (0 if the object never fell).
	PeakEccentric float64 `json:"peak_eccentric_mps"`
	// MeanConcentric averages the upward samples only.
	MeanConcentric float64 `json:"mean_concentric_mps"`
	// DisplacementM is the net vertical travel, positive upward.
	DisplacementM float64 `json:"displacement_m"`
	DurationS     float64 `json:"duration_s"`
}

// Summarize computes a Summary of velocities sampled at fps.
func Summarize(velocities []float64, fps float64) (Summary, error) {
	if err := checkFrameRate(fps); err != nil {
		return Summary{}, err
	}
	s := Summary{Samples: len(velocities)}
	if len(velocities) == 0 {
		return s, nil
	}

	if hi := floats.Max(velocities); hi > 0 {
		s.PeakConcentric = hi
	}
	if lo := floats.Min(velocities); lo < 0 {
		s.PeakEccentric = lo
	}

	up := make([]float64, 0, len(velocities))
	for _, v := range velocities {
		if v > 0 {
			up = append(up, v)
		}
	}
	if len(up) > 0 {
		s.MeanConcentric = stat.Mean(up, nil)
	}

	s.DisplacementM = floats.Sum(velocities) / fps
	s.DurationS = float64(len(velocities)) / fps
	return s, nil
}
