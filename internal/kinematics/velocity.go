// Package kinematics turns a tracked vertical position trace into a
// calibrated velocity series. It knows nothing about video or tracking and
// works on plain slices.
package kinematics

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrInvalidCalibration is returned for a non-positive window height or
	// reference length.
	ErrInvalidCalibration = errors.New("invalid calibration")
	// ErrInvalidFrameRate is returned for a non-positive frame rate.
	ErrInvalidFrameRate = errors.New("invalid frame rate")
	// ErrShortTrace is returned when fewer than two positions are supplied.
	ErrShortTrace = errors.New("position trace needs at least two samples")
)

// MetersPerPixel is the scale implied by a reference object of
// referenceLengthM metres spanning windowHeightPx pixels.
func MetersPerPixel(windowHeightPx, referenceLengthM float64) (float64, error) {
	if !(windowHeightPx > 0) || math.IsInf(windowHeightPx, 0) {
		return 0, fmt.Errorf("%w: window height must be positive, got %g px", ErrInvalidCalibration, windowHeightPx)
	}
	if !(referenceLengthM > 0) || math.IsInf(referenceLengthM, 0) {
		return 0, fmt.Errorf("%w: reference length must be positive, got %g m", ErrInvalidCalibration, referenceLengthM)
	}
	return referenceLengthM / windowHeightPx, nil
}

func checkFrameRate(fps float64) error {
	if !(fps > 0) || math.IsInf(fps, 0) {
		return fmt.Errorf("%w: %g fps", ErrInvalidFrameRate, fps)
	}
	return nil
}

// Estimate converts image-space vertical positions (pixels, growing
// downward) into velocities in metres per second, positive upward.
// The result has exactly len(positions)-1 entries:
//
//	v[i] = -(positions[i+1] - positions[i]) * metersPerPixel * fps
func Estimate(positions []float64, windowHeightPx, fps, referenceLengthM float64) ([]float64, error) {
	mpp, err := MetersPerPixel(windowHeightPx, referenceLengthM)
	if err != nil {
		return nil, err
	}
	if err := checkFrameRate(fps); err != nil {
		return nil, err
	}
	if len(positions) < 2 {
		return nil, fmt.Errorf("%w: got %d", ErrShortTrace, len(positions))
	}

	scale := mpp * fps
	v := make([]float64, len(positions)-1)
	for i := range v {
		v[i] = -(positions[i+1] - positions[i]) * scale
	}
	return v, nil
}

// Timestamps returns the time in seconds of each velocity sample, measured
// from the first frame: sample i spans frames i and i+1 and is stamped at
// the later one.
func Timestamps(n int, fps float64) ([]float64, error) {
	if err := checkFrameRate(fps); err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, fmt.Errorf("sample count must be non-negative, got %d", n)
	}
	ts := make([]float64, n)
	for i := range ts {
		ts[i] = float64(i+1) / fps
	}
	return ts, nil
}
