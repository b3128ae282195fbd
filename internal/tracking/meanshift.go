// Package tracking implements mean-shift window tracking over a
// back-projected probability map.
//
// The window only translates; its size is fixed by the initial selection
// and never adapted. The tracker has no notion of a lost target: it always
// reports a window, even when that window has drifted onto background.
package tracking

import (
	"errors"
	"fmt"
	"math"

	"github.com/banshee-data/lift.report/internal/vision"
)

// ErrDegenerateTrack is returned under DegenerateFail when the window holds
// no probability mass, so no centroid exists.
var ErrDegenerateTrack = errors.New("degenerate track: no probability mass in window")

// ErrInvalidCriteria is returned when termination criteria cannot stop the
// iteration.
var ErrInvalidCriteria = errors.New("invalid termination criteria")

// TermCriteria bounds the per-frame iteration. Either condition ends it.
type TermCriteria struct {
	// MaxIterations caps centroid steps per frame.
	MaxIterations int
	// Epsilon is the centre displacement (pixels) below which the window is
	// considered converged.
	Epsilon float64
}

// DefaultTermCriteria returns 10 iterations or a sub-pixel move.
func DefaultTermCriteria() TermCriteria {
	return TermCriteria{MaxIterations: 10, Epsilon: 1}
}

// Validate checks the criteria.
func (c TermCriteria) Validate() error {
	if c.MaxIterations < 1 {
		return fmt.Errorf("%w: max iterations must be at least 1, got %d", ErrInvalidCriteria, c.MaxIterations)
	}
	if c.Epsilon < 0 || math.IsNaN(c.Epsilon) {
		return fmt.Errorf("%w: epsilon must be non-negative, got %f", ErrInvalidCriteria, c.Epsilon)
	}
	return nil
}

// DegeneratePolicy selects what Advance does when the window holds no mass.
type DegeneratePolicy int

const (
	// DegenerateHold keeps the window where it is and flags the result.
	DegenerateHold DegeneratePolicy = iota
	// DegenerateFail returns ErrDegenerateTrack.
	DegenerateFail
)

// ParseDegeneratePolicy maps "hold" and "fail" to policies.
func ParseDegeneratePolicy(s string) (DegeneratePolicy, error) {
	switch s {
	case "", "hold":
		return DegenerateHold, nil
	case "fail":
		return DegenerateFail, nil
	default:
		return DegenerateHold, fmt.Errorf("unknown degenerate policy %q (want hold or fail)", s)
	}
}

func (p DegeneratePolicy) String() string {
	if p == DegenerateFail {
		return "fail"
	}
	return "hold"
}

// TrackState is carried from one frame to the next.
type TrackState struct {
	Window   vision.Region
	Criteria TermCriteria
}

// Result describes one Advance call.
type Result struct {
	// Converged is true when the epsilon condition ended the iteration.
	Converged bool
	// Iterations is the number of centroid steps taken.
	Iterations int
	// Degenerate is true when the starting window held no mass and the
	// window was held in place.
	Degenerate bool
}

// Tracker runs mean shift. It carries no per-frame state; all of that lives
// in TrackState.
type Tracker struct {
	Policy DegeneratePolicy
}

// NewTracker returns a tracker with the given degenerate-window policy.
func NewTracker(policy DegeneratePolicy) *Tracker {
	return &Tracker{Policy: policy}
}

// Advance moves state.Window toward the local mode of pm.
//
// Each step takes the probability-weighted centroid of the map inside the
// window (clipped to the map), recentres the window on it rounded to whole
// pixels, and clamps the window to the map. Width and height never change.
//
// The centroid is measured from pixel centres (index + 0.5). OpenCV's
// meanShift rounds m10/m00 - w/2 from pixel indices instead, so on
// asymmetric mass the two can place the window 1 px apart.
func (t *Tracker) Advance(pm *vision.ProbabilityMap, state TrackState) (TrackState, Result, error) {
	if err := state.Criteria.Validate(); err != nil {
		return state, Result{}, err
	}
	if state.Window.Empty() {
		return state, Result{}, fmt.Errorf("%w: window %s", vision.ErrInvalidRegion, state.Window)
	}

	next := state
	win := state.Window
	var res Result

	for res.Iterations < state.Criteria.MaxIterations {
		clip := clipToMap(win, pm)
		m00, m10, m01 := moments(pm, clip)
		res.Iterations++

		if m00 == 0 {
			if res.Iterations == 1 {
				res.Degenerate = true
				if t.Policy == DegenerateFail {
					return state, res, fmt.Errorf("%w at %s", ErrDegenerateTrack, win)
				}
			}
			break
		}

		// Pixel i covers [i, i+1), so its centre sits at i+0.5.
		dx := int(math.Round(m10/m00 + 0.5 - float64(win.Width)/2))
		dy := int(math.Round(m01/m00 + 0.5 - float64(win.Height)/2))
		nx := clampInt(clip.X+dx, 0, pm.Width()-win.Width)
		ny := clampInt(clip.Y+dy, 0, pm.Height()-win.Height)

		shift := math.Hypot(float64(nx-win.X), float64(ny-win.Y))
		win.X, win.Y = nx, ny

		if shift < state.Criteria.Epsilon || shift == 0 {
			res.Converged = true
			break
		}
	}

	next.Window = win
	return next, res, nil
}

// moments returns the zeroth and first raw moments of pm over r, with
// coordinates relative to r's origin.
func moments(pm *vision.ProbabilityMap, r vision.Region) (m00, m10, m01 float64) {
	for y := 0; y < r.Height; y++ {
		row := pm.Row(r.Y + y)[r.X : r.X+r.Width]
		var rowSum, rowX float64
		for x, v := range row {
			if v == 0 {
				continue
			}
			w := float64(v)
			rowSum += w
			rowX += w * float64(x)
		}
		m00 += rowSum
		m10 += rowX
		m01 += rowSum * float64(y)
	}
	return m00, m10, m01
}

// clipToMap intersects r with the map. A window lying wholly outside is
// first pulled back to the nearest edge so the intersection is never empty.
func clipToMap(r vision.Region, pm *vision.ProbabilityMap) vision.Region {
	w, h := pm.Width(), pm.Height()
	x0 := clampInt(r.X, 0, w-1)
	y0 := clampInt(r.Y, 0, h-1)
	x1 := clampInt(r.X+r.Width, x0+1, w)
	y1 := clampInt(r.Y+r.Height, y0+1, h)
	return vision.Region{X: x0, Y: y0, Width: x1 - x0, Height: y1 - y0}
}

// clampInt bounds v to [lo, hi]; when hi < lo (window wider than the map)
// lo wins.
func clampInt(v, lo, hi int) int {
	if v > hi {
		v = hi
	}
	if v < lo {
		v = lo
	}
	return v
}
