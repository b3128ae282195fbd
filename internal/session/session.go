// Package session runs the per-frame tracking loop for one video and
// turns the resulting trace into a velocity series.
//
// A Session is strictly sequential: frame i+1 is tracked from frame i's
// window. Run it from a single goroutine. To process several videos at
// once, create one Session per video.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/banshee-data/lift.report/internal/config"
	"github.com/banshee-data/lift.report/internal/kinematics"
	"github.com/banshee-data/lift.report/internal/monitoring"
	"github.com/banshee-data/lift.report/internal/tracking"
	"github.com/banshee-data/lift.report/internal/vision"
)

// FrameSource yields frames in order. Next returns io.EOF once the stream is
// exhausted; any other error ends the session early.
type FrameSource interface {
	Next() (*vision.Frame, error)
}

// Sized is implemented by sources that know how many frames they hold.
type Sized interface {
	Len() int
}

// FrameSink receives every processed frame with its tracked window, for
// annotated output.
type FrameSink interface {
	WriteFrame(index int, frame *vision.Frame, window vision.Region) error
}

// VelocitySink receives the final velocity series.
type VelocitySink interface {
	WriteVelocities(velocities []float64) error
}

// Observer is notified after each frame. total is 0 when the source
// length is unknown.
type Observer interface {
	OnFrameProcessed(index, total int)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(index, total int)

// OnFrameProcessed calls f.
func (f ObserverFunc) OnFrameProcessed(index, total int) { f(index, total) }

// Config carries everything a session needs besides its frames.
type Config struct {
	Criteria         tracking.TermCriteria
	Policy           tracking.DegeneratePolicy
	Envelope         vision.ColorEnvelope
	FPS              float64
	ReferenceLengthM float64
}

// ConfigFromTuning builds a Config from tuning values. sourceFPS is used
// unless the tuning file overrides it.
func ConfigFromTuning(tc *config.TuningConfig, sourceFPS float64) (Config, error) {
	policy, err := tracking.ParseDegeneratePolicy(tc.GetDegeneratePolicy())
	if err != nil {
		return Config{}, err
	}
	fps := sourceFPS
	if o := tc.GetFPSOverride(); o > 0 {
		fps = o
	}
	return Config{
		Criteria: tracking.TermCriteria{
			MaxIterations: tc.GetMaxIterations(),
			Epsilon:       tc.GetEpsilonPx(),
		},
		Policy: policy,
		Envelope: vision.ColorEnvelope{
			MinSaturation: uint8(tc.GetMinSaturation()),
			MinValue:      uint8(tc.GetMinValue()),
		},
		FPS:              fps,
		ReferenceLengthM: tc.GetReferenceLengthM(),
	}, nil
}

// Result is what a session produced. It is returned even when Run also
// returns an error, holding everything gathered up to that point.
type Result struct {
	// Positions is the window's top edge per processed frame, starting with
	// the initial selection.
	Positions []float64
	// Windows is the full tracked window per processed frame.
	Windows []vision.Region
	// Velocities has len(Positions)-1 entries in m/s, positive upward. It is
	// nil if estimation failed.
	Velocities []float64
	// DegenerateFrames lists frame indices where the window was held because
	// it contained no probability mass.
	DegenerateFrames []int
	// ConvergedFrames counts frames whose mean shift met the epsilon test.
	ConvergedFrames int
	MetersPerPixel  float64
	FPS             float64
}

// Frames returns the number of processed frames, including the first.
func (r *Result) Frames() int { return len(r.Positions) }

// Option configures optional collaborators.
type Option func(*Session)

// WithFrameSink attaches an annotated-output sink.
func WithFrameSink(s FrameSink) Option { return func(sess *Session) { sess.frames = s } }

// WithVelocitySink attaches a sink for the final velocity series.
func WithVelocitySink(s VelocitySink) Option { return func(sess *Session) { sess.velocities = s } }

// WithObserver attaches a progress observer.
func WithObserver(o Observer) Option { return func(sess *Session) { sess.observer = o } }

// Session owns the appearance model, track state and position trace of one
// tracking run.
type Session struct {
	cfg     Config
	source  FrameSource
	first   *vision.Frame
	model   *vision.AppearanceModel
	tracker *tracking.Tracker
	state   tracking.TrackState

	frames     FrameSink
	velocities VelocitySink
	observer   Observer

	ran bool
}

// New builds the appearance model from region of first and prepares a
// session that will track through source. It fails with
// vision.ErrInvalidRegion if the region does not fit inside first.
func New(cfg Config, source FrameSource, first *vision.Frame, region vision.Region, opts ...Option) (*Session, error) {
	if source == nil || first == nil {
		return nil, errors.New("session needs a frame source and an initial frame")
	}
	if err := cfg.Criteria.Validate(); err != nil {
		return nil, err
	}
	model, err := vision.BuildAppearanceModelWithEnvelope(first, region, cfg.Envelope)
	if err != nil {
		return nil, fmt.Errorf("build appearance model: %w", err)
	}
	if model.Empty() {
		monitoring.Warnf("selection %s has no pixels inside the colour envelope; tracking will hold the initial window", region)
	}

	s := &Session{
		cfg:     cfg,
		source:  source,
		first:   first,
		model:   model,
		tracker: tracking.NewTracker(cfg.Policy),
		state:   tracking.TrackState{Window: region, Criteria: cfg.Criteria},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Model returns the session's appearance model.
func (s *Session) Model() *vision.AppearanceModel { return s.model }

// Run tracks every remaining frame, then estimates velocities over the
// whole trace. The context is only checked between frames; on cancellation
// the partial trace is still estimated and returned together with
// ctx.Err(). Run may be called once.
func (s *Session) Run(ctx context.Context) (*Result, error) {
	if s.ran {
		return nil, errors.New("session already run")
	}
	s.ran = true

	total := 0
	if sized, ok := s.source.(Sized); ok {
		total = sized.Len()
	}

	res := &Result{FPS: s.cfg.FPS}
	s.record(res, s.state.Window)
	if err := s.emitFrame(0, s.first, total); err != nil {
		return res, err
	}
	s.first = nil

	runErr := s.loop(ctx, res, total)

	if err := s.estimate(res); err != nil {
		return res, errors.Join(runErr, err)
	}
	if runErr != nil {
		return res, runErr
	}
	if s.velocities != nil {
		if err := s.velocities.WriteVelocities(res.Velocities); err != nil {
			return res, fmt.Errorf("write velocities: %w", err)
		}
	}
	return res, nil
}

func (s *Session) loop(ctx context.Context, res *Result, total int) error {
	for index := 1; ; index++ {
		if err := ctx.Err(); err != nil {
			monitoring.Logf("session stopped after %d frames: %v", res.Frames(), err)
			return err
		}

		frame, err := s.source.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read frame %d: %w", index, err)
		}

		pm := vision.Project(frame, s.model)
		next, step, err := s.tracker.Advance(pm, s.state)
		if err != nil {
			return fmt.Errorf("track frame %d: %w", index, err)
		}
		s.state = next
		if step.Degenerate {
			res.DegenerateFrames = append(res.DegenerateFrames, index)
			monitoring.Warnf("frame %d: %v; holding window at %s", index, tracking.ErrDegenerateTrack, s.state.Window)
		}
		if step.Converged {
			res.ConvergedFrames++
		}

		s.record(res, s.state.Window)
		if err := s.emitFrame(index, frame, total); err != nil {
			return err
		}
	}
}

func (s *Session) record(res *Result, w vision.Region) {
	res.Positions = append(res.Positions, float64(w.Y))
	res.Windows = append(res.Windows, w)
}

func (s *Session) emitFrame(index int, frame *vision.Frame, total int) error {
	if s.frames != nil {
		if err := s.frames.WriteFrame(index, frame, s.state.Window); err != nil {
			return fmt.Errorf("write frame %d: %w", index, err)
		}
	}
	if s.observer != nil {
		s.observer.OnFrameProcessed(index, total)
	}
	return nil
}

// estimate fills in the velocity series. A single-frame trace has no
// velocities and is not an error.
func (s *Session) estimate(res *Result) error {
	height := float64(s.state.Window.Height)
	mpp, err := kinematics.MetersPerPixel(height, s.cfg.ReferenceLengthM)
	if err != nil {
		return fmt.Errorf("estimate velocities: %w", err)
	}
	res.MetersPerPixel = mpp

	if len(res.Positions) < 2 {
		res.Velocities = []float64{}
		return nil
	}
	v, err := kinematics.Estimate(res.Positions, height, s.cfg.FPS, s.cfg.ReferenceLengthM)
	if err != nil {
		return fmt.Errorf("estimate velocities: %w", err)
	}
	res.Velocities = v
	return nil
}
