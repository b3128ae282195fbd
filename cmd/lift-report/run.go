package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/banshee-data/lift.report/internal/config"
	"github.com/banshee-data/lift.report/internal/db"
	"github.com/banshee-data/lift.report/internal/kinematics"
	"github.com/banshee-data/lift.report/internal/monitoring"
	"github.com/banshee-data/lift.report/internal/session"
	"github.com/banshee-data/lift.report/internal/units"
	"github.com/banshee-data/lift.report/internal/video"
	"github.com/banshee-data/lift.report/internal/vision"
)

// job is one video to analyse with its optional outputs.
type job struct {
	video string
	out   string
	csv   string
}

type batchResult struct {
	job job
	run *db.Run
	err error
}

// runRecorder is satisfied by *db.DB.
type runRecorder interface {
	RecordRun(run *db.Run) (string, error)
}

type processor struct {
	tuning   *config.TuningConfig
	region   vision.Region
	recorder runRecorder
}

// process tracks one video end to end. The returned run is non-nil whenever
// a trace was produced, even if err is also set.
func (p *processor) process(ctx context.Context, j job) (*db.Run, error) {
	capture, err := video.Open(j.video)
	if err != nil {
		return nil, err
	}
	defer capture.Close()

	first, err := capture.Next()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%s has no frames", j.video)
	}
	if err != nil {
		return nil, err
	}

	cfg, err := session.ConfigFromTuning(p.tuning, capture.FPS())
	if err != nil {
		return nil, err
	}
	reportUnits := p.tuning.GetVelocityUnits()

	opts := []session.Option{session.WithObserver(newProgressLogger(j.video))}
	if j.out != "" {
		w, err := video.NewAnnotatedWriter(j.out, first.Width(), first.Height(), video.Overlay{
			FPS:              cfg.FPS,
			ReferenceLengthM: cfg.ReferenceLengthM,
			Units:            reportUnits,
		})
		if err != nil {
			return nil, err
		}
		defer w.Close()
		opts = append(opts, session.WithFrameSink(w))
	}
	if j.csv != "" {
		opts = append(opts, session.WithVelocitySink(&csvFileSink{path: j.csv, fps: cfg.FPS, units: reportUnits}))
	}

	sess, err := session.New(cfg, capture, first, p.region, opts...)
	if err != nil {
		return nil, err
	}
	res, runErr := sess.Run(ctx)
	if res == nil {
		return nil, runErr
	}

	run, err := newRun(j.video, p.region, cfg, res)
	if err != nil {
		return run, errors.Join(runErr, err)
	}
	if runErr != nil {
		return run, runErr
	}

	if p.recorder != nil {
		if _, err := p.recorder.RecordRun(run); err != nil {
			return run, fmt.Errorf("failed to record run: %w", err)
		}
	}
	return run, nil
}

// csvFileSink writes velocities to path. The file is only created once a
// completed series arrives, so a failed run leaves nothing behind.
type csvFileSink struct {
	path  string
	fps   float64
	units string
}

func (s *csvFileSink) WriteVelocities(velocities []float64) error {
	f, err := os.Create(s.path)
	if err != nil {
		return fmt.Errorf("failed to create csv: %w", err)
	}
	w := &kinematics.CSVWriter{W: f, FPS: s.fps, Units: s.units}
	if err := w.WriteVelocities(velocities); err != nil {
		f.Close()
		os.Remove(s.path)
		return err
	}
	return f.Close()
}

// newRun packages a session result for storage and reporting.
func newRun(source string, region vision.Region, cfg session.Config, res *session.Result) (*db.Run, error) {
	run := &db.Run{
		Source:           source,
		Region:           region,
		FPS:              res.FPS,
		ReferenceLengthM: cfg.ReferenceLengthM,
		MetersPerPixel:   res.MetersPerPixel,
		Frames:           res.Frames(),
		DegenerateFrames: res.DegenerateFrames,
		Positions:        res.Positions,
		Velocities:       res.Velocities,
	}
	if res.Velocities == nil {
		return run, nil
	}
	summary, err := kinematics.Summarize(res.Velocities, res.FPS)
	if err != nil {
		return run, err
	}
	run.Summary = summary
	return run, nil
}

// runBatch processes jobs on at most workers goroutines. Results keep the
// order of jobs. Each job gets its own session; nothing is shared between
// them.
func runBatch(ctx context.Context, jobs []job, workers int, process func(context.Context, job) (*db.Run, error)) []batchResult {
	if workers < 1 {
		workers = 1
	}
	if workers > len(jobs) {
		workers = len(jobs)
	}

	results := make([]batchResult, len(jobs))
	next := make(chan int)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range next {
				run, err := process(ctx, jobs[i])
				results[i] = batchResult{job: jobs[i], run: run, err: err}
			}
		}()
	}

	for i := range jobs {
		if ctx.Err() != nil {
			results[i] = batchResult{job: jobs[i], err: ctx.Err()}
			continue
		}
		next <- i
	}
	close(next)
	wg.Wait()
	return results
}

// progressLogger logs every tenth of the way through a video of known
// length.
type progressLogger struct {
	name string
	last int
}

func newProgressLogger(name string) *progressLogger {
	return &progressLogger{name: name, last: -1}
}

func (p *progressLogger) OnFrameProcessed(index, total int) {
	if total <= 0 {
		return
	}
	decile := (index + 1) * 10 / total
	if decile > p.last {
		p.last = decile
		monitoring.Logf("%s: frame %d/%d (%d%%)", p.name, index+1, total, decile*10)
	}
}

func printRun(w io.Writer, run *db.Run, reportUnits string) {
	label := units.Label(reportUnits)
	s := run.Summary
	fmt.Fprintf(w, "%s\n", run.Source)
	if run.ID != "" {
		fmt.Fprintf(w, "  run id:           %s\n", run.ID)
	}
	fmt.Fprintf(w, "  frames:           %d (%d held)\n", run.Frames, len(run.DegenerateFrames))
	fmt.Fprintf(w, "  scale:            %.5f m/px at %.2f fps\n", run.MetersPerPixel, run.FPS)
	fmt.Fprintf(w, "  peak concentric:  %.2f %s\n", units.ConvertSpeed(s.PeakConcentric, reportUnits), label)
	fmt.Fprintf(w, "  mean concentric:  %.2f %s\n", units.ConvertSpeed(s.MeanConcentric, reportUnits), label)
	fmt.Fprintf(w, "  peak eccentric:   %.2f %s\n", units.ConvertSpeed(s.PeakEccentric, reportUnits), label)
	fmt.Fprintf(w, "  displacement:     %.3f m over %.2f s\n", s.DisplacementM, s.DurationS)
}
