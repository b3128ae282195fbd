package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/lift.report/internal/api"
	"github.com/banshee-data/lift.report/internal/config"
	"github.com/banshee-data/lift.report/internal/db"
	"github.com/banshee-data/lift.report/internal/security"
	"github.com/banshee-data/lift.report/internal/units"
	"github.com/banshee-data/lift.report/internal/version"
	"github.com/banshee-data/lift.report/internal/vision"
)

var (
	videoPath   = flag.String("video", "", "Video file to analyse")
	batchGlob   = flag.String("batch", "", "Glob of video files to analyse in parallel with the same ROI and calibration")
	roiFlag     = flag.String("roi", "", "Plate selection on the first frame as x,y,w,h")
	refLength   = flag.Float64("ref", 0, "Real height in metres of the selected object (overrides config)")
	configPath  = flag.String("config", "", "Tuning config JSON file")
	outPath     = flag.String("out", "", "Write an annotated copy of the video here (single video only)")
	csvPath     = flag.String("csv", "", "Write velocities as CSV to this file, or to this directory with -batch")
	dbPath      = flag.String("db", "", "Record runs in this SQLite database")
	unitsFlag   = flag.String("units", "", "Output units: "+units.GetValidUnitsString())
	listen      = flag.String("serve", "", "Serve the runs API on this address, e.g. :8080 (requires -db)")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Get())
		return
	}

	tuning, err := loadTuning(*configPath, *refLength, *unitsFlag)
	if err != nil {
		log.Fatalf("Failed to load tuning config: %v", err)
	}

	if *videoPath == "" && *batchGlob == "" && *listen == "" {
		flag.Usage()
		os.Exit(2)
	}
	if *videoPath != "" && *batchGlob != "" {
		log.Fatal("-video and -batch are mutually exclusive")
	}
	if *listen != "" && *dbPath == "" {
		log.Fatal("-serve requires -db")
	}
	if *batchGlob != "" && *outPath != "" {
		log.Fatal("-out is only supported with -video")
	}

	var store *db.DB
	if *dbPath != "" {
		store, err = db.NewDB(*dbPath)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer store.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *videoPath != "" || *batchGlob != "" {
		region, err := vision.ParseRegion(*roiFlag)
		if err != nil {
			log.Fatalf("Invalid -roi: %v", err)
		}
		jobs, err := buildJobs(*videoPath, *batchGlob, *outPath, *csvPath)
		if err != nil {
			log.Fatalf("%v", err)
		}

		p := &processor{tuning: tuning, region: region}
		if store != nil {
			p.recorder = store
		}

		results := runBatch(ctx, jobs, tuning.GetBatchWorkers(), p.process)
		failed := 0
		for _, r := range results {
			if r.err != nil {
				failed++
				log.Printf("%s: %v", r.job.video, r.err)
			}
			if r.run != nil {
				printRun(os.Stdout, r.run, tuning.GetVelocityUnits())
			}
		}
		if failed > 0 && *listen == "" {
			os.Exit(1)
		}
	}

	if *listen != "" {
		serve(ctx, store, tuning.GetVelocityUnits())
	}
}

// loadTuning reads the tuning file, if any, and applies command-line
// overrides on top.
func loadTuning(path string, ref float64, unitsOverride string) (*config.TuningConfig, error) {
	tuning := config.EmptyTuningConfig()
	if path != "" {
		var err error
		if tuning, err = config.LoadTuningConfig(path); err != nil {
			return nil, err
		}
	}
	if ref < 0 {
		return nil, fmt.Errorf("-ref must be positive, got %g", ref)
	}
	if ref > 0 {
		tuning.ReferenceLengthM = &ref
	}
	if unitsOverride != "" {
		if !units.IsValid(unitsOverride) {
			return nil, fmt.Errorf("invalid -units %q; must be one of: %s", unitsOverride, units.GetValidUnitsString())
		}
		tuning.VelocityUnits = &unitsOverride
	}
	return tuning, nil
}

// buildJobs expands -video or -batch into jobs. In batch mode csv names a
// directory and each video gets a sanitised <name>.csv inside it.
func buildJobs(video, batch, out, csv string) ([]job, error) {
	if video != "" {
		return []job{{video: video, out: out, csv: csv}}, nil
	}

	paths, err := filepath.Glob(batch)
	if err != nil {
		return nil, fmt.Errorf("invalid -batch pattern: %w", err)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no videos match %q", batch)
	}
	if csv != "" {
		if err := os.MkdirAll(csv, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create csv directory: %w", err)
		}
	}

	jobs := make([]job, len(paths))
	seen := make(map[string]string, len(paths))
	for i, p := range paths {
		jobs[i] = job{video: p}
		if csv == "" {
			continue
		}
		name := security.OutputName(p, ".csv")
		if prev, ok := seen[name]; ok {
			return nil, fmt.Errorf("%s and %s would both write %s", prev, p, name)
		}
		seen[name] = p
		out := filepath.Join(csv, name)
		if err := security.ValidatePathWithinDirectory(out, csv); err != nil {
			return nil, err
		}
		jobs[i].csv = out
	}
	return jobs, nil
}

func serve(ctx context.Context, store *db.DB, reportUnits string) {
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := api.NewServer(store, reportUnits).ServeMux()
		store.AttachAdminRoutes(mux)

		server := &http.Server{
			Addr:    *listen,
			Handler: api.LoggingMiddleware(mux),
		}

		go func() {
			log.Printf("serving runs API on %s", *listen)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			if err := server.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}
		log.Printf("HTTP server routine stopped")
	}()

	wg.Wait()
	log.Printf("Graceful shutdown complete")
}
