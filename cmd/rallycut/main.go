// Package main provides the rallycut command line tool. It reads per-frame
// ball detections from a JSONL file, runs the rally extraction pipeline and
// emits the resulting rally periods and cut segments, optionally recording
// the run to a SQLite database.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/banshee-data/rallycut/internal/config"
	"github.com/banshee-data/rallycut/internal/monitoring"
	"github.com/banshee-data/rallycut/internal/pipeline"
	"github.com/banshee-data/rallycut/internal/rallydb"
	"github.com/banshee-data/rallycut/internal/track"
	"github.com/banshee-data/rallycut/internal/units"
)

// FrameInput is one line of the detections JSONL stream.
type FrameInput struct {
	Time       float64          `json:"t"`
	Detections []DetectionInput `json:"detections"`
}

// DetectionInput is a single ball observation within a frame.
type DetectionInput struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Confidence float64 `json:"confidence"`
}

// Output is the JSON document written to stdout.
type Output struct {
	Source     string           `json:"source"`
	RunID      string           `json:"run_id,omitempty"`
	Summary    pipeline.Summary `json:"summary"`
	PeakSpeed  float64          `json:"peak_speed,omitempty"`
	SpeedUnits string           `json:"speed_units,omitempty"`
	CutPlan    []string         `json:"cut_plan,omitempty"`
}

func main() {
	var (
		input      = flag.String("input", "", "detections JSONL file (one frame per line), - for stdin")
		tuningPath = flag.String("tuning", "", "optional tuning config JSON file")
		dbPath     = flag.String("db", "", "optional SQLite database to record the run")
		duration   = flag.Float64("duration", 0, "video duration in seconds (defaults to the last frame timestamp)")
		source     = flag.String("source", "", "source video name recorded with the run")
		speedUnits = flag.String("units", units.MPS, "units for the reported peak ball speed (mps, mph, kmph, kph)")
		verbose    = flag.Bool("verbose", false, "log per-stage diagnostics")
	)
	flag.Parse()

	if *input == "" {
		flag.Usage()
		os.Exit(2)
	}
	if !*verbose {
		monitoring.SetLogger(nil)
	}

	if err := run(*input, *tuningPath, *dbPath, *source, *speedUnits, *duration); err != nil {
		log.Fatalf("rallycut: %v", err)
	}
}

func run(input, tuningPath, dbPath, source, speedUnits string, duration float64) error {
	if !units.IsValid(speedUnits) {
		return fmt.Errorf("invalid units %q (valid: %v)", speedUnits, units.ValidUnits)
	}

	cfg := config.EmptyTuningConfig()
	if tuningPath != "" {
		loaded, err := config.LoadTuningConfig(tuningPath)
		if err != nil {
			return fmt.Errorf("failed to load tuning config: %w", err)
		}
		cfg = loaded
	}

	var r io.Reader
	if input == "-" {
		r = os.Stdin
	} else {
		f, err := os.Open(input)
		if err != nil {
			return err
		}
		defer f.Close()
		r = f
	}
	if source == "" {
		source = input
	}

	proc := pipeline.New(cfg)
	lastTime, err := feed(proc, r)
	if err != nil {
		return err
	}
	if duration <= 0 {
		duration = lastTime
	}

	summary := proc.Finalize(duration)
	out := Output{Source: source, Summary: summary, SpeedUnits: speedUnits}

	peakMps := units.PixelsPerSecondToMps(summary.PeakVelocity, cfg.GetPixelsPerMeter())
	out.PeakSpeed = units.ConvertSpeed(peakMps, speedUnits)

	for _, s := range summary.Segments {
		out.CutPlan = append(out.CutPlan, fmt.Sprintf("%.2f-%.2f", s.Start, s.End))
	}

	if dbPath != "" {
		db, err := rallydb.NewRallyDB(dbPath)
		if err != nil {
			return fmt.Errorf("failed to open rally database: %w", err)
		}
		defer db.Close()

		runID, err := db.RecordRun(source, summary)
		if err != nil {
			return fmt.Errorf("failed to record run: %w", err)
		}
		out.RunID = runID
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// feed streams JSONL frames into the processor and returns the last frame
// timestamp seen.
func feed(proc *pipeline.Processor, r io.Reader) (float64, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var lastTime float64
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}

		var frame FrameInput
		if err := json.Unmarshal(raw, &frame); err != nil {
			return 0, fmt.Errorf("invalid frame on line %d: %w", line, err)
		}

		detections := make([]track.Detection, len(frame.Detections))
		for i, d := range frame.Detections {
			detections[i] = track.Detection{X: d.X, Y: d.Y, Confidence: d.Confidence}
		}
		proc.ProcessFrame(detections, frame.Time)
		lastTime = frame.Time
	}
	if err := scanner.Err(); err != nil {
		return 0, err
	}
	return lastTime, nil
}
