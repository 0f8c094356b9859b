// Package pipeline wires the detection-to-segment stages into a single
// frame-driven processor: ball tracking, trajectory physics validation,
// rally state decisions and segment assembly.
package pipeline

import (
	"math"
	"sync"

	"github.com/banshee-data/rallycut/internal/ballistics"
	"github.com/banshee-data/rallycut/internal/config"
	"github.com/banshee-data/rallycut/internal/monitoring"
	"github.com/banshee-data/rallycut/internal/rally"
	"github.com/banshee-data/rallycut/internal/segment"
	"github.com/banshee-data/rallycut/internal/track"
)

// FrameResult reports what one frame of processing concluded.
type FrameResult struct {
	Time            float64
	State           rally.State
	RallyConfidence float64
	ActiveTracks    int
	PhysicsValid    bool
	PhysicsScore    float64
}

// Summary is the end-of-video result of a processing run.
type Summary struct {
	FramesProcessed int
	VideoDuration   float64
	PeakVelocity    float64 // fastest validated sample speed, pixels/second
	Rallies         []rally.Period
	Segments        []segment.TimeRange
	RallyStats      rally.Stats
	SegmentStats    segment.Stats
	TrackerStats    track.Stats
}

// Processor runs the full rally extraction pipeline over a stream of
// per-frame ball detections. It is safe for use from a single goroutine;
// the stages it owns carry their own locks for concurrent inspection.
type Processor struct {
	tracker   *track.Tracker
	validator *ballistics.Validator
	decider   *rally.Machine
	assembler *segment.Assembler

	pixelsPerMeter   float64
	trajectoryWindow int

	mu            sync.Mutex
	frames        int
	lastDetection float64
	haveDetection bool
	lastPhysics   *ballistics.Validation
	peakVelocity  float64
	finalized     bool
}

// New builds a processor from a tuning configuration.
func New(cfg *config.TuningConfig) *Processor {
	return &Processor{
		tracker:          track.NewTracker(track.ConfigFromTuning(cfg)),
		validator:        ballistics.NewValidator(ballistics.ConfigFromTuning(cfg)),
		decider:          rally.NewMachine(rally.ConfigFromTuning(cfg)),
		assembler:        segment.NewAssembler(segment.ConfigFromTuning(cfg)),
		pixelsPerMeter:   cfg.GetPixelsPerMeter(),
		trajectoryWindow: cfg.GetTrajectoryWindow(),
	}
}

// ProcessFrame advances the pipeline by one frame of detections at the
// given timestamp in video seconds.
func (p *Processor) ProcessFrame(detections []track.Detection, timestamp float64) FrameResult {
	p.mu.Lock()
	defer p.mu.Unlock()

	detections = track.FiniteDetections(detections)
	snaps := p.tracker.Update(detections, timestamp)

	if len(detections) > 0 {
		p.lastDetection = timestamp
		p.haveDetection = true
	}
	gap := 0.0
	if p.haveDetection {
		gap = timestamp - p.lastDetection
	}

	var detConf, trackConf, velocity float64
	if best, ok := p.tracker.Best(); ok {
		trackConf = best.Confidence
		velocity = math.Hypot(best.VX, best.VY)

		trail := p.tracker.Trail(best.ID, p.trajectoryWindow)
		if points := trailToPoints(trail); len(points) > 0 {
			v := p.validator.Validate(points, p.pixelsPerMeter)
			p.lastPhysics = &v
			if v.Valid && v.MaxVelocity > p.peakVelocity {
				p.peakVelocity = v.MaxVelocity
			}
		}
	} else {
		// No surviving track: stale physics evidence must not keep the
		// rally confidence inflated.
		p.lastPhysics = nil
	}
	for _, d := range detections {
		if d.Confidence > detConf {
			detConf = d.Confidence
		}
	}

	state := p.decider.Update(rally.Context{
		Time:                timestamp,
		DetectionConfidence: detConf,
		TrackingConfidence:  trackConf,
		Physics:             p.lastPhysics,
		VelocityMagnitude:   velocity,
		TimeSinceDetection:  gap,
	})
	p.assembler.Observe(state, timestamp)

	p.frames++

	result := FrameResult{
		Time:            timestamp,
		State:           state,
		RallyConfidence: p.decider.LastConfidence(),
		ActiveTracks:    len(snaps),
	}
	if p.lastPhysics != nil {
		result.PhysicsValid = p.lastPhysics.Valid
		result.PhysicsScore = p.lastPhysics.Score
	}
	return result
}

func trailToPoints(trail []track.TrailPoint) []ballistics.Point {
	if len(trail) == 0 {
		return nil
	}
	points := make([]ballistics.Point, len(trail))
	for i, tp := range trail {
		points[i] = ballistics.Point{X: tp.X, Y: tp.Y, T: tp.T, Confidence: tp.Confidence}
	}
	return points
}

// Finalize flushes any in-progress rally, assembles the segment list and
// returns the run summary. Repeated calls return the same summary.
func (p *Processor) Finalize(videoDuration float64) Summary {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.finalized {
		p.decider.Flush(videoDuration)
		p.assembler.Observe(rally.StateIdle, videoDuration)
		p.finalized = true
	}

	segments := p.assembler.Finalize(videoDuration)
	rallies := p.decider.Completed()

	monitoring.Logf("pipeline: %d frames, %d rallies, %d segments over %.1fs",
		p.frames, len(rallies), len(segments), videoDuration)

	return Summary{
		FramesProcessed: p.frames,
		VideoDuration:   videoDuration,
		PeakVelocity:    p.peakVelocity,
		Rallies:         rallies,
		Segments:        segments,
		RallyStats:      p.decider.Stats(),
		SegmentStats:    segment.ComputeStats(segments, videoDuration),
		TrackerStats:    p.tracker.Stats(),
	}
}

// State returns the decider's current rally state.
func (p *Processor) State() rally.State {
	return p.decider.State()
}

// Reset restores every stage to its initial state so the processor can run
// another video.
func (p *Processor) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.tracker.Reset()
	p.decider.Reset()
	p.assembler.Reset()
	p.frames = 0
	p.lastDetection = 0
	p.haveDetection = false
	p.lastPhysics = nil
	p.peakVelocity = 0
	p.finalized = false
}
