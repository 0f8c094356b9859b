// Package track implements multi-hypothesis ball tracking over noisy
// single-point detections using a constant-velocity Kalman filter per track.
package track

import (
	"math"
	"sync"

	"github.com/banshee-data/rallycut/internal/config"
)

// Internal numerical stability constants, not user-tunable.
const (
	// minDeterminantThreshold is the minimum determinant for innovation
	// covariance inversion; below it association falls back to Euclidean
	// distance rather than failing the frame.
	minDeterminantThreshold = 1e-9

	// initialCovariance seeds new tracks with high positional and velocity
	// uncertainty so the first few updates dominate the estimate.
	initialCovariance = 100.0
)

// Config holds configuration parameters for the ball tracker.
type Config struct {
	ProcessNoisePos  float64 // Process noise for position (σ²)
	ProcessNoiseVel  float64 // Process noise for velocity (σ²)
	MeasurementNoise float64 // Measurement noise (σ²)

	GateThreshold   float64 // Mahalanobis gating distance for association (pixels)
	MaxMissedFrames int     // Consecutive misses before a track is retired
	MaxTracks       int     // Maximum concurrent track hypotheses

	MinTrackingConfidence float64 // Detection confidence floor for spawning a track
	ConfidenceDecayRate   float64 // Geometric per-frame confidence decay
	ConfidenceBoost       float64 // Additive boost when a track is matched
	ConfidenceFloor       float64 // Tracks decaying below this are retired

	MaxHistoryLength int // Trailing trajectory samples kept per track
}

// DefaultConfig returns the compiled default tracker configuration.
func DefaultConfig() Config {
	return ConfigFromTuning(config.EmptyTuningConfig())
}

// ConfigFromTuning builds a tracker Config from a loaded TuningConfig.
func ConfigFromTuning(cfg *config.TuningConfig) Config {
	return Config{
		ProcessNoisePos:       cfg.GetProcessNoisePosition(),
		ProcessNoiseVel:       cfg.GetProcessNoiseVelocity(),
		MeasurementNoise:      cfg.GetMeasurementNoise(),
		GateThreshold:         cfg.GetAssociationGate(),
		MaxMissedFrames:       cfg.GetMaxMissedFrames(),
		MaxTracks:             cfg.GetMaxTracks(),
		MinTrackingConfidence: cfg.GetMinTrackingConfidence(),
		ConfidenceDecayRate:   cfg.GetConfidenceDecayRate(),
		ConfidenceBoost:       cfg.GetConfidenceBoost(),
		ConfidenceFloor:       cfg.GetConfidenceFloor(),
		MaxHistoryLength:      100,
	}
}

// Detection is a single-point ball observation for one frame.
type Detection struct {
	X          float64
	Y          float64
	Confidence float64 // [0, 1]
}

// TrailPoint is one sample of a track's observed trajectory.
type TrailPoint struct {
	X          float64
	Y          float64
	T          float64 // seconds
	Confidence float64
}

// Snapshot is a read-only view of one track's state after an update.
// Callers never see the mutable track records owned by the tracker.
type Snapshot struct {
	ID         int64
	X          float64
	Y          float64
	VX         float64 // pixels per frame
	VY         float64 // pixels per frame
	Confidence float64 // [0, 1]
	Age        int     // frames since spawn
	Missed     int     // consecutive frames without an associated detection
}

// Stats is an aggregate snapshot of tracker state, computed on demand.
type Stats struct {
	ActiveTracks     int
	AvgConfidence    float64
	MaxConfidence    float64
	AvgAge           float64
	MaxMissedStreak  int
	TracksPredicting int // tracks currently coasting on prediction only
}

// ballTrack is the mutable per-track record. The Kalman state is
// [x, y, vx, vy] with a 4x4 row-major covariance.
type ballTrack struct {
	id         int64
	x, y       float64
	vx, vy     float64
	p          [16]float64
	confidence float64
	age        int
	missed     int
	matched    bool // associated with a detection this frame
	trail      []TrailPoint
}

// Tracker manages ball track hypotheses. It owns its tracks exclusively;
// every public method returns value snapshots.
type Tracker struct {
	cfg    Config
	tracks map[int64]*ballTrack
	nextID int64
	frame  int
	mu     sync.Mutex
}

// NewTracker creates a tracker with the given configuration.
func NewTracker(cfg Config) *Tracker {
	return &Tracker{
		cfg:    cfg,
		tracks: make(map[int64]*ballTrack),
		nextID: 1,
	}
}

// Update processes one frame of detections at the given timestamp and
// returns snapshots of all surviving tracks. The predict → associate →
// update → spawn → retire sequence runs atomically under the tracker lock.
//
// Detections with non-finite coordinates or confidence are treated as
// absent for this frame rather than rejected with an error.
func (t *Tracker) Update(detections []Detection, timestamp float64) []Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.frame++

	dets := FiniteDetections(detections)

	// Step 1: Predict all tracks one frame forward.
	for _, tr := range t.tracks {
		t.predict(tr)
	}

	// Step 2: Associate detections to tracks with Mahalanobis gating.
	associations := t.associate(dets)

	// Step 3: Kalman-correct matched tracks.
	for trackID, detIdx := range associations {
		tr := t.tracks[trackID]
		t.correct(tr, dets[detIdx], timestamp)
	}

	// Step 4: Spawn tracks from unmatched detections above the confidence floor.
	used := make(map[int]bool, len(associations))
	for _, detIdx := range associations {
		used[detIdx] = true
	}
	for i, d := range dets {
		if !used[i] && d.Confidence >= t.cfg.MinTrackingConfidence && len(t.tracks) < t.cfg.MaxTracks {
			t.spawn(d, timestamp)
		}
	}

	// Step 5: Retire stale or hopeless tracks.
	for id, tr := range t.tracks {
		if tr.missed > t.cfg.MaxMissedFrames || tr.confidence < t.cfg.ConfidenceFloor {
			delete(t.tracks, id)
		}
	}

	// Step 6: Confidence maintenance: geometric decay, boost on match,
	// clamp to [0, 1].
	for _, tr := range t.tracks {
		tr.confidence *= t.cfg.ConfidenceDecayRate
		if tr.matched {
			tr.confidence += t.cfg.ConfidenceBoost
		}
		tr.confidence = clamp01(tr.confidence)
	}

	return t.snapshotsLocked()
}

// FiniteDetections drops detections with non-finite coordinates or
// confidence. Such observations count as absent, never as errors.
func FiniteDetections(detections []Detection) []Detection {
	out := detections[:0:0]
	for _, d := range detections {
		if isFinite(d.X) && isFinite(d.Y) && isFinite(d.Confidence) {
			out = append(out, d)
		}
	}
	return out
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

// predict applies the constant-velocity transition to state and covariance
// for one frame (dt = 1 frame) and advances the age/missed counters.
func (t *Tracker) predict(tr *ballTrack) {
	const dt = 1.0

	// State transition F for constant velocity:
	// F = [1  0  dt  0 ]
	//     [0  1  0   dt]
	//     [0  0  1   0 ]
	//     [0  0  0   1 ]
	tr.x += tr.vx * dt
	tr.y += tr.vy * dt

	// Covariance propagation P' = F * P * F^T + Q, expanded directly.
	P := tr.p
	var FP [16]float64
	for j := 0; j < 4; j++ {
		FP[0*4+j] = P[0*4+j] + dt*P[2*4+j]
		FP[1*4+j] = P[1*4+j] + dt*P[3*4+j]
		FP[2*4+j] = P[2*4+j]
		FP[3*4+j] = P[3*4+j]
	}
	for i := 0; i < 4; i++ {
		tr.p[i*4+0] = FP[i*4+0] + dt*FP[i*4+2]
		tr.p[i*4+1] = FP[i*4+1] + dt*FP[i*4+3]
		tr.p[i*4+2] = FP[i*4+2]
		tr.p[i*4+3] = FP[i*4+3]
	}

	tr.p[0*4+0] += t.cfg.ProcessNoisePos
	tr.p[1*4+1] += t.cfg.ProcessNoisePos
	tr.p[2*4+2] += t.cfg.ProcessNoiseVel
	tr.p[3*4+3] += t.cfg.ProcessNoiseVel

	tr.age++
	tr.missed++
	tr.matched = false
}

// candidate is one gated (track, detection) pair considered for association.
type candidate struct {
	trackID int64
	detIdx  int
	dist    float64
}

// associate performs one-to-one greedy matching in ascending distance order.
// Pairs beyond the gate threshold are discarded before matching.
func (t *Tracker) associate(detections []Detection) map[int64]int {
	associations := make(map[int64]int)
	if len(t.tracks) == 0 || len(detections) == 0 {
		return associations
	}

	candidates := make([]candidate, 0, len(t.tracks)*len(detections))
	for id, tr := range t.tracks {
		for i, d := range detections {
			dist := t.gatingDistance(tr, d)
			if dist < t.cfg.GateThreshold {
				candidates = append(candidates, candidate{trackID: id, detIdx: i, dist: dist})
			}
		}
	}

	// Sort ascending by distance. Insertion sort: candidate counts are tiny
	// (a handful of tracks by at most a few detections per frame).
	for i := 1; i < len(candidates); i++ {
		for j := i; j > 0 && candidates[j].dist < candidates[j-1].dist; j-- {
			candidates[j], candidates[j-1] = candidates[j-1], candidates[j]
		}
	}

	usedDetections := make(map[int]bool, len(detections))
	for _, c := range candidates {
		if _, taken := associations[c.trackID]; taken {
			continue
		}
		if usedDetections[c.detIdx] {
			continue
		}
		associations[c.trackID] = c.detIdx
		usedDetections[c.detIdx] = true
	}

	return associations
}

// gatingDistance computes the Mahalanobis distance between a track's
// predicted position and a detection. If the innovation covariance is
// numerically singular it falls back to plain Euclidean distance for the
// pair instead of aborting the frame.
func (t *Tracker) gatingDistance(tr *ballTrack, d Detection) float64 {
	dx := d.X - tr.x
	dy := d.Y - tr.y

	// Innovation covariance S = H * P * H^T + R with H extracting position:
	// S = P[0:2, 0:2] + R
	s00 := tr.p[0*4+0] + t.cfg.MeasurementNoise
	s01 := tr.p[0*4+1]
	s10 := tr.p[1*4+0]
	s11 := tr.p[1*4+1] + t.cfg.MeasurementNoise

	det := s00*s11 - s01*s10
	if det < minDeterminantThreshold {
		return math.Sqrt(dx*dx + dy*dy)
	}

	invS00 := s11 / det
	invS01 := -s01 / det
	invS10 := -s10 / det
	invS11 := s00 / det

	dist2 := dx*dx*invS00 + dx*dy*(invS01+invS10) + dy*dy*invS11
	if dist2 < 0 {
		dist2 = 0
	}
	return math.Sqrt(dist2)
}

// correct applies the Kalman update step with a matched detection.
func (t *Tracker) correct(tr *ballTrack, d Detection, timestamp float64) {
	yX := d.X - tr.x
	yY := d.Y - tr.y

	s00 := tr.p[0*4+0] + t.cfg.MeasurementNoise
	s01 := tr.p[0*4+1]
	s10 := tr.p[1*4+0]
	s11 := tr.p[1*4+1] + t.cfg.MeasurementNoise

	det := s00*s11 - s01*s10
	if math.Abs(det) < minDeterminantThreshold {
		// Singular innovation covariance: skip the correction, keep the
		// prediction. The match still counts against the miss streak.
		tr.missed = 0
		tr.matched = true
		t.appendTrail(tr, d, timestamp)
		return
	}

	invS00 := s11 / det
	invS01 := -s01 / det
	invS10 := -s10 / det
	invS11 := s00 / det

	// Kalman gain K = P * H^T * S^-1 (4x2).
	var K [8]float64
	for i := 0; i < 4; i++ {
		K[i*2+0] = tr.p[i*4+0]*invS00 + tr.p[i*4+1]*invS10
		K[i*2+1] = tr.p[i*4+0]*invS01 + tr.p[i*4+1]*invS11
	}

	// State update x' = x + K * y.
	tr.x += K[0*2+0]*yX + K[0*2+1]*yY
	tr.y += K[1*2+0]*yX + K[1*2+1]*yY
	tr.vx += K[2*2+0]*yX + K[2*2+1]*yY
	tr.vy += K[3*2+0]*yX + K[3*2+1]*yY

	// Covariance update P' = (I - K*H) * P. With H extracting position,
	// (K*H)[i,j] is K[i,0] for j==0, K[i,1] for j==1, zero otherwise.
	var IminusKH [16]float64
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			identity := 0.0
			if i == j {
				identity = 1.0
			}
			var kh float64
			switch j {
			case 0:
				kh = K[i*2+0]
			case 1:
				kh = K[i*2+1]
			}
			IminusKH[i*4+j] = identity - kh
		}
	}
	var newP [16]float64
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			var sum float64
			for k := 0; k < 4; k++ {
				sum += IminusKH[i*4+k] * tr.p[k*4+j]
			}
			newP[i*4+j] = sum
		}
	}
	tr.p = newP

	tr.missed = 0
	tr.matched = true
	t.appendTrail(tr, d, timestamp)
}

func (t *Tracker) appendTrail(tr *ballTrack, d Detection, timestamp float64) {
	tr.trail = append(tr.trail, TrailPoint{X: d.X, Y: d.Y, T: timestamp, Confidence: d.Confidence})
	if max := t.cfg.MaxHistoryLength; max > 0 && len(tr.trail) > max {
		tr.trail = tr.trail[len(tr.trail)-max:]
	}
}

// spawn creates a new track from an unassociated detection with zero
// initial velocity and high-uncertainty covariance.
func (t *Tracker) spawn(d Detection, timestamp float64) {
	tr := &ballTrack{
		id:         t.nextID,
		x:          d.X,
		y:          d.Y,
		confidence: d.Confidence,
		matched:    true,
	}
	t.nextID++
	for i := 0; i < 4; i++ {
		tr.p[i*4+i] = initialCovariance
	}
	t.appendTrail(tr, d, timestamp)
	t.tracks[tr.id] = tr
}

func (t *Tracker) snapshotsLocked() []Snapshot {
	out := make([]Snapshot, 0, len(t.tracks))
	for _, tr := range t.tracks {
		out = append(out, snapshotOf(tr))
	}
	return out
}

func snapshotOf(tr *ballTrack) Snapshot {
	return Snapshot{
		ID:         tr.id,
		X:          tr.x,
		Y:          tr.y,
		VX:         tr.vx,
		VY:         tr.vy,
		Confidence: tr.confidence,
		Age:        tr.age,
		Missed:     tr.missed,
	}
}

// Best returns the snapshot of the highest-confidence track, if any.
func (t *Tracker) Best() (Snapshot, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var best *ballTrack
	for _, tr := range t.tracks {
		if best == nil || tr.confidence > best.confidence {
			best = tr
		}
	}
	if best == nil {
		return Snapshot{}, false
	}
	return snapshotOf(best), true
}

// PredictedPosition extrapolates a track's position framesAhead frames
// forward with the constant-velocity model. Returns false for unknown IDs.
func (t *Tracker) PredictedPosition(trackID int64, framesAhead int) (x, y float64, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	tr, exists := t.tracks[trackID]
	if !exists {
		return 0, 0, false
	}
	dt := float64(framesAhead)
	return tr.x + tr.vx*dt, tr.y + tr.vy*dt, true
}

// Trail returns up to n most recent trajectory samples for a track, oldest
// first. Returns nil for unknown IDs.
func (t *Tracker) Trail(trackID int64, n int) []TrailPoint {
	t.mu.Lock()
	defer t.mu.Unlock()

	tr, exists := t.tracks[trackID]
	if !exists {
		return nil
	}
	trail := tr.trail
	if n > 0 && len(trail) > n {
		trail = trail[len(trail)-n:]
	}
	out := make([]TrailPoint, len(trail))
	copy(out, trail)
	return out
}

// Stats computes an aggregate statistics snapshot for the current tracks.
func (t *Tracker) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := Stats{ActiveTracks: len(t.tracks)}
	if len(t.tracks) == 0 {
		return s
	}

	var confSum, ageSum float64
	for _, tr := range t.tracks {
		confSum += tr.confidence
		ageSum += float64(tr.age)
		if tr.confidence > s.MaxConfidence {
			s.MaxConfidence = tr.confidence
		}
		if tr.missed > s.MaxMissedStreak {
			s.MaxMissedStreak = tr.missed
		}
		if tr.missed > 0 {
			s.TracksPredicting++
		}
	}
	s.AvgConfidence = confSum / float64(len(t.tracks))
	s.AvgAge = ageSum / float64(len(t.tracks))
	return s
}

// FrameCount returns the number of Update calls processed.
func (t *Tracker) FrameCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.frame
}

// Reset clears all tracks and restores the tracker to its initial state.
// No track state is valid across a reset boundary.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tracks = make(map[int64]*ballTrack)
	t.nextID = 1
	t.frame = 0
}
