// Package rally decides when play is active. It blends detection, tracking,
// physics, temporal and motion signals into one rally confidence value and
// drives a four-state hysteresis machine so brief confidence dips do not
// flicker the active/idle classification.
package rally

import (
	"math"
	"sync"

	"github.com/banshee-data/rallycut/internal/ballistics"
	"github.com/banshee-data/rallycut/internal/config"
)

// State is the rally classification for a frame.
type State int

const (
	StateIdle      State = iota // no activity
	StatePotential              // confidence rising, not yet confirmed
	StateActive                 // rally confirmed and ongoing
	StateEnding                 // rally winding down, may still recover
)

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePotential:
		return "potential"
	case StateActive:
		return "active"
	case StateEnding:
		return "ending"
	default:
		return "unknown"
	}
}

// Config holds thresholds, timing and blend weights for rally decisions.
type Config struct {
	StartThreshold float64 // confidence to confirm a rally (the higher bar)
	EndThreshold   float64 // confidence below which a rally may end (the lower bar)

	MinRallyDuration     float64 // seconds; shorter rallies are not recorded
	MaxGapInRally        float64 // seconds without detection before Active can end
	CooldownPeriod       float64 // seconds in Ending before settling to Idle
	PotentialGracePeriod float64 // seconds Potential may linger below the end threshold

	// Rally confidence blend weights.
	DetectionWeight float64
	TrackingWeight  float64
	PhysicsWeight   float64
	TemporalWeight  float64
	MotionWeight    float64

	TemporalWindow    float64 // trailing seconds for temporal confidence
	HighConfidenceBar float64 // samples above this count toward the consistency bonus

	MotionMinVelocity float64 // pixels/frame; expected speed band lower edge
	MotionMaxVelocity float64 // pixels/frame; expected speed band upper edge

	// Contact estimation.
	VelocityChangeForHit float64 // pixels/frame delta that suggests a contact
	MinContactSeparation float64 // seconds between counted contacts

	// Rally quality blend.
	QualityDurationCap  float64 // seconds at which duration credit saturates
	QualityContactCap   int     // contacts at which contact credit saturates
	QualityDurationWt   float64
	QualityConfidenceWt float64
	QualityContactWt    float64
}

// DefaultConfig returns the compiled default decider configuration.
func DefaultConfig() Config {
	return ConfigFromTuning(config.EmptyTuningConfig())
}

// ConfigFromTuning builds a decider Config from a loaded TuningConfig.
func ConfigFromTuning(cfg *config.TuningConfig) Config {
	return Config{
		StartThreshold:       cfg.GetRallyStartThreshold(),
		EndThreshold:         cfg.GetRallyEndThreshold(),
		MinRallyDuration:     cfg.GetMinRallyDuration(),
		MaxGapInRally:        cfg.GetMaxGapInRally(),
		CooldownPeriod:       cfg.GetRallyCooldownPeriod(),
		PotentialGracePeriod: cfg.GetPotentialGracePeriod(),
		DetectionWeight:      cfg.GetDetectionWeight(),
		TrackingWeight:       cfg.GetTrackingWeight(),
		PhysicsWeight:        cfg.GetPhysicsWeight(),
		TemporalWeight:       cfg.GetTemporalWeight(),
		MotionWeight:         cfg.GetMotionWeight(),
		TemporalWindow:       cfg.GetTemporalWindow(),
		HighConfidenceBar:    cfg.GetHighConfidenceBar(),
		MotionMinVelocity:    cfg.GetMotionMinVelocity(),
		MotionMaxVelocity:    cfg.GetMotionMaxVelocity(),
		VelocityChangeForHit: cfg.GetVelocityChangeForHit(),
		MinContactSeparation: cfg.GetMinContactSeparation(),
		QualityDurationCap:   cfg.GetQualityDurationCap(),
		QualityContactCap:    cfg.GetQualityContactCap(),
		QualityDurationWt:    cfg.GetQualityDurationWt(),
		QualityConfidenceWt:  cfg.GetQualityConfidenceWt(),
		QualityContactWt:     cfg.GetQualityContactWt(),
	}
}

// Context carries one frame's evidence into the decider.
type Context struct {
	Time                float64 // seconds
	DetectionConfidence float64
	TrackingConfidence  float64
	Physics             *ballistics.Validation // nil when no recent validation
	VelocityMagnitude   float64                // pixels/frame
	TimeSinceDetection  float64                // seconds since last raw detection
}

// Period is one completed rally, immutable once recorded.
type Period struct {
	Start             float64
	End               float64
	Duration          float64
	MaxConfidence     float64
	AvgConfidence     float64
	EstimatedContacts int
	Quality           float64
}

// Stats is an aggregate view of completed rallies, computed on demand.
type Stats struct {
	TotalRallies   int
	TotalRallyTime float64
	AvgDuration    float64
	AvgQuality     float64
	TotalContacts  int
	State          State
}

type confidenceSample struct {
	t    float64
	conf float64
}

// Machine is the hysteresis rally state machine.
type Machine struct {
	cfg Config

	state      State
	stateStart float64

	// Trailing detection-confidence samples for temporal confidence.
	history []confidenceSample

	// Contact detection.
	lastVelocity    float64
	haveVelocity    bool
	lastContactTime float64
	haveContact     bool

	// Accumulators for the rally in progress.
	rallyStart     float64
	confidenceSum  float64
	confidenceN    int
	maxConfidence  float64
	contacts       int
	lastConfidence float64

	completed []Period

	mu sync.Mutex
}

// NewMachine creates a rally state machine in the Idle state.
func NewMachine(cfg Config) *Machine {
	return &Machine{cfg: cfg, state: StateIdle}
}

// Update advances the machine by one frame of context and returns the
// resulting state.
func (m *Machine) Update(ctx Context) State {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.recordHistory(ctx)
	m.trackContacts(ctx)

	confidence := m.rallyConfidence(ctx)
	m.lastConfidence = confidence

	next := m.nextState(confidence, ctx)
	if next != m.state {
		m.transition(next, ctx.Time)
	}

	if m.state == StateActive {
		m.confidenceSum += confidence
		m.confidenceN++
		if confidence > m.maxConfidence {
			m.maxConfidence = confidence
		}
	}

	return m.state
}

// rallyConfidence blends the frame's evidence into one [0, 1] value.
func (m *Machine) rallyConfidence(ctx Context) float64 {
	detection := math.Max(0, ctx.DetectionConfidence)
	tracking := math.Max(0, ctx.TrackingConfidence)

	physics := 0.0
	if ctx.Physics != nil && ctx.Physics.Valid {
		physics = ctx.Physics.Score
	}

	temporal := m.temporalConfidence(ctx.Time)
	motion := m.motionConfidence(ctx.VelocityMagnitude)

	confidence := m.cfg.DetectionWeight*detection +
		m.cfg.TrackingWeight*tracking +
		m.cfg.PhysicsWeight*physics +
		m.cfg.TemporalWeight*temporal +
		m.cfg.MotionWeight*motion

	return clamp01(confidence)
}

// temporalConfidence averages recent detection confidence and adds a bonus
// when a high fraction of samples clear the high-confidence bar.
func (m *Machine) temporalConfidence(now float64) float64 {
	var recent []float64
	for _, s := range m.history {
		if now-s.t <= m.cfg.TemporalWindow {
			recent = append(recent, s.conf)
		}
	}
	if len(recent) == 0 {
		return 0.0
	}

	var sum float64
	for _, c := range recent {
		sum += c
	}
	avg := sum / float64(len(recent))

	bonus := 0.0
	if len(recent) >= 5 {
		high := 0
		for _, c := range recent {
			if c > m.cfg.HighConfidenceBar {
				high++
			}
		}
		bonus = float64(high) / float64(len(recent)) * 0.2
	}

	return math.Min(1.0, avg+bonus)
}

// motionConfidence is 1 inside the expected speed band and degrades
// linearly toward 0 when the object moves too slowly or too fast.
func (m *Machine) motionConfidence(velocity float64) float64 {
	switch {
	case velocity == 0:
		return 0.0
	case velocity >= m.cfg.MotionMinVelocity && velocity <= m.cfg.MotionMaxVelocity:
		return 1.0
	case velocity < m.cfg.MotionMinVelocity:
		return velocity / m.cfg.MotionMinVelocity
	default:
		return math.Max(0, 1.0-(velocity-m.cfg.MotionMaxVelocity)/m.cfg.MotionMaxVelocity)
	}
}

// nextState applies the hysteresis transition rules. The switch is
// exhaustive over the closed state set.
func (m *Machine) nextState(confidence float64, ctx Context) State {
	timeInState := ctx.Time - m.stateStart

	switch m.state {
	case StateIdle:
		if confidence > m.cfg.EndThreshold {
			return StatePotential
		}

	case StatePotential:
		if confidence >= m.cfg.StartThreshold {
			return StateActive
		}
		if confidence <= m.cfg.EndThreshold && timeInState > m.cfg.PotentialGracePeriod {
			return StateIdle
		}

	case StateActive:
		// Hysteresis: a confidence dip alone never ends a rally; the
		// detection gap must also exceed the configured maximum.
		if confidence <= m.cfg.EndThreshold && ctx.TimeSinceDetection > m.cfg.MaxGapInRally {
			return StateEnding
		}

	case StateEnding:
		// Fast recovery with no debounce delay.
		if confidence >= m.cfg.StartThreshold {
			return StateActive
		}
		if timeInState > m.cfg.CooldownPeriod {
			return StateIdle
		}
	}

	return m.state
}

func (m *Machine) transition(next State, timestamp float64) {
	prev := m.state

	if next == StateActive && prev != StateActive {
		m.rallyStart = timestamp
		m.confidenceSum = 0
		m.confidenceN = 0
		m.maxConfidence = 0
		m.contacts = 0
	}
	if prev == StateActive && next != StateActive {
		m.closeRally(timestamp)
	}

	m.state = next
	m.stateStart = timestamp
}

// closeRally finalizes the rally in progress; it is recorded only when the
// duration clears the configured minimum.
func (m *Machine) closeRally(end float64) {
	if m.confidenceN == 0 {
		return
	}
	duration := end - m.rallyStart
	if duration < m.cfg.MinRallyDuration {
		return
	}

	avg := m.confidenceSum / float64(m.confidenceN)
	m.completed = append(m.completed, Period{
		Start:             m.rallyStart,
		End:               end,
		Duration:          duration,
		MaxConfidence:     m.maxConfidence,
		AvgConfidence:     avg,
		EstimatedContacts: m.contacts,
		Quality:           m.quality(duration, avg),
	})
}

// quality blends duration, average confidence and contact count, with
// duration and contact credit saturating at their configured caps.
func (m *Machine) quality(duration, avgConfidence float64) float64 {
	durationScore := 1.0
	if m.cfg.QualityDurationCap > 0 {
		durationScore = math.Min(1.0, duration/m.cfg.QualityDurationCap)
	}
	contactScore := 1.0
	if m.cfg.QualityContactCap > 0 {
		contactScore = math.Min(1.0, float64(m.contacts)/float64(m.cfg.QualityContactCap))
	}
	return m.cfg.QualityDurationWt*durationScore +
		m.cfg.QualityConfidenceWt*avgConfidence +
		m.cfg.QualityContactWt*contactScore
}

func (m *Machine) recordHistory(ctx Context) {
	m.history = append(m.history, confidenceSample{t: ctx.Time, conf: ctx.DetectionConfidence})

	const maxHistory = 100
	if len(m.history) > maxHistory {
		m.history = m.history[len(m.history)-maxHistory:]
	}
}

// trackContacts counts sharp velocity-magnitude changes as estimated ball
// contacts, debounced by the minimum contact separation. The count is a
// rally-quality signal only, not a precise physical measure.
func (m *Machine) trackContacts(ctx Context) {
	defer func() {
		m.lastVelocity = ctx.VelocityMagnitude
		m.haveVelocity = true
	}()

	if !m.haveVelocity || m.lastVelocity == 0 {
		return
	}
	if math.Abs(ctx.VelocityMagnitude-m.lastVelocity) <= m.cfg.VelocityChangeForHit {
		return
	}
	if m.haveContact && ctx.Time-m.lastContactTime <= m.cfg.MinContactSeparation {
		return
	}
	m.contacts++
	m.lastContactTime = ctx.Time
	m.haveContact = true
}

// Flush closes any rally still active at end-of-stream time t.
// The machine returns to Idle.
func (m *Machine) Flush(t float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateActive {
		m.closeRally(t)
	}
	m.state = StateIdle
	m.stateStart = t
}

// State returns the current rally state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// LastConfidence returns the rally confidence computed by the most recent
// Update call.
func (m *Machine) LastConfidence() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastConfidence
}

// Completed returns a copy of the recorded rally periods in order.
func (m *Machine) Completed() []Period {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Period, len(m.completed))
	copy(out, m.completed)
	return out
}

// Stats computes aggregate rally statistics.
func (m *Machine) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Stats{State: m.state, TotalRallies: len(m.completed)}
	if len(m.completed) == 0 {
		return s
	}
	var qualitySum float64
	for _, r := range m.completed {
		s.TotalRallyTime += r.Duration
		s.TotalContacts += r.EstimatedContacts
		qualitySum += r.Quality
	}
	s.AvgDuration = s.TotalRallyTime / float64(len(m.completed))
	s.AvgQuality = qualitySum / float64(len(m.completed))
	return s
}

// Reset restores the machine to its initial idle state, discarding all
// history and recorded rallies.
func (m *Machine) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state = StateIdle
	m.stateStart = 0
	m.history = nil
	m.lastVelocity = 0
	m.haveVelocity = false
	m.lastContactTime = 0
	m.haveContact = false
	m.rallyStart = 0
	m.confidenceSum = 0
	m.confidenceN = 0
	m.maxConfidence = 0
	m.contacts = 0
	m.lastConfidence = 0
	m.completed = nil
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
