package rally

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/rallycut/internal/ballistics"
)

// stepConfig isolates the hysteresis machine from the blended confidence:
// detection weight 1.0 feeds the detection value straight through.
func stepConfig() Config {
	cfg := DefaultConfig()
	cfg.DetectionWeight = 1.0
	cfg.TrackingWeight = 0
	cfg.PhysicsWeight = 0
	cfg.TemporalWeight = 0
	cfg.MotionWeight = 0
	return cfg
}

func step(m *Machine, t, conf, gap float64) State {
	return m.Update(Context{
		Time:                t,
		DetectionConfidence: conf,
		TimeSinceDetection:  gap,
	})
}

func TestHysteresisSequence(t *testing.T) {
	m := NewMachine(stepConfig())

	// Confidence trace with a long detection gap on the falling edge.
	frames := []struct {
		conf float64
		gap  float64
		want State
	}{
		{0.0, 0.0, StateIdle},
		{0.5, 0.0, StatePotential},
		{0.8, 0.0, StateActive},
		{0.9, 0.0, StateActive},
		{0.85, 0.0, StateActive},
		{0.25, 0.5, StateActive}, // dip below end threshold but gap still short
		{0.1, 1.5, StateEnding},  // dip plus a gap beyond the maximum
		{0.0, 2.5, StateIdle},    // cooldown elapsed
	}

	for i, f := range frames {
		got := step(m, float64(i), f.conf, f.gap)
		assert.Equal(t, f.want, got, "frame %d (conf=%.2f gap=%.1f)", i, f.conf, f.gap)
	}
}

func TestMidBandConfidenceDoesNotStart(t *testing.T) {
	m := NewMachine(stepConfig())

	// Values between the end and start thresholds reach Potential but
	// never confirm a rally.
	for i := 0; i < 20; i++ {
		s := step(m, float64(i)*0.1, 0.5, 0.0)
		assert.NotEqual(t, StateActive, s, "frame %d", i)
	}
}

func TestPotentialGraceExpiry(t *testing.T) {
	cfg := stepConfig()
	m := NewMachine(cfg)

	require.Equal(t, StatePotential, step(m, 0.0, 0.5, 0.0))

	// Low confidence but still inside the grace period.
	assert.Equal(t, StatePotential, step(m, 0.5, 0.1, 0.0))

	// Grace period expired.
	assert.Equal(t, StateIdle, step(m, 1.5, 0.1, 0.0))
}

func TestEndingRecoversWithoutDebounce(t *testing.T) {
	m := NewMachine(stepConfig())

	step(m, 0.0, 0.8, 0.0) // Potential
	step(m, 0.5, 0.9, 0.0) // Active
	require.Equal(t, StateEnding, step(m, 1.0, 0.1, 2.0))

	// A single high-confidence frame resumes the rally immediately.
	assert.Equal(t, StateActive, step(m, 1.2, 0.9, 0.0))
}

func TestShortRallyNotRecorded(t *testing.T) {
	cfg := stepConfig()
	cfg.MinRallyDuration = 5.0
	m := NewMachine(cfg)

	step(m, 0.0, 0.8, 0.0)
	step(m, 0.5, 0.9, 0.0)
	step(m, 1.0, 0.1, 2.0) // Ending
	step(m, 2.0, 0.0, 3.0) // Idle

	assert.Empty(t, m.Completed())
}

func TestCompletedRallyMetrics(t *testing.T) {
	cfg := stepConfig()
	cfg.MinRallyDuration = 1.0
	m := NewMachine(cfg)

	step(m, 0.0, 0.8, 0.0) // Potential
	step(m, 0.5, 0.9, 0.0) // Active starts here
	step(m, 1.0, 0.95, 0.0)
	step(m, 2.0, 0.9, 0.0)
	step(m, 3.0, 0.1, 2.0) // Ending closes the rally at t=3.0

	periods := m.Completed()
	require.Len(t, periods, 1)

	r := periods[0]
	assert.InDelta(t, 0.5, r.Start, 1e-9)
	assert.InDelta(t, 3.0, r.End, 1e-9)
	assert.InDelta(t, 2.5, r.Duration, 1e-9)
	assert.InDelta(t, 0.95, r.MaxConfidence, 1e-9)
	assert.Greater(t, r.AvgConfidence, 0.8)
	assert.Greater(t, r.Quality, 0.0)
	assert.LessOrEqual(t, r.Quality, 1.0)
}

func TestFlushClosesActiveRally(t *testing.T) {
	cfg := stepConfig()
	cfg.MinRallyDuration = 1.0
	m := NewMachine(cfg)

	step(m, 0.0, 0.8, 0.0)
	step(m, 0.5, 0.9, 0.0)
	step(m, 2.0, 0.9, 0.0)

	require.Equal(t, StateActive, m.State())
	m.Flush(3.0)

	assert.Equal(t, StateIdle, m.State())
	periods := m.Completed()
	require.Len(t, periods, 1)
	assert.InDelta(t, 3.0, periods[0].End, 1e-9)
}

func TestContactCounting(t *testing.T) {
	cfg := stepConfig()
	cfg.MinRallyDuration = 0.5
	m := NewMachine(cfg)

	update := func(t, conf, vel, gap float64) {
		m.Update(Context{Time: t, DetectionConfidence: conf, VelocityMagnitude: vel, TimeSinceDetection: gap})
	}

	update(0.0, 0.8, 20, 0)
	update(0.5, 0.9, 20, 0) // Active
	update(1.0, 0.9, 80, 0) // contact: delta 60
	update(1.1, 0.9, 20, 0) // within separation window, not counted
	update(2.0, 0.9, 90, 0) // contact: delta 70
	update(3.0, 0.1, 90, 2) // close

	periods := m.Completed()
	require.Len(t, periods, 1)
	assert.Equal(t, 2, periods[0].EstimatedContacts)
}

func TestMotionConfidenceBand(t *testing.T) {
	m := NewMachine(DefaultConfig())

	assert.Equal(t, 0.0, m.motionConfidence(0))
	assert.Equal(t, 1.0, m.motionConfidence(50))
	assert.InDelta(t, 0.5, m.motionConfidence(5), 1e-9)

	// Above the band the score degrades but is never negative.
	assert.Less(t, m.motionConfidence(300), 1.0)
	assert.GreaterOrEqual(t, m.motionConfidence(1000), 0.0)
}

func TestPhysicsContribution(t *testing.T) {
	cfg := DefaultConfig()
	m := NewMachine(cfg)

	base := m.rallyConfidence(Context{Time: 0, DetectionConfidence: 0.5, TrackingConfidence: 0.5})
	withPhysics := m.rallyConfidence(Context{
		Time:                0,
		DetectionConfidence: 0.5,
		TrackingConfidence:  0.5,
		Physics:             &ballistics.Validation{Valid: true, Score: 0.9},
	})
	assert.Greater(t, withPhysics, base)

	// Invalid physics contributes nothing.
	withInvalid := m.rallyConfidence(Context{
		Time:                0,
		DetectionConfidence: 0.5,
		TrackingConfidence:  0.5,
		Physics:             &ballistics.Validation{Valid: false, Score: 0.9},
	})
	assert.InDelta(t, base, withInvalid, 1e-9)
}

func TestStatsAggregation(t *testing.T) {
	cfg := stepConfig()
	cfg.MinRallyDuration = 1.0
	m := NewMachine(cfg)

	runRally := func(start float64) {
		step(m, start, 0.8, 0)
		step(m, start+0.5, 0.9, 0)
		step(m, start+2.5, 0.9, 0)
		step(m, start+3.0, 0.1, 2)
		step(m, start+4.0, 0.0, 3)
	}
	runRally(0)
	runRally(10)

	s := m.Stats()
	assert.Equal(t, 2, s.TotalRallies)
	assert.Equal(t, StateIdle, s.State)
	assert.InDelta(t, 2.5, s.AvgDuration, 1e-9)
	assert.InDelta(t, 5.0, s.TotalRallyTime, 1e-9)
}

func TestReset(t *testing.T) {
	cfg := stepConfig()
	cfg.MinRallyDuration = 1.0
	m := NewMachine(cfg)

	step(m, 0.0, 0.8, 0)
	step(m, 0.5, 0.9, 0)
	step(m, 3.0, 0.1, 2)
	require.NotEmpty(t, m.Completed())

	m.Reset()
	assert.Equal(t, StateIdle, m.State())
	assert.Empty(t, m.Completed())
	assert.Equal(t, 0.0, m.LastConfidence())
}
