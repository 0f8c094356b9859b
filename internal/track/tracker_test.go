package track

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpawnFromDetection(t *testing.T) {
	tr := NewTracker(DefaultConfig())

	snaps := tr.Update([]Detection{{X: 100, Y: 200, Confidence: 0.8}}, 0.0)
	require.Len(t, snaps, 1)

	assert.Equal(t, int64(1), snaps[0].ID)
	assert.Equal(t, 100.0, snaps[0].X)
	assert.Equal(t, 200.0, snaps[0].Y)
	assert.Greater(t, snaps[0].Confidence, 0.5)
}

func TestLowConfidenceDetectionIgnored(t *testing.T) {
	tr := NewTracker(DefaultConfig())

	snaps := tr.Update([]Detection{{X: 100, Y: 200, Confidence: 0.1}}, 0.0)
	assert.Empty(t, snaps)
}

func TestNonFiniteDetectionsFiltered(t *testing.T) {
	tr := NewTracker(DefaultConfig())

	snaps := tr.Update([]Detection{
		{X: math.NaN(), Y: 200, Confidence: 0.9},
		{X: 100, Y: math.Inf(1), Confidence: 0.9},
		{X: 100, Y: 200, Confidence: math.NaN()},
	}, 0.0)
	assert.Empty(t, snaps)
	assert.Equal(t, 1, tr.FrameCount())
}

func TestTrackFollowsLinearMotion(t *testing.T) {
	tr := NewTracker(DefaultConfig())

	var id int64
	for i := 0; i < 20; i++ {
		snaps := tr.Update([]Detection{{X: float64(i) * 10, Y: 300, Confidence: 0.9}}, float64(i)/30.0)
		require.Len(t, snaps, 1, "frame %d", i)
		id = snaps[0].ID
	}

	// One stable track, not a chain of respawns.
	assert.Equal(t, int64(1), id)

	best, ok := tr.Best()
	require.True(t, ok)
	assert.InDelta(t, 190.0, best.X, 5.0)
	assert.InDelta(t, 10.0, best.VX, 2.0)
	assert.InDelta(t, 0.0, best.VY, 1.0)
}

func TestConfidenceStaysInUnitInterval(t *testing.T) {
	tr := NewTracker(DefaultConfig())

	for i := 0; i < 60; i++ {
		var dets []Detection
		// Mix matched frames, missed frames, and a high-confidence burst.
		switch {
		case i%5 == 0:
			// no detection
		case i%3 == 0:
			dets = []Detection{{X: float64(i) * 5, Y: 100, Confidence: 1.0}}
		default:
			dets = []Detection{{X: float64(i) * 5, Y: 100, Confidence: 0.6}}
		}

		for _, s := range tr.Update(dets, float64(i)/30.0) {
			assert.GreaterOrEqual(t, s.Confidence, 0.0, "frame %d", i)
			assert.LessOrEqual(t, s.Confidence, 1.0, "frame %d", i)
		}
	}
}

func TestRetireAfterMaxMissedFrames(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxMissedFrames = 3
	tr := NewTracker(cfg)

	tr.Update([]Detection{{X: 100, Y: 100, Confidence: 0.9}}, 0.0)

	var last []Snapshot
	for i := 1; i <= 10; i++ {
		last = tr.Update(nil, float64(i)/30.0)
		if len(last) == 0 {
			break
		}
		assert.LessOrEqual(t, last[0].Missed, cfg.MaxMissedFrames)
	}
	assert.Empty(t, last)
}

func TestCoastingTrackReacquired(t *testing.T) {
	tr := NewTracker(DefaultConfig())

	for i := 0; i < 10; i++ {
		tr.Update([]Detection{{X: float64(i) * 10, Y: 100, Confidence: 0.9}}, float64(i)/30.0)
	}

	// Three missed frames, then the ball reappears where the constant
	// velocity model expects it.
	for i := 10; i < 13; i++ {
		snaps := tr.Update(nil, float64(i)/30.0)
		require.Len(t, snaps, 1)
	}
	snaps := tr.Update([]Detection{{X: 130, Y: 100, Confidence: 0.9}}, 13.0/30.0)
	require.Len(t, snaps, 1)
	assert.Equal(t, int64(1), snaps[0].ID)
	assert.Equal(t, 0, snaps[0].Missed)
}

func TestOneToOneAssociation(t *testing.T) {
	tr := NewTracker(DefaultConfig())

	tr.Update([]Detection{
		{X: 0, Y: 0, Confidence: 0.9},
		{X: 500, Y: 500, Confidence: 0.9},
	}, 0.0)

	snaps := tr.Update([]Detection{
		{X: 5, Y: 5, Confidence: 0.9},
		{X: 505, Y: 505, Confidence: 0.9},
	}, 1.0/30.0)

	require.Len(t, snaps, 2)
	for _, s := range snaps {
		assert.Equal(t, 0, s.Missed)
	}
}

func TestGreedyPrefersCloserTrack(t *testing.T) {
	tr := NewTracker(DefaultConfig())

	tr.Update([]Detection{
		{X: 0, Y: 0, Confidence: 0.9},
		{X: 30, Y: 0, Confidence: 0.9},
	}, 0.0)

	// One detection near the first track: exactly one track matches, the
	// other coasts.
	snaps := tr.Update([]Detection{{X: 2, Y: 0, Confidence: 0.9}}, 1.0/30.0)
	require.Len(t, snaps, 2)

	matched := 0
	for _, s := range snaps {
		if s.Missed == 0 {
			matched++
			assert.InDelta(t, 2.0, s.X, 3.0)
		}
	}
	assert.Equal(t, 1, matched)
}

func TestMaxTracksCap(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxTracks = 3
	tr := NewTracker(cfg)

	dets := make([]Detection, 10)
	for i := range dets {
		dets[i] = Detection{X: float64(i) * 200, Y: 0, Confidence: 0.9}
	}
	snaps := tr.Update(dets, 0.0)
	assert.Len(t, snaps, 3)
}

func TestPredictedPosition(t *testing.T) {
	tr := NewTracker(DefaultConfig())

	for i := 0; i < 20; i++ {
		tr.Update([]Detection{{X: float64(i) * 10, Y: 100, Confidence: 0.9}}, float64(i)/30.0)
	}

	best, ok := tr.Best()
	require.True(t, ok)

	x, y, ok := tr.PredictedPosition(best.ID, 5)
	require.True(t, ok)
	assert.InDelta(t, best.X+50.0, x, 12.0)
	assert.InDelta(t, 100.0, y, 5.0)

	_, _, ok = tr.PredictedPosition(9999, 5)
	assert.False(t, ok)
}

func TestTrail(t *testing.T) {
	tr := NewTracker(DefaultConfig())

	for i := 0; i < 8; i++ {
		tr.Update([]Detection{{X: float64(i), Y: 0, Confidence: 0.9}}, float64(i)/30.0)
	}
	best, ok := tr.Best()
	require.True(t, ok)

	trail := tr.Trail(best.ID, 5)
	require.Len(t, trail, 5)
	// Oldest first, most recent last.
	assert.Equal(t, 3.0, trail[0].X)
	assert.Equal(t, 7.0, trail[4].X)

	assert.Nil(t, tr.Trail(9999, 5))
}

func TestStats(t *testing.T) {
	tr := NewTracker(DefaultConfig())
	assert.Equal(t, Stats{}, tr.Stats())

	tr.Update([]Detection{
		{X: 0, Y: 0, Confidence: 0.9},
		{X: 500, Y: 500, Confidence: 0.7},
	}, 0.0)
	tr.Update(nil, 1.0/30.0)

	s := tr.Stats()
	assert.Equal(t, 2, s.ActiveTracks)
	assert.Equal(t, 2, s.TracksPredicting)
	assert.Equal(t, 1, s.MaxMissedStreak)
	assert.Greater(t, s.MaxConfidence, s.AvgConfidence)
}

func TestReset(t *testing.T) {
	tr := NewTracker(DefaultConfig())
	tr.Update([]Detection{{X: 100, Y: 100, Confidence: 0.9}}, 0.0)
	require.Equal(t, 1, tr.FrameCount())

	tr.Reset()
	assert.Equal(t, 0, tr.FrameCount())
	_, ok := tr.Best()
	assert.False(t, ok)

	// IDs restart from 1 after a reset.
	snaps := tr.Update([]Detection{{X: 100, Y: 100, Confidence: 0.9}}, 0.0)
	require.Len(t, snaps, 1)
	assert.Equal(t, int64(1), snaps[0].ID)
}
