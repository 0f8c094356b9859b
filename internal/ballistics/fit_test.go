package ballistics

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// parabolaPoints samples y = a*x^2 + b*x + c at 30fps with the given
// horizontal step in pixels per frame.
func parabolaPoints(a, b, c float64, n int, step float64) []Point {
	points := make([]Point, n)
	for i := 0; i < n; i++ {
		x := float64(i) * step
		points[i] = Point{
			X:          x,
			Y:          a*x*x + b*x + c,
			T:          float64(i) / 30.0,
			Confidence: 0.9,
		}
	}
	return points
}

func TestFitExactParabola(t *testing.T) {
	points := parabolaPoints(-0.005, 2.0, 100.0, 10, 10.0)

	fit, ok := XQuadraticFitter{}.Fit(points)
	require.True(t, ok)

	assert.InDelta(t, -0.005, fit.A, 1e-9)
	assert.InDelta(t, 2.0, fit.B, 1e-9)
	assert.InDelta(t, 100.0, fit.C, 1e-6)
	assert.InDelta(t, 1.0, fit.RSquared, 1e-9)
	assert.InDelta(t, 0.0, fit.ResidualRMS, 1e-6)
	assert.Equal(t, 10, fit.PointCount)
	assert.True(t, fit.OpensDownward)

	// Vertex at -b/2a.
	assert.InDelta(t, 200.0, fit.VertexX, 1e-6)
}

func TestFitUpwardParabola(t *testing.T) {
	points := parabolaPoints(0.004, -1.0, 50.0, 8, 10.0)

	fit, ok := XQuadraticFitter{}.Fit(points)
	require.True(t, ok)
	assert.False(t, fit.OpensDownward)
	assert.Greater(t, fit.A, 0.0)
}

func TestFitTooFewPoints(t *testing.T) {
	points := parabolaPoints(-0.005, 2.0, 100.0, 2, 10.0)
	_, ok := XQuadraticFitter{}.Fit(points)
	assert.False(t, ok)
}

func TestFitVerticalColumnRejected(t *testing.T) {
	// All samples share one x coordinate, so y(x) is not a function.
	points := []Point{
		{X: 100, Y: 10, T: 0.0},
		{X: 100, Y: 50, T: 0.1},
		{X: 100, Y: 90, T: 0.2},
		{X: 100, Y: 120, T: 0.3},
	}
	_, ok := XQuadraticFitter{}.Fit(points)
	assert.False(t, ok)
}

func TestFitNoisyParabola(t *testing.T) {
	points := parabolaPoints(-0.003, 1.5, 80.0, 12, 10.0)
	// Deterministic alternating jitter.
	for i := range points {
		if i%2 == 0 {
			points[i].Y += 2.0
		} else {
			points[i].Y -= 2.0
		}
	}

	fit, ok := XQuadraticFitter{}.Fit(points)
	require.True(t, ok)
	assert.InDelta(t, -0.003, fit.A, 1e-3)
	assert.Greater(t, fit.RSquared, 0.9)
	assert.Less(t, fit.ResidualRMS, 5.0)
}

func TestTimeFitterHandlesVerticalMotion(t *testing.T) {
	// A straight vertical drop defeats the y(x) fitter but is a clean
	// quadratic in time.
	points := make([]Point, 8)
	for i := range points {
		tm := float64(i) / 30.0
		points[i] = Point{
			X: 100,
			Y: 50 + 30*tm + 400*tm*tm,
			T: tm,
		}
	}

	_, ok := XQuadraticFitter{}.Fit(points)
	require.False(t, ok)

	fit, ok := TimeQuadraticFitter{}.Fit(points)
	require.True(t, ok)
	assert.InDelta(t, 400.0, fit.A, 1e-6)
	assert.InDelta(t, 30.0, fit.B, 1e-6)
	assert.InDelta(t, 1.0, fit.RSquared, 1e-9)
}

func TestFitRejectsNonFinite(t *testing.T) {
	points := parabolaPoints(-0.005, 2.0, 100.0, 6, 10.0)
	points[3].Y = math.NaN()

	_, ok := XQuadraticFitter{}.Fit(points)
	assert.False(t, ok)
}
