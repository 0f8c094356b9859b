// Package ballistics scores whether an observed trajectory is consistent
// with projectile motion. It fits a quadratic to a window of trajectory
// points and combines fit quality, velocity bounds, gravity consistency and
// smoothness into a single plausibility score. The scores are heuristic
// plausibility measures, not a certified physical simulation.
package ballistics

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/rallycut/internal/config"
	"github.com/banshee-data/rallycut/internal/units"
)

// Config holds thresholds and weights for physics validation.
type Config struct {
	Enabled bool

	MinPointsForFit    int
	MaxTrajectoryError float64 // max RMS residual (pixels) for a valid fit

	MaxHorizontalVelocityMps float64
	MaxVerticalVelocityMps   float64

	// Plausible curvature magnitude band for the quadratic coefficient.
	// Partial credit decays smoothly outside the band.
	CurvatureMin float64
	CurvatureMax float64

	MaxAccelVariance float64 // smoothness ceiling for acceleration variance

	TrajectoryWeight float64 // weight of the fit-quality score
	PhysicsWeight    float64 // weight of the velocity/gravity average
	SmoothnessWeight float64 // weight of the smoothness score
	MinScore         float64 // composite score floor for validity
}

// DefaultConfig returns the compiled default validation configuration.
func DefaultConfig() Config {
	return ConfigFromTuning(config.EmptyTuningConfig())
}

// ConfigFromTuning builds a validation Config from a loaded TuningConfig.
func ConfigFromTuning(cfg *config.TuningConfig) Config {
	return Config{
		Enabled:                  cfg.GetEnablePhysics(),
		MinPointsForFit:          cfg.GetMinPointsForFit(),
		MaxTrajectoryError:       cfg.GetMaxTrajectoryError(),
		MaxHorizontalVelocityMps: cfg.GetMaxHorizontalVelocity(),
		MaxVerticalVelocityMps:   cfg.GetMaxVerticalVelocity(),
		CurvatureMin:             cfg.GetCurvatureMin(),
		CurvatureMax:             cfg.GetCurvatureMax(),
		MaxAccelVariance:         cfg.GetMaxAccelVariance(),
		TrajectoryWeight:         cfg.GetTrajectoryScoreWeight(),
		PhysicsWeight:            cfg.GetPhysicsScoreWeight(),
		SmoothnessWeight:         cfg.GetSmoothnessScoreWeight(),
		MinScore:                 cfg.GetMinPhysicsScore(),
	}
}

// Validation is the immutable result of trajectory validation.
type Validation struct {
	Valid bool
	Score float64 // composite plausibility [0, 1]

	TrajectoryScore float64
	VelocityScore   float64
	GravityScore    float64
	SmoothnessScore float64

	Fit              *QuadraticFit // nil when no fit could be produced
	MaxVelocity      float64       // peak sample speed, pixels/second
	TrajectoryLength float64       // path length in metres
}

// Validator scores trajectory windows against projectile-motion expectations.
type Validator struct {
	cfg    Config
	fitter CurveFitter
}

// NewValidator creates a validator with the default x-parameterized fitter.
func NewValidator(cfg Config) *Validator {
	return &Validator{cfg: cfg, fitter: XQuadraticFitter{}}
}

// NewValidatorWithFitter creates a validator with a custom curve fitter.
func NewValidatorWithFitter(cfg Config, fitter CurveFitter) *Validator {
	return &Validator{cfg: cfg, fitter: fitter}
}

// Validate scores a trajectory window. pixelsPerMeter converts image-space
// velocities to physical units for the velocity bounds check.
//
// When validation is disabled by configuration the result is fully valid by
// construction, a deliberate bypass rather than a degenerate computation.
func (v *Validator) Validate(points []Point, pixelsPerMeter float64) Validation {
	if !v.cfg.Enabled {
		return Validation{
			Valid: true, Score: 1.0,
			TrajectoryScore: 1.0, VelocityScore: 1.0,
			GravityScore: 1.0, SmoothnessScore: 1.0,
		}
	}

	if len(points) < v.cfg.MinPointsForFit {
		return Validation{} // insufficient data: explicitly invalid, all zero
	}

	fit, fitOK := v.fitter.Fit(points)
	var fitPtr *QuadraticFit
	if fitOK {
		fitPtr = &fit
	}

	velocityScore := v.velocityScore(points, pixelsPerMeter)
	gravityScore := v.gravityScore(fitPtr, len(points))
	smoothnessScore := v.smoothnessScore(points)
	trajectoryScore := v.trajectoryScore(fitPtr)

	score := v.cfg.TrajectoryWeight*trajectoryScore +
		v.cfg.PhysicsWeight*(velocityScore+gravityScore)/2.0 +
		v.cfg.SmoothnessWeight*smoothnessScore

	valid := score >= v.cfg.MinScore &&
		fitOK &&
		fit.ResidualRMS <= v.cfg.MaxTrajectoryError

	return Validation{
		Valid:            valid,
		Score:            score,
		TrajectoryScore:  trajectoryScore,
		VelocityScore:    velocityScore,
		GravityScore:     gravityScore,
		SmoothnessScore:  smoothnessScore,
		Fit:              fitPtr,
		MaxVelocity:      maxVelocity(points),
		TrajectoryLength: trajectoryLength(points, pixelsPerMeter),
	}
}

// velocityScore is the fraction of consecutive-sample velocities whose
// physical components fall inside the configured ceilings.
func (v *Validator) velocityScore(points []Point, pixelsPerMeter float64) float64 {
	if len(points) < 2 {
		return 1.0
	}

	valid, total := 0, 0
	for i := 1; i < len(points); i++ {
		dt := points[i].T - points[i-1].T
		if dt <= 0 {
			continue
		}
		velXMps := units.PixelsPerSecondToMps((points[i].X-points[i-1].X)/dt, pixelsPerMeter)
		velYMps := units.PixelsPerSecondToMps((points[i].Y-points[i-1].Y)/dt, pixelsPerMeter)

		total++
		if math.Abs(velXMps) <= v.cfg.MaxHorizontalVelocityMps &&
			math.Abs(velYMps) <= v.cfg.MaxVerticalVelocityMps {
			valid++
		}
	}
	if total == 0 {
		return 1.0
	}
	return float64(valid) / float64(total)
}

// gravityScore rewards downward-opening curvature with a magnitude inside
// the plausible band. Credit decays as the ratio to the nearest band edge
// rather than dropping to zero outside it.
func (v *Validator) gravityScore(fit *QuadraticFit, pointCount int) float64 {
	if fit == nil || pointCount < 3 {
		return 0.5 // neutral: no evidence either way
	}

	directionScore := 0.0
	if fit.OpensDownward {
		directionScore = 1.0
	}

	magnitude := math.Abs(fit.A)
	var magnitudeScore float64
	switch {
	case magnitude >= v.cfg.CurvatureMin && magnitude <= v.cfg.CurvatureMax:
		magnitudeScore = 1.0
	case magnitude < v.cfg.CurvatureMin:
		magnitudeScore = magnitude / v.cfg.CurvatureMin
	default:
		magnitudeScore = v.cfg.CurvatureMax / magnitude
	}
	magnitudeScore = clamp01(magnitudeScore)

	return (directionScore + magnitudeScore) / 2.0
}

// smoothnessScore maps the variance of second-derivative samples to [0, 1]:
// lower acceleration variance means a smoother, more ballistic path.
func (v *Validator) smoothnessScore(points []Point) float64 {
	if len(points) < 3 {
		return 1.0
	}

	var accelerations []float64
	for i := 1; i < len(points)-1; i++ {
		dt1 := points[i].T - points[i-1].T
		dt2 := points[i+1].T - points[i].T
		if dt1 <= 0 || dt2 <= 0 {
			continue
		}

		vel1X := (points[i].X - points[i-1].X) / dt1
		vel1Y := (points[i].Y - points[i-1].Y) / dt1
		vel2X := (points[i+1].X - points[i].X) / dt2
		vel2Y := (points[i+1].Y - points[i].Y) / dt2

		dtMid := (dt1 + dt2) / 2
		accX := (vel2X - vel1X) / dtMid
		accY := (vel2Y - vel1Y) / dtMid
		accelerations = append(accelerations, math.Hypot(accX, accY))
	}
	if len(accelerations) < 2 {
		return 1.0
	}

	variance := stat.Variance(accelerations, nil)
	return clamp01(1.0 - variance/v.cfg.MaxAccelVariance)
}

// trajectoryScore blends R², inverse residual error and point-count adequacy.
func (v *Validator) trajectoryScore(fit *QuadraticFit) float64 {
	if fit == nil {
		return 0.0
	}

	rSquaredScore := math.Max(0, fit.RSquared)
	errorScore := math.Max(0, 1.0-fit.ResidualRMS/v.cfg.MaxTrajectoryError)

	// More points above the fit minimum increase confidence, saturating at
	// twice the minimum.
	minPoints := v.cfg.MinPointsForFit
	idealPoints := minPoints * 2
	pointScore := 1.0
	if idealPoints > minPoints {
		pointScore = clamp01(float64(fit.PointCount-minPoints) / float64(idealPoints-minPoints))
	}

	return clamp01(rSquaredScore*0.5 + errorScore*0.3 + pointScore*0.2)
}

func maxVelocity(points []Point) float64 {
	var maxVel float64
	for i := 1; i < len(points); i++ {
		dt := points[i].T - points[i-1].T
		if dt <= 0 {
			continue
		}
		dx := points[i].X - points[i-1].X
		dy := points[i].Y - points[i-1].Y
		if vel := math.Hypot(dx, dy) / dt; vel > maxVel {
			maxVel = vel
		}
	}
	return maxVel
}

func trajectoryLength(points []Point, pixelsPerMeter float64) float64 {
	var total float64
	for i := 1; i < len(points); i++ {
		dx := points[i].X - points[i-1].X
		dy := points[i].Y - points[i-1].Y
		total += units.PixelsToMeters(math.Hypot(dx, dy), pixelsPerMeter)
	}
	return total
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
