// Package config holds the tunable parameters for the rally extraction
// pipeline. All thresholds and weights that shape tracking, physics
// validation, rally decisions and segment assembly live here so they can be
// adjusted from a JSON file without recompiling.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// TuningConfig represents the root configuration for tuning parameters.
// Every field is a pointer so a partial JSON file only overrides what it
// names; the Get* accessors supply compiled defaults for the rest.
type TuningConfig struct {
	// Ball tracker params
	ProcessNoisePosition  *float64 `json:"process_noise_position,omitempty"`
	ProcessNoiseVelocity  *float64 `json:"process_noise_velocity,omitempty"`
	MeasurementNoise      *float64 `json:"measurement_noise,omitempty"`
	AssociationGate       *float64 `json:"association_gate_threshold,omitempty"`
	MaxMissedFrames       *int     `json:"max_missed_frames,omitempty"`
	MaxTracks             *int     `json:"max_tracks,omitempty"`
	MinTrackingConfidence *float64 `json:"min_tracking_confidence,omitempty"`
	ConfidenceDecayRate   *float64 `json:"confidence_decay_rate,omitempty"`
	ConfidenceBoost       *float64 `json:"confidence_boost_on_detection,omitempty"`
	ConfidenceFloor       *float64 `json:"track_confidence_floor,omitempty"`

	// Physics validation params
	EnablePhysics         *bool    `json:"enable_enhanced_physics,omitempty"`
	MinPointsForFit       *int     `json:"min_points_for_fit,omitempty"`
	MaxTrajectoryError    *float64 `json:"max_trajectory_error,omitempty"`
	MaxHorizontalVelocity *float64 `json:"max_horizontal_velocity,omitempty"`
	MaxVerticalVelocity   *float64 `json:"max_vertical_velocity,omitempty"`
	CurvatureMin          *float64 `json:"curvature_min,omitempty"`
	CurvatureMax          *float64 `json:"curvature_max,omitempty"`
	MaxAccelVariance      *float64 `json:"max_accel_variance,omitempty"`
	TrajectoryScoreWeight *float64 `json:"trajectory_score_weight,omitempty"`
	PhysicsScoreWeight    *float64 `json:"physics_score_weight,omitempty"`
	SmoothnessScoreWeight *float64 `json:"smoothness_score_weight,omitempty"`
	MinPhysicsScore       *float64 `json:"min_physics_score,omitempty"`

	// Rally decider params
	RallyStartThreshold  *float64 `json:"rally_start_threshold,omitempty"`
	RallyEndThreshold    *float64 `json:"rally_end_threshold,omitempty"`
	MinRallyDuration     *float64 `json:"min_rally_duration,omitempty"`
	MaxGapInRally        *float64 `json:"max_gap_in_rally,omitempty"`
	RallyCooldownPeriod  *float64 `json:"rally_cooldown_period,omitempty"`
	PotentialGracePeriod *float64 `json:"potential_grace_period,omitempty"`
	VelocityChangeForHit *float64 `json:"velocity_change_threshold,omitempty"`
	MinContactSeparation *float64 `json:"min_contact_separation,omitempty"`
	DetectionWeight      *float64 `json:"detection_weight,omitempty"`
	TrackingWeight       *float64 `json:"tracking_weight,omitempty"`
	PhysicsWeight        *float64 `json:"physics_weight,omitempty"`
	TemporalWeight       *float64 `json:"temporal_weight,omitempty"`
	MotionWeight         *float64 `json:"motion_weight,omitempty"`
	TemporalWindow       *float64 `json:"temporal_window,omitempty"`
	HighConfidenceBar    *float64 `json:"high_confidence_bar,omitempty"`
	MotionMinVelocity    *float64 `json:"motion_min_velocity,omitempty"`
	MotionMaxVelocity    *float64 `json:"motion_max_velocity,omitempty"`
	QualityDurationCap   *float64 `json:"quality_duration_cap,omitempty"`
	QualityContactCap    *int     `json:"quality_contact_cap,omitempty"`
	QualityDurationWt    *float64 `json:"quality_duration_weight,omitempty"`
	QualityConfidenceWt  *float64 `json:"quality_confidence_weight,omitempty"`
	QualityContactWt     *float64 `json:"quality_contact_weight,omitempty"`

	// Segment assembly params
	RallyStartPadding     *float64 `json:"rally_start_padding,omitempty"`
	RallyEndPadding       *float64 `json:"rally_end_padding,omitempty"`
	MinSegmentDuration    *float64 `json:"min_segment_duration,omitempty"`
	MaxSegmentGap         *float64 `json:"max_segment_gap,omitempty"`
	ShortSegmentThreshold *float64 `json:"short_segment_threshold,omitempty"`
	MaxPrerollForShort    *float64 `json:"max_preroll_for_short,omitempty"`
	SegmentQualityFloor   *float64 `json:"segment_quality_threshold,omitempty"`

	// Pipeline params
	PixelsPerMeter   *float64 `json:"pixels_per_meter,omitempty"`
	TrajectoryWindow *int     `json:"trajectory_window,omitempty"`
}

// EmptyTuningConfig returns a TuningConfig with all fields unset, meaning
// every accessor falls back to its compiled default.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a JSON file. Fields omitted
// from the file retain their defaults, so partial configs are safe. The
// configuration is validated eagerly; an invalid file is an error here,
// never a silent bad threshold at runtime.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration values are internally consistent.
func (c *TuningConfig) Validate() error {
	// The hysteresis only works if the end threshold sits strictly below
	// the start threshold.
	start := c.GetRallyStartThreshold()
	end := c.GetRallyEndThreshold()
	if start < 0 || start > 1 {
		return fmt.Errorf("rally_start_threshold must be between 0 and 1, got %f", start)
	}
	if end < 0 || end > 1 {
		return fmt.Errorf("rally_end_threshold must be between 0 and 1, got %f", end)
	}
	if end >= start {
		return fmt.Errorf("rally_end_threshold (%f) must be less than rally_start_threshold (%f)", end, start)
	}

	if v := c.GetMinTrackingConfidence(); v < 0 || v > 1 {
		return fmt.Errorf("min_tracking_confidence must be between 0 and 1, got %f", v)
	}
	if v := c.GetConfidenceDecayRate(); v <= 0 || v > 1 {
		return fmt.Errorf("confidence_decay_rate must be in (0, 1], got %f", v)
	}
	if v := c.GetProcessNoisePosition(); v <= 0 {
		return fmt.Errorf("process_noise_position must be positive, got %f", v)
	}
	if v := c.GetProcessNoiseVelocity(); v <= 0 {
		return fmt.Errorf("process_noise_velocity must be positive, got %f", v)
	}
	if v := c.GetMeasurementNoise(); v <= 0 {
		return fmt.Errorf("measurement_noise must be positive, got %f", v)
	}
	if v := c.GetMaxMissedFrames(); v <= 0 {
		return fmt.Errorf("max_missed_frames must be positive, got %d", v)
	}
	if v := c.GetMaxHorizontalVelocity(); v <= 0 {
		return fmt.Errorf("max_horizontal_velocity must be positive, got %f", v)
	}
	if v := c.GetMaxVerticalVelocity(); v <= 0 {
		return fmt.Errorf("max_vertical_velocity must be positive, got %f", v)
	}
	if v := c.GetMinRallyDuration(); v <= 0 {
		return fmt.Errorf("min_rally_duration must be positive, got %f", v)
	}
	if v := c.GetRallyStartPadding(); v < 0 {
		return fmt.Errorf("rally_start_padding must be non-negative, got %f", v)
	}
	if v := c.GetRallyEndPadding(); v < 0 {
		return fmt.Errorf("rally_end_padding must be non-negative, got %f", v)
	}
	if v := c.GetMinSegmentDuration(); v <= 0 {
		return fmt.Errorf("min_segment_duration must be positive, got %f", v)
	}
	if v := c.GetMaxSegmentGap(); v < 0 {
		return fmt.Errorf("max_segment_gap must be non-negative, got %f", v)
	}
	if v := c.GetPixelsPerMeter(); v <= 0 {
		return fmt.Errorf("pixels_per_meter must be positive, got %f", v)
	}
	if v := c.GetMinPointsForFit(); v < 3 {
		return fmt.Errorf("min_points_for_fit must be at least 3, got %d", v)
	}
	if v := c.GetMaxTrajectoryError(); v <= 0 {
		return fmt.Errorf("max_trajectory_error must be positive, got %f", v)
	}
	if min, max := c.GetCurvatureMin(), c.GetCurvatureMax(); min <= 0 || max <= min {
		return fmt.Errorf("curvature range must satisfy 0 < min < max, got (%f, %f)", min, max)
	}
	return nil
}

// GetProcessNoisePosition returns the process_noise_position value or the default.
func (c *TuningConfig) GetProcessNoisePosition() float64 {
	if c.ProcessNoisePosition == nil {
		return 1.0
	}
	return *c.ProcessNoisePosition
}

// GetProcessNoiseVelocity returns the process_noise_velocity value or the default.
func (c *TuningConfig) GetProcessNoiseVelocity() float64 {
	if c.ProcessNoiseVelocity == nil {
		return 0.5
	}
	return *c.ProcessNoiseVelocity
}

// GetMeasurementNoise returns the measurement_noise value or the default.
func (c *TuningConfig) GetMeasurementNoise() float64 {
	if c.MeasurementNoise == nil {
		return 10.0
	}
	return *c.MeasurementNoise
}

// GetAssociationGate returns the association_gate_threshold value or the default.
func (c *TuningConfig) GetAssociationGate() float64 {
	if c.AssociationGate == nil {
		return 50.0 // pixels
	}
	return *c.AssociationGate
}

// GetMaxMissedFrames returns the max_missed_frames value or the default.
func (c *TuningConfig) GetMaxMissedFrames() int {
	if c.MaxMissedFrames == nil {
		return 15
	}
	return *c.MaxMissedFrames
}

// GetMaxTracks returns the max_tracks value or the default.
func (c *TuningConfig) GetMaxTracks() int {
	if c.MaxTracks == nil {
		return 16
	}
	return *c.MaxTracks
}

// GetMinTrackingConfidence returns the min_tracking_confidence value or the default.
func (c *TuningConfig) GetMinTrackingConfidence() float64 {
	if c.MinTrackingConfidence == nil {
		return 0.3
	}
	return *c.MinTrackingConfidence
}

// GetConfidenceDecayRate returns the confidence_decay_rate value or the default.
func (c *TuningConfig) GetConfidenceDecayRate() float64 {
	if c.ConfidenceDecayRate == nil {
		return 0.95
	}
	return *c.ConfidenceDecayRate
}

// GetConfidenceBoost returns the confidence_boost_on_detection value or the default.
func (c *TuningConfig) GetConfidenceBoost() float64 {
	if c.ConfidenceBoost == nil {
		return 0.1
	}
	return *c.ConfidenceBoost
}

// GetConfidenceFloor returns the track_confidence_floor value or the default.
func (c *TuningConfig) GetConfidenceFloor() float64 {
	if c.ConfidenceFloor == nil {
		return 0.1
	}
	return *c.ConfidenceFloor
}

// GetEnablePhysics returns the enable_enhanced_physics value or the default.
func (c *TuningConfig) GetEnablePhysics() bool {
	if c.EnablePhysics == nil {
		return true
	}
	return *c.EnablePhysics
}

// GetMinPointsForFit returns the min_points_for_fit value or the default.
func (c *TuningConfig) GetMinPointsForFit() int {
	if c.MinPointsForFit == nil {
		return 5
	}
	return *c.MinPointsForFit
}

// GetMaxTrajectoryError returns the max_trajectory_error value or the default.
func (c *TuningConfig) GetMaxTrajectoryError() float64 {
	if c.MaxTrajectoryError == nil {
		return 50.0 // pixels RMS
	}
	return *c.MaxTrajectoryError
}

// GetMaxHorizontalVelocity returns the max_horizontal_velocity value or the default.
func (c *TuningConfig) GetMaxHorizontalVelocity() float64 {
	if c.MaxHorizontalVelocity == nil {
		return 30.0 // m/s
	}
	return *c.MaxHorizontalVelocity
}

// GetMaxVerticalVelocity returns the max_vertical_velocity value or the default.
func (c *TuningConfig) GetMaxVerticalVelocity() float64 {
	if c.MaxVerticalVelocity == nil {
		return 20.0 // m/s
	}
	return *c.MaxVerticalVelocity
}

// GetCurvatureMin returns the curvature_min value or the default.
func (c *TuningConfig) GetCurvatureMin() float64 {
	if c.CurvatureMin == nil {
		return 0.0001
	}
	return *c.CurvatureMin
}

// GetCurvatureMax returns the curvature_max value or the default.
func (c *TuningConfig) GetCurvatureMax() float64 {
	if c.CurvatureMax == nil {
		return 0.01
	}
	return *c.CurvatureMax
}

// GetMaxAccelVariance returns the max_accel_variance value or the default.
func (c *TuningConfig) GetMaxAccelVariance() float64 {
	if c.MaxAccelVariance == nil {
		return 10000.0
	}
	return *c.MaxAccelVariance
}

// GetTrajectoryScoreWeight returns the trajectory_score_weight value or the default.
func (c *TuningConfig) GetTrajectoryScoreWeight() float64 {
	if c.TrajectoryScoreWeight == nil {
		return 0.3
	}
	return *c.TrajectoryScoreWeight
}

// GetPhysicsScoreWeight returns the physics_score_weight value or the default.
func (c *TuningConfig) GetPhysicsScoreWeight() float64 {
	if c.PhysicsScoreWeight == nil {
		return 0.4
	}
	return *c.PhysicsScoreWeight
}

// GetSmoothnessScoreWeight returns the smoothness_score_weight value or the default.
func (c *TuningConfig) GetSmoothnessScoreWeight() float64 {
	if c.SmoothnessScoreWeight == nil {
		return 0.3
	}
	return *c.SmoothnessScoreWeight
}

// GetMinPhysicsScore returns the min_physics_score value or the default.
func (c *TuningConfig) GetMinPhysicsScore() float64 {
	if c.MinPhysicsScore == nil {
		return 0.5
	}
	return *c.MinPhysicsScore
}

// GetRallyStartThreshold returns the rally_start_threshold value or the default.
func (c *TuningConfig) GetRallyStartThreshold() float64 {
	if c.RallyStartThreshold == nil {
		return 0.7
	}
	return *c.RallyStartThreshold
}

// GetRallyEndThreshold returns the rally_end_threshold value or the default.
func (c *TuningConfig) GetRallyEndThreshold() float64 {
	if c.RallyEndThreshold == nil {
		return 0.3
	}
	return *c.RallyEndThreshold
}

// GetMinRallyDuration returns the min_rally_duration value or the default.
func (c *TuningConfig) GetMinRallyDuration() float64 {
	if c.MinRallyDuration == nil {
		return 1.5 // seconds
	}
	return *c.MinRallyDuration
}

// GetMaxGapInRally returns the max_gap_in_rally value or the default.
func (c *TuningConfig) GetMaxGapInRally() float64 {
	if c.MaxGapInRally == nil {
		return 1.0 // seconds
	}
	return *c.MaxGapInRally
}

// GetRallyCooldownPeriod returns the rally_cooldown_period value or the default.
func (c *TuningConfig) GetRallyCooldownPeriod() float64 {
	if c.RallyCooldownPeriod == nil {
		return 0.5 // seconds
	}
	return *c.RallyCooldownPeriod
}

// GetPotentialGracePeriod returns the potential_grace_period value or the default.
func (c *TuningConfig) GetPotentialGracePeriod() float64 {
	if c.PotentialGracePeriod == nil {
		return 1.0 // seconds
	}
	return *c.PotentialGracePeriod
}

// GetVelocityChangeForHit returns the velocity_change_threshold value or the default.
func (c *TuningConfig) GetVelocityChangeForHit() float64 {
	if c.VelocityChangeForHit == nil {
		return 15.0 // pixels per frame
	}
	return *c.VelocityChangeForHit
}

// GetMinContactSeparation returns the min_contact_separation value or the default.
func (c *TuningConfig) GetMinContactSeparation() float64 {
	if c.MinContactSeparation == nil {
		return 0.3 // seconds
	}
	return *c.MinContactSeparation
}

// GetDetectionWeight returns the detection_weight value or the default.
func (c *TuningConfig) GetDetectionWeight() float64 {
	if c.DetectionWeight == nil {
		return 0.4
	}
	return *c.DetectionWeight
}

// GetTrackingWeight returns the tracking_weight value or the default.
func (c *TuningConfig) GetTrackingWeight() float64 {
	if c.TrackingWeight == nil {
		return 0.2
	}
	return *c.TrackingWeight
}

// GetPhysicsWeight returns the physics_weight value or the default.
func (c *TuningConfig) GetPhysicsWeight() float64 {
	if c.PhysicsWeight == nil {
		return 0.2
	}
	return *c.PhysicsWeight
}

// GetTemporalWeight returns the temporal_weight value or the default.
func (c *TuningConfig) GetTemporalWeight() float64 {
	if c.TemporalWeight == nil {
		return 0.1
	}
	return *c.TemporalWeight
}

// GetMotionWeight returns the motion_weight value or the default.
func (c *TuningConfig) GetMotionWeight() float64 {
	if c.MotionWeight == nil {
		return 0.1
	}
	return *c.MotionWeight
}

// GetTemporalWindow returns the temporal_window value or the default.
func (c *TuningConfig) GetTemporalWindow() float64 {
	if c.TemporalWindow == nil {
		return 2.0 // seconds
	}
	return *c.TemporalWindow
}

// GetHighConfidenceBar returns the high_confidence_bar value or the default.
func (c *TuningConfig) GetHighConfidenceBar() float64 {
	if c.HighConfidenceBar == nil {
		return 0.6
	}
	return *c.HighConfidenceBar
}

// GetMotionMinVelocity returns the motion_min_velocity value or the default.
func (c *TuningConfig) GetMotionMinVelocity() float64 {
	if c.MotionMinVelocity == nil {
		return 10.0 // pixels per frame
	}
	return *c.MotionMinVelocity
}

// GetMotionMaxVelocity returns the motion_max_velocity value or the default.
func (c *TuningConfig) GetMotionMaxVelocity() float64 {
	if c.MotionMaxVelocity == nil {
		return 200.0 // pixels per frame
	}
	return *c.MotionMaxVelocity
}

// GetQualityDurationCap returns the quality_duration_cap value or the default.
func (c *TuningConfig) GetQualityDurationCap() float64 {
	if c.QualityDurationCap == nil {
		return 10.0 // seconds; rallies at or beyond this get full duration credit
	}
	return *c.QualityDurationCap
}

// GetQualityContactCap returns the quality_contact_cap value or the default.
func (c *TuningConfig) GetQualityContactCap() int {
	if c.QualityContactCap == nil {
		return 10
	}
	return *c.QualityContactCap
}

// GetQualityDurationWt returns the quality_duration_weight value or the default.
func (c *TuningConfig) GetQualityDurationWt() float64 {
	if c.QualityDurationWt == nil {
		return 0.3
	}
	return *c.QualityDurationWt
}

// GetQualityConfidenceWt returns the quality_confidence_weight value or the default.
func (c *TuningConfig) GetQualityConfidenceWt() float64 {
	if c.QualityConfidenceWt == nil {
		return 0.4
	}
	return *c.QualityConfidenceWt
}

// GetQualityContactWt returns the quality_contact_weight value or the default.
func (c *TuningConfig) GetQualityContactWt() float64 {
	if c.QualityContactWt == nil {
		return 0.3
	}
	return *c.QualityContactWt
}

// GetRallyStartPadding returns the rally_start_padding value or the default.
func (c *TuningConfig) GetRallyStartPadding() float64 {
	if c.RallyStartPadding == nil {
		return 0.5 // seconds of pre-roll
	}
	return *c.RallyStartPadding
}

// GetRallyEndPadding returns the rally_end_padding value or the default.
func (c *TuningConfig) GetRallyEndPadding() float64 {
	if c.RallyEndPadding == nil {
		return 0.3 // seconds of post-roll
	}
	return *c.RallyEndPadding
}

// GetMinSegmentDuration returns the min_segment_duration value or the default.
func (c *TuningConfig) GetMinSegmentDuration() float64 {
	if c.MinSegmentDuration == nil {
		return 2.0 // seconds
	}
	return *c.MinSegmentDuration
}

// GetMaxSegmentGap returns the max_segment_gap value or the default.
func (c *TuningConfig) GetMaxSegmentGap() float64 {
	if c.MaxSegmentGap == nil {
		return 1.5 // seconds
	}
	return *c.MaxSegmentGap
}

// GetShortSegmentThreshold returns the short_segment_threshold value or the default.
func (c *TuningConfig) GetShortSegmentThreshold() float64 {
	if c.ShortSegmentThreshold == nil {
		return 2.5 // seconds; raw segments below this get a capped pre-roll
	}
	return *c.ShortSegmentThreshold
}

// GetMaxPrerollForShort returns the max_preroll_for_short value or the default.
func (c *TuningConfig) GetMaxPrerollForShort() float64 {
	if c.MaxPrerollForShort == nil {
		return 0.5 // seconds
	}
	return *c.MaxPrerollForShort
}

// GetSegmentQualityFloor returns the segment_quality_threshold value or the default.
func (c *TuningConfig) GetSegmentQualityFloor() float64 {
	if c.SegmentQualityFloor == nil {
		return 0.6
	}
	return *c.SegmentQualityFloor
}

// GetPixelsPerMeter returns the pixels_per_meter value or the default.
func (c *TuningConfig) GetPixelsPerMeter() float64 {
	if c.PixelsPerMeter == nil {
		return 100.0
	}
	return *c.PixelsPerMeter
}

// GetTrajectoryWindow returns the trajectory_window value or the default.
func (c *TuningConfig) GetTrajectoryWindow() int {
	if c.TrajectoryWindow == nil {
		return 10 // trailing points fed to the physics validator
	}
	return *c.TrajectoryWindow
}
