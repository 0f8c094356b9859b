// Package units provides speed unit conversion between image space and
// physical units. Trajectories are measured in pixels; physics limits are
// specified in metres per second, bridged by a pixels-per-metre scale.
package units

// Unit constants
const (
	MPS  = "mps"
	MPH  = "mph"
	KMPH = "kmph"
	KPH  = "kph"
)

// ValidUnits contains all valid unit values
var ValidUnits = []string{MPS, MPH, KMPH, KPH}

// IsValid checks if the given unit is in the list of valid units
func IsValid(unit string) bool {
	for _, validUnit := range ValidUnits {
		if unit == validUnit {
			return true
		}
	}
	return false
}

// PixelsPerSecondToMps converts an image-space speed (pixels/second) to
// metres per second using the scene's pixels-per-metre scale. A non-positive
// scale yields 0 rather than a division blow-up.
func PixelsPerSecondToMps(pixelsPerSecond, pixelsPerMeter float64) float64 {
	if pixelsPerMeter <= 0 {
		return 0
	}
	return pixelsPerSecond / pixelsPerMeter
}

// PixelsToMeters converts an image-space length to metres.
func PixelsToMeters(pixels, pixelsPerMeter float64) float64 {
	if pixelsPerMeter <= 0 {
		return 0
	}
	return pixels / pixelsPerMeter
}

// ConvertSpeed converts a speed from metres per second to the target units.
// Unknown units pass the value through unchanged.
func ConvertSpeed(speedMPS float64, targetUnits string) float64 {
	switch targetUnits {
	case MPS:
		return speedMPS
	case MPH:
		return speedMPS * 2.2369362920544
	case KMPH, KPH:
		return speedMPS * 3.6
	default:
		return speedMPS
	}
}
