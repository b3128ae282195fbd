// Package units converts bar velocities between reporting units.
// Velocities are computed and stored in metres per second.
package units

import "strings"

// Unit constants
const (
	MPS  = "mps"
	FTPS = "ftps"
	MPH  = "mph"
	KMPH = "kmph"
	KPH  = "kph"
)

// ValidUnits contains all valid unit values
var ValidUnits = []string{MPS, FTPS, MPH, KMPH, KPH}

const (
	mpsToMPH  = 2.2369362920544
	mpsToFTPS = 3.2808398950131
	mpsToKMPH = 3.6
)

// IsValid checks if the given unit is in the list of valid units
func IsValid(unit string) bool {
	for _, validUnit := range ValidUnits {
		if unit == validUnit {
			return true
		}
	}
	return false
}

// GetValidUnitsString returns a comma-separated string of valid units for error messages
func GetValidUnitsString() string {
	return strings.Join(ValidUnits, ", ")
}

// Label returns a human-readable suffix such as "m/s".
func Label(unit string) string {
	switch unit {
	case FTPS:
		return "ft/s"
	case MPH:
		return "mph"
	case KMPH, KPH:
		return "km/h"
	default:
		return "m/s"
	}
}

func factor(unit string) float64 {
	switch unit {
	case FTPS:
		return mpsToFTPS
	case MPH:
		return mpsToMPH
	case KMPH, KPH:
		return mpsToKMPH
	default:
		return 1
	}
}

// ConvertSpeed converts a velocity from metres per second to the target
// unit. Unknown units fall back to m/s. The sign is preserved.
func ConvertSpeed(speedMPS float64, targetUnits string) float64 {
	return speedMPS * factor(targetUnits)
}

// ConvertToMPS is the inverse of ConvertSpeed.
func ConvertToMPS(speed float64, fromUnits string) float64 {
	return speed / factor(fromUnits)
}

// ConvertSeries returns a converted copy of a velocity series.
func ConvertSeries(speedsMPS []float64, targetUnits string) []float64 {
	f := factor(targetUnits)
	out := make([]float64, len(speedsMPS))
	for i, v := range speedsMPS {
		out[i] = v * f
	}
	return out
}
