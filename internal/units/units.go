// Package units provides shared constants and conversions for heart-rate
// and sensor-voltage values.
package units

// Rate unit constants
const (
	BPM = "bpm"
	Hz  = "hz"
)

// ValidRateUnits contains all valid rate unit values
var ValidRateUnits = []string{BPM, Hz}

// IsValidRateUnit checks if the given unit is in the list of valid units
func IsValidRateUnit(unit string) bool {
	for _, validUnit := range ValidRateUnits {
		if unit == validUnit {
			return true
		}
	}
	return false
}

// ValidRateUnitsString returns a comma-separated string of valid rate units
// for error messages
func ValidRateUnitsString() string {
	return "bpm, hz"
}

// ConvertRate converts a rate from beats per minute to the target units.
// The database and detector both work in bpm.
func ConvertRate(bpm float64, targetUnits string) float64 {
	switch targetUnits {
	case Hz:
		return bpm / 60.0
	case BPM:
		return bpm
	default:
		return bpm // default to bpm if unknown unit
	}
}

// BPMFromInterval converts an inter-beat interval in milliseconds to beats
// per minute. Returns 0 for a non-positive interval.
func BPMFromInterval(intervalMS float64) float64 {
	if intervalMS <= 0 {
		return 0
	}
	return 60000.0 / intervalMS
}

// VoltsFromCounts converts a raw ADC reading to volts given the converter's
// bit depth and reference voltage. A 12-bit ADC with a 1.2V reference maps
// 0..4095 onto 0..1.2V.
func VoltsFromCounts(counts int, bits int, vref float64) float64 {
	if bits <= 0 || counts < 0 {
		return 0
	}
	full := float64(int(1)<<uint(bits)) - 1
	return float64(counts) / full * vref
}
