package devices

import "math"

// Unit is the temperature scale a thermostat reports in.
type Unit string

const (
	Celsius    Unit = "C"
	Fahrenheit Unit = "F"
)

// ParseUnit maps the vendor's scale field ("c"/"f") to a Unit.
func ParseUnit(scale string) Unit {
	switch scale {
	case "c", "C":
		return Celsius
	default:
		return Fahrenheit
	}
}

// ConvertTemperature converts t between scales. Same-scale conversion is the
// identity.
func ConvertTemperature(t float64, from, to Unit) float64 {
	if from == to {
		return t
	}
	if from == Celsius {
		return t*9/5 + 32
	}
	return (t - 32) * 5 / 9
}

// RoundTemperature snaps t to the resolution the vendor accepts: whole
// degrees Fahrenheit, half degrees Celsius.
func RoundTemperature(t float64, u Unit) float64 {
	if u == Celsius {
		return math.Round(t*2) / 2
	}
	return math.Round(t)
}
