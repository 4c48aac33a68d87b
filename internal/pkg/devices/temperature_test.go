package devices

import (
	"math"
	"testing"
)

func TestParseUnit(t *testing.T) {
	cases := map[string]Unit{
		"c": Celsius,
		"C": Celsius,
		"f": Fahrenheit,
		"F": Fahrenheit,
		"":  Fahrenheit,
	}

	for scale, want := range cases {
		if got := ParseUnit(scale); got != want {
			t.Errorf("ParseUnit(%q) = %v, want %v", scale, got, want)
		}
	}
}

func TestConvertTemperature(t *testing.T) {
	t.Run("known points", func(t *testing.T) {
		if got := ConvertTemperature(0, Celsius, Fahrenheit); got != 32 {
			t.Errorf("0C = %gF, want 32", got)
		}
		if got := ConvertTemperature(212, Fahrenheit, Celsius); got != 100 {
			t.Errorf("212F = %gC, want 100", got)
		}
	})

	t.Run("same scale is the identity", func(t *testing.T) {
		if got := ConvertTemperature(72.3, Fahrenheit, Fahrenheit); got != 72.3 {
			t.Errorf("identity conversion = %g, want 72.3", got)
		}
	})

	t.Run("round trip", func(t *testing.T) {
		for _, v := range []float64{-40, 0, 21.5, 98.6} {
			back := ConvertTemperature(ConvertTemperature(v, Celsius, Fahrenheit), Fahrenheit, Celsius)
			if math.Abs(back-v) > 1e-9 {
				t.Errorf("round trip of %g came back as %g", v, back)
			}
		}
	})
}

func TestRoundTemperature(t *testing.T) {
	t.Run("fahrenheit snaps to whole degrees", func(t *testing.T) {
		cases := map[float64]float64{72.4: 72, 72.5: 73, 68.0: 68}
		for in, want := range cases {
			if got := RoundTemperature(in, Fahrenheit); got != want {
				t.Errorf("RoundTemperature(%g, F) = %g, want %g", in, got, want)
			}
		}
	})

	t.Run("celsius snaps to half degrees", func(t *testing.T) {
		cases := map[float64]float64{21.2: 21, 21.3: 21.5, 21.75: 22, 21.5: 21.5}
		for in, want := range cases {
			if got := RoundTemperature(in, Celsius); got != want {
				t.Errorf("RoundTemperature(%g, C) = %g, want %g", in, got, want)
			}
		}
	})

	t.Run("rounding is idempotent", func(t *testing.T) {
		for _, u := range []Unit{Celsius, Fahrenheit} {
			for _, v := range []float64{18.3, 21.75, 72.4} {
				once := RoundTemperature(v, u)
				if twice := RoundTemperature(once, u); twice != once {
					t.Errorf("rounding %g twice in %v moved %g to %g", v, u, once, twice)
				}
			}
		}
	})
}
