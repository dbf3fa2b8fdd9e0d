package max31855

import (
	"errors"
	"math"
)

var errInvalidInput = errors.New("linearize: temperature is NaN")

// Linearize corrects the chip's linear cold junction compensation using the
// NIST ITS-90 type K inverse polynomials. internal and thermocouple are the
// values decoded from the same frame. It returns NaN if either input is NaN
// or if the thermocouple voltage is outside the -200°C..1372°C tables.
func Linearize(internal, thermocouple float64) float64 {
	t, err := linearize(internal, thermocouple)
	if err != nil {
		return math.NaN()
	}
	return t
}

func linearize(internal, thermocouple float64) (float64, error) {
	if math.IsNaN(internal) || math.IsNaN(thermocouple) {
		return math.NaN(), errInvalidInput
	}

	// Undo the chip's linear model to get back to millivolts.
	vtc := (thermocouple - internal) * seebeckK
	vcj := internal * seebeckCJ
	e := vtc + vcj

	var d []float64
	switch {
	case e < 0:
		d = nistNeg
	case e < rangeLowMax:
		d = nistLow
	case e < rangeMax:
		d = nistHigh
	default:
		return math.NaN(), ErrOutOfRange
	}
	return horner(d, e), nil
}

// horner evaluates d[0] + d[1]*x + ... + d[n]*x^n.
func horner(d []float64, x float64) float64 {
	var t float64
	for i := len(d) - 1; i >= 0; i-- {
		t = t*x + d[i]
	}
	return t
}

// Fahrenheit converts °C to °F. NaN stays NaN.
func Fahrenheit(c float64) float64 {
	return c*9/5 + 32
}
