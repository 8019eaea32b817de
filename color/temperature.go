package color

import (
	"math"

	"github.com/colorforge/go-colord/colorderr"
)

// TemperatureToXYZ returns the white point for a correlated color
// temperature in Kelvin. Valid for 2500 K to 20000 K; outside that range an
// OutOfRange error is returned.
//
// The chromaticity is computed with the cubic approximations to the Planckian
// locus, the inverse of the McCamy fit used by TemperatureFromXYZ.
func TemperatureToXYZ(kelvin float64) (XYZ, error) {
	if kelvin < 2500 || kelvin > 20000 {
		return XYZ{}, colorderr.New(colorderr.OutOfRange,
			"color temperature %.0fK outside 2500..20000K", kelvin)
	}

	// piecewise cubic for x, then the locus polynomial for y
	var x float64
	t := 1e3 / kelvin
	t2 := t * t
	t3 := t2 * t
	if kelvin < 4000 {
		x = -0.2661239*t3 - 0.2343589*t2 + 0.8776956*t + 0.179910
	} else {
		x = -3.0258469*t3 + 2.1070379*t2 + 0.2226347*t + 0.240390
	}

	var y float64
	x2 := x * x
	x3 := x2 * x
	switch {
	case kelvin < 2222:
		y = -1.1063814*x3 - 1.34811020*x2 + 2.18555832*x - 0.20219683
	case kelvin < 4000:
		y = -0.9549476*x3 - 1.37418593*x2 + 2.09137015*x - 0.16748867
	default:
		y = 3.0817580*x3 - 5.87338670*x2 + 3.75112997*x - 0.37001483
	}

	return YxyToXYZ(Yxy{Y: 1.0, X: x, YY: y}), nil
}

// TemperatureFromXYZ returns the correlated color temperature in Kelvin for
// a white point, using the McCamy approximation.
func TemperatureFromXYZ(white XYZ) float64 {
	chroma := XYZToYxy(white)
	n := (chroma.X - 0.3320) / (chroma.YY - 0.1858)
	return -449.0*math.Pow(n, 3) + 3525.0*math.Pow(n, 2) - 6823.3*n + 5520.33
}
