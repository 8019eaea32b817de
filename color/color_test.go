package color_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colorforge/go-colord/color"
	"github.com/colorforge/go-colord/colorderr"
)

func TestXYZYxyRoundTrip(t *testing.T) {
	samples := []color.XYZ{
		{X: 96.42, Y: 100.0, Z: 82.49},
		{X: 41.24, Y: 21.26, Z: 1.93},
		{X: 0.01, Y: 0.02, Z: 0.03},
		{X: 145.46, Y: 99.88, Z: 116.59},
	}
	for _, s := range samples {
		got := color.YxyToXYZ(color.XYZToYxy(s))
		assert.InDelta(t, s.X, got.X, 1e-6)
		assert.InDelta(t, s.Y, got.Y, 1e-6)
		assert.InDelta(t, s.Z, got.Z, 1e-6)
	}
}

func TestLabRoundTrip(t *testing.T) {
	in := color.XYZ{X: 0.4, Y: 0.3, Z: 0.2}
	lab := color.XYZToLab(in)
	out := color.LabToXYZ(lab)
	assert.InDelta(t, in.X, out.X, 1e-9)
	assert.InDelta(t, in.Y, out.Y, 1e-9)
	assert.InDelta(t, in.Z, out.Z, 1e-9)
}

func TestMatrixInverseRoundTrip(t *testing.T) {
	m := color.Mat3x3{
		M00: 0.7976749, M01: 0.1351917, M02: 0.0313534,
		M10: 0.2880402, M11: 0.7118741, M12: 0.0000857,
		M20: 0.0000000, M21: 0.0000000, M22: 0.8252100,
	}
	inv, err := color.MatrixInverse(m)
	require.NoError(t, err)
	id := color.MatrixMultiply(m, inv)
	for i, v := range id.Values() {
		want := 0.0
		if i%4 == 0 {
			want = 1.0
		}
		assert.InDelta(t, want, v, 1e-6)
	}
}

func TestMatrixInverseSingular(t *testing.T) {
	_, err := color.MatrixInverse(color.Mat3x3{})
	require.Error(t, err)
	assert.True(t, colorderr.IsKind(err, colorderr.Singular))
}

func TestInterpExactAtKnots(t *testing.T) {
	x := []float64{0.0, 0.25, 0.5, 0.75, 1.0}
	y := []float64{0.0, 0.1, 0.4, 0.75, 1.0}
	for _, kind := range []color.InterpKind{color.InterpLinear, color.InterpAkima} {
		in := color.NewInterp(kind, x, y)
		require.NoError(t, in.Prepare())
		for i := range x {
			got, err := in.Eval(x[i])
			require.NoError(t, err)
			assert.InDelta(t, y[i], got, 1e-9)
		}
	}
}

func TestInterpClampsOutside(t *testing.T) {
	in := color.NewInterp(color.InterpLinear, []float64{0, 1}, []float64{2, 3})
	require.NoError(t, in.Prepare())
	lo, err := in.Eval(-5)
	require.NoError(t, err)
	assert.Equal(t, 2.0, lo)
	hi, err := in.Eval(5)
	require.NoError(t, err)
	assert.Equal(t, 3.0, hi)
}

func TestInterpRejectsNonMonotone(t *testing.T) {
	in := color.NewInterp(color.InterpAkima, []float64{0, 1, 1}, []float64{0, 1, 2})
	err := in.Prepare()
	require.Error(t, err)
	assert.True(t, colorderr.IsKind(err, colorderr.NotMonotone))
}

func TestTemperatureD65(t *testing.T) {
	white, err := color.TemperatureToXYZ(6504)
	require.NoError(t, err)
	// 6504 K is the CCT of D65; the Planckian locus point at that
	// temperature lies just below the D65 chromaticity
	chroma := color.XYZToYxy(white)
	assert.InDelta(t, 0.3134, chroma.X, 5e-3)
	assert.InDelta(t, 0.3236, chroma.YY, 5e-3)

	back := color.TemperatureFromXYZ(white)
	assert.InDelta(t, 6504, back, 100)
}

func TestTemperatureOutOfRange(t *testing.T) {
	_, err := color.TemperatureToXYZ(100)
	require.Error(t, err)
	assert.True(t, colorderr.IsKind(err, colorderr.OutOfRange))
}

func TestRGBArrayInterpolateHull(t *testing.T) {
	curve := color.RGBArray{
		{R: 0.0, G: 0.0, B: 0.0},
		{R: 0.9, G: 0.8, B: 0.7},
		{R: 0.1, G: 0.2, B: 0.3},
		{R: 1.0, G: 1.0, B: 1.0},
	}
	out, err := color.RGBArrayInterpolate(curve, 101)
	require.NoError(t, err)
	require.Len(t, out, 101)
	for _, c := range out {
		assert.True(t, c.R >= 0.0 && c.R <= 1.0)
		assert.True(t, c.G >= 0.0 && c.G <= 1.0)
		assert.True(t, c.B >= 0.0 && c.B <= 1.0)
	}
	// ends are preserved exactly
	assert.InDelta(t, 0.0, out[0].R, 1e-9)
	assert.InDelta(t, 1.0, out[100].R, 1e-9)
}

func TestRGBInterpolate(t *testing.T) {
	a := color.RGB{R: 0, G: 0, B: 0}
	b := color.RGB{R: 1, G: 2, B: 4}
	mid := color.RGBInterpolate(a, b, 0.5)
	assert.InDelta(t, 0.5, mid.R, 1e-12)
	assert.InDelta(t, 1.0, mid.G, 1e-12)
	assert.InDelta(t, 2.0, mid.B, 1e-12)
}

func TestSRGBCurveRoundTrip(t *testing.T) {
	for v := 0.0; v <= 1.0; v += 0.05 {
		got := color.SRGBDecode(color.SRGBEncode(v))
		assert.InDelta(t, v, got, 1e-9)
	}
	assert.True(t, math.Abs(color.SRGBEncode(0)) < 1e-12)
}
