package color

import (
	"math"

	"github.com/colorforge/go-colord/colorderr"
)

// InterpKind selects the interpolation method.
type InterpKind int

const (
	// InterpLinear joins samples with straight segments.
	InterpLinear InterpKind = iota
	// InterpAkima uses Akima's weighted-slope spline, which avoids the
	// overshoot of a natural cubic on uneven data.
	InterpAkima
)

// Interp evaluates y(x) over a prepared table of samples. Queries outside
// [x0, xn] clamp to the end values.
type Interp struct {
	kind     InterpKind
	x        []float64
	y        []float64
	slopes   []float64
	prepared bool
}

// NewInterp creates an interpolator over x/y pairs. Prepare must be called
// before Eval.
func NewInterp(kind InterpKind, x, y []float64) *Interp {
	return &Interp{
		kind: kind,
		x:    append([]float64(nil), x...),
		y:    append([]float64(nil), y...),
	}
}

// Prepare validates the table and precomputes the Akima slopes. The x
// values must be strictly increasing; NotMonotone is returned otherwise.
func (in *Interp) Prepare() error {
	if len(in.x) != len(in.y) {
		return colorderr.New(colorderr.InputInvalid,
			"x/y length mismatch, %d != %d", len(in.x), len(in.y))
	}
	if len(in.x) < 2 {
		return colorderr.New(colorderr.InputInvalid,
			"need at least 2 samples, got %d", len(in.x))
	}
	for i := 1; i < len(in.x); i++ {
		if in.x[i] <= in.x[i-1] {
			return colorderr.New(colorderr.NotMonotone,
				"x[%d]=%f is not greater than x[%d]=%f",
				i, in.x[i], i-1, in.x[i-1])
		}
	}
	if in.kind == InterpAkima {
		in.slopes = akimaSlopes(in.x, in.y)
	}
	in.prepared = true
	return nil
}

// akimaSlopes computes per-point slopes with the Akima weighting. Segment
// slopes are extended past both ends by quadratic extrapolation so interior
// weighting applies everywhere.
func akimaSlopes(x, y []float64) []float64 {
	n := len(x)
	// segment slopes m[-2..n+1] stored with offset 2
	m := make([]float64, n+3)
	for i := 0; i < n-1; i++ {
		m[i+2] = (y[i+1] - y[i]) / (x[i+1] - x[i])
	}
	m[1] = 2*m[2] - m[3]
	m[0] = 2*m[1] - m[2]
	m[n+1] = 2*m[n] - m[n-1]
	m[n+2] = 2*m[n+1] - m[n]

	t := make([]float64, n)
	for i := 0; i < n; i++ {
		w1 := math.Abs(m[i+3] - m[i+2])
		w2 := math.Abs(m[i+1] - m[i])
		if w1+w2 < 1e-12 {
			t[i] = (m[i+1] + m[i+2]) / 2.0
			continue
		}
		t[i] = (w1*m[i+1] + w2*m[i+2]) / (w1 + w2)
	}
	return t
}

// Eval returns y at the given x, clamping outside the table range.
func (in *Interp) Eval(xq float64) (float64, error) {
	if !in.prepared {
		return 0, colorderr.New(colorderr.Internal, "interpolator not prepared")
	}
	n := len(in.x)
	if xq <= in.x[0] {
		return in.y[0], nil
	}
	if xq >= in.x[n-1] {
		return in.y[n-1], nil
	}
	// find the segment by binary search
	lo, hi := 0, n-1
	for hi-lo > 1 {
		mid := (lo + hi) / 2
		if in.x[mid] <= xq {
			lo = mid
		} else {
			hi = mid
		}
	}
	dx := in.x[hi] - in.x[lo]
	t := (xq - in.x[lo]) / dx
	if in.kind == InterpLinear {
		return in.y[lo] + (in.y[hi]-in.y[lo])*t, nil
	}
	// cubic Hermite over the Akima slopes
	h00 := 2*t*t*t - 3*t*t + 1
	h10 := t*t*t - 2*t*t + t
	h01 := -2*t*t*t + 3*t*t
	h11 := t*t*t - t*t
	return h00*in.y[lo] + h10*dx*in.slopes[lo] +
		h01*in.y[hi] + h11*dx*in.slopes[hi], nil
}

// RGBArray is an ordered sequence of RGB values used as an input curve.
type RGBArray []RGB

// RGBArrayInterpolate resamples curve to nOut points with an Akima spline.
// The output is clamped channelwise into the hull of the input so the
// smoothing never overshoots the supplied curve.
func RGBArrayInterpolate(curve RGBArray, nOut int) (RGBArray, error) {
	if len(curve) < 2 {
		return nil, colorderr.New(colorderr.InputInvalid,
			"need at least 2 curve points, got %d", len(curve))
	}
	if nOut < 2 {
		return nil, colorderr.New(colorderr.InputInvalid,
			"need at least 2 output points, got %d", nOut)
	}
	x := make([]float64, len(curve))
	for i := range curve {
		x[i] = float64(i) / float64(len(curve)-1)
	}
	channel := func(get func(RGB) float64) (*Interp, float64, float64, error) {
		y := make([]float64, len(curve))
		lo, hi := math.Inf(1), math.Inf(-1)
		for i, c := range curve {
			y[i] = get(c)
			lo = math.Min(lo, y[i])
			hi = math.Max(hi, y[i])
		}
		in := NewInterp(InterpAkima, x, y)
		if err := in.Prepare(); err != nil {
			return nil, 0, 0, err
		}
		return in, lo, hi, nil
	}
	ir, rLo, rHi, err := channel(func(c RGB) float64 { return c.R })
	if err != nil {
		return nil, err
	}
	ig, gLo, gHi, err := channel(func(c RGB) float64 { return c.G })
	if err != nil {
		return nil, err
	}
	ib, bLo, bHi, err := channel(func(c RGB) float64 { return c.B })
	if err != nil {
		return nil, err
	}
	out := make(RGBArray, nOut)
	clamp := func(v, lo, hi float64) float64 {
		return math.Min(hi, math.Max(lo, v))
	}
	for i := 0; i < nOut; i++ {
		xq := float64(i) / float64(nOut-1)
		r, _ := ir.Eval(xq)
		g, _ := ig.Eval(xq)
		b, _ := ib.Eval(xq)
		out[i] = RGB{
			R: clamp(r, rLo, rHi),
			G: clamp(g, gLo, gHi),
			B: clamp(b, bLo, bHi),
		}
	}
	return out, nil
}
