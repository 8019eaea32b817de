// Package spectrum implements a dense wavelength-indexed series of readings
// with a normalisation divisor and an optional wavelength calibration
// polynomial, plus the arithmetic the spectrometer drivers need.
package spectrum

import (
	"math"

	"github.com/colorforge/go-colord/colorderr"
)

// Spectrum is a dense series of values between a start and end wavelength.
//
// Raw values are stored as appended; Value and ValueAtWavelength divide by
// the norm so callers see calibrated readings. ValueMax intentionally reads
// the raw series - the drivers use it to judge sensor saturation before the
// norm is meaningful.
type Spectrum struct {
	id            string
	startNm       float64
	endNm         float64
	norm          float64
	values        []float64
	wavelengthCal [3]float64
	hasCal        bool
}

// New creates a spectrum over values spanning startNm..endNm.
// The invariants are len(values) >= 2, endNm > startNm and norm > 0.
func New(startNm, endNm float64, values []float64, norm float64) (*Spectrum, error) {
	if len(values) < 2 {
		return nil, colorderr.New(colorderr.InputInvalid,
			"need at least 2 values, got %d", len(values))
	}
	if endNm <= startNm {
		return nil, colorderr.New(colorderr.InputInvalid,
			"end %.1fnm not after start %.1fnm", endNm, startNm)
	}
	if norm <= 0 {
		return nil, colorderr.New(colorderr.InputInvalid,
			"norm must be positive, got %f", norm)
	}
	return &Spectrum{
		startNm: startNm,
		endNm:   endNm,
		norm:    norm,
		values:  append([]float64(nil), values...),
	}, nil
}

// NewSized creates an empty spectrum with capacity for n values, for
// incremental building with AddValue. Start, end and norm default to the
// visible range and 1.0 until set.
func NewSized(n int) *Spectrum {
	return &Spectrum{
		startNm: 380,
		endNm:   780,
		norm:    1.0,
		values:  make([]float64, 0, n),
	}
}

// AddValue appends a raw value to the series.
func (s *Spectrum) AddValue(v float64) {
	s.values = append(s.values, v)
}

// ID returns the short label.
func (s *Spectrum) ID() string { return s.id }

// SetID sets the short label.
func (s *Spectrum) SetID(id string) { s.id = id }

// Start returns the wavelength of the first sample in nm.
func (s *Spectrum) Start() float64 { return s.startNm }

// SetStart moves the start wavelength, keeping the sample spacing implied by
// the end wavelength.
func (s *Spectrum) SetStart(nm float64) { s.startNm = nm }

// End returns the wavelength of the last sample in nm.
func (s *Spectrum) End() float64 { return s.endNm }

// SetEnd sets the end wavelength.
func (s *Spectrum) SetEnd(nm float64) { s.endNm = nm }

// Norm returns the divisor applied on value reads.
func (s *Spectrum) Norm() float64 { return s.norm }

// SetNorm sets the divisor applied on value reads.
func (s *Spectrum) SetNorm(norm float64) { s.norm = norm }

// Size returns the number of samples.
func (s *Spectrum) Size() int { return len(s.values) }

// SetWavelengthCal sets the calibration polynomial coefficients so that
// wavelength(i) = start + c0*i + c1*i² + c2*i³.
func (s *Spectrum) SetWavelengthCal(c0, c1, c2 float64) {
	s.wavelengthCal = [3]float64{c0, c1, c2}
	s.hasCal = true
}

// WavelengthCal returns the polynomial coefficients and whether they are set.
func (s *Spectrum) WavelengthCal() ([3]float64, bool) {
	return s.wavelengthCal, s.hasCal
}

// WavelengthAt returns the wavelength of sample i, honoring the calibration
// polynomial when present and assuming even spacing otherwise.
func (s *Spectrum) WavelengthAt(i int) float64 {
	if s.hasCal {
		fi := float64(i)
		return s.startNm +
			s.wavelengthCal[0]*fi +
			s.wavelengthCal[1]*fi*fi +
			s.wavelengthCal[2]*fi*fi*fi
	}
	if len(s.values) < 2 {
		return s.startNm
	}
	step := (s.endNm - s.startNm) / float64(len(s.values)-1)
	return s.startNm + float64(i)*step
}

// Value returns sample i divided by the norm.
func (s *Spectrum) Value(i int) float64 {
	return s.values[i] / s.norm
}

// ValueRaw returns sample i without normalisation.
func (s *Spectrum) ValueRaw(i int) float64 {
	return s.values[i]
}

// ValueMax returns the largest raw sample. The drivers use this to judge
// sensor saturation, so the norm is not applied.
func (s *Spectrum) ValueMax() float64 {
	max := 0.0
	for _, v := range s.values {
		if v > max {
			max = v
		}
	}
	return max
}

// ValueAtWavelength returns the normalised value at an arbitrary wavelength
// by linear interpolation between the two nearest samples. Queries outside
// the spectrum bounds clamp to the end samples and return OutOfRange so the
// caller can decide whether the clamp matters.
func (s *Spectrum) ValueAtWavelength(nm float64) (float64, error) {
	if len(s.values) < 2 {
		return 0, colorderr.New(colorderr.NoData, "spectrum is empty")
	}
	if nm < s.startNm {
		return s.Value(0), colorderr.New(colorderr.OutOfRange,
			"%.1fnm before spectrum start %.1fnm", nm, s.startNm)
	}
	if nm > s.endNm {
		return s.Value(len(s.values) - 1), colorderr.New(colorderr.OutOfRange,
			"%.1fnm after spectrum end %.1fnm", nm, s.endNm)
	}
	step := (s.endNm - s.startNm) / float64(len(s.values)-1)
	pos := (nm - s.startNm) / step
	lo := int(pos)
	if lo >= len(s.values)-1 {
		return s.Value(len(s.values) - 1), nil
	}
	frac := pos - float64(lo)
	v := s.values[lo] + (s.values[lo+1]-s.values[lo])*frac
	return v / s.norm, nil
}

// Duplicate deep-copies the spectrum.
func (s *Spectrum) Duplicate() *Spectrum {
	dup := *s
	dup.values = append([]float64(nil), s.values...)
	return &dup
}

// Resample returns a new spectrum of n evenly spaced samples over
// startNm..endNm. The requested range must lie inside the source range.
func (s *Spectrum) Resample(startNm, endNm float64, n int) (*Spectrum, error) {
	if n < 2 {
		return nil, colorderr.New(colorderr.InputInvalid,
			"need at least 2 output samples, got %d", n)
	}
	if startNm < s.startNm || endNm > s.endNm {
		return nil, colorderr.New(colorderr.OutOfRange,
			"%.1f..%.1fnm outside source %.1f..%.1fnm",
			startNm, endNm, s.startNm, s.endNm)
	}
	values := make([]float64, n)
	step := (endNm - startNm) / float64(n-1)
	for i := 0; i < n; i++ {
		v, err := s.ValueAtWavelength(startNm + float64(i)*step)
		if err != nil {
			return nil, err
		}
		values[i] = v
	}
	out, err := New(startNm, endNm, values, 1.0)
	if err != nil {
		return nil, err
	}
	out.id = s.id
	return out, nil
}

// Add returns s + other sampled at s's wavelengths.
func (s *Spectrum) Add(other *Spectrum) (*Spectrum, error) {
	return s.combine(other, 0, func(a, b float64) float64 { return a + b })
}

// Subtract returns s - other sampled at s's wavelengths. marginNm crops
// both edges of the result by that many nm, dropping regions the
// integration was never valid over.
func (s *Spectrum) Subtract(other *Spectrum, marginNm float64) (*Spectrum, error) {
	return s.combine(other, marginNm, func(a, b float64) float64 { return a - b })
}

func (s *Spectrum) combine(other *Spectrum, marginNm float64, op func(a, b float64) float64) (*Spectrum, error) {
	if len(s.values) < 2 {
		return nil, colorderr.New(colorderr.NoData, "spectrum is empty")
	}
	start := s.startNm + marginNm
	end := s.endNm - marginNm
	if end <= start {
		return nil, colorderr.New(colorderr.InputInvalid,
			"margin %.1fnm leaves no samples", marginNm)
	}
	step := (s.endNm - s.startNm) / float64(len(s.values)-1)
	n := int((end-start)/step) + 1
	values := make([]float64, 0, n)
	for i := 0; i < n; i++ {
		nm := start + float64(i)*step
		a, err := s.ValueAtWavelength(nm)
		if err != nil {
			return nil, err
		}
		// the other spectrum may not cover the margin-trimmed range;
		// clamp silently, the margin exists to cut those regions off
		b, _ := other.ValueAtWavelength(nm)
		values = append(values, op(a, b))
	}
	out, err := New(start, start+float64(n-1)*step, values, 1.0)
	if err != nil {
		return nil, err
	}
	out.id = s.id
	return out, nil
}

// Scale multiplies every raw sample in place.
func (s *Spectrum) Scale(factor float64) {
	for i := range s.values {
		s.values[i] *= factor
	}
}

// PeakWavelength returns the wavelength of the largest sample.
func (s *Spectrum) PeakWavelength() float64 {
	best := 0
	for i, v := range s.values {
		if v > s.values[best] {
			best = i
		}
	}
	return s.WavelengthAt(best)
}

// Integrate returns the trapezoid integral of the normalised values between
// low and high nm, clamped to the spectrum bounds.
func (s *Spectrum) Integrate(lowNm, highNm float64) float64 {
	low := math.Max(lowNm, s.startNm)
	high := math.Min(highNm, s.endNm)
	if high <= low || len(s.values) < 2 {
		return 0
	}
	step := (s.endNm - s.startNm) / float64(len(s.values)-1)
	total := 0.0
	for nm := low; nm+step <= high; nm += step {
		a, _ := s.ValueAtWavelength(nm)
		b, _ := s.ValueAtWavelength(nm + step)
		total += (a + b) / 2.0 * step
	}
	return total
}

// Planck fills a spectrum with blackbody radiance for the given temperature,
// normalised to a peak of 1.0. Used to build realistic test data.
func Planck(kelvin float64, startNm, endNm float64, n int) (*Spectrum, error) {
	if n < 2 {
		return nil, colorderr.New(colorderr.InputInvalid,
			"need at least 2 samples, got %d", n)
	}
	const (
		h = 6.62607015e-34
		c = 2.99792458e8
		k = 1.380649e-23
	)
	values := make([]float64, n)
	step := (endNm - startNm) / float64(n-1)
	max := 0.0
	for i := 0; i < n; i++ {
		lambda := (startNm + float64(i)*step) * 1e-9
		values[i] = (2 * h * c * c) / (math.Pow(lambda, 5) *
			(math.Exp((h*c)/(lambda*k*kelvin)) - 1))
		if values[i] > max {
			max = values[i]
		}
	}
	for i := range values {
		values[i] /= max
	}
	return New(startNm, endNm, values, 1.0)
}
