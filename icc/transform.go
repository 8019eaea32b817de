package icc

import (
	"math"

	"github.com/colorforge/go-colord/color"
	"github.com/colorforge/go-colord/colorderr"
)

// RenderingIntent selects the gamut-mapping strategy of a transform.
type RenderingIntent int

const (
	// IntentPerceptual compresses the whole gamut smoothly.
	IntentPerceptual RenderingIntent = iota
	// IntentRelativeColorimetric maps in-gamut colors exactly, scaled to
	// the media white.
	IntentRelativeColorimetric
	// IntentSaturation favors vividness over accuracy.
	IntentSaturation
	// IntentAbsoluteColorimetric maps without white point scaling.
	IntentAbsoluteColorimetric
)

// BitDepth is the per-channel storage width of a pixel format.
type BitDepth int

const (
	// Depth8 is 8 bits per channel.
	Depth8 BitDepth = iota
	// Depth16 is 16 bits per channel, big-endian.
	Depth16
	// DepthFloat is a big-endian float64 per channel.
	DepthFloat
)

// ChannelOrder is the in-memory channel layout.
type ChannelOrder int

const (
	// OrderRGB stores channels red first.
	OrderRGB ChannelOrder = iota
	// OrderBGR stores channels blue first.
	OrderBGR
)

// PixelFormat describes one side of a transform's buffers.
type PixelFormat struct {
	Colorspace Colorspace
	Depth      BitDepth
	Order      ChannelOrder
	Alpha      bool
}

// channels returns the number of stored channels per pixel.
func (f PixelFormat) channels() int {
	n := 3
	if f.Alpha {
		n++
	}
	return n
}

// bytesPerChannel returns the storage width of one channel.
func (f PixelFormat) bytesPerChannel() int {
	switch f.Depth {
	case Depth8:
		return 1
	case Depth16:
		return 2
	}
	return 8
}

// forwardModel is the matrix/TRC device→PCS path of an RGB profile.
type forwardModel struct {
	curves [3]curve
	matrix color.Mat3x3
}

func newForwardModel(p *Profile) (*forwardModel, error) {
	red, green, blue, err := p.Primaries()
	if err != nil {
		return nil, err
	}
	m := &forwardModel{
		matrix: color.Mat3x3{
			M00: red.X, M01: green.X, M02: blue.X,
			M10: red.Y, M11: green.Y, M12: blue.Y,
			M20: red.Z, M21: green.Z, M22: blue.Z,
		},
	}
	for i, sig := range []string{sigRedTRC, sigGreenTRC, sigBlueTRC} {
		data, ok := p.tags[sig]
		if !ok {
			// missing TRC means linear
			m.curves[i] = curve{gamma: 1.0}
			continue
		}
		c, err := decodeCurve(data)
		if err != nil {
			return nil, err
		}
		m.curves[i] = c
	}
	return m, nil
}

// apply maps encoded device RGB to PCS XYZ.
func (m *forwardModel) apply(c color.RGB) color.XYZ {
	lin := color.Vec3{
		V0: m.curves[0].eval(clamp01(c.R)),
		V1: m.curves[1].eval(clamp01(c.G)),
		V2: m.curves[2].eval(clamp01(c.B)),
	}
	return color.VecToXYZ(color.MatrixVectorMultiply(m.matrix, lin))
}

// evalTRC returns the decoded (linear) value of an encoded neutral level,
// averaged across channels.
func (m *forwardModel) evalTRC(v float64) float64 {
	return (m.curves[0].eval(v) + m.curves[1].eval(v) + m.curves[2].eval(v)) / 3.0
}

// inverseModel is the PCS→device path.
type inverseModel struct {
	curves  [3]curve
	inverse color.Mat3x3
}

func newInverseModel(p *Profile) (*inverseModel, error) {
	fwd, err := newForwardModel(p)
	if err != nil {
		return nil, err
	}
	inv, err := color.MatrixInverse(fwd.matrix)
	if err != nil {
		return nil, err
	}
	return &inverseModel{curves: fwd.curves, inverse: inv}, nil
}

// apply maps PCS XYZ to encoded device RGB.
func (m *inverseModel) apply(c color.XYZ) color.RGB {
	lin := color.MatrixVectorMultiply(m.inverse, color.XYZToVec(c))
	return color.RGB{
		R: m.curves[0].invEval(clamp01(lin.V0)),
		G: m.curves[1].invEval(clamp01(lin.V1)),
		B: m.curves[2].invEval(clamp01(lin.V2)),
	}
}

// invEval inverts the tone curve numerically.
func (c curve) invEval(want float64) float64 {
	if len(c.table) == 0 {
		if c.gamma == 1.0 {
			return want
		}
		if want <= 0 {
			return 0
		}
		return math.Pow(want, 1.0/c.gamma)
	}
	lo, hi := 0.0, 1.0
	for i := 0; i < 32; i++ {
		mid := (lo + hi) / 2
		if c.eval(mid) < want {
			lo = mid
		} else {
			hi = mid
		}
	}
	return (lo + hi) / 2
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Transform chains an input profile, an optional abstract profile and an
// output profile with a rendering intent and pixel formats. A prepared
// Transform is immutable and safe for concurrent use; preparation itself
// is single-threaded.
type Transform struct {
	fwd       *forwardModel
	inv       *inverseModel
	abstract  *forwardModel
	intent    RenderingIntent
	inFormat  PixelFormat
	outFormat PixelFormat
	inWhite   color.XYZ
	outWhite  color.XYZ
}

// NewTransform prepares a transform. The input and output profiles must be
// matrix/TRC RGB profiles; intents needing LUT tables degrade to
// relative-colorimetric behavior.
func NewTransform(input, abstract, output *Profile, intent RenderingIntent,
	inFormat, outFormat PixelFormat) (*Transform, error) {
	if input == nil || output == nil {
		return nil, colorderr.New(colorderr.InputInvalid,
			"input and output profiles are required")
	}
	if inFormat.Colorspace != SpaceRGB || outFormat.Colorspace != SpaceRGB {
		return nil, colorderr.New(colorderr.NoSupport,
			"only RGB pixel formats are implemented")
	}
	fwd, err := newForwardModel(input)
	if err != nil {
		return nil, err
	}
	inv, err := newInverseModel(output)
	if err != nil {
		return nil, err
	}
	t := &Transform{
		fwd:       fwd,
		inv:       inv,
		intent:    intent,
		inFormat:  inFormat,
		outFormat: outFormat,
	}
	if abstract != nil {
		am, err := newForwardModel(abstract)
		if err != nil {
			return nil, err
		}
		t.abstract = am
	}
	t.inWhite, _ = input.WhitePoint()
	t.outWhite, _ = output.WhitePoint()
	return t, nil
}

// convert maps one pixel through the chain.
func (t *Transform) convert(in color.RGB) color.RGB {
	xyz := t.fwd.apply(in)
	if t.intent != IntentAbsoluteColorimetric &&
		t.inWhite.Y > 1e-9 && t.outWhite.Y > 1e-9 {
		// relative scaling of the white points, also used for the
		// perceptual and saturation intents in this matrix-only path
		xyz.X *= t.outWhite.X / t.inWhite.X
		xyz.Y *= t.outWhite.Y / t.inWhite.Y
		xyz.Z *= t.outWhite.Z / t.inWhite.Z
	}
	if t.abstract != nil {
		// abstract edits apply in the PCS through the profile's TRC
		xyz = t.abstract.apply(color.RGB{
			R: clamp01(xyz.X), G: clamp01(xyz.Y), B: clamp01(xyz.Z)})
	}
	return t.inv.apply(xyz)
}

// Process applies the transform to a pixel buffer of w x h pixels. stride is
// the input row stride in bytes; output rows are written packed, w pixels
// per row with no padding. The buffers must not overlap.
func (t *Transform) Process(in []byte, out []byte, w, h, stride int) error {
	inPix := t.inFormat.channels() * t.inFormat.bytesPerChannel()
	outPix := t.outFormat.channels() * t.outFormat.bytesPerChannel()
	outStride := w * outPix
	if stride < w*inPix {
		return colorderr.New(colorderr.InputInvalid,
			"stride %d too small for %d pixels", stride, w)
	}
	if len(in) < h*stride || len(out) < h*outStride {
		return colorderr.New(colorderr.InputInvalid,
			"buffer too small for %dx%d", w, h)
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			px := readPixel(in[y*stride+x*inPix:], t.inFormat)
			px = t.convert(px)
			writePixel(out[y*outStride+x*outPix:], t.outFormat, px)
		}
	}
	return nil
}

func readPixel(b []byte, f PixelFormat) color.RGB {
	get := func(i int) float64 {
		switch f.Depth {
		case Depth8:
			return float64(b[i]) / 0xff
		case Depth16:
			return float64(uint16(b[i*2])<<8|uint16(b[i*2+1])) / 0xffff
		}
		return math.Float64frombits(
			uint64(b[i*8])<<56 | uint64(b[i*8+1])<<48 |
				uint64(b[i*8+2])<<40 | uint64(b[i*8+3])<<32 |
				uint64(b[i*8+4])<<24 | uint64(b[i*8+5])<<16 |
				uint64(b[i*8+6])<<8 | uint64(b[i*8+7]))
	}
	if f.Order == OrderBGR {
		return color.RGB{R: get(2), G: get(1), B: get(0)}
	}
	return color.RGB{R: get(0), G: get(1), B: get(2)}
}

func writePixel(b []byte, f PixelFormat, c color.RGB) {
	put := func(i int, v float64) {
		v = clamp01(v)
		switch f.Depth {
		case Depth8:
			b[i] = byte(v*0xff + 0.5)
		case Depth16:
			u := uint16(v*0xffff + 0.5)
			b[i*2] = byte(u >> 8)
			b[i*2+1] = byte(u)
		default:
			u := math.Float64bits(v)
			for j := 0; j < 8; j++ {
				b[i*8+j] = byte(u >> (56 - 8*j))
			}
		}
	}
	if f.Order == OrderBGR {
		put(2, c.R)
		put(1, c.G)
		put(0, c.B)
	} else {
		put(0, c.R)
		put(1, c.G)
		put(2, c.B)
	}
	if f.Alpha {
		put(3, 1.0)
	}
}
