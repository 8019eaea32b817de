package icc

import (
	"github.com/go-playground/validator/v10"

	"github.com/colorforge/go-colord/color"
	"github.com/colorforge/go-colord/colorderr"
)

var edidValidate = validator.New()

// CreateFromEDID builds a minimal display profile from monitor EDID data: a
// single-gamma tone curve per channel and colorants derived from the
// supplied chromaticities, scaled so that full-scale RGB lands on the
// supplied white point.
//
// The profile is v4, kind display, colorspace RGB, and round-trips through
// Encode and Parse.
func CreateFromEDID(gamma float64, red, green, blue, white color.Yxy) (*Profile, error) {
	if err := edidValidate.Var(gamma, "gte=1,lte=4"); err != nil {
		return nil, colorderr.Wrap(colorderr.InputInvalid, err,
			"gamma %.3f outside 1..4", gamma)
	}
	for _, c := range []color.Yxy{red, green, blue, white} {
		if err := edidValidate.Var(c.X, "gt=0,lt=1"); err != nil {
			return nil, colorderr.Wrap(colorderr.InputInvalid, err,
				"chromaticity x %.4f outside (0,1)", c.X)
		}
		if err := edidValidate.Var(c.YY, "gt=0,lt=1"); err != nil {
			return nil, colorderr.Wrap(colorderr.InputInvalid, err,
				"chromaticity y %.4f outside (0,1)", c.YY)
		}
	}

	// unit-luminance chromaticities of the three channels
	r := color.YxyToXYZ(color.Yxy{Y: 1.0, X: red.X, YY: red.YY})
	g := color.YxyToXYZ(color.Yxy{Y: 1.0, X: green.X, YY: green.YY})
	b := color.YxyToXYZ(color.Yxy{Y: 1.0, X: blue.X, YY: blue.YY})
	w := color.YxyToXYZ(color.Yxy{Y: 1.0, X: white.X, YY: white.YY})

	// solve the channel luminances so that R+G+B = white
	prim := color.Mat3x3{
		M00: r.X, M01: g.X, M02: b.X,
		M10: r.Y, M11: g.Y, M12: b.Y,
		M20: r.Z, M21: g.Z, M22: b.Z,
	}
	inv, err := color.MatrixInverse(prim)
	if err != nil {
		return nil, err
	}
	scale := color.MatrixVectorMultiply(inv, color.XYZToVec(w))

	p := &Profile{
		kind:       KindDisplay,
		colorspace: SpaceRGB,
		version:    4.3,
		tags:       map[string][]byte{},
	}
	copy(p.header[36:40], "acsp")
	copy(p.header[20:24], "XYZ ")
	// PCS illuminant is always D50
	wtD50 := encodeXYZTag(color.XYZ{X: 0.9642, Y: 1.0, Z: 0.8249})
	copy(p.header[68:80], wtD50[8:20])

	p.SetTagData(sigWhitePoint, encodeXYZTag(w))
	p.SetTagData(sigRedColorant, encodeXYZTag(color.XYZ{
		X: r.X * scale.V0, Y: r.Y * scale.V0, Z: r.Z * scale.V0}))
	p.SetTagData(sigGreenColorant, encodeXYZTag(color.XYZ{
		X: g.X * scale.V1, Y: g.Y * scale.V1, Z: g.Z * scale.V1}))
	p.SetTagData(sigBlueColorant, encodeXYZTag(color.XYZ{
		X: b.X * scale.V2, Y: b.Y * scale.V2, Z: b.Z * scale.V2}))
	curveData := encodeGammaCurve(gamma)
	p.SetTagData(sigRedTRC, curveData)
	p.SetTagData(sigGreenTRC, curveData)
	p.SetTagData(sigBlueTRC, curveData)

	return p, nil
}
