package it8

import (
	"github.com/colorforge/go-colord/color"
	"github.com/colorforge/go-colord/colorderr"
)

// TypeFactoryOption marks a CCMX generated from factory reference data.
const TypeFactoryOption = "TYPE_FACTORY"

// GenerateCCMX computes a 3x3 correction matrix from a reference TI3 and a
// measured TI3 of the same patch set, such that matrix · measured ≈
// reference for every patch, in the joint least-squares sense.
//
// The patch sets are matched by SAMPLE_ID and must be identical. Fewer than
// 3 patches makes the fit underdetermined and is rejected with InputInvalid;
// a measured set that does not span XYZ is rejected with Singular.
func GenerateCCMX(reference, measured *Document, factory bool) (*Document, error) {
	if reference.Kind != KindTI3 || measured.Kind != KindTI3 {
		return nil, colorderr.New(colorderr.InputInvalid,
			"correction matrices are fitted from TI3 documents")
	}
	if len(reference.Rows) < 3 {
		return nil, colorderr.New(colorderr.InputInvalid,
			"need at least 3 patches, got %d", len(reference.Rows))
	}
	byID := make(map[string]color.XYZ, len(measured.Rows))
	for _, row := range measured.Rows {
		byID[row.SampleID] = row.XYZ
	}
	if len(byID) != len(reference.Rows) {
		return nil, colorderr.New(colorderr.InputInvalid,
			"patch sets differ, %d reference vs %d measured",
			len(reference.Rows), len(byID))
	}

	// accumulate A = Σ r·mᵀ and the Gram matrix B = Σ m·mᵀ
	var a, b color.Mat3x3
	for _, row := range reference.Rows {
		m, ok := byID[row.SampleID]
		if !ok {
			return nil, colorderr.New(colorderr.InputInvalid,
				"patch %q missing from measured set", row.SampleID)
		}
		r := row.XYZ
		a.M00 += r.X * m.X
		a.M01 += r.X * m.Y
		a.M02 += r.X * m.Z
		a.M10 += r.Y * m.X
		a.M11 += r.Y * m.Y
		a.M12 += r.Y * m.Z
		a.M20 += r.Z * m.X
		a.M21 += r.Z * m.Y
		a.M22 += r.Z * m.Z
		b.M00 += m.X * m.X
		b.M01 += m.X * m.Y
		b.M02 += m.X * m.Z
		b.M10 += m.Y * m.X
		b.M11 += m.Y * m.Y
		b.M12 += m.Y * m.Z
		b.M20 += m.Z * m.X
		b.M21 += m.Z * m.Y
		b.M22 += m.Z * m.Z
	}
	bInv, err := color.MatrixInverse(b)
	if err != nil {
		return nil, err
	}

	doc := NewDocument(KindCCMX)
	doc.Matrix = color.MatrixMultiply(a, bInv)
	doc.Title = "Device Correction Matrix"
	doc.Originator = reference.Originator
	doc.Instrument = measured.Instrument
	if factory {
		doc.AddOption(TypeFactoryOption)
	}
	return doc, nil
}
