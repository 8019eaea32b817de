package it8

import (
	"github.com/colorforge/go-colord/color"
	"github.com/colorforge/go-colord/colorderr"
)

// ToVCGT converts a CAL document's curve rows into a gamma table of the
// requested size, resampling with the restricted Akima interpolator so the
// result never overshoots the stored curve. The output is suitable for
// Profile.SetVCGT.
func ToVCGT(doc *Document, size int) (color.RGBArray, error) {
	if doc.Kind != KindCAL {
		return nil, colorderr.New(colorderr.InputInvalid,
			"not a CAL document")
	}
	if len(doc.Rows) < 2 {
		return nil, colorderr.New(colorderr.NoData,
			"CAL document has %d curve rows", len(doc.Rows))
	}
	curve := make(color.RGBArray, len(doc.Rows))
	for i, row := range doc.Rows {
		curve[i] = row.RGB
	}
	return color.RGBArrayInterpolate(curve, size)
}

// FromVCGT fills a CAL document from a gamma table read out of a profile.
func FromVCGT(curve color.RGBArray) (*Document, error) {
	if len(curve) < 2 {
		return nil, colorderr.New(colorderr.InputInvalid,
			"need at least 2 entries, got %d", len(curve))
	}
	doc := NewDocument(KindCAL)
	doc.Title = "Video card gamma table"
	doc.Rows = make([]Row, len(curve))
	for i, c := range curve {
		doc.Rows[i] = Row{
			Index: float64(i) / float64(len(curve)-1),
			RGB:   c,
		}
	}
	return doc, nil
}
