// Package it8 reads and writes ANSI CGATS/IT8 measurement files in the
// kinds used for display calibration: patch definitions (TI1), patch
// measurements (TI3), correction matrices (CCMX), colorimeter calibration
// spectra (CCSS), video-card calibration curves (CAL), color matching
// functions (CMF) and plain spectra (SPECT).
//
// Numeric parsing and formatting is strictly C-locale: the decimal
// separator is always "." regardless of the host locale.
package it8

import (
	"github.com/go-playground/validator/v10"

	"github.com/colorforge/go-colord/color"
	"github.com/colorforge/go-colord/colorderr"
	"github.com/colorforge/go-colord/spectrum"
)

// Kind is the CGATS document kind, detected from the leading identifier.
type Kind int

const (
	// KindTI1 is a patch definition set.
	KindTI1 Kind = iota
	// KindTI3 is a patch measurement set.
	KindTI3
	// KindCCMX is a 3x3 device correction matrix.
	KindCCMX
	// KindCCSS is a colorimeter calibration spectral set.
	KindCCSS
	// KindCAL is a video-card calibration curve set.
	KindCAL
	// KindCMF is a set of color matching functions.
	KindCMF
	// KindSPECT is a plain spectral power distribution.
	KindSPECT
)

// identifier returns the 7-character leading identifier written on the
// first line of the file.
func (k Kind) identifier() string {
	switch k {
	case KindTI1:
		return "CTI1   "
	case KindTI3:
		return "CTI3   "
	case KindCCMX:
		return "CCMX   "
	case KindCCSS:
		return "CCSS   "
	case KindCAL:
		return "CAL    "
	case KindCMF:
		return "CMF    "
	case KindSPECT:
		return "SPECT  "
	}
	return "CGATS  "
}

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case KindTI1:
		return "ti1"
	case KindTI3:
		return "ti3"
	case KindCCMX:
		return "ccmx"
	case KindCCSS:
		return "ccss"
	case KindCAL:
		return "cal"
	case KindCMF:
		return "cmf"
	case KindSPECT:
		return "spect"
	}
	return "unknown"
}

// Row is one data-table entry. Which members are meaningful depends on the
// document kind and the declared data format.
type Row struct {
	SampleID   string
	SampleName string
	RGB        color.RGB
	XYZ        color.XYZ
	Lab        color.Lab
	HasLab     bool
	Index      float64 // RGB_I column for CAL curves
}

// Property is an extended keyword/value pair preserved across round-trips
// in declaration order.
type Property struct {
	Key   string
	Value string
}

// Document is a parsed CGATS/IT8 file.
type Document struct {
	Kind       Kind
	Title      string `validate:"max=512"`
	Originator string `validate:"max=512"`
	Instrument string `validate:"max=512"`
	Reference  string `validate:"max=512"`

	// Options are bare flag keywords such as TYPE_FACTORY, declared with
	// KEYWORD lines and carrying no value.
	Options []string

	// Normalized records whether sample values are scaled to Y=100.
	Normalized bool

	// Spectral records whether the data table carries SPEC_nnn columns.
	Spectral bool

	// Matrix is only meaningful for KindCCMX.
	Matrix color.Mat3x3

	Rows    []Row
	Spectra []*spectrum.Spectrum

	// Properties preserves extended keyword values in declaration order.
	Properties []Property

	// Created is the CREATED stamp read from the file, if any. The writer
	// only emits it when asked to.
	Created string

	// matrixRows accumulates CCMX data rows during parsing.
	matrixRows [][]float64
}

// NewDocument creates an empty document of the given kind.
func NewDocument(kind Kind) *Document {
	return &Document{Kind: kind}
}

// HasOption reports whether a flag keyword is set.
func (d *Document) HasOption(option string) bool {
	for _, o := range d.Options {
		if o == option {
			return true
		}
	}
	return false
}

// AddOption sets a flag keyword; duplicates are ignored.
func (d *Document) AddOption(option string) {
	if !d.HasOption(option) {
		d.Options = append(d.Options, option)
	}
}

// Property returns an extended keyword value, or "".
func (d *Document) Property(key string) string {
	for _, p := range d.Properties {
		if p.Key == key {
			return p.Value
		}
	}
	return ""
}

// SetProperty sets an extended keyword value, preserving first-declaration
// order on update.
func (d *Document) SetProperty(key, value string) {
	for i, p := range d.Properties {
		if p.Key == key {
			d.Properties[i].Value = value
			return
		}
	}
	d.Properties = append(d.Properties, Property{Key: key, Value: value})
}

// AddSpectrum appends a named spectrum, used by the spectral kinds.
func (d *Document) AddSpectrum(sp *spectrum.Spectrum) {
	d.Spectra = append(d.Spectra, sp)
	d.Spectral = true
}

// SpectrumByID returns the named spectrum or a NotFound error.
func (d *Document) SpectrumByID(id string) (*spectrum.Spectrum, error) {
	for _, sp := range d.Spectra {
		if sp.ID() == id {
			return sp, nil
		}
	}
	return nil, colorderr.New(colorderr.NotFound, "no spectrum %q", id)
}

// validate is the module-wide validator instance with the document-level
// rules registered.
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterStructValidation(func(sl validator.StructLevel) {
		doc := sl.Current().Interface().(Document)
		switch doc.Kind {
		case KindCCMX:
			if doc.Matrix == (color.Mat3x3{}) {
				sl.ReportError(doc.Matrix, "Matrix", "Matrix",
					"ccmx-matrix-required", "")
			}
		case KindTI1, KindTI3:
			if len(doc.Rows) == 0 {
				sl.ReportError(doc.Rows, "Rows", "Rows",
					"patch-rows-required", "")
			}
		case KindCCSS, KindCMF, KindSPECT:
			if len(doc.Spectra) == 0 {
				sl.ReportError(doc.Spectra, "Spectra", "Spectra",
					"spectra-required", "")
			}
		}
	}, Document{})
	return v
}

// Validate checks the document is complete enough to serialize.
func (d *Document) Validate() error {
	if err := validate.Struct(*d); err != nil {
		return colorderr.Wrap(colorderr.InputInvalid, err,
			"document fails validation")
	}
	return nil
}
