package it8

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/colorforge/go-colord/colorderr"
	"github.com/colorforge/go-colord/spectrum"
)

// WriteOptions configures serialization.
type WriteOptions struct {
	// WriteCreated emits a CREATED stamp. Off, the output is byte-stable
	// for identical inputs.
	WriteCreated bool
}

// formatNumber renders a float the way the C library's %g does in the C
// locale: six significant digits, "." decimal separator always.
func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'g', 6, 64)
}

// Save validates and serializes the document to a file.
func (d *Document) Save(filename string, opts WriteOptions) error {
	f, err := os.Create(filename)
	if err != nil {
		return colorderr.Wrap(colorderr.FailedToWrite, err,
			"cannot create %s", filename)
	}
	defer f.Close()
	if err := d.Write(f, opts); err != nil {
		return err
	}
	return nil
}

// colorRep returns the COLOR_REP value for the kind.
func (d *Document) colorRep() string {
	switch d.Kind {
	case KindTI1, KindCAL:
		return "RGB"
	case KindTI3:
		return "RGB_XYZ"
	default:
		return "XYZ"
	}
}

// columnNames returns the DATA_FORMAT column list for the document.
func (d *Document) columnNames() ([]string, error) {
	switch d.Kind {
	case KindCCMX:
		return []string{"XYZ_X", "XYZ_Y", "XYZ_Z"}, nil
	case KindTI1, KindTI3:
		cols := []string{"SAMPLE_ID", "RGB_R", "RGB_G", "RGB_B",
			"XYZ_X", "XYZ_Y", "XYZ_Z"}
		if d.Spectral && len(d.Spectra) > 0 {
			cols = append(cols, spectralColumns(d.Spectra[0])...)
		}
		return cols, nil
	case KindCAL:
		return []string{"RGB_I", "RGB_R", "RGB_G", "RGB_B"}, nil
	case KindCCSS, KindCMF, KindSPECT:
		if len(d.Spectra) == 0 {
			return nil, colorderr.New(colorderr.NoData,
				"spectral document has no spectra")
		}
		return append([]string{"SAMPLE_NAME"},
			spectralColumns(d.Spectra[0])...), nil
	}
	return nil, colorderr.New(colorderr.InputInvalid, "unknown kind %d", d.Kind)
}

// spectralColumns names one SPEC_nnn column per sample of sp.
func spectralColumns(sp *spectrum.Spectrum) []string {
	cols := make([]string, sp.Size())
	for i := range cols {
		cols[i] = fmt.Sprintf("SPEC_%d", int(sp.WavelengthAt(i)+0.5))
	}
	return cols
}

// Write validates and serializes the document.
func (d *Document) Write(w io.Writer, opts WriteOptions) error {
	if err := d.Validate(); err != nil {
		return err
	}
	columns, err := d.columnNames()
	if err != nil {
		return err
	}
	sets := len(d.Rows)
	switch d.Kind {
	case KindCCMX:
		sets = 3
	case KindCCSS, KindCMF, KindSPECT:
		sets = len(d.Spectra)
	}

	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "%s\n", d.Kind.identifier())
	fmt.Fprintf(bw, "DESCRIPTOR\t%q\n", d.Title)
	if d.Originator != "" {
		fmt.Fprintf(bw, "ORIGINATOR\t%q\n", d.Originator)
	}
	if opts.WriteCreated {
		stamp := d.Created
		if stamp == "" {
			stamp = time.Now().Format("January 2, 2006  15:04:05 MST")
		}
		fmt.Fprintf(bw, "CREATED\t%q\n", stamp)
	}
	if d.Instrument != "" {
		fmt.Fprintf(bw, "TARGET_INSTRUMENT\t%q\n", d.Instrument)
	}
	if d.Reference != "" {
		fmt.Fprintf(bw, "REFERENCE\t%q\n", d.Reference)
	}
	for _, o := range d.Options {
		fmt.Fprintf(bw, "KEYWORD\t%q\n", o)
	}
	for _, p := range d.Properties {
		fmt.Fprintf(bw, "KEYWORD\t%q\n", p.Key)
		fmt.Fprintf(bw, "%s\t%q\n", p.Key, p.Value)
	}
	if d.Normalized {
		fmt.Fprintf(bw, "NORMALIZED_TO_Y_100\t\"YES\"\n")
	}
	fmt.Fprintf(bw, "COLOR_REP\t%q\n", d.colorRep())
	fmt.Fprintf(bw, "NUMBER_OF_FIELDS\t%d\n", len(columns))
	fmt.Fprintf(bw, "NUMBER_OF_SETS\t%d\n", sets)

	bw.WriteString("BEGIN_DATA_FORMAT\n ")
	for i, c := range columns {
		if i > 0 {
			bw.WriteByte('\t')
		}
		bw.WriteString(c)
	}
	bw.WriteString("\nEND_DATA_FORMAT\n")

	bw.WriteString("BEGIN_DATA\n")
	if err := d.writeDataRows(bw, columns); err != nil {
		return err
	}
	bw.WriteString("END_DATA\n")

	if err := bw.Flush(); err != nil {
		return colorderr.Wrap(colorderr.FailedToWrite, err, "write failed")
	}
	return nil
}

func (d *Document) writeDataRows(bw *bufio.Writer, columns []string) error {
	writeRow := func(fields []string) {
		bw.WriteByte(' ')
		for i, f := range fields {
			if i > 0 {
				bw.WriteByte('\t')
			}
			bw.WriteString(f)
		}
		bw.WriteByte('\n')
	}

	switch d.Kind {
	case KindCCMX:
		m := d.Matrix
		writeRow([]string{formatNumber(m.M00), formatNumber(m.M01), formatNumber(m.M02)})
		writeRow([]string{formatNumber(m.M10), formatNumber(m.M11), formatNumber(m.M12)})
		writeRow([]string{formatNumber(m.M20), formatNumber(m.M21), formatNumber(m.M22)})
		return nil

	case KindCCSS, KindCMF, KindSPECT:
		for _, sp := range d.Spectra {
			fields := make([]string, 0, sp.Size()+1)
			fields = append(fields, fmt.Sprintf("%q", sp.ID()))
			for i := 0; i < sp.Size(); i++ {
				fields = append(fields, formatNumber(sp.Value(i)))
			}
			writeRow(fields)
		}
		return nil

	case KindCAL:
		for _, row := range d.Rows {
			writeRow([]string{
				formatNumber(row.Index),
				formatNumber(row.RGB.R),
				formatNumber(row.RGB.G),
				formatNumber(row.RGB.B),
			})
		}
		return nil
	}

	// TI1/TI3 patch rows, with optional trailing spectral values
	for i, row := range d.Rows {
		fields := []string{
			row.SampleID,
			formatNumber(row.RGB.R),
			formatNumber(row.RGB.G),
			formatNumber(row.RGB.B),
			formatNumber(row.XYZ.X),
			formatNumber(row.XYZ.Y),
			formatNumber(row.XYZ.Z),
		}
		if d.Spectral && i < len(d.Spectra) {
			sp := d.Spectra[i]
			for j := 0; j < sp.Size(); j++ {
				fields = append(fields, formatNumber(sp.Value(j)))
			}
		}
		if len(fields) != len(columns) {
			return colorderr.New(colorderr.Internal,
				"row %d renders %d fields for %d columns",
				i, len(fields), len(columns))
		}
		writeRow(fields)
	}
	return nil
}
