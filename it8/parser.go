package it8

import (
	"bufio"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/colorforge/go-colord/color"
	"github.com/colorforge/go-colord/colorderr"
	"github.com/colorforge/go-colord/spectrum"
)

// Load parses a CGATS document from a file.
func Load(filename string) (*Document, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, colorderr.Wrap(colorderr.FailedToOpen, err,
			"cannot open %s", filename)
	}
	defer f.Close()
	return Parse(f)
}

// detectKind matches the leading identifier of the first line.
func detectKind(line string) (Kind, error) {
	switch {
	case strings.HasPrefix(line, "CCMX"):
		return KindCCMX, nil
	case strings.HasPrefix(line, "CTI1"), strings.HasPrefix(line, "CTI2"):
		// CTI2 shares the TI1 table layout
		return KindTI1, nil
	case strings.HasPrefix(line, "CTI3"):
		return KindTI3, nil
	case strings.HasPrefix(line, "CCSS"):
		return KindCCSS, nil
	case strings.HasPrefix(line, "CAL"):
		return KindCAL, nil
	case strings.HasPrefix(line, "CMF"):
		return KindCMF, nil
	case strings.HasPrefix(line, "SPECT"):
		return KindSPECT, nil
	}
	return 0, colorderr.New(colorderr.FileInvalid,
		"not a CGATS document, leading identifier %q", line)
}

type parseSection int

const (
	sectionHeader parseSection = iota
	sectionDataFormat
	sectionData
)

// splitFields splits a data or header line on free whitespace, honoring
// double-quoted strings.
func splitFields(line string) []string {
	var fields []string
	var cur strings.Builder
	inQuote := false
	flush := func() {
		if cur.Len() > 0 {
			fields = append(fields, cur.String())
			cur.Reset()
		}
	}
	for _, r := range line {
		switch {
		case r == '"':
			inQuote = !inQuote
			cur.WriteRune(r)
		case (r == ' ' || r == '\t') && !inQuote:
			flush()
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return fields
}

func unquote(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}

func parseNumber(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, colorderr.Wrap(colorderr.InputInvalid, err,
			"bad numeric field %q", s)
	}
	return v, nil
}

// Parse reads a CGATS document from r. The kind is detected from the
// leading identifier.
func Parse(r io.Reader) (*Document, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	if !scanner.Scan() {
		return nil, colorderr.New(colorderr.FileInvalid, "empty document")
	}
	kind, err := detectKind(scanner.Text())
	if err != nil {
		return nil, err
	}
	doc := NewDocument(kind)

	var (
		section      = sectionHeader
		columns      []string
		keywordOrder []string
		keywordSeen  = map[string]bool{}
		keywordValue = map[string]bool{}
		declaredSets = -1
	)

	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}

		switch section {
		case sectionDataFormat:
			if trimmed == "END_DATA_FORMAT" {
				section = sectionHeader
				continue
			}
			columns = append(columns, splitFields(trimmed)...)
			continue

		case sectionData:
			if trimmed == "END_DATA" {
				section = sectionHeader
				continue
			}
			if err := doc.parseDataRow(columns, splitFields(trimmed)); err != nil {
				return nil, err
			}
			continue
		}

		// header section
		switch {
		case trimmed == "BEGIN_DATA_FORMAT":
			section = sectionDataFormat
			continue
		case trimmed == "BEGIN_DATA":
			if len(columns) == 0 {
				return nil, colorderr.New(colorderr.InputInvalid,
					"BEGIN_DATA before BEGIN_DATA_FORMAT")
			}
			section = sectionData
			continue
		}

		fields := splitFields(trimmed)
		if len(fields) == 0 {
			continue
		}
		key := fields[0]
		value := ""
		if len(fields) > 1 {
			value = unquote(strings.Join(fields[1:], " "))
		}

		switch key {
		case "KEYWORD":
			if len(fields) < 2 {
				return nil, colorderr.New(colorderr.InputInvalid,
					"KEYWORD line with no name")
			}
			name := unquote(fields[1])
			if !keywordSeen[name] {
				keywordSeen[name] = true
				keywordOrder = append(keywordOrder, name)
			}
		case "DESCRIPTOR":
			doc.Title = value
		case "ORIGINATOR":
			doc.Originator = value
		case "TARGET_INSTRUMENT", "INSTRUMENT":
			doc.Instrument = value
		case "REFERENCE":
			doc.Reference = value
		case "CREATED":
			doc.Created = value
		case "NORMALIZED_TO_Y_100":
			doc.Normalized = strings.EqualFold(value, "YES")
		case "COLOR_REP":
			// regenerated from the kind on save
		case "NUMBER_OF_FIELDS":
			// verified implicitly against the format section
		case "NUMBER_OF_SETS":
			n, err := parseNumber(value)
			if err != nil {
				return nil, err
			}
			declaredSets = int(n)
		default:
			if keywordSeen[key] {
				keywordValue[key] = true
				doc.SetProperty(key, value)
			} else {
				// undeclared extension, keep it anyway
				doc.SetProperty(key, value)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, colorderr.Wrap(colorderr.FailedToRead, err, "read failed")
	}

	// keywords that never received a value are flag options
	for _, name := range keywordOrder {
		if !keywordValue[name] {
			doc.AddOption(name)
		}
	}

	if err := doc.finishLoad(columns, declaredSets); err != nil {
		return nil, err
	}
	return doc, nil
}

// parseDataRow maps a whitespace-split row onto the declared columns.
func (d *Document) parseDataRow(columns, fields []string) error {
	if len(fields) != len(columns) {
		return colorderr.New(colorderr.InputInvalid,
			"row has %d fields, format declares %d", len(fields), len(columns))
	}

	if d.Kind == KindCCMX {
		row := make([]float64, 0, 3)
		for _, f := range fields {
			v, err := parseNumber(f)
			if err != nil {
				return err
			}
			row = append(row, v)
		}
		d.matrixRows = append(d.matrixRows, row)
		return nil
	}

	var row Row
	var specValues []float64
	var specStart, specEnd float64
	for i, name := range columns {
		if strings.HasPrefix(name, "SPEC_") {
			nm, err := parseNumber(strings.TrimPrefix(name, "SPEC_"))
			if err != nil {
				return err
			}
			v, err := parseNumber(fields[i])
			if err != nil {
				return err
			}
			if len(specValues) == 0 {
				specStart = nm
			}
			specEnd = nm
			specValues = append(specValues, v)
			continue
		}
		switch name {
		case "SAMPLE_ID":
			row.SampleID = unquote(fields[i])
		case "SAMPLE_NAME":
			row.SampleName = unquote(fields[i])
		default:
			v, err := parseNumber(fields[i])
			if err != nil {
				return err
			}
			switch name {
			case "RGB_R":
				row.RGB.R = v
			case "RGB_G":
				row.RGB.G = v
			case "RGB_B":
				row.RGB.B = v
			case "RGB_I":
				row.Index = v
			case "XYZ_X":
				row.XYZ.X = v
			case "XYZ_Y":
				row.XYZ.Y = v
			case "XYZ_Z":
				row.XYZ.Z = v
			case "LAB_L":
				row.Lab.L = v
				row.HasLab = true
			case "LAB_A":
				row.Lab.A = v
				row.HasLab = true
			case "LAB_B":
				row.Lab.B = v
				row.HasLab = true
			default:
				// unknown column, tolerated and dropped
			}
		}
	}

	if len(specValues) > 0 {
		sp, err := spectrum.New(specStart, specEnd, specValues, 1.0)
		if err != nil {
			return err
		}
		id := row.SampleName
		if id == "" {
			id = row.SampleID
		}
		sp.SetID(id)
		d.AddSpectrum(sp)
		// spectral kinds carry no patch table
		if d.Kind == KindCCSS || d.Kind == KindCMF || d.Kind == KindSPECT {
			return nil
		}
	}

	d.Rows = append(d.Rows, row)
	return nil
}

// finishLoad applies post-parse checks and folds CCMX rows into the matrix.
func (d *Document) finishLoad(columns []string, declaredSets int) error {
	if d.Kind == KindCCMX {
		if len(d.matrixRows) != 3 || len(columns) != 3 {
			return colorderr.New(colorderr.InputInvalid,
				"CCMX needs a 3x3 data table, got %dx%d",
				len(d.matrixRows), len(columns))
		}
		d.Matrix = color.Mat3x3{
			M00: d.matrixRows[0][0], M01: d.matrixRows[0][1], M02: d.matrixRows[0][2],
			M10: d.matrixRows[1][0], M11: d.matrixRows[1][1], M12: d.matrixRows[1][2],
			M20: d.matrixRows[2][0], M21: d.matrixRows[2][1], M22: d.matrixRows[2][2],
		}
		d.matrixRows = nil
		return nil
	}
	sets := len(d.Rows)
	if d.Kind == KindCCSS || d.Kind == KindCMF || d.Kind == KindSPECT {
		sets = len(d.Spectra)
	}
	if declaredSets >= 0 && declaredSets != sets {
		return colorderr.New(colorderr.InputInvalid,
			"NUMBER_OF_SETS %d does not match %d data rows",
			declaredSets, sets)
	}
	return nil
}
