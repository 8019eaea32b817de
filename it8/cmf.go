package it8

import (
	"bufio"
	"io"
	"os"
	"strings"

	"github.com/colorforge/go-colord/colorderr"
	"github.com/colorforge/go-colord/spectrum"
)

// LoadCMFFromCSV builds a CMF document from a comma-separated table with a
// wavelength column followed by X, Y and optionally Z columns, one sample
// per row. Lines starting with "#" and blank lines are skipped. The norm
// divisor is applied to every value once during the load.
func LoadCMFFromCSV(filename string, norm float64) (*Document, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, colorderr.Wrap(colorderr.FailedToOpen, err,
			"cannot open %s", filename)
	}
	defer f.Close()
	return ParseCMFFromCSV(f, norm)
}

// ParseCMFFromCSV reads CSV rows from r, see LoadCMFFromCSV.
func ParseCMFFromCSV(r io.Reader, norm float64) (*Document, error) {
	if norm <= 0 {
		return nil, colorderr.New(colorderr.InputInvalid,
			"norm must be positive, got %f", norm)
	}
	var (
		wavelengths []float64
		channels    [3][]float64
		nChannels   int
	)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, ",")
		if len(fields) != 3 && len(fields) != 4 {
			return nil, colorderr.New(colorderr.InputInvalid,
				"expected 3 or 4 columns, got %d", len(fields))
		}
		if nChannels == 0 {
			nChannels = len(fields) - 1
		} else if nChannels != len(fields)-1 {
			return nil, colorderr.New(colorderr.InputInvalid,
				"inconsistent column count")
		}
		nm, err := parseNumber(strings.TrimSpace(fields[0]))
		if err != nil {
			return nil, err
		}
		wavelengths = append(wavelengths, nm)
		for c := 0; c < nChannels; c++ {
			v, err := parseNumber(strings.TrimSpace(fields[c+1]))
			if err != nil {
				return nil, err
			}
			channels[c] = append(channels[c], v/norm)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, colorderr.Wrap(colorderr.FailedToRead, err, "read failed")
	}
	if len(wavelengths) < 2 {
		return nil, colorderr.New(colorderr.InputInvalid,
			"need at least 2 samples, got %d", len(wavelengths))
	}

	doc := NewDocument(KindCMF)
	ids := []string{"X", "Y", "Z"}
	start := wavelengths[0]
	end := wavelengths[len(wavelengths)-1]
	for c := 0; c < nChannels; c++ {
		sp, err := spectrum.New(start, end, channels[c], 1.0)
		if err != nil {
			return nil, err
		}
		sp.SetID(ids[c])
		doc.AddSpectrum(sp)
	}
	return doc, nil
}

// ResampleCMF returns a copy of a CMF document with every channel resampled
// onto n evenly spaced samples between startNm and endNm.
func ResampleCMF(doc *Document, startNm, endNm float64, n int) (*Document, error) {
	if doc.Kind != KindCMF {
		return nil, colorderr.New(colorderr.InputInvalid,
			"not a CMF document")
	}
	out := NewDocument(KindCMF)
	out.Title = doc.Title
	out.Originator = doc.Originator
	for _, sp := range doc.Spectra {
		rs, err := sp.Resample(startNm, endNm, n)
		if err != nil {
			return nil, err
		}
		rs.SetID(sp.ID())
		out.AddSpectrum(rs)
	}
	return out, nil
}
