package it8_test

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colorforge/go-colord/color"
	"github.com/colorforge/go-colord/colorderr"
	"github.com/colorforge/go-colord/it8"
	"github.com/colorforge/go-colord/spectrum"
)

// the on-disk CCMX example, reproduced bit-for-bit by the writer
const exampleCCMX = "CCMX   \n" +
	"DESCRIPTOR\t\"Device Correction Matrix\"\n" +
	"COLOR_REP\t\"XYZ\"\n" +
	"NUMBER_OF_FIELDS\t3\n" +
	"NUMBER_OF_SETS\t3\n" +
	"BEGIN_DATA_FORMAT\n" +
	" XYZ_X\tXYZ_Y\tXYZ_Z\n" +
	"END_DATA_FORMAT\n" +
	"BEGIN_DATA\n" +
	" 1.234\t0\t0\n" +
	" 0\t0\t0\n" +
	" 0\t0\t0\n" +
	"END_DATA\n"

const factoryCCMX = "CCMX   \n" +
	"DESCRIPTOR\t\"Factory Calibration\"\n" +
	"ORIGINATOR\t\"cd-self-test\"\n" +
	"KEYWORD\t\"TYPE_FACTORY\"\n" +
	"COLOR_REP\t\"XYZ\"\n" +
	"NUMBER_OF_FIELDS\t3\n" +
	"NUMBER_OF_SETS\t3\n" +
	"BEGIN_DATA_FORMAT\n" +
	" XYZ_X\tXYZ_Y\tXYZ_Z\n" +
	"END_DATA_FORMAT\n" +
	"BEGIN_DATA\n" +
	" 1.3139\t0.21794\t0.89224\n" +
	" 0.07\t0.9\t0.07\n" +
	" 0.002\t0.006\t1.09\n" +
	"END_DATA\n"

const measuredTI3 = "CTI3   \n" +
	"DESCRIPTOR\t\"calibration values for display\"\n" +
	"ORIGINATOR\t\"cd-self-test\"\n" +
	"TARGET_INSTRUMENT\t\"huey\"\n" +
	"COLOR_REP\t\"RGB_XYZ\"\n" +
	"NUMBER_OF_FIELDS\t7\n" +
	"NUMBER_OF_SETS\t5\n" +
	"BEGIN_DATA_FORMAT\n" +
	" SAMPLE_ID\tRGB_R\tRGB_G\tRGB_B\tXYZ_X\tXYZ_Y\tXYZ_Z\n" +
	"END_DATA_FORMAT\n" +
	"BEGIN_DATA\n" +
	" A01\t1.0000\t1.0000\t1.0000\t145.46\t99.88\t116.59\n" +
	" A02\t1.0000\t0.0000\t0.0000\t66.79\t34.76\t2.19\n" +
	" A03\t0.0000\t1.0000\t0.0000\t42.63\t79.18\t13.37\n" +
	" A04\t0.0000\t0.0000\t1.0000\t36.04\t14.95\t101.03\n" +
	" A05\t0.0000\t0.0000\t0.0000\t0.14\t0.14\t0.19\n" +
	"END_DATA\n"

func TestCCMXExampleRoundTrip(t *testing.T) {
	doc, err := it8.Parse(strings.NewReader(exampleCCMX))
	require.NoError(t, err)
	assert.Equal(t, it8.KindCCMX, doc.Kind)
	assert.Equal(t, "Device Correction Matrix", doc.Title)
	assert.InDelta(t, 1.234, doc.Matrix.M00, 1e-9)

	var buf bytes.Buffer
	require.NoError(t, doc.Write(&buf, it8.WriteOptions{}))
	assert.Equal(t, exampleCCMX, buf.String())
}

func TestFactoryCCMX(t *testing.T) {
	doc, err := it8.Parse(strings.NewReader(factoryCCMX))
	require.NoError(t, err)
	assert.Equal(t, it8.KindCCMX, doc.Kind)
	assert.Equal(t, "cd-self-test", doc.Originator)
	assert.Equal(t, "Factory Calibration", doc.Title)
	assert.True(t, doc.HasOption("TYPE_FACTORY"))
	assert.InDelta(t, 1.3139, doc.Matrix.M00, 1e-4)
	assert.InDelta(t, 0.21794, doc.Matrix.M01, 1e-4)
	assert.InDelta(t, 0.89224, doc.Matrix.M02, 1e-4)

	// save to a file, load again, identical content
	path := filepath.Join(t.TempDir(), "factory.ccmx")
	require.NoError(t, doc.Save(path, it8.WriteOptions{}))
	again, err := it8.Load(path)
	require.NoError(t, err)
	var buf1, buf2 bytes.Buffer
	require.NoError(t, doc.Write(&buf1, it8.WriteOptions{}))
	require.NoError(t, again.Write(&buf2, it8.WriteOptions{}))
	assert.Equal(t, buf1.String(), buf2.String())
	assert.Equal(t, factoryCCMX, buf2.String())
}

func TestTI3Measured(t *testing.T) {
	doc, err := it8.Parse(strings.NewReader(measuredTI3))
	require.NoError(t, err)
	assert.Equal(t, it8.KindTI3, doc.Kind)
	assert.Equal(t, "huey", doc.Instrument)
	require.Len(t, doc.Rows, 5)
	row := doc.Rows[0]
	assert.Equal(t, "A01", row.SampleID)
	assert.InDelta(t, 1.0, row.RGB.R, 1e-2)
	assert.InDelta(t, 1.0, row.RGB.G, 1e-2)
	assert.InDelta(t, 1.0, row.RGB.B, 1e-2)
	assert.InDelta(t, 145.46, row.XYZ.X, 1e-2)
	assert.InDelta(t, 99.88, row.XYZ.Y, 1e-2)
	assert.InDelta(t, 116.59, row.XYZ.Z, 1e-2)
}

func TestWriterIsLocaleIndependent(t *testing.T) {
	doc := it8.NewDocument(it8.KindCCMX)
	doc.Title = "Device Correction Matrix"
	doc.Matrix = color.Mat3x3{M00: 1.234, M11: 1, M22: 1}
	var buf bytes.Buffer
	require.NoError(t, doc.Write(&buf, it8.WriteOptions{}))
	assert.Contains(t, buf.String(), "1.234")
	assert.NotContains(t, buf.String(), "1,234")
}

func TestRoundTripAllKinds(t *testing.T) {
	sp, err := spectrum.New(380, 730, []float64{0.1, 0.5, 0.9, 0.5, 0.1,
		0.05, 0.02, 0.01}, 1.0)
	require.NoError(t, err)
	sp.SetID("white-led")

	docs := map[string]*it8.Document{}

	ti1 := it8.NewDocument(it8.KindTI1)
	ti1.Title = "patches"
	ti1.Rows = []it8.Row{
		{SampleID: "A01", RGB: color.RGB{R: 1, G: 1, B: 1}},
		{SampleID: "A02", RGB: color.RGB{R: 0.5, G: 0.25, B: 0.125}},
	}
	docs["ti1"] = ti1

	ti3 := it8.NewDocument(it8.KindTI3)
	ti3.Title = "measurements"
	ti3.Originator = "cd-self-test"
	ti3.Instrument = "huey"
	ti3.Normalized = true
	ti3.AddOption("TYPE_FACTORY")
	ti3.SetProperty("DISPLAY", "Lenovo T61 Internal LCD")
	ti3.Rows = []it8.Row{
		{SampleID: "A01", RGB: color.RGB{R: 1, G: 1, B: 1},
			XYZ: color.XYZ{X: 145.46, Y: 99.88, Z: 116.59}},
		{SampleID: "A02", RGB: color.RGB{R: 0, G: 0, B: 0},
			XYZ: color.XYZ{X: 0.14, Y: 0.14, Z: 0.19}},
		{SampleID: "A03", RGB: color.RGB{R: 0.5, G: 0.5, B: 0.5},
			XYZ: color.XYZ{X: 32.4, Y: 22.2, Z: 26.0}},
	}
	docs["ti3"] = ti3

	ccmx := it8.NewDocument(it8.KindCCMX)
	ccmx.Title = "Device Correction Matrix"
	ccmx.Matrix = color.Mat3x3{
		M00: 1.3139, M01: 0.21794, M02: 0.89224,
		M10: 0.07, M11: 0.9, M12: 0.07,
		M20: 0.002, M21: 0.006, M22: 1.09,
	}
	docs["ccmx"] = ccmx

	cal := it8.NewDocument(it8.KindCAL)
	cal.Title = "video card gamma table"
	cal.Rows = []it8.Row{
		{Index: 0, RGB: color.RGB{R: 0, G: 0, B: 0}},
		{Index: 0.5, RGB: color.RGB{R: 0.45, G: 0.47, B: 0.46}},
		{Index: 1, RGB: color.RGB{R: 1, G: 1, B: 1}},
	}
	docs["cal"] = cal

	for _, kind := range []it8.Kind{it8.KindCCSS, it8.KindCMF, it8.KindSPECT} {
		doc := it8.NewDocument(kind)
		doc.Title = "spectral data"
		doc.AddSpectrum(sp.Duplicate())
		docs[kind.String()] = doc
	}

	for name, doc := range docs {
		var first bytes.Buffer
		require.NoError(t, doc.Write(&first, it8.WriteOptions{}), name)

		loaded, err := it8.Parse(bytes.NewReader(first.Bytes()))
		require.NoError(t, err, name)

		var second bytes.Buffer
		require.NoError(t, loaded.Write(&second, it8.WriteOptions{}), name)
		assert.Equal(t, first.String(), second.String(),
			"%s round-trip not byte stable", name)
	}
}

func TestDetectRejectsJunk(t *testing.T) {
	_, err := it8.Parse(strings.NewReader("GIF89a\n"))
	require.Error(t, err)
	assert.True(t, colorderr.IsKind(err, colorderr.FileInvalid))
}

func TestGenerateCCMXRecoversKnownMatrix(t *testing.T) {
	truth := color.Mat3x3{
		M00: 1.1, M01: 0.02, M02: 0.01,
		M10: 0.03, M11: 0.95, M12: 0.02,
		M20: 0.01, M21: 0.04, M22: 1.2,
	}
	measured := it8.NewDocument(it8.KindTI3)
	reference := it8.NewDocument(it8.KindTI3)
	samples := []color.XYZ{
		{X: 96.4, Y: 100.0, Z: 82.5},
		{X: 66.8, Y: 34.8, Z: 2.2},
		{X: 42.6, Y: 79.2, Z: 13.4},
		{X: 36.0, Y: 15.0, Z: 101.0},
		{X: 20.1, Y: 18.8, Z: 16.9},
		{X: 3.1, Y: 3.2, Z: 3.3},
	}
	for i, m := range samples {
		id := string(rune('A'+i)) + "01"
		measured.Rows = append(measured.Rows, it8.Row{SampleID: id, XYZ: m})
		r := color.VecToXYZ(color.MatrixVectorMultiply(truth, color.XYZToVec(m)))
		reference.Rows = append(reference.Rows, it8.Row{SampleID: id, XYZ: r})
	}
	doc, err := it8.GenerateCCMX(reference, measured, true)
	require.NoError(t, err)
	assert.True(t, doc.HasOption(it8.TypeFactoryOption))
	got := doc.Matrix.Values()
	for i, want := range truth.Values() {
		assert.InDelta(t, want, got[i], 1e-6)
	}
}

func TestGenerateCCMXRejectsTooFewPatches(t *testing.T) {
	measured := it8.NewDocument(it8.KindTI3)
	reference := it8.NewDocument(it8.KindTI3)
	for i := 0; i < 2; i++ {
		id := string(rune('A' + i))
		measured.Rows = append(measured.Rows, it8.Row{SampleID: id,
			XYZ: color.XYZ{X: 1, Y: 1, Z: 1}})
		reference.Rows = append(reference.Rows, it8.Row{SampleID: id,
			XYZ: color.XYZ{X: 1, Y: 1, Z: 1}})
	}
	_, err := it8.GenerateCCMX(reference, measured, false)
	require.Error(t, err)
	assert.True(t, colorderr.IsKind(err, colorderr.InputInvalid))
}

func TestGenerateCCMXRejectsDegenerateMeasurements(t *testing.T) {
	measured := it8.NewDocument(it8.KindTI3)
	reference := it8.NewDocument(it8.KindTI3)
	// every measured patch on the same ray: the Gram matrix is singular
	for i := 0; i < 5; i++ {
		id := string(rune('A' + i))
		scale := float64(i + 1)
		measured.Rows = append(measured.Rows, it8.Row{SampleID: id,
			XYZ: color.XYZ{X: scale, Y: scale, Z: scale}})
		reference.Rows = append(reference.Rows, it8.Row{SampleID: id,
			XYZ: color.XYZ{X: scale, Y: scale, Z: scale}})
	}
	_, err := it8.GenerateCCMX(reference, measured, false)
	require.Error(t, err)
	assert.True(t, colorderr.IsKind(err, colorderr.Singular))
}

func TestParseCMFFromCSV(t *testing.T) {
	csv := `# CIE 1931 2-degree observer, excerpt
380,0.001368,0.000039,0.006450
# comment mid-table

480,0.095640,0.139020,0.812950
580,0.916300,0.870000,0.001650
780,0.000042,0.000015,0.000000
`
	doc, err := it8.ParseCMFFromCSV(strings.NewReader(csv), 1.0)
	require.NoError(t, err)
	assert.Equal(t, it8.KindCMF, doc.Kind)
	require.Len(t, doc.Spectra, 3)
	x, err := doc.SpectrumByID("X")
	require.NoError(t, err)
	assert.Equal(t, 380.0, x.Start())
	assert.Equal(t, 780.0, x.End())
	assert.Equal(t, 4, x.Size())
	assert.InDelta(t, 0.916300, x.ValueRaw(2), 1e-9)

	// a norm divisor is applied once at load
	scaled, err := it8.ParseCMFFromCSV(strings.NewReader(csv), 2.0)
	require.NoError(t, err)
	xs, err := scaled.SpectrumByID("X")
	require.NoError(t, err)
	assert.InDelta(t, 0.916300/2.0, xs.ValueRaw(2), 1e-9)
}
