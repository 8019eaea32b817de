// Package spark drives the Ocean Optics Spark spectrometer: a framed
// bulk protocol with MD5-checksummed messages, calibration tables for
// wavelength, nonlinearity and irradiance, and an auto-exposure loop that
// homes in on a quarter-to-three-quarters full-scale reading.
package spark

import (
	"context"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/colorforge/go-colord/buffer"
	"github.com/colorforge/go-colord/color"
	"github.com/colorforge/go-colord/colorderr"
	"github.com/colorforge/go-colord/log"
	"github.com/colorforge/go-colord/sensor"
	"github.com/colorforge/go-colord/spectrum"
	"github.com/colorforge/go-colord/usb"
)

// USB identity and endpoints.
const (
	VendorID     = 0x2457
	ProductID    = 0x4200
	usbInterface = 0
	epOut        = 0x01
	epIn         = 0x81
)

const usbTimeout = 50000 * time.Millisecond

// Commands used by the measurement path.
const (
	CmdGetSerialNumber                 = 0x00000100
	CmdGetFirmwareVersion              = 0x00000090
	CmdGetWavelengthCoefficientCount   = 0x00180100
	CmdGetWavelengthCoefficient        = 0x00180101
	CmdGetNonlinearityCoefficientCount = 0x00181100
	CmdGetNonlinearityCoefficient      = 0x00181101
	CmdGetIrradianceCalibration        = 0x00182001
	CmdSetIntegrationTime              = 0x00110010
	CmdSetPixelBinningFactor           = 0x00110290
	CmdGetAndSendRawSpectrum           = 0x00101100
)

func cmdToString(cmd uint32) string {
	switch cmd {
	case CmdGetSerialNumber:
		return "get-serial-number"
	case CmdGetFirmwareVersion:
		return "get-firmware-version"
	case CmdGetWavelengthCoefficientCount:
		return "get-wavelength-coefficient-count"
	case CmdGetWavelengthCoefficient:
		return "get-wavelength-coefficient"
	case CmdGetNonlinearityCoefficientCount:
		return "get-nonlinearity-coefficient-count"
	case CmdGetNonlinearityCoefficient:
		return "get-nonlinearity-coefficient"
	case CmdGetIrradianceCalibration:
		return "get-irradiance-calibration"
	case CmdSetIntegrationTime:
		return "set-integration-time"
	case CmdSetPixelBinningFactor:
		return "set-pixel-binning-factor"
	case CmdGetAndSendRawSpectrum:
		return "get-and-send-raw-spectrum"
	}
	return fmt.Sprintf("cmd-0x%08x", cmd)
}

// Detector geometry and exposure discipline.
const (
	pixelCount       = 1024
	fullScale14Bit   = 0x3fff
	initialDuration  = 10000 // µs
	dcProbeDuration  = 10    // µs
	maxDurationSecs  = 3
	edgeCropNm       = 5.0
	maxExposureTries = 5
)

// Driver implements sensor.Driver for the Spark.
type Driver struct {
	dev usb.Device

	serial        string
	wavelengthCal [3]float64
	startNm       float64
	nonlinearity  []float64
}

// New wraps an enumerated USB device.
func New(dev usb.Device) *Driver {
	return &Driver{dev: dev}
}

// Caps returns the capability set of the hardware.
func Caps() sensor.Cap {
	return sensor.CapLCD | sensor.CapCRT | sensor.CapLED |
		sensor.CapAmbient | sensor.CapLCDWhiteLED
}

func wireDebug() bool {
	return os.Getenv("SPARK_PROTOCOL_DEBUG") != ""
}

// query sends one framed command and collects the reply payload.
func (d *Driver) query(ctx context.Context, cmd uint32, dataIn []byte,
	wantReply bool) ([]byte, error) {
	frame, err := encodeFrame(cmd, dataIn, !wantReply)
	if err != nil {
		return nil, err
	}
	if wireDebug() {
		buffer.Trace(buffer.TraceRequest, frame)
	}
	if _, err := d.dev.Bulk(ctx, epOut, frame, usbTimeout); err != nil {
		return nil, err
	}

	chunk := make([]byte, epSize)
	if _, err := d.dev.Bulk(ctx, epIn, chunk, usbTimeout); err != nil {
		return nil, err
	}
	if wireDebug() {
		buffer.Trace(buffer.TraceResponse, chunk)
	}
	h, err := decodeHeader(chunk)
	if err != nil {
		return nil, err
	}
	if err := mapErrorCode(h.errorCode, cmd); err != nil {
		return nil, err
	}
	if !wantReply {
		return nil, nil
	}

	// short replies ride in the header itself
	if h.immediateDataLength > 0 {
		if err := verifyFooter(chunk); err != nil {
			return nil, err
		}
		return h.immediateData, nil
	}
	if h.bytesRemaining < footerSize {
		return nil, colorderr.New(colorderr.Protocol,
			"bytes remaining %d below footer size", h.bytesRemaining)
	}
	payloadLen := int(h.bytesRemaining) - footerSize
	out := make([]byte, payloadLen)
	copied := copy(out, chunk[headerSize:])
	for copied < payloadLen {
		if _, err := d.dev.Bulk(ctx, epIn, chunk, usbTimeout); err != nil {
			return nil, err
		}
		if wireDebug() {
			buffer.Trace(buffer.TraceResponse, chunk)
		}
		copied += copy(out[copied:], chunk)
	}
	// the footer rides in the final chunk
	if err := verifyFooter(chunk); err != nil {
		return nil, err
	}
	return out, nil
}

// send issues a command that expects no reply payload.
func (d *Driver) send(ctx context.Context, cmd uint32, dataIn []byte) error {
	_, err := d.query(ctx, cmd, dataIn, false)
	return err
}

// GetSerial reads the device serial number string.
func (d *Driver) GetSerial(ctx context.Context) (string, error) {
	data, err := d.query(ctx, CmdGetSerialNumber, nil, true)
	if err != nil {
		return "", err
	}
	if len(data) == 0 {
		return "", colorderr.New(colorderr.Internal,
			"expected serial number, got nothing")
	}
	return string(data), nil
}

// GetFirmwareVersion reads the firmware revision pair.
func (d *Driver) GetFirmwareVersion(ctx context.Context) (string, error) {
	data, err := d.query(ctx, CmdGetFirmwareVersion, nil, true)
	if err != nil {
		return "", err
	}
	if len(data) != 2 {
		return "", colorderr.New(colorderr.Internal,
			"expected 2 bytes, got %d", len(data))
	}
	return fmt.Sprintf("%d.%d", data[1], data[0]), nil
}

// getWavelengthCalForIndex reads one float coefficient.
func (d *Driver) getWavelengthCalForIndex(ctx context.Context, idx uint8) (float64, error) {
	data, err := d.query(ctx, CmdGetWavelengthCoefficient, []byte{idx}, true)
	if err != nil {
		return 0, err
	}
	if len(data) != 4 {
		return 0, colorderr.New(colorderr.Internal,
			"expected 4 bytes, got %d", len(data))
	}
	return float64(math.Float32frombits(buffer.ReadUint32LE(data))), nil
}

// GetWavelengthCal reads the calibration: coefficient 0 is the start
// wavelength, 1..3 the polynomial.
func (d *Driver) GetWavelengthCal(ctx context.Context) (start float64, cal [3]float64, err error) {
	data, err := d.query(ctx, CmdGetWavelengthCoefficientCount, nil, true)
	if err != nil {
		return 0, cal, err
	}
	if len(data) != 1 {
		return 0, cal, colorderr.New(colorderr.Internal,
			"expected 1 byte, got %d", len(data))
	}
	if data[0] != 4 {
		return 0, cal, colorderr.New(colorderr.Internal,
			"expected 4 coefficients, got %d", data[0])
	}
	if start, err = d.getWavelengthCalForIndex(ctx, 0); err != nil {
		return 0, cal, err
	}
	if start < 0 {
		return 0, cal, colorderr.New(colorderr.Internal,
			"not a valid start, got %f", start)
	}
	for i := 0; i < 3; i++ {
		if cal[i], err = d.getWavelengthCalForIndex(ctx, uint8(i+1)); err != nil {
			return 0, cal, err
		}
	}
	return start, cal, nil
}

// GetNonlinearityCal reads the eight detector nonlinearity coefficients.
func (d *Driver) GetNonlinearityCal(ctx context.Context) ([]float64, error) {
	data, err := d.query(ctx, CmdGetNonlinearityCoefficientCount, nil, true)
	if err != nil {
		return nil, err
	}
	if len(data) != 1 {
		return nil, colorderr.New(colorderr.Internal,
			"expected 1 byte, got %d", len(data))
	}
	if data[0] != 8 {
		return nil, colorderr.New(colorderr.Internal,
			"expected 8 coefficients, got %d", data[0])
	}
	coefs := make([]float64, 8)
	for i := range coefs {
		raw, err := d.query(ctx, CmdGetNonlinearityCoefficient,
			[]byte{uint8(i)}, true)
		if err != nil {
			return nil, err
		}
		if len(raw) != 4 {
			return nil, colorderr.New(colorderr.Internal,
				"expected 4 bytes, got %d", len(raw))
		}
		coefs[i] = float64(math.Float32frombits(buffer.ReadUint32LE(raw)))
	}
	return coefs, nil
}

// GetIrradianceCal reads the 4096-entry irradiance calibration table.
func (d *Driver) GetIrradianceCal(ctx context.Context) ([]float64, error) {
	data, err := d.query(ctx, CmdGetIrradianceCalibration, nil, true)
	if err != nil {
		return nil, err
	}
	if len(data) != 4096*4 {
		return nil, colorderr.New(colorderr.Internal,
			"expected %d bytes, got %d", 4096*4, len(data))
	}
	coefs := make([]float64, 4096)
	for i := range coefs {
		coefs[i] = float64(math.Float32frombits(
			buffer.ReadUint32LE(data[i*4:])))
	}
	return coefs, nil
}

// setIntegrationTime sets the exposure in µs.
func (d *Driver) setIntegrationTime(ctx context.Context, us uint32) error {
	var in [4]byte
	buffer.WriteUint32LE(in[:], us)
	return d.send(ctx, CmdSetIntegrationTime, in[:])
}

// setPixelBinning sets the detector binning factor.
func (d *Driver) setPixelBinning(ctx context.Context, factor uint8) error {
	return d.send(ctx, CmdSetPixelBinningFactor, []byte{factor})
}

// takeSpectrumInternal reads one raw 1024-pixel spectrum at the given
// integration time, normalised to the 14-bit full scale.
func (d *Driver) takeSpectrumInternal(ctx context.Context, durationUs uint32) (*spectrum.Spectrum, error) {
	if err := d.setIntegrationTime(ctx, durationUs); err != nil {
		return nil, err
	}
	started := time.Now()
	data, err := d.query(ctx, CmdGetAndSendRawSpectrum, nil, true)
	if err != nil {
		return nil, err
	}
	log.Debug.Printf("spark integration of %dms took %dms",
		durationUs/1000, time.Since(started).Milliseconds())
	if len(data) != pixelCount*2 {
		return nil, colorderr.New(colorderr.Internal,
			"expected %d bytes, got %d", pixelCount*2, len(data))
	}
	sp := spectrum.NewSized(pixelCount)
	for i := 0; i < pixelCount; i++ {
		raw := buffer.ReadUint16LE(data[i*2:])
		sp.AddValue(float64(raw) / fullScale14Bit)
	}
	if sp.ValueMax() > 1.0 {
		return nil, colorderr.New(colorderr.Internal,
			"spectral max should be <= 1.0, was %f", sp.ValueMax())
	}
	return sp, nil
}

// takeSpectrumFull takes one dark-corrected reading: the raw spectrum at
// the requested integration minus a 10µs dark-current probe, with the
// edges cropped where the subtraction is not valid.
func (d *Driver) takeSpectrumFull(ctx context.Context, durationUs uint32) (*spectrum.Spectrum, error) {
	if err := d.setPixelBinning(ctx, 0); err != nil {
		return nil, err
	}
	raw, err := d.takeSpectrumInternal(ctx, durationUs)
	if err != nil {
		return nil, err
	}
	raw.SetID("raw")
	dc, err := d.takeSpectrumInternal(ctx, dcProbeDuration)
	if err != nil {
		return nil, err
	}
	dc.SetID("dc")

	endNm := d.startNm +
		d.wavelengthCal[0]*float64(pixelCount-1) +
		d.wavelengthCal[1]*math.Pow(float64(pixelCount-1), 2) +
		d.wavelengthCal[2]*math.Pow(float64(pixelCount-1), 3)
	raw.SetStart(d.startNm)
	raw.SetEnd(endNm)
	dc.SetStart(d.startNm)
	dc.SetEnd(endNm)

	sp, err := raw.Subtract(dc, edgeCropNm)
	if err != nil {
		return nil, err
	}
	sp.SetWavelengthCal(d.wavelengthCal[0], d.wavelengthCal[1],
		d.wavelengthCal[2])
	return sp, nil
}

// TakeSpectrum runs the auto-exposure loop until the reading sits between
// a quarter and three quarters of full scale, then rescales the norm so
// readings at different integrations stay comparable.
func (d *Driver) TakeSpectrum(ctx context.Context) (*spectrum.Spectrum, error) {
	var sp *spectrum.Spectrum
	duration := uint64(initialDuration)
	relaxed := false
	for i := 0; i < maxExposureTries; i++ {
		// the last try accepts almost anything so very dark samples
		// still measure, at a long integration
		if i == maxExposureTries-1 {
			relaxed = true
		}
		probe, err := d.takeSpectrumFull(ctx, uint32(duration))
		if err != nil {
			return nil, err
		}
		max := probe.ValueMax()
		if max < 0.001 {
			duration *= 100
			log.Debug.Printf("spark read no data, duration now %dus", duration)
		} else if max > 0.99 {
			duration /= 100
			log.Debug.Printf("spark saturated, duration now %dus", duration)
		} else if max > 0.25 && max < 0.75 {
			sp = probe
			break
		} else if relaxed && max > 0.01 {
			sp = probe
			break
		} else {
			// aim for half of full scale
			scale := 0.5 / max
			duration = uint64(float64(duration) * scale)
			log.Debug.Printf("spark max %f, scaling duration to %dus",
				max, duration)
		}
		if duration/1e6 > maxDurationSecs {
			duration = maxDurationSecs * 1e6
			relaxed = true
			log.Debug.Printf("spark duration limited to %ds", maxDurationSecs)
		}
	}
	if sp == nil {
		return nil, colorderr.New(colorderr.NoData, "got no valid data")
	}
	// counts grow with the integration time; scale the norm so users
	// receive absolute-comparable radiance
	sp.SetNorm(sp.Norm() * float64(duration) / float64(initialDuration))
	log.Debug.Printf("spark normalised max %f", sp.ValueMax()/sp.Norm())
	return sp, nil
}

// Coldplug implements sensor.Driver.
func (d *Driver) Coldplug(ctx context.Context, s *sensor.Sensor) error {
	if err := d.dev.Open(ctx); err != nil {
		return err
	}
	if err := d.dev.ClaimInterface(usbInterface); err != nil {
		return err
	}
	serial, err := d.GetSerial(ctx)
	if err != nil {
		return err
	}
	d.serial = serial
	fw, err := d.GetFirmwareVersion(ctx)
	if err != nil {
		return err
	}
	s.SetSerial(serial)
	s.SetVendor("Ocean Optics")
	s.SetModel("Spark")
	s.SetCaps(Caps())
	s.SetMetadataItem("firmware-version", fw)
	return nil
}

// Lock implements sensor.Driver: fetch the calibration tables the
// measurement path needs.
func (d *Driver) Lock(ctx context.Context) error {
	start, cal, err := d.GetWavelengthCal(ctx)
	if err != nil {
		return err
	}
	d.startNm = start
	d.wavelengthCal = cal
	if d.nonlinearity, err = d.GetNonlinearityCal(ctx); err != nil {
		return err
	}
	return nil
}

// Unlock implements sensor.Driver.
func (d *Driver) Unlock(ctx context.Context) error {
	return nil
}

// GetSample implements sensor.Driver with a flat-observer integral of the
// spectral reading over 380-780 nm, reported as X, Y and Z alike; no CIE
// observer is applied.
func (d *Driver) GetSample(ctx context.Context, cap sensor.Cap) (color.XYZ, error) {
	sp, err := d.GetSpectrum(ctx, cap)
	if err != nil {
		return color.XYZ{}, err
	}
	// a flat-observer integral; callers wanting colorimetric accuracy
	// convolve the spectrum with a CMF from the it8 package
	y := sp.Integrate(380, 780)
	return color.XYZ{X: y, Y: y, Z: y}, nil
}

// GetSpectrum implements sensor.Driver.
func (d *Driver) GetSpectrum(ctx context.Context, cap sensor.Cap) (*spectrum.Spectrum, error) {
	if cap == sensor.CapProjector {
		return nil, colorderr.New(colorderr.NoSupport,
			"Spark cannot measure in projector mode")
	}
	sp, err := d.TakeSpectrum(ctx)
	if err != nil {
		return nil, err
	}
	sp.SetID(cap.String())
	return sp, nil
}

// SetOptions implements sensor.Driver.
func (d *Driver) SetOptions(ctx context.Context, options map[string]interface{}) error {
	for key := range options {
		return colorderr.New(colorderr.InputInvalid,
			"unknown option %q", key)
	}
	return nil
}

// DumpDevice implements sensor.Driver.
func (d *Driver) DumpDevice(ctx context.Context) (string, error) {
	return fmt.Sprintf("serial: %s\n"+
		"wavelength-start: %f\n"+
		"wavelength-cal: %f %f %f\n"+
		"nonlinearity-coefficients: %d\n",
		d.serial, d.startNm,
		d.wavelengthCal[0], d.wavelengthCal[1], d.wavelengthCal[2],
		len(d.nonlinearity)), nil
}

// Close implements sensor.Driver.
func (d *Driver) Close() error {
	if err := d.dev.ReleaseInterface(usbInterface); err != nil {
		return err
	}
	return d.dev.Close()
}
