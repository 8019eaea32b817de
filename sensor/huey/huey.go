// Package huey drives the GretagMacbeth Huey colorimeter: an 8-byte HID
// report protocol where every command is a class control transfer followed
// by interrupt reads, an EEPROM exposed one byte per transfer, and a
// two-pass tick-count measurement converted to XYZ through per-surface
// calibration matrices.
package huey

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/colorforge/go-colord/buffer"
	"github.com/colorforge/go-colord/color"
	"github.com/colorforge/go-colord/colorderr"
	"github.com/colorforge/go-colord/log"
	"github.com/colorforge/go-colord/sensor"
	"github.com/colorforge/go-colord/spectrum"
	"github.com/colorforge/go-colord/usb"
)

// USB identity. The Lenovo-embedded variant reports a different pair and
// needs its own unlock magic.
const (
	VendorID        = 0x0971
	ProductID       = 0x2005
	VendorIDLenovo  = 0x0765
	ProductIDLenovo = 0x5001
	interruptEP     = 0x81
	hidSetReport    = 0x09
	hidReportValue  = 0x0200
	usbInterface    = 0
)

// Timing and retry discipline.
const (
	controlTimeout = 50000 * time.Millisecond
	maxReadRetries = 5
)

// The CY7C63001 processes one 16-bit increment-and-check loop per 6 clock
// pulses of its 6.00 MHz crystal, which bounds the tick counter rate.
const (
	clockFrequency = 6e6
	pollFrequency  = 1e6
)

// xyzPostMultiplyFactor scales the matrix output to match reality. The
// value is historical and must never be derived.
const xyzPostMultiplyFactor = 3.428

// ambientUnitsToLux converts the raw ambient reading to Lux.
const ambientUnitsToLux = 125.0

// Command bytes.
const (
	cmdGetStatus     = 0x00
	cmdReadGreen     = 0x02
	cmdReadBlue      = 0x03
	cmdSetValue      = 0x05
	cmdGetValue      = 0x06
	cmdRegisterRead  = 0x08
	cmdUnlock        = 0x0e
	cmdMeasureRGBCrt = 0x13
	cmdMeasureRGB    = 0x16
	cmdGetAmbient    = 0x17
	cmdSetLEDs       = 0x18
)

// Reply status bytes.
const (
	rcSuccess = 0x00
	rcError   = 0x80
	rcRetry   = 0x90
	rcLocked  = 0xc0
)

// EEPROM register layout.
const (
	addrCalibrationLCD    = 0x04 // 9 floats
	addrCalibrationCRT    = 0x28 // 9 floats
	addrAmbientCalibValue = 0x50 // 1 float
	addrDarkOffset        = 0x54 // 3 floats
	addrSerial            = 0x60 // uint32
	addrUnlock            = 0x7a // 5 chars
)

// Unlock magics; the embedded Lenovo part wants its own.
const (
	unlockMagic       = "GrMb"
	unlockMagicLenovo = "huyL"
)

// Driver implements sensor.Driver for the Huey.
type Driver struct {
	dev usb.Device

	calibrationLCD color.Mat3x3
	calibrationCRT color.Mat3x3
	darkOffset     color.Vec3
	calibValue     float64
	unlockString   string
}

// New wraps an enumerated USB device.
func New(dev usb.Device) *Driver {
	return &Driver{dev: dev}
}

// Caps returns the capability set of the hardware.
func Caps(embedded bool) sensor.Cap {
	caps := sensor.CapLCD | sensor.CapCRT | sensor.CapAmbient |
		sensor.CapPlasma
	if !embedded {
		caps |= sensor.CapLED
	}
	return caps
}

// send issues one 8-byte command and reads the reply, retrying the
// interrupt read while the device reports rcRetry.
func (d *Driver) send(ctx context.Context, request []byte) ([]byte, error) {
	if len(request) != 8 {
		return nil, colorderr.New(colorderr.Internal,
			"request must be 8 bytes, got %d", len(request))
	}
	buffer.Trace(buffer.TraceRequest, request)
	setup := usb.ControlSetup{
		Direction:   usb.DirectionOut,
		RequestType: usb.RequestClass,
		Recipient:   usb.RecipientInterface,
		Request:     hidSetReport,
		Value:       hidReportValue,
	}
	if _, err := d.dev.Control(ctx, setup, request, controlTimeout); err != nil {
		return nil, err
	}
	reply := make([]byte, 8)
	for i := 0; i < maxReadRetries; i++ {
		if _, err := d.dev.Interrupt(ctx, interruptEP, reply, controlTimeout); err != nil {
			return nil, err
		}
		buffer.Trace(buffer.TraceResponse, reply)
		// the second byte echoes the command
		if reply[1] != request[0] {
			return nil, colorderr.New(colorderr.Protocol,
				"wrong command reply, got 0x%02x, expected 0x%02x",
				reply[1], request[0])
		}
		switch reply[0] {
		case rcSuccess:
			return reply, nil
		case rcLocked:
			return nil, colorderr.New(colorderr.Internal,
				"the device is locked")
		case rcError:
			return nil, colorderr.New(colorderr.Internal,
				"failed to issue command: %s", asciiHint(reply[2:]))
		case rcRetry:
			continue
		default:
			return nil, colorderr.New(colorderr.Protocol,
				"return value unknown: 0x%02x", reply[0])
		}
	}
	return nil, colorderr.New(colorderr.Internal,
		"gave up retrying after %d reads", maxReadRetries)
}

// asciiHint trims the printable prefix of the device's error text.
func asciiHint(b []byte) string {
	end := 0
	for end < len(b) && b[end] >= 0x20 && b[end] < 0x7f {
		end++
	}
	return string(b[:end])
}

// unlock sends the magic handshake, choosing the Lenovo variant for the
// embedded part.
func (d *Driver) unlock(ctx context.Context) error {
	magic := unlockMagic
	if d.dev.VendorID() == VendorIDLenovo && d.dev.ProductID() == ProductIDLenovo {
		magic = unlockMagicLenovo
	}
	request := make([]byte, 8)
	request[0] = cmdUnlock
	copy(request[1:], magic)
	_, err := d.send(ctx, request)
	return err
}

// readRegisterByte reads one EEPROM byte.
func (d *Driver) readRegisterByte(ctx context.Context, addr uint8) (uint8, error) {
	request := []byte{cmdRegisterRead, addr, 0x00, 0x10, 0x3c, 0x06, 0x00, 0x00}
	reply, err := d.send(ctx, request)
	if err != nil {
		return 0, err
	}
	return reply[3], nil
}

// readRegisterString composes consecutive register bytes into a string.
func (d *Driver) readRegisterString(ctx context.Context, addr uint8, length int) (string, error) {
	out := make([]byte, length)
	for i := 0; i < length; i++ {
		v, err := d.readRegisterByte(ctx, addr+uint8(i))
		if err != nil {
			return "", err
		}
		out[i] = v
	}
	return string(out), nil
}

// readRegisterWord composes four register bytes into a big-endian uint32.
func (d *Driver) readRegisterWord(ctx context.Context, addr uint8) (uint32, error) {
	var tmp [4]byte
	for i := 0; i < 4; i++ {
		v, err := d.readRegisterByte(ctx, addr+uint8(i))
		if err != nil {
			return 0, err
		}
		tmp[i] = v
	}
	return buffer.ReadUint32BE(tmp[:]), nil
}

// readRegisterFloat reinterprets a register word as a float32.
func (d *Driver) readRegisterFloat(ctx context.Context, addr uint8) (float64, error) {
	word, err := d.readRegisterWord(ctx, addr)
	if err != nil {
		return 0, err
	}
	return float64(math.Float32frombits(word)), nil
}

// readRegisterVector reads three consecutive floats.
func (d *Driver) readRegisterVector(ctx context.Context, addr uint8) (color.Vec3, error) {
	var out [3]float64
	for i := range out {
		v, err := d.readRegisterFloat(ctx, addr+uint8(i*4))
		if err != nil {
			return color.Vec3{}, err
		}
		out[i] = v
	}
	return color.Vec3{V0: out[0], V1: out[1], V2: out[2]}, nil
}

// readRegisterMatrix reads nine consecutive floats row-major.
func (d *Driver) readRegisterMatrix(ctx context.Context, addr uint8) (color.Mat3x3, error) {
	var out [9]float64
	for i := range out {
		v, err := d.readRegisterFloat(ctx, addr+uint8(i*4))
		if err != nil {
			return color.Mat3x3{}, err
		}
		out[i] = v
	}
	return color.MatrixFromValues(out), nil
}

// Coldplug implements sensor.Driver.
func (d *Driver) Coldplug(ctx context.Context, s *sensor.Sensor) error {
	if err := d.dev.Open(ctx); err != nil {
		return err
	}
	if err := d.dev.ClaimInterface(usbInterface); err != nil {
		return err
	}
	if err := d.unlock(ctx); err != nil {
		return err
	}
	serial, err := d.readRegisterWord(ctx, addrSerial)
	if err != nil {
		return err
	}
	embedded := d.dev.VendorID() == VendorIDLenovo
	s.SetSerial(fmt.Sprintf("%d", serial))
	s.SetVendor("GretagMacbeth")
	s.SetModel("Huey")
	s.SetCaps(Caps(embedded))
	return nil
}

// Lock implements sensor.Driver: unlock the hardware and cache the
// calibration data the measurement path needs.
func (d *Driver) Lock(ctx context.Context) error {
	if err := d.unlock(ctx); err != nil {
		return err
	}
	var err error
	if d.calibrationLCD, err = d.readRegisterMatrix(ctx, addrCalibrationLCD); err != nil {
		return err
	}
	log.Debug.Printf("huey LCD calibration: %s", d.calibrationLCD)
	if d.calibrationCRT, err = d.readRegisterMatrix(ctx, addrCalibrationCRT); err != nil {
		return err
	}
	log.Debug.Printf("huey CRT calibration: %s", d.calibrationCRT)
	if d.calibValue, err = d.readRegisterFloat(ctx, addrAmbientCalibValue); err != nil {
		return err
	}
	if d.darkOffset, err = d.readRegisterVector(ctx, addrDarkOffset); err != nil {
		return err
	}
	if d.unlockString, err = d.readRegisterString(ctx, addrUnlock, 5); err != nil {
		return err
	}
	return nil
}

// Unlock implements sensor.Driver.
func (d *Driver) Unlock(ctx context.Context) error {
	// switch the LEDs off on the way out
	return d.SetLEDs(ctx, 0)
}

// SetLEDs lights the four status LEDs; the hardware wants the bitmask
// inverted in the low byte.
func (d *Driver) SetLEDs(ctx context.Context, value uint8) error {
	request := []byte{cmdSetLEDs, 0x00, ^value, 0x00, 0x00, 0x00, 0x00, 0x00}
	_, err := d.send(ctx, request)
	return err
}

// rawSample holds one set of 32-bit tick counts.
type rawSample struct {
	r, g, b uint32
}

// multiplier holds the per-channel 16-bit gain values.
type multiplier struct {
	r, g, b uint16
}

// sampleForThreshold measures once at the given multipliers: measure
// returns red, then the green and blue registers are read back.
func (d *Driver) sampleForThreshold(ctx context.Context, mult multiplier) (rawSample, error) {
	var raw rawSample
	request := make([]byte, 8)
	request[0] = cmdMeasureRGB
	buffer.WriteUint16BE(request[1:], mult.r)
	buffer.WriteUint16BE(request[3:], mult.g)
	buffer.WriteUint16BE(request[5:], mult.b)
	reply, err := d.send(ctx, request)
	if err != nil {
		return raw, err
	}
	raw.r = buffer.ReadUint32BE(reply[2:])

	request[0] = cmdReadGreen
	if reply, err = d.send(ctx, request); err != nil {
		return raw, err
	}
	raw.g = buffer.ReadUint32BE(reply[2:])

	request[0] = cmdReadBlue
	if reply, err = d.send(ctx, request); err != nil {
		return raw, err
	}
	raw.b = buffer.ReadUint32BE(reply[2:])
	return raw, nil
}

// GetSample implements sensor.Driver per the two-pass measurement recipe.
func (d *Driver) GetSample(ctx context.Context, cap sensor.Cap) (color.XYZ, error) {
	if cap == sensor.CapProjector {
		return color.XYZ{}, colorderr.New(colorderr.NoSupport,
			"Huey cannot measure in projector mode")
	}
	if cap == sensor.CapAmbient {
		lux, err := d.GetAmbient(ctx)
		if err != nil {
			return color.XYZ{}, err
		}
		return color.XYZ{Y: lux}, nil
	}

	// quick approximate pass
	mult := multiplier{r: 1, g: 1, b: 1}
	raw, err := d.sampleForThreshold(ctx, mult)
	if err != nil {
		return color.XYZ{}, err
	}
	if raw.r == 0 || raw.g == 0 || raw.b == 0 {
		return color.XYZ{}, colorderr.New(colorderr.Protocol,
			"sensor returned zero ticks")
	}
	log.Debug.Printf("huey initial ticks: %d %d %d", raw.r, raw.g, raw.b)

	// fill the 16-bit register for accuracy, never allowing zero
	clampMult := func(v float64) uint16 {
		if v < 1 {
			return 1
		}
		if v > 0xffff {
			return 0xffff
		}
		return uint16(v)
	}
	mult = multiplier{
		r: clampMult(pollFrequency / float64(raw.r)),
		g: clampMult(pollFrequency / float64(raw.g)),
		b: clampMult(pollFrequency / float64(raw.b)),
	}
	log.Debug.Printf("huey multipliers: %d %d %d", mult.r, mult.g, mult.b)
	if raw, err = d.sampleForThreshold(ctx, mult); err != nil {
		return color.XYZ{}, err
	}

	// ticks to device RGB
	values := color.Vec3{
		V0: float64(mult.r) * 0.5 * pollFrequency / float64(raw.r),
		V1: float64(mult.g) * 0.5 * pollFrequency / float64(raw.g),
		V2: float64(mult.b) * 0.5 * pollFrequency / float64(raw.b),
	}

	// remove the dark offset, negatives mean the device needs a
	// recalibration and clamp to zero
	values = color.VecSubtract(values, d.darkOffset)
	if values.V0 < 0 {
		values.V0 = 0
	}
	if values.V1 < 0 {
		values.V1 = 0
	}
	if values.V2 < 0 {
		values.V2 = 0
	}

	calibration := d.calibrationLCD
	if cap == sensor.CapCRT || cap == sensor.CapPlasma {
		calibration = d.calibrationCRT
	}
	result := color.MatrixVectorMultiply(calibration, values)
	result = color.VecScale(result, xyzPostMultiplyFactor)
	return color.VecToXYZ(result), nil
}

// GetAmbient reads the ambient light level in Lux, always in LCD mode.
func (d *Driver) GetAmbient(ctx context.Context) (float64, error) {
	request := []byte{cmdGetAmbient, 0x03, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00}
	reply, err := d.send(ctx, request)
	if err != nil {
		return 0, err
	}
	return float64(buffer.ReadUint16BE(reply[5:])) / ambientUnitsToLux, nil
}

// GetSpectrum implements sensor.Driver. The Huey is a colorimeter.
func (d *Driver) GetSpectrum(ctx context.Context, cap sensor.Cap) (*spectrum.Spectrum, error) {
	return nil, colorderr.New(colorderr.NoSupport,
		"Huey has no spectral hardware")
}

// SetOptions implements sensor.Driver. The only recognized option switches
// the LEDs.
func (d *Driver) SetOptions(ctx context.Context, options map[string]interface{}) error {
	for key, value := range options {
		switch key {
		case "leds":
			v, ok := value.(int)
			if !ok || v < 0 || v > 0xff {
				return colorderr.New(colorderr.InputInvalid,
					"leds wants 0..255, got %v", value)
			}
			if err := d.SetLEDs(ctx, uint8(v)); err != nil {
				return err
			}
		default:
			return colorderr.New(colorderr.InputInvalid,
				"unknown option %q", key)
		}
	}
	return nil
}

// DumpDevice implements sensor.Driver.
func (d *Driver) DumpDevice(ctx context.Context) (string, error) {
	return fmt.Sprintf("unlock-string: %q\n"+
		"calibration-lcd: %s\n"+
		"calibration-crt: %s\n"+
		"dark-offset: %s\n"+
		"ambient-calibration: %f\n",
		d.unlockString, d.calibrationLCD, d.calibrationCRT,
		d.darkOffset, d.calibValue), nil
}

// Close implements sensor.Driver.
func (d *Driver) Close() error {
	if err := d.dev.ReleaseInterface(usbInterface); err != nil {
		return err
	}
	return d.dev.Close()
}
