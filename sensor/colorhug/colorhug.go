// Package colorhug drives the Hughski ColorHug colorimeter family: 64-byte
// HID reports carrying a command byte and payload, replies echoing the
// command with a return code, an asynchronous single-in-flight command
// queue, and a calibration map resolving display technologies onto stored
// calibration matrices.
package colorhug

import (
	"context"
	"fmt"
	"time"

	"github.com/colorforge/go-colord/buffer"
	"github.com/colorforge/go-colord/color"
	"github.com/colorforge/go-colord/colorderr"
	"github.com/colorforge/go-colord/sensor"
	"github.com/colorforge/go-colord/spectrum"
	"github.com/colorforge/go-colord/usb"
)

// USB identity and endpoints.
const (
	VendorID     = 0x04d8
	ProductID    = 0xf8da
	epOut        = 0x01
	epIn         = 0x81
	usbInterface = 0
	reportSize   = 64
)

const ioTimeout = 5000 * time.Millisecond

// writeEEPROMMagic must accompany CmdWriteEEPROM or the device ignores it.
const writeEEPROMMagic = "Un1c0rn2"

// Command bytes.
const (
	CmdGetColorSelect     = 0x01
	CmdSetColorSelect     = 0x02
	CmdGetMultiplier      = 0x03
	CmdSetMultiplier      = 0x04
	CmdGetIntegralTime    = 0x05
	CmdSetIntegralTime    = 0x06
	CmdGetFirmwareVersion = 0x07
	CmdGetCalibration     = 0x09
	CmdSetCalibration     = 0x0a
	CmdGetSerialNumber    = 0x0b
	CmdSetSerialNumber    = 0x0c
	CmdGetLEDs            = 0x0d
	CmdSetLEDs            = 0x0e
	CmdGetDarkOffsets     = 0x0f
	CmdSetDarkOffsets     = 0x10
	CmdWriteEEPROM        = 0x20
	CmdTakeReadingRaw     = 0x21
	CmdTakeReadings       = 0x22
	CmdTakeReadingXYZ     = 0x23
	CmdReset              = 0x24
	CmdReadFlash          = 0x25
	CmdWriteFlash         = 0x26
	CmdBootFlash          = 0x27
	CmdSetFlashSuccess    = 0x28
	CmdEraseFlash         = 0x29
	CmdGetPostScale       = 0x2a
	CmdSetPostScale       = 0x2b
	CmdGetPreScale        = 0x2c
	CmdSetPreScale        = 0x2d
	CmdGetCalibrationMap  = 0x2e
	CmdSetCalibrationMap  = 0x2f
	CmdGetHardwareVersion = 0x40
)

// Device return codes.
const (
	retvalSuccess           = 0x00
	retvalUnknownCmd        = 0x01
	retvalWrongUnlockCode   = 0x02
	retvalNotImplemented    = 0x03
	retvalUnderflowSensor   = 0x04
	retvalNoSerial          = 0x05
	retvalWatchdog          = 0x06
	retvalInvalidAddress    = 0x07
	retvalInvalidLength     = 0x08
	retvalInvalidChecksum   = 0x09
	retvalInvalidValue      = 0x0a
	retvalUnknownCmdForBl   = 0x0b
	retvalNoCalibration     = 0x0c
	retvalDeviceDeactivated = 0x0d
	retvalIncompleteRequest = 0x0e
	retvalSelfTest          = 0x0f
)

// mapRetval folds a device return code into the taxonomy.
func mapRetval(code byte, cmd byte) error {
	switch code {
	case retvalSuccess:
		return nil
	case retvalInvalidChecksum, retvalInvalidLength, retvalIncompleteRequest:
		return colorderr.New(colorderr.Protocol,
			"command 0x%02x rejected with code 0x%02x", cmd, code)
	case retvalNoCalibration:
		return colorderr.New(colorderr.NoData,
			"device has no calibration for command 0x%02x", cmd)
	case retvalDeviceDeactivated:
		return colorderr.New(colorderr.NoSupport,
			"device is deactivated")
	case retvalUnknownCmd, retvalUnknownCmdForBl, retvalNotImplemented:
		return colorderr.New(colorderr.NoSupport,
			"command 0x%02x not supported by this firmware", cmd)
	default:
		return colorderr.New(colorderr.Internal,
			"command 0x%02x failed with code 0x%02x", cmd, code)
	}
}

// Calibration map layout: 64 user slots, then the technology slots.
const (
	CalibrationMax            = 64
	CalibrationIndexLCD       = CalibrationMax + 0
	CalibrationIndexCRT       = CalibrationMax + 1
	CalibrationIndexProjector = CalibrationMax + 2
)

// request describes one queued command.
type request struct {
	cmd    byte
	in     []byte
	outLen int
	result chan Response
}

// Response carries the completion of one queued command.
type Response struct {
	Data []byte
	Err  error
}

// Driver implements sensor.Driver for the ColorHug family.
type Driver struct {
	dev usb.Device

	queue  chan request
	done   chan struct{}
	calMap [6]uint16
}

// New wraps an enumerated USB device.
func New(dev usb.Device) *Driver {
	d := &Driver{
		dev:   dev,
		queue: make(chan request, 16),
		done:  make(chan struct{}),
	}
	go d.serve()
	return d
}

// Caps returns the capability set of the hardware.
func Caps() sensor.Cap {
	return sensor.CapLCD | sensor.CapCRT | sensor.CapProjector |
		sensor.CapLED
}

// serve owns the wire: exactly one command is in flight at any time, in
// submission order.
func (d *Driver) serve() {
	for {
		select {
		case <-d.done:
			return
		case req := <-d.queue:
			data, err := d.transact(req)
			req.result <- Response{Data: data, Err: err}
		}
	}
}

// transact writes the 64-byte request report and reads the reply.
func (d *Driver) transact(req request) ([]byte, error) {
	ctx := context.Background()
	out := make([]byte, reportSize)
	out[0] = req.cmd
	if len(req.in) > reportSize-1 {
		return nil, colorderr.New(colorderr.InputInvalid,
			"payload %d too long", len(req.in))
	}
	copy(out[1:], req.in)
	buffer.Trace(buffer.TraceRequest, out[:1+len(req.in)])
	if _, err := d.dev.Interrupt(ctx, epOut, out, ioTimeout); err != nil {
		return nil, err
	}

	in := make([]byte, reportSize)
	n, err := d.dev.Interrupt(ctx, epIn, in, ioTimeout)
	if err != nil {
		return nil, err
	}
	buffer.Trace(buffer.TraceResponse, in[:n])
	if n < 2 {
		return nil, colorderr.New(colorderr.Protocol,
			"short reply, %d bytes", n)
	}
	if err := mapRetval(in[0], req.cmd); err != nil {
		return nil, err
	}
	if in[1] != req.cmd {
		return nil, colorderr.New(colorderr.Protocol,
			"reply echoes 0x%02x, expected 0x%02x", in[1], req.cmd)
	}
	if n-2 < req.outLen {
		return nil, colorderr.New(colorderr.Protocol,
			"reply carries %d bytes, declared %d", n-2, req.outLen)
	}
	return in[2 : 2+req.outLen], nil
}

// SubmitAsync queues a command and returns the completion channel.
func (d *Driver) SubmitAsync(cmd byte, in []byte, outLen int) <-chan Response {
	req := request{cmd: cmd, in: in, outLen: outLen,
		result: make(chan Response, 1)}
	select {
	case d.queue <- req:
	case <-d.done:
		req.result <- Response{Err: colorderr.New(colorderr.Internal,
			"driver closed")}
	}
	return req.result
}

// submit queues a command and waits for its reply.
func (d *Driver) submit(ctx context.Context, cmd byte, in []byte, outLen int) ([]byte, error) {
	select {
	case res := <-d.SubmitAsync(cmd, in, outLen):
		return res.Data, res.Err
	case <-ctx.Done():
		return nil, colorderr.Wrap(colorderr.Cancelled, ctx.Err(),
			"command 0x%02x abandoned", cmd)
	}
}

// GetSerialNumber reads the device serial.
func (d *Driver) GetSerialNumber(ctx context.Context) (uint32, error) {
	data, err := d.submit(ctx, CmdGetSerialNumber, nil, 4)
	if err != nil {
		return 0, err
	}
	return buffer.ReadUint32LE(data), nil
}

// GetFirmwareVersion reads the firmware triple.
func (d *Driver) GetFirmwareVersion(ctx context.Context) (major, minor, micro uint16, err error) {
	data, err := d.submit(ctx, CmdGetFirmwareVersion, nil, 6)
	if err != nil {
		return 0, 0, 0, err
	}
	return buffer.ReadUint16LE(data), buffer.ReadUint16LE(data[2:]),
		buffer.ReadUint16LE(data[4:]), nil
}

// GetHardwareVersion reads the board revision.
func (d *Driver) GetHardwareVersion(ctx context.Context) (uint8, error) {
	data, err := d.submit(ctx, CmdGetHardwareVersion, nil, 1)
	if err != nil {
		return 0, err
	}
	return data[0], nil
}

// GetCalibrationMap reads the six technology→index slots.
func (d *Driver) GetCalibrationMap(ctx context.Context) ([6]uint16, error) {
	var out [6]uint16
	data, err := d.submit(ctx, CmdGetCalibrationMap, nil, 12)
	if err != nil {
		return out, err
	}
	for i := range out {
		out[i] = buffer.ReadUint16LE(data[i*2:])
	}
	return out, nil
}

// Calibration is one stored calibration matrix with its description.
type Calibration struct {
	Index       uint16
	Matrix      color.Mat3x3
	Description string
}

// GetCalibration reads one calibration slot.
func (d *Driver) GetCalibration(ctx context.Context, index uint16) (*Calibration, error) {
	var in [2]byte
	buffer.WriteUint16LE(in[:], index)
	data, err := d.submit(ctx, CmdGetCalibration, in[:], 60)
	if err != nil {
		return nil, err
	}
	var values [9]float64
	for i := range values {
		values[i] = packedFloatToFloat(buffer.ReadUint32LE(data[i*4:]))
	}
	desc := data[38:]
	end := 0
	for end < len(desc) && desc[end] != 0 {
		end++
	}
	return &Calibration{
		Index:       index,
		Matrix:      color.MatrixFromValues(values),
		Description: string(desc[:end]),
	}, nil
}

// SetLEDs drives the two LEDs with an optional repeat pattern.
func (d *Driver) SetLEDs(ctx context.Context, leds, repeat, onTime, offTime uint8) error {
	_, err := d.submit(ctx, CmdSetLEDs,
		[]byte{leds, repeat, onTime, offTime}, 0)
	return err
}

// SetIntegralTime sets the sensor integration period.
func (d *Driver) SetIntegralTime(ctx context.Context, value uint16) error {
	var in [2]byte
	buffer.WriteUint16LE(in[:], value)
	_, err := d.submit(ctx, CmdSetIntegralTime, in[:], 0)
	return err
}

// SetMultiplier sets the sensor frequency divider.
func (d *Driver) SetMultiplier(ctx context.Context, value uint8) error {
	_, err := d.submit(ctx, CmdSetMultiplier, []byte{value}, 0)
	return err
}

// GetDarkOffsets reads the per-channel dark offsets.
func (d *Driver) GetDarkOffsets(ctx context.Context) (color.Vec3, error) {
	data, err := d.submit(ctx, CmdGetDarkOffsets, nil, 6)
	if err != nil {
		return color.Vec3{}, err
	}
	return color.Vec3{
		V0: float64(buffer.ReadUint16LE(data)) / 0xffff,
		V1: float64(buffer.ReadUint16LE(data[2:])) / 0xffff,
		V2: float64(buffer.ReadUint16LE(data[4:])) / 0xffff,
	}, nil
}

// WriteEEPROM commits the volatile state; the device requires the magic.
func (d *Driver) WriteEEPROM(ctx context.Context) error {
	_, err := d.submit(ctx, CmdWriteEEPROM, []byte(writeEEPROMMagic), 0)
	return err
}

// TakeReadingRaw reads the unscaled sensor counter.
func (d *Driver) TakeReadingRaw(ctx context.Context) (uint32, error) {
	data, err := d.submit(ctx, CmdTakeReadingRaw, nil, 4)
	if err != nil {
		return 0, err
	}
	return buffer.ReadUint32LE(data), nil
}

// TakeReadings reads the dark-corrected device RGB values.
func (d *Driver) TakeReadings(ctx context.Context) (color.RGB, error) {
	data, err := d.submit(ctx, CmdTakeReadings, nil, 12)
	if err != nil {
		return color.RGB{}, err
	}
	return color.RGB{
		R: packedFloatToFloat(buffer.ReadUint32LE(data)),
		G: packedFloatToFloat(buffer.ReadUint32LE(data[4:])),
		B: packedFloatToFloat(buffer.ReadUint32LE(data[8:])),
	}, nil
}

// TakeReadingXYZ reads an XYZ sample through a calibration slot.
func (d *Driver) TakeReadingXYZ(ctx context.Context, calIndex uint16) (color.XYZ, error) {
	var in [2]byte
	buffer.WriteUint16LE(in[:], calIndex)
	data, err := d.submit(ctx, CmdTakeReadingXYZ, in[:], 12)
	if err != nil {
		return color.XYZ{}, err
	}
	return color.XYZ{
		X: packedFloatToFloat(buffer.ReadUint32LE(data)),
		Y: packedFloatToFloat(buffer.ReadUint32LE(data[4:])),
		Z: packedFloatToFloat(buffer.ReadUint32LE(data[8:])),
	}, nil
}

// Reset reboots the device, used to enter and leave the bootloader.
func (d *Driver) Reset(ctx context.Context) error {
	_, err := d.submit(ctx, CmdReset, nil, 0)
	return err
}

// FlashRead reads flash memory, a bootloader-only command.
func (d *Driver) FlashRead(ctx context.Context, addr uint16, length uint8) ([]byte, error) {
	var in [3]byte
	buffer.WriteUint16LE(in[:], addr)
	in[2] = length
	return d.submit(ctx, CmdReadFlash, in[:], int(length))
}

// FlashErase erases a flash region, a bootloader-only command.
func (d *Driver) FlashErase(ctx context.Context, addr uint16, length uint16) error {
	var in [4]byte
	buffer.WriteUint16LE(in[:], addr)
	buffer.WriteUint16LE(in[2:], length)
	_, err := d.submit(ctx, CmdEraseFlash, in[:], 0)
	return err
}

// FlashWrite writes a flash chunk, a bootloader-only command.
func (d *Driver) FlashWrite(ctx context.Context, addr uint16, chunk []byte) error {
	in := make([]byte, 3+len(chunk))
	buffer.WriteUint16LE(in, addr)
	in[2] = uint8(len(chunk))
	copy(in[3:], chunk)
	_, err := d.submit(ctx, CmdWriteFlash, in, 0)
	return err
}

// FlashBoot jumps from the bootloader into firmware.
func (d *Driver) FlashBoot(ctx context.Context) error {
	_, err := d.submit(ctx, CmdBootFlash, nil, 0)
	return err
}

// FlashSetSuccess marks the new firmware good so the bootloader stops
// falling back.
func (d *Driver) FlashSetSuccess(ctx context.Context, success bool) error {
	v := byte(0)
	if success {
		v = 1
	}
	_, err := d.submit(ctx, CmdSetFlashSuccess, []byte{v}, 0)
	return err
}

// packedFloatToFloat expands the device's signed 16.16 fixed encoding.
func packedFloatToFloat(v uint32) float64 {
	return float64(int32(v)) / 65536.0
}

// capToCalIndex resolves a display technology onto the calibration map.
func (d *Driver) capToCalIndex(cap sensor.Cap) (uint16, error) {
	var slot int
	switch cap {
	case sensor.CapLCD, sensor.CapLED:
		slot = CalibrationIndexLCD - CalibrationMax
	case sensor.CapCRT, sensor.CapPlasma:
		slot = CalibrationIndexCRT - CalibrationMax
	case sensor.CapProjector:
		slot = CalibrationIndexProjector - CalibrationMax
	default:
		return 0, colorderr.New(colorderr.NoSupport,
			"no calibration slot for %s", cap)
	}
	idx := d.calMap[slot]
	if idx == 0 {
		return 0, colorderr.New(colorderr.NoData,
			"calibration map has no entry for %s", cap)
	}
	return idx, nil
}

// Coldplug implements sensor.Driver.
func (d *Driver) Coldplug(ctx context.Context, s *sensor.Sensor) error {
	if err := d.dev.Open(ctx); err != nil {
		return err
	}
	if err := d.dev.ClaimInterface(usbInterface); err != nil {
		return err
	}
	serial, err := d.GetSerialNumber(ctx)
	if err != nil {
		return err
	}
	major, minor, micro, err := d.GetFirmwareVersion(ctx)
	if err != nil {
		return err
	}
	s.SetSerial(fmt.Sprintf("%d", serial))
	s.SetVendor("Hughski")
	s.SetModel("ColorHug")
	s.SetCaps(Caps())
	s.SetMetadataItem("firmware-version",
		fmt.Sprintf("%d.%d.%d", major, minor, micro))
	return nil
}

// Lock implements sensor.Driver: cache the calibration map and light the
// LEDs so the user can see the claim.
func (d *Driver) Lock(ctx context.Context) error {
	calMap, err := d.GetCalibrationMap(ctx)
	if err != nil {
		return err
	}
	d.calMap = calMap
	if err := d.SetIntegralTime(ctx, 0xffff); err != nil {
		return err
	}
	if err := d.SetMultiplier(ctx, 0x03); err != nil {
		return err
	}
	return d.SetLEDs(ctx, 0x01, 0, 0, 0)
}

// Unlock implements sensor.Driver.
func (d *Driver) Unlock(ctx context.Context) error {
	return d.SetLEDs(ctx, 0x00, 0, 0, 0)
}

// GetSample implements sensor.Driver.
func (d *Driver) GetSample(ctx context.Context, cap sensor.Cap) (color.XYZ, error) {
	idx, err := d.capToCalIndex(cap)
	if err != nil {
		return color.XYZ{}, err
	}
	return d.TakeReadingXYZ(ctx, idx)
}

// GetSpectrum implements sensor.Driver. Only the ColorHug+ has spectral
// hardware and it is not driven natively.
func (d *Driver) GetSpectrum(ctx context.Context, cap sensor.Cap) (*spectrum.Spectrum, error) {
	return nil, colorderr.New(colorderr.NoSupport,
		"ColorHug has no spectral hardware")
}

// SetOptions implements sensor.Driver.
func (d *Driver) SetOptions(ctx context.Context, options map[string]interface{}) error {
	for key, value := range options {
		switch key {
		case "remote-profile-hash":
			if _, ok := value.(string); !ok {
				return colorderr.New(colorderr.InputInvalid,
					"remote-profile-hash wants a string")
			}
			// stored by the daemon, nothing to push to hardware
		case "integral-time":
			v, ok := value.(int)
			if !ok || v <= 0 || v > 0xffff {
				return colorderr.New(colorderr.InputInvalid,
					"integral-time wants 1..65535, got %v", value)
			}
			if err := d.SetIntegralTime(ctx, uint16(v)); err != nil {
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
	hw, err := d.GetHardwareVersion(ctx)
	if err != nil {
		return "", err
	}
	calMap, err := d.GetCalibrationMap(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("hardware-version: %d\ncalibration-map: %v\n",
		hw, calMap), nil
}

// Close implements sensor.Driver.
func (d *Driver) Close() error {
	close(d.done)
	if err := d.dev.ReleaseInterface(usbInterface); err != nil {
		return err
	}
	return d.dev.Close()
}
