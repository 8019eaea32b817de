// Package munki drives the X-Rite ColorMunki Photo spectrophotometer. The
// device runs two asynchronous streams: an interrupt endpoint reporting
// dial rotations and button presses, and a bulk endpoint for EEPROM dumps
// and measurement data; identity and firmware parameters travel over
// vendor control transfers.
package munki

import (
	"context"
	"fmt"
	"strings"
	"sync"
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
	VendorID     = 0x0971
	ProductID    = 0x2007
	usbInterface = 0
	epInterrupt  = 0x83
	epBulk       = 0x81
)

// Vendor control requests.
const (
	requestEEPROMData     = 0x81
	requestVersionString  = 0x85
	requestFirmwareParams = 0x86
	requestGetStatus      = 0x87
	requestChipID         = 0x8a
)

// Transfer timeouts. The EEPROM bulk read moves whole blocks and gets a
// longer budget.
const (
	controlTimeout = 2000 * time.Millisecond
	eepromTimeout  = 5000 * time.Millisecond
)

// Dial positions reported in status byte 0.
const (
	dialPositionUnknown     = 0x00
	dialPositionProjector   = 0x01
	dialPositionSurface     = 0x02
	dialPositionCalibration = 0x03
	dialPositionAmbient     = 0x04
)

// Interrupt event codes in byte 0.
const (
	eventButtonPressed  = 0x00
	eventButtonReleased = 0x01
	eventDialRotate     = 0x02
)

// eepromSerialOffset locates the ASCII serial inside the first EEPROM
// block.
const (
	eepromSerialOffset = 0x18
	eepromSerialLength = 10
)

// Driver implements sensor.Driver for the ColorMunki Photo.
type Driver struct {
	dev usb.Device

	mu sync.Mutex

	firmwareRevision string
	chipID           string
	versionString    string
	tickDuration     uint32
	minInt           uint32
	eepromBlocks     uint32
	eepromBlocksize  uint32
	serial           string

	sensorRef *sensor.Sensor
	loopStop  context.CancelFunc
	loopDone  chan struct{}
}

// New wraps an enumerated USB device.
func New(dev usb.Device) *Driver {
	return &Driver{dev: dev}
}

// Caps returns the capability set of the hardware.
func Caps() sensor.Cap {
	return sensor.CapLCD | sensor.CapCRT | sensor.CapLED |
		sensor.CapAmbient | sensor.CapPrinter | sensor.CapCalibration
}

// vendorIn performs a device-to-host vendor control read.
func (d *Driver) vendorIn(ctx context.Context, request uint8, data []byte) error {
	setup := usb.ControlSetup{
		Direction:   usb.DirectionIn,
		RequestType: usb.RequestVendor,
		Recipient:   usb.RecipientDevice,
		Request:     request,
	}
	n, err := d.dev.Control(ctx, setup, data, controlTimeout)
	if err != nil {
		return err
	}
	if n != len(data) {
		return colorderr.New(colorderr.Protocol,
			"request 0x%02x returned %d bytes, wanted %d",
			request, n, len(data))
	}
	buffer.Trace(buffer.TraceResponse, data)
	return nil
}

// refreshState polls the dial and button status and publishes the mode.
func (d *Driver) refreshState(ctx context.Context) error {
	status := make([]byte, 2)
	if err := d.vendorIn(ctx, requestGetStatus, status); err != nil {
		return err
	}
	d.mu.Lock()
	s := d.sensorRef
	d.mu.Unlock()
	if s == nil {
		return nil
	}
	switch status[0] {
	case dialPositionProjector:
		s.SetMode(sensor.CapProjector)
	case dialPositionSurface:
		s.SetMode(sensor.CapPrinter)
	case dialPositionCalibration:
		s.SetMode(sensor.CapCalibration)
	case dialPositionAmbient:
		s.SetMode(sensor.CapAmbient)
	default:
		s.SetMode(0)
	}
	log.Debug.Printf("munki dial now %s", s.Mode())
	return nil
}

// interruptLoop services dial and button events until cancelled.
func (d *Driver) interruptLoop(ctx context.Context) {
	defer close(d.loopDone)
	reply := make([]byte, 8)
	for {
		if ctx.Err() != nil {
			return
		}
		n, err := d.dev.Interrupt(ctx, epInterrupt, reply, time.Hour)
		if err != nil {
			if ctx.Err() == nil {
				log.Debug.Printf("munki interrupt stream: %v", err)
			}
			return
		}
		if n < 8 {
			continue
		}
		timestamp := buffer.ReadUint32LE(reply[4:])
		switch reply[0] {
		case eventButtonReleased:
			log.Debug.Printf("munki button released at %dms", timestamp)
		case eventButtonPressed:
			log.Debug.Printf("munki button pressed at %dms", timestamp)
			d.mu.Lock()
			s := d.sensorRef
			d.mu.Unlock()
			if s != nil {
				s.EmitButtonPressed()
			}
		case eventDialRotate:
			log.Debug.Printf("munki dial rotate at %dms", timestamp)
		}
		if err := d.refreshState(ctx); err != nil && ctx.Err() == nil {
			log.Debug.Printf("munki status refresh: %v", err)
		}
	}
}

// GetEEPROMData dumps size bytes from the EEPROM starting at address: a
// vendor control write of the request followed by a bulk read. A short
// read is fatal.
func (d *Driver) GetEEPROMData(ctx context.Context, address, size uint32) ([]byte, error) {
	request := make([]byte, 8)
	buffer.WriteUint32LE(request, address)
	buffer.WriteUint32LE(request[4:], size)
	buffer.Trace(buffer.TraceRequest, request)
	setup := usb.ControlSetup{
		Direction:   usb.DirectionOut,
		RequestType: usb.RequestVendor,
		Recipient:   usb.RecipientDevice,
		Request:     requestEEPROMData,
	}
	if _, err := d.dev.Control(ctx, setup, request, controlTimeout); err != nil {
		return nil, err
	}
	data := make([]byte, size)
	n, err := d.dev.Bulk(ctx, epBulk, data, eepromTimeout)
	if err != nil {
		return nil, err
	}
	if uint32(n) != size {
		return nil, colorderr.New(colorderr.Protocol,
			"EEPROM read returned %d bytes, wanted %d", n, size)
	}
	buffer.Trace(buffer.TraceResponse, data)
	return data, nil
}

// Coldplug implements sensor.Driver.
func (d *Driver) Coldplug(ctx context.Context, s *sensor.Sensor) error {
	if err := d.dev.Open(ctx); err != nil {
		return err
	}
	if err := d.dev.ClaimInterface(usbInterface); err != nil {
		return err
	}
	d.mu.Lock()
	d.sensorRef = s
	d.mu.Unlock()

	s.SetVendor("X-Rite")
	s.SetModel("ColorMunki Photo")
	s.SetCaps(Caps())

	// start the dial/button stream and get the initial position
	loopCtx, cancel := context.WithCancel(context.Background())
	d.loopStop = cancel
	d.loopDone = make(chan struct{})
	go d.interruptLoop(loopCtx)
	return d.refreshState(ctx)
}

// Lock implements sensor.Driver: read the firmware parameters, the chip
// id, the version string and the EEPROM identity block.
func (d *Driver) Lock(ctx context.Context) error {
	params := make([]byte, 24)
	if err := d.vendorIn(ctx, requestFirmwareParams, params); err != nil {
		return colorderr.Wrap(colorderr.NoSupport, err,
			"failed to get firmware parameters")
	}
	d.mu.Lock()
	d.firmwareRevision = fmt.Sprintf("%d.%d",
		buffer.ReadUint32LE(params), buffer.ReadUint32LE(params[4:]))
	d.tickDuration = buffer.ReadUint32LE(params[8:])
	d.minInt = buffer.ReadUint32LE(params[12:])
	d.eepromBlocks = buffer.ReadUint32LE(params[16:])
	d.eepromBlocksize = buffer.ReadUint32LE(params[20:])
	blocksize := d.eepromBlocksize
	d.mu.Unlock()

	chip := make([]byte, 8)
	if err := d.vendorIn(ctx, requestChipID, chip); err != nil {
		return colorderr.Wrap(colorderr.NoSupport, err,
			"failed to get chip id")
	}
	version := make([]byte, 36)
	if err := d.vendorIn(ctx, requestVersionString, version); err != nil {
		return colorderr.Wrap(colorderr.NoSupport, err,
			"failed to get version string")
	}

	d.mu.Lock()
	d.chipID = fmt.Sprintf("%02x-%02x%02x%02x%02x%02x%02x%02x",
		chip[0], chip[1], chip[2], chip[3],
		chip[4], chip[5], chip[6], chip[7])
	d.versionString = strings.TrimRight(string(version), "\x00")
	s := d.sensorRef
	d.mu.Unlock()

	if blocksize == 0 {
		return colorderr.New(colorderr.Protocol,
			"firmware reports zero EEPROM block size")
	}
	block, err := d.GetEEPROMData(ctx, 0, blocksize)
	if err != nil {
		return err
	}
	if int(eepromSerialOffset+eepromSerialLength) > len(block) {
		return colorderr.New(colorderr.Protocol,
			"EEPROM block too small for identity data")
	}
	serial := strings.TrimRight(
		string(block[eepromSerialOffset:eepromSerialOffset+eepromSerialLength]),
		"\x00 ")
	d.mu.Lock()
	d.serial = serial
	d.mu.Unlock()

	if s != nil {
		s.SetSerial(serial)
		s.SetMetadataItem("firmware-version", d.firmwareRevision)
		s.SetMetadataItem("chip-id", d.chipID)
		s.SetMetadataItem("version-string", d.versionString)
	}
	return nil
}

// Unlock implements sensor.Driver. The hardware has no claim to release.
func (d *Driver) Unlock(ctx context.Context) error {
	return nil
}

// GetSample implements sensor.Driver. Projector mode is not supported by
// the hardware; ambient needs the dial in the ambient position.
func (d *Driver) GetSample(ctx context.Context, cap sensor.Cap) (color.XYZ, error) {
	if cap == sensor.CapProjector {
		return color.XYZ{}, colorderr.New(colorderr.NoSupport,
			"ColorMunki cannot measure in projector mode")
	}
	if cap == sensor.CapAmbient {
		// read the dial itself: the framework has already recorded the
		// requested cap as the sensor mode
		status := make([]byte, 2)
		if err := d.vendorIn(ctx, requestGetStatus, status); err != nil {
			return color.XYZ{}, err
		}
		if status[0] != dialPositionAmbient {
			return color.XYZ{}, colorderr.New(colorderr.NoSupport,
				"cannot measure ambient light in this mode (turn dial!)")
		}
		// the reading is raw radiance; the hardware has no documented
		// conversion to Lux so none is applied
		return d.measure(ctx)
	}
	return d.measure(ctx)
}

// measure runs one emission measurement cycle.
func (d *Driver) measure(ctx context.Context) (color.XYZ, error) {
	if err := ctx.Err(); err != nil {
		return color.XYZ{}, err
	}
	// the sample integration is carried out by the device once armed;
	// the result arrives on the bulk endpoint as three LE fixed-point
	// values
	data := make([]byte, 12)
	n, err := d.dev.Bulk(ctx, epBulk, data, eepromTimeout)
	if err != nil {
		return color.XYZ{}, err
	}
	if n != len(data) {
		return color.XYZ{}, colorderr.New(colorderr.Protocol,
			"measurement returned %d bytes, wanted %d", n, len(data))
	}
	return color.XYZ{
		X: float64(int32(buffer.ReadUint32LE(data))) / 65536.0,
		Y: float64(int32(buffer.ReadUint32LE(data[4:]))) / 65536.0,
		Z: float64(int32(buffer.ReadUint32LE(data[8:]))) / 65536.0,
	}, nil
}

// GetSpectrum implements sensor.Driver. The spectral path of this hardware
// is not driven natively; the Argyll adapter covers it.
func (d *Driver) GetSpectrum(ctx context.Context, cap sensor.Cap) (*spectrum.Spectrum, error) {
	return nil, colorderr.New(colorderr.NoSupport,
		"spectral readings are not implemented for this device")
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
	d.mu.Lock()
	defer d.mu.Unlock()
	return fmt.Sprintf("firmware-revision: %s\n"+
		"chip-id: %s\n"+
		"version-string: %s\n"+
		"tick-duration: %d\n"+
		"min-int: %d\n"+
		"eeprom-blocks: %d\n"+
		"eeprom-blocksize: %d\n",
		d.firmwareRevision, d.chipID, d.versionString,
		d.tickDuration, d.minInt, d.eepromBlocks, d.eepromBlocksize), nil
}

// Close implements sensor.Driver: stop the interrupt stream and drop the
// USB claim.
func (d *Driver) Close() error {
	if d.loopStop != nil {
		d.loopStop()
		<-d.loopDone
	}
	if err := d.dev.ReleaseInterface(usbInterface); err != nil {
		return err
	}
	return d.dev.Close()
}
