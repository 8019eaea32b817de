package munki_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colorforge/go-colord/buffer"
	"github.com/colorforge/go-colord/colorderr"
	"github.com/colorforge/go-colord/sensor"
	"github.com/colorforge/go-colord/sensor/munki"
	"github.com/colorforge/go-colord/usb"
)

// munkiFake emulates the vendor-control and bulk surfaces of the hardware.
type munkiFake struct {
	dev *usb.FakeDevice

	mu            sync.Mutex
	dial          byte
	eeprom        []byte
	eepromPending bool
	samplePending []byte
	interruptCh   chan []byte
	blocksize     uint32
}

func newMunkiFake() *munkiFake {
	f := &munkiFake{
		dev:         usb.NewFakeDevice(0x0971, 0x2007),
		dial:        0x03, // calibration
		blocksize:   128,
		interruptCh: make(chan []byte, 8),
	}
	f.eeprom = make([]byte, f.blocksize)
	copy(f.eeprom[0x18:], "A1B2C3D4E5")
	f.dev.OnControl = f.onControl
	f.dev.OnBulk = f.onBulk
	f.dev.OnInterrupt = f.onInterrupt
	return f
}

func (f *munkiFake) onControl(setup usb.ControlSetup, data []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch setup.Request {
	case 0x87: // status
		data[0] = f.dial
		data[1] = 0
		return 2, nil
	case 0x86: // firmware params
		buffer.WriteUint32LE(data[0:], 1)
		buffer.WriteUint32LE(data[4:], 13)
		buffer.WriteUint32LE(data[8:], 50)
		buffer.WriteUint32LE(data[12:], 100)
		buffer.WriteUint32LE(data[16:], 4)
		buffer.WriteUint32LE(data[20:], f.blocksize)
		return 24, nil
	case 0x8a: // chip id
		copy(data, []byte{0xde, 0xad, 0xbe, 0xef, 1, 2, 3, 4})
		return 8, nil
	case 0x85: // version string
		copy(data, "ColorMunki Firmware v1.13")
		return 36, nil
	case 0x81: // eeprom request
		f.eepromPending = true
		return len(data), nil
	}
	return 0, colorderr.New(colorderr.Internal, "unscripted request")
}

func (f *munkiFake) onBulk(endpoint uint8, data []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.eepromPending {
		f.eepromPending = false
		return copy(data, f.eeprom), nil
	}
	if f.samplePending != nil {
		n := copy(data, f.samplePending)
		f.samplePending = nil
		return n, nil
	}
	return 0, colorderr.New(colorderr.Internal, "no bulk data scripted")
}

func (f *munkiFake) onInterrupt(endpoint uint8, data []byte) (int, error) {
	select {
	case ev := <-f.interruptCh:
		return copy(data, ev), nil
	case <-time.After(5 * time.Second):
		return 0, colorderr.New(colorderr.Internal, "interrupt starved")
	}
}

func newLockedMunki(t *testing.T, f *munkiFake) *sensor.Sensor {
	t.Helper()
	s := sensor.New(munki.New(f.dev), sensor.KindColorMunkiPhoto, true, false)
	ctx := context.Background()
	require.NoError(t, s.Coldplug(ctx))
	require.NoError(t, s.Lock(ctx))
	return s
}

func TestLockReadsIdentity(t *testing.T) {
	f := newMunkiFake()
	s := newLockedMunki(t, f)
	defer s.Close()

	assert.Equal(t, "A1B2C3D4E5", s.Serial())
	md := s.Metadata()
	assert.Equal(t, "1.13", md["firmware-version"])
	assert.Equal(t, "de-adbeef01020304", md["chip-id"])
	assert.Contains(t, md["version-string"], "ColorMunki")
	assert.Equal(t, sensor.CapCalibration, s.Mode())
}

func TestEEPROMSizeMismatchIsFatal(t *testing.T) {
	f := newMunkiFake()
	f.eeprom = f.eeprom[:64] // short block
	s := sensor.New(munki.New(f.dev), sensor.KindColorMunkiPhoto, true, false)
	ctx := context.Background()
	require.NoError(t, s.Coldplug(ctx))
	err := s.Lock(ctx)
	require.Error(t, err)
	assert.True(t, colorderr.IsKind(err, colorderr.Protocol))
	assert.Equal(t, sensor.StateIdle, s.State())
	s.Close()
}

func TestButtonEventReachesFramework(t *testing.T) {
	f := newMunkiFake()
	s := newLockedMunki(t, f)
	defer s.Close()

	ev := make([]byte, 8)
	ev[0] = 0x00 // button pressed
	buffer.WriteUint32LE(ev[4:], 1234)
	f.interruptCh <- ev

	deadline := time.After(3 * time.Second)
	for {
		select {
		case got := <-s.Events():
			if got.Kind == sensor.EventButtonPressed {
				return
			}
		case <-deadline:
			t.Fatal("button press never surfaced")
		}
	}
}

func TestProjectorModeUnsupported(t *testing.T) {
	f := newMunkiFake()
	s := newLockedMunki(t, f)
	defer s.Close()
	_, err := s.GetSample(context.Background(), sensor.CapProjector)
	require.Error(t, err)
	assert.True(t, colorderr.IsKind(err, colorderr.NoSupport))
}

func TestAmbientNeedsDialPosition(t *testing.T) {
	f := newMunkiFake()
	s := newLockedMunki(t, f) // dial is on calibration
	defer s.Close()
	_, err := s.GetSample(context.Background(), sensor.CapAmbient)
	require.Error(t, err)
	assert.True(t, colorderr.IsKind(err, colorderr.NoSupport))
}

func TestEmissionMeasurement(t *testing.T) {
	f := newMunkiFake()
	s := newLockedMunki(t, f)
	defer s.Close()

	sample := make([]byte, 12)
	buffer.WriteUint32LE(sample[0:], uint32(int32(96.42*65536)))
	buffer.WriteUint32LE(sample[4:], uint32(int32(100.0*65536)))
	buffer.WriteUint32LE(sample[8:], uint32(int32(82.49*65536)))
	f.mu.Lock()
	f.samplePending = sample
	f.mu.Unlock()

	got, err := s.GetSample(context.Background(), sensor.CapLCD)
	require.NoError(t, err)
	assert.InDelta(t, 96.42, got.X, 1e-3)
	assert.InDelta(t, 100.0, got.Y, 1e-3)
	assert.InDelta(t, 82.49, got.Z, 1e-3)
}
