package huey_test

import (
	"context"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colorforge/go-colord/buffer"
	"github.com/colorforge/go-colord/colorderr"
	"github.com/colorforge/go-colord/sensor"
	"github.com/colorforge/go-colord/sensor/huey"
	"github.com/colorforge/go-colord/usb"
)

// hueyFake emulates the Huey HID protocol over the scripted USB device.
type hueyFake struct {
	dev *usb.FakeDevice

	mu      sync.Mutex
	eeprom  map[uint8]byte
	raw     [3]uint32 // tick counts returned for R, G, B
	ambient uint16
	leds    []byte
	replies [][]byte
	// retries injects this many retry replies before each success
	retries int
}

func newHueyFake() *hueyFake {
	f := &hueyFake{
		dev:    usb.NewFakeDevice(0x0971, 0x2005),
		eeprom: map[uint8]byte{},
		raw:    [3]uint32{25000, 30000, 35000},
	}
	f.dev.OnControl = f.onControl
	f.dev.OnInterrupt = f.onInterrupt
	return f
}

func (f *hueyFake) putFloat(addr uint8, v float32) {
	var tmp [4]byte
	buffer.WriteUint32BE(tmp[:], math.Float32bits(v))
	for i, b := range tmp {
		f.eeprom[addr+uint8(i)] = b
	}
}

func (f *hueyFake) putWord(addr uint8, v uint32) {
	var tmp [4]byte
	buffer.WriteUint32BE(tmp[:], v)
	for i, b := range tmp {
		f.eeprom[addr+uint8(i)] = b
	}
}

func (f *hueyFake) queue(reply []byte) {
	for i := 0; i < f.retries; i++ {
		retry := make([]byte, 8)
		retry[0] = 0x90
		retry[1] = reply[1]
		f.replies = append(f.replies, retry)
	}
	f.replies = append(f.replies, reply)
}

func (f *hueyFake) onControl(setup usb.ControlSetup, data []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cmd := data[0]
	reply := make([]byte, 8)
	reply[1] = cmd
	switch cmd {
	case 0x0e: // unlock
	case 0x08: // register read
		reply[3] = f.eeprom[data[1]]
	case 0x16: // measure, reply carries red
		buffer.WriteUint32BE(reply[2:], f.raw[0])
	case 0x02: // read green
		buffer.WriteUint32BE(reply[2:], f.raw[1])
	case 0x03: // read blue
		buffer.WriteUint32BE(reply[2:], f.raw[2])
	case 0x17: // ambient
		buffer.WriteUint16BE(reply[5:], f.ambient)
	case 0x18: // set leds
		f.leds = append(f.leds, data[2])
	default:
		reply[0] = 0x80
		copy(reply[2:], "NoCmd")
	}
	f.queue(reply)
	return len(data), nil
}

func (f *hueyFake) onInterrupt(endpoint uint8, data []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.replies) == 0 {
		return 0, colorderr.New(colorderr.Internal, "no reply queued")
	}
	copy(data, f.replies[0])
	f.replies = f.replies[1:]
	return len(data), nil
}

// newLockedSensor coldplugs and locks a Huey over the fake.
func newLockedSensor(t *testing.T, f *hueyFake) *sensor.Sensor {
	t.Helper()
	f.putWord(0x60, 10245)
	// LCD calibration: a diagonal matrix
	f.putFloat(0x04, 0.001)
	f.putFloat(0x14, 0.002)
	f.putFloat(0x24, 0.003)
	// CRT calibration: a different diagonal
	f.putFloat(0x28, 0.002)
	f.putFloat(0x38, 0.004)
	f.putFloat(0x48, 0.006)
	// ambient calibration scalar and dark offset
	f.putFloat(0x50, 3.5)
	f.putFloat(0x54, 1.0)
	f.putFloat(0x58, 2.0)
	f.putFloat(0x5c, 3.0)
	for i, c := range []byte("GrMbk") {
		f.eeprom[0x7a+uint8(i)] = c
	}

	s := sensor.New(huey.New(f.dev), sensor.KindHuey, true, false)
	ctx := context.Background()
	require.NoError(t, s.Coldplug(ctx))
	require.NoError(t, s.Lock(ctx))
	return s
}

func TestColdplugReadsSerial(t *testing.T) {
	f := newHueyFake()
	s := newLockedSensor(t, f)
	assert.Equal(t, "10245", s.Serial())
	assert.Equal(t, "huey-10245", s.ID())
	assert.True(t, s.Caps()&sensor.CapAmbient != 0)
}

func TestMeasurementArithmetic(t *testing.T) {
	f := newHueyFake()
	s := newLockedSensor(t, f)

	sample, err := s.GetSample(context.Background(), sensor.CapLCD)
	require.NoError(t, err)

	// replicate §4.J steps for the scripted tick counts
	expectChannel := func(raw uint32) float64 {
		mult := math.Floor(1e6 / float64(raw))
		return mult * 0.5 * 1e6 / float64(raw)
	}
	r := expectChannel(25000) - 1.0
	g := expectChannel(30000) - 2.0
	b := expectChannel(35000) - 3.0
	assert.InDelta(t, r*0.001*3.428, sample.X, 1e-6)
	assert.InDelta(t, g*0.002*3.428, sample.Y, 1e-6)
	assert.InDelta(t, b*0.003*3.428, sample.Z, 1e-6)
}

func TestCRTUsesOtherMatrix(t *testing.T) {
	f := newHueyFake()
	s := newLockedSensor(t, f)

	lcd, err := s.GetSample(context.Background(), sensor.CapLCD)
	require.NoError(t, err)
	crt, err := s.GetSample(context.Background(), sensor.CapCRT)
	require.NoError(t, err)
	assert.InDelta(t, lcd.X*2.0, crt.X, 1e-6)
}

func TestProjectorModeUnsupported(t *testing.T) {
	f := newHueyFake()
	s := newLockedSensor(t, f)
	_, err := s.GetSample(context.Background(), sensor.CapProjector)
	require.Error(t, err)
	assert.True(t, colorderr.IsKind(err, colorderr.NoSupport))
	assert.Equal(t, sensor.StateIdle, s.State())
}

func TestAmbientDividesToLux(t *testing.T) {
	f := newHueyFake()
	f.ambient = 2500
	s := newLockedSensor(t, f)
	sample, err := s.GetSample(context.Background(), sensor.CapAmbient)
	require.NoError(t, err)
	assert.InDelta(t, 2500.0/125.0, sample.Y, 1e-9)
}

func TestRetriesAreBounded(t *testing.T) {
	f := newHueyFake()
	s := newLockedSensor(t, f)
	f.mu.Lock()
	f.retries = 2 // recoverable
	f.mu.Unlock()
	_, err := s.GetSample(context.Background(), sensor.CapLCD)
	require.NoError(t, err)

	f.mu.Lock()
	f.retries = 5 // exhausts the retry budget
	f.replies = nil
	f.mu.Unlock()
	_, err = s.GetSample(context.Background(), sensor.CapLCD)
	require.Error(t, err)
	assert.Equal(t, sensor.StateIdle, s.State())
}

func TestLEDValueIsInverted(t *testing.T) {
	f := newHueyFake()
	s := newLockedSensor(t, f)
	require.NoError(t, s.SetOptions(context.Background(),
		map[string]interface{}{"leds": 0x0f}))
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.leds)
	assert.Equal(t, byte(0xf0), f.leds[len(f.leds)-1])
}
