package spark_test

import (
	"context"
	"crypto/md5"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colorforge/go-colord/buffer"
	"github.com/colorforge/go-colord/colorderr"
	"github.com/colorforge/go-colord/sensor"
	"github.com/colorforge/go-colord/sensor/spark"
	"github.com/colorforge/go-colord/usb"
)

// sparkFake models the framed protocol and a photodetector whose counts
// scale linearly with the integration time.
type sparkFake struct {
	dev *usb.FakeDevice

	mu sync.Mutex
	// brightness is the fraction of full scale seen at the initial
	// 10 ms integration
	brightness    float64
	integrationUs uint32

	chunks [][]byte

	integrationCmds int
	binningCmds     int
	spectrumCmds    int
}

func newSparkFake(brightness float64) *sparkFake {
	f := &sparkFake{
		dev:        usb.NewFakeDevice(0x2457, 0x4200),
		brightness: brightness,
	}
	f.dev.OnBulk = f.onBulk
	return f
}

// buildReply frames a reply with either immediate or streamed payload.
func buildReply(cmd uint32, payload []byte) []byte {
	const headerSize = 44
	const footerSize = 20
	body := []byte(nil)
	immediate := []byte(nil)
	if len(payload) > 0 && len(payload) <= 16 {
		immediate = payload
	} else {
		body = payload
	}
	frame := make([]byte, headerSize+len(body)+footerSize)
	buffer.WriteUint16BE(frame[0:], 0xc1c0)
	buffer.WriteUint16LE(frame[2:], 0x1000)
	buffer.WriteUint32LE(frame[8:], cmd)
	frame[22] = 0x01
	frame[23] = byte(len(immediate))
	copy(frame[24:40], immediate)
	buffer.WriteUint32LE(frame[40:], uint32(footerSize+len(body)))
	copy(frame[headerSize:], body)
	sum := md5.Sum(frame[:headerSize+len(body)])
	copy(frame[headerSize+len(body):], sum[:])
	buffer.WriteUint32BE(frame[len(frame)-4:], 0xc5c4c3c2)
	return frame
}

// buildError frames a reply carrying a device error code.
func buildError(cmd uint32, code uint16) []byte {
	frame := buildReply(cmd, nil)
	buffer.WriteUint16LE(frame[6:], code)
	return frame
}

func (f *sparkFake) queueFrame(frame []byte) {
	for off := 0; off < len(frame); off += 64 {
		end := off + 64
		if end > len(frame) {
			end = len(frame)
		}
		chunk := make([]byte, 64)
		copy(chunk, frame[off:end])
		f.chunks = append(f.chunks, chunk)
	}
}

func (f *sparkFake) onBulk(endpoint uint8, data []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if endpoint == 0x81 {
		if len(f.chunks) == 0 {
			return 0, colorderr.New(colorderr.Internal, "no chunk queued")
		}
		copy(data, f.chunks[0])
		f.chunks = f.chunks[1:]
		return 64, nil
	}

	// request: decode the command and immediate data
	cmd := buffer.ReadUint32LE(data[8:])
	immLen := int(data[23])
	imm := data[24 : 24+immLen]
	switch cmd {
	case spark.CmdGetSerialNumber:
		f.queueFrame(buildReply(cmd, []byte("SPK1234567")))
	case spark.CmdGetFirmwareVersion:
		f.queueFrame(buildReply(cmd, []byte{0x02, 0x01})) // 1.2
	case spark.CmdGetWavelengthCoefficientCount:
		f.queueFrame(buildReply(cmd, []byte{4}))
	case spark.CmdGetWavelengthCoefficient:
		coefs := []float32{380.0, 0.37, -1.4e-5, -2.5e-9}
		var raw [4]byte
		v := coefs[imm[0]]
		buffer.WriteUint32LE(raw[:], float32bits(v))
		f.queueFrame(buildReply(cmd, raw[:]))
	case spark.CmdGetNonlinearityCoefficientCount:
		f.queueFrame(buildReply(cmd, []byte{8}))
	case spark.CmdGetNonlinearityCoefficient:
		var raw [4]byte
		buffer.WriteUint32LE(raw[:], float32bits(1.0))
		f.queueFrame(buildReply(cmd, raw[:]))
	case spark.CmdSetIntegrationTime:
		f.integrationCmds++
		f.integrationUs = buffer.ReadUint32LE(imm)
		f.queueFrame(buildReply(cmd, nil))
	case spark.CmdSetPixelBinningFactor:
		f.binningCmds++
		f.queueFrame(buildReply(cmd, nil))
	case spark.CmdGetAndSendRawSpectrum:
		f.spectrumCmds++
		payload := make([]byte, 1024*2)
		level := f.brightness * float64(f.integrationUs) / 10000.0
		if level > 1.0 {
			level = 1.0
		}
		raw := uint16(level * 0x3fff)
		for i := 0; i < 1024; i++ {
			buffer.WriteUint16LE(payload[i*2:], raw)
		}
		f.queueFrame(buildReply(cmd, payload))
	default:
		f.queueFrame(buildError(cmd, 0x0003))
	}
	return len(data), nil
}

func float32bits(v float32) uint32 {
	return math.Float32bits(v)
}

func newLockedSpark(t *testing.T, f *sparkFake) *sensor.Sensor {
	t.Helper()
	s := sensor.New(spark.New(f.dev), sensor.KindSpark, true, false)
	ctx := context.Background()
	require.NoError(t, s.Coldplug(ctx))
	require.NoError(t, s.Lock(ctx))
	return s
}

func TestColdplugIdentity(t *testing.T) {
	f := newSparkFake(0.5)
	s := newLockedSpark(t, f)
	assert.Equal(t, "SPK1234567", s.Serial())
	assert.Equal(t, "1.2", s.Metadata()["firmware-version"])
}

func TestAutoExposureConverges(t *testing.T) {
	// a dim sample: 2% of full scale at the initial 10 ms
	f := newSparkFake(0.02)
	s := newLockedSpark(t, f)

	sp, err := s.GetSpectrum(context.Background(), sensor.CapLCD)
	require.NoError(t, err)

	f.mu.Lock()
	defer f.mu.Unlock()
	// at least two exposure changes and a binning setup happened
	assert.GreaterOrEqual(t, f.integrationCmds, 2)
	assert.GreaterOrEqual(t, f.binningCmds, 1)

	// the accepted reading sits in the quarter-to-three-quarter band
	assert.GreaterOrEqual(t, sp.ValueMax(), 0.25)
	assert.LessOrEqual(t, sp.ValueMax(), 0.75)

	// the norm carries the integration scaling: the 2% level reads back
	// as 327/16383 after 14-bit quantisation, so the 10 ms integration is
	// scaled by 0.5/(327/16383) and truncated to whole µs, about 25.05x
	wantNorm := math.Floor(10000*0.5/(327.0/0x3fff)) / 10000
	assert.InDelta(t, wantNorm, sp.Norm(), 1e-6)
}

func TestBrightSampleAcceptedFirstTry(t *testing.T) {
	f := newSparkFake(0.5)
	s := newLockedSpark(t, f)
	sp, err := s.GetSpectrum(context.Background(), sensor.CapLCD)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, sp.Norm(), 1e-6)
	assert.InDelta(t, 0.5, sp.ValueMax(), 0.01)
}

func TestSpectrumCarriesWavelengthCal(t *testing.T) {
	f := newSparkFake(0.5)
	s := newLockedSpark(t, f)
	sp, err := s.GetSpectrum(context.Background(), sensor.CapLCD)
	require.NoError(t, err)
	cal, ok := sp.WavelengthCal()
	require.True(t, ok)
	assert.InDelta(t, 0.37, cal[0], 1e-6)
	// the 5 nm edge crop moved the start past the detector origin
	assert.InDelta(t, 385.0, sp.Start(), 1e-6)
}

func TestDeviceErrorMapping(t *testing.T) {
	f := newSparkFake(0.5)
	driver := spark.New(f.dev)
	ctx := context.Background()
	require.NoError(t, driver.Coldplug(ctx,
		sensor.New(driver, sensor.KindSpark, true, false)))

	// an unknown command comes back as Internal with the code name
	_, err := driver.GetIrradianceCal(ctx)
	require.Error(t, err)
	assert.True(t, colorderr.IsKind(err, colorderr.Internal))
}

func TestProjectorModeUnsupported(t *testing.T) {
	f := newSparkFake(0.5)
	s := newLockedSpark(t, f)
	_, err := s.GetSpectrum(context.Background(), sensor.CapProjector)
	require.Error(t, err)
	assert.True(t, colorderr.IsKind(err, colorderr.NoSupport))
	assert.Equal(t, sensor.StateIdle, s.State())
}
