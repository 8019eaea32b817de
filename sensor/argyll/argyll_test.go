package argyll

import (
	"context"
	"sync"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colorforge/go-colord/colorderr"
	"github.com/colorforge/go-colord/sensor"
	"github.com/colorforge/go-colord/spawn"
)

const helpListing = `spotread [-options] [logfile]
 -v                   Verbose mode
 -c listno            Set communication port from the following list (default 1)
    1 = 'GretagMacbeth Huey'
    2 = 'Hughski ColorHug'
    3 = 'X-Rite ColorMunki'
 -y                   Display type
`

// fakeRunner scripts spotread's stdout. Each Start or SendStdin pops the
// next batch of lines.
type fakeRunner struct {
	mu      sync.Mutex
	running bool
	batches [][]string
	lines   chan string
	exited  chan spawn.Exit
	argv    []string
	signals []syscall.Signal
	stdins  int
}

func newFakeRunner(batches ...[]string) *fakeRunner {
	return &fakeRunner{
		batches: batches,
		lines:   make(chan string, 16),
		exited:  make(chan spawn.Exit, 1),
	}
}

func (f *fakeRunner) emitNext() {
	if len(f.batches) == 0 {
		return
	}
	batch := f.batches[0]
	f.batches = f.batches[1:]
	for _, l := range batch {
		f.lines <- l
	}
}

func (f *fakeRunner) IsRunning() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

func (f *fakeRunner) Start(argv []string, env []string, cwd string) error {
	f.mu.Lock()
	f.running = true
	f.argv = argv
	f.mu.Unlock()
	f.emitNext()
	return nil
}

func (f *fakeRunner) Lines() <-chan string      { return f.lines }
func (f *fakeRunner) Exited() <-chan spawn.Exit { return f.exited }

func (f *fakeRunner) SendStdin(line string) error {
	f.mu.Lock()
	f.stdins++
	f.mu.Unlock()
	f.emitNext()
	return nil
}

func (f *fakeRunner) Signal(sig syscall.Signal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signals = append(f.signals, sig)
	return nil
}

func helpFunc(out string) func(ctx context.Context) (string, error) {
	return func(ctx context.Context) (string, error) { return out, nil }
}

func newColdpluggedSensor(t *testing.T, kind sensor.Kind, f *fakeRunner) (*sensor.Sensor, *Driver) {
	t.Helper()
	driver := newWithRunner(kind, f, helpFunc(helpListing))
	s := sensor.New(driver, kind, false, false)
	ctx := context.Background()
	require.NoError(t, s.Coldplug(ctx))
	require.NoError(t, s.Lock(ctx))
	return s, driver
}

func TestPortDiscovery(t *testing.T) {
	f := newFakeRunner()
	_, driver := newColdpluggedSensor(t, sensor.KindColorHug, f)
	assert.Equal(t, 2, driver.communicationPort)
}

func TestPortDiscoveryMiss(t *testing.T) {
	driver := newWithRunner(sensor.KindSpyder5, newFakeRunner(),
		helpFunc(helpListing))
	s := sensor.New(driver, sensor.KindSpyder5, false, false)
	err := s.Coldplug(context.Background())
	require.Error(t, err)
	assert.True(t, colorderr.IsKind(err, colorderr.NotFound))
}

func TestSimpleSample(t *testing.T) {
	f := newFakeRunner(
		[]string{
			"Place instrument on spot to be measured",
		},
		[]string{
			" Result is XYZ: 123.4 56.7 89.0",
		},
	)
	s, _ := newColdpluggedSensor(t, sensor.KindHuey, f)
	sample, err := s.GetSample(context.Background(), sensor.CapLCD)
	require.NoError(t, err)
	assert.InDelta(t, 123.4, sample.X, 1e-9)
	assert.InDelta(t, 56.7, sample.Y, 1e-9)
	assert.InDelta(t, 89.0, sample.Z, 1e-9)

	f.mu.Lock()
	assert.Equal(t, []string{"spotread", "-d", "-c1", "-N", "-yl"}, f.argv)
	f.mu.Unlock()
}

func TestCalibrationPromptOptimisticThenError(t *testing.T) {
	f := newFakeRunner(
		// first sample: the prompt appears, the driver answers with a
		// newline and the read succeeds
		[]string{"Set instrument sensor to calibration position,"},
		[]string{" Result is XYZ: 1.0 2.0 3.0"},
		// second sample: the prompt comes straight back
		[]string{"Set instrument sensor to calibration position,"},
	)
	s, _ := newColdpluggedSensor(t, sensor.KindHuey, f)
	ctx := context.Background()

	sample, err := s.GetSample(ctx, sensor.CapLCD)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, sample.X, 1e-9)

	_, err = s.GetSample(ctx, sensor.CapLCD)
	require.Error(t, err)
	assert.True(t, colorderr.IsKind(err, colorderr.RequiredPositionCalibrate))
	assert.Equal(t, sensor.StateIdle, s.State())
}

func TestCalibrationCompleteClearsPosition(t *testing.T) {
	f := newFakeRunner(
		[]string{"Set instrument sensor to calibration position,"},
		[]string{
			"Calibration complete",
			" Result is XYZ: 1.0 2.0 3.0",
		},
		[]string{"Set instrument sensor to calibration position,"},
		[]string{" Result is XYZ: 4.0 5.0 6.0"},
	)
	s, _ := newColdpluggedSensor(t, sensor.KindHuey, f)
	ctx := context.Background()

	_, err := s.GetSample(ctx, sensor.CapLCD)
	require.NoError(t, err)

	// the position flag was cleared, so the next prompt is optimistic
	// again instead of an error
	sample, err := s.GetSample(ctx, sensor.CapLCD)
	require.NoError(t, err)
	assert.InDelta(t, 4.0, sample.X, 1e-9)
}

func TestSurfacePositionRequired(t *testing.T) {
	f := newFakeRunner(
		[]string{"(Sensor should be in surface position)"},
	)
	s, _ := newColdpluggedSensor(t, sensor.KindHuey, f)
	_, err := s.GetSample(context.Background(), sensor.CapLCD)
	require.Error(t, err)
	assert.True(t, colorderr.IsKind(err, colorderr.RequiredPositionSurface))
}

func TestInitialisationFailure(t *testing.T) {
	f := newFakeRunner(
		[]string{"Instrument initialisation failed"},
	)
	s, _ := newColdpluggedSensor(t, sensor.KindHuey, f)
	_, err := s.GetSample(context.Background(), sensor.CapLCD)
	require.Error(t, err)
	assert.True(t, colorderr.IsKind(err, colorderr.Internal))
	assert.Contains(t, err.Error(), "replug")
}

func TestUnexpectedExit(t *testing.T) {
	f := newFakeRunner([]string{})
	s, _ := newColdpluggedSensor(t, sensor.KindHuey, f)
	f.exited <- spawn.Exit{Kind: spawn.ExitFailed, Code: 1}
	_, err := s.GetSample(context.Background(), sensor.CapLCD)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exited unexpectedly")
}

func TestUnlockQuitsChild(t *testing.T) {
	f := newFakeRunner(
		[]string{" Result is XYZ: 1 1 1"},
	)
	s, _ := newColdpluggedSensor(t, sensor.KindHuey, f)
	ctx := context.Background()
	_, err := s.GetSample(ctx, sensor.CapLCD)
	require.NoError(t, err)

	require.NoError(t, s.Unlock(ctx))
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.signals)
	assert.Equal(t, syscall.SIGQUIT, f.signals[0])
}

func TestYFlagPerCap(t *testing.T) {
	tests := map[sensor.Cap]string{
		sensor.CapLCD:                "-yl",
		sensor.CapCRT:                "-yc",
		sensor.CapProjector:          "-yp",
		sensor.CapLCDCCFL:            "-yf",
		sensor.CapLCDRGBLED:          "-yb",
		sensor.CapWideGamutLCDCCFL:   "-yL",
		sensor.CapWideGamutLCDRGBLED: "-yB",
		sensor.CapLCDWhiteLED:        "-ye",
	}
	for cap, want := range tests {
		got, err := yArgForCap(cap)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := yArgForCap(sensor.CapCalibration)
	assert.True(t, colorderr.IsKind(err, colorderr.NoSupport))
}
