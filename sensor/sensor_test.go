package sensor_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colorforge/go-colord/color"
	"github.com/colorforge/go-colord/colorderr"
	"github.com/colorforge/go-colord/sensor"
	"github.com/colorforge/go-colord/spectrum"
)

// scriptDriver is a controllable in-memory driver.
type scriptDriver struct {
	mu         sync.Mutex
	lockErr    error
	sampleErr  error
	sample     color.XYZ
	block      chan struct{} // when set, GetSample waits for it or ctx
	lockCalls  int
	closeCalls int
}

func (d *scriptDriver) Coldplug(ctx context.Context, s *sensor.Sensor) error {
	s.SetCaps(sensor.CapLCD | sensor.CapCRT)
	s.SetSerial("0001")
	s.SetVendor("Acme")
	s.SetModel("Testometer")
	return nil
}

func (d *scriptDriver) Lock(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lockCalls++
	return d.lockErr
}

func (d *scriptDriver) Unlock(ctx context.Context) error { return nil }

func (d *scriptDriver) GetSample(ctx context.Context, cap sensor.Cap) (color.XYZ, error) {
	d.mu.Lock()
	block := d.block
	err := d.sampleErr
	sample := d.sample
	d.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return color.XYZ{}, ctx.Err()
		}
	}
	return sample, err
}

func (d *scriptDriver) GetSpectrum(ctx context.Context, cap sensor.Cap) (*spectrum.Spectrum, error) {
	return nil, colorderr.New(colorderr.NoSupport, "no spectral hardware")
}

func (d *scriptDriver) SetOptions(ctx context.Context, options map[string]interface{}) error {
	return nil
}

func (d *scriptDriver) DumpDevice(ctx context.Context) (string, error) {
	return "driver: script\n", nil
}

func (d *scriptDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closeCalls++
	return nil
}

func newTestSensor(t *testing.T, driver *scriptDriver) *sensor.Sensor {
	t.Helper()
	s := sensor.New(driver, sensor.KindDummy, true, false)
	require.NoError(t, s.Coldplug(context.Background()))
	require.Equal(t, sensor.StateIdle, s.State())
	return s
}

func TestColdplugPopulatesIdentity(t *testing.T) {
	s := newTestSensor(t, &scriptDriver{})
	assert.Equal(t, "dummy-0001", s.ID())
	assert.Equal(t, sensor.KindDummy, s.Kind())
	assert.True(t, s.Caps()&sensor.CapLCD != 0)
	assert.True(t, s.Native())
	assert.False(t, s.Embedded())
	assert.Contains(t, s.ObjectPath(), "dummy_0001")
}

func TestLockUnlockLifecycle(t *testing.T) {
	driver := &scriptDriver{sample: color.XYZ{X: 1, Y: 2, Z: 3}}
	s := newTestSensor(t, driver)
	ctx := context.Background()

	require.NoError(t, s.Lock(ctx))
	assert.True(t, s.Locked())
	assert.Equal(t, sensor.StateIdle, s.State())

	err := s.Lock(ctx)
	assert.True(t, colorderr.IsKind(err, colorderr.AlreadyLocked))

	sample, err := s.GetSample(ctx, sensor.CapLCD)
	require.NoError(t, err)
	assert.Equal(t, color.XYZ{X: 1, Y: 2, Z: 3}, sample)
	assert.Equal(t, sensor.CapLCD, s.Mode())
	assert.Equal(t, sensor.StateIdle, s.State())

	require.NoError(t, s.Unlock(ctx))
	assert.False(t, s.Locked())

	err = s.Unlock(ctx)
	assert.True(t, colorderr.IsKind(err, colorderr.NotLocked))
}

func TestSampleRequiresLock(t *testing.T) {
	s := newTestSensor(t, &scriptDriver{})
	_, err := s.GetSample(context.Background(), sensor.CapLCD)
	assert.True(t, colorderr.IsKind(err, colorderr.NotLocked))
	assert.Equal(t, sensor.StateIdle, s.State())
}

func TestErrorReturnsToIdle(t *testing.T) {
	driver := &scriptDriver{
		sampleErr: colorderr.New(colorderr.NoSupport, "projector mode"),
	}
	s := newTestSensor(t, driver)
	ctx := context.Background()
	require.NoError(t, s.Lock(ctx))

	_, err := s.GetSample(ctx, sensor.CapProjector)
	assert.True(t, colorderr.IsKind(err, colorderr.NoSupport))
	assert.Equal(t, sensor.StateIdle, s.State())
}

func TestConcurrentCallsReturnBusy(t *testing.T) {
	driver := &scriptDriver{block: make(chan struct{})}
	s := newTestSensor(t, driver)
	ctx := context.Background()
	require.NoError(t, s.Lock(ctx))

	done := make(chan error, 1)
	go func() {
		_, err := s.GetSample(ctx, sensor.CapLCD)
		done <- err
	}()
	// wait until the first call is measuring
	require.Eventually(t, func() bool {
		return s.State() == sensor.StateMeasuring
	}, time.Second, time.Millisecond)

	_, err := s.GetSample(ctx, sensor.CapLCD)
	assert.True(t, colorderr.IsKind(err, colorderr.Busy))

	close(driver.block)
	require.NoError(t, <-done)
	assert.Equal(t, sensor.StateIdle, s.State())
}

func TestCancellationReturnsCancelledAndIdle(t *testing.T) {
	driver := &scriptDriver{block: make(chan struct{})}
	s := newTestSensor(t, driver)
	require.NoError(t, s.Lock(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := s.GetSample(ctx, sensor.CapLCD)
		done <- err
	}()
	require.Eventually(t, func() bool {
		return s.State() == sensor.StateMeasuring
	}, time.Second, time.Millisecond)

	cancel()
	err := <-done
	assert.True(t, colorderr.IsKind(err, colorderr.Cancelled))
	assert.Equal(t, sensor.StateIdle, s.State())

	// cancellation is idempotent
	cancel()
	assert.Equal(t, sensor.StateIdle, s.State())
}

func TestButtonPressedEvent(t *testing.T) {
	s := newTestSensor(t, &scriptDriver{})
	s.EmitButtonPressed()
	deadline := time.After(time.Second)
	for {
		select {
		case ev := <-s.Events():
			if ev.Kind == sensor.EventButtonPressed {
				return
			}
		case <-deadline:
			t.Fatal("no button event")
		}
	}
}

func TestDumpDevice(t *testing.T) {
	s := newTestSensor(t, &scriptDriver{})
	s.SetMetadataItem("firmware-version", "1.2.3")
	text, err := s.DumpDevice(context.Background())
	require.NoError(t, err)
	assert.Contains(t, text, "kind: dummy")
	assert.Contains(t, text, "serial: 0001")
	assert.Contains(t, text, "metadata[firmware-version]: 1.2.3")
	assert.Contains(t, text, "driver: script")
}

func TestCloseDropsDriver(t *testing.T) {
	driver := &scriptDriver{}
	s := newTestSensor(t, driver)
	require.NoError(t, s.Close())
	assert.Equal(t, 1, driver.closeCalls)
}
