package usb

import (
	"context"
	"sync"
	"time"

	"github.com/colorforge/go-colord/colorderr"
)

// FakeDevice is a scripted in-memory Device used by the driver tests. A
// handler is registered per transfer type; unset handlers fail the call.
// The zero value is not usable, use NewFakeDevice.
type FakeDevice struct {
	mu sync.Mutex

	// OnControl services control transfers.
	OnControl func(setup ControlSetup, data []byte) (int, error)
	// OnBulk services bulk transfers by endpoint.
	OnBulk func(endpoint uint8, data []byte) (int, error)
	// OnInterrupt services interrupt transfers by endpoint.
	OnInterrupt func(endpoint uint8, data []byte) (int, error)

	vid, pid uint16
	open     bool
	claimed  map[int]bool

	// ControlLog and friends record the traffic for assertions.
	ControlLog   []ControlSetup
	BulkLog      []uint8
	InterruptLog []uint8
}

// NewFakeDevice creates a fake with the given descriptor ids.
func NewFakeDevice(vid, pid uint16) *FakeDevice {
	return &FakeDevice{vid: vid, pid: pid, claimed: map[int]bool{}}
}

// Open implements Device.
func (d *FakeDevice) Open(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.open = true
	return nil
}

// Close implements Device.
func (d *FakeDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.open = false
	return nil
}

// IsOpen reports whether the device is currently open.
func (d *FakeDevice) IsOpen() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.open
}

// ClaimInterface implements Device.
func (d *FakeDevice) ClaimInterface(number int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.open {
		return colorderr.New(colorderr.Internal, "device not open")
	}
	d.claimed[number] = true
	return nil
}

// ReleaseInterface implements Device.
func (d *FakeDevice) ReleaseInterface(number int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.claimed, number)
	return nil
}

// Control implements Device.
func (d *FakeDevice) Control(ctx context.Context, setup ControlSetup,
	data []byte, timeout time.Duration) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, mapContextErr(err)
	}
	d.mu.Lock()
	d.ControlLog = append(d.ControlLog, setup)
	handler := d.OnControl
	d.mu.Unlock()
	if handler == nil {
		return 0, colorderr.New(colorderr.Internal,
			"no control handler scripted")
	}
	return handler(setup, data)
}

// Bulk implements Device.
func (d *FakeDevice) Bulk(ctx context.Context, endpoint uint8,
	data []byte, timeout time.Duration) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, mapContextErr(err)
	}
	d.mu.Lock()
	d.BulkLog = append(d.BulkLog, endpoint)
	handler := d.OnBulk
	d.mu.Unlock()
	if handler == nil {
		return 0, colorderr.New(colorderr.Internal,
			"no bulk handler scripted")
	}
	return handler(endpoint, data)
}

// Interrupt implements Device. The handler runs concurrently so a blocked
// endpoint read aborts when the context is cancelled, matching how the
// real backend behaves.
func (d *FakeDevice) Interrupt(ctx context.Context, endpoint uint8,
	data []byte, timeout time.Duration) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, mapContextErr(err)
	}
	d.mu.Lock()
	d.InterruptLog = append(d.InterruptLog, endpoint)
	handler := d.OnInterrupt
	d.mu.Unlock()
	if handler == nil {
		return 0, colorderr.New(colorderr.Internal,
			"no interrupt handler scripted")
	}
	done := make(chan Result, 1)
	go func() {
		n, err := handler(endpoint, data)
		done <- Result{N: n, Err: err}
	}()
	select {
	case <-ctx.Done():
		return 0, mapContextErr(ctx.Err())
	case res := <-done:
		return res.N, res.Err
	}
}

// VendorID implements Device.
func (d *FakeDevice) VendorID() uint16 { return d.vid }

// ProductID implements Device.
func (d *FakeDevice) ProductID() uint16 { return d.pid }
