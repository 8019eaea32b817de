package usb

import (
	"context"
	"time"

	"github.com/google/gousb"

	"github.com/colorforge/go-colord/colorderr"
)

// gousbHost is the libusb-backed Host.
type gousbHost struct {
	ctx *gousb.Context
}

// NewHost opens a libusb context.
func NewHost() Host {
	return &gousbHost{ctx: gousb.NewContext()}
}

func (h *gousbHost) FindDevice(vid, pid uint16) (Device, error) {
	dev, err := h.ctx.OpenDeviceWithVIDPID(gousb.ID(vid), gousb.ID(pid))
	if err != nil {
		return nil, colorderr.Wrap(colorderr.Internal, err,
			"cannot open %04x:%04x", vid, pid)
	}
	if dev == nil {
		return nil, colorderr.New(colorderr.NotFound,
			"no device %04x:%04x", vid, pid)
	}
	return &gousbDevice{dev: dev}, nil
}

func (h *gousbHost) Close() error {
	if err := h.ctx.Close(); err != nil {
		return colorderr.Wrap(colorderr.Internal, err,
			"cannot close USB context")
	}
	return nil
}

// gousbDevice adapts *gousb.Device to the Device interface. Interfaces are
// claimed from the active configuration; endpoints are resolved lazily per
// transfer so the drivers can mix bulk and interrupt endpoints freely.
type gousbDevice struct {
	dev    *gousb.Device
	config *gousb.Config
	ifaces map[int]*gousb.Interface
}

func (d *gousbDevice) Open(ctx context.Context) error {
	if err := d.dev.SetAutoDetach(true); err != nil {
		return colorderr.Wrap(colorderr.Internal, err,
			"cannot detach kernel driver")
	}
	cfg, err := d.dev.Config(1)
	if err != nil {
		return colorderr.Wrap(colorderr.Internal, err,
			"cannot select configuration")
	}
	d.config = cfg
	d.ifaces = map[int]*gousb.Interface{}
	return nil
}

func (d *gousbDevice) Close() error {
	for _, intf := range d.ifaces {
		intf.Close()
	}
	d.ifaces = nil
	if d.config != nil {
		if err := d.config.Close(); err != nil {
			return colorderr.Wrap(colorderr.Internal, err,
				"cannot release configuration")
		}
		d.config = nil
	}
	if d.dev != nil {
		if err := d.dev.Close(); err != nil {
			return colorderr.Wrap(colorderr.Internal, err,
				"cannot close device")
		}
		d.dev = nil
	}
	return nil
}

func (d *gousbDevice) ClaimInterface(number int) error {
	if d.config == nil {
		return colorderr.New(colorderr.Internal, "device not open")
	}
	intf, err := d.config.Interface(number, 0)
	if err != nil {
		return colorderr.Wrap(colorderr.Internal, err,
			"cannot claim interface %d", number)
	}
	d.ifaces[number] = intf
	return nil
}

func (d *gousbDevice) ReleaseInterface(number int) error {
	if intf, ok := d.ifaces[number]; ok {
		intf.Close()
		delete(d.ifaces, number)
	}
	return nil
}

func controlRequestType(setup ControlSetup) uint8 {
	var rt uint8
	if setup.Direction == DirectionIn {
		rt |= 0x80
	}
	switch setup.RequestType {
	case RequestClass:
		rt |= 0x20
	case RequestVendor:
		rt |= 0x40
	}
	switch setup.Recipient {
	case RecipientInterface:
		rt |= 0x01
	case RecipientEndpoint:
		rt |= 0x02
	}
	return rt
}

func (d *gousbDevice) Control(ctx context.Context, setup ControlSetup,
	data []byte, timeout time.Duration) (int, error) {
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	d.dev.ControlTimeout = timeout
	done := make(chan Result, 1)
	go func() {
		n, err := d.dev.Control(controlRequestType(setup), setup.Request,
			setup.Value, setup.Index, data)
		done <- Result{N: n, Err: err}
	}()
	select {
	case <-tctx.Done():
		return 0, mapContextErr(tctx.Err())
	case res := <-done:
		if res.Err != nil {
			return 0, colorderr.Wrap(colorderr.Internal, res.Err,
				"control transfer failed")
		}
		return res.N, nil
	}
}

// endpoint resolves an endpoint address against the claimed interfaces.
func (d *gousbDevice) endpoint(address uint8) (in *gousb.InEndpoint, out *gousb.OutEndpoint, err error) {
	for _, intf := range d.ifaces {
		if address&0x80 != 0 {
			if ep, e := intf.InEndpoint(int(address & 0x7f)); e == nil {
				return ep, nil, nil
			}
		} else {
			if ep, e := intf.OutEndpoint(int(address)); e == nil {
				return nil, ep, nil
			}
		}
	}
	return nil, nil, colorderr.New(colorderr.Internal,
		"no claimed interface has endpoint 0x%02x", address)
}

func (d *gousbDevice) transfer(ctx context.Context, address uint8,
	data []byte, timeout time.Duration) (int, error) {
	in, out, err := d.endpoint(address)
	if err != nil {
		return 0, err
	}
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	var n int
	if in != nil {
		n, err = in.ReadContext(tctx, data)
	} else {
		n, err = out.WriteContext(tctx, data)
	}
	if err != nil {
		if tctx.Err() != nil {
			return 0, mapContextErr(tctx.Err())
		}
		return 0, colorderr.Wrap(colorderr.Internal, err,
			"transfer on 0x%02x failed", address)
	}
	return n, nil
}

func (d *gousbDevice) Bulk(ctx context.Context, endpoint uint8,
	data []byte, timeout time.Duration) (int, error) {
	return d.transfer(ctx, endpoint, data, timeout)
}

func (d *gousbDevice) Interrupt(ctx context.Context, endpoint uint8,
	data []byte, timeout time.Duration) (int, error) {
	return d.transfer(ctx, endpoint, data, timeout)
}

func (d *gousbDevice) VendorID() uint16 {
	return uint16(d.dev.Desc.Vendor)
}

func (d *gousbDevice) ProductID() uint16 {
	return uint16(d.dev.Desc.Product)
}

// mapContextErr turns context termination into the taxonomy.
func mapContextErr(err error) error {
	if err == context.Canceled {
		return colorderr.Wrap(colorderr.Cancelled, err, "transfer cancelled")
	}
	return colorderr.Wrap(colorderr.Internal, err, "transfer timed out")
}
