package usb

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colorforge/go-colord/colorderr"
)

func TestControlRequestTypeBits(t *testing.T) {
	tests := []struct {
		setup ControlSetup
		want  uint8
	}{
		{ControlSetup{Direction: DirectionOut, RequestType: RequestClass,
			Recipient: RecipientInterface}, 0x21},
		{ControlSetup{Direction: DirectionIn, RequestType: RequestVendor,
			Recipient: RecipientDevice}, 0xc0},
		{ControlSetup{Direction: DirectionOut, RequestType: RequestVendor,
			Recipient: RecipientDevice}, 0x40},
		{ControlSetup{Direction: DirectionIn, RequestType: RequestStandard,
			Recipient: RecipientEndpoint}, 0x82},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, controlRequestType(tc.setup))
	}
}

func TestSubmitDeliversResult(t *testing.T) {
	ch := Submit(func() (int, error) { return 42, nil })
	select {
	case res := <-ch:
		assert.Equal(t, 42, res.N)
		assert.NoError(t, res.Err)
	case <-time.After(time.Second):
		t.Fatal("no completion")
	}
}

func TestFakeDeviceHonorsCancellation(t *testing.T) {
	dev := NewFakeDevice(0x1234, 0x5678)
	require.NoError(t, dev.Open(context.Background()))
	dev.OnInterrupt = func(endpoint uint8, data []byte) (int, error) {
		time.Sleep(10 * time.Second)
		return 0, nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err := dev.Interrupt(ctx, 0x81, make([]byte, 8), time.Minute)
	require.Error(t, err)
	assert.True(t, colorderr.IsKind(err, colorderr.Cancelled))
}
