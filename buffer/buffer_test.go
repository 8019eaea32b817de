package buffer_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/colorforge/go-colord/buffer"
)

func TestEndianRoundTrip(t *testing.T) {
	b := make([]byte, 4)

	buffer.WriteUint16BE(b, 0x1234)
	assert.Equal(t, []byte{0x12, 0x34}, b[:2])
	assert.Equal(t, uint16(0x1234), buffer.ReadUint16BE(b))

	buffer.WriteUint16LE(b, 0x1234)
	assert.Equal(t, []byte{0x34, 0x12}, b[:2])
	assert.Equal(t, uint16(0x1234), buffer.ReadUint16LE(b))

	buffer.WriteUint32BE(b, 0xdeadbeef)
	assert.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, b)
	assert.Equal(t, uint32(0xdeadbeef), buffer.ReadUint32BE(b))

	buffer.WriteUint32LE(b, 0xdeadbeef)
	assert.Equal(t, []byte{0xef, 0xbe, 0xad, 0xde}, b)
	assert.Equal(t, uint32(0xdeadbeef), buffer.ReadUint32LE(b))
}
