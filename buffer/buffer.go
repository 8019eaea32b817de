// Package buffer provides the little helpers the drivers and codecs use to
// pick integers out of wire buffers, plus a hex trace dump gated behind the
// verbose flag.
package buffer

import (
	"fmt"
	"strings"

	"github.com/colorforge/go-colord/log"
)

// ReadUint16BE reads a big-endian 16-bit value from b.
func ReadUint16BE(b []byte) uint16 {
	return uint16(b[0])<<8 | uint16(b[1])
}

// ReadUint16LE reads a little-endian 16-bit value from b.
func ReadUint16LE(b []byte) uint16 {
	return uint16(b[1])<<8 | uint16(b[0])
}

// ReadUint32BE reads a big-endian 32-bit value from b.
func ReadUint32BE(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

// ReadUint32LE reads a little-endian 32-bit value from b.
func ReadUint32LE(b []byte) uint32 {
	return uint32(b[3])<<24 | uint32(b[2])<<16 | uint32(b[1])<<8 | uint32(b[0])
}

// WriteUint16BE writes v into b big-endian.
func WriteUint16BE(b []byte, v uint16) {
	b[0] = byte(v >> 8)
	b[1] = byte(v)
}

// WriteUint16LE writes v into b little-endian.
func WriteUint16LE(b []byte, v uint16) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
}

// WriteUint32BE writes v into b big-endian.
func WriteUint32BE(b []byte, v uint32) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}

// WriteUint32LE writes v into b little-endian.
func WriteUint32LE(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

// TraceKind labels the direction of a wire trace.
type TraceKind int

const (
	// TraceRequest marks host-to-device data.
	TraceRequest TraceKind = iota
	// TraceResponse marks device-to-host data.
	TraceResponse
)

func (k TraceKind) prefix() string {
	if k == TraceRequest {
		return ">>>"
	}
	return "<<<"
}

// Trace hex-dumps data to the debug logger. It is a no-op unless verbose
// tracing is enabled.
func Trace(kind TraceKind, data []byte) {
	if !log.Verbose() {
		return
	}
	var sb strings.Builder
	for i, b := range data {
		if i > 0 && i%16 == 0 {
			sb.WriteByte('\n')
		}
		fmt.Fprintf(&sb, "%02x ", b)
	}
	log.Debug.Printf("%s %d bytes\n%s", kind.prefix(), len(data), sb.String())
}
