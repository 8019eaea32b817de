package spark

import (
	"bytes"
	"crypto/md5"

	"github.com/colorforge/go-colord/buffer"
	"github.com/colorforge/go-colord/colorderr"
)

// Frame layout: a 44-byte header, an optional payload padded to the 64-byte
// endpoint size, and a 20-byte footer carrying the MD5 of everything before
// it. Short payloads ride in the header's immediate-data field to save a
// USB packet.
const (
	headerSize = 44
	footerSize = 20

	startBytes      = 0xc1c0
	endBytes        = 0xc5c4c3c2
	protocolVersion = 0x1000

	checksumKindNone = 0x00
	checksumKindMD5  = 0x01

	flagAckRequired = 0x0004

	immediateDataMax = 16
	epSize           = 64
	maxMessageLength = 10240 + 64
)

// Error codes carried in the header.
const (
	errorCodeSuccess             = 0x0000
	errorCodeInvalidChecksum     = 0x0002
	errorCodeUnknownCommand      = 0x0003
	errorCodeMessageTooLarge     = 0x0005
	errorCodeUnsupportedProtocol = 0x0006
	errorCodeUnknownChecksumType = 0x0007
	errorCodeCommandDataMissing  = 0x000a
)

func errorCodeToString(code uint16) string {
	switch code {
	case errorCodeInvalidChecksum:
		return "invalid-checksum"
	case errorCodeUnknownCommand:
		return "unknown-command"
	case errorCodeMessageTooLarge:
		return "message-too-large"
	case errorCodeUnsupportedProtocol:
		return "unsupported-protocol"
	case errorCodeUnknownChecksumType:
		return "unknown-checksum-type"
	case errorCodeCommandDataMissing:
		return "command-data-missing"
	}
	return "unknown"
}

// mapErrorCode folds a reply error code into the taxonomy.
func mapErrorCode(code uint16, cmd uint32) error {
	switch code {
	case errorCodeSuccess:
		return nil
	case errorCodeMessageTooLarge, errorCodeUnknownChecksumType,
		errorCodeUnsupportedProtocol:
		return colorderr.New(colorderr.NoSupport,
			"failed to %s", cmdToString(cmd))
	case errorCodeCommandDataMissing:
		return colorderr.New(colorderr.NoData,
			"failed to %s", cmdToString(cmd))
	default:
		return colorderr.New(colorderr.Internal,
			"failed to %s: %s", cmdToString(cmd), errorCodeToString(code))
	}
}

// header is the decoded frame header.
type header struct {
	flags               uint16
	errorCode           uint16
	messageType         uint32
	immediateData       []byte
	immediateDataLength int
	bytesRemaining      uint32
}

// encodeFrame builds a complete wire frame for a command. Payloads of up
// to 16 bytes travel as immediate data; longer ones follow the header
// padded to the 64-byte alignment the endpoint wants.
func encodeFrame(cmd uint32, dataIn []byte, ackRequired bool) ([]byte, error) {
	payload := []byte(nil)
	immediate := []byte(nil)
	if len(dataIn) > 0 {
		if len(dataIn) <= immediateDataMax {
			immediate = dataIn
		} else {
			payload = dataIn
			// the wire wants 64-byte aligned payloads
			if pad := len(payload) % epSize; pad != 0 {
				padded := make([]byte, len(payload)+epSize-pad)
				copy(padded, payload)
				payload = padded
			}
		}
	}
	total := headerSize + len(payload) + footerSize
	if total > maxMessageLength {
		return nil, colorderr.New(colorderr.InputInvalid,
			"frame of %d bytes exceeds the device limit", total)
	}
	frame := make([]byte, total)

	buffer.WriteUint16BE(frame[0:], startBytes)
	buffer.WriteUint16LE(frame[2:], protocolVersion)
	var flags uint16
	if ackRequired {
		flags = flagAckRequired
	}
	buffer.WriteUint16LE(frame[4:], flags)
	// frame[6:8] error code, zero on requests
	buffer.WriteUint32LE(frame[8:], cmd)
	// frame[12:16] regarding, frame[16:22] reserved
	frame[22] = checksumKindMD5
	frame[23] = byte(len(immediate))
	copy(frame[24:40], immediate)
	buffer.WriteUint32LE(frame[40:], uint32(footerSize+len(payload)))

	copy(frame[headerSize:], payload)

	sum := md5.Sum(frame[:headerSize+len(payload)])
	copy(frame[headerSize+len(payload):], sum[:])
	buffer.WriteUint32BE(frame[total-4:], endBytes)
	return frame, nil
}

// decodeHeader validates the fixed fields of a reply header.
func decodeHeader(data []byte) (*header, error) {
	if len(data) < headerSize {
		return nil, colorderr.New(colorderr.Protocol,
			"reply header truncated at %d bytes", len(data))
	}
	if buffer.ReadUint16BE(data[0:]) != startBytes {
		return nil, colorderr.New(colorderr.Protocol,
			"bad start bytes 0x%04x", buffer.ReadUint16BE(data[0:]))
	}
	h := &header{
		flags:               buffer.ReadUint16LE(data[4:]),
		errorCode:           buffer.ReadUint16LE(data[6:]),
		messageType:         buffer.ReadUint32LE(data[8:]),
		immediateDataLength: int(data[23]),
		bytesRemaining:      buffer.ReadUint32LE(data[40:]),
	}
	if h.immediateDataLength > immediateDataMax {
		return nil, colorderr.New(colorderr.Protocol,
			"immediate data length %d", h.immediateDataLength)
	}
	h.immediateData = append([]byte(nil), data[24:24+h.immediateDataLength]...)
	return h, nil
}

// verifyFooter checks the end marker of the final chunk of a reply.
func verifyFooter(chunk []byte) error {
	if len(chunk) < 4 {
		return colorderr.New(colorderr.Protocol, "footer truncated")
	}
	if buffer.ReadUint32BE(chunk[len(chunk)-4:]) != endBytes {
		return colorderr.New(colorderr.Protocol, "footer invalid")
	}
	return nil
}

// verifyChecksum recomputes the MD5 of a complete single-packet frame.
func verifyChecksum(frame []byte) error {
	if len(frame) < headerSize+footerSize {
		return colorderr.New(colorderr.Protocol, "frame truncated")
	}
	body := frame[:len(frame)-footerSize]
	sum := md5.Sum(body)
	stored := frame[len(frame)-footerSize : len(frame)-4]
	if !bytes.Equal(sum[:], stored) {
		return colorderr.New(colorderr.Protocol, "checksum mismatch")
	}
	return nil
}
