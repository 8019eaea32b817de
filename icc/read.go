package icc

import (
	"crypto/md5"
	"encoding/hex"
	"os"

	"github.com/colorforge/go-colord/buffer"
	"github.com/colorforge/go-colord/colorderr"
)

const headerSize = 128

// Load reads a profile from a file.
func Load(filename string) (*Profile, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, colorderr.Wrap(colorderr.FailedToRead, err,
			"cannot read %s", filename)
	}
	p, err := Parse(data)
	if err != nil {
		return nil, err
	}
	p.filename = filename
	return p, nil
}

// Parse decodes a profile from memory.
func Parse(data []byte) (*Profile, error) {
	if len(data) < headerSize+4 {
		return nil, colorderr.New(colorderr.FileInvalid,
			"profile too short, %d bytes", len(data))
	}
	if string(data[36:40]) != "acsp" {
		return nil, colorderr.New(colorderr.FileInvalid,
			"missing acsp signature")
	}
	size := int(buffer.ReadUint32BE(data[0:]))
	if size > len(data) || size < headerSize+4 {
		return nil, colorderr.New(colorderr.FileInvalid,
			"declared size %d does not fit %d bytes", size, len(data))
	}
	data = data[:size]

	p := &Profile{
		size: size,
		tags: map[string][]byte{},
	}
	copy(p.header[:], data[:headerSize])

	// version, encoded BCD-style in the header
	raw := buffer.ReadUint32BE(data[8:])
	major := int(raw >> 24)
	minor := int(raw >> 20 & 0xf)
	patch := int(raw >> 16 & 0xf)
	p.version = float64(major) + float64(minor)/10.0 + float64(patch)/100.0

	classSig := string(data[12:16])
	for kind, sig := range kindSignatures {
		if sig == classSig {
			p.kind = kind
			break
		}
	}
	spaceSig := string(data[16:20])
	for space, sig := range spaceSignatures {
		if sig == spaceSig {
			p.colorspace = space
			break
		}
	}

	// tag table
	numTags := int(buffer.ReadUint32BE(data[headerSize:]))
	if headerSize+4+numTags*12 > len(data) {
		return nil, colorderr.New(colorderr.FileInvalid,
			"tag table for %d tags does not fit", numTags)
	}
	for i := 0; i < numTags; i++ {
		entry := data[headerSize+4+i*12:]
		sig := string(entry[0:4])
		offset := int(buffer.ReadUint32BE(entry[4:]))
		length := int(buffer.ReadUint32BE(entry[8:]))
		if offset+length > len(data) || offset < headerSize {
			return nil, colorderr.New(colorderr.FileInvalid,
				"tag %q at %d+%d out of bounds", sig, offset, length)
		}
		if _, dup := p.tags[sig]; dup {
			continue
		}
		p.tagOrder = append(p.tagOrder, sig)
		p.tags[sig] = append([]byte(nil), data[offset:offset+length]...)
	}

	p.checksum = canonicalChecksum(data)
	return p, nil
}

// canonicalChecksum is the MD5 of the profile with the flags, rendering
// intent and profile ID header fields zeroed, per the ICC specification.
func canonicalChecksum(data []byte) string {
	canon := append([]byte(nil), data...)
	for _, i := range []int{44, 45, 46, 47, 64, 65, 66, 67} {
		canon[i] = 0
	}
	for i := 84; i < 100; i++ {
		canon[i] = 0
	}
	sum := md5.Sum(canon)
	return hex.EncodeToString(sum[:])
}
