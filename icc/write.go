package icc

import (
	"crypto/md5"
	"os"

	"github.com/colorforge/go-colord/buffer"
	"github.com/colorforge/go-colord/colorderr"
)

// align4 pads n up to the next 4-byte boundary.
func align4(n int) int {
	return (n + 3) &^ 3
}

// Encode serializes the profile. The header carries over verbatim apart
// from the mutable fields (size, version, class, colorspace) and the
// recomputed profile ID; tags are written in file order with 4-byte
// alignment. Output is deterministic for identical inputs.
func (p *Profile) Encode() ([]byte, error) {
	numTags := len(p.tagOrder)
	tableSize := 4 + numTags*12
	offset := align4(headerSize + tableSize)

	total := offset
	offsets := make(map[string]int, numTags)
	for _, sig := range p.tagOrder {
		offsets[sig] = total
		total = align4(total + len(p.tags[sig]))
	}

	data := make([]byte, total)
	copy(data, p.header[:])

	buffer.WriteUint32BE(data[0:], uint32(total))

	major := int(p.version)
	minor := int(p.version*10+0.5) % 10
	patch := int(p.version*100+0.5) % 10
	buffer.WriteUint32BE(data[8:],
		uint32(major)<<24|uint32(minor)<<20|uint32(patch)<<16)

	if sig, ok := kindSignatures[p.kind]; ok {
		copy(data[12:16], sig)
	}
	if sig, ok := spaceSignatures[p.colorspace]; ok {
		copy(data[16:20], sig)
	}

	buffer.WriteUint32BE(data[headerSize:], uint32(numTags))
	for i, sig := range p.tagOrder {
		entry := data[headerSize+4+i*12:]
		copy(entry[0:4], sig)
		buffer.WriteUint32BE(entry[4:], uint32(offsets[sig]))
		buffer.WriteUint32BE(entry[8:], uint32(len(p.tags[sig])))
	}
	for _, sig := range p.tagOrder {
		copy(data[offsets[sig]:], p.tags[sig])
	}

	// profile ID: MD5 with flags, intent and ID zeroed during the sum
	canon := append([]byte(nil), data...)
	for _, i := range []int{44, 45, 46, 47, 64, 65, 66, 67} {
		canon[i] = 0
	}
	for i := 84; i < 100; i++ {
		canon[i] = 0
	}
	sum := md5.Sum(canon)
	copy(data[84:100], sum[:])

	p.size = len(data)
	p.checksum = canonicalChecksum(data)
	return data, nil
}

// Save serializes the profile to a file and refreshes the size, checksum
// and filename attributes to match what was written.
func (p *Profile) Save(filename string) error {
	data, err := p.Encode()
	if err != nil {
		return err
	}
	if err := os.WriteFile(filename, data, 0o644); err != nil {
		return colorderr.Wrap(colorderr.FailedToWrite, err,
			"cannot write %s", filename)
	}
	p.filename = filename
	return nil
}
