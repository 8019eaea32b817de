package icc

import (
	"github.com/colorforge/go-colord/buffer"
	"github.com/colorforge/go-colord/color"
	"github.com/colorforge/go-colord/colorderr"
)

// vcgt tag encodings
const (
	vcgtKindTable   = 0
	vcgtKindFormula = 1
)

// VCGT returns the video-card gamma table resampled to size entries, one
// RGB triple per output row. NoData is returned when the profile carries
// no vcgt tag.
func (p *Profile) VCGT(size int) (color.RGBArray, error) {
	if size < 2 {
		return nil, colorderr.New(colorderr.InputInvalid,
			"need at least 2 output entries, got %d", size)
	}
	data, ok := p.tags[sigVcgt]
	if !ok {
		return nil, colorderr.New(colorderr.NoData, "no vcgt tag")
	}
	if len(data) < 12 || tagType(data) != "vcgt" {
		return nil, colorderr.New(colorderr.FileInvalid, "bad vcgt tag")
	}
	switch buffer.ReadUint32BE(data[8:]) {
	case vcgtKindTable:
		return decodeVcgtTable(data, size)
	case vcgtKindFormula:
		return decodeVcgtFormula(data, size)
	}
	return nil, colorderr.New(colorderr.FileInvalid,
		"unknown vcgt encoding %d", buffer.ReadUint32BE(data[8:]))
}

func decodeVcgtTable(data []byte, size int) (color.RGBArray, error) {
	if len(data) < 18 {
		return nil, colorderr.New(colorderr.FileInvalid, "short vcgt table")
	}
	channels := int(buffer.ReadUint16BE(data[12:]))
	entries := int(buffer.ReadUint16BE(data[14:]))
	entrySize := int(buffer.ReadUint16BE(data[16:]))
	if channels != 3 || entries < 2 {
		return nil, colorderr.New(colorderr.FileInvalid,
			"vcgt table %d channels x %d entries", channels, entries)
	}
	if entrySize != 1 && entrySize != 2 {
		return nil, colorderr.New(colorderr.FileInvalid,
			"vcgt entry size %d", entrySize)
	}
	if len(data) < 18+channels*entries*entrySize {
		return nil, colorderr.New(colorderr.FileInvalid, "vcgt table truncated")
	}
	read := func(channel, i int) float64 {
		off := 18 + (channel*entries+i)*entrySize
		if entrySize == 1 {
			return float64(data[off]) / 0xff
		}
		return float64(buffer.ReadUint16BE(data[off:])) / 0xffff
	}
	curve := make(color.RGBArray, entries)
	for i := 0; i < entries; i++ {
		curve[i] = color.RGB{R: read(0, i), G: read(1, i), B: read(2, i)}
	}
	if entries == size {
		return curve, nil
	}
	return color.RGBArrayInterpolate(curve, size)
}

func decodeVcgtFormula(data []byte, size int) (color.RGBArray, error) {
	if len(data) < 12+9*4 {
		return nil, colorderr.New(colorderr.FileInvalid, "short vcgt formula")
	}
	read := func(i int) float64 {
		return s15Fixed16ToFloat(buffer.ReadUint32BE(data[12+i*4:]))
	}
	eval := func(gamma, min, max, v float64) float64 {
		return min + (max-min)*powClamped(v, gamma)
	}
	out := make(color.RGBArray, size)
	for i := 0; i < size; i++ {
		v := float64(i) / float64(size-1)
		out[i] = color.RGB{
			R: eval(read(0), read(1), read(2), v),
			G: eval(read(3), read(4), read(5), v),
			B: eval(read(6), read(7), read(8), v),
		}
	}
	return out, nil
}

// SetVCGT stores the curve as a 3-channel 16-bit table.
func (p *Profile) SetVCGT(curve color.RGBArray) error {
	if len(curve) < 2 {
		return colorderr.New(colorderr.InputInvalid,
			"need at least 2 entries, got %d", len(curve))
	}
	data := make([]byte, 18+3*len(curve)*2)
	copy(data, "vcgt")
	buffer.WriteUint32BE(data[8:], vcgtKindTable)
	buffer.WriteUint16BE(data[12:], 3)
	buffer.WriteUint16BE(data[14:], uint16(len(curve)))
	buffer.WriteUint16BE(data[16:], 2)
	write := func(channel, i int, v float64) {
		if v < 0 {
			v = 0
		}
		if v > 1 {
			v = 1
		}
		off := 18 + (channel*len(curve)+i)*2
		buffer.WriteUint16BE(data[off:], uint16(v*0xffff+0.5))
	}
	for i, c := range curve {
		write(0, i, c.R)
		write(1, i, c.G)
		write(2, i, c.B)
	}
	p.SetTagData(sigVcgt, data)
	return nil
}

func powClamped(v, gamma float64) float64 {
	if v <= 0 {
		return 0
	}
	c := curve{gamma: gamma}
	return c.eval(v)
}
