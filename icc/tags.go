package icc

import (
	"math"
	"sort"
	"strings"
	"unicode/utf16"

	"github.com/colorforge/go-colord/buffer"
	"github.com/colorforge/go-colord/color"
	"github.com/colorforge/go-colord/colorderr"
	"github.com/colorforge/go-colord/locale"
)

// s15Fixed16 conversion helpers, the fixed-point encoding used by XYZ and
// curve tags.

func s15Fixed16ToFloat(v uint32) float64 {
	return float64(int32(v)) / 65536.0
}

func floatToS15Fixed16(v float64) uint32 {
	return uint32(int32(v*65536.0 + 0.5))
}

func tagType(data []byte) string {
	if len(data) < 4 {
		return ""
	}
	return string(data[:4])
}

// xyzTag decodes an XYZType tag.
func (p *Profile) xyzTag(signature string) (color.XYZ, error) {
	data, ok := p.tags[signature]
	if !ok {
		return color.XYZ{}, colorderr.New(colorderr.NoData,
			"no tag %q", signature)
	}
	if len(data) < 20 || tagType(data) != "XYZ " {
		return color.XYZ{}, colorderr.New(colorderr.FileInvalid,
			"tag %q is not an XYZ type", signature)
	}
	return color.XYZ{
		X: s15Fixed16ToFloat(buffer.ReadUint32BE(data[8:])),
		Y: s15Fixed16ToFloat(buffer.ReadUint32BE(data[12:])),
		Z: s15Fixed16ToFloat(buffer.ReadUint32BE(data[16:])),
	}, nil
}

func encodeXYZTag(v color.XYZ) []byte {
	data := make([]byte, 20)
	copy(data, "XYZ ")
	buffer.WriteUint32BE(data[8:], floatToS15Fixed16(v.X))
	buffer.WriteUint32BE(data[12:], floatToS15Fixed16(v.Y))
	buffer.WriteUint32BE(data[16:], floatToS15Fixed16(v.Z))
	return data
}

// curve is a decoded curveType tag: either a gamma value (count==1) or a
// table of 0..1 samples.
type curve struct {
	gamma float64
	table []float64
}

func decodeCurve(data []byte) (curve, error) {
	if len(data) < 12 || tagType(data) != "curv" {
		return curve{}, colorderr.New(colorderr.FileInvalid,
			"not a curve tag")
	}
	count := int(buffer.ReadUint32BE(data[8:]))
	if count == 0 {
		// identity
		return curve{gamma: 1.0}, nil
	}
	if count == 1 {
		if len(data) < 14 {
			return curve{}, colorderr.New(colorderr.FileInvalid,
				"short gamma curve tag")
		}
		// u8Fixed8 gamma
		return curve{gamma: float64(buffer.ReadUint16BE(data[12:])) / 256.0}, nil
	}
	if len(data) < 12+count*2 {
		return curve{}, colorderr.New(colorderr.FileInvalid,
			"curve tag truncated, %d entries", count)
	}
	table := make([]float64, count)
	for i := 0; i < count; i++ {
		table[i] = float64(buffer.ReadUint16BE(data[12+i*2:])) / 65535.0
	}
	return curve{table: table}, nil
}

func encodeGammaCurve(gamma float64) []byte {
	data := make([]byte, 14)
	copy(data, "curv")
	buffer.WriteUint32BE(data[8:], 1)
	buffer.WriteUint16BE(data[12:], uint16(gamma*256.0+0.5))
	return data
}

// eval interpolates the curve at v in 0..1.
func (c curve) eval(v float64) float64 {
	if len(c.table) == 0 {
		if c.gamma == 1.0 {
			return v
		}
		if v <= 0 {
			return 0
		}
		return math.Pow(v, c.gamma)
	}
	if v <= 0 {
		return c.table[0]
	}
	if v >= 1 {
		return c.table[len(c.table)-1]
	}
	pos := v * float64(len(c.table)-1)
	lo := int(pos)
	frac := pos - float64(lo)
	return c.table[lo] + (c.table[lo+1]-c.table[lo])*frac
}

// localizedText decodes a text tag (mluc, desc or text type) and resolves
// the requested locale with the exact → language → empty fallback chain.
func (p *Profile) localizedText(signature, want string) (string, error) {
	wantLocale, err := locale.Parse(want)
	if err != nil {
		return "", err
	}
	data, ok := p.tags[signature]
	if !ok {
		return "", colorderr.New(colorderr.NoData, "no tag %q", signature)
	}
	entries, err := decodeTextEntries(data)
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "", colorderr.New(colorderr.NoData,
			"tag %q has no text entries", signature)
	}
	locales := make([]string, 0, len(entries))
	for l := range entries {
		locales = append(locales, l)
	}
	sort.Strings(locales)
	best, err := locale.BestMatch(wantLocale, locales)
	if err != nil {
		return "", err
	}
	return entries[best], nil
}

// decodeTextEntries returns locale → text for any of the three text tag
// encodings. desc and text types carry a single entry under the empty
// locale.
func decodeTextEntries(data []byte) (map[string]string, error) {
	switch tagType(data) {
	case "mluc":
		return decodeMluc(data)
	case "desc":
		if len(data) < 12 {
			return nil, colorderr.New(colorderr.FileInvalid,
				"short desc tag")
		}
		n := int(buffer.ReadUint32BE(data[8:]))
		if n == 0 || len(data) < 12+n {
			return map[string]string{}, nil
		}
		s := strings.TrimRight(string(data[12:12+n]), "\x00")
		return map[string]string{"": s}, nil
	case "text":
		if len(data) < 8 {
			return nil, colorderr.New(colorderr.FileInvalid,
				"short text tag")
		}
		s := strings.TrimRight(string(data[8:]), "\x00")
		return map[string]string{"": s}, nil
	}
	return nil, colorderr.New(colorderr.FileInvalid,
		"unknown text tag type %q", tagType(data))
}

// decodeMluc parses a multiLocalizedUnicodeType tag. Entries are keyed by
// POSIX-style locale strings; the ICC language/country pair "enUS" maps to
// "en_US" and an empty language maps to "".
func decodeMluc(data []byte) (map[string]string, error) {
	if len(data) < 16 {
		return nil, colorderr.New(colorderr.FileInvalid, "short mluc tag")
	}
	count := int(buffer.ReadUint32BE(data[8:]))
	recordSize := int(buffer.ReadUint32BE(data[12:]))
	if recordSize < 12 {
		return nil, colorderr.New(colorderr.FileInvalid,
			"mluc record size %d", recordSize)
	}
	if len(data) < 16+count*recordSize {
		return nil, colorderr.New(colorderr.FileInvalid,
			"mluc tag truncated, %d records", count)
	}
	entries := make(map[string]string, count)
	for i := 0; i < count; i++ {
		rec := data[16+i*recordSize:]
		lang := strings.TrimRight(string(rec[0:2]), "\x00 ")
		country := strings.TrimRight(string(rec[2:4]), "\x00 ")
		length := int(buffer.ReadUint32BE(rec[4:]))
		offset := int(buffer.ReadUint32BE(rec[8:]))
		if offset+length > len(data) || length%2 != 0 {
			return nil, colorderr.New(colorderr.FileInvalid,
				"mluc record %d out of bounds", i)
		}
		raw := data[offset : offset+length]
		u16 := make([]uint16, length/2)
		for j := range u16 {
			u16[j] = buffer.ReadUint16BE(raw[j*2:])
		}
		key := ""
		if lang != "" {
			key = strings.ToLower(lang)
			if country != "" {
				key += "_" + strings.ToUpper(country)
			}
		}
		entries[key] = string(utf16.Decode(u16))
	}
	return entries, nil
}

// encodeMluc writes entries as a multiLocalizedUnicodeType tag with the
// locales in sorted order so output is deterministic.
func encodeMluc(entries map[string]string) []byte {
	locales := make([]string, 0, len(entries))
	for l := range entries {
		locales = append(locales, l)
	}
	sort.Strings(locales)

	const recordSize = 12
	header := 16 + len(locales)*recordSize
	var body []byte
	data := make([]byte, header)
	copy(data, "mluc")
	buffer.WriteUint32BE(data[8:], uint32(len(locales)))
	buffer.WriteUint32BE(data[12:], recordSize)
	for i, l := range locales {
		// the default entry keeps zero language bytes so it resolves
		// as the final fallback after a reload
		lang, country := "", ""
		if l != "" {
			parsed, err := locale.Parse(l)
			if err == nil {
				lang = parsed.Language
				country = parsed.Country
			}
		}
		u16 := utf16.Encode([]rune(entries[l]))
		raw := make([]byte, len(u16)*2)
		for j, v := range u16 {
			buffer.WriteUint16BE(raw[j*2:], v)
		}
		rec := data[16+i*recordSize:]
		copy(rec[0:2], lang)
		copy(rec[2:4], country)
		buffer.WriteUint32BE(rec[4:], uint32(len(raw)))
		buffer.WriteUint32BE(rec[8:], uint32(header+len(body)))
		body = append(body, raw...)
	}
	return append(data, body...)
}

// encodeDesc writes a v2 textDescriptionType with the ASCII text only.
func encodeDesc(text string) []byte {
	ascii := append([]byte(text), 0)
	data := make([]byte, 12+len(ascii)+78)
	copy(data, "desc")
	buffer.WriteUint32BE(data[8:], uint32(len(ascii)))
	copy(data[12:], ascii)
	return data
}

// setLocalizedText updates one locale entry, re-encoding the tag as mluc
// for v4 profiles. For v2 the description is written as a plain desc and
// other tags as text; both carry only the default-locale entry, and a
// value for another locale is used only when no default entry exists.
func (p *Profile) setLocalizedText(signature, loc, value string) error {
	parsed, err := locale.Parse(loc)
	if err != nil {
		return err
	}
	entries := map[string]string{}
	if data, ok := p.tags[signature]; ok {
		if existing, err := decodeTextEntries(data); err == nil {
			entries = existing
		}
	}
	entries[parsed.String()] = value
	if p.version < 4.0 {
		// v2 text tags are not localized; the default entry wins
		def, ok := entries[""]
		if !ok {
			def = value
		}
		if signature == sigDescription {
			p.SetTagData(signature, encodeDesc(def))
		} else {
			text := append([]byte("text\x00\x00\x00\x00"), def...)
			p.SetTagData(signature, append(text, 0))
		}
		return nil
	}
	p.SetTagData(signature, encodeMluc(entries))
	return nil
}

// decodeDict parses the ICC dictType metadata tag. Records of 16, 24 or 32
// bytes are accepted; only the name and value strings are read.
func decodeDict(data []byte) (map[string]string, error) {
	if len(data) < 16 || tagType(data) != "dict" {
		return nil, colorderr.New(colorderr.FileInvalid, "not a dict tag")
	}
	count := int(buffer.ReadUint32BE(data[8:]))
	recordSize := int(buffer.ReadUint32BE(data[12:]))
	if recordSize != 16 && recordSize != 24 && recordSize != 32 {
		return nil, colorderr.New(colorderr.FileInvalid,
			"dict record size %d", recordSize)
	}
	if len(data) < 16+count*recordSize {
		return nil, colorderr.New(colorderr.FileInvalid,
			"dict tag truncated, %d records", count)
	}
	readString := func(offset, length int) (string, error) {
		if offset+length > len(data) || length%2 != 0 {
			return "", colorderr.New(colorderr.FileInvalid,
				"dict string out of bounds")
		}
		raw := data[offset : offset+length]
		u16 := make([]uint16, length/2)
		for j := range u16 {
			u16[j] = buffer.ReadUint16BE(raw[j*2:])
		}
		return string(utf16.Decode(u16)), nil
	}
	dict := make(map[string]string, count)
	for i := 0; i < count; i++ {
		rec := data[16+i*recordSize:]
		name, err := readString(
			int(buffer.ReadUint32BE(rec[0:])),
			int(buffer.ReadUint32BE(rec[4:])))
		if err != nil {
			return nil, err
		}
		value, err := readString(
			int(buffer.ReadUint32BE(rec[8:])),
			int(buffer.ReadUint32BE(rec[12:])))
		if err != nil {
			return nil, err
		}
		dict[name] = value
	}
	return dict, nil
}

// encodeDict writes the metadata dictionary sorted by key so output is
// deterministic.
func encodeDict(dict map[string]string) []byte {
	keys := make([]string, 0, len(dict))
	for k := range dict {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	const recordSize = 16
	header := 16 + len(keys)*recordSize
	data := make([]byte, header)
	copy(data, "dict")
	buffer.WriteUint32BE(data[8:], uint32(len(keys)))
	buffer.WriteUint32BE(data[12:], recordSize)
	var body []byte
	put := func(s string) (offset, length int) {
		u16 := utf16.Encode([]rune(s))
		raw := make([]byte, len(u16)*2)
		for j, v := range u16 {
			buffer.WriteUint16BE(raw[j*2:], v)
		}
		offset = header + len(body)
		body = append(body, raw...)
		return offset, len(raw)
	}
	for i, k := range keys {
		rec := data[16+i*recordSize:]
		off, n := put(k)
		buffer.WriteUint32BE(rec[0:], uint32(off))
		buffer.WriteUint32BE(rec[4:], uint32(n))
		off, n = put(dict[k])
		buffer.WriteUint32BE(rec[8:], uint32(off))
		buffer.WriteUint32BE(rec[12:], uint32(n))
	}
	return append(data, body...)
}

// decodeNamedColors parses a namedColor2Type tag. The PCS entries are
// assumed to be Lab-encoded, the layout colord's scanners produce.
func decodeNamedColors(data []byte) ([]NamedColor, error) {
	if len(data) < 84 || tagType(data) != "ncl2" {
		return nil, colorderr.New(colorderr.FileInvalid, "not a ncl2 tag")
	}
	count := int(buffer.ReadUint32BE(data[12:]))
	nCoords := int(buffer.ReadUint32BE(data[16:]))
	prefix := strings.TrimRight(string(data[20:52]), "\x00")
	suffix := strings.TrimRight(string(data[52:84]), "\x00")
	recordSize := 32 + 6 + nCoords*2
	if len(data) < 84+count*recordSize {
		return nil, colorderr.New(colorderr.FileInvalid,
			"ncl2 tag truncated, %d records", count)
	}
	out := make([]NamedColor, 0, count)
	for i := 0; i < count; i++ {
		rec := data[84+i*recordSize:]
		root := strings.TrimRight(string(rec[0:32]), "\x00")
		l := float64(buffer.ReadUint16BE(rec[32:])) * 100.0 / 0xff00
		a := float64(buffer.ReadUint16BE(rec[34:]))/257.0 - 128.0
		b := float64(buffer.ReadUint16BE(rec[36:]))/257.0 - 128.0
		out = append(out, NamedColor{
			Name: prefix + root + suffix,
			Lab:  color.Lab{L: l, A: a, B: b},
		})
	}
	return out, nil
}
