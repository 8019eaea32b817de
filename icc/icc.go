// Package icc loads, edits and saves ICC v2/v4 color profiles, keeps a
// content-addressed on-disk store of them, and chains profiles into
// correctness-level pixel transforms.
//
// The codec keeps every tag's raw bytes; accessors decode the tags clients
// care about (localized text, metadata, VCGT, primaries, named colors) and
// mutations re-encode only the touched tags on save, so unknown tags
// round-trip untouched.
package icc

import (
	"fmt"
	"sort"

	"github.com/colorforge/go-colord/color"
	"github.com/colorforge/go-colord/colorderr"
)

// ProfileKind is the profile/device class from the header.
type ProfileKind int

const (
	// KindUnknown is an unrecognized class signature.
	KindUnknown ProfileKind = iota
	// KindDisplay is a monitor or projector profile.
	KindDisplay
	// KindInput is a scanner or camera profile.
	KindInput
	// KindOutput is a printer profile.
	KindOutput
	// KindColorspace is a colorspace conversion profile.
	KindColorspace
	// KindAbstract is an abstract gamut-editing profile.
	KindAbstract
	// KindNamedColor is a named-color palette profile.
	KindNamedColor
	// KindDeviceLink is a device-link profile.
	KindDeviceLink
)

var kindSignatures = map[ProfileKind]string{
	KindDisplay:    "mntr",
	KindInput:      "scnr",
	KindOutput:     "prtr",
	KindColorspace: "spac",
	KindAbstract:   "abst",
	KindNamedColor: "nmcl",
	KindDeviceLink: "link",
}

// String implements fmt.Stringer.
func (k ProfileKind) String() string {
	switch k {
	case KindDisplay:
		return "display-device"
	case KindInput:
		return "input-device"
	case KindOutput:
		return "output-device"
	case KindColorspace:
		return "colorspace-conversion"
	case KindAbstract:
		return "abstract"
	case KindNamedColor:
		return "named-color"
	case KindDeviceLink:
		return "device-link"
	}
	return "unknown"
}

// Colorspace is the device colorspace from the header.
type Colorspace int

const (
	// SpaceUnknown is an unrecognized colorspace signature.
	SpaceUnknown Colorspace = iota
	// SpaceRGB is an additive three-channel space.
	SpaceRGB
	// SpaceCMYK is a four-channel subtractive space.
	SpaceCMYK
	// SpaceGray is a single-channel space.
	SpaceGray
	// SpaceXYZ is the CIE tristimulus space.
	SpaceXYZ
	// SpaceLab is the CIE L*a*b* space.
	SpaceLab
	// SpaceCMY is a three-channel subtractive space.
	SpaceCMY
	// SpaceHSV is the hue/saturation/value space.
	SpaceHSV
	// SpaceYCbCr is the video luma/chroma space.
	SpaceYCbCr
)

var spaceSignatures = map[Colorspace]string{
	SpaceRGB:   "RGB ",
	SpaceCMYK:  "CMYK",
	SpaceGray:  "GRAY",
	SpaceXYZ:   "XYZ ",
	SpaceLab:   "Lab ",
	SpaceCMY:   "CMY ",
	SpaceHSV:   "HSV ",
	SpaceYCbCr: "YCbr",
}

// String implements fmt.Stringer.
func (c Colorspace) String() string {
	switch c {
	case SpaceRGB:
		return "rgb"
	case SpaceCMYK:
		return "cmyk"
	case SpaceGray:
		return "gray"
	case SpaceXYZ:
		return "xyz"
	case SpaceLab:
		return "lab"
	case SpaceCMY:
		return "cmy"
	case SpaceHSV:
		return "hsv"
	case SpaceYCbCr:
		return "ycbcr"
	}
	return "unknown"
}

// Warning flags a defect found while scanning a loaded profile.
type Warning int

const (
	// WarnDescriptionMissing means the profile has no description text.
	WarnDescriptionMissing Warning = iota
	// WarnCopyrightMissing means the profile has no copyright text.
	WarnCopyrightMissing
	// WarnPrimariesInvalid means a colorant is zero or negative.
	WarnPrimariesInvalid
	// WarnWhitepointInvalid means the white point is implausible.
	WarnWhitepointInvalid
	// WarnGrayAxisInvalid means neutral input does not map near neutral.
	WarnGrayAxisInvalid
	// WarnGrayAxisNonMonotonic means the neutral ramp loses monotonicity.
	WarnGrayAxisNonMonotonic
	// WarnGrayAxisNonLinear means the neutral ramp deviates from linear.
	WarnGrayAxisNonLinear
	// WarnGrayAxisEmpty means the neutral ramp could not be sampled.
	WarnGrayAxisEmpty
	// WarnVcgtNonMonotonic means a VCGT channel decreases.
	WarnVcgtNonMonotonic
	// WarnScumDot means paper white maps away from device white.
	WarnScumDot
)

// String implements fmt.Stringer.
func (w Warning) String() string {
	switch w {
	case WarnDescriptionMissing:
		return "description-missing"
	case WarnCopyrightMissing:
		return "copyright-missing"
	case WarnPrimariesInvalid:
		return "primaries-invalid"
	case WarnWhitepointInvalid:
		return "whitepoint-invalid"
	case WarnGrayAxisInvalid:
		return "gray-axis-invalid"
	case WarnGrayAxisNonMonotonic:
		return "gray-axis-non-monotonic"
	case WarnGrayAxisNonLinear:
		return "gray-axis-non-linear"
	case WarnGrayAxisEmpty:
		return "gray-axis-empty"
	case WarnVcgtNonMonotonic:
		return "vcgt-non-monotonic"
	case WarnScumDot:
		return "scum-dot"
	}
	return "unknown"
}

// Well-known metadata dictionary keys.
const (
	MetadataEDIDMD5          = "EDID_md5"
	MetadataEDIDModel        = "EDID_model"
	MetadataEDIDSerial       = "EDID_serial"
	MetadataEDIDManufacturer = "EDID_mnft"
	MetadataEDIDVendor       = "EDID_manufacturer"
	MetadataCMFProduct       = "CMF_product"
	MetadataCMFBinary        = "CMF_binary"
	MetadataCMFVersion       = "CMF_version"
	MetadataDataSource       = "DATA_source"
	MetadataMappingQualifier = "MAPPING_qualifier"
	MetadataCoverageSRGB     = "GAMUT_coverage(srgb)"
)

// Tag signatures the accessors decode.
const (
	sigDescription   = "desc"
	sigCopyright     = "cprt"
	sigManufacturer  = "dmnd"
	sigModel         = "dmdd"
	sigMetadata      = "meta"
	sigVcgt          = "vcgt"
	sigRedColorant   = "rXYZ"
	sigGreenColorant = "gXYZ"
	sigBlueColorant  = "bXYZ"
	sigWhitePoint    = "wtpt"
	sigNamedColors   = "ncl2"
	sigRedTRC        = "rTRC"
	sigGreenTRC      = "gTRC"
	sigBlueTRC       = "bTRC"
)

// NamedColor is one entry of the profile's named-color list.
type NamedColor struct {
	Name string
	Lab  color.Lab
}

// Profile is a loaded ICC profile.
type Profile struct {
	kind       ProfileKind
	colorspace Colorspace
	version    float64

	size     int
	checksum string
	filename string

	// header fields preserved verbatim on save
	header [128]byte

	tagOrder []string
	tags     map[string][]byte

	// decoded lazily, invalidated on mutation
	warnings []Warning
}

// Kind returns the profile class.
func (p *Profile) Kind() ProfileKind { return p.kind }

// SetKind changes the profile class written on the next save.
func (p *Profile) SetKind(kind ProfileKind) { p.kind = kind }

// Colorspace returns the device colorspace.
func (p *Profile) Colorspace() Colorspace { return p.colorspace }

// SetColorspace changes the device colorspace written on the next save.
func (p *Profile) SetColorspace(space Colorspace) { p.colorspace = space }

// Version returns the profile format version as major.minorpatch, for
// example 2.4 or 4.3.
func (p *Profile) Version() float64 { return p.version }

// SetVersion changes the profile format version. The accepted range is
// 2.0 to 4.4.
func (p *Profile) SetVersion(version float64) error {
	if version < 2.0 || version > 4.4 {
		return colorderr.New(colorderr.InputInvalid,
			"version %.2f outside 2.0..4.4", version)
	}
	p.version = version
	return nil
}

// Size returns the on-disk length in bytes of the loaded data.
func (p *Profile) Size() int { return p.size }

// Checksum returns the MD5 of the canonicalized profile body, the identity
// used for store deduplication.
func (p *Profile) Checksum() string { return p.checksum }

// Filename returns the path the profile was loaded from, or "".
func (p *Profile) Filename() string { return p.filename }

// SetFilename records where the profile lives on disk.
func (p *Profile) SetFilename(filename string) { p.filename = filename }

// HasTag reports whether the profile carries a tag.
func (p *Profile) HasTag(signature string) bool {
	_, ok := p.tags[signature]
	return ok
}

// TagSignatures lists the profile's tags in file order.
func (p *Profile) TagSignatures() []string {
	return append([]string(nil), p.tagOrder...)
}

// TagData returns the raw bytes of a tag as stored, or NoData.
func (p *Profile) TagData(signature string) ([]byte, error) {
	data, ok := p.tags[signature]
	if !ok {
		return nil, colorderr.New(colorderr.NoData,
			"no tag %q", signature)
	}
	return append([]byte(nil), data...), nil
}

// SetTagData replaces or adds a tag's raw bytes.
func (p *Profile) SetTagData(signature string, data []byte) {
	if _, ok := p.tags[signature]; !ok {
		p.tagOrder = append(p.tagOrder, signature)
	}
	p.tags[signature] = append([]byte(nil), data...)
	p.warnings = nil
}

// removeTag drops a tag if present.
func (p *Profile) removeTag(signature string) {
	if _, ok := p.tags[signature]; !ok {
		return
	}
	delete(p.tags, signature)
	for i, s := range p.tagOrder {
		if s == signature {
			p.tagOrder = append(p.tagOrder[:i], p.tagOrder[i+1:]...)
			break
		}
	}
}

// Description returns the localized description text.
func (p *Profile) Description(locale string) (string, error) {
	return p.localizedText(sigDescription, locale)
}

// SetDescription sets the description for a locale.
func (p *Profile) SetDescription(locale, value string) error {
	return p.setLocalizedText(sigDescription, locale, value)
}

// Copyright returns the localized copyright text.
func (p *Profile) Copyright(locale string) (string, error) {
	return p.localizedText(sigCopyright, locale)
}

// SetCopyright sets the copyright for a locale.
func (p *Profile) SetCopyright(locale, value string) error {
	return p.setLocalizedText(sigCopyright, locale, value)
}

// Manufacturer returns the localized device manufacturer text.
func (p *Profile) Manufacturer(locale string) (string, error) {
	return p.localizedText(sigManufacturer, locale)
}

// SetManufacturer sets the device manufacturer for a locale.
func (p *Profile) SetManufacturer(locale, value string) error {
	return p.setLocalizedText(sigManufacturer, locale, value)
}

// Model returns the localized device model text.
func (p *Profile) Model(locale string) (string, error) {
	return p.localizedText(sigModel, locale)
}

// SetModel sets the device model for a locale.
func (p *Profile) SetModel(locale, value string) error {
	return p.setLocalizedText(sigModel, locale, value)
}

// Title is the display name: the description, falling back to the filename.
func (p *Profile) Title(locale string) string {
	if s, err := p.Description(locale); err == nil && s != "" {
		return s
	}
	return p.filename
}

// Metadata returns a copy of the metadata dictionary. Keys are
// case-sensitive.
func (p *Profile) Metadata() (map[string]string, error) {
	data, ok := p.tags[sigMetadata]
	if !ok {
		return nil, colorderr.New(colorderr.NoData, "no metadata tag")
	}
	return decodeDict(data)
}

// MetadataItem returns one metadata value.
func (p *Profile) MetadataItem(key string) (string, error) {
	md, err := p.Metadata()
	if err != nil {
		return "", err
	}
	v, ok := md[key]
	if !ok {
		return "", colorderr.New(colorderr.NoData, "no metadata key %q", key)
	}
	return v, nil
}

// SetMetadataItem sets one metadata value, creating the dictionary when
// missing.
func (p *Profile) SetMetadataItem(key, value string) error {
	md := map[string]string{}
	if data, ok := p.tags[sigMetadata]; ok {
		var err error
		md, err = decodeDict(data)
		if err != nil {
			return err
		}
	}
	md[key] = value
	p.SetTagData(sigMetadata, encodeDict(md))
	return nil
}

// WhitePoint returns the media white point.
func (p *Profile) WhitePoint() (color.XYZ, error) {
	return p.xyzTag(sigWhitePoint)
}

// Primaries returns the red, green and blue colorants.
func (p *Profile) Primaries() (red, green, blue color.XYZ, err error) {
	if red, err = p.xyzTag(sigRedColorant); err != nil {
		return
	}
	if green, err = p.xyzTag(sigGreenColorant); err != nil {
		return
	}
	blue, err = p.xyzTag(sigBlueColorant)
	return
}

// Temperature returns the correlated color temperature of the white point
// in Kelvin.
func (p *Profile) Temperature() (float64, error) {
	white, err := p.WhitePoint()
	if err != nil {
		return 0, err
	}
	return color.TemperatureFromXYZ(white), nil
}

// NamedColors decodes the named-color list.
func (p *Profile) NamedColors() ([]NamedColor, error) {
	data, ok := p.tags[sigNamedColors]
	if !ok {
		return nil, colorderr.New(colorderr.NoData, "no named-color tag")
	}
	return decodeNamedColors(data)
}

// sortedTagList is used by String for stable debug output.
func (p *Profile) sortedTagList() []string {
	tags := append([]string(nil), p.tagOrder...)
	sort.Strings(tags)
	return tags
}

// String implements fmt.Stringer for debug output.
func (p *Profile) String() string {
	return fmt.Sprintf("Profile{kind=%s colorspace=%s version=%.1f tags=%v}",
		p.kind, p.colorspace, p.version, p.sortedTagList())
}
