package colorhug

import (
	"encoding/hex"

	"github.com/colorforge/go-colord/colorderr"
)

// SHA1 is the flat 20-byte digest the device firmware tooling exchanges.
type SHA1 [20]byte

// String renders the digest as lower-case hex.
func (s SHA1) String() string {
	return hex.EncodeToString(s[:])
}

// ParseSHA1 parses a 40-character hex digest.
func ParseSHA1(s string) (SHA1, error) {
	var out SHA1
	if len(s) != 40 {
		return out, colorderr.New(colorderr.InputInvalid,
			"digest must be 40 hex chars, got %d", len(s))
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return out, colorderr.Wrap(colorderr.InputInvalid, err,
			"bad digest %q", s)
	}
	copy(out[:], raw)
	return out, nil
}
