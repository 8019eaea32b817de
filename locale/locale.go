// Package locale parses POSIX-style locale strings ("", "fr", "fr_CA",
// "fr_CA.UTF-8") and resolves lookups against a set of available entries
// with the fallback chain used by the ICC and DOM codecs:
// exact match, then language match, then the empty-locale entry.
package locale

import (
	"strings"

	"golang.org/x/text/language"

	"github.com/colorforge/go-colord/colorderr"
)

// Locale is a parsed POSIX-style locale.
type Locale struct {
	Language string // "fr", lower case
	Country  string // "CA", upper case, may be empty
	Encoding string // "UTF-8", may be empty
}

// IsEmpty reports whether this is the C/POSIX default locale.
func (l Locale) IsEmpty() bool {
	return l.Language == ""
}

// String re-encodes the locale without the encoding suffix.
func (l Locale) String() string {
	if l.Language == "" {
		return ""
	}
	if l.Country == "" {
		return l.Language
	}
	return l.Language + "_" + l.Country
}

// Parse validates and splits a POSIX-style locale string. The accepted
// shapes are "", "C", "POSIX", and a two- or three-letter lower-case
// language optionally followed by "_YY", the last two optionally followed
// by ".ENCODING". Anything else returns InvalidLocale.
func Parse(s string) (Locale, error) {
	var l Locale
	if s == "" || s == "C" || s == "POSIX" {
		return l, nil
	}
	if i := strings.IndexByte(s, '.'); i >= 0 {
		l.Encoding = s[i+1:]
		s = s[:i]
		if l.Encoding == "" {
			return Locale{}, colorderr.New(colorderr.InvalidLocale,
				"empty encoding suffix")
		}
	}
	lang, country, hasCountry := strings.Cut(s, "_")
	if len(lang) < 2 || len(lang) > 3 || lang != strings.ToLower(lang) {
		return Locale{}, colorderr.New(colorderr.InvalidLocale,
			"bad language %q", lang)
	}
	// reject junk the ICC spec cannot encode
	if _, err := language.Parse(lang); err != nil {
		return Locale{}, colorderr.Wrap(colorderr.InvalidLocale, err,
			"bad language %q", lang)
	}
	l.Language = lang
	if hasCountry {
		if len(country) != 2 || country != strings.ToUpper(country) {
			return Locale{}, colorderr.New(colorderr.InvalidLocale,
				"bad country %q", country)
		}
		l.Country = country
	}
	return l, nil
}

// Fallbacks returns the lookup chain for this locale, most specific first,
// always ending with the empty locale.
func (l Locale) Fallbacks() []string {
	if l.Language == "" {
		return []string{""}
	}
	if l.Country == "" {
		return []string{l.Language, ""}
	}
	return []string{l.Language + "_" + l.Country, l.Language, ""}
}

// sameLanguage compares two language subtags through x/text so that
// aliases ("iw"/"he") resolve to the same base.
func sameLanguage(a, b string) bool {
	if a == b {
		return true
	}
	ta, errA := language.Parse(a)
	tb, errB := language.Parse(b)
	if errA != nil || errB != nil {
		return false
	}
	baseA, _ := ta.Base()
	baseB, _ := tb.Base()
	return baseA == baseB
}

// BestMatch resolves want against the available locale strings:
// exact locale, then any entry sharing the language, then the empty entry.
// A NoData error is returned when nothing matches.
func BestMatch(want Locale, have []string) (string, error) {
	for _, candidate := range want.Fallbacks() {
		if candidate == "" {
			break
		}
		for _, h := range have {
			if h == candidate {
				return h, nil
			}
		}
		// language-only pass: any country of the same language
		parsed, err := Parse(candidate)
		if err != nil || parsed.Language == "" {
			continue
		}
		for _, h := range have {
			hp, err := Parse(h)
			if err != nil {
				continue
			}
			if sameLanguage(hp.Language, parsed.Language) {
				return h, nil
			}
		}
	}
	for _, h := range have {
		if h == "" {
			return h, nil
		}
	}
	return "", colorderr.New(colorderr.NoData,
		"no entry for locale %q", want.String())
}
