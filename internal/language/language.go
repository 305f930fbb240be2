package language

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// Auto is the source language value that requests detection.
const Auto = "auto"

// ErrUnknownLanguage is returned for tags x/text cannot parse.
var ErrUnknownLanguage = errors.New("unknown language")

// IsAuto reports whether code asks for language detection.
func IsAuto(code string) bool {
	code = strings.TrimSpace(code)
	return code == "" || strings.EqualFold(code, Auto)
}

// Normalize parses code and returns its canonical BCP 47 form.
func Normalize(code string) (string, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return "", fmt.Errorf("%w: empty code", ErrUnknownLanguage)
	}
	tag, err := language.Parse(code)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrUnknownLanguage, code)
	}
	if tag == language.Und {
		return "", fmt.Errorf("%w: %q", ErrUnknownLanguage, code)
	}
	return tag.String(), nil
}

// ToISO2 returns the ISO 639-1 base of code, or "" when code is not a
// recognized language. Three-letter codes map to their two-letter form when
// one exists.
func ToISO2(code string) string {
	code = strings.TrimSpace(code)
	if code == "" || IsAuto(code) {
		return ""
	}
	tag, err := language.Parse(code)
	if err != nil {
		return ""
	}
	base, confidence := tag.Base()
	if confidence == language.No {
		return ""
	}
	return base.String()
}

// SameBase reports whether a and b name the same base language.
func SameBase(a, b string) bool {
	isoA, isoB := ToISO2(a), ToISO2(b)
	return isoA != "" && isoA == isoB
}

// DisplayName returns the English name of code, falling back to the code.
func DisplayName(code string) string {
	tag, err := language.Parse(strings.TrimSpace(code))
	if err != nil {
		return code
	}
	if name := display.English.Tags().Name(tag); name != "" {
		return name
	}
	return code
}
