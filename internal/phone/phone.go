// Package phone normalizes phone numbers into the canonical E.164-like form
// used as the contact dedup key.
package phone

import (
	"fmt"
	"strings"
)

const (
	minDigits = 7
	maxDigits = 15
)

// Normalize converts a raw phone number into canonical form: "+" followed by
// 7-15 digits. Separators and a leading "00" international prefix are
// accepted. Numbers without any international prefix are treated as already
// fully qualified; use NormalizeWithCountry to qualify bare national numbers.
func Normalize(raw string) (string, error) {
	s := sanitize(raw)
	if s == "" {
		return "", fmt.Errorf("empty phone number")
	}

	switch {
	case strings.HasPrefix(s, "+"):
		s = s[1:]
	case strings.HasPrefix(s, "00"):
		s = s[2:]
	}

	if !digitsOnly(s) {
		return "", fmt.Errorf("invalid phone number: %q", raw)
	}
	if len(s) < minDigits || len(s) > maxDigits {
		return "", fmt.Errorf("phone number must have %d-%d digits, got %d", minDigits, maxDigits, len(s))
	}

	return "+" + s, nil
}

// NormalizeWithCountry normalizes raw, prefixing countryCode when the number
// is a bare national number (no "+" or "00" prefix). A single leading zero of
// the national form is dropped.
func NormalizeWithCountry(raw, countryCode string) (string, error) {
	s := sanitize(raw)
	if s == "" {
		return "", fmt.Errorf("empty phone number")
	}

	if !strings.HasPrefix(s, "+") && !strings.HasPrefix(s, "00") && countryCode != "" {
		cc := strings.TrimPrefix(sanitize(countryCode), "+")
		if !digitsOnly(cc) {
			return "", fmt.Errorf("invalid country code: %q", countryCode)
		}
		s = strings.TrimPrefix(s, "0")
		s = "+" + cc + s
	}

	return Normalize(s)
}

// ValidE164 reports whether s is strictly "+" followed by 1-15 digits, the
// form required for phone number buttons in message templates.
func ValidE164(s string) bool {
	if len(s) < 2 || len(s) > 16 || s[0] != '+' {
		return false
	}
	return digitsOnly(s[1:])
}

// sanitize strips common separators: spaces, dashes, dots, parentheses.
func sanitize(s string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(s) {
		switch r {
		case ' ', '-', '.', '(', ')', '\t':
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func digitsOnly(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
