package checkout

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

// DefaultPhonePattern accepts Kenyan mobile numbers with an optional 254, +254 or 0 prefix.
const DefaultPhonePattern = `^(?:254|\+254|0)?(7\d{8})$`

const defaultCountryCode = "254"

type PhoneValidator struct {
	re *regexp.Regexp
}

// NewPhoneValidator compiles pattern. An empty pattern selects DefaultPhonePattern.
// If the pattern has a capture group, its first group is the subscriber number.
func NewPhoneValidator(pattern string) (*PhoneValidator, error) {
	if pattern == "" {
		pattern = DefaultPhonePattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("phone pattern: %w", err)
	}
	return &PhoneValidator{re: re}, nil
}

// Normalize strips whitespace and matches the pattern. For patterns with a
// capture group the result is country code + subscriber number, e.g. 254712345678.
func (v *PhoneValidator) Normalize(phone string) (string, bool) {
	s := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, phone)
	m := v.re.FindStringSubmatch(s)
	if m == nil {
		return "", false
	}
	if len(m) > 1 && m[1] != "" {
		return defaultCountryCode + m[1], true
	}
	return s, true
}
