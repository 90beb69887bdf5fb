package util

import (
	"fmt"
	"regexp"
	"strings"
)

// DefaultCountryCode is prepended to national numbers when no country code is configured.
const DefaultCountryCode = "+81"

// nonDigitRegex matches every character that is not a decimal digit.
var nonDigitRegex = regexp.MustCompile(`\D`)

// NormalizePhoneNumber canonicalizes a dialable phone number.
// Numbers already carrying a leading "+" are returned with separators
// stripped but otherwise untouched. National numbers with a leading "0"
// lose the "0" and gain the given country code, so "090-1234-5678" and
// "09012345678" both normalize to "+819012345678" under "+81".
func NormalizePhoneNumber(raw, countryCode string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("phone number cannot be empty")
	}
	if countryCode == "" {
		countryCode = DefaultCountryCode
	}

	international := strings.HasPrefix(trimmed, "+")
	digits := nonDigitRegex.ReplaceAllString(trimmed, "")
	if digits == "" {
		return "", fmt.Errorf("phone number %q contains no digits", raw)
	}
	if len(digits) < 6 {
		return "", fmt.Errorf("phone number %q is too short", raw)
	}

	if international {
		return "+" + digits, nil
	}
	if strings.HasPrefix(digits, "0") {
		return countryCode + digits[1:], nil
	}
	return countryCode + digits, nil
}
