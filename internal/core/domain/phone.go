package domain

import (
	"errors"
	"strings"
)

// ErrInvalidPhone is returned when a number cannot be normalized to a Kenyan MSISDN.
var ErrInvalidPhone = errors.New("invalid phone number")

const countryCode = "254"

// NormalizePhone converts 0XXXXXXXXX, +254XXXXXXXXX and 254XXXXXXXXX into 254XXXXXXXXX.
// Spaces and dashes are ignored. Subscriber numbers must start with 1 or 7.
func NormalizePhone(raw string) (string, error) {
	s := strings.NewReplacer(" ", "", "-", "", "(", "", ")", "").Replace(strings.TrimSpace(raw))

	var subscriber string
	switch {
	case strings.HasPrefix(s, "+"+countryCode):
		subscriber = s[len(countryCode)+1:]
	case strings.HasPrefix(s, countryCode):
		subscriber = s[len(countryCode):]
	case strings.HasPrefix(s, "0"):
		subscriber = s[1:]
	default:
		return "", ErrInvalidPhone
	}

	if len(subscriber) != 9 || !isDigits(subscriber) {
		return "", ErrInvalidPhone
	}
	if subscriber[0] != '7' && subscriber[0] != '1' {
		return "", ErrInvalidPhone
	}
	return countryCode + subscriber, nil
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
