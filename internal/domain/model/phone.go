package model

import (
	"strings"

	"hotspot-billing/internal/domain"
)

// DefaultCountryCode is the dialing prefix applied to local numbers.
const DefaultCountryCode = "254"

// NormalizePhone converts local ("0712345678"), bare ("712345678") and
// international ("+254712345678", "254 712 345 678") forms into the single
// canonical form "254712345678".
func NormalizePhone(raw string) (string, error) {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	d := b.String()
	switch {
	case strings.HasPrefix(d, DefaultCountryCode) && len(d) == len(DefaultCountryCode)+9:
	case strings.HasPrefix(d, "0") && len(d) == 10:
		d = DefaultCountryCode + d[1:]
	case len(d) == 9 && (d[0] == '7' || d[0] == '1'):
		d = DefaultCountryCode + d
	default:
		return "", domain.ErrInvalidArgument
	}
	if sub := d[len(DefaultCountryCode)]; sub != '7' && sub != '1' {
		return "", domain.ErrInvalidArgument
	}
	return d, nil
}
