package model

import (
	"fmt"
	"strconv"
	"strings"

	"hotspot-billing/internal/domain"
)

// ParseAmount converts a decimal string with at most two fractional digits
// ("100", "99.5", "99.50") into minor units.
func ParseAmount(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.HasPrefix(s, "-") || strings.HasPrefix(s, "+") {
		return 0, domain.ErrInvalidArgument
	}
	whole, frac, hasFrac := strings.Cut(s, ".")
	if whole == "" || (hasFrac && (frac == "" || len(frac) > 2)) {
		return 0, domain.ErrInvalidArgument
	}
	for len(frac) < 2 {
		frac += "0"
	}
	w, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, domain.ErrInvalidArgument
	}
	f, err := strconv.ParseInt(frac, 10, 64)
	if err != nil {
		return 0, domain.ErrInvalidArgument
	}
	if w > (1<<62)/100 {
		return 0, domain.ErrInvalidArgument
	}
	return w*100 + f, nil
}

// FormatAmount renders minor units as "123.45".
func FormatAmount(minor int64) string {
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	return fmt.Sprintf("%s%d.%02d", sign, minor/100, minor%100)
}

// WholeUnits rounds minor units half-up to whole currency units, the
// granularity M-Pesa accepts.
func WholeUnits(minor int64) int64 {
	return (minor + 50) / 100
}
