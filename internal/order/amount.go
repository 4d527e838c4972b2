package order

import (
	"fmt"
	"strconv"
	"strings"
)

// Amount is a monetary value in minor units (cents). Two decimal places are
// kept; floats are never used for storage or comparison.
type Amount int64

// ParseAmount parses "12", "12.5" or "12.50". Negative values and more than
// two fractional digits are rejected.
func ParseAmount(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty amount")
	}
	whole, frac, hasFrac := strings.Cut(s, ".")
	if whole == "" || !isDigits(whole) {
		return 0, fmt.Errorf("invalid amount %q", s)
	}
	if hasFrac && (len(frac) == 0 || len(frac) > 2 || !isDigits(frac)) {
		return 0, fmt.Errorf("invalid amount %q", s)
	}
	units, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	for len(frac) < 2 {
		frac += "0"
	}
	cents, _ := strconv.ParseInt(frac, 10, 64)
	if units > (1<<62)/100 {
		return 0, fmt.Errorf("amount %q out of range", s)
	}
	return Amount(units*100 + cents), nil
}

// String formats the amount with exactly two decimal places.
func (a Amount) String() string {
	return fmt.Sprintf("%d.%02d", int64(a)/100, int64(a)%100)
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
