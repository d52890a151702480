package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// Money is an amount of euros expressed in cents. Arithmetic on orders stays
// exact because no floating point is involved anywhere in the pipeline.
type Money int64

// String renders the amount as a two-decimal string, e.g. 4000 -> "40.00".
func (m Money) String() string {
	sign := ""
	v := int64(m)
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}

// ParseMoney converts a decimal string such as "40.00" or "8" into cents.
func ParseMoney(raw string) (Money, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, fmt.Errorf("money: empty amount")
	}

	negative := false
	if strings.HasPrefix(raw, "-") {
		negative = true
		raw = raw[1:]
	}

	whole := raw
	frac := ""
	if idx := strings.IndexAny(raw, ".,"); idx >= 0 {
		whole = raw[:idx]
		frac = raw[idx+1:]
	}
	if whole == "" {
		whole = "0"
	}
	if len(frac) > 2 {
		return 0, fmt.Errorf("money: more than two decimal places in %q", raw)
	}
	for len(frac) < 2 {
		frac += "0"
	}

	units, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("money: invalid amount %q", raw)
	}
	cents, err := strconv.ParseInt(frac, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("money: invalid amount %q", raw)
	}

	total := units*100 + cents
	if negative {
		total = -total
	}
	return Money(total), nil
}
