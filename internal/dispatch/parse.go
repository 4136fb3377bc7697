package dispatch

import (
	"math"
	"strconv"
	"strings"
)

const (
	defaultDays = 30
	maxDays     = 3650
)

// parseDays interprets the optional day-range argument. Missing argument
// falls back to the default; anything non-numeric or out of range fails.
func parseDays(args []string) (int, bool) {
	if len(args) == 0 {
		return defaultDays, true
	}
	days, err := strconv.Atoi(args[0])
	if err != nil {
		return 0, false
	}
	if days < 1 {
		return 0, false
	}
	if days > maxDays {
		days = maxDays
	}
	return days, true
}

// parseAmount converts a decimal token into cents. Both "." and "," work
// as the decimal separator; at most two fractional digits are accepted and
// the result must be strictly positive.
func parseAmount(token string) (int64, bool) {
	token = strings.TrimSpace(strings.ReplaceAll(token, ",", "."))
	if token == "" || strings.HasPrefix(token, "-") || strings.HasPrefix(token, "+") {
		return 0, false
	}

	whole := token
	frac := ""
	if dot := strings.Index(token, "."); dot >= 0 {
		whole = token[:dot]
		frac = token[dot+1:]
	}
	if whole == "" && frac == "" {
		return 0, false
	}
	if whole == "" {
		whole = "0"
	}
	if len(frac) > 2 {
		return 0, false
	}

	units, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, false
	}
	// units*100 + 99 must stay within int64.
	if units > math.MaxInt64/100-1 {
		return 0, false
	}

	cents := int64(0)
	if frac != "" {
		f, err := strconv.ParseInt(frac, 10, 64)
		if err != nil {
			return 0, false
		}
		if len(frac) == 1 {
			f *= 10
		}
		cents = f
	}

	total := units*100 + cents
	if total <= 0 {
		return 0, false
	}
	return total, true
}
