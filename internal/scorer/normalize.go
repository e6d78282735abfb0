package scorer

import (
	"math"
	"strconv"
	"strings"

	"github.com/sells-group/health-engine/internal/model"
)

const hoursPerDay = 24.0

// timeTokens maps recognized time-unit words to the unit they denote.
var timeTokens = map[string]model.Unit{
	"hours": model.UnitHours,
	"hour":  model.UnitHours,
	"hrs":   model.UnitHours,
	"hr":    model.UnitHours,
	"days":  model.UnitDays,
	"day":   model.UnitDays,
}

// Normalize parses a free-text KPI value into a number expressed in target.
// It recognizes percent suffixes, dollar prefixes, K/M multipliers and
// hours/days tokens (converting between the two at 24h = 1d). The second
// return is false when nothing could be parsed, or the result is negative
// or not finite. A false return is an expected outcome, not an error.
func Normalize(raw string, target model.Unit) (float64, bool) {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.ReplaceAll(s, ",", "")
	if s == "" {
		return 0, false
	}

	var (
		v  float64
		ok bool
	)
	switch {
	case strings.HasSuffix(s, "%"):
		v, ok = parseFloat(strings.TrimSuffix(s, "%"))
	case strings.HasPrefix(s, "$"):
		v, ok = parseMultiplied(strings.TrimPrefix(s, "$"))
	default:
		if unit, num, found := splitTimeToken(s); found {
			v, ok = parseFloat(num)
			if ok {
				v = convertTime(v, unit, target)
			}
		} else {
			v, ok = parseMultiplied(s)
		}
	}
	if !ok {
		return 0, false
	}
	return v, true
}

// splitTimeToken separates "3 hours" / "2.5days" into the numeric part and
// the time unit it names.
func splitTimeToken(s string) (model.Unit, string, bool) {
	for _, word := range []string{"hours", "hour", "hrs", "hr", "days", "day"} {
		if strings.HasSuffix(s, word) {
			num := strings.TrimSpace(strings.TrimSuffix(s, word))
			if num == "" {
				return "", "", false
			}
			return timeTokens[word], num, true
		}
	}
	return "", "", false
}

// convertTime converts v from one time unit to the KPI's declared unit.
// Non-time targets get the value unchanged.
func convertTime(v float64, from, to model.Unit) float64 {
	switch {
	case from == model.UnitHours && to == model.UnitDays:
		return v / hoursPerDay
	case from == model.UnitDays && to == model.UnitHours:
		return v * hoursPerDay
	default:
		return v
	}
}

// parseMultiplied parses a number with an optional K (thousand) or
// M (million) suffix.
func parseMultiplied(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	mult := 1.0
	switch {
	case strings.HasSuffix(s, "k"):
		mult = 1_000
		s = strings.TrimSuffix(s, "k")
	case strings.HasSuffix(s, "m"):
		mult = 1_000_000
		s = strings.TrimSuffix(s, "m")
	}
	v, ok := parseFloat(s)
	if !ok {
		return 0, false
	}
	return v * mult, true
}

// parseFloat accepts plain decimal notation only. Hex floats, exponents
// and signs are rejected.
func parseFloat(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if !isDecimal(s) {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0, false
	}
	return v, true
}

func isDecimal(s string) bool {
	digits, dots := 0, 0
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			digits++
		case r == '.':
			dots++
		default:
			return false
		}
	}
	return digits > 0 && dots <= 1
}
