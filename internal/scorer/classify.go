package scorer

import (
	"fmt"
	"math"
	"strconv"

	"github.com/sells-group/health-engine/internal/model"
)

// Sub-score ranges per status.
const (
	lowFloor    = 0.0
	lowCeil     = 33.0
	mediumFloor = 34.0
	mediumCeil  = 66.0
	highFloor   = 67.0
	highCeil    = 100.0

	// gapScore is assigned to values that fall between two defined bands.
	gapScore = 50.0
)

// Classification is the result of placing one value into a reference range.
type Classification struct {
	Status       model.Status `json:"status"`
	Score        float64      `json:"score"`
	Color        model.Color  `json:"color"`
	DisplayRange string       `json:"display_range"`
}

// Unknown is the classification of a value that could not be scored.
func Unknown() Classification {
	return Classification{Status: model.StatusUnknown, Score: 0, Color: model.ColorGray}
}

// band pairs a reference band with the status it yields.
type band struct {
	model.Band
	status model.Status
}

// physicalBands returns the three bands in ascending numeric order.
// Higher-is-better KPIs run critical < risk < healthy; lower-is-better
// KPIs run healthy < risk < critical.
func physicalBands(rr *model.ReferenceRange) [3]band {
	critical := band{rr.Critical, model.StatusLow}
	risk := band{rr.Risk, model.StatusMedium}
	healthy := band{rr.Healthy, model.StatusHigh}
	if rr.HigherIsBetter {
		return [3]band{critical, risk, healthy}
	}
	return [3]band{healthy, risk, critical}
}

// Classify places value into rr and interpolates a 0-100 sub-score.
//
// Bands are half-open [min, max) except the physically highest band, which
// also includes its max; a shared boundary therefore belongs to the upper
// band. Values beyond the outermost bands clamp to that band. A nil value
// or range yields Unknown.
func Classify(value *float64, rr *model.ReferenceRange) Classification {
	if value == nil || rr == nil {
		c := Unknown()
		c.DisplayRange = DisplayRange(rr)
		return c
	}
	v := *value
	bands := physicalBands(rr)
	lowest, highest := bands[0], bands[2]

	var (
		hit   band
		found bool
	)
	switch {
	case v < lowest.Min:
		hit, found = lowest, true
	case v > highest.Max:
		hit, found = highest, true
	default:
		for i, b := range bands {
			inside := v >= b.Min && v < b.Max
			if i == len(bands)-1 {
				inside = v >= b.Min && v <= b.Max
			}
			if inside {
				hit, found = b, true
				break
			}
		}
	}

	c := Classification{DisplayRange: DisplayRange(rr)}
	if !found {
		// Gap between two bands.
		c.Status = model.StatusMedium
		c.Score = gapScore
		c.Color = c.Status.Color()
		return c
	}

	c.Status = hit.status
	c.Score = interpolate(v, hit, rr.HigherIsBetter)
	c.Color = c.Status.Color()
	return c
}

// interpolate maps v's position inside b onto the status sub-range. The
// "better" edge of the band scores highest: max for higher-is-better KPIs,
// min for lower-is-better ones. Zero-width or inverted bands return the
// sub-range floor.
func interpolate(v float64, b band, higherIsBetter bool) float64 {
	floor, ceil := subRange(b.status)
	width := b.Width()
	if width <= 0 {
		return floor
	}

	pos := (v - b.Min) / width
	if !higherIsBetter {
		pos = (b.Max - v) / width
	}
	pos = math.Max(0, math.Min(1, pos))
	return floor + pos*(ceil-floor)
}

func subRange(s model.Status) (float64, float64) {
	switch s {
	case model.StatusHigh:
		return highFloor, highCeil
	case model.StatusMedium:
		return mediumFloor, mediumCeil
	default:
		return lowFloor, lowCeil
	}
}

// statusFor applies the shared 0-100 thresholds used for categories and
// overall scores.
func statusFor(score float64) model.Status {
	switch {
	case score >= highFloor:
		return model.StatusHigh
	case score >= mediumFloor:
		return model.StatusMedium
	default:
		return model.StatusLow
	}
}

// DisplayRange renders the span from the lowest band's min to the highest
// band's max, formatted for the range's unit. It is derived from the bands
// on every call.
func DisplayRange(rr *model.ReferenceRange) string {
	if rr == nil {
		return ""
	}
	bands := physicalBands(rr)
	lo, hi := formatNumber(bands[0].Min), formatNumber(bands[2].Max)
	switch rr.Unit {
	case model.UnitPercentage:
		return fmt.Sprintf("%s-%s%%", lo, hi)
	case model.UnitCurrency:
		return fmt.Sprintf("$%s-$%s", lo, hi)
	case model.UnitHours:
		return fmt.Sprintf("%s-%s hours", lo, hi)
	case model.UnitDays:
		return fmt.Sprintf("%s-%s days", lo, hi)
	default:
		return fmt.Sprintf("%s-%s", lo, hi)
	}
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
