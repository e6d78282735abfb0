package scorer

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/health-engine/internal/model"
)

func firstResponseTime() *model.ReferenceRange {
	return &model.ReferenceRange{
		KPIName:        "First Response Time",
		Unit:           model.UnitHours,
		HigherIsBetter: false,
		Critical:       model.Band{Min: 12, Max: 24},
		Risk:           model.Band{Min: 4, Max: 12},
		Healthy:        model.Band{Min: 0, Max: 4},
	}
}

func adoptionRate() *model.ReferenceRange {
	return &model.ReferenceRange{
		KPIName:        "Adoption Rate",
		Unit:           model.UnitPercentage,
		HigherIsBetter: true,
		Critical:       model.Band{Min: 0, Max: 40},
		Risk:           model.Band{Min: 40, Max: 70},
		Healthy:        model.Band{Min: 70, Max: 100},
	}
}

func ptr(v float64) *float64 { return &v }

func TestClassify_FirstResponseTime(t *testing.T) {
	v, ok := Normalize("3 hours", model.UnitHours)
	assert.True(t, ok)

	c := Classify(&v, firstResponseTime())
	assert.Equal(t, model.StatusHigh, c.Status)
	assert.Equal(t, model.ColorGreen, c.Color)
	assert.Greater(t, c.Score, 67.0)
	assert.LessOrEqual(t, c.Score, 100.0)
	assert.InDelta(t, 75.25, c.Score, 1e-9)
	assert.Equal(t, "0-24 hours", c.DisplayRange)
}

func TestClassify_Boundaries(t *testing.T) {
	tests := []struct {
		name   string
		rr     *model.ReferenceRange
		value  float64
		status model.Status
		score  float64
	}{
		{"higher: healthy min owned by healthy", adoptionRate(), 70, model.StatusHigh, 67},
		{"higher: risk min owned by risk", adoptionRate(), 40, model.StatusMedium, 34},
		{"higher: top edge closed", adoptionRate(), 100, model.StatusHigh, 100},
		{"higher: bottom edge", adoptionRate(), 0, model.StatusLow, 0},
		{"higher: mid healthy", adoptionRate(), 85, model.StatusHigh, 83.5},
		{"higher: inside critical", adoptionRate(), 10, model.StatusLow, 8.25},
		{"lower: healthy/risk boundary owned by risk", firstResponseTime(), 4, model.StatusMedium, 66},
		{"lower: risk/critical boundary owned by critical", firstResponseTime(), 12, model.StatusLow, 33},
		{"lower: top edge closed", firstResponseTime(), 24, model.StatusLow, 0},
		{"lower: zero is best", firstResponseTime(), 0, model.StatusHigh, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Classify(ptr(tt.value), tt.rr)
			assert.Equal(t, tt.status, c.Status)
			assert.InDelta(t, tt.score, c.Score, 1e-9)
			assert.Equal(t, tt.status.Color(), c.Color)
		})
	}
}

func TestClassify_Clamping(t *testing.T) {
	above := Classify(ptr(150), adoptionRate())
	assert.Equal(t, model.StatusHigh, above.Status)
	assert.Equal(t, 100.0, above.Score)

	slow := Classify(ptr(72), firstResponseTime())
	assert.Equal(t, model.StatusLow, slow.Status)
	assert.Equal(t, 0.0, slow.Score)

	below := Classify(ptr(-10), adoptionRate())
	assert.Equal(t, model.StatusLow, below.Status)
	assert.Equal(t, 0.0, below.Score)

	fast := Classify(ptr(-1), firstResponseTime())
	assert.Equal(t, model.StatusHigh, fast.Status)
	assert.Equal(t, 100.0, fast.Score)
}

func TestClassify_Directionality(t *testing.T) {
	higher := adoptionRate()
	prev := Classify(ptr(0), higher).Score
	for v := 0.5; v <= 110; v += 0.5 {
		s := Classify(ptr(v), higher).Score
		assert.GreaterOrEqual(t, s, prev, "higher-is-better score dropped at %v", v)
		prev = s
	}

	lower := firstResponseTime()
	prev = Classify(ptr(0), lower).Score
	for v := 0.25; v <= 30; v += 0.25 {
		s := Classify(ptr(v), lower).Score
		assert.LessOrEqual(t, s, prev, "lower-is-better score rose at %v", v)
		prev = s
	}
}

func TestClassify_Nil(t *testing.T) {
	c := Classify(nil, adoptionRate())
	assert.Equal(t, model.StatusUnknown, c.Status)
	assert.Equal(t, 0.0, c.Score)
	assert.Equal(t, model.ColorGray, c.Color)
	assert.Equal(t, "0-100%", c.DisplayRange)

	c = Classify(ptr(50), nil)
	assert.Equal(t, Unknown(), c)
}

func TestClassify_GapIsMedium(t *testing.T) {
	rr := adoptionRate()
	rr.Critical = model.Band{Min: 0, Max: 30}

	c := Classify(ptr(35), rr)
	assert.Equal(t, model.StatusMedium, c.Status)
	assert.Equal(t, 50.0, c.Score)
	assert.Equal(t, model.ColorYellow, c.Color)
}

func TestClassify_ZeroWidthBand(t *testing.T) {
	rr := adoptionRate()
	rr.Healthy = model.Band{Min: 100, Max: 100}

	c := Classify(ptr(100), rr)
	assert.Equal(t, model.StatusHigh, c.Status)
	assert.Equal(t, 67.0, c.Score)
}

func TestDisplayRange(t *testing.T) {
	currency := &model.ReferenceRange{
		Unit:           model.UnitCurrency,
		HigherIsBetter: true,
		Critical:       model.Band{Min: 0, Max: 2500},
		Risk:           model.Band{Min: 2500, Max: 5000},
		Healthy:        model.Band{Min: 5000, Max: 10000},
	}
	days := &model.ReferenceRange{
		Unit:     model.UnitDays,
		Healthy:  model.Band{Min: 0, Max: 7},
		Risk:     model.Band{Min: 7, Max: 14},
		Critical: model.Band{Min: 14, Max: 30},
	}
	ratio := &model.ReferenceRange{
		Unit:           model.UnitRatio,
		HigherIsBetter: true,
		Critical:       model.Band{Min: 0, Max: 0.5},
		Risk:           model.Band{Min: 0.5, Max: 0.8},
		Healthy:        model.Band{Min: 0.8, Max: 1.5},
	}

	assert.Equal(t, "0-100%", DisplayRange(adoptionRate()))
	assert.Equal(t, "$0-$10000", DisplayRange(currency))
	assert.Equal(t, "0-30 days", DisplayRange(days))
	assert.Equal(t, "0-1.5", DisplayRange(ratio))
	assert.Equal(t, "", DisplayRange(nil))
}
