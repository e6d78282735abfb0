package scorer

import "github.com/sells-group/health-engine/internal/model"

// CategoryScore is the impact-weighted average of a category's valid KPIs.
type CategoryScore struct {
	Category      model.Category `json:"category"`
	Score         float64        `json:"score"`
	Status        model.Status   `json:"status"`
	Color         model.Color    `json:"color"`
	KPICount      int            `json:"kpi_count"`
	ValidKPICount int            `json:"valid_kpi_count"`
	Weight        float64        `json:"weight"`
	WeightedScore float64        `json:"weighted_score"`
}

// Aggregate combines the scored KPIs of one category. Only KPIs with a
// value participate; the result stays on the 0-100 scale regardless of how
// many KPIs the category holds. A category without valid KPIs scores 0 with
// status unknown.
func Aggregate(cat model.Category, scored []ScoredKPI, weight float64) CategoryScore {
	cs := CategoryScore{
		Category: cat,
		KPICount: len(scored),
		Weight:   weight,
		Status:   model.StatusUnknown,
		Color:    model.ColorGray,
	}

	var sumWeighted, sumImpact float64
	for _, k := range scored {
		if !k.Valid() {
			continue
		}
		cs.ValidKPICount++
		sumWeighted += k.WeightedScore
		sumImpact += k.ImpactWeight
	}
	if cs.ValidKPICount == 0 || sumImpact <= 0 {
		return cs
	}

	cs.Score = round2(sumWeighted / sumImpact)
	cs.Status = statusFor(cs.Score)
	cs.Color = cs.Status.Color()
	cs.WeightedScore = round2(cs.Score * weight)
	return cs
}
