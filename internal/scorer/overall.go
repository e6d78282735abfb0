package scorer

import "github.com/sells-group/health-engine/internal/model"

// ComposeOptions controls how empty categories enter the overall score.
type ComposeOptions struct {
	// ExcludeEmpty drops categories with no valid KPIs from both sides of
	// the weighted average. By default they count with score 0.
	ExcludeEmpty bool `json:"exclude_empty" mapstructure:"exclude_empty_categories"`
}

// OverallScore is the weighted average of the category scores.
type OverallScore struct {
	Score  float64      `json:"score"`
	Status model.Status `json:"status"`
	Color  model.Color  `json:"color"`
}

// Compose renormalizes by the weights actually present, so profiles that do
// not sum to 1 and missing categories still yield a 0-100 score. The
// result is recomputed from Score and Weight, never from WeightedScore.
func Compose(categories []CategoryScore, opts ComposeOptions) OverallScore {
	out := OverallScore{Status: model.StatusUnknown, Color: model.ColorGray}

	var (
		sumScore, sumWeight float64
		anyValid            bool
	)
	for _, c := range categories {
		if c.ValidKPICount > 0 {
			anyValid = true
		} else if opts.ExcludeEmpty {
			continue
		}
		if c.Weight <= 0 {
			continue
		}
		sumScore += c.Score * c.Weight
		sumWeight += c.Weight
	}
	if !anyValid || sumWeight <= 0 {
		return out
	}

	out.Score = round2(sumScore / sumWeight)
	out.Status = statusFor(out.Score)
	out.Color = out.Status.Color()
	return out
}
