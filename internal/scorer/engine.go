package scorer

import (
	"go.uber.org/zap"

	"github.com/sells-group/health-engine/internal/model"
)

// Engine scores KPI records against injected reference data. It holds no
// mutable state and is safe for concurrent use.
type Engine struct {
	ranges  RangeLookup
	weights WeightLookup
	opts    ComposeOptions
}

// AccountScore is the full scoring result for one account's KPI set.
type AccountScore struct {
	TenantID   string          `json:"tenant_id"`
	Overall    OverallScore    `json:"overall"`
	Categories []CategoryScore `json:"categories"`
	KPIs       []ScoredKPI     `json:"kpis"`
	TotalKPIs  int             `json:"total_kpis"`
	ValidKPIs  int             `json:"valid_kpis"`
}

// Category returns the score for c, if present.
func (a AccountScore) Category(c model.Category) (CategoryScore, bool) {
	for _, cs := range a.Categories {
		if cs.Category == c {
			return cs, true
		}
	}
	return CategoryScore{}, false
}

// HealthTrend projects the score onto a persisted trend row for p.
func (a AccountScore) HealthTrend(accountID string, p model.Period) model.HealthTrend {
	t := model.HealthTrend{
		AccountID:    accountID,
		TenantID:     a.TenantID,
		Month:        p.Month,
		Year:         p.Year,
		OverallScore: a.Overall.Score,
		TotalKPIs:    a.TotalKPIs,
		ValidKPIs:    a.ValidKPIs,
	}
	for _, cs := range a.Categories {
		t.SetCategoryScore(cs.Category, cs.Score)
	}
	return t
}

var noRanges = RangeLookupFunc(func(string, string) (model.ReferenceRange, bool) {
	return model.ReferenceRange{}, false
})

var defaultWeights = WeightLookupFunc(func(_ string, c model.Category) float64 {
	return model.DefaultCategoryWeights()[c]
})

// New creates an Engine. A nil ranges lookup resolves nothing; a nil
// weights lookup uses the system default profile.
func New(ranges RangeLookup, weights WeightLookup, opts ComposeOptions) *Engine {
	if ranges == nil {
		ranges = noRanges
	}
	if weights == nil {
		weights = defaultWeights
	}
	return &Engine{ranges: ranges, weights: weights, opts: opts}
}

// ScoreAccount scores every record, aggregates per category in canonical
// order and composes the overall score. Records whose category is not one
// of the five known categories count toward TotalKPIs only.
func (e *Engine) ScoreAccount(tenantID string, records []model.KPIRecord) AccountScore {
	out := AccountScore{TenantID: tenantID, TotalKPIs: len(records)}
	byCat := make(map[model.Category][]ScoredKPI, len(model.Categories()))

	for _, rec := range records {
		if rec.TenantID == "" {
			rec.TenantID = tenantID
		}
		sk := e.ScoreKPI(rec)
		out.KPIs = append(out.KPIs, sk)

		cat, ok := model.ParseCategory(rec.Category)
		if !ok {
			zap.L().Warn("scorer: kpi has unknown category",
				zap.String("tenant_id", tenantID),
				zap.String("kpi_id", rec.ID),
				zap.String("category", rec.Category),
			)
			continue
		}
		byCat[cat] = append(byCat[cat], sk)
	}

	for _, cat := range model.Categories() {
		cs := Aggregate(cat, byCat[cat], e.weights.CategoryWeight(tenantID, cat))
		out.ValidKPIs += cs.ValidKPICount
		out.Categories = append(out.Categories, cs)
	}
	out.Overall = Compose(out.Categories, e.opts)
	return out
}

// ScoreValue classifies a single raw value against the KPI's resolved
// range without persisting anything.
func (e *Engine) ScoreValue(tenantID, kpiName, raw string) Classification {
	rr, ok := e.ranges.ReferenceRange(tenantID, kpiName)
	if !ok {
		return Unknown()
	}
	var value *float64
	if v, ok := Normalize(raw, rr.Unit); ok {
		value = &v
	}
	return Classify(value, &rr)
}
