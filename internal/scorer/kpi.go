package scorer

import (
	"github.com/sells-group/health-engine/internal/model"
)

// RangeLookup resolves the reference range for a KPI name, tenant override
// first and system default second.
type RangeLookup interface {
	ReferenceRange(tenantID, kpiName string) (model.ReferenceRange, bool)
}

// WeightLookup resolves a tenant's weight for a category.
type WeightLookup interface {
	CategoryWeight(tenantID string, c model.Category) float64
}

// RangeLookupFunc adapts a function to RangeLookup.
type RangeLookupFunc func(tenantID, kpiName string) (model.ReferenceRange, bool)

// ReferenceRange implements RangeLookup.
func (f RangeLookupFunc) ReferenceRange(tenantID, kpiName string) (model.ReferenceRange, bool) {
	return f(tenantID, kpiName)
}

// WeightLookupFunc adapts a function to WeightLookup.
type WeightLookupFunc func(tenantID string, c model.Category) float64

// CategoryWeight implements WeightLookup.
func (f WeightLookupFunc) CategoryWeight(tenantID string, c model.Category) float64 {
	return f(tenantID, c)
}

// ScoredKPI is one KPI record after normalization and classification.
// Value is nil when the raw data could not be parsed or no reference range
// exists for the KPI name.
type ScoredKPI struct {
	Record         model.KPIRecord       `json:"record"`
	Range          *model.ReferenceRange `json:"range,omitempty"`
	Value          *float64              `json:"value"`
	Classification Classification        `json:"classification"`
	ImpactWeight   float64               `json:"impact_weight"`
	WeightedScore  float64               `json:"weighted_score"`
}

// Valid reports whether the KPI participates in category arithmetic.
func (k ScoredKPI) Valid() bool {
	return k.Value != nil
}

// ScoreKPI resolves the record's reference range, normalizes its value in
// the range's unit, classifies it and attaches the impact weight.
func (e *Engine) ScoreKPI(rec model.KPIRecord) ScoredKPI {
	impact := model.ParseImpact(rec.ImpactLevel).Weight()
	out := ScoredKPI{Record: rec, ImpactWeight: impact, Classification: Unknown()}

	rr, ok := e.ranges.ReferenceRange(rec.TenantID, rec.Parameter)
	if !ok {
		return out
	}
	out.Range = &rr

	if v, ok := Normalize(rec.Data, rr.Unit); ok {
		out.Value = &v
	}
	out.Classification = Classify(out.Value, out.Range)
	out.WeightedScore = out.Classification.Score * impact
	return out
}
