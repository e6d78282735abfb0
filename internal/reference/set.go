package reference

import (
	"github.com/sells-group/health-engine/internal/model"
	"github.com/sells-group/health-engine/internal/scorer"
)

// Set pairs a range catalog with a weight profile.
type Set struct {
	Ranges  *Catalog
	Weights *WeightProfile
}

// Engine returns a scorer engine backed by the set.
func (s *Set) Engine(opts scorer.ComposeOptions) *scorer.Engine {
	return scorer.New(s.Ranges, s.Weights, opts)
}

// TenantView overlays one tenant's stored overrides on a base set without
// mutating it. Other tenants resolve through the base unchanged.
type TenantView struct {
	base     *Set
	tenantID string
	ranges   map[string]model.ReferenceRange
	weights  map[model.Category]float64
}

// TenantView builds an overlay for tenantID from the given overrides.
func (s *Set) TenantView(tenantID string, ranges []model.ReferenceRange, weights map[model.Category]float64) *TenantView {
	v := &TenantView{
		base:     s,
		tenantID: tenantID,
		ranges:   make(map[string]model.ReferenceRange, len(ranges)),
		weights:  make(map[model.Category]float64, len(weights)),
	}
	for _, rr := range ranges {
		rr.TenantID = tenantID
		v.ranges[model.FoldName(rr.KPIName)] = rr
	}
	for c, w := range weights {
		v.weights[c] = w
	}
	return v
}

// ReferenceRange implements scorer.RangeLookup.
func (v *TenantView) ReferenceRange(tenantID, name string) (model.ReferenceRange, bool) {
	if tenantID == v.tenantID {
		if rr, ok := v.ranges[model.FoldName(name)]; ok {
			return rr, true
		}
	}
	return v.base.Ranges.ReferenceRange(tenantID, name)
}

// CategoryWeight implements scorer.WeightLookup.
func (v *TenantView) CategoryWeight(tenantID string, c model.Category) float64 {
	if tenantID == v.tenantID {
		if w, ok := v.weights[c]; ok {
			return w
		}
	}
	return v.base.Weights.CategoryWeight(tenantID, c)
}

// Engine returns a scorer engine that resolves through the overlay.
func (v *TenantView) Engine(opts scorer.ComposeOptions) *scorer.Engine {
	return scorer.New(v, v, opts)
}
