package reference

import (
	"sync"

	"github.com/sells-group/health-engine/internal/model"
)

// WeightProfile is the default category weight profile plus sparse
// per-tenant overrides. A tenant without an entry for a category gets the
// default for that category.
type WeightProfile struct {
	mu       sync.RWMutex
	defaults map[model.Category]float64
	tenants  map[string]map[model.Category]float64
}

// NewWeightProfile returns a profile over defaults. A nil map uses the
// system default profile.
func NewWeightProfile(defaults map[model.Category]float64) *WeightProfile {
	if defaults == nil {
		defaults = model.DefaultCategoryWeights()
	}
	cp := make(map[model.Category]float64, len(defaults))
	for c, w := range defaults {
		cp[c] = w
	}
	return &WeightProfile{defaults: cp, tenants: make(map[string]map[model.Category]float64)}
}

// SetTenantWeight overrides the weight of c for tenantID.
func (p *WeightProfile) SetTenantWeight(tenantID string, c model.Category, w float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	m, ok := p.tenants[tenantID]
	if !ok {
		m = make(map[model.Category]float64)
		p.tenants[tenantID] = m
	}
	m[c] = w
}

// CategoryWeight resolves the weight of c for tenantID.
func (p *WeightProfile) CategoryWeight(tenantID string, c model.Category) float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if m, ok := p.tenants[tenantID]; ok {
		if w, ok := m[c]; ok {
			return w
		}
	}
	return p.defaults[c]
}

// Resolved returns the effective weight of every category for tenantID.
func (p *WeightProfile) Resolved(tenantID string) map[model.Category]float64 {
	out := make(map[model.Category]float64, len(model.Categories()))
	for _, c := range model.Categories() {
		out[c] = p.CategoryWeight(tenantID, c)
	}
	return out
}
