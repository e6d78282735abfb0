package reference

import (
	"sort"
	"sync"

	"github.com/sells-group/health-engine/internal/model"
)

type catalogKey struct {
	tenantID string
	name     string
}

// Catalog maps (tenant, KPI name) to a reference range. Entries with an
// empty tenant are the system defaults. KPI names are matched after case
// folding and whitespace collapsing.
type Catalog struct {
	mu     sync.RWMutex
	ranges map[catalogKey]model.ReferenceRange
}

// NewCatalog returns a catalog seeded with ranges.
func NewCatalog(ranges ...model.ReferenceRange) *Catalog {
	c := &Catalog{ranges: make(map[catalogKey]model.ReferenceRange, len(ranges))}
	for _, rr := range ranges {
		c.Set(rr)
	}
	return c
}

// Set adds or replaces the range for rr.TenantID and rr.KPIName.
func (c *Catalog) Set(rr model.ReferenceRange) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ranges[catalogKey{rr.TenantID, model.FoldName(rr.KPIName)}] = rr
}

// ReferenceRange resolves name for tenantID, falling back to the system
// default.
func (c *Catalog) ReferenceRange(tenantID, name string) (model.ReferenceRange, bool) {
	key := model.FoldName(name)
	c.mu.RLock()
	defer c.mu.RUnlock()
	if tenantID != "" {
		if rr, ok := c.ranges[catalogKey{tenantID, key}]; ok {
			return rr, true
		}
	}
	rr, ok := c.ranges[catalogKey{"", key}]
	return rr, ok
}

// List returns the ranges defined for tenantID (system defaults for an
// empty tenant), sorted by KPI name.
func (c *Catalog) List(tenantID string) []model.ReferenceRange {
	c.mu.RLock()
	var out []model.ReferenceRange
	for k, rr := range c.ranges {
		if k.tenantID == tenantID {
			out = append(out, rr)
		}
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].KPIName < out[j].KPIName })
	return out
}

// Len returns the number of entries across all tenants.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.ranges)
}
