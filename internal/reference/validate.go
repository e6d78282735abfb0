package reference

import (
	"fmt"
	"math"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/health-engine/internal/model"
	"github.com/sells-group/health-engine/internal/scorer"
)

// ValidateRange checks that every band is well formed and that the bands
// do not overlap in their physical order.
func ValidateRange(rr model.ReferenceRange) error {
	errs := rangeProblems(rr)
	if len(errs) > 0 {
		return eris.Errorf("reference: range %q validation failed: %s", rr.KPIName, strings.Join(errs, "; "))
	}
	return nil
}

func rangeProblems(rr model.ReferenceRange) []string {
	var errs []string

	if strings.TrimSpace(rr.KPIName) == "" {
		errs = append(errs, "kpi_name is required")
	}

	named := []struct {
		name string
		b    model.Band
	}{
		{"critical", rr.Critical},
		{"risk", rr.Risk},
		{"healthy", rr.Healthy},
	}
	for _, n := range named {
		if !finite(n.b.Min) || !finite(n.b.Max) {
			errs = append(errs, fmt.Sprintf("%s bounds must be finite", n.name))
			continue
		}
		if n.b.Min > n.b.Max {
			errs = append(errs, fmt.Sprintf("%s min must be <= max (got %g > %g)", n.name, n.b.Min, n.b.Max))
		}
	}

	// Physical order: ascending numeric bands as the classifier sees them.
	order := []string{"critical", "risk", "healthy"}
	bands := []model.Band{rr.Critical, rr.Risk, rr.Healthy}
	if !rr.HigherIsBetter {
		order = []string{"healthy", "risk", "critical"}
		bands = []model.Band{rr.Healthy, rr.Risk, rr.Critical}
	}
	for i := 0; i+1 < len(bands); i++ {
		if bands[i].Max > bands[i+1].Min {
			errs = append(errs, fmt.Sprintf("%s overlaps %s", order[i], order[i+1]))
		}
	}
	return errs
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// ValidateDocument validates every range and the weight profile of doc,
// reporting all problems at once.
func ValidateDocument(doc *Document) error {
	var errs []string

	seen := make(map[string]bool, len(doc.ReferenceRanges))
	for _, rr := range doc.ReferenceRanges {
		key := model.FoldName(rr.KPIName)
		if seen[key] && key != "" {
			errs = append(errs, fmt.Sprintf("duplicate kpi_name %q", rr.KPIName))
		}
		seen[key] = true
		for _, p := range rangeProblems(rr) {
			errs = append(errs, fmt.Sprintf("%s: %s", rr.KPIName, p))
		}
	}

	weights, err := doc.Weights()
	if err != nil {
		errs = append(errs, err.Error())
	} else if err := scorer.ValidateWeights(weights); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return eris.Errorf("reference: document validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
