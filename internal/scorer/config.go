// Package scorer turns free-text KPI values into normalized health scores
// per KPI, per category and per account.
package scorer

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/health-engine/internal/model"
)

// DefaultWeights returns the system category weight profile. Weights sum to 1.
func DefaultWeights() map[model.Category]float64 {
	return model.DefaultCategoryWeights()
}

// WeightSum returns the sum of all category weights.
func WeightSum(weights map[model.Category]float64) float64 {
	var sum float64
	for _, w := range weights {
		sum += w
	}
	return sum
}

// ValidateWeights checks that a category weight profile is usable. Weights
// need not sum to 1 because composition renormalizes.
func ValidateWeights(weights map[model.Category]float64) error {
	var errs []string

	for c, w := range weights {
		if _, ok := model.ParseCategory(string(c)); !ok {
			errs = append(errs, fmt.Sprintf("unknown category %q", c))
			continue
		}
		if w < 0 || math.IsNaN(w) || math.IsInf(w, 0) {
			errs = append(errs, fmt.Sprintf("%s weight must be a finite number >= 0", c.Key()))
		}
	}

	if sum := WeightSum(weights); !(sum > 0) {
		errs = append(errs, "weight sum must be > 0")
	}

	if len(errs) > 0 {
		sort.Strings(errs)
		return eris.Errorf("scorer: weight validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
