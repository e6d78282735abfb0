// Package model defines the data types shared by the scoring engine, the
// storage adapters and the HTTP/CLI surfaces.
package model

import (
	"strings"

	"golang.org/x/text/cases"
)

// Category is one of the fixed business dimensions KPIs are grouped into.
type Category string

const (
	CategoryProductUsage         Category = "Product Usage"
	CategorySupport              Category = "Support"
	CategoryCustomerSentiment    Category = "Customer Sentiment"
	CategoryBusinessOutcomes     Category = "Business Outcomes"
	CategoryRelationshipStrength Category = "Relationship Strength"
)

var allCategories = []Category{
	CategoryProductUsage,
	CategorySupport,
	CategoryCustomerSentiment,
	CategoryBusinessOutcomes,
	CategoryRelationshipStrength,
}

// Categories returns the five categories in canonical order.
func Categories() []Category {
	out := make([]Category, len(allCategories))
	copy(out, allCategories)
	return out
}

// Key returns the snake_case form used for config keys and column names.
func (c Category) Key() string {
	return strings.ReplaceAll(strings.ToLower(string(c)), " ", "_")
}

// ParseCategory maps a free-text category label onto the closed set.
// Matching folds case, collapses whitespace and ignores a trailing
// "KPI"/"KPIs" suffix, so "support kpi" and "Support" both resolve.
func ParseCategory(raw string) (Category, bool) {
	key := foldLabel(raw)
	for _, suffix := range []string{" kpis", " kpi"} {
		key = strings.TrimSuffix(key, suffix)
	}
	if key == "" {
		return "", false
	}
	for _, c := range allCategories {
		if foldLabel(string(c)) == key || c.Key() == key {
			return c, true
		}
	}
	return "", false
}

// foldLabel returns a case-folded, single-spaced form of s. A Caser keeps
// state, so one is built per call.
func foldLabel(s string) string {
	return cases.Fold().String(strings.Join(strings.Fields(s), " "))
}

// FoldName is the lookup key for free-text KPI names.
func FoldName(name string) string {
	return foldLabel(name)
}

// DefaultCategoryWeights is the system weight profile. It sums to 1.0.
func DefaultCategoryWeights() map[Category]float64 {
	return map[Category]float64{
		CategoryProductUsage:         0.30,
		CategorySupport:              0.20,
		CategoryCustomerSentiment:    0.20,
		CategoryBusinessOutcomes:     0.15,
		CategoryRelationshipStrength: 0.15,
	}
}
