package reference

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/health-engine/internal/model"
	"github.com/sells-group/health-engine/internal/scorer"
)

func TestDefaults(t *testing.T) {
	doc, err := Defaults()
	require.NoError(t, err)
	require.NoError(t, ValidateDocument(doc))
	assert.NotEmpty(t, doc.ReferenceRanges)

	weights, err := doc.Weights()
	require.NoError(t, err)
	assert.InDelta(t, 1.0, scorer.WeightSum(weights), 1e-9)
	assert.Equal(t, 0.30, weights[model.CategoryProductUsage])

	set, err := doc.Set()
	require.NoError(t, err)
	rr, ok := set.Ranges.ReferenceRange("", "first response time")
	require.True(t, ok)
	assert.Equal(t, model.UnitHours, rr.Unit)
	assert.False(t, rr.HigherIsBetter)
}

func TestLoad_EmptyPathUsesDefaults(t *testing.T) {
	set, err := Load("")
	require.NoError(t, err)

	c := set.Engine(scorer.ComposeOptions{}).ScoreValue("any", "First Response Time", "3 hours")
	assert.Equal(t, model.StatusHigh, c.Status)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ranges.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
category_weights:
  support: 0.5
reference_ranges:
  - kpi_name: Backlog
    unit: Count
    higher_is_better: false
    critical: {min: 50, max: 100}
    risk: {min: 10, max: 50}
    healthy: {min: 0, max: 10}
`), 0o644))

	set, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 1, set.Ranges.Len())
	assert.Equal(t, 0.5, set.Weights.CategoryWeight("", model.CategorySupport))
	assert.Equal(t, 0.30, set.Weights.CategoryWeight("", model.CategoryProductUsage))

	rr, ok := set.Ranges.ReferenceRange("", "BACKLOG")
	require.True(t, ok)
	assert.Equal(t, model.UnitCount, rr.Unit)
}

func TestLoadFile_Errors(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "reference: read document")

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("reference_ranges: [\n"), 0o644))
	_, err = LoadFile(path)
	assert.ErrorContains(t, err, "reference: parse document")

	path = filepath.Join(t.TempDir(), "weights.yaml")
	require.NoError(t, os.WriteFile(path, []byte("category_weights:\n  marketing: 1\n"), 0o644))
	_, err = Load(path)
	assert.ErrorContains(t, err, `unknown category "marketing"`)
}

func TestCatalog_TwoTierLookup(t *testing.T) {
	c := NewCatalog(
		model.ReferenceRange{KPIName: "NPS", Unit: model.UnitScore},
		model.ReferenceRange{TenantID: "t1", KPIName: "nps", Unit: model.UnitPercentage},
	)

	rr, ok := c.ReferenceRange("t1", "  NPS ")
	require.True(t, ok)
	assert.Equal(t, model.UnitPercentage, rr.Unit)

	rr, ok = c.ReferenceRange("t2", "NPS")
	require.True(t, ok)
	assert.Equal(t, model.UnitScore, rr.Unit)

	_, ok = c.ReferenceRange("t1", "CSAT")
	assert.False(t, ok)

	assert.Len(t, c.List(""), 1)
	assert.Len(t, c.List("t1"), 1)
	assert.Equal(t, 2, c.Len())
}

func TestWeightProfile(t *testing.T) {
	p := NewWeightProfile(nil)
	p.SetTenantWeight("t1", model.CategorySupport, 0.5)

	assert.Equal(t, 0.5, p.CategoryWeight("t1", model.CategorySupport))
	assert.Equal(t, 0.30, p.CategoryWeight("t1", model.CategoryProductUsage))
	assert.Equal(t, 0.20, p.CategoryWeight("t2", model.CategorySupport))

	resolved := p.Resolved("t1")
	assert.Len(t, resolved, 5)
	assert.Equal(t, 0.5, resolved[model.CategorySupport])
}

func TestTenantView(t *testing.T) {
	set, err := Load("")
	require.NoError(t, err)

	strict := model.ReferenceRange{
		KPIName:  "First Response Time",
		Unit:     model.UnitHours,
		Healthy:  model.Band{Min: 0, Max: 1},
		Risk:     model.Band{Min: 1, Max: 4},
		Critical: model.Band{Min: 4, Max: 24},
	}
	view := set.TenantView("t1", []model.ReferenceRange{strict},
		map[model.Category]float64{model.CategorySupport: 1})

	e := view.Engine(scorer.ComposeOptions{})
	assert.Equal(t, model.StatusMedium, e.ScoreValue("t1", "First Response Time", "3 hours").Status)
	assert.Equal(t, model.StatusHigh, e.ScoreValue("t2", "First Response Time", "3 hours").Status)

	assert.Equal(t, 1.0, view.CategoryWeight("t1", model.CategorySupport))
	assert.Equal(t, 0.20, view.CategoryWeight("t2", model.CategorySupport))
	assert.Equal(t, 0.30, view.CategoryWeight("t1", model.CategoryProductUsage))

	rr, ok := set.Ranges.ReferenceRange("t1", "First Response Time")
	require.True(t, ok)
	assert.Equal(t, 4.0, rr.Healthy.Max, "base set must not change")
}

func TestValidateRange(t *testing.T) {
	good := model.ReferenceRange{
		KPIName:        "Adoption Rate",
		HigherIsBetter: true,
		Critical:       model.Band{Min: 0, Max: 40},
		Risk:           model.Band{Min: 40, Max: 70},
		Healthy:        model.Band{Min: 70, Max: 100},
	}
	assert.NoError(t, ValidateRange(good))

	inverted := good
	inverted.Risk = model.Band{Min: 70, Max: 40}
	assert.ErrorContains(t, ValidateRange(inverted), "risk min must be <= max")

	overlap := good
	overlap.Critical = model.Band{Min: 0, Max: 50}
	assert.ErrorContains(t, ValidateRange(overlap), "critical overlaps risk")

	flipped := good
	flipped.HigherIsBetter = false
	err := ValidateRange(flipped)
	assert.ErrorContains(t, err, "healthy overlaps risk")
	assert.ErrorContains(t, err, "risk overlaps critical")

	unnamed := good
	unnamed.KPIName = ""
	assert.ErrorContains(t, ValidateRange(unnamed), "kpi_name is required")
}

func TestValidateDocument_Duplicates(t *testing.T) {
	doc := &Document{ReferenceRanges: []model.ReferenceRange{
		{KPIName: "NPS", HigherIsBetter: true},
		{KPIName: "nps", HigherIsBetter: true},
	}}
	assert.ErrorContains(t, ValidateDocument(doc), `duplicate kpi_name "nps"`)
}
