package model

import "strings"

// ImpactLevel is the coarse importance tag carried by each KPI record.
type ImpactLevel string

const (
	ImpactHigh   ImpactLevel = "High"
	ImpactMedium ImpactLevel = "Medium"
	ImpactLow    ImpactLevel = "Low"
)

// ParseImpact normalizes an impact label. Missing or unrecognized labels
// default to Medium.
func ParseImpact(raw string) ImpactLevel {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "high":
		return ImpactHigh
	case "low":
		return ImpactLow
	default:
		return ImpactMedium
	}
}

// Weight returns the intra-category weight for the impact level.
func (l ImpactLevel) Weight() float64 {
	switch l {
	case ImpactHigh:
		return 3
	case ImpactLow:
		return 1
	default:
		return 2
	}
}

// Unit is the declared measurement unit of a KPI.
type Unit string

const (
	UnitPercentage Unit = "percentage"
	UnitCurrency   Unit = "currency"
	UnitHours      Unit = "hours"
	UnitDays       Unit = "days"
	UnitCount      Unit = "count"
	UnitRatio      Unit = "ratio"
	UnitScore      Unit = "score"
)

// ParseUnit maps a unit label onto a Unit. Unknown labels become UnitCount.
func ParseUnit(raw string) Unit {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "percentage", "percent", "%":
		return UnitPercentage
	case "currency", "usd", "$":
		return UnitCurrency
	case "hours", "hour", "hrs":
		return UnitHours
	case "days", "day":
		return UnitDays
	case "ratio":
		return UnitRatio
	case "score":
		return UnitScore
	default:
		return UnitCount
	}
}

// KPIRecord is a raw metric row produced by the upload pipeline.
type KPIRecord struct {
	ID                   string `json:"id"`
	AccountID            string `json:"account_id"`
	TenantID             string `json:"tenant_id"`
	Category             string `json:"category"`
	Parameter            string `json:"kpi_parameter"`
	Data                 string `json:"data"`
	ImpactLevel          string `json:"impact_level"`
	MeasurementFrequency string `json:"measurement_frequency,omitempty"`
}

// Band is one numeric band of a reference range.
type Band struct {
	Min float64 `json:"min" yaml:"min"`
	Max float64 `json:"max" yaml:"max"`
}

// Width returns Max-Min.
func (b Band) Width() float64 {
	return b.Max - b.Min
}

// ReferenceRange holds the critical/risk/healthy bands for one KPI name.
// An empty TenantID marks a system default.
type ReferenceRange struct {
	TenantID       string `json:"tenant_id,omitempty" yaml:"-"`
	KPIName        string `json:"kpi_name" yaml:"kpi_name"`
	Unit           Unit   `json:"unit" yaml:"unit"`
	HigherIsBetter bool   `json:"higher_is_better" yaml:"higher_is_better"`
	Critical       Band   `json:"critical" yaml:"critical"`
	Risk           Band   `json:"risk" yaml:"risk"`
	Healthy        Band   `json:"healthy" yaml:"healthy"`
}

// Account is a customer account belonging to a tenant.
type Account struct {
	ID       string `json:"id"`
	TenantID string `json:"tenant_id"`
	Name     string `json:"name"`
}
