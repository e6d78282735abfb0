package model

import (
	"time"

	"github.com/rotisserie/eris"
)

// Status is the health classification of a KPI, category or account.
type Status string

const (
	StatusLow     Status = "low"
	StatusMedium  Status = "medium"
	StatusHigh    Status = "high"
	StatusUnknown Status = "unknown"
)

// Color is the display color paired with a Status.
type Color string

const (
	ColorRed    Color = "red"
	ColorYellow Color = "yellow"
	ColorGreen  Color = "green"
	ColorGray   Color = "gray"
)

// Color returns the display color for the status.
func (s Status) Color() Color {
	switch s {
	case StatusHigh:
		return ColorGreen
	case StatusMedium:
		return ColorYellow
	case StatusLow:
		return ColorRed
	default:
		return ColorGray
	}
}

// Period identifies a calendar month.
type Period struct {
	Month int `json:"month"`
	Year  int `json:"year"`
}

// CurrentPeriod returns the calendar month containing now (UTC).
func CurrentPeriod(now time.Time) Period {
	now = now.UTC()
	return Period{Month: int(now.Month()), Year: now.Year()}
}

// Validate rejects out-of-range months and years.
func (p Period) Validate() error {
	if p.Month < 1 || p.Month > 12 {
		return eris.Errorf("model: month must be between 1 and 12 (got %d)", p.Month)
	}
	if p.Year < 2000 || p.Year > 9999 {
		return eris.Errorf("model: year must be between 2000 and 9999 (got %d)", p.Year)
	}
	return nil
}

// Previous returns the calendar month before p.
func (p Period) Previous() Period {
	if p.Month == 1 {
		return Period{Month: 12, Year: p.Year - 1}
	}
	return Period{Month: p.Month - 1, Year: p.Year}
}

// HealthTrend is the persisted monthly score row for one account.
// (AccountID, Month, Year) is unique.
type HealthTrend struct {
	ID                        string    `json:"id"`
	AccountID                 string    `json:"account_id"`
	TenantID                  string    `json:"tenant_id"`
	Month                     int       `json:"month"`
	Year                      int       `json:"year"`
	OverallScore              float64   `json:"overall_score"`
	ProductUsageScore         float64   `json:"product_usage_score"`
	SupportScore              float64   `json:"support_score"`
	CustomerSentimentScore    float64   `json:"customer_sentiment_score"`
	BusinessOutcomesScore     float64   `json:"business_outcomes_score"`
	RelationshipStrengthScore float64   `json:"relationship_strength_score"`
	TotalKPIs                 int       `json:"total_kpis"`
	ValidKPIs                 int       `json:"valid_kpis"`
	CreatedAt                 time.Time `json:"created_at"`
	UpdatedAt                 time.Time `json:"updated_at"`
}

// Period returns the row's calendar month.
func (t HealthTrend) Period() Period {
	return Period{Month: t.Month, Year: t.Year}
}

// CategoryScore returns the stored score for c.
func (t HealthTrend) CategoryScore(c Category) float64 {
	switch c {
	case CategoryProductUsage:
		return t.ProductUsageScore
	case CategorySupport:
		return t.SupportScore
	case CategoryCustomerSentiment:
		return t.CustomerSentimentScore
	case CategoryBusinessOutcomes:
		return t.BusinessOutcomesScore
	case CategoryRelationshipStrength:
		return t.RelationshipStrengthScore
	default:
		return 0
	}
}

// SetCategoryScore stores v as the score for c. Unknown categories are ignored.
func (t *HealthTrend) SetCategoryScore(c Category, v float64) {
	switch c {
	case CategoryProductUsage:
		t.ProductUsageScore = v
	case CategorySupport:
		t.SupportScore = v
	case CategoryCustomerSentiment:
		t.CustomerSentimentScore = v
	case CategoryBusinessOutcomes:
		t.BusinessOutcomesScore = v
	case CategoryRelationshipStrength:
		t.RelationshipStrengthScore = v
	}
}

// KPITimeseriesPoint is the persisted monthly score of one KPI.
// (KPIID, Month, Year) is unique. Value is nil when the KPI could not be scored.
type KPITimeseriesPoint struct {
	ID        string    `json:"id"`
	KPIID     string    `json:"kpi_id"`
	AccountID string    `json:"account_id"`
	Month     int       `json:"month"`
	Year      int       `json:"year"`
	Value     *float64  `json:"value"`
	Status    Status    `json:"status"`
	Score     float64   `json:"score"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
