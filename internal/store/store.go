// Package store persists accounts, KPI rows, reference overrides and the
// monthly health time series in Postgres or SQLite.
package store

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/health-engine/internal/db"
	"github.com/sells-group/health-engine/internal/model"
)

// DefaultListLimit caps list queries that do not set a limit.
const DefaultListLimit = 24

// Store defines the storage boundary of the health engine.
//
// (account_id, month, year) is unique for health trends and
// (kpi_id, month, year) is unique for the KPI time series. Upserts that
// lose a race with a concurrent writer return a resilience.ConflictError.
type Store interface {
	// Accounts and KPI rows
	ListAccounts(ctx context.Context, tenantID string) ([]model.Account, error)
	UpsertAccount(ctx context.Context, a model.Account) error
	GetKPIs(ctx context.Context, accountID string) ([]model.KPIRecord, error)
	InsertKPIs(ctx context.Context, kpis []model.KPIRecord) (int64, error)

	// Tenant overrides
	ListReferenceRanges(ctx context.Context, tenantID string) ([]model.ReferenceRange, error)
	SetReferenceRange(ctx context.Context, rr model.ReferenceRange) error
	ListCategoryWeights(ctx context.Context, tenantID string) (map[model.Category]float64, error)
	SetCategoryWeight(ctx context.Context, tenantID string, c model.Category, weight float64) error

	// Health time series
	UpsertHealthTrend(ctx context.Context, t *model.HealthTrend) error
	GetHealthTrend(ctx context.Context, accountID string, p model.Period) (*model.HealthTrend, error)
	ListHealthTrends(ctx context.Context, accountID string, limit int) ([]model.HealthTrend, error)
	UpsertKPITimeseries(ctx context.Context, points []model.KPITimeseriesPoint) (int64, error)
	ListKPITimeseries(ctx context.Context, kpiID string, limit int) ([]model.KPITimeseriesPoint, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

// Open returns the store for driver ("postgres" or "sqlite").
func Open(ctx context.Context, driver, dsn string, pool db.PoolConfig) (Store, error) {
	switch strings.ToLower(driver) {
	case "postgres", "postgresql", "pg":
		return NewPostgres(ctx, dsn, pool)
	case "sqlite", "sqlite3", "":
		return NewSQLite(dsn)
	default:
		return nil, eris.Errorf("store: unknown driver %q", driver)
	}
}

func listLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	return limit
}
