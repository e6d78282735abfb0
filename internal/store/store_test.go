package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/health-engine/internal/db"
	"github.com/sells-group/health-engine/internal/model"
	"github.com/sells-group/health-engine/internal/resilience"
)

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() }) //nolint:errcheck
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func sampleTrend(overall float64) *model.HealthTrend {
	return &model.HealthTrend{
		AccountID:         "acct-1",
		TenantID:          "tenant-1",
		Month:             3,
		Year:              2026,
		OverallScore:      overall,
		ProductUsageScore: 80,
		SupportScore:      75.25,
		TotalKPIs:         4,
		ValidKPIs:         2,
	}
}

func storeTestSuite(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("MigrateTwice", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Migrate(context.Background()))
		require.NoError(t, s.Ping(context.Background()))
	})

	t.Run("AccountsAndKPIs", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.UpsertAccount(ctx, model.Account{ID: "acct-2", TenantID: "tenant-1", Name: "Beta"}))
		require.NoError(t, s.UpsertAccount(ctx, model.Account{ID: "acct-1", TenantID: "tenant-1", Name: "Acme"}))
		require.NoError(t, s.UpsertAccount(ctx, model.Account{ID: "acct-3", TenantID: "tenant-2", Name: "Other"}))
		require.NoError(t, s.UpsertAccount(ctx, model.Account{ID: "acct-1", TenantID: "tenant-1", Name: "Acme Corp"}))

		accounts, err := s.ListAccounts(ctx, "tenant-1")
		require.NoError(t, err)
		require.Len(t, accounts, 2)
		assert.Equal(t, "acct-1", accounts[0].ID)
		assert.Equal(t, "Acme Corp", accounts[0].Name)

		n, err := s.InsertKPIs(ctx, []model.KPIRecord{
			{AccountID: "acct-1", TenantID: "tenant-1", Category: "Support", Parameter: "First Response Time", Data: "3 hours", ImpactLevel: "High"},
			{ID: "k-fixed", AccountID: "acct-1", TenantID: "tenant-1", Category: "Product Usage", Parameter: "Adoption Rate", Data: "85%"},
			{AccountID: "acct-2", TenantID: "tenant-1", Category: "Support", Parameter: "CSAT", Data: "90%"},
		})
		require.NoError(t, err)
		assert.Equal(t, int64(3), n)

		kpis, err := s.GetKPIs(ctx, "acct-1")
		require.NoError(t, err)
		require.Len(t, kpis, 2)
		assert.NotEmpty(t, kpis[0].ID)
		assert.Equal(t, "First Response Time", kpis[0].Parameter)
		assert.Equal(t, "k-fixed", kpis[1].ID)
		assert.Equal(t, "85%", kpis[1].Data)

		none, err := s.GetKPIs(ctx, "missing")
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("ReferenceRangeOverrides", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		rr := model.ReferenceRange{
			TenantID: "tenant-1",
			KPIName:  "First Response Time",
			Unit:     model.UnitHours,
			Critical: model.Band{Min: 4, Max: 24},
			Risk:     model.Band{Min: 1, Max: 4},
			Healthy:  model.Band{Min: 0, Max: 1},
		}
		require.NoError(t, s.SetReferenceRange(ctx, rr))
		rr.KPIName = "first response time"
		rr.Healthy.Max = 2
		rr.Risk.Min = 2
		require.NoError(t, s.SetReferenceRange(ctx, rr))

		got, err := s.ListReferenceRanges(ctx, "tenant-1")
		require.NoError(t, err)
		require.Len(t, got, 1, "names differing only in case share one override")
		assert.Equal(t, 2.0, got[0].Healthy.Max)
		assert.Equal(t, model.UnitHours, got[0].Unit)
		assert.False(t, got[0].HigherIsBetter)

		other, err := s.ListReferenceRanges(ctx, "tenant-2")
		require.NoError(t, err)
		assert.Empty(t, other)
	})

	t.Run("CategoryWeights", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.SetCategoryWeight(ctx, "tenant-1", model.CategorySupport, 0.4))
		require.NoError(t, s.SetCategoryWeight(ctx, "tenant-1", model.CategorySupport, 0.5))
		require.NoError(t, s.SetCategoryWeight(ctx, "tenant-1", model.CategoryProductUsage, 0.1))

		w, err := s.ListCategoryWeights(ctx, "tenant-1")
		require.NoError(t, err)
		assert.Equal(t, map[model.Category]float64{
			model.CategorySupport:      0.5,
			model.CategoryProductUsage: 0.1,
		}, w)
	})

	t.Run("HealthTrendUpsertIsIdempotent", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		first := sampleTrend(60)
		require.NoError(t, s.UpsertHealthTrend(ctx, first))
		assert.NotEmpty(t, first.ID)

		second := sampleTrend(72.5)
		second.ValidKPIs = 3
		require.NoError(t, s.UpsertHealthTrend(ctx, second))
		assert.Equal(t, first.ID, second.ID, "second upsert updates the same row")

		rows, err := s.ListHealthTrends(ctx, "acct-1", 0)
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, 72.5, rows[0].OverallScore)
		assert.Equal(t, 3, rows[0].ValidKPIs)
		assert.Equal(t, 75.25, rows[0].SupportScore)

		got, err := s.GetHealthTrend(ctx, "acct-1", model.Period{Month: 3, Year: 2026})
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, 72.5, got.OverallScore)
		assert.Equal(t, "tenant-1", got.TenantID)

		missing, err := s.GetHealthTrend(ctx, "acct-1", model.Period{Month: 4, Year: 2026})
		require.NoError(t, err)
		assert.Nil(t, missing)
	})

	t.Run("HealthTrendsNewestFirst", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		for _, p := range []model.Period{{Month: 11, Year: 2025}, {Month: 2, Year: 2026}, {Month: 12, Year: 2025}} {
			tr := sampleTrend(50)
			tr.Month, tr.Year = p.Month, p.Year
			require.NoError(t, s.UpsertHealthTrend(ctx, tr))
		}

		rows, err := s.ListHealthTrends(ctx, "acct-1", 2)
		require.NoError(t, err)
		require.Len(t, rows, 2)
		assert.Equal(t, model.Period{Month: 2, Year: 2026}, rows[0].Period())
		assert.Equal(t, model.Period{Month: 12, Year: 2025}, rows[1].Period())
	})

	t.Run("KPITimeseriesUpsert", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		v := 3.0
		points := []model.KPITimeseriesPoint{
			{KPIID: "k1", AccountID: "acct-1", Month: 3, Year: 2026, Value: &v, Status: model.StatusHigh, Score: 75.25},
			{KPIID: "k2", AccountID: "acct-1", Month: 3, Year: 2026, Status: model.StatusUnknown},
		}
		_, err := s.UpsertKPITimeseries(ctx, points)
		require.NoError(t, err)

		w := 30.0
		points[0].Value = &w
		points[0].Status = model.StatusLow
		points[0].Score = 0
		_, err = s.UpsertKPITimeseries(ctx, points[:1])
		require.NoError(t, err)

		series, err := s.ListKPITimeseries(ctx, "k1", 0)
		require.NoError(t, err)
		require.Len(t, series, 1)
		require.NotNil(t, series[0].Value)
		assert.Equal(t, 30.0, *series[0].Value)
		assert.Equal(t, model.StatusLow, series[0].Status)

		nullSeries, err := s.ListKPITimeseries(ctx, "k2", 0)
		require.NoError(t, err)
		require.Len(t, nullSeries, 1)
		assert.Nil(t, nullSeries[0].Value)
		assert.Equal(t, model.StatusUnknown, nullSeries[0].Status)

		n, err := s.UpsertKPITimeseries(ctx, nil)
		require.NoError(t, err)
		assert.Equal(t, int64(0), n)
	})
}

func TestSQLiteStore(t *testing.T) {
	storeTestSuite(t, func(t *testing.T) Store { return newTestSQLite(t) })
}

func TestSQLiteStore_ConcurrentUpsertsKeepOneRow(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- resilience.Do(ctx, resilience.DefaultRetryConfig(), func(ctx context.Context) error {
				return s.UpsertHealthTrend(ctx, sampleTrend(float64(50+i)))
			})
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	rows, err := s.ListHealthTrends(ctx, "acct-1", 0)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestSQLiteWriteErr(t *testing.T) {
	assert.NoError(t, sqliteWriteErr("op", nil))

	err := sqliteWriteErr("sqlite: upsert health trend", errors.New("database is locked (5) (SQLITE_BUSY)"))
	assert.True(t, resilience.IsConflict(err))

	err = sqliteWriteErr("sqlite: upsert health trend", errors.New("no such table: health_trends"))
	assert.False(t, resilience.IsConflict(err))
	assert.Contains(t, err.Error(), "sqlite: upsert health trend")
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), "mongo", "", db.PoolConfig{})
	assert.ErrorContains(t, err, `unknown driver "mongo"`)
}

func TestOpen_SQLite(t *testing.T) {
	s, err := Open(context.Background(), "sqlite", filepath.Join(t.TempDir(), "open.db"), db.PoolConfig{})
	require.NoError(t, err)
	defer s.Close() //nolint:errcheck
	assert.IsType(t, &SQLiteStore{}, s)
}
