package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/health-engine/internal/model"
	"github.com/sells-group/health-engine/internal/resilience"
)

func newMockPostgres(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewPostgresFromPool(mock), mock
}

var trendRowColumns = []string{
	"id", "account_id", "tenant_id", "month", "year", "overall_score",
	"product_usage_score", "support_score", "customer_sentiment_score",
	"business_outcomes_score", "relationship_strength_score",
	"total_kpis", "valid_kpis", "created_at", "updated_at",
}

// anyTrendArgs matches the 15 bind parameters of the trend upsert.
func anyTrendArgs() []any {
	args := make([]any, 15)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}

func TestPostgres_Migrate(t *testing.T) {
	s, mock := newMockPostgres(t)

	mock.ExpectExec("pg_advisory_lock").WithArgs(migrationLockID).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS health_trends").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("pg_advisory_unlock").WithArgs(migrationLockID).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_MigrateLockError(t *testing.T) {
	s, mock := newMockPostgres(t)

	mock.ExpectExec("pg_advisory_lock").WithArgs(migrationLockID).
		WillReturnError(errors.New("connection refused"))

	err := s.Migrate(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "acquire migration lock")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_UpsertHealthTrend(t *testing.T) {
	s, mock := newMockPostgres(t)
	created := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	updated := created.Add(time.Hour)

	mock.ExpectQuery(`INSERT INTO health_trends .* ON CONFLICT \(account_id, month, year\) DO UPDATE`).
		WithArgs(pgxmock.AnyArg(), "acct-1", "tenant-1", 3, 2026, 68.0,
			80.0, 75.25, 0.0, 0.0, 0.0, 4, 2, pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(mock.NewRows([]string{"id", "created_at", "updated_at"}).
			AddRow("trend-1", created, updated))

	tr := sampleTrend(68)
	require.NoError(t, s.UpsertHealthTrend(context.Background(), tr))
	assert.Equal(t, "trend-1", tr.ID)
	assert.Equal(t, created, tr.CreatedAt)
	assert.Equal(t, updated, tr.UpdatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_UpsertHealthTrendConflict(t *testing.T) {
	for _, code := range []string{"40001", "40P01", "23505"} {
		t.Run(code, func(t *testing.T) {
			s, mock := newMockPostgres(t)
			mock.ExpectQuery("INSERT INTO health_trends").
				WithArgs(anyTrendArgs()...).
				WillReturnError(&pgconn.PgError{Code: code, Message: "conflict"})

			err := s.UpsertHealthTrend(context.Background(), sampleTrend(50))
			require.Error(t, err)
			var pgErr *pgconn.PgError
			require.ErrorAs(t, err, &pgErr, "driver error is preserved")
			assert.Equal(t, code, pgErr.Code)
			assert.True(t, resilience.IsConflict(err))
			assert.True(t, resilience.IsRetryable(err))
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestPostgres_UpsertHealthTrendOtherError(t *testing.T) {
	s, mock := newMockPostgres(t)
	mock.ExpectQuery("INSERT INTO health_trends").
		WithArgs(anyTrendArgs()...).
		WillReturnError(&pgconn.PgError{Code: "42P01", Message: "relation does not exist"})

	err := s.UpsertHealthTrend(context.Background(), sampleTrend(50))
	require.Error(t, err)
	assert.False(t, resilience.IsConflict(err))
	assert.Contains(t, err.Error(), "upsert health trend acct-1")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_GetHealthTrend(t *testing.T) {
	s, mock := newMockPostgres(t)
	now := time.Now().UTC()

	mock.ExpectQuery("FROM health_trends WHERE account_id").
		WithArgs("acct-1", 3, 2026).
		WillReturnRows(mock.NewRows(trendRowColumns).
			AddRow("trend-1", "acct-1", "tenant-1", 3, 2026, 68.0, 80.0, 75.25, 0.0, 0.0, 0.0, 4, 2, now, now))

	got, err := s.GetHealthTrend(context.Background(), "acct-1", model.Period{Month: 3, Year: 2026})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 68.0, got.OverallScore)
	assert.Equal(t, 75.25, got.SupportScore)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_GetHealthTrendMissing(t *testing.T) {
	s, mock := newMockPostgres(t)
	mock.ExpectQuery("FROM health_trends WHERE account_id").
		WithArgs("acct-1", 4, 2026).
		WillReturnError(pgx.ErrNoRows)

	got, err := s.GetHealthTrend(context.Background(), "acct-1", model.Period{Month: 4, Year: 2026})
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_ListHealthTrendsDefaultLimit(t *testing.T) {
	s, mock := newMockPostgres(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`ORDER BY year DESC, month DESC LIMIT`).
		WithArgs("acct-1", DefaultListLimit).
		WillReturnRows(mock.NewRows(trendRowColumns).
			AddRow("t2", "acct-1", "tenant-1", 2, 2026, 70.0, 0.0, 0.0, 0.0, 0.0, 0.0, 1, 1, now, now).
			AddRow("t1", "acct-1", "tenant-1", 1, 2026, 60.0, 0.0, 0.0, 0.0, 0.0, 0.0, 1, 1, now, now))

	rows, err := s.ListHealthTrends(context.Background(), "acct-1", 0)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "t2", rows[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_InsertKPIs(t *testing.T) {
	s, mock := newMockPostgres(t)
	mock.ExpectCopyFrom(pgx.Identifier{"kpis"}, kpiColumns).WillReturnResult(2)

	n, err := s.InsertKPIs(context.Background(), []model.KPIRecord{
		{AccountID: "acct-1", Category: "Support", Parameter: "CSAT", Data: "90%"},
		{AccountID: "acct-1", Category: "Support", Parameter: "NPS", Data: "45"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_ListCategoryWeightsSkipsUnknown(t *testing.T) {
	s, mock := newMockPostgres(t)
	mock.ExpectQuery("FROM category_weights").
		WithArgs("tenant-1").
		WillReturnRows(mock.NewRows([]string{"category", "weight"}).
			AddRow("Support", 0.5).
			AddRow("Marketing", 0.2))

	w, err := s.ListCategoryWeights(context.Background(), "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, map[model.Category]float64{model.CategorySupport: 0.5}, w)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_SetReferenceRangeFoldsKey(t *testing.T) {
	s, mock := newMockPostgres(t)
	mock.ExpectExec("INSERT INTO reference_ranges").
		WithArgs("tenant-1", "nps", "NPS", "score", true,
			-100.0, 0.0, 0.0, 50.0, 50.0, 100.0, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.SetReferenceRange(context.Background(), model.ReferenceRange{
		TenantID:       "tenant-1",
		KPIName:        "NPS",
		Unit:           model.UnitScore,
		HigherIsBetter: true,
		Critical:       model.Band{Min: -100, Max: 0},
		Risk:           model.Band{Min: 0, Max: 50},
		Healthy:        model.Band{Min: 50, Max: 100},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_UpsertKPITimeseriesEmpty(t *testing.T) {
	s, mock := newMockPostgres(t)
	n, err := s.UpsertKPITimeseries(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_UpsertKPITimeseriesBeginError(t *testing.T) {
	s, mock := newMockPostgres(t)
	mock.ExpectBegin().WillReturnError(errors.New("pool exhausted"))

	v := 1.0
	_, err := s.UpsertKPITimeseries(context.Background(), []model.KPITimeseriesPoint{
		{KPIID: "k1", AccountID: "acct-1", Month: 3, Year: 2026, Value: &v, Status: model.StatusHigh, Score: 90},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upsert kpi timeseries")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgWriteErr(t *testing.T) {
	assert.NoError(t, pgWriteErr("op", nil))
	assert.True(t, resilience.IsConflict(pgWriteErr("op", &pgconn.PgError{Code: "23505"})))
	assert.False(t, resilience.IsConflict(pgWriteErr("op", errors.New("boom"))))
}
