package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/health-engine/internal/db"
	"github.com/sells-group/health-engine/internal/model"
	"github.com/sells-group/health-engine/internal/resilience"
)

// migrationLockID serializes concurrent Migrate calls across processes.
const migrationLockID = 7318_2044

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, dsn string, poolCfg db.PoolConfig) (*PostgresStore, error) {
	pool, err := db.Open(ctx, dsn, poolCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: open")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresFromPool wraps an existing pool. Close does not close it.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS accounts (
	id         TEXT PRIMARY KEY,
	tenant_id  TEXT NOT NULL,
	name       TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_accounts_tenant ON accounts(tenant_id);

CREATE TABLE IF NOT EXISTS kpis (
	id                    TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	account_id            TEXT NOT NULL,
	tenant_id             TEXT NOT NULL,
	category              TEXT NOT NULL,
	kpi_parameter         TEXT NOT NULL,
	data                  TEXT NOT NULL DEFAULT '',
	impact_level          TEXT NOT NULL DEFAULT '',
	measurement_frequency TEXT NOT NULL DEFAULT '',
	created_at            TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_kpis_account ON kpis(account_id);

CREATE TABLE IF NOT EXISTS reference_ranges (
	tenant_id        TEXT NOT NULL,
	kpi_key          TEXT NOT NULL,
	kpi_name         TEXT NOT NULL,
	unit             TEXT NOT NULL,
	higher_is_better BOOLEAN NOT NULL,
	critical_min     DOUBLE PRECISION NOT NULL,
	critical_max     DOUBLE PRECISION NOT NULL,
	risk_min         DOUBLE PRECISION NOT NULL,
	risk_max         DOUBLE PRECISION NOT NULL,
	healthy_min      DOUBLE PRECISION NOT NULL,
	healthy_max      DOUBLE PRECISION NOT NULL,
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (tenant_id, kpi_key)
);

CREATE TABLE IF NOT EXISTS category_weights (
	tenant_id  TEXT NOT NULL,
	category   TEXT NOT NULL,
	weight     DOUBLE PRECISION NOT NULL CHECK (weight >= 0),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (tenant_id, category)
);

CREATE TABLE IF NOT EXISTS health_trends (
	id                          TEXT PRIMARY KEY,
	account_id                  TEXT NOT NULL,
	tenant_id                   TEXT NOT NULL,
	month                       SMALLINT NOT NULL CHECK (month BETWEEN 1 AND 12),
	year                        SMALLINT NOT NULL,
	overall_score               DOUBLE PRECISION NOT NULL,
	product_usage_score         DOUBLE PRECISION NOT NULL,
	support_score               DOUBLE PRECISION NOT NULL,
	customer_sentiment_score    DOUBLE PRECISION NOT NULL,
	business_outcomes_score     DOUBLE PRECISION NOT NULL,
	relationship_strength_score DOUBLE PRECISION NOT NULL,
	total_kpis                  INTEGER NOT NULL,
	valid_kpis                  INTEGER NOT NULL,
	created_at                  TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at                  TIMESTAMPTZ NOT NULL DEFAULT now(),
	CONSTRAINT uq_health_trends_account_period UNIQUE (account_id, month, year)
);

CREATE TABLE IF NOT EXISTS kpi_timeseries (
	id         TEXT PRIMARY KEY,
	kpi_id     TEXT NOT NULL,
	account_id TEXT NOT NULL,
	month      SMALLINT NOT NULL CHECK (month BETWEEN 1 AND 12),
	year       SMALLINT NOT NULL,
	value      DOUBLE PRECISION,
	status     TEXT NOT NULL,
	score      DOUBLE PRECISION NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	CONSTRAINT uq_kpi_timeseries_kpi_period UNIQUE (kpi_id, month, year)
);

CREATE INDEX IF NOT EXISTS idx_kpi_timeseries_account ON kpi_timeseries(account_id, year, month);
`

// Ping verifies connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

// Migrate creates the schema. An advisory lock keeps overlapping deploys
// from racing on DDL.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, "SELECT pg_advisory_lock($1)", migrationLockID); err != nil {
		return eris.Wrap(err, "postgres: acquire migration lock")
	}
	defer func() {
		if _, err := s.pool.Exec(ctx, "SELECT pg_advisory_unlock($1)", migrationLockID); err != nil {
			zap.L().Warn("postgres: release migration lock", zap.Error(err))
		}
	}()

	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

// Close releases the pool when the store owns it.
func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) ListAccounts(ctx context.Context, tenantID string) ([]model.Account, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, tenant_id, name FROM accounts WHERE tenant_id = $1 ORDER BY id`,
		tenantID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list accounts for tenant %s", tenantID)
	}
	defer rows.Close()

	var out []model.Account
	for rows.Next() {
		var a model.Account
		if err := rows.Scan(&a.ID, &a.TenantID, &a.Name); err != nil {
			return nil, eris.Wrap(err, "postgres: scan account")
		}
		out = append(out, a)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list accounts iterate")
}

func (s *PostgresStore) UpsertAccount(ctx context.Context, a model.Account) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO accounts (id, tenant_id, name) VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO UPDATE SET tenant_id = EXCLUDED.tenant_id, name = EXCLUDED.name`,
		a.ID, a.TenantID, a.Name,
	)
	return pgWriteErr("postgres: upsert account "+a.ID, err)
}

func (s *PostgresStore) GetKPIs(ctx context.Context, accountID string) ([]model.KPIRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, account_id, tenant_id, category, kpi_parameter, data, impact_level, measurement_frequency
		 FROM kpis WHERE account_id = $1 ORDER BY created_at, id`,
		accountID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get kpis for account %s", accountID)
	}
	defer rows.Close()

	var out []model.KPIRecord
	for rows.Next() {
		var k model.KPIRecord
		if err := rows.Scan(&k.ID, &k.AccountID, &k.TenantID, &k.Category, &k.Parameter,
			&k.Data, &k.ImpactLevel, &k.MeasurementFrequency); err != nil {
			return nil, eris.Wrap(err, "postgres: scan kpi")
		}
		out = append(out, k)
	}
	return out, eris.Wrap(rows.Err(), "postgres: get kpis iterate")
}

var kpiColumns = []string{
	"id", "account_id", "tenant_id", "category", "kpi_parameter",
	"data", "impact_level", "measurement_frequency", "created_at",
}

// InsertKPIs bulk-loads KPI rows with COPY. Rows without an ID get one.
func (s *PostgresStore) InsertKPIs(ctx context.Context, kpis []model.KPIRecord) (int64, error) {
	now := time.Now().UTC()
	rows := make([][]any, 0, len(kpis))
	for _, k := range kpis {
		if k.ID == "" {
			k.ID = uuid.New().String()
		}
		rows = append(rows, []any{
			k.ID, k.AccountID, k.TenantID, k.Category, k.Parameter,
			k.Data, k.ImpactLevel, k.MeasurementFrequency, now,
		})
	}
	n, err := db.CopyFrom(ctx, s.pool, "kpis", kpiColumns, rows)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: insert kpis")
	}
	return n, nil
}

func (s *PostgresStore) ListReferenceRanges(ctx context.Context, tenantID string) ([]model.ReferenceRange, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT tenant_id, kpi_name, unit, higher_is_better,
		        critical_min, critical_max, risk_min, risk_max, healthy_min, healthy_max
		 FROM reference_ranges WHERE tenant_id = $1 ORDER BY kpi_key`,
		tenantID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list reference ranges for tenant %s", tenantID)
	}
	defer rows.Close()

	var out []model.ReferenceRange
	for rows.Next() {
		var rr model.ReferenceRange
		var unit string
		if err := rows.Scan(&rr.TenantID, &rr.KPIName, &unit, &rr.HigherIsBetter,
			&rr.Critical.Min, &rr.Critical.Max, &rr.Risk.Min, &rr.Risk.Max,
			&rr.Healthy.Min, &rr.Healthy.Max); err != nil {
			return nil, eris.Wrap(err, "postgres: scan reference range")
		}
		rr.Unit = model.ParseUnit(unit)
		out = append(out, rr)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list reference ranges iterate")
}

func (s *PostgresStore) SetReferenceRange(ctx context.Context, rr model.ReferenceRange) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO reference_ranges (tenant_id, kpi_key, kpi_name, unit, higher_is_better,
		     critical_min, critical_max, risk_min, risk_max, healthy_min, healthy_max, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 ON CONFLICT (tenant_id, kpi_key) DO UPDATE SET
		     kpi_name = EXCLUDED.kpi_name, unit = EXCLUDED.unit,
		     higher_is_better = EXCLUDED.higher_is_better,
		     critical_min = EXCLUDED.critical_min, critical_max = EXCLUDED.critical_max,
		     risk_min = EXCLUDED.risk_min, risk_max = EXCLUDED.risk_max,
		     healthy_min = EXCLUDED.healthy_min, healthy_max = EXCLUDED.healthy_max,
		     updated_at = EXCLUDED.updated_at`,
		rr.TenantID, model.FoldName(rr.KPIName), rr.KPIName, string(rr.Unit), rr.HigherIsBetter,
		rr.Critical.Min, rr.Critical.Max, rr.Risk.Min, rr.Risk.Max, rr.Healthy.Min, rr.Healthy.Max,
		time.Now().UTC(),
	)
	return pgWriteErr("postgres: set reference range "+rr.KPIName, err)
}

func (s *PostgresStore) ListCategoryWeights(ctx context.Context, tenantID string) (map[model.Category]float64, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT category, weight FROM category_weights WHERE tenant_id = $1`,
		tenantID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list category weights for tenant %s", tenantID)
	}
	defer rows.Close()

	out := make(map[model.Category]float64)
	for rows.Next() {
		var (
			raw string
			w   float64
		)
		if err := rows.Scan(&raw, &w); err != nil {
			return nil, eris.Wrap(err, "postgres: scan category weight")
		}
		c, ok := model.ParseCategory(raw)
		if !ok {
			zap.L().Warn("postgres: skipping weight for unknown category",
				zap.String("tenant_id", tenantID), zap.String("category", raw))
			continue
		}
		out[c] = w
	}
	return out, eris.Wrap(rows.Err(), "postgres: list category weights iterate")
}

func (s *PostgresStore) SetCategoryWeight(ctx context.Context, tenantID string, c model.Category, weight float64) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO category_weights (tenant_id, category, weight, updated_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (tenant_id, category) DO UPDATE SET weight = EXCLUDED.weight, updated_at = EXCLUDED.updated_at`,
		tenantID, string(c), weight, time.Now().UTC(),
	)
	return pgWriteErr("postgres: set category weight "+c.Key(), err)
}

// UpsertHealthTrend inserts or updates the row for (account, month, year)
// and fills t.ID and the timestamps from the stored row.
func (s *PostgresStore) UpsertHealthTrend(ctx context.Context, t *model.HealthTrend) error {
	now := time.Now().UTC()
	err := s.pool.QueryRow(ctx,
		`INSERT INTO health_trends (id, account_id, tenant_id, month, year, overall_score,
		     product_usage_score, support_score, customer_sentiment_score,
		     business_outcomes_score, relationship_strength_score,
		     total_kpis, valid_kpis, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		 ON CONFLICT (account_id, month, year) DO UPDATE SET
		     tenant_id = EXCLUDED.tenant_id,
		     overall_score = EXCLUDED.overall_score,
		     product_usage_score = EXCLUDED.product_usage_score,
		     support_score = EXCLUDED.support_score,
		     customer_sentiment_score = EXCLUDED.customer_sentiment_score,
		     business_outcomes_score = EXCLUDED.business_outcomes_score,
		     relationship_strength_score = EXCLUDED.relationship_strength_score,
		     total_kpis = EXCLUDED.total_kpis,
		     valid_kpis = EXCLUDED.valid_kpis,
		     updated_at = EXCLUDED.updated_at
		 RETURNING id, created_at, updated_at`,
		uuid.New().String(), t.AccountID, t.TenantID, t.Month, t.Year, t.OverallScore,
		t.ProductUsageScore, t.SupportScore, t.CustomerSentimentScore,
		t.BusinessOutcomesScore, t.RelationshipStrengthScore,
		t.TotalKPIs, t.ValidKPIs, now, now,
	).Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt)
	return pgWriteErr("postgres: upsert health trend "+t.AccountID, err)
}

const trendColumns = `id, account_id, tenant_id, month, year, overall_score,
	product_usage_score, support_score, customer_sentiment_score,
	business_outcomes_score, relationship_strength_score,
	total_kpis, valid_kpis, created_at, updated_at`

// GetHealthTrend returns nil, nil when no row exists for the period.
func (s *PostgresStore) GetHealthTrend(ctx context.Context, accountID string, p model.Period) (*model.HealthTrend, error) {
	t, err := scanTrend(s.pool.QueryRow(ctx,
		`SELECT `+trendColumns+` FROM health_trends WHERE account_id = $1 AND month = $2 AND year = $3`,
		accountID, p.Month, p.Year,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get health trend %s %d-%02d", accountID, p.Year, p.Month)
	}
	return t, nil
}

// ListHealthTrends returns the newest periods first.
func (s *PostgresStore) ListHealthTrends(ctx context.Context, accountID string, limit int) ([]model.HealthTrend, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+trendColumns+` FROM health_trends WHERE account_id = $1
		 ORDER BY year DESC, month DESC LIMIT $2`,
		accountID, listLimit(limit),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list health trends for account %s", accountID)
	}
	defer rows.Close()

	var out []model.HealthTrend
	for rows.Next() {
		t, err := scanTrend(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan health trend")
		}
		out = append(out, *t)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list health trends iterate")
}

func scanTrend(row pgx.Row) (*model.HealthTrend, error) {
	var t model.HealthTrend
	err := row.Scan(&t.ID, &t.AccountID, &t.TenantID, &t.Month, &t.Year, &t.OverallScore,
		&t.ProductUsageScore, &t.SupportScore, &t.CustomerSentimentScore,
		&t.BusinessOutcomesScore, &t.RelationshipStrengthScore,
		&t.TotalKPIs, &t.ValidKPIs, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

var timeseriesUpsert = db.UpsertConfig{
	Table: "kpi_timeseries",
	Columns: []string{
		"id", "kpi_id", "account_id", "month", "year",
		"value", "status", "score", "created_at", "updated_at",
	},
	ConflictKeys: []string{"kpi_id", "month", "year"},
	UpdateCols:   []string{"account_id", "value", "status", "score", "updated_at"},
}

// UpsertKPITimeseries merges points through a COPY-staged bulk upsert.
func (s *PostgresStore) UpsertKPITimeseries(ctx context.Context, points []model.KPITimeseriesPoint) (int64, error) {
	now := time.Now().UTC()
	rows := make([][]any, 0, len(points))
	for _, p := range points {
		rows = append(rows, []any{
			uuid.New().String(), p.KPIID, p.AccountID, int16(p.Month), int16(p.Year),
			p.Value, string(p.Status), p.Score, now, now,
		})
	}
	n, err := db.BulkUpsert(ctx, s.pool, timeseriesUpsert, rows)
	if err != nil {
		return 0, pgWriteErr("postgres: upsert kpi timeseries", err)
	}
	return n, nil
}

// ListKPITimeseries returns the newest periods first.
func (s *PostgresStore) ListKPITimeseries(ctx context.Context, kpiID string, limit int) ([]model.KPITimeseriesPoint, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, kpi_id, account_id, month, year, value, status, score, created_at, updated_at
		 FROM kpi_timeseries WHERE kpi_id = $1 ORDER BY year DESC, month DESC LIMIT $2`,
		kpiID, listLimit(limit),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list kpi timeseries for %s", kpiID)
	}
	defer rows.Close()

	var out []model.KPITimeseriesPoint
	for rows.Next() {
		var (
			p      model.KPITimeseriesPoint
			status string
		)
		if err := rows.Scan(&p.ID, &p.KPIID, &p.AccountID, &p.Month, &p.Year,
			&p.Value, &status, &p.Score, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan kpi timeseries")
		}
		p.Status = model.Status(status)
		out = append(out, p)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list kpi timeseries iterate")
}

// Postgres error codes that indicate a lost write race.
var pgConflictCodes = map[string]bool{
	"40001": true, // serialization_failure
	"40P01": true, // deadlock_detected
	"23505": true, // unique_violation
}

// pgWriteErr maps write failures: lost races become ConflictErrors so the
// caller's retry loop re-runs the upsert.
func pgWriteErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgConflictCodes[pgErr.Code] {
		return resilience.NewConflictError(op, err)
	}
	return eris.Wrap(err, op)
}
