package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/sells-group/health-engine/internal/model"
	"github.com/sells-group/health-engine/internal/resilience"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// One connection keeps the pragmas in effect and serializes writers.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS accounts (
	id         TEXT PRIMARY KEY,
	tenant_id  TEXT NOT NULL,
	name       TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_accounts_tenant ON accounts(tenant_id);

CREATE TABLE IF NOT EXISTS kpis (
	id                    TEXT PRIMARY KEY,
	account_id            TEXT NOT NULL,
	tenant_id             TEXT NOT NULL,
	category              TEXT NOT NULL,
	kpi_parameter         TEXT NOT NULL,
	data                  TEXT NOT NULL DEFAULT '',
	impact_level          TEXT NOT NULL DEFAULT '',
	measurement_frequency TEXT NOT NULL DEFAULT '',
	created_at            DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_kpis_account ON kpis(account_id);

CREATE TABLE IF NOT EXISTS reference_ranges (
	tenant_id        TEXT NOT NULL,
	kpi_key          TEXT NOT NULL,
	kpi_name         TEXT NOT NULL,
	unit             TEXT NOT NULL,
	higher_is_better INTEGER NOT NULL,
	critical_min     REAL NOT NULL,
	critical_max     REAL NOT NULL,
	risk_min         REAL NOT NULL,
	risk_max         REAL NOT NULL,
	healthy_min      REAL NOT NULL,
	healthy_max      REAL NOT NULL,
	updated_at       DATETIME NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (tenant_id, kpi_key)
);

CREATE TABLE IF NOT EXISTS category_weights (
	tenant_id  TEXT NOT NULL,
	category   TEXT NOT NULL,
	weight     REAL NOT NULL CHECK (weight >= 0),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (tenant_id, category)
);

CREATE TABLE IF NOT EXISTS health_trends (
	id                          TEXT PRIMARY KEY,
	account_id                  TEXT NOT NULL,
	tenant_id                   TEXT NOT NULL,
	month                       INTEGER NOT NULL CHECK (month BETWEEN 1 AND 12),
	year                        INTEGER NOT NULL,
	overall_score               REAL NOT NULL,
	product_usage_score         REAL NOT NULL,
	support_score               REAL NOT NULL,
	customer_sentiment_score    REAL NOT NULL,
	business_outcomes_score     REAL NOT NULL,
	relationship_strength_score REAL NOT NULL,
	total_kpis                  INTEGER NOT NULL,
	valid_kpis                  INTEGER NOT NULL,
	created_at                  DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at                  DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (account_id, month, year)
);

CREATE TABLE IF NOT EXISTS kpi_timeseries (
	id         TEXT PRIMARY KEY,
	kpi_id     TEXT NOT NULL,
	account_id TEXT NOT NULL,
	month      INTEGER NOT NULL CHECK (month BETWEEN 1 AND 12),
	year       INTEGER NOT NULL,
	value      REAL,
	status     TEXT NOT NULL,
	score      REAL NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (kpi_id, month, year)
);

CREATE INDEX IF NOT EXISTS idx_kpi_timeseries_account ON kpi_timeseries(account_id, year, month);
`

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) ListAccounts(ctx context.Context, tenantID string) ([]model.Account, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, tenant_id, name FROM accounts WHERE tenant_id = ? ORDER BY id`,
		tenantID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list accounts for tenant %s", tenantID)
	}
	defer rows.Close()

	var out []model.Account
	for rows.Next() {
		var a model.Account
		if err := rows.Scan(&a.ID, &a.TenantID, &a.Name); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan account")
		}
		out = append(out, a)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list accounts iterate")
}

func (s *SQLiteStore) UpsertAccount(ctx context.Context, a model.Account) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO accounts (id, tenant_id, name) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET tenant_id = excluded.tenant_id, name = excluded.name`,
		a.ID, a.TenantID, a.Name,
	)
	return sqliteWriteErr("sqlite: upsert account "+a.ID, err)
}

func (s *SQLiteStore) GetKPIs(ctx context.Context, accountID string) ([]model.KPIRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, account_id, tenant_id, category, kpi_parameter, data, impact_level, measurement_frequency
		 FROM kpis WHERE account_id = ? ORDER BY created_at, rowid`,
		accountID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get kpis for account %s", accountID)
	}
	defer rows.Close()

	var out []model.KPIRecord
	for rows.Next() {
		var k model.KPIRecord
		if err := rows.Scan(&k.ID, &k.AccountID, &k.TenantID, &k.Category, &k.Parameter,
			&k.Data, &k.ImpactLevel, &k.MeasurementFrequency); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan kpi")
		}
		out = append(out, k)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: get kpis iterate")
}

func (s *SQLiteStore) InsertKPIs(ctx context.Context, kpis []model.KPIRecord) (int64, error) {
	if len(kpis) == 0 {
		return 0, nil
	}
	now := time.Now().UTC()

	var n int64
	err := s.inTx(ctx, "sqlite: insert kpis", func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO kpis (id, account_id, tenant_id, category, kpi_parameter, data,
			     impact_level, measurement_frequency, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close() //nolint:errcheck

		for _, k := range kpis {
			if k.ID == "" {
				k.ID = uuid.New().String()
			}
			if _, err := stmt.ExecContext(ctx, k.ID, k.AccountID, k.TenantID, k.Category,
				k.Parameter, k.Data, k.ImpactLevel, k.MeasurementFrequency, now); err != nil {
				return err
			}
			n++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (s *SQLiteStore) ListReferenceRanges(ctx context.Context, tenantID string) ([]model.ReferenceRange, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT tenant_id, kpi_name, unit, higher_is_better,
		        critical_min, critical_max, risk_min, risk_max, healthy_min, healthy_max
		 FROM reference_ranges WHERE tenant_id = ? ORDER BY kpi_key`,
		tenantID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list reference ranges for tenant %s", tenantID)
	}
	defer rows.Close()

	var out []model.ReferenceRange
	for rows.Next() {
		var rr model.ReferenceRange
		var unit string
		if err := rows.Scan(&rr.TenantID, &rr.KPIName, &unit, &rr.HigherIsBetter,
			&rr.Critical.Min, &rr.Critical.Max, &rr.Risk.Min, &rr.Risk.Max,
			&rr.Healthy.Min, &rr.Healthy.Max); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan reference range")
		}
		rr.Unit = model.ParseUnit(unit)
		out = append(out, rr)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list reference ranges iterate")
}

func (s *SQLiteStore) SetReferenceRange(ctx context.Context, rr model.ReferenceRange) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO reference_ranges (tenant_id, kpi_key, kpi_name, unit, higher_is_better,
		     critical_min, critical_max, risk_min, risk_max, healthy_min, healthy_max, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(tenant_id, kpi_key) DO UPDATE SET
		     kpi_name = excluded.kpi_name, unit = excluded.unit,
		     higher_is_better = excluded.higher_is_better,
		     critical_min = excluded.critical_min, critical_max = excluded.critical_max,
		     risk_min = excluded.risk_min, risk_max = excluded.risk_max,
		     healthy_min = excluded.healthy_min, healthy_max = excluded.healthy_max,
		     updated_at = excluded.updated_at`,
		rr.TenantID, model.FoldName(rr.KPIName), rr.KPIName, string(rr.Unit), rr.HigherIsBetter,
		rr.Critical.Min, rr.Critical.Max, rr.Risk.Min, rr.Risk.Max, rr.Healthy.Min, rr.Healthy.Max,
		time.Now().UTC(),
	)
	return sqliteWriteErr("sqlite: set reference range "+rr.KPIName, err)
}

func (s *SQLiteStore) ListCategoryWeights(ctx context.Context, tenantID string) (map[model.Category]float64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT category, weight FROM category_weights WHERE tenant_id = ?`,
		tenantID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list category weights for tenant %s", tenantID)
	}
	defer rows.Close()

	out := make(map[model.Category]float64)
	for rows.Next() {
		var (
			raw string
			w   float64
		)
		if err := rows.Scan(&raw, &w); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan category weight")
		}
		c, ok := model.ParseCategory(raw)
		if !ok {
			zap.L().Warn("sqlite: skipping weight for unknown category",
				zap.String("tenant_id", tenantID), zap.String("category", raw))
			continue
		}
		out[c] = w
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list category weights iterate")
}

func (s *SQLiteStore) SetCategoryWeight(ctx context.Context, tenantID string, c model.Category, weight float64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO category_weights (tenant_id, category, weight, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(tenant_id, category) DO UPDATE SET weight = excluded.weight, updated_at = excluded.updated_at`,
		tenantID, string(c), weight, time.Now().UTC(),
	)
	return sqliteWriteErr("sqlite: set category weight "+c.Key(), err)
}

func (s *SQLiteStore) UpsertHealthTrend(ctx context.Context, t *model.HealthTrend) error {
	now := time.Now().UTC()
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO health_trends (id, account_id, tenant_id, month, year, overall_score,
		     product_usage_score, support_score, customer_sentiment_score,
		     business_outcomes_score, relationship_strength_score,
		     total_kpis, valid_kpis, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(account_id, month, year) DO UPDATE SET
		     tenant_id = excluded.tenant_id,
		     overall_score = excluded.overall_score,
		     product_usage_score = excluded.product_usage_score,
		     support_score = excluded.support_score,
		     customer_sentiment_score = excluded.customer_sentiment_score,
		     business_outcomes_score = excluded.business_outcomes_score,
		     relationship_strength_score = excluded.relationship_strength_score,
		     total_kpis = excluded.total_kpis,
		     valid_kpis = excluded.valid_kpis,
		     updated_at = excluded.updated_at
		 RETURNING id, created_at, updated_at`,
		uuid.New().String(), t.AccountID, t.TenantID, t.Month, t.Year, t.OverallScore,
		t.ProductUsageScore, t.SupportScore, t.CustomerSentimentScore,
		t.BusinessOutcomesScore, t.RelationshipStrengthScore,
		t.TotalKPIs, t.ValidKPIs, now, now,
	).Scan(&t.ID, sqliteTime{&t.CreatedAt}, sqliteTime{&t.UpdatedAt})
	return sqliteWriteErr("sqlite: upsert health trend "+t.AccountID, err)
}

func (s *SQLiteStore) GetHealthTrend(ctx context.Context, accountID string, p model.Period) (*model.HealthTrend, error) {
	t, err := scanSQLiteTrend(s.db.QueryRowContext(ctx,
		`SELECT `+trendColumns+` FROM health_trends WHERE account_id = ? AND month = ? AND year = ?`,
		accountID, p.Month, p.Year,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get health trend %s %d-%02d", accountID, p.Year, p.Month)
	}
	return t, nil
}

func (s *SQLiteStore) ListHealthTrends(ctx context.Context, accountID string, limit int) ([]model.HealthTrend, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+trendColumns+` FROM health_trends WHERE account_id = ?
		 ORDER BY year DESC, month DESC LIMIT ?`,
		accountID, listLimit(limit),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list health trends for account %s", accountID)
	}
	defer rows.Close()

	var out []model.HealthTrend
	for rows.Next() {
		t, err := scanSQLiteTrend(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan health trend")
		}
		out = append(out, *t)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list health trends iterate")
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSQLiteTrend(row scanner) (*model.HealthTrend, error) {
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

func (s *SQLiteStore) UpsertKPITimeseries(ctx context.Context, points []model.KPITimeseriesPoint) (int64, error) {
	if len(points) == 0 {
		return 0, nil
	}
	now := time.Now().UTC()

	var n int64
	err := s.inTx(ctx, "sqlite: upsert kpi timeseries", func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO kpi_timeseries (id, kpi_id, account_id, month, year, value, status, score, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(kpi_id, month, year) DO UPDATE SET
			     account_id = excluded.account_id, value = excluded.value,
			     status = excluded.status, score = excluded.score,
			     updated_at = excluded.updated_at`)
		if err != nil {
			return err
		}
		defer stmt.Close() //nolint:errcheck

		for _, p := range points {
			var value sql.NullFloat64
			if p.Value != nil {
				value = sql.NullFloat64{Float64: *p.Value, Valid: true}
			}
			res, err := stmt.ExecContext(ctx, uuid.New().String(), p.KPIID, p.AccountID,
				p.Month, p.Year, value, string(p.Status), p.Score, now, now)
			if err != nil {
				return err
			}
			affected, err := res.RowsAffected()
			if err != nil {
				return err
			}
			n += affected
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (s *SQLiteStore) ListKPITimeseries(ctx context.Context, kpiID string, limit int) ([]model.KPITimeseriesPoint, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, kpi_id, account_id, month, year, value, status, score, created_at, updated_at
		 FROM kpi_timeseries WHERE kpi_id = ? ORDER BY year DESC, month DESC LIMIT ?`,
		kpiID, listLimit(limit),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list kpi timeseries for %s", kpiID)
	}
	defer rows.Close()

	var out []model.KPITimeseriesPoint
	for rows.Next() {
		var (
			p      model.KPITimeseriesPoint
			value  sql.NullFloat64
			status string
		)
		if err := rows.Scan(&p.ID, &p.KPIID, &p.AccountID, &p.Month, &p.Year,
			&value, &status, &p.Score, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan kpi timeseries")
		}
		if value.Valid {
			v := value.Float64
			p.Value = &v
		}
		p.Status = model.Status(status)
		out = append(out, p)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list kpi timeseries iterate")
}

// helpers

// sqliteTime scans a timestamp that the driver may return as time.Time or
// as text (RETURNING columns carry no declared type).
type sqliteTime struct{ t *time.Time }

var sqliteTimeLayouts = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
}

func (st sqliteTime) Scan(src any) error {
	var raw string
	switch v := src.(type) {
	case nil:
		*st.t = time.Time{}
		return nil
	case time.Time:
		*st.t = v
		return nil
	case string:
		raw = v
	case []byte:
		raw = string(v)
	default:
		return eris.Errorf("sqlite: cannot scan %T into time", src)
	}
	for _, layout := range sqliteTimeLayouts {
		if parsed, err := time.Parse(layout, raw); err == nil {
			*st.t = parsed.UTC()
			return nil
		}
	}
	return eris.Errorf("sqlite: unrecognized time %q", raw)
}

func (s *SQLiteStore) inTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return sqliteWriteErr(op+": begin tx", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback() //nolint:errcheck
		return sqliteWriteErr(op, err)
	}
	return sqliteWriteErr(op+": commit tx", tx.Commit())
}

// sqliteWriteErr maps busy/locked databases and unique violations onto
// ConflictError so the caller retries the write.
func sqliteWriteErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if isSQLiteConflict(err) {
		return resilience.NewConflictError(op, err)
	}
	return eris.Wrap(err, op)
}

func isSQLiteConflict(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return true
		}
		return se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE ||
			se.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "sqlite_busy")
}
