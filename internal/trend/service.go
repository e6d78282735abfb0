// Package trend recomputes account health scores from stored KPI rows and
// persists them as the monthly health and KPI time series.
package trend

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/sells-group/health-engine/internal/metrics"
	"github.com/sells-group/health-engine/internal/model"
	"github.com/sells-group/health-engine/internal/monitoring"
	"github.com/sells-group/health-engine/internal/reference"
	"github.com/sells-group/health-engine/internal/resilience"
	"github.com/sells-group/health-engine/internal/scorer"
	"github.com/sells-group/health-engine/internal/store"
)

const (
	tableHealthTrends  = "health_trends"
	tableKPITimeseries = "kpi_timeseries"

	defaultConcurrency = 8
)

// Service runs rollups. It is safe for concurrent use.
type Service struct {
	store       store.Store
	refs        *reference.Set
	opts        scorer.ComposeOptions
	retry       resilience.RetryConfig
	alerter     *monitoring.Alerter
	metrics     *metrics.Recorder
	limiter     *rate.Limiter
	concurrency int
	now         func() time.Time

	inflight singleflight.Group
}

// Option configures a Service.
type Option func(*Service)

// WithComposeOptions sets the empty-category policy.
func WithComposeOptions(opts scorer.ComposeOptions) Option {
	return func(s *Service) { s.opts = opts }
}

// WithRetry sets the retry policy for trend writes.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(s *Service) { s.retry = cfg }
}

// WithAlerter evaluates and sends health alerts after each persisted rollup.
func WithAlerter(a *monitoring.Alerter) Option {
	return func(s *Service) { s.alerter = a }
}

// WithMetrics records rollup metrics on rec.
func WithMetrics(rec *metrics.Recorder) Option {
	return func(s *Service) { s.metrics = rec }
}

// WithConcurrency bounds the accounts a customer rollup scores at once.
func WithConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithRateLimit paces customer rollups to perSecond accounts. Zero disables pacing.
func WithRateLimit(perSecond float64) Option {
	return func(s *Service) {
		if perSecond > 0 {
			s.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
		}
	}
}

// WithClock overrides the clock used to pick the default period.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New creates a Service over st, resolving ranges and weights through refs
// with the tenant's stored overrides layered on top.
func New(st store.Store, refs *reference.Set, opts ...Option) *Service {
	s := &Service{
		store:       st,
		refs:        refs,
		retry:       resilience.DefaultRetryConfig(),
		concurrency: defaultConcurrency,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RollupResult is the outcome of one account rollup.
type RollupResult struct {
	AccountID string              `json:"account_id"`
	Period    model.Period        `json:"period"`
	Score     scorer.AccountScore `json:"score"`
	Trend     model.HealthTrend   `json:"trend"`
	Alerts    []monitoring.Alert  `json:"alerts,omitempty"`
}

// RollupSummary counts the outcome of a customer rollup.
type RollupSummary struct {
	TenantID       string       `json:"tenant_id"`
	Period         model.Period `json:"period"`
	Accounts       int          `json:"accounts"`
	Processed      int64        `json:"processed"`
	Failed         int64        `json:"failed"`
	FailedAccounts []string     `json:"failed_accounts,omitempty"`
}

// ResolvePeriod returns p, or the current calendar month when p is nil.
func (s *Service) ResolvePeriod(p *model.Period) (model.Period, error) {
	period := model.CurrentPeriod(s.now())
	if p != nil {
		period = *p
	}
	if err := period.Validate(); err != nil {
		return model.Period{}, eris.Wrap(err, "trend: resolve period")
	}
	return period, nil
}

// Engine returns a scoring engine with tenantID's stored range and weight
// overrides layered over the reference set.
func (s *Service) Engine(ctx context.Context, tenantID string) (*scorer.Engine, error) {
	ranges, err := s.store.ListReferenceRanges(ctx, tenantID)
	if err != nil {
		return nil, eris.Wrapf(err, "trend: load reference overrides for tenant %s", tenantID)
	}
	weights, err := s.store.ListCategoryWeights(ctx, tenantID)
	if err != nil {
		return nil, eris.Wrapf(err, "trend: load weight overrides for tenant %s", tenantID)
	}
	return s.refs.TenantView(tenantID, ranges, weights).Engine(s.opts), nil
}

// ScoreValue classifies raw against the tenant's resolved range for kpiName.
// Nothing is persisted.
func (s *Service) ScoreValue(ctx context.Context, tenantID, kpiName, raw string) (scorer.Classification, error) {
	engine, err := s.Engine(ctx, tenantID)
	if err != nil {
		return scorer.Classification{}, err
	}
	return engine.ScoreValue(tenantID, kpiName, raw), nil
}

// RollupAccount recomputes one account from its current KPI rows and
// persists the result for period (nil = current month). Identical rollups
// already in flight are joined, not repeated.
func (s *Service) RollupAccount(ctx context.Context, tenantID, accountID string, period *model.Period) (*RollupResult, error) {
	if accountID == "" {
		return nil, eris.New("trend: account id is required")
	}
	p, err := s.ResolvePeriod(period)
	if err != nil {
		return nil, err
	}
	engine, err := s.Engine(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	res, err := s.rollupOnce(ctx, engine, tenantID, accountID, p)
	s.metrics.ObserveRollup(metrics.ScopeAccount, err, time.Since(start))
	return res, err
}

// RollupCustomer rolls up every account of tenantID for period (nil =
// current month). A failed account is logged and counted; it never aborts
// the rest of the batch.
func (s *Service) RollupCustomer(ctx context.Context, tenantID string, period *model.Period) (RollupSummary, error) {
	start := time.Now()
	summary, err := s.rollupCustomer(ctx, tenantID, period)
	s.metrics.ObserveRollup(metrics.ScopeCustomer, err, time.Since(start))
	return summary, err
}

func (s *Service) rollupCustomer(ctx context.Context, tenantID string, period *model.Period) (RollupSummary, error) {
	p, err := s.ResolvePeriod(period)
	if err != nil {
		return RollupSummary{}, err
	}
	summary := RollupSummary{TenantID: tenantID, Period: p}

	accounts, err := s.store.ListAccounts(ctx, tenantID)
	if err != nil {
		return summary, eris.Wrapf(err, "trend: list accounts for tenant %s", tenantID)
	}
	summary.Accounts = len(accounts)
	if len(accounts) == 0 {
		zap.L().Info("trend: tenant has no accounts", zap.String("tenant_id", tenantID))
		return summary, nil
	}

	engine, err := s.Engine(ctx, tenantID)
	if err != nil {
		return summary, err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	var (
		processed, failed atomic.Int64
		mu                sync.Mutex
	)
	markFailed := func(accountID string) {
		failed.Add(1)
		mu.Lock()
		summary.FailedAccounts = append(summary.FailedAccounts, accountID)
		mu.Unlock()
	}
	for _, acct := range accounts {
		g.Go(func() error {
			log := zap.L().With(zap.String("tenant_id", tenantID), zap.String("account_id", acct.ID))

			if s.limiter != nil {
				if err := s.limiter.Wait(gctx); err != nil {
					markFailed(acct.ID)
					log.Warn("trend: rollup not started", zap.Error(err))
					return nil
				}
			}

			accountStart := time.Now()
			res, err := s.rollupOnce(gctx, engine, tenantID, acct.ID, p)
			s.metrics.ObserveRollup(metrics.ScopeAccount, err, time.Since(accountStart))
			if err != nil {
				markFailed(acct.ID)
				log.Error("trend: account rollup failed",
					zap.Error(err), zap.Bool("transient", resilience.IsTransient(err)))
				return nil // don't abort batch on individual failure
			}

			processed.Add(1)
			log.Debug("trend: account rollup complete",
				zap.Float64("overall_score", res.Score.Overall.Score),
				zap.Int("valid_kpis", res.Score.ValidKPIs),
			)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return summary, eris.Wrap(err, "trend: customer rollup")
	}

	summary.Processed = processed.Load()
	summary.Failed = failed.Load()
	zap.L().Info("trend: customer rollup complete",
		zap.String("tenant_id", tenantID),
		zap.String("period", periodKey(p)),
		zap.Int("accounts", summary.Accounts),
		zap.Int64("processed", summary.Processed),
		zap.Int64("failed", summary.Failed),
	)

	if err := ctx.Err(); err != nil {
		return summary, eris.Wrap(err, "trend: customer rollup interrupted")
	}
	return summary, nil
}

func (s *Service) rollupOnce(ctx context.Context, engine *scorer.Engine, tenantID, accountID string, p model.Period) (*RollupResult, error) {
	key := tenantID + "/" + accountID + "/" + periodKey(p)
	v, err, shared := s.inflight.Do(key, func() (any, error) {
		return s.rollup(ctx, engine, tenantID, accountID, p)
	})
	if shared {
		zap.L().Debug("trend: joined in-flight rollup", zap.String("key", key))
	}
	if err != nil {
		return nil, err
	}
	return v.(*RollupResult), nil
}

func (s *Service) rollup(ctx context.Context, engine *scorer.Engine, tenantID, accountID string, p model.Period) (*RollupResult, error) {
	kpis, err := s.store.GetKPIs(ctx, accountID)
	if err != nil {
		return nil, eris.Wrapf(err, "trend: get kpis for account %s", accountID)
	}

	score := engine.ScoreAccount(tenantID, kpis)
	for _, k := range score.KPIs {
		s.metrics.KPIScored(string(k.Classification.Status))
	}

	previous, err := s.store.GetHealthTrend(ctx, accountID, p.Previous())
	if err != nil {
		zap.L().Warn("trend: previous period unavailable, drop alerts skipped",
			zap.String("account_id", accountID), zap.Error(err))
		previous = nil
	}

	row, err := s.Persist(ctx, accountID, p, score)
	if err != nil {
		return nil, err
	}
	if _, err := s.PersistKPIs(ctx, accountID, p, score.KPIs); err != nil {
		return nil, err
	}

	res := &RollupResult{AccountID: accountID, Period: p, Score: score, Trend: *row}
	if s.alerter != nil {
		res.Alerts = s.alerter.Evaluate(previous, row)
		if len(res.Alerts) > 0 {
			sent := s.alerter.SendAlerts(ctx, res.Alerts)
			zap.L().Info("trend: health alerts raised",
				zap.String("account_id", accountID),
				zap.Int("alerts", len(res.Alerts)),
				zap.Int("sent", sent),
			)
		}
	}
	return res, nil
}

// Persist upserts the account's row for p. Conflicts with concurrent
// writers are retried; when retries run out the error matches
// resilience.ErrRetriesExhausted.
func (s *Service) Persist(ctx context.Context, accountID string, p model.Period, score scorer.AccountScore) (*model.HealthTrend, error) {
	if err := p.Validate(); err != nil {
		return nil, eris.Wrap(err, "trend: persist")
	}
	row := score.HealthTrend(accountID, p)

	err := resilience.Do(ctx, s.retryFor(tableHealthTrends), func(ctx context.Context) error {
		return s.store.UpsertHealthTrend(ctx, &row)
	})
	if err != nil {
		return nil, eris.Wrapf(err, "trend: persist health trend %s %s", accountID, periodKey(p))
	}
	return &row, nil
}

// PersistKPIs upserts one time series point per scored KPI for p. KPIs
// without an id cannot be keyed and are skipped.
func (s *Service) PersistKPIs(ctx context.Context, accountID string, p model.Period, kpis []scorer.ScoredKPI) (int64, error) {
	points := make([]model.KPITimeseriesPoint, 0, len(kpis))
	for _, k := range kpis {
		if k.Record.ID == "" {
			zap.L().Warn("trend: skipping kpi without id",
				zap.String("account_id", accountID), zap.String("kpi", k.Record.Parameter))
			continue
		}
		points = append(points, model.KPITimeseriesPoint{
			KPIID:     k.Record.ID,
			AccountID: accountID,
			Month:     p.Month,
			Year:      p.Year,
			Value:     k.Value,
			Status:    k.Classification.Status,
			Score:     k.Classification.Score,
		})
	}
	if len(points) == 0 {
		return 0, nil
	}

	n, err := resilience.DoVal(ctx, s.retryFor(tableKPITimeseries), func(ctx context.Context) (int64, error) {
		return s.store.UpsertKPITimeseries(ctx, points)
	})
	if err != nil {
		return 0, eris.Wrapf(err, "trend: persist kpi timeseries %s %s", accountID, periodKey(p))
	}
	return n, nil
}

// Trends returns an account's stored rows, newest period first.
func (s *Service) Trends(ctx context.Context, accountID string, limit int) ([]model.HealthTrend, error) {
	rows, err := s.store.ListHealthTrends(ctx, accountID, limit)
	if err != nil {
		return nil, eris.Wrapf(err, "trend: list trends for account %s", accountID)
	}
	return rows, nil
}

func (s *Service) retryFor(table string) resilience.RetryConfig {
	cfg := s.retry
	logRetry := resilience.RetryLogger("trend", "upsert "+table)
	onRetry := cfg.OnRetry
	cfg.OnRetry = func(attempt int, err error) {
		s.metrics.PersistRetry(table)
		logRetry(attempt, err)
		if onRetry != nil {
			onRetry(attempt, err)
		}
	}
	return cfg
}

func periodKey(p model.Period) string {
	return fmt.Sprintf("%04d-%02d", p.Year, p.Month)
}
