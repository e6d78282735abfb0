package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/health-engine/internal/config"
	"github.com/sells-group/health-engine/internal/metrics"
	"github.com/sells-group/health-engine/internal/monitoring"
	"github.com/sells-group/health-engine/internal/reference"
	"github.com/sells-group/health-engine/internal/resilience"
	"github.com/sells-group/health-engine/internal/scorer"
	"github.com/sells-group/health-engine/internal/store"
	"github.com/sells-group/health-engine/internal/trend"
)

// engineEnv holds the store, reference data and rollup service shared by
// the rollup/trends/serve commands.
type engineEnv struct {
	Store   store.Store
	Refs    *reference.Set
	Metrics *metrics.Recorder
	Alerter *monitoring.Alerter
	Service *trend.Service
}

// Close releases resources held by the environment.
func (e *engineEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initEnv validates cfg for mode, opens and migrates the store and builds
// the trend service. Callers should defer env.Close().
func initEnv(ctx context.Context, c *config.Config, mode string) (*engineEnv, error) {
	if err := c.Validate(mode); err != nil {
		return nil, err
	}

	refs, err := reference.Load(c.Scoring.ReferenceFile)
	if err != nil {
		return nil, eris.Wrap(err, "load reference data")
	}

	st, err := store.Open(ctx, c.Store.Driver, c.Store.DatabaseURL, c.Store.Pool)
	if err != nil {
		return nil, eris.Wrap(err, "open store")
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	rec := metrics.New()
	alerter := monitoring.NewAlerter(c.Monitoring, rec)

	retry := resilience.FromSettings(
		c.Rollup.Retry.MaxAttempts,
		c.Rollup.Retry.InitialBackoff,
		c.Rollup.Retry.MaxBackoff,
		c.Rollup.Retry.Jitter,
	)

	svc := trend.New(st, refs,
		trend.WithComposeOptions(composeOptions(c)),
		trend.WithRetry(retry),
		trend.WithAlerter(alerter),
		trend.WithMetrics(rec),
		trend.WithConcurrency(c.Rollup.MaxConcurrentAccounts),
		trend.WithRateLimit(c.Rollup.AccountsPerSecond),
	)

	zap.L().Debug("engine environment ready",
		zap.String("mode", mode),
		zap.String("driver", c.Store.Driver),
		zap.Bool("alerts", c.Monitoring.WebhookURL != ""),
	)

	return &engineEnv{
		Store:   st,
		Refs:    refs,
		Metrics: rec,
		Alerter: alerter,
		Service: svc,
	}, nil
}

func composeOptions(c *config.Config) scorer.ComposeOptions {
	return scorer.ComposeOptions{ExcludeEmpty: c.Scoring.ExcludeEmptyCategories}
}
