// Package monitoring turns persisted health scores into playbook alerts and
// delivers them to a webhook.
package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/health-engine/internal/config"
	"github.com/sells-group/health-engine/internal/metrics"
	"github.com/sells-group/health-engine/internal/model"
	"github.com/sells-group/health-engine/internal/resilience"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertHealthLow   AlertType = "health_low"
	AlertHealthDrop  AlertType = "health_drop"
	AlertNoValidKPIs AlertType = "no_valid_kpis"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	TenantID  string         `json:"tenant_id"`
	AccountID string         `json:"account_id"`
	Month     int            `json:"month"`
	Year      int            `json:"year"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a new health trend row against the previous period and
// configured thresholds, and sends alerts via webhook.
type Alerter struct {
	cfg     config.MonitoringConfig
	client  *http.Client
	breaker *resilience.CircuitBreaker
	retry   resilience.RetryConfig
	metrics *metrics.Recorder
	now     func() time.Time
}

// NewAlerter creates a new Alerter with the given monitoring config. rec may
// be nil.
func NewAlerter(cfg config.MonitoringConfig, rec *metrics.Recorder) *Alerter {
	timeout := time.Duration(cfg.WebhookTimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	retry := resilience.DefaultRetryConfig()
	retry.MaxAttempts = 3
	retry.InitialBackoff = 100 * time.Millisecond
	retry.ShouldRetry = resilience.IsTransient
	retry.OnRetry = resilience.RetryLogger("monitoring", "send webhook")

	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
		breaker: resilience.NewCircuitBreaker(resilience.BreakerConfig{
			FailureThreshold: cfg.BreakerFailures,
			ResetTimeout:     time.Duration(cfg.BreakerResetSecs) * time.Second,
			OnStateChange: func(from, to resilience.CircuitState) {
				zap.L().Warn("monitoring: webhook circuit state changed",
					zap.String("from", from.String()), zap.String("to", to.String()))
			},
		}),
		retry:   retry,
		metrics: rec,
		now:     time.Now,
	}
}

// Evaluate compares current with the previous period's row (nil when there
// is none) and returns any alerts. An account with KPIs but no scorable KPI
// only raises no_valid_kpis, since its overall score carries no signal.
func (a *Alerter) Evaluate(previous, current *model.HealthTrend) []Alert {
	if current == nil {
		return nil
	}
	now := a.now().UTC()
	base := Alert{
		TenantID:  current.TenantID,
		AccountID: current.AccountID,
		Month:     current.Month,
		Year:      current.Year,
		Timestamp: now,
	}

	if current.ValidKPIs == 0 {
		if current.TotalKPIs == 0 {
			return nil
		}
		alert := base
		alert.Type = AlertNoValidKPIs
		alert.Severity = "medium"
		alert.Message = fmt.Sprintf(
			"Account %s has %d KPI(s) for %d-%02d but none could be scored",
			current.AccountID, current.TotalKPIs, current.Year, current.Month,
		)
		alert.Details = map[string]any{"total_kpis": current.TotalKPIs}
		return []Alert{alert}
	}

	var alerts []Alert

	if current.OverallScore < a.cfg.LowScoreThreshold {
		alert := base
		alert.Type = AlertHealthLow
		alert.Severity = "high"
		alert.Message = fmt.Sprintf(
			"Account %s health score %.2f is below threshold %.2f for %d-%02d",
			current.AccountID, current.OverallScore, a.cfg.LowScoreThreshold, current.Year, current.Month,
		)
		alert.Details = map[string]any{
			"overall_score": current.OverallScore,
			"threshold":     a.cfg.LowScoreThreshold,
			"valid_kpis":    current.ValidKPIs,
		}
		alerts = append(alerts, alert)
	}

	if previous != nil && previous.ValidKPIs > 0 && a.cfg.DropThreshold > 0 {
		drop := previous.OverallScore - current.OverallScore
		if drop >= a.cfg.DropThreshold {
			alert := base
			alert.Type = AlertHealthDrop
			alert.Severity = "medium"
			alert.Message = fmt.Sprintf(
				"Account %s health score fell %.2f points (%.2f -> %.2f) since %d-%02d",
				current.AccountID, drop, previous.OverallScore, current.OverallScore,
				previous.Year, previous.Month,
			)
			alert.Details = map[string]any{
				"previous_score": previous.OverallScore,
				"current_score":  current.OverallScore,
				"drop":           drop,
				"threshold":      a.cfg.DropThreshold,
			}
			alerts = append(alerts, alert)
		}
	}

	return alerts
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		err := a.breaker.Execute(ctx, func(ctx context.Context) error {
			return resilience.Do(ctx, a.retry, func(ctx context.Context) error {
				return a.sendWebhook(ctx, alert)
			})
		})
		if err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.String("account_id", alert.AccountID),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
			zap.String("account_id", alert.AccountID),
		)
		a.metrics.AlertSent(string(alert.Type))
		sent++
	}
	return sent
}

// BreakerState reports the webhook circuit state.
func (a *Alerter) BreakerState() resilience.CircuitState {
	return a.breaker.State()
}

// sendWebhook posts a single alert to the webhook URL.
func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		err := eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return resilience.NewTransientError(err, resp.StatusCode)
		}
		return err
	}
	return nil
}
