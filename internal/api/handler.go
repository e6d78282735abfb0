package api

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sells-group/health-engine/internal/export"
	"github.com/sells-group/health-engine/internal/model"
	"github.com/sells-group/health-engine/internal/scorer"
	"github.com/sells-group/health-engine/internal/trend"
)

// Service is the scoring surface the handlers call.
type Service interface {
	ScoreValue(ctx context.Context, tenantID, kpiName, raw string) (scorer.Classification, error)
	RollupAccount(ctx context.Context, tenantID, accountID string, period *model.Period) (*trend.RollupResult, error)
	RollupCustomer(ctx context.Context, tenantID string, period *model.Period) (trend.RollupSummary, error)
	Trends(ctx context.Context, accountID string, limit int) ([]model.HealthTrend, error)
}

// Pinger reports backend availability for /health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler implements the health engine HTTP endpoints.
type Handler struct {
	svc    Service
	pinger Pinger
}

// NewHandler creates a Handler. pinger may be nil.
func NewHandler(svc Service, pinger Pinger) *Handler {
	return &Handler{svc: svc, pinger: pinger}
}

// HandleHealth reports liveness, and store reachability when a pinger is set.
// GET /health
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if h.pinger != nil {
		if err := h.pinger.Ping(r.Context()); err != nil {
			zap.L().Warn("api: store ping failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type scoreValueRequest struct {
	TenantID string `json:"tenant_id"`
	KPIName  string `json:"kpi_name"`
	Value    string `json:"value"`
}

// HandleScoreValue classifies one value without persisting anything.
// POST /v1/score-value
func (h *Handler) HandleScoreValue(w http.ResponseWriter, r *http.Request) {
	var req scoreValueRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.KPIName) == "" {
		writeError(w, http.StatusBadRequest, "MISSING_PARAMS", "kpi_name is required")
		return
	}

	c, err := h.svc.ScoreValue(r.Context(), req.TenantID, req.KPIName, req.Value)
	if err != nil {
		internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// HandleRollupAccount recomputes and stores one account's monthly score.
// POST /v1/tenants/{tenantID}/accounts/{accountID}/rollup
func (h *Handler) HandleRollupAccount(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	accountID := chi.URLParam(r, "accountID")
	if tenantID == "" || accountID == "" {
		writeError(w, http.StatusBadRequest, "MISSING_PARAMS", "tenantID and accountID are required")
		return
	}
	period, ok := parsePeriod(w, r)
	if !ok {
		return
	}

	res, err := h.svc.RollupAccount(r.Context(), tenantID, accountID, period)
	if err != nil {
		internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// HandleRollupCustomer rolls up every account of a tenant.
// POST /v1/tenants/{tenantID}/rollup
func (h *Handler) HandleRollupCustomer(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	if tenantID == "" {
		writeError(w, http.StatusBadRequest, "MISSING_PARAMS", "tenantID is required")
		return
	}
	period, ok := parsePeriod(w, r)
	if !ok {
		return
	}

	summary, err := h.svc.RollupCustomer(r.Context(), tenantID, period)
	if err != nil {
		internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// HandleTrends lists an account's stored rows, newest first. format=csv or
// format=xlsx returns a download instead of JSON.
// GET /v1/accounts/{accountID}/trends
func (h *Handler) HandleTrends(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")
	if accountID == "" {
		writeError(w, http.StatusBadRequest, "MISSING_PARAMS", "accountID is required")
		return
	}

	format := strings.ToLower(r.URL.Query().Get("format"))
	var contentType string
	switch format {
	case "", "json":
	case export.FormatCSV:
		contentType = "text/csv"
	case export.FormatXLSX:
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		writeError(w, http.StatusBadRequest, "INVALID_FORMAT", "format must be json, csv or xlsx")
		return
	}

	rows, err := h.svc.Trends(r.Context(), accountID, parseLimit(r))
	if err != nil {
		internalError(w, r, err)
		return
	}
	if rows == nil {
		rows = []model.HealthTrend{}
	}
	if contentType == "" {
		writeJSON(w, http.StatusOK, rows)
		return
	}

	var buf bytes.Buffer
	if err := export.Write(&buf, format, rows); err != nil {
		internalError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", accountID+"-trends."+format))
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes()) //nolint:errcheck
}
