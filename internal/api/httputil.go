package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/sells-group/health-engine/internal/model"
)

const maxTrendLimit = 120

// writeJSON marshals v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("api: encode response", zap.Error(err))
	}
}

// writeError writes a structured JSON error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
		"code":  code,
	})
}

// internalError logs err and writes an opaque 500.
func internalError(w http.ResponseWriter, r *http.Request, err error) {
	zap.L().Error("api: request failed",
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.Error(err),
	)
	writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
}

// decodeJSON decodes the request body into v.
func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close() //nolint:errcheck
	return json.NewDecoder(r.Body).Decode(v)
}

// parsePeriod reads the optional month and year query parameters. Both or
// neither must be set; neither means the current month.
func parsePeriod(w http.ResponseWriter, r *http.Request) (*model.Period, bool) {
	q := r.URL.Query()
	rawMonth, rawYear := q.Get("month"), q.Get("year")
	if rawMonth == "" && rawYear == "" {
		return nil, true
	}
	if rawMonth == "" || rawYear == "" {
		writeError(w, http.StatusBadRequest, "INVALID_PERIOD", "month and year must be given together")
		return nil, false
	}

	month, err := strconv.Atoi(rawMonth)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_PERIOD", "invalid month: "+rawMonth)
		return nil, false
	}
	year, err := strconv.Atoi(rawYear)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_PERIOD", "invalid year: "+rawYear)
		return nil, false
	}

	p := model.Period{Month: month, Year: year}
	if err := p.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_PERIOD", err.Error())
		return nil, false
	}
	return &p, true
}

// parseLimit extracts limit from query params. Zero means the store default.
func parseLimit(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n < 0 {
		return 0
	}
	if n > maxTrendLimit {
		return maxTrendLimit
	}
	return n
}
