// Package api serves the scoring engine over HTTP.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/health-engine/internal/metrics"
)

// RouterConfig configures NewRouter.
type RouterConfig struct {
	AllowedOrigins []string
	Metrics        *metrics.Recorder
	Pinger         Pinger
}

// NewRouter registers every endpoint on a chi router.
func NewRouter(svc Service, cfg RouterConfig) http.Handler {
	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		MaxAge:         300,
	}))

	h := NewHandler(svc, cfg.Pinger)
	r.Get("/health", h.HandleHealth)
	r.Method(http.MethodGet, "/metrics", cfg.Metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/score-value", h.HandleScoreValue)
		r.Post("/tenants/{tenantID}/accounts/{accountID}/rollup", h.HandleRollupAccount)
		r.Post("/tenants/{tenantID}/rollup", h.HandleRollupCustomer)
		r.Get("/accounts/{accountID}/trends", h.HandleTrends)
	})

	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Debug("api: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
