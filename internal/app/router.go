package app

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"setman/internal/platform/metrics"
	"setman/internal/schema"
	"setman/internal/settings/handler"
	"setman/internal/settings/lazy"
	"setman/pkg/platform/httputil"
	"setman/pkg/platform/middleware/admin"
	"setman/pkg/platform/middleware/request"
)

// RouterConfig lists what the HTTP surface needs.
type RouterConfig struct {
	AdminToken string
	Logger     *slog.Logger
	Registry   *prometheus.Registry
	Settings   *lazy.Settings
	Schema     *schema.Schema
	Health     func(ctx context.Context) error
}

// NewRouter mounts /healthz, /metrics and the admin-token protected settings
// endpoints.
func NewRouter(cfg RouterConfig) http.Handler {
	httpMetrics := metrics.New(cfg.Registry)

	r := chi.NewRouter()
	r.Use(request.RequestID)
	r.Use(request.RequestTime)
	r.Use(request.Recovery(cfg.Logger))
	r.Use(request.Logger(cfg.Logger))
	r.Use(httpMetrics.Instrument)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if cfg.Health != nil {
			if err := cfg.Health(r.Context()); err != nil {
				cfg.Logger.WarnContext(r.Context(), "health check failed",
					"request_id", request.GetRequestID(r.Context()),
					"error", err,
				)
				httputil.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", metrics.Handler(cfg.Registry))

	r.Group(func(r chi.Router) {
		r.Use(admin.RequireAdminToken(cfg.AdminToken, cfg.Logger))
		handler.New(cfg.Settings, cfg.Schema, cfg.Logger).Register(r)
	})
	return r
}

// Router builds the HTTP surface over a.
func (a *App) Router() http.Handler {
	return NewRouter(RouterConfig{
		AdminToken: a.Config.AdminToken,
		Logger:     a.Logger,
		Registry:   a.Registry,
		Settings:   a.Settings,
		Schema:     a.Schema,
		Health:     a.Health,
	})
}
