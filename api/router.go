// Package api exposes the terminal's local HTTP surface: liveness,
// Prometheus metrics, and replication status for the UI's sync badge.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/omarhaddadin/mizan-pos/api/middleware"
	"github.com/omarhaddadin/mizan-pos/api/responses"
	"github.com/omarhaddadin/mizan-pos/internal/replication"
	"github.com/omarhaddadin/mizan-pos/pkg/config"
	"github.com/omarhaddadin/mizan-pos/pkg/logger"
)

// SyncStatus reports the replication manager's current state.
type SyncStatus interface {
	Status() replication.Status
}

// NewRouter builds the terminal's HTTP handler.
func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	sync SyncStatus,
	gatherer prometheus.Gatherer,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	r.Get("/healthz", Healthz(cfg))
	r.Get("/sync/status", SyncStatusHandler(sync))
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	return r
}

// Healthz answers liveness probes.
func Healthz(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		responses.WriteSuccess(w, map[string]string{
			"status":      "ok",
			"terminal_id": cfg.App.TerminalID,
		})
	}
}

// SyncStatusHandler reports replication state and progress.
func SyncStatusHandler(sync SyncStatus) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		responses.WriteSuccess(w, sync.Status())
	}
}
