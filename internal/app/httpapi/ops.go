package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/lanternhq/lantern-api/internal/app/metrics"
	"github.com/lanternhq/lantern-api/internal/app/system"
)

// Pinger reports whether the backing database is reachable. A nil Pinger
// means the service runs on in-memory stores and is always ready.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// NewOpsHandler returns the operational router served on the ops port:
// liveness, readiness, metrics, a process snapshot and the audit buffer.
func NewOpsHandler(db Pinger, audit *AuditLog) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/readyz", func(w http.ResponseWriter, req *http.Request) {
		if db != nil {
			ctx, cancel := context.WithTimeout(req.Context(), 2*time.Second)
			defer cancel()
			if err := db.PingContext(ctx); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{
					"status": "unavailable",
					"error":  err.Error(),
				})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})

	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Get("/system", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, system.CollectInfo())
	})

	r.Get("/audit", func(w http.ResponseWriter, req *http.Request) {
		if audit == nil {
			writeJSON(w, http.StatusOK, []AuditEntry{})
			return
		}
		limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
		writeJSON(w, http.StatusOK, audit.ListLimit(limit))
	})

	return r
}
