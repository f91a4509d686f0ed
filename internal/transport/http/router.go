package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"evalledger/internal/platform/metrics"
	"evalledger/pkg/platform/httputil"
	authmw "evalledger/pkg/platform/middleware/auth"
	"evalledger/pkg/platform/middleware/request"
	"evalledger/pkg/platform/middleware/requesttime"
)

// APIPrefix is the mount point of the versioned API.
const APIPrefix = "/api/v1"

const readinessTimeout = 2 * time.Second

// Registrar mounts a group of endpoints.
type Registrar interface {
	Register(r chi.Router)
}

// CheckFunc probes one dependency for readiness.
type CheckFunc func(ctx context.Context) error

// Deps are the collaborators of the router.
type Deps struct {
	Logger         *slog.Logger
	Validator      authmw.JWTValidator
	Metrics        *metrics.HTTP
	RequestTimeout time.Duration
	// Checks are probed by /ready, keyed by dependency name.
	Checks map[string]CheckFunc
	API    []Registrar
}

// NewRouter wires the public endpoints. /health, /ready and /metrics are
// unauthenticated; everything under /api/v1 requires a bearer token.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(request.RequestID)
	r.Use(request.Recover(d.Logger))
	r.Use(request.Logger(d.Logger))
	r.Use(requesttime.Middleware)
	if d.Metrics != nil {
		r.Use(d.Metrics.Middleware)
	}

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteJSON(w, http.StatusNotFound, httputil.ErrorResponse{Error: "not_found", Description: "route not found"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteJSON(w, http.StatusMethodNotAllowed, httputil.ErrorResponse{Error: "method_not_allowed"})
	})

	r.Get("/health", handleHealth)
	r.Get("/ready", handleReady(d.Checks))
	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics.Handler())
	}

	r.Route(APIPrefix, func(api chi.Router) {
		if d.RequestTimeout > 0 {
			api.Use(chimw.Timeout(d.RequestTimeout))
		}
		api.Use(authmw.RequireAuth(d.Validator, d.Logger))
		for _, reg := range d.API {
			reg.Register(api)
		}
	})
	return r
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReady reports each dependency and answers 503 when any is down.
func handleReady(checks map[string]CheckFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
		defer cancel()

		status := http.StatusOK
		results := make(map[string]string, len(checks))
		for name, check := range checks {
			if err := check(ctx); err != nil {
				results[name] = err.Error()
				status = http.StatusServiceUnavailable
				continue
			}
			results[name] = "ok"
		}
		httputil.WriteJSON(w, status, map[string]any{
			"status": http.StatusText(status),
			"checks": results,
		})
	}
}
