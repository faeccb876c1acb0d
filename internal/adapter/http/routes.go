package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	tbotel "github.com/tribunal-dev/tribunal/internal/adapter/otel"
)

// NewRouter builds the chi router for serve mode.
func NewRouter(h *Handlers, corsOrigin, serviceName string) http.Handler {
	r := chi.NewRouter()

	r.Use(CORS(corsOrigin))
	r.Use(Logger)
	r.Use(tbotel.HTTPMiddleware(serviceName))
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(10 * time.Minute))

	r.Get("/health", h.handleHealth)
	r.Post("/v1/runs", h.handleRun)

	return r
}
