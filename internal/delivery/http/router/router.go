package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/user/listing-crawler/internal/delivery/http/handler"
	"github.com/user/listing-crawler/internal/delivery/http/middleware"
)

func New(h *handler.Handler, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logging(logger))
	r.Use(middleware.Metrics)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(60 * time.Second))

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.HandleHealthCheck)
		r.Post("/run", h.HandleRun)
		r.Post("/stop", h.HandleStop)
		r.Get("/lineages", h.HandleListLineages)
		r.Get("/lineages/{combo}", h.HandleGetLineage)
		r.Get("/items/{externalID}", h.HandleGetItem)
	})

	return r
}
