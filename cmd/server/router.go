package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/scanwell/taskledger/internal/api"
	apiMiddleware "github.com/scanwell/taskledger/internal/api/middleware"
)

// setupRouter builds the HTTP router with all routes and middleware.
func (app *application) setupRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(apiMiddleware.TraceID(app.logger))
	r.Use(apiMiddleware.RequestLogger)

	taskHandler := api.NewTaskHandler(app.queue, app.logger)
	activityHandler := api.NewActivityHandler(app.ledger, app.logger)

	r.Route("/api", func(r chi.Router) {
		r.Post("/tasks", taskHandler.Submit)
		r.Get("/tasks/{id}", taskHandler.Get)
		r.Delete("/tasks/{id}", taskHandler.Cancel)

		r.Get("/activity", activityHandler.History)
		r.Get("/activity/latest", activityHandler.Latest)
		r.Get("/activity/latest/main", activityHandler.LatestForMain)
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			app.logger.Error("Failed to write health check response", "error", err)
		}
	})
	r.Handle("/metrics", promhttp.Handler())

	return r
}
