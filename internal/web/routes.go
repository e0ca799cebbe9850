package web

import (
	"github.com/go-chi/chi/v5"

	"github.com/findwatch/findwatch/internal/config"
	"github.com/findwatch/findwatch/internal/crops"
	"github.com/findwatch/findwatch/internal/detect"
	"github.com/findwatch/findwatch/internal/pipeline"
	"github.com/findwatch/findwatch/internal/store"
	"github.com/findwatch/findwatch/internal/web/handlers"
)

func (s *Server) setupRoutes(
	cfg *config.Config,
	st store.Store,
	cropStore *crops.Store,
	detector detect.Detector,
	pipe *pipeline.Pipeline,
) {
	ingestHandler := handlers.NewIngestHandler(pipe, st, s.log)
	casesHandler := handlers.NewCasesHandler(st, cropStore, detector, cfg.Matching.MinCropSize, s.log)
	notificationsHandler := handlers.NewNotificationsHandler(st, s.log)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", handlers.HealthCheck)
		r.Get("/ready", ingestHandler.Ready)

		// Frame ingestion
		r.Post("/frames", ingestHandler.Upload)
		r.Get("/frames/{id}", ingestHandler.GetFrame)

		// Cases
		r.Get("/cases", casesHandler.List)
		r.Post("/cases", casesHandler.Create)
		r.Get("/cases/{id}", casesHandler.Get)
		r.Post("/cases/{id}/close", casesHandler.Close)
		r.Post("/cases/{id}/photos", casesHandler.RegisterPhoto)

		// Notifications
		r.Get("/notifications", notificationsHandler.List)
		r.Get("/notifications/{id}", notificationsHandler.Get)
		r.Post("/notifications/{id}/confirm", notificationsHandler.Confirm)
		r.Post("/notifications/{id}/dismiss", notificationsHandler.Dismiss)
	})
}
