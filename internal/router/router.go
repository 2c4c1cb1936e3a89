// internal/api/router.go
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/lvtu-ai/travel-planner/internal/api/itinerary"
	"github.com/lvtu-ai/travel-planner/internal/api/recommend"
	"github.com/lvtu-ai/travel-planner/internal/api/tasks"
	"github.com/lvtu-ai/travel-planner/internal/api/trip"
)

// Config contains dependencies needed for the router setup
type Config struct {
	TripHandler      *trip.Handler
	RecommendHandler *recommend.Handler
	ItineraryHandler *itinerary.Handler
	TaskHandler      *tasks.Handler

	CORSOrigins []string
	Timeout     time.Duration
}

// SetupRouter initializes and configures the main application router.
// Server-wide middleware (like logger, requestID, recoverer) are expected
// to be applied *before* mounting this router in main.go.
func SetupRouter(cfg *Config) chi.Router {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300, // Maximum value not ignored by any major browsers
	}))

	// Heartbeat/Health check endpoint
	r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("pong"))
	})

	// Group API routes, potentially versioning them
	r.Route("/api/v1", func(r chi.Router) {

		// --- Plain JSON routes ---
		// These finish quickly, so they run under the request timeout.
		r.Group(func(r chi.Router) {
			if cfg.Timeout > 0 {
				r.Use(middleware.Timeout(cfg.Timeout))
			}

			r.Post("/travel-plans", cfg.TripHandler.CreateTravelPlan)
			r.Get("/travel-plans", cfg.TripHandler.ListTravelPlans)
			r.Get("/travel-plans/{planID}", cfg.TripHandler.GetTravelPlan)
			r.Delete("/travel-plans/{planID}", cfg.TripHandler.DeleteTravelPlan)

			r.Get("/recommendations/{planID}", cfg.RecommendHandler.GetRecommendations)

			r.Post("/travel-plans/{planID}/generate-itinerary", cfg.ItineraryHandler.GenerateItinerary)

			r.Get("/tasks/{taskID}", cfg.TaskHandler.GetTask)
		})

		// --- Streaming routes ---
		// SSE responses outlive any sane request timeout, so the timeout
		// middleware is deliberately not applied here.
		r.Group(func(r chi.Router) {
			r.Post("/travel-plans/{planID}/generate-itinerary/stream", cfg.ItineraryHandler.GenerateItineraryStream)
		})
	})

	return r
}
