/**
 * @description
 * This file sets up the HTTP router for the down-service using the `chi`
 * routing library. It defines all the API routes and applies necessary middleware.
 *
 * @dependencies
 * - github.com/go-chi/chi/v5: The routing library.
 * - github.com/go-chi/cors: CORS middleware for the mobile web client.
 */
package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/down/down-service/internal/config"
)

// NewRouter creates and configures a new HTTP router.
func NewRouter(cfg *config.Config, onboarding *OnboardingHandler, events *EventHandler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)    // Log API requests
	r.Use(middleware.Recoverer) // Recover from panics

	origins := []string{"*"}
	if cfg.AllowedOrigins != "" {
		origins = strings.Split(cfg.AllowedOrigins, ",")
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("down service is healthy"))
	})

	// Session context snapshot for the app shell
	r.Get("/auth/session", onboarding.CurrentSession)

	// Verification flow: public, pre-authentication
	r.Route("/auth/flow", func(r chi.Router) {
		r.Post("/", onboarding.StartFlow)
		r.Post("/{flowID}/code", onboarding.ResendCode)
		r.Post("/{flowID}/verify", onboarding.VerifyCode)
		r.Post("/{flowID}/profile", onboarding.CreateProfile)
	})

	// Group routes that require an authenticated session
	r.Group(func(r chi.Router) {
		r.Use(SessionAuthMiddleware(AuthMiddlewareConfig{
			SessionJWTSecret: cfg.SessionJWTSecret,
		}))

		r.Get("/me/profile", onboarding.MyProfile)
		r.Post("/auth/refresh", onboarding.RefreshSession)
		r.Post("/auth/logout", onboarding.Logout)

		r.Route("/events", func(r chi.Router) {
			r.Get("/", events.ListEvents)
			r.Get("/mine", events.MyEvents)
			r.Post("/", events.CreateEvent)
			r.Post("/{eventID}/rsvp", events.RSVP)
		})
	})

	return r
}
