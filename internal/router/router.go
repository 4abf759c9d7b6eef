package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/fgorczyca03/MathTutorApplication/internal/handlers"
	"github.com/fgorczyca03/MathTutorApplication/internal/middleware"
)

func New(
	sessionHandler *handlers.SessionHandler,
	tutorLimiter *middleware.RateLimiter,
	frontendURL string,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.CORS(frontendURL))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api/v1", func(r chi.Router) {

		// ──── Session Routes ────
		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", sessionHandler.Create)
			r.Get("/{id}", sessionHandler.Get)
			r.Delete("/{id}", sessionHandler.Delete)
			r.Post("/{id}/reset", sessionHandler.Reset)
			r.Get("/{id}/ws", sessionHandler.Stream)

			// Requests that reach the tutor
			r.Group(func(r chi.Router) {
				r.Use(tutorLimiter.Middleware)
				r.Post("/{id}/image", sessionHandler.SubmitImage)
				r.Post("/{id}/messages", sessionHandler.SubmitText)
			})
		})
	})

	return r
}
