package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/ayush/station-chat/backend/internal/middleware"
)

// NewRouter mounts every route on a chi router.
func NewRouter(h *Handler, allowedOrigins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api/auth", func(r chi.Router) {
		r.Post("/register", h.Register)
		r.Post("/login", h.Login)
		r.Post("/logout", h.Logout)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAuth)
			r.Get("/me", h.Me)
			r.Put("/me", h.UpdateMe)
			r.Post("/me/stations", h.AssignStation)
			r.Put("/me/stations/{stationID}", h.RenameStation)
			r.Delete("/me/stations/{stationID}", h.UnassignStation)
		})
	})

	r.Route("/api/users", func(r chi.Router) {
		r.Use(middleware.RequireAuth)
		r.Get("/", h.ListUsers)
		r.Delete("/{id}", h.DeleteUser)
	})

	r.Route("/api/messages", func(r chi.Router) {
		r.Use(middleware.RequireAuth)
		r.Post("/", h.Send)
		r.Get("/id/{id}", h.GetMessage)
		r.Get("/{username}", h.History)
	})

	return r
}
