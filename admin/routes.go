package admin

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// RegisterRoutes registers all admin API routes using chi router
func RegisterRoutes(mux *http.ServeMux, handlers *AdminHandlers) {
	r := chi.NewRouter()

	// Health probe stays open so orchestrators can poll it
	r.Get("/health", handlers.handleHealth)

	// Operational state (auth required)
	r.Group(func(r chi.Router) {
		r.Use(chiAuthMiddleware)
		r.Get("/status", handlers.handleStatus)
		r.Get("/tables", handlers.handleTables)
		r.Get("/sinks", handlers.handleSinks)
	})

	// Mount chi router under /admin
	mux.Handle("/admin", http.RedirectHandler("/admin/", http.StatusMovedPermanently))
	mux.Handle("/admin/", http.StripPrefix("/admin", r))

	log.Info().Msg("Admin endpoints enabled at /admin/*")
}

// chiAuthMiddleware adapts AuthMiddleware for chi
func chiAuthMiddleware(next http.Handler) http.Handler {
	return AuthMiddleware(next)
}
