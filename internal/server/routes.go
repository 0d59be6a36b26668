// Package server wires HTTP handlers into a chi router for the relay.
package server

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// SetupRoutes configures the router: WebSocket upgrades on "/" and "/ws",
// plain-text health on "/health", and the browser chat panel on "/test".
func SetupRoutes(hub *Hub, cfg Config) *chi.Mux {
	cfg = cfg.sanitize()
	h := NewHandlers(hub, cfg)

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/", h.Root)
	r.HandleFunc("/ws", h.WebSocket)
	r.Get("/health", h.Health)
	r.Get("/test", h.TestPage)
	return r
}
