// Package server constructs and starts the relay's HTTP service with helpers
// that apply sensible production defaults.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// CreateServer creates and configures an HTTP server with the specified port and handler.
// The timeouts apply to plain HTTP requests only; the WebSocket upgrade
// clears the deadlines on hijacked connections.
func CreateServer(port string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// StartHub runs hub's event loop in a separate goroutine and returns it.
func StartHub(hub *Hub) *Hub {
	go hub.Run()
	log.Info().Msg("Hub started and ready to manage WebSocket connections")
	return hub
}

// StartServer starts the HTTP server and blocks until it exits. A server
// stopped through ShutdownServer returns nil.
func StartServer(server *http.Server) error {
	log.Info().Str("addr", server.Addr).Msg("Server listening")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ShutdownServer gracefully shuts down the HTTP server without interrupting active connections.
// Hijacked WebSocket connections are not tracked by net/http; the hub closes those.
func ShutdownServer(server *http.Server, timeout time.Duration) error {
	log.Info().Msg("Shutting down HTTP server...")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
		return err
	}

	log.Info().Msg("HTTP server shutdown completed")
	return nil
}

// ShutdownRelay stops srv and then hub. Both steps share ctx's deadline, so
// the whole shutdown fits in one budget; without a deadline each step gets
// fallback.
func ShutdownRelay(ctx context.Context, srv *http.Server, hub *Hub, fallback time.Duration) error {
	if err := ShutdownServer(srv, remaining(ctx, fallback)); err != nil {
		return err
	}
	return hub.Shutdown(remaining(ctx, fallback))
}

func remaining(ctx context.Context, fallback time.Duration) time.Duration {
	deadline, ok := ctx.Deadline()
	if !ok {
		return fallback
	}
	if left := time.Until(deadline); left > 0 {
		return left
	}
	return 0
}
