package main

import (
	"context"
	"errors"
	"io/fs"
	"os"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/Tyrowin/meetchat/internal/logging"
	"github.com/Tyrowin/meetchat/internal/server"
)

func main() {
	envErr := godotenv.Load()

	config := server.NewConfigFromEnv()
	logging.Setup(config.LogLevel, config.LogFormat)

	if envErr != nil && !errors.Is(envErr, fs.ErrNotExist) {
		log.Warn().Err(envErr).Msg("Could not load .env file")
	}

	log.Info().Msg("Starting meetchat relay...")

	hub := server.StartHub(server.NewHub())
	httpServer := server.CreateServer(config.Port, server.SetupRoutes(hub, *config))

	go func() {
		if err := server.StartServer(httpServer); err != nil {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		config.ShutdownTimeout,
		map[string]gfshutdown.Operation{
			"relay": func(ctx context.Context) error {
				return server.ShutdownRelay(ctx, httpServer, hub, config.ShutdownTimeout)
			},
		},
	)

	exitCode := <-wait
	log.Info().Int("exit_code", exitCode).Msg("Relay exited")
	os.Exit(exitCode)
}
