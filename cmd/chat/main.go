package main

import (
	"bufio"
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/Tyrowin/meetchat/internal/chatclient"
	"github.com/Tyrowin/meetchat/internal/logging"
)

const defaultServerURL = "ws://localhost:8080"

func getenv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func main() {
	envErr := godotenv.Load()
	logging.Setup(getenv("LOG_LEVEL", "warn"), getenv("LOG_FORMAT", "console"))
	if envErr != nil && !errors.Is(envErr, fs.ErrNotExist) {
		log.Warn().Err(envErr).Msg("Could not load .env file")
	}

	url := getenv("CHAT_SERVER_URL", defaultServerURL)
	user := os.Getenv("CHAT_USER")
	if user == "" {
		log.Fatal().Msg("CHAT_USER must be set")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	panel := chatclient.NewPanel(os.Stdout, user)
	err := chatclient.Mount(ctx, url, user, func(c *chatclient.Client) error {
		return run(ctx, c, panel, os.Stdin)
	}, chatclient.WithObserver(panel.Show), chatclient.WithOrigin(os.Getenv("CHAT_ORIGIN")))
	if err != nil {
		log.Error().Err(err).Msg("Chat unavailable")
		stop()
		os.Exit(1)
	}
}

// run feeds stdin lines to the panel until the user quits, stdin ends, the
// process is signalled, or the connection closes.
func run(ctx context.Context, c *chatclient.Client, panel *chatclient.Panel, in io.Reader) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			case <-c.Done():
				return
			}
		}
	}()

	panel.ShowEmptyHint()

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-c.Done():
			panel.Notice("chat disconnected")
			return nil

		case line, ok := <-lines:
			if !ok {
				return nil
			}
			quit, err := panel.HandleInput(c, line)
			if err != nil {
				log.Warn().Err(err).Msg("Message not sent")
			}
			if quit {
				return nil
			}
		}
	}
}
