package main

import (
	"os"
	"time"

	"github.com/rs/zerolog"

	"collab-sync/app"
	"collab-sync/pkg/config"
)

func main() {
	cfg := config.Load()

	log := zerolog.New(zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}).With().Timestamp().Logger()

	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil && level != zerolog.NoLevel {
		log = log.Level(level)
	}

	server, err := app.NewServer(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to start server")
	}
	defer server.Close()

	if err := server.Start(""); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
}
