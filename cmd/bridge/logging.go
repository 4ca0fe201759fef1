package main

import (
	"os"
	"time"

	"garage-bridge/internal/domain/model"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func setupLogging(cfg model.LogConfig) {
	zerolog.TimeFieldFormat = time.RFC3339

	if cfg.JSON {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	} else {
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: "2006-01-02T15:04:05.000Z07:00",
		})
	}

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}
