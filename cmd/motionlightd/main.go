package main

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sanity-io/litter"
	flag "github.com/spf13/pflag"

	"github.com/dokzlo13/motionlightd/internal/app"
	"github.com/dokzlo13/motionlightd/internal/config"
)

func main() {
	configPath := flag.StringP("config", "c", "config.yml", "Path to configuration file")
	resetState := flag.Bool("reset-state", false, "Clear the persisted entity snapshot on startup")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Setup logging
	setupLogging(cfg.Log.Level, cfg.Log.JSON, cfg.Log.Colors)

	log.Info().Str("config", *configPath).Msg("Starting motionlightd")
	if zerolog.GlobalLevel() <= zerolog.DebugLevel {
		redacted := cfg.Redacted()
		log.Debug().Msg("Effective configuration:\n" + litter.Sdump(redacted))
	}

	// Create application
	application, err := app.New(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create application")
	}

	// Handle reset state flag
	if *resetState {
		log.Info().Msg("Clearing persisted state (--reset-state)")
		if err := application.ResetState(); err != nil {
			log.Warn().Err(err).Msg("Failed to clear persisted state")
		}
	}

	// Create context that cancels on shutdown signal
	ctx := app.SignalContext()

	if err := application.Run(ctx); err != nil {
		log.Error().Err(err).Msg("Application stopped with error")
		os.Exit(1)
	}
}

func setupLogging(level string, useJSON bool, colors bool) {
	// ISO 8601 format with timezone
	zerolog.TimeFieldFormat = time.RFC3339

	if useJSON {
		// JSON output for production
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	} else {
		// Text output (with optional colors)
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: "2006-01-02T15:04:05.000Z07:00",
			NoColor:    !colors,
		})
	}

	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
