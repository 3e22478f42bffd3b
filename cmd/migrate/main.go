package main

import (
	"os"

	"github.com/Rrens/classroom-live/internal/config"
	"github.com/Rrens/classroom-live/internal/logging"
	"github.com/Rrens/classroom-live/internal/repository/postgres"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
)

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	down := pflag.Bool("down", false, "roll migrations back instead of applying them")
	steps := pflag.Int("steps", 0, "number of migrations to apply or roll back (0 = all)")
	source := pflag.String("source", "", "migration source URL (default from config)")
	pflag.Parse()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	if _, err := logging.Setup(cfg.Logging, os.Getenv("ENV")); err != nil {
		log.Fatal().Err(err).Msg("Failed to setup logging")
	}

	sourceURL := cfg.Database.MigrationsURL
	if *source != "" {
		sourceURL = *source
	}

	direction := postgres.MigrateUp
	if *down {
		direction = postgres.MigrateDown
	}

	log.Info().
		Str("host", cfg.Database.Host).
		Int("port", cfg.Database.Port).
		Str("source", sourceURL).
		Str("direction", string(direction)).
		Int("steps", *steps).
		Msg("Running migrations")

	if err := postgres.Migrate(cfg.Database.DSN(), sourceURL, direction, *steps); err != nil {
		log.Fatal().Err(err).Msg("Migration failed")
	}
}
