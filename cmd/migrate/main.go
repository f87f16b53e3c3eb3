package main

import (
	"context"
	"time"

	"github.com/mtr002/thumbnail-queue/internal/config"
	"github.com/mtr002/thumbnail-queue/internal/db"
	"github.com/mtr002/thumbnail-queue/internal/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Init("thumbnail-migrate", "info")
		logger.Logger.Fatal().Err(err).Msg("Invalid configuration")
	}
	logger.Init("thumbnail-migrate", cfg.LogLevel)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	database, err := db.Connect(ctx, db.DefaultConfig(cfg.DatabaseURL))
	if err != nil {
		logger.Logger.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer database.Close()

	if err := db.RunMigrations(ctx, database); err != nil {
		logger.Logger.Error().Err(err).Msg("Migration failed")
		return
	}
}
