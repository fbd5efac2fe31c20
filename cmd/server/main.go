package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/adlaunch/backend/internal/api"
	"github.com/adlaunch/backend/internal/config"
	"github.com/adlaunch/backend/internal/database"
	"github.com/adlaunch/backend/internal/health"
	"github.com/adlaunch/backend/internal/jobs"
	"github.com/adlaunch/backend/internal/logger"
	"github.com/adlaunch/backend/internal/services"
	"github.com/adlaunch/backend/internal/vault"
	"github.com/adlaunch/backend/internal/websocket"
)

func main() {
	// Load environment variables
	envErr := godotenv.Load()

	cfg := config.Load()
	logger.Init(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.IsDevelopment(),
	})
	if envErr != nil {
		logger.Debug().Msg("No .env file found, using environment variables")
	}

	logger.Info().Str("env", cfg.Env).Msg("Starting AdLaunch backend")
	if err := validateConfig(cfg); err != nil {
		logger.Fatal().Err(err).Msg("Invalid configuration")
	}

	db, err := database.Connect(cfg.DatabaseURL, cfg.SQLitePath)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to database")
	}
	if err := database.Migrate(db); err != nil {
		logger.Fatal().Err(err).Msg("Failed to run migrations")
	}

	redisClient := database.ConnectRedis(cfg.RedisURL)

	tokenVault, err := vault.New(cfg.EncryptionKey)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize token vault")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	wsHub := websocket.NewHub()
	go wsHub.Run(ctx)

	container := services.NewContainer(cfg, db, redisClient, services.NewMetaClient(cfg), tokenVault, wsHub)

	scheduler := jobs.NewScheduler(container.Insights, container.Meta, redisClient,
		time.Duration(cfg.InsightsCronMinutes)*time.Minute)
	if err := scheduler.Start(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start insights scheduler")
	}

	checker := health.NewChecker(db, redisClient)
	server := api.NewServer(container, wsHub, checker)

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info().Str("port", cfg.Port).Msg("AdLaunch backend listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("Failed to start server")
		}
	}()
	checker.SetReady(true)

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Shutting down gracefully...")
	checker.SetReady(false)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown failed")
	}
	scheduler.Stop(shutdownCtx)
	cancel()

	if redisClient != nil {
		redisClient.Close()
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.Close()
	}

	logger.Info().Msg("Shutdown complete")
}

// validateConfig tolerates the shipped default secrets only in development.
func validateConfig(cfg *config.Config) error {
	insecure := cfg.JWTSecret == config.DefaultJWTSecret || cfg.EncryptionKey == config.DefaultEncryptionKey
	if insecure {
		if !cfg.IsDevelopment() {
			return errors.New("JWT_SECRET and ENCRYPTION_KEY must be set outside development")
		}
		logger.Warn().Msg("Using default JWT secret or encryption key; set JWT_SECRET and ENCRYPTION_KEY in production")
	}

	if cfg.MetaAppID == "" || cfg.MetaAppSecret == "" {
		logger.Warn().Msg("META_APP_ID / META_APP_SECRET not set; Meta connect will fail")
	}
	if cfg.DatabaseURL == "" {
		logger.Info().Str("path", cfg.SQLitePath).Msg("DATABASE_URL not set, using SQLite")
	}
	return nil
}
