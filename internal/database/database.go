package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/go-redis/redis/v8"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/adlaunch/backend/internal/logger"
	"github.com/adlaunch/backend/internal/models"
)

// Connect opens Postgres when databaseURL is set and the embedded SQLite file otherwise.
func Connect(databaseURL, sqlitePath string) (*gorm.DB, error) {
	if databaseURL != "" {
		return ConnectPostgres(databaseURL)
	}
	return OpenSQLite(sqlitePath)
}

func ConnectPostgres(databaseURL string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(databaseURL), gormConfig())
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	logger.Info().Str("driver", "postgres").Msg("Database connected")
	return db, nil
}

// OpenSQLite opens a WAL-mode SQLite database with foreign keys enforced.
// SQLite has a single writer so the pool is pinned to one connection.
func OpenSQLite(path string) (*gorm.DB, error) {
	dsn := path
	if !strings.Contains(dsn, "?") {
		dsn += "?"
	} else {
		dsn += "&"
	}
	dsn += "_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"

	db, err := gorm.Open(sqlite.Open(dsn), gormConfig())
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	logger.Info().Str("driver", "sqlite").Str("path", path).Msg("Database connected")
	return db, nil
}

func gormConfig() *gorm.Config {
	return &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Warn),
		TranslateError: true,
	}
}

// Migrate creates or updates every table. Parents come before children so the
// cascade constraints resolve.
func Migrate(db *gorm.DB) error {
	logger.Info().Msg("Running database migrations")

	err := db.AutoMigrate(
		&models.User{},
		&models.Client{},
		&models.UserClient{},
		&models.OAuthState{},
		&models.MetaConnection{},
		&models.Campaign{},
		&models.InsightRecord{},
		&models.AuditLog{},
	)
	if err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}

	logger.Info().Msg("Migrations completed")
	return nil
}

// ConnectRedis returns nil when no URL is configured; Redis is optional.
func ConnectRedis(redisURL string) *redis.Client {
	if redisURL == "" {
		return nil
	}

	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		logger.Warn().Err(err).Msg("Invalid Redis URL, using localhost:6379")
		opt = &redis.Options{Addr: "localhost:6379"}
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn().Err(err).Msg("Redis connection failed")
	} else {
		logger.Info().Msg("Redis connected")
	}

	return client
}
