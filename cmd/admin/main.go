package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/adlaunch/backend/internal/audit"
	"github.com/adlaunch/backend/internal/config"
	"github.com/adlaunch/backend/internal/database"
	"github.com/adlaunch/backend/internal/jobs"
	"github.com/adlaunch/backend/internal/logger"
	"github.com/adlaunch/backend/internal/services"
	"github.com/adlaunch/backend/internal/vault"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "adlaunch-admin",
	Short: "Maintenance commands for the AdLaunch backend",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		godotenv.Load()
		cfg = config.Load()
		logger.Init(logger.Config{Level: cfg.LogLevel, Pretty: true})
	},
}

var cfg *config.Config

func init() {
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(syncInsightsCmd)
	rootCmd.AddCommand(pruneStatesCmd)
	rootCmd.AddCommand(auditCleanupCmd)

	auditCleanupCmd.Flags().Int("days", 90, "Delete audit entries older than this many days")
}

func openDB() (*gorm.DB, error) {
	db, err := database.Connect(cfg.DatabaseURL, cfg.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	return db, nil
}

func newContainer() (*services.Container, error) {
	db, err := openDB()
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(db); err != nil {
		return nil, err
	}
	v, err := vault.New(cfg.EncryptionKey)
	if err != nil {
		return nil, err
	}
	return services.NewContainer(cfg, db, database.ConnectRedis(cfg.RedisURL), services.NewMetaClient(cfg), v, nil), nil
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		return database.Migrate(db)
	},
}

var syncInsightsCmd = &cobra.Command{
	Use:   "sync-insights",
	Short: "Run one insights cycle now",
	Long: `Run one insights cycle: prune expired OAuth states, then pull the last
seven days of insights for every active client. Honours the same guard as
the server's scheduler, so it is skipped while a cycle runs elsewhere.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newContainer()
		if err != nil {
			return err
		}

		scheduler := jobs.NewScheduler(c.Insights, c.Meta, c.Redis,
			time.Duration(cfg.InsightsCronMinutes)*time.Minute)
		summary, err := scheduler.RunOnce(cmd.Context())
		if err != nil {
			return err
		}

		fmt.Printf("clients=%d skipped=%d failed=%d upserted=%d\n",
			summary.Clients, summary.Skipped, summary.Failed, summary.Upserted)
		return nil
	},
}

var pruneStatesCmd = &cobra.Command{
	Use:   "prune-states",
	Short: "Delete expired OAuth states",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newContainer()
		if err != nil {
			return err
		}
		n, err := c.Meta.PruneStates(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("pruned %d states\n", n)
		return nil
	},
}

var auditCleanupCmd = &cobra.Command{
	Use:   "audit-cleanup",
	Short: "Delete old audit log entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		days, _ := cmd.Flags().GetInt("days")
		if days <= 0 {
			return fmt.Errorf("--days must be positive")
		}

		db, err := openDB()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
		defer cancel()

		n, err := audit.NewLogger(db).Cleanup(ctx, days)
		if err != nil {
			return err
		}
		fmt.Printf("deleted %d audit entries\n", n)
		return nil
	},
}
