package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mind-engage/psyportal/internal/breaker"
	"github.com/mind-engage/psyportal/internal/config"
	"github.com/mind-engage/psyportal/internal/db"
	"github.com/mind-engage/psyportal/internal/logging"
)

type rootFlags struct {
	configFile string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	f := &rootFlags{}
	cmd := &cobra.Command{
		Use:           "psyportal",
		Short:         "Psychological testing and practice content API",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&f.configFile, "config", "", "YAML config file (sets CONFIG_FILE)")
	cmd.PersistentFlags().StringVar(&f.logLevel, "log-level", "", "log level override (debug, info, warn, error)")

	cmd.AddCommand(newServeCmd(f), newMigrateCmd(f), newCreateAdminCmd(f))
	return cmd
}

// setup loads configuration and installs the global logger.
func (f *rootFlags) setup() (config.Config, *zap.Logger, error) {
	if f.configFile != "" {
		if err := os.Setenv("CONFIG_FILE", f.configFile); err != nil {
			return config.Config{}, nil, err
		}
	}
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, err
	}
	if f.logLevel != "" {
		cfg.LogLevel = f.logLevel
	}
	log, err := logging.New(cfg.LogLevel, !cfg.IsProduction())
	if err != nil {
		return config.Config{}, nil, err
	}
	zap.ReplaceGlobals(log)
	return cfg, log, nil
}

// openDB connects, applies the schema and wraps the pool in the breaker.
func openDB(ctx context.Context, cfg config.Config, log *zap.Logger) (*db.DB, error) {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	driver := db.Driver(cfg.DBDriver)
	sqlDB, err := db.Open(ctx, driver, cfg.DBDSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.EnsureSchema(ctx, sqlDB, driver); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	br := db.NewBreaker(breaker.Config{
		FailureThreshold: cfg.BreakerFailureThreshold,
		SuccessThreshold: cfg.BreakerSuccessThreshold,
		OpenTimeout:      cfg.BreakerOpenTimeout,
	}, log)
	return db.New(sqlDB, driver, br), nil
}
