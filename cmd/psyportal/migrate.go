package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newMigrateCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := f.setup()
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			d, err := openDB(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer d.Close()
			log.Info("schema applied", zap.String("driver", cfg.DBDriver))
			return nil
		},
	}
}
