package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mind-engage/psyportal/internal/users"
)

func newCreateAdminCmd(f *rootFlags) *cobra.Command {
	var username, email, password string
	cmd := &cobra.Command{
		Use:   "create-admin",
		Short: "Create an admin account, or promote an existing one",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if username == "" || password == "" {
				return errors.New("--username and --password are required")
			}
			if email == "" {
				email = username + "@localhost"
			}
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

			u, created, err := users.NewSQLStore(d).EnsureAdmin(cmd.Context(), username, email, password)
			if err != nil {
				return err
			}
			verb := "promoted"
			if created {
				verb = "created"
			}
			log.Info("admin account ready", zap.String("user_id", u.ID), zap.Bool("created", created))
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s admin %s (%s)\n", verb, u.Username, u.ID)
			return err
		},
	}
	cmd.Flags().StringVar(&username, "username", "", "admin username")
	cmd.Flags().StringVar(&email, "email", "", "admin email (defaults to <username>@localhost)")
	cmd.Flags().StringVar(&password, "password", "", "admin password, at least 8 characters")
	return cmd
}
