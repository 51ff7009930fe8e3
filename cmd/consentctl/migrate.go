package main

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/spf13/cobra"

	"forwardgate/internal/db"
)

var errMemoryStore = errors.New("DATABASE_URL points at the in-memory store, nothing to migrate")

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the Postgres schema",
	}
	cmd.AddCommand(migrateUpCmd())
	cmd.AddCommand(migrateVersionCmd())
	return cmd
}

func migrateUpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			dsn, err := postgresDSN()
			if err != nil {
				return err
			}
			version, err := db.MigrateUp(dsn)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema at version %d\n", version)
			return nil
		},
	}
}

func migrateVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the applied schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			dsn, err := postgresDSN()
			if err != nil {
				return err
			}
			m, err := db.NewMigrator(dsn)
			if err != nil {
				return err
			}
			defer m.Close()

			version, dirty, err := m.Version()
			switch {
			case errors.Is(err, migrate.ErrNilVersion):
				fmt.Fprintln(cmd.OutOrStdout(), "no migrations applied")
				return nil
			case err != nil:
				return fmt.Errorf("reading schema version: %w", err)
			}
			if dirty {
				fmt.Fprintf(cmd.OutOrStdout(), "schema at version %d (dirty)\n", version)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema at version %d\n", version)
			return nil
		},
	}
}

func postgresDSN() (string, error) {
	cfg, err := loadConfig()
	if err != nil {
		return "", err
	}
	dsn := cfg.Database.URL.Unmask()
	if dsn == db.MemoryDSN {
		return "", errMemoryStore
	}
	return dsn, nil
}
