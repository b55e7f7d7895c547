package main

import (
	"fmt"

	"fraud-serving/internal/storage"

	"github.com/spf13/cobra"
)

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			c, err := loadSettings()
			if err != nil {
				return fmt.Errorf("config load failed: %w", err)
			}
			if c.StoreBackend != storage.BackendPostgres {
				return fmt.Errorf("migrations only apply to the postgres backend, configured backend is %q", c.StoreBackend)
			}
			return storage.Migrate(c.PostgresDSN())
		},
	}
}
