package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tanyadata/tanya/db"
	"github.com/tanyadata/tanya/internal/config"
	"github.com/tanyadata/tanya/internal/log"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations and exit",
	RunE: func(_ *cobra.Command, _ []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		logger := log.New(log.Config{})
		return db.Migrate(cfg.PostgresURL(), logger)
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
