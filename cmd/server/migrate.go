package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/sakif/identity-service/internal/server"
	"github.com/sakif/identity-service/migrations"
)

func newMigrateCmd() *cobra.Command {
	migrate := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	up := &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			dbCfg := cfg.DB
			dbCfg.AutoMigrate = true
			store, dialect, err := server.OpenStore(cmd.Context(), dbCfg, logger)
			if err != nil {
				logger.Error("migrate up failed", slog.String("error", err.Error()))
				return err
			}
			defer store.Close()

			version, err := migrations.Version(cmd.Context(), store.Conn(), dialect)
			if err != nil {
				return fmt.Errorf("reading schema version: %w", err)
			}
			logger.Info("migrations applied",
				slog.String("driver", cfg.DB.Driver),
				slog.Int64("schemaVersion", version),
			)
			return nil
		},
	}

	status := &cobra.Command{
		Use:   "status",
		Short: "Print the applied schema version",
		Long: `Print the applied schema version. The sqlite store migrates whenever it
is opened, so for sqlite this always reports the latest version.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			dbCfg := cfg.DB
			dbCfg.AutoMigrate = false
			store, dialect, err := server.OpenStore(cmd.Context(), dbCfg, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			version, err := migrations.Version(cmd.Context(), store.Conn(), dialect)
			if err != nil {
				return fmt.Errorf("reading schema version: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s schema version %d\n", dialect, version)
			return nil
		},
	}

	migrate.AddCommand(up, status)
	return migrate
}
