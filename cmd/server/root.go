package main

import (
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/sakif/identity-service/internal/config"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "identity-service",
		Short:         "Account identity and provider linking service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	serve := newServeCmd()
	root.RunE = serve.RunE
	root.AddCommand(serve, newMigrateCmd())
	return root
}

// loadConfig reads the environment and builds the logger it asks for. A
// broken configuration is reported on stderr, since no logger exists yet.
func loadConfig(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		cmd.PrintErrln("invalid configuration:", err)
		return nil, nil, err
	}

	logger, err := newLogger(cfg, os.Stdout)
	if err != nil {
		cmd.PrintErrln("invalid configuration:", err)
		return nil, nil, err
	}
	return cfg, logger, nil
}

// newLogger builds the process logger from LOG_LEVEL and LOG_FORMAT.
// Development mode always logs at debug level.
func newLogger(cfg *config.Config, w io.Writer) (*slog.Logger, error) {
	level, err := cfg.SlogLevel()
	if err != nil {
		return nil, err
	}
	if cfg.IsDev() {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}
