// File: cmd/root.go
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cicerone-dev/cicerone/internal/config"
	"github.com/cicerone-dev/cicerone/internal/observability"
)

var (
	cfgFile string

	// Populated by PersistentPreRunE for every subcommand.
	appConfig *config.Config
)

var rootCmd = &cobra.Command{
	Use:     "cicerone",
	Short:   "Cicerone guides users step by step through tasks in unreliable web tools.",
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			// Initialize a fallback logger so the error is still visible.
			observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "cicerone"})
			return err
		}
		appConfig = cfg

		observability.InitializeLogger(cfg.Logger)
		observability.InitMetrics()
		observability.GetLogger().Info("Starting cicerone", zap.String("version", Version))
		return nil
	},
}

// ExecuteContext runs the root command with a signal-aware context.
func ExecuteContext(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if logger := observability.GetLogger(); logger != nil {
			logger.Error("Command execution failed", zap.Error(err))
		} else {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./config.yaml)")
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)
}
