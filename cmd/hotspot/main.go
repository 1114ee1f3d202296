// File: cmd/hotspot/main.go
package main

import (
	"fmt"
	"os"

	"hotspot-billing/internal/config"
	"hotspot-billing/internal/infra/logging"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// Set with -ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
)

var (
	cfgPath string
	devMode bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "hotspot",
		Short:         "WiFi hotspot billing: M-Pesa payments to router sessions",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "config.yaml", "path to YAML config file")
	rootCmd.PersistentFlags().BoolVar(&devMode, "dev", false, "developer mode: in-memory store, simulated payments, no router")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(sweepCmd())
	rootCmd.AddCommand(seedCmd())
	rootCmd.AddCommand(adminTokenCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, *zerolog.Logger, error) {
	cfg, err := config.LoadConfig(cfgPath, devMode)
	if err != nil {
		return nil, nil, fmt.Errorf("config: %w", err)
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if cfg.Runtime.Dev {
		logger.Warn().Msg("DEV MODE enabled")
	}
	return cfg, logger, nil
}
