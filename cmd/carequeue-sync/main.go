package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/carequeue-sync/internal/config"
	"github.com/custodia-labs/carequeue-sync/internal/runtime"
)

var version = "dev"

var configFile string

var rootCmd = &cobra.Command{
	Use:   "carequeue-sync",
	Short: "Offline sync agent for the CareQueue hospital client",
	Long: "carequeue-sync keeps appointment and notification changes made while offline\n" +
		"in a durable queue and replays them when the hospital API is reachable again.",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", config.DefaultPath(), "Path to config.toml")
	rootCmd.Version = version
}

// loadConfig reads the config file and applies environment overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnv()
	return cfg, nil
}

// openAgent wires the agent for a one-shot command. Background components
// are disabled; connectivity is probed once.
func openAgent(ctx context.Context) (*runtime.Container, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	cfg.Realtime.Enabled = false
	cfg.Server.Enabled = false
	cfg.Sync.IntervalSec = 0

	logger := cfg.Log.NewLogger(os.Stderr)
	c, err := runtime.New(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	if err := c.Monitor.Initialize(ctx); err != nil {
		logger.Warn("connectivity check degraded", "error", err)
	}
	return c, nil
}

func closeAgent(c *runtime.Container) {
	c.Monitor.Cleanup()
	_ = c.Close()
}

func main() {
	runtime.Version = version
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
