package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/carequeue-sync/internal/runtime"
	"github.com/custodia-labs/carequeue-sync/internal/worker"
)

func init() {
	rootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the sync agent in the foreground",
	Long: "Start connectivity polling, reconnect replay, the queue-status stream and\n" +
		"the local status server. Stops on SIGINT or SIGTERM.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		log.Printf("carequeue-sync %s starting (device %s, storage %s)", version, cfg.Device.ID, cfg.Storage.Backend)
		logger := cfg.Log.NewLogger(os.Stderr)

		// Setup context with cancellation for graceful shutdown
		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigCh)
		go func() {
			select {
			case <-sigCh:
				logger.Info("shutdown signal received, stopping")
				cancel()
			case <-ctx.Done():
			}
		}()

		c, err := runtime.New(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer c.Close()

		wcfg := worker.WorkerConfig{
			Monitor: c.Monitor,
			Poller:  c.Probe,
			Engine:  c.Engine,
			Sink:    c.Cache,
			Store:   c.Store,
			Logger:  logger,
		}
		if c.Scheduler != nil {
			wcfg.Scheduler = c.Scheduler
		}
		if c.Stream != nil {
			wcfg.Stream = c.Stream
		}
		if c.Server != nil {
			wcfg.Server = c.Server
			logger.Info("status server listening", "addr", c.Server.Addr())
		}

		w := worker.NewWorker(wcfg)
		if err := w.Start(ctx); err != nil {
			return err
		}

		<-ctx.Done()
		w.Stop()

		if h := w.Health(context.Background()); h.Pending > 0 {
			logger.Info("pending actions kept for next start", "pending", h.Pending)
		}
		logger.Info("carequeue-sync stopped")
		return nil
	},
}
