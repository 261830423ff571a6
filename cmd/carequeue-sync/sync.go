package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/carequeue-sync/internal/core/domain"
)

var syncJSON bool

func init() {
	rootCmd.AddCommand(syncCmd)
	syncCmd.Flags().BoolVar(&syncJSON, "json", false, "Output raw JSON")
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Replay the offline queue now",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		c, err := openAgent(ctx)
		if err != nil {
			return err
		}
		defer closeAgent(c)

		report, err := c.Engine.SyncOfflineActions(ctx)
		switch {
		case errors.Is(err, domain.ErrOffline):
			return fmt.Errorf("backend unreachable, %d action(s) still queued", c.Engine.GetPendingActionsCount(ctx))
		case errors.Is(err, domain.ErrSyncInProgress):
			return fmt.Errorf("a sync is already running for this device")
		case report == nil && err != nil:
			return err
		}

		if syncJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		}

		fmt.Printf("Synced:  %d\n", len(report.Result.Success))
		fmt.Printf("Failed:  %d\n", len(report.Result.Failed))
		fmt.Printf("Expired: %d\n", len(report.Result.Expired))
		for _, a := range report.Result.Failed {
			fmt.Printf("  %s %s %s: %s\n", a.ID, a.Method, a.Endpoint, valueOrDefault(a.LastError, "not attempted"))
		}
		if report.Paused {
			fmt.Println("Sync paused: sign in again to continue.")
		}
		return err
	},
}

func valueOrDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
