package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var statusJSON bool

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Output raw JSON")
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show connectivity and queue status",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		c, err := openAgent(ctx)
		if err != nil {
			return err
		}
		defer closeAgent(c)

		state := c.Engine.Status(ctx)
		if statusJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(state)
		}

		fmt.Printf("Device:       %s\n", c.Config.Device.ID)
		fmt.Printf("Backend:      %s\n", c.Config.API.BaseURL)
		fmt.Printf("Connected:    %t\n", state.Connected)
		fmt.Printf("Status:       %s\n", state.Status)
		fmt.Printf("Pending:      %d\n", state.Pending)
		fmt.Printf("Dead letters: %d\n", state.DeadLetters)
		if state.Info != nil && state.Info.LastSyncAt != nil {
			fmt.Printf("Last sync:    %s\n", state.Info.LastSyncAt.Format(time.RFC3339))
		} else {
			fmt.Println("Last sync:    never")
		}

		if user, err := c.Auth.CurrentUser(ctx); err == nil && user != nil {
			fmt.Printf("Signed in:    %s\n", user.Email)
		} else {
			fmt.Println("Signed in:    no")
		}
		return nil
	},
}
