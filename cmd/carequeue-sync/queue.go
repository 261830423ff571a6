package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/carequeue-sync/internal/core/domain"
)

var (
	queueJSON bool
	queueDead bool
	queueYes  bool
)

func init() {
	rootCmd.AddCommand(queueCmd)
	queueCmd.AddCommand(queueListCmd)
	queueCmd.AddCommand(queueDiscardCmd)
	queueCmd.AddCommand(queueClearCmd)

	queueListCmd.Flags().BoolVar(&queueJSON, "json", false, "Output raw JSON")
	queueListCmd.Flags().BoolVar(&queueDead, "dead", false, "List dead-lettered actions instead")
	queueClearCmd.Flags().BoolVarP(&queueYes, "yes", "y", false, "Do not ask for confirmation")
}

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect and manage the offline queue",
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List queued actions in replay order",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		c, err := openAgent(ctx)
		if err != nil {
			return err
		}
		defer closeAgent(c)

		actions := c.Engine.ListPendingActions(ctx)
		if queueDead {
			actions = c.Engine.ListDeadLetters(ctx)
		}
		if queueJSON {
			if actions == nil {
				actions = []domain.PendingAction{}
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(actions)
		}
		if len(actions) == 0 {
			fmt.Println("Queue is empty.")
			return nil
		}

		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tKIND\tREQUEST\tQUEUED\tATTEMPTS\tLAST ERROR")
		for _, a := range actions {
			fmt.Fprintf(tw, "%s\t%s\t%s %s\t%s\t%d\t%s\n",
				a.ID, a.Kind, a.Method, a.Endpoint,
				a.Timestamp.Local().Format(time.DateTime), a.Attempts, a.LastError)
		}
		return tw.Flush()
	},
}

var queueDiscardCmd = &cobra.Command{
	Use:   "discard <action-id>",
	Short: "Drop one queued or dead-lettered action",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		c, err := openAgent(ctx)
		if err != nil {
			return err
		}
		defer closeAgent(c)

		if err := c.Engine.DiscardAction(ctx, args[0]); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return fmt.Errorf("no queued action with id %s", args[0])
			}
			return err
		}
		fmt.Printf("Discarded %s\n", args[0])
		return nil
	},
}

var queueClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Drop every queued and dead-lettered action",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		c, err := openAgent(ctx)
		if err != nil {
			return err
		}
		defer closeAgent(c)

		pending := c.Engine.GetPendingActionsCount(ctx)
		if !queueYes {
			fmt.Printf("This drops %d unsynced action(s). Type 'yes' to continue: ", pending)
			var answer string
			_, _ = fmt.Scanln(&answer)
			if answer != "yes" {
				fmt.Println("Aborted.")
				return nil
			}
		}
		if err := c.Engine.ClearPendingActions(ctx); err != nil {
			return err
		}
		fmt.Printf("Cleared %d action(s).\n", pending)
		return nil
	},
}
