package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/dyluth/herd/internal/printer"
	"github.com/dyluth/herd/pkg/fleet"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the agents spawned on the fleet client",
	Long: `List the fleet client's current agent roster in spawn order.

The roster is a point-in-time snapshot: use it to reconcile after a
conflict or not-found rejection.

Examples:
  herd list --concert tutorial --client turtlesim`,
	RunE: runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	client, err := newFleetClient()
	if err != nil {
		return err
	}
	defer client.Close()

	req := &fleet.ControlRequest{
		RequestID: uuid.New().String(),
		Action:    fleet.ControlList,
		Caller:    caller("turtle_concert/list"),
	}

	resp, err := client.RequestControl(context.Background(), req, flagTimeout)
	if err != nil {
		return fmt.Errorf("list request failed: %w", err)
	}

	if !resp.OK {
		printer.Outcome(resp)
		return fmt.Errorf("list rejected: %s", resp.Reason)
	}

	if len(resp.Agents) == 0 {
		printer.Info("No agents spawned.\n")
		return nil
	}

	for _, agent := range resp.Agents {
		created := time.UnixMilli(agent.CreatedAtMs).UTC().Format(time.RFC3339)
		printer.Info("%-20s %s\n", agent.Name, created)
	}

	return nil
}
