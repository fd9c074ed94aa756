package commands

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/dyluth/herd/internal/printer"
	"github.com/dyluth/herd/pkg/fleet"
)

var killCmd = &cobra.Command{
	Use:   "kill NAME",
	Short: "Kill an agent on the fleet client",
	Long: `Kill a spawned agent by name.

A kill for a name the fleet client does not know is rejected with a
not-found outcome and changes nothing; use 'herd list' to reconcile.

Examples:
  herd kill turtle1 --concert tutorial --client turtlesim`,
	Args: cobra.ExactArgs(1),
	RunE: runKill,
}

func init() {
	rootCmd.AddCommand(killCmd)
}

func runKill(cmd *cobra.Command, args []string) error {
	client, err := newFleetClient()
	if err != nil {
		return err
	}
	defer client.Close()

	req := &fleet.KillRequest{
		RequestID: uuid.New().String(),
		Name:      args[0],
		Caller:    caller("turtle_concert/kill"),
	}

	resp, err := client.RequestKill(context.Background(), req, flagTimeout)
	if err != nil {
		return fmt.Errorf("kill request failed: %w", err)
	}

	printer.Outcome(resp)
	if !resp.OK {
		return fmt.Errorf("kill rejected: %s", resp.Reason)
	}
	return nil
}
