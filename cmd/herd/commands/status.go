package commands

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/dyluth/herd/internal/printer"
	"github.com/dyluth/herd/pkg/fleet"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the fleet client's reachability and roster size",
	Long: `Probe the target fleet client and report whether it is serving
requests from the concert.

A reachable client answers with its roster size. A client that has
withdrawn from the concert answers, but rejects the probe; a client that
is down does not answer at all.

Examples:
  herd status --concert tutorial --client turtlesim`,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	client, err := newFleetClient()
	if err != nil {
		return err
	}
	defer client.Close()

	req := &fleet.ControlRequest{
		RequestID: uuid.New().String(),
		Action:    fleet.ControlList,
		Caller:    caller("turtle_concert/status"),
	}

	resp, err := client.RequestControl(context.Background(), req, flagTimeout)
	if err != nil {
		return printer.Error(
			"fleet client not responding",
			fmt.Sprintf("No answer from '%s' in concert '%s' within %v.", flagClient, flagConcert, flagTimeout),
			[]string{
				"Check the herder daemon is running",
				"Check --redis points at the concert's transport",
			},
		)
	}

	switch resp.Reason {
	case fleet.OutcomeListed:
		printer.Success("fleet client '%s' is reachable, %d agent(s) spawned\n", flagClient, len(resp.Agents))
		return nil
	case fleet.OutcomeUnreachable:
		printer.Warning("fleet client '%s' is up but has withdrawn from the concert\n", flagClient)
		return nil
	default:
		printer.Outcome(resp)
		return fmt.Errorf("status probe rejected: %s", resp.Reason)
	}
}
