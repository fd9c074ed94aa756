package commands

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/dyluth/herd/internal/printer"
	"github.com/dyluth/herd/pkg/fleet"
)

var acquireCmd = &cobra.Command{
	Use:   "acquire",
	Short: "Acquire the remote controller lease",
	Long: `Acquire the fleet client's controller lease for the calling identity.

Only one controller holds the lease at a time. Re-acquiring a lease you
already hold succeeds without changing anything.

Examples:
  herd acquire --as ctrl-a --concert tutorial --client turtlesim`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runControl(fleet.ControlAcquire, "turtle_concert/control")
	},
}

var releaseCmd = &cobra.Command{
	Use:   "release",
	Short: "Release the remote controller lease",
	Long: `Release the controller lease held by the calling identity.

Only the current holder may release; anyone else gets a not-holder
rejection.

Examples:
  herd release --as ctrl-a --concert tutorial --client turtlesim`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runControl(fleet.ControlRelease, "turtle_concert/control")
	},
}

func init() {
	rootCmd.AddCommand(acquireCmd)
	rootCmd.AddCommand(releaseCmd)
}

func runControl(action fleet.ControlAction, capability string) error {
	client, err := newFleetClient()
	if err != nil {
		return err
	}
	defer client.Close()

	req := &fleet.ControlRequest{
		RequestID: uuid.New().String(),
		Action:    action,
		Caller:    caller(capability),
	}

	resp, err := client.RequestControl(context.Background(), req, flagTimeout)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", action, err)
	}

	printer.Outcome(resp)
	if !resp.OK {
		return fmt.Errorf("%s rejected: %s", action, resp.Reason)
	}
	return nil
}
