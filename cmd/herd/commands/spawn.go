package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/dyluth/herd/internal/printer"
	"github.com/dyluth/herd/pkg/fleet"
)

var (
	spawnPayload string
	spawnRename  bool
)

var spawnCmd = &cobra.Command{
	Use:   "spawn NAME",
	Short: "Spawn an agent on the fleet client",
	Long: `Spawn a simulated agent on the target fleet client.

The initial state payload is passed through to the agent unmodified. When
no payload is given, a random start pose is generated so herded agents do
not stack on top of each other.

Examples:
  # Spawn with a random start pose
  herd spawn turtle1 --concert tutorial --client turtlesim

  # Spawn with an explicit payload
  herd spawn turtle1 --concert tutorial --client turtlesim \
    --payload '{"x":5.0,"y":5.0,"theta":0.0}'

  # Alias the name instead of failing on conflict (turtle1_0, turtle1_1, ...)
  herd spawn turtle1 --rename --concert tutorial --client turtlesim`,
	Args: cobra.ExactArgs(1),
	RunE: runSpawn,
}

func init() {
	spawnCmd.Flags().StringVarP(&spawnPayload, "payload", "p", "", "Opaque initial state payload (default: random pose)")
	spawnCmd.Flags().BoolVar(&spawnRename, "rename", false, "Alias the name on conflict instead of failing")
	rootCmd.AddCommand(spawnCmd)
}

func runSpawn(cmd *cobra.Command, args []string) error {
	client, err := newFleetClient()
	if err != nil {
		return err
	}
	defer client.Close()

	payload := spawnPayload
	if payload == "" {
		payload = randomPose()
	}

	req := &fleet.SpawnRequest{
		RequestID:   uuid.New().String(),
		Name:        args[0],
		InitPayload: payload,
		AllowRename: spawnRename,
		Caller:      caller("turtle_concert/spawn"),
	}

	resp, err := client.RequestSpawn(context.Background(), req, flagTimeout)
	if err != nil {
		return fmt.Errorf("spawn request failed: %w", err)
	}

	printer.Outcome(resp)
	if !resp.OK {
		return fmt.Errorf("spawn rejected: %s", resp.Reason)
	}
	return nil
}

// randomPose picks a start pose away from the arena walls, matching the
// herder's traditional 3.5..6.5 spawn box.
func randomPose() string {
	pose := map[string]float64{
		"x":     3.5 + rand.Float64()*3.0,
		"y":     3.5 + rand.Float64()*3.0,
		"theta": rand.Float64() * 2.0 * math.Pi,
	}
	data, _ := json.Marshal(pose)
	return string(data)
}
