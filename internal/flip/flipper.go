// Package flip manages the gateway flip rules that expose a spawned
// agent's channels to the rest of the concert. Without them a remote
// controller could spawn an agent it can never drive.
package flip

import (
	"context"
	"fmt"

	"github.com/dyluth/herd/pkg/fleet"
)

// Flipper advertises and withdraws per-agent flip rules through the fleet
// transport. Flip failures never fail the lifecycle request that triggered
// them: the agent exists either way, and rules can be re-advertised.
type Flipper struct {
	client  *fleet.Client
	service string // service namespace agents live under, e.g. "turtlesim"
}

// New creates a flipper for the given service namespace.
func New(client *fleet.Client, service string) *Flipper {
	return &Flipper{
		client:  client,
		service: service,
	}
}

// Rules returns the flip rules advertised for one agent: its command
// channel as a subscriber and its pose channel as a publisher.
func (f *Flipper) Rules(agent string) []fleet.FlipRule {
	return []fleet.FlipRule{
		{
			Agent:     agent,
			Channel:   fmt.Sprintf("/services/%s/%s/cmd_vel", f.service, agent),
			Direction: fleet.DirectionSubscriber,
		},
		{
			Agent:     agent,
			Channel:   fmt.Sprintf("/services/%s/%s/pose", f.service, agent),
			Direction: fleet.DirectionPublisher,
		},
	}
}

// Advertise flips the agent's channels across the gateway.
func (f *Flipper) Advertise(ctx context.Context, agent string) error {
	if err := f.client.SetFlipRules(ctx, agent, f.Rules(agent)); err != nil {
		return fmt.Errorf("failed to advertise flip rules for %q: %w", agent, err)
	}
	return nil
}

// Cancel withdraws the agent's flip rules.
func (f *Flipper) Cancel(ctx context.Context, agent string) error {
	if err := f.client.ClearFlipRules(ctx, agent); err != nil {
		return fmt.Errorf("failed to cancel flip rules for %q: %w", agent, err)
	}
	return nil
}
