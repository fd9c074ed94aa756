// Package launch starts batch-spawned agents as Docker containers. It
// replaces the subprocess launching the herder would otherwise shell out
// for: one container per pre-spawned agent, labelled for discovery and
// terminated on shutdown.
package launch

import (
	"context"
	"fmt"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"

	"github.com/dyluth/herd/internal/config"
)

// NewDockerClient creates a Docker client and validates the daemon is
// accessible.
func NewDockerClient(ctx context.Context) (*client.Client, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create Docker client: %w", err)
	}

	if _, err := cli.Ping(ctx); err != nil {
		return nil, fmt.Errorf("Docker daemon not accessible: %w", err)
	}

	return cli, nil
}

// DockerLauncher runs one container per launched agent.
type DockerLauncher struct {
	cli        *client.Client
	cfg        *config.LauncherConfig
	concert    string
	clientName string
}

// NewDockerLauncher creates a launcher from the daemon's launcher config.
func NewDockerLauncher(cli *client.Client, cfg *config.LauncherConfig, concert, clientName string) *DockerLauncher {
	return &DockerLauncher{
		cli:        cli,
		cfg:        cfg,
		concert:    concert,
		clientName: clientName,
	}
}

// Launch creates and starts the agent's container. The agent name is
// appended to the configured command so the containerized agent knows its
// identity.
func (l *DockerLauncher) Launch(ctx context.Context, agent string) error {
	containerConfig := &container.Config{
		Image:  l.cfg.Image,
		Cmd:    append(append([]string{}, l.cfg.Command...), agent),
		Labels: BuildLabels(l.concert, l.clientName, agent),
		Env:    []string{fmt.Sprintf("HERD_AGENT_NAME=%s", agent)},
	}

	name := ContainerName(l.concert, agent)
	created, err := l.cli.ContainerCreate(ctx, containerConfig, &container.HostConfig{}, nil, nil, name)
	if err != nil {
		return fmt.Errorf("failed to create container for agent %q: %w", agent, err)
	}

	if err := l.cli.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		return fmt.Errorf("failed to start container for agent %q: %w", agent, err)
	}

	return nil
}

// Terminate stops and removes the agent's container. Terminating an agent
// that was never launched (or already removed) is a no-op.
func (l *DockerLauncher) Terminate(ctx context.Context, agent string) error {
	containerFilters := filters.NewArgs()
	containerFilters.Add("label", fmt.Sprintf("%s=%s", LabelConcert, l.concert))
	containerFilters.Add("label", fmt.Sprintf("%s=%s", LabelAgent, agent))

	containers, err := l.cli.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: containerFilters,
	})
	if err != nil {
		return fmt.Errorf("failed to list containers for agent %q: %w", agent, err)
	}

	for _, c := range containers {
		timeout := 10 // seconds before SIGKILL
		if err := l.cli.ContainerStop(ctx, c.ID, container.StopOptions{Timeout: &timeout}); err != nil {
			return fmt.Errorf("failed to stop container %s: %w", c.ID[:12], err)
		}
		if err := l.cli.ContainerRemove(ctx, c.ID, container.RemoveOptions{Force: true}); err != nil {
			return fmt.Errorf("failed to remove container %s: %w", c.ID[:12], err)
		}
	}

	return nil
}
