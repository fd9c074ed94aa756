package launch

import "fmt"

// Label keys used for Herd-launched containers
const (
	LabelProject = "herd.project"
	LabelConcert = "herd.concert"
	LabelClient  = "herd.client"
	LabelAgent   = "herd.agent"
)

// BuildLabels creates the standard label set for a launched agent container.
func BuildLabels(concert, client, agent string) map[string]string {
	return map[string]string{
		LabelProject: "true",
		LabelConcert: concert,
		LabelClient:  client,
		LabelAgent:   agent,
	}
}

// ContainerName returns the container name for a launched agent.
func ContainerName(concert, agent string) string {
	return fmt.Sprintf("herd-agent-%s-%s", concert, agent)
}
