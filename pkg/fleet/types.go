package fleet

import (
	"fmt"

	"github.com/google/uuid"
)

// Origin describes which network segment a request entered through.
type Origin string

const (
	// OriginLocal marks requests from gateways on the local network segment
	OriginLocal Origin = "local"

	// OriginRemote marks requests tunnelled in from a remote gateway
	OriginRemote Origin = "remote"
)

// Validate checks if the Origin is a valid enum value.
func (o Origin) Validate() error {
	switch o {
	case OriginLocal, OriginRemote:
		return nil
	default:
		return fmt.Errorf("unknown origin: %q", o)
	}
}

// Caller identifies the remote party attached to every request.
// The bridge never trusts the payload of a request for authorization
// decisions - only the Caller, which is stamped by the transport layer.
type Caller struct {
	ID         string `json:"id"`         // Controller identity (e.g. remocon name)
	Capability string `json:"capability"` // Capability being exercised (e.g. "turtle_concert/spawn")
	Gateway    string `json:"gateway"`    // Gateway the request entered through
	Origin     Origin `json:"origin"`     // Network segment of the gateway
}

// Validate checks if the Caller has the fields the bridge requires.
func (c *Caller) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("caller id cannot be empty")
	}
	if err := c.Origin.Validate(); err != nil {
		return fmt.Errorf("invalid caller origin: %w", err)
	}
	return nil
}

// Outcome is the structured result attached to every response.
// It is the only error surface of the bridge boundary.
type Outcome string

const (
	// OutcomeCreated indicates a spawn succeeded
	OutcomeCreated Outcome = "created"

	// OutcomeConflict indicates a spawn hit an existing agent name
	OutcomeConflict Outcome = "conflict"

	// OutcomeRemoved indicates a kill succeeded
	OutcomeRemoved Outcome = "removed"

	// OutcomeNotFound indicates a kill named an agent that does not exist
	OutcomeNotFound Outcome = "not_found"

	// OutcomeForbidden indicates admission (or the firewall) denied the caller
	OutcomeForbidden Outcome = "forbidden"

	// OutcomeNotController indicates the caller does not hold the controller lease
	OutcomeNotController Outcome = "not_controller"

	// OutcomeUnreachable indicates the client has withdrawn from the concert
	OutcomeUnreachable Outcome = "unreachable"

	// OutcomeBadRequest indicates a malformed request rejected at the boundary
	OutcomeBadRequest Outcome = "bad_request"

	// OutcomeAcquired indicates the controller lease was granted
	OutcomeAcquired Outcome = "acquired"

	// OutcomeReleased indicates the controller lease was released
	OutcomeReleased Outcome = "released"

	// OutcomeAlreadyHeld indicates another controller holds the lease
	OutcomeAlreadyHeld Outcome = "already_held"

	// OutcomeNotHolder indicates a release from a caller that is not the holder
	OutcomeNotHolder Outcome = "not_holder"

	// OutcomeListed indicates a successful roster listing
	OutcomeListed Outcome = "listed"
)

// Success reports whether the outcome represents a completed operation
// rather than a rejection.
func (o Outcome) Success() bool {
	switch o {
	case OutcomeCreated, OutcomeRemoved, OutcomeAcquired, OutcomeReleased, OutcomeListed:
		return true
	default:
		return false
	}
}

// Retryable reports whether a caller may safely retry the request without
// changing anything. Only transient reachability failures qualify.
func (o Outcome) Retryable() bool {
	return o == OutcomeUnreachable
}

// SpawnRequest asks the fleet client to create a new agent.
type SpawnRequest struct {
	RequestID   string `json:"request_id"`
	Name        string `json:"name"`
	InitPayload string `json:"init_payload"` // Opaque; passed through to the agent unmodified
	AllowRename bool   `json:"allow_rename"` // Alias the name (name_0, name_1, ...) instead of failing on conflict
	Caller      Caller `json:"caller"`
}

// Validate checks if the SpawnRequest is well-formed.
// Malformed requests are rejected at the boundary with OutcomeBadRequest
// before reaching the bridge state machine.
func (r *SpawnRequest) Validate() error {
	if !isValidUUID(r.RequestID) {
		return fmt.Errorf("invalid request ID: not a valid UUID")
	}
	if r.Name == "" {
		return fmt.Errorf("agent name cannot be empty")
	}
	if err := r.Caller.Validate(); err != nil {
		return fmt.Errorf("invalid caller: %w", err)
	}
	return nil
}

// KillRequest asks the fleet client to destroy an existing agent.
type KillRequest struct {
	RequestID string `json:"request_id"`
	Name      string `json:"name"`
	Caller    Caller `json:"caller"`
}

// Validate checks if the KillRequest is well-formed.
func (r *KillRequest) Validate() error {
	if !isValidUUID(r.RequestID) {
		return fmt.Errorf("invalid request ID: not a valid UUID")
	}
	if r.Name == "" {
		return fmt.Errorf("agent name cannot be empty")
	}
	if err := r.Caller.Validate(); err != nil {
		return fmt.Errorf("invalid caller: %w", err)
	}
	return nil
}

// ControlAction is the operation carried by a ControlRequest.
type ControlAction string

const (
	// ControlAcquire requests the controller lease
	ControlAcquire ControlAction = "acquire"

	// ControlRelease gives the controller lease back
	ControlRelease ControlAction = "release"

	// ControlList asks for a snapshot of the agent roster
	ControlList ControlAction = "list"
)

// Validate checks if the ControlAction is a valid enum value.
func (a ControlAction) Validate() error {
	switch a {
	case ControlAcquire, ControlRelease, ControlList:
		return nil
	default:
		return fmt.Errorf("unknown control action: %q", a)
	}
}

// ControlRequest carries lease management and roster listing operations.
type ControlRequest struct {
	RequestID string        `json:"request_id"`
	Action    ControlAction `json:"action"`
	Caller    Caller        `json:"caller"`
}

// Validate checks if the ControlRequest is well-formed.
func (r *ControlRequest) Validate() error {
	if !isValidUUID(r.RequestID) {
		return fmt.Errorf("invalid request ID: not a valid UUID")
	}
	if err := r.Action.Validate(); err != nil {
		return fmt.Errorf("invalid action: %w", err)
	}
	if err := r.Caller.Validate(); err != nil {
		return fmt.Errorf("invalid caller: %w", err)
	}
	return nil
}

// AgentInfo is the wire representation of a spawned agent, returned by
// list responses.
type AgentInfo struct {
	Name        string `json:"name"`
	InitPayload string `json:"init_payload"`
	CreatedAtMs int64  `json:"created_at_ms"`
}

// Response is the reply published for every request the fleet client
// receives. RequestID always echoes the originating request.
type Response struct {
	RequestID string      `json:"request_id"`
	OK        bool        `json:"ok"`
	Reason    Outcome     `json:"reason"`
	Name      string      `json:"name,omitempty"`   // Final agent name on spawn (may be an alias)
	Agents    []AgentInfo `json:"agents,omitempty"` // Roster snapshot on list
	Error     string      `json:"error,omitempty"`  // Human-readable detail for rejections
}

// ChannelDirection is the direction of a flipped agent channel as seen by
// the remote side of the gateway.
type ChannelDirection string

const (
	// DirectionPublisher exposes a channel the agent publishes on (e.g. pose)
	DirectionPublisher ChannelDirection = "publisher"

	// DirectionSubscriber exposes a channel the agent listens on (e.g. cmd_vel)
	DirectionSubscriber ChannelDirection = "subscriber"
)

// FlipRule advertises one agent channel across the gateway so remote
// concert members can drive or observe the agent.
type FlipRule struct {
	Agent     string           `json:"agent"`
	Channel   string           `json:"channel"`
	Direction ChannelDirection `json:"direction"`
}

// FlipEvent announces a flip-rule change on the flip events channel.
type FlipEvent struct {
	Agent  string `json:"agent"`
	Cancel bool   `json:"cancel"` // true when rules were withdrawn
}

// isValidUUID checks if a string is a valid UUID format.
func isValidUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
