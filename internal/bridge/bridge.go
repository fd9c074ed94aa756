// Package bridge implements the gated lifecycle request handler: the state
// machine that accepts remote spawn/kill/control requests, applies admission
// control and controller-lease checks, and mutates the agent roster.
//
// The bridge itself holds no state beyond the current membership flag - all
// side effects are confined to the lifecycle store and the controller
// registry.
package bridge

import (
	"fmt"
	"log"
	"sync/atomic"

	"github.com/dyluth/herd/internal/admission"
	"github.com/dyluth/herd/internal/registry"
	"github.com/dyluth/herd/internal/store"
	"github.com/dyluth/herd/pkg/fleet"
)

// State is the bridge's external reachability.
type State string

const (
	// StateReachable means the client is a confirmed concert member and
	// serves requests
	StateReachable State = "reachable"

	// StateWithdrawn means the client is not (or not yet) a concert member;
	// every request is rejected with OutcomeUnreachable
	StateWithdrawn State = "withdrawn"
)

// Config gates which checks the per-request algorithm applies.
type Config struct {
	// RequireController rejects lifecycle mutations from callers that do
	// not hold the controller lease. When false, controller-less operation
	// is permitted.
	RequireController bool

	// FirewallEnabled rejects requests whose gateway is not in the current
	// concert member set, regardless of admission policy.
	FirewallEnabled bool
}

// Bridge applies the per-request algorithm: reachability, firewall,
// admission, lease, then roster mutation. Safe for concurrent use; every
// in-flight request reads the membership flag at admission time.
type Bridge struct {
	cfg      Config
	filter   *admission.Filter
	registry *registry.Registry
	store    *store.Store

	// isMember consults the firewall's concert member snapshot. Only used
	// when cfg.FirewallEnabled is set.
	isMember func(gateway string) bool

	reachable atomic.Bool // starts withdrawn until membership is confirmed
}

// New creates a bridge in the withdrawn state. isMember may be nil when the
// firewall is disabled.
func New(cfg Config, filter *admission.Filter, reg *registry.Registry, st *store.Store, isMember func(gateway string) bool) *Bridge {
	return &Bridge{
		cfg:      cfg,
		filter:   filter,
		registry: reg,
		store:    st,
		isMember: isMember,
	}
}

// State returns the current reachability.
func (b *Bridge) State() State {
	if b.reachable.Load() {
		return StateReachable
	}
	return StateWithdrawn
}

// SetMembership is driven solely by the membership watch loop. In-flight
// requests at the moment of a transition still complete; only requests
// admitted afterwards observe the new state.
func (b *Bridge) SetMembership(joined bool) {
	previous := b.reachable.Swap(joined)
	if previous == joined {
		return
	}
	if joined {
		log.Printf("[Bridge] Joined concert, now reachable")
	} else {
		log.Printf("[Bridge] Lost concert membership, withdrawing")
	}
}

// HandleSpawn processes one spawn request and always returns a response.
func (b *Bridge) HandleSpawn(req *fleet.SpawnRequest) *fleet.Response {
	if err := req.Validate(); err != nil {
		return reject(req.RequestID, fleet.OutcomeBadRequest, err.Error())
	}

	if outcome, detail := b.admit(&req.Caller, true); outcome != "" {
		return reject(req.RequestID, outcome, detail)
	}

	if req.AllowRename {
		name := b.store.SpawnAliased(req.Name, req.InitPayload)
		return &fleet.Response{RequestID: req.RequestID, OK: true, Reason: fleet.OutcomeCreated, Name: name}
	}

	if b.store.Spawn(req.Name, req.InitPayload) == store.SpawnConflict {
		return reject(req.RequestID, fleet.OutcomeConflict,
			fmt.Sprintf("agent %q already exists", req.Name))
	}

	return &fleet.Response{RequestID: req.RequestID, OK: true, Reason: fleet.OutcomeCreated, Name: req.Name}
}

// HandleKill processes one kill request and always returns a response.
func (b *Bridge) HandleKill(req *fleet.KillRequest) *fleet.Response {
	if err := req.Validate(); err != nil {
		return reject(req.RequestID, fleet.OutcomeBadRequest, err.Error())
	}

	if outcome, detail := b.admit(&req.Caller, true); outcome != "" {
		return reject(req.RequestID, outcome, detail)
	}

	if b.store.Kill(req.Name) == store.KillNotFound {
		return reject(req.RequestID, fleet.OutcomeNotFound,
			fmt.Sprintf("no agent named %q", req.Name))
	}

	return &fleet.Response{RequestID: req.RequestID, OK: true, Reason: fleet.OutcomeRemoved, Name: req.Name}
}

// HandleControl processes lease acquisition/release and roster listing.
// List requests only pass the reachability gate: they are the reconciliation
// path for rejected mutations, so admission and lease checks do not apply.
func (b *Bridge) HandleControl(req *fleet.ControlRequest) *fleet.Response {
	if err := req.Validate(); err != nil {
		return reject(req.RequestID, fleet.OutcomeBadRequest, err.Error())
	}

	if req.Action == fleet.ControlList {
		if b.State() != StateReachable {
			return reject(req.RequestID, fleet.OutcomeUnreachable, "client has withdrawn from the concert")
		}
		return b.listResponse(req.RequestID)
	}

	if outcome, detail := b.admit(&req.Caller, false); outcome != "" {
		return reject(req.RequestID, outcome, detail)
	}

	switch req.Action {
	case fleet.ControlAcquire:
		switch b.registry.Acquire(req.Caller.ID, req.Caller.Origin) {
		case registry.AcquireGranted:
			return &fleet.Response{RequestID: req.RequestID, OK: true, Reason: fleet.OutcomeAcquired}
		case registry.AcquireDeniedRemote:
			return reject(req.RequestID, fleet.OutcomeForbidden, "lease restricted to local controllers")
		default:
			return reject(req.RequestID, fleet.OutcomeAlreadyHeld, "another controller holds the lease")
		}

	case fleet.ControlRelease:
		if b.registry.Release(req.Caller.ID) == registry.ReleaseNotHolder {
			return reject(req.RequestID, fleet.OutcomeNotHolder, "caller does not hold the lease")
		}
		return &fleet.Response{RequestID: req.RequestID, OK: true, Reason: fleet.OutcomeReleased}

	default:
		return reject(req.RequestID, fleet.OutcomeBadRequest,
			fmt.Sprintf("unknown control action %q", req.Action))
	}
}

// admit runs the shared gate sequence: reachability, firewall, admission
// policy, and (for lifecycle mutations) the controller lease. Returns an
// empty outcome when the request may proceed.
func (b *Bridge) admit(caller *fleet.Caller, checkLease bool) (fleet.Outcome, string) {
	// Step 1: reachability, read at admission time.
	if b.State() != StateReachable {
		return fleet.OutcomeUnreachable, "client has withdrawn from the concert"
	}

	// Firewall: requests from outside the fleet boundary never reach the
	// admission policy.
	if b.cfg.FirewallEnabled && (b.isMember == nil || !b.isMember(caller.Gateway)) {
		return fleet.OutcomeForbidden, fmt.Sprintf("gateway %q is outside the fleet boundary", caller.Gateway)
	}

	// Step 2: admission policy.
	if !b.filter.Permit(caller.ID, caller.Capability) {
		return fleet.OutcomeForbidden, fmt.Sprintf("caller %q denied by admission policy", caller.ID)
	}

	// Step 3: controller lease, when policy demands one.
	if checkLease && b.cfg.RequireController && !b.registry.IsHolder(caller.ID) {
		return fleet.OutcomeNotController, fmt.Sprintf("caller %q does not hold the controller lease", caller.ID)
	}

	return "", ""
}

func (b *Bridge) listResponse(requestID string) *fleet.Response {
	instances := b.store.List()
	agents := make([]fleet.AgentInfo, 0, len(instances))
	for _, inst := range instances {
		agents = append(agents, fleet.AgentInfo{
			Name:        inst.Name,
			InitPayload: inst.InitPayload,
			CreatedAtMs: inst.CreatedAt.UnixMilli(),
		})
	}

	return &fleet.Response{RequestID: requestID, OK: true, Reason: fleet.OutcomeListed, Agents: agents}
}

func reject(requestID string, reason fleet.Outcome, detail string) *fleet.Response {
	return &fleet.Response{RequestID: requestID, OK: false, Reason: reason, Error: detail}
}
