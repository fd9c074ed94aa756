// Package registry tracks which single remote entity currently holds
// control authority over the fleet client. At most one lease is active at
// any time; "no controller" is a valid state.
package registry

import (
	"sync"
	"time"

	"github.com/dyluth/herd/pkg/fleet"
)

// Lease records the active controller.
type Lease struct {
	ControllerID string
	AcquiredAt   time.Time
}

// AcquireResult is the outcome of an Acquire call.
type AcquireResult int

const (
	// AcquireGranted indicates the caller now holds the lease
	AcquireGranted AcquireResult = iota

	// AcquireAlreadyHeld indicates another controller holds the lease
	AcquireAlreadyHeld

	// AcquireDeniedRemote indicates the lease is restricted to local
	// controllers and the caller came in from a remote gateway
	AcquireDeniedRemote
)

// ReleaseResult is the outcome of a Release call.
type ReleaseResult int

const (
	// ReleaseReleased indicates the lease was given back
	ReleaseReleased ReleaseResult = iota

	// ReleaseNotHolder indicates the caller did not hold the lease
	ReleaseNotHolder
)

// Registry serializes lease acquisition and release against concurrent
// callers. Between a successful Acquire and its matching Release no other
// Acquire succeeds.
type Registry struct {
	mu        sync.Mutex
	lease     *Lease
	localOnly bool
	now       func() time.Time
}

// New creates an empty registry. When localOnly is set, only callers whose
// request entered through a local gateway may take the lease.
func New(localOnly bool) *Registry {
	return &Registry{
		localOnly: localOnly,
		now:       time.Now,
	}
}

// Acquire grants the lease if no lease is active or the caller already
// holds it (idempotent re-acquire). Re-acquire does not reset AcquiredAt.
func (r *Registry) Acquire(controllerID string, origin fleet.Origin) AcquireResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.localOnly && origin != fleet.OriginLocal {
		return AcquireDeniedRemote
	}

	if r.lease != nil {
		if r.lease.ControllerID == controllerID {
			return AcquireGranted
		}
		return AcquireAlreadyHeld
	}

	r.lease = &Lease{
		ControllerID: controllerID,
		AcquiredAt:   r.now(),
	}

	return AcquireGranted
}

// Release gives the lease back. Only the current holder may release.
func (r *Registry) Release(controllerID string) ReleaseResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.lease == nil || r.lease.ControllerID != controllerID {
		return ReleaseNotHolder
	}

	r.lease = nil
	return ReleaseReleased
}

// Current returns a copy of the active lease, or nil when no controller
// holds authority.
func (r *Registry) Current() *Lease {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.lease == nil {
		return nil
	}

	lease := *r.lease
	return &lease
}

// IsHolder reports whether controllerID holds the active lease.
func (r *Registry) IsHolder(controllerID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.lease != nil && r.lease.ControllerID == controllerID
}
