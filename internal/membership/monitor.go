// Package membership runs the watch loop that polls fleet-membership
// status and toggles the bridge between reachable and withdrawn. It is the
// single writer of the membership flag; the bridge only reads it.
package membership

import (
	"context"
	"log"
	"sync/atomic"
	"time"

	"github.com/dyluth/herd/pkg/fleet"
)

// Prober answers membership questions for the local gateway. The fleet
// membership subsystem is an external collaborator consumed only through
// this interface.
type Prober interface {
	// Joined reports whether the local gateway is currently a concert member.
	Joined(ctx context.Context) (bool, error)

	// Members returns the gateway names currently in the concert.
	Members(ctx context.Context) ([]string, error)
}

// FleetProber answers membership probes from the concert member set on the
// fleet transport.
type FleetProber struct {
	Client  *fleet.Client
	Gateway string
}

// Joined implements Prober.
func (p *FleetProber) Joined(ctx context.Context) (bool, error) {
	return p.Client.IsMember(ctx, p.Gateway)
}

// Members implements Prober.
func (p *FleetProber) Members(ctx context.Context) ([]string, error) {
	return p.Client.Members(ctx)
}

// Monitor polls the prober on a fixed period and reports transitions via
// the onChange callback. A probe failure or timeout is treated as loss of
// membership: withdrawing on stale information beats staying reachable
// with it.
type Monitor struct {
	prober       Prober
	period       time.Duration
	probeTimeout time.Duration
	onChange     func(joined bool)

	members atomic.Pointer[map[string]struct{}]
	joined  bool // last observed state; only touched by Run's goroutine
}

// NewMonitor creates a watch loop. onChange fires once per transition,
// starting from the initial withdrawn state (so a first successful probe
// fires onChange(true)).
func NewMonitor(prober Prober, period, probeTimeout time.Duration, onChange func(joined bool)) *Monitor {
	m := &Monitor{
		prober:       prober,
		period:       period,
		probeTimeout: probeTimeout,
		onChange:     onChange,
	}
	empty := make(map[string]struct{})
	m.members.Store(&empty)
	return m
}

// IsConcertMember reports whether a gateway was in the member set at the
// last successful probe. Used by the bridge's firewall check.
func (m *Monitor) IsConcertMember(gateway string) bool {
	members := *m.members.Load()
	_, ok := members[gateway]
	return ok
}

// Run probes immediately, then on every tick, until the context is
// cancelled. Always returns nil; probe failures only withdraw the client.
func (m *Monitor) Run(ctx context.Context) error {
	log.Printf("[Membership] Watch loop starting (period %v)", m.period)

	ticker := time.NewTicker(m.period)
	defer ticker.Stop()

	m.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Printf("[Membership] Watch loop stopping")
			return nil

		case <-ticker.C:
			m.tick(ctx)
		}
	}
}

func (m *Monitor) tick(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, m.probeTimeout)
	defer cancel()

	joined, err := m.prober.Joined(probeCtx)
	if err != nil {
		// Fail safe: an unreachable membership collaborator means withdrawn.
		if m.joined {
			log.Printf("[Membership] Probe failed, treating as lost membership: %v", err)
		}
		joined = false
	}

	if joined {
		m.refreshMembers(probeCtx)
	} else {
		empty := make(map[string]struct{})
		m.members.Store(&empty)
	}

	if joined != m.joined {
		m.joined = joined
		m.onChange(joined)
	}
}

// refreshMembers updates the firewall snapshot. A failure here keeps the
// previous snapshot: membership itself was just confirmed, so a stale
// member set is preferable to an empty one.
func (m *Monitor) refreshMembers(ctx context.Context) {
	members, err := m.prober.Members(ctx)
	if err != nil {
		log.Printf("[Membership] Failed to refresh member set: %v", err)
		return
	}

	snapshot := make(map[string]struct{}, len(members))
	for _, gateway := range members {
		snapshot[gateway] = struct{}{}
	}
	m.members.Store(&snapshot)
}
