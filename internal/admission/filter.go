// Package admission evaluates whether a caller or capability may invoke
// the lifecycle bridge. Evaluation is pure: each request sees one immutable
// policy snapshot, and snapshots can be replaced at any time without
// locking out in-flight requests.
package admission

import (
	"path"
	"sync/atomic"
)

// Policy is an immutable allow/deny pattern set. Patterns use path.Match
// glob syntax (e.g. "rocon_apps/*").
//
// Deny entries take precedence over allow entries when both match. An empty
// allow list means "allow all except denies": the whitelist is additive
// opt-in only when non-empty.
type Policy struct {
	Allow []string
	Deny  []string
}

// Permits evaluates one identifier against the policy.
func (p *Policy) Permits(id string) bool {
	if matchesAny(p.Deny, id) {
		return false
	}
	if len(p.Allow) == 0 {
		return true
	}
	return matchesAny(p.Allow, id)
}

// matchesAny reports whether id matches any glob pattern in the set.
// A malformed pattern matches nothing.
func matchesAny(patterns []string, id string) bool {
	for _, pattern := range patterns {
		if matched, err := path.Match(pattern, id); err == nil && matched {
			return true
		}
	}
	return false
}

// Filter holds the current caller and capability policies behind atomic
// pointers. Permit reads the snapshots current at evaluation time; Replace
// swaps them without blocking readers.
type Filter struct {
	callers      atomic.Pointer[Policy]
	capabilities atomic.Pointer[Policy]
}

// NewFilter creates a filter with the given initial policies. Nil policies
// are treated as empty (allow everything).
func NewFilter(callers, capabilities *Policy) *Filter {
	f := &Filter{}
	f.Replace(callers, capabilities)
	return f
}

// Permit evaluates a caller id and the capability it exercises against the
// current policy snapshots. No side effects.
func (f *Filter) Permit(callerID, capability string) bool {
	if !f.callers.Load().Permits(callerID) {
		return false
	}
	return f.capabilities.Load().Permits(capability)
}

// Replace atomically installs new policy snapshots. In-flight evaluations
// complete against the snapshot they already loaded.
func (f *Filter) Replace(callers, capabilities *Policy) {
	if callers == nil {
		callers = &Policy{}
	}
	if capabilities == nil {
		capabilities = &Policy{}
	}
	f.callers.Store(callers)
	f.capabilities.Store(capabilities)
}

// Snapshot returns the policies current at call time. Intended for
// diagnostics; the returned policies must not be mutated.
func (f *Filter) Snapshot() (callers, capabilities *Policy) {
	return f.callers.Load(), f.capabilities.Load()
}
