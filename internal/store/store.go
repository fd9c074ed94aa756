// Package store owns the set of currently-spawned agent instances.
// It is the ground truth for what exists on this fleet client: the bridge
// consults and mutates it, but never caches its contents.
package store

import (
	"fmt"
	"sync"
	"time"
)

// AgentInstance is a single spawned agent. Instances are created on
// successful spawn and destroyed on successful kill or on drain.
type AgentInstance struct {
	Name        string    // Unique within the store at any instant
	InitPayload string    // Opaque initial state, passed through unmodified
	CreatedAt   time.Time // When the spawn was committed
}

// SpawnResult is the outcome of a Spawn call.
type SpawnResult int

const (
	// SpawnCreated indicates the instance was added
	SpawnCreated SpawnResult = iota

	// SpawnConflict indicates the name already exists; no state was changed
	SpawnConflict
)

// KillResult is the outcome of a Kill call.
type KillResult int

const (
	// KillRemoved indicates the instance was removed
	KillRemoved KillResult = iota

	// KillNotFound indicates no instance had that name; no state was changed
	KillNotFound
)

// Store is an in-memory, mutex-guarded agent roster. All operations are
// atomic with respect to each other and complete in bounded time. Nothing
// is persisted: the roster is rebuilt from zero on restart.
type Store struct {
	mu     sync.Mutex
	agents map[string]AgentInstance
	order  []string // insertion order, for stable List output
	now    func() time.Time
}

// New creates an empty store.
func New() *Store {
	return &Store{
		agents: make(map[string]AgentInstance),
		now:    time.Now,
	}
}

// Spawn adds a new instance. Fails with SpawnConflict if the name already
// exists; on failure no partial state is left behind.
func (s *Store) Spawn(name, initPayload string) SpawnResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.agents[name]; exists {
		return SpawnConflict
	}

	s.agents[name] = AgentInstance{
		Name:        name,
		InitPayload: initPayload,
		CreatedAt:   s.now(),
	}
	s.order = append(s.order, name)

	return SpawnCreated
}

// Kill removes the named instance. A kill for an unknown name never mutates
// state and always reports KillNotFound.
func (s *Store) Kill(name string) KillResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.agents[name]; !exists {
		return KillNotFound
	}

	delete(s.agents, name)
	for i, n := range s.order {
		if n == name {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}

	return KillRemoved
}

// List returns a snapshot of all instances in spawn order. The snapshot is
// a copy: it is safe to iterate while mutations proceed elsewhere.
func (s *Store) List() []AgentInstance {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := make([]AgentInstance, 0, len(s.order))
	for _, name := range s.order {
		snapshot = append(snapshot, s.agents[name])
	}

	return snapshot
}

// Len returns the number of instances currently in the store.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.agents)
}

// Drain removes all instances and returns them in spawn order. Used on
// graceful shutdown. Idempotent: draining an empty store returns an empty
// slice.
func (s *Store) Drain() []AgentInstance {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := make([]AgentInstance, 0, len(s.order))
	for _, name := range s.order {
		removed = append(removed, s.agents[name])
	}

	s.agents = make(map[string]AgentInstance)
	s.order = nil

	return removed
}

// SpawnAliased adds a new instance under base if that name is free,
// otherwise under the first free aliased name in the sequence base_0,
// base_1, ... Uniquification and insertion happen under one lock, so the
// returned name is the name the instance was actually stored under.
func (s *Store) SpawnAliased(base, initPayload string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := base
	for count := 0; ; count++ {
		if _, exists := s.agents[name]; !exists {
			break
		}
		name = fmt.Sprintf("%s_%d", base, count)
	}

	s.agents[name] = AgentInstance{
		Name:        name,
		InitPayload: initPayload,
		CreatedAt:   s.now(),
	}
	s.order = append(s.order, name)

	return name
}
