// Package herder wires the fleet transport to the lifecycle bridge: it is
// the in-between node that serves spawn/kill/control requests for agents
// that cannot be reached directly across the gateway.
package herder

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/dyluth/herd/internal/admission"
	"github.com/dyluth/herd/internal/bridge"
	"github.com/dyluth/herd/internal/config"
	"github.com/dyluth/herd/internal/flip"
	"github.com/dyluth/herd/internal/membership"
	"github.com/dyluth/herd/internal/registry"
	"github.com/dyluth/herd/internal/store"
	"github.com/dyluth/herd/pkg/fleet"
)

// replyTimeout bounds response publication during shutdown, when the run
// context is already cancelled but in-flight requests still owe a reply.
const replyTimeout = 5 * time.Second

// Launcher starts and stops external agent processes for batch pre-spawned
// agents. Implemented by the Docker launcher; nil disables launching.
type Launcher interface {
	Launch(ctx context.Context, agent string) error
	Terminate(ctx context.Context, agent string) error
}

// Engine composes the store, registry, admission filter, bridge, membership
// watch loop and flipper into the running fleet-client daemon.
type Engine struct {
	cfg      *config.HerdConfig
	client   *fleet.Client
	store    *store.Store
	registry *registry.Registry
	filter   *admission.Filter
	bridge   *bridge.Bridge
	monitor  *membership.Monitor
	flipper  *flip.Flipper
	launcher Launcher
	health   *HealthServer

	wg sync.WaitGroup // in-flight request handlers
}

// NewEngine builds the daemon from a validated configuration. launcher may
// be nil when no batch launching is configured.
func NewEngine(cfg *config.HerdConfig, client *fleet.Client, launcher Launcher) *Engine {
	st := store.New()
	reg := registry.New(cfg.Controller.LocalControllersOnly())

	filter := admission.NewFilter(
		&admission.Policy{Allow: cfg.Admission.ConcertWhitelist, Deny: cfg.Admission.ConcertBlacklist},
		&admission.Policy{Allow: cfg.Admission.RappWhitelist, Deny: cfg.Admission.RappBlacklist},
	)

	e := &Engine{
		cfg:      cfg,
		client:   client,
		store:    st,
		registry: reg,
		filter:   filter,
		flipper:  flip.New(client, cfg.Service),
		launcher: launcher,
	}

	prober := &membership.FleetProber{Client: client, Gateway: cfg.Gateway}
	e.monitor = membership.NewMonitor(prober,
		cfg.WatchLoop.PeriodDuration(),
		cfg.WatchLoop.ProbeTimeoutDuration(),
		e.onMembershipChange,
	)

	e.bridge = bridge.New(
		bridge.Config{
			RequireController: cfg.Controller.RequireLease,
			FirewallEnabled:   cfg.Firewall,
		},
		filter, reg, st,
		e.monitor.IsConcertMember,
	)

	e.health = NewHealthServer(client, e.bridge)

	return e
}

// Bridge exposes the bridge for tests and diagnostics.
func (e *Engine) Bridge() *bridge.Bridge {
	return e.bridge
}

// Run starts the daemon and blocks until the context is cancelled. On
// shutdown it stops accepting new requests, lets in-flight requests finish,
// then drains the store and withdraws all flip rules.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.health.Start(); err != nil {
		return fmt.Errorf("failed to start health server: %w", err)
	}
	defer e.health.Shutdown(context.Background())

	log.Printf("[Herder] Starting for concert '%s' as client '%s'", e.cfg.Concert, e.cfg.ClientName)

	// Policy hot reload, when an external policy file is configured.
	if e.cfg.Admission.PolicyFile != "" {
		go func() {
			if err := admission.WatchPolicyFile(ctx, e.filter, e.cfg.Admission.PolicyFile); err != nil {
				log.Printf("[Herder] Policy watcher stopped: %v", err)
			}
		}()
	}

	// Membership watch loop: the single writer of the bridge's state.
	go e.monitor.Run(ctx)

	if err := e.preSpawn(ctx); err != nil {
		return err
	}

	spawnSub, err := e.client.SubscribeSpawnRequests(ctx)
	if err != nil {
		return fmt.Errorf("failed to subscribe to spawn requests: %w", err)
	}
	defer spawnSub.Close()

	killSub, err := e.client.SubscribeKillRequests(ctx)
	if err != nil {
		return fmt.Errorf("failed to subscribe to kill requests: %w", err)
	}
	defer killSub.Close()

	controlSub, err := e.client.SubscribeControlRequests(ctx)
	if err != nil {
		return fmt.Errorf("failed to subscribe to control requests: %w", err)
	}
	defer controlSub.Close()

	log.Printf("[Herder] Serving lifecycle requests")

	for {
		select {
		case <-ctx.Done():
			log.Printf("[Herder] Shutting down...")
			e.shutdown()
			return nil

		case req, ok := <-spawnSub.Events():
			if !ok {
				e.shutdown()
				return nil
			}
			e.dispatch(func() { e.handleSpawn(req) })

		case req, ok := <-killSub.Events():
			if !ok {
				e.shutdown()
				return nil
			}
			e.dispatch(func() { e.handleKill(req) })

		case req, ok := <-controlSub.Events():
			if !ok {
				e.shutdown()
				return nil
			}
			e.dispatch(func() { e.handleControl(req) })

		case err := <-spawnSub.Errors():
			e.logSubscriptionError("spawn", err)
		case err := <-killSub.Errors():
			e.logSubscriptionError("kill", err)
		case err := <-controlSub.Errors():
			e.logSubscriptionError("control", err)
		}
	}
}

// dispatch runs one request handler in its own goroutine. Requests arrive
// independently and may overlap; the store and registry serialize their own
// mutations.
func (e *Engine) dispatch(handle func()) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		handle()
	}()
}

func (e *Engine) handleSpawn(req *fleet.SpawnRequest) {
	resp := e.bridge.HandleSpawn(req)

	if resp.Reason == fleet.OutcomeCreated {
		e.advertiseFlips(resp.Name)
	}

	e.reply(resp)
	e.logEvent("spawn_handled", map[string]interface{}{
		"request_id": req.RequestID,
		"name":       req.Name,
		"caller_id":  req.Caller.ID,
		"reason":     string(resp.Reason),
	})
}

func (e *Engine) handleKill(req *fleet.KillRequest) {
	resp := e.bridge.HandleKill(req)

	if resp.Reason == fleet.OutcomeRemoved {
		e.cancelFlips(req.Name)
	}

	e.reply(resp)
	e.logEvent("kill_handled", map[string]interface{}{
		"request_id": req.RequestID,
		"name":       req.Name,
		"caller_id":  req.Caller.ID,
		"reason":     string(resp.Reason),
	})
}

func (e *Engine) handleControl(req *fleet.ControlRequest) {
	resp := e.bridge.HandleControl(req)

	e.reply(resp)
	e.logEvent("control_handled", map[string]interface{}{
		"request_id": req.RequestID,
		"action":     string(req.Action),
		"caller_id":  req.Caller.ID,
		"reason":     string(resp.Reason),
	})
}

// reply publishes a response under its own timeout so replies still go out
// while the run context is being torn down.
func (e *Engine) reply(resp *fleet.Response) {
	ctx, cancel := context.WithTimeout(context.Background(), replyTimeout)
	defer cancel()

	if err := e.client.PublishResponse(ctx, resp); err != nil {
		log.Printf("[Herder] Failed to publish response for request %s: %v", resp.RequestID, err)
	}
}

// advertiseFlips exposes the new agent's channels across the gateway.
// Failure is logged, never propagated: the agent exists either way.
func (e *Engine) advertiseFlips(agent string) {
	ctx, cancel := context.WithTimeout(context.Background(), replyTimeout)
	defer cancel()

	if err := e.flipper.Advertise(ctx, agent); err != nil {
		log.Printf("[Herder] %v", err)
	}
}

func (e *Engine) cancelFlips(agent string) {
	ctx, cancel := context.WithTimeout(context.Background(), replyTimeout)
	defer cancel()

	if err := e.flipper.Cancel(ctx, agent); err != nil {
		log.Printf("[Herder] %v", err)
	}
}

// onMembershipChange is the watch loop's callback into the bridge.
func (e *Engine) onMembershipChange(joined bool) {
	e.bridge.SetMembership(joined)
	e.logEvent("membership_changed", map[string]interface{}{
		"joined": joined,
		"state":  string(e.bridge.State()),
	})
}

// preSpawn creates the agents configured for batch launch at boot. Names
// are aliased rather than conflicting, matching remote spawn behaviour.
func (e *Engine) preSpawn(ctx context.Context) error {
	if e.cfg.Launcher == nil || len(e.cfg.Launcher.Spawn) == 0 {
		return nil
	}

	for _, base := range e.cfg.Launcher.Spawn {
		name := e.store.SpawnAliased(base, "")
		e.advertiseFlips(name)

		if e.launcher != nil {
			if err := e.launcher.Launch(ctx, name); err != nil {
				return fmt.Errorf("failed to launch agent %q: %w", name, err)
			}
		}

		log.Printf("[Herder] Pre-spawned agent '%s'", name)
	}

	return nil
}

// shutdown lets in-flight requests finish, then tears down every spawned
// agent: drain the store, withdraw flip rules, terminate launched processes.
func (e *Engine) shutdown() {
	e.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), replyTimeout)
	defer cancel()

	removed := e.store.Drain()
	for _, inst := range removed {
		if err := e.flipper.Cancel(ctx, inst.Name); err != nil {
			log.Printf("[Herder] %v", err)
		}
		if e.launcher != nil {
			if err := e.launcher.Terminate(ctx, inst.Name); err != nil {
				log.Printf("[Herder] Failed to terminate agent %q: %v", inst.Name, err)
			}
		}
	}

	log.Printf("[Herder] Drained %d agent(s), shutdown complete", len(removed))
}

func (e *Engine) logSubscriptionError(kind string, err error) {
	if err != nil {
		log.Printf("[Herder] %s subscription error: %v", kind, err)
	}
}

// logEvent logs a structured event in JSON format.
func (e *Engine) logEvent(eventType string, data map[string]interface{}) {
	data["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	data["level"] = "info"
	data["component"] = "herder"
	data["event_type"] = eventType
	data["concert"] = e.cfg.Concert
	data["client"] = e.cfg.ClientName

	jsonData, err := json.Marshal(data)
	if err != nil {
		log.Printf("[Herder] Failed to marshal log event: %v", err)
		return
	}

	log.Println(string(jsonData))
}
