package fleet

import "fmt"

// Redis key pattern helpers
//
// All Redis keys and Pub/Sub channels are namespaced by concert name so
// multiple concerts can coexist on one Redis server. Request channels are
// additionally scoped by fleet-client name: each client only serves
// requests addressed to it.
//
// Key pattern: herd:{concert}:{entity}...
// Channel pattern: herd:{concert}:client:{client}:{kind}_requests

// SpawnRequestsChannel returns the Pub/Sub channel a fleet client serves
// spawn requests on.
// Pattern: herd:{concert}:client:{client}:spawn_requests
func SpawnRequestsChannel(concert, client string) string {
	return fmt.Sprintf("herd:%s:client:%s:spawn_requests", concert, client)
}

// KillRequestsChannel returns the Pub/Sub channel a fleet client serves
// kill requests on.
// Pattern: herd:{concert}:client:{client}:kill_requests
func KillRequestsChannel(concert, client string) string {
	return fmt.Sprintf("herd:%s:client:%s:kill_requests", concert, client)
}

// ControlRequestsChannel returns the Pub/Sub channel a fleet client serves
// lease and list requests on.
// Pattern: herd:{concert}:client:{client}:control_requests
func ControlRequestsChannel(concert, client string) string {
	return fmt.Sprintf("herd:%s:client:%s:control_requests", concert, client)
}

// ReplyChannel returns the per-request reply channel. The caller subscribes
// to it before publishing the request, so the reply cannot be missed.
// Pattern: herd:{concert}:reply:{request_id}
func ReplyChannel(concert, requestID string) string {
	return fmt.Sprintf("herd:%s:reply:%s", concert, requestID)
}

// MembersKey returns the Redis SET holding the gateway names currently
// joined to the concert. Maintained by the fleet membership subsystem;
// the fleet client only reads it.
// Pattern: herd:{concert}:members
func MembersKey(concert string) string {
	return fmt.Sprintf("herd:%s:members", concert)
}

// FlipRulesKey returns the Redis hash holding the flip rules advertised for
// one agent. Field = channel name, value = JSON-encoded FlipRule.
// Pattern: herd:{concert}:flips:{agent}
func FlipRulesKey(concert, agent string) string {
	return fmt.Sprintf("herd:%s:flips:%s", concert, agent)
}

// FlipEventsChannel returns the Pub/Sub channel announcing flip-rule
// changes for the whole concert.
// Pattern: herd:{concert}:flip_events
func FlipEventsChannel(concert string) string {
	return fmt.Sprintf("herd:%s:flip_events", concert)
}
