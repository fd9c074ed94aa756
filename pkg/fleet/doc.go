// Package fleet provides type-safe Go definitions and Redis schema patterns
// for the Herd fleet transport.
//
// # Overview
//
// A Herd fleet client exposes its agent lifecycle service to the rest of a
// concert over a request/response channel pair carried on Redis Pub/Sub.
// Remote controllers publish spawn and kill requests onto the client's
// request channels and await a reply on a per-request reply channel. The
// fleet client replies with a structured outcome for every request it
// receives - no request is silently dropped.
//
// # Core Concepts
//
// Requests carry a Caller describing the remote identity: who is asking
// (caller id), what capability they are exercising, which gateway the
// request entered through, and whether that gateway sits on the local
// network segment. The bridge uses the Caller for admission control,
// controller-lease checks, and the optional firewall.
//
// Responses carry an Outcome enum. Outcomes are the only error surface of
// the bridge boundary: transient conditions (Unreachable) are retryable,
// admission failures (Forbidden) are not, and state-precondition failures
// (Conflict, NotFound) should be reconciled with a list request first.
//
// # Multi-Concert Support
//
// All Redis keys and Pub/Sub channels are namespaced by concert name, and
// request channels additionally by fleet-client name, so multiple concerts
// and multiple clients can share a single Redis server without interference.
//
// # Redis Schema
//
// Request channels: herd:{concert}:client:{client}:{spawn|kill|control}_requests
// Reply channels:   herd:{concert}:reply:{request_id}
// Membership set:   herd:{concert}:members
// Flip rules:       herd:{concert}:flips:{agent} (hash, field per channel)
// Flip events:      herd:{concert}:flip_events
package fleet
