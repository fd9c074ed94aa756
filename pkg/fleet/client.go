package fleet

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Client provides concert-scoped Redis operations for the fleet transport.
// All keys and channels are automatically namespaced with the concert name,
// and request channels with the fleet-client name. The client is thread-safe
// and can be used concurrently from multiple goroutines.
type Client struct {
	rdb        *redis.Client
	concert    string
	clientName string
}

// NewClient creates a new fleet client.
//
// Parameters:
//   - redisOpts: Redis connection options (address, password, DB, etc.)
//   - concert: concert name used for namespacing (must not be empty)
//   - clientName: this fleet client's name (must not be empty)
func NewClient(redisOpts *redis.Options, concert, clientName string) (*Client, error) {
	if concert == "" {
		return nil, fmt.Errorf("concert name cannot be empty")
	}
	if clientName == "" {
		return nil, fmt.Errorf("client name cannot be empty")
	}

	return &Client{
		rdb:        redis.NewClient(redisOpts),
		concert:    concert,
		clientName: clientName,
	}, nil
}

// Close closes the Redis connection. Implements io.Closer.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping verifies Redis connectivity. Useful for health checks.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Concert returns the concert name this client is scoped to.
func (c *Client) Concert() string {
	return c.concert
}

// ClientName returns the fleet-client name this client is scoped to.
func (c *Client) ClientName() string {
	return c.clientName
}

// RequestSpawn publishes a spawn request to the target fleet client and
// blocks until its response arrives or the timeout expires. The reply
// channel is subscribed before the request is published, so the response
// cannot be missed.
func (c *Client) RequestSpawn(ctx context.Context, req *SpawnRequest, timeout time.Duration) (*Response, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid spawn request: %w", err)
	}
	return c.roundTrip(ctx, SpawnRequestsChannel(c.concert, c.clientName), req.RequestID, req, timeout)
}

// RequestKill publishes a kill request and blocks for the response.
func (c *Client) RequestKill(ctx context.Context, req *KillRequest, timeout time.Duration) (*Response, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid kill request: %w", err)
	}
	return c.roundTrip(ctx, KillRequestsChannel(c.concert, c.clientName), req.RequestID, req, timeout)
}

// RequestControl publishes a lease or list request and blocks for the response.
func (c *Client) RequestControl(ctx context.Context, req *ControlRequest, timeout time.Duration) (*Response, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid control request: %w", err)
	}
	return c.roundTrip(ctx, ControlRequestsChannel(c.concert, c.clientName), req.RequestID, req, timeout)
}

// roundTrip implements the request/response exchange: subscribe to the
// per-request reply channel, publish the request, await a single reply.
func (c *Client) roundTrip(ctx context.Context, requestChannel, requestID string, payload interface{}, timeout time.Duration) (*Response, error) {
	replyChannel := ReplyChannel(c.concert, requestID)

	pubsub := c.rdb.Subscribe(ctx, replyChannel)
	defer pubsub.Close()

	// Wait for the subscription to be confirmed before publishing the
	// request, otherwise the reply could race the subscription.
	if _, err := pubsub.Receive(ctx); err != nil {
		return nil, fmt.Errorf("failed to subscribe to reply channel: %w", err)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	if err := c.rdb.Publish(ctx, requestChannel, data).Err(); err != nil {
		return nil, fmt.Errorf("failed to publish request: %w", err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()

	case <-timer.C:
		return nil, fmt.Errorf("timeout waiting for response after %v", timeout)

	case msg, ok := <-pubsub.Channel():
		if !ok {
			return nil, fmt.Errorf("reply subscription closed before response arrived")
		}
		var resp Response
		if err := json.Unmarshal([]byte(msg.Payload), &resp); err != nil {
			return nil, fmt.Errorf("failed to unmarshal response: %w", err)
		}
		return &resp, nil
	}
}

// PublishResponse publishes a response on the reply channel for its request.
// Used by the fleet client daemon to answer inbound requests.
func (c *Client) PublishResponse(ctx context.Context, resp *Response) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("failed to marshal response: %w", err)
	}

	channel := ReplyChannel(c.concert, resp.RequestID)
	if err := c.rdb.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish response: %w", err)
	}

	return nil
}

// SpawnSubscription is an active Pub/Sub subscription to spawn requests.
// Caller must call Close() when done to clean up resources.
type SpawnSubscription struct {
	events <-chan *SpawnRequest
	errors <-chan error
	cancel func()
	once   sync.Once
}

// Events returns the channel of inbound spawn requests.
// The channel is closed when the subscription is closed or the context is
// cancelled.
func (s *SpawnSubscription) Events() <-chan *SpawnRequest { return s.events }

// Errors returns the channel of subscription errors. Errors are non-fatal;
// the subscription continues and the offending message is skipped.
func (s *SpawnSubscription) Errors() <-chan error { return s.errors }

// Close stops the subscription. Safe to call multiple times.
func (s *SpawnSubscription) Close() error {
	s.once.Do(s.cancel)
	return nil
}

// KillSubscription is an active Pub/Sub subscription to kill requests.
type KillSubscription struct {
	events <-chan *KillRequest
	errors <-chan error
	cancel func()
	once   sync.Once
}

// Events returns the channel of inbound kill requests.
func (s *KillSubscription) Events() <-chan *KillRequest { return s.events }

// Errors returns the channel of subscription errors.
func (s *KillSubscription) Errors() <-chan error { return s.errors }

// Close stops the subscription. Safe to call multiple times.
func (s *KillSubscription) Close() error {
	s.once.Do(s.cancel)
	return nil
}

// ControlSubscription is an active Pub/Sub subscription to control requests.
type ControlSubscription struct {
	events <-chan *ControlRequest
	errors <-chan error
	cancel func()
	once   sync.Once
}

// Events returns the channel of inbound control requests.
func (s *ControlSubscription) Events() <-chan *ControlRequest { return s.events }

// Errors returns the channel of subscription errors.
func (s *ControlSubscription) Errors() <-chan error { return s.errors }

// Close stops the subscription. Safe to call multiple times.
func (s *ControlSubscription) Close() error {
	s.once.Do(s.cancel)
	return nil
}

// SubscribeSpawnRequests subscribes to this client's spawn request channel.
// Caller must call subscription.Close() when done. Context cancellation also
// stops the subscription.
//
// Requests are delivered on a buffered channel (size 10) to prevent
// blocking. Redis Pub/Sub is at-most-once: a slow subscriber may drop
// messages, and the remote caller's timeout covers that case.
func (c *Client) SubscribeSpawnRequests(ctx context.Context) (*SpawnSubscription, error) {
	events, errs, cancel := subscribeJSON[SpawnRequest](ctx, c.rdb, SpawnRequestsChannel(c.concert, c.clientName))
	return &SpawnSubscription{events: events, errors: errs, cancel: cancel}, nil
}

// SubscribeKillRequests subscribes to this client's kill request channel.
func (c *Client) SubscribeKillRequests(ctx context.Context) (*KillSubscription, error) {
	events, errs, cancel := subscribeJSON[KillRequest](ctx, c.rdb, KillRequestsChannel(c.concert, c.clientName))
	return &KillSubscription{events: events, errors: errs, cancel: cancel}, nil
}

// SubscribeControlRequests subscribes to this client's control request channel.
func (c *Client) SubscribeControlRequests(ctx context.Context) (*ControlSubscription, error) {
	events, errs, cancel := subscribeJSON[ControlRequest](ctx, c.rdb, ControlRequestsChannel(c.concert, c.clientName))
	return &ControlSubscription{events: events, errors: errs, cancel: cancel}, nil
}

// subscribeJSON subscribes to a Pub/Sub channel and decodes each message
// into T. Undecodable messages produce an error on the error channel and
// are skipped.
func subscribeJSON[T any](ctx context.Context, rdb *redis.Client, channel string) (<-chan *T, <-chan error, func()) {
	pubsub := rdb.Subscribe(ctx, channel)

	eventsChan := make(chan *T, 10)
	errorsChan := make(chan error, 10)

	subCtx, cancelFunc := context.WithCancel(ctx)

	go func() {
		defer close(eventsChan)
		defer close(errorsChan)
		defer pubsub.Close()

		ch := pubsub.Channel()

		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}

				var event T
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					select {
					case errorsChan <- fmt.Errorf("failed to unmarshal %s message: %w", channel, err):
					case <-subCtx.Done():
						return
					}
					continue
				}

				select {
				case eventsChan <- &event:
				case <-subCtx.Done():
					return
				}
			}
		}
	}()

	return eventsChan, errorsChan, cancelFunc
}

// IsMember reports whether the given gateway is currently joined to the
// concert. Used by the membership watch loop.
func (c *Client) IsMember(ctx context.Context, gateway string) (bool, error) {
	member, err := c.rdb.SIsMember(ctx, MembersKey(c.concert), gateway).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check concert membership: %w", err)
	}
	return member, nil
}

// Members returns the gateway names currently joined to the concert.
// Used to build the firewall member-set snapshot.
func (c *Client) Members(ctx context.Context) ([]string, error) {
	members, err := c.rdb.SMembers(ctx, MembersKey(c.concert)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list concert members: %w", err)
	}
	return members, nil
}

// JoinConcert registers a gateway in the concert member set. The membership
// subsystem normally owns this; it is exposed for tests and tooling.
func (c *Client) JoinConcert(ctx context.Context, gateway string) error {
	if err := c.rdb.SAdd(ctx, MembersKey(c.concert), gateway).Err(); err != nil {
		return fmt.Errorf("failed to join concert: %w", err)
	}
	return nil
}

// LeaveConcert removes a gateway from the concert member set.
func (c *Client) LeaveConcert(ctx context.Context, gateway string) error {
	if err := c.rdb.SRem(ctx, MembersKey(c.concert), gateway).Err(); err != nil {
		return fmt.Errorf("failed to leave concert: %w", err)
	}
	return nil
}

// SetFlipRules advertises flip rules for an agent and announces the change
// on the flip events channel. Rules are stored in a hash keyed by channel
// name so re-advertising is idempotent.
func (c *Client) SetFlipRules(ctx context.Context, agent string, rules []FlipRule) error {
	if len(rules) == 0 {
		return fmt.Errorf("no flip rules given for agent %q", agent)
	}

	fields := make(map[string]interface{}, len(rules))
	for _, rule := range rules {
		data, err := json.Marshal(rule)
		if err != nil {
			return fmt.Errorf("failed to marshal flip rule: %w", err)
		}
		fields[rule.Channel] = string(data)
	}

	key := FlipRulesKey(c.concert, agent)
	if err := c.rdb.HSet(ctx, key, fields).Err(); err != nil {
		return fmt.Errorf("failed to write flip rules: %w", err)
	}

	return c.publishFlipEvent(ctx, &FlipEvent{Agent: agent, Cancel: false})
}

// ClearFlipRules withdraws all flip rules for an agent and announces the
// cancellation. Clearing an agent with no rules is a no-op.
func (c *Client) ClearFlipRules(ctx context.Context, agent string) error {
	key := FlipRulesKey(c.concert, agent)
	if err := c.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to clear flip rules: %w", err)
	}

	return c.publishFlipEvent(ctx, &FlipEvent{Agent: agent, Cancel: true})
}

// FlipRules returns the flip rules currently advertised for an agent.
// Returns an empty slice if none are advertised.
func (c *Client) FlipRules(ctx context.Context, agent string) ([]FlipRule, error) {
	key := FlipRulesKey(c.concert, agent)

	fields, err := c.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read flip rules: %w", err)
	}

	rules := make([]FlipRule, 0, len(fields))
	for _, raw := range fields {
		var rule FlipRule
		if err := json.Unmarshal([]byte(raw), &rule); err != nil {
			return nil, fmt.Errorf("failed to unmarshal flip rule: %w", err)
		}
		rules = append(rules, rule)
	}

	return rules, nil
}

func (c *Client) publishFlipEvent(ctx context.Context, event *FlipEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal flip event: %w", err)
	}

	channel := FlipEventsChannel(c.concert)
	if err := c.rdb.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish flip event: %w", err)
	}

	return nil
}
