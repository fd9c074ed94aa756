package fleet

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestClient creates a miniredis instance and a fleet client connected
// to it. Both are cleaned up automatically when the test finishes.
func setupTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)

	client, err := NewClient(&redis.Options{Addr: mr.Addr()}, "test-concert", "herder")
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	return client, mr
}

func testCaller() Caller {
	return Caller{
		ID:         "remocon",
		Capability: "turtle_concert/spawn",
		Gateway:    "gateway_remocon",
		Origin:     OriginLocal,
	}
}

func TestNewClient(t *testing.T) {
	mr := miniredis.RunT(t)

	t.Run("empty concert name", func(t *testing.T) {
		_, err := NewClient(&redis.Options{Addr: mr.Addr()}, "", "herder")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "concert name cannot be empty")
	})

	t.Run("empty client name", func(t *testing.T) {
		_, err := NewClient(&redis.Options{Addr: mr.Addr()}, "test-concert", "")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "client name cannot be empty")
	})

	t.Run("valid client", func(t *testing.T) {
		client, err := NewClient(&redis.Options{Addr: mr.Addr()}, "test-concert", "herder")
		require.NoError(t, err)
		defer client.Close()

		assert.NoError(t, client.Ping(context.Background()))
		assert.Equal(t, "test-concert", client.Concert())
		assert.Equal(t, "herder", client.ClientName())
	})
}

func TestChannelNamespacing(t *testing.T) {
	assert.Equal(t, "herd:melody:client:herder:spawn_requests", SpawnRequestsChannel("melody", "herder"))
	assert.Equal(t, "herd:melody:client:herder:kill_requests", KillRequestsChannel("melody", "herder"))
	assert.Equal(t, "herd:melody:client:herder:control_requests", ControlRequestsChannel("melody", "herder"))
	assert.Equal(t, "herd:melody:reply:abc", ReplyChannel("melody", "abc"))
	assert.Equal(t, "herd:melody:members", MembersKey("melody"))
	assert.Equal(t, "herd:melody:flips:t1", FlipRulesKey("melody", "t1"))
	assert.Equal(t, "herd:melody:flip_events", FlipEventsChannel("melody"))
}

func TestSpawnRoundTrip(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	sub, err := client.SubscribeSpawnRequests(ctx)
	require.NoError(t, err)
	defer sub.Close()

	// Responder: answer the first inbound request with OutcomeCreated.
	go func() {
		req := <-sub.Events()
		_ = client.PublishResponse(ctx, &Response{
			RequestID: req.RequestID,
			OK:        true,
			Reason:    OutcomeCreated,
			Name:      req.Name,
		})
	}()

	req := &SpawnRequest{
		RequestID:   uuid.New().String(),
		Name:        "t1",
		InitPayload: `{"x":4.2,"y":5.1,"theta":1.57}`,
		Caller:      testCaller(),
	}

	resp, err := client.RequestSpawn(ctx, req, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, req.RequestID, resp.RequestID)
	assert.True(t, resp.OK)
	assert.Equal(t, OutcomeCreated, resp.Reason)
	assert.Equal(t, "t1", resp.Name)
}

func TestKillRoundTrip(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	sub, err := client.SubscribeKillRequests(ctx)
	require.NoError(t, err)
	defer sub.Close()

	go func() {
		req := <-sub.Events()
		_ = client.PublishResponse(ctx, &Response{
			RequestID: req.RequestID,
			OK:        false,
			Reason:    OutcomeNotFound,
			Error:     "no agent named \"ghost\"",
		})
	}()

	resp, err := client.RequestKill(ctx, &KillRequest{
		RequestID: uuid.New().String(),
		Name:      "ghost",
		Caller:    testCaller(),
	}, 2*time.Second)
	require.NoError(t, err)
	assert.False(t, resp.OK)
	assert.Equal(t, OutcomeNotFound, resp.Reason)
}

func TestControlRoundTrip(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	sub, err := client.SubscribeControlRequests(ctx)
	require.NoError(t, err)
	defer sub.Close()

	go func() {
		req := <-sub.Events()
		_ = client.PublishResponse(ctx, &Response{
			RequestID: req.RequestID,
			OK:        true,
			Reason:    OutcomeListed,
			Agents:    []AgentInfo{{Name: "t1", CreatedAtMs: 1234}},
		})
	}()

	resp, err := client.RequestControl(ctx, &ControlRequest{
		RequestID: uuid.New().String(),
		Action:    ControlList,
		Caller:    testCaller(),
	}, 2*time.Second)
	require.NoError(t, err)
	require.Len(t, resp.Agents, 1)
	assert.Equal(t, "t1", resp.Agents[0].Name)
}

func TestRoundTripTimeout(t *testing.T) {
	client, _ := setupTestClient(t)

	// Nobody is serving requests, so the round trip must time out.
	_, err := client.RequestSpawn(context.Background(), &SpawnRequest{
		RequestID: uuid.New().String(),
		Name:      "t1",
		Caller:    testCaller(),
	}, 100*time.Millisecond)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timeout waiting for response")
}

func TestRequestValidationBeforePublish(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	_, err := client.RequestSpawn(ctx, &SpawnRequest{RequestID: "bogus", Name: "t1", Caller: testCaller()}, time.Second)
	assert.ErrorContains(t, err, "invalid spawn request")

	_, err = client.RequestKill(ctx, &KillRequest{RequestID: uuid.New().String(), Caller: testCaller()}, time.Second)
	assert.ErrorContains(t, err, "invalid kill request")

	_, err = client.RequestControl(ctx, &ControlRequest{RequestID: uuid.New().String(), Action: "reboot", Caller: testCaller()}, time.Second)
	assert.ErrorContains(t, err, "invalid control request")
}

func TestSubscriptionSkipsMalformedMessages(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	sub, err := client.SubscribeSpawnRequests(ctx)
	require.NoError(t, err)
	defer sub.Close()

	channel := SpawnRequestsChannel(client.Concert(), client.ClientName())
	require.NoError(t, client.rdb.Publish(ctx, channel, "not json").Err())

	select {
	case err := <-sub.Errors():
		assert.Contains(t, err.Error(), "failed to unmarshal")
	case <-time.After(2 * time.Second):
		t.Fatal("expected an unmarshal error")
	}

	// The subscription keeps working after a bad message.
	valid := &SpawnRequest{RequestID: uuid.New().String(), Name: "t1", Caller: testCaller()}
	go func() {
		resp := <-sub.Events()
		_ = client.PublishResponse(ctx, &Response{RequestID: resp.RequestID, OK: true, Reason: OutcomeCreated, Name: resp.Name})
	}()

	resp, err := client.RequestSpawn(ctx, valid, 2*time.Second)
	require.NoError(t, err)
	assert.True(t, resp.OK)
}

func TestSubscriptionClose(t *testing.T) {
	client, _ := setupTestClient(t)

	sub, err := client.SubscribeSpawnRequests(context.Background())
	require.NoError(t, err)

	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close(), "Close must be idempotent")

	select {
	case _, ok := <-sub.Events():
		assert.False(t, ok, "events channel should be closed")
	case <-time.After(2 * time.Second):
		t.Fatal("events channel not closed after Close()")
	}
}

func TestConcertMembership(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	joined, err := client.IsMember(ctx, "gateway_a")
	require.NoError(t, err)
	assert.False(t, joined)

	require.NoError(t, client.JoinConcert(ctx, "gateway_a"))
	require.NoError(t, client.JoinConcert(ctx, "gateway_b"))

	joined, err = client.IsMember(ctx, "gateway_a")
	require.NoError(t, err)
	assert.True(t, joined)

	members, err := client.Members(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"gateway_a", "gateway_b"}, members)

	require.NoError(t, client.LeaveConcert(ctx, "gateway_a"))
	joined, err = client.IsMember(ctx, "gateway_a")
	require.NoError(t, err)
	assert.False(t, joined)
}

func TestMembershipIsolationBetweenConcerts(t *testing.T) {
	_, mr := setupTestClient(t)
	ctx := context.Background()

	first, err := NewClient(&redis.Options{Addr: mr.Addr()}, "concert-a", "herder")
	require.NoError(t, err)
	defer first.Close()

	second, err := NewClient(&redis.Options{Addr: mr.Addr()}, "concert-b", "herder")
	require.NoError(t, err)
	defer second.Close()

	require.NoError(t, first.JoinConcert(ctx, "gateway_a"))

	joined, err := second.IsMember(ctx, "gateway_a")
	require.NoError(t, err)
	assert.False(t, joined, "member sets must be namespaced per concert")
}

func TestFlipRules(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	rules := []FlipRule{
		{Agent: "t1", Channel: "/services/turtlesim/t1/cmd_vel", Direction: DirectionSubscriber},
		{Agent: "t1", Channel: "/services/turtlesim/t1/pose", Direction: DirectionPublisher},
	}

	t.Run("empty rule set is rejected", func(t *testing.T) {
		assert.Error(t, client.SetFlipRules(ctx, "t1", nil))
	})

	t.Run("advertise and read back", func(t *testing.T) {
		require.NoError(t, client.SetFlipRules(ctx, "t1", rules))

		got, err := client.FlipRules(ctx, "t1")
		require.NoError(t, err)
		assert.ElementsMatch(t, rules, got)
	})

	t.Run("re-advertising is idempotent", func(t *testing.T) {
		require.NoError(t, client.SetFlipRules(ctx, "t1", rules))

		got, err := client.FlipRules(ctx, "t1")
		require.NoError(t, err)
		assert.Len(t, got, 2)
	})

	t.Run("clear withdraws all rules", func(t *testing.T) {
		require.NoError(t, client.ClearFlipRules(ctx, "t1"))

		got, err := client.FlipRules(ctx, "t1")
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("clearing an agent with no rules is a no-op", func(t *testing.T) {
		assert.NoError(t, client.ClearFlipRules(ctx, "t9"))
	})
}

func TestFlipEvents(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	pubsub := client.rdb.Subscribe(ctx, FlipEventsChannel(client.Concert()))
	defer pubsub.Close()
	_, err := pubsub.Receive(ctx)
	require.NoError(t, err)

	rules := []FlipRule{{Agent: "t1", Channel: "/services/turtlesim/t1/pose", Direction: DirectionPublisher}}
	require.NoError(t, client.SetFlipRules(ctx, "t1", rules))
	require.NoError(t, client.ClearFlipRules(ctx, "t1"))

	expectFlipEvent := func(cancel bool) {
		select {
		case msg := <-pubsub.Channel():
			assert.Contains(t, msg.Payload, `"agent":"t1"`)
			if cancel {
				assert.Contains(t, msg.Payload, `"cancel":true`)
			} else {
				assert.Contains(t, msg.Payload, `"cancel":false`)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("expected a flip event")
		}
	}

	expectFlipEvent(false)
	expectFlipEvent(true)
}
