package herder

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyluth/herd/internal/config"
	"github.com/dyluth/herd/pkg/fleet"
)

// fakeLauncher records launch and terminate calls.
type fakeLauncher struct {
	mu         sync.Mutex
	launched   []string
	terminated []string
}

func (l *fakeLauncher) Launch(ctx context.Context, agent string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.launched = append(l.launched, agent)
	return nil
}

func (l *fakeLauncher) Terminate(ctx context.Context, agent string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.terminated = append(l.terminated, agent)
	return nil
}

func (l *fakeLauncher) snapshot() (launched, terminated []string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.launched...), append([]string(nil), l.terminated...)
}

func testConfig() *config.HerdConfig {
	cfg := &config.HerdConfig{
		Version:    "1.0",
		Concert:    "test-concert",
		ClientName: "herder",
		WatchLoop:  config.WatchLoopConfig{Period: "20ms", ProbeTimeout: "10ms"},
	}
	return cfg
}

// startEngine validates the config, connects a fleet client to miniredis and
// runs the engine until the test finishes or the returned stop function is
// called.
func startEngine(t *testing.T, cfg *config.HerdConfig, launcher Launcher) (*fleet.Client, func()) {
	t.Helper()

	require.NoError(t, cfg.Validate())

	mr := miniredis.RunT(t)
	client, err := fleet.NewClient(&redis.Options{Addr: mr.Addr()}, cfg.Concert, cfg.ClientName)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	// The gateway starts as a concert member so the watch loop joins.
	require.NoError(t, client.JoinConcert(context.Background(), cfg.Gateway))

	engine := NewEngine(cfg, client, launcher)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- engine.Run(ctx)
	}()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			cancel()
			select {
			case err := <-done:
				assert.NoError(t, err)
			case <-time.After(5 * time.Second):
				t.Error("engine did not shut down")
			}
		})
	}
	t.Cleanup(stop)

	waitReachable(t, client)
	return client, stop
}

// waitReachable blocks until the engine serves a successful list request,
// meaning the subscriptions are up and the watch loop has joined.
func waitReachable(t *testing.T, client *fleet.Client) {
	t.Helper()
	require.Eventually(t, func() bool {
		resp, err := client.RequestControl(context.Background(),
			listRequest(), 500*time.Millisecond)
		return err == nil && resp.Reason == fleet.OutcomeListed
	}, 5*time.Second, 20*time.Millisecond, "engine never became reachable")
}

func engineCaller() fleet.Caller {
	return fleet.Caller{
		ID:         "remocon",
		Capability: "turtle_concert/spawn",
		Gateway:    "gateway_remocon",
		Origin:     fleet.OriginLocal,
	}
}

func listRequest() *fleet.ControlRequest {
	return &fleet.ControlRequest{
		RequestID: uuid.New().String(),
		Action:    fleet.ControlList,
		Caller:    engineCaller(),
	}
}

func TestEngineServesLifecycleRequests(t *testing.T) {
	client, _ := startEngine(t, testConfig(), nil)
	ctx := context.Background()

	t.Run("spawn", func(t *testing.T) {
		resp, err := client.RequestSpawn(ctx, &fleet.SpawnRequest{
			RequestID:   uuid.New().String(),
			Name:        "t1",
			InitPayload: `{"x":4.2,"y":5.1,"theta":0.0}`,
			Caller:      engineCaller(),
		}, 2*time.Second)
		require.NoError(t, err)
		assert.Equal(t, fleet.OutcomeCreated, resp.Reason)
		assert.Equal(t, "t1", resp.Name)
	})

	t.Run("spawn advertises flip rules", func(t *testing.T) {
		rules, err := client.FlipRules(ctx, "t1")
		require.NoError(t, err)
		assert.Len(t, rules, 2)
	})

	t.Run("duplicate spawn conflicts", func(t *testing.T) {
		resp, err := client.RequestSpawn(ctx, &fleet.SpawnRequest{
			RequestID: uuid.New().String(),
			Name:      "t1",
			Caller:    engineCaller(),
		}, 2*time.Second)
		require.NoError(t, err)
		assert.Equal(t, fleet.OutcomeConflict, resp.Reason)
	})

	t.Run("spawn with rename aliases", func(t *testing.T) {
		resp, err := client.RequestSpawn(ctx, &fleet.SpawnRequest{
			RequestID:   uuid.New().String(),
			Name:        "t1",
			AllowRename: true,
			Caller:      engineCaller(),
		}, 2*time.Second)
		require.NoError(t, err)
		assert.Equal(t, fleet.OutcomeCreated, resp.Reason)
		assert.Equal(t, "t1_0", resp.Name)
	})

	t.Run("list shows both agents", func(t *testing.T) {
		resp, err := client.RequestControl(ctx, listRequest(), 2*time.Second)
		require.NoError(t, err)
		require.Len(t, resp.Agents, 2)
		assert.Equal(t, "t1", resp.Agents[0].Name)
		assert.Equal(t, "t1_0", resp.Agents[1].Name)
	})

	t.Run("kill withdraws flip rules", func(t *testing.T) {
		resp, err := client.RequestKill(ctx, &fleet.KillRequest{
			RequestID: uuid.New().String(),
			Name:      "t1_0",
			Caller:    engineCaller(),
		}, 2*time.Second)
		require.NoError(t, err)
		assert.Equal(t, fleet.OutcomeRemoved, resp.Reason)

		rules, err := client.FlipRules(ctx, "t1_0")
		require.NoError(t, err)
		assert.Empty(t, rules)
	})

	t.Run("lease round trip", func(t *testing.T) {
		acq, err := client.RequestControl(ctx, &fleet.ControlRequest{
			RequestID: uuid.New().String(),
			Action:    fleet.ControlAcquire,
			Caller:    engineCaller(),
		}, 2*time.Second)
		require.NoError(t, err)
		assert.Equal(t, fleet.OutcomeAcquired, acq.Reason)

		rel, err := client.RequestControl(ctx, &fleet.ControlRequest{
			RequestID: uuid.New().String(),
			Action:    fleet.ControlRelease,
			Caller:    engineCaller(),
		}, 2*time.Second)
		require.NoError(t, err)
		assert.Equal(t, fleet.OutcomeReleased, rel.Reason)
	})
}

func TestEngineWithdrawsOnMembershipLoss(t *testing.T) {
	cfg := testConfig()
	client, _ := startEngine(t, cfg, nil)
	ctx := context.Background()

	require.NoError(t, client.LeaveConcert(ctx, cfg.Gateway))

	require.Eventually(t, func() bool {
		resp, err := client.RequestControl(ctx, listRequest(), 500*time.Millisecond)
		return err == nil && resp.Reason == fleet.OutcomeUnreachable
	}, 5*time.Second, 20*time.Millisecond, "engine never withdrew")

	// Rejoining restores service.
	require.NoError(t, client.JoinConcert(ctx, cfg.Gateway))
	waitReachable(t, client)
}

func TestEnginePreSpawnAndDrain(t *testing.T) {
	cfg := testConfig()
	cfg.Launcher = &config.LauncherConfig{
		Image: "turtlesim:latest",
		Spawn: []string{"kobuki", "kobuki"},
	}
	launcher := &fakeLauncher{}
	client, stop := startEngine(t, cfg, launcher)
	ctx := context.Background()

	launched, _ := launcher.snapshot()
	assert.Equal(t, []string{"kobuki", "kobuki_0"}, launched)

	resp, err := client.RequestControl(ctx, listRequest(), 2*time.Second)
	require.NoError(t, err)
	require.Len(t, resp.Agents, 2)

	rules, err := client.FlipRules(ctx, "kobuki")
	require.NoError(t, err)
	assert.Len(t, rules, 2)

	// Shutdown drains the store, withdraws flips and terminates every
	// launched agent.
	stop()

	_, terminated := launcher.snapshot()
	assert.ElementsMatch(t, launched, terminated)

	rules, err = client.FlipRules(ctx, "kobuki")
	require.NoError(t, err)
	assert.Empty(t, rules)
}
