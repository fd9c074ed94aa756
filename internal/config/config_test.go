package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "herd.yml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0644))
	return path
}

func TestLoad(t *testing.T) {
	t.Run("minimal valid config applies defaults", func(t *testing.T) {
		cfg, err := Load(writeConfig(t, `
version: "1.0"
concert: turtle_concert
client_name: herder
`))
		require.NoError(t, err)

		assert.Equal(t, "turtle_concert", cfg.Concert)
		assert.Equal(t, "herder", cfg.ClientName)
		assert.Equal(t, "herder", cfg.Gateway, "gateway defaults to client_name")
		assert.Equal(t, DefaultService, cfg.Service)
		assert.True(t, cfg.Controller.LocalControllersOnly(), "local_only defaults to true")
		assert.False(t, cfg.Controller.RequireLease)
		assert.False(t, cfg.Firewall)
		assert.Equal(t, DefaultWatchLoopPeriod, cfg.WatchLoop.PeriodDuration())
		assert.Equal(t, DefaultProbeTimeout, cfg.WatchLoop.ProbeTimeoutDuration())
		assert.Nil(t, cfg.Launcher)
	})

	t.Run("full config", func(t *testing.T) {
		cfg, err := Load(writeConfig(t, `
version: "1.0"
concert: turtle_concert
client_name: herder
gateway: herder_gateway
service: turtlesim
redis_url: redis://localhost:6379
firewall_enabled: true
admission:
  concert_blacklist: [intruder]
  rapp_whitelist: ["rocon_apps/*"]
controller:
  require_lease: true
  local_only: false
watch_loop:
  period: 2s
  probe_timeout: 250ms
launcher:
  image: turtlesim:latest
  command: ["/usr/bin/turtle"]
  spawn: [kobuki, guimul]
`))
		require.NoError(t, err)

		assert.Equal(t, "herder_gateway", cfg.Gateway)
		assert.Equal(t, "redis://localhost:6379", cfg.RedisURL)
		assert.True(t, cfg.Firewall)
		assert.Equal(t, []string{"intruder"}, cfg.Admission.ConcertBlacklist)
		assert.Equal(t, []string{"rocon_apps/*"}, cfg.Admission.RappWhitelist)
		assert.True(t, cfg.Controller.RequireLease)
		assert.False(t, cfg.Controller.LocalControllersOnly())
		assert.Equal(t, 2*time.Second, cfg.WatchLoop.PeriodDuration())
		assert.Equal(t, 250*time.Millisecond, cfg.WatchLoop.ProbeTimeoutDuration())
		require.NotNil(t, cfg.Launcher)
		assert.Equal(t, "turtlesim:latest", cfg.Launcher.Image)
		assert.Equal(t, []string{"kobuki", "guimul"}, cfg.Launcher.Spawn)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "absent.yml"))
		assert.ErrorContains(t, err, "failed to read config")
	})

	t.Run("malformed YAML", func(t *testing.T) {
		_, err := Load(writeConfig(t, "version: [unclosed"))
		assert.ErrorContains(t, err, "failed to parse YAML")
	})
}

func TestValidate(t *testing.T) {
	base := func() *HerdConfig {
		return &HerdConfig{Version: "1.0", Concert: "turtle_concert", ClientName: "herder"}
	}

	t.Run("wrong version", func(t *testing.T) {
		cfg := base()
		cfg.Version = "2.0"
		assert.ErrorContains(t, cfg.Validate(), "unsupported version")
	})

	t.Run("missing concert", func(t *testing.T) {
		cfg := base()
		cfg.Concert = ""
		assert.ErrorContains(t, cfg.Validate(), "concert is required")
	})

	t.Run("invalid names", func(t *testing.T) {
		for _, bad := range []string{"Upper", "-leading", "trailing_", "has space"} {
			cfg := base()
			cfg.ClientName = bad
			assert.ErrorContains(t, cfg.Validate(), "invalid client_name", "name %q", bad)
		}
	})

	t.Run("name too long", func(t *testing.T) {
		cfg := base()
		cfg.ClientName = strings.Repeat("a", 64)
		assert.ErrorContains(t, cfg.Validate(), "too long")
	})

	t.Run("launcher requires image", func(t *testing.T) {
		cfg := base()
		cfg.Launcher = &LauncherConfig{Spawn: []string{"kobuki"}}
		assert.ErrorContains(t, cfg.Validate(), "launcher: image is required")
	})

	t.Run("launcher spawn names are validated", func(t *testing.T) {
		cfg := base()
		cfg.Launcher = &LauncherConfig{Image: "turtlesim:latest", Spawn: []string{"Bad Name"}}
		assert.ErrorContains(t, cfg.Validate(), "launcher.spawn entry")
	})

	t.Run("policy file must exist", func(t *testing.T) {
		cfg := base()
		cfg.Admission.PolicyFile = filepath.Join(t.TempDir(), "absent.yml")
		assert.ErrorContains(t, cfg.Validate(), "policy_file does not exist")
	})

	t.Run("probe timeout must be shorter than period", func(t *testing.T) {
		cfg := base()
		cfg.WatchLoop = WatchLoopConfig{Period: "500ms", ProbeTimeout: "500ms"}
		assert.ErrorContains(t, cfg.Validate(), "must be shorter than the period")
	})

	t.Run("durations must parse", func(t *testing.T) {
		cfg := base()
		cfg.WatchLoop = WatchLoopConfig{Period: "soon"}
		assert.ErrorContains(t, cfg.Validate(), "watch_loop.period")
	})

	t.Run("durations must be positive", func(t *testing.T) {
		cfg := base()
		cfg.WatchLoop = WatchLoopConfig{ProbeTimeout: "-1s"}
		assert.ErrorContains(t, cfg.Validate(), "must be positive")
	})
}
