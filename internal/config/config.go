package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultWatchLoopPeriod is how often the membership watch loop probes
	DefaultWatchLoopPeriod = time.Second

	// DefaultProbeTimeout bounds each membership probe; a timeout counts
	// as loss of membership
	DefaultProbeTimeout = 500 * time.Millisecond

	// DefaultService is the service namespace agents are flipped under
	DefaultService = "turtlesim"
)

// namePattern validates concert/client/gateway names: lowercase
// alphanumeric with hyphens or underscores, not at start or end.
var namePattern = regexp.MustCompile(`^[a-z0-9]([-_a-z0-9]*[a-z0-9])?$`)

// HerdConfig represents the top-level herd.yml configuration.
type HerdConfig struct {
	Version    string           `yaml:"version"`
	Concert    string           `yaml:"concert"`
	ClientName string           `yaml:"client_name"`
	Gateway    string           `yaml:"gateway,omitempty"` // Defaults to client_name
	Service    string           `yaml:"service,omitempty"` // Defaults to "turtlesim"
	RedisURL   string           `yaml:"redis_url,omitempty"`
	Admission  AdmissionConfig  `yaml:"admission,omitempty"`
	Controller ControllerConfig `yaml:"controller,omitempty"`
	WatchLoop  WatchLoopConfig  `yaml:"watch_loop,omitempty"`
	Firewall   bool             `yaml:"firewall_enabled,omitempty"`
	Launcher   *LauncherConfig  `yaml:"launcher,omitempty"`
}

// AdmissionConfig holds the allow/deny pattern lists. Empty whitelists mean
// "allow all except blacklisted" - whitelists are opt-in only when
// non-empty.
type AdmissionConfig struct {
	RappWhitelist    []string `yaml:"rapp_whitelist,omitempty"`
	RappBlacklist    []string `yaml:"rapp_blacklist,omitempty"`
	ConcertWhitelist []string `yaml:"concert_whitelist,omitempty"`
	ConcertBlacklist []string `yaml:"concert_blacklist,omitempty"`

	// PolicyFile, when set, is watched for changes and supersedes the
	// inline lists above.
	PolicyFile string `yaml:"policy_file,omitempty"`
}

// ControllerConfig gates the controller-lease behaviour of the bridge.
type ControllerConfig struct {
	// RequireLease rejects spawn/kill from callers without the lease.
	RequireLease bool `yaml:"require_lease,omitempty"`

	// LocalOnly restricts lease acquisition to controllers reachable on
	// the local network segment. Defaults to true; set local_only: false
	// explicitly to allow remote controllers.
	LocalOnly *bool `yaml:"local_only,omitempty"`
}

// WatchLoopConfig tunes the membership watch loop. Durations are
// time.ParseDuration strings ("1s", "500ms").
type WatchLoopConfig struct {
	Period       string `yaml:"period,omitempty"`
	ProbeTimeout string `yaml:"probe_timeout,omitempty"`

	period       time.Duration
	probeTimeout time.Duration
}

// LauncherConfig describes the optional Docker-backed batch launcher for
// agents pre-spawned at daemon startup.
type LauncherConfig struct {
	Image   string   `yaml:"image"`             // Container image to run per pre-spawned agent
	Command []string `yaml:"command,omitempty"` // Entry command; agent name is appended
	Spawn   []string `yaml:"spawn,omitempty"`   // Agent names to spawn at boot
}

// Validate performs strict validation and applies defaults.
func (c *HerdConfig) Validate() error {
	if c.Version != "1.0" {
		return fmt.Errorf("unsupported version: %s (expected: 1.0)", c.Version)
	}

	if err := validateName("concert", c.Concert); err != nil {
		return err
	}
	if err := validateName("client_name", c.ClientName); err != nil {
		return err
	}

	if c.Gateway == "" {
		c.Gateway = c.ClientName
	}
	if err := validateName("gateway", c.Gateway); err != nil {
		return err
	}

	if c.Service == "" {
		c.Service = DefaultService
	}

	if c.Controller.LocalOnly == nil {
		localOnly := true
		c.Controller.LocalOnly = &localOnly
	}

	if err := c.WatchLoop.validate(); err != nil {
		return err
	}

	if c.Launcher != nil {
		if c.Launcher.Image == "" {
			return fmt.Errorf("launcher: image is required")
		}
		for _, name := range c.Launcher.Spawn {
			if err := validateName("launcher.spawn entry", name); err != nil {
				return err
			}
		}
	}

	if c.Admission.PolicyFile != "" {
		if _, err := os.Stat(c.Admission.PolicyFile); err != nil {
			return fmt.Errorf("admission.policy_file does not exist: %s", c.Admission.PolicyFile)
		}
	}

	return nil
}

func (w *WatchLoopConfig) validate() error {
	w.period = DefaultWatchLoopPeriod
	if w.Period != "" {
		period, err := time.ParseDuration(w.Period)
		if err != nil {
			return fmt.Errorf("watch_loop.period: %w", err)
		}
		if period <= 0 {
			return fmt.Errorf("watch_loop.period must be positive, got %s", w.Period)
		}
		w.period = period
	}

	w.probeTimeout = DefaultProbeTimeout
	if w.ProbeTimeout != "" {
		timeout, err := time.ParseDuration(w.ProbeTimeout)
		if err != nil {
			return fmt.Errorf("watch_loop.probe_timeout: %w", err)
		}
		if timeout <= 0 {
			return fmt.Errorf("watch_loop.probe_timeout must be positive, got %s", w.ProbeTimeout)
		}
		w.probeTimeout = timeout
	}

	if w.probeTimeout >= w.period {
		return fmt.Errorf("watch_loop.probe_timeout (%v) must be shorter than the period (%v)", w.probeTimeout, w.period)
	}

	return nil
}

// PeriodDuration returns the parsed watch loop period. Only valid after
// Validate.
func (w *WatchLoopConfig) PeriodDuration() time.Duration {
	return w.period
}

// ProbeTimeoutDuration returns the parsed probe timeout. Only valid after
// Validate.
func (w *WatchLoopConfig) ProbeTimeoutDuration() time.Duration {
	return w.probeTimeout
}

// LocalControllersOnly reports the effective local_only setting.
func (c *ControllerConfig) LocalControllersOnly() bool {
	return c.LocalOnly == nil || *c.LocalOnly
}

func validateName(field, name string) error {
	if name == "" {
		return fmt.Errorf("%s is required", field)
	}
	if len(name) > 63 {
		return fmt.Errorf("%s too long: %d characters (max: 63)", field, len(name))
	}
	if !namePattern.MatchString(name) {
		return fmt.Errorf("invalid %s '%s': must be lowercase alphanumeric with hyphens or underscores (not at start/end)", field, name)
	}
	return nil
}

// Load reads and validates herd.yml from the specified path.
func Load(path string) (*HerdConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config HerdConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}
