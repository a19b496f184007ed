package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is where Load looks when no path is given.
const DefaultPath = "huddle.yml"

// TransportConfig selects and configures how updates reach the peers.
type TransportConfig struct {
	Kind      string `yaml:"kind"`                 // "redis" or "relay"
	RedisAddr string `yaml:"redis_addr,omitempty"` // host:port, kind=redis
	RelayURL  string `yaml:"relay_url,omitempty"`  // ws://host:port/ws, kind=relay
}

// PresenceConfig tunes the heartbeat and eviction timing.
type PresenceConfig struct {
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval,omitempty"`
	Timeout           time.Duration `yaml:"timeout,omitempty"`
}

// UnmarshalYAML parses the durations from their string form ("5s", "250ms").
func (p *PresenceConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		HeartbeatInterval string `yaml:"heartbeat_interval"`
		Timeout           string `yaml:"timeout"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	if raw.HeartbeatInterval != "" {
		d, err := time.ParseDuration(raw.HeartbeatInterval)
		if err != nil {
			return fmt.Errorf("invalid presence.heartbeat_interval: %w", err)
		}
		p.HeartbeatInterval = d
	}
	if raw.Timeout != "" {
		d, err := time.ParseDuration(raw.Timeout)
		if err != nil {
			return fmt.Errorf("invalid presence.timeout: %w", err)
		}
		p.Timeout = d
	}
	return nil
}

// LedgerConfig bounds the activity feed.
type LedgerConfig struct {
	Capacity int `yaml:"capacity,omitempty"`
}

// CursorConfig throttles cursor publication.
type CursorConfig struct {
	Interval time.Duration `yaml:"interval,omitempty"`
	Policy   string        `yaml:"policy,omitempty"` // "drop" or "coalesce"
}

// UnmarshalYAML parses the interval from its string form.
func (c *CursorConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		Interval string `yaml:"interval"`
		Policy   string `yaml:"policy"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	if raw.Interval != "" {
		d, err := time.ParseDuration(raw.Interval)
		if err != nil {
			return fmt.Errorf("invalid cursor.interval: %w", err)
		}
		c.Interval = d
	}
	c.Policy = raw.Policy
	return nil
}

// HuddleConfig represents the top-level huddle.yml configuration.
type HuddleConfig struct {
	Version   string          `yaml:"version"`
	Session   string          `yaml:"session"`
	Nickname  string          `yaml:"nickname,omitempty"`
	Transport TransportConfig `yaml:"transport"`
	Presence  PresenceConfig  `yaml:"presence,omitempty"`
	Ledger    LedgerConfig    `yaml:"ledger,omitempty"`
	Cursor    CursorConfig    `yaml:"cursor,omitempty"`
}

// Defaults applied by Validate when a field is unset.
const (
	DefaultRedisAddr         = "localhost:6379"
	DefaultRelayURL          = "ws://localhost:8080/ws"
	DefaultHeartbeatInterval = 5 * time.Second
	DefaultPresenceTimeout   = 30 * time.Second
	DefaultLedgerCapacity    = 10
	DefaultCursorInterval    = 50 * time.Millisecond
	DefaultCursorPolicy      = "coalesce"
)

// Validate performs strict validation on the configuration and fills in
// defaults for optional fields.
func (c *HuddleConfig) Validate() error {
	if c.Version != "1.0" {
		return fmt.Errorf("unsupported version: %s (expected: 1.0)", c.Version)
	}

	if c.Session == "" {
		return fmt.Errorf("session is required")
	}

	switch c.Transport.Kind {
	case "redis":
		if c.Transport.RedisAddr == "" {
			c.Transport.RedisAddr = DefaultRedisAddr
		}
	case "relay":
		if c.Transport.RelayURL == "" {
			c.Transport.RelayURL = DefaultRelayURL
		}
	case "":
		return fmt.Errorf("transport.kind is required (must be 'redis' or 'relay')")
	default:
		return fmt.Errorf("invalid transport.kind: %s (must be 'redis' or 'relay')", c.Transport.Kind)
	}

	if c.Presence.HeartbeatInterval == 0 {
		c.Presence.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.Presence.Timeout == 0 {
		c.Presence.Timeout = DefaultPresenceTimeout
	}
	if c.Presence.HeartbeatInterval < 0 || c.Presence.Timeout < 0 {
		return fmt.Errorf("presence intervals must be positive")
	}
	if c.Presence.Timeout <= c.Presence.HeartbeatInterval {
		return fmt.Errorf("presence.timeout (%v) must be greater than presence.heartbeat_interval (%v)",
			c.Presence.Timeout, c.Presence.HeartbeatInterval)
	}

	if c.Ledger.Capacity == 0 {
		c.Ledger.Capacity = DefaultLedgerCapacity
	}
	if c.Ledger.Capacity < 1 {
		return fmt.Errorf("ledger.capacity must be >= 1, got %d", c.Ledger.Capacity)
	}

	if c.Cursor.Interval == 0 {
		c.Cursor.Interval = DefaultCursorInterval
	}
	if c.Cursor.Interval < 0 {
		return fmt.Errorf("cursor.interval must be positive, got %v", c.Cursor.Interval)
	}
	if c.Cursor.Policy == "" {
		c.Cursor.Policy = DefaultCursorPolicy
	}
	if c.Cursor.Policy != "drop" && c.Cursor.Policy != "coalesce" {
		return fmt.Errorf("invalid cursor.policy: %s (must be 'drop' or 'coalesce')", c.Cursor.Policy)
	}

	return nil
}

// Load reads and validates huddle.yml from the specified path.
func Load(path string) (*HuddleConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config HuddleConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Default returns a validated configuration with every field at its default,
// for running without a huddle.yml.
func Default(session, nickname string) *HuddleConfig {
	c := &HuddleConfig{
		Version:   "1.0",
		Session:   session,
		Nickname:  nickname,
		Transport: TransportConfig{Kind: "redis"},
	}
	// Validate only fills defaults here; the inputs are fixed.
	_ = c.Validate()
	return c
}
