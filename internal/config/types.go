package config

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete mcphub configuration.
type Config struct {
	Service      ServiceConfig           `yaml:"service"`
	API          APIConfig               `yaml:"api,omitempty"`
	Orchestrator OrchestratorConfig      `yaml:"orchestrator"`
	RateLimit    RateLimitConfig         `yaml:"rate_limit"`
	ServersDir   string                  `yaml:"servers_dir"`
	Servers      map[string]ServerConfig `yaml:"servers"`

	// ServerOrder lists server names in declaration order.
	ServerOrder []string `yaml:"-"`
	// SourcePath is the absolute path of the loaded file (empty for in-memory configs).
	SourcePath string `yaml:"-"`

	fingerprint string
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name      string `yaml:"name"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
	StateDir  string `yaml:"state_dir"`
}

// APIConfig defines HTTP API server settings.
type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
	// TrustProxy keys rate limiting on X-Client-ID and forwarding headers.
	TrustProxy bool `yaml:"trust_proxy"`
}

// OrchestratorConfig defines process supervision settings shared by all servers.
type OrchestratorConfig struct {
	MaxConcurrentServers int           `yaml:"max_concurrent_servers"`
	StartTimeout         time.Duration `yaml:"start_timeout"`
	StopGracePeriod      time.Duration `yaml:"stop_grace_period"`
	RestartDelay         time.Duration `yaml:"restart_delay"`
	HealthTimeout        time.Duration `yaml:"health_timeout"`
	SetupTimeout         time.Duration `yaml:"setup_timeout"`
}

// RateLimitConfig defines the admission sliding window.
type RateLimitConfig struct {
	MaxRequests     int           `yaml:"max_requests"`
	Window          time.Duration `yaml:"window"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// Priority orders auto-start. Higher priority servers start first.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Rank returns a sort key where smaller starts earlier.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityMedium:
		return 1
	case PriorityLow:
		return 2
	default:
		return 3
	}
}

func (p Priority) valid() bool {
	return p == PriorityLow || p == PriorityMedium || p == PriorityHigh
}

// Command is an argv list.
//
// Accepted formats:
//   - sequence: command: [node, dist/index.js]
//   - scalar:   command: "node dist/index.js" (split on whitespace)
type Command []string

func (c *Command) UnmarshalYAML(n *yaml.Node) error {
	switch n.Kind {
	case yaml.ScalarNode:
		*c = strings.Fields(n.Value)
		return nil
	case yaml.SequenceNode:
		var argv []string
		if err := n.Decode(&argv); err != nil {
			return fmt.Errorf("invalid command: %w", err)
		}
		*c = argv
		return nil
	default:
		return fmt.Errorf("command must be a string or a sequence")
	}
}

// ServerConfig defines a single capability-provider server.
type ServerConfig struct {
	Name           string            `yaml:"-"`
	Path           string            `yaml:"path"`
	Runtime        string            `yaml:"runtime"`
	Description    string            `yaml:"description,omitempty"`
	Command        Command           `yaml:"command"`
	Setup          Command           `yaml:"setup,omitempty"`
	Env            map[string]string `yaml:"env,omitempty"`
	HealthCheck    string            `yaml:"health_check"`
	Priority       Priority          `yaml:"priority"`
	AutoStart      bool              `yaml:"auto_start"`
	MaxRetries     int               `yaml:"max_retries"`
	RequestTimeout time.Duration     `yaml:"request_timeout"`
}

// UnmarshalYAML decodes over DefaultServerConfig so omitted fields keep their defaults
// (an explicit max_retries: 0 stays 0).
func (s *ServerConfig) UnmarshalYAML(n *yaml.Node) error {
	type raw ServerConfig
	r := raw(DefaultServerConfig())
	if err := n.Decode(&r); err != nil {
		return err
	}
	*s = ServerConfig(r)
	return nil
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:      "mcphub",
			LogLevel:  "info",
			LogFormat: "json",
			StateDir:  "./data",
		},
		API: APIConfig{
			Enabled: false,
			Listen:  "127.0.0.1:8089",
		},
		Orchestrator: OrchestratorConfig{
			MaxConcurrentServers: 10,
			StartTimeout:         5 * time.Second,
			StopGracePeriod:      5 * time.Second,
			RestartDelay:         1 * time.Second,
			HealthTimeout:        5 * time.Second,
			SetupTimeout:         2 * time.Minute,
		},
		RateLimit: RateLimitConfig{
			MaxRequests:     60,
			Window:          60 * time.Second,
			CleanupInterval: 60 * time.Second,
		},
		ServersDir: "./servers",
		Servers:    make(map[string]ServerConfig),
	}
}

// DefaultServerConfig returns default server configuration.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HealthCheck:    "ping",
		Priority:       PriorityMedium,
		MaxRetries:     3,
		RequestTimeout: 30 * time.Second,
	}
}
