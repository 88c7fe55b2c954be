package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

const defaultConfigFile = "mcphub.yaml"

// Load reads and parses configuration from a file.
// A directory path is resolved to <dir>/mcphub.yaml.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}
	if info.IsDir() {
		absPath = filepath.Join(absPath, defaultConfigFile)
		if _, err := os.Stat(absPath); err != nil {
			return nil, fmt.Errorf("directory provided but %s not found: %s", defaultConfigFile, absPath)
		}
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	cfg.SourcePath = absPath
	cfg.fingerprint = "blake3:" + hashBytes(data)

	// Relative servers_dir is resolved against the config file location.
	if !filepath.IsAbs(cfg.ServersDir) {
		cfg.ServersDir = filepath.Join(filepath.Dir(absPath), cfg.ServersDir)
	}

	return cfg, nil
}

// Parse decodes YAML configuration, applies defaults and environment overrides, and validates.
func Parse(data []byte) (*Config, error) {
	interpolated := []byte(interpolateEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(interpolated, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	order, err := serverOrder(interpolated)
	if err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	cfg.ServerOrder = order

	applyConfigDefaults(&cfg)
	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}

	for name, srv := range cfg.Servers {
		srv.Name = name
		cfg.Servers[name] = srv
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// DiscoverConfigPath finds the config file by checking standard locations.
// Priority order: $MCPHUB_CONFIG, ./mcphub.yaml, ~/.config/mcphub/mcphub.yaml
func DiscoverConfigPath() (string, error) {
	if p := os.Getenv("MCPHUB_CONFIG"); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	if _, err := os.Stat(defaultConfigFile); err == nil {
		return defaultConfigFile, nil
	}

	if homeDir, err := os.UserHomeDir(); err == nil {
		userConfig := filepath.Join(homeDir, ".config", "mcphub", defaultConfigFile)
		if _, err := os.Stat(userConfig); err == nil {
			return userConfig, nil
		}
	}

	return "", fmt.Errorf("no config found (checked: $MCPHUB_CONFIG, ./%s, ~/.config/mcphub/%s)", defaultConfigFile, defaultConfigFile)
}

// serverOrder returns the keys of the top-level servers mapping in document order.
func serverOrder(data []byte) ([]string, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, err
	}
	if len(root.Content) == 0 {
		return nil, nil
	}

	doc := root.Content[0]
	if doc.Kind != yaml.MappingNode {
		return nil, nil
	}
	for i := 0; i+1 < len(doc.Content); i += 2 {
		if doc.Content[i].Value != "servers" {
			continue
		}
		servers := doc.Content[i+1]
		if servers.Kind != yaml.MappingNode {
			return nil, nil
		}
		names := make([]string, 0, len(servers.Content)/2)
		for j := 0; j+1 < len(servers.Content); j += 2 {
			names = append(names, servers.Content[j].Value)
		}
		return names, nil
	}
	return nil, nil
}

// applyConfigDefaults merges default values into config where not explicitly set.
func applyConfigDefaults(cfg *Config) {
	defaults := Defaults()

	if cfg.Service.Name == "" {
		cfg.Service.Name = defaults.Service.Name
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = defaults.Service.LogLevel
	}
	if cfg.Service.LogFormat == "" {
		cfg.Service.LogFormat = defaults.Service.LogFormat
	}
	if cfg.Service.StateDir == "" {
		cfg.Service.StateDir = defaults.Service.StateDir
	}

	if !cfg.API.Enabled && cfg.API.Listen == "" {
		cfg.API = defaults.API
	}
	if cfg.API.Listen == "" {
		cfg.API.Listen = defaults.API.Listen
	}

	o := &cfg.Orchestrator
	if o.MaxConcurrentServers == 0 {
		o.MaxConcurrentServers = defaults.Orchestrator.MaxConcurrentServers
	}
	if o.StartTimeout == 0 {
		o.StartTimeout = defaults.Orchestrator.StartTimeout
	}
	if o.StopGracePeriod == 0 {
		o.StopGracePeriod = defaults.Orchestrator.StopGracePeriod
	}
	if o.RestartDelay == 0 {
		o.RestartDelay = defaults.Orchestrator.RestartDelay
	}
	if o.HealthTimeout == 0 {
		o.HealthTimeout = defaults.Orchestrator.HealthTimeout
	}
	if o.SetupTimeout == 0 {
		o.SetupTimeout = defaults.Orchestrator.SetupTimeout
	}

	rl := &cfg.RateLimit
	if rl.MaxRequests == 0 {
		rl.MaxRequests = defaults.RateLimit.MaxRequests
	}
	if rl.Window == 0 {
		rl.Window = defaults.RateLimit.Window
	}
	if rl.CleanupInterval == 0 {
		rl.CleanupInterval = defaults.RateLimit.CleanupInterval
	}

	if cfg.ServersDir == "" {
		cfg.ServersDir = defaults.ServersDir
	}
	if cfg.Servers == nil {
		cfg.Servers = make(map[string]ServerConfig)
	}
}

// applyEnvOverrides applies LOG_LEVEL and MAX_CONCURRENT_SERVERS from the environment.
func applyEnvOverrides(cfg *Config) error {
	if level := strings.TrimSpace(os.Getenv("LOG_LEVEL")); level != "" {
		cfg.Service.LogLevel = strings.ToLower(level)
	}
	if raw := strings.TrimSpace(os.Getenv("MAX_CONCURRENT_SERVERS")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("MAX_CONCURRENT_SERVERS must be an integer (got %q)", raw)
		}
		cfg.Orchestrator.MaxConcurrentServers = n
	}
	return nil
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Undefined variables are left as-is (not expanded).
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		// If not found, leave the placeholder (will fail validation if required)
		return match
	})
}

// validate performs basic validation on the configuration.
func validate(cfg *Config) error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[cfg.Service.LogLevel] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}
	switch cfg.Service.LogFormat {
	case "json", "text", "journal":
	default:
		return fmt.Errorf("service.log_format must be json, text or journal (got %q)", cfg.Service.LogFormat)
	}

	if cfg.Orchestrator.MaxConcurrentServers < 1 {
		return fmt.Errorf("orchestrator.max_concurrent_servers must be at least 1 (got %d)", cfg.Orchestrator.MaxConcurrentServers)
	}
	if cfg.Orchestrator.StartTimeout < 0 || cfg.Orchestrator.StopGracePeriod < 0 || cfg.Orchestrator.RestartDelay < 0 {
		return fmt.Errorf("orchestrator timeouts must not be negative")
	}

	if cfg.RateLimit.MaxRequests < 1 {
		return fmt.Errorf("rate_limit.max_requests must be at least 1")
	}
	if cfg.RateLimit.Window <= 0 {
		return fmt.Errorf("rate_limit.window must be positive")
	}

	for name, srv := range cfg.Servers {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("server name must not be empty")
		}
		if len(srv.Command) == 0 {
			return fmt.Errorf("server %q: command is required", name)
		}
		if !srv.Priority.valid() {
			return fmt.Errorf("server %q: priority must be one of: low, medium, high (got %q)", name, srv.Priority)
		}
		if srv.MaxRetries < 0 {
			return fmt.Errorf("server %q: max_retries must not be negative", name)
		}
		if srv.RequestTimeout <= 0 {
			return fmt.Errorf("server %q: request_timeout must be positive", name)
		}
		for key, value := range srv.Env {
			if matches := envVarPattern.FindStringSubmatch(value); len(matches) > 1 {
				return fmt.Errorf("server %q: environment variable ${%s} is not set (env.%s)", name, matches[1], key)
			}
		}
	}

	return nil
}

// ServerDir returns the working directory for a server: its path resolved against ServersDir,
// or ServersDir/<name> when no path is configured.
func (c *Config) ServerDir(name string) string {
	srv := c.Servers[name]
	if srv.Path == "" {
		return filepath.Join(c.ServersDir, name)
	}
	if filepath.IsAbs(srv.Path) {
		return srv.Path
	}
	return filepath.Join(c.ServersDir, srv.Path)
}

// OrderedServers returns server configs in declaration order. Servers missing from
// ServerOrder (configs built in code) follow in name order.
func (c *Config) OrderedServers() []ServerConfig {
	out := make([]ServerConfig, 0, len(c.Servers))
	seen := make(map[string]bool, len(c.Servers))
	for _, name := range c.ServerOrder {
		srv, ok := c.Servers[name]
		if !ok || seen[name] {
			continue
		}
		seen[name] = true
		srv.Name = name
		out = append(out, srv)
	}

	var rest []string
	for name := range c.Servers {
		if !seen[name] {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	for _, name := range rest {
		srv := c.Servers[name]
		srv.Name = name
		out = append(out, srv)
	}
	return out
}
