package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		env     map[string]string
		wantErr bool
		checkFn func(t *testing.T, cfg *Config)
	}{
		{
			name: "minimal valid config",
			yaml: `
servers_dir: ./servers
servers:
  filesystem:
    runtime: node
    command: [node, dist/index.js]
`,
			checkFn: func(t *testing.T, cfg *Config) {
				fs, ok := cfg.Servers["filesystem"]
				require.True(t, ok, "filesystem server not found")
				assert.Equal(t, "filesystem", fs.Name)
				assert.Equal(t, Command{"node", "dist/index.js"}, fs.Command)
				// Defaults applied
				assert.Equal(t, PriorityMedium, fs.Priority)
				assert.Equal(t, 3, fs.MaxRetries)
				assert.Equal(t, "ping", fs.HealthCheck)
				assert.Equal(t, 30*time.Second, fs.RequestTimeout)
				assert.False(t, fs.AutoStart)
				assert.Equal(t, 10, cfg.Orchestrator.MaxConcurrentServers)
				assert.Equal(t, 60, cfg.RateLimit.MaxRequests)
				assert.Equal(t, "info", cfg.Service.LogLevel)
			},
		},
		{
			name: "scalar command and explicit zero retries",
			yaml: `
servers:
  git:
    command: "python -m git_server --stdio"
    priority: high
    auto_start: true
    max_retries: 0
`,
			checkFn: func(t *testing.T, cfg *Config) {
				git := cfg.Servers["git"]
				assert.Equal(t, Command{"python", "-m", "git_server", "--stdio"}, git.Command)
				assert.Equal(t, PriorityHigh, git.Priority)
				assert.True(t, git.AutoStart)
				assert.Equal(t, 0, git.MaxRetries)
			},
		},
		{
			name: "env interpolation",
			yaml: `
servers:
  search:
    command: [search-server]
    env:
      API_TOKEN: ${TEST_MCPHUB_TOKEN}
`,
			env: map[string]string{"TEST_MCPHUB_TOKEN": "secret-123"},
			checkFn: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "secret-123", cfg.Servers["search"].Env["API_TOKEN"])
			},
		},
		{
			name: "unresolved env var rejected",
			yaml: `
servers:
  search:
    command: [search-server]
    env:
      API_TOKEN: ${TEST_MCPHUB_UNSET_VAR}
`,
			wantErr: true,
		},
		{
			name: "env overrides",
			yaml: `
service:
  log_level: info
orchestrator:
  max_concurrent_servers: 4
`,
			env: map[string]string{"LOG_LEVEL": "DEBUG", "MAX_CONCURRENT_SERVERS": "2"},
			checkFn: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "debug", cfg.Service.LogLevel)
				assert.Equal(t, 2, cfg.Orchestrator.MaxConcurrentServers)
			},
		},
		{
			name:    "invalid max concurrent override",
			yaml:    "servers: {}\n",
			env:     map[string]string{"MAX_CONCURRENT_SERVERS": "lots"},
			wantErr: true,
		},
		{
			name: "missing command",
			yaml: `
servers:
  broken:
    runtime: node
`,
			wantErr: true,
		},
		{
			name: "invalid priority",
			yaml: `
servers:
  broken:
    command: [x]
    priority: urgent
`,
			wantErr: true,
		},
		{
			name: "negative retries",
			yaml: `
servers:
  broken:
    command: [x]
    max_retries: -1
`,
			wantErr: true,
		},
		{
			name: "invalid log level",
			yaml: `
service:
  log_level: verbose
`,
			wantErr: true,
		},
		{
			name:    "invalid yaml",
			yaml:    "servers: [unclosed\n",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			tmpDir := t.TempDir()
			path := filepath.Join(tmpDir, "mcphub.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.yaml), 0o600))

			cfg, err := Load(path)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			if tt.checkFn != nil {
				tt.checkFn(t, cfg)
			}
		})
	}
}

func TestLoadDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "mcphub.yaml"), []byte("servers_dir: srv\n"), 0o600))

	cfg, err := Load(tmpDir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(tmpDir, "srv"), cfg.ServersDir)
	assert.Equal(t, filepath.Join(tmpDir, "mcphub.yaml"), cfg.SourcePath)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestOrderedServersPreservesDeclarationOrder(t *testing.T) {
	cfg, err := Parse([]byte(`
servers:
  zeta:
    command: [z]
  alpha:
    command: [a]
  mid:
    command: [m]
`))
	require.NoError(t, err)
	assert.Equal(t, []string{"zeta", "alpha", "mid"}, cfg.ServerOrder)

	var names []string
	for _, s := range cfg.OrderedServers() {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{"zeta", "alpha", "mid"}, names)
}

func TestOrderedServersInMemory(t *testing.T) {
	cfg := Defaults()
	cfg.Servers["b"] = ServerConfig{Command: Command{"b"}}
	cfg.Servers["a"] = ServerConfig{Command: Command{"a"}}
	cfg.ServerOrder = []string{"b"}

	ordered := cfg.OrderedServers()
	require.Len(t, ordered, 2)
	assert.Equal(t, "b", ordered[0].Name)
	assert.Equal(t, "a", ordered[1].Name)
}

func TestServerDir(t *testing.T) {
	cfg := Defaults()
	cfg.ServersDir = "/srv/mcp"
	cfg.Servers["plain"] = ServerConfig{}
	cfg.Servers["rel"] = ServerConfig{Path: "nested/rel"}
	cfg.Servers["abs"] = ServerConfig{Path: "/opt/abs"}

	assert.Equal(t, "/srv/mcp/plain", cfg.ServerDir("plain"))
	assert.Equal(t, "/srv/mcp/nested/rel", cfg.ServerDir("rel"))
	assert.Equal(t, "/opt/abs", cfg.ServerDir("abs"))
}

func TestPriorityRank(t *testing.T) {
	assert.Less(t, PriorityHigh.Rank(), PriorityMedium.Rank())
	assert.Less(t, PriorityMedium.Rank(), PriorityLow.Rank())
	assert.Less(t, PriorityLow.Rank(), Priority("other").Rank())
}

func TestDiscoverConfigPathFromEnv(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte("servers: {}\n"), 0o600))
	t.Setenv("MCPHUB_CONFIG", path)

	got, err := DiscoverConfigPath()
	require.NoError(t, err)
	assert.Equal(t, path, got)
}
