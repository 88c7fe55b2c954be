package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/mcphub/internal/config"
	"github.com/mattjoyce/mcphub/internal/events"
	"github.com/mattjoyce/mcphub/internal/log"
	"github.com/mattjoyce/mcphub/internal/metrics"
	"github.com/mattjoyce/mcphub/internal/procmgr"
	"github.com/mattjoyce/mcphub/internal/providertest"
)

func TestMain(m *testing.M) {
	providertest.MaybeRun()
	log.Setup("ERROR")
	os.Exit(m.Run())
}

type server struct {
	name      string
	mode      string
	priority  config.Priority
	autoStart bool
	setup     config.Command
}

func newConfig(t *testing.T, maxConcurrent int, servers ...server) *config.Config {
	t.Helper()
	cfg := config.Defaults()
	cfg.ServersDir = t.TempDir()
	cfg.Orchestrator.MaxConcurrentServers = maxConcurrent
	cfg.Orchestrator.StopGracePeriod = 2 * time.Second
	cfg.Orchestrator.RestartDelay = 10 * time.Millisecond
	cfg.Servers = make(map[string]config.ServerConfig)

	for _, s := range servers {
		mode := s.mode
		if mode == "" {
			mode = providertest.ModeNormal
		}
		srv := providertest.ServerConfig(s.name, mode)
		srv.AutoStart = s.autoStart
		if s.priority != "" {
			srv.Priority = s.priority
		}
		srv.Setup = s.setup
		cfg.Servers[s.name] = srv
		cfg.ServerOrder = append(cfg.ServerOrder, s.name)
		require.NoError(t, os.MkdirAll(filepath.Join(cfg.ServersDir, s.name), 0o755))
	}
	return cfg
}

func newOrchestrator(t *testing.T, cfg *config.Config, opts ...Option) *Orchestrator {
	t.Helper()
	opts = append([]Option{WithManagerOptions(procmgr.WithBackoffBase(10 * time.Millisecond))}, opts...)
	o := New(cfg, opts...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = o.Shutdown(ctx)
	})
	return o
}

func initialize(t *testing.T, o *Orchestrator) {
	t.Helper()
	require.NoError(t, o.Initialize(context.Background()))
	require.Equal(t, StateReady, o.State())
}

func statusOf(t *testing.T, o *Orchestrator, name string) procmgr.Status {
	t.Helper()
	info, err := o.ServerStatus(name)
	require.NoError(t, err)
	return info.Status
}

func TestInitializeLeavesManualServersStopped(t *testing.T) {
	cfg := newConfig(t, 10, server{name: "alpha"}, server{name: "beta"})
	o := newOrchestrator(t, cfg)
	initialize(t, o)

	st := o.Status()
	assert.Equal(t, 2, st.Total)
	assert.Empty(t, st.Running)
	for _, info := range st.Available {
		assert.Equal(t, procmgr.StatusStopped, info.Status, info.Name)
	}
	assert.Equal(t, []string{"alpha", "beta"}, []string{st.Available[0].Name, st.Available[1].Name})
}

func TestAutoStartRespectsCeiling(t *testing.T) {
	cfg := newConfig(t, 2,
		server{name: "one", autoStart: true},
		server{name: "two", autoStart: true},
		server{name: "three", autoStart: true},
	)
	o := newOrchestrator(t, cfg)
	initialize(t, o)

	st := o.Status()
	require.Len(t, st.Running, 2)
	assert.Equal(t, 2, st.RunningCount)
	assert.Equal(t, procmgr.StatusRunning, statusOf(t, o, "one"))
	assert.Equal(t, procmgr.StatusRunning, statusOf(t, o, "two"))
	assert.Equal(t, procmgr.StatusStopped, statusOf(t, o, "three"))

	_, err := o.StartServer(context.Background(), "three", procmgr.StartOptions{})
	require.ErrorIs(t, err, ErrCapacityExceeded)

	// Already running servers are returned as-is even at the ceiling.
	info, err := o.StartServer(context.Background(), "one", procmgr.StartOptions{})
	require.NoError(t, err)
	assert.Equal(t, procmgr.StatusRunning, info.Status)
}

func TestAutoStartPriorityOrder(t *testing.T) {
	cfg := newConfig(t, 2,
		server{name: "low", priority: config.PriorityLow, autoStart: true},
		server{name: "medium", priority: config.PriorityMedium, autoStart: true},
		server{name: "high", priority: config.PriorityHigh, autoStart: true},
	)
	o := newOrchestrator(t, cfg)
	initialize(t, o)

	assert.Equal(t, procmgr.StatusRunning, statusOf(t, o, "high"))
	assert.Equal(t, procmgr.StatusRunning, statusOf(t, o, "medium"))
	assert.Equal(t, procmgr.StatusStopped, statusOf(t, o, "low"))
}

func TestInitializeConfigurationErrors(t *testing.T) {
	t.Run("missing servers dir", func(t *testing.T) {
		cfg := newConfig(t, 2, server{name: "alpha"})
		cfg.ServersDir = filepath.Join(t.TempDir(), "nope")
		o := newOrchestrator(t, cfg)

		err := o.Initialize(context.Background())
		var cfgErr *ConfigurationError
		require.ErrorAs(t, err, &cfgErr)
		assert.Equal(t, StateUninitialized, o.State())
	})

	t.Run("missing server dir", func(t *testing.T) {
		cfg := newConfig(t, 2, server{name: "alpha"})
		require.NoError(t, os.RemoveAll(filepath.Join(cfg.ServersDir, "alpha")))
		o := newOrchestrator(t, cfg)

		err := o.Initialize(context.Background())
		var cfgErr *ConfigurationError
		require.ErrorAs(t, err, &cfgErr)
		assert.Equal(t, "alpha", cfgErr.Server)
		assert.Equal(t, StateUninitialized, o.State())

		_, err = o.StartServer(context.Background(), "alpha", procmgr.StartOptions{})
		require.ErrorIs(t, err, ErrNotReady)
	})

	t.Run("servers dir is a file", func(t *testing.T) {
		cfg := newConfig(t, 2)
		file := filepath.Join(t.TempDir(), "file")
		require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))
		cfg.ServersDir = file
		o := newOrchestrator(t, cfg)

		var cfgErr *ConfigurationError
		require.ErrorAs(t, o.Initialize(context.Background()), &cfgErr)
	})
}

func TestSendRequestMetrics(t *testing.T) {
	cfg := newConfig(t, 2, server{name: "echo", autoStart: true})
	collector := metrics.NewPrometheus("test")
	o := newOrchestrator(t, cfg, WithCollector(collector))
	initialize(t, o)
	ctx := context.Background()

	result, err := o.SendRequest(ctx, "echo", "ping", map[string]any{}, 0)
	require.NoError(t, err)
	assert.JSONEq(t, `"pong"`, string(result))

	first := o.Metrics()
	assert.Equal(t, int64(1), first.TotalRequests)
	assert.Greater(t, first.AverageResponseMS, 0.0)

	_, err = o.SendRequest(ctx, "echo", "echo", map[string]any{"value": 1, "delay_ms": 50}, 0)
	require.NoError(t, err)
	second := o.Metrics()
	assert.Equal(t, int64(2), second.TotalRequests)
	assert.Greater(t, second.AverageResponseMS, first.AverageResponseMS)
	assert.Less(t, second.AverageResponseMS, 50.0+first.AverageResponseMS)

	_, err = o.SendRequest(ctx, "echo", "fail", map[string]any{"message": "nope"}, 0)
	var serverErr *procmgr.ServerError
	require.ErrorAs(t, err, &serverErr)
	assert.Equal(t, "nope", serverErr.Message)

	_, err = o.SendRequest(ctx, "echo", "silent", nil, 30*time.Millisecond)
	var timeoutErr *procmgr.TimeoutError
	require.ErrorAs(t, err, &timeoutErr)

	m := o.Metrics()
	assert.Equal(t, int64(4), m.TotalRequests)
	assert.Equal(t, int64(2), m.FailedRequests)
	assert.Equal(t, int64(1), m.ServersStarted)

	_, err = o.SendRequest(ctx, "ghost", "ping", nil, 0)
	var unknown *UnknownServerError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "ghost", unknown.Name)
}

func TestSendRequestNotRunning(t *testing.T) {
	cfg := newConfig(t, 2, server{name: "idle"})
	o := newOrchestrator(t, cfg)
	initialize(t, o)

	_, err := o.SendRequest(context.Background(), "idle", "ping", nil, 0)
	require.ErrorIs(t, err, procmgr.ErrNotRunning)
	assert.Equal(t, int64(1), o.Metrics().FailedRequests)
}

func TestStartStopRestart(t *testing.T) {
	cfg := newConfig(t, 2, server{name: "svc"})
	o := newOrchestrator(t, cfg)
	initialize(t, o)
	ctx := context.Background()

	info, err := o.StartServer(ctx, "svc", procmgr.StartOptions{})
	require.NoError(t, err)
	require.Equal(t, procmgr.StatusRunning, info.Status)
	pid := info.PID

	restarted, err := o.RestartServer(ctx, "svc")
	require.NoError(t, err)
	assert.Equal(t, procmgr.StatusRunning, restarted.Status)
	assert.NotEqual(t, pid, restarted.PID)
	assert.Equal(t, int64(1), o.Metrics().Restarts)

	stopped, err := o.StopServer(ctx, "svc", false)
	require.NoError(t, err)
	assert.Equal(t, procmgr.StatusStopped, stopped.Status)

	_, err = o.StopServer(ctx, "ghost", false)
	var unknown *UnknownServerError
	require.ErrorAs(t, err, &unknown)
}

func TestServerHealth(t *testing.T) {
	cfg := newConfig(t, 2, server{name: "svc", autoStart: true}, server{name: "idle"})
	o := newOrchestrator(t, cfg)
	initialize(t, o)

	h, err := o.ServerHealth(context.Background(), "svc")
	require.NoError(t, err)
	assert.True(t, h.Healthy)

	h, err = o.ServerHealth(context.Background(), "idle")
	require.NoError(t, err)
	assert.False(t, h.Healthy)
}

func TestStopAllAndShutdown(t *testing.T) {
	cfg := newConfig(t, 3,
		server{name: "a", autoStart: true},
		server{name: "b", autoStart: true},
		server{name: "c", autoStart: true, mode: providertest.ModeStubborn},
	)
	o := newOrchestrator(t, cfg)
	initialize(t, o)
	require.Len(t, o.Status().Running, 3)

	res, err := o.StopAllServers(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Stopped)
	assert.Empty(t, res.Errors)
	assert.Empty(t, o.Status().Running)

	_, err = o.StartServer(context.Background(), "a", procmgr.StartOptions{})
	require.NoError(t, err)

	require.NoError(t, o.Shutdown(context.Background()))
	assert.Equal(t, StateUninitialized, o.State())
	assert.Equal(t, 0, o.Status().Total)

	_, err = o.SendRequest(context.Background(), "a", "ping", nil, 0)
	require.ErrorIs(t, err, ErrNotReady)

	// A shut-down orchestrator can be initialized again.
	initialize(t, o)
	assert.Len(t, o.Status().Running, 3)
}

func TestSetupCommand(t *testing.T) {
	cfg := newConfig(t, 3,
		server{name: "good", autoStart: true, setup: config.Command{"/bin/sh", "-c", "touch setup-done"}},
		server{name: "bad", autoStart: true, setup: config.Command{"/bin/sh", "-c", "echo broken >&2; exit 7"}},
	)
	o := newOrchestrator(t, cfg)
	initialize(t, o)

	assert.FileExists(t, filepath.Join(cfg.ServersDir, "good", "setup-done"))
	assert.Equal(t, procmgr.StatusRunning, statusOf(t, o, "good"))

	info, err := o.ServerStatus("bad")
	require.NoError(t, err)
	assert.Equal(t, procmgr.StatusStopped, info.Status)
	assert.Contains(t, info.LastError, "broken")

	// Explicit start is still allowed.
	info, err = o.StartServer(context.Background(), "bad", procmgr.StartOptions{})
	require.NoError(t, err)
	assert.Equal(t, procmgr.StatusRunning, info.Status)
}

func TestLifecycleEventsPublished(t *testing.T) {
	cfg := newConfig(t, 2, server{name: "svc"})
	hub := events.NewHub(64)
	o := newOrchestrator(t, cfg, WithHub(hub))
	initialize(t, o)

	_, err := o.StartServer(context.Background(), "svc", procmgr.StartOptions{})
	require.NoError(t, err)
	_, err = o.StopServer(context.Background(), "svc", false)
	require.NoError(t, err)

	var types []string
	for _, ev := range hub.Since(0) {
		if ev.Server == "svc" {
			types = append(types, ev.Type)
		}
	}
	assert.Contains(t, types, events.TypeServerStarted)
	assert.Contains(t, types, events.TypeServerStopped)
	assert.Contains(t, types, events.TypeServerState)
}

func TestCrashRestartCountsInMetrics(t *testing.T) {
	cfg := newConfig(t, 2, server{name: "crasher", mode: providertest.ModeCrash})
	o := newOrchestrator(t, cfg)
	initialize(t, o)

	_, err := o.StartServer(context.Background(), "crasher", procmgr.StartOptions{})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		info, _ := o.ServerStatus("crasher")
		return o.Metrics().Restarts == 3 && info.Status == procmgr.StatusError && info.Retries == 3
	}, 5*time.Second, 10*time.Millisecond)
}

func TestBackoffRestartRespectsCeiling(t *testing.T) {
	cfg := newConfig(t, 2,
		server{name: "a", mode: providertest.ModeExitOnCall},
		server{name: "b"},
		server{name: "c"},
	)
	o := newOrchestrator(t, cfg, WithManagerOptions(procmgr.WithBackoffBase(300*time.Millisecond)))
	initialize(t, o)

	for _, name := range []string{"a", "b"} {
		_, err := o.StartServer(context.Background(), name, procmgr.StartOptions{})
		require.NoError(t, err)
	}

	_, err := o.SendRequest(context.Background(), "a", "exit", nil, 5*time.Second)
	require.Error(t, err)
	require.Eventually(t, func() bool { return statusOf(t, o, "a") == procmgr.StatusError }, 2*time.Second, 5*time.Millisecond)

	// a's slot is free until its backoff fires, so c is admitted.
	_, err = o.StartServer(context.Background(), "c", procmgr.StartOptions{})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		info, _ := o.ServerStatus("a")
		return info.Retries >= 2
	}, 3*time.Second, 10*time.Millisecond)

	info, err := o.ServerStatus("a")
	require.NoError(t, err)
	assert.Equal(t, procmgr.StatusError, info.Status)
	assert.Contains(t, info.LastError, ErrCapacityExceeded.Error())
	assert.Equal(t, 2, o.Status().RunningCount)

	// Freeing a slot lets the next backoff attempt through.
	_, err = o.StopServer(context.Background(), "c", true)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return statusOf(t, o, "a") == procmgr.StatusRunning }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 2, o.Status().RunningCount)
}
