package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/mattjoyce/mcphub/internal/config"
	"github.com/mattjoyce/mcphub/internal/events"
	"github.com/mattjoyce/mcphub/internal/log"
	"github.com/mattjoyce/mcphub/internal/metrics"
	"github.com/mattjoyce/mcphub/internal/procmgr"
)

// State is the orchestrator lifecycle state.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateInitializing  State = "initializing"
	StateReady         State = "ready"
	StateShuttingDown  State = "shutting-down"
	StateShutdown      State = "shutdown"
)

// Status aggregates every server snapshot.
type Status struct {
	State             State          `json:"state"`
	Available         []procmgr.Info `json:"available"`
	Running           []procmgr.Info `json:"running"`
	Total             int            `json:"total"`
	RunningCount      int            `json:"running_count"`
	MaxConcurrent     int            `json:"max_concurrent"`
	Metrics           Metrics        `json:"metrics"`
	ConfigFingerprint string         `json:"config_fingerprint,omitempty"`
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithCollector exports activity to c.
func WithCollector(c metrics.Collector) Option {
	return func(o *Orchestrator) { o.collector = c }
}

// WithHub republishes lifecycle events on h.
func WithHub(h *events.Hub) Option {
	return func(o *Orchestrator) { o.hub = h }
}

// WithManagerOptions appends options passed to every process manager.
func WithManagerOptions(opts ...procmgr.Option) Option {
	return func(o *Orchestrator) { o.managerOpts = append(o.managerOpts, opts...) }
}

// WithLogger sets the orchestrator logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// Orchestrator owns the manager registry. Create with New.
type Orchestrator struct {
	cfg         *config.Config
	logger      *slog.Logger
	collector   metrics.Collector
	hub         *events.Hub
	managerOpts []procmgr.Option
	counters    counters

	stateMu sync.RWMutex
	state   State

	mu          sync.RWMutex
	managers    map[string]*procmgr.Manager
	order       []string
	setupFailed map[string]bool

	// startMu makes the capacity check and the start it admits atomic.
	startMu sync.Mutex
}

// New creates an uninitialized orchestrator for cfg.
func New(cfg *config.Config, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:         cfg,
		collector:   metrics.Nop{},
		state:       StateUninitialized,
		managers:    make(map[string]*procmgr.Manager),
		setupFailed: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = log.WithComponent("orchestrator")
	}
	if o.collector == nil {
		o.collector = metrics.Nop{}
	}
	return o
}

// State returns the lifecycle state.
func (o *Orchestrator) State() State {
	o.stateMu.RLock()
	defer o.stateMu.RUnlock()
	return o.state
}

func (o *Orchestrator) setState(to State) {
	o.stateMu.Lock()
	from := o.state
	o.state = to
	o.stateMu.Unlock()
	if from != to {
		o.logger.Info("orchestrator state changed", "from", from, "to", to)
		o.publish(events.TypeOrchestrator, "", map[string]string{"from": string(from), "to": string(to)})
	}
}

// Initialize validates directories, creates one manager per server, runs setup
// commands, and auto-starts. A failure leaves the orchestrator uninitialized.
func (o *Orchestrator) Initialize(ctx context.Context) error {
	o.stateMu.Lock()
	if o.state != StateUninitialized {
		state := o.state
		o.stateMu.Unlock()
		return fmt.Errorf("initialize while %s: %w", state, ErrNotReady)
	}
	o.state = StateInitializing
	o.stateMu.Unlock()
	o.publish(events.TypeOrchestrator, "", map[string]string{"from": string(StateUninitialized), "to": string(StateInitializing)})

	servers := o.cfg.OrderedServers()
	if err := o.checkDirectories(servers); err != nil {
		o.logger.Error("initialize failed", "error", err)
		o.setState(StateUninitialized)
		return err
	}

	managers := make(map[string]*procmgr.Manager, len(servers))
	order := make([]string, 0, len(servers))
	for _, srv := range servers {
		managers[srv.Name] = procmgr.New(srv, o.cfg.ServerDir(srv.Name), o.managerOptions(srv.Name)...)
		order = append(order, srv.Name)
	}

	o.mu.Lock()
	o.managers = managers
	o.order = order
	o.setupFailed = make(map[string]bool)
	o.mu.Unlock()

	o.runSetups(ctx, servers)

	o.setState(StateReady)
	o.logger.Info("orchestrator initialized", "servers", len(servers), "max_concurrent", o.cfg.Orchestrator.MaxConcurrentServers)

	o.AutoStart(ctx)
	return nil
}

func (o *Orchestrator) managerOptions(name string) []procmgr.Option {
	oc := o.cfg.Orchestrator
	opts := []procmgr.Option{
		procmgr.WithLogger(log.WithServer(name)),
		procmgr.WithObserver(lifecycle{o: o}),
		procmgr.WithAdmission(o.admitRestart(name)),
	}
	if oc.StartTimeout > 0 {
		opts = append(opts, procmgr.WithReadyTimeout(oc.StartTimeout))
	}
	if oc.StopGracePeriod > 0 {
		opts = append(opts, procmgr.WithGracePeriod(oc.StopGracePeriod))
	}
	if oc.HealthTimeout > 0 {
		opts = append(opts, procmgr.WithHealthTimeout(oc.HealthTimeout))
	}
	return append(opts, o.managerOpts...)
}

func (o *Orchestrator) checkDirectories(servers []config.ServerConfig) error {
	base := o.cfg.ServersDir
	fi, err := os.Stat(base)
	if err != nil {
		return &ConfigurationError{Path: base, Err: err}
	}
	if !fi.IsDir() {
		return &ConfigurationError{Path: base, Err: errors.New("not a directory")}
	}

	for _, srv := range servers {
		dir := o.cfg.ServerDir(srv.Name)
		fi, err := os.Stat(dir)
		if err != nil {
			return &ConfigurationError{Server: srv.Name, Path: dir, Err: err}
		}
		if !fi.IsDir() {
			return &ConfigurationError{Server: srv.Name, Path: dir, Err: errors.New("not a directory")}
		}
	}
	return nil
}

func (o *Orchestrator) runSetups(ctx context.Context, servers []config.ServerConfig) {
	for _, srv := range servers {
		if len(srv.Setup) == 0 {
			continue
		}
		logger := o.logger.With("server", srv.Name)
		logger.Info("running server setup", "command", []string(srv.Setup))

		err := runSetup(ctx, srv, o.cfg.ServerDir(srv.Name), o.cfg.Orchestrator.SetupTimeout)
		if err == nil {
			continue
		}
		logger.Error("server setup failed, skipping auto-start", "error", err)

		o.mu.Lock()
		o.setupFailed[srv.Name] = true
		m := o.managers[srv.Name]
		o.mu.Unlock()
		m.SetLastError(err)
	}
}

// AutoStart starts every auto-start server, high priority first and declaration
// order within a priority. Failures are logged and do not stop the sequence.
func (o *Orchestrator) AutoStart(ctx context.Context) {
	o.mu.RLock()
	var candidates []config.ServerConfig
	for _, name := range o.order {
		m := o.managers[name]
		if !m.Config().AutoStart || o.setupFailed[name] {
			continue
		}
		candidates = append(candidates, m.Config())
	}
	o.mu.RUnlock()

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Priority.Rank() < candidates[j].Priority.Rank()
	})

	for _, srv := range candidates {
		if ctx.Err() != nil {
			o.logger.Warn("auto-start interrupted", "error", ctx.Err())
			return
		}
		if _, err := o.StartServer(ctx, srv.Name, procmgr.StartOptions{}); err != nil {
			o.logger.Warn("auto-start failed", "server", srv.Name, "priority", srv.Priority, "error", err)
		}
	}
}

// StartServer starts name unless it is already active or the ceiling is reached.
func (o *Orchestrator) StartServer(ctx context.Context, name string, opts procmgr.StartOptions) (procmgr.Info, error) {
	if err := o.requireReady(); err != nil {
		return procmgr.Info{}, err
	}
	m, err := o.manager(name)
	if err != nil {
		return procmgr.Info{}, err
	}

	o.startMu.Lock()
	defer o.startMu.Unlock()

	info := m.Info()
	if info.Status == procmgr.StatusRunning || info.Status == procmgr.StatusStarting {
		return info, nil
	}

	if limit := o.cfg.Orchestrator.MaxConcurrentServers; o.activeCount() >= limit {
		o.logger.Warn("start rejected, capacity reached", "server", name, "max_concurrent", limit)
		return info, fmt.Errorf("start %q (limit %d): %w", name, limit, ErrCapacityExceeded)
	}

	return m.Start(ctx, opts)
}

// admitRestart holds backoff restarts of name to the same ceiling as StartServer.
// The server being restarted is in error and so does not count against it.
func (o *Orchestrator) admitRestart(name string) func(start func() error) error {
	return func(start func() error) error {
		if err := o.requireReady(); err != nil {
			return err
		}
		o.startMu.Lock()
		defer o.startMu.Unlock()

		if limit := o.cfg.Orchestrator.MaxConcurrentServers; o.activeCount() >= limit {
			o.logger.Warn("restart deferred, capacity reached", "server", name, "max_concurrent", limit)
			return fmt.Errorf("restart %q (limit %d): %w", name, limit, ErrCapacityExceeded)
		}
		return start()
	}
}

// StopServer stops name.
func (o *Orchestrator) StopServer(ctx context.Context, name string, force bool) (procmgr.Info, error) {
	if err := o.requireReady(); err != nil {
		return procmgr.Info{}, err
	}
	m, err := o.manager(name)
	if err != nil {
		return procmgr.Info{}, err
	}
	if err := m.Stop(ctx, force); err != nil {
		return m.Info(), err
	}
	return m.Info(), nil
}

// RestartServer force-stops name, waits the settle delay, and starts it again.
// The start is subject to the capacity ceiling.
func (o *Orchestrator) RestartServer(ctx context.Context, name string) (procmgr.Info, error) {
	if err := o.requireReady(); err != nil {
		return procmgr.Info{}, err
	}
	m, err := o.manager(name)
	if err != nil {
		return procmgr.Info{}, err
	}

	if err := m.Stop(ctx, true); err != nil {
		return m.Info(), err
	}

	if delay := o.cfg.Orchestrator.RestartDelay; delay > 0 {
		t := time.NewTimer(delay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return m.Info(), ctx.Err()
		}
	}

	o.counters.restarted()
	o.logger.Info("restarting server", "server", name)
	return o.StartServer(ctx, name, procmgr.StartOptions{})
}

// SendRequest dispatches method to name and records request metrics. Errors from
// the manager are returned untouched. A zero timeout uses the server's request_timeout.
func (o *Orchestrator) SendRequest(ctx context.Context, name, method string, params map[string]any, timeout time.Duration) (json.RawMessage, error) {
	if err := o.requireReady(); err != nil {
		return nil, err
	}
	m, err := o.manager(name)
	if err != nil {
		return nil, err
	}

	o.counters.requestSent()
	start := time.Now()
	result, err := m.SendRequest(ctx, method, params, timeout)
	elapsed := time.Since(start)

	if err != nil {
		o.counters.requestFailed()
		o.collector.RequestCompleted(name, outcomeOf(err), elapsed)
		return nil, err
	}
	o.counters.responseTime(float64(elapsed.Microseconds()) / 1000)
	o.collector.RequestCompleted(name, metrics.OutcomeSuccess, elapsed)
	return result, nil
}

func outcomeOf(err error) string {
	var timeoutErr *procmgr.TimeoutError
	if errors.As(err, &timeoutErr) || errors.Is(err, context.DeadlineExceeded) {
		return metrics.OutcomeTimeout
	}
	return metrics.OutcomeError
}

// Status aggregates all managers. It is available in every state.
func (o *Orchestrator) Status() Status {
	st := Status{
		State:             o.State(),
		Available:         []procmgr.Info{},
		Running:           []procmgr.Info{},
		MaxConcurrent:     o.cfg.Orchestrator.MaxConcurrentServers,
		Metrics:           o.counters.snapshot(),
		ConfigFingerprint: o.cfg.Fingerprint(),
	}

	for _, m := range o.orderedManagers() {
		info := m.Info()
		st.Available = append(st.Available, info)
		if info.Status == procmgr.StatusRunning {
			st.Running = append(st.Running, info)
		}
	}
	st.Total = len(st.Available)
	st.RunningCount = len(st.Running)
	return st
}

// ServerStatus returns one server's snapshot.
func (o *Orchestrator) ServerStatus(name string) (procmgr.Info, error) {
	if err := o.requireReady(); err != nil {
		return procmgr.Info{}, err
	}
	m, err := o.manager(name)
	if err != nil {
		return procmgr.Info{}, err
	}
	return m.Info(), nil
}

// ServerHealth probes one server.
func (o *Orchestrator) ServerHealth(ctx context.Context, name string) (procmgr.Health, error) {
	if err := o.requireReady(); err != nil {
		return procmgr.Health{}, err
	}
	m, err := o.manager(name)
	if err != nil {
		return procmgr.Health{}, err
	}
	return m.Health(ctx), nil
}

// Metrics returns the request counters.
func (o *Orchestrator) Metrics() Metrics {
	return o.counters.snapshot()
}

// StopAllResult reports a best-effort stop of every server.
type StopAllResult struct {
	// Stopped counts servers that were active and stopped cleanly.
	Stopped int `json:"stopped"`
	// Errors lists per-server stop failures. They are logged and never fail the call.
	Errors []string `json:"errors,omitempty"`
}

// StopAllServers stops every manager concurrently. The only error it returns is
// ErrNotReady; individual stop failures are logged and reported in the result.
func (o *Orchestrator) StopAllServers(ctx context.Context, force bool) (StopAllResult, error) {
	if err := o.requireReady(); err != nil {
		return StopAllResult{}, err
	}
	stopped, errs := o.stopAll(ctx, force)
	res := StopAllResult{Stopped: stopped}
	for _, err := range errs {
		res.Errors = append(res.Errors, err.Error())
	}
	return res, nil
}

func (o *Orchestrator) stopAll(ctx context.Context, force bool) (int, []error) {
	managers := o.orderedManagers()
	errs := make([]error, len(managers))
	stopped := make([]bool, len(managers))

	var wg sync.WaitGroup
	for i, m := range managers {
		wg.Add(1)
		go func(i int, m *procmgr.Manager) {
			defer wg.Done()
			st := m.Status()
			active := st == procmgr.StatusRunning || st == procmgr.StatusStarting
			if err := m.Stop(ctx, force); err != nil {
				o.logger.Error("failed to stop server", "server", m.Name(), "error", err)
				errs[i] = fmt.Errorf("stop %q: %w", m.Name(), err)
				return
			}
			stopped[i] = active
		}(i, m)
	}
	wg.Wait()

	n := 0
	var failed []error
	for i := range managers {
		if stopped[i] {
			n++
		}
		if errs[i] != nil {
			failed = append(failed, errs[i])
		}
	}
	return n, failed
}

// Shutdown force-stops every server and returns the orchestrator to uninitialized.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.stateMu.Lock()
	if o.state != StateReady {
		state := o.state
		o.stateMu.Unlock()
		if state == StateUninitialized {
			return nil
		}
		return fmt.Errorf("shutdown while %s: %w", state, ErrNotReady)
	}
	o.state = StateShuttingDown
	o.stateMu.Unlock()
	o.publish(events.TypeOrchestrator, "", map[string]string{"from": string(StateReady), "to": string(StateShuttingDown)})

	_, errs := o.stopAll(ctx, true)
	err := errors.Join(errs...)

	o.setState(StateShutdown)
	o.mu.Lock()
	o.managers = make(map[string]*procmgr.Manager)
	o.order = nil
	o.setupFailed = make(map[string]bool)
	o.mu.Unlock()
	o.setState(StateUninitialized)

	if err != nil {
		o.logger.Warn("shutdown completed with errors", "error", err)
	}
	return err
}

func (o *Orchestrator) requireReady() error {
	if state := o.State(); state != StateReady {
		return fmt.Errorf("orchestrator is %s: %w", state, ErrNotReady)
	}
	return nil
}

func (o *Orchestrator) manager(name string) (*procmgr.Manager, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	m, ok := o.managers[name]
	if !ok {
		return nil, &UnknownServerError{Name: name}
	}
	return m, nil
}

func (o *Orchestrator) orderedManagers() []*procmgr.Manager {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]*procmgr.Manager, 0, len(o.order))
	for _, name := range o.order {
		out = append(out, o.managers[name])
	}
	return out
}

// activeCount scans manager statuses. A starting manager holds a slot.
func (o *Orchestrator) activeCount() int {
	return o.countStatus(procmgr.StatusRunning, procmgr.StatusStarting)
}

func (o *Orchestrator) countStatus(statuses ...procmgr.Status) int {
	n := 0
	for _, m := range o.orderedManagers() {
		st := m.Status()
		for _, want := range statuses {
			if st == want {
				n++
				break
			}
		}
	}
	return n
}

func (o *Orchestrator) publish(eventType, server string, data any) {
	if o.hub != nil {
		o.hub.Publish(eventType, server, data)
	}
}
