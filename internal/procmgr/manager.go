package procmgr

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/mattjoyce/mcphub/internal/config"
	"github.com/mattjoyce/mcphub/internal/log"
	"github.com/mattjoyce/mcphub/internal/protocol"
)

const (
	defaultReadyTimeout  = 5 * time.Second
	defaultGracePeriod   = 5 * time.Second
	defaultHealthTimeout = 5 * time.Second
	defaultBackoffBase   = time.Second
	defaultStableAfter   = 60 * time.Second
	defaultMaxLineSize   = 1 << 20

	// killTimeout bounds the wait for exit after SIGKILL.
	killTimeout = 5 * time.Second

	// maxLoggedLine caps diagnostic output copied into logs.
	maxLoggedLine = 2048
)

// Manager owns one server subprocess: its lifecycle, its stdin, and its pending-request table.
type Manager struct {
	name string
	cfg  config.ServerConfig
	dir  string

	logger        *slog.Logger
	observer      Observer
	readyTimeout  time.Duration
	gracePeriod   time.Duration
	healthTimeout time.Duration
	backoffBase   time.Duration
	stableAfter   time.Duration
	maxLineSize   int
	admit         func(start func() error) error

	// opMu serializes Start, Stop and backoff restarts.
	opMu sync.Mutex

	// writeMu serializes writes to stdin so request lines never interleave.
	writeMu sync.Mutex

	mu            sync.Mutex
	status        Status
	cmd           *exec.Cmd
	stdin         io.WriteCloser
	exited        chan struct{}
	gen           uint64
	stopRequested bool
	startedAt     time.Time
	retries       int
	lastErr       error
	restartTimer  *time.Timer
	restartSeq    uint64
	stableTimer   *time.Timer
	pending       map[int64]*pendingRequest
	nextID        int64
}

// pendingRequest is an outstanding call. done is buffered so the single delivering
// party (response reader, timeout, stop, or crash) never blocks.
type pendingRequest struct {
	id     int64
	method string
	sentAt time.Time
	done   chan outcome
}

type outcome struct {
	result json.RawMessage
	err    error
}

func (p *pendingRequest) deliver(o outcome) {
	p.done <- o
}

// New creates a Manager for cfg, running in dir. The manager starts in StatusStopped.
func New(cfg config.ServerConfig, dir string, opts ...Option) *Manager {
	m := &Manager{
		name:          cfg.Name,
		cfg:           cfg,
		dir:           dir,
		observer:      NopObserver{},
		readyTimeout:  defaultReadyTimeout,
		gracePeriod:   defaultGracePeriod,
		healthTimeout: defaultHealthTimeout,
		backoffBase:   defaultBackoffBase,
		stableAfter:   defaultStableAfter,
		maxLineSize:   defaultMaxLineSize,
		status:        StatusStopped,
		pending:       make(map[int64]*pendingRequest),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = log.WithServer(cfg.Name)
	}
	if m.observer == nil {
		m.observer = NopObserver{}
	}
	if m.admit == nil {
		m.admit = func(start func() error) error { return start() }
	}
	return m
}

// Name returns the server name.
func (m *Manager) Name() string { return m.name }

// Config returns the server configuration.
func (m *Manager) Config() config.ServerConfig { return m.cfg }

// Status returns the current status.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Start spawns the server process. Starting an already starting or running manager
// is a no-op that returns the current snapshot.
func (m *Manager) Start(ctx context.Context, opts StartOptions) (Info, error) {
	m.mu.Lock()
	if m.status == StatusStarting || m.status == StatusRunning {
		info := m.infoLocked()
		m.mu.Unlock()
		m.logger.Warn("start requested but server is already active", "status", info.Status, "pid", info.PID)
		return info, nil
	}
	m.mu.Unlock()

	m.opMu.Lock()
	defer m.opMu.Unlock()

	if err := m.start(ctx, opts, false); err != nil {
		// A failed spawn gets the same backoff as a crash, unless the caller gave up.
		if ctx.Err() == nil {
			m.scheduleRestart()
		}
		return m.Info(), err
	}
	return m.Info(), nil
}

// start runs a spawn under opMu. auto is true for backoff restarts, which keep the
// retry count until the process proves stable.
func (m *Manager) start(ctx context.Context, opts StartOptions, auto bool) error {
	var n notes
	m.mu.Lock()
	if m.status == StatusStarting || m.status == StatusRunning {
		m.mu.Unlock()
		return nil
	}
	if !auto {
		m.cancelRestartLocked()
		m.retries = 0
	}
	n.add(m.setStatusLocked(StatusStarting))
	m.mu.Unlock()
	n.flush()

	cmd, stdin, stdout, stderr, err := m.buildCommand(opts)
	if err != nil {
		return m.failStart(&ProcessError{Server: m.name, Op: "spawn", Err: err})
	}

	readyTimeout := opts.ReadyTimeout
	if readyTimeout <= 0 {
		readyTimeout = m.readyTimeout
	}

	m.logger.Debug("spawning server", "command", []string(m.cfg.Command), "dir", m.dir)

	spawned := make(chan error, 1)
	go func() {
		spawned <- cmd.Start()
	}()

	timer := time.NewTimer(readyTimeout)
	defer timer.Stop()

	select {
	case err := <-spawned:
		if err != nil {
			return m.failStart(&ProcessError{Server: m.name, Op: "spawn", Err: err})
		}
	case <-timer.C:
		go reapLateSpawn(spawned, cmd)
		return m.failStart(&ProcessError{Server: m.name, Op: "ready", Err: fmt.Errorf("no process after %v", readyTimeout)})
	case <-ctx.Done():
		go reapLateSpawn(spawned, cmd)
		return m.failStart(&ProcessError{Server: m.name, Op: "ready", Err: ctx.Err()})
	}

	if cmd.Process == nil || cmd.Process.Pid <= 0 {
		return m.failStart(&ProcessError{Server: m.name, Op: "ready", Err: errors.New("invalid process id")})
	}
	pid := cmd.Process.Pid

	m.mu.Lock()
	m.gen++
	gen := m.gen
	m.cmd = cmd
	m.stdin = stdin
	m.exited = make(chan struct{})
	m.stopRequested = false
	m.startedAt = time.Now()
	m.lastErr = nil
	if auto {
		m.armStableTimerLocked(gen)
	}
	n.add(m.setStatusLocked(StatusRunning))
	exited := m.exited
	m.mu.Unlock()

	go m.readStdout(stdout)
	go m.readStderr(stderr)
	go m.wait(gen, cmd, exited)

	m.logger.Info("server started", "pid", pid, "auto_restart", auto)
	n.add(func() { m.observer.Started(m.name, pid) })
	n.flush()
	return nil
}

func (m *Manager) buildCommand(opts StartOptions) (*exec.Cmd, io.WriteCloser, io.ReadCloser, io.ReadCloser, error) {
	if len(m.cfg.Command) == 0 {
		return nil, nil, nil, nil, errors.New("empty command")
	}

	cmd := exec.Command(m.cfg.Command[0], m.cfg.Command[1:]...)
	cmd.Dir = m.dir
	cmd.Env = mergeEnv(os.Environ(), m.cfg.Env, opts.Env)
	// Own process group so termination reaches children of wrapper shells.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("create stderr pipe: %w", err)
	}
	return cmd, stdin, stdout, stderr, nil
}

// reapLateSpawn kills a process whose spawn completed after Start gave up on it.
func reapLateSpawn(spawned <-chan error, cmd *exec.Cmd) {
	if err := <-spawned; err == nil && cmd.Process != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
	}
}

func (m *Manager) failStart(err *ProcessError) error {
	var n notes
	m.mu.Lock()
	m.lastErr = err
	n.add(m.setStatusLocked(StatusError))
	m.mu.Unlock()
	n.flush()

	m.logger.Error("server failed to start", "error", err)
	m.observer.Failed(m.name, err)
	return err
}

// wait reaps the process and handles exits that Stop did not ask for.
func (m *Manager) wait(gen uint64, cmd *exec.Cmd, exited chan struct{}) {
	waitErr := cmd.Wait()

	var n notes
	m.mu.Lock()
	close(exited)
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	requested := m.stopRequested
	m.cmd = nil
	m.stdin = nil
	m.stopStableTimerLocked()
	if requested {
		m.mu.Unlock()
		return
	}

	exitErr := &ProcessError{Server: m.name, Op: "exit", Err: describeExit(waitErr)}
	m.lastErr = exitErr
	pending := m.takeAllPendingLocked()
	n.add(m.setStatusLocked(StatusError))
	m.mu.Unlock()
	n.flush()

	m.logger.Warn("server exited unexpectedly", "error", exitErr, "pending_rejected", len(pending))
	for _, pr := range pending {
		pr.deliver(outcome{err: exitErr})
	}
	m.observer.Failed(m.name, exitErr)
	m.scheduleRestart()
}

func describeExit(err error) error {
	if err == nil {
		return errors.New("process exited with code 0")
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if exitErr.ExitCode() >= 0 {
			return fmt.Errorf("process exited with code %d", exitErr.ExitCode())
		}
		return fmt.Errorf("process terminated: %s", exitErr.String())
	}
	return err
}

// scheduleRestart arms a backoff restart if the retry budget allows it. The retry
// count is bumped before the timer is armed so a second failure report cannot
// schedule a second restart for the same attempt.
func (m *Manager) scheduleRestart() {
	m.mu.Lock()
	if m.restartTimer != nil || m.status != StatusError {
		m.mu.Unlock()
		return
	}
	if m.retries >= m.cfg.MaxRetries {
		retries := m.retries
		m.mu.Unlock()
		m.logger.Error("restart limit reached, giving up", "retries", retries, "max_retries", m.cfg.MaxRetries)
		return
	}
	m.retries++
	attempt := m.retries
	delay := m.backoffBase * time.Duration(1<<uint(attempt))

	m.restartSeq++
	seq := m.restartSeq
	m.restartTimer = time.AfterFunc(delay, func() { m.restartAfterBackoff(seq) })
	m.mu.Unlock()

	m.logger.Info("restart scheduled", "attempt", attempt, "max_retries", m.cfg.MaxRetries, "delay", delay)
	m.observer.RestartScheduled(m.name, attempt, delay)
}

// restartAfterBackoff runs when the timer armed under seq fires. The spawn goes
// through the admission hook, which is entered before opMu so callers can take
// their own locks in the same order as an explicit Start.
func (m *Manager) restartAfterBackoff(seq uint64) {
	m.mu.Lock()
	if m.restartSeq != seq || m.restartTimer == nil {
		m.mu.Unlock()
		return
	}
	m.restartTimer = nil
	m.mu.Unlock()

	attempted := false
	err := m.admit(func() error {
		m.opMu.Lock()
		defer m.opMu.Unlock()

		m.mu.Lock()
		// Stop or an explicit Start took over while the hook was waiting.
		if m.restartSeq != seq || m.status != StatusError {
			m.mu.Unlock()
			return nil
		}
		m.mu.Unlock()

		attempted = true
		return m.start(context.Background(), StartOptions{}, true)
	})
	if err == nil {
		return
	}
	if !attempted {
		m.mu.Lock()
		if m.restartSeq != seq || m.status != StatusError {
			m.mu.Unlock()
			return
		}
		m.lastErr = &ProcessError{Server: m.name, Op: "restart", Err: err}
		m.mu.Unlock()
		m.logger.Warn("restart refused", "error", err)
	}
	m.scheduleRestart()
}

// cancelRestartLocked disarms any pending backoff restart. Bumping restartSeq also
// invalidates a timer that already fired and is waiting on a lock.
func (m *Manager) cancelRestartLocked() {
	m.restartSeq++
	if m.restartTimer != nil {
		m.restartTimer.Stop()
		m.restartTimer = nil
	}
}

func (m *Manager) armStableTimerLocked(gen uint64) {
	m.stopStableTimerLocked()
	m.stableTimer = time.AfterFunc(m.stableAfter, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.gen == gen && m.status == StatusRunning {
			m.retries = 0
		}
	})
}

func (m *Manager) stopStableTimerLocked() {
	if m.stableTimer != nil {
		m.stableTimer.Stop()
		m.stableTimer = nil
	}
}

// Stop terminates the server. Pending requests are rejected with ErrStopped before the
// status becomes stopped. Unless force is set, SIGTERM is tried first and escalated to
// SIGKILL after the grace period.
func (m *Manager) Stop(ctx context.Context, force bool) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	var n notes
	m.mu.Lock()
	m.cancelRestartLocked()
	if m.status == StatusStopped {
		m.mu.Unlock()
		return nil
	}

	cmd, stdin, exited := m.cmd, m.stdin, m.exited
	if cmd == nil {
		// Crashed or gave up restarting; nothing to signal.
		n.add(m.setStatusLocked(StatusStopped))
		m.mu.Unlock()
		n.flush()
		m.observer.Stopped(m.name)
		return nil
	}

	m.stopRequested = true
	m.stopStableTimerLocked()
	n.add(m.setStatusLocked(StatusStopping))
	pending := m.takeAllPendingLocked()
	m.mu.Unlock()
	n.flush()

	stopErr := fmt.Errorf("server %q: %w", m.name, ErrStopped)
	for _, pr := range pending {
		pr.deliver(outcome{err: stopErr})
	}

	m.logger.Info("stopping server", "pid", cmd.Process.Pid, "force", force, "pending_rejected", len(pending))
	m.terminate(ctx, cmd, stdin, exited, force)

	m.mu.Lock()
	if m.cmd == cmd {
		m.cmd = nil
		m.stdin = nil
	}
	m.stopRequested = false
	n.add(m.setStatusLocked(StatusStopped))
	m.mu.Unlock()
	n.flush()

	m.logger.Info("server stopped")
	m.observer.Stopped(m.name)
	return nil
}

// terminate signals the process and waits for it to exit.
func (m *Manager) terminate(ctx context.Context, cmd *exec.Cmd, stdin io.Closer, exited <-chan struct{}, force bool) {
	if stdin != nil {
		_ = stdin.Close()
	}

	if force {
		m.kill(cmd)
		m.waitKilled(exited)
		return
	}

	m.signal(cmd, syscall.SIGTERM)

	grace := time.NewTimer(m.gracePeriod)
	defer grace.Stop()

	select {
	case <-exited:
		m.logger.Debug("server exited after SIGTERM")
	case <-grace.C:
		m.logger.Warn("server did not exit after SIGTERM, sending SIGKILL", "grace_period", m.gracePeriod)
		m.kill(cmd)
		m.waitKilled(exited)
	case <-ctx.Done():
		m.logger.Warn("stop cancelled, sending SIGKILL", "error", ctx.Err())
		m.kill(cmd)
		m.waitKilled(exited)
	}
}

func (m *Manager) waitKilled(exited <-chan struct{}) {
	select {
	case <-exited:
	case <-time.After(killTimeout):
		m.logger.Error("server did not exit after SIGKILL")
	}
}

func (m *Manager) signal(cmd *exec.Cmd, sig syscall.Signal) {
	if cmd.Process == nil {
		return
	}
	if err := syscall.Kill(-cmd.Process.Pid, sig); err != nil {
		if err := cmd.Process.Signal(sig); err != nil && !errors.Is(err, os.ErrProcessDone) {
			m.logger.Warn("failed to signal server", "signal", sig.String(), "error", err)
		}
	}
}

func (m *Manager) kill(cmd *exec.Cmd) {
	m.signal(cmd, syscall.SIGKILL)
}

// SendRequest sends method with params and waits for the matching response, the
// timeout, ctx cancellation, or a stop, whichever comes first.
func (m *Manager) SendRequest(ctx context.Context, method string, params map[string]any, timeout time.Duration) (json.RawMessage, error) {
	if timeout <= 0 {
		timeout = m.cfg.RequestTimeout
	}
	if timeout <= 0 {
		timeout = config.DefaultServerConfig().RequestTimeout
	}

	m.mu.Lock()
	if m.status != StatusRunning || m.stdin == nil {
		status := m.status
		m.mu.Unlock()
		return nil, fmt.Errorf("server %q (%s): %w", m.name, status, ErrNotRunning)
	}
	m.nextID++
	pr := &pendingRequest{
		id:     m.nextID,
		method: method,
		sentAt: time.Now(),
		done:   make(chan outcome, 1),
	}
	m.pending[pr.id] = pr
	stdin := m.stdin
	m.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	req := &protocol.Request{
		Version: protocol.Version,
		ID:      pr.id,
		Method:  method,
		Params:  params,
	}
	m.writeMu.Lock()
	err := protocol.EncodeRequest(stdin, req)
	m.writeMu.Unlock()
	if err != nil {
		if m.takePending(pr.id) {
			return nil, &ProcessError{Server: m.name, Op: "write", Err: err}
		}
		// Stop or a crash claimed the request first; report that outcome instead.
		o := <-pr.done
		return o.result, o.err
	}

	select {
	case o := <-pr.done:
		return o.result, o.err
	case <-timer.C:
		if m.takePending(pr.id) {
			m.logger.Warn("request timed out", "id", pr.id, "method", method, "timeout", timeout)
			return nil, &TimeoutError{Server: m.name, Method: method, ID: pr.id, Timeout: timeout}
		}
		o := <-pr.done
		return o.result, o.err
	case <-ctx.Done():
		if m.takePending(pr.id) {
			return nil, ctx.Err()
		}
		o := <-pr.done
		return o.result, o.err
	}
}

// takePending removes id from the pending table and reports whether it was present.
// Whoever removes the entry owns its outcome.
func (m *Manager) takePending(id int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.pending[id]; !ok {
		return false
	}
	delete(m.pending, id)
	return true
}

func (m *Manager) takeAllPendingLocked() []*pendingRequest {
	out := make([]*pendingRequest, 0, len(m.pending))
	for id, pr := range m.pending {
		out = append(out, pr)
		delete(m.pending, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// PendingCount returns the number of requests awaiting a response.
func (m *Manager) PendingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

func (m *Manager) readStdout(r io.Reader) {
	br := bufio.NewReaderSize(r, 64*1024)
	var line []byte
	overflow := false
	for {
		chunk, isPrefix, err := br.ReadLine()
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
				m.logger.Debug("stdout reader stopped", "error", err)
			}
			return
		}
		if !overflow {
			if len(line)+len(chunk) > m.maxLineSize {
				overflow = true
				line = line[:0]
			} else {
				line = append(line, chunk...)
			}
		}
		if isPrefix {
			continue
		}
		if overflow {
			m.logger.Warn("discarding oversized output line", "max_line_size", m.maxLineSize)
		} else {
			m.handleLine(string(line))
		}
		line = line[:0]
		overflow = false
	}
}

// handleLine routes one stdout line. Malformed or unmatched lines are never fatal.
func (m *Manager) handleLine(line string) {
	msg := protocol.ParseLine(line)
	if msg.Kind == protocol.KindUnparseable {
		if line != "" {
			m.logger.Debug("non-protocol output", "stream", "stdout", "line", truncate(line))
		}
		return
	}
	if !msg.HasID {
		m.logger.Debug("ignoring response without id", "kind", msg.Kind.String())
		return
	}

	m.mu.Lock()
	pr, ok := m.pending[msg.ID]
	if ok {
		delete(m.pending, msg.ID)
	}
	m.mu.Unlock()
	if !ok {
		m.logger.Debug("ignoring response for unknown request", "id", msg.ID)
		return
	}

	if msg.Kind == protocol.KindError {
		pr.deliver(outcome{err: &ServerError{
			Server:  m.name,
			Method:  pr.method,
			Code:    msg.Error.Code,
			Message: msg.Error.Message,
			Data:    msg.Error.Data,
		}})
		return
	}
	pr.deliver(outcome{result: msg.Result})
}

func (m *Manager) readStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), m.maxLineSize)
	for scanner.Scan() {
		m.logger.Info("server output", "stream", "stderr", "line", truncate(scanner.Text()))
	}
}

// Health probes the server with its configured health-check method.
func (m *Manager) Health(ctx context.Context) Health {
	info := m.Info()
	h := Health{
		Name:      m.name,
		Status:    info.Status,
		UptimeMS:  info.UptimeMS,
		CheckedAt: time.Now().UTC(),
	}
	if info.Status != StatusRunning {
		h.Error = fmt.Sprintf("server is %s", info.Status)
		return h
	}

	method := m.cfg.HealthCheck
	if method == "" {
		method = config.DefaultServerConfig().HealthCheck
	}

	start := time.Now()
	result, err := m.SendRequest(ctx, method, nil, m.healthTimeout)
	h.LatencyMS = time.Since(start).Milliseconds()

	var serverErr *ServerError
	switch {
	case err == nil:
		h.Responsive = true
		h.Result = result
	case errors.As(err, &serverErr):
		// A protocol-level error still proves the process is reading and answering.
		h.Responsive = true
		h.Error = serverErr.Message
	default:
		h.Error = err.Error()
	}
	h.Healthy = h.Responsive
	return h
}

// Info returns a snapshot without side effects.
func (m *Manager) Info() Info {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.infoLocked()
}

func (m *Manager) infoLocked() Info {
	info := Info{
		Name:        m.name,
		Status:      m.status,
		Runtime:     m.cfg.Runtime,
		Priority:    string(m.cfg.Priority),
		Description: m.cfg.Description,
		AutoStart:   m.cfg.AutoStart,
		Retries:     m.retries,
		MaxRetries:  m.cfg.MaxRetries,
		Pending:     len(m.pending),
	}
	if !m.startedAt.IsZero() {
		t := m.startedAt
		info.StartedAt = &t
	}
	if m.cmd != nil && m.cmd.Process != nil {
		info.PID = m.cmd.Process.Pid
	}
	if m.status == StatusRunning && !m.startedAt.IsZero() {
		info.UptimeMS = time.Since(m.startedAt).Milliseconds()
	}
	if m.lastErr != nil {
		info.LastError = m.lastErr.Error()
	}
	return info
}

// SetLastError records an error that happened outside the process lifecycle,
// such as a failed one-time setup.
func (m *Manager) SetLastError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastErr = err
}

// setStatusLocked changes status and returns the observer call to run after unlocking.
func (m *Manager) setStatusLocked(to Status) func() {
	from := m.status
	if from == to {
		return func() {}
	}
	m.status = to
	return func() { m.observer.StateChanged(m.name, from, to) }
}

// notes collects observer calls made under m.mu so they run after unlock.
type notes []func()

func (n *notes) add(f func()) { *n = append(*n, f) }

func (n *notes) flush() {
	for _, f := range *n {
		f()
	}
	*n = (*n)[:0]
}

func mergeEnv(base []string, layers ...map[string]string) []string {
	env := append([]string(nil), base...)
	for _, layer := range layers {
		keys := make([]string, 0, len(layer))
		for k := range layer {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			env = append(env, k+"="+layer[k])
		}
	}
	return env
}

func truncate(s string) string {
	if len(s) > maxLoggedLine {
		return s[:maxLoggedLine] + "...(truncated)"
	}
	return s
}
