package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/mcphub/internal/admission"
	"github.com/mattjoyce/mcphub/internal/api/mocks"
	"github.com/mattjoyce/mcphub/internal/events"
	"github.com/mattjoyce/mcphub/internal/metrics"
	"github.com/mattjoyce/mcphub/internal/orchestrator"
	"github.com/mattjoyce/mcphub/internal/procmgr"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

func newTestServer(t *testing.T, limit int) (*Server, *mocks.MockOrchestrator, *events.Hub) {
	t.Helper()
	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)

	orch := mocks.NewMockOrchestrator(ctrl)
	hub := events.NewHub(16)
	prom := metrics.NewPrometheus("test")
	mw := admission.NewMiddleware(admission.NewRateLimiter(limit, time.Minute), admission.WithCollector(prom))
	return New(Config{Listen: "127.0.0.1:0"}, orch, mw, hub, prom.Handler(), nil), orch, hub
}

func do(t *testing.T, s *Server, method, path, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	var env envelope
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	}
	return rec, env
}

func TestHandleHealthz(t *testing.T) {
	s, orch, _ := newTestServer(t, 10)
	orch.EXPECT().Status().Return(orchestrator.Status{State: orchestrator.StateReady, Total: 3, RunningCount: 1})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp HealthzResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 3, resp.ServersTotal)
	assert.Equal(t, 1, resp.ServersRunning)
}

func TestHandleHealthz_NotReady(t *testing.T) {
	s, orch, _ := newTestServer(t, 10)
	orch.EXPECT().Status().Return(orchestrator.Status{State: orchestrator.StateInitializing})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHandleListServers(t *testing.T) {
	s, orch, _ := newTestServer(t, 10)
	orch.EXPECT().Status().Return(orchestrator.Status{
		State:     orchestrator.StateReady,
		Available: []procmgr.Info{{Name: "weather", Status: procmgr.StatusRunning}},
		Running:   []procmgr.Info{{Name: "weather", Status: procmgr.StatusRunning}},
		Total:     1, RunningCount: 1, MaxConcurrent: 10,
	})

	rec, env := do(t, s, http.MethodGet, "/servers", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, env.Success)
	assert.NotEmpty(t, env.RequestID)

	var st orchestrator.Status
	require.NoError(t, json.Unmarshal(env.Data, &st))
	require.Len(t, st.Running, 1)
	assert.Equal(t, "weather", st.Running[0].Name)
}

func TestHandleServerStatus_Unknown(t *testing.T) {
	s, orch, _ := newTestServer(t, 10)
	orch.EXPECT().ServerStatus("ghost").Return(procmgr.Info{}, &orchestrator.UnknownServerError{Name: "ghost"})

	rec, env := do(t, s, http.MethodGet, "/servers/ghost", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.False(t, env.Success)
	require.NotNil(t, env.Error)
	assert.Equal(t, admission.CodeUnknownServer, env.Error.Code)
}

func TestHandleServerHealth(t *testing.T) {
	s, orch, _ := newTestServer(t, 10)
	orch.EXPECT().ServerHealth(gomock.Any(), "weather").Return(procmgr.Health{Name: "weather", Healthy: true, Responsive: true}, nil)

	rec, env := do(t, s, http.MethodGet, "/servers/weather/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var h procmgr.Health
	require.NoError(t, json.Unmarshal(env.Data, &h))
	assert.True(t, h.Healthy)
}

func TestHandleStart(t *testing.T) {
	s, orch, _ := newTestServer(t, 10)
	orch.EXPECT().
		StartServer(gomock.Any(), "weather", procmgr.StartOptions{Env: map[string]string{"TOKEN": "x"}, ReadyTimeout: 2 * time.Second}).
		Return(procmgr.Info{Name: "weather", Status: procmgr.StatusRunning, PID: 42}, nil)

	rec, env := do(t, s, http.MethodPost, "/servers/weather/start", `{"env":{"TOKEN":"x"},"ready_timeout_ms":2000}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var info procmgr.Info
	require.NoError(t, json.Unmarshal(env.Data, &info))
	assert.Equal(t, 42, info.PID)
}

func TestHandleStart_EmptyBody(t *testing.T) {
	s, orch, _ := newTestServer(t, 10)
	orch.EXPECT().StartServer(gomock.Any(), "weather", procmgr.StartOptions{}).Return(procmgr.Info{Name: "weather"}, nil)

	rec, _ := do(t, s, http.MethodPost, "/servers/weather/start", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleStart_CapacityExceeded(t *testing.T) {
	s, orch, _ := newTestServer(t, 10)
	orch.EXPECT().StartServer(gomock.Any(), "third", gomock.Any()).
		Return(procmgr.Info{}, fmt.Errorf("start: %w", orchestrator.ErrCapacityExceeded))

	rec, env := do(t, s, http.MethodPost, "/servers/third/start", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, admission.CodeCapacity, env.Error.Code)
}

func TestHandleStart_InvalidBody(t *testing.T) {
	s, _, _ := newTestServer(t, 10)

	rec, env := do(t, s, http.MethodPost, "/servers/weather/start", `{"ready_timeout_ms":-1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, admission.CodeValidation, env.Error.Code)
}

func TestHandleStop(t *testing.T) {
	s, orch, _ := newTestServer(t, 10)
	orch.EXPECT().StopServer(gomock.Any(), "weather", true).Return(procmgr.Info{Name: "weather", Status: procmgr.StatusStopped}, nil)

	rec, _ := do(t, s, http.MethodPost, "/servers/weather/stop", `{"force":true}`)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleRestart(t *testing.T) {
	s, orch, _ := newTestServer(t, 10)
	orch.EXPECT().RestartServer(gomock.Any(), "weather").Return(procmgr.Info{Name: "weather", Status: procmgr.StatusRunning}, nil)

	rec, _ := do(t, s, http.MethodPost, "/servers/weather/restart", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleRequest(t *testing.T) {
	s, orch, _ := newTestServer(t, 10)
	orch.EXPECT().
		SendRequest(gomock.Any(), "weather", "ping", map[string]any{}, time.Duration(0)).
		Return(json.RawMessage(`"pong"`), nil)

	rec, env := do(t, s, http.MethodPost, "/servers/weather/request", `{"method":"ping"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp RequestResponse
	require.NoError(t, json.Unmarshal(env.Data, &resp))
	assert.Equal(t, "weather", resp.Server)
	assert.JSONEq(t, `"pong"`, string(resp.Result))
}

func TestHandleRequest_Errors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"not running", fmt.Errorf("server: %w", procmgr.ErrNotRunning), http.StatusConflict, admission.CodeNotRunning},
		{"timeout", &procmgr.TimeoutError{Server: "weather", Method: "slow", ID: 3, Timeout: time.Second}, http.StatusGatewayTimeout, admission.CodeTimeout},
		{"server error", &procmgr.ServerError{Message: "city not found"}, http.StatusBadGateway, admission.CodeServerError},
		{"stopped", fmt.Errorf("server: %w", procmgr.ErrStopped), http.StatusConflict, admission.CodeStopped},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError, admission.CodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, orch, _ := newTestServer(t, 10)
			orch.EXPECT().
				SendRequest(gomock.Any(), "weather", "forecast", map[string]any{"city": "Perth"}, 1500*time.Millisecond).
				Return(nil, tt.err)

			rec, env := do(t, s, http.MethodPost, "/servers/weather/request", `{"method":"forecast","params":{"city":"Perth"},"timeout_ms":1500}`)
			assert.Equal(t, tt.status, rec.Code)
			require.NotNil(t, env.Error)
			assert.Equal(t, tt.code, env.Error.Code)
			assert.Equal(t, tt.err.Error(), env.Error.Message)
		})
	}
}

func TestHandleRequest_Validation(t *testing.T) {
	s, _, _ := newTestServer(t, 10)

	for _, body := range []string{``, `{}`, `{"method":"x","params":[1]}`, `{"method":"x","timeout_ms":999999999}`, `not json`} {
		rec, env := do(t, s, http.MethodPost, "/servers/weather/request", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
		require.NotNil(t, env.Error, body)
		assert.Equal(t, admission.CodeValidation, env.Error.Code, body)
	}
}

func TestHandleRequest_Panic(t *testing.T) {
	s, orch, _ := newTestServer(t, 10)
	orch.EXPECT().SendRequest(gomock.Any(), "weather", "ping", gomock.Any(), gomock.Any()).
		DoAndReturn(func(context.Context, string, string, map[string]any, time.Duration) (json.RawMessage, error) {
			panic("nil map")
		})

	rec, env := do(t, s, http.MethodPost, "/servers/weather/request", `{"method":"ping"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, admission.CodeInternal, env.Error.Code)
	assert.NotEmpty(t, env.RequestID)
}

func TestRateLimitPerClient(t *testing.T) {
	s, orch, _ := newTestServer(t, 2)
	orch.EXPECT().Metrics().Return(orchestrator.Metrics{}).Times(2)

	for i := 0; i < 2; i++ {
		rec, _ := do(t, s, http.MethodGet, "/metrics", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "2", rec.Header().Get("X-RateLimit-Limit"))
		assert.Equal(t, strconv.Itoa(1-i), rec.Header().Get("X-RateLimit-Remaining"))
	}
	rec, env := do(t, s, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, admission.CodeRateLimited, env.Error.Code)
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))

	prom := httptest.NewRecorder()
	s.Handler().ServeHTTP(prom, httptest.NewRequest(http.MethodGet, "/metrics/prometheus", nil))
	assert.Contains(t, prom.Body.String(), "test_rate_limited_total 1")
}

func TestClientSuppliedIDsShareOneBudget(t *testing.T) {
	s, orch, _ := newTestServer(t, 2)
	orch.EXPECT().Metrics().Return(orchestrator.Metrics{}).Times(2)

	codes := make([]int, 0, 4)
	for i := 0; i < 4; i++ {
		req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
		req.Header.Set("X-Client-ID", fmt.Sprintf("caller-%d", i))
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("198.51.100.%d", i))
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests, http.StatusTooManyRequests}, codes)
}

func TestTrustedProxyKeysOnClientID(t *testing.T) {
	ctrl := gomock.NewController(t)
	orch := mocks.NewMockOrchestrator(ctrl)
	orch.EXPECT().Metrics().Return(orchestrator.Metrics{}).Times(2)
	mw := admission.NewMiddleware(admission.NewRateLimiter(1, time.Minute))
	s := New(Config{TrustProxy: true}, orch, mw, nil, nil, nil)

	for _, id := range []string{"alpha", "beta"} {
		req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
		req.Header.Set("X-Client-ID", id)
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code, id)
	}
}

func TestHandleStopAllNotReady(t *testing.T) {
	s, orch, _ := newTestServer(t, 10)
	orch.EXPECT().StopAllServers(gomock.Any(), true).Return(orchestrator.StopAllResult{}, fmt.Errorf("orchestrator is shutdown: %w", orchestrator.ErrNotReady))

	rec, env := do(t, s, http.MethodPost, "/servers/stop-all", `{"force":true}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.False(t, env.Success)
}

func TestHandleStopAll(t *testing.T) {
	s, orch, _ := newTestServer(t, 10)
	orch.EXPECT().StopAllServers(gomock.Any(), false).Return(orchestrator.StopAllResult{
		Stopped: 2,
		Errors:  []string{`stop "a": stuck`},
	}, nil)

	rec, env := do(t, s, http.MethodPost, "/servers/stop-all", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp StopAllResponse
	require.NoError(t, json.Unmarshal(env.Data, &resp))
	assert.Equal(t, 2, resp.Stopped)
	assert.Equal(t, []string{`stop "a": stuck`}, resp.Errors)
}

func TestHandleEvents_Replay(t *testing.T) {
	s, _, hub := newTestServer(t, 10)
	hub.Publish(events.TypeServerStarted, "weather", map[string]int{"pid": 7})
	hub.Publish(events.TypeServerStopped, "weather", nil)

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/events", nil)
	require.NoError(t, err)
	req.Header.Set("Last-Event-ID", "1")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	var lines []string
	for len(lines) < 3 {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	assert.Equal(t, "id: 2", lines[0])
	assert.Equal(t, "event: "+events.TypeServerStopped, lines[1])
	assert.Contains(t, lines[2], `"server":"weather"`)
}

func TestParseLastEventID(t *testing.T) {
	assert.Equal(t, int64(0), parseLastEventID(""))
	assert.Equal(t, int64(0), parseLastEventID("abc"))
	assert.Equal(t, int64(0), parseLastEventID("-4"))
	assert.Equal(t, int64(12), parseLastEventID("12"))
}

func TestClientKey(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.1.2.3:5555"
	r.Header.Set("X-Client-ID", "cli")

	direct := New(Config{}, nil, nil, nil, nil, nil)
	assert.Equal(t, "10.1.2.3", direct.clientKey(r))

	proxied := New(Config{TrustProxy: true}, nil, nil, nil, nil, nil)
	assert.Equal(t, "cli", proxied.clientKey(r))

	r.Header.Del("X-Client-ID")
	assert.Equal(t, "10.1.2.3", proxied.clientKey(r))
}
