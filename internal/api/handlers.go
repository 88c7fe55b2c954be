package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mattjoyce/mcphub/internal/admission"
	"github.com/mattjoyce/mcphub/internal/orchestrator"
	"github.com/mattjoyce/mcphub/internal/procmgr"
)

const maxBodyBytes = 1 << 20

// handleHealthz handles GET /healthz. It is not rate limited.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	st := s.orch.Status()

	resp := HealthzResponse{
		Status:         "ok",
		State:          st.State,
		UptimeSeconds:  int64(time.Since(s.startedAt).Seconds()),
		ServersTotal:   st.Total,
		ServersRunning: st.RunningCount,
	}
	code := http.StatusOK
	if st.State != orchestrator.StateReady {
		resp.Status = "unavailable"
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(resp)
}

// handleListServers handles GET /servers
func (s *Server) handleListServers(w http.ResponseWriter, r *http.Request) {
	s.admit(w, r, "status", func(context.Context) (any, error) {
		return s.orch.Status(), nil
	})
}

// handleServerStatus handles GET /servers/{name}
func (s *Server) handleServerStatus(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	s.admit(w, r, "server_status", func(context.Context) (any, error) {
		return s.orch.ServerStatus(name)
	})
}

// handleServerHealth handles GET /servers/{name}/health
func (s *Server) handleServerHealth(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	s.admit(w, r, "server_health", func(ctx context.Context) (any, error) {
		return s.orch.ServerHealth(ctx, name)
	})
}

// handleStart handles POST /servers/{name}/start
func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	s.admit(w, r, "start", func(ctx context.Context) (any, error) {
		body, err := readBody(w, r)
		if err != nil {
			return nil, err
		}
		req, err := admission.ParseStart(body)
		if err != nil {
			return nil, err
		}
		return s.orch.StartServer(ctx, name, procmgr.StartOptions{
			Env:          req.Env,
			ReadyTimeout: req.ReadyTimeout(),
		})
	})
}

// handleStop handles POST /servers/{name}/stop
func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	s.admit(w, r, "stop", func(ctx context.Context) (any, error) {
		body, err := readBody(w, r)
		if err != nil {
			return nil, err
		}
		req, err := admission.ParseStop(body)
		if err != nil {
			return nil, err
		}
		return s.orch.StopServer(ctx, name, req.Force)
	})
}

// handleRestart handles POST /servers/{name}/restart
func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	s.admit(w, r, "restart", func(ctx context.Context) (any, error) {
		return s.orch.RestartServer(ctx, name)
	})
}

// handleRequest handles POST /servers/{name}/request
func (s *Server) handleRequest(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	s.admit(w, r, "request", func(ctx context.Context) (any, error) {
		body, err := readBody(w, r)
		if err != nil {
			return nil, err
		}
		req, err := admission.ParseRequest(body)
		if err != nil {
			return nil, err
		}
		params, err := req.ParamsMap()
		if err != nil {
			return nil, err
		}

		start := time.Now()
		result, err := s.orch.SendRequest(ctx, name, req.Method, params, req.Timeout())
		if err != nil {
			return nil, err
		}
		return RequestResponse{
			Server:     name,
			Method:     req.Method,
			Result:     result,
			DurationMS: time.Since(start).Milliseconds(),
		}, nil
	})
}

// handleStopAll handles POST /servers/stop-all. Individual failures are reported
// in the data, not as a failed envelope.
func (s *Server) handleStopAll(w http.ResponseWriter, r *http.Request) {
	s.admit(w, r, "stop_all", func(ctx context.Context) (any, error) {
		body, err := readBody(w, r)
		if err != nil {
			return nil, err
		}
		req, err := admission.ParseStop(body)
		if err != nil {
			return nil, err
		}

		res, err := s.orch.StopAllServers(ctx, req.Force)
		if err != nil {
			return nil, err
		}
		return StopAllResponse(res), nil
	})
}

// handleMetrics handles GET /metrics
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	s.admit(w, r, "metrics", func(context.Context) (any, error) {
		return s.orch.Metrics(), nil
	})
}

func (s *Server) admit(w http.ResponseWriter, r *http.Request, op string, fn admission.Handler) {
	key := s.clientKey(r)
	env := s.admission.Do(r.Context(), key, op, fn)
	if lim := s.admission.Limiter(); lim != nil {
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(lim.Max()))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(lim.Remaining(key)))
	}
	writeEnvelope(w, env)
}

func writeEnvelope(w http.ResponseWriter, env admission.Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(env.HTTPStatus())
	_ = json.NewEncoder(w).Encode(env)
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return nil, &admission.ValidationError{Message: fmt.Sprintf("read body: %v", err)}
	}
	return body, nil
}

// clientKey identifies the caller for rate limiting. It is the peer host unless
// the server trusts a fronting proxy, in which case X-Client-ID wins and RealIP
// has already rewritten RemoteAddr from the forwarding headers.
func (s *Server) clientKey(r *http.Request) string {
	if s.config.TrustProxy {
		if id := strings.TrimSpace(r.Header.Get("X-Client-ID")); id != "" {
			return id
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
