package api

import (
	"encoding/json"

	"github.com/mattjoyce/mcphub/internal/orchestrator"
)

// HealthzResponse is the response for GET /healthz
type HealthzResponse struct {
	Status         string             `json:"status"`
	State          orchestrator.State `json:"state"`
	UptimeSeconds  int64              `json:"uptime_seconds"`
	ServersTotal   int                `json:"servers_total"`
	ServersRunning int                `json:"servers_running"`
}

// RequestResponse is the envelope data for POST /servers/{name}/request
type RequestResponse struct {
	Server     string          `json:"server"`
	Method     string          `json:"method"`
	Result     json.RawMessage `json:"result"`
	DurationMS int64           `json:"duration_ms"`
}

// StopAllResponse is the envelope data for POST /servers/stop-all
type StopAllResponse orchestrator.StopAllResult
