package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/apollosolutions/subgraph-automocking/internal/health"
	"github.com/apollosolutions/subgraph-automocking/internal/schema"
	"github.com/apollosolutions/subgraph-automocking/internal/subgraph"
)

// ServiceName identifies the proxy in the root and health endpoints.
const ServiceName = "subgraph-automocking"

// CheckStatus orders component health: healthy < degraded < unhealthy.
type CheckStatus string

const (
	CheckHealthy   CheckStatus = "healthy"
	CheckDegraded  CheckStatus = "degraded"
	CheckUnhealthy CheckStatus = "unhealthy"
)

func (s CheckStatus) rank() int {
	switch s {
	case CheckHealthy:
		return 0
	case CheckDegraded:
		return 1
	default:
		return 2
	}
}

// ComponentCheck is one component's contribution to GET /health.
type ComponentCheck struct {
	Status    CheckStatus    `json:"status"`
	Message   string         `json:"message,omitempty"`
	LastCheck time.Time      `json:"lastCheck"`
	Metrics   map[string]any `json:"metrics,omitempty"`
}

// OpsHandler serves the operational endpoints: /, /live, /ready, /health,
// /status.
type OpsHandler struct {
	Version           string
	StartTime         time.Time
	Monitor           *health.Monitor
	Schemas           *schema.Cache
	RegistryAvailable bool
	Ready             func() bool
}

func (h *OpsHandler) uptime() float64 {
	return time.Since(h.StartTime).Seconds()
}

// Root serves GET /.
func (h *OpsHandler) Root(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service":   ServiceName,
		"status":    "ok",
		"version":   h.Version,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// Live serves GET /live.
func (h *OpsHandler) Live(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "alive",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"uptime":    h.uptime(),
	})
}

// ReadyCheck serves GET /ready: 200 while serving, 503 once shutdown begins.
func (h *OpsHandler) ReadyCheck(w http.ResponseWriter, r *http.Request) {
	if h.Ready != nil && !h.Ready() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "not_ready"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

// Health serves GET /health: per-component checks rolled up to the worst
// status; 503 iff the overall status is unhealthy.
func (h *OpsHandler) Health(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UTC()
	states := h.Monitor.GetAllStates()

	total := len(states)
	healthy, mocking := 0, 0
	cached := 0
	for name, st := range states {
		if st.IsHealthy {
			healthy++
		}
		if st.IsMocking {
			mocking++
		}
		if h.Schemas.Has(name) {
			cached++
		}
	}

	monitorCheck := ComponentCheck{
		Status:    CheckHealthy,
		LastCheck: now,
		Metrics: map[string]any{
			"totalSubgraphs":   total,
			"healthySubgraphs": healthy,
			"mockingSubgraphs": mocking,
		},
	}
	if total > 0 && mocking == total {
		monitorCheck.Status = CheckDegraded
		monitorCheck.Message = "all subgraphs are mocking"
	}

	cacheCheck := ComponentCheck{
		Status:    CheckHealthy,
		LastCheck: now,
		Metrics:   map[string]any{"cachedSchemas": cached},
	}
	if total > 0 && cached == 0 {
		cacheCheck.Status = CheckDegraded
		cacheCheck.Message = "no schemas cached"
	}

	registryCheck := ComponentCheck{Status: CheckHealthy, LastCheck: now}
	if !h.RegistryAvailable {
		registryCheck.Status = CheckDegraded
		registryCheck.Message = "registry client not configured"
	}

	checks := map[string]ComponentCheck{
		"healthMonitor": monitorCheck,
		"schemaCache":   cacheCheck,
		"registry":      registryCheck,
	}

	overall := CheckHealthy
	for _, c := range checks {
		if c.Status.rank() > overall.rank() {
			overall = c.Status
		}
	}

	status := http.StatusOK
	if overall == CheckUnhealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{
		"status":    overall,
		"timestamp": now.Format(time.RFC3339),
		"uptime":    h.uptime(),
		"checks":    checks,
	})
}

// subgraphStatus is one row of GET /status.
type subgraphStatus struct {
	Name                string           `json:"name"`
	URL                 string           `json:"url,omitempty"`
	Status              health.Status    `json:"status"`
	IsHealthy           bool             `json:"isHealthy"`
	IsMocking           bool             `json:"isMocking"`
	SchemaSource        string           `json:"schemaSource"`
	LastCheck           *time.Time       `json:"lastCheck,omitempty"`
	ConsecutiveFailures int              `json:"consecutiveFailures"`
	Config              *subgraph.Config `json:"config,omitempty"`
}

// Status serves GET /status: aggregate counts plus per-subgraph detail.
func (h *OpsHandler) Status(w http.ResponseWriter, r *http.Request) {
	states := h.Monitor.GetAllStates()

	subgraphs := make([]subgraphStatus, 0, len(states))
	healthy, mocking := 0, 0
	for name, st := range states {
		if st.IsHealthy {
			healthy++
		}
		if st.IsMocking {
			mocking++
		}
		row := subgraphStatus{
			Name:                name,
			URL:                 st.URL,
			Status:              st.Status,
			IsHealthy:           st.IsHealthy,
			IsMocking:           st.IsMocking,
			SchemaSource:        string(st.SchemaSource),
			ConsecutiveFailures: st.ConsecutiveFailures,
			Config:              st.Config,
		}
		if !st.LastHealthCheck.IsZero() {
			t := st.LastHealthCheck
			row.LastCheck = &t
		}
		subgraphs = append(subgraphs, row)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"totalSubgraphs":   len(states),
		"healthySubgraphs": healthy,
		"mockingSubgraphs": mocking,
		"subgraphs":        subgraphs,
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
