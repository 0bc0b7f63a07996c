// Package health owns per-subgraph routing state and drives the transitions
// between passthrough and mocking.
package health

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/apollosolutions/subgraph-automocking/internal/subgraph"
)

// Status is a subgraph's routing status.
type Status string

const (
	StatusUnknown     Status = "unknown"
	StatusAvailable   Status = "available"
	StatusUnavailable Status = "unavailable"
	StatusMocking     Status = "mocking"
)

// typenameProbe is the body POSTed on every health probe.
const typenameProbe = `{"query":"query { __typename }"}`

// State is a snapshot of one subgraph's health. Copies are handed out;
// mutation happens only inside the monitor.
type State struct {
	Name                string
	URL                 string
	Status              Status
	SchemaSource        subgraph.SchemaSource
	IsHealthy           bool
	IsMocking           bool
	ConsecutiveFailures int
	LastHealthCheck     time.Time
	Config              *subgraph.Config
}

// tracked pairs a state with its probe loop. The probe loop, CheckHealth and
// SetHealth all apply transitions under mu, which serializes them per name.
type tracked struct {
	mu     sync.Mutex
	state  State
	cancel context.CancelFunc
}

// Monitor owns every subgraph's state and schedules periodic probes.
type Monitor struct {
	timeout time.Duration
	http    *http.Client
	logger  *slog.Logger

	mu       sync.RWMutex
	tracked  map[string]*tracked
	shutdown bool
}

// NewMonitor creates a monitor whose probes time out after timeout.
func NewMonitor(timeout time.Duration, logger *slog.Logger) *Monitor {
	return &Monitor{
		timeout: timeout,
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
		tracked: make(map[string]*tracked),
	}
}

// Register creates initial state for name and, unless the subgraph is
// force-mocked or has no URL, starts its probe loop. Registering an existing
// name replaces its state and probe schedule atomically.
func (m *Monitor) Register(name, url string, cfg *subgraph.Config) error {
	if cfg == nil {
		cfg = subgraph.Default()
	}
	if err := cfg.Validate(name); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.shutdown {
		return fmt.Errorf("health monitor is shut down")
	}

	if prev, ok := m.tracked[name]; ok && prev.cancel != nil {
		prev.cancel()
	}

	mocking := cfg.ForceMock || url == ""
	status := StatusUnknown
	if mocking {
		status = StatusMocking
	}

	t := &tracked{
		state: State{
			Name:         name,
			URL:          url,
			Status:       status,
			SchemaSource: cfg.Source(),
			IsMocking:    mocking,
			Config:       cfg,
		},
	}
	m.tracked[name] = t

	if !cfg.ForceMock && url != "" {
		ctx, cancel := context.WithCancel(context.Background())
		t.cancel = cancel
		interval := time.Duration(cfg.HealthCheckIntervalMs) * time.Millisecond
		go m.probeLoop(ctx, name, interval)
	}

	m.logger.Info("subgraph registered",
		slog.String("subgraph", name),
		slog.String("url", url),
		slog.String("status", string(status)),
		slog.Bool("force_mock", cfg.ForceMock),
	)
	return nil
}

// Unregister stops the subgraph's probe loop and drops its state.
func (m *Monitor) Unregister(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.tracked[name]; ok {
		if t.cancel != nil {
			t.cancel()
		}
		delete(m.tracked, name)
	}
}

// CheckHealth performs one probe of the named subgraph, applies the
// transition, and returns whether the probe succeeded.
func (m *Monitor) CheckHealth(ctx context.Context, name string) (bool, error) {
	t, ok := m.get(name)
	if !ok {
		return false, fmt.Errorf("subgraph %s is not registered", name)
	}

	t.mu.Lock()
	url := t.state.URL
	t.mu.Unlock()
	if url == "" {
		return false, fmt.Errorf("subgraph %s has no URL to probe", name)
	}

	healthy := m.probe(ctx, url)
	m.applyProbeResult(t, healthy)
	return healthy, nil
}

// GetState returns a snapshot of one subgraph's state.
func (m *Monitor) GetState(name string) (State, bool) {
	t, ok := m.get(name)
	if !ok {
		return State{}, false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state, true
}

// GetAllStates returns a snapshot of every subgraph's state.
func (m *Monitor) GetAllStates() map[string]State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]State, len(m.tracked))
	for name, t := range m.tracked {
		t.mu.Lock()
		out[name] = t.state
		t.mu.Unlock()
	}
	return out
}

// SetHealth applies a manual health override following the same transition
// rules as a probe result.
func (m *Monitor) SetHealth(name string, healthy bool) error {
	t, ok := m.get(name)
	if !ok {
		return fmt.Errorf("subgraph %s is not registered", name)
	}
	m.applyProbeResult(t, healthy)
	return nil
}

// Shutdown cancels all probe loops and drops all state.
func (m *Monitor) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tracked {
		if t.cancel != nil {
			t.cancel()
		}
	}
	m.tracked = make(map[string]*tracked)
	m.shutdown = true
	m.logger.Info("health monitor shut down")
}

func (m *Monitor) get(name string) (*tracked, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tracked[name]
	return t, ok
}

func (m *Monitor) probeLoop(ctx context.Context, name string, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t, ok := m.get(name)
			if !ok {
				return
			}
			t.mu.Lock()
			url := t.state.URL
			t.mu.Unlock()

			probeCtx, cancel := context.WithTimeout(ctx, m.timeout)
			healthy := m.probe(probeCtx, url)
			cancel()
			m.applyProbeResult(t, healthy)
		}
	}
}

// probe POSTs the typename query to url. Healthy iff HTTP 200.
func (m *Monitor) probe(ctx context.Context, url string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader([]byte(typenameProbe)))
	if err != nil {
		return false
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-apollo-operation-name", "TypenameQuery")

	resp, err := m.http.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// applyProbeResult runs the state machine for one probe outcome.
func (m *Monitor) applyProbeResult(t *tracked, healthy bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := &t.state
	cfg := s.Config
	s.LastHealthCheck = time.Now()

	if healthy {
		prev := s.Status
		s.Status = StatusAvailable
		s.IsHealthy = true
		s.ConsecutiveFailures = 0
		s.IsMocking = cfg.ForceMock
		if prev == StatusMocking {
			m.logger.Info("subgraph recovered",
				slog.String("subgraph", s.Name),
				slog.String("url", s.URL),
			)
		}
		return
	}

	s.IsHealthy = false
	s.ConsecutiveFailures++

	if !cfg.DisableMocking && !cfg.ForceMock && s.ConsecutiveFailures >= cfg.MaxRetries {
		if s.Status != StatusMocking {
			m.logger.Warn("subgraph entering mocking state",
				slog.String("subgraph", s.Name),
				slog.Int("consecutive_failures", s.ConsecutiveFailures),
				slog.Int("max_retries", cfg.MaxRetries),
			)
		}
		s.Status = StatusMocking
		s.IsMocking = true
		return
	}

	s.Status = StatusUnavailable
	m.logger.Warn("subgraph unhealthy",
		slog.String("subgraph", s.Name),
		slog.Int("consecutive_failures", s.ConsecutiveFailures),
	)
}
