package health

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/apollosolutions/subgraph-automocking/internal/subgraph"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestMonitor(t *testing.T) *Monitor {
	t.Helper()
	m := NewMonitor(2*time.Second, discard())
	t.Cleanup(m.Shutdown)
	return m
}

func TestRegisterInitialState(t *testing.T) {
	m := newTestMonitor(t)
	if err := m.Register("products", "http://products:4001/graphql", subgraph.Default()); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	state, ok := m.GetState("products")
	if !ok {
		t.Fatalf("state not found")
	}
	if state.Status != StatusUnknown {
		t.Fatalf("status = %q, want unknown", state.Status)
	}
	if state.IsHealthy || state.IsMocking {
		t.Fatalf("fresh state should be neither healthy nor mocking: %+v", state)
	}
	if state.SchemaSource != subgraph.SourceApolloRegistry {
		t.Fatalf("schema source = %q", state.SchemaSource)
	}
}

func TestRegisterForceMock(t *testing.T) {
	m := newTestMonitor(t)
	cfg := subgraph.Default()
	cfg.ForceMock = true
	if err := m.Register("products", "http://products:4001/graphql", cfg); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	state, _ := m.GetState("products")
	if state.Status != StatusMocking || !state.IsMocking {
		t.Fatalf("force-mocked subgraph should start mocking: %+v", state)
	}
}

func TestRegisterWithoutURLMocks(t *testing.T) {
	m := newTestMonitor(t)
	if err := m.Register("products", "", subgraph.Default()); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	state, _ := m.GetState("products")
	if !state.IsMocking {
		t.Fatalf("subgraph without URL should mock")
	}
}

func TestRegisterRejectsConflictingConfig(t *testing.T) {
	m := newTestMonitor(t)
	cfg := subgraph.Default()
	cfg.ForceMock = true
	cfg.DisableMocking = true
	if err := m.Register("broken", "http://x:1/graphql", cfg); err == nil {
		t.Fatalf("conflicting config should be rejected")
	}
}

func TestCheckHealthSuccess(t *testing.T) {
	var sawHeader atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-apollo-operation-name") == "TypenameQuery" {
			sawHeader.Store(true)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	m := newTestMonitor(t)
	if err := m.Register("products", srv.URL, subgraph.Default()); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	healthy, err := m.CheckHealth(context.Background(), "products")
	if err != nil {
		t.Fatalf("CheckHealth() error = %v", err)
	}
	if !healthy {
		t.Fatalf("probe should succeed")
	}
	if !sawHeader.Load() {
		t.Fatalf("probe should send x-apollo-operation-name")
	}

	state, _ := m.GetState("products")
	if state.Status != StatusAvailable || !state.IsHealthy || state.ConsecutiveFailures != 0 {
		t.Fatalf("unexpected state after success: %+v", state)
	}
	if state.LastHealthCheck.IsZero() {
		t.Fatalf("lastHealthCheck should be set")
	}
}

func TestCheckHealthNon200IsUnhealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	m := newTestMonitor(t)
	if err := m.Register("products", srv.URL, subgraph.Default()); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	healthy, err := m.CheckHealth(context.Background(), "products")
	if err != nil {
		t.Fatalf("CheckHealth() error = %v", err)
	}
	if healthy {
		t.Fatalf("500 should not count as healthy")
	}

	state, _ := m.GetState("products")
	if state.Status != StatusUnavailable || state.ConsecutiveFailures != 1 {
		t.Fatalf("unexpected state after failure: %+v", state)
	}
}

func TestCheckHealthUnknownSubgraph(t *testing.T) {
	m := newTestMonitor(t)
	if _, err := m.CheckHealth(context.Background(), "ghost"); err == nil {
		t.Fatalf("unknown subgraph should error")
	}
}

func TestMockingTransition(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	m := newTestMonitor(t)
	cfg := subgraph.Default()
	cfg.MaxRetries = 2
	if err := m.Register("products", srv.URL, cfg); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	// First failure: unavailable, not yet mocking.
	if _, err := m.CheckHealth(context.Background(), "products"); err != nil {
		t.Fatalf("CheckHealth() error = %v", err)
	}
	state, _ := m.GetState("products")
	if state.Status != StatusUnavailable || state.IsMocking {
		t.Fatalf("after 1 failure: %+v", state)
	}

	// Second failure crosses maxRetries.
	if _, err := m.CheckHealth(context.Background(), "products"); err != nil {
		t.Fatalf("CheckHealth() error = %v", err)
	}
	state, _ = m.GetState("products")
	if state.Status != StatusMocking || !state.IsMocking {
		t.Fatalf("after %d failures should mock: %+v", cfg.MaxRetries, state)
	}
	if state.IsHealthy {
		t.Fatalf("mocking implies unhealthy")
	}
	if state.ConsecutiveFailures != 2 {
		t.Fatalf("consecutiveFailures = %d, want 2", state.ConsecutiveFailures)
	}
}

func TestDisableMockingNeverMocks(t *testing.T) {
	m := newTestMonitor(t)
	cfg := subgraph.Default()
	cfg.DisableMocking = true
	cfg.MaxRetries = 1
	if err := m.Register("products", "http://localhost:1/graphql", cfg); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := m.SetHealth("products", false); err != nil {
			t.Fatalf("SetHealth() error = %v", err)
		}
	}
	state, _ := m.GetState("products")
	if state.IsMocking || state.Status == StatusMocking {
		t.Fatalf("disableMocking subgraph must never mock: %+v", state)
	}
	if state.ConsecutiveFailures != 3 {
		t.Fatalf("consecutiveFailures = %d, want 3", state.ConsecutiveFailures)
	}
}

func TestRecoveryResetsFailures(t *testing.T) {
	m := newTestMonitor(t)
	cfg := subgraph.Default()
	cfg.MaxRetries = 2
	if err := m.Register("products", "http://localhost:1/graphql", cfg); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	_ = m.SetHealth("products", false)
	_ = m.SetHealth("products", false)
	state, _ := m.GetState("products")
	if !state.IsMocking {
		t.Fatalf("should be mocking after crossing maxRetries")
	}

	_ = m.SetHealth("products", true)
	state, _ = m.GetState("products")
	if state.Status != StatusAvailable || state.IsMocking || state.ConsecutiveFailures != 0 || !state.IsHealthy {
		t.Fatalf("recovery should reset state: %+v", state)
	}
}

func TestGetAllStates(t *testing.T) {
	m := newTestMonitor(t)
	_ = m.Register("a", "http://a:1/graphql", subgraph.Default())
	_ = m.Register("b", "", subgraph.Default())

	states := m.GetAllStates()
	if len(states) != 2 {
		t.Fatalf("got %d states, want 2", len(states))
	}
	if _, ok := states["a"]; !ok {
		t.Fatalf("missing a")
	}
}

func TestReRegisterReplacesConfig(t *testing.T) {
	m := newTestMonitor(t)
	_ = m.Register("products", "http://products:4001/graphql", subgraph.Default())

	cfg := subgraph.Default()
	cfg.ForceMock = true
	if err := m.Register("products", "http://products:4001/graphql", cfg); err != nil {
		t.Fatalf("re-register error = %v", err)
	}

	state, _ := m.GetState("products")
	if !state.IsMocking || !state.Config.ForceMock {
		t.Fatalf("re-registration should replace config: %+v", state)
	}
}

func TestShutdownDropsState(t *testing.T) {
	m := NewMonitor(time.Second, discard())
	_ = m.Register("products", "http://products:4001/graphql", subgraph.Default())
	m.Shutdown()

	if states := m.GetAllStates(); len(states) != 0 {
		t.Fatalf("shutdown should drop state, got %d", len(states))
	}
	if err := m.Register("late", "http://x:1/graphql", subgraph.Default()); err == nil {
		t.Fatalf("register after shutdown should fail")
	}
}
