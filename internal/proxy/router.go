package proxy

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/apollosolutions/subgraph-automocking/internal/domain"
	"github.com/apollosolutions/subgraph-automocking/internal/health"
	"github.com/apollosolutions/subgraph-automocking/internal/mock"
)

// Router decides, per request, whether to forward to the real subgraph or to
// synthesize a mock response.
type Router struct {
	monitor           *health.Monitor
	mocks             *mock.Engine
	passthrough       *Passthrough
	enablePassthrough bool
	logger            *slog.Logger
}

// NewRouter creates the request router.
func NewRouter(monitor *health.Monitor, mocks *mock.Engine, passthrough *Passthrough, enablePassthrough bool, logger *slog.Logger) *Router {
	return &Router{
		monitor:           monitor,
		mocks:             mocks,
		passthrough:       passthrough,
		enablePassthrough: enablePassthrough,
		logger:            logger,
	}
}

// Handle serves one proxied GraphQL request. encodedURL is the raw
// percent-encoded path segment.
func (rt *Router) Handle(w http.ResponseWriter, r *http.Request, encodedURL string) {
	req, derr := Decode(r, encodedURL)
	if derr != nil {
		domain.WriteGraphQLError(w, derr)
		return
	}

	ctx := r.Context()
	name, state, known := rt.resolveSubgraph(req)

	if rt.shouldPassthrough(ctx, name, state, known) {
		rt.logger.Debug("routing to passthrough",
			slog.String("subgraph", name),
			slog.String("target", req.TargetURL),
		)
		rt.passthrough.Forward(ctx, w, req)
		return
	}

	rt.serveMock(ctx, w, req, name, state, known)
}

// resolveSubgraph looks the subgraph up by name, falling back to a URL match
// against the registered set.
func (rt *Router) resolveSubgraph(req *DecodedRequest) (string, health.State, bool) {
	if state, ok := rt.monitor.GetState(req.SubgraphName); ok {
		return req.SubgraphName, state, true
	}
	for name, state := range rt.monitor.GetAllStates() {
		if state.URL != "" && state.URL == req.TargetURL {
			return name, state, true
		}
	}
	return req.SubgraphName, health.State{}, false
}

// shouldPassthrough applies the routing predicate: passthrough globally
// enabled, the subgraph not mocking, and the upstream believed or observed
// healthy.
func (rt *Router) shouldPassthrough(ctx context.Context, name string, state health.State, known bool) bool {
	if !rt.enablePassthrough || !known || state.IsMocking {
		return false
	}
	if state.IsHealthy {
		return true
	}
	live, err := rt.monitor.CheckHealth(ctx, name)
	return err == nil && live
}

func (rt *Router) serveMock(ctx context.Context, w http.ResponseWriter, req *DecodedRequest, name string, state health.State, known bool) {
	if known && state.Config != nil && state.Config.DisableMocking {
		domain.WriteGraphQLError(w, domain.Errorf(domain.ErrCodeSubgraphUnavailable,
			"subgraph %s is unavailable and mocking is disabled for it", name))
		return
	}

	if rt.mocks == nil {
		domain.WriteGraphQLError(w, domain.Errorf(domain.ErrCodeInternal,
			"no handler available for subgraph %s", name))
		return
	}

	result, err := rt.mocks.Execute(ctx, name, req.Query, req.Variables, req.OperationName, nil)
	if err != nil {
		domain.WriteGraphQLError(w, err)
		return
	}

	mode := domain.ProxyModeMock
	if result.Introspection {
		mode = domain.ProxyModeMockIntrospection
	}
	w.Header().Set(domain.HeaderProxyMode, mode)
	w.Header().Set(domain.HeaderMockResponse, "true")
	w.Header().Set(domain.HeaderMockSubgraph, name)
	writeJSON(w, result.StatusCode, result.Response)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
