package runtime

import (
	"log/slog"
	"time"

	"github.com/apollosolutions/subgraph-automocking/internal/registry"
)

// Option is a functional option for configuring a Gateway.
type Option func(*Gateway) error

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gateway) error {
		g.logger = logger
		return nil
	}
}

// WithVersion sets the version string reported by the ops endpoints.
func WithVersion(version string) Option {
	return func(g *Gateway) error {
		g.version = version
		return nil
	}
}

// WithRegistryClient sets a custom registry client. Tests use this to stub
// the Apollo Platform API.
func WithRegistryClient(client registry.Client) Option {
	return func(g *Gateway) error {
		g.registry = client
		return nil
	}
}

// WithShutdownGrace overrides how long in-flight requests may run during
// shutdown.
func WithShutdownGrace(grace time.Duration) Option {
	return func(g *Gateway) error {
		g.shutdownGrace = grace
		return nil
	}
}
