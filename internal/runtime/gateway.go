// Package runtime wires the proxy's components together and manages their
// lifecycle.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/apollosolutions/subgraph-automocking/internal/config"
	"github.com/apollosolutions/subgraph-automocking/internal/health"
	"github.com/apollosolutions/subgraph-automocking/internal/mock"
	"github.com/apollosolutions/subgraph-automocking/internal/proxy"
	"github.com/apollosolutions/subgraph-automocking/internal/registry"
	"github.com/apollosolutions/subgraph-automocking/internal/schema"
	"github.com/apollosolutions/subgraph-automocking/internal/server"
	"github.com/apollosolutions/subgraph-automocking/internal/subgraph"
)

// Gateway owns every component of the proxy and its startup/shutdown order.
type Gateway struct {
	cfg     *config.Config
	logger  *slog.Logger
	version string

	registry   registry.Client
	monitor    *health.Monitor
	schemas    *schema.Cache
	mockLoader *mock.FileLoader
	mocks      *mock.Engine
	srv        *server.Server

	shutdownGrace time.Duration
}

// New assembles a gateway from configuration. Only the mocks-directory
// watcher starts here; bootstrap, schema refresh and the listener wait for
// Start.
func New(cfg *config.Config, opts ...Option) (*Gateway, error) {
	g := &Gateway{
		cfg:           cfg,
		logger:        slog.Default(),
		version:       "dev",
		shutdownGrace: server.DefaultShutdownGrace,
	}
	for _, opt := range opts {
		if err := opt(g); err != nil {
			return nil, fmt.Errorf("apply option: %w", err)
		}
	}

	if g.registry == nil && cfg.ApolloKey != "" {
		g.registry = registry.NewHTTPClient(cfg.ApolloKey, cfg.GraphRef(), g.logger)
	}

	g.monitor = health.NewMonitor(cfg.SubgraphHealthTimeout, g.logger)

	introspector := schema.NewIntrospector(g.logger, &http.Client{})
	g.schemas = schema.NewCache(cfg.SchemaCacheTTL, cfg.SchemaDir, g.registry, introspector, g.logger)

	g.mockLoader = mock.NewFileLoader(cfg.MocksDir, g.logger)
	g.mocks = mock.NewEngine(g.schemas, g.mockLoader, g.logger)

	passthrough := proxy.NewPassthrough(g.schemas, proxy.DefaultPassthroughTimeout, cfg.MockOnError, g.logger)
	router := proxy.NewRouter(g.monitor, g.mocks, passthrough, cfg.EnablePassthrough, g.logger)

	g.srv = server.New(cfg.Port, g.logger)
	g.srv.MountOps(&server.OpsHandler{
		Version:           g.version,
		StartTime:         time.Now(),
		Monitor:           g.monitor,
		Schemas:           g.schemas,
		RegistryAvailable: g.registry != nil,
	})
	g.srv.MountProxy(router)

	return g, nil
}

// Start bootstraps the subgraph set, starts background work, and runs the
// listener. It blocks until the listener stops.
func (g *Gateway) Start(ctx context.Context) error {
	if err := g.bootstrap(ctx); err != nil {
		return err
	}

	g.schemas.StartPeriodicRefresh()

	g.logger.Info("gateway started",
		slog.Int("port", g.cfg.Port),
		slog.Bool("passthrough", g.cfg.EnablePassthrough),
	)
	return g.srv.Start()
}

// Shutdown stops background work, then drains and closes the listener within
// the grace window.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	g.schemas.StopPeriodicRefresh()
	g.monitor.Shutdown()
	if err := g.mockLoader.Close(); err != nil {
		g.logger.Warn("closing mock loader", slog.String("error", err.Error()))
	}

	if err := g.srv.Shutdown(ctx, g.shutdownGrace); err != nil {
		return err
	}
	g.logger.Info("gateway shutdown complete")
	return nil
}

// bootstrap performs the three-phase initialization: registry discovery,
// local overrides, then registration and cache warming.
func (g *Gateway) bootstrap(ctx context.Context) error {
	var discovered []registry.Subgraph
	if g.registry != nil {
		var err error
		discovered, err = g.registry.ListSubgraphs(ctx)
		if err != nil {
			return fmt.Errorf("discover subgraphs: %w", err)
		}
	} else {
		g.logger.Warn("no registry credentials; only locally-configured subgraphs will be served")
	}

	overrides, err := subgraph.LoadConfigFile(g.cfg.SubgraphConfigFile)
	if err != nil {
		return err
	}

	if !g.cfg.EnablePassthrough {
		for name, cfg := range overrides {
			if cfg.DisableMocking {
				return fmt.Errorf("subgraph %q: disableMocking with ENABLE_PASSTHROUGH=false leaves no way to serve it", name)
			}
		}
	}

	urls := make(map[string]string, len(discovered))
	for _, sg := range discovered {
		urls[sg.Name] = sg.URL
		defaults := g.defaultSubgraphConfig()
		if err := g.monitor.Register(sg.Name, sg.URL, defaults); err != nil {
			return err
		}
		g.schemas.SetSubgraphConfig(sg.Name, sg.URL, defaults)
	}

	for name, cfg := range overrides {
		g.monitor.Unregister(name)
		if err := g.monitor.Register(name, urls[name], cfg); err != nil {
			return err
		}
		g.schemas.SetSubgraphConfig(name, urls[name], cfg)
	}

	warm := make([]string, 0, len(discovered))
	for _, sg := range discovered {
		warm = append(warm, sg.Name)
	}
	g.schemas.WarmCache(ctx, warm)

	g.logger.Info("subgraphs initialized",
		slog.Int("totalSubgraphs", len(g.monitor.GetAllStates())),
		slog.Int("fromApollo", len(discovered)),
		slog.Int("localOverrides", len(overrides)),
	)
	return nil
}

// defaultSubgraphConfig is the config applied to registry-discovered
// subgraphs, with the probe period taken from the environment.
func (g *Gateway) defaultSubgraphConfig() *subgraph.Config {
	cfg := subgraph.Default()
	if ms := g.cfg.SubgraphCheckInterval.Milliseconds(); ms > 0 {
		cfg.HealthCheckIntervalMs = int(ms)
	}
	return cfg
}
