// Package schema maintains compiled subgraph schemas: multi-source loading,
// a TTL cache, and a background refresher.
package schema

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/vektah/gqlparser/v2/ast"

	"github.com/apollosolutions/subgraph-automocking/internal/registry"
	"github.com/apollosolutions/subgraph-automocking/internal/subgraph"
)

// Entry is one cached compiled schema. Entries are immutable once stored;
// readers share them freely.
type Entry struct {
	Schema      *ast.Schema
	SDL         string
	Version     string
	LastFetched time.Time
	ExpiresAt   time.Time
}

// Expired reports whether the entry's TTL has elapsed.
func (e *Entry) Expired() bool {
	return !time.Now().Before(e.ExpiresAt)
}

type sourceConfig struct {
	url string
	cfg *subgraph.Config
}

// Cache loads and stores at most one compiled schema per subgraph name.
// Concurrent GetSchema calls on an initial miss may each trigger a load;
// the last store wins, which is safe because entries are immutable.
type Cache struct {
	ttl          time.Duration
	schemaDir    string
	registry     registry.Client
	introspector *Introspector
	logger       *slog.Logger

	mu      sync.RWMutex
	store   *expirable.LRU[string, *Entry]
	sources map[string]sourceConfig

	// cached tracks names that have been loaded at least once. The refresher
	// iterates this set rather than the store's keys: an entry evicted at
	// expiry moments before the refresh tick still belongs to the cached set.
	cached map[string]struct{}

	refreshMu   sync.Mutex
	refreshStop chan struct{}
	refreshDone chan struct{}
}

// NewCache creates a schema cache. reg may be nil when no registry
// credentials are configured; registry-sourced subgraphs then fail to load.
func NewCache(ttl time.Duration, schemaDir string, reg registry.Client, intro *Introspector, logger *slog.Logger) *Cache {
	return &Cache{
		ttl:          ttl,
		schemaDir:    schemaDir,
		registry:     reg,
		introspector: intro,
		logger:       logger,
		store:        expirable.NewLRU[string, *Entry](0, nil, ttl),
		sources:      make(map[string]sourceConfig),
		cached:       make(map[string]struct{}),
	}
}

// SetSubgraphConfig records where the named subgraph's schema is loaded from.
// Re-registration replaces the previous source atomically.
func (c *Cache) SetSubgraphConfig(name, url string, cfg *subgraph.Config) {
	if cfg == nil {
		cfg = subgraph.Default()
	}
	c.mu.Lock()
	c.sources[name] = sourceConfig{url: url, cfg: cfg}
	c.mu.Unlock()
}

// GetSchema returns the cached entry for name, loading it from the
// configured source on a miss or after expiry.
func (c *Cache) GetSchema(ctx context.Context, name string) (*Entry, error) {
	c.mu.RLock()
	entry, ok := c.store.Get(name)
	c.mu.RUnlock()
	if ok && !entry.Expired() {
		return entry, nil
	}
	return c.load(ctx, name)
}

// Has reports whether an unexpired entry exists for name.
func (c *Cache) Has(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.store.Get(name)
	return ok && !entry.Expired()
}

// WarmCache loads schemas for all names concurrently. Individual failures
// are logged and do not abort the others.
func (c *Cache) WarmCache(ctx context.Context, names []string) {
	var wg sync.WaitGroup
	for _, name := range names {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			if _, err := c.load(ctx, name); err != nil {
				c.logger.Warn("cache warm failed",
					slog.String("subgraph", name),
					slog.String("error", err.Error()),
				)
				return
			}
			c.logger.Info("schema cached", slog.String("subgraph", name))
		}(name)
	}
	wg.Wait()
}

// StartPeriodicRefresh starts the single background refresher, which reloads
// every currently-cached name once per TTL. Starting it twice is a
// programming error and panics.
func (c *Cache) StartPeriodicRefresh() {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()
	if c.refreshStop != nil {
		panic("schema: periodic refresh already started")
	}
	c.refreshStop = make(chan struct{})
	c.refreshDone = make(chan struct{})

	go c.refreshLoop(c.refreshStop, c.refreshDone)
	c.logger.Info("schema refresh started", slog.Duration("interval", c.ttl))
}

// StopPeriodicRefresh stops the refresher and waits for it to exit. No-op if
// the refresher is not running.
func (c *Cache) StopPeriodicRefresh() {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()
	if c.refreshStop == nil {
		return
	}
	close(c.refreshStop)
	<-c.refreshDone
	c.refreshStop = nil
	c.refreshDone = nil
}

func (c *Cache) refreshLoop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(c.ttl)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.refreshAll()
		}
	}
}

// refreshAll reloads exactly the set of names cached at the moment it runs.
// Per-entry failure is isolated; the stale entry stays until its own expiry.
func (c *Cache) refreshAll() {
	c.mu.RLock()
	names := make([]string, 0, len(c.cached))
	for name := range c.cached {
		names = append(names, name)
	}
	c.mu.RUnlock()

	for _, name := range names {
		ctx, cancel := context.WithTimeout(context.Background(), introspectionTimeout)
		_, err := c.load(ctx, name)
		cancel()
		if err != nil {
			c.logger.Warn("schema refresh failed",
				slog.String("subgraph", name),
				slog.String("error", err.Error()),
			)
		}
	}
}

// load fetches SDL from the configured source, compiles it, and stores the
// entry.
func (c *Cache) load(ctx context.Context, name string) (*Entry, error) {
	c.mu.RLock()
	src, ok := c.sources[name]
	c.mu.RUnlock()
	if !ok {
		src = sourceConfig{cfg: subgraph.Default()}
	}

	sdl, err := c.fetchSDL(ctx, name, src)
	if err != nil {
		return nil, err
	}

	compiled, err := Build(name, sdl)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	entry := &Entry{
		Schema:      compiled,
		SDL:         sdl,
		Version:     Version(sdl),
		LastFetched: now,
		ExpiresAt:   now.Add(c.ttl),
	}

	c.mu.Lock()
	c.store.Add(name, entry)
	c.cached[name] = struct{}{}
	c.mu.Unlock()

	c.logger.Debug("schema loaded",
		slog.String("subgraph", name),
		slog.String("version", entry.Version[:12]),
		slog.String("source", string(src.cfg.Source())),
	)
	return entry, nil
}

// fetchSDL resolves the schema source in precedence order: schema file, then
// introspection, then the registry.
func (c *Cache) fetchSDL(ctx context.Context, name string, src sourceConfig) (string, error) {
	cfg := src.cfg

	if cfg.SchemaFile != "" {
		path := filepath.Join(c.schemaDir, filepath.Base(cfg.SchemaFile))
		raw, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("read schema file for %s: %w", name, err)
		}
		return string(raw), nil
	}

	if cfg.UseLocalSchema {
		if src.url == "" {
			return "", fmt.Errorf("subgraph %s: useLocalSchema set but no URL and no schema file", name)
		}
		return c.introspector.FetchSDL(ctx, src.url, cfg)
	}

	if c.registry == nil {
		return "", fmt.Errorf("subgraph %s: registry source configured but no registry client (missing APOLLO_KEY?)", name)
	}
	return c.registry.FetchSDL(ctx, name)
}
