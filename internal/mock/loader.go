package mock

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// SourceLoader supplies the resolver configuration the engine layers over its
// built-in defaults. Implementations cache as they see fit; Load is called on
// every request.
type SourceLoader interface {
	Load() (*MockSource, error)
}

// StaticLoader returns a fixed source. Used by tests and as the engine's
// loader when none is given.
type StaticLoader struct {
	Source *MockSource
}

func (l *StaticLoader) Load() (*MockSource, error) { return l.Source, nil }

// mockFileNames are probed in order inside the mocks directory.
var mockFileNames = []string{"mocks.yaml", "mocks.yml"}

// unusableFileNames exist in projects migrated from a scripting runtime; a Go
// binary cannot load them, so their presence is logged once and ignored.
var unusableFileNames = []string{"mocks.js", "mocks.ts"}

// FileLoader loads resolver maps from a mocks file in dir and caches the
// parsed result until the file changes on disk.
type FileLoader struct {
	dir    string
	logger *slog.Logger

	mu      sync.Mutex
	cached  *MockSource
	loaded  bool
	watcher *fsnotify.Watcher
}

// NewFileLoader creates a file loader over dir and starts watching it for
// changes. A missing directory yields defaults only; a directory that cannot
// be watched is still read, but later changes to it are not picked up.
func NewFileLoader(dir string, logger *slog.Logger) *FileLoader {
	l := &FileLoader{dir: dir, logger: logger}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Warn("mocks watcher unavailable", slog.String("error", err.Error()))
		return l
	}
	if err := watcher.Add(dir); err != nil {
		logger.Debug("mocks directory not watched",
			slog.String("dir", dir),
			slog.String("error", err.Error()),
		)
		_ = watcher.Close()
		return l
	}
	l.watcher = watcher
	go l.watch()
	return l
}

// Load returns the cached source, reading the file on first use or after an
// invalidation. Parse failures degrade to defaults-only.
func (l *FileLoader) Load() (*MockSource, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.loaded {
		return l.cached, nil
	}

	source, err := l.read()
	if err != nil {
		l.logger.Warn("mock resolvers unavailable, using defaults",
			slog.String("error", err.Error()),
		)
		source = nil
	}
	l.cached = source
	l.loaded = true
	return source, nil
}

// Invalidate drops the cached source so the next Load re-reads the file.
func (l *FileLoader) Invalidate() {
	l.mu.Lock()
	l.loaded = false
	l.cached = nil
	l.mu.Unlock()
}

// Close stops the file watcher.
func (l *FileLoader) Close() error {
	if l.watcher != nil {
		return l.watcher.Close()
	}
	return nil
}

func (l *FileLoader) watch() {
	for {
		select {
		case ev, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
				l.logger.Info("mock resolvers changed, reloading",
					slog.String("file", ev.Name),
				)
				l.Invalidate()
			}
		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			l.logger.Warn("mocks watcher error", slog.String("error", err.Error()))
		}
	}
}

func (l *FileLoader) read() (*MockSource, error) {
	var path string
	for _, name := range mockFileNames {
		candidate := filepath.Join(l.dir, name)
		if _, err := os.Stat(candidate); err == nil {
			path = candidate
			break
		}
	}
	if path == "" {
		for _, name := range unusableFileNames {
			if _, err := os.Stat(filepath.Join(l.dir, name)); err == nil {
				l.logger.Warn("found script-based mocks file that cannot be loaded at runtime; provide mocks.yaml instead",
					slog.String("file", name),
				)
				return nil, nil
			}
		}
		return nil, nil
	}

	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	raw := k.Raw()
	source := &MockSource{Subgraphs: make(map[string]ResolverMap)}
	for key, value := range raw {
		if key == "_globals" {
			source.Globals = parseResolverMap(value)
			continue
		}
		if rm := parseResolverMap(value); rm != nil {
			source.Subgraphs[key] = rm
		}
	}

	l.logger.Info("mock resolvers loaded",
		slog.String("file", path),
		slog.Int("subgraphs", len(source.Subgraphs)),
		slog.Bool("globals", source.Globals != nil),
	)
	return source, nil
}
