package schema

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"syscall"
	"time"

	"github.com/apollosolutions/subgraph-automocking/internal/subgraph"
)

// FederationIntrospectionQuery is the well-known query routers use to
// discover a subgraph's SDL.
const FederationIntrospectionQuery = `query SubgraphIntrospectQuery { _service { sdl } }`

// introspectionTimeout bounds a single introspection attempt.
const introspectionTimeout = 10 * time.Second

// Introspector fetches SDL from a subgraph endpoint via the federation
// introspection query, with per-subgraph retry policy.
type Introspector struct {
	http   *http.Client
	logger *slog.Logger
}

// NewIntrospector creates an introspector. The HTTP client's timeout is
// managed per attempt; pass a client without one.
func NewIntrospector(logger *slog.Logger, client *http.Client) *Introspector {
	if client == nil {
		client = &http.Client{}
	}
	return &Introspector{http: client, logger: logger}
}

// FetchSDL introspects url with the retry policy from cfg. It makes up to
// maxRetries+1 attempts, sleeping retryDelayMs between them.
func (i *Introspector) FetchSDL(ctx context.Context, url string, cfg *subgraph.Config) (string, error) {
	attempts := cfg.MaxRetries + 1
	delay := time.Duration(cfg.RetryDelayMs) * time.Millisecond

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		sdl, err := i.fetchOnce(ctx, url, cfg.IntrospectionHeaders)
		if err == nil {
			return sdl, nil
		}
		lastErr = err

		i.logger.Warn("introspection attempt failed",
			slog.String("url", url),
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", attempts),
			slog.String("error", err.Error()),
		)

		if attempt < attempts {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
	}
	return "", fmt.Errorf("introspection of %s failed after %d attempts: %w", url, attempts, lastErr)
}

func (i *Introspector) fetchOnce(ctx context.Context, url string, headers map[string]string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, introspectionTimeout)
	defer cancel()

	body, err := json.Marshal(map[string]string{"query": FederationIntrospectionQuery})
	if err != nil {
		return "", fmt.Errorf("marshal introspection query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create introspection request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := i.http.Do(req)
	if err != nil {
		return "", classifyIntrospectionError(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read introspection response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("HTTP %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}

	var result struct {
		Data struct {
			Service struct {
				SDL string `json:"sdl"`
			} `json:"_service"`
		} `json:"data"`
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return "", fmt.Errorf("decode introspection response: %w", err)
	}
	if len(result.Errors) > 0 {
		return "", fmt.Errorf("introspection error: %s", result.Errors[0].Message)
	}
	if result.Data.Service.SDL == "" {
		return "", errors.New("introspection response missing _service.sdl")
	}
	return result.Data.Service.SDL, nil
}

// classifyIntrospectionError maps transport failures to stable messages.
func classifyIntrospectionError(err error) error {
	switch {
	case errors.Is(err, syscall.ECONNREFUSED):
		return errors.New("connection refused")
	case isTimeout(err):
		return fmt.Errorf("timeout after %d ms", introspectionTimeout.Milliseconds())
	default:
		return err
	}
}

// isTimeout reports whether err is a timeout of any flavor: deadline
// exceeded, net.Error timeout, or ETIMEDOUT from the stack.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, syscall.ETIMEDOUT) {
		return true
	}
	var nerr net.Error
	return errors.As(err, &nerr) && nerr.Timeout()
}
