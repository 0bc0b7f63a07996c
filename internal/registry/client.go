// Package registry talks to the Apollo schema registry (Platform API) to
// discover subgraphs and fetch their SDL.
package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// DefaultBaseURL is the Apollo Platform API endpoint.
const DefaultBaseURL = "https://api.apollographql.com/api/graphql"

const defaultTimeout = 10 * time.Second

// Subgraph is a registry-discovered subgraph. URL may be empty when the
// variant has no routing URL recorded for it.
type Subgraph struct {
	Name string
	URL  string
}

// Client lists a graph variant's subgraphs and fetches their SDL.
type Client interface {
	ListSubgraphs(ctx context.Context) ([]Subgraph, error)
	FetchSDL(ctx context.Context, subgraphName string) (string, error)
}

// HTTPClient is the Platform API implementation of Client.
type HTTPClient struct {
	apiKey   string
	graphRef string
	baseURL  string
	http     *http.Client
	logger   *slog.Logger
}

// Option configures the HTTP client.
type Option func(*HTTPClient)

// WithBaseURL overrides the Platform API endpoint.
func WithBaseURL(u string) Option {
	return func(c *HTTPClient) { c.baseURL = u }
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *HTTPClient) { c.http = h }
}

// NewHTTPClient creates a registry client for the given graph reference
// (id@variant) authenticated with apiKey.
func NewHTTPClient(apiKey, graphRef string, logger *slog.Logger, opts ...Option) *HTTPClient {
	c := &HTTPClient{
		apiKey:   apiKey,
		graphRef: graphRef,
		baseURL:  DefaultBaseURL,
		http:     &http.Client{Timeout: defaultTimeout},
		logger:   logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

const listSubgraphsQuery = `query ListSubgraphs($ref: ID!) {
  variant(ref: $ref) {
    ... on GraphVariant {
      subgraphs {
        name
        url
      }
    }
  }
}`

const fetchSDLQuery = `query FetchSubgraphSDL($ref: ID!, $name: ID!) {
  variant(ref: $ref) {
    ... on GraphVariant {
      subgraph(name: $name) {
        activePartialSchema {
          sdl
        }
      }
    }
  }
}`

// ListSubgraphs returns the variant's full subgraph list. An empty list is a
// valid result.
func (c *HTTPClient) ListSubgraphs(ctx context.Context) ([]Subgraph, error) {
	var result struct {
		Variant *struct {
			Subgraphs []struct {
				Name string `json:"name"`
				URL  string `json:"url"`
			} `json:"subgraphs"`
		} `json:"variant"`
	}

	if err := c.execute(ctx, listSubgraphsQuery, map[string]any{"ref": c.graphRef}, &result); err != nil {
		return nil, fmt.Errorf("list subgraphs for %s: %w", c.graphRef, err)
	}
	if result.Variant == nil {
		return nil, fmt.Errorf("graph variant %s not found in registry", c.graphRef)
	}

	subgraphs := make([]Subgraph, 0, len(result.Variant.Subgraphs))
	for _, s := range result.Variant.Subgraphs {
		subgraphs = append(subgraphs, Subgraph{Name: s.Name, URL: s.URL})
	}
	return subgraphs, nil
}

// FetchSDL returns the active partial schema SDL for one subgraph.
func (c *HTTPClient) FetchSDL(ctx context.Context, subgraphName string) (string, error) {
	var result struct {
		Variant *struct {
			Subgraph *struct {
				ActivePartialSchema struct {
					SDL string `json:"sdl"`
				} `json:"activePartialSchema"`
			} `json:"subgraph"`
		} `json:"variant"`
	}

	vars := map[string]any{"ref": c.graphRef, "name": subgraphName}
	if err := c.execute(ctx, fetchSDLQuery, vars, &result); err != nil {
		return "", fmt.Errorf("fetch SDL for %s: %w", subgraphName, err)
	}
	if result.Variant == nil || result.Variant.Subgraph == nil {
		return "", fmt.Errorf("subgraph %s not found in registry variant %s", subgraphName, c.graphRef)
	}
	sdl := result.Variant.Subgraph.ActivePartialSchema.SDL
	if sdl == "" {
		return "", fmt.Errorf("registry returned empty SDL for subgraph %s", subgraphName)
	}
	return sdl, nil
}

func (c *HTTPClient) execute(ctx context.Context, query string, variables map[string]any, out any) error {
	body, err := json.Marshal(map[string]any{"query": query, "variables": variables})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", c.apiKey)
	req.Header.Set("apollographql-client-name", "subgraph-automocking")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("registry request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read registry response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("registry returned HTTP %d: %s", resp.StatusCode, resp.Status)
	}

	var envelope struct {
		Data   json.RawMessage `json:"data"`
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("decode registry response: %w", err)
	}
	if len(envelope.Errors) > 0 {
		return fmt.Errorf("registry error: %s", envelope.Errors[0].Message)
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return fmt.Errorf("decode registry data: %w", err)
	}
	return nil
}

var _ Client = (*HTTPClient)(nil)
