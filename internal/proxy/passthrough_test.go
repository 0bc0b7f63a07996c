package proxy

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/apollosolutions/subgraph-automocking/internal/domain"
	"github.com/apollosolutions/subgraph-automocking/internal/schema"
	"github.com/apollosolutions/subgraph-automocking/internal/subgraph"
)

const productSDL = `type Product { id: ID! name: String price: Float } type Query { products: [Product!]! }`

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newSchemaCache(t *testing.T, names ...string) *schema.Cache {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "products.graphql"), []byte(productSDL), 0o644); err != nil {
		t.Fatalf("write schema: %v", err)
	}
	c := schema.NewCache(time.Minute, dir, nil, schema.NewIntrospector(discard(), nil), discard())
	for _, name := range names {
		cfg := subgraph.Default()
		cfg.SchemaFile = "products.graphql"
		c.SetSubgraphConfig(name, "", cfg)
	}
	return c
}

func TestSanitizeHeaders(t *testing.T) {
	in := http.Header{}
	in.Set("Authorization", "Bearer abc")
	in.Add("X-Custom", "one")
	in.Add("X-Custom", "two")
	in.Set("CONNECTION", "keep-alive")
	in.Set("keep-alive", "timeout=5")
	in.Set("Proxy-Authenticate", "Basic")
	in.Set("Proxy-Authorization", "Basic xyz")
	in.Set("TE", "trailers")
	in.Set("Trailer", "Expires")
	in.Set("Transfer-Encoding", "chunked")
	in.Set("Upgrade", "websocket")
	in.Set("Host", "example.com")
	in.Set("Content-Length", "42")
	in.Set("Content-Encoding", "gzip")

	out := SanitizeHeaders(in)

	dropped := []string{
		"Connection", "Keep-Alive", "Proxy-Authenticate", "Proxy-Authorization",
		"Te", "Trailer", "Transfer-Encoding", "Upgrade",
		"Host", "Content-Length", "Content-Encoding",
	}
	for _, h := range dropped {
		if out.Get(h) != "" {
			t.Errorf("header %s should be dropped", h)
		}
	}

	if out.Get("Authorization") != "Bearer abc" {
		t.Fatalf("authorization should survive")
	}
	if got := out.Values("X-Custom"); len(got) != 2 {
		t.Fatalf("array-valued header should be preserved, got %v", got)
	}
	if out.Get("Content-Type") != "application/json" {
		t.Fatalf("default content-type missing")
	}
}

func TestSanitizeHeadersKeepsClientContentType(t *testing.T) {
	in := http.Header{}
	in.Set("Content-Type", "application/graphql-response+json")
	out := SanitizeHeaders(in)
	if out.Get("Content-Type") != "application/graphql-response+json" {
		t.Fatalf("client content-type should not be overridden")
	}
}

func TestForwardRelaysResponse(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		body, _ := io.ReadAll(r.Body)
		if !strings.Contains(string(body), "products") {
			t.Errorf("body not forwarded: %s", body)
		}
		if r.Header.Get("Host") != "" && r.Host == "" {
			t.Errorf("host header leak")
		}
		w.Header().Set("X-Upstream", "yes")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"data":{"products":[{"id":"p1","name":"x","price":1.5}]}}`))
	}))
	defer upstream.Close()

	p := NewPassthrough(newSchemaCache(t, "products"), 0, true, discard())
	rec := httptest.NewRecorder()
	req := &DecodedRequest{
		TargetURL:    upstream.URL,
		SubgraphName: "products",
		Query:        "query Q { products { id name price } }",
		Header:       http.Header{"X-Custom": []string{"v"}},
		Body:         []byte(`{"query":"query Q { products { id name price } }"}`),
	}

	p.Forward(context.Background(), rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Header().Get(domain.HeaderProxyMode) != domain.ProxyModePassthrough {
		t.Fatalf("proxy mode = %q", rec.Header().Get(domain.HeaderProxyMode))
	}
	if rec.Header().Get(domain.HeaderProxyTarget) != upstream.URL {
		t.Fatalf("proxy target = %q", rec.Header().Get(domain.HeaderProxyTarget))
	}
	if rec.Header().Get("X-Upstream") != "yes" {
		t.Fatalf("upstream headers should be copied")
	}
	if !strings.Contains(rec.Body.String(), `"price":1.5`) {
		t.Fatalf("body = %s", rec.Body.String())
	}
}

func TestForwardRelaysUpstreamErrors(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"errors":[{"message":"nope"}]}`))
	}))
	defer upstream.Close()

	p := NewPassthrough(newSchemaCache(t), 0, true, discard())
	rec := httptest.NewRecorder()
	req := &DecodedRequest{TargetURL: upstream.URL, SubgraphName: "products", Query: "{ x }", Header: http.Header{}, Body: []byte(`{}`)}

	p.Forward(context.Background(), rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("non-2xx upstream status should be relayed, got %d", rec.Code)
	}
}

func TestForwardConnectionRefused(t *testing.T) {
	p := NewPassthrough(newSchemaCache(t), 0, true, discard())
	rec := httptest.NewRecorder()
	req := &DecodedRequest{
		TargetURL:    "http://127.0.0.1:1/graphql",
		SubgraphName: "products",
		Query:        "{ products { id } }",
		Header:       http.Header{},
		Body:         []byte(`{"query":"{ products { id } }"}`),
	}

	p.Forward(context.Background(), rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	var resp domain.GraphQLResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Errors[0].Extensions["code"] != string(domain.ErrCodeServiceUnavailable) {
		t.Fatalf("code = %v", resp.Errors[0].Extensions["code"])
	}
}

func TestForwardIntrospectionCacheFallback(t *testing.T) {
	p := NewPassthrough(newSchemaCache(t, "products"), 0, true, discard())
	rec := httptest.NewRecorder()
	req := &DecodedRequest{
		TargetURL:    "http://127.0.0.1:1/graphql",
		SubgraphName: "products",
		Query:        "query SubgraphIntrospectQuery { _service { sdl } }",
		Header:       http.Header{},
		Body:         []byte(`{"query":"query SubgraphIntrospectQuery { _service { sdl } }"}`),
	}

	p.Forward(context.Background(), rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 from cache fallback", rec.Code)
	}
	if rec.Header().Get(domain.HeaderProxyMode) != domain.ProxyModeIntrospectionCache {
		t.Fatalf("proxy mode = %q", rec.Header().Get(domain.HeaderProxyMode))
	}
	if rec.Header().Get(domain.HeaderCacheFallback) != "true" {
		t.Fatalf("cache fallback header missing")
	}

	var resp struct {
		Data struct {
			Service struct {
				SDL string `json:"sdl"`
			} `json:"_service"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !strings.Contains(resp.Data.Service.SDL, "type Product") {
		t.Fatalf("sdl = %q", resp.Data.Service.SDL)
	}
}

func TestForwardIntrospectionFallbackNeedsCachedSchema(t *testing.T) {
	// No schema source for this subgraph: fallback fails, normal error wins.
	p := NewPassthrough(newSchemaCache(t), 0, true, discard())
	rec := httptest.NewRecorder()
	req := &DecodedRequest{
		TargetURL:    "http://127.0.0.1:1/graphql",
		SubgraphName: "ghost",
		Query:        "query SubgraphIntrospectQuery { _service { sdl } }",
		Header:       http.Header{},
		Body:         []byte(`{}`),
	}

	p.Forward(context.Background(), rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503 when cache also fails", rec.Code)
	}
}
