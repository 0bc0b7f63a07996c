package proxy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"syscall"
	"time"

	"github.com/apollosolutions/subgraph-automocking/internal/domain"
	"github.com/apollosolutions/subgraph-automocking/internal/mock"
	"github.com/apollosolutions/subgraph-automocking/internal/schema"
)

// DefaultPassthroughTimeout bounds one upstream call.
const DefaultPassthroughTimeout = 30 * time.Second

const maxRedirects = 5

// hopByHopHeaders must not be forwarded by a proxy. Checked case-insensitively
// together with the connection-specific headers below.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// connectionHeaders are request-specific headers the upstream must compute
// itself.
var connectionHeaders = []string{
	"Host",
	"Content-Length",
	"Content-Encoding",
}

// Passthrough forwards request bodies to the real upstream and relays the
// response. When mockOnError is set, a transport failure of the federation
// introspection query falls back to the cached SDL.
type Passthrough struct {
	http        *http.Client
	schemas     *schema.Cache
	mockOnError bool
	logger      *slog.Logger
}

// NewPassthrough creates a passthrough engine. timeout of 0 selects the
// default.
func NewPassthrough(schemas *schema.Cache, timeout time.Duration, mockOnError bool, logger *slog.Logger) *Passthrough {
	if timeout == 0 {
		timeout = DefaultPassthroughTimeout
	}
	return &Passthrough{
		http: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return fmt.Errorf("stopped after %d redirects", maxRedirects)
				}
				return nil
			},
		},
		schemas:     schemas,
		mockOnError: mockOnError,
		logger:      logger,
	}
}

// Forward POSTs the request body to the target and writes the relayed
// response (or an error envelope) to w.
func (p *Passthrough) Forward(ctx context.Context, w http.ResponseWriter, req *DecodedRequest) {
	outReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.TargetURL, bytes.NewReader(req.Body))
	if err != nil {
		domain.WriteGraphQLError(w, domain.NewProxyError(domain.ErrCodeInternal,
			"failed to build upstream request").WithCause(err))
		return
	}
	outReq.Header = SanitizeHeaders(req.Header)

	resp, err := p.http.Do(outReq)
	if err != nil {
		p.handleConnectionFailure(ctx, w, req, err)
		return
	}
	defer resp.Body.Close()

	for key, values := range resp.Header {
		for _, v := range values {
			w.Header().Add(key, v)
		}
	}
	w.Header().Set(domain.HeaderProxyMode, domain.ProxyModePassthrough)
	w.Header().Set(domain.HeaderProxyTarget, req.TargetURL)
	w.WriteHeader(resp.StatusCode)

	if _, err := io.Copy(w, resp.Body); err != nil {
		p.logger.Warn("relaying upstream body failed",
			slog.String("target", req.TargetURL),
			slog.String("error", err.Error()),
		)
	}
}

// handleConnectionFailure classifies a transport error and writes the
// response: the introspection cache fallback when applicable, otherwise the
// mapped error envelope.
func (p *Passthrough) handleConnectionFailure(ctx context.Context, w http.ResponseWriter, req *DecodedRequest, err error) {
	p.logger.Warn("passthrough failed",
		slog.String("subgraph", req.SubgraphName),
		slog.String("target", req.TargetURL),
		slog.String("error", err.Error()),
	)

	if p.mockOnError && mock.IsIntrospectionQuery(req.Query) {
		if entry, cacheErr := p.schemas.GetSchema(ctx, req.SubgraphName); cacheErr == nil {
			w.Header().Set(domain.HeaderProxyMode, domain.ProxyModeIntrospectionCache)
			w.Header().Set(domain.HeaderCacheFallback, "true")
			w.Header().Set(domain.HeaderProxyTarget, req.TargetURL)
			writeJSON(w, http.StatusOK, domain.GraphQLResponse{
				Data: map[string]any{"_service": map[string]any{"sdl": entry.SDL}},
			})
			return
		}
	}

	domain.WriteGraphQLError(w, classifyPassthroughError(req.TargetURL, err))
}

// classifyPassthroughError maps a transport failure to its error kind.
func classifyPassthroughError(target string, err error) *domain.ProxyError {
	switch {
	case isTimeoutErr(err):
		return domain.Errorf(domain.ErrCodeGatewayTimeout,
			"upstream %s timed out", target).WithCause(err)
	case errors.Is(err, syscall.ECONNREFUSED) || isDNSNotFound(err):
		return domain.Errorf(domain.ErrCodeServiceUnavailable,
			"upstream %s is unavailable", target).WithCause(err)
	case isConnectionErr(err):
		return domain.Errorf(domain.ErrCodeBadGateway,
			"upstream %s request failed", target).WithCause(err)
	default:
		return domain.Errorf(domain.ErrCodeInternal,
			"unexpected error forwarding to %s", target).WithCause(err)
	}
}

func isTimeoutErr(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, syscall.ETIMEDOUT) {
		return true
	}
	var nerr net.Error
	return errors.As(err, &nerr) && nerr.Timeout()
}

func isDNSNotFound(err error) bool {
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr) && dnsErr.IsNotFound
}

func isConnectionErr(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}

// SanitizeHeaders copies headers, dropping hop-by-hop and connection-specific
// ones regardless of case. Array-valued headers are preserved. A default
// Content-Type is added when the client sent none.
func SanitizeHeaders(in http.Header) http.Header {
	out := make(http.Header, len(in))

	drop := make(map[string]struct{}, len(hopByHopHeaders)+len(connectionHeaders))
	for _, h := range hopByHopHeaders {
		drop[http.CanonicalHeaderKey(h)] = struct{}{}
	}
	for _, h := range connectionHeaders {
		drop[http.CanonicalHeaderKey(h)] = struct{}{}
	}

	for key, values := range in {
		if _, skip := drop[http.CanonicalHeaderKey(key)]; skip {
			continue
		}
		for _, v := range values {
			out.Add(key, v)
		}
	}

	if out.Get("Content-Type") == "" {
		out.Set("Content-Type", "application/json")
	}
	return out
}
