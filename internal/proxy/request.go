// Package proxy routes inbound GraphQL requests to the mock engine or the
// real upstream.
package proxy

import (
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/apollosolutions/subgraph-automocking/internal/domain"
)

// DecodedRequest is the explicit value handed to downstream handlers in
// place of the raw HTTP request.
type DecodedRequest struct {
	TargetURL     string
	SubgraphName  string
	Query         string
	Variables     map[string]any
	OperationName string

	// Header is the original request header set, consulted by the
	// passthrough engine after hygiene filtering.
	Header http.Header

	// Body is the raw JSON body as received, forwarded verbatim on
	// passthrough.
	Body []byte
}

// hostPattern matches DNS-style names: labels of [a-z0-9-] not starting or
// ending with a hyphen, joined by dots. IPv4 dotted quads also match.
var hostPattern = regexp.MustCompile(`^(?i)[a-z0-9]([a-z0-9-]*[a-z0-9])?(\.[a-z0-9]([a-z0-9-]*[a-z0-9])?)*$`)

type graphqlBody struct {
	Query         string         `json:"query"`
	Variables     map[string]any `json:"variables"`
	OperationName string         `json:"operationName"`
}

// Decode extracts a DecodedRequest from the inbound request. encodedURL is
// the single percent-encoded path segment carrying the target URL.
func Decode(r *http.Request, encodedURL string) (*DecodedRequest, *domain.ProxyError) {
	target, derr := decodeTargetURL(encodedURL)
	if derr != nil {
		return nil, derr
	}

	name := strings.TrimSpace(r.Header.Get(domain.HeaderSubgraphName))
	if name == "" {
		return nil, domain.Errorf(domain.ErrCodeInvalidGraphQLRequest,
			"missing required header %s", domain.HeaderSubgraphName)
	}

	raw, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, domain.NewProxyError(domain.ErrCodeInvalidGraphQLRequest,
			"failed to read request body").WithCause(err)
	}

	var body graphqlBody
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, domain.NewProxyError(domain.ErrCodeInvalidGraphQLRequest,
			"request body must be a JSON GraphQL request").WithCause(err)
	}

	return &DecodedRequest{
		TargetURL:     target,
		SubgraphName:  name,
		Query:         body.Query,
		Variables:     body.Variables,
		OperationName: body.OperationName,
		Header:        r.Header,
		Body:          raw,
	}, nil
}

// decodeTargetURL percent-decodes the path segment exactly once and validates
// the result as an absolute http(s) URL with an acceptable host.
func decodeTargetURL(encoded string) (string, *domain.ProxyError) {
	if encoded == "" {
		return "", domain.NewProxyError(domain.ErrCodeInvalidURL, "missing target URL path segment")
	}

	decoded, err := url.PathUnescape(encoded)
	if err != nil {
		return "", domain.Errorf(domain.ErrCodeInvalidURL,
			"invalid percent-encoding in target URL %q", encoded).WithCause(err)
	}

	u, err := url.Parse(decoded)
	if err != nil {
		return "", domain.Errorf(domain.ErrCodeInvalidURL,
			"target %q is not a valid URL", decoded).WithCause(err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", domain.Errorf(domain.ErrCodeInvalidURL,
			"target URL scheme must be http or https, got %q", u.Scheme)
	}
	host := u.Hostname()
	if host == "" {
		return "", domain.Errorf(domain.ErrCodeInvalidURL, "target URL %q has no host", decoded)
	}
	if !validHost(host) {
		return "", domain.Errorf(domain.ErrCodeInvalidURL, "target URL host %q is not allowed", host)
	}

	return decoded, nil
}

// validHost accepts localhost, IPv4 dotted quads, and DNS-style names.
func validHost(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	return hostPattern.MatchString(host)
}
