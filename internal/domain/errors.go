// Package domain provides canonical error types and response conventions for
// the mocking proxy.
package domain

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// ErrorCode is the stable machine-readable code carried in the extensions
// object of a GraphQL error.
type ErrorCode string

const (
	ErrCodeInvalidURL            ErrorCode = "INVALID_URL"
	ErrCodeInvalidGraphQLRequest ErrorCode = "INVALID_GRAPHQL_REQUEST"
	ErrCodeMissingQuery          ErrorCode = "MISSING_QUERY"
	ErrCodeBadRequest            ErrorCode = "BAD_REQUEST"
	ErrCodeSchemaNotFound        ErrorCode = "SCHEMA_NOT_FOUND"
	ErrCodeSchemaFetchFailed     ErrorCode = "SCHEMA_FETCH_FAILED"
	ErrCodeSchemaError           ErrorCode = "SCHEMA_ERROR"
	ErrCodeGraphQLParseError     ErrorCode = "GRAPHQL_PARSE_ERROR"
	ErrCodeGraphQLValidation     ErrorCode = "GRAPHQL_VALIDATION_ERROR"
	ErrCodeMockGeneration        ErrorCode = "MOCK_GENERATION_ERROR"
	ErrCodeSubgraphUnavailable   ErrorCode = "SUBGRAPH_UNAVAILABLE"
	ErrCodePassthroughFailed     ErrorCode = "PASSTHROUGH_FAILED"
	ErrCodeGatewayTimeout        ErrorCode = "GATEWAY_TIMEOUT"
	ErrCodeServiceUnavailable    ErrorCode = "SERVICE_UNAVAILABLE"
	ErrCodeBadGateway            ErrorCode = "BAD_GATEWAY"
	ErrCodeInternal              ErrorCode = "INTERNAL_SERVER_ERROR"
)

// ProxyError is the canonical error returned by proxy components. It carries
// an HTTP status and a stable code so the single top-level responder can
// translate it into the GraphQL error envelope.
type ProxyError struct {
	Code       ErrorCode
	Message    string
	StatusCode int

	// Extensions holds additional keys merged into the error's extensions
	// object alongside the code.
	Extensions map[string]any

	// Locations are query-document positions, set for parse and validation
	// errors.
	Locations []GraphQLErrorLocation

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *ProxyError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause to errors.Is / errors.As.
func (e *ProxyError) Unwrap() error { return e.Err }

// HTTPStatusCode returns the explicit status if set, otherwise the default
// mapping for the error code.
func (e *ProxyError) HTTPStatusCode() int {
	if e.StatusCode != 0 {
		return e.StatusCode
	}
	switch e.Code {
	case ErrCodeInvalidURL, ErrCodeInvalidGraphQLRequest, ErrCodeMissingQuery,
		ErrCodeBadRequest, ErrCodeGraphQLParseError, ErrCodeGraphQLValidation:
		return http.StatusBadRequest
	case ErrCodeSchemaNotFound:
		return http.StatusNotFound
	case ErrCodeSubgraphUnavailable, ErrCodeServiceUnavailable:
		return http.StatusServiceUnavailable
	case ErrCodeSchemaFetchFailed, ErrCodeBadGateway, ErrCodePassthroughFailed:
		return http.StatusBadGateway
	case ErrCodeGatewayTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// WithStatusCode sets a specific HTTP status code.
func (e *ProxyError) WithStatusCode(code int) *ProxyError {
	e.StatusCode = code
	return e
}

// WithCause attaches an underlying error.
func (e *ProxyError) WithCause(err error) *ProxyError {
	e.Err = err
	return e
}

// WithExtension adds a key to the error's extensions object.
func (e *ProxyError) WithExtension(key string, value any) *ProxyError {
	if e.Extensions == nil {
		e.Extensions = make(map[string]any)
	}
	e.Extensions[key] = value
	return e
}

// NewProxyError creates a new proxy error.
func NewProxyError(code ErrorCode, message string) *ProxyError {
	return &ProxyError{Code: code, Message: message}
}

// Errorf creates a new proxy error with a formatted message.
func Errorf(code ErrorCode, format string, args ...any) *ProxyError {
	return &ProxyError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// GraphQLErrorLocation is a line/column position inside the query document.
type GraphQLErrorLocation struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// GraphQLError is a single entry in the errors array of a GraphQL response.
type GraphQLError struct {
	Message    string                 `json:"message"`
	Locations  []GraphQLErrorLocation `json:"locations,omitempty"`
	Path       []any                  `json:"path,omitempty"`
	Extensions map[string]any         `json:"extensions,omitempty"`
}

// GraphQLResponse is the standard GraphQL response envelope.
type GraphQLResponse struct {
	Data   any            `json:"data"`
	Errors []GraphQLError `json:"errors,omitempty"`
}

// WriteGraphQLError writes err as a GraphQL error envelope with the
// appropriate status code. It is the single error-to-response mapper and
// never propagates a failure of its own.
func WriteGraphQLError(w http.ResponseWriter, err error) {
	perr, ok := err.(*ProxyError)
	if !ok {
		perr = NewProxyError(ErrCodeInternal, err.Error())
	}

	ext := map[string]any{"code": string(perr.Code)}
	for k, v := range perr.Extensions {
		ext[k] = v
	}

	envelope := GraphQLResponse{
		Data: nil,
		Errors: []GraphQLError{
			{Message: perr.Message, Locations: perr.Locations, Extensions: ext},
		},
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(perr.HTTPStatusCode())
	_ = json.NewEncoder(w).Encode(envelope)
}
