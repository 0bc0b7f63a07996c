package domain

// Response headers set by the proxy to identify how a request was served.
const (
	HeaderProxyMode     = "X-Proxy-Mode"
	HeaderProxyTarget   = "X-Proxy-Target"
	HeaderMockResponse  = "X-Mock-Response"
	HeaderMockSubgraph  = "X-Mock-Subgraph"
	HeaderCacheFallback = "X-Cache-Fallback"

	// HeaderSubgraphName is the required request header naming the subgraph
	// the operation is intended for.
	HeaderSubgraphName = "x-subgraph-name"
)

// Values for HeaderProxyMode.
const (
	ProxyModePassthrough        = "passthrough"
	ProxyModeMock               = "mock"
	ProxyModeMockIntrospection  = "mock-introspection"
	ProxyModeIntrospectionCache = "passthrough-introspection-cached"
)
