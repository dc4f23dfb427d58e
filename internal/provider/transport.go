package provider

import (
	"net/http"
	"time"

	"github.com/gregjones/httpcache"
	"github.com/gregjones/httpcache/diskcache"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// NewHTTPClient creates the client used for provider calls. Tracing wraps the transport
// with otelhttp so provider requests show up as child spans.
func NewHTTPClient(timeout time.Duration, tracing bool) *http.Client {
	var transport http.RoundTripper = http.DefaultTransport
	if tracing {
		transport = otelhttp.NewTransport(transport)
	}

	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}
}

// NewCachingHTTPClient creates a client honoring Cache-Control on responses, used for
// the provider settings endpoint. An empty cacheDir keeps the cache in memory.
func NewCachingHTTPClient(cacheDir string, timeout time.Duration) *http.Client {
	var cache httpcache.Cache = httpcache.NewMemoryCache()
	if cacheDir != "" {
		cache = diskcache.New(cacheDir)
	}

	return &http.Client{
		Transport: httpcache.NewTransport(cache),
		Timeout:   timeout,
	}
}
