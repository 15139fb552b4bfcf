package twitchapi

import (
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// defaultHTTPClient backs every client that is not given its own.
var defaultHTTPClient = newHTTPClient()

// newHTTPClient returns a client whose requests open client spans under the
// caller's trace.
func newHTTPClient(opts ...otelhttp.Option) *http.Client {
	return &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport, opts...)}
}
