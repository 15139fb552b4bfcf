package twitchapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func TestFetchAllOpensClientSpans(t *testing.T) {
	var traceparents []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceparents = append(traceparents, r.Header.Get("traceparent"))
		_ = json.NewEncoder(w).Encode(commentsBody(false, commentEdge("a", 1, "Alice", "", textFrag("hi"))))
	}))
	defer server.Close()

	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	ctx, parent := tp.Tracer("test").Start(context.Background(), "job")
	client := &CommentClient{
		BaseURL:    server.URL,
		HTTPClient: newHTTPClient(otelhttp.WithTracerProvider(tp), otelhttp.WithPropagators(propagation.TraceContext{})),
	}
	if _, err := client.FetchAll(ctx, "123"); err != nil {
		t.Fatalf("FetchAll() error = %v", err)
	}
	parent.End()

	var clientSpans []sdktrace.ReadOnlySpan
	for _, s := range rec.Ended() {
		if s.SpanKind() == trace.SpanKindClient {
			clientSpans = append(clientSpans, s)
		}
	}
	if len(clientSpans) != 1 {
		t.Fatalf("client spans = %d, want 1", len(clientSpans))
	}
	if got := clientSpans[0].Parent().SpanID(); got != parent.SpanContext().SpanID() {
		t.Errorf("client span parent = %s, want %s", got, parent.SpanContext().SpanID())
	}
	if len(traceparents) != 1 || traceparents[0] == "" {
		t.Errorf("traceparent headers = %q, want one propagated header", traceparents)
	}
}

func TestDefaultClientIsTraced(t *testing.T) {
	if _, ok := (&CommentClient{}).http().Transport.(*otelhttp.Transport); !ok {
		t.Error("comment client default transport is not instrumented")
	}
	if _, ok := (&HelixClient{}).http().Transport.(*otelhttp.Transport); !ok {
		t.Error("helix client default transport is not instrumented")
	}
}
