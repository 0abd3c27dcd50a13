package observability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newRecordedTracer() (*Tracer, *tracetest.SpanRecorder) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	return &Tracer{provider: provider, tracer: provider.Tracer("test")}, recorder
}

func spanAttr(span sdktrace.ReadOnlySpan, key attribute.Key) attribute.Value {
	for _, kv := range span.Attributes() {
		if kv.Key == key {
			return kv.Value
		}
	}
	return attribute.Value{}
}

func TestStartSearchRecordsSpan(t *testing.T) {
	tracer, recorder := newRecordedTracer()

	_, span := tracer.StartSearch(context.Background(), "col-1", "u1")
	span.End()

	ended := recorder.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "corpus.search", ended[0].Name())
	assert.Equal(t, "col-1", spanAttr(ended[0], "corpus.collection").AsString())
	assert.Equal(t, "u1", spanAttr(ended[0], "corpus.user_id").AsString())
}

func TestStartIngestRecordsSpan(t *testing.T) {
	tracer, recorder := newRecordedTracer()

	_, span := tracer.StartIngest(context.Background(), "col-1", 7)
	span.End()

	ended := recorder.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "corpus.ingest", ended[0].Name())
	assert.Equal(t, int64(7), spanAttr(ended[0], "corpus.files").AsInt64())
}

func TestNilTracerIsNoop(t *testing.T) {
	var tracer *Tracer

	ctx, span := tracer.StartSearch(context.Background(), "col", "u")
	require.NotNil(t, ctx)
	span.End()

	assert.NoError(t, tracer.Shutdown(context.Background()))
}
