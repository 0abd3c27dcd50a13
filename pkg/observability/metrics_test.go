package observability

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveSearch(t *testing.T) {
	m := NewMetrics()

	m.ObserveSearch("col", 120*time.Millisecond, 5)
	m.ObserveSearch("col", 80*time.Millisecond, 3)
	m.ObserveSearchError("RETRIEVING")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.SearchTotal.WithLabelValues("col")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SearchErrors.WithLabelValues("RETRIEVING")))
}

func TestObserveIngestAndLLM(t *testing.T) {
	m := NewMetrics()

	m.ObserveIngest("col", time.Second, 3, 1, 42)
	assert.Equal(t, 3.0, testutil.ToFloat64(m.FilesIngested.WithLabelValues("succeeded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FilesIngested.WithLabelValues("failed")))
	assert.Equal(t, 42.0, testutil.ToFloat64(m.ChunksWritten))

	m.ObserveLLM("openai", 200*time.Millisecond, 100, 50, nil)
	m.ObserveLLM("openai", 100*time.Millisecond, 0, 0, assert.AnError)
	assert.Equal(t, 100.0, testutil.ToFloat64(m.LLMTokensIn.WithLabelValues("openai")))
	assert.Equal(t, 50.0, testutil.ToFloat64(m.LLMTokensOut.WithLabelValues("openai")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LLMErrors.WithLabelValues("openai")))
}

func TestMetricsHandlerServes(t *testing.T) {
	m := NewMetrics()
	m.ObserveSearch("col", time.Millisecond, 1)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "corpus_search_total")
}

func TestNilTracerIsSafe(t *testing.T) {
	var tr *Tracer
	ctx, span := tr.StartSearch(t.Context(), "col", "u1")
	require.NotNil(t, ctx)
	span.End()
	require.NoError(t, tr.Shutdown(ctx))
}
