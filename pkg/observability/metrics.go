// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package observability provides Prometheus metrics and OpenTelemetry
// tracing for the pipelines.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus instruments for search and ingestion.
type Metrics struct {
	registry *prometheus.Registry

	SearchDuration  *prometheus.HistogramVec
	SearchTotal     *prometheus.CounterVec
	SearchErrors    *prometheus.CounterVec
	ChunksRetrieved prometheus.Histogram

	IngestDuration *prometheus.HistogramVec
	FilesIngested  *prometheus.CounterVec
	ChunksWritten  prometheus.Counter

	LLMDuration    *prometheus.HistogramVec
	LLMTokensIn    *prometheus.CounterVec
	LLMTokensOut   *prometheus.CounterVec
	LLMErrors      *prometheus.CounterVec
	EmbedDuration  prometheus.Histogram
	EmbedBatchSize prometheus.Histogram
}

// NewMetrics creates the instruments on a private registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,

		SearchDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "corpus_search_duration_seconds",
			Help:    "Search pipeline duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"collection"}),
		SearchTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "corpus_search_total",
			Help: "Total search requests.",
		}, []string{"collection"}),
		SearchErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "corpus_search_errors_total",
			Help: "Total failed search requests by stage.",
		}, []string{"stage"}),
		ChunksRetrieved: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "corpus_search_chunks_retrieved",
			Help:    "Chunks returned per search.",
			Buckets: []float64{0, 1, 2, 5, 10, 20, 50},
		}),

		IngestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "corpus_ingest_duration_seconds",
			Help:    "Ingestion run duration in seconds.",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300},
		}, []string{"collection"}),
		FilesIngested: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "corpus_ingest_files_total",
			Help: "Total ingested files by outcome.",
		}, []string{"outcome"}),
		ChunksWritten: factory.NewCounter(prometheus.CounterOpts{
			Name: "corpus_ingest_chunks_written_total",
			Help: "Total chunks written to the vector store.",
		}),

		LLMDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "corpus_llm_request_duration_seconds",
			Help:    "LLM request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider"}),
		LLMTokensIn: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "corpus_llm_tokens_input_total",
			Help: "Total prompt tokens sent to LLM providers.",
		}, []string{"provider"}),
		LLMTokensOut: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "corpus_llm_tokens_output_total",
			Help: "Total completion tokens from LLM providers.",
		}, []string{"provider"}),
		LLMErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "corpus_llm_errors_total",
			Help: "Total LLM provider errors.",
		}, []string{"provider"}),
		EmbedDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "corpus_embedding_duration_seconds",
			Help:    "Embedding batch duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}),
		EmbedBatchSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "corpus_embedding_batch_size",
			Help:    "Texts per embedding call.",
			Buckets: []float64{1, 2, 5, 10, 20, 50, 100},
		}),
	}
}

// Handler serves the metrics over HTTP.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveSearch records one finished search.
func (m *Metrics) ObserveSearch(collection string, duration time.Duration, chunks int) {
	m.SearchDuration.WithLabelValues(collection).Observe(duration.Seconds())
	m.SearchTotal.WithLabelValues(collection).Inc()
	m.ChunksRetrieved.Observe(float64(chunks))
}

// ObserveSearchError records one failed search.
func (m *Metrics) ObserveSearchError(stage string) {
	m.SearchErrors.WithLabelValues(stage).Inc()
}

// ObserveIngest records one finished ingestion run.
func (m *Metrics) ObserveIngest(collection string, duration time.Duration, succeeded, failed, chunks int) {
	m.IngestDuration.WithLabelValues(collection).Observe(duration.Seconds())
	m.FilesIngested.WithLabelValues("succeeded").Add(float64(succeeded))
	m.FilesIngested.WithLabelValues("failed").Add(float64(failed))
	m.ChunksWritten.Add(float64(chunks))
}

// ObserveLLM records one LLM round trip.
func (m *Metrics) ObserveLLM(provider string, duration time.Duration, promptTokens, completionTokens int, err error) {
	m.LLMDuration.WithLabelValues(provider).Observe(duration.Seconds())
	if err != nil {
		m.LLMErrors.WithLabelValues(provider).Inc()
		return
	}
	m.LLMTokensIn.WithLabelValues(provider).Add(float64(promptTokens))
	m.LLMTokensOut.WithLabelValues(provider).Add(float64(completionTokens))
}
