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

// Package config holds the static deployment configuration.
//
// Settings are the lowest-precedence tier of the runtime configuration:
// stored GLOBAL/USER/COLLECTION overrides are resolved on top of them.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Settings is the full static configuration of a deployment.
type Settings struct {
	// Server configures the HTTP surface.
	Server ServerConfig `yaml:"server"`

	// Database configures the relational store (runtime config, templates,
	// conversations, provider registry).
	Database SQLConfig `yaml:"database"`

	// VectorStore selects and configures the vector back-end.
	VectorStore VectorStoreConfig `yaml:"vector_store"`

	// Embedding configures the embedding client.
	Embedding EmbeddingConfig `yaml:"embedding"`

	// Chunking configures the default chunking strategy.
	Chunking ChunkingConfig `yaml:"chunking"`

	// Ingestion configures the ingestion pipeline.
	Ingestion IngestionConfig `yaml:"ingestion"`

	// Providers configures LLM providers for the system initializer.
	Providers ProvidersConfig `yaml:"providers"`

	// Tracing configures OpenTelemetry export.
	Tracing TracingConfig `yaml:"tracing,omitempty"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	// Host to bind (default: 0.0.0.0).
	Host string `yaml:"host,omitempty"`

	// Port to listen on (default: 8080).
	Port int `yaml:"port,omitempty"`
}

// VectorStoreConfig selects a vector back-end.
type VectorStoreConfig struct {
	// Type is one of: chromem, qdrant, milvus, chroma, weaviate, pinecone,
	// elasticsearch.
	Type string `yaml:"type"`

	// Host for network back-ends.
	Host string `yaml:"host,omitempty"`

	// Port for network back-ends (back-end default when 0).
	Port int `yaml:"port,omitempty"`

	// APIKey for authenticated back-ends.
	APIKey string `yaml:"api_key,omitempty"`

	// UseTLS enables TLS connections.
	UseTLS bool `yaml:"use_tls,omitempty"`

	// PersistPath for the embedded chromem back-end.
	PersistPath string `yaml:"persist_path,omitempty"`

	// Cloud/Region for Pinecone serverless index creation.
	Cloud  string `yaml:"cloud,omitempty"`
	Region string `yaml:"region,omitempty"`

	// UpsertBatchSize for bulk back-ends (default: 100).
	UpsertBatchSize int `yaml:"upsert_batch_size,omitempty"`
}

// EmbeddingConfig configures the embedding client.
type EmbeddingConfig struct {
	// Provider is "openai" (any OpenAI-compatible endpoint) or "watsonx".
	Provider string `yaml:"provider,omitempty"`

	// Model identifier (default: text-embedding-3-small).
	Model string `yaml:"model,omitempty"`

	// Dimension of the produced vectors (default: 384).
	Dimension int `yaml:"dimension,omitempty"`

	// BaseURL for the API.
	BaseURL string `yaml:"base_url,omitempty"`

	// APIKey for the API.
	APIKey string `yaml:"api_key,omitempty"`

	// BatchSize per request (default: 10).
	BatchSize int `yaml:"batch_size,omitempty"`

	// Concurrency limits parallel subbatch requests (default: 4).
	Concurrency int `yaml:"concurrency,omitempty"`

	// TimeoutSeconds per request (default: 30).
	TimeoutSeconds int `yaml:"timeout_seconds,omitempty"`
}

// ChunkingConfig configures the default chunker.
type ChunkingConfig struct {
	// Strategy is "fixed", "semantic" or "token" (default: fixed).
	Strategy string `yaml:"strategy,omitempty"`

	// MinChunkSize in characters (default: 100).
	MinChunkSize int `yaml:"min_chunk_size,omitempty"`

	// MaxChunkSize in characters (default: 1000).
	MaxChunkSize int `yaml:"max_chunk_size,omitempty"`

	// Overlap in characters or tokens (default: 100).
	Overlap int `yaml:"overlap,omitempty"`

	// SemanticThresholdPercentile for semantic breakpoints (default: 90).
	SemanticThresholdPercentile float64 `yaml:"semantic_threshold_percentile,omitempty"`
}

// IngestionConfig configures the ingestion pipeline.
type IngestionConfig struct {
	// MaxConcurrentFiles limits parallel file processing (default: 2).
	MaxConcurrentFiles int `yaml:"max_concurrent_files,omitempty"`

	// ImageDir is where extracted document images are written
	// (default: ./data/images).
	ImageDir string `yaml:"image_dir,omitempty"`

	// WatchDir enables the ingestion inbox watcher when non-empty.
	WatchDir string `yaml:"watch_dir,omitempty"`
}

// ProvidersConfig names the configured LLM providers for reconciliation.
type ProvidersConfig struct {
	WatsonX   *ProviderConfig `yaml:"watsonx,omitempty"`
	OpenAI    *ProviderConfig `yaml:"openai,omitempty"`
	Anthropic *ProviderConfig `yaml:"anthropic,omitempty"`
}

// ProviderConfig configures a single LLM provider.
type ProviderConfig struct {
	APIKey    string `yaml:"api_key,omitempty"`
	BaseURL   string `yaml:"base_url,omitempty"`
	ProjectID string `yaml:"project_id,omitempty"`

	// Model is the default generation model identifier.
	Model string `yaml:"model,omitempty"`

	// EmbeddingModel is the default embedding model identifier (WatsonX).
	EmbeddingModel string `yaml:"embedding_model,omitempty"`
}

// TracingConfig configures OpenTelemetry tracing.
type TracingConfig struct {
	// Enabled turns tracing on.
	Enabled bool `yaml:"enabled,omitempty"`

	// Exporter is "otlp" or "stdout" (default: otlp).
	Exporter string `yaml:"exporter,omitempty"`

	// Endpoint for the OTLP gRPC exporter (default: localhost:4317).
	Endpoint string `yaml:"endpoint,omitempty"`

	// ServiceName reported on spans (default: corpus).
	ServiceName string `yaml:"service_name,omitempty"`
}

// SetDefaults applies default values.
func (s *Settings) SetDefaults() {
	if s.Server.Host == "" {
		s.Server.Host = "0.0.0.0"
	}
	if s.Server.Port == 0 {
		s.Server.Port = 8080
	}
	s.Database.SetDefaults()
	if s.VectorStore.Type == "" {
		s.VectorStore.Type = "chromem"
	}
	if s.VectorStore.UpsertBatchSize <= 0 {
		s.VectorStore.UpsertBatchSize = 100
	}
	if s.Embedding.Provider == "" {
		s.Embedding.Provider = "openai"
	}
	if s.Embedding.Model == "" {
		s.Embedding.Model = "text-embedding-3-small"
	}
	if s.Embedding.Dimension <= 0 {
		s.Embedding.Dimension = 384
	}
	if s.Embedding.BatchSize <= 0 {
		s.Embedding.BatchSize = 10
	}
	if s.Embedding.Concurrency <= 0 {
		s.Embedding.Concurrency = 4
	}
	if s.Embedding.TimeoutSeconds <= 0 {
		s.Embedding.TimeoutSeconds = 30
	}
	if s.Chunking.Strategy == "" {
		s.Chunking.Strategy = "fixed"
	}
	if s.Chunking.MinChunkSize <= 0 {
		s.Chunking.MinChunkSize = 100
	}
	if s.Chunking.MaxChunkSize <= 0 {
		s.Chunking.MaxChunkSize = 1000
	}
	if s.Chunking.Overlap < 0 {
		s.Chunking.Overlap = 0
	} else if s.Chunking.Overlap == 0 {
		s.Chunking.Overlap = 100
	}
	if s.Chunking.SemanticThresholdPercentile <= 0 {
		s.Chunking.SemanticThresholdPercentile = 90
	}
	if s.Ingestion.MaxConcurrentFiles <= 0 {
		s.Ingestion.MaxConcurrentFiles = 2
	}
	if s.Ingestion.ImageDir == "" {
		s.Ingestion.ImageDir = "./data/images"
	}
	if s.Tracing.Exporter == "" {
		s.Tracing.Exporter = "otlp"
	}
	if s.Tracing.Endpoint == "" {
		s.Tracing.Endpoint = "localhost:4317"
	}
	if s.Tracing.ServiceName == "" {
		s.Tracing.ServiceName = "corpus"
	}
}

// Validate checks the configuration for errors.
func (s *Settings) Validate() error {
	switch s.VectorStore.Type {
	case "chromem", "qdrant", "milvus", "chroma", "weaviate", "pinecone", "elasticsearch":
	default:
		return fmt.Errorf("unknown vector store type: %q", s.VectorStore.Type)
	}

	switch s.VectorStore.Type {
	case "chromem":
		// No required fields.
	case "pinecone":
		if s.VectorStore.APIKey == "" {
			return fmt.Errorf("pinecone api_key is required")
		}
	default:
		if s.VectorStore.Host == "" {
			return fmt.Errorf("%s host is required", s.VectorStore.Type)
		}
	}

	switch s.Chunking.Strategy {
	case "fixed", "semantic", "token":
	default:
		return fmt.Errorf("unknown chunking strategy: %q", s.Chunking.Strategy)
	}

	if s.Chunking.MaxChunkSize < s.Chunking.MinChunkSize {
		return fmt.Errorf("max_chunk_size (%d) must be at least min_chunk_size (%d)",
			s.Chunking.MaxChunkSize, s.Chunking.MinChunkSize)
	}

	if s.Embedding.Dimension <= 0 {
		return fmt.Errorf("embedding dimension must be positive, got %d", s.Embedding.Dimension)
	}

	return s.Database.Validate()
}

// Load reads settings from a YAML file, then applies environment overrides,
// defaults and validation. An empty path loads from environment only.
func Load(path string) (*Settings, error) {
	s := &Settings{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, s); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	s.applyEnv()
	s.SetDefaults()

	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return s, nil
}
