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

package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// LoadDotEnv loads a .env file into the process environment if present.
// Existing environment variables are not overwritten.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	return godotenv.Load(path)
}

// applyEnv overlays environment variables on top of the loaded settings.
// Environment always wins over the YAML file.
func (s *Settings) applyEnv() {
	setString(&s.Server.Host, "CORPUS_SERVER_HOST")
	setInt(&s.Server.Port, "CORPUS_SERVER_PORT")

	setString(&s.Database.Driver, "CORPUS_DB_DRIVER")
	setString(&s.Database.Path, "CORPUS_DB_PATH")
	setString(&s.Database.Host, "CORPUS_DB_HOST")
	setInt(&s.Database.Port, "CORPUS_DB_PORT")
	setString(&s.Database.Database, "CORPUS_DB_NAME")
	setString(&s.Database.Username, "CORPUS_DB_USER")
	setString(&s.Database.Password, "CORPUS_DB_PASSWORD")

	setString(&s.VectorStore.Type, "CORPUS_VECTOR_STORE")
	setString(&s.VectorStore.Host, "CORPUS_VECTOR_HOST")
	setInt(&s.VectorStore.Port, "CORPUS_VECTOR_PORT")
	setString(&s.VectorStore.APIKey, "CORPUS_VECTOR_API_KEY")
	setString(&s.VectorStore.PersistPath, "CORPUS_VECTOR_PERSIST_PATH")

	setString(&s.Embedding.Provider, "CORPUS_EMBEDDING_PROVIDER")
	setString(&s.Embedding.Model, "CORPUS_EMBEDDING_MODEL")
	setInt(&s.Embedding.Dimension, "CORPUS_EMBEDDING_DIMENSION")
	setString(&s.Embedding.BaseURL, "CORPUS_EMBEDDING_BASE_URL")
	setString(&s.Embedding.APIKey, "CORPUS_EMBEDDING_API_KEY")

	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		if s.Embedding.APIKey == "" {
			s.Embedding.APIKey = key
		}
		if s.Providers.OpenAI == nil {
			s.Providers.OpenAI = &ProviderConfig{}
		}
		if s.Providers.OpenAI.APIKey == "" {
			s.Providers.OpenAI.APIKey = key
		}
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		if s.Providers.Anthropic == nil {
			s.Providers.Anthropic = &ProviderConfig{}
		}
		if s.Providers.Anthropic.APIKey == "" {
			s.Providers.Anthropic.APIKey = key
		}
	}
	if key := os.Getenv("WATSONX_API_KEY"); key != "" {
		if s.Providers.WatsonX == nil {
			s.Providers.WatsonX = &ProviderConfig{}
		}
		if s.Providers.WatsonX.APIKey == "" {
			s.Providers.WatsonX.APIKey = key
		}
	}
	if s.Providers.WatsonX != nil {
		setString(&s.Providers.WatsonX.ProjectID, "WATSONX_PROJECT_ID")
		setString(&s.Providers.WatsonX.BaseURL, "WATSONX_URL")
	}
}

// StaticDefaults returns the configuration keys that seed the lowest tier of
// the runtime configuration resolver.
func (s *Settings) StaticDefaults() map[string]any {
	return map[string]any{
		"chunking_strategy":             s.Chunking.Strategy,
		"min_chunk_size":                s.Chunking.MinChunkSize,
		"max_chunk_size":                s.Chunking.MaxChunkSize,
		"chunk_overlap":                 s.Chunking.Overlap,
		"semantic_threshold_percentile": s.Chunking.SemanticThresholdPercentile,
		"embedding_model":               s.Embedding.Model,
		"embedding_dimension":           s.Embedding.Dimension,
		"embedding_batch_size":          s.Embedding.BatchSize,
		"vector_store_type":             s.VectorStore.Type,
		"top_k":                         5,
		"rerank_enabled":                false,
		"rerank_top_n":                  3,
		"hyde_enabled":                  false,
		"query_expansion_enabled":       false,
		"max_reasoning_depth":           3,
		"reasoning_token_multiplier":    1.5,
		"history_max_turns":             10,
		"history_max_tokens":            2000,
		"context_max_chunks":            10,
		"temperature":                   0.7,
		"max_tokens":                    1024,
	}
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}
