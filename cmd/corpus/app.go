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

package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/kadirpekel/corpus/pkg/config"
	"github.com/kadirpekel/corpus/pkg/conversation"
	"github.com/kadirpekel/corpus/pkg/embedder"
	"github.com/kadirpekel/corpus/pkg/ingest"
	"github.com/kadirpekel/corpus/pkg/llm"
	"github.com/kadirpekel/corpus/pkg/observability"
	"github.com/kadirpekel/corpus/pkg/processor"
	"github.com/kadirpekel/corpus/pkg/prompt"
	"github.com/kadirpekel/corpus/pkg/reasoner"
	"github.com/kadirpekel/corpus/pkg/rewrite"
	"github.com/kadirpekel/corpus/pkg/runtimeconfig"
	"github.com/kadirpekel/corpus/pkg/search"
	"github.com/kadirpekel/corpus/pkg/system"
	"github.com/kadirpekel/corpus/pkg/vectorstore"
)

// app holds the wired components shared by the commands.
type app struct {
	settings  *config.Settings
	db        *sql.DB
	store     vectorstore.Store
	embed     embedder.Embedder
	providers *llm.Registry
	resolver  *runtimeconfig.Resolver
	catalog   *ingest.Catalog
	pipeline  *ingest.Pipeline
	sessions  *conversation.SQLStore
	templates *prompt.SQLStore
	searcher  *search.Service
	reasoner  *reasoner.Reasoner
	system    *system.Initializer
	tracer    *observability.Tracer
}

// buildApp wires every component from the static settings.
func buildApp(configPath string) (*app, error) {
	settings, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	if settings.Database.Driver == "sqlite" {
		if err := os.MkdirAll(filepath.Dir(settings.Database.Path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	db, err := settings.Database.Open()
	if err != nil {
		return nil, err
	}
	driver := settings.Database.DriverName()

	a := &app{settings: settings, db: db}

	if a.store, err = vectorstore.New(settings.VectorStore); err != nil {
		a.Close()
		return nil, err
	}
	if a.embed, err = embedder.New(settings.Embedding); err != nil {
		a.Close()
		return nil, err
	}

	if a.providers, err = buildProviders(settings.Providers); err != nil {
		a.Close()
		return nil, err
	}

	cfgStore, err := runtimeconfig.NewSQLStore(db, driver)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.resolver = runtimeconfig.NewResolver(cfgStore, staticDefaults(settings))

	if a.catalog, err = ingest.NewCatalog(db, driver); err != nil {
		a.Close()
		return nil, err
	}
	if a.sessions, err = conversation.NewSQLStore(db, driver); err != nil {
		a.Close()
		return nil, err
	}
	if a.templates, err = prompt.NewSQLStore(db, driver); err != nil {
		a.Close()
		return nil, err
	}
	if a.system, err = system.NewInitializer(db, driver); err != nil {
		a.Close()
		return nil, err
	}
	traces, err := reasoner.NewTraceStore(db, driver)
	if err != nil {
		a.Close()
		return nil, err
	}
	if a.tracer, err = observability.NewTracer(context.Background(), settings.Tracing); err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}

	a.pipeline = ingest.NewPipeline(a.store, a.embed, ingestProcessors(settings.Ingestion.ImageDir), a.resolver,
		ingest.WithCatalog(a.catalog),
		ingest.WithTracer(a.tracer),
		ingest.WithConfig(ingest.Config{
			UpsertBatchSize: settings.VectorStore.UpsertBatchSize,
			Concurrency:     settings.Ingestion.MaxConcurrentFiles,
		}))

	searchOpts := []search.Option{
		search.WithTemplates(a.templates),
		search.WithSessions(a.sessions),
		search.WithTracer(a.tracer),
	}
	if provider, err := a.providers.Get(""); err == nil {
		searchOpts = append(searchOpts,
			search.WithHyDE(rewrite.NewHyDE(provider)),
			search.WithExpander(rewrite.NewChain(rewrite.Sanitizer{}, rewrite.NewSimpleExpander())),
			search.WithReranker(search.NewReranker(provider, 0)),
		)
	}
	a.searcher = search.NewService(a.store, a.embed, a.providers, a.resolver, searchOpts...)
	a.reasoner = reasoner.New(a.searcher, a.providers, a.resolver,
		reasoner.WithTraceStore(traces))

	return a, nil
}

// ingestProcessors builds the format registry for ingestion.
func ingestProcessors(imageDir string) *processor.Registry {
	return processor.NewRegistry(
		processor.NewTextProcessor(),
		processor.NewPDFProcessor(imageDir),
		processor.NewDocxProcessor(),
		processor.NewXlsxProcessor(),
	)
}

// buildProviders registers the configured LLM providers.
func buildProviders(cfg config.ProvidersConfig) (*llm.Registry, error) {
	registry := llm.NewRegistry()

	if c := cfg.WatsonX; c != nil {
		p, err := llm.NewWatsonXProvider(llm.WatsonXConfig{
			APIKey:    c.APIKey,
			BaseURL:   c.BaseURL,
			ProjectID: c.ProjectID,
			Model:     c.Model,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to configure watsonx: %w", err)
		}
		registry.Register(p)
	}
	if c := cfg.OpenAI; c != nil {
		p, err := llm.NewOpenAIProvider(llm.OpenAIConfig{
			APIKey:  c.APIKey,
			BaseURL: c.BaseURL,
			Model:   c.Model,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to configure openai: %w", err)
		}
		registry.Register(p)
	}
	if c := cfg.Anthropic; c != nil {
		p, err := llm.NewAnthropicProvider(llm.AnthropicConfig{
			APIKey:  c.APIKey,
			BaseURL: c.BaseURL,
			Model:   c.Model,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to configure anthropic: %w", err)
		}
		registry.Register(p)
	}
	return registry, nil
}

// staticDefaults seeds the lowest tier of the runtime configuration from the
// deployment settings.
func staticDefaults(s *config.Settings) map[string]any {
	return map[string]any{
		"chunking_strategy":             s.Chunking.Strategy,
		"min_chunk_size":                s.Chunking.MinChunkSize,
		"max_chunk_size":                s.Chunking.MaxChunkSize,
		"chunk_overlap":                 s.Chunking.Overlap,
		"semantic_threshold_percentile": s.Chunking.SemanticThresholdPercentile,

		"top_k":              5,
		"temperature":        0.7,
		"max_tokens":         1024,
		"context_max_chunks": 10,
		"context_max_chars":  8000,

		"hyde_enabled":            false,
		"query_expansion_enabled": false,
		"rerank_enabled":          false,
		"rerank_top_n":            3,

		"cot_enabled":                false,
		"max_reasoning_depth":        3,
		"reasoning_token_multiplier": 1.5,
		"persist_reasoning":          false,
	}
}

// Close releases the app's resources in reverse dependency order.
func (a *app) Close() {
	_ = a.tracer.Shutdown(context.Background())
	if a.providers != nil {
		_ = a.providers.Close()
	}
	if a.embed != nil {
		_ = a.embed.Close()
	}
	if a.store != nil {
		_ = a.store.Close()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
}
