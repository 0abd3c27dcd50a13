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

// Package ingest turns files into embedded chunks: process, chunk, embed,
// upsert.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/kadirpekel/corpus/pkg/chunker"
	"github.com/kadirpekel/corpus/pkg/embedder"
	"github.com/kadirpekel/corpus/pkg/observability"
	"github.com/kadirpekel/corpus/pkg/processor"
	"github.com/kadirpekel/corpus/pkg/retry"
	"github.com/kadirpekel/corpus/pkg/runtimeconfig"
	"github.com/kadirpekel/corpus/pkg/vectorstore"
)

// Stage names where a file can fail.
const (
	StageProcess = "process"
	StageChunk   = "chunk"
	StageEmbed   = "embed"
	StageUpsert  = "upsert"
)

// FileFailure records one failed file in a report.
type FileFailure struct {
	File  string `json:"file"`
	Stage string `json:"stage"`
	Cause string `json:"cause"`
}

// Report summarizes one ingestion run.
type Report struct {
	FilesSucceeded   int           `json:"files_succeeded"`
	FilesFailed      []FileFailure `json:"files_failed"`
	DocumentsWritten int           `json:"documents_written"`
	ChunksWritten    int           `json:"chunks_written"`
}

// Config bounds the pipeline.
type Config struct {
	// UpsertBatchSize is the number of chunks per vector-store write
	// (default 100).
	UpsertBatchSize int

	// Concurrency is the number of files processed in parallel
	// (default NumCPU).
	Concurrency int
}

// SetDefaults applies default values.
func (c *Config) SetDefaults() {
	if c.UpsertBatchSize <= 0 {
		c.UpsertBatchSize = 100
	}
	if c.Concurrency <= 0 {
		c.Concurrency = runtime.NumCPU()
	}
}

// Pipeline ingests files into a collection.
type Pipeline struct {
	config     Config
	store      vectorstore.Store
	embed      embedder.Embedder
	processors *processor.Registry
	resolver   *runtimeconfig.Resolver
	catalog    *Catalog
	retryer    *retry.Retryer
	tracer     *observability.Tracer
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithCatalog enables collection and document bookkeeping.
func WithCatalog(catalog *Catalog) Option {
	return func(p *Pipeline) { p.catalog = catalog }
}

// WithConfig overrides the pipeline bounds.
func WithConfig(cfg Config) Option {
	return func(p *Pipeline) { p.config = cfg }
}

// WithTracer records a span per ingestion run. A nil tracer is a no-op.
func WithTracer(tracer *observability.Tracer) Option {
	return func(p *Pipeline) { p.tracer = tracer }
}

// NewPipeline creates an ingestion pipeline.
func NewPipeline(store vectorstore.Store, embed embedder.Embedder, processors *processor.Registry, resolver *runtimeconfig.Resolver, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:      store,
		embed:      embed,
		processors: processors,
		resolver:   resolver,
		retryer:    retry.New(retry.Config{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.config.SetDefaults()
	return p
}

// Ingest processes files into the collection and reports per-file outcomes.
// A failed file never aborts the run; the error return covers setup failures
// only.
func (p *Pipeline) Ingest(ctx context.Context, collectionID, userID string, files []string) (*Report, error) {
	start := time.Now()
	ctx, span := p.tracer.StartIngest(ctx, collectionID, len(files))
	defer span.End()

	resolved, err := p.resolver.Effective(ctx, userID, collectionID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve ingestion config: %w", err)
	}

	chk, err := p.buildChunker(resolved)
	if err != nil {
		return nil, err
	}

	if err := p.store.CreateCollection(ctx, collectionID, p.embed.Dimension()); err != nil {
		return nil, fmt.Errorf("failed to ensure collection: %w", err)
	}
	if p.catalog != nil {
		_ = p.catalog.SetCollectionStatus(ctx, collectionID, StatusProcessing)
		_ = p.catalog.SetCollectionDimension(ctx, collectionID, p.embed.Dimension())
	}

	var (
		mu        sync.Mutex
		failures  []FileFailure
		documents int64
		chunks    int64
		succeeded int64
	)

	semaphore := make(chan struct{}, p.config.Concurrency)
	var wg sync.WaitGroup
	for _, file := range files {
		semaphore <- struct{}{}
		wg.Add(1)
		go func(file string) {
			defer func() {
				<-semaphore
				wg.Done()
			}()

			docs, written, failure := p.ingestFile(ctx, collectionID, file, chk)
			if failure != nil {
				mu.Lock()
				failures = append(failures, *failure)
				mu.Unlock()
				return
			}
			atomic.AddInt64(&documents, int64(docs))
			atomic.AddInt64(&chunks, int64(written))
			atomic.AddInt64(&succeeded, 1)
		}(file)
	}
	wg.Wait()

	report := &Report{
		FilesSucceeded:   int(succeeded),
		FilesFailed:      failures,
		DocumentsWritten: int(documents),
		ChunksWritten:    int(chunks),
	}

	if p.catalog != nil {
		status := StatusCompleted
		if len(failures) > 0 && succeeded == 0 {
			status = StatusError
		}
		_ = p.catalog.SetCollectionStatus(ctx, collectionID, status)
	}

	slog.Info("Ingestion finished",
		"collection", collectionID,
		"files_succeeded", report.FilesSucceeded,
		"files_failed", len(report.FilesFailed),
		"chunks_written", report.ChunksWritten,
		"duration", time.Since(start).Round(time.Millisecond))
	return report, nil
}

func (p *Pipeline) buildChunker(resolved map[string]runtimeconfig.ResolvedValue) (chunker.Chunker, error) {
	cfg := chunker.Config{
		Strategy:            chunker.Strategy(runtimeconfig.String(resolved, "chunking_strategy", "fixed")),
		MinChunkSize:        runtimeconfig.Int(resolved, "min_chunk_size", 100),
		MaxChunkSize:        runtimeconfig.Int(resolved, "max_chunk_size", 1000),
		Overlap:             runtimeconfig.Int(resolved, "chunk_overlap", 100),
		ThresholdPercentile: runtimeconfig.Float(resolved, "semantic_threshold_percentile", 90),
	}
	chk, err := chunker.New(cfg, p.embed.Embed)
	if err != nil {
		return nil, fmt.Errorf("failed to build chunker: %w", err)
	}
	return chk, nil
}

// ingestFile runs one file through process, chunk, embed and upsert. The
// returned failure is nil on success.
func (p *Pipeline) ingestFile(ctx context.Context, collectionID, file string, chk chunker.Chunker) (documents, written int, failure *FileFailure) {
	docs, err := p.processors.Process(ctx, file)
	if err != nil {
		return 0, 0, &FileFailure{File: file, Stage: StageProcess, Cause: err.Error()}
	}

	for _, doc := range docs {
		n, failStage, err := p.ingestDocument(ctx, collectionID, doc, chk)
		if err != nil {
			return documents, written, &FileFailure{File: file, Stage: failStage, Cause: err.Error()}
		}
		documents++
		written += n
	}
	return documents, written, nil
}

func (p *Pipeline) ingestDocument(ctx context.Context, collectionID string, doc processor.Document, chk chunker.Chunker) (int, string, error) {
	docID := uuid.NewString()

	var record *DocumentRecord
	if p.catalog != nil {
		record = &DocumentRecord{ID: docID, CollectionID: collectionID, Name: doc.Name, Source: doc.Source}
		if err := p.catalog.CreateDocument(ctx, record); err != nil {
			slog.Warn("Failed to register document", "document", doc.Name, "error", err)
			record = nil
		}
	}

	finish := func(status CollectionStatus, chunks int) {
		if record != nil {
			_ = p.catalog.FinishDocument(ctx, record.ID, status, chunks)
		}
	}

	texts, err := chk.Chunk(ctx, doc.Text)
	if err != nil {
		finish(StatusError, 0)
		return 0, StageChunk, err
	}
	if len(texts) == 0 {
		finish(StatusCompleted, 0)
		return 0, "", nil
	}

	vectors, err := p.embed.Embed(ctx, texts)
	if err != nil {
		finish(StatusError, 0)
		return 0, StageEmbed, err
	}

	records := make([]vectorstore.ChunkRecord, len(texts))
	for i, text := range texts {
		records[i] = vectorstore.ChunkRecord{
			ID:          uuid.NewString(),
			DocumentID:  docID,
			Text:        text,
			ChunkNumber: i,
			Source:      doc.Source,
			Vector:      vectors[i],
			Metadata:    chunkMetadata(doc, len(texts)),
		}
	}

	for offset := 0; offset < len(records); offset += p.config.UpsertBatchSize {
		end := offset + p.config.UpsertBatchSize
		if end > len(records) {
			end = len(records)
		}
		batch := records[offset:end]
		err := p.retryer.Do(ctx, func() error {
			return p.store.AddChunks(ctx, collectionID, batch)
		})
		if err != nil {
			finish(StatusError, offset)
			return offset, StageUpsert, err
		}
	}

	finish(StatusCompleted, len(records))
	return len(records), "", nil
}

// chunkMetadata carries document-level provenance onto each chunk, so the
// search result can name its sources without a catalog lookup.
func chunkMetadata(doc processor.Document, totalChunks int) map[string]any {
	meta := map[string]any{
		"document_name": doc.Name,
		"source_kind":   sourceKind(doc),
		"total_chunks":  totalChunks,
	}
	for key, value := range doc.Metadata {
		meta[key] = value
	}
	return meta
}

func sourceKind(doc processor.Document) string {
	if format, ok := doc.Metadata["format"]; ok {
		return format
	}
	return "OTHER"
}
