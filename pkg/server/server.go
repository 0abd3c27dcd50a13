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

// Package server exposes the HTTP API.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kadirpekel/corpus/pkg/config"
	"github.com/kadirpekel/corpus/pkg/conversation"
	"github.com/kadirpekel/corpus/pkg/ingest"
	"github.com/kadirpekel/corpus/pkg/llm"
	"github.com/kadirpekel/corpus/pkg/observability"
	"github.com/kadirpekel/corpus/pkg/runtimeconfig"
	"github.com/kadirpekel/corpus/pkg/search"
	"github.com/kadirpekel/corpus/pkg/vectorstore"
)

// Searcher answers questions; satisfied by search.Service and, through
// SearchFunc, by the reasoner.
type Searcher interface {
	Search(ctx context.Context, req search.Request) (*search.Result, error)
}

// SearchFunc adapts a function to the Searcher interface.
type SearchFunc func(ctx context.Context, req search.Request) (*search.Result, error)

// Search calls f.
func (f SearchFunc) Search(ctx context.Context, req search.Request) (*search.Result, error) {
	return f(ctx, req)
}

// Server is the HTTP API.
type Server struct {
	cfg       config.ServerConfig
	router    chi.Router
	searcher  Searcher
	pipeline  *ingest.Pipeline
	catalog   *ingest.Catalog
	sessions  *conversation.SQLStore
	resolver  *runtimeconfig.Resolver
	providers *llm.Registry
	store     vectorstore.Store
	templates search.TemplateStore
	metrics   *observability.Metrics
	uploadDir string
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics mounts /metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithUploadDir sets where uploaded files are staged (default os.TempDir).
func WithUploadDir(dir string) Option {
	return func(s *Server) { s.uploadDir = dir }
}

// WithTemplateStore lets stored prompt templates override the built-in
// suggested-questions prompt.
func WithTemplateStore(templates search.TemplateStore) Option {
	return func(s *Server) { s.templates = templates }
}

// New creates the server and its routes.
func New(cfg config.ServerConfig, searcher Searcher, pipeline *ingest.Pipeline, catalog *ingest.Catalog,
	sessions *conversation.SQLStore, resolver *runtimeconfig.Resolver, providers *llm.Registry,
	store vectorstore.Store, opts ...Option) *Server {

	s := &Server{
		cfg:       cfg,
		searcher:  searcher,
		pipeline:  pipeline,
		catalog:   catalog,
		sessions:  sessions,
		resolver:  resolver,
		providers: providers,
		store:     store,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(120 * time.Second))

	r.Route("/api", func(r chi.Router) {
		r.Post("/collections", s.handleCreateCollection)
		r.Post("/collections/{id}/files", s.handleUploadFiles)
		r.Get("/collections/{id}/status", s.handleCollectionStatus)
		r.Get("/collections/{id}/questions", s.handleSuggestedQuestions)

		r.Post("/search", s.handleSearch)

		r.Post("/conversations", s.handleCreateSession)
		r.Post("/conversations/{session_id}/messages", s.handleAppendMessage)

		r.Get("/users/{id}/pipeline", s.handleUserPipeline)
		r.Get("/auth/me", s.handleAuthMe)
		r.Get("/health", s.handleHealth)
	})

	if s.metrics != nil {
		r.Method("GET", "/metrics", s.metrics.Handler())
	}
	return r
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe runs the server until the context is canceled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// requestLogger logs one line per request.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		slog.Info("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start).Round(time.Microsecond),
			"request_id", middleware.GetReqID(r.Context()))
	})
}
