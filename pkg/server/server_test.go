package server

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/corpus/pkg/config"
	"github.com/kadirpekel/corpus/pkg/conversation"
	"github.com/kadirpekel/corpus/pkg/ingest"
	"github.com/kadirpekel/corpus/pkg/llm"
	"github.com/kadirpekel/corpus/pkg/observability"
	"github.com/kadirpekel/corpus/pkg/processor"
	"github.com/kadirpekel/corpus/pkg/prompt"
	"github.com/kadirpekel/corpus/pkg/runtimeconfig"
	"github.com/kadirpekel/corpus/pkg/search"
	"github.com/kadirpekel/corpus/pkg/vectorstore"
)

type fakeProvider struct {
	text string
	err  error

	lastPrompt string
}

func (f *fakeProvider) Generate(_ context.Context, req llm.Request) (*llm.Response, error) {
	f.lastPrompt = req.Messages[len(req.Messages)-1].Content
	if f.err != nil {
		return nil, f.err
	}
	return &llm.Response{Text: f.text, Model: "fake", PromptTokens: 10, CompletionTokens: 20}, nil
}

func (f *fakeProvider) Name() string  { return "fake" }
func (f *fakeProvider) Model() string { return "fake" }
func (f *fakeProvider) Close() error  { return nil }

type fakeEmbedder struct{}

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = []float32{float32(len(text)), 1, 0, 0}
	}
	return vectors, nil
}

func (f *fakeEmbedder) Dimension() int { return 4 }
func (f *fakeEmbedder) Model() string  { return "fake" }
func (f *fakeEmbedder) Close() error   { return nil }

type harness struct {
	server    *Server
	catalog   *ingest.Catalog
	templates *prompt.SQLStore
	provider  *fakeProvider
}

func newHarness(t *testing.T, searcher Searcher, providerText string) *harness {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	catalog, err := ingest.NewCatalog(db, "sqlite3")
	require.NoError(t, err)

	sessions, err := conversation.NewSQLStore(db, "sqlite3")
	require.NoError(t, err)

	cfgStore, err := runtimeconfig.NewSQLStore(db, "sqlite3")
	require.NoError(t, err)
	resolver := runtimeconfig.NewResolver(cfgStore, map[string]any{
		"chunking_strategy": "fixed",
		"min_chunk_size":    20,
		"max_chunk_size":    200,
		"chunk_overlap":     20,
	})

	templates, err := prompt.NewSQLStore(db, "sqlite3")
	require.NoError(t, err)

	provider := &fakeProvider{text: providerText}
	registry := llm.NewRegistry()
	registry.Register(provider)

	store, err := vectorstore.New(config.VectorStoreConfig{Type: "chromem"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	pipeline := ingest.NewPipeline(store, &fakeEmbedder{},
		processor.NewRegistry(processor.NewTextProcessor()), resolver,
		ingest.WithCatalog(catalog))

	srv := New(config.ServerConfig{}, searcher, pipeline, catalog, sessions, resolver,
		registry, store,
		WithMetrics(observability.NewMetrics()),
		WithTemplateStore(templates),
		WithUploadDir(t.TempDir()))

	return &harness{server: srv, catalog: catalog, templates: templates, provider: provider}
}

func doJSON(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-ID", "u1")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))
	return v
}

func TestCreateCollection(t *testing.T) {
	h := newHarness(t, nil, "")

	rec := doJSON(t, h.server, "POST", "/api/collections",
		map[string]any{"name": "docs", "is_private": true})
	require.Equal(t, http.StatusCreated, rec.Code)

	col := decode[collectionResponse](t, rec)
	assert.NotEmpty(t, col.ID)
	assert.Equal(t, "docs", col.Name)
	assert.Equal(t, "u1", col.UserID)
	assert.True(t, col.IsPrivate)
	assert.Equal(t, string(ingest.StatusCreated), col.Status)
}

func TestCreateCollectionValidation(t *testing.T) {
	h := newHarness(t, nil, "")

	rec := doJSON(t, h.server, "POST", "/api/collections", map[string]any{"name": "  "})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decode[errorBody](t, rec)
	assert.Equal(t, "validation_error", body.Error)
}

func TestCreateCollectionDuplicateConflicts(t *testing.T) {
	h := newHarness(t, nil, "")

	rec := doJSON(t, h.server, "POST", "/api/collections", map[string]any{"name": "docs"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, h.server, "POST", "/api/collections", map[string]any{"name": "docs"})
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "already_exists", decode[errorBody](t, rec).Error)
}

func TestCollectionStatusNotFound(t *testing.T) {
	h := newHarness(t, nil, "")

	rec := doJSON(t, h.server, "GET", "/api/collections/missing/status", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decode[errorBody](t, rec).Error)
}

func TestUploadFilesIngestsInBackground(t *testing.T) {
	h := newHarness(t, nil, "")

	created := decode[collectionResponse](t,
		doJSON(t, h.server, "POST", "/api/collections", map[string]any{"name": "docs"}))

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("files", "note.txt")
	require.NoError(t, err)
	_, err = part.Write([]byte(strings.Repeat("Go makes concurrent servers straightforward to write. ", 10)))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest("POST", "/api/collections/"+created.ID+"/files", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("X-User-ID", "u1")
	rec := httptest.NewRecorder()
	h.server.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	resp := decode[uploadResponse](t, rec)
	assert.Equal(t, []string{"note.txt"}, resp.Files)
	assert.Equal(t, string(ingest.StatusProcessing), resp.Status)

	deadline := time.After(10 * time.Second)
	for {
		col, err := h.catalog.GetCollection(context.Background(), created.ID)
		require.NoError(t, err)
		if col.Status == ingest.StatusCompleted {
			assert.Equal(t, 4, col.Dimension)
			break
		}
		select {
		case <-deadline:
			t.Fatalf("collection never completed, status %s", col.Status)
		case <-time.After(20 * time.Millisecond):
		}
	}

	status := decode[statusResponse](t,
		doJSON(t, h.server, "GET", "/api/collections/"+created.ID+"/status", nil))
	assert.Equal(t, string(ingest.StatusCompleted), status.Status)
	require.Len(t, status.Documents, 1)
	assert.Equal(t, "note.txt", status.Documents[0].Name)
	assert.Greater(t, status.Documents[0].Chunks, 0)
}

func TestUploadWithoutFiles(t *testing.T) {
	h := newHarness(t, nil, "")

	created := decode[collectionResponse](t,
		doJSON(t, h.server, "POST", "/api/collections", map[string]any{"name": "docs"}))

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest("POST", "/api/collections/"+created.ID+"/files", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	h.server.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSuggestedQuestions(t *testing.T) {
	h := newHarness(t, nil, "What is Go?\nHow do channels work?\nWhy use interfaces?")

	created := decode[collectionResponse](t,
		doJSON(t, h.server, "POST", "/api/collections", map[string]any{"name": "docs"}))

	rec := doJSON(t, h.server, "GET", "/api/collections/"+created.ID+"/questions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[questionsResponse](t, rec).Questions)

	require.NoError(t, h.catalog.CreateDocument(context.Background(), &ingest.DocumentRecord{
		ID: "d1", CollectionID: created.ID, Name: "intro.txt", Source: "intro.txt",
	}))

	rec = doJSON(t, h.server, "GET", "/api/collections/"+created.ID+"/questions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	questions := decode[questionsResponse](t, rec).Questions
	require.Len(t, questions, 3)
	assert.Equal(t, "What is Go?", questions[0])
}

func TestSuggestedQuestionsUsesStoredTemplate(t *testing.T) {
	h := newHarness(t, nil, "Q1\nQ2\nQ3")

	created := decode[collectionResponse](t,
		doJSON(t, h.server, "POST", "/api/collections", map[string]any{"name": "docs"}))
	require.NoError(t, h.catalog.CreateDocument(context.Background(), &ingest.DocumentRecord{
		CollectionID: created.ID, Name: "guide.pdf", Source: "guide.pdf",
	}))

	require.NoError(t, h.templates.Save(context.Background(), &prompt.Template{
		UserID:    "u1",
		Name:      "starter-questions",
		Type:      prompt.TypeQuestionGeneration,
		Text:      "Given these documents: {documents}, propose questions.",
		Variables: []string{"documents"},
		IsDefault: true,
	}))

	rec := doJSON(t, h.server, "GET", "/api/collections/"+created.ID+"/questions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Given these documents: guide.pdf, propose questions.", h.provider.lastPrompt)
}

func TestSearchEndpoint(t *testing.T) {
	var gotReq search.Request
	searcher := SearchFunc(func(_ context.Context, req search.Request) (*search.Result, error) {
		gotReq = req
		return &search.Result{
			Answer:    "Go is a language.",
			Documents: []search.DocumentRef{{DocumentName: "d1"}},
			QueryResults: []search.ChunkResult{
				{Chunk: search.Chunk{ChunkID: "c1"}, Score: 0.9},
			},
			TokenUsage: 30,
		}, nil
	})
	h := newHarness(t, searcher, "")

	rec := doJSON(t, h.server, "POST", "/api/search", map[string]any{
		"question":        "what is go",
		"collection_id":   "col",
		"config_metadata": map[string]any{"top_k": 2},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	result := decode[search.Result](t, rec)
	assert.Equal(t, "Go is a language.", result.Answer)
	require.Len(t, result.Documents, 1)
	assert.Equal(t, "d1", result.Documents[0].DocumentName)
	require.Len(t, result.QueryResults, 1)
	assert.Equal(t, "c1", result.QueryResults[0].Chunk.ChunkID)

	assert.Equal(t, "u1", gotReq.UserID)
	assert.Equal(t, "col", gotReq.CollectionID)
	assert.Equal(t, float64(2), gotReq.Config["top_k"])
}

func TestSearchErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantKind   string
	}{
		{
			name: "opaque failure",
			err: &search.PipelineError{Stage: search.StageEmbedding,
				Err: fmt.Errorf("embedding endpoint returned 500")},
			wantStatus: http.StatusInternalServerError,
			wantKind:   "search_failed",
		},
		{
			name: "missing collection",
			err: &search.PipelineError{Stage: search.StageRetrieving,
				Err: vectorstore.NewCollectionNotFoundError("chromem", "col")},
			wantStatus: http.StatusNotFound,
			wantKind:   "not_found",
		},
		{
			name: "provider down",
			err: &search.PipelineError{Stage: search.StageGenerating,
				Err: llm.NewProviderError("fake", "request failed", nil)},
			wantStatus: http.StatusServiceUnavailable,
			wantKind:   "llm_provider_error",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			searcher := SearchFunc(func(context.Context, search.Request) (*search.Result, error) {
				return nil, tc.err
			})
			h := newHarness(t, searcher, "")

			rec := doJSON(t, h.server, "POST", "/api/search",
				map[string]any{"question": "q", "collection_id": "col"})
			require.Equal(t, tc.wantStatus, rec.Code)
			assert.Equal(t, tc.wantKind, decode[errorBody](t, rec).Error)
		})
	}
}

func TestConversationEndpoints(t *testing.T) {
	h := newHarness(t, nil, "")

	rec := doJSON(t, h.server, "POST", "/api/conversations", map[string]any{"collection_id": "col"})
	require.Equal(t, http.StatusCreated, rec.Code)
	session := decode[sessionResponse](t, rec)
	require.NotEmpty(t, session.SessionID)

	rec = doJSON(t, h.server, "POST", "/api/conversations/"+session.SessionID+"/messages",
		map[string]any{"content": "hello", "role": "user", "type": "question"})
	require.Equal(t, http.StatusCreated, rec.Code)
	msg := decode[messageResponse](t, rec)
	assert.NotEmpty(t, msg.ID)
	assert.Equal(t, session.SessionID, msg.SessionID)

	rec = doJSON(t, h.server, "POST", "/api/conversations/missing/messages",
		map[string]any{"content": "hello"})
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, h.server, "POST", "/api/conversations/"+session.SessionID+"/messages",
		map[string]any{"content": ""})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUserPipeline(t *testing.T) {
	h := newHarness(t, nil, "")

	doJSON(t, h.server, "POST", "/api/collections", map[string]any{"name": "docs"})

	rec := doJSON(t, h.server, "GET", "/api/users/u1/pipeline", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[pipelineResponse](t, rec)
	assert.Equal(t, "u1", resp.UserID)
	require.Len(t, resp.Collections, 1)
	assert.Equal(t, "docs", resp.Collections[0].Name)
	require.Contains(t, resp.Config, "chunking_strategy")
}

func TestAuthMe(t *testing.T) {
	h := newHarness(t, nil, "")

	rec := doJSON(t, h.server, "GET", "/api/auth/me", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "u1", decode[meResponse](t, rec).UserID)

	req := httptest.NewRequest("GET", "/api/auth/me", nil)
	anon := httptest.NewRecorder()
	h.server.ServeHTTP(anon, req)
	assert.Equal(t, "anonymous", decode[meResponse](t, anon).UserID)
}

func TestHealth(t *testing.T) {
	h := newHarness(t, nil, "")

	rec := doJSON(t, h.server, "GET", "/api/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[healthResponse](t, rec)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "ok", resp.Components["database"])
	assert.Equal(t, "chromem", resp.Components["vector_store"])
	assert.Equal(t, "fake", resp.Components["llm"])
}

func TestMetricsEndpoint(t *testing.T) {
	searcher := SearchFunc(func(context.Context, search.Request) (*search.Result, error) {
		return &search.Result{Answer: "a"}, nil
	})
	h := newHarness(t, searcher, "")

	doJSON(t, h.server, "POST", "/api/search", map[string]any{"question": "q", "collection_id": "col"})

	rec := doJSON(t, h.server, "GET", "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "corpus_search_total")
}
