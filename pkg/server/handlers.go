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

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kadirpekel/corpus/pkg/conversation"
	"github.com/kadirpekel/corpus/pkg/ingest"
	"github.com/kadirpekel/corpus/pkg/llm"
	"github.com/kadirpekel/corpus/pkg/prompt"
	"github.com/kadirpekel/corpus/pkg/search"
)

const maxUploadBytes = 256 << 20

// userID reads the authenticated user from the request. Until an identity
// provider is wired in, the X-User-ID header carries it.
func userID(r *http.Request) string {
	if id := r.Header.Get("X-User-ID"); id != "" {
		return id
	}
	return "anonymous"
}

type createCollectionRequest struct {
	Name        string `json:"name"`
	IsPrivate   bool   `json:"is_private"`
	Description string `json:"description"`
}

type collectionResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	UserID    string    `json:"user_id"`
	IsPrivate bool      `json:"is_private"`
	Status    string    `json:"status"`
	Dimension int       `json:"dimension,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func toCollectionResponse(col *ingest.Collection) collectionResponse {
	return collectionResponse{
		ID:        col.ID,
		Name:      col.Name,
		UserID:    col.UserID,
		IsPrivate: col.IsPrivate,
		Status:    string(col.Status),
		Dimension: col.Dimension,
		CreatedAt: col.CreatedAt,
	}
}

func (s *Server) handleCreateCollection(w http.ResponseWriter, r *http.Request) {
	var req createCollectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{
			Error: "validation_error", Message: "invalid JSON body", StatusCode: http.StatusBadRequest,
		})
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{
			Error: "validation_error", Message: "name is required", StatusCode: http.StatusBadRequest,
		})
		return
	}

	col := &ingest.Collection{
		Name:      strings.TrimSpace(req.Name),
		UserID:    userID(r),
		IsPrivate: req.IsPrivate,
	}
	if err := s.catalog.CreateCollection(r.Context(), col); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toCollectionResponse(col))
}

type uploadResponse struct {
	CollectionID string   `json:"collection_id"`
	Files        []string `json:"files"`
	Status       string   `json:"status"`
}

// handleUploadFiles stages the multipart upload on disk and runs ingestion
// in the background. The collection status endpoint reports progress.
func (s *Server) handleUploadFiles(w http.ResponseWriter, r *http.Request) {
	collectionID := chi.URLParam(r, "id")
	col, err := s.catalog.GetCollection(r.Context(), collectionID)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{
			Error: "validation_error", Message: "invalid multipart body", StatusCode: http.StatusBadRequest,
		})
		return
	}
	parts := r.MultipartForm.File["files"]
	if len(parts) == 0 {
		writeJSON(w, http.StatusBadRequest, errorBody{
			Error: "validation_error", Message: "no files provided", StatusCode: http.StatusBadRequest,
		})
		return
	}

	dir := s.uploadDir
	if dir == "" {
		dir = os.TempDir()
	}
	staging, err := os.MkdirTemp(dir, "upload-"+collectionID+"-")
	if err != nil {
		writeError(w, err)
		return
	}

	var paths, names []string
	for _, part := range parts {
		name := filepath.Base(part.Filename)
		dst := filepath.Join(staging, name)
		if err := saveUpload(part, dst); err != nil {
			writeError(w, fmt.Errorf("failed to save %s: %w", name, err))
			return
		}
		paths = append(paths, dst)
		names = append(names, name)
	}

	// Ingestion outlives the request; detach from its cancelation.
	bgCtx := context.WithoutCancel(r.Context())
	go func() {
		defer os.RemoveAll(staging)
		report, err := s.pipeline.Ingest(bgCtx, col.ID, col.UserID, paths)
		if err != nil {
			slog.Error("Background ingestion failed", "collection", col.ID, "error", err)
			return
		}
		slog.Info("Background ingestion finished",
			"collection", col.ID,
			"succeeded", report.FilesSucceeded,
			"failed", len(report.FilesFailed),
			"chunks", report.ChunksWritten)
	}()

	writeJSON(w, http.StatusAccepted, uploadResponse{
		CollectionID: col.ID,
		Files:        names,
		Status:       string(ingest.StatusProcessing),
	})
}

func saveUpload(part *multipart.FileHeader, dst string) error {
	src, err := part.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, src)
	return err
}

type documentStatus struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Chunks int    `json:"chunks"`
}

type statusResponse struct {
	Status    string           `json:"status"`
	Documents []documentStatus `json:"documents"`
	Message   string           `json:"message,omitempty"`
}

func (s *Server) handleCollectionStatus(w http.ResponseWriter, r *http.Request) {
	collectionID := chi.URLParam(r, "id")
	col, err := s.catalog.GetCollection(r.Context(), collectionID)
	if err != nil {
		writeError(w, err)
		return
	}

	docs, err := s.catalog.ListDocuments(r.Context(), col.ID)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := statusResponse{Status: string(col.Status), Documents: make([]documentStatus, 0, len(docs))}
	for _, doc := range docs {
		resp.Documents = append(resp.Documents, documentStatus{
			Name:   doc.Name,
			Status: string(doc.Status),
			Chunks: doc.Chunks,
		})
	}
	if col.Status == ingest.StatusError {
		resp.Message = "ingestion failed for all files"
	}
	writeJSON(w, http.StatusOK, resp)
}

type questionsResponse struct {
	Questions []string `json:"questions"`
}

// handleSuggestedQuestions asks the default LLM provider for starter
// questions based on the document names in the collection.
func (s *Server) handleSuggestedQuestions(w http.ResponseWriter, r *http.Request) {
	collectionID := chi.URLParam(r, "id")
	col, err := s.catalog.GetCollection(r.Context(), collectionID)
	if err != nil {
		writeError(w, err)
		return
	}

	docs, err := s.catalog.ListDocuments(r.Context(), col.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	if len(docs) == 0 {
		writeJSON(w, http.StatusOK, questionsResponse{Questions: []string{}})
		return
	}

	provider, err := s.providers.Get("")
	if err != nil {
		writeError(w, err)
		return
	}

	var names []string
	for _, doc := range docs {
		names = append(names, doc.Name)
	}
	promptText := s.questionsPrompt(r.Context(), userID(r), strings.Join(names, ", "))

	temp := 0.7
	resp, err := provider.Generate(r.Context(), llm.Request{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: promptText}},
		Params:   llm.Params{Temperature: &temp, MaxTokens: 256},
	})
	if err != nil {
		writeError(w, err)
		return
	}

	var questions []string
	for _, line := range strings.Split(resp.Text, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), "-*0123456789.) "))
		if line != "" {
			questions = append(questions, line)
		}
	}
	writeJSON(w, http.StatusOK, questionsResponse{Questions: questions})
}

// questionsPrompt prefers the user's stored QUESTION_GENERATION template and
// falls back to the built-in prompt.
func (s *Server) questionsPrompt(ctx context.Context, uid, documents string) string {
	if s.templates != nil {
		if tpl, err := s.templates.Default(ctx, uid, prompt.TypeQuestionGeneration); err == nil && tpl != nil {
			if rendered, err := tpl.Render(map[string]string{"documents": documents}); err == nil {
				return rendered
			}
		}
	}
	return fmt.Sprintf(
		"The following documents are available: %s.\n\n"+
			"Suggest 3 short questions a reader might ask about them. "+
			"Return one question per line, no numbering.",
		documents)
}

type searchRequest struct {
	Question       string         `json:"question"`
	CollectionID   string         `json:"collection_id"`
	UserID         string         `json:"user_id,omitempty"`
	SessionID      string         `json:"session_id,omitempty"`
	ConfigMetadata map[string]any `json:"config_metadata,omitempty"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{
			Error: "validation_error", Message: "invalid JSON body", StatusCode: http.StatusBadRequest,
		})
		return
	}

	uid := req.UserID
	if uid == "" {
		uid = userID(r)
	}
	result, err := s.searcher.Search(r.Context(), search.Request{
		Question:     req.Question,
		CollectionID: req.CollectionID,
		UserID:       uid,
		SessionID:    req.SessionID,
		Config:       req.ConfigMetadata,
	})
	if err != nil {
		if s.metrics != nil {
			var pipeErr *search.PipelineError
			if errors.As(err, &pipeErr) {
				s.metrics.ObserveSearchError(string(pipeErr.Stage))
			}
		}
		writeError(w, err)
		return
	}

	if s.metrics != nil {
		s.metrics.ObserveSearch(req.CollectionID,
			time.Duration(result.ExecutionTime*float64(time.Second)), len(result.QueryResults))
	}
	writeJSON(w, http.StatusOK, result)
}

type createSessionRequest struct {
	CollectionID string `json:"collection_id"`
}

type sessionResponse struct {
	SessionID string `json:"session_id"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{
			Error: "validation_error", Message: "invalid JSON body", StatusCode: http.StatusBadRequest,
		})
		return
	}

	id, err := s.sessions.CreateSession(r.Context(), userID(r), req.CollectionID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sessionResponse{SessionID: id})
}

type appendMessageRequest struct {
	Content    string         `json:"content"`
	Role       string         `json:"role"`
	Type       string         `json:"type"`
	TokenCount int            `json:"token_count,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

type messageResponse struct {
	ID        string `json:"id"`
	SessionID string `json:"session_id"`
}

func (s *Server) handleAppendMessage(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")

	var req appendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{
			Error: "validation_error", Message: "invalid JSON body", StatusCode: http.StatusBadRequest,
		})
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{
			Error: "validation_error", Message: "content is required", StatusCode: http.StatusBadRequest,
		})
		return
	}

	role := conversation.Role(req.Role)
	if role == "" {
		role = conversation.RoleUser
	}
	msgType := conversation.MessageType(req.Type)
	if msgType == "" {
		msgType = conversation.TypeQuestion
	}

	id, err := s.sessions.AppendMessage(r.Context(), &conversation.Message{
		SessionID:  sessionID,
		Role:       role,
		Type:       msgType,
		Content:    req.Content,
		TokenCount: req.TokenCount,
		Metadata:   req.Metadata,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, messageResponse{ID: id, SessionID: sessionID})
}

type pipelineResponse struct {
	UserID      string               `json:"user_id"`
	Config      map[string]any       `json:"config"`
	Collections []collectionResponse `json:"collections"`
}

// handleUserPipeline returns the user's effective configuration along with
// the collections they own.
func (s *Server) handleUserPipeline(w http.ResponseWriter, r *http.Request) {
	uid := chi.URLParam(r, "id")

	resolved, err := s.resolver.Effective(r.Context(), uid, "")
	if err != nil {
		writeError(w, err)
		return
	}
	cfg := make(map[string]any, len(resolved))
	for key, value := range resolved {
		cfg[key] = map[string]any{"value": value.Value, "source": value.Source}
	}

	cols, err := s.catalog.ListCollections(r.Context(), uid)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]collectionResponse, 0, len(cols))
	for _, col := range cols {
		out = append(out, toCollectionResponse(col))
	}

	writeJSON(w, http.StatusOK, pipelineResponse{UserID: uid, Config: cfg, Collections: out})
}

type meResponse struct {
	UserID string `json:"user_id"`
}

func (s *Server) handleAuthMe(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, meResponse{UserID: userID(r)})
}

type healthResponse struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	components := map[string]string{}
	status := "ok"

	if s.store != nil {
		components["vector_store"] = s.store.Name()
	}
	if s.providers != nil {
		names := s.providers.Names()
		if len(names) == 0 {
			components["llm"] = "no providers registered"
			status = "degraded"
		} else {
			components["llm"] = strings.Join(names, ",")
		}
	}
	if s.sessions != nil {
		if err := s.sessions.Ping(r.Context()); err != nil {
			components["database"] = err.Error()
			status = "degraded"
		} else {
			components["database"] = "ok"
		}
	}

	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, healthResponse{Status: status, Components: components})
}
