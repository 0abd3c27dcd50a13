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

// Package search runs the retrieval and generation pipeline: resolve config,
// rewrite, embed, retrieve, rerank, prompt, generate, assemble.
package search

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/codes"

	"github.com/kadirpekel/corpus/pkg/conversation"
	"github.com/kadirpekel/corpus/pkg/embedder"
	"github.com/kadirpekel/corpus/pkg/llm"
	"github.com/kadirpekel/corpus/pkg/observability"
	"github.com/kadirpekel/corpus/pkg/prompt"
	"github.com/kadirpekel/corpus/pkg/rewrite"
	"github.com/kadirpekel/corpus/pkg/runtimeconfig"
	"github.com/kadirpekel/corpus/pkg/vectorstore"
)

// Stage of the search pipeline. A request walks the stages in order; any
// stage may fail into a terminal error carrying the stage name.
type Stage string

const (
	StageReceived        Stage = "RECEIVED"
	StageResolvingConfig Stage = "RESOLVING_CONFIG"
	StageRewriting       Stage = "REWRITING"
	StageEmbedding       Stage = "EMBEDDING"
	StageRetrieving      Stage = "RETRIEVING"
	StageReranking       Stage = "RERANKING"
	StagePrompting       Stage = "PROMPTING"
	StageGenerating      Stage = "GENERATING"
	StageAssembling      Stage = "ASSEMBLING"
	StageDone            Stage = "DONE"
)

// insufficientContextAnswer is returned without an LLM call when retrieval
// finds nothing.
const insufficientContextAnswer = "I could not find relevant information in the collection to answer this question. Try rephrasing the question or ingesting more documents."

const defaultGenerationTemplate = `Answer the question using only the provided context. If the context does not contain the answer, say so.

Context:
{context}

Question: {question}

Answer:`

// Request is one search invocation.
type Request struct {
	CollectionID string
	UserID       string
	Question     string

	// SessionID links the request to a conversation; empty means stateless.
	SessionID string

	// Config holds request-scope overrides applied on top of the resolved
	// runtime config.
	Config map[string]any

	// Filter restricts retrieval by chunk metadata.
	Filter *vectorstore.Filter
}

// Result is the assembled answer with chunk-level provenance.
type Result struct {
	Answer        string        `json:"answer"`
	QueryResults  []ChunkResult `json:"query_results"`
	Documents     []DocumentRef `json:"documents"`
	ExecutionTime float64       `json:"execution_time"`
	TokenUsage    int           `json:"token_usage"`

	// CotOutput carries the reasoning trace when chain-of-thought ran.
	CotOutput any `json:"cot_output,omitempty"`
}

// ChunkResult pairs one retrieved chunk with its similarity score.
type ChunkResult struct {
	Chunk Chunk   `json:"chunk"`
	Score float32 `json:"score"`
}

// Chunk is the wire form of a retrieved chunk.
type Chunk struct {
	ChunkID    string        `json:"chunk_id"`
	Text       string        `json:"text"`
	DocumentID string        `json:"document_id"`
	Metadata   ChunkMetadata `json:"metadata"`
}

// ChunkMetadata carries chunk provenance.
type ChunkMetadata struct {
	PageNumber  int    `json:"page_number,omitempty"`
	ChunkNumber int    `json:"chunk_number"`
	Source      string `json:"source"`
}

// DocumentRef summarizes one source document contributing to the answer.
type DocumentRef struct {
	DocumentName string `json:"document_name"`
	TotalPages   int    `json:"total_pages"`
	TotalChunks  int    `json:"total_chunks"`
}

// TemplateStore supplies prompt templates.
type TemplateStore interface {
	Default(ctx context.Context, userID string, typ prompt.TemplateType) (*prompt.Template, error)
}

// SessionStore supplies and records conversation history.
type SessionStore interface {
	RecentMessages(ctx context.Context, sessionID string, count int) ([]*conversation.Message, error)
	AppendMessage(ctx context.Context, m *conversation.Message) (string, error)
}

// PipelineError is a terminal pipeline failure tagged with the stage that
// caused it.
type PipelineError struct {
	Stage Stage
	Err   error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("search failed at %s: %v", e.Stage, e.Err)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

func failed(stage Stage, err error) *PipelineError {
	return &PipelineError{Stage: stage, Err: err}
}

// Service runs searches against one vector store.
type Service struct {
	store     vectorstore.Store
	embed     embedder.Embedder
	providers *llm.Registry
	resolver  *runtimeconfig.Resolver
	templates TemplateStore
	sessions  SessionStore
	hyde      rewrite.Rewriter
	expander  rewrite.Rewriter
	reranker  *Reranker
	tracer    *observability.Tracer
}

// Option configures a Service.
type Option func(*Service)

// WithTemplates sets the prompt template source.
func WithTemplates(templates TemplateStore) Option {
	return func(s *Service) { s.templates = templates }
}

// WithSessions enables conversation history.
func WithSessions(sessions SessionStore) Option {
	return func(s *Service) { s.sessions = sessions }
}

// WithHyDE sets the rewriter used when hyde_enabled resolves true.
func WithHyDE(r rewrite.Rewriter) Option {
	return func(s *Service) { s.hyde = r }
}

// WithExpander sets the rewriter used when query_expansion_enabled resolves
// true.
func WithExpander(r rewrite.Rewriter) Option {
	return func(s *Service) { s.expander = r }
}

// WithReranker sets the reranker used when rerank_enabled resolves true.
func WithReranker(r *Reranker) Option {
	return func(s *Service) { s.reranker = r }
}

// WithTracer records a span per search. A nil tracer is a no-op.
func WithTracer(tracer *observability.Tracer) Option {
	return func(s *Service) { s.tracer = tracer }
}

// NewService creates a search service.
func NewService(store vectorstore.Store, embed embedder.Embedder, providers *llm.Registry, resolver *runtimeconfig.Resolver, opts ...Option) *Service {
	s := &Service{
		store:     store,
		embed:     embed,
		providers: providers,
		resolver:  resolver,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Search runs the full pipeline for one question.
func (s *Service) Search(ctx context.Context, req Request) (*Result, error) {
	ctx, span := s.tracer.StartSearch(ctx, req.CollectionID, req.UserID)
	defer span.End()

	result, err := s.search(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return result, err
}

func (s *Service) search(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()

	if req.Question == "" {
		return nil, failed(StageReceived, rewrite.NewInvalidQueryError("question is empty"))
	}
	if req.CollectionID == "" {
		return nil, failed(StageReceived, fmt.Errorf("collection id is required"))
	}

	resolved, err := s.resolveConfig(ctx, req)
	if err != nil {
		return nil, failed(StageResolvingConfig, err)
	}

	question := s.rewriteQuestion(ctx, req.Question, resolved)

	vectors, err := s.embed.Embed(ctx, []string{question})
	if err != nil {
		return nil, failed(StageEmbedding, err)
	}

	topK := runtimeconfig.Int(resolved, "top_k", 5)
	matches, err := s.store.Query(ctx, req.CollectionID, vectors[0], topK, req.Filter)
	if err != nil {
		return nil, failed(StageRetrieving, err)
	}

	if len(matches) == 0 {
		return &Result{
			Answer:        insufficientContextAnswer,
			QueryResults:  []ChunkResult{},
			Documents:     []DocumentRef{},
			ExecutionTime: time.Since(start).Seconds(),
		}, nil
	}

	if runtimeconfig.Bool(resolved, "rerank_enabled", false) && s.reranker != nil {
		matches = s.reranker.Rerank(ctx, req.Question, matches)
		topN := runtimeconfig.Int(resolved, "rerank_top_n", 3)
		if len(matches) > topN {
			matches = matches[:topN]
		}
	}

	rendered, systemPrompt, err := s.buildPrompt(ctx, req, matches, resolved)
	if err != nil {
		return nil, failed(StagePrompting, err)
	}

	resp, err := s.generate(ctx, rendered, systemPrompt, resolved)
	if err != nil {
		return nil, failed(StageGenerating, err)
	}

	result := &Result{
		Answer:        resp.Text,
		QueryResults:  chunkResults(matches),
		Documents:     documentRefs(matches),
		ExecutionTime: time.Since(start).Seconds(),
		TokenUsage:    resp.TotalTokens(),
	}

	s.recordTurn(ctx, req, result)
	return result, nil
}

func (s *Service) resolveConfig(ctx context.Context, req Request) (map[string]runtimeconfig.ResolvedValue, error) {
	resolved, err := s.resolver.Effective(ctx, req.UserID, req.CollectionID)
	if err != nil {
		return nil, err
	}
	for key, value := range req.Config {
		resolved[key] = runtimeconfig.ResolvedValue{Value: value, Source: "REQUEST"}
	}
	return resolved, nil
}

// rewriteQuestion applies the enabled rewriters. A rewriter failure keeps
// the previous query, so the search never dies here.
func (s *Service) rewriteQuestion(ctx context.Context, question string, resolved map[string]runtimeconfig.ResolvedValue) string {
	var rewriters []rewrite.Rewriter
	if runtimeconfig.Bool(resolved, "query_expansion_enabled", false) && s.expander != nil {
		rewriters = append(rewriters, s.expander)
	}
	if runtimeconfig.Bool(resolved, "hyde_enabled", false) && s.hyde != nil {
		rewriters = append(rewriters, s.hyde)
	}
	if len(rewriters) == 0 {
		return question
	}

	rewritten, err := rewrite.NewChain(rewriters...).Rewrite(ctx, question)
	if err != nil {
		return question
	}
	return rewritten
}

func (s *Service) buildPrompt(ctx context.Context, req Request, matches []vectorstore.QueryMatch, resolved map[string]runtimeconfig.ResolvedValue) (string, string, error) {
	tmpl := s.loadTemplate(ctx, req.UserID)

	texts := make([]string, len(matches))
	for i, m := range matches {
		texts[i] = m.Text
	}
	packed := prompt.PackContext(texts, prompt.PackOptions{
		MaxChunks: runtimeconfig.Int(resolved, "context_max_chunks", 10),
		MaxChars:  runtimeconfig.Int(resolved, "context_max_chars", 0),
	})

	values := map[string]string{
		"question": req.Question,
		"context":  packed,
		"history":  "",
	}
	if req.SessionID != "" && s.sessions != nil {
		values["history"] = s.history(ctx, req.SessionID, resolved)
	}

	rendered, err := tmpl.Render(values)
	if err != nil {
		return "", "", err
	}
	return rendered, tmpl.SystemPrompt, nil
}

func (s *Service) loadTemplate(ctx context.Context, userID string) *prompt.Template {
	if s.templates != nil {
		tmpl, err := s.templates.Default(ctx, userID, prompt.TypeGeneration)
		if err == nil {
			return tmpl
		}
	}
	return &prompt.Template{
		Name:      "builtin-generation",
		Type:      prompt.TypeGeneration,
		Text:      defaultGenerationTemplate,
		Variables: []string{"question", "context", "history"},
	}
}

func (s *Service) history(ctx context.Context, sessionID string, resolved map[string]runtimeconfig.ResolvedValue) string {
	turns := runtimeconfig.Int(resolved, "history_max_turns", 10)
	messages, err := s.sessions.RecentMessages(ctx, sessionID, turns)
	if err != nil {
		return ""
	}
	windowed := conversation.Window(messages, conversation.WindowOptions{
		MaxTurns:  turns,
		MaxTokens: runtimeconfig.Int(resolved, "history_max_tokens", 2000),
	})
	return conversation.Transcript(windowed)
}

func (s *Service) generate(ctx context.Context, rendered, systemPrompt string, resolved map[string]runtimeconfig.ResolvedValue) (*llm.Response, error) {
	provider, err := s.providers.Get(runtimeconfig.String(resolved, "llm_provider", ""))
	if err != nil {
		return nil, err
	}

	var messages []llm.Message
	if systemPrompt != "" {
		messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: systemPrompt})
	}
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: rendered})

	temp := runtimeconfig.Float(resolved, "temperature", 0.7)
	return provider.Generate(ctx, llm.Request{
		Messages: messages,
		Params: llm.Params{
			Temperature: &temp,
			MaxTokens:   runtimeconfig.Int(resolved, "max_tokens", 1024),
		},
	})
}

// recordTurn appends the question and answer to the session log. Failures
// here do not fail the search.
func (s *Service) recordTurn(ctx context.Context, req Request, result *Result) {
	if req.SessionID == "" || s.sessions == nil {
		return
	}
	_, _ = s.sessions.AppendMessage(ctx, &conversation.Message{
		SessionID: req.SessionID,
		Role:      conversation.RoleUser,
		Type:      conversation.TypeQuestion,
		Content:   req.Question,
	})
	_, _ = s.sessions.AppendMessage(ctx, &conversation.Message{
		SessionID:     req.SessionID,
		Role:          conversation.RoleAssistant,
		Type:          conversation.TypeAnswer,
		Content:       result.Answer,
		TokenCount:    result.TokenUsage,
		ExecutionTime: result.ExecutionTime,
	})
}

// chunkResults converts store matches into the wire shape.
func chunkResults(matches []vectorstore.QueryMatch) []ChunkResult {
	out := make([]ChunkResult, len(matches))
	for i, m := range matches {
		out[i] = ChunkResult{
			Chunk: Chunk{
				ChunkID:    m.ID,
				Text:       m.Text,
				DocumentID: m.DocumentID,
				Metadata: ChunkMetadata{
					PageNumber:  metaInt(m.Metadata, "page_number"),
					ChunkNumber: m.ChunkNumber,
					Source:      m.Source,
				},
			},
			Score: m.Score,
		}
	}
	return out
}

// documentRefs lists the distinct source documents of the matches, in match
// order.
func documentRefs(matches []vectorstore.QueryMatch) []DocumentRef {
	seen := make(map[string]bool)
	var docs []DocumentRef
	for _, m := range matches {
		if m.DocumentID == "" || seen[m.DocumentID] {
			continue
		}
		seen[m.DocumentID] = true
		name := metaString(m.Metadata, "document_name")
		if name == "" {
			name = m.DocumentID
		}
		docs = append(docs, DocumentRef{
			DocumentName: name,
			TotalPages:   metaInt(m.Metadata, "pages"),
			TotalChunks:  metaInt(m.Metadata, "total_chunks"),
		})
	}
	return docs
}

// metaInt reads an int metadata value. Backends round-trip numbers as JSON
// floats and document-level metadata as strings, so all three are accepted.
func metaInt(meta map[string]any, key string) int {
	switch n := meta[key].(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case string:
		if v, err := strconv.Atoi(n); err == nil {
			return v
		}
	}
	return 0
}

func metaString(meta map[string]any, key string) string {
	if s, ok := meta[key].(string); ok {
		return s
	}
	return ""
}
