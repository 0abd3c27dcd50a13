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

// Package reasoner decomposes complex questions into sub-questions, answers
// each through the search pipeline and fuses the results.
package reasoner

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kadirpekel/corpus/pkg/llm"
	"github.com/kadirpekel/corpus/pkg/runtimeconfig"
	"github.com/kadirpekel/corpus/pkg/search"
)

const decomposePrompt = `Break the following question into at most %d self-contained sub-questions that together fully answer it.

Question: %s

Respond with one sub-question per line, nothing else.`

const aggregatePrompt = `Original question: %s

Sub-questions and their answers:
%s

Using only the information above, write a complete answer to the original question.`

// Step records one sub-question round trip through the search pipeline.
type Step struct {
	SubQuestion   string   `json:"sub_question"`
	Answer        string   `json:"intermediate_answer"`
	ContextUsed   []string `json:"context_used"`
	ExecutionTime float64  `json:"execution_time"`
	TokenUsage    int      `json:"token_usage"`
}

// Output is the full reasoning trace.
type Output struct {
	Question      string        `json:"question"`
	Class         QuestionClass `json:"class"`
	Steps         []Step        `json:"reasoning_steps"`
	FinalAnswer   string        `json:"final_answer"`
	TokenUsage    int           `json:"token_usage"`
	ExecutionTime float64       `json:"execution_time"`
}

// Searcher answers one question; satisfied by search.Service.
type Searcher interface {
	Search(ctx context.Context, req search.Request) (*search.Result, error)
}

// Reasoner wraps a searcher with chain-of-thought decomposition.
type Reasoner struct {
	searcher  Searcher
	providers *llm.Registry
	resolver  *runtimeconfig.Resolver
	traces    *TraceStore
}

// Option configures a Reasoner.
type Option func(*Reasoner)

// WithTraceStore enables reasoning-trace persistence.
func WithTraceStore(traces *TraceStore) Option {
	return func(r *Reasoner) { r.traces = traces }
}

// New creates a reasoner.
func New(searcher Searcher, providers *llm.Registry, resolver *runtimeconfig.Resolver, opts ...Option) *Reasoner {
	r := &Reasoner{searcher: searcher, providers: providers, resolver: resolver}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Reason answers the question, decomposing it when it is complex and
// chain-of-thought is enabled. On any reasoning failure it falls back to a
// plain search for the original question.
func (r *Reasoner) Reason(ctx context.Context, req search.Request) (*search.Result, error) {
	resolved, err := r.resolver.Effective(ctx, req.UserID, req.CollectionID)
	if err != nil {
		return nil, err
	}
	for key, value := range req.Config {
		resolved[key] = runtimeconfig.ResolvedValue{Value: value, Source: "REQUEST"}
	}

	class := Classify(req.Question)
	if !runtimeconfig.Bool(resolved, "cot_enabled", false) || class == ClassSimple {
		return r.searcher.Search(ctx, req)
	}

	result, err := r.reason(ctx, req, resolved, class)
	if err != nil {
		slog.Warn("Chain-of-thought failed, falling back to plain search", "error", err)
		return r.searcher.Search(ctx, req)
	}
	return result, nil
}

func (r *Reasoner) reason(ctx context.Context, req search.Request, resolved map[string]runtimeconfig.ResolvedValue, class QuestionClass) (*search.Result, error) {
	start := time.Now()

	depth := runtimeconfig.Int(resolved, "max_reasoning_depth", 3)
	multiplier := runtimeconfig.Float(resolved, "reasoning_token_multiplier", 1.5)
	budget := int(float64(runtimeconfig.Int(resolved, "max_tokens", 1024)) * multiplier)

	subQuestions, err := r.decompose(ctx, req.Question, depth, resolved)
	if err != nil {
		return nil, err
	}

	output := &Output{Question: req.Question, Class: class}
	var lastResult *search.Result
	spent := 0

	for _, sub := range subQuestions {
		if spent >= budget {
			slog.Debug("Reasoning token budget exhausted, jumping to aggregation",
				"spent", spent, "budget", budget)
			break
		}

		stepReq := req
		stepReq.SessionID = ""
		stepReq.Question = sub
		if prior := priorAnswers(output.Steps); prior != "" {
			stepReq.Question = sub + "\n\nAlready established:\n" + prior
		}

		stepStart := time.Now()
		res, err := r.searcher.Search(ctx, stepReq)
		if err != nil {
			return nil, fmt.Errorf("sub-question %q: %w", sub, err)
		}

		contexts := make([]string, len(res.QueryResults))
		for i, m := range res.QueryResults {
			contexts[i] = m.Chunk.ChunkID
		}
		output.Steps = append(output.Steps, Step{
			SubQuestion:   sub,
			Answer:        res.Answer,
			ContextUsed:   contexts,
			ExecutionTime: time.Since(stepStart).Seconds(),
			TokenUsage:    res.TokenUsage,
		})
		spent += res.TokenUsage
		lastResult = res
	}

	if len(output.Steps) == 0 || lastResult == nil {
		return nil, fmt.Errorf("decomposition produced no answerable sub-questions")
	}

	final, tokens, err := r.aggregate(ctx, req.Question, output.Steps, resolved)
	if err != nil {
		return nil, err
	}

	output.FinalAnswer = final
	output.TokenUsage = spent + tokens
	output.ExecutionTime = time.Since(start).Seconds()

	if r.traces != nil && runtimeconfig.Bool(resolved, "persist_reasoning", false) {
		if err := r.traces.Save(ctx, req.UserID, req.CollectionID, output); err != nil {
			slog.Warn("Failed to persist reasoning trace", "error", err)
		}
	}

	result := &search.Result{
		Answer:        final,
		QueryResults:  lastResult.QueryResults,
		Documents:     lastResult.Documents,
		ExecutionTime: output.ExecutionTime,
		TokenUsage:    output.TokenUsage,
		CotOutput:     output,
	}
	return result, nil
}

func (r *Reasoner) decompose(ctx context.Context, question string, depth int, resolved map[string]runtimeconfig.ResolvedValue) ([]string, error) {
	provider, err := r.providers.Get(runtimeconfig.String(resolved, "llm_provider", ""))
	if err != nil {
		return nil, err
	}

	temp := 0.0
	resp, err := provider.Generate(ctx, llm.Request{
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: fmt.Sprintf(decomposePrompt, depth, question)},
		},
		Params: llm.Params{Temperature: &temp, MaxTokens: 512},
	})
	if err != nil {
		return nil, fmt.Errorf("decomposition failed: %w", err)
	}

	subs := parseSubQuestions(resp.Text, depth)
	if len(subs) < 2 {
		return nil, fmt.Errorf("decomposition yielded %d sub-questions", len(subs))
	}
	return subs, nil
}

func (r *Reasoner) aggregate(ctx context.Context, question string, steps []Step, resolved map[string]runtimeconfig.ResolvedValue) (string, int, error) {
	provider, err := r.providers.Get(runtimeconfig.String(resolved, "llm_provider", ""))
	if err != nil {
		return "", 0, err
	}

	var sb strings.Builder
	for i, step := range steps {
		fmt.Fprintf(&sb, "%d. %s\n%s\n\n", i+1, step.SubQuestion, step.Answer)
	}

	temp := runtimeconfig.Float(resolved, "temperature", 0.7)
	resp, err := provider.Generate(ctx, llm.Request{
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: fmt.Sprintf(aggregatePrompt, question, sb.String())},
		},
		Params: llm.Params{
			Temperature: &temp,
			MaxTokens:   runtimeconfig.Int(resolved, "max_tokens", 1024),
		},
	})
	if err != nil {
		return "", 0, fmt.Errorf("aggregation failed: %w", err)
	}
	return resp.Text, resp.TotalTokens(), nil
}

func parseSubQuestions(text string, depth int) []string {
	var subs []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimLeft(line, "-*0123456789.) ")
		if line == "" {
			continue
		}
		subs = append(subs, line)
		if len(subs) == depth {
			break
		}
	}
	return subs
}

func priorAnswers(steps []Step) string {
	var sb strings.Builder
	for _, step := range steps {
		sb.WriteString("- ")
		sb.WriteString(step.Answer)
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}
