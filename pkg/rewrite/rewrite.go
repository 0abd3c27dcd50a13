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

// Package rewrite transforms user queries before retrieval: sanitization,
// expansion and hypothetical-document (HyDE) rewriting.
package rewrite

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Rewriter transforms a query into a better retrieval query.
type Rewriter interface {
	// Rewrite returns the transformed query. On failure the caller keeps
	// the input query.
	Rewrite(ctx context.Context, query string) (string, error)

	// Name identifies the rewriter in logs.
	Name() string
}

// Chain runs rewriters in order. A failing stage is logged and skipped; the
// query from the last successful stage carries forward, so one broken
// rewriter never loses the query.
type Chain struct {
	rewriters []Rewriter
}

// NewChain creates a rewriter chain.
func NewChain(rewriters ...Rewriter) *Chain {
	return &Chain{rewriters: rewriters}
}

// Rewrite applies the chain. An empty query is an InvalidQueryError.
func (c *Chain) Rewrite(ctx context.Context, query string) (string, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return "", NewInvalidQueryError("query is empty")
	}

	current := query
	for _, r := range c.rewriters {
		next, err := r.Rewrite(ctx, current)
		if err != nil {
			slog.Warn("Query rewriter failed, keeping previous query",
				"rewriter", r.Name(), "error", err)
			continue
		}
		if strings.TrimSpace(next) != "" {
			current = next
		}
	}
	return current, nil
}

// Name returns "chain".
func (c *Chain) Name() string {
	return "chain"
}

// SimpleExpander appends fixed expansion terms to the query. Applying it
// twice yields the same result.
type SimpleExpander struct {
	terms []string
}

// NewSimpleExpander creates an expander with the given terms.
func NewSimpleExpander(terms ...string) *SimpleExpander {
	return &SimpleExpander{terms: terms}
}

// Rewrite appends each term not already present in the query.
func (e *SimpleExpander) Rewrite(_ context.Context, query string) (string, error) {
	lower := strings.ToLower(query)
	out := query
	for _, term := range e.terms {
		if !strings.Contains(lower, strings.ToLower(term)) {
			out += " " + term
		}
	}
	return out, nil
}

// Name returns "expander".
func (e *SimpleExpander) Name() string {
	return "expander"
}

// NilRewriter passes queries through unchanged.
type NilRewriter struct{}

// Rewrite returns the query as-is.
func (NilRewriter) Rewrite(_ context.Context, query string) (string, error) {
	return query, nil
}

// Name returns "nil".
func (NilRewriter) Name() string {
	return "nil"
}

// InvalidQueryError reports a query that cannot be processed.
type InvalidQueryError struct {
	Message string
}

func (e *InvalidQueryError) Error() string {
	return fmt.Sprintf("invalid query: %s", e.Message)
}

// NewInvalidQueryError creates a new InvalidQueryError.
func NewInvalidQueryError(message string) *InvalidQueryError {
	return &InvalidQueryError{Message: message}
}

var (
	_ Rewriter = (*Chain)(nil)
	_ Rewriter = (*SimpleExpander)(nil)
	_ Rewriter = NilRewriter{}
)
