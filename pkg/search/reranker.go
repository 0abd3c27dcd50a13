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

package search

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/kadirpekel/corpus/pkg/llm"
	"github.com/kadirpekel/corpus/pkg/rewrite"
	"github.com/kadirpekel/corpus/pkg/vectorstore"
)

// Reranker re-orders retrieved chunks with an LLM relevance judgment.
//
// Vector similarity misses context an LLM can see, so reranking a small
// candidate set (10-20 chunks) measurably improves answer grounding at the
// cost of one extra LLM round trip.
type Reranker struct {
	provider   llm.Provider
	maxResults int
}

// RankingDecision is the LLM's verdict for one chunk.
type RankingDecision struct {
	// Index is the original result index.
	Index int `json:"index"`

	// Relevance is the LLM-assigned score (1-10).
	Relevance int `json:"relevance"`

	// Reason explains the score.
	Reason string `json:"reason,omitempty"`
}

// NewReranker creates a reranker. maxResults caps how many chunks are sent
// to the LLM (default 20).
func NewReranker(provider llm.Provider, maxResults int) *Reranker {
	if maxResults <= 0 {
		maxResults = 20
	}
	return &Reranker{provider: provider, maxResults: maxResults}
}

// Rerank re-orders matches by LLM-assessed relevance and replaces scores
// with position-based ones (1st=1.0, 2nd=0.95, ...). Any failure returns
// the original order.
func (r *Reranker) Rerank(ctx context.Context, query string, matches []vectorstore.QueryMatch) []vectorstore.QueryMatch {
	if r.provider == nil || len(matches) == 0 {
		return matches
	}

	toRerank := matches
	if len(toRerank) > r.maxResults {
		toRerank = toRerank[:r.maxResults]
	}

	temp := 0.0
	resp, err := r.provider.Generate(ctx, llm.Request{
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: buildRerankPrompt(query, toRerank)},
		},
		Params: llm.Params{Temperature: &temp},
	})
	if err != nil {
		slog.Warn("Reranking failed, keeping original order", "error", err)
		return matches
	}

	rankings, err := parseRankings(resp.Text, len(toRerank))
	if err != nil {
		slog.Warn("Failed to parse rankings, keeping original order", "error", err)
		return matches
	}

	reranked := applyRankings(toRerank, rankings)
	if len(matches) > r.maxResults {
		reranked = append(reranked, matches[r.maxResults:]...)
	}
	return reranked
}

func buildRerankPrompt(query string, matches []vectorstore.QueryMatch) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, `Given the query: "%s"

Rank the following documents by their relevance to the query.
For each document, provide a relevance score from 1-10 (10 being most relevant).

Documents:
`, rewrite.SanitizeInput(query))

	for i, m := range matches {
		content := m.Text
		if len(content) > 500 {
			content = content[:497] + "..."
		}
		fmt.Fprintf(&sb, "\n[%d] %s\n", i, content)
	}

	sb.WriteString(`

Respond with a JSON array of rankings, ordered from most to least relevant:
[{"index": 0, "relevance": 9, "reason": "directly answers the query"}, ...]

Only include the JSON array, no other text.`)
	return sb.String()
}

func parseRankings(response string, numResults int) ([]RankingDecision, error) {
	start := strings.Index(response, "[")
	end := strings.LastIndex(response, "]")
	if start == -1 || end == -1 || start >= end {
		return nil, fmt.Errorf("no JSON array found in response")
	}

	var rankings []RankingDecision
	if err := json.Unmarshal([]byte(response[start:end+1]), &rankings); err != nil {
		return nil, fmt.Errorf("failed to parse rankings JSON: %w", err)
	}

	seen := make(map[int]bool)
	var valid []RankingDecision
	for _, ranking := range rankings {
		if ranking.Index >= 0 && ranking.Index < numResults && !seen[ranking.Index] {
			seen[ranking.Index] = true
			valid = append(valid, ranking)
		}
	}
	for i := 0; i < numResults; i++ {
		if !seen[i] {
			valid = append(valid, RankingDecision{Index: i, Relevance: 1})
		}
	}

	sort.SliceStable(valid, func(i, j int) bool {
		return valid[i].Relevance > valid[j].Relevance
	})
	return valid, nil
}

func applyRankings(matches []vectorstore.QueryMatch, rankings []RankingDecision) []vectorstore.QueryMatch {
	reranked := make([]vectorstore.QueryMatch, 0, len(rankings))
	for i, ranking := range rankings {
		if ranking.Index >= len(matches) {
			continue
		}
		m := matches[ranking.Index]
		m.Score = 1.0 - float32(i)*0.05
		if m.Score < 0.1 {
			m.Score = 0.1
		}
		reranked = append(reranked, m)
	}
	return reranked
}
