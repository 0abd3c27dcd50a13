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

package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/kadirpekel/corpus/pkg/retry"
)

const anthropicAPIVersion = "2023-06-01"

// AnthropicConfig configures the Anthropic messages client.
type AnthropicConfig struct {
	APIKey         string
	BaseURL        string
	Model          string
	TimeoutSeconds int
}

// AnthropicProvider implements Provider over the messages API. System
// messages are lifted into the top-level system field, which the API
// requires.
type AnthropicProvider struct {
	config     AnthropicConfig
	httpClient *http.Client
	retryer    *retry.Retryer
}

type anthropicRequest struct {
	Model       string    `json:"model"`
	System      string    `json:"system,omitempty"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature *float64  `json:"temperature,omitempty"`
	TopP        *float64  `json:"top_p,omitempty"`
	TopK        *int      `json:"top_k,omitempty"`
	Stop        []string  `json:"stop_sequences,omitempty"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Model string `json:"model"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// NewAnthropicProvider creates an Anthropic messages client.
func NewAnthropicProvider(cfg AnthropicConfig) (*AnthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, NewProviderError("anthropic", "api key is required", nil)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.anthropic.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "claude-sonnet-4-20250514"
	}
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = 60
	}

	return &AnthropicProvider{
		config: cfg,
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		},
		retryer: retry.New(retry.DefaultConfig()),
	}, nil
}

// Generate runs a messages completion.
func (p *AnthropicProvider) Generate(ctx context.Context, req Request) (*Response, error) {
	if err := req.Params.Validate(); err != nil {
		return nil, err
	}

	maxTokens := req.Params.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	apiReq := anthropicRequest{
		Model:       p.config.Model,
		MaxTokens:   maxTokens,
		Temperature: req.Params.Temperature,
		TopP:        req.Params.TopP,
		TopK:        req.Params.TopK,
		Stop:        req.Params.StopSequences,
	}
	for _, m := range req.Messages {
		if m.Role == RoleSystem {
			if apiReq.System != "" {
				apiReq.System += "\n\n"
			}
			apiReq.System += m.Content
			continue
		}
		apiReq.Messages = append(apiReq.Messages, m)
	}

	payload, err := json.Marshal(apiReq)
	if err != nil {
		return nil, NewProviderError("anthropic", "failed to marshal request", err)
	}

	var result anthropicResponse
	err = p.retryer.Do(ctx, func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
			p.config.BaseURL+"/messages", bytes.NewReader(payload))
		if err != nil {
			return err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("x-api-key", p.config.APIKey)
		httpReq.Header.Set("anthropic-version", anthropicAPIVersion)

		resp, err := p.httpClient.Do(httpReq)
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("messages API returned %d: %s", resp.StatusCode, string(body))
		}

		result = anthropicResponse{}
		return json.Unmarshal(body, &result)
	})
	if err != nil {
		return nil, NewProviderError("anthropic", "generation failed", err)
	}
	if result.Error != nil {
		return nil, NewProviderError("anthropic", result.Error.Message, nil)
	}

	var text string
	for _, block := range result.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}

	return &Response{
		Text:             text,
		Model:            result.Model,
		PromptTokens:     result.Usage.InputTokens,
		CompletionTokens: result.Usage.OutputTokens,
	}, nil
}

// Name returns "anthropic".
func (p *AnthropicProvider) Name() string {
	return "anthropic"
}

// Model returns the configured model.
func (p *AnthropicProvider) Model() string {
	return p.config.Model
}

// Close releases resources.
func (p *AnthropicProvider) Close() error {
	p.httpClient.CloseIdleConnections()
	return nil
}

var _ Provider = (*AnthropicProvider)(nil)
