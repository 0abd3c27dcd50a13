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
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/kadirpekel/corpus/pkg/retry"
)

const watsonxAPIVersion = "2024-05-31"

// WatsonXConfig configures the watsonx.ai text generation client.
type WatsonXConfig struct {
	APIKey         string
	BaseURL        string
	ProjectID      string
	Model          string
	TimeoutSeconds int

	// IAMURL overrides the IBM Cloud token endpoint (tests).
	IAMURL string
}

// WatsonXProvider implements Provider over the watsonx.ai chat API.
type WatsonXProvider struct {
	config     WatsonXConfig
	httpClient *http.Client
	retryer    *retry.Retryer

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

type watsonxChatRequest struct {
	ModelID     string    `json:"model_id"`
	ProjectID   string    `json:"project_id"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature *float64  `json:"temperature,omitempty"`
	TopP        *float64  `json:"top_p,omitempty"`
}

type watsonxChatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	ModelID string `json:"model_id"`
}

// NewWatsonXProvider creates a watsonx.ai chat client.
func NewWatsonXProvider(cfg WatsonXConfig) (*WatsonXProvider, error) {
	if cfg.APIKey == "" {
		return nil, NewProviderError("watsonx", "api key is required", nil)
	}
	if cfg.BaseURL == "" {
		return nil, NewProviderError("watsonx", "base url is required", nil)
	}
	if cfg.ProjectID == "" {
		return nil, NewProviderError("watsonx", "project id is required", nil)
	}
	if cfg.Model == "" {
		cfg.Model = "ibm/granite-3-8b-instruct"
	}
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = 60
	}
	if cfg.IAMURL == "" {
		cfg.IAMURL = "https://iam.cloud.ibm.com/identity/token"
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")

	return &WatsonXProvider{
		config: cfg,
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		},
		retryer: retry.New(retry.DefaultConfig()),
	}, nil
}

// Generate runs a chat completion.
func (p *WatsonXProvider) Generate(ctx context.Context, req Request) (*Response, error) {
	if err := req.Params.Validate(); err != nil {
		return nil, err
	}

	token, err := p.bearerToken(ctx)
	if err != nil {
		return nil, err
	}

	apiReq := watsonxChatRequest{
		ModelID:     p.config.Model,
		ProjectID:   p.config.ProjectID,
		Messages:    req.Messages,
		MaxTokens:   req.Params.MaxTokens,
		Temperature: req.Params.Temperature,
		TopP:        req.Params.TopP,
	}
	payload, err := json.Marshal(apiReq)
	if err != nil {
		return nil, NewProviderError("watsonx", "failed to marshal request", err)
	}

	endpoint := fmt.Sprintf("%s/ml/v1/text/chat?version=%s", p.config.BaseURL, watsonxAPIVersion)

	var result watsonxChatResponse
	err = p.retryer.Do(ctx, func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
		if err != nil {
			return err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Authorization", "Bearer "+token)

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
			return fmt.Errorf("watsonx chat API returned %d: %s", resp.StatusCode, string(body))
		}

		result = watsonxChatResponse{}
		return json.Unmarshal(body, &result)
	})
	if err != nil {
		return nil, NewProviderError("watsonx", "generation failed", err)
	}
	if len(result.Choices) == 0 {
		return nil, NewProviderError("watsonx", "no choices in response", nil)
	}

	return &Response{
		Text:             result.Choices[0].Message.Content,
		Model:            result.ModelID,
		PromptTokens:     result.Usage.PromptTokens,
		CompletionTokens: result.Usage.CompletionTokens,
	}, nil
}

func (p *WatsonXProvider) bearerToken(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.token != "" && time.Until(p.tokenExpiry) > time.Minute {
		return p.token, nil
	}

	form := url.Values{}
	form.Set("grant_type", "urn:ibm:params:oauth:grant-type:apikey")
	form.Set("apikey", p.config.APIKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.IAMURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return "", NewProviderError("watsonx", "failed to build IAM request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", NewProviderError("watsonx", "IAM token request failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", NewProviderError("watsonx", "failed to read IAM response", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", NewProviderError("watsonx",
			fmt.Sprintf("IAM returned %d: %s", resp.StatusCode, string(body)), nil)
	}

	var tok struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &tok); err != nil {
		return "", NewProviderError("watsonx", "failed to parse IAM response", err)
	}

	p.token = tok.AccessToken
	p.tokenExpiry = time.Now().Add(time.Duration(tok.ExpiresIn) * time.Second)
	return p.token, nil
}

// Name returns "watsonx".
func (p *WatsonXProvider) Name() string {
	return "watsonx"
}

// Model returns the configured model.
func (p *WatsonXProvider) Model() string {
	return p.config.Model
}

// Close releases resources.
func (p *WatsonXProvider) Close() error {
	p.httpClient.CloseIdleConnections()
	return nil
}

var _ Provider = (*WatsonXProvider)(nil)
