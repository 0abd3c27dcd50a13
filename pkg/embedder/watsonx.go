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

package embedder

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

	"github.com/kadirpekel/corpus/pkg/config"
	"github.com/kadirpekel/corpus/pkg/retry"
)

const watsonxAPIVersion = "2024-05-31"

// WatsonXEmbedder calls the IBM watsonx.ai text embeddings API. The IBM Cloud
// API key is exchanged for a short-lived IAM bearer token, refreshed before
// expiry.
type WatsonXEmbedder struct {
	config     config.EmbeddingConfig
	projectID  string
	iamURL     string
	httpClient *http.Client
	retryer    *retry.Retryer

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

type watsonxEmbeddingRequest struct {
	Inputs    []string `json:"inputs"`
	ModelID   string   `json:"model_id"`
	ProjectID string   `json:"project_id"`
}

type watsonxEmbeddingResponse struct {
	Results []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"results"`
}

// NewWatsonXEmbedder creates a watsonx.ai embedder. BaseURL is the region
// endpoint (e.g. https://us-south.ml.cloud.ibm.com); the project ID rides in
// the BaseURL fragment query `project_id` or the WATSONX_PROJECT_ID
// environment variable resolved by the config layer.
func NewWatsonXEmbedder(cfg config.EmbeddingConfig) (*WatsonXEmbedder, error) {
	if cfg.APIKey == "" {
		return nil, NewEmbeddingError("watsonx", "api key is required", nil)
	}
	if cfg.BaseURL == "" {
		return nil, NewEmbeddingError("watsonx", "base url is required", nil)
	}
	if cfg.Dimension <= 0 {
		return nil, NewEmbeddingError("watsonx", "dimension must be positive", nil)
	}
	if cfg.Model == "" {
		cfg.Model = "ibm/slate-30m-english-rtrvr"
	}
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = 30
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}

	base, projectID := splitWatsonxURL(cfg.BaseURL)
	cfg.BaseURL = base

	return &WatsonXEmbedder{
		config:    cfg,
		projectID: projectID,
		iamURL:    "https://iam.cloud.ibm.com/identity/token",
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		},
		retryer: retry.New(retry.DefaultConfig()),
	}, nil
}

// splitWatsonxURL peels an optional ?project_id=... off the endpoint URL.
func splitWatsonxURL(raw string) (base, projectID string) {
	u, err := url.Parse(raw)
	if err != nil {
		return raw, ""
	}
	projectID = u.Query().Get("project_id")
	u.RawQuery = ""
	return strings.TrimSuffix(u.String(), "/"), projectID
}

// Embed generates embeddings sequentially in BatchSize requests; watsonx
// rate limits make parallel subbatches counterproductive.
func (e *WatsonXEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	vectors := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.config.BatchSize {
		end := start + e.config.BatchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch, err := e.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		vectors = append(vectors, batch...)
	}

	for _, v := range vectors {
		if len(v) != e.config.Dimension {
			return nil, NewDimensionMismatchError(e.config.Dimension, len(v))
		}
	}
	return vectors, nil
}

func (e *WatsonXEmbedder) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	token, err := e.bearerToken(ctx)
	if err != nil {
		return nil, err
	}

	reqBody := watsonxEmbeddingRequest{
		Inputs:    texts,
		ModelID:   e.config.Model,
		ProjectID: e.projectID,
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, NewEmbeddingError("watsonx", "failed to marshal request", err)
	}

	endpoint := fmt.Sprintf("%s/ml/v1/text/embeddings?version=%s", e.config.BaseURL, watsonxAPIVersion)

	var result watsonxEmbeddingResponse
	err = e.retryer.Do(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+token)

		resp, err := e.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("watsonx API returned %d: %s", resp.StatusCode, string(body))
		}

		result = watsonxEmbeddingResponse{}
		return json.Unmarshal(body, &result)
	})
	if err != nil {
		return nil, NewEmbeddingError("watsonx", "embedding request failed", err)
	}
	if len(result.Results) != len(texts) {
		return nil, NewEmbeddingError("watsonx",
			fmt.Sprintf("expected %d embeddings, got %d", len(texts), len(result.Results)), nil)
	}

	vectors := make([][]float32, len(result.Results))
	for i, r := range result.Results {
		vectors[i] = r.Embedding
	}
	return vectors, nil
}

// bearerToken returns a cached IAM token, refreshing it when within a minute
// of expiry.
func (e *WatsonXEmbedder) bearerToken(ctx context.Context) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.token != "" && time.Until(e.tokenExpiry) > time.Minute {
		return e.token, nil
	}

	form := url.Values{}
	form.Set("grant_type", "urn:ibm:params:oauth:grant-type:apikey")
	form.Set("apikey", e.config.APIKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.iamURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return "", NewEmbeddingError("watsonx", "failed to build IAM request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return "", NewEmbeddingError("watsonx", "IAM token request failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", NewEmbeddingError("watsonx", "failed to read IAM response", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", NewEmbeddingError("watsonx",
			fmt.Sprintf("IAM returned %d: %s", resp.StatusCode, string(body)), nil)
	}

	var tok struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &tok); err != nil {
		return "", NewEmbeddingError("watsonx", "failed to parse IAM response", err)
	}

	e.token = tok.AccessToken
	e.tokenExpiry = time.Now().Add(time.Duration(tok.ExpiresIn) * time.Second)
	return e.token, nil
}

// Dimension returns the configured embedding dimension.
func (e *WatsonXEmbedder) Dimension() int {
	return e.config.Dimension
}

// Model returns the model identifier.
func (e *WatsonXEmbedder) Model() string {
	return e.config.Model
}

// Close releases resources.
func (e *WatsonXEmbedder) Close() error {
	e.httpClient.CloseIdleConnections()
	return nil
}

var _ Embedder = (*WatsonXEmbedder)(nil)
