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

// Package llm provides text-generation clients for the supported providers
// and validated generation parameters.
package llm

import (
	"context"
	"fmt"
	"sync"
)

// Role of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of a chat prompt.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Params are generation parameters. Nil pointer fields take provider
// defaults.
type Params struct {
	// Temperature in [0, 2].
	Temperature *float64 `json:"temperature,omitempty"`

	// TopP in [0, 1].
	TopP *float64 `json:"top_p,omitempty"`

	// TopK >= 1 (providers that support it).
	TopK *int `json:"top_k,omitempty"`

	// MaxTokens > 0 caps the completion length.
	MaxTokens int `json:"max_tokens,omitempty"`

	// MinTokens <= MaxTokens (providers that support it).
	MinTokens int `json:"min_tokens,omitempty"`

	// RepetitionPenalty in [1, 2] (providers that support it).
	RepetitionPenalty *float64 `json:"repetition_penalty,omitempty"`

	// StopSequences terminate generation.
	StopSequences []string `json:"stop_sequences,omitempty"`
}

// Validate checks parameter ranges.
func (p *Params) Validate() error {
	if p.Temperature != nil && (*p.Temperature < 0 || *p.Temperature > 2) {
		return NewParamsError("temperature", fmt.Sprintf("must be in [0, 2], got %g", *p.Temperature))
	}
	if p.TopP != nil && (*p.TopP < 0 || *p.TopP > 1) {
		return NewParamsError("top_p", fmt.Sprintf("must be in [0, 1], got %g", *p.TopP))
	}
	if p.TopK != nil && *p.TopK < 1 {
		return NewParamsError("top_k", fmt.Sprintf("must be at least 1, got %d", *p.TopK))
	}
	if p.MaxTokens < 0 {
		return NewParamsError("max_tokens", fmt.Sprintf("must not be negative, got %d", p.MaxTokens))
	}
	if p.MinTokens < 0 {
		return NewParamsError("min_tokens", fmt.Sprintf("must not be negative, got %d", p.MinTokens))
	}
	if p.MaxTokens > 0 && p.MinTokens > p.MaxTokens {
		return NewParamsError("min_tokens",
			fmt.Sprintf("must not exceed max_tokens (%d), got %d", p.MaxTokens, p.MinTokens))
	}
	if p.RepetitionPenalty != nil && (*p.RepetitionPenalty < 1 || *p.RepetitionPenalty > 2) {
		return NewParamsError("repetition_penalty",
			fmt.Sprintf("must be in [1, 2], got %g", *p.RepetitionPenalty))
	}
	return nil
}

// Request is a generation request.
type Request struct {
	Messages []Message
	Params   Params
}

// Response is a generation result.
type Response struct {
	Text             string
	Model            string
	PromptTokens     int
	CompletionTokens int
}

// TotalTokens returns prompt plus completion tokens.
func (r *Response) TotalTokens() int {
	return r.PromptTokens + r.CompletionTokens
}

// Provider generates text.
type Provider interface {
	// Generate runs a chat completion. Params are validated before sending.
	Generate(ctx context.Context, req Request) (*Response, error)

	// Name returns the provider name (openai, anthropic, watsonx).
	Name() string

	// Model returns the default model identifier.
	Model() string

	// Close releases resources.
	Close() error
}

// ProviderError reports a failure from an LLM provider.
type ProviderError struct {
	Provider string
	Message  string
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("llm provider %s: %s: %v", e.Provider, e.Message, e.Err)
	}
	return fmt.Sprintf("llm provider %s: %s", e.Provider, e.Message)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// NewProviderError creates a new ProviderError.
func NewProviderError(provider, message string, err error) *ProviderError {
	return &ProviderError{Provider: provider, Message: message, Err: err}
}

// ParamsError reports an out-of-range generation parameter.
type ParamsError struct {
	Param   string
	Message string
}

func (e *ParamsError) Error() string {
	return fmt.Sprintf("invalid parameter %s: %s", e.Param, e.Message)
}

// NewParamsError creates a new ParamsError.
func NewParamsError(param, message string) *ParamsError {
	return &ParamsError{Param: param, Message: message}
}

// Registry holds named providers.
type Registry struct {
	mu          sync.RWMutex
	providers   map[string]Provider
	defaultName string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register adds a provider. The first registered provider becomes the
// default.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.providers) == 0 {
		r.defaultName = p.Name()
	}
	r.providers[p.Name()] = p
}

// Get returns a provider by name, or the default when name is empty.
func (r *Registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if name == "" {
		name = r.defaultName
	}
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("llm provider not registered: %q", name)
	}
	return p, nil
}

// Names returns the registered provider names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	return names
}

// Close closes all registered providers.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var firstErr error
	for _, p := range r.providers {
		if err := p.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
