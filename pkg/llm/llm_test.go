package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func floatPtr(f float64) *float64 { return &f }
func intPtr(n int) *int           { return &n }

func TestParamsValidate(t *testing.T) {
	tests := []struct {
		name    string
		params  Params
		wantErr bool
	}{
		{"defaults", Params{}, false},
		{"valid full", Params{Temperature: floatPtr(0.7), TopP: floatPtr(0.9), TopK: intPtr(40), MaxTokens: 512, MinTokens: 10, RepetitionPenalty: floatPtr(1.1)}, false},
		{"temperature too high", Params{Temperature: floatPtr(2.5)}, true},
		{"temperature negative", Params{Temperature: floatPtr(-0.1)}, true},
		{"top_p above one", Params{TopP: floatPtr(1.5)}, true},
		{"top_k zero", Params{TopK: intPtr(0)}, true},
		{"min above max", Params{MaxTokens: 100, MinTokens: 200}, true},
		{"repetition penalty below one", Params{RepetitionPenalty: floatPtr(0.5)}, true},
		{"repetition penalty above two", Params{RepetitionPenalty: floatPtr(2.5)}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.params.Validate()
			if tt.wantErr {
				require.Error(t, err)
				var perr *ParamsError
				assert.True(t, errors.As(err, &perr))
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestOpenAIGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req openaiChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Len(t, req.Messages, 2)

		resp := map[string]any{
			"model": req.Model,
			"choices": []map[string]any{
				{"message": map[string]any{"content": "The answer."}},
			},
			"usage": map[string]any{"prompt_tokens": 12, "completion_tokens": 4},
		}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer srv.Close()

	p, err := NewOpenAIProvider(OpenAIConfig{APIKey: "test-key", BaseURL: srv.URL})
	require.NoError(t, err)

	resp, err := p.Generate(context.Background(), Request{
		Messages: []Message{
			{Role: RoleSystem, Content: "You are terse."},
			{Role: RoleUser, Content: "Question?"},
		},
		Params: Params{MaxTokens: 100},
	})
	require.NoError(t, err)
	assert.Equal(t, "The answer.", resp.Text)
	assert.Equal(t, 16, resp.TotalTokens())
}

func TestOpenAIGenerateRejectsBadParams(t *testing.T) {
	p, err := NewOpenAIProvider(OpenAIConfig{APIKey: "k"})
	require.NoError(t, err)

	_, err = p.Generate(context.Background(), Request{
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
		Params:   Params{Temperature: floatPtr(3)},
	})
	require.Error(t, err)
	var perr *ParamsError
	assert.True(t, errors.As(err, &perr))
}

func TestAnthropicLiftsSystemMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req anthropicRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		assert.Equal(t, "You are terse.", req.System)
		for _, m := range req.Messages {
			assert.NotEqual(t, RoleSystem, m.Role)
		}

		resp := map[string]any{
			"model":   req.Model,
			"content": []map[string]any{{"type": "text", "text": "ok"}},
			"usage":   map[string]any{"input_tokens": 5, "output_tokens": 1},
		}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer srv.Close()

	p, err := NewAnthropicProvider(AnthropicConfig{APIKey: "k", BaseURL: srv.URL})
	require.NoError(t, err)

	resp, err := p.Generate(context.Background(), Request{
		Messages: []Message{
			{Role: RoleSystem, Content: "You are terse."},
			{Role: RoleUser, Content: "Question?"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Text)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()

	first, err := NewOpenAIProvider(OpenAIConfig{APIKey: "k"})
	require.NoError(t, err)
	second, err := NewAnthropicProvider(AnthropicConfig{APIKey: "k"})
	require.NoError(t, err)

	r.Register(first)
	r.Register(second)

	got, err := r.Get("anthropic")
	require.NoError(t, err)
	assert.Equal(t, "anthropic", got.Name())

	// First registered is the default.
	def, err := r.Get("")
	require.NoError(t, err)
	assert.Equal(t, "openai", def.Name())

	_, err = r.Get("gemini")
	require.Error(t, err)

	assert.Len(t, r.Names(), 2)
}
