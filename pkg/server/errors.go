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
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/kadirpekel/corpus/pkg/conversation"
	"github.com/kadirpekel/corpus/pkg/llm"
	"github.com/kadirpekel/corpus/pkg/processor"
	"github.com/kadirpekel/corpus/pkg/prompt"
	"github.com/kadirpekel/corpus/pkg/rewrite"
	"github.com/kadirpekel/corpus/pkg/search"
	"github.com/kadirpekel/corpus/pkg/vectorstore"
)

// errorBody is the structured error response.
type errorBody struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	StatusCode int    `json:"status_code"`
	Details    any    `json:"details,omitempty"`
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) (int, string) {
	var (
		invalidQuery *rewrite.InvalidQueryError
		paramsErr    *llm.ParamsError
		missingVar   *prompt.MissingVariableError
		templateErr  *prompt.TemplateError
		unsupported  *processor.UnsupportedFileTypeError
		collErr      *vectorstore.CollectionError
		sessErr      *conversation.SessionError
		providerErr  *llm.ProviderError
		pipelineErr  *search.PipelineError
	)

	switch {
	case errors.As(err, &invalidQuery):
		return http.StatusBadRequest, "invalid_query"
	case errors.As(err, &paramsErr):
		return http.StatusBadRequest, "validation_error"
	case errors.As(err, &missingVar):
		return http.StatusBadRequest, "missing_prompt_variable"
	case errors.As(err, &unsupported):
		return http.StatusBadRequest, "unsupported_file_type"
	case errors.As(err, &collErr):
		if collErr.NotFound {
			return http.StatusNotFound, "not_found"
		}
		return http.StatusInternalServerError, "collection_error"
	case errors.As(err, &sessErr):
		if sessErr.NotFound {
			return http.StatusNotFound, "not_found"
		}
		return http.StatusInternalServerError, "session_error"
	case errors.As(err, &templateErr):
		if strings.Contains(templateErr.Message, "not found") {
			return http.StatusNotFound, "not_found"
		}
		return http.StatusBadRequest, "validation_error"
	case errors.As(err, &providerErr):
		return http.StatusServiceUnavailable, "llm_provider_error"
	case errors.As(err, &pipelineErr):
		// Unwrap to the stage cause; the stage alone does not fix the code.
		status, kind := statusFor(pipelineErr.Err)
		if status == http.StatusInternalServerError {
			kind = "search_failed"
		}
		return status, kind
	case isUniqueViolation(err):
		return http.StatusConflict, "already_exists"
	case strings.Contains(strings.ToLower(err.Error()), "not found"):
		return http.StatusNotFound, "not_found"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func isUniqueViolation(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "duplicate entry")
}

func writeError(w http.ResponseWriter, err error) {
	status, kind := statusFor(err)
	body := errorBody{
		Error:      kind,
		Message:    err.Error(),
		StatusCode: status,
	}
	var pipelineErr *search.PipelineError
	if errors.As(err, &pipelineErr) {
		body.Details = map[string]any{"stage": string(pipelineErr.Stage)}
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
