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

package rewrite

import (
	"context"
	"strings"
)

// SanitizeInput removes prompt injection patterns from user input before it
// is interpolated into a prompt.
func SanitizeInput(input string) string {
	sanitized := input

	// Role indicators that could confuse the LLM.
	for _, marker := range []string{
		"SYSTEM:", "System:", "system:",
		"ASSISTANT:", "Assistant:", "assistant:",
		"USER:", "User:", "user:",
	} {
		sanitized = strings.ReplaceAll(sanitized, marker, "")
	}

	// Instruction override attempts.
	for _, marker := range []string{
		"Ignore previous instructions", "ignore previous instructions",
		"Ignore all previous", "ignore all previous",
		"Disregard previous", "disregard previous",
	} {
		sanitized = strings.ReplaceAll(sanitized, marker, "")
	}

	// Delimiter attacks trying to break out of the prompt structure.
	for _, marker := range []string{"```", "---", "===", "***"} {
		sanitized = strings.ReplaceAll(sanitized, marker, "")
	}

	return strings.TrimSpace(sanitized)
}

// Sanitizer is a rewriter that strips injection patterns.
type Sanitizer struct{}

// Rewrite sanitizes the query.
func (Sanitizer) Rewrite(_ context.Context, query string) (string, error) {
	return SanitizeInput(query), nil
}

// Name returns "sanitizer".
func (Sanitizer) Name() string {
	return "sanitizer"
}

var _ Rewriter = Sanitizer{}
