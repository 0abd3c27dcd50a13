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

// Package prompt manages stored prompt templates and assembles prompts with
// packed retrieval context.
//
// Templates use {variable} placeholders. The renderer is deliberately not
// text/template: templates are stored data edited by users, and the brace
// syntax is what the stored rows already contain.
package prompt

import (
	"fmt"
	"regexp"
	"strings"
)

// TemplateType names the pipeline stage a template serves.
type TemplateType string

const (
	TypeGeneration         TemplateType = "GENERATION"
	TypeRewrite            TemplateType = "REWRITE"
	TypeHyde               TemplateType = "HYDE"
	TypeRerank             TemplateType = "RERANK"
	TypeCotDecompose       TemplateType = "COT_DECOMPOSE"
	TypeCotAggregate       TemplateType = "COT_AGGREGATE"
	TypeQuestionGeneration TemplateType = "QUESTION_GENERATION"
)

// TruncateStrategy selects where packed context is cut when it exceeds the
// budget.
type TruncateStrategy string

const (
	TruncateEnd    TruncateStrategy = "end"
	TruncateStart  TruncateStrategy = "start"
	TruncateMiddle TruncateStrategy = "middle"
)

// Template is a stored prompt template.
type Template struct {
	ID           string
	UserID       string
	Name         string
	Type         TemplateType
	Text         string
	SystemPrompt string

	// Variables declares the placeholders the text may use.
	Variables []string

	// IsDefault marks the template used when none is named. At most one
	// default exists per (user, type).
	IsDefault bool
}

var placeholderPattern = regexp.MustCompile(`\{([a-zA-Z_][a-zA-Z0-9_]*)\}`)

// Placeholders returns the placeholder names used in the template text.
func (t *Template) Placeholders() []string {
	seen := make(map[string]bool)
	var names []string
	for _, m := range placeholderPattern.FindAllStringSubmatch(t.Text, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			names = append(names, m[1])
		}
	}
	return names
}

// Validate checks that every placeholder in the text is declared.
func (t *Template) Validate() error {
	if t.Name == "" {
		return NewTemplateError(t.Name, "template name is required")
	}
	if t.Text == "" {
		return NewTemplateError(t.Name, "template text is required")
	}
	declared := make(map[string]bool, len(t.Variables))
	for _, v := range t.Variables {
		declared[v] = true
	}
	for _, p := range t.Placeholders() {
		if !declared[p] {
			return NewTemplateError(t.Name, fmt.Sprintf("placeholder {%s} is not a declared variable", p))
		}
	}
	return nil
}

// Render substitutes values into the template. Every placeholder must have a
// value; a missing one is a MissingVariableError.
func (t *Template) Render(values map[string]string) (string, error) {
	for _, p := range t.Placeholders() {
		if _, ok := values[p]; !ok {
			return "", NewMissingVariableError(t.Name, p)
		}
	}
	out := placeholderPattern.ReplaceAllStringFunc(t.Text, func(m string) string {
		name := m[1 : len(m)-1]
		return values[name]
	})
	return out, nil
}

// PackOptions bound the packed context block.
type PackOptions struct {
	// MaxChunks limits how many chunks are included (default 10).
	MaxChunks int

	// Separator between chunks (default blank line).
	Separator string

	// MaxChars caps the packed block; 0 means unlimited.
	MaxChars int

	// Truncate selects where the cut happens when MaxChars is exceeded.
	Truncate TruncateStrategy
}

// PackContext joins retrieved chunk texts into one context block, keeping
// chunk order and truncating per the options. Truncation is marked with an
// ellipsis on the cut side (or in the middle).
func PackContext(chunks []string, opts PackOptions) string {
	if opts.MaxChunks <= 0 {
		opts.MaxChunks = 10
	}
	if opts.Separator == "" {
		opts.Separator = "\n\n"
	}
	if opts.Truncate == "" {
		opts.Truncate = TruncateEnd
	}

	if len(chunks) > opts.MaxChunks {
		chunks = chunks[:opts.MaxChunks]
	}
	packed := strings.Join(chunks, opts.Separator)

	if opts.MaxChars <= 0 || len(packed) <= opts.MaxChars {
		return packed
	}

	const marker = "..."
	budget := opts.MaxChars - len(marker)
	if budget <= 0 {
		return marker[:opts.MaxChars]
	}

	switch opts.Truncate {
	case TruncateStart:
		return marker + packed[len(packed)-budget:]
	case TruncateMiddle:
		head := budget / 2
		tail := budget - head
		return packed[:head] + marker + packed[len(packed)-tail:]
	default:
		return packed[:budget] + marker
	}
}

// TemplateError reports an invalid template.
type TemplateError struct {
	Template string
	Message  string
}

func (e *TemplateError) Error() string {
	return fmt.Sprintf("template %q: %s", e.Template, e.Message)
}

// NewTemplateError creates a new TemplateError.
func NewTemplateError(template, message string) *TemplateError {
	return &TemplateError{Template: template, Message: message}
}

// MissingVariableError reports a render call without a required variable.
type MissingVariableError struct {
	Template string
	Variable string
}

func (e *MissingVariableError) Error() string {
	return fmt.Sprintf("template %q: missing variable %q", e.Template, e.Variable)
}

// NewMissingVariableError creates a new MissingVariableError.
func NewMissingVariableError(template, variable string) *MissingVariableError {
	return &MissingVariableError{Template: template, Variable: variable}
}
