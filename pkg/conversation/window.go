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

package conversation

import "strings"

// WindowOptions bound the transcript prepended to a prompt.
type WindowOptions struct {
	// MaxTurns caps how many messages are included (default 10).
	MaxTurns int

	// MaxTokens caps the total token count of the window (default 2000).
	MaxTokens int
}

// Window selects the most recent messages that fit the turn and token
// budgets, keeping chronological order. Messages without a recorded token
// count are estimated at four characters per token.
func Window(messages []*Message, opts WindowOptions) []*Message {
	if opts.MaxTurns <= 0 {
		opts.MaxTurns = 10
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 2000
	}

	if len(messages) > opts.MaxTurns {
		messages = messages[len(messages)-opts.MaxTurns:]
	}

	// Walk backwards so the newest messages survive a tight token budget.
	budget := opts.MaxTokens
	start := len(messages)
	for i := len(messages) - 1; i >= 0; i-- {
		tokens := messages[i].TokenCount
		if tokens == 0 {
			tokens = len(messages[i].Content) / 4
		}
		if tokens > budget {
			break
		}
		budget -= tokens
		start = i
	}
	return messages[start:]
}

// Transcript renders messages as a plain-text history block for the
// {history} placeholder.
func Transcript(messages []*Message) string {
	var sb strings.Builder
	for _, m := range messages {
		switch m.Role {
		case RoleUser:
			sb.WriteString("User: ")
		case RoleAssistant:
			sb.WriteString("Assistant: ")
		default:
			sb.WriteString("System: ")
		}
		sb.WriteString(m.Content)
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}
