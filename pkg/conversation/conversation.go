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

// Package conversation keeps the per-session message log used to carry chat
// history into search prompts.
package conversation

import (
	"fmt"
	"time"
)

// Role of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// MessageType categorizes a message within a session.
type MessageType string

const (
	TypeQuestion MessageType = "question"
	TypeAnswer   MessageType = "answer"
	TypeFollowUp MessageType = "follow_up"
	TypeSystem   MessageType = "system"
)

// Session is one conversation thread bound to a user and collection.
type Session struct {
	ID           string
	UserID       string
	CollectionID string
	Status       string
	CreatedAt    time.Time
}

// Message is one append-only entry in a session log.
type Message struct {
	ID        string
	SessionID string
	Role      Role
	Type      MessageType
	Content   string

	// TokenCount is the token usage attributed to this message.
	TokenCount int

	// ExecutionTime is the wall-clock seconds spent producing the message.
	ExecutionTime float64

	// Metadata is arbitrary JSON-serializable context.
	Metadata map[string]any

	CreatedAt time.Time
}

// SessionError reports a failure against a session.
type SessionError struct {
	SessionID string
	Message   string
	NotFound  bool
	Err       error
}

func (e *SessionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("session %s: %s: %v", e.SessionID, e.Message, e.Err)
	}
	return fmt.Sprintf("session %s: %s", e.SessionID, e.Message)
}

func (e *SessionError) Unwrap() error {
	return e.Err
}

// NewSessionNotFoundError creates a SessionError marked not-found.
func NewSessionNotFoundError(sessionID string) *SessionError {
	return &SessionError{SessionID: sessionID, Message: "session not found", NotFound: true}
}
