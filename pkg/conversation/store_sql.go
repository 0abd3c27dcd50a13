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

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SQLStore persists sessions and messages in a relational database.
type SQLStore struct {
	db     *sql.DB
	driver string
}

// NewSQLStore creates the store and its schema.
func NewSQLStore(db *sql.DB, driver string) (*SQLStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	s := &SQLStore{db: db, driver: driver}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize conversation schema: %w", err)
	}
	return s, nil
}

// Ping checks database connectivity.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLStore) initSchema() error {
	sessions := `
	CREATE TABLE IF NOT EXISTS conversation_sessions (
		id VARCHAR(36) PRIMARY KEY,
		user_id VARCHAR(64) NOT NULL,
		collection_id VARCHAR(64) NOT NULL DEFAULT '',
		status VARCHAR(32) NOT NULL DEFAULT 'active',
		created_at TIMESTAMP NOT NULL
	)`

	messages := `
	CREATE TABLE IF NOT EXISTS conversation_messages (
		id VARCHAR(36) PRIMARY KEY,
		session_id VARCHAR(36) NOT NULL,
		role VARCHAR(16) NOT NULL,
		message_type VARCHAR(32) NOT NULL,
		content TEXT NOT NULL,
		token_count INTEGER NOT NULL DEFAULT 0,
		execution_time DOUBLE PRECISION NOT NULL DEFAULT 0,
		metadata TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL
	)`
	if s.driver == "mysql" {
		messages = strings.Replace(messages, "DOUBLE PRECISION", "DOUBLE", 1)
	}

	index := `CREATE INDEX IF NOT EXISTS idx_conversation_messages_session
		ON conversation_messages(session_id, created_at)`

	for _, stmt := range []string{sessions, messages} {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	// MySQL has no IF NOT EXISTS for indexes; a duplicate is harmless there.
	if _, err := s.db.Exec(index); err != nil && s.driver != "mysql" {
		return err
	}
	return nil
}

func (s *SQLStore) rebind(query string) string {
	if s.driver != "postgres" {
		return query
	}
	var sb strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&sb, "$%d", n)
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// CreateSession starts a new session and returns its id.
func (s *SQLStore) CreateSession(ctx context.Context, userID, collectionID string) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("user id is required")
	}
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO conversation_sessions (id, user_id, collection_id, status, created_at)
		VALUES (?, ?, ?, 'active', ?)`),
		id, userID, collectionID, time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("failed to create session: %w", err)
	}
	return id, nil
}

// GetSession returns a session by id.
func (s *SQLStore) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	var sess Session
	err := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT id, user_id, collection_id, status, created_at
		FROM conversation_sessions WHERE id = ?`), sessionID).
		Scan(&sess.ID, &sess.UserID, &sess.CollectionID, &sess.Status, &sess.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, NewSessionNotFoundError(sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	return &sess, nil
}

// AppendMessage adds a message to the session log and returns its id. The
// session must exist.
func (s *SQLStore) AppendMessage(ctx context.Context, m *Message) (string, error) {
	if m.SessionID == "" {
		return "", fmt.Errorf("session id is required")
	}
	if m.Content == "" {
		return "", fmt.Errorf("message content is required")
	}
	if _, err := s.GetSession(ctx, m.SessionID); err != nil {
		return "", err
	}

	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}

	meta := ""
	if len(m.Metadata) > 0 {
		raw, err := json.Marshal(m.Metadata)
		if err != nil {
			return "", fmt.Errorf("failed to marshal message metadata: %w", err)
		}
		meta = string(raw)
	}

	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO conversation_messages
			(id, session_id, role, message_type, content, token_count, execution_time, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		m.ID, m.SessionID, string(m.Role), string(m.Type), m.Content,
		m.TokenCount, m.ExecutionTime, meta, m.CreatedAt)
	if err != nil {
		return "", fmt.Errorf("failed to append message: %w", err)
	}
	return m.ID, nil
}

// RecentMessages returns the last count messages in chronological order.
func (s *SQLStore) RecentMessages(ctx context.Context, sessionID string, count int) ([]*Message, error) {
	if count <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT id, session_id, role, message_type, content, token_count, execution_time, metadata, created_at
		FROM conversation_messages
		WHERE session_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`), sessionID, count)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var messages []*Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Newest-first from the query, reversed to chronological.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// TokenUsage returns the summed token count of all messages in a session.
func (s *SQLStore) TokenUsage(ctx context.Context, sessionID string) (int, error) {
	var total int
	err := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT COALESCE(SUM(token_count), 0)
		FROM conversation_messages WHERE session_id = ?`), sessionID).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to sum token usage: %w", err)
	}
	return total, nil
}

// DeleteSession removes a session and all its messages.
func (s *SQLStore) DeleteSession(ctx context.Context, sessionID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, s.rebind(
		`DELETE FROM conversation_messages WHERE session_id = ?`), sessionID); err != nil {
		return fmt.Errorf("failed to delete messages: %w", err)
	}
	if _, err := tx.ExecContext(ctx, s.rebind(
		`DELETE FROM conversation_sessions WHERE id = ?`), sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return tx.Commit()
}

func scanMessage(rows *sql.Rows) (*Message, error) {
	var m Message
	var role, typ, meta string
	err := rows.Scan(&m.ID, &m.SessionID, &role, &typ, &m.Content,
		&m.TokenCount, &m.ExecutionTime, &meta, &m.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to scan message: %w", err)
	}
	m.Role = Role(role)
	m.Type = MessageType(typ)
	if meta != "" {
		if err := json.Unmarshal([]byte(meta), &m.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal message metadata: %w", err)
		}
	}
	return &m, nil
}
