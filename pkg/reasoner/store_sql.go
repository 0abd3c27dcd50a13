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

package reasoner

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TraceStore persists reasoning traces for later inspection.
type TraceStore struct {
	db     *sql.DB
	driver string
}

// NewTraceStore creates the store and its schema.
func NewTraceStore(db *sql.DB, driver string) (*TraceStore, error) {
	s := &TraceStore{db: db, driver: driver}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize reasoning schema: %w", err)
	}
	return s, nil
}

func (s *TraceStore) initSchema() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS reasoning_traces (
		id VARCHAR(36) PRIMARY KEY,
		user_id VARCHAR(64) NOT NULL,
		collection_id VARCHAR(64) NOT NULL DEFAULT '',
		question TEXT NOT NULL,
		trace TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	)`)
	return err
}

func (s *TraceStore) rebind(query string) string {
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

// Save stores one reasoning trace.
func (s *TraceStore) Save(ctx context.Context, userID, collectionID string, output *Output) error {
	raw, err := json.Marshal(output)
	if err != nil {
		return fmt.Errorf("failed to marshal reasoning trace: %w", err)
	}
	_, err = s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO reasoning_traces (id, user_id, collection_id, question, trace, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`),
		uuid.NewString(), userID, collectionID, output.Question, string(raw), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save reasoning trace: %w", err)
	}
	return nil
}

// List returns the traces for a user and collection, newest first.
func (s *TraceStore) List(ctx context.Context, userID, collectionID string, limit int) ([]*Output, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT trace FROM reasoning_traces
		WHERE user_id = ? AND collection_id = ?
		ORDER BY created_at DESC
		LIMIT ?`), userID, collectionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query reasoning traces: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var outputs []*Output
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan reasoning trace: %w", err)
		}
		var out Output
		if err := json.Unmarshal([]byte(raw), &out); err != nil {
			return nil, fmt.Errorf("failed to unmarshal reasoning trace: %w", err)
		}
		outputs = append(outputs, &out)
	}
	return outputs, rows.Err()
}
