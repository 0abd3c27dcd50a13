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

package runtimeconfig

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// SQLStore persists configuration entries in a relational database.
// Supported drivers: sqlite3, postgres, mysql.
type SQLStore struct {
	db     *sql.DB
	driver string
}

// NewSQLStore creates the store and its schema.
func NewSQLStore(db *sql.DB, driver string) (*SQLStore, error) {
	s := &SQLStore{db: db, driver: driver}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize runtime config schema: %w", err)
	}
	return s, nil
}

func (s *SQLStore) initSchema() error {
	var autoIncrement string
	switch s.driver {
	case "postgres":
		autoIncrement = "BIGSERIAL PRIMARY KEY"
	case "mysql":
		autoIncrement = "BIGINT AUTO_INCREMENT PRIMARY KEY"
	default:
		autoIncrement = "INTEGER PRIMARY KEY AUTOINCREMENT"
	}

	schema := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS runtime_config (
		id %s,
		scope VARCHAR(16) NOT NULL,
		category VARCHAR(32) NOT NULL,
		config_key VARCHAR(128) NOT NULL,
		config_value TEXT NOT NULL,
		value_type VARCHAR(16) NOT NULL,
		user_id VARCHAR(64) NOT NULL DEFAULT '',
		collection_id VARCHAR(64) NOT NULL DEFAULT '',
		updated_at TIMESTAMP NOT NULL,
		CONSTRAINT uq_runtime_config UNIQUE (scope, category, config_key, user_id, collection_id)
	)`, autoIncrement)

	_, err := s.db.Exec(schema)
	return err
}

// rebind converts ? placeholders to the driver's native form.
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

// Set validates and upserts an entry.
func (s *SQLStore) Set(ctx context.Context, e Entry) error {
	if err := e.Validate(); err != nil {
		return err
	}

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, s.rebind(`
		UPDATE runtime_config
		SET config_value = ?, value_type = ?, updated_at = ?
		WHERE scope = ? AND category = ? AND config_key = ? AND user_id = ? AND collection_id = ?`),
		e.Value.Raw, string(e.Value.Type), now,
		string(e.Scope), string(e.Category), e.Key, e.UserID, e.CollectionID)
	if err != nil {
		return fmt.Errorf("failed to update config entry: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read update result: %w", err)
	}
	if affected > 0 {
		return nil
	}

	_, err = s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO runtime_config
			(scope, category, config_key, config_value, value_type, user_id, collection_id, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		string(e.Scope), string(e.Category), e.Key, e.Value.Raw, string(e.Value.Type),
		e.UserID, e.CollectionID, now)
	if err != nil {
		return fmt.Errorf("failed to insert config entry: %w", err)
	}
	return nil
}

// Delete removes an entry. Missing entries are not an error.
func (s *SQLStore) Delete(ctx context.Context, scope Scope, category Category, key, userID, collectionID string) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`
		DELETE FROM runtime_config
		WHERE scope = ? AND category = ? AND config_key = ? AND user_id = ? AND collection_id = ?`),
		string(scope), string(category), key, userID, collectionID)
	if err != nil {
		return fmt.Errorf("failed to delete config entry: %w", err)
	}
	return nil
}

// List returns all entries for a scope and owner. For GLOBAL both owner ids
// are ignored.
func (s *SQLStore) List(ctx context.Context, scope Scope, userID, collectionID string) ([]Entry, error) {
	var rows *sql.Rows
	var err error

	switch scope {
	case ScopeGlobal:
		rows, err = s.db.QueryContext(ctx, s.rebind(`
			SELECT id, scope, category, config_key, config_value, value_type, user_id, collection_id
			FROM runtime_config WHERE scope = ?`), string(scope))
	case ScopeUser:
		rows, err = s.db.QueryContext(ctx, s.rebind(`
			SELECT id, scope, category, config_key, config_value, value_type, user_id, collection_id
			FROM runtime_config WHERE scope = ? AND user_id = ?`), string(scope), userID)
	case ScopeCollection:
		rows, err = s.db.QueryContext(ctx, s.rebind(`
			SELECT id, scope, category, config_key, config_value, value_type, user_id, collection_id
			FROM runtime_config WHERE scope = ? AND collection_id = ?`), string(scope), collectionID)
	default:
		return nil, NewEntryError(fmt.Sprintf("unknown scope %q", scope))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query config entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var scopeStr, categoryStr, typeStr string
		if err := rows.Scan(&e.ID, &scopeStr, &categoryStr, &e.Key, &e.Value.Raw, &typeStr,
			&e.UserID, &e.CollectionID); err != nil {
			return nil, fmt.Errorf("failed to scan config entry: %w", err)
		}
		e.Scope = Scope(scopeStr)
		e.Category = Category(categoryStr)
		e.Value.Type = ValueType(typeStr)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
