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

package prompt

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SQLStore persists templates in a relational database.
type SQLStore struct {
	db     *sql.DB
	driver string
}

// NewSQLStore creates the store and its schema.
func NewSQLStore(db *sql.DB, driver string) (*SQLStore, error) {
	s := &SQLStore{db: db, driver: driver}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize prompt schema: %w", err)
	}
	return s, nil
}

func (s *SQLStore) initSchema() error {
	boolType := "BOOLEAN"
	if s.driver == "mysql" {
		boolType = "TINYINT(1)"
	}

	schema := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS prompt_templates (
		id VARCHAR(36) PRIMARY KEY,
		user_id VARCHAR(64) NOT NULL DEFAULT '',
		name VARCHAR(128) NOT NULL,
		template_type VARCHAR(32) NOT NULL,
		template_text TEXT NOT NULL,
		system_prompt TEXT NOT NULL DEFAULT '',
		variables TEXT NOT NULL DEFAULT '',
		is_default %s NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		CONSTRAINT uq_prompt_name UNIQUE (user_id, name)
	)`, boolType)

	_, err := s.db.Exec(schema)
	return err
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

// Save validates and inserts or updates a template. Marking a template
// default clears the previous default for the same user and type.
func (s *SQLStore) Save(ctx context.Context, t *Template) error {
	if err := t.Validate(); err != nil {
		return err
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if t.IsDefault {
		_, err = tx.ExecContext(ctx, s.rebind(`
			UPDATE prompt_templates SET is_default = 0, updated_at = ?
			WHERE user_id = ? AND template_type = ? AND is_default = 1 AND id != ?`),
			time.Now().UTC(), t.UserID, string(t.Type), t.ID)
		if err != nil {
			return fmt.Errorf("failed to clear previous default: %w", err)
		}
	}

	now := time.Now().UTC()
	vars := strings.Join(t.Variables, ",")
	res, err := tx.ExecContext(ctx, s.rebind(`
		UPDATE prompt_templates
		SET name = ?, template_type = ?, template_text = ?, system_prompt = ?,
			variables = ?, is_default = ?, updated_at = ?
		WHERE id = ?`),
		t.Name, string(t.Type), t.Text, t.SystemPrompt, vars, t.IsDefault, now, t.ID)
	if err != nil {
		return fmt.Errorf("failed to update template: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read update result: %w", err)
	}
	if affected == 0 {
		_, err = tx.ExecContext(ctx, s.rebind(`
			INSERT INTO prompt_templates
				(id, user_id, name, template_type, template_text, system_prompt, variables, is_default, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
			t.ID, t.UserID, t.Name, string(t.Type), t.Text, t.SystemPrompt, vars, t.IsDefault, now, now)
		if err != nil {
			return fmt.Errorf("failed to insert template: %w", err)
		}
	}

	return tx.Commit()
}

// Get returns a template by id.
func (s *SQLStore) Get(ctx context.Context, id string) (*Template, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT id, user_id, name, template_type, template_text, system_prompt, variables, is_default
		FROM prompt_templates WHERE id = ?`), id)
	return scanTemplate(row)
}

// Default returns the default template for a user and type, falling back to
// the shared (empty user) default.
func (s *SQLStore) Default(ctx context.Context, userID string, typ TemplateType) (*Template, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT id, user_id, name, template_type, template_text, system_prompt, variables, is_default
		FROM prompt_templates
		WHERE template_type = ? AND is_default = 1 AND (user_id = ? OR user_id = '')
		ORDER BY CASE WHEN user_id = '' THEN 1 ELSE 0 END
		LIMIT 1`), string(typ), userID)
	return scanTemplate(row)
}

// List returns the templates visible to a user: their own plus shared ones.
func (s *SQLStore) List(ctx context.Context, userID string) ([]*Template, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT id, user_id, name, template_type, template_text, system_prompt, variables, is_default
		FROM prompt_templates
		WHERE user_id = ? OR user_id = ''
		ORDER BY name`), userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query templates: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var templates []*Template
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		templates = append(templates, t)
	}
	return templates, rows.Err()
}

// Delete removes a template by id.
func (s *SQLStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM prompt_templates WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("failed to delete template: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTemplate(row rowScanner) (*Template, error) {
	var t Template
	var typ, vars string
	err := row.Scan(&t.ID, &t.UserID, &t.Name, &typ, &t.Text, &t.SystemPrompt, &vars, &t.IsDefault)
	if err == sql.ErrNoRows {
		return nil, NewTemplateError("", "template not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan template: %w", err)
	}
	t.Type = TemplateType(typ)
	if vars != "" {
		t.Variables = strings.Split(vars, ",")
	}
	return &t, nil
}
