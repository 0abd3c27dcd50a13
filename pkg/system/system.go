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

// Package system reconciles database state with the static deployment
// configuration on process start.
package system

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kadirpekel/corpus/pkg/config"
)

// ModelKind distinguishes generation from embedding models.
type ModelKind string

const (
	KindGeneration ModelKind = "generation"
	KindEmbedding  ModelKind = "embedding"
)

// ProviderRecord is one registered LLM provider.
type ProviderRecord struct {
	ID      string
	Name    string
	BaseURL string
	Active  bool
}

// ModelRecord is one registered model under a provider.
type ModelRecord struct {
	ID        string
	Provider  string
	Kind      ModelKind
	ModelID   string
	IsDefault bool
}

// Initializer reconciles llm_providers and llm_models rows against the
// static configuration. It is idempotent and safe to run on every boot.
type Initializer struct {
	db     *sql.DB
	driver string
}

// NewInitializer creates the initializer and its schema.
func NewInitializer(db *sql.DB, driver string) (*Initializer, error) {
	i := &Initializer{db: db, driver: driver}
	if err := i.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize system schema: %w", err)
	}
	return i, nil
}

func (i *Initializer) initSchema() error {
	boolType := "BOOLEAN"
	if i.driver == "mysql" {
		boolType = "TINYINT(1)"
	}

	providers := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS llm_providers (
		id VARCHAR(36) PRIMARY KEY,
		name VARCHAR(64) NOT NULL UNIQUE,
		base_url TEXT NOT NULL DEFAULT '',
		active %s NOT NULL DEFAULT 1,
		updated_at TIMESTAMP NOT NULL
	)`, boolType)

	models := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS llm_models (
		id VARCHAR(36) PRIMARY KEY,
		provider VARCHAR(64) NOT NULL,
		kind VARCHAR(16) NOT NULL,
		model_id VARCHAR(128) NOT NULL,
		is_default %s NOT NULL DEFAULT 0,
		updated_at TIMESTAMP NOT NULL,
		CONSTRAINT uq_model UNIQUE (provider, kind, model_id)
	)`, boolType)

	for _, stmt := range []string{providers, models} {
		if _, err := i.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (i *Initializer) rebind(query string) string {
	if i.driver != "postgres" {
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

// Reconcile upserts provider rows for every configured provider. For WatsonX
// it also pins one default generation model and one default embedding model,
// updating them in place when the configuration drifted.
func (i *Initializer) Reconcile(ctx context.Context, providers config.ProvidersConfig) error {
	type entry struct {
		name string
		cfg  *config.ProviderConfig
	}
	for _, e := range []entry{
		{"watsonx", providers.WatsonX},
		{"openai", providers.OpenAI},
		{"anthropic", providers.Anthropic},
	} {
		if e.cfg == nil {
			continue
		}
		if err := i.upsertProvider(ctx, e.name, e.cfg.BaseURL); err != nil {
			return err
		}
		slog.Debug("Reconciled LLM provider", "provider", e.name)
	}

	if providers.WatsonX != nil {
		if providers.WatsonX.Model != "" {
			if err := i.pinDefaultModel(ctx, "watsonx", KindGeneration, providers.WatsonX.Model); err != nil {
				return err
			}
		}
		if providers.WatsonX.EmbeddingModel != "" {
			if err := i.pinDefaultModel(ctx, "watsonx", KindEmbedding, providers.WatsonX.EmbeddingModel); err != nil {
				return err
			}
		}
	}
	return nil
}

func (i *Initializer) upsertProvider(ctx context.Context, name, baseURL string) error {
	now := time.Now().UTC()
	res, err := i.db.ExecContext(ctx, i.rebind(`
		UPDATE llm_providers SET base_url = ?, active = 1, updated_at = ? WHERE name = ?`),
		baseURL, now, name)
	if err != nil {
		return fmt.Errorf("failed to update provider %s: %w", name, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read update result: %w", err)
	}
	if affected == 0 {
		_, err = i.db.ExecContext(ctx, i.rebind(`
			INSERT INTO llm_providers (id, name, base_url, active, updated_at)
			VALUES (?, ?, ?, 1, ?)`),
			uuid.NewString(), name, baseURL, now)
		if err != nil {
			return fmt.Errorf("failed to insert provider %s: %w", name, err)
		}
	}
	return nil
}

// pinDefaultModel makes modelID the single default for (provider, kind).
func (i *Initializer) pinDefaultModel(ctx context.Context, provider string, kind ModelKind, modelID string) error {
	tx, err := i.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, i.rebind(`
		UPDATE llm_models SET is_default = 0, updated_at = ?
		WHERE provider = ? AND kind = ? AND model_id != ?`),
		now, provider, string(kind), modelID); err != nil {
		return fmt.Errorf("failed to clear default models: %w", err)
	}

	res, err := tx.ExecContext(ctx, i.rebind(`
		UPDATE llm_models SET is_default = 1, updated_at = ?
		WHERE provider = ? AND kind = ? AND model_id = ?`),
		now, provider, string(kind), modelID)
	if err != nil {
		return fmt.Errorf("failed to update default model: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read update result: %w", err)
	}
	if affected == 0 {
		_, err = tx.ExecContext(ctx, i.rebind(`
			INSERT INTO llm_models (id, provider, kind, model_id, is_default, updated_at)
			VALUES (?, ?, ?, ?, 1, ?)`),
			uuid.NewString(), provider, string(kind), modelID, now)
		if err != nil {
			return fmt.Errorf("failed to insert default model: %w", err)
		}
	}
	return tx.Commit()
}

// Providers returns the registered providers.
func (i *Initializer) Providers(ctx context.Context) ([]ProviderRecord, error) {
	rows, err := i.db.QueryContext(ctx,
		`SELECT id, name, base_url, active FROM llm_providers ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to query providers: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []ProviderRecord
	for rows.Next() {
		var r ProviderRecord
		if err := rows.Scan(&r.ID, &r.Name, &r.BaseURL, &r.Active); err != nil {
			return nil, fmt.Errorf("failed to scan provider: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// DefaultModel returns the default model for a provider and kind.
func (i *Initializer) DefaultModel(ctx context.Context, provider string, kind ModelKind) (*ModelRecord, error) {
	var r ModelRecord
	err := i.db.QueryRowContext(ctx, i.rebind(`
		SELECT id, provider, kind, model_id, is_default
		FROM llm_models
		WHERE provider = ? AND kind = ? AND is_default = 1`),
		provider, string(kind)).
		Scan(&r.ID, &r.Provider, &r.Kind, &r.ModelID, &r.IsDefault)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("no default %s model for provider %s", kind, provider)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load default model: %w", err)
	}
	return &r, nil
}
