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

package ingest

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// CollectionStatus tracks the ingestion lifecycle of a collection.
type CollectionStatus string

const (
	StatusCreated    CollectionStatus = "CREATED"
	StatusProcessing CollectionStatus = "PROCESSING"
	StatusCompleted  CollectionStatus = "COMPLETED"
	StatusError      CollectionStatus = "ERROR"
)

// Collection is the catalog record of a vector-store collection.
type Collection struct {
	ID             string
	Name           string
	UserID         string
	IsPrivate      bool
	EmbeddingModel string
	Dimension      int
	Status         CollectionStatus
	CreatedAt      time.Time
}

// DocumentRecord is the catalog record of one ingested document.
type DocumentRecord struct {
	ID           string
	CollectionID string
	Name         string
	Source       string
	Status       CollectionStatus
	Chunks       int
	CreatedAt    time.Time
}

// Catalog tracks collections and documents in a relational database. The
// vector store holds the chunks; the catalog holds the bookkeeping.
type Catalog struct {
	db     *sql.DB
	driver string
}

// NewCatalog creates the catalog and its schema.
func NewCatalog(db *sql.DB, driver string) (*Catalog, error) {
	c := &Catalog{db: db, driver: driver}
	if err := c.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize catalog schema: %w", err)
	}
	return c, nil
}

func (c *Catalog) initSchema() error {
	boolType := "BOOLEAN"
	if c.driver == "mysql" {
		boolType = "TINYINT(1)"
	}

	collections := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS collections (
		id VARCHAR(36) PRIMARY KEY,
		name VARCHAR(128) NOT NULL,
		user_id VARCHAR(64) NOT NULL DEFAULT '',
		is_private %s NOT NULL DEFAULT 0,
		embedding_model VARCHAR(128) NOT NULL DEFAULT '',
		dimension INTEGER NOT NULL DEFAULT 0,
		status VARCHAR(16) NOT NULL,
		created_at TIMESTAMP NOT NULL,
		CONSTRAINT uq_collection_name UNIQUE (user_id, name)
	)`, boolType)

	documents := `
	CREATE TABLE IF NOT EXISTS documents (
		id VARCHAR(36) PRIMARY KEY,
		collection_id VARCHAR(36) NOT NULL,
		name VARCHAR(256) NOT NULL,
		source TEXT NOT NULL,
		status VARCHAR(16) NOT NULL,
		chunks INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL
	)`

	for _, stmt := range []string{collections, documents} {
		if _, err := c.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (c *Catalog) rebind(query string) string {
	if c.driver != "postgres" {
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

// CreateCollection registers a collection in CREATED status.
func (c *Catalog) CreateCollection(ctx context.Context, col *Collection) error {
	if col.Name == "" {
		return fmt.Errorf("collection name is required")
	}
	if col.ID == "" {
		col.ID = uuid.NewString()
	}
	col.Status = StatusCreated
	col.CreatedAt = time.Now().UTC()

	_, err := c.db.ExecContext(ctx, c.rebind(`
		INSERT INTO collections (id, name, user_id, is_private, embedding_model, dimension, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		col.ID, col.Name, col.UserID, col.IsPrivate, col.EmbeddingModel,
		col.Dimension, string(col.Status), col.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}
	return nil
}

// GetCollection returns a collection by id.
func (c *Catalog) GetCollection(ctx context.Context, id string) (*Collection, error) {
	var col Collection
	var status string
	err := c.db.QueryRowContext(ctx, c.rebind(`
		SELECT id, name, user_id, is_private, embedding_model, dimension, status, created_at
		FROM collections WHERE id = ?`), id).
		Scan(&col.ID, &col.Name, &col.UserID, &col.IsPrivate, &col.EmbeddingModel,
			&col.Dimension, &status, &col.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("collection not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load collection: %w", err)
	}
	col.Status = CollectionStatus(status)
	return &col, nil
}

// ListCollections returns the collections owned by a user.
func (c *Catalog) ListCollections(ctx context.Context, userID string) ([]*Collection, error) {
	rows, err := c.db.QueryContext(ctx, c.rebind(`
		SELECT id, name, user_id, is_private, embedding_model, dimension, status, created_at
		FROM collections WHERE user_id = ? ORDER BY created_at`), userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query collections: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var cols []*Collection
	for rows.Next() {
		var col Collection
		var status string
		if err := rows.Scan(&col.ID, &col.Name, &col.UserID, &col.IsPrivate,
			&col.EmbeddingModel, &col.Dimension, &status, &col.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan collection: %w", err)
		}
		col.Status = CollectionStatus(status)
		cols = append(cols, &col)
	}
	return cols, rows.Err()
}

// SetCollectionStatus transitions a collection's lifecycle state.
func (c *Catalog) SetCollectionStatus(ctx context.Context, id string, status CollectionStatus) error {
	_, err := c.db.ExecContext(ctx, c.rebind(
		`UPDATE collections SET status = ? WHERE id = ?`), string(status), id)
	if err != nil {
		return fmt.Errorf("failed to update collection status: %w", err)
	}
	return nil
}

// SetCollectionDimension pins the embedding dimension on first write.
func (c *Catalog) SetCollectionDimension(ctx context.Context, id string, dimension int) error {
	_, err := c.db.ExecContext(ctx, c.rebind(
		`UPDATE collections SET dimension = ? WHERE id = ? AND dimension = 0`), dimension, id)
	if err != nil {
		return fmt.Errorf("failed to set collection dimension: %w", err)
	}
	return nil
}

// DeleteCollection removes a collection and its document records.
func (c *Catalog) DeleteCollection(ctx context.Context, id string) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, c.rebind(
		`DELETE FROM documents WHERE collection_id = ?`), id); err != nil {
		return fmt.Errorf("failed to delete documents: %w", err)
	}
	if _, err := tx.ExecContext(ctx, c.rebind(
		`DELETE FROM collections WHERE id = ?`), id); err != nil {
		return fmt.Errorf("failed to delete collection: %w", err)
	}
	return tx.Commit()
}

// CreateDocument registers a document in PROCESSING status.
func (c *Catalog) CreateDocument(ctx context.Context, doc *DocumentRecord) error {
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	doc.Status = StatusProcessing
	doc.CreatedAt = time.Now().UTC()

	_, err := c.db.ExecContext(ctx, c.rebind(`
		INSERT INTO documents (id, collection_id, name, source, status, chunks, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`),
		doc.ID, doc.CollectionID, doc.Name, doc.Source, string(doc.Status),
		doc.Chunks, doc.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create document: %w", err)
	}
	return nil
}

// FinishDocument records a document's terminal status and chunk count.
func (c *Catalog) FinishDocument(ctx context.Context, id string, status CollectionStatus, chunks int) error {
	_, err := c.db.ExecContext(ctx, c.rebind(
		`UPDATE documents SET status = ?, chunks = ? WHERE id = ?`), string(status), chunks, id)
	if err != nil {
		return fmt.Errorf("failed to update document: %w", err)
	}
	return nil
}

// ListDocuments returns the documents in a collection.
func (c *Catalog) ListDocuments(ctx context.Context, collectionID string) ([]*DocumentRecord, error) {
	rows, err := c.db.QueryContext(ctx, c.rebind(`
		SELECT id, collection_id, name, source, status, chunks, created_at
		FROM documents WHERE collection_id = ? ORDER BY created_at`), collectionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var docs []*DocumentRecord
	for rows.Next() {
		var doc DocumentRecord
		var status string
		if err := rows.Scan(&doc.ID, &doc.CollectionID, &doc.Name, &doc.Source,
			&status, &doc.Chunks, &doc.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		doc.Status = CollectionStatus(status)
		docs = append(docs, &doc)
	}
	return docs, rows.Err()
}
