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

package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kadirpekel/corpus/pkg/ingest"
	"github.com/kadirpekel/corpus/pkg/search"
)

// IngestCmd ingests files or directories into a collection.
type IngestCmd struct {
	Collection string   `short:"C" required:"" help:"Collection name (created when missing)."`
	User       string   `short:"u" default:"cli" help:"Owner user id."`
	Paths      []string `arg:"" type:"path" help:"Files or directories to ingest."`
}

func (c *IngestCmd) Run(cli *CLI) error {
	a, err := buildApp(cli.Config)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := context.Background()
	col, err := ensureCollection(ctx, a, c.Collection, c.User)
	if err != nil {
		return err
	}

	files, err := collectFiles(c.Paths)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no files found under %v", c.Paths)
	}

	report, err := a.pipeline.Ingest(ctx, col.ID, c.User, files)
	if err != nil {
		return err
	}

	fmt.Printf("Collection %s (%s)\n", col.Name, col.ID)
	fmt.Printf("  files succeeded: %d\n", report.FilesSucceeded)
	fmt.Printf("  files failed:    %d\n", len(report.FilesFailed))
	fmt.Printf("  documents:       %d\n", report.DocumentsWritten)
	fmt.Printf("  chunks:          %d\n", report.ChunksWritten)
	for _, failure := range report.FilesFailed {
		fmt.Printf("  FAILED %s (%s): %s\n", failure.File, failure.Stage, failure.Cause)
	}
	return nil
}

// SearchCmd answers one question from the command line.
type SearchCmd struct {
	Collection string `short:"C" required:"" help:"Collection id or name."`
	User       string `short:"u" default:"cli" help:"User id for config resolution."`
	Question   string `arg:"" help:"The question to answer."`
}

func (c *SearchCmd) Run(cli *CLI) error {
	a, err := buildApp(cli.Config)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := context.Background()
	collectionID := c.Collection
	if col := findCollectionByName(ctx, a, c.Collection, c.User); col != nil {
		collectionID = col.ID
	}

	result, err := a.reasoner.Reason(ctx, search.Request{
		Question:     c.Question,
		CollectionID: collectionID,
		UserID:       c.User,
	})
	if err != nil {
		return err
	}

	fmt.Println(result.Answer)
	if len(result.Documents) > 0 {
		names := make([]string, len(result.Documents))
		for i, doc := range result.Documents {
			names[i] = doc.DocumentName
		}
		fmt.Printf("\nSources: %s\n", strings.Join(names, ", "))
	}
	return nil
}

// InitCmd creates the database schema and reconciles the provider registry.
type InitCmd struct{}

func (c *InitCmd) Run(cli *CLI) error {
	a, err := buildApp(cli.Config)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := context.Background()
	if err := a.system.Reconcile(ctx, a.settings.Providers); err != nil {
		return fmt.Errorf("failed to reconcile providers: %w", err)
	}

	providers, err := a.system.Providers(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Initialized. %d provider(s) registered.\n", len(providers))
	for _, p := range providers {
		fmt.Printf("  %s\n", p.Name)
	}
	return nil
}

func ensureCollection(ctx context.Context, a *app, name, user string) (*ingest.Collection, error) {
	if col := findCollectionByName(ctx, a, name, user); col != nil {
		return col, nil
	}
	col := &ingest.Collection{Name: name, UserID: user}
	if err := a.catalog.CreateCollection(ctx, col); err != nil {
		return nil, err
	}
	return col, nil
}

func findCollectionByName(ctx context.Context, a *app, name, user string) *ingest.Collection {
	cols, err := a.catalog.ListCollections(ctx, user)
	if err != nil {
		return nil
	}
	for _, col := range cols {
		if col.Name == name || col.ID == name {
			return col
		}
	}
	return nil
}

func collectFiles(paths []string) ([]string, error) {
	var files []string
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			files = append(files, path)
			continue
		}
		err = filepath.Walk(path, func(p string, fi os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if !fi.IsDir() {
				files = append(files, p)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return files, nil
}
