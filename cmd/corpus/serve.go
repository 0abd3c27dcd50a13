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
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/kadirpekel/corpus/pkg/ingest"
	"github.com/kadirpekel/corpus/pkg/observability"
	"github.com/kadirpekel/corpus/pkg/server"
)

// ServeCmd starts the HTTP server.
type ServeCmd struct {
	Port      int    `help:"Port to listen on (overrides config)." default:"0"`
	UploadDir string `name:"upload-dir" help:"Directory for staging uploaded files." type:"path"`
}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("Shutting down...")
		cancel()
	}()

	a, err := buildApp(cli.Config)
	if err != nil {
		return err
	}
	defer a.Close()

	if c.Port != 0 {
		a.settings.Server.Port = c.Port
	}

	if err := a.system.Reconcile(ctx, a.settings.Providers); err != nil {
		return fmt.Errorf("failed to reconcile providers: %w", err)
	}

	if a.settings.Ingestion.WatchDir != "" {
		if err := c.startWatcher(ctx, a); err != nil {
			return err
		}
	}

	opts := []server.Option{
		server.WithMetrics(observability.NewMetrics()),
		server.WithTemplateStore(a.templates),
	}
	if c.UploadDir != "" {
		opts = append(opts, server.WithUploadDir(c.UploadDir))
	}

	srv := server.New(a.settings.Server,
		server.SearchFunc(a.reasoner.Reason),
		a.pipeline, a.catalog, a.sessions, a.resolver, a.providers, a.store,
		opts...)

	return srv.ListenAndServe(ctx)
}

// startWatcher ingests files dropped into the watch directory. They land in
// a collection named after the directory, created on first use.
func (c *ServeCmd) startWatcher(ctx context.Context, a *app) error {
	name := inboxName(a.settings.Ingestion.WatchDir)
	col := &ingest.Collection{Name: name, UserID: "system"}
	if err := a.catalog.CreateCollection(ctx, col); err != nil {
		existing, lookupErr := a.catalog.ListCollections(ctx, "system")
		if lookupErr != nil {
			return fmt.Errorf("failed to prepare watch collection: %w", err)
		}
		found := false
		for _, e := range existing {
			if e.Name == name {
				col = e
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("failed to prepare watch collection: %w", err)
		}
	}

	watcher, err := ingest.NewWatcher(a.settings.Ingestion.WatchDir, ingestProcessors(a.settings.Ingestion.ImageDir))
	if err != nil {
		return fmt.Errorf("failed to start ingestion watcher: %w", err)
	}
	events, err := watcher.Start(ctx)
	if err != nil {
		return fmt.Errorf("failed to start ingestion watcher: %w", err)
	}

	go func() {
		defer func() { _ = watcher.Stop() }()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-events:
				if !ok {
					return
				}
				switch event.Type {
				case ingest.FileEventCreate, ingest.FileEventUpdate:
					if _, err := a.pipeline.Ingest(ctx, col.ID, col.UserID, []string{event.Path}); err != nil {
						slog.Error("Watch ingestion failed", "path", event.Path, "error", err)
					}
				case ingest.FileEventDelete:
					slog.Info("Watched file removed", "path", event.Path)
				case ingest.FileEventError:
					slog.Warn("Watcher error", "error", event.Err)
				}
			}
		}
	}()

	slog.Info("Watching for documents", "dir", a.settings.Ingestion.WatchDir, "collection", col.ID)
	return nil
}

func inboxName(dir string) string {
	name := strings.Trim(strings.ReplaceAll(dir, string(os.PathSeparator), "-"), "-. ")
	if name == "" {
		return "inbox"
	}
	return "inbox-" + name
}
