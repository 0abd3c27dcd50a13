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
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/kadirpekel/corpus/pkg/processor"
)

// FileEventType categorizes a watcher event.
type FileEventType string

const (
	FileEventCreate FileEventType = "create"
	FileEventUpdate FileEventType = "update"
	FileEventDelete FileEventType = "delete"
	FileEventError  FileEventType = "error"
)

// FileEvent is one change in a watched inbox directory.
type FileEvent struct {
	Type FileEventType
	Path string
	Err  error
}

// Watcher watches an inbox directory and emits events for files a processor
// can handle. Rapid events for the same path are coalesced.
type Watcher struct {
	watcher    *fsnotify.Watcher
	basePath   string
	processors *processor.Registry
	events     chan FileEvent
	debounce   time.Duration

	mu       sync.Mutex
	cancel   context.CancelFunc
	watching bool
}

// NewWatcher creates a watcher over basePath. Only files the registry
// supports produce events.
func NewWatcher(basePath string, processors *processor.Registry) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		watcher:    fsw,
		basePath:   basePath,
		processors: processors,
		events:     make(chan FileEvent, 100),
		debounce:   100 * time.Millisecond,
	}, nil
}

// Start begins watching and returns the event channel.
func (w *Watcher) Start(ctx context.Context) (<-chan FileEvent, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.watching {
		return w.events, nil
	}

	if err := w.addRecursive(w.basePath); err != nil {
		return nil, err
	}

	ctx, w.cancel = context.WithCancel(ctx)
	w.watching = true
	go w.run(ctx)

	slog.Info("Started ingestion watcher", "path", w.basePath)
	return w.events, nil
}

// Stop ends watching and closes the event channel.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.watching {
		return nil
	}
	w.cancel()
	w.watching = false

	if err := w.watcher.Close(); err != nil {
		return err
	}
	close(w.events)
	return nil
}

func (w *Watcher) addRecursive(root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			if err := w.watcher.Add(path); err != nil {
				slog.Warn("Failed to watch directory", "path", path, "error", err)
			}
		}
		return nil
	})
}

func (w *Watcher) run(ctx context.Context) {
	pending := make(map[string]fsnotify.Event)
	var pendingMu sync.Mutex
	var timer *time.Timer

	flush := func() {
		pendingMu.Lock()
		events := pending
		pending = make(map[string]fsnotify.Event)
		pendingMu.Unlock()

		for _, event := range events {
			w.emit(event)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			flush()
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&fsnotify.Chmod == fsnotify.Chmod {
				continue
			}

			pendingMu.Lock()
			pending[event.Name] = event
			pendingMu.Unlock()

			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, flush)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			slog.Error("Ingestion watcher error", "path", w.basePath, "error", err)
			w.events <- FileEvent{Type: FileEventError, Err: err}
		}
	}
}

func (w *Watcher) emit(event fsnotify.Event) {
	path := event.Name

	// New directories need their own watch.
	if event.Op&fsnotify.Create == fsnotify.Create {
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			if err := w.watcher.Add(path); err != nil {
				slog.Warn("Failed to watch new directory", "path", path, "error", err)
			}
			return
		}
	}

	if !w.processors.Supported(path) {
		return
	}

	switch {
	case event.Op&fsnotify.Create == fsnotify.Create:
		w.events <- FileEvent{Type: FileEventCreate, Path: path}
	case event.Op&fsnotify.Write == fsnotify.Write:
		w.events <- FileEvent{Type: FileEventUpdate, Path: path}
	case event.Op&fsnotify.Remove == fsnotify.Remove,
		event.Op&fsnotify.Rename == fsnotify.Rename:
		w.events <- FileEvent{Type: FileEventDelete, Path: path}
	}
}
