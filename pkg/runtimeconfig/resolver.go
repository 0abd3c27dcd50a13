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
	"fmt"
	"log/slog"
)

// SourceStatic marks values coming from the deployment defaults rather than
// a stored override.
const SourceStatic = "STATIC"

// ResolvedValue is one effective configuration value and the tier it came
// from.
type ResolvedValue struct {
	Value  any
	Source string
}

// Resolver computes the effective configuration for a request.
type Resolver struct {
	store          *SQLStore
	staticDefaults map[string]any
}

// NewResolver creates a resolver over stored overrides and the static
// defaults tier.
func NewResolver(store *SQLStore, staticDefaults map[string]any) *Resolver {
	defaults := make(map[string]any, len(staticDefaults))
	for k, v := range staticDefaults {
		defaults[k] = v
	}
	return &Resolver{store: store, staticDefaults: defaults}
}

// Effective resolves the configuration visible to a user querying a
// collection. Later tiers override earlier ones: static, GLOBAL, USER,
// COLLECTION. Either owner id may be empty to skip its tier.
func (r *Resolver) Effective(ctx context.Context, userID, collectionID string) (map[string]ResolvedValue, error) {
	resolved := make(map[string]ResolvedValue, len(r.staticDefaults))
	for k, v := range r.staticDefaults {
		resolved[k] = ResolvedValue{Value: v, Source: SourceStatic}
	}

	apply := func(scope Scope) error {
		entries, err := r.store.List(ctx, scope, userID, collectionID)
		if err != nil {
			return fmt.Errorf("failed to load %s overrides: %w", scope, err)
		}
		for _, e := range entries {
			value, err := e.Value.Coerce()
			if err != nil {
				// A corrupt row is treated as missing; the key keeps the
				// value from the lower tier.
				slog.Warn("Skipping unreadable config override",
					"scope", scope, "key", e.Key, "error", err)
				continue
			}
			resolved[e.Key] = ResolvedValue{Value: value, Source: string(scope)}
		}
		return nil
	}

	if err := apply(ScopeGlobal); err != nil {
		return nil, err
	}
	if userID != "" {
		if err := apply(ScopeUser); err != nil {
			return nil, err
		}
	}
	if collectionID != "" {
		if err := apply(ScopeCollection); err != nil {
			return nil, err
		}
	}
	return resolved, nil
}

// Int reads an int key from a resolved map, falling back to def when the key
// is absent or not an int.
func Int(resolved map[string]ResolvedValue, key string, def int) int {
	if rv, ok := resolved[key]; ok {
		switch n := rv.Value.(type) {
		case int:
			return n
		case int64:
			return int(n)
		case float64:
			return int(n)
		}
	}
	return def
}

// Float reads a float key.
func Float(resolved map[string]ResolvedValue, key string, def float64) float64 {
	if rv, ok := resolved[key]; ok {
		switch n := rv.Value.(type) {
		case float64:
			return n
		case int:
			return float64(n)
		}
	}
	return def
}

// Bool reads a bool key.
func Bool(resolved map[string]ResolvedValue, key string, def bool) bool {
	if rv, ok := resolved[key]; ok {
		if b, ok := rv.Value.(bool); ok {
			return b
		}
	}
	return def
}

// String reads a string key.
func String(resolved map[string]ResolvedValue, key string, def string) string {
	if rv, ok := resolved[key]; ok {
		if s, ok := rv.Value.(string); ok {
			return s
		}
	}
	return def
}
