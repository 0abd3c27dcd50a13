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

// Package runtimeconfig stores scoped configuration overrides and resolves
// the effective configuration for a request.
//
// Precedence, lowest to highest: static deployment defaults, GLOBAL
// overrides, USER overrides, COLLECTION overrides.
package runtimeconfig

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Scope of a configuration entry.
type Scope string

const (
	ScopeGlobal     Scope = "GLOBAL"
	ScopeUser       Scope = "USER"
	ScopeCollection Scope = "COLLECTION"
)

// Category groups related keys.
type Category string

const (
	CategoryChunking   Category = "chunking"
	CategoryEmbedding  Category = "embedding"
	CategoryRetrieval  Category = "retrieval"
	CategoryGeneration Category = "generation"
	CategoryRewrite    Category = "rewrite"
	CategoryReasoning  Category = "reasoning"
	CategoryHistory    Category = "history"
)

// ValueType of a stored value.
type ValueType string

const (
	TypeString ValueType = "str"
	TypeInt    ValueType = "int"
	TypeFloat  ValueType = "float"
	TypeBool   ValueType = "bool"
	TypeList   ValueType = "list"
	TypeDict   ValueType = "dict"
)

// TypedValue is a value with its declared type. Values are persisted as
// strings and coerced back on read.
type TypedValue struct {
	Raw  string
	Type ValueType
}

// NewTypedValue encodes a Go value with its type tag.
func NewTypedValue(v any) (TypedValue, error) {
	switch val := v.(type) {
	case string:
		return TypedValue{Raw: val, Type: TypeString}, nil
	case int:
		return TypedValue{Raw: strconv.Itoa(val), Type: TypeInt}, nil
	case int64:
		return TypedValue{Raw: strconv.FormatInt(val, 10), Type: TypeInt}, nil
	case float64:
		return TypedValue{Raw: strconv.FormatFloat(val, 'g', -1, 64), Type: TypeFloat}, nil
	case bool:
		return TypedValue{Raw: strconv.FormatBool(val), Type: TypeBool}, nil
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return TypedValue{}, fmt.Errorf("value is not encodable: %w", err)
		}
		switch {
		case len(raw) > 0 && raw[0] == '[':
			return TypedValue{Raw: string(raw), Type: TypeList}, nil
		case len(raw) > 0 && raw[0] == '{':
			return TypedValue{Raw: string(raw), Type: TypeDict}, nil
		default:
			return TypedValue{}, fmt.Errorf("unsupported value type %T", v)
		}
	}
}

// Coerce decodes the raw string into the declared type.
func (t TypedValue) Coerce() (any, error) {
	switch t.Type {
	case TypeString:
		return t.Raw, nil
	case TypeInt:
		n, err := strconv.Atoi(strings.TrimSpace(t.Raw))
		if err != nil {
			return nil, NewConfigTypeError(t.Raw, t.Type)
		}
		return n, nil
	case TypeFloat:
		f, err := strconv.ParseFloat(strings.TrimSpace(t.Raw), 64)
		if err != nil {
			return nil, NewConfigTypeError(t.Raw, t.Type)
		}
		return f, nil
	case TypeBool:
		b, err := strconv.ParseBool(strings.TrimSpace(t.Raw))
		if err != nil {
			return nil, NewConfigTypeError(t.Raw, t.Type)
		}
		return b, nil
	case TypeList:
		var v []any
		if err := json.Unmarshal([]byte(t.Raw), &v); err != nil {
			return nil, NewConfigTypeError(t.Raw, t.Type)
		}
		return v, nil
	case TypeDict:
		var v map[string]any
		if err := json.Unmarshal([]byte(t.Raw), &v); err != nil {
			return nil, NewConfigTypeError(t.Raw, t.Type)
		}
		return v, nil
	default:
		return nil, NewConfigTypeError(t.Raw, t.Type)
	}
}

// Entry is one stored override.
type Entry struct {
	ID           int64
	Scope        Scope
	Category     Category
	Key          string
	Value        TypedValue
	UserID       string
	CollectionID string
}

// Validate checks scope constraints: GLOBAL entries carry no owner, USER
// entries require a user, COLLECTION entries require both a user and a
// collection.
func (e *Entry) Validate() error {
	if e.Key == "" {
		return NewEntryError("key is required")
	}
	switch e.Scope {
	case ScopeGlobal:
		if e.UserID != "" || e.CollectionID != "" {
			return NewEntryError("GLOBAL entries must not reference a user or collection")
		}
	case ScopeUser:
		if e.UserID == "" {
			return NewEntryError("USER entries require a user id")
		}
		if e.CollectionID != "" {
			return NewEntryError("USER entries must not reference a collection")
		}
	case ScopeCollection:
		if e.UserID == "" {
			return NewEntryError("COLLECTION entries require a user id")
		}
		if e.CollectionID == "" {
			return NewEntryError("COLLECTION entries require a collection id")
		}
	default:
		return NewEntryError(fmt.Sprintf("unknown scope %q", e.Scope))
	}
	if _, err := e.Value.Coerce(); err != nil {
		return err
	}
	return nil
}

// ConfigTypeError reports a raw value that cannot be coerced to its declared
// type.
type ConfigTypeError struct {
	Raw  string
	Type ValueType
}

func (e *ConfigTypeError) Error() string {
	return fmt.Sprintf("value %q is not a valid %s", e.Raw, e.Type)
}

// NewConfigTypeError creates a new ConfigTypeError.
func NewConfigTypeError(raw string, t ValueType) *ConfigTypeError {
	return &ConfigTypeError{Raw: raw, Type: t}
}

// EntryError reports an invalid entry.
type EntryError struct {
	Message string
}

func (e *EntryError) Error() string {
	return "invalid config entry: " + e.Message
}

// NewEntryError creates a new EntryError.
func NewEntryError(message string) *EntryError {
	return &EntryError{Message: message}
}
