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

// Package retry implements exponential backoff with jitter for transient
// failures against remote services.
package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"time"
)

// Config configures retry behavior.
type Config struct {
	// MaxRetries is the number of attempts after the first (default: 3).
	MaxRetries int

	// BaseDelay before the first retry (default: 500ms).
	BaseDelay time.Duration

	// MaxDelay caps the backoff (default: 10s).
	MaxDelay time.Duration

	// JitterFactor randomizes each delay by ±factor (default: 0.2).
	JitterFactor float64

	// RetryableErrors are substrings that mark an error transient. Empty
	// means every error is retried.
	RetryableErrors []string
}

// DefaultConfig returns retry defaults suitable for HTTP API calls.
func DefaultConfig() Config {
	return Config{
		MaxRetries:   3,
		BaseDelay:    500 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		JitterFactor: 0.2,
		RetryableErrors: []string{
			"timeout",
			"connection refused",
			"connection reset",
			"temporary failure",
			"too many requests",
			"rate limit",
			"429",
			"500",
			"502",
			"503",
			"504",
		},
	}
}

// Retryer executes operations with exponential backoff.
type Retryer struct {
	config Config
}

// New creates a Retryer, filling zero fields from DefaultConfig.
func New(cfg Config) *Retryer {
	def := DefaultConfig()
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = def.MaxDelay
	}
	if cfg.JitterFactor <= 0 {
		cfg.JitterFactor = def.JitterFactor
	}
	if cfg.RetryableErrors == nil {
		cfg.RetryableErrors = def.RetryableErrors
	}
	return &Retryer{config: cfg}
}

// Do runs op, retrying transient errors until the attempt budget or the
// context runs out. The last error is returned.
func (r *Retryer) Do(ctx context.Context, op func() error) error {
	var lastErr error

	for attempt := 0; attempt <= r.config.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := r.delayFor(attempt)
			select {
			case <-ctx.Done():
				return fmt.Errorf("retry aborted: %w", ctx.Err())
			case <-time.After(delay):
			}
		}

		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !r.isRetryable(lastErr) {
			return lastErr
		}
	}

	return fmt.Errorf("exhausted %d retries: %w", r.config.MaxRetries, lastErr)
}

func (r *Retryer) delayFor(attempt int) time.Duration {
	backoff := float64(r.config.BaseDelay) * math.Pow(2, float64(attempt-1))
	if backoff > float64(r.config.MaxDelay) {
		backoff = float64(r.config.MaxDelay)
	}
	jitter := 1 + r.config.JitterFactor*(2*rand.Float64()-1)
	return time.Duration(backoff * jitter)
}

func (r *Retryer) isRetryable(err error) bool {
	if len(r.config.RetryableErrors) == 0 {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range r.config.RetryableErrors {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
