// Copyright 2025 Poiesic Systems
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

// Package staleness implements the index generation contract.
//
// Every committed write to the vector store increments its generation. A
// snapshot taken at generation g never observes later writes, so a caller
// that indexed a record at generation g and then queries with
// MinGeneration g is guaranteed to see it.
package staleness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/poiesic/medrag/core"
	"github.com/poiesic/medrag/storage"
)

// ErrStoreRequired is returned when a vector store is not provided.
var ErrStoreRequired = errors.New("vector store required")

const defaultPollInterval = 25 * time.Millisecond

// Guard answers visibility questions about the index generation.
type Guard struct {
	store    storage.VectorStore
	interval time.Duration
	logger   *slog.Logger
}

// Option configures a Guard.
type Option func(*Guard)

// WithPollInterval sets how often WaitFor rechecks the generation.
func WithPollInterval(interval time.Duration) Option {
	return func(g *Guard) {
		if interval > 0 {
			g.interval = interval
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Guard) {
		if logger != nil {
			g.logger = logger.With("component", "staleness")
		}
	}
}

// New creates a guard over store.
func New(store storage.VectorStore, opts ...Option) (*Guard, error) {
	if store == nil {
		return nil, ErrStoreRequired
	}
	g := &Guard{
		store:    store,
		interval: defaultPollInterval,
		logger:   slog.Default().With("component", "staleness"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// CurrentGeneration returns the generation of the latest committed write.
func (g *Guard) CurrentGeneration(ctx context.Context) (core.Generation, error) {
	return g.store.CurrentGeneration(ctx)
}

// Visible reports whether the current version of recordID was committed at
// or before gen, so that every snapshot at gen or later sees it. A record
// re-indexed after gen reports false even though a snapshot at gen saw its
// earlier version; only the latest version is kept, so that is the version
// the answer is about.
func (g *Guard) Visible(ctx context.Context, recordID string, gen core.Generation) (bool, error) {
	entry, err := g.store.Get(ctx, recordID)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return entry.Generation <= gen, nil
}

// WaitFor blocks until the current generation reaches gen and returns it.
// It gives up when ctx is done.
func (g *Guard) WaitFor(ctx context.Context, gen core.Generation) (core.Generation, error) {
	current, err := g.store.CurrentGeneration(ctx)
	if err != nil {
		return 0, err
	}
	if current >= gen {
		return current, nil
	}

	g.logger.Debug("waiting for generation", "want", gen, "current", current)
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return current, fmt.Errorf("waiting for generation %d (current %d): %w", gen, current, ctx.Err())
		case <-ticker.C:
		}

		current, err = g.store.CurrentGeneration(ctx)
		if err != nil {
			return 0, err
		}
		if current >= gen {
			return current, nil
		}
	}
}
