// Package index maintains the persistent embedding index over the product
// catalog: idempotent build-or-load, similarity queries with metadata
// filtering, and exclusive rebuild.
package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/grocer/internal/catalog"
)

var (
	// ErrBuild indicates the embedding service stayed unreachable during
	// index construction. Fatal at process start: a session cannot function
	// without a queryable index.
	ErrBuild = errors.New("index build failed")

	// ErrQuery indicates a similarity query failed after the client's
	// retries were exhausted.
	ErrQuery = errors.New("index query failed")

	// ErrInvalidArgument indicates a caller-supplied parameter was out of
	// range (e.g. non-positive k).
	ErrInvalidArgument = errors.New("invalid argument")
)

// embedBatchSize bounds how many texts go into one embedding request.
const embedBatchSize = 64

// Embedder turns texts into fixed-dimension vectors.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Index combines an Embedder with the persisted vector store. Queries are
// read-shared; rebuilds are exclusive, so readers see either the old or the
// new complete index, never a mix.
type Index struct {
	mu       sync.RWMutex
	store    *SQLiteStore
	embedder Embedder
	logger   *slog.Logger
}

// New creates an Index over the given store and embedder.
func New(store *SQLiteStore, embedder Embedder) *Index {
	return &Index{store: store, embedder: embedder, logger: slog.Default()}
}

// Exists reports whether a non-empty index is already persisted.
func (ix *Index) Exists() (bool, error) {
	count, err := ix.store.Count()
	if err != nil {
		return false, fmt.Errorf("probing index: %w", err)
	}
	return count > 0, nil
}

// Count returns the number of indexed products.
func (ix *Index) Count() (int, error) {
	return ix.store.Count()
}

// BuildOrLoad makes the index queryable. When a persisted non-empty index
// exists it is used as-is, so the call is idempotent and safe on every
// process start; embedding work happens only on first build. A build
// failure wraps ErrBuild and must be treated as fatal by the caller, never
// papered over with an empty index.
func (ix *Index) BuildOrLoad(ctx context.Context, products []catalog.Product) error {
	exists, err := ix.Exists()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBuild, err)
	}
	if exists {
		count, _ := ix.store.Count()
		ix.logger.Info("loading existing index", "records", count)
		return nil
	}
	return ix.Rebuild(ctx, products)
}

// Rebuild embeds every product and atomically replaces the persisted record
// set. The write lock keeps concurrent queries on the old index until the
// new one is fully committed.
func (ix *Index) Rebuild(ctx context.Context, products []catalog.Product) error {
	ix.logger.Info("building index", "products", len(products))

	records := make([]Record, len(products))
	texts := make([]string, len(products))
	for i, p := range products {
		records[i] = NewRecord(p, i)
		texts[i] = records[i].Text
	}

	vectors, err := ix.embedAll(ctx, texts)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBuild, err)
	}
	for i := range records {
		records[i].Embedding = vectors[i]
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	if err := ix.store.ReplaceAll(records); err != nil {
		return fmt.Errorf("%w: %v", ErrBuild, err)
	}

	ix.logger.Info("index built", "records", len(records))
	return nil
}

// embedAll embeds texts in batches with bounded concurrency.
func (ix *Index) embedAll(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(4) // Bound concurrency to avoid overwhelming the service.

	for start := 0; start < len(texts); start += embedBatchSize {
		start := start
		end := min(start+embedBatchSize, len(texts))
		g.Go(func() error {
			batch, err := ix.embedder.Embed(gCtx, texts[start:end])
			if err != nil {
				return fmt.Errorf("embedding batch at %d: %w", start, err)
			}
			copy(vectors[start:], batch)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return vectors, nil
}

// Query embeds the text and returns the k most similar records, restricted
// to those matching the filter. Ordering is by descending similarity with
// ties broken by catalog insertion order. An empty result is not an error.
func (ix *Index) Query(ctx context.Context, text string, k int, filter Filter) ([]Match, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: k must be positive, got %d", ErrInvalidArgument, k)
	}

	vecs, err := ix.embedder.Embed(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("%w: embedding query: %v", ErrQuery, err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("%w: got %d query vectors", ErrQuery, len(vecs))
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()
	matches, err := ix.store.Search(vecs[0], k, filter)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQuery, err)
	}
	return matches, nil
}
