// Package cache wraps an Embedder with a bounded in-process cache, so a text
// that was embedded recently (a repeated question, a rebuild of a turn that
// was just saved) does not cost another round trip to the inference service.
package cache

import (
	"context"
	"fmt"

	"github.com/dgraph-io/ristretto"

	"github.com/becomeliminal/nim-recall/memory"
)

// Embedder caches successful embeddings of the wrapped embedder by text.
// Failures are never cached.
type Embedder struct {
	next  memory.Embedder
	cache *ristretto.Cache
}

// New wraps next with a cache holding about maxItems embeddings.
func New(next memory.Embedder, maxItems int64) (*Embedder, error) {
	if maxItems <= 0 {
		return nil, fmt.Errorf("cache: maxItems must be positive, got %d", maxItems)
	}
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters:        maxItems * 10, // ristretto recommends 10x the item count
		MaxCost:            maxItems,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("cache: create: %w", err)
	}
	return &Embedder{next: next, cache: c}, nil
}

// Embed returns the cached vector for text or embeds it with the wrapped
// embedder.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := e.cache.Get(text); ok {
		if vec, ok := v.([]float32); ok {
			return clone(vec), nil
		}
	}

	vec, err := e.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	e.cache.Set(text, clone(vec), 1)
	return vec, nil
}

// Wait blocks until pending cache writes are applied.
func (e *Embedder) Wait() {
	e.cache.Wait()
}

// Close stops the cache's background goroutines.
func (e *Embedder) Close() {
	e.cache.Close()
}

func clone(v []float32) []float32 {
	return append([]float32(nil), v...)
}

var _ memory.Embedder = (*Embedder)(nil)
