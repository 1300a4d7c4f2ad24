package chromem

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"

	chromem "github.com/philippgille/chromem-go"

	"github.com/becomeliminal/nim-recall/memory"
)

// DefaultCollection is the collection conversation turns are stored in.
const DefaultCollection = "conversation_memory"

// Store wraps a persistent chromem-go database holding a single collection.
// chromem-go is a pure Go, embedded vector database; in persistent mode every
// added document is written to disk immediately.
type Store struct {
	db     *chromem.DB
	col    *chromem.Collection
	dir    string
	logger *slog.Logger
	mu     sync.Mutex // makes the duplicate check and the add atomic
}

// Option configures Open.
type Option func(*options)

type options struct {
	compress bool
	logger   *slog.Logger
}

// WithCompression gzips documents on disk.
func WithCompression(compress bool) Option {
	return func(o *options) {
		o.compress = compress
	}
}

// WithLogger sets the store's logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// Open opens (or creates) the database rooted at dir and the named collection.
func Open(dir, collection string, opts ...Option) (*Store, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if collection == "" {
		collection = DefaultCollection
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create vector dir: %w", err)
	}
	db, err := chromem.NewPersistentDB(dir, o.compress)
	if err != nil {
		return nil, fmt.Errorf("open chromem db at %s: %w", dir, err)
	}

	// No embedding func: embeddings always come from the caller.
	col, err := db.GetOrCreateCollection(collection, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("open collection %s: %w", collection, err)
	}

	logger := o.logger.With("component", "CHROMEM", "collection", collection)
	logger.Info("vector index opened", "dir", dir, "records", col.Count())

	return &Store{
		db:     db,
		col:    col,
		dir:    dir,
		logger: logger,
	}, nil
}

// Add stores a record. Records are never overwritten.
func (s *Store) Add(ctx context.Context, rec memory.Record) error {
	if rec.ID == "" {
		return errors.New("chromem: record id is required")
	}
	if len(rec.Embedding) == 0 {
		return fmt.Errorf("%w: %s", memory.ErrMissingEmbedding, rec.ID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// chromem-go replaces documents with an existing id, so check first.
	exists, err := s.Has(ctx, rec.ID)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: %s", memory.ErrDuplicateID, rec.ID)
	}

	err = s.col.AddDocument(ctx, chromem.Document{
		ID:        rec.ID,
		Content:   rec.Document,
		Embedding: rec.Embedding,
		Metadata:  rec.Metadata,
	})
	if err != nil {
		return fmt.Errorf("add document %s: %w", rec.ID, err)
	}

	s.logger.Debug("stored record", "id", rec.ID, "dims", len(rec.Embedding))
	return nil
}

// Has reports whether a document with the id exists.
func (s *Store) Has(ctx context.Context, id string) (bool, error) {
	if id == "" {
		return false, errors.New("chromem: id is required")
	}
	// GetByID only fails for an empty or unknown id.
	if _, err := s.col.GetByID(ctx, id); err != nil {
		return false, nil
	}
	return true, nil
}

// Query returns up to k documents most similar to embedding.
func (s *Store) Query(ctx context.Context, embedding []float32, k int) ([]memory.Hit, error) {
	count := s.col.Count()
	if count == 0 || k <= 0 {
		return nil, nil
	}
	if len(embedding) == 0 {
		return nil, memory.ErrMissingEmbedding
	}
	// chromem-go requires nResults <= collection size.
	if k > count {
		k = count
	}

	results, err := s.col.QueryEmbedding(ctx, embedding, k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem query: %w", err)
	}

	// chromem-go returns results by descending similarity already; sort
	// anyway so callers never depend on backend ordering.
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Similarity > results[j].Similarity
	})

	hits := make([]memory.Hit, 0, len(results))
	for _, r := range results {
		hits = append(hits, memory.Hit{
			ID:         r.ID,
			Document:   r.Content,
			Metadata:   r.Metadata,
			Similarity: r.Similarity,
		})
	}
	return hits, nil
}

// Count returns the number of stored records.
func (s *Store) Count() int {
	return s.col.Count()
}

// Delete removes documents by id.
func (s *Store) Delete(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.col.Delete(ctx, nil, nil, ids...); err != nil {
		return fmt.Errorf("delete documents: %w", err)
	}
	return nil
}

// Dir returns the directory the database is persisted to.
func (s *Store) Dir() string {
	return s.dir
}

// Close releases resources. Documents are already on disk.
func (s *Store) Close() error {
	return nil
}

var _ memory.Index = (*Store)(nil)
