package memory

import (
	"context"
	"errors"
)

// Source tags every index record written from conversation history.
const Source = "conversation_history"

var (
	// ErrDuplicateID is returned by Index.Add when a record with the same id
	// already exists. Indexes never overwrite.
	ErrDuplicateID = errors.New("memory: duplicate record id")

	// ErrMissingEmbedding is returned by Index.Add for a record without a vector.
	ErrMissingEmbedding = errors.New("memory: record has no embedding")

	// ErrCorruptRecord marks a stored document that cannot be decoded into a Turn.
	ErrCorruptRecord = errors.New("memory: corrupt record")

	// ErrIndexUnavailable is returned when an operation needs the index but
	// the manager was built without one.
	ErrIndexUnavailable = errors.New("memory: index unavailable")
)

// Record is one entry in the vector index.
type Record struct {
	ID        string
	Embedding []float32
	Document  string // serialized Turn
	Metadata  map[string]string
}

// Hit is a document returned by an index query.
type Hit struct {
	ID         string
	Document   string
	Metadata   map[string]string
	Similarity float32
}

// Journal is the durable, append-only log of turns.
// It is the source of truth: the index can always be rebuilt from it.
type Journal interface {
	// Append writes one turn to the end of the log.
	Append(ctx context.Context, turn Turn) error

	// LoadAll returns every readable turn in the order it was appended.
	// Unreadable lines are skipped, not reported as errors.
	LoadAll(ctx context.Context) ([]Turn, error)
}

// Index is the vector storage backend.
// Implementations: chromem.Store (embedded, persistent).
type Index interface {
	// Add stores a record. It fails with ErrMissingEmbedding when the record
	// has no vector and with ErrDuplicateID when the id is already present.
	Add(ctx context.Context, rec Record) error

	// Query returns up to k hits, most similar first. k larger than Count is
	// clamped; an empty index returns no hits.
	Query(ctx context.Context, embedding []float32, k int) ([]Hit, error)

	// Has reports whether a record with the given id exists.
	Has(ctx context.Context, id string) (bool, error)

	// Count returns the number of records.
	Count() int

	// Delete removes records by id. Maintenance only.
	Delete(ctx context.Context, ids ...string) error

	// Close releases resources.
	Close() error
}

// Embedder converts text to embedding vectors.
// Implementations: ollama.Client (production), mock.Embedder (testing),
// cache.Embedder (decorator).
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Manager is what the conversation engine uses.
type Manager interface {
	// RetrieveRelevant returns up to n past turns similar to query, most
	// relevant first.
	RetrieveRelevant(ctx context.Context, query string, n int) ([]Turn, error)

	// SaveTurn persists a turn to the journal and, when it can be embedded,
	// to the index.
	SaveTurn(ctx context.Context, turn Turn) error
}
