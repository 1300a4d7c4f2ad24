package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/becomeliminal/nim-recall/observability"
)

// StoreManager is the only component that touches both the journal and the
// index. Writes go to the journal first and then to the index; a failure in
// one never undoes or skips the other.
//
// StoreManager is built once at startup and passed to the engine. It is not
// safe for concurrent use; the engine runs one round at a time.
type StoreManager struct {
	journal  Journal
	index    Index // nil when the index failed to open
	embedder Embedder
	logger   *slog.Logger
	metrics  *observability.Metrics
}

// Option configures a StoreManager.
type Option func(*StoreManager)

// WithLogger sets the logger used for best-effort failure reports.
func WithLogger(l *slog.Logger) Option {
	return func(m *StoreManager) {
		m.logger = l
	}
}

// WithMetrics records store and embedding failures.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(m *StoreManager) {
		m.metrics = metrics
	}
}

// NewStoreManager creates a StoreManager. index may be nil, in which case
// retrieval always returns nothing and saves reach the journal only.
func NewStoreManager(journal Journal, index Index, embedder Embedder, opts ...Option) *StoreManager {
	m := &StoreManager{
		journal:  journal,
		index:    index,
		embedder: embedder,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	m.logger = m.logger.With("component", "MEMORY")
	return m
}

// IndexAvailable reports whether the manager has an index to search.
func (m *StoreManager) IndexAvailable() bool {
	return m.index != nil
}

// SaveTurn appends the turn to the journal, then embeds it and adds it to the
// index. Both stores are always attempted. The returned error joins every
// store failure; the turn is durable whenever the journal part succeeded.
func (m *StoreManager) SaveTurn(ctx context.Context, turn Turn) error {
	if err := turn.Validate(); err != nil {
		return err
	}
	logger := observability.Logger(ctx, m.logger)

	var errs []error
	if err := m.journal.Append(ctx, turn); err != nil {
		logger.Error("journal append failed", "turn_id", turn.ID, "err", err)
		m.metrics.StoreFailure("journal", "append")
		errs = append(errs, fmt.Errorf("journal: %w", err))
	}

	if err := m.indexTurn(ctx, turn, "save"); err != nil {
		logger.Warn("turn not indexed; recoverable from journal", "turn_id", turn.ID, "err", err)
		errs = append(errs, fmt.Errorf("index: %w", err))
	} else {
		logger.Debug("turn saved", "turn_id", turn.ID, "user", truncate(turn.User, 50))
	}

	return errors.Join(errs...)
}

// indexTurn embeds the turn and adds it to the index.
func (m *StoreManager) indexTurn(ctx context.Context, turn Turn, phase string) error {
	if m.index == nil {
		return ErrIndexUnavailable
	}

	embedding, err := m.embedder.Embed(ctx, turn.EmbeddingText())
	if err != nil {
		m.metrics.EmbedFailure(phase)
		return fmt.Errorf("embed turn: %w", err)
	}

	doc, err := turn.Marshal()
	if err != nil {
		return err
	}

	err = m.index.Add(ctx, Record{
		ID:        turn.ID,
		Embedding: embedding,
		Document:  doc,
		Metadata: map[string]string{
			"source":  Source,
			"turn_id": turn.ID,
		},
	})
	if err != nil {
		m.metrics.StoreFailure("index", "add")
		return err
	}
	return nil
}

// RetrieveRelevant returns up to n past turns most similar to query, most
// relevant first. An unavailable or empty index yields no turns and no
// embedding call. Documents that cannot be decoded are skipped.
func (m *StoreManager) RetrieveRelevant(ctx context.Context, query string, n int) ([]Turn, error) {
	logger := observability.Logger(ctx, m.logger)

	if m.index == nil {
		logger.Warn("index unavailable; skipping retrieval")
		return nil, nil
	}
	count := m.index.Count()
	if count == 0 || n <= 0 {
		return nil, nil
	}
	if n > count {
		n = count
	}

	embedding, err := m.embedder.Embed(ctx, query)
	if err != nil {
		logger.Warn("could not embed query; retrieving nothing", "err", err)
		m.metrics.EmbedFailure("retrieve")
		return nil, fmt.Errorf("embed query: %w", err)
	}

	hits, err := m.index.Query(ctx, embedding, n)
	if err != nil {
		logger.Error("index query failed", "err", err)
		m.metrics.StoreFailure("index", "query")
		return nil, fmt.Errorf("query index: %w", err)
	}

	turns := make([]Turn, 0, len(hits))
	for i, hit := range hits {
		turn, err := UnmarshalTurn(hit.Document)
		if err != nil {
			logger.Warn("skipping undecodable document", "rank", i+1, "id", hit.ID, "err", err)
			m.metrics.CorruptRecord("index")
			continue
		}
		turns = append(turns, turn)
	}

	logger.Debug("retrieved turns", "query", truncate(query, 50), "count", len(turns))
	m.metrics.ObserveRetrieved(len(turns))
	return turns, nil
}

// History returns every turn in the journal, oldest first.
func (m *StoreManager) History(ctx context.Context) ([]Turn, error) {
	return m.journal.LoadAll(ctx)
}

// RebuildStats summarizes a Rebuild run.
type RebuildStats struct {
	Scanned        int `json:"scanned"`
	Indexed        int `json:"indexed"`
	AlreadyIndexed int `json:"already_indexed"`
	Failed         int `json:"failed"`
}

// Rebuild replays the journal into the index, adding every turn the index
// does not hold yet. Per-turn failures are counted and logged; only a failure
// to read the journal or a cancelled context stops the replay.
func (m *StoreManager) Rebuild(ctx context.Context) (RebuildStats, error) {
	var stats RebuildStats
	if m.index == nil {
		return stats, ErrIndexUnavailable
	}

	turns, err := m.journal.LoadAll(ctx)
	if err != nil {
		return stats, fmt.Errorf("load journal: %w", err)
	}

	for _, turn := range turns {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		stats.Scanned++

		exists, err := m.index.Has(ctx, turn.ID)
		if err != nil {
			m.logger.Warn("rebuild: lookup failed", "turn_id", turn.ID, "err", err)
			stats.Failed++
			continue
		}
		if exists {
			stats.AlreadyIndexed++
			continue
		}

		switch err := m.indexTurn(ctx, turn, "rebuild"); {
		case err == nil:
			stats.Indexed++
		case errors.Is(err, ErrDuplicateID):
			// The journal may hold the same id twice after a hand edit.
			stats.AlreadyIndexed++
		default:
			m.logger.Warn("rebuild: turn not indexed", "turn_id", turn.ID, "err", err)
			stats.Failed++
		}
	}

	m.logger.Info("rebuild complete",
		"scanned", stats.Scanned,
		"indexed", stats.Indexed,
		"already_indexed", stats.AlreadyIndexed,
		"failed", stats.Failed,
	)
	return stats, nil
}

var _ Manager = (*StoreManager)(nil)
