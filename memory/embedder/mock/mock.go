package mock

import (
	"context"
	"errors"
	"hash/fnv"
	"math"
	"strings"
	"sync"
	"unicode"
)

// ErrEmbed is returned when a failure has been injected.
var ErrEmbed = errors.New("mock embedder: injected failure")

// Embedder is a deterministic embedder for tests.
// Each word is hashed into one of the vector's buckets, so texts that share
// words have a high cosine similarity and unrelated texts a low one.
type Embedder struct {
	dimensions int

	mu     sync.Mutex
	calls  int
	texts  []string
	failOn func(text string) bool
}

// New creates a mock embedder with 256 dimensions.
func New() *Embedder {
	return NewWithDimensions(256)
}

// NewWithDimensions creates a mock embedder with the given vector size.
func NewWithDimensions(dims int) *Embedder {
	if dims <= 0 {
		dims = 256
	}
	return &Embedder{dimensions: dims}
}

// FailWhen makes Embed return ErrEmbed for texts matching fn.
// A nil fn clears the injected failure.
func (m *Embedder) FailWhen(fn func(text string) bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failOn = fn
}

// FailAll makes every subsequent Embed call fail.
func (m *Embedder) FailAll() {
	m.FailWhen(func(string) bool { return true })
}

// Calls returns the number of Embed calls so far, failed ones included.
func (m *Embedder) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Texts returns every text passed to Embed, in call order.
func (m *Embedder) Texts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.texts...)
}

// Embed returns a normalized bag-of-words vector for text.
func (m *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	m.mu.Lock()
	m.calls++
	m.texts = append(m.texts, text)
	fail := m.failOn != nil && m.failOn(text)
	m.mu.Unlock()

	if fail {
		return nil, ErrEmbed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	embedding := make([]float32, m.dimensions)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		h := fnv.New32a()
		h.Write([]byte(w))
		embedding[h.Sum32()%uint32(m.dimensions)] += 1
	}
	if len(words) == 0 {
		embedding[0] = 1
	}

	return normalize(embedding), nil
}

// Dimensions returns the embedding size.
func (m *Embedder) Dimensions() int {
	return m.dimensions
}

// normalize converts embedding to unit vector.
func normalize(vec []float32) []float32 {
	var norm float32
	for _, v := range vec {
		norm += v * v
	}

	if norm == 0 {
		return vec
	}

	norm = float32(math.Sqrt(float64(norm)))
	normalized := make([]float32, len(vec))
	for i, v := range vec {
		normalized[i] = v / norm
	}

	return normalized
}
