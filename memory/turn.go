package memory

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Turn is one user message and the bot reply to it.
// It is the unit written to the journal and indexed for retrieval.
type Turn struct {
	ID   string `json:"id"`
	User string `json:"user"`
	Bot  string `json:"bot"`
}

// NewTurn creates a Turn. The id must be generated by the caller.
func NewTurn(id, user, bot string) Turn {
	return Turn{ID: id, User: user, Bot: bot}
}

// Validate checks that the turn can be used as a join key between stores.
func (t Turn) Validate() error {
	if strings.TrimSpace(t.ID) == "" {
		return errors.New("turn id is required")
	}
	return nil
}

// EmbeddingText returns the text embedded for this turn.
// User and bot text are embedded together so retrieval matches on the
// exchange as a whole.
func (t Turn) EmbeddingText() string {
	return fmt.Sprintf("User: %s\nBot: %s", t.User, t.Bot)
}

// Marshal serializes the turn to the single-line JSON document used by both
// the journal and the index.
func (t Turn) Marshal() (string, error) {
	b, err := json.Marshal(t)
	if err != nil {
		return "", fmt.Errorf("marshal turn %s: %w", t.ID, err)
	}
	return string(b), nil
}

// UnmarshalTurn decodes a document produced by Marshal.
// Any failure wraps ErrCorruptRecord.
func UnmarshalTurn(doc string) (Turn, error) {
	var t Turn
	if err := json.Unmarshal([]byte(doc), &t); err != nil {
		return Turn{}, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}
	if err := t.Validate(); err != nil {
		return Turn{}, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}
	return t, nil
}

// truncate shortens s for log output.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen < 3 {
		return "..."
	}
	return s[:maxLen-3] + "..."
}
