package memory

import (
	"errors"
	"strings"
	"testing"
)

func TestTurn_MarshalIsSingleLine(t *testing.T) {
	turn := NewTurn("t1", "line one\nline two", "reply with \"quotes\"")

	doc, err := turn.Marshal()
	if err != nil {
		t.Fatalf("Marshal() error: %v", err)
	}
	if strings.Contains(doc, "\n") {
		t.Errorf("document spans lines: %q", doc)
	}

	got, err := UnmarshalTurn(doc)
	if err != nil {
		t.Fatalf("UnmarshalTurn() error: %v", err)
	}
	if got != turn {
		t.Errorf("UnmarshalTurn() = %+v, want %+v", got, turn)
	}
}

func TestUnmarshalTurn_Corrupt(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"not json", "hello"},
		{"truncated", `{"id":"t1","user":"x"`},
		{"missing id", `{"user":"x","bot":"y"}`},
		{"wrong type", `{"id":7,"user":"x","bot":"y"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := UnmarshalTurn(tt.doc)
			if !errors.Is(err, ErrCorruptRecord) {
				t.Errorf("expected ErrCorruptRecord, got %v", err)
			}
		})
	}
}

func TestTurn_EmbeddingText(t *testing.T) {
	got := NewTurn("t1", "hi", "hello").EmbeddingText()
	if got != "User: hi\nBot: hello" {
		t.Errorf("EmbeddingText() = %q", got)
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Errorf("truncate() = %q", got)
	}
	if got := truncate("a long sentence", 8); got != "a lon..." {
		t.Errorf("truncate() = %q", got)
	}
}
