package cache

import (
	"context"
	"errors"
	"testing"

	"github.com/becomeliminal/nim-recall/memory/embedder/mock"
)

func TestEmbedder_CachesHits(t *testing.T) {
	inner := mock.New()
	c, err := New(inner, 100)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	defer c.Close()
	ctx := context.Background()

	first, err := c.Embed(ctx, "hello world")
	if err != nil {
		t.Fatal(err)
	}
	c.Wait()

	second, err := c.Embed(ctx, "hello world")
	if err != nil {
		t.Fatal(err)
	}
	if inner.Calls() != 1 {
		t.Errorf("expected 1 underlying call, got %d", inner.Calls())
	}
	if len(first) != len(second) {
		t.Fatalf("dimension mismatch: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("cached vector differs at %d", i)
		}
	}

	// Callers may mutate what they get back.
	second[0] = 42
	third, _ := c.Embed(ctx, "hello world")
	if third[0] == 42 {
		t.Error("cache returned a shared slice")
	}
}

func TestEmbedder_DoesNotCacheFailures(t *testing.T) {
	inner := mock.New()
	inner.FailAll()
	c, err := New(inner, 100)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	ctx := context.Background()

	if _, err := c.Embed(ctx, "x"); !errors.Is(err, mock.ErrEmbed) {
		t.Fatalf("expected mock.ErrEmbed, got %v", err)
	}
	c.Wait()

	inner.FailWhen(nil)
	if _, err := c.Embed(ctx, "x"); err != nil {
		t.Fatalf("Embed() after recovery: %v", err)
	}
	if inner.Calls() != 2 {
		t.Errorf("expected 2 underlying calls, got %d", inner.Calls())
	}
}

func TestNew_RejectsZeroSize(t *testing.T) {
	if _, err := New(mock.New(), 0); err == nil {
		t.Error("expected error for maxItems=0")
	}
}
