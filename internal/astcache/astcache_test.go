package astcache

import (
	"context"
	"testing"
	"time"
)

func TestSchedParsePublishesEntry(t *testing.T) {
	c := New(4)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	c.SchedParse(ctx, "f.ex", "let x = 1; in x", 1)

	var gotVersion int
	err := c.WithAST(ctx, "f.ex", 1, func(e *Entry) {
		gotVersion = e.Version
		if e.Root == nil {
			t.Errorf("expected a parsed root")
		}
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotVersion != 1 {
		t.Errorf("got version %d, want 1", gotVersion)
	}
}

func TestWithASTWaitsForNewerVersion(t *testing.T) {
	c := New(4)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	c.SchedParse(ctx, "f.ex", "1", 1)
	if err := c.WithAST(ctx, "f.ex", 1, func(e *Entry) {}); err != nil {
		t.Fatalf("unexpected error waiting for v1: %v", err)
	}

	c.SchedParse(ctx, "f.ex", "2", 2)
	var gotVersion int
	err := c.WithAST(ctx, "f.ex", 2, func(e *Entry) { gotVersion = e.Version })
	if err != nil {
		t.Fatalf("unexpected error waiting for v2: %v", err)
	}
	if gotVersion != 2 {
		t.Errorf("got version %d, want 2", gotVersion)
	}
}

func TestWithASTTimeoutFallsBackToStale(t *testing.T) {
	c := New(4)
	warmup, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c.SchedParse(warmup, "f.ex", "1", 1)
	if err := c.WithAST(warmup, "f.ex", 1, func(e *Entry) {}); err != nil {
		t.Fatalf("unexpected error during warmup: %v", err)
	}

	shortCtx, shortCancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer shortCancel()

	var gotVersion int
	called := false
	err := c.WithAST(shortCtx, "f.ex", 99, func(e *Entry) {
		called = true
		gotVersion = e.Version
	})
	if err != nil {
		t.Fatalf("expected stale fallback, got error: %v", err)
	}
	if !called {
		t.Fatalf("expected action to be invoked with the stale entry")
	}
	if gotVersion != 1 {
		t.Errorf("got version %d, want the stale v1 entry", gotVersion)
	}
}

func TestWithASTDeclinesWhenNothingPublished(t *testing.T) {
	c := New(4)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := c.WithAST(ctx, "never-opened.ex", 1, func(e *Entry) {
		t.Errorf("action should not run when nothing was ever published")
	})
	if err == nil {
		t.Fatalf("expected an error when no AST exists for the path")
	}
}

func TestForgetDropsEntry(t *testing.T) {
	c := New(4)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c.SchedParse(ctx, "f.ex", "1", 1)
	if err := c.WithAST(ctx, "f.ex", 1, func(e *Entry) {}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	c.Forget("f.ex")

	shortCtx, shortCancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer shortCancel()
	err := c.WithAST(shortCtx, "f.ex", 1, func(e *Entry) {})
	if err == nil {
		t.Errorf("expected an error after Forget removed the only entry")
	}
}
