// Package astcache is the parse-AST cache (ASTMgr): it turns draft
// contents into parsed, scope-resolved ASTs in the background and lets
// request handlers borrow the most recent one for a path without
// blocking the whole server on a single slow parse.
package astcache

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/yvan-sraka/nixd/internal/nixlang"
	"github.com/yvan-sraka/nixd/internal/scope"
)

// Entry is one published AST: the parse result plus its derived parent
// map, computed once at publish time since C2's queries are cheap only
// when the map doesn't need rebuilding on every call.
type Entry struct {
	Root        nixlang.Expr
	Diagnostics []nixlang.Diagnostic
	Positions   *nixlang.Positions
	Version     int
	Parents     scope.ParentMap
}

// Cache holds the most recent Entry per path. Entries are immutable
// once published; readers borrow them only for the duration of the
// action passed to WithAST, never retaining a reference past it.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*Entry
	waiters map[string][]chan struct{}
	sem     *semaphore.Weighted
}

// New creates a Cache whose background parses never exceed
// maxConcurrentParses at once, bounding CPU/memory use when many
// documents change at once.
func New(maxConcurrentParses int64) *Cache {
	return &Cache{
		entries: make(map[string]*Entry),
		waiters: make(map[string][]chan struct{}),
		sem:     semaphore.NewWeighted(maxConcurrentParses),
	}
}

// SchedParse enqueues a parse of contents for path at version, running
// on the bounded goroutine pool. It replaces any existing entry for
// path whose version is lesser or equal; out-of-order completions
// (an older version finishing after a newer one already published)
// never regress the cache.
func (c *Cache) SchedParse(ctx context.Context, path, contents string, version int) {
	go func() {
		if err := c.sem.Acquire(ctx, 1); err != nil {
			return
		}
		defer c.sem.Release(1)

		root, diags, pos := nixlang.Parse(contents, path)
		entry := &Entry{
			Root:        root,
			Diagnostics: diags,
			Positions:   pos,
			Version:     version,
			Parents:     scope.GetParentMap(root),
		}
		c.publish(path, entry)
	}()
}

func (c *Cache) publish(path string, entry *Entry) {
	c.mu.Lock()
	cur, ok := c.entries[path]
	if !ok || entry.Version >= cur.Version {
		c.entries[path] = entry
	}
	waiters := c.waiters[path]
	delete(c.waiters, path)
	c.mu.Unlock()

	for _, w := range waiters {
		close(w)
	}
}

// WithAST runs action with a borrowed view of the most recent AST for
// path whose version is >= minVersion. If none is ready yet, it waits
// for a publish or for ctx to be done, whichever comes first; on
// timeout it falls back to the best-available (possibly stale) entry
// if one exists, or declines with an error.
func (c *Cache) WithAST(ctx context.Context, path string, minVersion int, action func(*Entry)) error {
	for {
		c.mu.Lock()
		e, ok := c.entries[path]
		if ok && e.Version >= minVersion {
			c.mu.Unlock()
			action(e)
			return nil
		}
		wait := make(chan struct{})
		c.waiters[path] = append(c.waiters[path], wait)
		c.mu.Unlock()

		select {
		case <-wait:
			continue
		case <-ctx.Done():
			c.mu.Lock()
			e, ok := c.entries[path]
			c.mu.Unlock()
			if ok {
				action(e)
				return nil
			}
			return fmt.Errorf("astcache: no AST available for %s: %w", path, ctx.Err())
		}
	}
}

// Forget drops the cached entry for path, used on didClose so a closed
// document's stale AST doesn't linger.
func (c *Cache) Forget(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, path)
}
