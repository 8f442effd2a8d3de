// Package options is C13's option index. It runs only inside a spawned
// Option-role worker process: it loads a nixpkgs-style option tree from a
// JSON snapshot on disk and answers exact-path declaration lookups and
// prefix completion over the flattened dotted-path space.
package options

import (
	"encoding/json"
	"os"
	"sort"
	"strings"
	"time"
)

// Declaration is where an option was declared, the shape nixos's
// nixos-option / nix-instantiate --eval --json snapshots carry.
type Declaration struct {
	File string `json:"file"`
	Line int    `json:"line"`
}

// Option is one entry in the flattened dotted-path option tree.
type Option struct {
	Path        string      `json:"path"`
	Type        string      `json:"type"`
	Description string      `json:"description"`
	Declared    Declaration `json:"declared"`
}

// DeclarationDeadline and CompletionDeadline are the per-query time
// budgets for option lookups; the controller enforces these around the
// worker round-trip, not this package, but they're named here so a
// caller building the request context has the right constant.
const (
	DeclarationDeadline = 20 * time.Millisecond
	CompletionDeadline  = 100 * time.Millisecond
)

// Index is an immutable, loaded option tree: an exact-match map plus a
// path-sorted slice for prefix range queries.
type Index struct {
	byPath map[string]Option
	sorted []Option
}

// Empty is the zero-result index returned when options.path is unset or
// unreadable — queries against it return no results, not an error, per
// §4.13.
var Empty = &Index{}

// Load reads and flattens the option snapshot at path. A missing or
// unreadable file, or one that fails to parse, yields Empty rather than
// an error: option support is best-effort and its absence must never
// block the rest of the server.
func Load(path string) *Index {
	if path == "" {
		return Empty
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Empty
	}
	var entries []Option
	if err := json.Unmarshal(data, &entries); err != nil {
		return Empty
	}
	return build(entries)
}

func build(entries []Option) *Index {
	idx := &Index{
		byPath: make(map[string]Option, len(entries)),
		sorted: make([]Option, len(entries)),
	}
	copy(idx.sorted, entries)
	sort.Slice(idx.sorted, func(i, j int) bool { return idx.sorted[i].Path < idx.sorted[j].Path })
	for _, o := range entries {
		idx.byPath[o.Path] = o
	}
	return idx
}

// Len reports how many options the index carries.
func (idx *Index) Len() int {
	if idx == nil {
		return 0
	}
	return len(idx.sorted)
}

// Declaration answers nixd/ipc/option/textDocument/declaration: an
// exact dotted-path lookup.
func (idx *Index) Declaration(dottedPath string) (Option, bool) {
	if idx == nil {
		return Option{}, false
	}
	o, ok := idx.byPath[dottedPath]
	return o, ok
}

// Complete answers nixd/ipc/textDocument/completion/options: every
// option whose dotted path has prefix, in path order.
func (idx *Index) Complete(prefix string) []Option {
	if idx == nil || len(idx.sorted) == 0 {
		return nil
	}
	start := sort.Search(len(idx.sorted), func(i int) bool {
		return idx.sorted[i].Path >= prefix
	})
	var out []Option
	for i := start; i < len(idx.sorted); i++ {
		if !strings.HasPrefix(idx.sorted[i].Path, prefix) {
			break
		}
		out = append(out, idx.sorted[i])
	}
	return out
}
