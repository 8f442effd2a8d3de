// Package draft is the owner of in-editor document contents: the text
// a client has open, as distinct from the parsed AST built from it (C3
// owns that). A Draft's Contents is mutated in place by applying LSP
// incremental or full-text changes; readers receive immutable string
// snapshots, never a reference into mutable state.
package draft

import (
	"fmt"
	"sync"
	"unicode/utf8"

	"github.com/yvan-sraka/nixd/internal/protocol"
)

// Draft is one open document: its path, the version the client last
// told us about, and its current contents.
type Draft struct {
	Path     string
	Version  int
	Contents string
}

// Store maps path to its current Draft. Safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	drafts  map[string]*Draft
}

func NewStore() *Store {
	return &Store{drafts: make(map[string]*Draft)}
}

// AddDraft creates or replaces the draft for path (didOpen semantics).
func (s *Store) AddDraft(path string, version int, contents string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drafts[path] = &Draft{Path: path, Version: version, Contents: contents}
}

// GetDraft returns a snapshot of the draft for path, or (Draft{}, false)
// if none is open.
func (s *Store) GetDraft(path string) (Draft, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.drafts[path]
	if !ok {
		return Draft{}, false
	}
	return *d, true
}

// RemoveDraft forgets path (didClose semantics).
func (s *Store) RemoveDraft(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.drafts, path)
}

// ApplyChange applies one LSP content change event to path's draft in
// place and returns the resulting contents. A change with a
// nil Range is a full-document replacement; otherwise the range is
// resolved to byte offsets — counting UTF-16 code units per LSP's
// Position semantics, not bytes or runes — and spliced in.
//
// An out-of-bounds range is a hard error: the caller is expected to
// drop the draft entirely rather than limp along with desynced state.
func (s *Store) ApplyChange(path string, version int, change protocol.TextDocumentContentChangeEvent) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.drafts[path]
	if !ok {
		return "", fmt.Errorf("draft: no open draft for %s", path)
	}

	if change.Range == nil {
		d.Contents = change.Text
		d.Version = version
		return d.Contents, nil
	}

	startOff, err := positionToOffset(d.Contents, change.Range.Start)
	if err != nil {
		return "", fmt.Errorf("draft: %s: start position: %w", path, err)
	}
	endOff, err := positionToOffset(d.Contents, change.Range.End)
	if err != nil {
		return "", fmt.Errorf("draft: %s: end position: %w", path, err)
	}
	if endOff < startOff {
		return "", fmt.Errorf("draft: %s: range end precedes start", path)
	}

	d.Contents = d.Contents[:startOff] + change.Text + d.Contents[endOff:]
	d.Version = version
	return d.Contents, nil
}

// positionToOffset converts an LSP Position (0-based line, 0-based
// UTF-16 code-unit character) into a byte offset into content. It walks
// line boundaries with a plain byte scan — content is already resident
// in memory as a string, never streamed — then walks the target line
// rune by rune, counting each rune as one UTF-16 code unit, or two for
// anything outside the basic multilingual plane.
func positionToOffset(content string, pos protocol.Position) (int, error) {
	if pos.Line < 0 || pos.Character < 0 {
		return 0, fmt.Errorf("negative position %+v", pos)
	}

	line := 0
	offset := 0
	for line < pos.Line {
		idx := indexByte(content, offset, '\n')
		if idx < 0 {
			return 0, fmt.Errorf("line %d beyond end of document (%d lines)", pos.Line, line+1)
		}
		offset = idx + 1
		line++
	}

	lineEnd := indexByte(content, offset, '\n')
	if lineEnd < 0 {
		lineEnd = len(content)
	}
	lineBytes := content[offset:lineEnd]

	units := 0
	i := 0
	for i < len(lineBytes) {
		if units >= pos.Character {
			break
		}
		r, size := utf8.DecodeRuneInString(lineBytes[i:])
		unitSize := 1
		if r > 0xFFFF {
			unitSize = 2
		}
		if units+unitSize > pos.Character {
			break
		}
		units += unitSize
		i += size
	}
	return offset + i, nil
}

func indexByte(s string, from int, b byte) int {
	for i := from; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return -1
}
