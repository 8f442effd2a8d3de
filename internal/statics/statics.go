// Package statics is C8: the static features answerable straight from a
// cached AST plus its parent map, with no evaluation worker involved —
// documentSymbol, documentLink, the static definition fallback, rename,
// and prepareRename.
package statics

import (
	"strings"
	"unicode/utf8"

	"github.com/yvan-sraka/nixd/internal/locate"
	"github.com/yvan-sraka/nixd/internal/nixlang"
	"github.com/yvan-sraka/nixd/internal/protocol"
	"github.com/yvan-sraka/nixd/internal/scope"
)

// offsetAt converts an LSP Position into a byte offset into contents,
// the same conversion as internal/draft's positionToOffset except that a
// line past the end clamps to len(contents) instead of failing (kept
// separate since that one is draft-mutation-specific and this one is
// read-only).
func offsetAt(contents string, pos protocol.Position) int {
	line := 0
	offset := 0
	for line < pos.Line {
		idx := strings.IndexByte(contents[offset:], '\n')
		if idx < 0 {
			return len(contents)
		}
		offset += idx + 1
		line++
	}
	lineEnd := strings.IndexByte(contents[offset:], '\n')
	if lineEnd < 0 {
		lineEnd = len(contents) - offset
	}
	lineBytes := contents[offset : offset+lineEnd]

	units := 0
	i := 0
	for i < len(lineBytes) && units < pos.Character {
		r, size := utf8.DecodeRuneInString(lineBytes[i:])
		unitSize := 1
		if r > 0xFFFF {
			unitSize = 2
		}
		units += unitSize
		i += size
	}
	return offset + i
}

// positionAt converts a byte offset into contents into an LSP Position
// (0-based line, UTF-16 code-unit character), the inverse of offsetAt.
func positionAt(contents string, offset int) protocol.Position {
	if offset > len(contents) {
		offset = len(contents)
	}
	line := 0
	lineStart := 0
	for i := 0; i < offset; i++ {
		if contents[i] == '\n' {
			line++
			lineStart = i + 1
		}
	}
	units := 0
	i := lineStart
	for i < offset {
		r, size := utf8.DecodeRuneInString(contents[i:])
		if r > 0xFFFF {
			units += 2
		} else {
			units++
		}
		i += size
	}
	return protocol.Position{Line: line, Character: units}
}

// OffsetAt and PositionAt are exported so internal/workerrole can reuse
// the same UTF-16-aware conversion instead of a third hand-rolled copy.
func OffsetAt(contents string, pos protocol.Position) int { return offsetAt(contents, pos) }

func PositionAt(contents string, offset int) protocol.Position { return positionAt(contents, offset) }

// rangeOf builds a Range starting at idx's resolved position spanning
// width bytes of source text. Node end-spans aren't tracked (see
// internal/locate's doc comment on the same limitation), so width is the
// caller's best estimate of the token's length — exact for identifiers
// and literals, approximate for nested expressions.
func rangeOf(positions *nixlang.Positions, contents string, idx nixlang.PosIdx, width int) protocol.Range {
	start := positions.Resolve(idx).Offset
	end := start + width
	if end > len(contents) {
		end = len(contents)
	}
	return protocol.Range{Start: positionAt(contents, start), End: positionAt(contents, end)}
}

// DocumentSymbols walks root and emits a hierarchical symbol for every
// named binding: attribute-set fields (recursive or not — an outline is
// a navigation aid, not a scope report), let bindings, and lambdas
// (named after their formal list, with each formal as a child symbol).
func DocumentSymbols(root nixlang.Expr, positions *nixlang.Positions, contents string) []protocol.DocumentSymbol {
	return symbolsIn(root, positions, contents)
}

func symbolsIn(e nixlang.Expr, positions *nixlang.Positions, contents string) []protocol.DocumentSymbol {
	switch n := e.(type) {
	case *nixlang.ExprAttrs:
		out := make([]protocol.DocumentSymbol, 0, len(n.Bindings))
		for _, b := range n.Bindings {
			sel := rangeOf(positions, contents, b.Pos, len(b.Name))
			out = append(out, protocol.DocumentSymbol{
				Name:           string(b.Name),
				Kind:           protocol.SymbolKindField,
				Range:          sel,
				SelectionRange: sel,
				Children:       symbolsIn(b.Value, positions, contents),
			})
		}
		return out
	case *nixlang.ExprLet:
		out := make([]protocol.DocumentSymbol, 0, len(n.Bindings))
		for _, b := range n.Bindings {
			sel := rangeOf(positions, contents, b.Pos, len(b.Name))
			out = append(out, protocol.DocumentSymbol{
				Name:           string(b.Name),
				Kind:           protocol.SymbolKindVariable,
				Range:          sel,
				SelectionRange: sel,
				Children:       symbolsIn(b.Value, positions, contents),
			})
		}
		return append(out, symbolsIn(n.Body, positions, contents)...)
	case *nixlang.ExprLambda:
		children := make([]protocol.DocumentSymbol, 0, len(n.Param.Formals))
		for _, f := range n.Param.Formals {
			sel := rangeOf(positions, contents, f.Pos, len(f.Name))
			children = append(children, protocol.DocumentSymbol{
				Name: string(f.Name), Kind: protocol.SymbolKindVariable, Range: sel, SelectionRange: sel,
			})
		}
		children = append(children, symbolsIn(n.Body, positions, contents)...)
		sel := rangeOf(positions, contents, n.Param.Pos, 1)
		return []protocol.DocumentSymbol{{
			Name: "λ" + lambdaName(n.Param), Kind: protocol.SymbolKindFunction, Range: sel, SelectionRange: sel, Children: children,
		}}
	case *nixlang.ExprWith:
		return append(symbolsIn(n.Env, positions, contents), symbolsIn(n.Body, positions, contents)...)
	case *nixlang.ExprCall:
		return append(symbolsIn(n.Fn, positions, contents), symbolsIn(n.Arg, positions, contents)...)
	case *nixlang.ExprSelect:
		out := symbolsIn(n.Base, positions, contents)
		if n.Default != nil {
			out = append(out, symbolsIn(n.Default, positions, contents)...)
		}
		return out
	case *nixlang.ExprList:
		var out []protocol.DocumentSymbol
		for _, el := range n.Elems {
			out = append(out, symbolsIn(el, positions, contents)...)
		}
		return out
	case *nixlang.ExprIf:
		out := symbolsIn(n.Cond, positions, contents)
		out = append(out, symbolsIn(n.Then, positions, contents)...)
		return append(out, symbolsIn(n.Else, positions, contents)...)
	case *nixlang.ExprAssert:
		return append(symbolsIn(n.Cond, positions, contents), symbolsIn(n.Body, positions, contents)...)
	case *nixlang.ExprUnary:
		return symbolsIn(n.Operand, positions, contents)
	case *nixlang.ExprBinary:
		return append(symbolsIn(n.Left, positions, contents), symbolsIn(n.Right, positions, contents)...)
	default:
		return nil
	}
}

func lambdaName(p nixlang.Param) string {
	if p.Formals == nil {
		return string(p.Name)
	}
	names := make([]string, len(p.Formals))
	for i, f := range p.Formals {
		names[i] = string(f.Name)
	}
	return "{" + strings.Join(names, ", ") + "}"
}

// DocumentLinks walks root and emits a link for every string or path
// literal that looks like a file path or URL.
func DocumentLinks(root nixlang.Expr, positions *nixlang.Positions, contents string) []protocol.DocumentLink {
	var out []protocol.DocumentLink
	collectLinks(root, positions, contents, &out)
	return out
}

func collectLinks(e nixlang.Expr, positions *nixlang.Positions, contents string, out *[]protocol.DocumentLink) {
	if e == nil {
		return
	}
	switch n := e.(type) {
	case *nixlang.ExprString:
		if target, ok := linkTarget(n.Value); ok {
			r := rangeOf(positions, contents, n.Pos(), len(n.Value)+2) // +2 for quotes
			u := protocol.DocumentURI(target)
			*out = append(*out, protocol.DocumentLink{Range: r, Target: &u})
		}
	case *nixlang.ExprPath:
		if target, ok := linkTarget(n.Value); ok {
			r := rangeOf(positions, contents, n.Pos(), len(n.Value))
			u := protocol.DocumentURI(target)
			*out = append(*out, protocol.DocumentLink{Range: r, Target: &u})
		}
	case *nixlang.ExprAttrs:
		for _, b := range n.Bindings {
			collectLinks(b.Value, positions, contents, out)
		}
	case *nixlang.ExprLet:
		for _, b := range n.Bindings {
			collectLinks(b.Value, positions, contents, out)
		}
		collectLinks(n.Body, positions, contents, out)
	case *nixlang.ExprWith:
		collectLinks(n.Env, positions, contents, out)
		collectLinks(n.Body, positions, contents, out)
	case *nixlang.ExprLambda:
		for _, f := range n.Param.Formals {
			collectLinks(f.Default, positions, contents, out)
		}
		collectLinks(n.Body, positions, contents, out)
	case *nixlang.ExprCall:
		collectLinks(n.Fn, positions, contents, out)
		collectLinks(n.Arg, positions, contents, out)
	case *nixlang.ExprSelect:
		collectLinks(n.Base, positions, contents, out)
		collectLinks(n.Default, positions, contents, out)
	case *nixlang.ExprList:
		for _, el := range n.Elems {
			collectLinks(el, positions, contents, out)
		}
	case *nixlang.ExprIf:
		collectLinks(n.Cond, positions, contents, out)
		collectLinks(n.Then, positions, contents, out)
		collectLinks(n.Else, positions, contents, out)
	case *nixlang.ExprAssert:
		collectLinks(n.Cond, positions, contents, out)
		collectLinks(n.Body, positions, contents, out)
	case *nixlang.ExprUnary:
		collectLinks(n.Operand, positions, contents, out)
	case *nixlang.ExprBinary:
		collectLinks(n.Left, positions, contents, out)
		collectLinks(n.Right, positions, contents, out)
	}
}

func linkTarget(v string) (string, bool) {
	switch {
	case strings.Contains(v, "://"):
		return v, true
	case strings.HasPrefix(v, "/"), strings.HasPrefix(v, "./"), strings.HasPrefix(v, "../"), strings.HasPrefix(v, "~/"):
		return "file://" + v, true
	default:
		return "", false
	}
}

// Context classifies what kind of completion the cursor position calls
// for, decided statically off the cached AST (the "more principled"
// option over a textual rsplit on the last space, since the hand-rolled
// parser already gives precise node boundaries).
type Context int

const (
	ContextUnknown Context = iota
	ContextAttrName
	ContextValue
)

// CompletionContext classifies pos: AttrName when the cursor sits on an
// ExprSelect's attribute path (completing a dotted option/attr name),
// Value when it's on some other expression, Unknown when no node is
// found at all (e.g. an empty document).
func CompletionContext(root nixlang.Expr, positions *nixlang.Positions, contents string, pos protocol.Position) Context {
	offset := offsetAt(contents, pos)
	node := locate.NodeAt(root, positions, offset)
	if node == nil {
		return ContextUnknown
	}
	if _, ok := node.(*nixlang.ExprSelect); ok {
		return ContextAttrName
	}
	return ContextValue
}

// AttrPathAt extracts the dotted attribute path the cursor is
// completing, by walking an ExprSelect's Path up to and including
// whichever segment the cursor currently sits in, prefixed with the
// base variable's name when the selection starts from one — the result is a
// prefix suitable for an option-index prefix search, not a path of
// already-confirmed segments.
func AttrPathAt(root nixlang.Expr, positions *nixlang.Positions, contents string, pos protocol.Position) string {
	offset := offsetAt(contents, pos)
	node := locate.NodeAt(root, positions, offset)
	sel, ok := node.(*nixlang.ExprSelect)
	if !ok {
		return ""
	}
	parts := make([]string, 0, len(sel.Path)+1)
	if base, ok := sel.Base.(*nixlang.ExprVar); ok {
		parts = append(parts, string(base.Name))
	}
	for i, name := range sel.Path {
		if positions.Resolve(sel.PathPos[i]).Offset > offset {
			break
		}
		parts = append(parts, string(name))
	}
	return strings.Join(parts, ".")
}

// Definition resolves the identifier at pos to its binder's position,
// purely through internal/scope — the fallback path used when no
// evaluation worker is involved (or when the reference isn't
// evaluation-dependent at all).
func Definition(root nixlang.Expr, positions *nixlang.Positions, parents scope.ParentMap, contents string, pos protocol.Position) (protocol.Location, bool) {
	offset := offsetAt(contents, pos)
	v, ok := locate.VarAt(root, positions, offset)
	if !ok {
		return protocol.Location{}, false
	}
	defPos, ok := scope.SearchDefinition(v, parents)
	if !ok {
		return protocol.Location{}, false
	}
	r := rangeOf(positions, contents, defPos, len(v.Name))
	return protocol.Location{Range: r}, true
}

// renameTarget identifies what's being renamed at pos: either a
// variable reference (resolved to its binder via internal/scope) or the
// binder identifier itself.
type renameTarget struct {
	scopeNode nixlang.Expr
	displ     int
	name      nixlang.Symbol
}

func findRenameTarget(root nixlang.Expr, positions *nixlang.Positions, parents scope.ParentMap, contents string, pos protocol.Position) (renameTarget, bool) {
	offset := offsetAt(contents, pos)
	if v, ok := locate.VarAt(root, positions, offset); ok && !v.FromWith {
		scopeNode, ok := scope.SearchEnvExpr(v, parents)
		if !ok {
			return renameTarget{}, false
		}
		return renameTarget{scopeNode: scopeNode, displ: v.Displ, name: v.Name}, true
	}
	// Not a reference: check whether the cursor sits directly on a
	// binder's own name (a let/rec-attrs binding or a lambda formal).
	var found renameTarget
	var ok bool
	visitBinders(root, func(scopeNode nixlang.Expr, displ int, name nixlang.Symbol, namePos nixlang.PosIdx) {
		if ok {
			return
		}
		start := positions.Resolve(namePos).Offset
		if offset >= start && offset <= start+len(name) {
			found = renameTarget{scopeNode: scopeNode, displ: displ, name: name}
			ok = true
		}
	})
	return found, ok
}

func visitBinders(e nixlang.Expr, visit func(scopeNode nixlang.Expr, displ int, name nixlang.Symbol, namePos nixlang.PosIdx)) {
	if e == nil {
		return
	}
	switch n := e.(type) {
	case *nixlang.ExprAttrs:
		if n.Recursive {
			for i, b := range n.Bindings {
				visit(n, i, b.Name, b.Pos)
			}
		}
		for _, b := range n.Bindings {
			visitBinders(b.Value, visit)
		}
	case *nixlang.ExprLet:
		for i, b := range n.Bindings {
			visit(n, i, b.Name, b.Pos)
		}
		for _, b := range n.Bindings {
			visitBinders(b.Value, visit)
		}
		visitBinders(n.Body, visit)
	case *nixlang.ExprWith:
		visitBinders(n.Env, visit)
		visitBinders(n.Body, visit)
	case *nixlang.ExprLambda:
		for i, f := range n.Param.Formals {
			visit(n, i, f.Name, f.Pos)
			visitBinders(f.Default, visit)
		}
		if n.Param.Formals != nil && n.Param.Name != "" {
			visit(n, len(n.Param.Formals), n.Param.Name, n.Param.Pos)
		} else if n.Param.Formals == nil {
			visit(n, 0, n.Param.Name, n.Param.Pos)
		}
		visitBinders(n.Body, visit)
	case *nixlang.ExprCall:
		visitBinders(n.Fn, visit)
		visitBinders(n.Arg, visit)
	case *nixlang.ExprSelect:
		visitBinders(n.Base, visit)
		visitBinders(n.Default, visit)
	case *nixlang.ExprList:
		for _, el := range n.Elems {
			visitBinders(el, visit)
		}
	case *nixlang.ExprIf:
		visitBinders(n.Cond, visit)
		visitBinders(n.Then, visit)
		visitBinders(n.Else, visit)
	case *nixlang.ExprAssert:
		visitBinders(n.Cond, visit)
		visitBinders(n.Body, visit)
	case *nixlang.ExprUnary:
		visitBinders(n.Operand, visit)
	case *nixlang.ExprBinary:
		visitBinders(n.Left, visit)
		visitBinders(n.Right, visit)
	}
}

// collectReferences finds the binder's own name position plus every
// ExprVar in root that resolves (via internal/scope) to the same
// (scopeNode, displ) pair.
func collectReferences(root nixlang.Expr, parents scope.ParentMap, target renameTarget) []nixlang.PosIdx {
	var positions []nixlang.PosIdx
	visitBinders(root, func(scopeNode nixlang.Expr, displ int, name nixlang.Symbol, namePos nixlang.PosIdx) {
		if scopeNode == target.scopeNode && displ == target.displ {
			positions = append(positions, namePos)
		}
	})
	var walk func(nixlang.Expr)
	walk = func(e nixlang.Expr) {
		if e == nil {
			return
		}
		if v, ok := e.(*nixlang.ExprVar); ok && !v.FromWith {
			if scopeNode, ok := scope.SearchEnvExpr(v, parents); ok && scopeNode == target.scopeNode && v.Displ == target.displ {
				positions = append(positions, v.Pos())
			}
		}
		switch n := e.(type) {
		case *nixlang.ExprAttrs:
			for _, b := range n.Bindings {
				walk(b.Value)
			}
		case *nixlang.ExprLet:
			for _, b := range n.Bindings {
				walk(b.Value)
			}
			walk(n.Body)
		case *nixlang.ExprWith:
			walk(n.Env)
			walk(n.Body)
		case *nixlang.ExprLambda:
			for _, f := range n.Param.Formals {
				walk(f.Default)
			}
			walk(n.Body)
		case *nixlang.ExprCall:
			walk(n.Fn)
			walk(n.Arg)
		case *nixlang.ExprSelect:
			walk(n.Base)
			walk(n.Default)
		case *nixlang.ExprList:
			for _, el := range n.Elems {
				walk(el)
			}
		case *nixlang.ExprIf:
			walk(n.Cond)
			walk(n.Then)
			walk(n.Else)
		case *nixlang.ExprAssert:
			walk(n.Cond)
			walk(n.Body)
		case *nixlang.ExprUnary:
			walk(n.Operand)
		case *nixlang.ExprBinary:
			walk(n.Left)
			walk(n.Right)
		}
	}
	walk(root)
	return positions
}

// PrepareRename reports the range of the identifier under pos iff
// renaming it would produce edits.
func PrepareRename(root nixlang.Expr, positions *nixlang.Positions, parents scope.ParentMap, contents string, pos protocol.Position) (protocol.PrepareRenameResult, bool) {
	target, ok := findRenameTarget(root, positions, parents, contents, pos)
	if !ok {
		return protocol.PrepareRenameResult{}, false
	}
	offset := offsetAt(contents, pos)
	// Anchor the range to the identifier's actual start, not wherever
	// in the token the cursor happened to land.
	r := protocol.Range{Start: positionAt(contents, offset), End: positionAt(contents, offset+len(target.name))}
	for _, p := range collectReferences(root, parents, target) {
		start := positions.Resolve(p).Offset
		if offset >= start && offset <= start+len(target.name) {
			r = rangeOf(positions, contents, p, len(target.name))
			break
		}
	}
	return protocol.PrepareRenameResult{Range: r, Placeholder: string(target.name)}, true
}

// Rename resolves the identifier at pos to its binder, collects every
// reference in the same scope (plus the binder itself), and returns a
// TextEdit per occurrence. Returns (nil, false) if the cursor isn't on a
// renameable identifier, in which case the caller reports no edits
// available rather than guessing at one.
func Rename(root nixlang.Expr, positions *nixlang.Positions, parents scope.ParentMap, contents string, pos protocol.Position, newName string) ([]protocol.TextEdit, bool) {
	target, ok := findRenameTarget(root, positions, parents, contents, pos)
	if !ok {
		return nil, false
	}
	refs := collectReferences(root, parents, target)
	if len(refs) == 0 {
		return nil, false
	}
	edits := make([]protocol.TextEdit, 0, len(refs))
	for _, p := range refs {
		edits = append(edits, protocol.TextEdit{
			Range:   rangeOf(positions, contents, p, len(target.name)),
			NewText: newName,
		})
	}
	return edits, true
}
