package nixlang

import "fmt"

// Diagnostic is a single parse-time diagnostic (severity is always
// "error" for parser-sourced ones; the eval worker in internal/workerrole
// maps these to LSP Diagnostic before sending them to the controller).
type Diagnostic struct {
	Message string
	Pos     PosIdx
}

// scopeFrame tracks one scope-introducing construct active while parsing
// descends into its scope-bearing children. names is nil for a `with`
// frame: it still counts toward Level, but contributes no statically
// resolvable bindings.
type scopeFrame struct {
	names []Symbol
}

func (f *scopeFrame) indexOf(name Symbol) (int, bool) {
	for i, n := range f.names {
		if n == name {
			return i, true
		}
	}
	return -1, false
}

// Parser is a recursive-descent parser over a token stream, assigning
// static Level/Displ/FromWith fields to variable references as it goes
// so an evaluator can do a fast indexed lookup instead of a scope-chain
// walk at every reference; internal/scope re-derives the same answer
// from the parent map at query time without needing this scope stack.
type Parser struct {
	lex    *Lexer
	tok    Token
	scopes []*scopeFrame

	Diagnostics []Diagnostic
}

// Parse lexes and parses src, returning the root expression (possibly
// containing ErrorExpr nodes) plus any diagnostics and the position
// table backing all returned PosIdx values.
func Parse(src, file string) (root Expr, diags []Diagnostic, pos *Positions) {
	pos = NewPositions(file)
	lex := NewLexer(src, file, pos)
	p := &Parser{lex: lex}
	p.advance()
	root = p.parseExpr()
	if p.tok.Kind != TokEOF {
		p.errorf("unexpected trailing input %q", p.tok.Text)
	}
	return root, p.Diagnostics, pos
}

func (p *Parser) advance() {
	p.tok = p.lex.Next()
}

func (p *Parser) errorf(format string, args ...any) {
	p.Diagnostics = append(p.Diagnostics, Diagnostic{Message: fmt.Sprintf(format, args...), Pos: p.tok.Start})
}

func (p *Parser) expect(k TokenKind) Token {
	if p.tok.Kind != k {
		p.errorf("expected %s, got %s %q", k, p.tok.Kind, p.tok.Text)
		return p.tok
	}
	t := p.tok
	p.advance()
	return t
}

// synchronize skips tokens until a statement-ish boundary (`;`, `}`, EOF)
// so one syntax error doesn't cascade into dozens of spurious ones.
func (p *Parser) synchronize() {
	for p.tok.Kind != TokEOF && p.tok.Kind != TokSemi && p.tok.Kind != TokRBrace {
		p.advance()
	}
}

func (p *Parser) errExpr(start PosIdx, msg string) Expr {
	return &ErrorExpr{exprBase: exprBase{PosIdx: start}, Message: msg}
}

func (p *Parser) pushScope(names []Symbol) {
	p.scopes = append(p.scopes, &scopeFrame{names: names})
}

func (p *Parser) popScope() {
	p.scopes = p.scopes[:len(p.scopes)-1]
}

// resolveVar walks the active scope stack innermost-first, matching the
// semantics 4.2 documents for searchEnvExpr: level is the count of
// scope-introducing ancestors between the variable and its binder.
func (p *Parser) resolveVar(name Symbol) (level, displ int, fromWith bool) {
	crossedWith := false
	level = 0
	for i := len(p.scopes) - 1; i >= 0; i-- {
		level++
		frame := p.scopes[i]
		if frame.names == nil {
			crossedWith = true
			continue
		}
		if d, ok := frame.indexOf(name); ok {
			return level, d, false
		}
	}
	if crossedWith {
		return -1, -1, true
	}
	return -1, -1, false // free variable: not in scope, not with-resolvable (builtin or undefined)
}

// --- lookahead plumbing -----------------------------------------------
//
// This lexer does not tokenize eagerly into a buffer; it is driven
// on-demand by the parser. A handful of grammar spots are genuinely
// ambiguous on one token of lookahead (forward-referencing `let`/`rec {}`
// binding names must be known before any binding value is parsed;
// `{ ... }` can open either an attribute set or a lambda's formals
// pattern). Both are resolved by snapshotting the lexer's scan position
// (a plain byte offset plus line/column — the lexer carries no other
// mutable state) and restoring it after a throwaway scan. The shared
// Positions table may accumulate a few extra unreferenced entries from
// the throwaway scan; since the table is append-only and PosIdx values
// are never invalidated, this is harmless.

type lexSnapshot struct {
	offset, line, col int
	tok               Token
	diagsLen          int
}

func (p *Parser) snapshot() lexSnapshot {
	return lexSnapshot{p.lex.offset, p.lex.line, p.lex.col, p.tok, len(p.Diagnostics)}
}

func (p *Parser) restore(s lexSnapshot) {
	p.lex.offset, p.lex.line, p.lex.col = s.offset, s.line, s.col
	p.tok = s.tok
	p.Diagnostics = p.Diagnostics[:s.diagsLen]
}

// scanBindingNames performs a bracket-depth-aware throwaway scan to
// collect every name a `let` or `rec { }` is about to bind, without
// actually building the value expressions, so the real parse can push a
// scope frame that makes forward/self references resolve correctly.
// stopAtIn selects `let` semantics (stop at top-level `in`); otherwise
// stops at the top-level closing `}`.
func (p *Parser) scanBindingNames(stopAtIn bool) []Symbol {
	snap := p.snapshot()
	defer p.restore(snap)

	var names []Symbol
	depth := 0
	inInherit := false
	for {
		if depth == 0 {
			if stopAtIn && p.tok.Kind == TokIn {
				break
			}
			if !stopAtIn && p.tok.Kind == TokRBrace {
				break
			}
		}
		if p.tok.Kind == TokEOF {
			break
		}
		switch p.tok.Kind {
		case TokLParen, TokLBrace, TokLBracket:
			depth++
		case TokRParen, TokRBrace, TokRBracket:
			depth--
		case TokInherit:
			if depth == 0 {
				inInherit = true
			}
		case TokSemi:
			if depth == 0 {
				inInherit = false
			}
		case TokIdent:
			if depth == 0 {
				if inInherit {
					names = append(names, Symbol(p.tok.Text))
				} else if p.peekIsAssign() {
					names = append(names, Symbol(p.tok.Text))
				}
			}
		}
		p.advance()
	}
	return names
}

// peekIsAssign reports whether the current identifier introduces a
// binding — i.e. is followed (after skipping a dotted attribute path
// such as `a.b.c =`) by `=` — without consuming anything.
func (p *Parser) peekIsAssign() bool {
	snap := p.snapshot()
	defer p.restore(snap)
	p.advance()
	for p.tok.Kind == TokDot {
		p.advance()
		if p.tok.Kind != TokIdent {
			return false
		}
		p.advance()
	}
	return p.tok.Kind == TokAssign
}

// --- expression grammar, lowest to highest precedence ---

func (p *Parser) parseExpr() Expr {
	return p.parseIf()
}

func (p *Parser) parseIf() Expr {
	switch p.tok.Kind {
	case TokIf:
		start := p.tok.Start
		p.advance()
		cond := p.parseExpr()
		p.expect(TokThen)
		then := p.parseExpr()
		p.expect(TokElse)
		els := p.parseExpr()
		return &ExprIf{exprBase: exprBase{PosIdx: start}, Cond: cond, Then: then, Else: els}
	case TokAssert:
		start := p.tok.Start
		p.advance()
		cond := p.parseExpr()
		p.expect(TokSemi)
		body := p.parseExpr()
		return &ExprAssert{exprBase: exprBase{PosIdx: start}, Cond: cond, Body: body}
	case TokWith:
		start := p.tok.Start
		p.advance()
		env := p.parseExpr()
		p.expect(TokSemi)
		p.pushScope(nil) // with-frame: counts toward Level, binds no names statically
		body := p.parseExpr()
		p.popScope()
		return &ExprWith{exprBase: exprBase{PosIdx: start}, Env: env, Body: body}
	case TokLet:
		return p.parseLet()
	case TokIdent:
		if p.isPlainLambda() {
			return p.parsePlainLambda()
		}
	}
	return p.parseBinary(0)
}

// isPlainLambda disambiguates `ident: body` (a one-parameter lambda) from
// a bare variable reference or the start of an application chain, using
// the same snapshot/restore lookahead as formals detection.
func (p *Parser) isPlainLambda() bool {
	snap := p.snapshot()
	p.advance()
	isLambda := p.tok.Kind == TokColon
	p.restore(snap)
	return isLambda
}

func (p *Parser) parsePlainLambda() Expr {
	start := p.tok.Start
	nameTok := p.expect(TokIdent)
	p.expect(TokColon)
	p.pushScope([]Symbol{Symbol(nameTok.Text)})
	body := p.parseExpr()
	p.popScope()
	return &ExprLambda{exprBase: exprBase{PosIdx: start}, Param: Param{Name: Symbol(nameTok.Text), Pos: nameTok.Start}, Body: body}
}

func (p *Parser) parseLet() Expr {
	start := p.tok.Start
	p.advance()
	names := p.scanBindingNames(true)
	p.pushScope(names)
	bindings := p.parseBindingEntries(false)
	p.expect(TokIn)
	body := p.parseExpr()
	p.popScope()
	return &ExprLet{exprBase: exprBase{PosIdx: start}, Bindings: bindings, Body: body}
}

// parseBindingEntries parses `name = expr;` and `inherit [(expr)]
// name...;` entries until the next token is neither TokIdent nor
// TokInherit. The caller is responsible for having pushed (or
// deliberately not pushed, for non-recursive attribute sets) the
// relevant scope frame first.
func (p *Parser) parseBindingEntries(allowNestedAttrPath bool) []Binding {
	var bindings []Binding
	for p.tok.Kind == TokIdent || p.tok.Kind == TokInherit {
		if p.tok.Kind == TokInherit {
			p.advance()
			var from Expr
			if p.tok.Kind == TokLParen {
				p.advance()
				from = p.parseExpr()
				p.expect(TokRParen)
			}
			for p.tok.Kind == TokIdent {
				nameTok := p.tok
				p.advance()
				var val Expr
				if from != nil {
					val = &ExprSelect{exprBase: exprBase{PosIdx: nameTok.Start}, Base: from, Path: []Symbol{Symbol(nameTok.Text)}, PathPos: []PosIdx{nameTok.Start}}
				} else {
					level, displ, fromWith := p.resolveVar(Symbol(nameTok.Text))
					val = &ExprVar{exprBase: exprBase{PosIdx: nameTok.Start}, Name: Symbol(nameTok.Text), Level: level, Displ: displ, FromWith: fromWith}
				}
				bindings = append(bindings, Binding{Name: Symbol(nameTok.Text), Value: val, Pos: nameTok.Start})
			}
			p.expect(TokSemi)
			continue
		}
		nameTok := p.tok
		p.advance()
		name := Symbol(nameTok.Text)
		if allowNestedAttrPath {
			for p.tok.Kind == TokDot {
				p.advance()
				p.expect(TokIdent) // nested attribute paths desugar to nested sets; position-only support
			}
		}
		p.expect(TokAssign)
		val := p.parseExpr()
		p.expect(TokSemi)
		bindings = append(bindings, Binding{Name: name, Value: val, Pos: nameTok.Start})
	}
	return bindings
}

// --- binary/unary operator precedence climbing ---

type opInfo struct {
	prec       int
	op         BinaryOp
	rightAssoc bool
}

var binOps = map[TokenKind]opInfo{
	TokImpl:   {1, BinImpl, true},
	TokOrOr:   {2, BinOr, false},
	TokAnd:    {3, BinAnd, false},
	TokEq:     {4, BinEq, false},
	TokNeq:    {4, BinNeq, false},
	TokLt:     {5, BinLt, false},
	TokLe:     {5, BinLe, false},
	TokGt:     {5, BinGt, false},
	TokGe:     {5, BinGe, false},
	TokUpdate: {6, BinUpdate, true},
	TokPlus:   {7, BinAdd, false},
	TokMinus:  {7, BinSub, false},
	TokStar:   {8, BinMul, false},
	TokSlash:  {8, BinDiv, false},
	TokConcat: {9, BinConcat, true},
}

func (p *Parser) parseBinary(minPrec int) Expr {
	left := p.parseUnary()
	for {
		info, ok := binOps[p.tok.Kind]
		if !ok || info.prec < minPrec {
			return left
		}
		opStart := p.tok.Start
		p.advance()
		nextMin := info.prec + 1
		if info.rightAssoc {
			nextMin = info.prec
		}
		right := p.parseBinary(nextMin)
		left = &ExprBinary{exprBase: exprBase{PosIdx: opStart}, Op: info.op, Left: left, Right: right}
	}
}

func (p *Parser) parseUnary() Expr {
	switch p.tok.Kind {
	case TokMinus:
		start := p.tok.Start
		p.advance()
		operand := p.parseUnary()
		return &ExprUnary{exprBase: exprBase{PosIdx: start}, Op: UnaryNeg, Operand: operand}
	case TokNot:
		start := p.tok.Start
		p.advance()
		operand := p.parseUnary()
		return &ExprUnary{exprBase: exprBase{PosIdx: start}, Op: UnaryNot, Operand: operand}
	}
	return p.parseApp()
}

func (p *Parser) parseApp() Expr {
	fn := p.parseSelect()
	for p.startsPrimary() {
		arg := p.parseSelect()
		fn = &ExprCall{exprBase: exprBase{PosIdx: fn.Pos()}, Fn: fn, Arg: arg}
	}
	return fn
}

func (p *Parser) startsPrimary() bool {
	switch p.tok.Kind {
	case TokIdent, TokInt, TokFloat, TokString, TokPath, TokURI, TokLParen, TokLBrace, TokLBracket, TokRec:
		return true
	}
	return false
}

// parseListElem parses one `[ ... ]` element. List elements bind tighter
// than application — `[ f a b ]` is three elements (f, a, b), not one
// applying f to a and b; an application element needs explicit parens
// (`[ (f a b) ]`). Unary minus/not are still accepted directly since
// they don't introduce the same ambiguity.
func (p *Parser) parseListElem() Expr {
	switch p.tok.Kind {
	case TokMinus:
		start := p.tok.Start
		p.advance()
		return &ExprUnary{exprBase: exprBase{PosIdx: start}, Op: UnaryNeg, Operand: p.parseSelect()}
	case TokNot:
		start := p.tok.Start
		p.advance()
		return &ExprUnary{exprBase: exprBase{PosIdx: start}, Op: UnaryNot, Operand: p.parseSelect()}
	}
	return p.parseSelect()
}

func (p *Parser) parseSelect() Expr {
	base := p.parsePrimary()
	for p.tok.Kind == TokDot {
		p.advance()
		var path []Symbol
		var pathPos []PosIdx
		for {
			nameTok := p.expect(TokIdent)
			path = append(path, Symbol(nameTok.Text))
			pathPos = append(pathPos, nameTok.Start)
			if p.tok.Kind != TokDot {
				break
			}
			p.advance()
		}
		sel := &ExprSelect{exprBase: exprBase{PosIdx: base.Pos()}, Base: base, Path: path, PathPos: pathPos}
		if p.tok.Kind == TokOr {
			p.advance()
			sel.Default = p.parseSelect()
		}
		base = sel
	}
	return base
}

func (p *Parser) parsePrimary() Expr {
	start := p.tok.Start
	switch p.tok.Kind {
	case TokInt:
		text := p.tok.Text
		p.advance()
		return &ExprInt{exprBase: exprBase{PosIdx: start}, Value: parseIntLiteral(text)}
	case TokFloat:
		text := p.tok.Text
		p.advance()
		return &ExprFloat{exprBase: exprBase{PosIdx: start}, Value: parseFloatLiteral(text)}
	case TokString:
		text := p.tok.Text
		p.advance()
		return &ExprString{exprBase: exprBase{PosIdx: start}, Value: text}
	case TokPath, TokURI:
		text := p.tok.Text
		p.advance()
		return &ExprPath{exprBase: exprBase{PosIdx: start}, Value: text}
	case TokIdent:
		name := p.tok.Text
		p.advance()
		level, displ, fromWith := p.resolveVar(Symbol(name))
		return &ExprVar{exprBase: exprBase{PosIdx: start}, Name: Symbol(name), Level: level, Displ: displ, FromWith: fromWith}
	case TokLParen:
		p.advance()
		e := p.parseExpr()
		p.expect(TokRParen)
		return e
	case TokLBracket:
		p.advance()
		var elems []Expr
		for p.tok.Kind != TokRBracket && p.tok.Kind != TokEOF {
			elems = append(elems, p.parseListElem())
		}
		p.expect(TokRBracket)
		return &ExprList{exprBase: exprBase{PosIdx: start}, Elems: elems}
	case TokRec:
		p.advance()
		p.expect(TokLBrace)
		return p.parseRecAttrs(start)
	case TokLBrace:
		p.advance()
		if p.looksLikeFormals() {
			return p.parseFormalsLambda(start)
		}
		return p.parsePlainAttrs(start)
	default:
		p.errorf("unexpected token %s %q", p.tok.Kind, p.tok.Text)
		bad := p.errExpr(start, fmt.Sprintf("unexpected token %q", p.tok.Text))
		p.advance()
		p.synchronize()
		return bad
	}
}

func (p *Parser) parseRecAttrs(start PosIdx) Expr {
	names := p.scanBindingNames(false)
	p.pushScope(names)
	bindings := p.parseBindingEntries(true)
	p.popScope()
	p.expect(TokRBrace)
	return &ExprAttrs{exprBase: exprBase{PosIdx: start}, Recursive: true, Bindings: bindings}
}

func (p *Parser) parsePlainAttrs(start PosIdx) Expr {
	// A non-recursive attribute set creates no env for its own bindings
	// (4.2's isEnvCreated policy table: "never — the attribute set's
	// body is outside its own scope"), so no scope frame is pushed here;
	// each binding value resolves names against whatever scope already
	// surrounds the `{`.
	bindings := p.parseBindingEntries(true)
	p.expect(TokRBrace)
	return &ExprAttrs{exprBase: exprBase{PosIdx: start}, Recursive: false, Bindings: bindings}
}

func (p *Parser) parseFormalsLambda(start PosIdx) Expr {
	var formals []Formal
	ellipsis := false
	for p.tok.Kind != TokRBrace {
		if p.tok.Kind == TokEllipsis {
			ellipsis = true
			p.advance()
			break
		}
		nameTok := p.expect(TokIdent)
		f := Formal{Name: Symbol(nameTok.Text), Pos: nameTok.Start}
		if p.tok.Kind == TokQuestion {
			p.advance()
			f.Default = p.parseExpr()
		}
		formals = append(formals, f)
		if p.tok.Kind == TokComma {
			p.advance()
			continue
		}
		break
	}
	p.expect(TokRBrace)
	param := Param{Formals: formals, Ellipsis: ellipsis, Pos: start}
	if p.tok.Kind == TokAt {
		p.advance()
		aliasTok := p.expect(TokIdent)
		param.Name = Symbol(aliasTok.Text)
	}
	p.expect(TokColon)
	names := make([]Symbol, 0, len(formals)+1)
	for _, f := range formals {
		names = append(names, f.Name)
	}
	if param.Name != "" {
		names = append(names, param.Name)
	}
	p.pushScope(names)
	body := p.parseExpr()
	p.popScope()
	return &ExprLambda{exprBase: exprBase{PosIdx: start}, Param: param, Body: body}
}

// looksLikeFormals distinguishes `{ a, b ? c }: ...` (lambda formals)
// from `{ a = 1; }` (attribute set) after the opening `{` has already
// been consumed. It scans ahead to the matching top-level `}` (tracking
// bracket depth) looking for an unambiguous signal — a top-level `=`
// means attrs, a top-level `,`/`?`/`...` means formals — and as a last
// resort peeks one token past the matching `}` for `:` or `@`, then
// restores the lexer to its pre-scan position.
func (p *Parser) looksLikeFormals() bool {
	if p.tok.Kind == TokRBrace {
		return false // `{}` is the empty attribute set
	}
	snap := p.snapshot()
	defer p.restore(snap)

	depth := 0
	for {
		switch p.tok.Kind {
		case TokEOF:
			return false
		case TokLParen, TokLBrace, TokLBracket:
			depth++
		case TokRParen, TokRBracket:
			depth--
		case TokRBrace:
			if depth == 0 {
				p.advance()
				return p.tok.Kind == TokColon || p.tok.Kind == TokAt
			}
			depth--
		case TokAssign:
			if depth == 0 {
				return false
			}
		case TokQuestion, TokComma, TokEllipsis:
			if depth == 0 {
				return true
			}
		}
		p.advance()
	}
}

func parseIntLiteral(s string) int64 {
	var v int64
	for i := 0; i < len(s); i++ {
		v = v*10 + int64(s[i]-'0')
	}
	return v
}

func parseFloatLiteral(s string) float64 {
	var intPart, fracPart float64
	fracDiv := 1.0
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		intPart = intPart*10 + float64(s[i]-'0')
		i++
	}
	if i < len(s) && s[i] == '.' {
		i++
		for i < len(s) && s[i] >= '0' && s[i] <= '9' {
			fracPart = fracPart*10 + float64(s[i]-'0')
			fracDiv *= 10
			i++
		}
	}
	return intPart + fracPart/fracDiv
}
