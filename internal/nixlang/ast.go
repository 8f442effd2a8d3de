package nixlang

// Symbol interns an identifier name. Two symbols with the same string
// compare equal by value; we intentionally keep it a plain string rather
// than a table-indexed id since documents are small and node identity
// (not symbol identity) is what scope resolution keys on.
type Symbol string

// Expr is the closed set of expression-language AST node kinds. Every
// dispatch site (internal/ast's visitor, internal/scope's resolver) must
// switch over exactly this set, including ErrorExpr.
type Expr interface {
	exprNode()
	Pos() PosIdx
}

type exprBase struct {
	PosIdx PosIdx
}

func (exprBase) exprNode()     {}
func (e exprBase) Pos() PosIdx { return e.PosIdx }

// ExprInt is an integer literal.
type ExprInt struct {
	exprBase
	Value int64
}

// ExprFloat is a floating point literal.
type ExprFloat struct {
	exprBase
	Value float64
}

// ExprString is a string literal (escapes already resolved by the lexer).
type ExprString struct {
	exprBase
	Value string
}

// ExprPath is a path literal (e.g. ./foo.ex, /abs/path, ~/x).
type ExprPath struct {
	exprBase
	Value string
}

// ExprVar is a variable reference. Level and Displ are filled in during
// parsing by the enclosing scope tracker; FromWith is true when no
// lexical binder was found and resolution must fall back to a `with`
// expression's dynamic scope (internal/scope never statically resolves
// these — which attribute set a `with` brings into scope is only known
// at evaluation time).
type ExprVar struct {
	exprBase
	Name     Symbol
	Level    int  // count of scope-introducing ancestors between the var and its binder
	Displ    int  // index into the binder's binding list
	FromWith bool
}

// Binding is one `name = value;` entry in an attribute set or let, or one
// `inherit [from] name...;` group desugared into individual bindings,
// each positioned at its own name.
type Binding struct {
	Name  Symbol
	Value Expr
	Pos   PosIdx // position of Name
}

// ExprAttrs is an attribute set, optionally `rec`.
type ExprAttrs struct {
	exprBase
	Recursive bool
	Bindings  []Binding
}

// ExprLet is `let bindings...; in Body`.
type ExprLet struct {
	exprBase
	Bindings []Binding
	Body     Expr
}

// ExprWith is `with Env; Body`.
type ExprWith struct {
	exprBase
	Env  Expr
	Body Expr
}

// Param is one lambda parameter: either a plain identifier (Name set,
// Formals nil) or a formal attribute-set pattern (Formals set).
type Param struct {
	Name    Symbol // plain-identifier parameter, or the @-bound alias for a formals pattern
	Formals []Formal
	Ellipsis bool // pattern ends in `...`
	Pos     PosIdx
}

// Formal is one `name` or `name ? default` entry inside a lambda's
// attribute-set parameter pattern.
type Formal struct {
	Name    Symbol
	Default Expr // nil if no default
	Pos     PosIdx
}

// ExprLambda is `Param: Body`.
type ExprLambda struct {
	exprBase
	Param Param
	Body  Expr
}

// ExprCall is function application `Fn Arg`.
type ExprCall struct {
	exprBase
	Fn  Expr
	Arg Expr
}

// ExprSelect is attribute selection `Base.Path` with an optional `or
// Default` fallback.
type ExprSelect struct {
	exprBase
	Base    Expr
	Path    []Symbol
	PathPos []PosIdx // one per Path entry
	Default Expr     // nil if no `or` clause
}

// ExprList is a list literal `[ e1 e2 ... ]`.
type ExprList struct {
	exprBase
	Elems []Expr
}

// ExprIf is `if Cond then Then else Else`.
type ExprIf struct {
	exprBase
	Cond Expr
	Then Expr
	Else Expr
}

// ExprAssert is `assert Cond; Body`.
type ExprAssert struct {
	exprBase
	Cond Expr
	Body Expr
}

// UnaryOp enumerates the unary operators.
type UnaryOp int

const (
	UnaryNeg UnaryOp = iota
	UnaryNot
)

// ExprUnary is a unary operator application.
type ExprUnary struct {
	exprBase
	Op      UnaryOp
	Operand Expr
}

// BinaryOp enumerates the binary operators.
type BinaryOp int

const (
	BinAdd BinaryOp = iota
	BinSub
	BinMul
	BinDiv
	BinConcat // ++
	BinUpdate // //
	BinEq
	BinNeq
	BinLt
	BinLe
	BinGt
	BinGe
	BinAnd
	BinOr
	BinImpl
)

// ExprBinary is a binary operator application.
type ExprBinary struct {
	exprBase
	Op    BinaryOp
	Left  Expr
	Right Expr
}

// ErrorExpr is the synthetic placeholder the parser injects on recovery.
// It is a first-class node kind: every dispatch site must handle it
// rather than treat parse failure as an out-of-band flag.
type ErrorExpr struct {
	exprBase
	Message string
}
