package eval

import (
	"fmt"
	"sync"

	"github.com/yvan-sraka/nixd/internal/nixlang"
)

// Env is one lexical frame, pushed exactly once per scope-introducing
// ancestor encountered during evaluation (the same notion
// internal/scope's IsEnvCreated answers statically). Values is indexed
// by the same Displ the parser stamped on ExprVar, so address
// resolution here is pure pointer-chasing, never name lookup.
type Env struct {
	Up     *Env
	Values []*Thunk
}

// frame returns the Env Level hops up from env (Level is 1-based: 1
// means env itself).
func (env *Env) frame(level int) (*Env, error) {
	if level < 1 {
		return nil, fmt.Errorf("eval: invalid variable level %d", level)
	}
	cur := env
	for i := 1; i < level; i++ {
		if cur == nil {
			return nil, fmt.Errorf("eval: level %d exceeds enclosing scope depth", level)
		}
		cur = cur.Up
	}
	if cur == nil {
		return nil, fmt.Errorf("eval: level %d exceeds enclosing scope depth", level)
	}
	return cur, nil
}

// withFrame is one active `with e; ...` on the dynamic with-chain,
// searched innermost-first when resolving a FromWith variable. It
// holds the with-target expression as a thunk so entering a with's
// body never forces e until a FromWith lookup actually needs it.
type withFrame struct {
	attrs *Thunk
	up    *withFrame
}

// Budget bounds total evaluation work so a runaway recursive
// definition becomes a diagnostic instead of a hang.
type Budget struct {
	remaining int
}

func NewBudget(steps int) *Budget { return &Budget{remaining: steps} }

func (b *Budget) step() error {
	b.remaining--
	if b.remaining <= 0 {
		return fmt.Errorf("evaluation exceeded its iteration budget")
	}
	return nil
}

// Thunk is a call-by-need cell: either unevaluated (expr/env/with
// captured at creation) or forced (value/err cached for every later
// reader). blackholed marks a thunk currently being forced, turning
// self-reference during forcing into an explicit "infinite recursion"
// error rather than a stack overflow.
type Thunk struct {
	mu         sync.Mutex
	expr       nixlang.Expr
	env        *Env
	with       *withFrame
	forced     bool
	blackholed bool
	value      Value
	err        error
}

func NewThunk(expr nixlang.Expr, env *Env, with *withFrame) *Thunk {
	return &Thunk{expr: expr, env: env, with: with}
}

// Forced wraps an already-known value in a Thunk, for cases (a lambda's
// formals alias, a literal substituted during static analysis) where
// there is nothing left to defer.
func Forced(v Value) *Thunk {
	return &Thunk{forced: true, value: v}
}

func (t *Thunk) Force(b *Budget) (Value, error) {
	t.mu.Lock()
	if t.forced {
		v, err := t.value, t.err
		t.mu.Unlock()
		return v, err
	}
	if t.blackholed {
		t.mu.Unlock()
		return nil, fmt.Errorf("eval: infinite recursion forcing a value")
	}
	t.blackholed = true
	expr, env, with := t.expr, t.env, t.with
	t.mu.Unlock()

	v, err := Eval(expr, env, with, b)

	t.mu.Lock()
	t.forced = true
	t.blackholed = false
	t.value, t.err = v, err
	t.mu.Unlock()
	return v, err
}

// buildBindingsFrame creates a new self-referential Env frame for a
// `let` or recursive attribute set: every binding's thunk closes over
// the very frame it is a slot of, so bindings may reference each other
// (and themselves) regardless of source order.
func buildBindingsFrame(bindings []nixlang.Binding, up *Env, with *withFrame) *Env {
	frame := &Env{Up: up, Values: make([]*Thunk, len(bindings))}
	for i, b := range bindings {
		frame.Values[i] = NewThunk(b.Value, frame, with)
	}
	return frame
}

// fieldsOf indexes a bindings frame's thunks by name, for attribute
// access on the attrset built alongside it.
func fieldsOf(bindings []nixlang.Binding, frame *Env) map[nixlang.Symbol]*Thunk {
	fields := make(map[nixlang.Symbol]*Thunk, len(bindings))
	for i, b := range bindings {
		fields[b.Name] = frame.Values[i]
	}
	return fields
}

// pushWithFrame builds the Env placeholder frame and with-chain entry
// for a `with e; body`. The placeholder frame carries no bound names
// (with statically binds none) but still counts as one Level hop, so
// it must exist even though nothing ever indexes into it — this keeps
// eval's Env chain in lockstep with the parser's own scope-stack count
// (see internal/nixlang's scopeFrame doc comment on the same subtlety).
func pushWithFrame(n *nixlang.ExprWith, env *Env, with *withFrame) (*Env, *withFrame) {
	attrsThunk := NewThunk(n.Env, env, with)
	return &Env{Up: env, Values: nil}, &withFrame{attrs: attrsThunk, up: with}
}

// lookupWith searches the with-chain innermost-first for name, forcing
// each with-target to an Attrs only as needed.
func lookupWith(name nixlang.Symbol, with *withFrame, b *Budget) (Value, bool, error) {
	for w := with; w != nil; w = w.up {
		v, err := w.attrs.Force(b)
		if err != nil {
			return nil, false, err
		}
		attrs, ok := v.(Attrs)
		if !ok {
			return nil, false, fmt.Errorf("eval: value used in `with` is not an attribute set")
		}
		if field, ok := attrs.Fields[name]; ok {
			val, err := field.Force(b)
			return val, true, err
		}
	}
	return nil, false, nil
}

// staticLambdaFrame binds a lambda's formals to Unknown placeholders,
// for path-directed context reconstruction (EnvAt) where no actual
// call site exists to supply a real argument.
func staticLambdaFrame(lam *nixlang.ExprLambda, up *Env) *Env {
	if lam.Param.Formals == nil {
		return &Env{Up: up, Values: []*Thunk{Forced(Unknown{})}}
	}
	n := len(lam.Param.Formals)
	if lam.Param.Name != "" {
		n++
	}
	values := make([]*Thunk, n)
	for i := range lam.Param.Formals {
		values[i] = Forced(Unknown{})
	}
	if lam.Param.Name != "" {
		values[len(lam.Param.Formals)] = Forced(Unknown{})
	}
	return &Env{Up: up, Values: values}
}
