// Package eval is C12's minimal call-by-need tree-walking evaluator. It
// runs only inside a spawned Evaluator-role worker process (see
// internal/worker), answering the internal IPC methods
// nixd/ipc/textDocument/{hover,definition,completion} over the AST
// snapshot that process was spawned with.
package eval

import (
	"fmt"

	"github.com/yvan-sraka/nixd/internal/nixlang"
)

// Eval evaluates expr to weak head normal form under env/with, using
// budget to bound total work. It is the single recursive entry point
// every node kind dispatches through, mirroring internal/ast's closed
// switch-over-Expr discipline rather than a per-kind method set.
func Eval(expr nixlang.Expr, env *Env, with *withFrame, budget *Budget) (Value, error) {
	if err := budget.step(); err != nil {
		return nil, err
	}

	switch e := expr.(type) {
	case *nixlang.ExprInt:
		return Int{V: e.Value}, nil
	case *nixlang.ExprFloat:
		return Float{V: e.Value}, nil
	case *nixlang.ExprString:
		return String{V: e.Value}, nil
	case *nixlang.ExprPath:
		return Path{V: e.Value}, nil

	case *nixlang.ExprVar:
		return evalVar(e, env, with, budget)

	case *nixlang.ExprAttrs:
		if !e.Recursive {
			fields := make(map[nixlang.Symbol]*Thunk, len(e.Bindings))
			for _, b := range e.Bindings {
				fields[b.Name] = NewThunk(b.Value, env, with)
			}
			return Attrs{Fields: fields}, nil
		}
		frame := buildBindingsFrame(e.Bindings, env, with)
		return Attrs{Fields: fieldsOf(e.Bindings, frame)}, nil

	case *nixlang.ExprLet:
		frame := buildBindingsFrame(e.Bindings, env, with)
		return Eval(e.Body, frame, with, budget)

	case *nixlang.ExprWith:
		newEnv, newWith := pushWithFrame(e, env, with)
		return Eval(e.Body, newEnv, newWith, budget)

	case *nixlang.ExprLambda:
		return Lambda{Expr: e, Env: env, with: with}, nil

	case *nixlang.ExprCall:
		fnVal, err := Eval(e.Fn, env, with, budget)
		if err != nil {
			return nil, err
		}
		lam, ok := fnVal.(Lambda)
		if !ok {
			return nil, fmt.Errorf("eval: attempt to call a %s value as a function", fnVal.Kind())
		}
		argThunk := NewThunk(e.Arg, env, with)
		return apply(lam, argThunk, budget)

	case *nixlang.ExprSelect:
		return evalSelect(e, env, with, budget)

	case *nixlang.ExprList:
		elems := make([]*Thunk, len(e.Elems))
		for i, el := range e.Elems {
			elems[i] = NewThunk(el, env, with)
		}
		return List{Elems: elems}, nil

	case *nixlang.ExprIf:
		cond, err := Eval(e.Cond, env, with, budget)
		if err != nil {
			return nil, err
		}
		b, ok := cond.(Bool)
		if !ok {
			return nil, fmt.Errorf("eval: `if` condition is a %s, not a bool", cond.Kind())
		}
		if b.V {
			return Eval(e.Then, env, with, budget)
		}
		return Eval(e.Else, env, with, budget)

	case *nixlang.ExprAssert:
		cond, err := Eval(e.Cond, env, with, budget)
		if err != nil {
			return nil, err
		}
		b, ok := cond.(Bool)
		if !ok {
			return nil, fmt.Errorf("eval: assert condition is a %s, not a bool", cond.Kind())
		}
		if !b.V {
			return nil, fmt.Errorf("eval: assertion failed")
		}
		return Eval(e.Body, env, with, budget)

	case *nixlang.ExprUnary:
		return evalUnary(e, env, with, budget)

	case *nixlang.ExprBinary:
		return evalBinary(e, env, with, budget)

	case *nixlang.ErrorExpr:
		return nil, fmt.Errorf("eval: %s", e.Message)

	default:
		return nil, fmt.Errorf("eval: unhandled expression node %T", expr)
	}
}

func evalVar(e *nixlang.ExprVar, env *Env, with *withFrame, budget *Budget) (Value, error) {
	if e.FromWith {
		v, found, err := lookupWith(e.Name, with, budget)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, fmt.Errorf("eval: undefined variable %q", e.Name)
		}
		return v, nil
	}
	frame, err := env.frame(e.Level)
	if err != nil {
		return nil, err
	}
	if e.Displ < 0 || e.Displ >= len(frame.Values) {
		return nil, fmt.Errorf("eval: variable %q has an out-of-range displacement", e.Name)
	}
	return frame.Values[e.Displ].Force(budget)
}

func evalSelect(e *nixlang.ExprSelect, env *Env, with *withFrame, budget *Budget) (Value, error) {
	base, err := Eval(e.Base, env, with, budget)
	if err != nil {
		if e.Default != nil {
			return Eval(e.Default, env, with, budget)
		}
		return nil, err
	}
	cur := base
	for _, name := range e.Path {
		attrs, ok := cur.(Attrs)
		if !ok {
			if e.Default != nil {
				return Eval(e.Default, env, with, budget)
			}
			return nil, fmt.Errorf("eval: cannot select %q from a %s value", name, cur.Kind())
		}
		field, ok := attrs.Fields[name]
		if !ok {
			if e.Default != nil {
				return Eval(e.Default, env, with, budget)
			}
			return nil, fmt.Errorf("eval: attribute %q is missing", name)
		}
		cur, err = field.Force(budget)
		if err != nil {
			if e.Default != nil {
				return Eval(e.Default, env, with, budget)
			}
			return nil, err
		}
	}
	return cur, nil
}

func apply(lam Lambda, argThunk *Thunk, budget *Budget) (Value, error) {
	param := lam.Expr.Param
	if param.Formals == nil {
		newEnv := &Env{Up: lam.Env, Values: []*Thunk{argThunk}}
		return Eval(lam.Expr.Body, newEnv, lam.with, budget)
	}

	argVal, err := argThunk.Force(budget)
	if err != nil {
		return nil, err
	}
	argAttrs, ok := argVal.(Attrs)
	if !ok {
		return nil, fmt.Errorf("eval: function expects an attribute set argument, got a %s", argVal.Kind())
	}

	n := len(param.Formals)
	if param.Name != "" {
		n++
	}
	newEnv := &Env{Up: lam.Env, Values: make([]*Thunk, n)}
	for i, f := range param.Formals {
		if field, ok := argAttrs.Fields[f.Name]; ok {
			newEnv.Values[i] = field
		} else if f.Default != nil {
			newEnv.Values[i] = NewThunk(f.Default, newEnv, lam.with)
		} else {
			return nil, fmt.Errorf("eval: call is missing required argument %q", f.Name)
		}
	}
	if param.Name != "" {
		newEnv.Values[len(param.Formals)] = Forced(argAttrs)
	}
	return Eval(lam.Expr.Body, newEnv, lam.with, budget)
}

func evalUnary(e *nixlang.ExprUnary, env *Env, with *withFrame, budget *Budget) (Value, error) {
	v, err := Eval(e.Operand, env, with, budget)
	if err != nil {
		return nil, err
	}
	switch e.Op {
	case nixlang.UnaryNeg:
		switch n := v.(type) {
		case Int:
			return Int{V: -n.V}, nil
		case Float:
			return Float{V: -n.V}, nil
		}
		return nil, fmt.Errorf("eval: cannot negate a %s value", v.Kind())
	case nixlang.UnaryNot:
		b, ok := v.(Bool)
		if !ok {
			return nil, fmt.Errorf("eval: cannot negate a %s value with !", v.Kind())
		}
		return Bool{V: !b.V}, nil
	default:
		return nil, fmt.Errorf("eval: unhandled unary operator")
	}
}

func evalBinary(e *nixlang.ExprBinary, env *Env, with *withFrame, budget *Budget) (Value, error) {
	// && and || short-circuit, so the right operand must not be forced
	// unconditionally.
	if e.Op == nixlang.BinAnd || e.Op == nixlang.BinOr {
		left, err := Eval(e.Left, env, with, budget)
		if err != nil {
			return nil, err
		}
		lb, ok := left.(Bool)
		if !ok {
			return nil, fmt.Errorf("eval: left operand of %s is a %s, not a bool", binOpName(e.Op), left.Kind())
		}
		if e.Op == nixlang.BinAnd && !lb.V {
			return Bool{V: false}, nil
		}
		if e.Op == nixlang.BinOr && lb.V {
			return Bool{V: true}, nil
		}
		right, err := Eval(e.Right, env, with, budget)
		if err != nil {
			return nil, err
		}
		rb, ok := right.(Bool)
		if !ok {
			return nil, fmt.Errorf("eval: right operand of %s is a %s, not a bool", binOpName(e.Op), right.Kind())
		}
		return rb, nil
	}
	if e.Op == nixlang.BinImpl {
		left, err := Eval(e.Left, env, with, budget)
		if err != nil {
			return nil, err
		}
		lb, ok := left.(Bool)
		if !ok {
			return nil, fmt.Errorf("eval: left operand of -> is a %s, not a bool", left.Kind())
		}
		if !lb.V {
			return Bool{V: true}, nil
		}
		right, err := Eval(e.Right, env, with, budget)
		if err != nil {
			return nil, err
		}
		rb, ok := right.(Bool)
		if !ok {
			return nil, fmt.Errorf("eval: right operand of -> is a %s, not a bool", right.Kind())
		}
		return rb, nil
	}

	left, err := Eval(e.Left, env, with, budget)
	if err != nil {
		return nil, err
	}
	right, err := Eval(e.Right, env, with, budget)
	if err != nil {
		return nil, err
	}

	switch e.Op {
	case nixlang.BinAdd:
		return numericOrConcat(left, right, func(a, b int64) int64 { return a + b }, func(a, b float64) float64 { return a + b })
	case nixlang.BinSub:
		return numeric(left, right, func(a, b int64) int64 { return a - b }, func(a, b float64) float64 { return a - b })
	case nixlang.BinMul:
		return numeric(left, right, func(a, b int64) int64 { return a * b }, func(a, b float64) float64 { return a * b })
	case nixlang.BinDiv:
		return divide(left, right)
	case nixlang.BinConcat:
		l, ok1 := left.(List)
		r, ok2 := right.(List)
		if !ok1 || !ok2 {
			return nil, fmt.Errorf("eval: ++ requires two lists")
		}
		elems := make([]*Thunk, 0, len(l.Elems)+len(r.Elems))
		elems = append(elems, l.Elems...)
		elems = append(elems, r.Elems...)
		return List{Elems: elems}, nil
	case nixlang.BinUpdate:
		l, ok1 := left.(Attrs)
		r, ok2 := right.(Attrs)
		if !ok1 || !ok2 {
			return nil, fmt.Errorf("eval: // requires two attribute sets")
		}
		merged := make(map[nixlang.Symbol]*Thunk, len(l.Fields)+len(r.Fields))
		for k, v := range l.Fields {
			merged[k] = v
		}
		for k, v := range r.Fields {
			merged[k] = v
		}
		return Attrs{Fields: merged}, nil
	case nixlang.BinEq:
		eq, err := valuesEqual(left, right)
		return Bool{V: eq}, err
	case nixlang.BinNeq:
		eq, err := valuesEqual(left, right)
		return Bool{V: !eq}, err
	case nixlang.BinLt, nixlang.BinLe, nixlang.BinGt, nixlang.BinGe:
		return compare(e.Op, left, right)
	default:
		return nil, fmt.Errorf("eval: unhandled binary operator")
	}
}

func binOpName(op nixlang.BinaryOp) string {
	switch op {
	case nixlang.BinAnd:
		return "&&"
	case nixlang.BinOr:
		return "||"
	default:
		return "?"
	}
}

func numeric(l, r Value, ints func(int64, int64) int64, floats func(float64, float64) float64) (Value, error) {
	li, lIsInt := l.(Int)
	ri, rIsInt := r.(Int)
	if lIsInt && rIsInt {
		return Int{V: ints(li.V, ri.V)}, nil
	}
	lf, lok := asFloat(l)
	rf, rok := asFloat(r)
	if lok && rok {
		return Float{V: floats(lf, rf)}, nil
	}
	return nil, fmt.Errorf("eval: arithmetic requires numbers, got %s and %s", l.Kind(), r.Kind())
}

func numericOrConcat(l, r Value, ints func(int64, int64) int64, floats func(float64, float64) float64) (Value, error) {
	ls, lIsStr := l.(String)
	rs, rIsStr := r.(String)
	if lIsStr && rIsStr {
		return String{V: ls.V + rs.V}, nil
	}
	return numeric(l, r, ints, floats)
}

func divide(l, r Value) (Value, error) {
	li, lIsInt := l.(Int)
	ri, rIsInt := r.(Int)
	if lIsInt && rIsInt {
		if ri.V == 0 {
			return nil, fmt.Errorf("eval: division by zero")
		}
		return Int{V: li.V / ri.V}, nil
	}
	lf, lok := asFloat(l)
	rf, rok := asFloat(r)
	if lok && rok {
		if rf == 0 {
			return nil, fmt.Errorf("eval: division by zero")
		}
		return Float{V: lf / rf}, nil
	}
	return nil, fmt.Errorf("eval: division requires numbers, got %s and %s", l.Kind(), r.Kind())
}

func asFloat(v Value) (float64, bool) {
	switch n := v.(type) {
	case Int:
		return float64(n.V), true
	case Float:
		return n.V, true
	}
	return 0, false
}

func valuesEqual(l, r Value) (bool, error) {
	switch lv := l.(type) {
	case Int:
		if rv, ok := r.(Int); ok {
			return lv.V == rv.V, nil
		}
		if rf, ok := asFloat(r); ok {
			return float64(lv.V) == rf, nil
		}
		return false, nil
	case Float:
		rf, ok := asFloat(r)
		return ok && lv.V == rf, nil
	case String:
		rv, ok := r.(String)
		return ok && lv.V == rv.V, nil
	case Bool:
		rv, ok := r.(Bool)
		return ok && lv.V == rv.V, nil
	case Path:
		rv, ok := r.(Path)
		return ok && lv.V == rv.V, nil
	case Null:
		_, ok := r.(Null)
		return ok, nil
	default:
		return false, nil
	}
}

func compare(op nixlang.BinaryOp, l, r Value) (Value, error) {
	lf, lok := asFloat(l)
	rf, rok := asFloat(r)
	if lok && rok {
		return Bool{V: numericCompare(op, lf, rf)}, nil
	}
	ls, lIsStr := l.(String)
	rs, rIsStr := r.(String)
	if lIsStr && rIsStr {
		return Bool{V: stringCompare(op, ls.V, rs.V)}, nil
	}
	return nil, fmt.Errorf("eval: cannot order-compare %s and %s", l.Kind(), r.Kind())
}

func numericCompare(op nixlang.BinaryOp, a, b float64) bool {
	switch op {
	case nixlang.BinLt:
		return a < b
	case nixlang.BinLe:
		return a <= b
	case nixlang.BinGt:
		return a > b
	case nixlang.BinGe:
		return a >= b
	}
	return false
}

func stringCompare(op nixlang.BinaryOp, a, b string) bool {
	switch op {
	case nixlang.BinLt:
		return a < b
	case nixlang.BinLe:
		return a <= b
	case nixlang.BinGt:
		return a > b
	case nixlang.BinGe:
		return a >= b
	}
	return false
}
