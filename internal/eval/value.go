package eval

import (
	"fmt"
	"sort"
	"strings"

	"github.com/yvan-sraka/nixd/internal/nixlang"
)

// Value is a fully- or partially-forced evaluation result.
type Value interface {
	valueNode()
	Kind() string
}

type valueBase struct{}

func (valueBase) valueNode() {}

type Int struct {
	valueBase
	V int64
}

func (Int) Kind() string { return "int" }

type Float struct {
	valueBase
	V float64
}

func (Float) Kind() string { return "float" }

type String struct {
	valueBase
	V string
}

func (String) Kind() string { return "string" }

type Path struct {
	valueBase
	V string
}

func (Path) Kind() string { return "path" }

type Bool struct {
	valueBase
	V bool
}

func (Bool) Kind() string { return "bool" }

type Null struct{ valueBase }

func (Null) Kind() string { return "null" }

// Unknown stands in for a lambda parameter's value when hover/context
// queries walk a path no call site ever actually took: the shape is
// unknowable without a real argument, so hover reports "<parameter>"
// rather than guessing.
type Unknown struct{ valueBase }

func (Unknown) Kind() string { return "parameter" }

// Attrs is an attribute set: its values are thunks so selection doesn't
// force siblings, matching call-by-need semantics.
type Attrs struct {
	valueBase
	Fields map[nixlang.Symbol]*Thunk
}

func (Attrs) Kind() string { return "attrs" }

// List is a list of lazily-evaluated elements.
type List struct {
	valueBase
	Elems []*Thunk
}

func (List) Kind() string { return "list" }

// Lambda is a closure: the body plus the environment it closes over.
type Lambda struct {
	valueBase
	Expr *nixlang.ExprLambda
	Env  *Env
	with *withFrame
}

func (Lambda) Kind() string { return "lambda" }

// render produces a short, hover-friendly rendering of a value without
// forcing any nested thunks (so rendering a large attrset or list never
// triggers a cascade of unrelated evaluation).
func render(v Value) string {
	switch t := v.(type) {
	case Int:
		return fmt.Sprintf("%d", t.V)
	case Float:
		return fmt.Sprintf("%g", t.V)
	case String:
		return fmt.Sprintf("%q", t.V)
	case Path:
		return t.V
	case Bool:
		return fmt.Sprintf("%t", t.V)
	case Null:
		return "null"
	case Attrs:
		names := make([]string, 0, len(t.Fields))
		for k := range t.Fields {
			names = append(names, string(k))
		}
		sort.Strings(names)
		return "{ " + strings.Join(names, ", ") + " }"
	case List:
		return fmt.Sprintf("[ <%d elements> ]", len(t.Elems))
	case Lambda:
		return "<lambda>"
	case Unknown:
		return "<parameter>"
	default:
		return "<unknown>"
	}
}
