package filter

import (
	"fmt"

	exprlang "github.com/expr-lang/expr"
	exprvm "github.com/expr-lang/expr/vm"
)

type exprPredicate struct {
	program *exprvm.Program
}

func (p exprPredicate) eval(vars map[string]any) (bool, error) {
	out, err := exprlang.Run(p.program, vars)
	if err != nil {
		return false, err
	}
	b, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("result %T is not a bool", out)
	}
	return b, nil
}

func compileExpr(kind, src string) (predicate, error) {
	env := make(map[string]any)
	for _, v := range schemas[kind] {
		switch v.typ {
		case intVar:
			env[v.name] = int64(0)
		case boolVar:
			env[v.name] = false
		case stringVar:
			env[v.name] = ""
		}
	}
	program, err := exprlang.Compile(src, exprlang.Env(env), exprlang.AsBool())
	if err != nil {
		return nil, err
	}
	return exprPredicate{program: program}, nil
}

// NewExpr compiles expr-lang expressions into a Filter.
func NewExpr(src Expressions, opts ...Option) (*Expression, error) {
	return newExpression("expr", src, compileExpr, opts)
}
