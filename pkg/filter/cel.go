package filter

import (
	"fmt"

	celgo "github.com/google/cel-go/cel"
)

type celPredicate struct {
	program celgo.Program
}

func (p celPredicate) eval(vars map[string]any) (bool, error) {
	out, _, err := p.program.Eval(vars)
	if err != nil {
		return false, err
	}
	b, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("result %T is not a bool", out.Value())
	}
	return b, nil
}

func compileCEL(kind, src string) (predicate, error) {
	var decls []celgo.EnvOption
	for _, v := range schemas[kind] {
		switch v.typ {
		case intVar:
			decls = append(decls, celgo.Variable(v.name, celgo.IntType))
		case boolVar:
			decls = append(decls, celgo.Variable(v.name, celgo.BoolType))
		case stringVar:
			decls = append(decls, celgo.Variable(v.name, celgo.StringType))
		}
	}
	env, err := celgo.NewEnv(decls...)
	if err != nil {
		return nil, err
	}
	ast, issues := env.Compile(src)
	if issues != nil && issues.Err() != nil {
		return nil, issues.Err()
	}
	if !ast.OutputType().IsExactType(celgo.BoolType) {
		return nil, fmt.Errorf("expression yields %s, want bool", ast.OutputType())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, err
	}
	return celPredicate{program: prg}, nil
}

// NewCEL compiles CEL expressions into a Filter.
func NewCEL(src Expressions, opts ...Option) (*Expression, error) {
	return newExpression("cel", src, compileCEL, opts)
}
