package filter

import "fmt"

// ExpressionError reports an expression that failed to compile or does not
// produce a bool.
type ExpressionError struct {
	Engine string
	Kind   string
	Expr   string
	Err    error
}

func (e *ExpressionError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("filter: %s %s expression %q: %v", e.Engine, e.Kind, e.Expr, e.Err)
}

func (e *ExpressionError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
