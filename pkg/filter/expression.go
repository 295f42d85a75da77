package filter

import (
	"fmt"
	"io"
	"log"
	"sync"

	"github.com/willibrandon/ChronoState/pkg/recorder"
)

// Object kinds an expression can be written for.
const (
	KindBody       = "body"
	KindConstraint = "constraint"
	KindContact    = "contact"
)

type varType int

const (
	intVar varType = iota
	boolVar
	stringVar
)

type variable struct {
	name string
	typ  varType
}

// Variables visible to each kind of expression.
var schemas = map[string][]variable{
	KindBody: {
		{"id", intVar},
		{"static", boolVar},
		{"layer", intVar},
		{"sleeping", boolVar},
	},
	KindConstraint: {
		{"id", intVar},
		{"kind", stringVar},
		{"body1", intVar},
		{"body2", intVar},
	},
	KindContact: {
		{"body1", intVar},
		{"body2", intVar},
	},
}

// Expressions holds one source expression per object kind. An empty
// expression includes every object of its kind.
type Expressions struct {
	Body       string
	Constraint string
	Contact    string
}

type predicate interface {
	eval(vars map[string]any) (bool, error)
}

type compiler func(kind, src string) (predicate, error)

// Option configures an Expression filter.
type Option func(*Expression)

// WithLogger sets where evaluation failures are logged.
func WithLogger(l *log.Logger) Option {
	return func(e *Expression) {
		if l != nil {
			e.logger = l
		}
	}
}

// Expression is a Filter backed by compiled expressions. Evaluation errors
// include the object, are logged once per kind and count as true.
type Expression struct {
	engine string
	src    Expressions

	body       predicate
	constraint predicate
	contact    predicate

	logger *log.Logger
	mu     sync.Mutex
	warned map[string]bool
}

func newExpression(engine string, src Expressions, compile compiler, opts []Option) (*Expression, error) {
	e := &Expression{
		engine: engine,
		src:    src,
		logger: log.New(io.Discard, "", 0),
		warned: make(map[string]bool),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}

	targets := []struct {
		kind string
		src  string
		dst  *predicate
	}{
		{KindBody, src.Body, &e.body},
		{KindConstraint, src.Constraint, &e.constraint},
		{KindContact, src.Contact, &e.contact},
	}
	for _, t := range targets {
		if t.src == "" {
			continue
		}
		p, err := compile(t.kind, t.src)
		if err != nil {
			return nil, &ExpressionError{Engine: engine, Kind: t.kind, Expr: t.src, Err: err}
		}
		*t.dst = p
	}
	return e, nil
}

// Engine returns "expr" or "cel".
func (e *Expression) Engine() string {
	return e.engine
}

// Source returns the expressions the filter was built from.
func (e *Expression) Source() Expressions {
	return e.src
}

func (e *Expression) decide(kind string, p predicate, vars map[string]any, object string) bool {
	if p == nil {
		return true
	}
	ok, err := p.eval(vars)
	if err != nil {
		e.warnOnce(kind, fmt.Errorf("%s: %w", object, err))
		return true
	}
	return ok
}

func (e *Expression) warnOnce(kind string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.warned[kind] {
		return
	}
	e.warned[kind] = true
	e.logger.Printf("%s %s filter failed, including object: %v", e.engine, kind, err)
}

// ShouldSaveBody implements recorder.Filter.
func (e *Expression) ShouldSaveBody(body recorder.Body) bool {
	vars := map[string]any{
		"id":       int64(body.ID()),
		"static":   body.IsStatic(),
		"layer":    int64(body.Layer()),
		"sleeping": body.IsSleeping(),
	}
	return e.decide(KindBody, e.body, vars, fmt.Sprintf("body %d", body.ID()))
}

// ShouldSaveConstraint implements recorder.Filter.
func (e *Expression) ShouldSaveConstraint(constraint recorder.Constraint) bool {
	b1, b2 := constraint.Bodies()
	vars := map[string]any{
		"id":    int64(constraint.ID()),
		"kind":  constraint.Kind(),
		"body1": int64(b1),
		"body2": int64(b2),
	}
	return e.decide(KindConstraint, e.constraint, vars, fmt.Sprintf("constraint %d", constraint.ID()))
}

// ShouldSaveContact implements recorder.Filter.
func (e *Expression) ShouldSaveContact(body1, body2 recorder.BodyID) bool {
	vars := map[string]any{
		"body1": int64(body1),
		"body2": int64(body2),
	}
	return e.decide(KindContact, e.contact, vars, fmt.Sprintf("contact %d-%d", body1, body2))
}
