package recorder

import (
	"errors"
	"fmt"
)

var (
	// ErrDivergenceDetected matches errors built from validation divergences
	ErrDivergenceDetected = errors.New("recorder: divergence detected")

	// ErrPredicateInstability is returned by adapters that notice the filter
	// selected a different set of objects than the recording holds
	ErrPredicateInstability = errors.New("recorder: inclusion predicate changed between save and restore")

	errNoSink   = errors.New("recorder has no sink")
	errNoSource = errors.New("recorder has no source")
)

// DivergenceError summarises the divergences found by a validation pass.
type DivergenceError struct {
	Count int
	First Divergence
}

// Error implements the error interface.
func (e *DivergenceError) Error() string {
	return fmt.Sprintf("recorder: %d divergent range(s), first at offset %d (%s)",
		e.Count, e.First.Offset, e.First.Object)
}

// Unwrap lets errors.Is match ErrDivergenceDetected.
func (e *DivergenceError) Unwrap() error {
	return ErrDivergenceDetected
}
