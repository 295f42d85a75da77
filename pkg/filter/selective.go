// Package filter provides recorder.Filter implementations: rule based
// selection, expr and CEL expressions, and a memoizing wrapper.
package filter

import (
	"slices"

	"github.com/willibrandon/ChronoState/pkg/recorder"
)

// Options configures a Selective filter.
type Options struct {
	// Enabled turns selection on. A disabled filter includes everything.
	Enabled bool

	// IncludeBodies lists the bodies to record
	// Empty means all bodies are recorded
	IncludeBodies []recorder.BodyID

	// ExcludeBodies lists bodies never recorded
	// This takes precedence over IncludeBodies
	ExcludeBodies []recorder.BodyID

	// IncludeLayers restricts bodies to the given layers. Empty means all.
	IncludeLayers []uint8

	// ExcludeStatic skips static bodies
	ExcludeStatic bool

	// SaveConstraints records constraints whose bodies both pass the ID rules
	SaveConstraints bool

	// SaveContacts records contacts whose bodies both pass the ID rules
	SaveContacts bool
}

// DefaultOptions returns options that record everything.
func DefaultOptions() Options {
	return Options{
		Enabled:         true,
		IncludeBodies:   []recorder.BodyID{}, // Empty means all bodies
		ExcludeBodies:   []recorder.BodyID{},
		SaveConstraints: true,
		SaveContacts:    true,
	}
}

// Selective includes objects by ID, layer and kind. Its answers depend only
// on properties that do not change while a body exists, so it is stable.
type Selective struct {
	opts Options
}

// NewSelective creates a Selective filter.
func NewSelective(opts Options) *Selective {
	return &Selective{opts: opts}
}

// Options returns the filter's options.
func (s *Selective) Options() Options {
	return s.opts
}

// allowID applies the include and exclude lists.
func (s *Selective) allowID(id recorder.BodyID) bool {
	if slices.Contains(s.opts.ExcludeBodies, id) {
		return false
	}
	if len(s.opts.IncludeBodies) == 0 {
		return true
	}
	return slices.Contains(s.opts.IncludeBodies, id)
}

// ShouldSaveBody implements recorder.Filter.
func (s *Selective) ShouldSaveBody(body recorder.Body) bool {
	if !s.opts.Enabled {
		return true
	}
	if !s.allowID(body.ID()) {
		return false
	}
	if s.opts.ExcludeStatic && body.IsStatic() {
		return false
	}
	if len(s.opts.IncludeLayers) > 0 && !slices.Contains(s.opts.IncludeLayers, body.Layer()) {
		return false
	}
	return true
}

// ShouldSaveConstraint implements recorder.Filter.
func (s *Selective) ShouldSaveConstraint(constraint recorder.Constraint) bool {
	if !s.opts.Enabled {
		return true
	}
	if !s.opts.SaveConstraints {
		return false
	}
	b1, b2 := constraint.Bodies()
	return s.allowID(b1) && s.allowID(b2)
}

// ShouldSaveContact implements recorder.Filter.
func (s *Selective) ShouldSaveContact(body1, body2 recorder.BodyID) bool {
	if !s.opts.Enabled {
		return true
	}
	if !s.opts.SaveContacts {
		return false
	}
	return s.allowID(body1) && s.allowID(body2)
}
