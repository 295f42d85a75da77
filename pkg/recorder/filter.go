package recorder

// BodyID identifies a body within a simulation.
type BodyID uint32

// Body is the view of a simulation body offered to inclusion filters.
type Body interface {
	ID() BodyID
	IsStatic() bool
	IsSleeping() bool
	Layer() uint8
}

// Constraint is the view of a simulation constraint offered to inclusion filters.
type Constraint interface {
	ID() uint32
	Kind() string
	Bodies() (BodyID, BodyID)
}

// Filter decides which objects take part in a save or restore pass.
//
// Answers must be stable: asking about the same object twice during a pass, or
// once during a save and once during the matching restore, must give the same
// result. A filter that changes its mind desynchronizes the byte stream and the
// recorder cannot detect it.
type Filter interface {
	ShouldSaveBody(body Body) bool
	ShouldSaveConstraint(constraint Constraint) bool
	ShouldSaveContact(body1, body2 BodyID) bool
}

// AllowAll includes every object.
type AllowAll struct{}

func (AllowAll) ShouldSaveBody(Body) bool              { return true }
func (AllowAll) ShouldSaveConstraint(Constraint) bool  { return true }
func (AllowAll) ShouldSaveContact(BodyID, BodyID) bool { return true }

// FilterFuncs is a Filter built from optional closures. A nil closure
// includes everything of its kind.
type FilterFuncs struct {
	Body       func(Body) bool
	Constraint func(Constraint) bool
	Contact    func(body1, body2 BodyID) bool
}

// ShouldSaveBody implements Filter.
func (f FilterFuncs) ShouldSaveBody(body Body) bool {
	if f.Body == nil {
		return true
	}
	return f.Body(body)
}

// ShouldSaveConstraint implements Filter.
func (f FilterFuncs) ShouldSaveConstraint(constraint Constraint) bool {
	if f.Constraint == nil {
		return true
	}
	return f.Constraint(constraint)
}

// ShouldSaveContact implements Filter.
func (f FilterFuncs) ShouldSaveContact(body1, body2 BodyID) bool {
	if f.Contact == nil {
		return true
	}
	return f.Contact(body1, body2)
}
