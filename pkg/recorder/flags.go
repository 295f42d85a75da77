package recorder

import "strings"

// StateFlags selects which sections of the simulation a pass covers.
type StateFlags uint8

const (
	// StateGlobal covers engine scalars such as the step counter and gravity
	StateGlobal StateFlags = 1 << iota
	// StateBodies covers body positions and velocities
	StateBodies
	// StateContacts covers the contact cache
	StateContacts
	// StateConstraints covers constraint solver state
	StateConstraints

	// StateAll covers everything
	StateAll = StateGlobal | StateBodies | StateContacts | StateConstraints
)

// Has reports whether every flag in other is set.
func (f StateFlags) Has(other StateFlags) bool {
	return f&other == other
}

// String returns the string representation of the StateFlags
func (f StateFlags) String() string {
	if f == 0 {
		return "None"
	}
	if f == StateAll {
		return "All"
	}
	var parts []string
	names := []struct {
		flag StateFlags
		name string
	}{
		{StateGlobal, "Global"},
		{StateBodies, "Bodies"},
		{StateContacts, "Contacts"},
		{StateConstraints, "Constraints"},
	}
	for _, n := range names {
		if f.Has(n.flag) {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, "|")
}
