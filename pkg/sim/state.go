package sim

import (
	"fmt"
	"sort"

	"github.com/willibrandon/ChronoState/pkg/recorder"
)

// Fixed-size wire records. Field order is the serialization order.
type (
	globalState struct {
		Step    uint64
		PrevDT  float32
		Gravity Vec3
	}

	bodyState struct {
		ID         uint32
		Position   Vec3
		Velocity   Vec3
		SleepTimer float32
		Sleeping   bool
	}

	contactState struct {
		Body1, Body2 uint32
		Normal       Vec3
		Impulse      float32
	}

	constraintState struct {
		ID     uint32
		Lambda float32
	}
)

func (b *Body) state() bodyState {
	return bodyState{
		ID:         uint32(b.id),
		Position:   b.Position,
		Velocity:   b.Velocity,
		SleepTimer: b.sleepTimer,
		Sleeping:   b.sleeping,
	}
}

func (b *Body) apply(s bodyState) {
	b.Position = s.Position
	b.Velocity = s.Velocity
	b.sleepTimer = s.SleepTimer
	b.sleeping = s.Sleeping
}

func (c Contact) state() contactState {
	return contactState{
		Body1:   uint32(c.Body1),
		Body2:   uint32(c.Body2),
		Normal:  c.Normal,
		Impulse: c.Impulse,
	}
}

func (s contactState) contact() Contact {
	return Contact{
		Body1:   recorder.BodyID(s.Body1),
		Body2:   recorder.BodyID(s.Body2),
		Normal:  s.Normal,
		Impulse: s.Impulse,
	}
}

func (w *World) includedBodies(f recorder.Filter) []*Body {
	var out []*Body
	for _, b := range w.bodies {
		if f.ShouldSaveBody(b) {
			out = append(out, b)
		}
	}
	return out
}

func (w *World) includedConstraints(f recorder.Filter) []*DistanceConstraint {
	var out []*DistanceConstraint
	for _, c := range w.constraints {
		if f.ShouldSaveConstraint(c) {
			out = append(out, c)
		}
	}
	return out
}

func (w *World) splitContacts(f recorder.Filter) (included, excluded []Contact) {
	for _, c := range w.contacts {
		if f.ShouldSaveContact(c.Body1, c.Body2) {
			included = append(included, c)
		} else {
			excluded = append(excluded, c)
		}
	}
	return included, excluded
}

// SaveState writes the sections selected by flags, restricted to the objects
// the recorder's filter includes.
func (w *World) SaveState(rec recorder.Recorder, flags recorder.StateFlags) error {
	rec.Annotate("header")
	if err := recorder.Write(rec, uint8(flags)); err != nil {
		return err
	}

	if flags.Has(recorder.StateGlobal) {
		rec.Annotate("global")
		if err := recorder.Write(rec, globalState{w.stepCount, w.prevDT, w.Gravity}); err != nil {
			return err
		}
	}

	if flags.Has(recorder.StateBodies) {
		bodies := w.includedBodies(rec)
		rec.Annotate("bodies")
		if err := recorder.Write(rec, uint32(len(bodies))); err != nil {
			return err
		}
		for _, b := range bodies {
			rec.Annotate(fmt.Sprintf("body %d", b.id))
			if err := recorder.Write(rec, b.state()); err != nil {
				return err
			}
		}
	}

	if flags.Has(recorder.StateContacts) {
		contacts, _ := w.splitContacts(rec)
		rec.Annotate("contacts")
		if err := recorder.Write(rec, uint32(len(contacts))); err != nil {
			return err
		}
		for _, c := range contacts {
			rec.Annotate(fmt.Sprintf("contact %d-%d", c.Body1, c.Body2))
			if err := recorder.Write(rec, c.state()); err != nil {
				return err
			}
		}
	}

	if flags.Has(recorder.StateConstraints) {
		constraints := w.includedConstraints(rec)
		rec.Annotate("constraints")
		if err := recorder.Write(rec, uint32(len(constraints))); err != nil {
			return err
		}
		for _, c := range constraints {
			rec.Annotate(fmt.Sprintf("constraint %d", c.id))
			if err := recorder.Write(rec, constraintState{c.id, c.Lambda}); err != nil {
				return err
			}
		}
	}
	return nil
}

// RestoreState reads a state written by SaveState. flags is the section set
// the caller expects, which is what a validating recorder compares the
// recorded header against; the recorded header decides which sections are
// read. Contacts the filter excludes are left untouched.
//
// A recorded body count that differs from what the filter selects now means
// the filter gave different answers on save and restore; that fails with
// recorder.ErrPredicateInstability.
func (w *World) RestoreState(rec recorder.Recorder, flags recorder.StateFlags) error {
	rec.Annotate("header")
	raw := uint8(flags)
	if err := recorder.Read(rec, &raw); err != nil {
		return err
	}
	flags = recorder.StateFlags(raw)

	if flags.Has(recorder.StateGlobal) {
		rec.Annotate("global")
		g := globalState{w.stepCount, w.prevDT, w.Gravity}
		if err := recorder.Read(rec, &g); err != nil {
			return err
		}
		w.stepCount, w.prevDT, w.Gravity = g.Step, g.PrevDT, g.Gravity
	}

	if flags.Has(recorder.StateBodies) {
		if err := w.restoreBodies(rec); err != nil {
			return err
		}
	}
	if flags.Has(recorder.StateContacts) {
		if err := w.restoreContacts(rec); err != nil {
			return err
		}
	}
	if flags.Has(recorder.StateConstraints) {
		if err := w.restoreConstraints(rec); err != nil {
			return err
		}
	}
	return nil
}

func (w *World) restoreBodies(rec recorder.Recorder) error {
	bodies := w.includedBodies(rec)
	rec.Annotate("bodies")
	n := uint32(len(bodies))
	if err := recorder.Read(rec, &n); err != nil {
		return err
	}
	if int(n) != len(bodies) {
		return fmt.Errorf("sim: recording holds %d bodies, filter selects %d: %w", n, len(bodies), recorder.ErrPredicateInstability)
	}
	for _, b := range bodies {
		rec.Annotate(fmt.Sprintf("body %d", b.id))
		s := b.state()
		if err := recorder.Read(rec, &s); err != nil {
			return err
		}
		target := w.byID[recorder.BodyID(s.ID)]
		if target == nil {
			return fmt.Errorf("sim: recording references unknown body %d", s.ID)
		}
		target.apply(s)
	}
	return nil
}

func (w *World) restoreContacts(rec recorder.Recorder) error {
	live, excluded := w.splitContacts(rec)
	rec.Annotate("contacts")
	n := uint32(len(live))
	if err := recorder.Read(rec, &n); err != nil {
		return err
	}

	restored := make([]Contact, 0, min(int(n), len(live)))
	for i := 0; i < int(n); i++ {
		var s contactState
		if i < len(live) {
			s = live[i].state()
			rec.Annotate(fmt.Sprintf("contact %d-%d", live[i].Body1, live[i].Body2))
		} else {
			rec.Annotate(fmt.Sprintf("contact #%d", i))
		}
		if err := recorder.Read(rec, &s); err != nil {
			return err
		}
		restored = append(restored, s.contact())
	}

	merged := append(excluded, restored...)
	sort.Slice(merged, func(i, j int) bool { return merged[i].less(merged[j]) })
	w.contacts = merged
	return nil
}

func (w *World) restoreConstraints(rec recorder.Recorder) error {
	constraints := w.includedConstraints(rec)
	rec.Annotate("constraints")
	n := uint32(len(constraints))
	if err := recorder.Read(rec, &n); err != nil {
		return err
	}
	if int(n) != len(constraints) {
		return fmt.Errorf("sim: recording holds %d constraints, filter selects %d: %w", n, len(constraints), recorder.ErrPredicateInstability)
	}
	for _, c := range constraints {
		rec.Annotate(fmt.Sprintf("constraint %d", c.id))
		s := constraintState{c.id, c.Lambda}
		if err := recorder.Read(rec, &s); err != nil {
			return err
		}
		target := w.constraint(s.ID)
		if target == nil {
			return fmt.Errorf("sim: recording references unknown constraint %d", s.ID)
		}
		target.Lambda = s.Lambda
	}
	return nil
}

func (w *World) constraint(id uint32) *DistanceConstraint {
	i := sort.Search(len(w.constraints), func(i int) bool { return w.constraints[i].id >= id })
	if i < len(w.constraints) && w.constraints[i].id == id {
		return w.constraints[i]
	}
	return nil
}

// Clone returns a deep copy of the world.
func (w *World) Clone() *World {
	c := &World{
		Gravity:          w.Gravity,
		Iterations:       w.Iterations,
		byID:             make(map[recorder.BodyID]*Body, len(w.bodies)),
		contacts:         w.Contacts(),
		stepCount:        w.stepCount,
		prevDT:           w.prevDT,
		nextBodyID:       w.nextBodyID,
		nextConstraintID: w.nextConstraintID,
	}
	for _, b := range w.bodies {
		nb := *b
		c.bodies = append(c.bodies, &nb)
		c.byID[nb.id] = &nb
	}
	for _, dc := range w.constraints {
		ndc := *dc
		c.constraints = append(c.constraints, &ndc)
	}
	return c
}
