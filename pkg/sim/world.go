// Package sim is a small deterministic rigid-sphere world. It serializes
// itself through a recorder.Recorder the way a physics engine does, and is
// used to exercise capture, restore and validation end to end.
package sim

import (
	"fmt"
	"sort"

	"github.com/willibrandon/ChronoState/pkg/recorder"
)

const (
	sleepSpeedSq    = 1e-4
	sleepTime       = 0.5
	warmStartFactor = 0.8
	baumgarte       = 0.2
	restitution     = 0.1
	groundFriction  = 0.98
)

// Body is a sphere.
type Body struct {
	id         recorder.BodyID
	static     bool
	layer      uint8
	sleeping   bool
	sleepTimer float32

	Position Vec3
	Velocity Vec3
	Radius   float32
	InvMass  float32
}

func (b *Body) ID() recorder.BodyID { return b.id }
func (b *Body) IsStatic() bool      { return b.static }
func (b *Body) IsSleeping() bool    { return b.sleeping }
func (b *Body) Layer() uint8        { return b.layer }

// Wake clears the sleeping state.
func (b *Body) Wake() {
	b.sleeping = false
	b.sleepTimer = 0
}

func (b *Body) active() bool { return !b.static && !b.sleeping }

// DistanceConstraint keeps two bodies at a fixed distance.
type DistanceConstraint struct {
	id           uint32
	body1, body2 recorder.BodyID

	Length float32
	Lambda float32 // accumulated impulse, warm-started across steps
}

func (c *DistanceConstraint) ID() uint32   { return c.id }
func (c *DistanceConstraint) Kind() string { return "distance" }
func (c *DistanceConstraint) Bodies() (recorder.BodyID, recorder.BodyID) {
	return c.body1, c.body2
}

// Contact is a cached sphere-sphere contact. Body1 < Body2.
type Contact struct {
	Body1, Body2 recorder.BodyID
	Normal       Vec3 // from Body1 towards Body2
	Impulse      float32
}

func (c Contact) less(o Contact) bool {
	if c.Body1 != o.Body1 {
		return c.Body1 < o.Body1
	}
	return c.Body2 < o.Body2
}

// BodySettings describes a body to add to a World.
type BodySettings struct {
	Position Vec3
	Velocity Vec3
	Radius   float32
	Mass     float32 // ignored for static bodies
	Static   bool
	Layer    uint8
}

// World holds bodies, constraints and the contact cache.
type World struct {
	Gravity    Vec3
	Iterations int

	bodies      []*Body // ascending ID
	byID        map[recorder.BodyID]*Body
	constraints []*DistanceConstraint // ascending ID
	contacts    []Contact             // ascending (Body1, Body2)

	stepCount uint64
	prevDT    float32

	nextBodyID       recorder.BodyID
	nextConstraintID uint32
}

// NewWorld creates an empty world with earth gravity.
func NewWorld() *World {
	return &World{
		Gravity:    Vec3{0, -9.81, 0},
		Iterations: 4,
		byID:       make(map[recorder.BodyID]*Body),
		nextBodyID: 1,
	}
}

// AddBody adds a body and returns it. IDs are assigned in creation order.
func (w *World) AddBody(s BodySettings) *Body {
	b := &Body{
		id:       w.nextBodyID,
		static:   s.Static,
		layer:    s.Layer,
		Position: s.Position,
		Velocity: s.Velocity,
		Radius:   s.Radius,
	}
	if !s.Static && s.Mass > 0 {
		b.InvMass = 1 / s.Mass
	}
	if s.Static {
		b.Velocity = Vec3{}
	}
	w.nextBodyID++
	w.bodies = append(w.bodies, b)
	w.byID[b.id] = b
	return b
}

// AddConstraint links two existing bodies at their current distance.
func (w *World) AddConstraint(body1, body2 recorder.BodyID) (*DistanceConstraint, error) {
	b1, b2 := w.byID[body1], w.byID[body2]
	if b1 == nil || b2 == nil {
		return nil, fmt.Errorf("sim: constraint between unknown bodies %d and %d", body1, body2)
	}
	w.nextConstraintID++
	c := &DistanceConstraint{
		id:     w.nextConstraintID,
		body1:  body1,
		body2:  body2,
		Length: b2.Position.Sub(b1.Position).Length(),
	}
	w.constraints = append(w.constraints, c)
	return c, nil
}

// Body returns the body with the given ID, or nil.
func (w *World) Body(id recorder.BodyID) *Body {
	return w.byID[id]
}

// Bodies returns the bodies in ID order.
func (w *World) Bodies() []*Body {
	return w.bodies
}

// Constraints returns the constraints in ID order.
func (w *World) Constraints() []*DistanceConstraint {
	return w.constraints
}

// Contacts returns a copy of the contact cache.
func (w *World) Contacts() []Contact {
	out := make([]Contact, len(w.contacts))
	copy(out, w.contacts)
	return out
}

// StepCount returns the number of steps taken.
func (w *World) StepCount() uint64 {
	return w.stepCount
}

// NewDemoWorld builds a deterministic scene: n spheres dropped onto a static
// sphere, with consecutive spheres chained by distance constraints.
func NewDemoWorld(n int) *World {
	w := NewWorld()
	w.AddBody(BodySettings{
		Position: Vec3{0, 1, 0},
		Radius:   1,
		Static:   true,
		Layer:    0,
	})
	for i := 0; i < n; i++ {
		x := float32(i%3)*0.45 - 0.45
		z := float32(i%2) * 0.3
		w.AddBody(BodySettings{
			Position: Vec3{x, 3 + float32(i)*1.1, z},
			Velocity: Vec3{float32(i%4) * 0.1, 0, 0},
			Radius:   0.5,
			Mass:     1 + float32(i%3),
			Layer:    1 + uint8(i%2),
		})
	}
	for i := 2; i <= n; i += 2 {
		w.AddConstraint(recorder.BodyID(i), recorder.BodyID(i+1))
	}
	return w
}

// Step advances the simulation by dt seconds.
func (w *World) Step(dt float32) {
	for _, b := range w.bodies {
		if b.active() {
			b.Velocity = b.Velocity.Add(w.Gravity.Scale(dt))
		}
	}

	w.detectContacts()
	w.warmStart()
	for i := 0; i < w.Iterations; i++ {
		w.solveContacts()
		w.solveConstraints(dt)
	}

	for _, b := range w.bodies {
		if !b.active() {
			continue
		}
		b.Position = b.Position.Add(b.Velocity.Scale(dt))
		if floor := b.Radius; b.Position.Y < floor {
			b.Position.Y = floor
			if b.Velocity.Y < 0 {
				b.Velocity.Y = -b.Velocity.Y * restitution
			}
			b.Velocity.X *= groundFriction
			b.Velocity.Z *= groundFriction
		}
		w.updateSleep(b, dt)
	}

	w.stepCount++
	w.prevDT = dt
}

func (w *World) updateSleep(b *Body, dt float32) {
	if b.Velocity.LengthSq() > sleepSpeedSq {
		b.sleepTimer = 0
		return
	}
	b.sleepTimer += dt
	if b.sleepTimer >= sleepTime {
		b.sleeping = true
		b.Velocity = Vec3{}
	}
}

func (w *World) detectContacts() {
	var next []Contact
	old := w.contacts
	for i, b1 := range w.bodies {
		for _, b2 := range w.bodies[i+1:] {
			if !b1.active() && !b2.active() {
				continue
			}
			d := b2.Position.Sub(b1.Position)
			r := b1.Radius + b2.Radius
			if d.LengthSq() >= r*r {
				continue
			}
			c := Contact{
				Body1:  b1.id,
				Body2:  b2.id,
				Normal: d.Normalized(Vec3{0, 1, 0}),
			}
			idx := sort.Search(len(old), func(k int) bool { return !old[k].less(c) })
			if idx < len(old) && old[idx].Body1 == c.Body1 && old[idx].Body2 == c.Body2 {
				c.Impulse = old[idx].Impulse * warmStartFactor
			}
			if b1.sleeping {
				b1.Wake()
			}
			if b2.sleeping {
				b2.Wake()
			}
			next = append(next, c)
		}
	}
	w.contacts = next
}

func (w *World) applyImpulse(b1, b2 *Body, impulse Vec3) {
	b1.Velocity = b1.Velocity.Sub(impulse.Scale(b1.InvMass))
	b2.Velocity = b2.Velocity.Add(impulse.Scale(b2.InvMass))
}

func (w *World) warmStart() {
	for _, c := range w.contacts {
		b1, b2 := w.byID[c.Body1], w.byID[c.Body2]
		w.applyImpulse(b1, b2, c.Normal.Scale(c.Impulse))
	}
	for _, c := range w.constraints {
		b1, b2 := w.byID[c.body1], w.byID[c.body2]
		n := b2.Position.Sub(b1.Position).Normalized(Vec3{0, 1, 0})
		w.applyImpulse(b1, b2, n.Scale(c.Lambda*warmStartFactor))
	}
}

func (w *World) solveContacts() {
	for i := range w.contacts {
		c := &w.contacts[i]
		b1, b2 := w.byID[c.Body1], w.byID[c.Body2]
		invMass := b1.InvMass + b2.InvMass
		if invMass == 0 {
			continue
		}
		vn := b2.Velocity.Sub(b1.Velocity).Dot(c.Normal)
		lambda := -(1 + restitution) * vn / invMass

		// Accumulated impulse may only push.
		prev := c.Impulse
		c.Impulse = max(prev+lambda, 0)
		w.applyImpulse(b1, b2, c.Normal.Scale(c.Impulse-prev))
	}
}

func (w *World) solveConstraints(dt float32) {
	if dt <= 0 {
		return
	}
	for _, c := range w.constraints {
		b1, b2 := w.byID[c.body1], w.byID[c.body2]
		invMass := b1.InvMass + b2.InvMass
		if invMass == 0 {
			continue
		}
		d := b2.Position.Sub(b1.Position)
		n := d.Normalized(Vec3{0, 1, 0})
		errPos := d.Length() - c.Length
		vn := b2.Velocity.Sub(b1.Velocity).Dot(n)
		lambda := -(vn + baumgarte/dt*errPos) / invMass
		c.Lambda += lambda
		w.applyImpulse(b1, b2, n.Scale(lambda))
		if lambda != 0 {
			b1.Wake()
			b2.Wake()
		}
	}
}
