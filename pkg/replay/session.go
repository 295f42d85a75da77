package replay

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/willibrandon/ChronoState/pkg/recorder"
	"github.com/willibrandon/ChronoState/pkg/snapshot"
)

const tracerName = "github.com/willibrandon/ChronoState/pkg/replay"

// Summary describes a capture or validation run.
type Summary struct {
	Session        string               `json:"session"`
	Steps          int                  `json:"steps"`
	BytesCaptured  int64                `json:"bytes_captured"`
	BytesValidated int64                `json:"bytes_validated"`
	Divergences    int                  `json:"divergences"`
	PerObject      map[string]int       `json:"per_object,omitempty"`
	First          *recorder.Divergence `json:"first,omitempty"`
}

// Clean reports whether the run found no divergences.
func (s Summary) Clean() bool {
	return s.Divergences == 0
}

func (s *Summary) add(divs []recorder.Divergence) {
	for i := range divs {
		if s.First == nil {
			d := divs[i]
			s.First = &d
		}
		if s.PerObject == nil {
			s.PerObject = make(map[string]int)
		}
		s.PerObject[divs[i].Object]++
		s.Divergences++
	}
}

// Session captures a simulation run into a store, one snapshot per step, and
// later validates another run against it. Step 0 is the initial state.
type Session struct {
	ID string

	// OnStep, if set, runs after each simulation step during Validate and
	// before the step is compared with the recording.
	OnStep func(step uint64, sim Simulation)

	store snapshot.Store
	opts  Options
}

// NewSession creates a session over store.
func NewSession(id string, store snapshot.Store, opts Options) *Session {
	return &Session{
		ID:    id,
		store: store,
		opts:  opts.normalize(),
	}
}

// Capture stores the initial state of sim, then steps it steps times and
// stores the state after every step.
func (s *Session) Capture(ctx context.Context, sim Simulation, steps int, dt float32) (Summary, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "replay.Capture",
		trace.WithAttributes(
			attribute.String("session.id", s.ID),
			attribute.Int("steps", steps),
			attribute.String("flags", s.opts.Flags.String()),
		),
	)
	defer span.End()

	summary := Summary{Session: s.ID}
	for step := 0; step <= steps; step++ {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		if step > 0 {
			sim.Step(dt)
		}
		n, err := s.captureStep(ctx, sim, uint64(step))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "capture failed")
			return summary, err
		}
		summary.BytesCaptured += n
		summary.Steps = step
	}

	span.SetAttributes(attribute.Int64("bytes", summary.BytesCaptured))
	s.opts.Logger.Printf("captured session %s: %d steps, %d bytes", s.ID, summary.Steps, summary.BytesCaptured)
	return summary, nil
}

func (s *Session) captureStep(ctx context.Context, sim Simulation, step uint64) (int64, error) {
	rec, buf := recorder.NewBuffered(s.opts.recorderOptions()...)
	rec.BeginPass()
	if err := sim.SaveState(rec, s.opts.Flags); err != nil {
		return 0, fmt.Errorf("save step %d: %w", step, err)
	}
	if err := s.store.Put(ctx, snapshot.New(s.ID, step, s.opts.Flags, buf.Bytes())); err != nil {
		return 0, fmt.Errorf("store step %d: %w", step, err)
	}
	s.opts.Metrics.IncPass("capture")
	return rec.BytesWritten(), nil
}

// Validate restores the recorded initial state into sim, then steps it and
// validates every following recorded step. The simulation is corrected to
// the recording after each step, so a divergence is reported at the step
// where it first appears. A steps value of zero or less validates every
// stored step.
func (s *Session) Validate(ctx context.Context, sim Simulation, steps int, dt float32) (Summary, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "replay.Validate",
		trace.WithAttributes(
			attribute.String("session.id", s.ID),
			attribute.Int("steps", steps),
		),
	)
	defer span.End()

	summary, err := s.validate(ctx, sim, steps, dt, span)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "validation failed")
		return summary, err
	}

	span.SetAttributes(
		attribute.Int64("bytes", summary.BytesValidated),
		attribute.Int("divergences", summary.Divergences),
	)
	if !summary.Clean() {
		span.SetStatus(codes.Error, "divergence detected")
	}
	return summary, nil
}

func (s *Session) validate(ctx context.Context, sim Simulation, steps int, dt float32, span trace.Span) (Summary, error) {
	summary := Summary{Session: s.ID}

	stored, err := s.store.Steps(ctx, s.ID)
	if err != nil {
		return summary, fmt.Errorf("list steps of session %s: %w", s.ID, err)
	}
	if len(stored) == 0 || stored[0] != 0 {
		return summary, fmt.Errorf("session %s has no initial state", s.ID)
	}
	last := stored[len(stored)-1]
	if steps > 0 {
		if uint64(steps) > last {
			return summary, fmt.Errorf("session %s has %d steps, asked for %d", s.ID, last, steps)
		}
		last = uint64(steps)
	}

	initial, err := s.load(ctx, 0)
	if err != nil {
		return summary, err
	}
	rec := recorder.New(nil, initial.Source(), s.opts.recorderOptions()...)
	rec.BeginPass()
	if err := sim.RestoreState(rec, initial.Flags); err != nil {
		return summary, fmt.Errorf("restore initial state: %w", err)
	}
	s.opts.Metrics.IncPass("restore")

	for step := uint64(1); step <= last; step++ {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		snap, err := s.load(ctx, step)
		if err != nil {
			return summary, err
		}

		sim.Step(dt)
		if s.OnStep != nil {
			s.OnStep(step, sim)
		}

		divs, n, err := s.validateStep(sim, snap)
		if err != nil {
			return summary, err
		}
		summary.Steps = int(step)
		summary.BytesValidated += n
		if len(divs) > 0 {
			summary.add(divs)
			span.AddEvent("divergence", trace.WithAttributes(
				attribute.Int64("step", int64(step)),
				attribute.Int("count", len(divs)),
				attribute.String("object", divs[0].Object),
			))
			s.opts.Logger.Printf("session %s step %d: %d divergences, first at %q", s.ID, step, len(divs), divs[0].Object)
		}
	}
	return summary, nil
}

func (s *Session) load(ctx context.Context, step uint64) (snapshot.Snapshot, error) {
	snap, err := s.store.Get(ctx, s.ID, step)
	if err != nil {
		return snap, fmt.Errorf("load step %d: %w", step, err)
	}
	if err := snap.Verify(); err != nil {
		return snap, err
	}
	return snap, nil
}

// validateStep validates sim against one snapshot. Divergences carry the step
// number as their pass.
func (s *Session) validateStep(sim Simulation, snap snapshot.Snapshot) ([]recorder.Divergence, int64, error) {
	step := int(snap.Step)
	report := recorder.ReporterFunc(func(d recorder.Divergence) {
		d.Pass = step
		if s.opts.Reporter != nil {
			s.opts.Reporter.Report(d)
		}
	})

	rec := recorder.New(nil, snap.Source(), s.opts.recorderOptions(
		recorder.WithMode(recorder.Mode{Validating: true}),
		recorder.WithReporter(report),
	)...)
	rec.BeginPass()
	if err := sim.RestoreState(rec, snap.Flags); err != nil {
		return nil, 0, fmt.Errorf("validate step %d: %w", step, err)
	}
	s.opts.Metrics.IncPass("validate")

	divs := rec.Divergences()
	for i := range divs {
		divs[i].Pass = step
	}
	return divs, rec.BytesRead(), nil
}
