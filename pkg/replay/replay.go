// Package replay drives a simulation through capture, restore and
// validation: an in-memory timeline for stepping back, a same-process
// determinism checker, and sessions persisted in a snapshot store.
package replay

import (
	"io"
	"log"

	"github.com/willibrandon/ChronoState/pkg/metrics"
	"github.com/willibrandon/ChronoState/pkg/recorder"
)

// Simulation is a steppable world that serializes itself through a recorder.
type Simulation interface {
	Step(dt float32)
	SaveState(rec recorder.Recorder, flags recorder.StateFlags) error
	RestoreState(rec recorder.Recorder, flags recorder.StateFlags) error
}

// Options are shared by Timeline, Checker and Session.
type Options struct {
	// Flags selects the state sections. Zero means recorder.StateAll.
	Flags recorder.StateFlags

	// Recorder options applied to every recorder created, e.g. a filter,
	// reporter or policy.
	Recorder []recorder.Option

	// Reporter receives divergences found during validation.
	Reporter recorder.Reporter

	Metrics *metrics.Metrics
	Logger  *log.Logger
}

func (o Options) normalize() Options {
	if o.Flags == 0 {
		o.Flags = recorder.StateAll
	}
	if o.Logger == nil {
		o.Logger = log.New(io.Discard, "", 0)
	}
	return o
}

func (o Options) recorderOptions(extra ...recorder.Option) []recorder.Option {
	opts := make([]recorder.Option, 0, len(o.Recorder)+len(extra)+2)
	opts = append(opts, recorder.WithMetrics(o.Metrics), recorder.WithReporter(o.Reporter))
	opts = append(opts, o.Recorder...)
	return append(opts, extra...)
}
