package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/willibrandon/ChronoState/pkg/filter"
	"github.com/willibrandon/ChronoState/pkg/metrics"
	"github.com/willibrandon/ChronoState/pkg/recorder"
	"github.com/willibrandon/ChronoState/pkg/replay"
	"github.com/willibrandon/ChronoState/pkg/sim"
	"github.com/willibrandon/ChronoState/pkg/snapshot"
)

// worldFlags are the demo world settings shared by capture, validate and check.
type worldFlags struct {
	bodies int
	steps  int
	dt     float32
}

func (f *worldFlags) register(cmd *cobra.Command, steps int) {
	cmd.Flags().IntVar(&f.bodies, "bodies", 6, "number of dynamic bodies in the demo world")
	cmd.Flags().IntVar(&f.steps, "steps", steps, "number of simulation steps")
	cmd.Flags().Float32Var(&f.dt, "dt", 1.0/60, "simulation time step in seconds")
}

func (f *worldFlags) validate() error {
	if f.bodies < 1 {
		return fmt.Errorf("--bodies must be at least 1")
	}
	if f.steps < 0 {
		return fmt.Errorf("--steps must not be negative")
	}
	if f.dt <= 0 {
		return fmt.Errorf("--dt must be positive")
	}
	return nil
}

// replayOptions builds the filter, policy and reporter chain from the config.
func (a *app) replayOptions(m *metrics.Metrics, reporters ...recorder.Reporter) (replay.Options, error) {
	f, err := filter.FromConfig(a.cfg.Filter, a.logger)
	if err != nil {
		return replay.Options{}, err
	}
	policy, err := recorder.ParsePolicy(a.cfg.Validation.Policy)
	if err != nil {
		return replay.Options{}, err
	}

	all := []recorder.Reporter{recorder.LogReporter(a.logger)}
	all = append(all, reporters...)

	return replay.Options{
		Recorder: []recorder.Option{
			recorder.WithFilter(f),
			recorder.WithPolicy(policy),
			recorder.WithLogger(a.logger),
		},
		Reporter: recorder.MultiReporter(all...),
		Metrics:  m,
		Logger:   a.logger,
	}, nil
}

func (a *app) openStore() (snapshot.Store, error) {
	store, err := snapshot.Open(a.cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", a.cfg.Store.Backend, err)
	}
	return store, nil
}

// perturb nudges a body so validation has something to find.
func perturb(b *sim.Body) {
	b.Position.Y += 0.01
	b.Wake()
}
