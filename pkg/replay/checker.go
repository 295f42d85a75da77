package replay

import (
	"fmt"

	"github.com/willibrandon/ChronoState/pkg/recorder"
)

// CheckResult is the outcome of one determinism check.
type CheckResult struct {
	Step        int
	Divergences []recorder.Divergence
	Bytes       int64
}

// Checker tests that stepping a simulation twice from the same state gives
// the same result.
type Checker struct {
	opts Options
}

// NewChecker creates a Checker.
func NewChecker(opts Options) *Checker {
	return &Checker{opts: opts.normalize()}
}

// Check saves the state, steps, saves the result, restores the first state,
// steps again and validates the second result against the first. The
// simulation is left in the recorded post-step state.
func (c *Checker) Check(sim Simulation, dt float32) (CheckResult, error) {
	before, beforeBuf := recorder.NewBuffered(c.opts.recorderOptions()...)
	before.BeginPass()
	if err := sim.SaveState(before, c.opts.Flags); err != nil {
		return CheckResult{}, fmt.Errorf("save initial state: %w", err)
	}

	sim.Step(dt)

	after, afterBuf := recorder.NewBuffered(c.opts.recorderOptions()...)
	after.BeginPass()
	if err := sim.SaveState(after, c.opts.Flags); err != nil {
		return CheckResult{}, fmt.Errorf("save stepped state: %w", err)
	}
	c.opts.Metrics.IncPass("capture")

	beforeBuf.Rewind()
	if err := sim.RestoreState(before, c.opts.Flags); err != nil {
		return CheckResult{}, fmt.Errorf("restore initial state: %w", err)
	}
	c.opts.Metrics.IncPass("restore")

	sim.Step(dt)

	afterBuf.Rewind()
	after.SetValidating(true)
	after.BeginPass()
	if err := sim.RestoreState(after, c.opts.Flags); err != nil {
		return CheckResult{}, fmt.Errorf("validate stepped state: %w", err)
	}
	c.opts.Metrics.IncPass("validate")

	return CheckResult{
		Divergences: after.Divergences(),
		Bytes:       after.BytesRead(),
	}, nil
}

// Run performs steps consecutive checks and returns the ones that diverged.
func (c *Checker) Run(sim Simulation, dt float32, steps int) ([]CheckResult, error) {
	var failed []CheckResult
	for i := 0; i < steps; i++ {
		res, err := c.Check(sim, dt)
		if err != nil {
			return failed, fmt.Errorf("step %d: %w", i, err)
		}
		res.Step = i
		if len(res.Divergences) > 0 {
			c.opts.Logger.Printf("step %d: %d divergences, first at %s", i, len(res.Divergences), res.Divergences[0].Object)
			failed = append(failed, res)
		}
	}
	return failed, nil
}
