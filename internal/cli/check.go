package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/willibrandon/ChronoState/pkg/replay"
	"github.com/willibrandon/ChronoState/pkg/sim"
)

func newCheckCmd(a *app) *cobra.Command {
	var world worldFlags

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check that the demo world is deterministic within one process",
		Long: `For every step, saves the state, steps, restores the saved state,
steps again and validates the second result against the first. Any
difference means the step depends on something outside the recorded state.`,
		Example: `  chronostate check --steps 600 --bodies 20`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := world.validate(); err != nil {
				return err
			}
			opts, err := a.replayOptions(nil)
			if err != nil {
				return err
			}

			failed, err := replay.NewChecker(opts).Run(sim.NewDemoWorld(world.bodies), world.dt, world.steps)
			if err != nil {
				return err
			}

			if a.jsonOut {
				if err := writeJSON(cmd.OutOrStdout(), map[string]any{
					"steps":  world.steps,
					"failed": failed,
				}); err != nil {
					return err
				}
			} else {
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Checked %d steps, %d nondeterministic\n", world.steps, len(failed))
				for _, res := range failed {
					fmt.Fprintf(out, "  step %d: %d divergences, first in %s\n",
						res.Step, len(res.Divergences), res.Divergences[0].Object)
				}
			}
			if len(failed) > 0 {
				return ErrDivergence
			}
			return nil
		},
	}

	world.register(cmd, 120)
	return cmd
}
