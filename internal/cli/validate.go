package cli

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/willibrandon/ChronoState/pkg/recorder"
	"github.com/willibrandon/ChronoState/pkg/replay"
	"github.com/willibrandon/ChronoState/pkg/sim"
)

func newValidateCmd(a *app) *cobra.Command {
	var (
		world      worldFlags
		session    string
		injectStep uint64
		injectBody uint32
	)

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Replay the demo world and validate it against a captured session",
		Long: `Restores the captured initial state, steps the demo world again and
compares every step with the recording. Differences are reported with the
step and the object they belong to, then corrected so the replay keeps
following the recording.

--inject-step perturbs a body after the given step to show what a
divergence looks like. The command exits non-zero when anything diverged.`,
		Example: `  chronostate validate --session nightly
  chronostate validate --session nightly --inject-step 40 --inject-body 3`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if session == "" {
				return fmt.Errorf("--session is required")
			}
			if err := world.validate(); err != nil {
				return err
			}

			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			opts, err := a.replayOptions(nil)
			if err != nil {
				return err
			}

			w := sim.NewDemoWorld(world.bodies)
			s := replay.NewSession(session, store, opts)
			if injectStep > 0 {
				id := recorder.BodyID(injectBody)
				if w.Body(id) == nil {
					return fmt.Errorf("--inject-body: no body %d in the demo world", id)
				}
				s.OnStep = func(step uint64, live replay.Simulation) {
					if step == injectStep {
						perturb(live.(*sim.World).Body(id))
					}
				}
			}

			summary, err := s.Validate(cmd.Context(), w, world.steps, world.dt)
			if err != nil {
				return err
			}

			if a.jsonOut {
				if err := writeJSON(cmd.OutOrStdout(), summary); err != nil {
					return err
				}
			} else {
				printSummary(cmd, summary)
			}
			if !summary.Clean() {
				return ErrDivergence
			}
			return nil
		},
	}

	world.register(cmd, 0)
	cmd.Flags().StringVar(&session, "session", "", "session ID to validate against (required)")
	cmd.Flags().Uint64Var(&injectStep, "inject-step", 0, "perturb a body after this step (0 = never)")
	cmd.Flags().Uint32Var(&injectBody, "inject-body", 2, "body perturbed by --inject-step")

	return cmd
}

func printSummary(cmd *cobra.Command, summary replay.Summary) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Validated session %s\n", summary.Session)
	fmt.Fprintf(out, "  Steps:        %d\n", summary.Steps)
	fmt.Fprintf(out, "  Bytes:        %d\n", summary.BytesValidated)
	fmt.Fprintf(out, "  Divergences:  %d\n", summary.Divergences)
	if summary.Clean() {
		fmt.Fprintln(out, "\nReplay matches the recording.")
		return
	}

	objects := make([]string, 0, len(summary.PerObject))
	for obj := range summary.PerObject {
		objects = append(objects, obj)
	}
	sort.Strings(objects)
	fmt.Fprintln(out, "\n  Per object:")
	for _, obj := range objects {
		fmt.Fprintf(out, "    %-16s %d\n", obj, summary.PerObject[obj])
	}
	if d := summary.First; d != nil {
		fmt.Fprintf(out, "\nFirst divergence at step %d in %s (offset %d, byte %d of %d)\n",
			d.Pass, d.Object, d.Offset, d.FirstIndex, d.Length)
		fmt.Fprintf(out, "  recorded: %x\n  live:     %x\n", d.Expected, d.Actual)
	}
}
