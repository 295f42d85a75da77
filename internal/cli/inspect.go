package cli

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/willibrandon/ChronoState/pkg/recorder"
	"github.com/willibrandon/ChronoState/pkg/snapshot"
)

type stepInfo struct {
	Step     uint64              `json:"step"`
	Size     int                 `json:"size"`
	Flags    recorder.StateFlags `json:"flags"`
	Checksum string              `json:"checksum"`
	Status   string              `json:"status"`
}

func newInspectCmd(a *app) *cobra.Command {
	var session string

	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "List stored sessions, or the steps of one session",
		Example: `  chronostate inspect
  chronostate inspect --session nightly --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			if session == "" {
				sessions, err := store.Sessions(ctx)
				if err != nil {
					return err
				}
				if a.jsonOut {
					return writeJSON(cmd.OutOrStdout(), map[string]any{"sessions": sessions})
				}
				for _, s := range sessions {
					fmt.Fprintln(cmd.OutOrStdout(), s)
				}
				return nil
			}

			steps, err := store.Steps(ctx, session)
			if err != nil {
				return fmt.Errorf("session %s: %w", session, err)
			}
			infos := make([]stepInfo, 0, len(steps))
			corrupt := 0
			for _, step := range steps {
				info := stepInfo{Step: step, Status: "ok"}
				snap, err := store.Get(ctx, session, step)
				if err == nil {
					err = snap.Verify()
				}
				switch {
				case err == nil:
				case errors.Is(err, snapshot.ErrIntegrity):
					info.Status = "corrupt"
					corrupt++
				default:
					return err
				}
				info.Size, info.Flags, info.Checksum = snap.Size(), snap.Flags, snap.Checksum
				infos = append(infos, info)
			}

			if a.jsonOut {
				if err := writeJSON(cmd.OutOrStdout(), map[string]any{"session": session, "steps": infos}); err != nil {
					return err
				}
			} else {
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "STEP\tSIZE\tFLAGS\tCHECKSUM\tSTATUS")
				for _, info := range infos {
					sum := info.Checksum
					if len(sum) > 12 {
						sum = sum[:12]
					}
					fmt.Fprintf(tw, "%d\t%d\t%s\t%s\t%s\n", info.Step, info.Size, info.Flags, sum, info.Status)
				}
				if err := tw.Flush(); err != nil {
					return err
				}
			}
			if corrupt > 0 {
				return fmt.Errorf("%d of %d steps failed verification: %w", corrupt, len(infos), snapshot.ErrIntegrity)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&session, "session", "", "session to inspect (default: list sessions)")
	return cmd
}
