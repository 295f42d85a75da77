package cli

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/willibrandon/ChronoState/pkg/config"
	"github.com/willibrandon/ChronoState/pkg/telemetry"
)

// ErrDivergence is returned by commands that found divergences, so the
// process exits non-zero.
var ErrDivergence = errors.New("divergence detected")

// app carries state shared by every subcommand.
type app struct {
	configPath string
	jsonOut    bool

	cfg      config.Config
	logger   *log.Logger
	shutdown telemetry.Shutdown
}

// NewRootCmd creates the root chronostate command.
func NewRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "chronostate",
		Short: "Record simulation state and validate replays against it",
		Long: `ChronoState records the state of a simulation step by step and
validates later runs against the recording. Every byte that differs is
reported, attributed to the object it belongs to, and corrected so the
replay keeps following the recording.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if a.shutdown == nil {
				return nil
			}
			return a.shutdown(context.Background())
		},
	}

	root.PersistentFlags().StringVar(&a.configPath, "config", "", "path to a YAML config file (default "+config.DefaultFile+" if present)")
	root.PersistentFlags().BoolVar(&a.jsonOut, "json", false, "output results as JSON (default when stdout is not a terminal)")

	root.AddCommand(
		newCaptureCmd(a),
		newValidateCmd(a),
		newCheckCmd(a),
		newInspectCmd(a),
		newServeCmd(a),
		newConfigCmd(a),
		newVersionCmd(a),
	)

	return root
}

func (a *app) init(cmd *cobra.Command) error {
	cfg, err := config.LoadFile(a.configPath)
	if err != nil {
		return err
	}
	a.cfg = cfg

	a.logger = log.New(io.Discard, "", 0)
	if cfg.Validation.Log {
		a.logger = log.New(cmd.ErrOrStderr(), "chronostate: ", log.LstdFlags)
	}

	if !cmd.Flags().Changed("json") {
		a.jsonOut = !isTerminal(cmd.OutOrStdout())
	}

	a.shutdown, err = telemetry.Setup(cmd.Context(), cfg.Telemetry.ServiceName, cfg.Telemetry.Endpoint)
	return err
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
