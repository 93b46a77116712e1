package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mirrorlab/devicesim/internal/trace"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Start string
}

// ReplaySummary is the replay command's report.
type ReplaySummary struct {
	Trace     string `json:"trace"`
	Events    int    `json:"events"`
	StateHash string `json:"state_hash"`
	ClockTime string `json:"clock_time"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay <trace.db>",
		Short: "Rebuild an environment from a recorded trace",
		Long: `Rebuild an environment by replaying a recorded mutation trace.

Events apply in recorded order against a fresh environment started at
the given instant. The reported state hash matches the hash of the
environment that produced the trace when the start instants agree.

Examples:
  devicesim replay session.db --start 2024-05-06T09:00:00Z
  devicesim replay session.db --start 2024-05-06T09:00:00Z --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return replayTrace(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Start, "start", "", "clock start instant, RFC 3339 (required)")
	_ = cmd.MarkFlagRequired("start")

	return cmd
}

func replayTrace(opts *ReplayOptions, path string, cmd *cobra.Command) error {
	start, err := time.Parse(time.RFC3339, opts.Start)
	if err != nil {
		return NewExitError(ExitCommandError, fmt.Sprintf("invalid --start %q: must be RFC 3339", opts.Start))
	}

	log, err := trace.Open(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "open trace", err)
	}
	defer log.Close()

	ctx := cmd.Context()

	count, err := log.Len(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "read trace", err)
	}
	opts.Logger.Debug("replaying trace", "path", path, "events", count)

	env, err := trace.Replay(ctx, log, start)
	if err != nil {
		return WrapExitError(ExitFailure, "replay trace", err)
	}

	state := env.State()
	hash, err := state.CanonicalHash()
	if err != nil {
		return WrapExitError(ExitCommandError, "hash state", err)
	}

	summary := ReplaySummary{
		Trace:     path,
		Events:    count,
		StateHash: hash,
		ClockTime: state.Clock.CurrentTime.Format(time.RFC3339Nano),
	}

	if opts.Format == "json" {
		return writeJSON(cmd.OutOrStdout(), summary)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s %s\n", passMark("OK"), path)
	fmt.Fprintf(out, "  events     %d\n", summary.Events)
	fmt.Fprintf(out, "  clock      %s\n", summary.ClockTime)
	fmt.Fprintf(out, "  state hash %s\n", dimText(summary.StateHash))
	return nil
}
