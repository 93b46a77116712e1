// Package cli implements the devicesim command line: validating and
// running scenarios, seeding environments from profiles, and replaying
// recorded traces.
package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/cobra"
)

// EnvConfig carries environment-variable defaults for the global
// flags, under the DEVSIM_ prefix (DEVSIM_FORMAT, DEVSIM_VERBOSE).
// Flags always win over the environment.
type EnvConfig struct {
	Format  string `default:"text"`
	Verbose bool   `default:"false"`
}

// RootOptions holds global flags shared by all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "text" | "json"

	Logger *slog.Logger
}

// ValidFormats lists the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the devicesim root command.
func NewRootCommand() *cobra.Command {
	var env EnvConfig
	if err := envconfig.Process("devsim", &env); err != nil {
		// Unparseable environment falls back to defaults.
		env = EnvConfig{Format: "text"}
	}

	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "devicesim",
		Short: "Simulated device environment for agent scenarios",
		Long: `devicesim drives a simulated multi-modality device - calendar, chat,
email, sms, location, weather - on a virtual clock, for deterministic
agent scenario testing.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			opts.Logger = newLogger(cmd.ErrOrStderr(), opts.Verbose)
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", env.Verbose, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", env.Format, "output format (json|text)")

	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewSeedCommand(opts))
	cmd.AddCommand(NewReplayCommand(opts))

	return cmd
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

// newLogger builds the command logger: debug to stderr when verbose,
// otherwise discard.
func newLogger(stderr io.Writer, verbose bool) *slog.Logger {
	if !verbose {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return GetExitCode(err)
	}
	return ExitSuccess
}
