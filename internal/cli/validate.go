package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/mirrorlab/devicesim/internal/harness"
	"github.com/mirrorlab/devicesim/internal/seed"
)

// FileResult is the validation outcome for one file.
type FileResult struct {
	Path  string `json:"path"`
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}

// NewValidateCommand creates the validate command. It checks seed
// profiles (.cue) and scenarios (.yaml/.yml) without running anything.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>...",
		Short: "Validate seed profiles and scenario files",
		Long: `Validate seed profiles (.cue) and scenarios (.yaml, .yml).

Exit codes:
  0 - all files valid
  1 - one or more files invalid
  2 - command error`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			results := make([]FileResult, 0, len(args))
			invalid := 0

			for _, path := range args {
				res := FileResult{Path: path, Valid: true}
				if err := validateFile(path); err != nil {
					res.Valid = false
					res.Error = err.Error()
					invalid++
				}
				results = append(results, res)
			}

			if rootOpts.Format == "json" {
				if err := writeJSON(cmd.OutOrStdout(), results); err != nil {
					return err
				}
			} else {
				for _, res := range results {
					if res.Valid {
						fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", passMark("ok"), res.Path)
					} else {
						fmt.Fprintf(cmd.OutOrStdout(), "%s %s: %s\n", failMark("invalid"), res.Path, res.Error)
					}
				}
			}

			if invalid > 0 {
				return NewExitError(ExitFailure, fmt.Sprintf("%d of %d files invalid", invalid, len(args)))
			}
			return nil
		},
	}
}

func validateFile(path string) error {
	switch filepath.Ext(path) {
	case ".cue":
		_, err := seed.Load(path)
		return err
	case ".yaml", ".yml":
		_, err := harness.LoadScenario(path)
		return err
	default:
		return fmt.Errorf("unsupported file type %q (want .cue, .yaml, .yml)", filepath.Ext(path))
	}
}
