package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/mirrorlab/devicesim/internal/harness"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Filter string
}

// ScenarioResult is one scenario's outcome in the run report.
type ScenarioResult struct {
	Name      string   `json:"name"`
	Path      string   `json:"path"`
	Pass      bool     `json:"pass"`
	StateHash string   `json:"state_hash,omitempty"`
	Failures  []string `json:"failures,omitempty"`
}

// RunReport is the overall run outcome.
type RunReport struct {
	Scenarios []ScenarioResult `json:"scenarios"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
	Total     int              `json:"total"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <scenarios-dir>",
		Short: "Run scenario files against fresh environments",
		Long: `Run every scenario in a directory, newest environment each.

Each scenario runs in its own environment with a deterministic clock
and sequential ids, so state hashes are reproducible across runs.

Exit codes:
  0 - all scenarios passed
  1 - one or more scenarios failed
  2 - command error

Examples:
  devicesim run ./scenarios
  devicesim run ./scenarios --filter "morning-*"
  devicesim run ./scenarios --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenarios(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Filter, "filter", "", "filter scenarios by name glob")

	return cmd
}

func runScenarios(opts *RunOptions, dir string, cmd *cobra.Command) error {
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return NewExitError(ExitCommandError, fmt.Sprintf("scenarios directory not found: %s", dir))
	}

	files, err := findScenarioFiles(dir)
	if err != nil {
		return WrapExitError(ExitCommandError, "scan scenarios", err)
	}
	if len(files) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No scenarios found.")
		return nil
	}

	report := RunReport{Scenarios: make([]ScenarioResult, 0, len(files))}

	for _, path := range files {
		sc, err := harness.LoadScenario(path)
		if err != nil {
			report.Scenarios = append(report.Scenarios, ScenarioResult{
				Path: path, Pass: false, Failures: []string{err.Error()},
			})
			report.Failed++
			report.Total++
			continue
		}
		if opts.Filter != "" {
			if match, _ := filepath.Match(opts.Filter, sc.Name); !match {
				continue
			}
		}

		report.Total++
		opts.Logger.Debug("running scenario", "name", sc.Name, "path", path)

		result, err := harness.Run(sc,
			harness.WithBaseDir(filepath.Dir(path)),
			harness.WithLogger(opts.Logger),
		)
		if err != nil {
			report.Scenarios = append(report.Scenarios, ScenarioResult{
				Name: sc.Name, Path: path, Pass: false, Failures: []string{err.Error()},
			})
			report.Failed++
			continue
		}

		report.Scenarios = append(report.Scenarios, ScenarioResult{
			Name:      sc.Name,
			Path:      path,
			Pass:      result.Passed,
			StateHash: result.StateHash,
			Failures:  result.Failures,
		})
		if result.Passed {
			report.Passed++
		} else {
			report.Failed++
		}
	}

	if opts.Format == "json" {
		if err := writeJSON(cmd.OutOrStdout(), report); err != nil {
			return err
		}
	} else {
		printRunReport(cmd, report)
	}

	if report.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d scenarios failed", report.Failed, report.Total))
	}
	return nil
}

func printRunReport(cmd *cobra.Command, report RunReport) {
	out := cmd.OutOrStdout()
	for _, sc := range report.Scenarios {
		if sc.Pass {
			fmt.Fprintf(out, "%s %s %s\n", passMark("PASS"), sc.Name, dimText(sc.StateHash[:12]))
			continue
		}
		fmt.Fprintf(out, "%s %s\n", failMark("FAIL"), sc.Name)
		for _, f := range sc.Failures {
			fmt.Fprintf(out, "    %s\n", f)
		}
	}
	fmt.Fprintf(out, "\n%d passed, %d failed, %d total\n", report.Passed, report.Failed, report.Total)
}

func findScenarioFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		if ext := filepath.Ext(path); ext == ".yaml" || ext == ".yml" {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}
