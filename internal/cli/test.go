package cli

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/tablesync/internal/harness"
)

// TestOptions holds flags for the test command.
type TestOptions struct {
	Update    bool   // regenerate golden files
	Filter    string // scenario filter (glob pattern)
	GoldenDir string // golden file directory; empty disables golden comparison
}

// NewTestCommand creates the test command.
func NewTestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TestOptions{}

	cmd := &cobra.Command{
		Use:   "test <scenarios>",
		Short: "Run scenario files against a simulated switch",
		Long: `Run YAML scenarios against an in-memory database and a simulated switch.

<scenarios> is a scenario file or a directory searched recursively for
.yaml and .yml files. Each scenario names its own program and P4Info.
With --golden-dir each run's trace and final state are also compared with
{golden-dir}/{scenario name}.golden.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (invalid paths, etc.)

Examples:
  tablesync test ./scenarios
  tablesync test ./scenarios --filter "l2*"
  tablesync test ./scenarios --golden-dir ./golden --update
  tablesync test ./scenarios --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTests(rootOpts, opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Update, "update", false, "regenerate golden files")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "filter scenarios by glob pattern on the file name")
	cmd.Flags().StringVar(&opts.GoldenDir, "golden-dir", "", "compare runs with golden files in this directory")

	return cmd
}

func runTests(rootOpts *RootOptions, opts *TestOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(rootOpts, cmd)

	if opts.Update && opts.GoldenDir == "" {
		return formatter.fail(ErrCodeGeneric, "--update requires --golden-dir", nil)
	}

	files, err := harness.FindScenarios(path)
	if err != nil {
		return formatter.fail(ErrCodeNotFound, "failed to find scenarios", err)
	}
	files, err = filterScenarios(files, opts.Filter)
	if err != nil {
		return formatter.fail(ErrCodeGeneric, "invalid filter pattern", err)
	}

	var hopts []harness.Option
	if opts.GoldenDir != "" {
		hopts = append(hopts, harness.WithGoldenDir(opts.GoldenDir, opts.Update))
	}
	if rootOpts.Verbose {
		hopts = append(hopts, harness.WithLogger(newLogger(rootOpts, formatter.ErrWriter)))
	}

	formatter.VerboseLog("Running %d scenario(s)", len(files))
	result := harness.RunSuite(files, hopts...)

	if formatter.Format == "json" {
		if result.Failed > 0 {
			_ = formatter.Failure(ErrCodeGeneric, fmt.Sprintf("%d scenario(s) failed", result.Failed), result)
		} else if err := formatter.Success(result); err != nil {
			return err
		}
	} else {
		printSuiteResult(formatter, result)
	}

	if result.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d scenario(s) failed", result.Failed, result.TotalScenarios))
	}
	return nil
}

// filterScenarios keeps files whose name, without extension, matches the
// glob pattern. An empty pattern keeps everything.
func filterScenarios(files []string, pattern string) ([]string, error) {
	if pattern == "" {
		return files, nil
	}
	var kept []string
	for _, f := range files {
		base := filepath.Base(f)
		matched, err := filepath.Match(pattern, strings.TrimSuffix(base, filepath.Ext(base)))
		if err != nil {
			return nil, err
		}
		if matched {
			kept = append(kept, f)
		}
	}
	return kept, nil
}

func printSuiteResult(formatter *OutputFormatter, result *harness.SuiteResult) {
	w := formatter.Writer
	if result.TotalScenarios == 0 {
		fmt.Fprintln(w, "No scenarios found.")
		return
	}
	for _, name := range result.PassedNames {
		fmt.Fprintf(w, "✓ %s\n", name)
	}
	for _, f := range result.Failures {
		name := f.Name
		if name == "" {
			name = f.ScenarioPath
		}
		fmt.Fprintf(w, "✗ %s\n", name)
		for _, e := range f.Errors {
			fmt.Fprintf(w, "  %s\n", e)
		}
	}
	fmt.Fprintf(w, "\n%d passed, %d failed, %d total\n", result.Passed, result.Failed, result.TotalScenarios)
}
