package cli

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/lockprobe/internal/agent"
	"github.com/roach88/lockprobe/internal/harness"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Update bool   // regenerate golden files
	Filter string // scenario filter (glob pattern)
}

// ScenarioResult holds the result of a single scenario execution.
type ScenarioResult struct {
	Name   string   `json:"name"`
	Pass   bool     `json:"pass"`
	Errors []string `json:"errors,omitempty"`
}

// RunResult holds the overall result.
type RunResult struct {
	Scenarios []ScenarioResult `json:"scenarios"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
	Total     int              `json:"total"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <scenario-file|scenarios-dir>",
		Short: "Run lock scenarios against real agents",
		Long: `Run YAML lock scenarios. Each scenario gets its own agent process and
working directory.

A scenario with a golden file at golden/<name>.golden next to it must also
reproduce that trace exactly.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (invalid paths, etc.)

Examples:
  lockprobe run ./scenarios
  lockprobe run ./scenarios/lock_excludes_agent.yaml
  lockprobe run ./scenarios --filter "rollback_*"
  lockprobe run ./scenarios --update
  lockprobe run ./scenarios --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenarios(cmd.Context(), opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Update, "update", false, "regenerate golden files")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "filter scenarios by glob pattern")

	return cmd
}

func runScenarios(ctx context.Context, opts *RunOptions, target string, cmd *cobra.Command) error {
	info, err := os.Stat(target)
	if err != nil {
		return WrapExitError(ExitCommandError, "scenario path not found", err)
	}

	files := []string{target}
	if info.IsDir() {
		files, err = findScenarioFiles(target, opts.Filter)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to find scenarios", err)
		}
	}

	result := RunResult{
		Scenarios: make([]ScenarioResult, 0, len(files)),
		Total:     len(files),
	}
	for _, file := range files {
		sr := runScenario(ctx, file, opts, cmd)
		result.Scenarios = append(result.Scenarios, sr)
		if sr.Pass {
			result.Passed++
		} else {
			result.Failed++
		}
	}

	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}
	if err := formatter.Success(result); err != nil {
		return err
	}

	if result.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d scenarios failed", result.Failed, result.Total))
	}
	return nil
}

// String renders the text report.
func (r RunResult) String() string {
	if r.Total == 0 {
		return "No scenarios found."
	}
	var buf strings.Builder
	for _, s := range r.Scenarios {
		if s.Pass {
			fmt.Fprintf(&buf, "✓ %s\n", s.Name)
			continue
		}
		fmt.Fprintf(&buf, "✗ %s\n", s.Name)
		for _, e := range s.Errors {
			fmt.Fprintf(&buf, "  %s\n", e)
		}
	}
	fmt.Fprintf(&buf, "\n%d passed, %d failed, %d total", r.Passed, r.Failed, r.Total)
	return buf.String()
}

// findScenarioFiles finds all YAML scenario files directly in dir.
func findScenarioFiles(dir, filter string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		if filter != "" {
			matched, err := filepath.Match(filter, strings.TrimSuffix(entry.Name(), ext))
			if err != nil {
				return nil, fmt.Errorf("invalid filter pattern: %w", err)
			}
			if !matched {
				continue
			}
		}
		files = append(files, filepath.Join(dir, entry.Name()))
	}
	return files, nil
}

// runScenario executes a single scenario file.
func runScenario(ctx context.Context, file string, opts *RunOptions, cmd *cobra.Command) ScenarioResult {
	scenario, err := harness.LoadScenario(file)
	if err != nil {
		return ScenarioResult{
			Name:   filepath.Base(file),
			Errors: []string{fmt.Sprintf("failed to load scenario: %v", err)},
		}
	}

	result, err := harness.Run(ctx, scenario, harness.Config{
		Launcher: agent.Config{
			Args:   agentArgs,
			Stderr: cmd.ErrOrStderr(),
		},
		Logger: newLogger(opts.RootOptions, cmd.ErrOrStderr()),
	})
	if err != nil {
		return ScenarioResult{
			Name:   scenario.Name,
			Errors: []string{fmt.Sprintf("execution failed: %v", err)},
		}
	}

	sr := ScenarioResult{Name: scenario.Name, Pass: result.Pass, Errors: result.Errors}

	goldenPath := goldenFilePath(file)
	if opts.Update {
		if err := writeGolden(goldenPath, scenario.Name, result); err != nil {
			sr.Pass = false
			sr.Errors = append(sr.Errors, fmt.Sprintf("failed to update golden file: %v", err))
		}
		return sr
	}

	if err := compareGolden(goldenPath, scenario.Name, result); err != nil {
		sr.Pass = false
		sr.Errors = append(sr.Errors, err.Error())
	}
	return sr
}

// goldenFilePath returns the path to the golden file for a scenario file.
func goldenFilePath(scenarioFile string) string {
	base := filepath.Base(scenarioFile)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(filepath.Dir(scenarioFile), "golden", name+".golden")
}

func writeGolden(path, name string, result *harness.Result) error {
	data, err := harness.TraceSnapshot{ScenarioName: name, Trace: result.Trace}.Marshal()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create golden directory: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// compareGolden checks the trace against path. A missing golden file
// leaves the result to the scenario's assertions.
func compareGolden(path, name string, result *harness.Result) error {
	want, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("golden comparison failed: %w", err)
	}
	got, err := harness.TraceSnapshot{ScenarioName: name, Trace: result.Trace}.Marshal()
	if err != nil {
		return fmt.Errorf("golden comparison failed: %w", err)
	}
	if !bytes.Equal(bytes.TrimSpace(want), got) {
		return fmt.Errorf("trace does not match golden file (run with --update to regenerate)")
	}
	return nil
}
