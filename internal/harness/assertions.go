package harness

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/roach88/lockprobe/internal/store"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Trace    []TraceEvent
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nFull trace:\n")
	for _, event := range e.Trace {
		fmt.Fprintf(&buf, "  [%d] %s %s -> %s\n", event.Seq, event.Step, event.DB, event.Outcome)
	}

	return buf.String()
}

// EvaluateAssertions checks every assertion and returns the failure
// messages. dir is the scenario's working directory.
func EvaluateAssertions(ctx context.Context, result *Result, assertions []Assertion, dir string) []string {
	var failures []string
	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertFinalRows:
			err = assertFinalRows(ctx, filepath.Join(dir, a.DB), a, result.Trace)
		case AssertOutcomeCount:
			err = assertOutcomeCount(result.Trace, a)
		default:
			err = fmt.Errorf("unknown assertion type %q", a.Type)
		}
		if err != nil {
			failures = append(failures, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return failures
}

// assertFinalRows counts committed probe rows in the database.
func assertFinalRows(ctx context.Context, path string, a Assertion, trace []TraceEvent) error {
	s, err := store.Open(path, store.Config{})
	if err != nil {
		return fmt.Errorf("final_rows %s: %w", a.DB, err)
	}
	defer s.Close()

	count, err := s.Count(ctx)
	if err != nil {
		return fmt.Errorf("final_rows %s: %w", a.DB, err)
	}
	if count != a.Count {
		return &AssertionError{
			Type:     AssertFinalRows,
			Expected: fmt.Sprintf("%d rows in %s", a.Count, a.DB),
			Actual:   fmt.Sprintf("%d rows", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertOutcomeCount counts trace events with the given step and outcome.
func assertOutcomeCount(trace []TraceEvent, a Assertion) error {
	count := 0
	for _, event := range trace {
		if event.Step == a.Step && event.Outcome == a.Outcome {
			count++
		}
	}
	if count != a.Count {
		return &AssertionError{
			Type:     AssertOutcomeCount,
			Expected: fmt.Sprintf("%d %s steps with outcome %s", a.Count, a.Step, a.Outcome),
			Actual:   fmt.Sprintf("%d", count),
			Trace:    trace,
		}
	}
	return nil
}
