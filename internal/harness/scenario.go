package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/lockprobe/internal/agent"
)

// Scenario defines a lock-probe scenario.
type Scenario struct {
	// Name uniquely identifies this scenario. It names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Agent configures the agent process for the whole scenario.
	Agent AgentSpec `yaml:"agent,omitempty"`

	// Steps run in order.
	Steps []Step `yaml:"steps"`

	// Assertions are evaluated after the last step.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// AgentSpec configures the agent runtime.
type AgentSpec struct {
	// Driver is "sqlite3" (default) or "sqlite".
	Driver string `yaml:"driver,omitempty"`

	// Policy is "nonblocking" (default) or "blocking".
	Policy string `yaml:"policy,omitempty"`

	// BusyTimeout bounds a blocking wait, as a Go duration string.
	BusyTimeout string `yaml:"busy_timeout,omitempty"`

	// Write makes agent attempts insert a row. Defaults to true.
	Write *bool `yaml:"write,omitempty"`
}

// Options converts the agent section to runtime options.
func (a AgentSpec) Options() (agent.Options, error) {
	opts := agent.Options{
		Driver: a.Driver,
		Policy: agent.Policy(a.Policy),
	}
	if a.BusyTimeout != "" {
		d, err := time.ParseDuration(a.BusyTimeout)
		if err != nil {
			return opts, fmt.Errorf("busy_timeout: %w", err)
		}
		opts.BusyTimeout = d
	}
	if a.Write != nil {
		opts.SkipWrite = !*a.Write
	}
	if err := opts.Validate(); err != nil {
		return opts, err
	}
	return opts, nil
}

// Step is one scenario action. Exactly one action field is set.
type Step struct {
	Create   string `yaml:"create,omitempty"`
	Begin    string `yaml:"begin,omitempty"`
	Write    string `yaml:"write,omitempty"`
	Commit   string `yaml:"commit,omitempty"`
	Rollback string `yaml:"rollback,omitempty"`
	Agent    string `yaml:"agent,omitempty"`
	Fault    string `yaml:"fault,omitempty"`
	Close    bool   `yaml:"close,omitempty"`

	// Expect is the required outcome of an agent step.
	Expect *bool `yaml:"expect,omitempty"`
}

// Step kinds.
const (
	StepCreate   = "create"
	StepBegin    = "begin"
	StepWrite    = "write"
	StepCommit   = "commit"
	StepRollback = "rollback"
	StepAgent    = "agent"
	StepFault    = "fault"
	StepClose    = "close"
)

// Kind returns the step's action and its database name. It returns an empty
// kind unless exactly one action is set.
func (s Step) Kind() (kind, db string) {
	set := 0
	pick := func(k, v string) {
		if v != "" {
			set++
			kind, db = k, v
		}
	}
	pick(StepCreate, s.Create)
	pick(StepBegin, s.Begin)
	pick(StepWrite, s.Write)
	pick(StepCommit, s.Commit)
	pick(StepRollback, s.Rollback)
	pick(StepAgent, s.Agent)
	pick(StepFault, s.Fault)
	if s.Close {
		set++
		kind, db = StepClose, ""
	}
	if set != 1 {
		return "", ""
	}
	return kind, db
}

// Assertion validates the state after the last step.
type Assertion struct {
	// Type is "final_rows" or "outcome_count".
	Type string `yaml:"type"`

	// DB is the database checked by final_rows.
	DB string `yaml:"db,omitempty"`

	// Step and Outcome select trace events for outcome_count.
	Step    string `yaml:"step,omitempty"`
	Outcome string `yaml:"outcome,omitempty"`

	// Count is the expected number of rows or events.
	Count int `yaml:"count"`
}

// Assertion type constants.
const (
	AssertFinalRows    = "final_rows"
	AssertOutcomeCount = "outcome_count"
)

// LoadScenario reads and parses a scenario YAML file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML. Unknown fields are rejected.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// LoadScenarios loads every *.yaml file in dir, in name order.
func LoadScenarios(dir string) ([]*Scenario, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no scenario files in %s", dir)
	}

	scenarios := make([]*Scenario, 0, len(paths))
	for _, path := range paths {
		s, err := LoadScenario(path)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
		scenarios = append(scenarios, s)
	}
	return scenarios, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	if _, err := s.Agent.Options(); err != nil {
		return fmt.Errorf("agent: %w", err)
	}

	for i, step := range s.Steps {
		kind, db := step.Kind()
		if kind == "" {
			return fmt.Errorf("steps[%d]: exactly one action is required", i)
		}
		if kind != StepClose {
			if err := validateDBName(db); err != nil {
				return fmt.Errorf("steps[%d]: %w", i, err)
			}
		}
		if kind == StepAgent && step.Expect == nil {
			return fmt.Errorf("steps[%d]: expect is required for agent", i)
		}
		if kind != StepAgent && step.Expect != nil {
			return fmt.Errorf("steps[%d]: expect is only valid for agent", i)
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}

	return nil
}

// validateDBName restricts database names to plain file names, so every
// database lives in the scenario's working directory.
func validateDBName(name string) error {
	if name == "." || name == ".." || strings.ContainsRune(name, '/') || strings.ContainsRune(name, filepath.Separator) {
		return fmt.Errorf("database name %q must be a plain file name", name)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Count < 0 {
		return fmt.Errorf("assertions[%d]: count must be non-negative", index)
	}

	switch a.Type {
	case AssertFinalRows:
		if a.DB == "" {
			return fmt.Errorf("assertions[%d]: db is required for final_rows", index)
		}
		if err := validateDBName(a.DB); err != nil {
			return fmt.Errorf("assertions[%d]: %w", index, err)
		}
	case AssertOutcomeCount:
		if a.Step == "" || a.Outcome == "" {
			return fmt.Errorf("assertions[%d]: step and outcome are required for outcome_count", index)
		}
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
