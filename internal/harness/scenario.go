package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/roach88/tablesync/internal/facts"
)

// Scenario defines a conformance test scenario.
type Scenario struct {
	// Name uniquely identifies this scenario. It names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Program is the path of the CUE program to compile.
	Program string `yaml:"program"`

	// P4Info is the path of the text-format P4Info installed on the fake
	// switch.
	P4Info string `yaml:"p4info"`

	// DeleteOnRetraction turns retractions into DELETE writes.
	DeleteOnRetraction bool `yaml:"delete_on_retraction,omitempty"`

	// Digest configures the digest stream. Required by digest steps.
	Digest *DigestSetup `yaml:"digest,omitempty"`

	// Steps run in order.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final trace and state.
	// Supported types: write_count, write_contains, write_order, no_writes,
	// final_state.
	Assertions []Assertion `yaml:"assertions"`

	// BatchToken is a fixed journal token for deterministic runs.
	// Default: "test-batch".
	BatchToken string `yaml:"batch_token,omitempty"`
}

// DigestSetup names the digest to subscribe to and its relation bindings.
type DigestSetup struct {
	// Name is the digest's qualified or short name. Empty means the default
	// digest id.
	Name string `yaml:"name,omitempty"`

	// Bindings maps digest names to input relations.
	Bindings map[string]string `yaml:"bindings,omitempty"`
}

// Step is one submission or one digest list.
type Step struct {
	// Submit is a fact batch, in the facts file format.
	Submit []facts.Entry `yaml:"submit,omitempty"`

	// Digest injects one digest list on the stream.
	Digest *DigestStep `yaml:"digest,omitempty"`

	// FailWrite makes the switch reject the step's first write batch with
	// this message.
	FailWrite string `yaml:"fail_write,omitempty"`

	// ExpectError is a substring of the error the submission must fail
	// with. Empty means it must succeed.
	ExpectError string `yaml:"expect_error,omitempty"`
}

// DigestStep is one digest list. Each item lists its struct members as
// unsigned integers.
type DigestStep struct {
	Items [][]uint64 `yaml:"items"`
}

// Assertion validates trace or final state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "write_count": exactly Count table writes were sent
	// - "write_contains": Write was sent
	// - "write_order": Writes were sent in this order
	// - "no_writes": nothing was written to Table
	// - "final_state": Relation holds exactly Facts
	Type string `yaml:"type"`

	// Count is the expected number of writes (write_count).
	Count int `yaml:"count,omitempty"`

	// Write is a rendered table write (write_contains).
	Write string `yaml:"write,omitempty"`

	// Writes is the expected write order (write_order).
	Writes []string `yaml:"writes,omitempty"`

	// Table is a qualified table name (no_writes).
	Table string `yaml:"table,omitempty"`

	// Relation is an output relation name (final_state).
	Relation string `yaml:"relation,omitempty"`

	// Facts are rendered records (final_state). Order is ignored.
	Facts []string `yaml:"facts,omitempty"`
}

// Assertion type constants.
const (
	AssertWriteCount    = "write_count"
	AssertWriteContains = "write_contains"
	AssertWriteOrder    = "write_order"
	AssertNoWrites      = "no_writes"
	AssertFinalState    = "final_state"
)

// LoadScenario reads and parses a scenario YAML file. Program and P4Info
// paths are resolved relative to the file. Returns an error if the file is
// malformed, contains unknown fields, or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	// Reject unknown fields so typos like "assertion:" fail loudly
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	base := filepath.Dir(path)
	scenario.Program = resolve(base, scenario.Program)
	scenario.P4Info = resolve(base, scenario.P4Info)

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func resolve(base, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Program == "" {
		return fmt.Errorf("program is required")
	}
	if s.P4Info == "" {
		return fmt.Errorf("p4info is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for _, p := range []string{s.Program, s.P4Info} {
		if _, err := os.Stat(p); os.IsNotExist(err) {
			return fmt.Errorf("file not found: %s", p)
		}
	}

	for i, step := range s.Steps {
		switch {
		case len(step.Submit) > 0 && step.Digest != nil:
			return fmt.Errorf("steps[%d]: submit and digest are exclusive", i)
		case len(step.Submit) == 0 && step.Digest == nil:
			return fmt.Errorf("steps[%d]: submit or digest is required", i)
		case step.Digest != nil && len(step.Digest.Items) == 0:
			return fmt.Errorf("steps[%d].digest: items must be non-empty", i)
		case step.Digest != nil && step.ExpectError != "":
			return fmt.Errorf("steps[%d]: expect_error applies to submit steps only", i)
		}
	}

	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertWriteCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for write_count", index)
		}
	case AssertWriteContains:
		if a.Write == "" {
			return fmt.Errorf("assertions[%d]: write is required for write_contains", index)
		}
	case AssertWriteOrder:
		if len(a.Writes) == 0 {
			return fmt.Errorf("assertions[%d]: writes list is required for write_order", index)
		}
	case AssertNoWrites:
		if a.Table == "" {
			return fmt.Errorf("assertions[%d]: table is required for no_writes", index)
		}
	case AssertFinalState:
		if a.Relation == "" {
			return fmt.Errorf("assertions[%d]: relation is required for final_state", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
