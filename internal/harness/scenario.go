package harness

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/measure/internal/datalayer"
)

// Scenario is a list of data layer commands plus assertions on the calls
// they cause.
type Scenario struct {
	// Name uniquely identifies the scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what the scenario validates.
	Description string `yaml:"description"`

	// Commands are pushed in order. Each is [name, args...]; the name ""
	// is a model update.
	Commands [][]any `yaml:"commands"`

	// Assertions validate the trace and final model.
	Assertions []Assertion `yaml:"assertions"`
}

// Assertion validates the trace or the final model.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Call names a trace call (trace_contains, trace_count).
	Call string `yaml:"call,omitempty"`

	// Fields is a subset of TraceEvent.Fields (trace_contains).
	Fields map[string]any `yaml:"fields,omitempty"`

	// Calls is the expected call order (trace_order).
	Calls []string `yaml:"calls,omitempty"`

	// Count is the expected number of calls or logged errors.
	Count int `yaml:"count,omitempty"`

	// Key and Value check the final model (model).
	Key   string `yaml:"key,omitempty"`
	Value any    `yaml:"value,omitempty"`
}

// Assertion types.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertModel         = "model"
	AssertLoggedErrors  = "logged_errors"
)

// LoadScenario reads and validates a scenario file. Unknown fields are
// rejected.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario decodes and validates scenario YAML.
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

// DataLayerCommands converts the scenario commands. Seq is left zero; the
// data layer assigns it on Push.
func (s *Scenario) DataLayerCommands() ([]datalayer.Command, error) {
	cmds := make([]datalayer.Command, 0, len(s.Commands))
	for i, raw := range s.Commands {
		if len(raw) == 0 {
			return nil, fmt.Errorf("commands[%d]: empty command", i)
		}
		name, ok := raw[0].(string)
		if !ok {
			return nil, fmt.Errorf("commands[%d]: name must be a string, got %T", i, raw[0])
		}
		cmds = append(cmds, datalayer.NewCommand(name, raw[1:]...))
	}
	return cmds, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return errors.New("name is required")
	}
	if s.Description == "" {
		return errors.New("description is required")
	}
	if len(s.Commands) == 0 {
		return errors.New("commands list is required and must be non-empty")
	}
	if _, err := s.DataLayerCommands(); err != nil {
		return err
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(a); err != nil {
			return fmt.Errorf("assertions[%d]: %w", i, err)
		}
	}
	return nil
}

func validateAssertion(a Assertion) error {
	switch a.Type {
	case AssertTraceContains:
		if a.Call == "" {
			return fmt.Errorf("%s requires call", a.Type)
		}
	case AssertTraceCount:
		if a.Call == "" {
			return fmt.Errorf("%s requires call", a.Type)
		}
		if a.Count < 0 {
			return fmt.Errorf("%s count must be non-negative", a.Type)
		}
	case AssertTraceOrder:
		if len(a.Calls) < 2 {
			return fmt.Errorf("%s requires at least two calls", a.Type)
		}
	case AssertModel:
		if a.Key == "" {
			return fmt.Errorf("%s requires key", a.Type)
		}
	case AssertLoggedErrors:
		if a.Count < 0 {
			return fmt.Errorf("%s count must be non-negative", a.Type)
		}
	case "":
		return errors.New("type is required")
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}
