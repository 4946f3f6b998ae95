package harness

import (
	"context"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/measure/internal/canonical"
)

// TraceSnapshot is the golden form of a run.
type TraceSnapshot struct {
	ScenarioName string
	Trace        []TraceEvent
	Model        map[string]any
	LoggedErrors int
}

func (s *TraceSnapshot) toCanonicalMap() map[string]any {
	return map[string]any{
		"scenario_name": s.ScenarioName,
		"trace":         traceList(s.Trace),
		"model":         s.Model,
		"logged_errors": s.LoggedErrors,
	}
}

// RunWithGolden runs the scenario in both orders and compares the outcome
// with testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := RunBoth(context.Background(), scenario)
	if err != nil {
		return result, err
	}
	return result, AssertGolden(t, scenario.Name, result)
}

// AssertGolden compares an existing result with its golden file.
func AssertGolden(t *testing.T, name string, result *Result) error {
	t.Helper()

	snapshot := TraceSnapshot{
		ScenarioName: name,
		Trace:        result.Trace,
		Model:        result.Model,
		LoggedErrors: result.LoggedErrors,
	}
	data, err := canonical.Marshal(snapshot.toCanonicalMap())
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, data)
	return nil
}
