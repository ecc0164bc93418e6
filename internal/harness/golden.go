package harness

import (
	"encoding/json"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// TraceSnapshot is the golden-file form of a scenario run.
type TraceSnapshot struct {
	ScenarioName string       `json:"scenario_name"`
	Transport    string       `json:"transport"`
	Trace        []TraceEvent `json:"trace"`
}

// RunWithGolden executes a scenario, fails the test if it does not pass,
// and compares its trace against testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	for _, msg := range result.Errors {
		t.Error(msg)
	}
	return result, AssertGolden(t, scenario, result)
}

// AssertGolden compares an existing result's trace against the scenario's
// golden file.
func AssertGolden(t *testing.T, scenario *Scenario, result *Result) error {
	t.Helper()

	transport := scenario.Transport
	if transport == "" {
		transport = TransportDirect
	}
	traceJSON, err := json.MarshalIndent(TraceSnapshot{
		ScenarioName: scenario.Name,
		Transport:    transport,
		Trace:        result.Trace,
	}, "", "  ")
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenario.Name, traceJSON)
	return nil
}
