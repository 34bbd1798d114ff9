package bdd

import (
	"testing"

	"github.com/cucumber/godog"

	"github.com/cuemby/captain/test/bdd/steps"
)

// TestScheduling runs features/scheduling.feature — the six concrete
// testable-property scenarios — against an in-process Captain with a
// fake Sailor client standing in for the network.
func TestScheduling(t *testing.T) {
	suite := godog.TestSuite{
		ScenarioInitializer: steps.InitializeSchedulingScenario,
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"features"},
			TestingT: t,
		},
	}
	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}
}
