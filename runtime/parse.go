package runtime

import (
	"fmt"

	"github.com/pithecene-io/proctor/stream"
	"github.com/pithecene-io/proctor/types"
)

// ParseOutcome composes the structured outcome for one supervised run.
//
// Count sources, in preference order:
//  1. the suite's aggregate summary line ("N failed, M error(s) of T tests")
//  2. the fallback pair ("Ran T tests" + "failures=N")
//  3. the tracker's own counters, for a run killed before any summary
//
// Named failures, console errors, and failed tour steps are extracted from
// the transcript regardless of which count source won.
func ParseOutcome(result *SuperviseResult, snap types.ProgressSnapshot) *types.TestOutcome {
	outcome := &types.TestOutcome{
		ElapsedSeconds: result.Elapsed.Seconds(),
		ExitCode:       result.ExitCode,
		Critical:       result.Critical,
	}

	var (
		summaryFound bool
		ranFound     bool
		ranTotal     int
		ranFailures  int
	)

	for _, line := range result.Transcript {
		if failed, errs, total, ok := stream.MatchSummary(line); ok {
			outcome.Failed = failed
			outcome.Errors = errs
			outcome.Total = total
			summaryFound = true
		}
		if total, ok := stream.MatchRanTests(line); ok {
			ranTotal = total
			ranFound = true
		}
		if n, ok := stream.MatchFailuresCount(line); ok {
			ranFailures = n
		}
		if name, ok := stream.MatchTestFailure(line); ok {
			outcome.FailedNames = append(outcome.FailedNames, name)
		}
		if name, ok := stream.MatchTestError(line); ok {
			outcome.ErroredNames = append(outcome.ErroredNames, name)
		}
		if msg, ok := stream.MatchConsoleError(line); ok {
			outcome.ConsoleErrors = append(outcome.ConsoleErrors, msg)
		}
		if tour, step, ok := stream.MatchTourStepFailure(line); ok {
			outcome.FailedSteps = append(outcome.FailedSteps, fmt.Sprintf("%s: %s", tour, step))
		}
	}

	switch {
	case summaryFound:
		outcome.Passed = clampNonNegative(outcome.Total - outcome.Failed - outcome.Errors)
	case ranFound:
		outcome.Total = ranTotal
		outcome.Failed = ranFailures
		outcome.Passed = clampNonNegative(ranTotal - ranFailures)
	case snap.TestsStarted > 0:
		// No aggregate marker survived; the run was likely killed mid-suite.
		// Degrade to the tracker's counters.
		outcome.Total = snap.TestsStarted
		outcome.Failed = len(outcome.FailedNames)
		outcome.Errors = len(outcome.ErroredNames)
		outcome.Passed = clampNonNegative(snap.TestsCompleted - outcome.Failed - outcome.Errors)
	}

	// Zero tests with a clean exit is its own failure mode: the suite started
	// fine but selected nothing to run.
	if outcome.Total == 0 && result.ExitCode == 0 && result.Critical == nil {
		outcome.DiscoveryDiagnosis = DiagnoseDiscovery(result.Transcript)
	}

	return outcome
}

func clampNonNegative(n int) int {
	if n < 0 {
		return 0
	}
	return n
}
