package stream

import (
	"strconv"
	"time"

	"github.com/pithecene-io/proctor/types"
)

// Default per-phase stall thresholds. UI-automation phases compile assets
// and drive a browser, so they get multi-minute thresholds; plain unit
// testing widens automatically when output is verbose but no new test has
// started (see effectiveThreshold).
var defaultStallThresholds = map[types.Phase]time.Duration{
	types.PhaseStarting:        2 * time.Minute,
	types.PhaseLoading:         3 * time.Minute,
	types.PhaseReady:           1 * time.Minute,
	types.PhaseTesting:         90 * time.Second,
	types.PhaseJavascriptTests: 5 * time.Minute,
	types.PhaseTour:            10 * time.Minute,
	types.PhaseHootTests:       5 * time.Minute,
	types.PhaseDone:            1 * time.Minute,
}

// verboseLineWindow is the activity count past which the testing-phase
// threshold doubles. A suite emitting hundreds of lines without a new test
// start is verbose, not stuck.
const verboseLineWindow = 200

// Tracker is the progress and stall state machine.
//
// It owns the ProgressSnapshot (single writer); readers receive value copies
// via Snapshot. Consume is called synchronously per line from the
// supervisor's read loop, never concurrently.
type Tracker struct {
	snap       types.ProgressSnapshot
	testsSeen  map[string]struct{}
	thresholds map[types.Phase]time.Duration

	// now is injectable for tests.
	now func() time.Time
}

// NewTracker creates a tracker in the starting phase. Entries in overrides
// replace the default stall table for their phase.
func NewTracker(overrides map[types.Phase]time.Duration) *Tracker {
	thresholds := make(map[types.Phase]time.Duration, len(defaultStallThresholds))
	for phase, d := range defaultStallThresholds {
		thresholds[phase] = d
	}
	for phase, d := range overrides {
		thresholds[phase] = d
	}

	t := &Tracker{
		testsSeen:  make(map[string]struct{}),
		thresholds: thresholds,
		now:        time.Now,
	}
	t.snap.Phase = types.PhaseStarting
	t.snap.LastUpdate = t.now()
	t.snap.StallThresholdSeconds = thresholds[types.PhaseStarting].Seconds()
	return t
}

// Consume updates the snapshot from one output line. Patterns are attempted
// in a fixed priority order and only the first match applies.
func (t *Tracker) Consume(line string) {
	t.snap.LastUpdate = t.now()
	t.snap.LinesSinceLastTestStart++

	switch {
	case t.consumeTestStart(line):
	case t.consumeTestCompletion(line):
	case t.consumePhaseKeyword(line):
	}
}

func (t *Tracker) consumeTestStart(line string) bool {
	m := testStartPattern.FindStringSubmatch(line)
	if m == nil {
		return false
	}
	name := m[1]
	t.snap.CurrentTest = name
	t.snap.LinesSinceLastTestStart = 0

	// A test that logs multiple "starting" lines is counted once.
	if _, seen := t.testsSeen[name]; !seen {
		t.testsSeen[name] = struct{}{}
		t.snap.TestsStarted++
	}

	if phaseRank(t.snap.Phase) < phaseRank(types.PhaseTesting) {
		t.transition(types.PhaseTesting)
	}
	return true
}

func (t *Tracker) consumeTestCompletion(line string) bool {
	switch {
	case testFailPattern.MatchString(line),
		testErrorPattern.MatchString(line),
		testPassPattern.MatchString(line):
	default:
		return false
	}
	// Clamp: a completion marker for a test whose start was never observed
	// must not break tests_completed <= tests_started.
	if t.snap.TestsCompleted < t.snap.TestsStarted {
		t.snap.TestsCompleted++
	}
	return true
}

func (t *Tracker) consumePhaseKeyword(line string) bool {
	switch {
	case summaryPattern.MatchString(line) || donePattern.MatchString(line):
		t.transition(types.PhaseDone)
	case hootPattern.MatchString(line):
		t.transition(types.PhaseHootTests)
	case tourPattern.MatchString(line):
		t.transition(types.PhaseTour)
	case jsPattern.MatchString(line):
		t.transition(types.PhaseJavascriptTests)
	case readyPattern.MatchString(line):
		t.transition(types.PhaseReady)
	case loadingPattern.MatchString(line):
		t.transition(types.PhaseLoading)
	default:
		return false
	}
	return true
}

// transition switches phase and recomputes the stall threshold.
func (t *Tracker) transition(phase types.Phase) {
	if t.snap.Phase == phase {
		return
	}
	t.snap.Phase = phase
	t.snap.StallThresholdSeconds = t.thresholds[phase].Seconds()
}

// effectiveThreshold is the stall threshold currently in force.
func (t *Tracker) effectiveThreshold() time.Duration {
	base := t.thresholds[t.snap.Phase]
	if t.snap.Phase == types.PhaseTesting && t.snap.LinesSinceLastTestStart > verboseLineWindow {
		return 2 * base
	}
	return base
}

// Snapshot returns a value copy of the current progress state.
func (t *Tracker) Snapshot() types.ProgressSnapshot {
	return t.snap
}

// Heartbeat recomputes stall state for the given instant and returns the
// liveness document. Stalling is advisory here; the supervisor decides
// whether to terminate.
func (t *Tracker) Heartbeat(now time.Time) types.Heartbeat {
	threshold := t.effectiveThreshold()
	sinceUpdate := now.Sub(t.snap.LastUpdate)
	t.snap.IsStalled = sinceUpdate > threshold
	t.snap.StallThresholdSeconds = threshold.Seconds()

	return types.Heartbeat{
		Now:                now,
		LastUpdate:         t.snap.LastUpdate,
		SecondsSinceUpdate: sinceUpdate.Seconds(),
		IsStalled:          t.snap.IsStalled,
		Phase:              t.snap.Phase,
		StallThresholdSecs: threshold.Seconds(),
	}
}

// phaseRank orders phases by their typical appearance during a run.
func phaseRank(p types.Phase) int {
	switch p {
	case types.PhaseStarting:
		return 0
	case types.PhaseLoading:
		return 1
	case types.PhaseReady:
		return 2
	case types.PhaseTesting:
		return 3
	case types.PhaseJavascriptTests:
		return 4
	case types.PhaseTour:
		return 5
	case types.PhaseHootTests:
		return 6
	case types.PhaseDone:
		return 7
	}
	return -1
}

// MatchSummary extracts counts from the aggregate summary line.
func MatchSummary(line string) (failed, errors, total int, ok bool) {
	m := summaryPattern.FindStringSubmatch(line)
	if m == nil {
		return 0, 0, 0, false
	}
	failed, _ = strconv.Atoi(m[1])
	errors, _ = strconv.Atoi(m[2])
	total, _ = strconv.Atoi(m[3])
	return failed, errors, total, true
}

// MatchRanTests extracts the total from the fallback "Ran N tests" marker.
func MatchRanTests(line string) (total int, ok bool) {
	m := ranTestsPattern.FindStringSubmatch(line)
	if m == nil {
		return 0, false
	}
	total, _ = strconv.Atoi(m[1])
	return total, true
}

// MatchFailuresCount extracts the failure count paired with MatchRanTests.
func MatchFailuresCount(line string) (n int, ok bool) {
	m := failuresCountPattern.FindStringSubmatch(line)
	if m == nil {
		return 0, false
	}
	n, _ = strconv.Atoi(m[1])
	return n, true
}

// MatchTestFailure extracts the test name from a failure marker.
func MatchTestFailure(line string) (name string, ok bool) {
	m := testFailPattern.FindStringSubmatch(line)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// MatchTestError extracts the test name from an error marker.
func MatchTestError(line string) (name string, ok bool) {
	m := testErrorPattern.FindStringSubmatch(line)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// MatchConsoleError extracts a browser console error message.
func MatchConsoleError(line string) (msg string, ok bool) {
	m := consoleErrorPattern.FindStringSubmatch(line)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// MatchTourStepFailure extracts the tour name and failing step.
func MatchTourStepFailure(line string) (tour, step string, ok bool) {
	m := tourStepFailPattern.FindStringSubmatch(line)
	if m == nil {
		return "", "", false
	}
	return m[1], m[2], true
}
