package stream

import (
	"testing"
	"time"

	"github.com/pithecene-io/proctor/types"
)

// fixedClock returns a time source advancing by step per call.
func fixedClock(start time.Time, step time.Duration) func() time.Time {
	current := start
	return func() time.Time {
		t := current
		current = current.Add(step)
		return t
	}
}

func TestTracker_TestStartCountedOnce(t *testing.T) {
	tr := NewTracker(nil)

	// Suites sometimes re-log the start marker for the same test.
	line := "2026-08-26 10:00:01,123 INFO testdb suite.tests.test_move: Starting TestAccountMove.test_post"
	tr.Consume(line)
	tr.Consume(line)
	tr.Consume("INFO testdb suite.tests.test_move: Starting TestAccountMove.test_post again")

	snap := tr.Snapshot()
	if snap.TestsStarted != 1 {
		t.Errorf("TestsStarted = %d, want 1", snap.TestsStarted)
	}
	if snap.CurrentTest != "TestAccountMove.test_post" {
		t.Errorf("CurrentTest = %q, want %q", snap.CurrentTest, "TestAccountMove.test_post")
	}
	if snap.Phase != types.PhaseTesting {
		t.Errorf("Phase = %q, want %q", snap.Phase, types.PhaseTesting)
	}
}

func TestTracker_CompletedNeverExceedsStarted(t *testing.T) {
	tr := NewTracker(nil)

	// A completion whose start marker was never emitted must be clamped.
	tr.Consume("FAIL: TestGhost.test_unseen")
	if snap := tr.Snapshot(); snap.TestsCompleted != 0 {
		t.Fatalf("TestsCompleted = %d, want 0 before any start", snap.TestsCompleted)
	}

	tr.Consume("INFO testdb suite.tests: Starting TestAccountMove.test_post")
	tr.Consume("OK: TestAccountMove.test_post")
	tr.Consume("OK: TestAccountMove.test_post")

	snap := tr.Snapshot()
	if snap.TestsStarted != 1 {
		t.Errorf("TestsStarted = %d, want 1", snap.TestsStarted)
	}
	if snap.TestsCompleted != 1 {
		t.Errorf("TestsCompleted = %d, want 1", snap.TestsCompleted)
	}
	if snap.TestsCompleted > snap.TestsStarted {
		t.Errorf("invariant violated: completed %d > started %d", snap.TestsCompleted, snap.TestsStarted)
	}
}

func TestTracker_PhaseTransitions(t *testing.T) {
	tests := []struct {
		name string
		line string
		want types.Phase
	}{
		{"loading registry", "INFO ? app: loading registry for database testdb", types.PhaseLoading},
		{"registry loaded", "INFO testdb app.registry: Registry loaded in 4.21s", types.PhaseReady},
		{"js suite", "INFO testdb app.http: Starting JS tests", types.PhaseJavascriptTests},
		{"tour marker", "INFO testdb app.browser: Running tour account_invoice_tour", types.PhaseTour},
		{"hoot marker", "INFO testdb app.browser: [HOOT] suite started", types.PhaseHootTests},
		{"summary ends run", "INFO testdb app.tests: 0 failed, 0 error(s) of 154 tests", types.PhaseDone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := NewTracker(nil)
			tr.Consume(tt.line)
			if got := tr.Snapshot().Phase; got != tt.want {
				t.Errorf("Phase = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTracker_ThresholdRecomputedOnPhaseChange(t *testing.T) {
	tr := NewTracker(nil)

	before := tr.Snapshot().StallThresholdSeconds
	if want := defaultStallThresholds[types.PhaseStarting].Seconds(); before != want {
		t.Fatalf("initial threshold = %v, want %v", before, want)
	}

	tr.Consume("INFO testdb app.browser: Running tour checkout_tour")
	after := tr.Snapshot().StallThresholdSeconds
	if want := defaultStallThresholds[types.PhaseTour].Seconds(); after != want {
		t.Errorf("tour threshold = %v, want %v", after, want)
	}
}

func TestTracker_ThresholdOverrides(t *testing.T) {
	tr := NewTracker(map[types.Phase]time.Duration{
		types.PhaseTour: 42 * time.Second,
	})
	tr.Consume("INFO testdb app.browser: Running tour checkout_tour")
	if got := tr.Snapshot().StallThresholdSeconds; got != 42 {
		t.Errorf("threshold = %v, want 42", got)
	}
}

func TestTracker_VerboseSuiteWidensThreshold(t *testing.T) {
	tr := NewTracker(nil)
	tr.Consume("INFO testdb suite.tests: Starting TestPartner.test_archive")

	base := tr.effectiveThreshold()

	// Many lines with no new test start: verbose, not stuck.
	for i := 0; i <= verboseLineWindow; i++ {
		tr.Consume("DEBUG testdb app.sql_db: query executed in 0.2ms")
	}

	widened := tr.effectiveThreshold()
	if widened != 2*base {
		t.Errorf("widened threshold = %v, want %v", widened, 2*base)
	}

	// A new test start resets the activity counter and the threshold.
	tr.Consume("INFO testdb suite.tests: Starting TestPartner.test_rename")
	if got := tr.effectiveThreshold(); got != base {
		t.Errorf("threshold after new test = %v, want %v", got, base)
	}
}

func TestTracker_HeartbeatStallDetection(t *testing.T) {
	tr := NewTracker(nil)
	start := time.Date(2026, 8, 26, 10, 0, 0, 0, time.UTC)
	tr.now = func() time.Time { return start }

	tr.Consume("INFO testdb suite.tests: Starting TestPartner.test_archive")

	// Just inside the threshold: not stalled.
	hb := tr.Heartbeat(start.Add(defaultStallThresholds[types.PhaseTesting] - time.Second))
	if hb.IsStalled {
		t.Error("stalled inside threshold")
	}

	// Past the threshold: stalled, and the snapshot agrees.
	hb = tr.Heartbeat(start.Add(defaultStallThresholds[types.PhaseTesting] + time.Second))
	if !hb.IsStalled {
		t.Error("not stalled past threshold")
	}
	if !tr.Snapshot().IsStalled {
		t.Error("snapshot IsStalled not updated by heartbeat")
	}
	if hb.Phase != types.PhaseTesting {
		t.Errorf("heartbeat phase = %q, want %q", hb.Phase, types.PhaseTesting)
	}
}

func TestMatchSummary(t *testing.T) {
	tests := []struct {
		line                string
		failed, errs, total int
		ok                  bool
	}{
		{"INFO testdb app.tests: 3 failed, 1 error(s) of 154 tests", 3, 1, 154, true},
		{"0 failed, 0 error(s) of 12 tests when loading database", 0, 0, 12, true},
		{"Ran 12 tests in 3.4s", 0, 0, 0, false},
	}

	for _, tt := range tests {
		failed, errs, total, ok := MatchSummary(tt.line)
		if ok != tt.ok || failed != tt.failed || errs != tt.errs || total != tt.total {
			t.Errorf("MatchSummary(%q) = (%d, %d, %d, %v), want (%d, %d, %d, %v)",
				tt.line, failed, errs, total, ok, tt.failed, tt.errs, tt.total, tt.ok)
		}
	}
}

func TestMatchRanTestsAndFailures(t *testing.T) {
	total, ok := MatchRanTests("INFO testdb app.tests: Ran 42 tests in 10.2s")
	if !ok || total != 42 {
		t.Errorf("MatchRanTests = (%d, %v), want (42, true)", total, ok)
	}

	n, ok := MatchFailuresCount("FAILED (failures=3)")
	if !ok || n != 3 {
		t.Errorf("MatchFailuresCount = (%d, %v), want (3, true)", n, ok)
	}
}

func TestMatchTourStepFailure(t *testing.T) {
	tour, step, ok := MatchTourStepFailure("ERROR testdb app.browser: Tour checkout_tour failed at step click .btn-confirm")
	if !ok {
		t.Fatal("no match")
	}
	if tour != "checkout_tour" {
		t.Errorf("tour = %q, want %q", tour, "checkout_tour")
	}
	if step != "click .btn-confirm" {
		t.Errorf("step = %q, want %q", step, "click .btn-confirm")
	}
}

func TestMatchConsoleError(t *testing.T) {
	msg, ok := MatchConsoleError(`WARNING testdb app.browser: Console error: TypeError: undefined is not a function`)
	if !ok {
		t.Fatal("no match")
	}
	if msg == "" {
		t.Error("empty message")
	}
}

func TestTracker_LastUpdateAdvances(t *testing.T) {
	tr := NewTracker(nil)
	start := time.Date(2026, 8, 26, 10, 0, 0, 0, time.UTC)
	tr.now = fixedClock(start, time.Second)

	tr.Consume("line one")
	first := tr.Snapshot().LastUpdate
	tr.Consume("line two")
	second := tr.Snapshot().LastUpdate

	if !second.After(first) {
		t.Errorf("LastUpdate did not advance: %v then %v", first, second)
	}
}
