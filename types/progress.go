package types

import "time"

// ProgressSnapshot is the tracker's view of suite progress.
// It is owned by the tracker (single writer); consumers receive value copies.
type ProgressSnapshot struct {
	// Phase is the current inferred lifecycle phase.
	Phase Phase `json:"phase"`
	// CurrentTest is the most recently started test, empty before the first.
	CurrentTest string `json:"current_test"`
	// TestsStarted counts distinct tests seen starting. Monotonic.
	TestsStarted int `json:"tests_started"`
	// TestsCompleted counts observed pass/fail/error completions. Monotonic.
	// Invariant: TestsCompleted <= TestsStarted is not enforced on the wire
	// (some suites complete tests whose start marker was never emitted);
	// the tracker clamps to preserve it.
	TestsCompleted int `json:"tests_completed"`
	// LastUpdate is the wall time of the last consumed line.
	LastUpdate time.Time `json:"last_update"`
	// IsStalled is advisory: no output for longer than the stall threshold.
	// Termination remains the supervisor's decision.
	IsStalled bool `json:"is_stalled"`
	// StallThresholdSeconds is the active threshold, recomputed per phase.
	StallThresholdSeconds float64 `json:"stall_threshold_seconds"`
	// LinesSinceLastTestStart counts lines emitted since the last new test
	// started. High values widen thresholds for verbose-but-live suites.
	LinesSinceLastTestStart int `json:"lines_since_last_test_start"`
}

// Heartbeat is the liveness document written alongside the snapshot for
// external monitors.
type Heartbeat struct {
	Now                time.Time `json:"now"`
	LastUpdate         time.Time `json:"last_update"`
	SecondsSinceUpdate float64   `json:"seconds_since_update"`
	IsStalled          bool      `json:"is_stalled"`
	Phase              Phase     `json:"phase"`
	StallThresholdSecs float64   `json:"stall_threshold_seconds"`
}
