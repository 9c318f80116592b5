// Package adapter defines the completion-notification boundary.
//
// Adapters publish run completion notifications to downstream systems
// (dashboards, schedulers, chat hooks). The CLI owns adapter lifecycle;
// publish failures are logged and never alter the run's outcome.
package adapter

import (
	"context"
	"time"

	"github.com/pithecene-io/proctor/types"
)

// EventTypeRunCompleted is the event_type value for completed runs.
const EventTypeRunCompleted = "run_completed"

// RunCompletedEvent is the payload published when a run finishes.
type RunCompletedEvent struct {
	EventType string `json:"event_type"` // always "run_completed"
	RunID     string `json:"run_id"`
	Suite     string `json:"suite"`

	PhasesRun         []string `json:"phases_run"`
	StoppedEarly      bool     `json:"stopped_early"`
	StoppedEarlyPhase string   `json:"stopped_early_phase,omitempty"`

	TestsTotal  int `json:"tests_total"`
	TestsPassed int `json:"tests_passed"`
	TestsFailed int `json:"tests_failed"`
	TestsErrors int `json:"tests_errors"`

	ExitCode    int    `json:"exit_code"`
	ArtifactDir string `json:"artifact_dir"`
	Timestamp   string `json:"timestamp"` // ISO 8601
	DurationMs  int64  `json:"duration_ms"`
}

// NewRunCompletedEvent builds the event from a finished run's aggregate.
func NewRunCompletedEvent(agg *types.RunAggregate, suite, artifactDir string, exitCode int, duration time.Duration) *RunCompletedEvent {
	total, passed, failed, errs := agg.Totals()
	event := &RunCompletedEvent{
		EventType:         EventTypeRunCompleted,
		RunID:             agg.RunID,
		Suite:             suite,
		StoppedEarly:      agg.StoppedEarly,
		StoppedEarlyPhase: agg.StoppedEarlyPhase,
		TestsTotal:        total,
		TestsPassed:       passed,
		TestsFailed:       failed,
		TestsErrors:       errs,
		ExitCode:          exitCode,
		ArtifactDir:       artifactDir,
		Timestamp:         time.Now().UTC().Format(time.RFC3339),
		DurationMs:        duration.Milliseconds(),
	}
	for _, p := range agg.Phases {
		event.PhasesRun = append(event.PhasesRun, p.Descriptor.Name)
	}
	return event
}

// Adapter publishes run completion events to a downstream system.
// Implementations must be safe for single-use per run.
type Adapter interface {
	// Publish sends a run completion event to the downstream system.
	// Must respect context cancellation and deadlines.
	Publish(ctx context.Context, event *RunCompletedEvent) error

	// Close releases adapter resources.
	Close() error
}
