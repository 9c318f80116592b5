// Package reader provides read-only access to a run directory's artifacts.
//
// The supervisor writes machine-facing documents (progress.json,
// heartbeat.json, transcript.log) into per-phase subdirectories and a
// report.json at the run root. This package is how the watch command and
// the TUI observe a run without touching the supervisor's state.
package reader

import (
	"github.com/pithecene-io/proctor/runtime"
	"github.com/pithecene-io/proctor/types"
)

// PhaseStatus is the observable state of one phase directory.
type PhaseStatus struct {
	// Name is the phase directory name (e.g. "unit", "tour").
	Name string `json:"name"`
	// Progress is the last progress snapshot, nil before the first write.
	Progress *types.ProgressSnapshot `json:"progress,omitempty"`
	// Heartbeat is the last watchdog heartbeat, nil before the first write.
	Heartbeat *types.Heartbeat `json:"heartbeat,omitempty"`
	// TranscriptBytes is the current size of transcript.log.
	TranscriptBytes int64 `json:"transcript_bytes"`
}

// RunStatus is a point-in-time view of a run directory.
type RunStatus struct {
	// RunID is the run directory's base name.
	RunID string `json:"run_id"`
	// Dir is the run directory path.
	Dir string `json:"dir"`
	// Phases are the phase directories found, in lexical order.
	Phases []PhaseStatus `json:"phases"`
	// Report is the final run report, nil while the run is still executing.
	Report *runtime.RunReport `json:"report,omitempty"`
}

// Done reports whether the run has produced its final report.
func (s *RunStatus) Done() bool {
	return s.Report != nil
}
