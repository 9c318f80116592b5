package reader

import (
	"time"

	"github.com/pithecene-io/proctor/types"
)

// StubReader returns a fixed, shape-correct status. Used by TUI tests and
// for rendering previews without a real run directory.
type StubReader struct {
	// Status is returned verbatim; nil yields a default in-progress run.
	Status *RunStatus
}

// NewStubReader creates a stub reader with a default in-progress run.
func NewStubReader() *StubReader {
	return &StubReader{}
}

// ReadStatus returns the configured status or a default one.
func (r *StubReader) ReadStatus() (*RunStatus, error) {
	if r.Status != nil {
		return r.Status, nil
	}
	now := time.Now()
	return &RunStatus{
		RunID: "stub-run-001",
		Dir:   "/tmp/stub-run-001",
		Phases: []PhaseStatus{
			{
				Name: "unit",
				Progress: &types.ProgressSnapshot{
					Phase:          types.PhaseTesting,
					CurrentTest:    "TestAccountMove.test_post",
					TestsStarted:   42,
					TestsCompleted: 41,
					LastUpdate:     now,
				},
				Heartbeat: &types.Heartbeat{
					Now:                now,
					LastUpdate:         now,
					SecondsSinceUpdate: 0.5,
					Phase:              types.PhaseTesting,
					StallThresholdSecs: 120,
				},
				TranscriptBytes: 8192,
			},
		},
	}, nil
}
