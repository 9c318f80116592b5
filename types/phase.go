// Package types defines the shared data model for proctor runs.
package types

import "time"

// Phase represents the suite's lifecycle phase as inferred from log output.
type Phase string

// Phase constants, ordered roughly by appearance during a run.
const (
	PhaseStarting        Phase = "starting"
	PhaseLoading         Phase = "loading"
	PhaseReady           Phase = "ready"
	PhaseTesting         Phase = "testing"
	PhaseJavascriptTests Phase = "javascript_tests"
	PhaseTour            Phase = "tour"
	PhaseHootTests       Phase = "hoot_tests"
	PhaseDone            Phase = "done"
)

// IsolationMode describes the backing-store isolation a phase requires.
type IsolationMode string

// Isolation modes.
const (
	// IsolationNone runs against the shared default store.
	IsolationNone IsolationMode = "none"
	// IsolationFreshEmpty runs against a newly created, empty store.
	IsolationFreshEmpty IsolationMode = "fresh-empty"
	// IsolationClone runs against a clone of the reference store.
	IsolationClone IsolationMode = "clone-of-reference"
)

// RequiredForCorrectness reports whether a prepare failure for this mode must
// abort the phase. Shared state under fresh-empty or clone isolation would
// invalidate the phase's guarantees, so fallback is only allowed for none.
func (m IsolationMode) RequiredForCorrectness() bool {
	return m == IsolationFreshEmpty || m == IsolationClone
}

// PhaseDescriptor statically describes one test category.
type PhaseDescriptor struct {
	// Name identifies the phase (e.g. "unit", "integration", "tour").
	Name string `yaml:"name" json:"name"`
	// Isolation is the backing-store isolation mode.
	Isolation IsolationMode `yaml:"isolation" json:"isolation"`
	// Filter is the suite selection filter (test tags) passed to the suite.
	Filter string `yaml:"filter" json:"filter"`
	// BaseTimeout is the global timeout for the phase's process.
	BaseTimeout time.Duration `yaml:"-" json:"-"`
	// StallThresholds overrides the default per-phase stall table.
	// Keys are Phase values; missing keys fall back to defaults.
	StallThresholds map[Phase]time.Duration `yaml:"-" json:"-"`
	// LinkFilestore requests a non-destructive bulk-storage link from the
	// phase's namespace to the reference namespace (tour/UI phases).
	LinkFilestore bool `yaml:"link_filestore" json:"link_filestore"`
	// Env holds category-specific environment overrides for the process.
	Env map[string]string `yaml:"env" json:"env,omitempty"`
}
