package types

// TestOutcome is the structured result of a single phase's suite execution.
type TestOutcome struct {
	// Total is the number of tests the suite reported running.
	Total int `json:"total"`
	// Passed, Failed, Errors partition Total when Total > 0.
	Passed int `json:"passed"`
	Failed int `json:"failed"`
	Errors int `json:"errors"`

	// FailedNames and ErroredNames are ordered as reported. A suite that
	// retries a test may report duplicates; consumers de-duplicate by name
	// if their reporting format requires it.
	FailedNames  []string `json:"failed_names,omitempty"`
	ErroredNames []string `json:"errored_names,omitempty"`

	// ConsoleErrors are browser/runtime errors emitted by UI-automation
	// phases (tour, hoot). Empty for plain unit phases.
	ConsoleErrors []string `json:"console_errors,omitempty"`
	// FailedSteps are interaction steps a tour reported as failing.
	FailedSteps []string `json:"failed_steps,omitempty"`

	// DiscoveryDiagnosis explains why zero tests ran despite a clean exit,
	// ordered by likelihood. Empty unless discovery failed.
	DiscoveryDiagnosis []string `json:"discovery_diagnosis,omitempty"`

	ElapsedSeconds float64 `json:"elapsed_seconds"`
	// ExitCode is the suite process exit code, or a synthetic negative code
	// for orchestrator-detected conditions (see runtime exit constants).
	ExitCode int `json:"exit_code"`

	// Critical is the fatal condition that forced early termination, if any.
	Critical *CriticalError `json:"critical_error,omitempty"`

	// ArtifactPaths maps artifact kind (transcript, machine, progress,
	// heartbeat, report) to its location under the run directory.
	ArtifactPaths map[string]string `json:"output_artifact_paths,omitempty"`
}

// Inconsistent reports whether the count invariant is violated.
func (o *TestOutcome) Inconsistent() bool {
	return o.Total > 0 && o.Passed+o.Failed+o.Errors != o.Total
}

// Failing reports whether the phase outcome should stop the run.
func (o *TestOutcome) Failing() bool {
	return o.Failed > 0 || o.Errors > 0 || o.Critical != nil
}

// PhaseResult pairs a phase descriptor with its outcome.
type PhaseResult struct {
	Descriptor PhaseDescriptor `json:"descriptor"`
	Outcome    *TestOutcome    `json:"outcome"`
}

// RunAggregate is the ordered result of a full multi-phase run.
type RunAggregate struct {
	RunID string `json:"run_id"`
	// Phases holds results for phases that actually executed, in order.
	Phases []PhaseResult `json:"phases"`
	// StoppedEarly is set when a failing phase stopped the run, whether or
	// not any phases remained to skip.
	StoppedEarly bool `json:"stopped_early"`
	// StoppedEarlyPhase names the phase that triggered the stop.
	StoppedEarlyPhase string `json:"stopped_early_phase,omitempty"`
}

// Failing reports whether any executed phase failed.
func (a *RunAggregate) Failing() bool {
	for _, p := range a.Phases {
		if p.Outcome != nil && p.Outcome.Failing() {
			return true
		}
	}
	return false
}

// Totals sums counts across executed phases.
func (a *RunAggregate) Totals() (total, passed, failed, errors int) {
	for _, p := range a.Phases {
		if p.Outcome == nil {
			continue
		}
		total += p.Outcome.Total
		passed += p.Outcome.Passed
		failed += p.Outcome.Failed
		errors += p.Outcome.Errors
	}
	return total, passed, failed, errors
}
