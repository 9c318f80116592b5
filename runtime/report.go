package runtime

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pithecene-io/proctor/metrics"
	"github.com/pithecene-io/proctor/types"
)

// Process exit codes reported to the caller, ordered by severity.
const (
	ProcessExitOK       = 0
	ProcessExitFailures = 1
	ProcessExitCritical = 2
	ProcessExitStall    = 3
	ProcessExitTimeout  = 4
	ProcessExitStartup  = 5
)

// RunReport is the structured JSON summary written into the run directory.
type RunReport struct {
	RunID       string    `json:"run_id"`
	GeneratedAt time.Time `json:"generated_at"`
	DurationMs  int64     `json:"duration_ms"`
	ExitCode    int       `json:"exit_code"`

	Phases            []types.PhaseResult `json:"phases"`
	StoppedEarly      bool                `json:"stopped_early"`
	StoppedEarlyPhase string              `json:"stopped_early_phase,omitempty"`

	Totals       ReportTotals `json:"totals"`
	FailedNames  []string     `json:"failed_names,omitempty"`
	ErroredNames []string     `json:"errored_names,omitempty"`

	Recommendations []string          `json:"recommendations,omitempty"`
	Metrics         *metrics.Snapshot `json:"metrics,omitempty"`

	// Error records an orchestrator-level failure (e.g. required store
	// isolation could not be prepared). Empty for runs that executed.
	Error string `json:"error,omitempty"`
}

// ReportTotals sums test counts across executed phases.
type ReportTotals struct {
	Total  int `json:"total"`
	Passed int `json:"passed"`
	Failed int `json:"failed"`
	Errors int `json:"errors"`
}

// ProcessExitCode maps a finished run to the process exit code contract:
// orchestrator failure wins, then the most severe condition observed across
// phases: critical, stall kill, timeout, plain test failures, success.
func ProcessExitCode(agg *types.RunAggregate, runErr error) int {
	if runErr != nil {
		return ProcessExitStartup
	}

	var sawCritical, sawStall, sawTimeout, sawFailures bool
	for _, p := range agg.Phases {
		o := p.Outcome
		if o == nil {
			continue
		}
		if o.Critical != nil {
			sawCritical = true
		}
		switch o.ExitCode {
		case ExitStallKill:
			sawStall = true
		case ExitTimeout:
			sawTimeout = true
		case ExitStartFailure:
			return ProcessExitStartup
		}
		if o.Failed > 0 || o.Errors > 0 || o.ExitCode != 0 {
			sawFailures = true
		}
	}

	switch {
	case sawCritical:
		return ProcessExitCritical
	case sawStall:
		return ProcessExitStall
	case sawTimeout:
		return ProcessExitTimeout
	case sawFailures:
		return ProcessExitFailures
	}
	return ProcessExitOK
}

// BuildRunReport composes the final report from the aggregate, a metrics
// snapshot, and the run-level error if the orchestrator aborted.
func BuildRunReport(agg *types.RunAggregate, snap metrics.Snapshot, duration time.Duration, runErr error) *RunReport {
	total, passed, failed, errs := agg.Totals()
	report := &RunReport{
		RunID:             agg.RunID,
		GeneratedAt:       time.Now(),
		DurationMs:        duration.Milliseconds(),
		ExitCode:          ProcessExitCode(agg, runErr),
		Phases:            agg.Phases,
		StoppedEarly:      agg.StoppedEarly,
		StoppedEarlyPhase: agg.StoppedEarlyPhase,
		Totals:            ReportTotals{Total: total, Passed: passed, Failed: failed, Errors: errs},
		Metrics:           &snap,
		Recommendations:   recommendationsFor(agg, runErr),
	}

	for _, p := range agg.Phases {
		if p.Outcome == nil {
			continue
		}
		report.FailedNames = appendUnique(report.FailedNames, p.Outcome.FailedNames)
		report.ErroredNames = appendUnique(report.ErroredNames, p.Outcome.ErroredNames)
	}

	if runErr != nil {
		report.Error = runErr.Error()
	}
	return report
}

// WriteRunReport writes the report atomically into the run directory and
// returns the report path.
func WriteRunReport(report *RunReport, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create run directory %s: %w", dir, err)
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal report: %w", err)
	}
	data = append(data, '\n')

	path := filepath.Join(dir, "report.json")
	tmp, err := os.CreateTemp(dir, "report.json.tmp-*")
	if err != nil {
		return "", fmt.Errorf("temp file for report: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("write report: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("close report: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("rename report: %w", err)
	}
	return path, nil
}

// recommendationsFor derives actionable hints from what the run observed.
func recommendationsFor(agg *types.RunAggregate, runErr error) []string {
	var recs []string
	if runErr != nil {
		recs = append(recs, fmt.Sprintf("the run aborted before completing: %v", runErr))
	}

	for _, p := range agg.Phases {
		o := p.Outcome
		if o == nil {
			continue
		}
		name := p.Descriptor.Name

		if o.Critical != nil {
			switch o.Critical.Category {
			case types.CriticalStorageConstraint:
				recs = append(recs, fmt.Sprintf("phase %s hit a storage constraint violation; inspect recent schema or data migrations", name))
			case types.CriticalMissingDependency:
				recs = append(recs, fmt.Sprintf("phase %s failed to import a module; install the missing dependency named in the critical error", name))
			case types.CriticalPortConflict:
				recs = append(recs, fmt.Sprintf("phase %s could not bind its service port; stop the process holding it or change the configured port", name))
			default:
				recs = append(recs, fmt.Sprintf("phase %s was terminated on a %s condition; see its transcript at the triggering line", name, o.Critical.Category))
			}
		}

		switch o.ExitCode {
		case ExitStallKill:
			recs = append(recs, fmt.Sprintf("phase %s was killed after prolonged silence; raise its stall threshold if the suite is known to be slow here", name))
		case ExitTimeout:
			recs = append(recs, fmt.Sprintf("phase %s exceeded its global timeout; raise the timeout or split the phase", name))
		}

		if len(o.DiscoveryDiagnosis) > 0 {
			recs = append(recs, fmt.Sprintf("phase %s selected zero tests; see its discovery diagnosis", name))
		}
		if o.Inconsistent() {
			if o.ExitCode < 0 {
				// Killed phases report tracker counts; tests in flight at
				// the kill are started but never resolved.
				recs = append(recs, fmt.Sprintf("phase %s was killed mid-suite; its counts cover only the tests that finished", name))
			} else {
				recs = append(recs, fmt.Sprintf("phase %s reported counts that do not add up; the suite's summary format may have changed", name))
			}
		}
	}
	return recs
}

// appendUnique appends names not already present, preserving order.
func appendUnique(dst []string, names []string) []string {
	seen := make(map[string]struct{}, len(dst))
	for _, n := range dst {
		seen[n] = struct{}{}
	}
	for _, n := range names {
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		dst = append(dst, n)
	}
	return dst
}

// ReportPath returns where WriteRunReport places the report for a run
// directory.
func ReportPath(dir string) string {
	return filepath.Join(dir, "report.json")
}
