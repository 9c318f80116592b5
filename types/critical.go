package types

import "time"

// CriticalCategory classifies a fatal condition inferred from log content.
type CriticalCategory string

// Critical error taxonomy. Any of these justifies terminating the run
// before the process exits on its own.
const (
	CriticalStorageConstraint CriticalCategory = "storage_constraint_violation"
	CriticalModuleFatal       CriticalCategory = "module_fatal_exception"
	CriticalFatalLogLevel     CriticalCategory = "fatal_log_level"
	CriticalPortConflict      CriticalCategory = "port_conflict"
	CriticalAuthorization     CriticalCategory = "authorization_failure"
	CriticalValidation        CriticalCategory = "validation_failure"
	CriticalMissingDependency CriticalCategory = "missing_dependency"
	CriticalNoTestsDiscovered CriticalCategory = "no_tests_discovered"
)

// CriticalError records the first fatal condition detected in a run.
// Immutable once set; at most one per run (first match wins).
type CriticalError struct {
	Category       CriticalCategory `json:"category"`
	TriggeringLine string           `json:"triggering_line"`
	Phase          Phase            `json:"phase_at_detection"`
	CurrentTest    string           `json:"current_test_at_detection"`
	Timestamp      time.Time        `json:"timestamp"`
}
