// Package metrics provides per-run metrics collection.
//
// The Collector accumulates counters during a single multi-phase run. It is
// a leaf package with no internal dependencies. All increment methods are
// nil-receiver safe so call sites never need to guard.
package metrics

import "sync"

// Snapshot is an immutable point-in-time view of all run metrics.
// Returned by Collector.Snapshot(). Safe to read concurrently after creation.
type Snapshot struct {
	// Phase lifecycle
	PhasesStarted   int64 `json:"phases_started"`
	PhasesCompleted int64 `json:"phases_completed"`
	PhasesFailed    int64 `json:"phases_failed"`
	PhasesSkipped   int64 `json:"phases_skipped"`

	// Stream interpretation
	LinesConsumed  int64 `json:"lines_consumed"`
	TestsStarted   int64 `json:"tests_started"`
	TestsCompleted int64 `json:"tests_completed"`

	// Watchdog
	CriticalErrors int64 `json:"critical_errors"`
	StallWarnings  int64 `json:"stall_warnings"`
	StallKills     int64 `json:"stall_kills"`
	TimeoutKills   int64 `json:"timeout_kills"`

	// Backing stores
	StoresPrepared     int64 `json:"stores_prepared"`
	StoresTornDown     int64 `json:"stores_torn_down"`
	StorePrepareErrors int64 `json:"store_prepare_errors"`

	// Retention
	ArchiveUploads      int64 `json:"archive_uploads"`
	ArchiveUploadErrors int64 `json:"archive_upload_errors"`

	// Dimensions (informational, set at construction)
	RunID string `json:"run_id"`
	Suite string `json:"suite"`
}

// Collector accumulates metrics during a single run.
// Thread-safe via sync.Mutex.
type Collector struct {
	mu sync.Mutex

	phasesStarted   int64
	phasesCompleted int64
	phasesFailed    int64
	phasesSkipped   int64

	linesConsumed  int64
	testsStarted   int64
	testsCompleted int64

	criticalErrors int64
	stallWarnings  int64
	stallKills     int64
	timeoutKills   int64

	storesPrepared     int64
	storesTornDown     int64
	storePrepareErrors int64

	archiveUploads      int64
	archiveUploadErrors int64

	runID string
	suite string
}

// NewCollector creates a Collector with dimension labels.
func NewCollector(runID, suite string) *Collector {
	return &Collector{runID: runID, suite: suite}
}

// --- Phase lifecycle ---

// IncPhaseStarted records a phase start.
func (c *Collector) IncPhaseStarted() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.phasesStarted++
	c.mu.Unlock()
}

// IncPhaseCompleted records a phase that ran to a parsed outcome.
func (c *Collector) IncPhaseCompleted() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.phasesCompleted++
	c.mu.Unlock()
}

// IncPhaseFailed records a phase whose outcome stopped the run.
func (c *Collector) IncPhaseFailed() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.phasesFailed++
	c.mu.Unlock()
}

// AddPhasesSkipped records phases skipped by fail-fast.
func (c *Collector) AddPhasesSkipped(n int) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.phasesSkipped += int64(n)
	c.mu.Unlock()
}

// --- Stream interpretation ---

// IncLineConsumed records one interpreted output line.
func (c *Collector) IncLineConsumed() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.linesConsumed++
	c.mu.Unlock()
}

// AbsorbProgress folds a phase's final tracker counters into the run totals.
// Absorbed once per phase at parse time rather than live, matching the
// tracker's ownership of the live counters.
func (c *Collector) AbsorbProgress(testsStarted, testsCompleted int) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.testsStarted += int64(testsStarted)
	c.testsCompleted += int64(testsCompleted)
	c.mu.Unlock()
}

// --- Watchdog ---

// IncCriticalError records a detected critical condition.
func (c *Collector) IncCriticalError() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.criticalErrors++
	c.mu.Unlock()
}

// IncStallWarning records one watchdog stall warning.
func (c *Collector) IncStallWarning() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.stallWarnings++
	c.mu.Unlock()
}

// IncStallKill records a presumed-hung termination.
func (c *Collector) IncStallKill() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.stallKills++
	c.mu.Unlock()
}

// IncTimeoutKill records a global-timeout termination.
func (c *Collector) IncTimeoutKill() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.timeoutKills++
	c.mu.Unlock()
}

// --- Backing stores ---

// IncStorePrepared records a successful backing-store preparation.
func (c *Collector) IncStorePrepared() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.storesPrepared++
	c.mu.Unlock()
}

// IncStoreTornDown records a backing-store teardown.
func (c *Collector) IncStoreTornDown() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.storesTornDown++
	c.mu.Unlock()
}

// IncStorePrepareError records a failed backing-store preparation.
func (c *Collector) IncStorePrepareError() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.storePrepareErrors++
	c.mu.Unlock()
}

// --- Retention ---

// IncArchiveUpload records one uploaded artifact object.
func (c *Collector) IncArchiveUpload() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.archiveUploads++
	c.mu.Unlock()
}

// IncArchiveUploadError records a failed artifact upload.
func (c *Collector) IncArchiveUploadError() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.archiveUploadErrors++
	c.mu.Unlock()
}

// Snapshot returns an immutable copy of all counters.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		PhasesStarted:       c.phasesStarted,
		PhasesCompleted:     c.phasesCompleted,
		PhasesFailed:        c.phasesFailed,
		PhasesSkipped:       c.phasesSkipped,
		LinesConsumed:       c.linesConsumed,
		TestsStarted:        c.testsStarted,
		TestsCompleted:      c.testsCompleted,
		CriticalErrors:      c.criticalErrors,
		StallWarnings:       c.stallWarnings,
		StallKills:          c.stallKills,
		TimeoutKills:        c.timeoutKills,
		StoresPrepared:      c.storesPrepared,
		StoresTornDown:      c.storesTornDown,
		StorePrepareErrors:  c.storePrepareErrors,
		ArchiveUploads:      c.archiveUploads,
		ArchiveUploadErrors: c.archiveUploadErrors,
		RunID:               c.runID,
		Suite:               c.suite,
	}
}
