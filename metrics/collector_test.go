package metrics

import (
	"sync"
	"testing"
)

func TestCollector_NilReceiverSafe(t *testing.T) {
	var c *Collector
	c.IncPhaseStarted()
	c.IncPhaseCompleted()
	c.IncPhaseFailed()
	c.AddPhasesSkipped(2)
	c.IncLineConsumed()
	c.AbsorbProgress(3, 2)
	c.IncCriticalError()
	c.IncStallWarning()
	c.IncStallKill()
	c.IncTimeoutKill()
	c.IncStorePrepared()
	c.IncStoreTornDown()
	c.IncStorePrepareError()
	c.IncArchiveUpload()
	c.IncArchiveUploadError()

	snap := c.Snapshot()
	if snap.PhasesStarted != 0 {
		t.Errorf("nil collector snapshot non-zero: %+v", snap)
	}
}

func TestCollector_CountersAndDimensions(t *testing.T) {
	c := NewCollector("run-001", "account")

	c.IncPhaseStarted()
	c.IncPhaseStarted()
	c.IncPhaseCompleted()
	c.IncPhaseFailed()
	c.AddPhasesSkipped(1)
	c.AbsorbProgress(10, 9)
	c.IncStallWarning()
	c.IncStallWarning()
	c.IncStallKill()
	c.IncStorePrepared()
	c.IncStoreTornDown()

	snap := c.Snapshot()
	if snap.PhasesStarted != 2 {
		t.Errorf("PhasesStarted = %d, want 2", snap.PhasesStarted)
	}
	if snap.PhasesSkipped != 1 {
		t.Errorf("PhasesSkipped = %d, want 1", snap.PhasesSkipped)
	}
	if snap.TestsStarted != 10 || snap.TestsCompleted != 9 {
		t.Errorf("tests = (%d, %d), want (10, 9)", snap.TestsStarted, snap.TestsCompleted)
	}
	if snap.StallWarnings != 2 || snap.StallKills != 1 {
		t.Errorf("stalls = (%d, %d), want (2, 1)", snap.StallWarnings, snap.StallKills)
	}
	if snap.RunID != "run-001" || snap.Suite != "account" {
		t.Errorf("dimensions = (%q, %q), want (run-001, account)", snap.RunID, snap.Suite)
	}
}

func TestCollector_ConcurrentIncrements(t *testing.T) {
	c := NewCollector("run-001", "account")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.IncLineConsumed()
		}()
	}
	wg.Wait()

	if got := c.Snapshot().LinesConsumed; got != 50 {
		t.Errorf("LinesConsumed = %d, want 50", got)
	}
}
