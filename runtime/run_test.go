package runtime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/pithecene-io/proctor/metrics"
	"github.com/pithecene-io/proctor/store"
	"github.com/pithecene-io/proctor/types"
)

// adminConn is a no-op administrative connection.
type adminConn struct{}

func (adminConn) Exec(_ context.Context, _ string, _ ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}
func (adminConn) Close(_ context.Context) error { return nil }

// adminConnector hands out no-op connections, or fails every connect.
type adminConnector struct {
	connectErr error
}

func (c *adminConnector) Connect(_ context.Context, _ string) (store.Conn, error) {
	if c.connectErr != nil {
		return nil, c.connectErr
	}
	return adminConn{}, nil
}

// scriptFactory hands each created process a canned transcript and exit code,
// in creation order, and records the configs it saw.
type scriptFactory struct {
	mu        sync.Mutex
	scripts   [][]string
	exitCodes []int
	configs   []*ProcessConfig
}

func (f *scriptFactory) new(config *ProcessConfig) Process {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := len(f.configs)
	f.configs = append(f.configs, config)
	return newFakeProcess(f.scripts[i], f.exitCodes[i])
}

func (f *scriptFactory) created() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.configs)
}

func newTestStores(t *testing.T, connector store.Connector) *store.Manager {
	t.Helper()
	m, err := store.NewManager(store.Config{
		Prefix:            "proctor",
		DefaultDatabase:   "shared",
		ReferenceDatabase: "reference",
	}, connector, quietLogger())
	if err != nil {
		t.Fatalf("store.NewManager: %v", err)
	}
	return m
}

func newTestOrchestrator(t *testing.T, phases []types.PhaseDescriptor, factory *scriptFactory, connector store.Connector, collector *metrics.Collector) *RunOrchestrator {
	t.Helper()
	orchestrator, err := NewRunOrchestrator(&RunConfig{
		RunID:             "run-test",
		SuiteCommand:      []string{"./app-server"},
		Phases:            phases,
		Stores:            newTestStores(t, connector),
		ArtifactsRoot:     t.TempDir(),
		ProcessFactory:    factory.new,
		PollInterval:      2 * time.Millisecond,
		StallWarningLimit: 3,
		GracePeriod:       time.Millisecond,
		Collector:         collector,
	}, quietLogger())
	if err != nil {
		t.Fatalf("NewRunOrchestrator: %v", err)
	}
	return orchestrator
}

var passingScript = []string{
	"INFO testdb suite.tests.test_a: Starting TestFlow.test_basic",
	"INFO testdb suite.tests.test_a: OK: TestFlow.test_basic",
	"INFO testdb suite: 0 failed, 0 error(s) of 1 tests",
}

func TestExecuteAllPhasesPass(t *testing.T) {
	phases := []types.PhaseDescriptor{
		{Name: "unit", Isolation: types.IsolationFreshEmpty, Filter: "unit", BaseTimeout: time.Minute},
		{Name: "integration", Isolation: types.IsolationClone, Filter: "integration", BaseTimeout: time.Minute},
	}
	factory := &scriptFactory{
		scripts:   [][]string{passingScript, passingScript},
		exitCodes: []int{0, 0},
	}
	collector := metrics.NewCollector("run-test", "app")
	orchestrator := newTestOrchestrator(t, phases, factory, &adminConnector{}, collector)

	agg, err := orchestrator.Execute(context.Background())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if len(agg.Phases) != 2 {
		t.Fatalf("len(Phases) = %d, want 2", len(agg.Phases))
	}
	if agg.StoppedEarly {
		t.Error("StoppedEarly = true, want false")
	}
	if agg.Failing() {
		t.Error("aggregate reports failing, want passing")
	}
	if got := ProcessExitCode(agg, nil); got != ProcessExitOK {
		t.Errorf("ProcessExitCode = %d, want %d", got, ProcessExitOK)
	}

	// Each phase ran against its own database.
	if factory.configs[0].Database != "proctor_unit" {
		t.Errorf("phase 0 database = %q, want proctor_unit", factory.configs[0].Database)
	}
	if factory.configs[1].Database != "proctor_integration" {
		t.Errorf("phase 1 database = %q, want proctor_integration", factory.configs[1].Database)
	}

	snap := collector.Snapshot()
	if snap.StoresPrepared != 2 || snap.StoresTornDown != 2 {
		t.Errorf("stores prepared/torn down = %d/%d, want 2/2", snap.StoresPrepared, snap.StoresTornDown)
	}
	if snap.PhasesCompleted != 2 || snap.PhasesFailed != 0 {
		t.Errorf("phases completed/failed = %d/%d, want 2/0", snap.PhasesCompleted, snap.PhasesFailed)
	}
}

func TestExecuteFailFast(t *testing.T) {
	phases := []types.PhaseDescriptor{
		{Name: "unit", Isolation: types.IsolationNone, BaseTimeout: time.Minute},
		{Name: "integration", Isolation: types.IsolationNone, BaseTimeout: time.Minute},
		{Name: "tour", Isolation: types.IsolationNone, BaseTimeout: time.Minute},
	}
	failingScript := []string{
		"INFO testdb suite.tests.test_a: Starting TestFlow.test_basic",
		"ERROR testdb suite: FAIL: TestFlow.test_basic",
		"INFO testdb suite: 1 failed, 0 error(s) of 3 tests",
	}
	factory := &scriptFactory{
		scripts:   [][]string{failingScript, passingScript, passingScript},
		exitCodes: []int{1, 0, 0},
	}
	collector := metrics.NewCollector("run-test", "app")
	orchestrator := newTestOrchestrator(t, phases, factory, &adminConnector{}, collector)

	agg, err := orchestrator.Execute(context.Background())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if factory.created() != 1 {
		t.Fatalf("processes created = %d, want 1 (later phases must never start)", factory.created())
	}
	if len(agg.Phases) != 1 {
		t.Fatalf("len(Phases) = %d, want 1", len(agg.Phases))
	}
	if !agg.StoppedEarly || agg.StoppedEarlyPhase != "unit" {
		t.Errorf("StoppedEarly = %v/%q, want true/unit", agg.StoppedEarly, agg.StoppedEarlyPhase)
	}
	if got := ProcessExitCode(agg, nil); got != ProcessExitFailures {
		t.Errorf("ProcessExitCode = %d, want %d", got, ProcessExitFailures)
	}
	if snap := collector.Snapshot(); snap.PhasesSkipped != 2 {
		t.Errorf("PhasesSkipped = %d, want 2", snap.PhasesSkipped)
	}
}

func TestExecuteStorePrepareAborts(t *testing.T) {
	phases := []types.PhaseDescriptor{
		{Name: "unit", Isolation: types.IsolationFreshEmpty, BaseTimeout: time.Minute},
		{Name: "integration", Isolation: types.IsolationNone, BaseTimeout: time.Minute},
	}
	factory := &scriptFactory{
		scripts:   [][]string{passingScript, passingScript},
		exitCodes: []int{0, 0},
	}
	connector := &adminConnector{connectErr: errors.New("connection refused")}
	orchestrator := newTestOrchestrator(t, phases, factory, connector, nil)

	agg, err := orchestrator.Execute(context.Background())
	if err == nil {
		t.Fatal("Execute succeeded, want required-isolation abort")
	}
	if !errors.Is(err, store.ErrIsolationRequired) {
		t.Errorf("err = %v, want ErrIsolationRequired", err)
	}
	if factory.created() != 0 {
		t.Errorf("processes created = %d, want 0", factory.created())
	}
	if len(agg.Phases) != 1 || agg.Phases[0].Outcome.ExitCode != ExitStartFailure {
		t.Errorf("aggregate = %+v, want one aborted phase", agg.Phases)
	}
	if got := ProcessExitCode(agg, err); got != ProcessExitStartup {
		t.Errorf("ProcessExitCode = %d, want %d", got, ProcessExitStartup)
	}
}

func TestExecuteCriticalStopsRun(t *testing.T) {
	phases := []types.PhaseDescriptor{
		{Name: "unit", Isolation: types.IsolationNone, BaseTimeout: time.Minute},
		{Name: "integration", Isolation: types.IsolationNone, BaseTimeout: time.Minute},
	}
	criticalScript := []string{
		"INFO testdb suite.tests.test_a: Starting TestFlow.test_basic",
		"ERROR testdb db: IntegrityError: duplicate key value violates unique constraint \"x\"",
		"INFO testdb suite: trailing output",
	}
	factory := &scriptFactory{
		scripts:   [][]string{criticalScript, passingScript},
		exitCodes: []int{0, 0},
	}
	orchestrator := newTestOrchestrator(t, phases, factory, &adminConnector{}, nil)

	agg, err := orchestrator.Execute(context.Background())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if len(agg.Phases) != 1 {
		t.Fatalf("len(Phases) = %d, want 1", len(agg.Phases))
	}
	outcome := agg.Phases[0].Outcome
	if outcome.Critical == nil {
		t.Fatal("phase outcome has no critical error")
	}
	if outcome.Critical.Category != types.CriticalStorageConstraint {
		t.Errorf("Category = %q, want %q", outcome.Critical.Category, types.CriticalStorageConstraint)
	}
	if got := ProcessExitCode(agg, nil); got != ProcessExitCritical {
		t.Errorf("ProcessExitCode = %d, want %d", got, ProcessExitCritical)
	}
}

func TestExecuteCriticalTearsDownIsolatedStore(t *testing.T) {
	phases := []types.PhaseDescriptor{
		{Name: "unit", Isolation: types.IsolationFreshEmpty, BaseTimeout: time.Minute},
	}
	criticalScript := []string{
		"INFO testdb suite.tests.test_a: Starting TestFlow.test_basic",
		"ERROR testdb db: IntegrityError: duplicate key value violates unique constraint \"x\"",
	}
	factory := &scriptFactory{
		scripts:   [][]string{criticalScript},
		exitCodes: []int{0},
	}
	collector := metrics.NewCollector("run-test", "app")
	orchestrator := newTestOrchestrator(t, phases, factory, &adminConnector{}, collector)

	agg, err := orchestrator.Execute(context.Background())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if agg.Phases[0].Outcome.Critical == nil {
		t.Fatal("phase outcome has no critical error")
	}

	// The kill path must still release the prepared database.
	snap := collector.Snapshot()
	if snap.StoresPrepared != 1 || snap.StoresTornDown != 1 {
		t.Errorf("stores prepared/torn down = %d/%d, want 1/1",
			snap.StoresPrepared, snap.StoresTornDown)
	}
	if snap.PhasesFailed != 1 {
		t.Errorf("PhasesFailed = %d, want 1", snap.PhasesFailed)
	}
}

func TestExecuteLastPhaseFailureMarksStop(t *testing.T) {
	phases := []types.PhaseDescriptor{
		{Name: "unit", Isolation: types.IsolationNone, BaseTimeout: time.Minute},
		{Name: "tour", Isolation: types.IsolationNone, BaseTimeout: time.Minute},
	}
	failingScript := []string{
		"INFO testdb suite.tests.test_a: Starting TestFlow.test_basic",
		"ERROR testdb suite: FAIL: TestFlow.test_basic",
		"INFO testdb suite: 1 failed, 0 error(s) of 1 tests",
	}
	factory := &scriptFactory{
		scripts:   [][]string{passingScript, failingScript},
		exitCodes: []int{0, 1},
	}
	collector := metrics.NewCollector("run-test", "app")
	orchestrator := newTestOrchestrator(t, phases, factory, &adminConnector{}, collector)

	agg, err := orchestrator.Execute(context.Background())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	// The stop is recorded even with no phases left to skip.
	if !agg.StoppedEarly || agg.StoppedEarlyPhase != "tour" {
		t.Errorf("StoppedEarly = %v/%q, want true/tour", agg.StoppedEarly, agg.StoppedEarlyPhase)
	}
	if snap := collector.Snapshot(); snap.PhasesSkipped != 0 {
		t.Errorf("PhasesSkipped = %d, want 0", snap.PhasesSkipped)
	}
}
