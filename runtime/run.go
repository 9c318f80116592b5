package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/pithecene-io/proctor/log"
	"github.com/pithecene-io/proctor/metrics"
	"github.com/pithecene-io/proctor/sink"
	"github.com/pithecene-io/proctor/store"
	"github.com/pithecene-io/proctor/stream"
	"github.com/pithecene-io/proctor/types"
)

// PhaseState tracks a phase's position in its execution lifecycle.
type PhaseState string

// Phase lifecycle states, in order.
const (
	StatePending        PhaseState = "pending"
	StatePreparingStore PhaseState = "preparing_store"
	StateRunning        PhaseState = "running"
	StateParsing        PhaseState = "parsing"
	StateTornDown       PhaseState = "torn_down"
)

// RunConfig configures a full multi-phase run.
type RunConfig struct {
	// RunID identifies the run. Required.
	RunID string
	// SuiteCommand is the base suite command line. Required.
	SuiteCommand []string
	// Phases are executed in order; the first failing phase stops the run.
	Phases []types.PhaseDescriptor
	// Stores manages per-phase backing stores. Required.
	Stores *store.Manager
	// ArtifactsRoot is the directory under which per-run artifacts live.
	ArtifactsRoot string
	// Console mirrors suite output to an interactive terminal. Nil disables
	// mirroring (automated callers).
	Console io.Writer
	// ProcessFactory overrides suite process creation (for testing).
	// If nil, uses NewSuiteProcess.
	ProcessFactory ProcessFactory
	// ExtraArgs are appended to every phase's command line.
	ExtraArgs []string

	// PollInterval, StallWarningLimit, and GracePeriod tune the supervisor;
	// zero values take the supervisor defaults.
	PollInterval      time.Duration
	StallWarningLimit int
	GracePeriod       time.Duration

	// Collector records run counters. Nil disables metrics (all Collector
	// methods are nil-safe).
	Collector *metrics.Collector
}

// RunOrchestrator executes the phase sequence for one run.
type RunOrchestrator struct {
	config    *RunConfig
	logger    *log.Logger
	startTime time.Time
}

// NewRunOrchestrator creates a run orchestrator.
// Returns an error if the configuration is incomplete.
func NewRunOrchestrator(config *RunConfig, logger *log.Logger) (*RunOrchestrator, error) {
	if config.RunID == "" {
		return nil, errors.New("run id is required")
	}
	if len(config.SuiteCommand) == 0 {
		return nil, errors.New("suite command is required")
	}
	if len(config.Phases) == 0 {
		return nil, errors.New("at least one phase is required")
	}
	if config.Stores == nil {
		return nil, errors.New("store manager is required")
	}
	return &RunOrchestrator{config: config, logger: logger}, nil
}

// RunDir returns the directory holding this run's artifacts.
func (r *RunOrchestrator) RunDir() string {
	return filepath.Join(r.config.ArtifactsRoot, r.config.RunID)
}

// Execute runs the phase sequence with fail-fast semantics.
//
// Phases execute strictly in order. The first phase whose outcome is failing
// (failed or errored tests, a critical condition, or any nonzero exit code,
// synthetic codes included) stops the run; remaining phases are skipped and
// counted, never started. A phase whose required store preparation fails
// aborts the run with an error; the aggregate still records the aborted
// phase so the report shows where the run died.
func (r *RunOrchestrator) Execute(ctx context.Context) (*types.RunAggregate, error) {
	r.startTime = time.Now()
	agg := &types.RunAggregate{RunID: r.config.RunID}

	r.logger.Info("starting run", map[string]any{
		"phases":  len(r.config.Phases),
		"command": r.config.SuiteCommand,
	})

	for i, desc := range r.config.Phases {
		outcome, err := r.runPhase(ctx, desc)
		if err != nil {
			agg.Phases = append(agg.Phases, types.PhaseResult{
				Descriptor: desc,
				Outcome:    &types.TestOutcome{ExitCode: ExitStartFailure},
			})
			r.stopEarly(agg, i, desc)
			return agg, fmt.Errorf("phase %s: %w", desc.Name, err)
		}

		agg.Phases = append(agg.Phases, types.PhaseResult{Descriptor: desc, Outcome: outcome})

		if outcome.Failing() || outcome.ExitCode != 0 {
			r.logger.Warn("phase failed, stopping run", map[string]any{
				"phase":     desc.Name,
				"failed":    outcome.Failed,
				"errors":    outcome.Errors,
				"exit_code": outcome.ExitCode,
			})
			r.stopEarly(agg, i, desc)
			break
		}
	}

	total, passed, failed, errs := agg.Totals()
	r.logger.Info("run finished", map[string]any{
		"total":         total,
		"passed":        passed,
		"failed":        failed,
		"errors":        errs,
		"stopped_early": agg.StoppedEarly,
		"duration":      time.Since(r.startTime).String(),
	})
	return agg, nil
}

// stopEarly finalizes the aggregate when phase i stops the run. The flag is
// set even when no phases remain so the report always names the stopping
// phase; skipped-phase accounting only applies to the ones never started.
func (r *RunOrchestrator) stopEarly(agg *types.RunAggregate, i int, desc types.PhaseDescriptor) {
	agg.StoppedEarly = true
	agg.StoppedEarlyPhase = desc.Name
	if skipped := len(r.config.Phases) - 1 - i; skipped > 0 {
		r.config.Collector.AddPhasesSkipped(skipped)
	}
}

// runPhase executes one phase end to end: prepare store, supervise the suite
// process, parse the outcome, tear the store down. Teardown runs exactly once
// per successful preparation, on every exit path, with a context that
// survives cancellation of the phase itself.
func (r *RunOrchestrator) runPhase(ctx context.Context, desc types.PhaseDescriptor) (*types.TestOutcome, error) {
	logger := r.logger.WithPhase(desc.Name)
	state := StatePending
	enter := func(next PhaseState) {
		state = next
		logger.Debug("phase state", map[string]any{"state": string(state)})
	}
	r.config.Collector.IncPhaseStarted()

	logger.Info("phase starting", map[string]any{
		"isolation": string(desc.Isolation),
		"filter":    desc.Filter,
		"timeout":   desc.BaseTimeout.String(),
	})

	enter(StatePreparingStore)
	handle, err := r.config.Stores.Prepare(ctx, desc)
	if err != nil {
		r.config.Collector.IncStorePrepareError()
		r.config.Collector.IncPhaseFailed()
		return nil, fmt.Errorf("store preparation: %w", err)
	}
	if handle.Isolation != types.IsolationNone && !handle.FellBack {
		r.config.Collector.IncStorePrepared()
	}
	defer func() {
		r.config.Stores.Teardown(context.WithoutCancel(ctx), handle)
		if handle.Isolation != types.IsolationNone && !handle.FellBack {
			r.config.Collector.IncStoreTornDown()
		}
		enter(StateTornDown)
	}()

	snk, err := sink.New(filepath.Join(r.RunDir(), desc.Name), r.config.Console)
	if err != nil {
		r.config.Collector.IncPhaseFailed()
		return nil, fmt.Errorf("output sink: %w", err)
	}
	defer func() {
		if closeErr := snk.Close(); closeErr != nil {
			logger.Warn("sink close failed", map[string]any{"error": closeErr.Error()})
		}
	}()

	tracker := stream.NewTracker(desc.StallThresholds)
	detector := stream.NewDetector()

	processConfig := &ProcessConfig{
		Command:           r.config.SuiteCommand,
		Database:          handle.Database,
		Filter:            desc.Filter,
		DisableSchedulers: true,
		Env:               desc.Env,
		ExtraArgs:         r.config.ExtraArgs,
	}
	var process Process
	if r.config.ProcessFactory != nil {
		process = r.config.ProcessFactory(processConfig)
	} else {
		process = NewSuiteProcess(processConfig)
	}

	enter(StateRunning)
	supervisor := NewSupervisor(&SupervisorConfig{
		Process:           process,
		Tracker:           tracker,
		Detector:          detector,
		Sink:              snk,
		Logger:            logger,
		Collector:         r.config.Collector,
		Timeout:           desc.BaseTimeout,
		PollInterval:      r.config.PollInterval,
		StallWarningLimit: r.config.StallWarningLimit,
		GracePeriod:       r.config.GracePeriod,
	})
	result := supervisor.Run(ctx)

	enter(StateParsing)
	snap := tracker.Snapshot()
	r.config.Collector.AbsorbProgress(snap.TestsStarted, snap.TestsCompleted)

	outcome := ParseOutcome(result, snap)
	outcome.ArtifactPaths = snk.ArtifactPaths()

	if outcome.Failing() || outcome.ExitCode != 0 {
		r.config.Collector.IncPhaseFailed()
	} else {
		r.config.Collector.IncPhaseCompleted()
	}

	logger.Info("phase finished", map[string]any{
		"total":     outcome.Total,
		"passed":    outcome.Passed,
		"failed":    outcome.Failed,
		"errors":    outcome.Errors,
		"exit_code": outcome.ExitCode,
		"reason":    string(result.Reason),
	})
	return outcome, nil
}
