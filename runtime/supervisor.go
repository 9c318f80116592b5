package runtime

import (
	"bufio"
	"context"
	"syscall"
	"time"

	"github.com/pithecene-io/proctor/log"
	"github.com/pithecene-io/proctor/metrics"
	"github.com/pithecene-io/proctor/sink"
	"github.com/pithecene-io/proctor/stream"
	"github.com/pithecene-io/proctor/types"
)

// Synthetic exit codes for conditions the supervisor detects itself. All are
// negative so they can never collide with a real suite exit code.
const (
	// ExitCritical: a critical log condition forced termination.
	ExitCritical = -1
	// ExitStallKill: the process was killed after repeated stall warnings.
	ExitStallKill = -2
	// ExitTimeout: the phase's global timeout expired.
	ExitTimeout = -3
	// ExitStartFailure: the process could not be started.
	ExitStartFailure = -4
)

// TerminationReason records why the supervisor terminated the process early.
type TerminationReason string

// Termination reasons. Empty means the process exited on its own.
const (
	TermNone         TerminationReason = ""
	TermCritical     TerminationReason = "critical_error"
	TermStall        TerminationReason = "stall"
	TermTimeout      TerminationReason = "timeout"
	TermStartFailure TerminationReason = "start_failure"
	TermCanceled     TerminationReason = "canceled"
)

// SupervisorConfig configures one supervised process run.
type SupervisorConfig struct {
	Process  Process
	Tracker  *stream.Tracker
	Detector *stream.Detector
	Sink     *sink.RunSink
	Logger   *log.Logger
	// Collector records supervision counters. Nil disables metrics (all
	// Collector methods are nil-safe).
	Collector *metrics.Collector

	// Timeout is the global deadline for the process. Zero disables it.
	Timeout time.Duration
	// PollInterval is the watchdog cadence. Defaults to 1s.
	PollInterval time.Duration
	// StallWarningLimit is the number of consecutive stalled polls before
	// the process is killed. Defaults to 10.
	StallWarningLimit int
	// GracePeriod is how long a terminated process gets between SIGTERM and
	// SIGKILL. Defaults to 5s.
	GracePeriod time.Duration
}

// SuperviseResult is what one supervised process run produced.
type SuperviseResult struct {
	// ExitCode is the suite exit code, or a synthetic negative code when the
	// supervisor terminated the process itself.
	ExitCode int
	// Transcript holds every consumed output line in order.
	Transcript []string
	// Critical is the sticky first critical condition, if one was detected.
	Critical *types.CriticalError
	// Reason is why the process was terminated early, if it was.
	Reason TerminationReason
	// Elapsed is the wall time from Start to full output drain.
	Elapsed time.Duration
}

// Supervisor runs one suite process to completion under a watchdog.
//
// A pump goroutine feeds output lines into a channel; the supervision loop
// consumes lines and, on a fixed poll cadence, checks termination conditions
// in priority order: critical error, then global timeout, then stall. A
// detected critical therefore terminates the process no later than one poll
// interval after the triggering line. After any termination decision the
// loop keeps draining buffered output until EOF, so the transcript and the
// progress documents always reflect everything the process managed to emit.
type Supervisor struct {
	config *SupervisorConfig

	stallWarnings int
	terminated    bool
	reason        TerminationReason
	synthetic     int

	// exited is closed once Wait has reaped the process.
	exited chan struct{}
}

// NewSupervisor creates a supervisor with defaults filled in.
func NewSupervisor(config *SupervisorConfig) *Supervisor {
	if config.PollInterval <= 0 {
		config.PollInterval = time.Second
	}
	if config.StallWarningLimit <= 0 {
		config.StallWarningLimit = 10
	}
	if config.GracePeriod <= 0 {
		config.GracePeriod = 5 * time.Second
	}
	return &Supervisor{
		config: config,
		exited: make(chan struct{}),
	}
}

type waitResult struct {
	code int
	err  error
}

// Run starts the process and supervises it until its output is drained.
// It never returns a nil result.
func (s *Supervisor) Run(ctx context.Context) *SuperviseResult {
	start := time.Now()

	if err := s.config.Process.Start(ctx); err != nil {
		s.config.Logger.Error("failed to start suite process", map[string]any{
			"error": err.Error(),
		})
		return &SuperviseResult{
			ExitCode: ExitStartFailure,
			Reason:   TermStartFailure,
			Elapsed:  time.Since(start),
		}
	}

	lines := make(chan string, 256)
	go s.pump(lines)

	waitCh := make(chan waitResult, 1)
	go func() {
		code, err := s.config.Process.Wait()
		waitCh <- waitResult{code: code, err: err}
		close(s.exited)
	}()

	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	var transcript []string
	done := ctx.Done()
	for lines != nil {
		select {
		case line, ok := <-lines:
			if !ok {
				lines = nil
				continue
			}
			transcript = append(transcript, line)
			s.consume(line)
			s.stallWarnings = 0
		case now := <-ticker.C:
			s.watchdog(now, start)
		case <-done:
			done = nil
			s.terminate(TermCanceled, ExitTimeout)
		}
	}

	wr := <-waitCh
	if wr.err != nil {
		s.config.Logger.Error("suite process wait failed", map[string]any{
			"error": wr.err.Error(),
		})
	}

	exit := wr.code
	if s.terminated {
		exit = s.synthetic
	}

	result := &SuperviseResult{
		ExitCode:   exit,
		Transcript: transcript,
		Critical:   s.config.Detector.Critical(),
		Reason:     s.reason,
		Elapsed:    time.Since(start),
	}

	s.config.Logger.Info("suite process finished", map[string]any{
		"exit_code": result.ExitCode,
		"reason":    string(result.Reason),
		"lines":     len(transcript),
		"elapsed":   result.Elapsed.String(),
	})
	return result
}

// pump reads merged output line by line and closes the channel at EOF.
func (s *Supervisor) pump(lines chan<- string) {
	scanner := bufio.NewScanner(s.config.Process.Output())
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines <- scanner.Text()
	}
	close(lines)
}

// consume routes one output line through sink, tracker, and detector, then
// rewrites the progress and heartbeat documents.
func (s *Supervisor) consume(line string) {
	if err := s.config.Sink.WriteLine(line); err != nil {
		s.config.Logger.Warn("artifact write failed", map[string]any{
			"error": err.Error(),
		})
	}

	s.config.Tracker.Consume(line)
	s.config.Collector.IncLineConsumed()

	snap := s.config.Tracker.Snapshot()
	if crit := s.config.Detector.Scan(line, snap); crit != nil {
		s.config.Collector.IncCriticalError()
		s.config.Logger.Error("critical condition detected", map[string]any{
			"category":     string(crit.Category),
			"line":         crit.TriggeringLine,
			"phase":        string(crit.Phase),
			"current_test": crit.CurrentTest,
		})
	}

	_ = s.config.Sink.WriteProgress(snap)
	_ = s.config.Sink.WriteHeartbeat(s.config.Tracker.Heartbeat(time.Now()))
}

// watchdog evaluates termination conditions for one poll tick.
func (s *Supervisor) watchdog(now, start time.Time) {
	hb := s.config.Tracker.Heartbeat(now)
	_ = s.config.Sink.WriteHeartbeat(hb)
	_ = s.config.Sink.WriteProgress(s.config.Tracker.Snapshot())

	if s.terminated {
		return
	}

	if crit := s.config.Detector.Critical(); crit != nil {
		s.terminate(TermCritical, ExitCritical)
		return
	}

	if s.config.Timeout > 0 && now.Sub(start) > s.config.Timeout {
		s.config.Collector.IncTimeoutKill()
		s.config.Logger.Error("global timeout exceeded", map[string]any{
			"timeout": s.config.Timeout.String(),
			"elapsed": now.Sub(start).String(),
		})
		s.terminate(TermTimeout, ExitTimeout)
		return
	}

	if hb.IsStalled {
		s.stallWarnings++
		s.config.Collector.IncStallWarning()
		s.config.Logger.Warn("no output past stall threshold", map[string]any{
			"phase":                string(hb.Phase),
			"seconds_since_update": hb.SecondsSinceUpdate,
			"threshold_seconds":    hb.StallThresholdSecs,
			"consecutive_warnings": s.stallWarnings,
		})
		if s.stallWarnings >= s.config.StallWarningLimit {
			s.config.Collector.IncStallKill()
			s.terminate(TermStall, ExitStallKill)
		}
		return
	}
	s.stallWarnings = 0
}

// terminate requests process shutdown at most once: SIGTERM, then SIGKILL
// after the grace period if the process has not been reaped by then.
func (s *Supervisor) terminate(reason TerminationReason, syntheticExit int) {
	if s.terminated {
		return
	}
	s.terminated = true
	s.reason = reason
	s.synthetic = syntheticExit

	s.config.Logger.Warn("terminating suite process", map[string]any{
		"reason": string(reason),
		"grace":  s.config.GracePeriod.String(),
	})

	if err := s.config.Process.Signal(syscall.SIGTERM); err != nil {
		_ = s.config.Process.Kill()
		return
	}

	go func() {
		select {
		case <-s.exited:
		case <-time.After(s.config.GracePeriod):
			_ = s.config.Process.Kill()
		}
	}()
}
