// Package sink persists the live output of a supervised suite run.
//
// Per consumed line the sink appends to a timestamped transcript and a
// machine-facing stream, optionally mirrors to an interactive console, and
// rewrites the progress and heartbeat documents. External monitors read the
// documents concurrently, so every rewrite is a complete JSON value placed
// by rename; no partial state is ever observable.
package sink

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/pithecene-io/proctor/iox"
	"github.com/pithecene-io/proctor/types"
)

// Artifact kind keys, used in TestOutcome.ArtifactPaths.
const (
	KindTranscript = "transcript"
	KindMachine    = "machine"
	KindProgress   = "progress"
	KindHeartbeat  = "heartbeat"
	KindReport     = "report"
)

// RunSink writes all per-run artifacts beneath a single directory.
// It has a single writer (the supervisor loop); methods are not
// goroutine-safe and are not required to be.
type RunSink struct {
	dir string

	transcript  *os.File
	transcriptW *bufio.Writer
	machine     *os.File
	machineW    *bufio.Writer

	// console mirrors the human-facing stream; nil for automated callers.
	console io.Writer

	// now is injectable for tests.
	now func() time.Time
}

// New creates the run directory and opens the line-oriented artifacts.
// console may be nil to disable the human-facing stream.
func New(dir string, console io.Writer) (*RunSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create run directory %s: %w", dir, err)
	}

	transcript, err := os.OpenFile(filepath.Join(dir, "transcript.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open transcript: %w", err)
	}

	machine, err := os.OpenFile(filepath.Join(dir, "output.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		_ = transcript.Close()
		return nil, fmt.Errorf("open machine stream: %w", err)
	}

	return &RunSink{
		dir:         dir,
		transcript:  transcript,
		transcriptW: bufio.NewWriter(transcript),
		machine:     machine,
		machineW:    bufio.NewWriter(machine),
		console:     console,
		now:         time.Now,
	}, nil
}

// Dir returns the run directory.
func (s *RunSink) Dir() string { return s.dir }

// WriteLine persists one raw output line to every stream.
// Line-oriented files are flushed per line so a crash loses at most the
// line in flight.
func (s *RunSink) WriteLine(line string) error {
	stamp := s.now().Format(time.RFC3339Nano)
	if _, err := fmt.Fprintf(s.transcriptW, "%s %s\n", stamp, line); err != nil {
		return fmt.Errorf("write transcript: %w", err)
	}
	if err := s.transcriptW.Flush(); err != nil {
		return fmt.Errorf("flush transcript: %w", err)
	}

	if _, err := fmt.Fprintln(s.machineW, line); err != nil {
		return fmt.Errorf("write machine stream: %w", err)
	}
	if err := s.machineW.Flush(); err != nil {
		return fmt.Errorf("flush machine stream: %w", err)
	}

	if s.console != nil {
		// Console write failures are not fatal to the run.
		_, _ = fmt.Fprintln(s.console, line)
	}
	return nil
}

// WriteProgress atomically replaces the progress document.
func (s *RunSink) WriteProgress(snap types.ProgressSnapshot) error {
	return s.writeJSON("progress.json", snap)
}

// WriteHeartbeat atomically replaces the heartbeat document.
func (s *RunSink) WriteHeartbeat(hb types.Heartbeat) error {
	return s.writeJSON("heartbeat.json", hb)
}

// writeJSON writes the full payload to a temp file in the run directory and
// renames it into place. Rename within one directory is atomic, so a
// concurrent reader sees either the old or the new complete document.
func (s *RunSink) writeJSON(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", name, err)
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(s.dir, name+".tmp-*")
	if err != nil {
		return fmt.Errorf("temp file for %s: %w", name, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close %s: %w", name, err)
	}
	if err := os.Rename(tmpName, filepath.Join(s.dir, name)); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("rename %s: %w", name, err)
	}
	return nil
}

// ArtifactPaths maps artifact kinds to their locations.
func (s *RunSink) ArtifactPaths() map[string]string {
	return map[string]string{
		KindTranscript: filepath.Join(s.dir, "transcript.log"),
		KindMachine:    filepath.Join(s.dir, "output.log"),
		KindProgress:   filepath.Join(s.dir, "progress.json"),
		KindHeartbeat:  filepath.Join(s.dir, "heartbeat.json"),
		KindReport:     filepath.Join(s.dir, "report.json"),
	}
}

// Close flushes and closes the line-oriented artifacts.
func (s *RunSink) Close() error {
	return iox.FirstErr(
		s.transcriptW.Flush,
		s.machineW.Flush,
		s.transcript.Close,
		s.machine.Close,
	)
}
