package reader

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/pithecene-io/proctor/runtime"
	"github.com/pithecene-io/proctor/types"
)

// StatusReader abstracts run-status access for the watch command and TUI.
type StatusReader interface {
	ReadStatus() (*RunStatus, error)
}

// RunDirReader reads status from a run directory on disk.
//
// Documents are written atomically (temp file plus rename), so a read never
// observes partial JSON. A missing document means the phase has not reached
// that point yet and is not an error.
type RunDirReader struct {
	dir string
}

// NewRunDirReader creates a reader for the given run directory.
func NewRunDirReader(dir string) (*RunDirReader, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("run directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("run directory: %s is not a directory", dir)
	}
	return &RunDirReader{dir: dir}, nil
}

// Dir returns the run directory path.
func (r *RunDirReader) Dir() string { return r.dir }

// ReadStatus scans the run directory and returns a point-in-time view.
func (r *RunDirReader) ReadStatus() (*RunStatus, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, fmt.Errorf("read run directory: %w", err)
	}

	status := &RunStatus{
		RunID: filepath.Base(r.dir),
		Dir:   r.dir,
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		phase, err := r.readPhase(entry.Name())
		if err != nil {
			return nil, err
		}
		status.Phases = append(status.Phases, *phase)
	}
	sort.Slice(status.Phases, func(i, j int) bool {
		return status.Phases[i].Name < status.Phases[j].Name
	})

	report, err := readReport(filepath.Join(r.dir, "report.json"))
	if err != nil {
		return nil, err
	}
	status.Report = report

	return status, nil
}

func (r *RunDirReader) readPhase(name string) (*PhaseStatus, error) {
	dir := filepath.Join(r.dir, name)
	phase := &PhaseStatus{Name: name}

	var progress types.ProgressSnapshot
	ok, err := readJSONFile(filepath.Join(dir, "progress.json"), &progress)
	if err != nil {
		return nil, fmt.Errorf("phase %s: %w", name, err)
	}
	if ok {
		phase.Progress = &progress
	}

	var heartbeat types.Heartbeat
	ok, err = readJSONFile(filepath.Join(dir, "heartbeat.json"), &heartbeat)
	if err != nil {
		return nil, fmt.Errorf("phase %s: %w", name, err)
	}
	if ok {
		phase.Heartbeat = &heartbeat
	}

	if info, err := os.Stat(filepath.Join(dir, "transcript.log")); err == nil {
		phase.TranscriptBytes = info.Size()
	}

	return phase, nil
}

func readReport(path string) (*runtime.RunReport, error) {
	var report runtime.RunReport
	ok, err := readJSONFile(path, &report)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return &report, nil
}

// readJSONFile decodes path into v. Returns false without error when the
// file does not exist yet.
func readJSONFile(path string, v any) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return true, nil
}
