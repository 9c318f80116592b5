package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"syscall"
)

// Process abstracts the suite process lifecycle for testing.
type Process interface {
	Start(ctx context.Context) error
	// Output is the merged stdout+stderr stream. It reaches EOF once the
	// process has exited and all buffered output has been read.
	Output() io.Reader
	// Wait reaps the process and returns its exit code.
	Wait() (int, error)
	Signal(sig os.Signal) error
	Kill() error
}

// ProcessFactory creates a Process. Used for test injection.
type ProcessFactory func(config *ProcessConfig) Process

// ProcessConfig configures one suite process invocation.
type ProcessConfig struct {
	// Command is the base suite command line, e.g. ["./app-server"].
	Command []string
	// Database is the backing-store database name for this phase.
	Database string
	// Filter is the test selection filter (tags). Empty selects everything.
	Filter string
	// DisableSchedulers turns off the suite's background job workers so test
	// timing is deterministic.
	DisableSchedulers bool
	// Env holds category-specific environment overrides, applied on top of
	// the inherited environment.
	Env map[string]string
	// ExtraArgs are appended verbatim after the generated flags.
	ExtraArgs []string
}

// SuiteProcess manages one suite process with merged output.
type SuiteProcess struct {
	config *ProcessConfig
	cmd    *exec.Cmd

	outR *io.PipeReader
	outW *io.PipeWriter
}

// NewSuiteProcess creates a suite process manager.
func NewSuiteProcess(config *ProcessConfig) *SuiteProcess {
	return &SuiteProcess{config: config}
}

// Args returns the full argument vector the process will run with,
// command name included.
func (p *SuiteProcess) Args() []string {
	args := make([]string, 0, len(p.config.Command)+8+len(p.config.ExtraArgs))
	args = append(args, p.config.Command...)
	args = append(args, "--database", p.config.Database, "--test-enable")
	if p.config.Filter != "" {
		args = append(args, "--test-tags", p.config.Filter)
	}
	if p.config.DisableSchedulers {
		args = append(args, "--max-cron-threads", "0")
	}
	args = append(args, p.config.ExtraArgs...)
	return args
}

// Start launches the suite process. Stdout and stderr are merged into a
// single stream: the suite's test logging goes to stderr while its server
// banner goes to stdout, and the marker vocabulary spans both.
func (p *SuiteProcess) Start(ctx context.Context) error {
	if len(p.config.Command) == 0 {
		return errors.New("suite command is empty")
	}

	args := p.Args()
	p.cmd = exec.CommandContext(ctx, args[0], args[1:]...)

	if len(p.config.Env) > 0 {
		p.cmd.Env = os.Environ()
		for key, value := range p.config.Env {
			p.cmd.Env = append(p.cmd.Env, key+"="+value)
		}
		p.cmd.Env = deduplicateEnv(p.cmd.Env)
	}

	p.outR, p.outW = io.Pipe()
	p.cmd.Stdout = p.outW
	p.cmd.Stderr = p.outW

	if err := p.cmd.Start(); err != nil {
		_ = p.outW.Close()
		return fmt.Errorf("failed to start suite process: %w", err)
	}
	return nil
}

// Output returns the merged output stream.
func (p *SuiteProcess) Output() io.Reader {
	return p.outR
}

// Wait reaps the process and returns the exit code.
// Must be called after Start. Closes the output stream so readers see EOF.
func (p *SuiteProcess) Wait() (int, error) {
	if p.cmd == nil {
		return 0, errors.New("suite process not started")
	}

	err := p.cmd.Wait()
	_ = p.outW.Close()

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
				return status.ExitStatus(), nil
			}
			return -1, nil
		}
		return 0, fmt.Errorf("suite process wait failed: %w", err)
	}
	return 0, nil
}

// Signal sends a signal to the suite process.
func (p *SuiteProcess) Signal(sig os.Signal) error {
	if p.cmd == nil || p.cmd.Process == nil {
		return errors.New("suite process not started")
	}
	return p.cmd.Process.Signal(sig)
}

// Kill terminates the suite process.
func (p *SuiteProcess) Kill() error {
	if p.cmd != nil && p.cmd.Process != nil {
		return p.cmd.Process.Kill()
	}
	return nil
}

// deduplicateEnv keeps the last occurrence of each env var key so per-phase
// overrides win over inherited duplicates from os.Environ().
func deduplicateEnv(env []string) []string {
	seen := make(map[string]int, len(env))
	for i, entry := range env {
		key, _, _ := strings.Cut(entry, "=")
		seen[key] = i
	}
	result := make([]string, 0, len(seen))
	for i, entry := range env {
		key, _, _ := strings.Cut(entry, "=")
		if seen[key] == i {
			result = append(result, entry)
		}
	}
	return result
}
