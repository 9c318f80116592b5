package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/proctor/cli/reader"
	"github.com/pithecene-io/proctor/cli/render"
	"github.com/pithecene-io/proctor/cli/tui"
	"github.com/pithecene-io/proctor/console"
)

// WatchCommand returns the watch command. It is read-only: it follows the
// progress and heartbeat documents a running supervisor writes.
func WatchCommand() *cli.Command {
	return &cli.Command{
		Name:      "watch",
		Usage:     "Follow a run directory until the run finishes",
		ArgsUsage: "<run-dir>",
		Flags: append([]cli.Flag{
			&cli.DurationFlag{
				Name:  "interval",
				Usage: "Poll interval",
				Value: tui.DefaultWatchInterval,
			},
			&cli.BoolFlag{
				Name:  "once",
				Usage: "Print a single status snapshot and exit",
			},
		}, OutputFlags()...),
		Action: watchAction,
	}
}

func watchAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("usage: proctor watch <run-dir>", 1)
	}

	r, err := reader.NewRunDirReader(c.Args().First())
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	interval := c.Duration("interval")

	if c.Bool("once") {
		return watchOnce(c, r)
	}

	if console.ClassifyDefault().Interactive {
		return tui.RunWatch(r, interval)
	}
	return watchPlain(c.App.Writer, r, interval)
}

// watchOnce renders a single snapshot through the standard renderer, so
// automated callers get JSON by default.
func watchOnce(c *cli.Context, r reader.StatusReader) error {
	status, err := r.ReadStatus()
	if err != nil {
		return err
	}
	renderer, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	return renderer.Render(status)
}

// watchPlain polls and prints compact status lines until the run's report
// appears. Meant for non-TTY callers that still want live progress.
func watchPlain(w io.Writer, r reader.StatusReader, interval time.Duration) error {
	for {
		status, err := r.ReadStatus()
		if err != nil {
			return err
		}

		for _, phase := range status.Phases {
			fmt.Fprintln(w, plainPhaseLine(status.RunID, phase))
		}

		if status.Done() {
			t := status.Report.Totals
			fmt.Fprintf(w, "run=%s finished exit_code=%d total=%d passed=%d failed=%d errors=%d\n",
				status.RunID, status.Report.ExitCode, t.Total, t.Passed, t.Failed, t.Errors)
			return nil
		}

		time.Sleep(interval)
	}
}

func plainPhaseLine(runID string, phase reader.PhaseStatus) string {
	line := fmt.Sprintf("run=%s phase=%s", runID, phase.Name)
	if phase.Progress != nil {
		line += fmt.Sprintf(" lifecycle=%s started=%d completed=%d",
			phase.Progress.Phase, phase.Progress.TestsStarted, phase.Progress.TestsCompleted)
		if phase.Progress.CurrentTest != "" {
			line += " current=" + phase.Progress.CurrentTest
		}
	}
	if phase.Heartbeat != nil {
		line += fmt.Sprintf(" quiet=%.1fs stalled=%t",
			phase.Heartbeat.SecondsSinceUpdate, phase.Heartbeat.IsStalled)
	}
	return line
}
