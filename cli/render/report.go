package render

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/pithecene-io/proctor/runtime"
	"github.com/pithecene-io/proctor/types"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true)
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#10B981"))
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#EF4444"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#F59E0B"))
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280"))
)

// renderReport writes the human-facing run summary.
func (r *Renderer) renderReport(report *runtime.RunReport) error {
	fmt.Fprintln(r.out, r.styled(headerStyle, fmt.Sprintf("Run %s", report.RunID)))
	fmt.Fprintf(r.out, "duration=%s exit_code=%d\n\n",
		(time.Duration(report.DurationMs) * time.Millisecond).Round(time.Millisecond),
		report.ExitCode)

	w := tabwriter.NewWriter(r.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PHASE\tSTATUS\tTOTAL\tPASSED\tFAILED\tERRORS\tEXIT")
	for _, phase := range report.Phases {
		o := phase.Outcome
		if o == nil {
			continue
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%d\t%d\n",
			phase.Descriptor.Name, r.phaseStatus(o),
			o.Total, o.Passed, o.Failed, o.Errors, o.ExitCode)
	}
	w.Flush()

	if report.StoppedEarly {
		fmt.Fprintf(r.out, "\n%s\n", r.styled(warnStyle,
			fmt.Sprintf("run stopped at phase %s", report.StoppedEarlyPhase)))
	}
	if report.Error != "" {
		fmt.Fprintf(r.out, "\n%s\n", r.styled(failStyle, "error: "+report.Error))
	}

	t := report.Totals
	fmt.Fprintf(r.out, "\ntotals: %d tests, %d passed, %d failed, %d errors\n",
		t.Total, t.Passed, t.Failed, t.Errors)

	if len(report.FailedNames) > 0 {
		fmt.Fprintln(r.out, "\nfailed:")
		for _, name := range report.FailedNames {
			fmt.Fprintf(r.out, "  %s\n", r.styled(failStyle, name))
		}
	}
	if len(report.ErroredNames) > 0 {
		fmt.Fprintln(r.out, "\nerrored:")
		for _, name := range report.ErroredNames {
			fmt.Fprintf(r.out, "  %s\n", r.styled(failStyle, name))
		}
	}
	if len(report.Recommendations) > 0 {
		fmt.Fprintln(r.out, "\nrecommendations:")
		for _, rec := range report.Recommendations {
			fmt.Fprintf(r.out, "  - %s\n", r.styled(mutedStyle, rec))
		}
	}

	return nil
}

// phaseStatus names the most severe condition a phase's outcome recorded.
func (r *Renderer) phaseStatus(o *types.TestOutcome) string {
	switch {
	case o.Critical != nil:
		return r.styled(failStyle, "critical:"+string(o.Critical.Category))
	case o.ExitCode == runtime.ExitStallKill:
		return r.styled(failStyle, "stalled")
	case o.ExitCode == runtime.ExitTimeout:
		return r.styled(failStyle, "timeout")
	case o.ExitCode == runtime.ExitStartFailure:
		return r.styled(failStyle, "aborted")
	case o.Failed > 0 || o.Errors > 0 || o.ExitCode != 0:
		return r.styled(failStyle, "failed")
	default:
		return r.styled(okStyle, "passed")
	}
}

func (r *Renderer) styled(style lipgloss.Style, s string) string {
	if r.noColor {
		return s
	}
	return style.Render(s)
}
