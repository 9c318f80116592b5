package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/pithecene-io/proctor/cli/reader"
	"github.com/pithecene-io/proctor/runtime"
	"github.com/pithecene-io/proctor/types"
)

// DefaultWatchInterval is how often the watch view re-reads the run directory.
const DefaultWatchInterval = time.Second

// keyMap defines key bindings.
type keyMap struct {
	Quit key.Binding
}

var keys = keyMap{
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
}

type tickMsg time.Time

type statusMsg struct {
	status *reader.RunStatus
	err    error
}

// WatchModel is the Bubble Tea model for the watch view.
type WatchModel struct {
	reader   reader.StatusReader
	interval time.Duration

	status   *reader.RunStatus
	err      error
	width    int
	height   int
	quitting bool
}

// NewWatchModel creates a watch model polling the given reader.
func NewWatchModel(r reader.StatusReader, interval time.Duration) WatchModel {
	if interval <= 0 {
		interval = DefaultWatchInterval
	}
	return WatchModel{reader: r, interval: interval}
}

// Init implements tea.Model.
func (m WatchModel) Init() tea.Cmd {
	return tea.Batch(m.poll(), m.tick())
}

func (m WatchModel) poll() tea.Cmd {
	return func() tea.Msg {
		status, err := m.reader.ReadStatus()
		return statusMsg{status: status, err: err}
	}
}

func (m WatchModel) tick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Update implements tea.Model.
func (m WatchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		if key.Matches(msg, keys.Quit) {
			m.quitting = true
			return m, tea.Quit
		}

	case tickMsg:
		// Keep polling after the report appears; the directory may still
		// gain late artifacts, and the view stays up until the user quits.
		return m, tea.Batch(m.poll(), m.tick())

	case statusMsg:
		// A transient read error keeps the previous status on screen.
		m.err = msg.err
		if msg.err == nil {
			m.status = msg.status
		}
		return m, nil
	}

	return m, nil
}

// View implements tea.Model.
func (m WatchModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	if m.status == nil {
		b.WriteString(TitleStyle.Render("Waiting for run directory..."))
		if m.err != nil {
			b.WriteString("\n" + ErrorStyle.Render(m.err.Error()))
		}
	} else {
		b.WriteString(renderStatus(m.status))
		if m.err != nil {
			b.WriteString("\n" + WarningStyle.Render("read error: "+m.err.Error()))
		}
	}

	b.WriteString("\n" + HelpStyle.Render("Press q or Ctrl+C to quit"))
	return b.String()
}

func renderStatus(status *reader.RunStatus) string {
	var b strings.Builder
	b.WriteString(TitleStyle.Render("Run " + status.RunID))
	b.WriteString("\n")

	for _, phase := range status.Phases {
		b.WriteString("\n")
		b.WriteString(renderPhasePanel(phase, status.Report))
	}

	if status.Report != nil {
		b.WriteString("\n\n")
		line := fmt.Sprintf("run finished: exit_code=%d (%d tests, %d passed, %d failed, %d errors)",
			status.Report.ExitCode,
			status.Report.Totals.Total, status.Report.Totals.Passed,
			status.Report.Totals.Failed, status.Report.Totals.Errors)
		if status.Report.ExitCode == runtime.ProcessExitOK {
			b.WriteString(SuccessStyle.Render(line))
		} else {
			b.WriteString(ErrorStyle.Render(line))
		}
	}

	return b.String()
}

func renderPhasePanel(phase reader.PhaseStatus, report *runtime.RunReport) string {
	state := phaseState(phase, report)

	var b strings.Builder
	title := lipgloss.NewStyle().Bold(true).Foreground(highlightColor).Render(phase.Name)
	b.WriteString(fmt.Sprintf("%s  %s\n", title, PhaseStateStyle(state).Render(state)))

	if phase.Progress != nil {
		p := phase.Progress
		boxes := []string{
			renderStatBox("Started", p.TestsStarted),
			renderStatBox("Completed", p.TestsCompleted),
		}
		b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, boxes...))
		b.WriteString("\n")
		if p.CurrentTest != "" {
			b.WriteString(fmt.Sprintf("%s %s\n",
				LabelStyle.Render("Current:"), ValueStyle.Render(p.CurrentTest)))
		}
	}

	if phase.Heartbeat != nil {
		hb := phase.Heartbeat
		quiet := fmt.Sprintf("%.0fs ago (threshold %.0fs)", hb.SecondsSinceUpdate, hb.StallThresholdSecs)
		style := ValueStyle
		if hb.IsStalled {
			style = ErrorStyle
		}
		b.WriteString(fmt.Sprintf("%s %s\n",
			LabelStyle.Render("Last output:"), style.Render(quiet)))
	}

	return BoxStyle.Render(strings.TrimRight(b.String(), "\n"))
}

func renderStatBox(label string, value int) string {
	content := lipgloss.JoinVertical(lipgloss.Center,
		StatValueStyle.Render(fmt.Sprintf("%d", value)),
		StatLabelStyle.Render(label))
	return StatBoxStyle.Render(content)
}

// phaseState names the phase's observable state. Finished phases take their
// state from the report; live phases from the heartbeat and progress.
func phaseState(phase reader.PhaseStatus, report *runtime.RunReport) string {
	if report != nil {
		for _, p := range report.Phases {
			if p.Descriptor.Name == phase.Name && p.Outcome != nil {
				return outcomeState(p.Outcome)
			}
		}
	}
	if phase.Heartbeat != nil && phase.Heartbeat.IsStalled {
		return "stalled"
	}
	if phase.Progress != nil {
		return string(phase.Progress.Phase)
	}
	return "pending"
}

func outcomeState(o *types.TestOutcome) string {
	switch {
	case o.Critical != nil:
		return "critical"
	case o.ExitCode == runtime.ExitStallKill:
		return "stalled"
	case o.ExitCode == runtime.ExitTimeout:
		return "timeout"
	case o.ExitCode == runtime.ExitStartFailure:
		return "aborted"
	case o.Failed > 0 || o.Errors > 0 || o.ExitCode != 0:
		return "failed"
	default:
		return "passed"
	}
}

// RunWatch runs the watch TUI until the user quits.
func RunWatch(r reader.StatusReader, interval time.Duration) error {
	model := NewWatchModel(r, interval)
	p := tea.NewProgram(model, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// RenderWatchStatic renders a single status snapshot without the TUI loop.
func RenderWatchStatic(status *reader.RunStatus) string {
	return lipgloss.NewStyle().Padding(1, 2).Render(renderStatus(status))
}
