package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"charm.land/bubbles/v2/progress"
	tea "charm.land/bubbletea/v2"
	"github.com/charmbracelet/lipgloss"
	"github.com/raphaelgruber/botctl/internal/client"
	"github.com/raphaelgruber/botctl/internal/monitor"
)

// logTail is the number of log lines shown under the progress bar.
const logTail = 8

// Theme holds the color scheme for the interactive views.
type Theme struct {
	Status     lipgloss.Color
	Success    lipgloss.Color
	Warning    lipgloss.Color
	Error      lipgloss.Color
	Hint       lipgloss.Color
	ProgressBg lipgloss.Color
}

// defaultTheme provides default colors.
var defaultTheme = Theme{
	Status:     lipgloss.Color("#5FAFD7"), // light blue
	Success:    lipgloss.Color("#00D787"), // green
	Warning:    lipgloss.Color("#FFAF00"), // amber
	Error:      lipgloss.Color("#FF005F"), // red
	Hint:       lipgloss.Color("#6C6C6C"), // dim gray
	ProgressBg: lipgloss.Color("#3A3A3A"), // dark gray
}

// Style functions for dynamic theming
func (t Theme) statusStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Status)
}

func (t Theme) completedStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Success).Bold(true)
}

func (t Theme) warningStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Warning)
}

func (t Theme) errorStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Error).Bold(true)
}

func (t Theme) hintStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Hint).Italic(true)
}

// levelStyle colors a log line by severity.
func (t Theme) levelStyle(level client.LogLevel) lipgloss.Style {
	switch level {
	case client.LogLevelError:
		return lipgloss.NewStyle().Foreground(t.Error)
	case client.LogLevelWarning:
		return t.warningStyle()
	case client.LogLevelDebug:
		return lipgloss.NewStyle().Foreground(t.Hint)
	}
	return lipgloss.NewStyle()
}

// jobUpdateMsg carries one poll result of the monitor
type jobUpdateMsg monitor.Update

// updatesClosedMsg reports that the poll loop stopped
type updatesClosedMsg struct{}

// cancelResultMsg carries the outcome of a cancel request
type cancelResultMsg struct {
	err error
}

// progressModel is the bubbletea model for training job progress.
type progressModel struct {
	mon        *monitor.Monitor
	updates    <-chan monitor.Update
	jobID      int
	job        *client.TrainingJob
	logs       []client.TrainingLog
	pollErr    error
	progress   progress.Model
	theme      Theme
	cancelling bool
	notice     string
	done       bool
	quitting   bool
	err        error
}

// newProgressModel creates a new progress model.
func newProgressModel(mon *monitor.Monitor, jobID int, updates <-chan monitor.Update) progressModel {
	prog := progress.New(
		progress.WithDefaultBlend(),
		progress.WithWidth(40),
	)

	return progressModel{
		mon:      mon,
		updates:  updates,
		jobID:    jobID,
		progress: prog,
		theme:    defaultTheme,
	}
}

// Init returns the initial command (wait for the first poll).
func (m progressModel) Init() tea.Cmd {
	return tea.Batch(
		waitForUpdate(m.updates),
		m.progress.Init(),
	)
}

// Update handles messages and returns the updated model.
func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyPressMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		case "c":
			if m.cancelling {
				return m, nil
			}
			if !m.mon.Cancellable(m.jobID) {
				m.notice = "job can no longer be cancelled"
				return m, nil
			}
			m.cancelling = true
			m.notice = "cancelling..."
			return m, m.cancelJob()
		}

	case jobUpdateMsg:
		m.pollErr = msg.Err
		if msg.Job != nil {
			m.job = msg.Job
		}
		if msg.Logs != nil {
			m.logs = msg.Logs
		}

		if m.job != nil && m.job.Status.Terminal() {
			m.done = true
			if m.job.Status == client.JobStatusFailed {
				if m.job.ErrorMessage != nil && *m.job.ErrorMessage != "" {
					m.err = errors.New(*m.job.ErrorMessage)
				} else {
					m.err = errors.New("job failed with unknown error")
				}
			}
			return m, tea.Quit
		}

		return m, waitForUpdate(m.updates)

	case updatesClosedMsg:
		m.done = true
		return m, tea.Quit

	case cancelResultMsg:
		m.cancelling = false
		if msg.err != nil {
			m.notice = fmt.Sprintf("cancel failed: %v", msg.err)
		} else {
			m.notice = "cancel requested"
		}
		return m, nil

	case progress.FrameMsg:
		var cmd tea.Cmd
		m.progress, cmd = m.progress.Update(msg)
		return m, cmd
	}

	return m, nil
}

// View renders the progress display.
func (m progressModel) View() tea.View {
	return tea.NewView(m.renderContent())
}

// renderContent builds the display string.
func (m progressModel) renderContent() string {
	if m.done {
		return m.finalView()
	}

	if m.job == nil {
		if m.pollErr != nil {
			return m.theme.warningStyle().Render(fmt.Sprintf("Loading job %d... (%v)\n", m.jobID, m.pollErr))
		}
		return fmt.Sprintf("Loading job %d...\n", m.jobID)
	}

	var b strings.Builder
	status := m.theme.statusStyle().Render(fmt.Sprintf("[%s]", m.job.Status))
	bar := m.progress.ViewAs(float64(m.job.Progress) / 100)
	fmt.Fprintf(&b, "Job #%d %s %s %3d%%\n", m.job.ID, status, bar, m.job.Progress)

	if m.pollErr != nil {
		b.WriteString(m.theme.warningStyle().Render(fmt.Sprintf("  poll failed, retrying: %v", m.pollErr)))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(m.renderLogs())

	if m.notice != "" {
		b.WriteString("\n" + m.theme.warningStyle().Render(m.notice) + "\n")
	}
	b.WriteString("\n" + m.theme.hintStyle().Render("c cancel job • q continue in background") + "\n")
	return b.String()
}

func (m progressModel) renderLogs() string {
	if len(m.logs) == 0 {
		return m.theme.hintStyle().Render("  no log entries yet") + "\n"
	}
	logs := m.logs
	if len(logs) > logTail {
		logs = logs[len(logs)-logTail:]
	}
	var b strings.Builder
	for _, l := range logs {
		b.WriteString(m.theme.levelStyle(l.Level).Render(formatLogLine(l)))
		b.WriteString("\n")
	}
	return b.String()
}

// finalView renders the completion message.
func (m progressModel) finalView() string {
	if m.quitting {
		msg := fmt.Sprintf("\nJob %d continues in background.\nUse 'botctl watch %d' to follow it again.\n",
			m.jobID, m.jobID)
		return m.theme.hintStyle().Render(msg)
	}

	if m.err != nil {
		return m.renderLogs() + m.theme.errorStyle().Render(fmt.Sprintf("\n✗ Training failed: %s\n", m.err))
	}

	if m.job == nil {
		return m.theme.hintStyle().Render(fmt.Sprintf("\nStopped watching job %d.\n", m.jobID))
	}

	if m.job.Status == client.JobStatusCancelled {
		return m.theme.warningStyle().Render(fmt.Sprintf("\n■ Job %d cancelled at %d%%\n", m.job.ID, m.job.Progress))
	}

	out := m.theme.completedStyle().Render("✓ Training completed") + "\n\n"
	out += jobSummary(m.job)
	return out
}

// cancelJob requests cancellation in a command to keep Update non-blocking.
func (m progressModel) cancelJob() tea.Cmd {
	mon, jobID := m.mon, m.jobID
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return cancelResultMsg{err: mon.Cancel(ctx, jobID)}
	}
}

// waitForUpdate blocks on the monitor channel in a command.
func waitForUpdate(ch <-chan monitor.Update) tea.Cmd {
	return func() tea.Msg {
		u, ok := <-ch
		if !ok {
			return updatesClosedMsg{}
		}
		return jobUpdateMsg(u)
	}
}

// RunJobProgress follows a training job until it finishes or the user leaves.
// Returns nil on success, cancellation or q (background), error on job failure.
func RunJobProgress(mon *monitor.Monitor, jobID int) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	updates, err := mon.Open(ctx, jobID)
	if err != nil {
		return err
	}
	defer mon.Close()

	if !isTerminal() {
		return followPlain(updates)
	}

	model := newProgressModel(mon, jobID, updates)
	p := tea.NewProgram(model)

	finalModel, err := p.Run()
	if err != nil {
		return fmt.Errorf("progress UI error: %w", err)
	}

	if m, ok := finalModel.(progressModel); ok {
		if m.quitting {
			return nil
		}
		if m.err != nil {
			return m.err
		}
	}

	return nil
}

// followPlain prints status changes and new log lines when stdout is not a terminal.
func followPlain(updates <-chan monitor.Update) error {
	var (
		lastStatus   client.JobStatus
		lastProgress = -1
		printed      int
		job          *client.TrainingJob
	)
	for u := range updates {
		if u.Err != nil {
			logger.Warn("poll failed", "job_id", u.JobID, "error", u.Err)
		}
		if u.Job != nil {
			job = u.Job
			if job.Status != lastStatus || job.Progress != lastProgress {
				fmt.Printf("job %d: %s %d%%\n", job.ID, job.Status, job.Progress)
				lastStatus, lastProgress = job.Status, job.Progress
			}
		}
		if len(u.Logs) > printed {
			for _, l := range u.Logs[printed:] {
				fmt.Println(formatLogLine(l))
			}
			printed = len(u.Logs)
		}
	}

	if job != nil && job.Status == client.JobStatusFailed {
		if job.ErrorMessage != nil {
			return fmt.Errorf("training failed: %s", *job.ErrorMessage)
		}
		return errors.New("training failed")
	}
	if job != nil && job.Status == client.JobStatusCompleted {
		fmt.Print(jobSummary(job))
	}
	return nil
}

func formatLogLine(l client.TrainingLog) string {
	return fmt.Sprintf("  %s %-7s %s", l.Timestamp.Local().Format("15:04:05"), l.Level, l.Message)
}
