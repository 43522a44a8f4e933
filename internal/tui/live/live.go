package live

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"shapebench/internal/runner"
	"shapebench/internal/tui/components"
	"shapebench/internal/tui/styles"
)

// Model shows the trial in progress: overall progress, the current limit and
// a CPU sparkline.
type Model struct {
	Progress progress.Model
	Spinner  spinner.Model
	CPULine  components.Sparkline

	State     runner.State
	Trial     int
	Total     int
	Bandwidth int
	LastCPU   float64
	Samples   int
	Finished  int

	TrialStart time.Time

	Width  int
	Height int
}

func NewModel(total int) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = styles.Active

	return Model{
		Progress: progress.New(progress.WithDefaultGradient()),
		Spinner:  sp,
		CPULine:  components.NewSparkline(40, "CPU (%)", styles.Warn),
		Total:    total,
	}
}

func (m Model) Init() tea.Cmd {
	return m.Spinner.Tick
}

func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	switch msg := msg.(type) {
	case runner.Event:
		if msg.Total > 0 {
			m.Total = msg.Total
		}
		m.State = msg.State
		switch msg.Kind {
		case runner.TrialStarted:
			m.Trial = msg.Trial
			m.Bandwidth = msg.Bandwidth
			m.Samples = 0
			m.LastCPU = 0
			m.TrialStart = time.Now()
			m.CPULine.Reset()
		case runner.TrialSample:
			m.LastCPU = msg.CPU
			m.Samples++
			m.CPULine.Add(msg.CPU)
		case runner.TrialFinished:
			m.Finished = msg.Trial + 1
		}
		return m, m.Progress.SetPercent(m.percent())

	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height
		m.Progress.Width = msg.Width - 4
		w := msg.Width - 8
		if w < 10 {
			w = 10
		}
		m.CPULine.Width = w
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.Spinner, cmd = m.Spinner.Update(msg)
		return m, cmd

	case progress.FrameMsg:
		prog, cmd := m.Progress.Update(msg)
		m.Progress = prog.(progress.Model)
		return m, cmd
	}

	return m, nil
}

func (m Model) percent() float64 {
	if m.Total == 0 {
		return 0
	}
	return float64(m.Finished) / float64(m.Total)
}

func (m Model) View() string {
	s := strings.Builder{}

	if m.Bandwidth == 0 {
		s.WriteString(m.Spinner.View() + " preparing first trial")
	} else {
		elapsed := time.Since(m.TrialStart).Round(time.Second)
		left := fmt.Sprintf("%s Trial %d/%d at %s",
			m.Spinner.View(), m.Trial+1, m.Total, styles.Value.Render(fmt.Sprintf("%d Mbit/s", m.Bandwidth)))
		right := styles.Text.Render(m.State.String()) + " " +
			styles.Subtle.Render(fmt.Sprintf("elapsed %s | samples %d | cpu %.1f%%", elapsed, m.Samples, m.LastCPU))
		s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
			lipgloss.NewStyle().Width(36).Render(left),
			right,
		))
	}
	s.WriteString("\n\n")
	s.WriteString(m.CPULine.View())
	s.WriteString("\n\n")
	s.WriteString(m.Progress.View())
	return s.String()
}
