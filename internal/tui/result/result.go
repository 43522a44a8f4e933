package result

import (
	"fmt"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"shapebench/internal/runner"
	"shapebench/internal/tui/styles"
)

// Model is the table of finished trials.
type Model struct {
	Table   table.Model
	Records []runner.TrialRecord

	Width  int
	Height int
}

func Columns() []table.Column {
	return []table.Column{
		{Title: "#", Width: 3},
		{Title: "Mbit/s", Width: 8},
		{Title: "Avg CPU %", Width: 10},
		{Title: "P90 CPU %", Width: 10},
		{Title: "Peak CPU %", Width: 11},
		{Title: "Duration", Width: 10},
		{Title: "Samples", Width: 8},
		{Title: "Done", Width: 5},
	}
}

func Row(rec runner.TrialRecord) table.Row {
	done := "yes"
	if !rec.Completed {
		done = "no"
	}
	return table.Row{
		fmt.Sprintf("%d", rec.Index+1),
		fmt.Sprintf("%d", rec.Bandwidth),
		fmt.Sprintf("%.2f", rec.AvgCPU),
		fmt.Sprintf("%.2f", rec.P90CPU),
		fmt.Sprintf("%.2f", rec.PeakCPU),
		fmt.Sprintf("%.2fs", rec.Duration.Seconds()),
		fmt.Sprintf("%d", rec.Samples),
		done,
	}
}

// TableStyles is shared by every trial table.
func TableStyles() table.Styles {
	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(styles.ColorBorder).
		BorderBottom(true).
		Bold(true).
		Foreground(styles.ColorPrimary)
	s.Selected = s.Selected.
		Foreground(styles.ColorBg).
		Background(styles.ColorPrimary).
		Bold(true)
	return s
}

func NewModel(height int) Model {
	t := table.New(
		table.WithColumns(Columns()),
		table.WithHeight(height),
	)
	t.SetStyles(TableStyles())
	return Model{Table: t}
}

func (m Model) Init() tea.Cmd {
	return nil
}

func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	switch msg := msg.(type) {
	case runner.Event:
		if msg.Kind == runner.TrialFinished && msg.Record != nil {
			m.Records = append(m.Records, *msg.Record)
			rows := make([]table.Row, len(m.Records))
			for i, rec := range m.Records {
				rows[i] = Row(rec)
			}
			m.Table.SetRows(rows)
		}
	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height
		m.Table.SetWidth(msg.Width - 4)
	}
	return m, nil
}

func (m Model) View() string {
	return styles.Box.Render(m.Table.View())
}
