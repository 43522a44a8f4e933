// Package tui is the live terminal view of a run.
package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"shapebench/internal/runner"
	"shapebench/internal/tui/live"
	"shapebench/internal/tui/result"
	"shapebench/internal/tui/styles"
)

// DoneMsg is sent by the caller once the run has returned and shaping state
// is cleared.
type DoneMsg struct {
	Err error
}

type Model struct {
	Host    string
	Live    live.Model
	Results result.Model

	events runner.EventChan
	cancel context.CancelFunc

	Interrupting bool
	Done         bool
	Err          error

	Width  int
	Height int
}

func NewModel(host string, total int, events runner.EventChan, cancel context.CancelFunc) Model {
	return Model{
		Host:    host,
		Live:    live.NewModel(total),
		Results: result.NewModel(total + 1),
		events:  events,
		cancel:  cancel,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.Live.Init(), waitForEvent(m.events))
}

func waitForEvent(ch runner.EventChan) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return nil
		}
		return ev
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height
		m.Live, _ = m.Live.Update(msg)
		m.Results, _ = m.Results.Update(msg)
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			// The run unwinds and clears shaping; DoneMsg ends the program.
			if !m.Interrupting && !m.Done {
				m.Interrupting = true
				if m.cancel != nil {
					m.cancel()
				}
			}
		}
		return m, nil

	case runner.Event:
		var liveCmd tea.Cmd
		m.Live, liveCmd = m.Live.Update(msg)
		m.Results, _ = m.Results.Update(msg)
		return m, tea.Batch(liveCmd, waitForEvent(m.events))

	case DoneMsg:
		m.Done = true
		m.Err = msg.Err
		return m, tea.Quit

	case spinner.TickMsg, progress.FrameMsg:
		var cmd tea.Cmd
		m.Live, cmd = m.Live.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m Model) View() string {
	s := strings.Builder{}

	s.WriteString(styles.Title.Render(fmt.Sprintf("shapebench | peer %s", m.Host)))
	s.WriteString("\n\n")
	s.WriteString(m.Live.View())
	s.WriteString("\n\n")
	s.WriteString(m.Results.View())
	s.WriteString("\n")

	switch {
	case m.Done && m.Err != nil:
		s.WriteString(styles.Error.Render("Run failed: " + m.Err.Error()))
	case m.Done:
		s.WriteString(styles.Success.Render("All trials finished."))
	case m.Interrupting:
		s.WriteString(styles.Warn.Render("Interrupting, clearing shaping state..."))
	default:
		s.WriteString(styles.RenderKey("q", "interrupt"))
	}
	s.WriteString("\n")
	return s.String()
}
