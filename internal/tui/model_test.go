package tui

import (
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shapebench/internal/runner"
)

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	nm, ok := next.(Model)
	require.True(t, ok)
	return nm, cmd
}

func TestModelTracksTrials(t *testing.T) {
	events := make(runner.EventChan, 4)
	m := NewModel("10.0.0.2", 2, events, nil)

	m, _ = update(t, m, runner.Event{Kind: runner.TrialStarted, State: runner.StateApplying, Trial: 0, Total: 2, Bandwidth: 10})
	assert.Contains(t, m.View(), "applying")
	m, _ = update(t, m, runner.Event{Kind: runner.TrialRunning, State: runner.StateRunning, Trial: 0, Total: 2, Bandwidth: 10})
	assert.Equal(t, runner.StateRunning, m.Live.State)
	m, _ = update(t, m, runner.Event{Kind: runner.TrialSample, Trial: 0, Total: 2, Bandwidth: 10, CPU: 5})
	m, _ = update(t, m, runner.Event{Kind: runner.TrialSample, Trial: 0, Total: 2, Bandwidth: 10, CPU: 7})
	assert.Equal(t, 10, m.Live.Bandwidth)
	assert.Equal(t, 2, m.Live.Samples)
	assert.Equal(t, 7.0, m.Live.LastCPU)

	rec := runner.TrialRecord{Index: 0, Bandwidth: 10, AvgCPU: 6, Duration: 2 * time.Second, Completed: true}
	m, _ = update(t, m, runner.Event{Kind: runner.TrialFinished, Trial: 0, Total: 2, Bandwidth: 10, Record: &rec})
	assert.Equal(t, 1, m.Live.Finished)
	require.Len(t, m.Results.Records, 1)
	assert.Contains(t, m.View(), "10.0.0.2")
}

func TestModelInterruptCancelsOnce(t *testing.T) {
	calls := 0
	m := NewModel("10.0.0.2", 1, make(runner.EventChan), func() { calls++ })

	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyCtrlC})
	assert.Nil(t, cmd, "the program waits for the run to unwind")
	assert.True(t, m.Interrupting)
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	assert.Equal(t, 1, calls)
	assert.Contains(t, m.View(), "Interrupting")

	m, cmd = update(t, m, DoneMsg{Err: errors.New("context canceled")})
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
	assert.Contains(t, m.View(), "Run failed")
}
