package monitor

import (
	"errors"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/reviewgate/internal/orchestrator"
)

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	model, ok := next.(Model)
	require.True(t, ok)
	return model, cmd
}

func finished() RunFinishedMsg {
	return RunFinishedMsg{Outcome: &orchestrator.AggregateOutcome{
		Overall:  orchestrator.OverallPartial,
		Duration: 3 * time.Second,
		Results: []orchestrator.GateResult{
			{Tool: "formatter", Status: orchestrator.StatusPassed},
			{Tool: "linter", Status: orchestrator.StatusFailed},
		},
		Suggestions: []orchestrator.RecoverySuggestion{{Tool: "linter", Command: "pylint ."}},
	}}
}

func TestNewModel(t *testing.T) {
	m := NewModel("/src/app", orchestrator.PolicyStrict, nil)
	assert.Equal(t, "/src/app", m.projectPath)
	assert.False(t, m.quitting)
	assert.Nil(t, m.Init())
}

func TestModel_QuitKey(t *testing.T) {
	m, cmd := update(t, NewModel("/p", orchestrator.PolicyStrict, nil), tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	assert.True(t, m.quitting)
	assert.NotNil(t, cmd)
	assert.Empty(t, m.View())
}

func TestModel_RerunKey(t *testing.T) {
	called := make(chan struct{}, 1)
	m := NewModel("/p", orchestrator.PolicyStrict, func() { called <- struct{}{} })

	_, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'r'}})
	require.NotNil(t, cmd)
	assert.Nil(t, cmd())
	select {
	case <-called:
	default:
		t.Fatal("rerun not called")
	}

	running, _ := update(t, m, RunStartedMsg{Total: 2})
	_, cmd = update(t, running, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'r'}})
	assert.Nil(t, cmd, "no rerun while a run is in progress")
}

func TestModel_RunLifecycle(t *testing.T) {
	m := NewModel("/p", orchestrator.PolicyProgressive, nil)

	m, _ = update(t, m, RunStartedMsg{Total: 2, Changed: []string{"a.py"}})
	assert.True(t, m.running)
	assert.Equal(t, 1, m.runs)
	assert.Contains(t, m.View(), "RUNNING")
	assert.Contains(t, m.View(), "a.py")

	m, _ = update(t, m, GateMsg{Tool: "formatter", Status: orchestrator.StatusPassed, Cached: true, Completed: 1, Total: 2})
	assert.Equal(t, 1, m.completed)
	assert.Contains(t, m.View(), "(cached)")
	assert.Contains(t, m.View(), "1/2")

	m, _ = update(t, m, finished())
	assert.False(t, m.running)
	assert.Equal(t, []float64{3}, m.durationHistory)
	assert.Equal(t, []float64{50}, m.passHistory)

	view := m.View()
	assert.Contains(t, view, "FAILING")
	assert.Contains(t, view, "partial")
	assert.Contains(t, view, "linter: ")
	assert.Contains(t, view, "pylint .")
	assert.Contains(t, view, "2/2")
}

func TestModel_RunError(t *testing.T) {
	m := NewModel("/p", orchestrator.PolicyStrict, nil)
	m, _ = update(t, m, RunStartedMsg{Total: 1})
	m, _ = update(t, m, RunFinishedMsg{Err: errors.New("contract violation: command is empty")})

	view := m.View()
	assert.Contains(t, view, "ERROR")
	assert.Contains(t, view, "command is empty")
}

func TestModel_ViewIdle(t *testing.T) {
	view := NewModel("/p", orchestrator.PolicyStrict, func() {}).View()
	assert.Contains(t, view, "reviewgate watch")
	assert.Contains(t, view, "IDLE")
	assert.Contains(t, view, "waiting for changes")
	assert.Contains(t, view, "[q]")
	assert.Contains(t, view, "[r]")
}

func TestAppendToHistory(t *testing.T) {
	var h []float64
	for i := 0; i < historySize+5; i++ {
		h = appendToHistory(h, float64(i))
	}
	assert.Len(t, h, historySize)
	assert.Equal(t, 5.0, h[0])
}
