// package ui renders live batch execution progress as a terminal UI.
//
// The model consumes the engine's progress channel and keeps a progress bar
// and action log on screen while a batch runs, then shows the final summary.
package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/kcirtapfromspace/no-drake-in-the-house/internal/enforcement"
	"github.com/kcirtapfromspace/no-drake-in-the-house/internal/models"
)

// ViewState represents the current view in the TUI.
type ViewState int

const (
	RunningView ViewState = iota
	ResultView
)

// RunFunc executes the batch, streaming updates into the channel. The UI
// owns the channel's lifetime.
type RunFunc func(progress chan<- enforcement.ProgressUpdate) (*models.BatchSummary, error)

// Model represents the TUI application state.
type Model struct {
	view         ViewState
	run          RunFunc
	progressChan chan enforcement.ProgressUpdate
	resultChan   chan runCompleteMsg
	bar          progress.Model
	latest       enforcement.ProgressUpdate
	recent       []string
	summary      *models.BatchSummary
	err          error
	width        int
	help         help.Model
	keys         keyMap
}

// keyMap defines the key bindings for the TUI.
type keyMap struct {
	quit key.Binding
}

func newKeyMap() keyMap {
	return keyMap{
		quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c"),
			key.WithHelp("q", "quit"),
		),
	}
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{{k.quit}}
}

type progressUpdateMsg enforcement.ProgressUpdate

type runCompleteMsg struct {
	summary *models.BatchSummary
	err     error
}

// NewModel creates a TUI model that will execute run when started.
func NewModel(run RunFunc) *Model {
	return &Model{
		view: RunningView,
		run:  run,
		bar:  progress.New(progress.WithDefaultGradient()),
		help: help.New(),
		keys: newKeyMap(),
	}
}

// Init starts the batch in the background and begins consuming progress.
func (m *Model) Init() tea.Cmd {
	m.progressChan = make(chan enforcement.ProgressUpdate, 50)
	m.resultChan = make(chan runCompleteMsg, 1)

	go func() {
		summary, err := m.run(m.progressChan)
		m.resultChan <- runCompleteMsg{summary: summary, err: err}
		close(m.progressChan)
	}()

	return m.waitForProgress()
}

// Update handles incoming messages and updates the model state.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.bar.Width = msg.Width - 8
		if m.bar.Width > 60 {
			m.bar.Width = 60
		}
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}
		return m, nil

	case progressUpdateMsg:
		m.latest = enforcement.ProgressUpdate(msg)
		if m.latest.Phase == enforcement.ExecuteActions && m.latest.Message != "" {
			m.recent = append(m.recent, m.latest.Message)
			if len(m.recent) > 5 {
				m.recent = m.recent[len(m.recent)-5:]
			}
		}
		return m, m.waitForProgress()

	case runCompleteMsg:
		m.summary = msg.summary
		m.err = msg.err
		m.view = ResultView
		return m, nil
	}

	return m, nil
}

// View renders the UI based on the current view state.
func (m *Model) View() string {
	switch m.view {
	case RunningView:
		return m.renderRunning()
	case ResultView:
		return m.renderResult()
	default:
		return ""
	}
}

func (m *Model) waitForProgress() tea.Cmd {
	return func() tea.Msg {
		update, ok := <-m.progressChan
		if !ok {
			return <-m.resultChan
		}
		return progressUpdateMsg(update)
	}
}

func (m *Model) renderRunning() string {
	title := styles.title.Render("Enforcing do-not-play list")

	percent := 0.0
	if m.latest.Total > 0 {
		percent = float64(m.latest.Step) / float64(m.latest.Total)
	}
	bar := m.bar.ViewAs(percent)

	var log strings.Builder
	for _, line := range m.recent {
		log.WriteString("  " + line + "\n")
	}

	counter := ""
	if m.latest.Total > 0 {
		counter = fmt.Sprintf("%d/%d actions", m.latest.Step, m.latest.Total)
	}

	helpView := m.help.ShortHelpView(m.keys.ShortHelp())
	return fmt.Sprintf("%s\n%s %s\n\n%s\n%s", title, bar, counter, log.String(), helpView)
}

func (m *Model) renderResult() string {
	if m.err != nil {
		return styles.err.Render(fmt.Sprintf("Enforcement failed: %v", m.err)) + "\n\nPress q to quit\n"
	}
	if m.summary == nil {
		return styles.err.Render("No summary available") + "\n\nPress q to quit\n"
	}

	var title string
	switch m.summary.Status {
	case models.BatchCompleted:
		title = styles.ok.Render("✓ Enforcement complete")
	case models.BatchPartiallyCompleted:
		title = styles.warn.Render("Enforcement partially complete")
	default:
		title = styles.err.Render("✗ Enforcement " + string(m.summary.Status))
	}

	info := fmt.Sprintf(
		"\nActions: %d total, %d completed, %d failed, %d skipped\nAPI calls: %d (%.1fs, %.1fs rate limited)",
		m.summary.TotalActions,
		m.summary.CompletedActions,
		m.summary.FailedActions,
		m.summary.SkippedActions,
		m.summary.APICalls,
		float64(m.summary.ExecutionTimeMS)/1000,
		float64(m.summary.RateLimitDelayMS)/1000,
	)

	helpView := m.help.ShortHelpView(m.keys.ShortHelp())
	return fmt.Sprintf("%s%s\n\n%s\n", title, info, helpView)
}
