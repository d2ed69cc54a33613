// Package console implements the terminal console for observing and
// controlling experiment runs. It renders reconciled snapshots published
// by the sync engine and forwards run control actions to it; it never
// mutates run state locally.
package console

import (
	"context"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/zjrosen/parley/internal/cachemanager"
	"github.com/zjrosen/parley/internal/config"
	"github.com/zjrosen/parley/internal/engine"
	"github.com/zjrosen/parley/internal/gateway"
	"github.com/zjrosen/parley/internal/log"
	"github.com/zjrosen/parley/internal/pubsub"
)

// actionDoneMsg reports the outcome of a run control action.
type actionDoneMsg struct {
	name string
	err  error
}

// Model is the console state.
type Model struct {
	eng      *engine.Engine
	listener *pubsub.ContinuousListener[*engine.Snapshot]
	keys     KeyMap
	help     help.Model
	spin     spinner.Model

	snapshot *engine.Snapshot
	cursor   int

	width  int
	height int

	showStatusBar bool
	mdStyle       string
	renderCache   *cachemanager.ReadThroughCache[string, string, analysisRenderInput]

	overlayVisible bool
	overlayTitle   string
	overlayBody    string

	// footerMsg is a transient action/error message shown above the help line.
	footerMsg   string
	footerIsErr bool

	busy bool
}

// New creates a console bound to the engine's snapshot broker.
// The subscription lives until ctx is cancelled.
func New(ctx context.Context, eng *engine.Engine, cfg config.UIConfig) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(spinnerColor)

	return Model{
		eng:           eng,
		listener:      pubsub.NewContinuousListener(ctx, eng.Snapshots()),
		keys:          DefaultKeyMap(),
		help:          help.New(),
		spin:          sp,
		snapshot:      eng.CurrentSnapshot(),
		showStatusBar: cfg.ShowStatusBar,
		mdStyle:       cfg.MarkdownStyle,
		renderCache:   newAnalysisRenderCache(),
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.listener.Listen(), m.spin.Tick)
}

// SetSize handles terminal resize.
func (m Model) SetSize(width, height int) Model {
	m.width = width
	m.height = height
	m.help.Width = width
	return m
}

// Snapshot returns the most recently rendered snapshot.
func (m Model) Snapshot() *engine.Snapshot {
	return m.snapshot
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		return m.SetSize(msg.Width, msg.Height), nil

	case pubsub.Event[*engine.Snapshot]:
		m.snapshot = msg.Payload
		m.cursor = clamp(m.cursor, 0, sessionCount(m.snapshot)-1)
		return m, tea.Batch(m.listener.Listen(), m.spin.Tick)

	case spinner.TickMsg:
		if !m.spinnerActive() {
			return m, nil
		}
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd

	case actionDoneMsg:
		m.busy = false
		if msg.err != nil {
			log.Warn(log.CatUI, "Run action failed", "action", msg.name, "error", msg.err)
			m.footerMsg = msg.name + " failed: " + msg.err.Error()
			m.footerIsErr = true
		} else {
			m.footerMsg = msg.name + " ok"
			m.footerIsErr = false
		}
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	// Overlay takes precedence while visible.
	if m.overlayVisible {
		if key.Matches(msg, m.keys.Escape) || key.Matches(msg, m.keys.Analysis) || key.Matches(msg, m.keys.Quit) {
			m.overlayVisible = false
		}
		return m, nil
	}

	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit

	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
		return m, nil

	case key.Matches(msg, m.keys.ToggleStatus):
		m.showStatusBar = !m.showStatusBar
		return m, nil

	case key.Matches(msg, m.keys.Escape):
		m.footerMsg = ""
		return m, nil

	case key.Matches(msg, m.keys.Up):
		m.cursor = clamp(m.cursor-1, 0, sessionCount(m.snapshot)-1)
		return m, nil

	case key.Matches(msg, m.keys.Down):
		m.cursor = clamp(m.cursor+1, 0, sessionCount(m.snapshot)-1)
		return m, nil

	case key.Matches(msg, m.keys.Analysis):
		return m.openAnalysisOverlay()

	case key.Matches(msg, m.keys.Execute):
		return m.runAction("execute", func(ctx context.Context) error {
			return m.eng.Execute(ctx, gateway.ExecuteConfig{})
		})

	case key.Matches(msg, m.keys.Pause):
		return m.runAction("pause", m.eng.Pause)

	case key.Matches(msg, m.keys.Resume):
		return m.runAction("resume", m.eng.Resume)

	case key.Matches(msg, m.keys.Stop):
		return m.runAction("stop", m.eng.StopRun)

	case key.Matches(msg, m.keys.Delete):
		return m.runAction("delete", m.eng.Delete)
	}

	return m, nil
}

// runAction dispatches a control action to the engine. Only one action
// may be in flight at a time; the footer reports the outcome.
func (m Model) runAction(name string, fn func(context.Context) error) (tea.Model, tea.Cmd) {
	if m.busy {
		return m, nil
	}
	m.busy = true
	m.footerMsg = ""
	return m, tea.Batch(m.spin.Tick, func() tea.Msg {
		return actionDoneMsg{name: name, err: fn(context.Background())}
	})
}

// spinnerActive reports whether the spinner should keep ticking.
func (m Model) spinnerActive() bool {
	if m.busy {
		return true
	}
	return m.snapshot != nil && m.snapshot.Run != nil && m.snapshot.Run.Status.IsLive()
}

func sessionCount(snap *engine.Snapshot) int {
	if snap == nil {
		return 0
	}
	return len(snap.Sessions)
}

func clamp(v, lo, hi int) int {
	if hi < lo {
		return lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
