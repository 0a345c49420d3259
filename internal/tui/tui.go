package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"netaccess/internal/monitor"
	"netaccess/internal/portal"
	"netaccess/internal/storage"
	"netaccess/internal/storage/models"
	pkgerrors "netaccess/pkg/errors"
)

// Model is the root BubbleTea model for the monitor screen.
type Model struct {
	// Dependencies.
	ctx      context.Context
	cancel   context.CancelFunc
	events   *monitor.Events
	status   *monitor.Latest[portal.SystemStatus]
	states   *monitor.Latest[monitor.State]
	store    storage.Storage
	username string
	now      func() time.Time

	// Dimensions.
	width  int
	height int

	showHelp bool

	// Monitor state.
	state       monitor.State
	suspendedAt time.Time
	sys         *portal.SystemStatus
	statusSeen  uint64
	history     []*models.Action
	historyErr  error

	// Notification.
	notification    string
	notificationErr bool
	notifVersion    int

	spinner spinner.Model
}

// Deps holds all dependencies injected into the TUI.
type Deps struct {
	// Cancel stops the monitor when the user quits.
	Cancel   context.CancelFunc
	Events   *monitor.Events
	Status   *monitor.Latest[portal.SystemStatus]
	States   *monitor.Latest[monitor.State]
	Storage  storage.Storage
	Username string
}

// NewModel creates a new root Model.
func NewModel(ctx context.Context, deps Deps) *Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = spinnerStyle

	cancel := deps.Cancel
	if cancel == nil {
		cancel = func() {}
	}
	status := deps.Status
	if status == nil {
		status = monitor.NewLatest[portal.SystemStatus]()
	}

	return &Model{
		ctx:      ctx,
		cancel:   cancel,
		events:   deps.Events,
		status:   status,
		states:   deps.States,
		store:    deps.Storage,
		username: deps.Username,
		now:      time.Now,
		spinner:  s,
	}
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(
		waitForState(m.events),
		waitForStatus(m.ctx, m.status, 0),
		loadHistory(m.store),
		m.spinner.Tick,
		tick(),
	)
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd
	prevNotifVersion := m.notifVersion

	switch msg := msg.(type) {

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		if cmd := m.handleKey(msg); cmd != nil {
			return m, cmd
		}

	// Monitor.
	case stateMsg:
		m.state = msg.state
		if msg.state.Kind() == monitor.KindSuspended {
			m.suspendedAt = m.now()
		}
		if m.states != nil {
			m.states.Store(msg.state)
		}
		cmds = append(cmds, waitForState(m.events))
		// Checking and approving are followed by a portal call worth showing.
		if k := msg.state.Kind(); k == monitor.KindSuspended || k == monitor.KindError {
			cmds = append(cmds, loadHistory(m.store))
		}
	case eventsClosedMsg:
		return m, tea.Quit
	case statusChangedMsg:
		sys := msg.status
		m.sys = &sys
		m.statusSeen = msg.version
		cmds = append(cmds, waitForStatus(m.ctx, m.status, m.statusSeen))

	// Data loading.
	case historyLoadedMsg:
		m.historyErr = msg.err
		if msg.err == nil {
			m.history = msg.actions
		}

	case tickMsg:
		cmds = append(cmds, tick())

	// Notification.
	case clearNotificationMsg:
		if msg.version == m.notifVersion {
			m.notification = ""
			m.notificationErr = false
		}
	}

	if m.busy() {
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)
	}

	// Schedule notification auto-clear when a new notification was set.
	if m.notifVersion > prevNotifVersion && m.notification != "" {
		cmds = append(cmds, clearNotification(4*time.Second, m.notifVersion))
	}

	return m, tea.Batch(cmds...)
}

func (m *Model) busy() bool {
	if m.state == nil {
		return true
	}
	k := m.state.Kind()
	return k == monitor.KindCheckingStatus || k == monitor.KindApproving
}

func (m *Model) handleKey(msg tea.KeyMsg) tea.Cmd {
	switch {
	case key.Matches(msg, keys.Quit):
		m.cancel()
		return tea.Quit

	case key.Matches(msg, keys.Help):
		m.showHelp = !m.showHelp
		return nil

	case key.Matches(msg, keys.Wake):
		m.respond(monitor.ActionWake, monitor.KindSuspended, "Waking monitor")
		return nil

	case key.Matches(msg, keys.Retry):
		m.respond(monitor.ActionRetry, monitor.KindError, "Retrying")
		return nil
	}
	return nil
}

func (m *Model) respond(a monitor.Action, want monitor.Kind, text string) {
	if m.state == nil || m.state.Kind() != want {
		return
	}
	if m.state.Respond(a) {
		m.setNotification(text, false)
		return
	}
	m.setNotification("Already sent", true)
}

func (m *Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	header := renderHeader(m.state, m.username, m.width)

	var notif string
	if m.notification != "" {
		if m.notificationErr {
			notif = notifErrorStyle.Render("! " + m.notification)
		} else {
			notif = notifSuccessStyle.Render("* " + m.notification)
		}
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		m.viewStatus(),
		m.viewState(),
		m.viewHistory(),
	)

	known := m.state != nil
	var kind monitor.Kind
	if known {
		kind = m.state.Kind()
	}
	helpText := renderHelpBar(keys.forState(kind, known), m.showHelp)
	footer := renderFooter(helpText, m.width)

	parts := []string{header}
	if notif != "" {
		parts = append(parts, notif)
	}
	parts = append(parts, content, footer)
	output := lipgloss.JoinVertical(lipgloss.Left, parts...)

	// Force exactly m.height lines to prevent BubbleTea rendering drift.
	return forceHeight(output, m.width, m.height)
}

func (m *Model) viewStatus() string {
	var b strings.Builder
	b.WriteString(cardTitleStyle.Render("System"))
	b.WriteString("\n")

	if m.sys == nil {
		b.WriteString(dimStyle.Render("No status yet"))
		return cardStyle.Render(b.String())
	}

	state := errorStyle.Render("inactive")
	if m.sys.Connection.IsActive() {
		state = successStyle.Render("active")
	}
	b.WriteString(row("IP address", cardValueStyle.Render(m.sys.IP.String())))
	b.WriteString(row("Connection", state))
	b.WriteString(row("Time left", cardValueStyle.Render(portal.FormatDuration(m.sys.Connection.TimeLeft))))
	return cardStyle.Render(strings.TrimSuffix(b.String(), "\n"))
}

func (m *Model) viewState() string {
	var b strings.Builder
	b.WriteString(cardTitleStyle.Render("Monitor"))
	b.WriteString("\n")

	if m.state == nil {
		b.WriteString(m.spinner.View() + " Starting")
		return cardStyle.Render(b.String())
	}

	switch s := m.state.(type) {
	case monitor.CheckingStatus, monitor.Approving:
		b.WriteString(m.spinner.View() + " " + s.String())
	case monitor.Suspended:
		remaining := s.Duration - m.now().Sub(m.suspendedAt)
		if remaining < 0 {
			remaining = 0
		}
		b.WriteString(successStyle.Render(s.String()))
		b.WriteString("\n")
		b.WriteString(dimStyle.Render("Next check in " + portal.FormatDuration(remaining.Round(time.Second))))
	case monitor.Error:
		b.WriteString(errorStyle.Render(s.String()))
		if errors.Is(s.Cause, pkgerrors.ErrInvalidCredentials) {
			b.WriteString("\n")
			b.WriteString(warningStyle.Render("Check the stored password with 'netaccess user update'"))
		}
	default:
		b.WriteString(s.String())
	}
	return cardStyle.Render(b.String())
}

func (m *Model) viewHistory() string {
	if m.store == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString(cardTitleStyle.Render("Recent activity"))
	b.WriteString("\n")

	switch {
	case m.historyErr != nil:
		b.WriteString(errorStyle.Render(fmt.Sprintf("History unavailable: %v", m.historyErr)))
	case len(m.history) == 0:
		b.WriteString(dimStyle.Render("Nothing recorded yet"))
	default:
		for i, a := range m.history {
			if i > 0 {
				b.WriteString("\n")
			}
			b.WriteString(formatAction(a))
		}
	}
	return cardStyle.Render(b.String())
}

func formatAction(a *models.Action) string {
	when := dimStyle.Render(a.CreatedAt.Local().Format("15:04:05"))
	line := fmt.Sprintf("%s %-8s %s", when, a.Kind, a.IP)
	switch a.Result {
	case models.ResultFailure:
		return line + " " + errorStyle.Render(a.ErrorMessage)
	case models.ResultSkipped:
		return line + " " + warningStyle.Render(string(a.Result))
	}
	return line + " " + successStyle.Render(string(a.Result))
}

func row(label, value string) string {
	return cardLabelStyle.Render(label) + value + "\n"
}

// forceHeight ensures the string has exactly `height` lines, each padded to `width`.
func forceHeight(s string, width, height int) string {
	lines := strings.Split(s, "\n")
	if len(lines) > height {
		lines = lines[:height]
	}
	blank := strings.Repeat(" ", width)
	for len(lines) < height {
		lines = append(lines, blank)
	}
	return strings.Join(lines, "\n")
}

func (m *Model) setNotification(text string, isErr bool) {
	m.notification = text
	m.notificationErr = isErr
	m.notifVersion++
}

// NewProgram creates a bubbletea program with alt screen.
func NewProgram(ctx context.Context, deps Deps) *tea.Program {
	m := NewModel(ctx, deps)
	return tea.NewProgram(m, tea.WithAltScreen())
}
