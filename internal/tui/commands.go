package tui

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"netaccess/internal/monitor"
	"netaccess/internal/portal"
	"netaccess/internal/storage"
)

const historyLimit = 5

// waitForState blocks until the monitor emits its next state.
func waitForState(events *monitor.Events) tea.Cmd {
	return func() tea.Msg {
		state, ok := <-events.C()
		if !ok {
			return eventsClosedMsg{}
		}
		return stateMsg{state: state}
	}
}

// waitForStatus blocks until the status slot moves past seen.
func waitForStatus(ctx context.Context, latest *monitor.Latest[portal.SystemStatus], seen uint64) tea.Cmd {
	return func() tea.Msg {
		status, version, err := latest.Wait(ctx, seen)
		if err != nil {
			return nil
		}
		return statusChangedMsg{status: status, version: version}
	}
}

// loadHistory fetches the most recent recorded actions.
func loadHistory(store storage.Storage) tea.Cmd {
	if store == nil {
		return nil
	}
	return func() tea.Msg {
		actions, err := store.ListActions(context.Background(), storage.ActionFilter{Limit: historyLimit})
		return historyLoadedMsg{actions: actions, err: err}
	}
}

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg{at: t}
	})
}

func clearNotification(after time.Duration, version int) tea.Cmd {
	return tea.Tick(after, func(time.Time) tea.Msg {
		return clearNotificationMsg{version: version}
	})
}
