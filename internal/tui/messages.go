package tui

import (
	"time"

	"netaccess/internal/monitor"
	"netaccess/internal/portal"
	"netaccess/internal/storage/models"
)

// Monitor messages.

type stateMsg struct {
	state monitor.State
}

type eventsClosedMsg struct{}

type statusChangedMsg struct {
	status  portal.SystemStatus
	version uint64
}

// Data loading messages.

type historyLoadedMsg struct {
	actions []*models.Action
	err     error
}

// Countdown tick while suspended.

type tickMsg struct {
	at time.Time
}

// Notification message.

type clearNotificationMsg struct {
	version int
}
