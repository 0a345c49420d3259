package models

import "time"

// ActionKind names a portal operation recorded in the history
type ActionKind string

const (
	ActionStatus  ActionKind = "status"
	ActionApprove ActionKind = "approve"
	ActionRevoke  ActionKind = "revoke"
)

// ActionResult is the outcome of a recorded operation
type ActionResult string

const (
	ResultSuccess ActionResult = "success"
	ResultSkipped ActionResult = "skipped" // nothing to do, e.g. already active
	ResultFailure ActionResult = "failure"
)

// Action represents one portal operation and its outcome
type Action struct {
	ID           int64        `json:"id"`
	RunID        string       `json:"run_id,omitempty"` // set when issued by the monitor
	Source       string       `json:"source"`           // cli, monitor
	Kind         ActionKind   `json:"kind"`
	Username     string       `json:"username"`
	IP           string       `json:"ip,omitempty"`
	Tier         string       `json:"tier,omitempty"`
	Result       ActionResult `json:"result"`
	ErrorMessage string       `json:"error_message,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
}

// Failed reports whether the operation returned an error
func (a *Action) Failed() bool {
	return a.Result == ResultFailure
}
