package storage

import (
	"context"
	"time"

	"netaccess/internal/storage/models"
)

// Storage defines the interface for data persistence
type Storage interface {
	// Action history
	RecordAction(ctx context.Context, action *models.Action) error
	ListActions(ctx context.Context, filter ActionFilter) ([]*models.Action, error)
	PruneActions(ctx context.Context, before time.Time) (int64, error)

	// Settings operations
	GetSetting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value string) error
	GetAllSettings(ctx context.Context) (map[string]string, error)

	// Transactions
	BeginTx(ctx context.Context) (Transaction, error)

	// Close closes the storage connection
	Close() error
}

// ActionFilter represents filters for querying the action history
type ActionFilter struct {
	Kind     *models.ActionKind
	Result   *models.ActionResult
	RunID    string
	Username string
	Since    *time.Time
	Limit    int // 0 means DefaultActionLimit
}

// DefaultActionLimit caps ListActions when no limit is given
const DefaultActionLimit = 50

// Well-known setting keys
const (
	SettingLastRunID      = "last_run_id"
	SettingLastApprovedIP = "last_approved_ip"
	SettingLastUsername   = "last_username"
)

// Transaction represents a database transaction
type Transaction interface {
	Commit() error
	Rollback() error
	Storage
}
