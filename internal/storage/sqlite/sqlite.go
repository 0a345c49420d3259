package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"netaccess/internal/paths"
	"netaccess/internal/storage"
	"netaccess/internal/storage/models"
	pkgerrors "netaccess/pkg/errors"
)

// dbHandle is the common interface between *sql.DB and *sql.Tx.
type dbHandle interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// DB implements the Storage interface using SQLite
type DB struct {
	db *sql.DB
}

// New creates a new SQLite storage instance
func New(dbPath string) (*DB, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// The CLI and a running monitor may share the file.
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	storage := &DB{db: db}

	if err := runMigrations(storage); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	paths.ChownToRealUser(dbPath)

	return storage, nil
}

// Close closes the database connection
func (d *DB) Close() error {
	return d.db.Close()
}

func (d *DB) handle() dbHandle { return d.db }

// BeginTx starts a new transaction
func (d *DB) BeginTx(ctx context.Context) (storage.Transaction, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &Tx{tx: tx}, nil
}

// Tx implements the Transaction interface
type Tx struct {
	tx *sql.Tx
}

func (t *Tx) Commit() error    { return t.tx.Commit() }
func (t *Tx) Rollback() error  { return t.tx.Rollback() }
func (t *Tx) handle() dbHandle { return t.tx }

func (t *Tx) BeginTx(ctx context.Context) (storage.Transaction, error) {
	return nil, fmt.Errorf("nested transactions not supported")
}

func (t *Tx) Close() error { return nil }

// dbTime normalises timestamps so stored values compare correctly as text.
func dbTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}

// ─── Action operations ──────────────────────────────────────────────────────

func (d *DB) RecordAction(ctx context.Context, action *models.Action) error {
	return recordAction(ctx, d.handle(), action)
}
func (t *Tx) RecordAction(ctx context.Context, action *models.Action) error {
	return recordAction(ctx, t.handle(), action)
}

func recordAction(ctx context.Context, h dbHandle, action *models.Action) error {
	if action.CreatedAt.IsZero() {
		action.CreatedAt = time.Now()
	}
	if action.Source == "" {
		action.Source = "cli"
	}
	action.CreatedAt = dbTime(action.CreatedAt)

	query := `
		INSERT INTO actions (run_id, source, kind, username, ip, tier, result, error_message, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	result, err := h.ExecContext(ctx, query,
		action.RunID, action.Source, string(action.Kind), action.Username, action.IP,
		action.Tier, string(action.Result), action.ErrorMessage, action.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record action: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	action.ID = id
	return nil
}

func (d *DB) ListActions(ctx context.Context, filter storage.ActionFilter) ([]*models.Action, error) {
	return listActions(ctx, d.handle(), filter)
}
func (t *Tx) ListActions(ctx context.Context, filter storage.ActionFilter) ([]*models.Action, error) {
	return listActions(ctx, t.handle(), filter)
}

func listActions(ctx context.Context, h dbHandle, filter storage.ActionFilter) ([]*models.Action, error) {
	query := `
		SELECT id, run_id, source, kind, username, ip, tier, result, error_message, created_at
		FROM actions
	`
	var conditions []string
	var args []interface{}

	if filter.Kind != nil {
		conditions = append(conditions, "kind = ?")
		args = append(args, string(*filter.Kind))
	}
	if filter.Result != nil {
		conditions = append(conditions, "result = ?")
		args = append(args, string(*filter.Result))
	}
	if filter.RunID != "" {
		conditions = append(conditions, "run_id = ?")
		args = append(args, filter.RunID)
	}
	if filter.Username != "" {
		conditions = append(conditions, "username = ?")
		args = append(args, filter.Username)
	}
	if filter.Since != nil {
		conditions = append(conditions, "created_at >= ?")
		args = append(args, dbTime(*filter.Since))
	}

	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = storage.DefaultActionLimit
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := h.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list actions: %w", err)
	}
	defer rows.Close()

	var actions []*models.Action
	for rows.Next() {
		action := &models.Action{}
		var kind, result string
		err := rows.Scan(
			&action.ID, &action.RunID, &action.Source, &kind, &action.Username,
			&action.IP, &action.Tier, &result, &action.ErrorMessage, &action.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		action.Kind = models.ActionKind(kind)
		action.Result = models.ActionResult(result)
		actions = append(actions, action)
	}
	return actions, rows.Err()
}

func (d *DB) PruneActions(ctx context.Context, before time.Time) (int64, error) {
	return pruneActions(ctx, d.handle(), before)
}
func (t *Tx) PruneActions(ctx context.Context, before time.Time) (int64, error) {
	return pruneActions(ctx, t.handle(), before)
}

func pruneActions(ctx context.Context, h dbHandle, before time.Time) (int64, error) {
	result, err := h.ExecContext(ctx, "DELETE FROM actions WHERE created_at < ?", dbTime(before))
	if err != nil {
		return 0, fmt.Errorf("failed to prune actions: %w", err)
	}
	return result.RowsAffected()
}

// ─── Settings operations ────────────────────────────────────────────────────

func (d *DB) GetSetting(ctx context.Context, key string) (string, error) {
	return getSetting(ctx, d.handle(), key)
}
func (t *Tx) GetSetting(ctx context.Context, key string) (string, error) {
	return getSetting(ctx, t.handle(), key)
}

func getSetting(ctx context.Context, h dbHandle, key string) (string, error) {
	var value string
	err := h.QueryRowContext(ctx, "SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%s: %w", key, pkgerrors.ErrSettingNotFound)
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

func (d *DB) SetSetting(ctx context.Context, key, value string) error {
	return setSetting(ctx, d.handle(), key, value)
}
func (t *Tx) SetSetting(ctx context.Context, key, value string) error {
	return setSetting(ctx, t.handle(), key, value)
}

func setSetting(ctx context.Context, h dbHandle, key, value string) error {
	query := `
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`
	_, err := h.ExecContext(ctx, query, key, value)
	return err
}

func (d *DB) GetAllSettings(ctx context.Context) (map[string]string, error) {
	return getAllSettings(ctx, d.handle())
}
func (t *Tx) GetAllSettings(ctx context.Context) (map[string]string, error) {
	return getAllSettings(ctx, t.handle())
}

func getAllSettings(ctx context.Context, h dbHandle) (map[string]string, error) {
	rows, err := h.QueryContext(ctx, "SELECT key, value FROM settings")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	settings := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		settings[key] = value
	}
	return settings, rows.Err()
}
