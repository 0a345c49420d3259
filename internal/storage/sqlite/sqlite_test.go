package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"netaccess/internal/storage"
	"netaccess/internal/storage/models"
	pkgerrors "netaccess/pkg/errors"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestRecordAndListActions(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	base := time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)

	actions := []*models.Action{
		{Kind: models.ActionApprove, Username: "alice", IP: "10.21.0.7", Tier: "day", Result: models.ResultSuccess, CreatedAt: base},
		{Kind: models.ActionRevoke, Username: "alice", IP: "10.21.0.99", Result: models.ResultSkipped, CreatedAt: base.Add(time.Minute)},
		{Kind: models.ActionStatus, Username: "bob", Source: "monitor", RunID: "run-1", Result: models.ResultFailure, ErrorMessage: "invalid user credentials", CreatedAt: base.Add(2 * time.Minute)},
	}
	for _, a := range actions {
		if err := db.RecordAction(ctx, a); err != nil {
			t.Fatalf("RecordAction: %v", err)
		}
		if a.ID == 0 {
			t.Error("RecordAction did not assign an id")
		}
	}

	all, err := db.ListActions(ctx, storage.ActionFilter{})
	if err != nil {
		t.Fatalf("ListActions: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("got %d actions, want 3", len(all))
	}
	if all[0].Kind != models.ActionStatus || all[2].Kind != models.ActionApprove {
		t.Errorf("actions not newest first: %v, %v", all[0].Kind, all[2].Kind)
	}
	if !all[0].CreatedAt.Equal(base.Add(2 * time.Minute)) {
		t.Errorf("CreatedAt = %v", all[0].CreatedAt)
	}
	if all[0].RunID != "run-1" || all[0].Source != "monitor" || !all[0].Failed() {
		t.Errorf("action = %+v", all[0])
	}
	if all[1].Source != "cli" {
		t.Errorf("default source = %q", all[1].Source)
	}
}

func TestListActionsFilters(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	base := time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)

	for i, kind := range []models.ActionKind{models.ActionApprove, models.ActionApprove, models.ActionRevoke, models.ActionStatus} {
		a := &models.Action{Kind: kind, Username: "alice", Result: models.ResultSuccess, RunID: "run-a", CreatedAt: base.Add(time.Duration(i) * time.Hour)}
		if i == 3 {
			a.RunID = "run-b"
			a.Username = "bob"
			a.Result = models.ResultFailure
		}
		if err := db.RecordAction(ctx, a); err != nil {
			t.Fatal(err)
		}
	}

	approve := models.ActionApprove
	failure := models.ResultFailure
	since := base.Add(90 * time.Minute)

	tests := []struct {
		name   string
		filter storage.ActionFilter
		want   int
	}{
		{"kind", storage.ActionFilter{Kind: &approve}, 2},
		{"result", storage.ActionFilter{Result: &failure}, 1},
		{"run", storage.ActionFilter{RunID: "run-a"}, 3},
		{"user", storage.ActionFilter{Username: "bob"}, 1},
		{"since", storage.ActionFilter{Since: &since}, 2},
		{"limit", storage.ActionFilter{Limit: 1}, 1},
		{"combined", storage.ActionFilter{Kind: &approve, Since: &since}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := db.ListActions(ctx, tt.filter)
			if err != nil {
				t.Fatal(err)
			}
			if len(got) != tt.want {
				t.Errorf("got %d actions, want %d", len(got), tt.want)
			}
		})
	}
}

func TestPruneActions(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	now := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)

	for _, age := range []time.Duration{48 * time.Hour, 25 * time.Hour, time.Hour} {
		a := &models.Action{Kind: models.ActionApprove, Username: "alice", Result: models.ResultSuccess, CreatedAt: now.Add(-age)}
		if err := db.RecordAction(ctx, a); err != nil {
			t.Fatal(err)
		}
	}

	n, err := db.PruneActions(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("PruneActions: %v", err)
	}
	if n != 2 {
		t.Errorf("pruned %d, want 2", n)
	}
	left, _ := db.ListActions(ctx, storage.ActionFilter{})
	if len(left) != 1 {
		t.Errorf("%d actions left, want 1", len(left))
	}
}

func TestPruneComparesAcrossZones(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	ist := time.FixedZone("IST", 19800)
	at := time.Date(2026, 10, 15, 17, 30, 0, 0, ist) // 12:00 UTC

	if err := db.RecordAction(ctx, &models.Action{Kind: models.ActionStatus, Username: "alice", Result: models.ResultSuccess, CreatedAt: at}); err != nil {
		t.Fatal(err)
	}
	n, err := db.PruneActions(ctx, time.Date(2026, 10, 15, 11, 59, 0, 0, time.UTC))
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("pruned a newer action")
	}
}

func TestSettings(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	if _, err := db.GetSetting(ctx, storage.SettingLastRunID); !errors.Is(err, pkgerrors.ErrSettingNotFound) {
		t.Errorf("GetSetting missing = %v", err)
	}

	if err := db.SetSetting(ctx, storage.SettingLastRunID, "run-1"); err != nil {
		t.Fatal(err)
	}
	if err := db.SetSetting(ctx, storage.SettingLastRunID, "run-2"); err != nil {
		t.Fatal(err)
	}
	got, err := db.GetSetting(ctx, storage.SettingLastRunID)
	if err != nil || got != "run-2" {
		t.Errorf("GetSetting = %q, %v", got, err)
	}

	all, err := db.GetAllSettings(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if all["schema_version"] != "1" || all[storage.SettingLastRunID] != "run-2" {
		t.Errorf("settings = %v", all)
	}
}

func TestTransactionRollback(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	tx, err := db.BeginTx(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if err := tx.RecordAction(ctx, &models.Action{Kind: models.ActionApprove, Username: "alice", Result: models.ResultSuccess}); err != nil {
		t.Fatal(err)
	}
	if _, err := tx.BeginTx(ctx); err == nil {
		t.Error("nested transaction should fail")
	}
	if err := tx.Rollback(); err != nil {
		t.Fatal(err)
	}

	got, _ := db.ListActions(ctx, storage.ActionFilter{})
	if len(got) != 0 {
		t.Errorf("rolled back action persisted")
	}
}
