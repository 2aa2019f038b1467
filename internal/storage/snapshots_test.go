package storage

import (
	"context"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"offerdesk/internal/model"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(context.Background(), Config{Path: filepath.Join(t.TempDir(), "desk.db")})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestEmptyStoreLoadsEmptySnapshot(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	snap, err := db.LoadSnapshot(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(snap.Sent)+len(snap.Received)+len(snap.Timestamps)+len(snap.OfferData) != 0 {
		t.Fatalf("expected empty snapshot, got %+v", snap)
	}
	if snap.Sent == nil || snap.OfferData == nil {
		t.Fatalf("expected non-nil maps")
	}
	at, err := db.SavedAt(ctx)
	if err != nil || !at.IsZero() {
		t.Fatalf("expected zero saved time, got %v err=%v", at, err)
	}
}

func TestSnapshotRoundTripReplacesPrevious(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	first := model.PollSnapshot{
		Sent:       map[string]model.OfferState{"1": model.StateActive},
		Received:   map[string]model.OfferState{"2": model.StateInEscrow},
		Timestamps: map[string]int64{"1": 100, "2": 200},
		OfferData: map[string]model.OfferData{
			"1": {AssetIDs: []string{"a", "b"}, HandledByUs: true},
			"2": {ActedOnConfirmation: true},
		},
	}
	if err := db.SaveSnapshot(ctx, first); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := db.LoadSnapshot(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !reflect.DeepEqual(got, first) {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", got, first)
	}

	// a pruned snapshot drops data but keeps the state entry
	second := first.Clone()
	delete(second.Timestamps, "1")
	delete(second.OfferData, "1")
	second.Sent["1"] = model.StateDeclined
	if err := db.SaveSnapshot(ctx, second); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err = db.LoadSnapshot(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !reflect.DeepEqual(got, second) {
		t.Fatalf("expected second snapshot to replace first:\n got %+v\nwant %+v", got, second)
	}

	at, err := db.SavedAt(ctx)
	if err != nil || at.IsZero() {
		t.Fatalf("expected saved time, got %v err=%v", at, err)
	}
}

func TestMigrateIsRepeatable(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	v, err := currentVersion(ctx, db.DB)
	if err != nil || v != latestVersion {
		t.Fatalf("expected version %d, got %d err=%v", latestVersion, v, err)
	}
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open(context.Background(), Config{}); err == nil {
		t.Fatalf("expected error for empty path")
	}
}

func TestOpenUsesSingleWriterConnection(t *testing.T) {
	db := openTestDB(t)
	if n := db.Stats().MaxOpenConnections; n != 1 {
		t.Fatalf("expected one connection, got %d", n)
	}

	var mode string
	if err := db.QueryRowContext(context.Background(), `PRAGMA journal_mode;`).Scan(&mode); err != nil {
		t.Fatalf("journal_mode: %v", err)
	}
	if mode != "wal" {
		t.Fatalf("expected wal journal, got %q", mode)
	}

	dsn := snapshotDSN(Config{Path: "/tmp/x.db", BusyTimeout: 1500 * time.Millisecond})
	for _, want := range []string{"_busy_timeout=1500", "_txlock=immediate"} {
		if !strings.Contains(dsn, want) {
			t.Fatalf("dsn %q missing %s", dsn, want)
		}
	}
}
