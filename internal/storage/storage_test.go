package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"buildgate/internal/slogutil"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), ".buildgate", "history.db")
	db, err := Open(dbPath, slogutil.NewDiscardLogger())
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Errorf("Failed to close database: %v", err)
		}
	})
	return db
}

func TestDatabaseInitialization(t *testing.T) {
	db := setupTestDB(t)

	if _, err := os.Stat(db.Path()); os.IsNotExist(err) {
		t.Fatalf("Database file was not created at %s", db.Path())
	}

	version, err := db.getSchemaVersion()
	if err != nil {
		t.Fatalf("getSchemaVersion() error = %v", err)
	}
	if version != currentSchemaVersion {
		t.Errorf("schema version = %d, want %d", version, currentSchemaVersion)
	}
}

func TestDatabaseReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "history.db")
	logger := slogutil.NewDiscardLogger()

	db, err := Open(dbPath, logger)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := db.RecordBuild(context.Background(), BuildRecord{JobID: "j1", Ref: "main", Step: "compile", Status: StatusSucceeded}); err != nil {
		t.Fatalf("RecordBuild() error = %v", err)
	}
	db.Close()

	db, err = Open(dbPath, logger)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer db.Close()

	records, err := db.RecentBuilds(context.Background(), 10)
	if err != nil {
		t.Fatalf("RecentBuilds() error = %v", err)
	}
	if len(records) != 1 {
		t.Errorf("records after reopen = %d, want 1", len(records))
	}
}

func TestBuildHistory(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	records := []BuildRecord{
		{JobID: "a", Ref: "main", Commit: "c1", Path: "app.js", Step: "compile", Status: StatusSucceeded, StartedAt: base, DurationMs: 1500},
		{JobID: "a", Ref: "main", Commit: "c1", Path: "app.js", Step: "assemble", Status: StatusFailed, Error: "gulp failed", StartedAt: base.Add(time.Second)},
		{JobID: "b", Ref: "v1.0.0", Step: "download", Status: StatusSucceeded, StartedAt: base.Add(500 * time.Millisecond)},
	}
	for _, rec := range records {
		if err := db.RecordBuild(ctx, rec); err != nil {
			t.Fatalf("RecordBuild() error = %v", err)
		}
	}

	t.Run("recent newest first", func(t *testing.T) {
		got, err := db.RecentBuilds(ctx, 0)
		if err != nil {
			t.Fatalf("RecentBuilds() error = %v", err)
		}
		if len(got) != 3 {
			t.Fatalf("len = %d, want 3", len(got))
		}
		wantSteps := []string{"assemble", "download", "compile"}
		for i, w := range wantSteps {
			if got[i].Step != w {
				t.Errorf("got[%d].Step = %s, want %s", i, got[i].Step, w)
			}
		}
		if got[0].Error != "gulp failed" {
			t.Errorf("Error = %q, want gulp failed", got[0].Error)
		}
		if got[2].DurationMs != 1500 {
			t.Errorf("DurationMs = %d, want 1500", got[2].DurationMs)
		}
		if !got[2].StartedAt.Equal(base) {
			t.Errorf("StartedAt = %v, want %v", got[2].StartedAt, base)
		}
	})

	t.Run("limit", func(t *testing.T) {
		got, err := db.RecentBuilds(ctx, 1)
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 1 {
			t.Errorf("len = %d, want 1", len(got))
		}
	})

	t.Run("for ref", func(t *testing.T) {
		got, err := db.BuildsForRef(ctx, "main", 10)
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 2 {
			t.Errorf("len = %d, want 2", len(got))
		}
		for _, r := range got {
			if r.Ref != "main" {
				t.Errorf("Ref = %s, want main", r.Ref)
			}
		}
	})

	t.Run("prune", func(t *testing.T) {
		n, err := db.PruneBuilds(ctx, base.Add(750*time.Millisecond))
		if err != nil {
			t.Fatal(err)
		}
		if n != 2 {
			t.Errorf("pruned = %d, want 2", n)
		}
		got, _ := db.RecentBuilds(ctx, 10)
		if len(got) != 1 || got[0].Step != "assemble" {
			t.Errorf("remaining = %+v", got)
		}
	})
}

func TestClampLimit(t *testing.T) {
	tests := []struct{ in, want int }{{0, 50}, {-1, 50}, {10, 10}, {5000, 1000}}
	for _, tt := range tests {
		if got := clampLimit(tt.in); got != tt.want {
			t.Errorf("clampLimit(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
