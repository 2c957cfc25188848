package usage

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/mailcoach-ai/mailcoach/internal/db"
)

func newTestRecorder(t *testing.T) *Recorder {
	t.Helper()
	conn, err := db.Open("file:" + filepath.Join(t.TempDir(), "usage-test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close(conn) })
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	return NewRecorder(conn)
}

func TestRecorder_RecordAndCount(t *testing.T) {
	r := newTestRecorder(t)
	ctx := context.Background()

	r.Record(ctx, Record{
		AccountEmail: "Writer@Example.com",
		Mode:         "generate",
		Goal:         "Say hello",
		Result:       "Hello!",
		Model:        "gpt-4.1-mini",
		PromptTokens: 10,
		Options:      map[string]any{"source": "web"},
		RequestedAt:  time.Date(2026, time.January, 2, 3, 4, 5, 0, time.UTC),
	})
	r.Record(ctx, Record{AccountEmail: "writer@example.com", Mode: "reply", Result: "Sure.", RequestedAt: time.Date(2026, time.January, 3, 0, 0, 0, 0, time.UTC)})
	r.Record(ctx, Record{AccountEmail: "other@example.com", Mode: "improve", Result: "Better."})

	total, err := r.Count(ctx, "WRITER@example.com")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if total != 2 {
		t.Fatalf("expected 2 records, got %d", total)
	}

	rows, err := r.Recent(ctx, "writer@example.com", 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0].Mode != "reply" {
		t.Fatalf("expected newest first, got %q", rows[0].Mode)
	}
	var opts map[string]any
	if errDecode := json.Unmarshal(rows[1].Options, &opts); errDecode != nil || opts["source"] != "web" {
		t.Fatalf("expected options round-trip, got %s (%v)", string(rows[1].Options), errDecode)
	}
	if rows[1].ID == "" || rows[1].ID == rows[0].ID {
		t.Fatalf("expected distinct ids")
	}
}

func TestRecorder_NilSafe(t *testing.T) {
	var r *Recorder
	r.Record(context.Background(), Record{AccountEmail: "x@example.com"})
	if total, err := r.Count(context.Background(), "x@example.com"); err != nil || total != 0 {
		t.Fatalf("expected zero count, got %d (%v)", total, err)
	}
}
