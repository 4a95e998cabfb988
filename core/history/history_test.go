package history

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// Requires a migrated Postgres; set VISIONBOT_TEST_DSN to run.
func TestRepositoryRecord(t *testing.T) {
	dsn := os.Getenv("VISIONBOT_TEST_DSN")
	if dsn == "" {
		t.Skip("VISIONBOT_TEST_DSN not set")
	}
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	repo := NewRepository(db)
	userID := int64(uuid.New().ID())
	sid := uuid.NewString()

	for _, label := range []string{"tabby", "lynx"} {
		if err := repo.Record(ctx, Record{UserID: userID, SessionID: sid, Label: label, Confidence: 0.5}); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
	var got []Record
	err = db.SelectContext(ctx, &got, `
SELECT id, user_id, session_id, label, confidence, latency_ms, image_bytes, created_at
FROM predictions WHERE user_id = $1 ORDER BY id`, userID)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("records = %d, want 2", len(got))
	}
	for _, rec := range got {
		if rec.SessionID != sid || rec.UserID != userID || rec.CreatedAt.IsZero() {
			t.Fatalf("unexpected record %+v", rec)
		}
	}
	_, _ = db.ExecContext(ctx, `DELETE FROM predictions WHERE user_id = $1`, userID)
}
