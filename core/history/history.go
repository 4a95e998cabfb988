// Package history stores classification results in Postgres.
package history

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/m3rciful/visionbot/core/logger"
)

// Record is one answered recognition request.
type Record struct {
	ID         int64     `db:"id"`
	UserID     int64     `db:"user_id"`
	SessionID  string    `db:"session_id"`
	Label      string    `db:"label"`
	Confidence float64   `db:"confidence"`
	LatencyMS  int64     `db:"latency_ms"`
	ImageBytes int       `db:"image_bytes"`
	CreatedAt  time.Time `db:"created_at"`
}

// Repository writes prediction history.
type Repository struct {
	db *sqlx.DB
}

// NewRepository wraps an open connection.
func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

const insertRecord = `
INSERT INTO predictions (user_id, session_id, label, confidence, latency_ms, image_bytes)
VALUES (:user_id, :session_id, :label, :confidence, :latency_ms, :image_bytes)`

// Record inserts rec. CreatedAt and ID are assigned by the database.
func (r *Repository) Record(ctx context.Context, rec Record) error {
	start := time.Now()
	if _, err := r.db.NamedExecContext(ctx, insertRecord, rec); err != nil {
		logger.Warn(ctx, "history", "record",
			slog.String("status", "fail"),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("insert prediction: %w", err)
	}
	logger.Debug(ctx, "history", "record",
		slog.String("status", "ok"),
		slog.String("label", rec.Label),
		slog.Duration("duration", time.Since(start)),
	)
	return nil
}
