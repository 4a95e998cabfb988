// Package imagestore keeps the most recent photo of every user between the
// photo and the recognize step. At most one image is held per user.
package imagestore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

var (
	// ErrNotFound is returned by Get when the user has no stored image.
	ErrNotFound = errors.New("imagestore: image not found")
	// ErrTooLarge is returned by ReadLimited when the payload exceeds the limit.
	ErrTooLarge = errors.New("imagestore: image too large")
)

// Store maps a user id to raw image bytes. Put overwrites. Implementations
// must be safe for concurrent use across distinct users.
type Store interface {
	Put(ctx context.Context, userID int64, data []byte) error
	Get(ctx context.Context, userID int64) ([]byte, error)
	Remove(ctx context.Context, userID int64) error
	Clear(ctx context.Context) error
	// Prune removes images stored before olderThan and returns how many were removed.
	Prune(ctx context.Context, olderThan time.Time) (int, error)
}

// ReadLimited reads r fully, failing with ErrTooLarge once more than max bytes arrive.
func ReadLimited(r io.Reader, max int64) ([]byte, error) {
	if max <= 0 {
		return io.ReadAll(r)
	}
	data, err := io.ReadAll(io.LimitReader(r, max+1))
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	if int64(len(data)) > max {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrTooLarge, max)
	}
	return data, nil
}
