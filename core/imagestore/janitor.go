package imagestore

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/m3rciful/visionbot/core/logger"
)

// Janitor periodically prunes images older than a TTL.
type Janitor struct {
	store Store
	ttl   time.Duration
	cron  *cron.Cron
	now   func() time.Time
}

// NewJanitor schedules pruning of store on the given cron spec ("@every 10m", "*/5 * * * *").
func NewJanitor(store Store, ttl time.Duration, schedule string) (*Janitor, error) {
	j := &Janitor{
		store: store,
		ttl:   ttl,
		cron:  cron.New(cron.WithLocation(time.UTC)),
		now:   time.Now,
	}
	if _, err := j.cron.AddFunc(schedule, func() {
		_, _ = j.RunOnce(context.Background())
	}); err != nil {
		return nil, fmt.Errorf("janitor schedule %q: %w", schedule, err)
	}
	return j, nil
}

// Start runs the schedule in the background.
func (j *Janitor) Start() {
	j.cron.Start()
	logger.Info(context.Background(), "images", "janitor.start",
		slog.Duration("ttl", j.ttl),
	)
}

// Stop halts the schedule and waits for a running prune to finish.
func (j *Janitor) Stop() {
	<-j.cron.Stop().Done()
}

// RunOnce prunes expired images immediately.
func (j *Janitor) RunOnce(ctx context.Context) (int, error) {
	start := time.Now()
	n, err := j.store.Prune(ctx, j.now().Add(-j.ttl))
	attrs := []slog.Attr{
		slog.String("status", logger.Status(err)),
		slog.Int("count", n),
		slog.Duration("duration", time.Since(start)),
	}
	if err != nil {
		logger.Warn(ctx, "images", "janitor.prune", append(attrs, slog.String("error", err.Error()))...)
		return n, err
	}
	if n > 0 {
		logger.Info(ctx, "images", "janitor.prune", attrs...)
	} else {
		logger.Debug(ctx, "images", "janitor.prune", attrs...)
	}
	return n, nil
}
