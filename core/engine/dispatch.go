package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/m3rciful/visionbot/core/logger"
)

// ErrDrainTimeout is returned by Run when in-flight events outlive the drain timeout.
var ErrDrainTimeout = errors.New("engine: drain timeout")

// Dispatch queues ev on the user's mailbox and returns immediately. Events of
// one user run in arrival order on a goroutine that exits once the mailbox is
// empty. After shutdown is requested Dispatch returns ErrClosed.
func (e *Engine) Dispatch(ctx context.Context, ev Event) error {
	if ctx == nil {
		ctx = context.Background()
	}

	e.mu.Lock()
	if e.closed || e.shutdown.Requested() {
		e.mu.Unlock()
		return ErrClosed
	}
	mb, ok := e.mailboxes[ev.UserID]
	if !ok {
		mb = &mailbox{}
		e.mailboxes[ev.UserID] = mb
	}
	mb.queue = append(mb.queue, queued{ctx: ctx, ev: ev})
	startWorker := !mb.running
	mb.running = true
	e.inflight.Add(1)
	e.mu.Unlock()

	e.pending.Add(1)
	e.metrics.AddInFlight(1)
	if startWorker {
		go e.drainMailbox(ev.UserID, mb)
	}
	return nil
}

func (e *Engine) drainMailbox(userID int64, mb *mailbox) {
	for {
		e.mu.Lock()
		if len(mb.queue) == 0 {
			mb.running = false
			delete(e.mailboxes, userID)
			e.mu.Unlock()
			return
		}
		item := mb.queue[0]
		mb.queue[0] = queued{}
		mb.queue = mb.queue[1:]
		e.mu.Unlock()

		e.process(item)
	}
}

func (e *Engine) process(item queued) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error(item.ctx, "engine", "panic",
				slog.String("status", "fail"),
				slog.Int64("user_id", item.ev.UserID),
				slog.String("error", fmt.Sprint(r)),
				slog.String("stack", string(debug.Stack())),
			)
		}
		e.pending.Add(-1)
		e.metrics.AddInFlight(-1)
		e.inflight.Done()
	}()
	// errors were already reported to the user and logged by Handle
	_ = e.Handle(item.ctx, item.ev)
}

// InFlight returns the number of dispatched events not finished yet.
func (e *Engine) InFlight() int {
	return int(e.pending.Load())
}

// Run blocks until ctx is done or shutdown is requested, then stops accepting
// events and waits for in-flight ones, bounded by the drain timeout. Sessions
// and stored images are dropped once the engine has drained.
func (e *Engine) Run(ctx context.Context) error {
	reason := "context"
	select {
	case <-ctx.Done():
	case <-e.shutdown.Done():
		reason = e.shutdown.Reason()
	}

	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()

	logger.Info(ctx, "engine", "drain.start",
		slog.String("reason", reason),
		slog.Int("in_flight", e.InFlight()),
	)

	start := time.Now()
	done := make(chan struct{})
	go func() {
		e.inflight.Wait()
		close(done)
	}()

	timer := time.NewTimer(e.drainTimeout)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		logger.Warn(ctx, "engine", "drain.done",
			slog.String("status", "timeout"),
			slog.Int("in_flight", e.InFlight()),
			slog.Duration("duration", time.Since(start)),
		)
		return ErrDrainTimeout
	}

	e.sessions.Clear()
	clearCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.images.Clear(clearCtx); err != nil {
		logger.Warn(ctx, "engine", "images.clear",
			slog.String("status", "fail"),
			slog.String("error", err.Error()),
		)
	}
	e.metrics.SetActiveSessions(0)

	logger.Info(ctx, "engine", "drain.done",
		slog.String("status", "ok"),
		slog.Duration("duration", time.Since(start)),
	)
	return nil
}
