package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/m3rciful/visionbot/core/classifier"
	"github.com/m3rciful/visionbot/core/history"
	"github.com/m3rciful/visionbot/core/imagestore"
	"github.com/m3rciful/visionbot/core/logger"
	"github.com/m3rciful/visionbot/core/session"
)

func (e *Engine) onStart(ctx context.Context, ev Event) error {
	e.dropImage(ctx, ev.UserID)
	sess := session.New(ev.UserID, e.now())
	e.sessions.Put(sess)
	ctx = logger.WithSession(ctx, sess.CorrelationID)
	e.reply(ctx, ev, MsgGreeting, KeyboardMain)
	return nil
}

func (e *Engine) onPhoto(ctx context.Context, ev Event, sess session.Session, next session.State) error {
	data, err := e.download(ctx, ev)
	if err == nil {
		err = e.images.Put(ctx, ev.UserID, data)
	}
	if err != nil {
		e.reply(ctx, ev, MsgStorageFailure, KeyboardNone)
		return fmt.Errorf("%w: %w", ErrStorageFailure, err)
	}

	sess.State = next
	sess.UpdatedAt = e.now()
	e.sessions.Put(sess)

	logger.Debug(ctx, "engine", "image.stored", slog.Int("bytes", len(data)))
	e.reply(ctx, ev, MsgDownloading, KeyboardNone)
	return nil
}

func (e *Engine) download(ctx context.Context, ev Event) ([]byte, error) {
	if ev.Photo == nil {
		return nil, errors.New("event carries no photo")
	}
	rc, err := ev.Photo.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("open photo: %w", err)
	}
	defer rc.Close()
	return imagestore.ReadLimited(rc, e.maxImageBytes)
}

func (e *Engine) onText(ctx context.Context, ev Event, sess session.Session, next session.State) error {
	data, err := e.images.Get(ctx, ev.UserID)
	switch {
	case errors.Is(err, imagestore.ErrNotFound):
		e.reply(ctx, ev, MsgNoImage, KeyboardNone)
		return ErrNoImageFound
	case err != nil:
		e.reply(ctx, ev, MsgStorageFailure, KeyboardNone)
		return fmt.Errorf("%w: %w", ErrStorageFailure, err)
	}

	e.reply(ctx, ev, MsgPreprocessing, KeyboardNone)
	e.reply(ctx, ev, MsgRecognizing, KeyboardNone)

	preds, took, err := e.classify(ctx, data)
	if err != nil {
		e.reply(ctx, ev, MsgClassifyFailure, KeyboardMain)
		return fmt.Errorf("%w: %w", ErrClassificationFailure, err)
	}

	sess.State = next
	sess.UpdatedAt = e.now()
	e.sessions.Put(sess)

	e.reply(ctx, ev, FormatPredictions(preds), KeyboardNone)
	e.reply(ctx, ev, MsgSendAnother, KeyboardMain)

	logger.Info(ctx, "engine", "classify.done",
		slog.String("label", preds[0].Label),
		slog.Float64("confidence", preds[0].Confidence),
		slog.Int("top_k", e.topK),
		slog.Duration("duration", took),
	)
	e.record(ctx, sess, preds[0], took, len(data))
	return nil
}

func (e *Engine) classify(ctx context.Context, data []byte) ([]classifier.Prediction, time.Duration, error) {
	cctx, cancel := context.WithTimeout(ctx, e.classifyTimeout)
	defer cancel()

	start := time.Now()
	preds, err := e.classifier.Classify(cctx, data, e.topK)
	if err == nil {
		err = classifier.Validate(preds)
	}
	took := time.Since(start)
	e.metrics.ClassifyDuration(logger.Status(err), took.Seconds())
	return preds, took, err
}

func (e *Engine) record(ctx context.Context, sess session.Session, top classifier.Prediction, took time.Duration, size int) {
	if e.recorder == nil {
		return
	}
	err := e.recorder.Record(ctx, history.Record{
		UserID:     sess.UserID,
		SessionID:  sess.CorrelationID,
		Label:      top.Label,
		Confidence: top.Confidence,
		LatencyMS:  took.Milliseconds(),
		ImageBytes: size,
	})
	if err != nil {
		logger.Warn(ctx, "engine", "history.record",
			slog.String("status", "fail"),
			slog.String("error", err.Error()),
		)
	}
}

func (e *Engine) onCancel(ctx context.Context, ev Event) error {
	e.sessions.Delete(ev.UserID)
	e.dropImage(ctx, ev.UserID)
	e.reply(ctx, ev, MsgFarewell, KeyboardRemove)
	return nil
}

// onStop never blocks on the shutdown itself; the run loop performs it.
func (e *Engine) onStop(ctx context.Context, ev Event) error {
	e.sessions.Delete(ev.UserID)
	e.dropImage(ctx, ev.UserID)
	first := e.shutdown.Request(fmt.Sprintf("stop requested by user %d", ev.UserID))
	e.metrics.ShutdownRequested()
	logger.Info(ctx, "engine", "shutdown.requested",
		slog.Bool("first", first),
	)
	return nil
}

func (e *Engine) dropImage(ctx context.Context, userID int64) {
	if err := e.images.Remove(ctx, userID); err != nil {
		logger.Warn(ctx, "engine", "image.remove",
			slog.String("status", "fail"),
			slog.String("error", err.Error()),
		)
	}
}
