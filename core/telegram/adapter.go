package telegram

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/m3rciful/visionbot/core/engine"
	"github.com/m3rciful/visionbot/core/logger"
	"github.com/m3rciful/visionbot/core/session"
	tghelpers "github.com/m3rciful/visionbot/core/telegram/helpers"

	tele "gopkg.in/telebot.v4"
)

// EventDispatcher accepts conversation events; *engine.Engine implements it.
type EventDispatcher interface {
	Dispatch(ctx context.Context, ev engine.Event) error
}

// FileFetcher downloads Telegram files; *tele.Bot implements it.
type FileFetcher interface {
	File(file *tele.File) (io.ReadCloser, error)
}

// Adapter translates telebot updates into engine events.
type Adapter struct {
	events EventDispatcher
	files  FileFetcher
}

// NewAdapter binds handlers to events and files.
func NewAdapter(events EventDispatcher, files FileFetcher) *Adapter {
	return &Adapter{events: events, files: files}
}

// OnText handles plain text, reply buttons and slash commands that reached
// the text endpoint.
func (a *Adapter) OnText(c tele.Context) error {
	kind, ok := engine.KindForText(c.Text())
	if !ok {
		ctx := tghelpers.WithHandler(c, "text")
		logger.Debug(ctx, "tg", "update.ignored",
			slog.String("reason", "not_an_event"),
			slog.String("payload", logger.SanitizeLimit(c.Text(), 64)),
		)
		return nil
	}
	return a.dispatch(c, "text", kind, nil)
}

// OnPhoto hands the largest photo size to the engine. The download runs
// when the engine processes the event.
func (a *Adapter) OnPhoto(c tele.Context) error {
	msg := c.Message()
	if msg == nil || msg.Photo == nil {
		return nil
	}
	file := msg.Photo.File
	src := engine.PhotoFunc(func(context.Context) (io.ReadCloser, error) {
		return a.files.File(&file)
	})
	return a.dispatch(c, "photo", session.EventPhoto, src)
}

// Command returns a handler that emits kind for a registered command.
func (a *Adapter) Command(kind session.EventKind) tele.HandlerFunc {
	return func(c tele.Context) error {
		return a.dispatch(c, "command", kind, nil)
	}
}

func (a *Adapter) dispatch(c tele.Context, handler string, kind session.EventKind, photo engine.PhotoSource) error {
	ctx := tghelpers.WithHandler(c, handler)
	updateID, userID, chatID := tghelpers.IDs(c)
	if userID == 0 {
		return nil
	}
	if chatID == 0 {
		chatID = userID
	}

	ev := engine.Event{
		UserID:   userID,
		ChatID:   chatID,
		UpdateID: updateID,
		Kind:     kind,
		Text:     c.Text(),
		Photo:    photo,
	}
	err := a.events.Dispatch(ctx, ev)
	if errors.Is(err, engine.ErrClosed) {
		logger.Info(ctx, "tg", "update.dropped",
			slog.String("kind", string(kind)),
			slog.String("reason", "shutting_down"),
		)
		return nil
	}
	return err
}
