package sender

import (
	"context"
	"errors"
	"log/slog"

	"github.com/m3rciful/visionbot/core/engine"
	"github.com/m3rciful/visionbot/core/logger"
	"github.com/m3rciful/visionbot/core/metrics"
	"github.com/m3rciful/visionbot/core/telegram/keyboard"

	tele "gopkg.in/telebot.v4"
)

// Messenger is the subset of *tele.Bot used to deliver replies.
type Messenger interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

// Replies delivers engine replies through the dispatcher, keyed by chat so a
// conversation's messages keep their order.
type Replies struct {
	bot        Messenger
	dispatcher *Dispatcher
	metrics    *metrics.Metrics
}

// NewReplies returns an engine.Sender backed by bot and d.
func NewReplies(bot Messenger, d *Dispatcher, m *metrics.Metrics) *Replies {
	return &Replies{bot: bot, dispatcher: d, metrics: m}
}

var _ engine.Sender = (*Replies)(nil)

// Send queues r for chatID, waiting while the chat's worker is saturated.
// Once the dispatcher is closed and flushed, r is sent directly.
func (s *Replies) Send(ctx context.Context, chatID int64, r engine.Reply) error {
	run := func() error {
		var err error
		if markup := Markup(r.Keyboard); markup != nil {
			_, err = s.bot.Send(tele.ChatID(chatID), r.Text, markup)
		} else {
			_, err = s.bot.Send(tele.ChatID(chatID), r.Text)
		}
		if err == nil {
			s.metrics.MessageSent(r.Keyboard.String())
		}
		return err
	}

	err := s.dispatcher.EnqueueWait(ctx, chatID, "send.text", "sendMessage", run)
	if errors.Is(err, ErrQueueClosed) {
		logger.Debug(ctx, "tg", "send.direct",
			slog.Int64("chat_id", chatID),
			slog.String("reason", "dispatcher_closed"),
		)
		if err = run(); err != nil {
			s.metrics.SendFailure()
		}
	}
	return err
}

// Markup maps an engine keyboard to telebot reply markup.
func Markup(kb engine.Keyboard) *tele.ReplyMarkup {
	switch kb {
	case engine.KeyboardMain:
		return keyboard.OneTimeButtons(engine.MainKeyboard...)
	case engine.KeyboardRemove:
		return keyboard.RemoveKeyboard()
	default:
		return nil
	}
}
