package middleware

import (
	"errors"
	"testing"
	"time"

	"github.com/m3rciful/visionbot/core/metrics"
	tghelpers "github.com/m3rciful/visionbot/core/telegram/helpers"

	"github.com/prometheus/client_golang/prometheus/testutil"
	tele "gopkg.in/telebot.v4"
)

func newBot(t *testing.T) *tele.Bot {
	t.Helper()
	bot, err := tele.NewBot(tele.Settings{Offline: true, Synchronous: true})
	if err != nil {
		t.Fatalf("NewBot: %v", err)
	}
	return bot
}

func textUpdate(id int, user int64, text string) tele.Update {
	return tele.Update{ID: id, Message: &tele.Message{
		Sender: &tele.User{ID: user},
		Chat:   &tele.Chat{ID: user, Type: tele.ChatPrivate},
		Text:   text,
	}}
}

func photoUpdate(id int, user int64) tele.Update {
	return tele.Update{ID: id, Message: &tele.Message{
		Sender: &tele.User{ID: user},
		Chat:   &tele.Chat{ID: user},
		Photo:  &tele.Photo{File: tele.File{FileID: "f"}, Width: 10, Height: 10},
	}}
}

func TestRateLimitPerUserWithExclusions(t *testing.T) {
	bot := newBot(t)
	clock := time.Unix(0, 0)
	limited := 0
	mw := RateLimitMiddleware(RateLimitOptions{
		Interval:  time.Second,
		Exclude:   map[string]struct{}{tghelpers.KindPhoto: {}},
		OnLimited: func(tele.Context) error { limited++; return nil },
		Now:       func() time.Time { return clock },
	})
	calls := 0
	h := mw(func(tele.Context) error { calls++; return nil })

	_ = h(bot.NewContext(textUpdate(1, 7, "a")))
	_ = h(bot.NewContext(textUpdate(2, 7, "b")))
	_ = h(bot.NewContext(textUpdate(3, 8, "c")))
	_ = h(bot.NewContext(photoUpdate(4, 7)))
	clock = clock.Add(2 * time.Second)
	_ = h(bot.NewContext(textUpdate(5, 7, "d")))

	if calls != 4 || limited != 1 {
		t.Fatalf("calls = %d, limited = %d", calls, limited)
	}
}

func TestRateLimitBypass(t *testing.T) {
	bot := newBot(t)
	clock := time.Unix(0, 0)
	limited := 0
	mw := RateLimitMiddleware(RateLimitOptions{
		Interval:  time.Second,
		Bypass:    func(c tele.Context) bool { return c.Text() == "/cancel" },
		OnLimited: func(tele.Context) error { limited++; return nil },
		Now:       func() time.Time { return clock },
	})
	var seen []string
	h := mw(func(c tele.Context) error { seen = append(seen, c.Text()); return nil })

	_ = h(bot.NewContext(textUpdate(1, 7, "Recognize")))
	_ = h(bot.NewContext(textUpdate(2, 7, "/cancel")))
	_ = h(bot.NewContext(textUpdate(3, 7, "again")))

	if len(seen) != 2 || seen[1] != "/cancel" || limited != 1 {
		t.Fatalf("seen = %q, limited = %d", seen, limited)
	}
}

func TestUpdateMetricsStatus(t *testing.T) {
	bot := newBot(t)
	m := metrics.New()
	limiter := RateLimitMiddleware(RateLimitOptions{Interval: time.Hour})
	boom := errors.New("boom")
	fail := false
	h := UpdateMetricsMiddleware(m)(limiter(func(tele.Context) error {
		if fail {
			return boom
		}
		return nil
	}))

	_ = h(bot.NewContext(textUpdate(1, 1, "x")))
	_ = h(bot.NewContext(textUpdate(2, 1, "y")))
	fail = true
	if err := h(bot.NewContext(photoUpdate(3, 2))); !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}

	n, err := testutil.GatherAndCount(m.Registry, "visionbot_updates_total")
	if err != nil || n != 3 {
		t.Fatalf("updates series = %d, err %v", n, err)
	}
}

func TestRecoverTurnsPanicIntoError(t *testing.T) {
	bot := newBot(t)
	h := RecoverMiddleware(func(tele.Context) error { panic("kaboom") })
	if err := h(bot.NewContext(textUpdate(1, 1, "x"))); err == nil {
		t.Fatal("expected error from recovered panic")
	}
}

func TestLoggerMiddlewareStoresContext(t *testing.T) {
	bot := newBot(t)
	c := bot.NewContext(textUpdate(9, 3, "hello"))
	err := LoggerMiddleware(func(c tele.Context) error {
		if _, ok := tghelpers.ContextFrom(c); !ok {
			t.Error("context not stored")
		}
		if rid, _ := c.Get("rid").(string); rid == "" {
			t.Error("rid not set")
		}
		return nil
	})(c)
	if err != nil {
		t.Fatalf("err = %v", err)
	}
}
