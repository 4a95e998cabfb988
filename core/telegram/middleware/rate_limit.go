package middleware

import (
	"log/slog"
	"sync"
	"time"

	"github.com/m3rciful/visionbot/core/logger"
	tghelpers "github.com/m3rciful/visionbot/core/telegram/helpers"

	tele "gopkg.in/telebot.v4"
)

// RateLimitOptions configures behaviour of the rate limit middleware.
type RateLimitOptions struct {
	Interval time.Duration
	// Exclude lists update kinds (message, photo) that bypass the limit.
	Exclude map[string]struct{}
	// Bypass exempts single updates, e.g. conversation control commands.
	Bypass    func(tele.Context) bool
	OnLimited tele.HandlerFunc
	Now       func() time.Time
}

// RateLimitMiddleware returns a middleware that enforces a minimum interval
// between updates from the same user.
func RateLimitMiddleware(opts RateLimitOptions) tele.MiddlewareFunc {
	var (
		userLastSeen   = make(map[int64]time.Time)
		userLastSeenMu sync.Mutex
	)
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			user := c.Sender()
			if user == nil || opts.Interval <= 0 {
				return next(c)
			}

			kind := tghelpers.UpdateKind(c)
			if _, skip := opts.Exclude[kind]; skip {
				return next(c)
			}
			if opts.Bypass != nil && opts.Bypass(c) {
				return next(c)
			}

			ts := now()

			userLastSeenMu.Lock()
			if last, ok := userLastSeen[user.ID]; ok && ts.Sub(last) < opts.Interval {
				userLastSeenMu.Unlock()
				logger.Warn(tghelpers.BuildContext(c), "tg", "tg.rate_limit",
					slog.String("kind", kind),
					slog.Int64("user_id", user.ID),
				)
				c.Set(updateStatusKey, "limited")
				if opts.OnLimited != nil {
					_ = opts.OnLimited(c)
				}
				return nil
			}

			userLastSeen[user.ID] = ts
			for id, last := range userLastSeen {
				if ts.Sub(last) > opts.Interval*10 {
					delete(userLastSeen, id)
				}
			}
			userLastSeenMu.Unlock()
			return next(c)
		}
	}
}
