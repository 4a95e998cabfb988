package telegram

import (
	"strings"
	"time"

	coreconfig "github.com/m3rciful/visionbot/core/config"
	"github.com/m3rciful/visionbot/core/engine"
	"github.com/m3rciful/visionbot/core/metrics"
	"github.com/m3rciful/visionbot/core/session"
	"github.com/m3rciful/visionbot/core/telegram/middleware"

	tele "gopkg.in/telebot.v4"
)

// DefaultMiddlewares builds the shared middleware chain of recover, logger
// and update metrics, plus the per-user rate limit when configured.
func DefaultMiddlewares(cfg *coreconfig.Config, m *metrics.Metrics, onLimited func(tele.Context) error) []Middleware {
	mws := []Middleware{
		{Name: "recover", Use: middleware.RecoverMiddleware},
		{Name: "logger", Use: middleware.LoggerMiddleware},
		{Name: "metrics", Use: middleware.UpdateMetricsMiddleware(m)},
	}

	if cfg != nil {
		interval := time.Duration(cfg.RateLimit.IntervalMS) * time.Millisecond
		if interval > 0 {
			ex := make(map[string]struct{}, len(cfg.RateLimit.ExcludeUpdates))
			for _, t := range cfg.RateLimit.ExcludeUpdates {
				ex[strings.ToLower(t)] = struct{}{}
			}
			mws = append(mws, Middleware{
				Name: "rate_limit",
				Use: middleware.RateLimitMiddleware(middleware.RateLimitOptions{
					Interval:  interval,
					Exclude:   ex,
					Bypass:    isConversationControl,
					OnLimited: onLimited,
				}),
			})
		}
	}

	return mws
}

// isConversationControl reports whether c carries /start, /cancel or the
// stop button, which always reach the engine.
func isConversationControl(c tele.Context) bool {
	kind, ok := engine.KindForText(c.Text())
	if !ok {
		return false
	}
	switch kind {
	case session.EventStart, session.EventCancel, session.EventStop:
		return true
	default:
		return false
	}
}
