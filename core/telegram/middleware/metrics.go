package middleware

import (
	"github.com/m3rciful/visionbot/core/logger"
	"github.com/m3rciful/visionbot/core/metrics"
	tghelpers "github.com/m3rciful/visionbot/core/telegram/helpers"

	tele "gopkg.in/telebot.v4"
)

// updateStatusKey lets inner middlewares override the recorded status.
const updateStatusKey = "update_status"

// UpdateMetricsMiddleware counts handled updates by kind and outcome.
// It must wrap the rate limiter to see limited updates.
func UpdateMetricsMiddleware(m *metrics.Metrics) tele.MiddlewareFunc {
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			err := next(c)
			status := logger.Status(err)
			if s, ok := c.Get(updateStatusKey).(string); ok && s != "" {
				status = s
			}
			m.Update(tghelpers.UpdateKind(c), status)
			return err
		}
	}
}
