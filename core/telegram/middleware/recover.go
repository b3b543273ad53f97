package middleware

import (
	"runtime/debug"

	"github.com/m3rciful/telemenu/core/logger"
	"log/slog"

	tele "gopkg.in/telebot.v4"
)

// RecoverMiddleware catches panics in handlers and prevents the bot from crashing.
// The chat id is logged when available so a broken screen can be traced to the
// session that rendered it.
func RecoverMiddleware(next tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) error {
		defer func() {
			if r := recover(); r != nil {
				attrs := []slog.Attr{
					slog.String("event", "tg.panic"),
					slog.Any("err", r),
					slog.String("stack", string(debug.Stack())),
				}
				if c != nil && c.Chat() != nil {
					attrs = append(attrs, slog.Int64("chat_id", c.Chat().ID))
				}
				logger.TG.LogAttrs(logger.Background(), slog.LevelError, "panic recovered", attrs...)
			}
		}()
		return next(c)
	}
}
