package middleware

import (
	"log/slog"
	"time"

	"github.com/vango-dev/cable/pkg/server"
)

// Logging creates middleware that logs each dispatch with its duration.
// Successful dispatches log at Debug, failures at Warn. A nil logger uses
// the context's logger.
func Logging(logger *slog.Logger) server.Middleware {
	return server.MiddlewareFunc(func(ctx *server.Context, next func() error) error {
		log := logger
		if log == nil {
			log = ctx.Logger()
		}

		start := time.Now()
		err := next()

		attrs := []any{
			"event", ctx.Subscription().QualifiedName(),
			"handler", ctx.Subscription().Handler(),
			"duration", time.Since(start),
		}
		if conn := ctx.Connection(); conn != nil {
			attrs = append(attrs, "conn_id", conn.ID())
		}
		if err != nil {
			log.Warn("dispatch failed", append(attrs, "error", err)...)
		} else {
			log.Debug("dispatched", attrs...)
		}
		return err
	})
}
