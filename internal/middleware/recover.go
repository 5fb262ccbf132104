package middleware

import (
	"context"
	"log/slog"
	"runtime/debug"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// Recover keeps a panicking handler from taking down the polling loop.
func Recover() bot.Middleware {
	return func(next bot.HandlerFunc) bot.HandlerFunc {
		return func(ctx context.Context, b *bot.Bot, update *models.Update) {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("telegram.update.panic",
						append(updateAttrs(update),
							"panic", r,
							"stack", string(debug.Stack()),
						)...,
					)
				}
			}()
			next(ctx, b, update)
		}
	}
}
