package middleware

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/storedesk/ticketbot/core/logger"
	"github.com/storedesk/ticketbot/core/telegram"
	"github.com/storedesk/ticketbot/internal/router"
)

// Notices shared with the plain-text path in the dispatcher.
const (
	RateLimitedText = "⏳ <b>Слишком много запросов</b>\n\nПодождите минуту и попробуйте снова."
	SpamWarnText    = "⚠️ <b>Предупреждение</b>\n\nВы отправляете одинаковые сообщения. Сообщения временно заблокированы на 5 минут."
	SpamBanText     = "🚫 <b>Вы заблокированы за спам</b>\n\nБлокировка на 1 час."
)

const commandLimitFmt = "⏳ Вы слишком часто используете команду /%s. Попробуйте позже."

// RateLimit rejects commands from users over the global request budget.
func RateLimit(g *Guard, client telegram.Client) router.Middleware {
	return func(ctx context.Context, req *router.Request, next router.HandlerFunc) error {
		if g.AllowUser(req.UserID) {
			return next(ctx, req)
		}
		logger.Warn(ctx, logger.TG, "ratelimit.user",
			slog.Int64("user_id", req.UserID),
		)
		_, err := client.SendMessage(ctx, req.ChatID, RateLimitedText, nil)
		return err
	}
}

// CommandLimit rejects repeated invocations of the same command.
func CommandLimit(g *Guard, client telegram.Client) router.Middleware {
	return func(ctx context.Context, req *router.Request, next router.HandlerFunc) error {
		if g.AllowCommand(req.UserID, req.Command) {
			return next(ctx, req)
		}
		logger.Warn(ctx, logger.TG, "ratelimit.command",
			slog.Int64("user_id", req.UserID),
			slog.String("command", req.Command),
		)
		_, err := client.SendMessage(ctx, req.ChatID, fmt.Sprintf(commandLimitFmt, req.Command), nil)
		return err
	}
}

// AntiSpam records the command text into the user's message streak, so
// the same command repeated back to back is a violation just like
// repeated plain text, and a command breaks a running text streak.
func AntiSpam(g *Guard, client telegram.Client) router.Middleware {
	return func(ctx context.Context, req *router.Request, next router.HandlerFunc) error {
		verdict, blockFor := g.CheckMessage(req.UserID, req.Text)
		if verdict == VerdictOK {
			return next(ctx, req)
		}
		logger.Warn(ctx, logger.TG, "antispam.command",
			slog.Int64("user_id", req.UserID),
			slog.String("command", req.Command),
			slog.Int64("block_ms", blockFor.Milliseconds()),
		)
		text := SpamWarnText
		if verdict == VerdictBan {
			text = SpamBanText
		}
		_, err := client.SendMessage(ctx, req.ChatID, text, nil)
		return err
	}
}

// BanCheck silently drops commands from blocked users.
func BanCheck(g *Guard) router.Middleware {
	return func(ctx context.Context, req *router.Request, next router.HandlerFunc) error {
		if left, banned := g.BanRemaining(req.UserID); banned {
			logger.Debug(ctx, logger.TG, "ratelimit.banned",
				slog.Int64("user_id", req.UserID),
				slog.Int64("left_ms", left.Milliseconds()),
			)
			return nil
		}
		return next(ctx, req)
	}
}
