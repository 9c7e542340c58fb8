// Package dispatch routes incoming Telegram updates to exactly one
// handler: commands first, then callbacks, media, and plain text.
package dispatch

import (
	"context"
	"log/slog"
	"runtime/debug"
	"time"

	tele "gopkg.in/telebot.v4"

	"github.com/storedesk/ticketbot/core/logger"
	"github.com/storedesk/ticketbot/core/telegram"
)

const genericErrorText = "❌ Произошла ошибка. Попробуйте позже."

// Handler processes one kind of update.
type Handler interface {
	Supports(u *tele.Update) bool
	Handle(ctx context.Context, u *tele.Update) error
}

// Dispatcher tries handlers in registration order and stops at the
// first one that accepts the update.
type Dispatcher struct {
	client   telegram.Client
	handlers []Handler
}

func New(client telegram.Client, handlers ...Handler) *Dispatcher {
	return &Dispatcher{client: client, handlers: handlers}
}

// Dispatch processes a single update. Handler panics and errors are
// contained here so the polling loop never dies on a bad update.
func (d *Dispatcher) Dispatch(ctx context.Context, u *tele.Update) {
	chatID, userID := updateOrigin(u)
	ctx = logger.WithUpdateMeta(ctx, u.ID, userID, chatID)
	ctx = logger.WithRID(ctx, logger.BuildRID(u.ID, chatID, userID))

	defer func() {
		if r := recover(); r != nil {
			logger.Error(ctx, logger.TG, "dispatch.panic",
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
			d.apologize(ctx, chatID)
		}
	}()

	start := time.Now()
	for _, h := range d.handlers {
		if !h.Supports(u) {
			continue
		}
		if err := h.Handle(ctx, u); err != nil {
			logger.Error(ctx, logger.TG, "dispatch.fail",
				slog.String("err", err.Error()),
			)
			d.apologize(ctx, chatID)
			return
		}
		logger.Debug(ctx, logger.TG, "dispatch.done",
			slog.Duration("duration", logger.Took(start)),
		)
		return
	}

	logger.Debug(ctx, logger.TG, "dispatch.unhandled", slog.Int("update_id", u.ID))
}

func (d *Dispatcher) apologize(ctx context.Context, chatID int64) {
	if chatID == 0 {
		return
	}
	if _, err := d.client.SendMessage(ctx, chatID, genericErrorText, nil); err != nil {
		logger.Warn(ctx, logger.TG, "dispatch.apology.fail", slog.String("err", err.Error()))
	}
}

// updateOrigin extracts the chat and user behind an update.
func updateOrigin(u *tele.Update) (chatID, userID int64) {
	switch {
	case u.Message != nil:
		if u.Message.Chat != nil {
			chatID = u.Message.Chat.ID
		}
		if u.Message.Sender != nil {
			userID = u.Message.Sender.ID
		}
	case u.Callback != nil:
		if u.Callback.Message != nil && u.Callback.Message.Chat != nil {
			chatID = u.Callback.Message.Chat.ID
		}
		if u.Callback.Sender != nil {
			userID = u.Callback.Sender.ID
		}
	}
	return chatID, userID
}
