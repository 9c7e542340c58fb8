// Package telegram wraps the Bot API transport behind a small capability
// interface so the polling loop, wizard, and workflow do not depend on a
// concrete client.
package telegram

import (
	"context"
	"io"

	tele "gopkg.in/telebot.v4"
)

// Client is the set of Bot API calls the rest of the bot needs.
type Client interface {
	// GetUpdates long-polls for updates starting at offset.
	GetUpdates(ctx context.Context, offset, limit, timeoutSeconds int) ([]tele.Update, error)
	// SendMessage delivers text to the chat and returns the new message id.
	SendMessage(ctx context.Context, chatID int64, text string, markup *tele.ReplyMarkup) (int, error)
	// EditMessage replaces the text and keyboard of an existing message.
	EditMessage(ctx context.Context, chatID int64, messageID int, text string, markup *tele.ReplyMarkup) error
	// DeleteMessage removes a message from the chat.
	DeleteMessage(ctx context.Context, chatID int64, messageID int) error
	// AnswerCallback acknowledges a callback query, optionally with a toast.
	AnswerCallback(ctx context.Context, callbackID, text string) error
	// DownloadFile streams the content of a file stored on Telegram servers.
	DownloadFile(ctx context.Context, fileID string) (io.ReadCloser, error)
	// BotUsername returns the authorized bot account name.
	BotUsername() string
}
