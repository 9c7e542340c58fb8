package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	tele "gopkg.in/telebot.v4"
)

// Bot implements Client on top of telebot.
type Bot struct {
	b *tele.Bot
}

// NewBot authorizes the bot account and returns the transport binding.
// pollTimeout sizes the HTTP client so long-poll requests are not cut off.
func NewBot(token string, pollTimeout time.Duration) (*Bot, error) {
	b, err := tele.NewBot(tele.Settings{
		Token:     token,
		Client:    BuildHTTPClient(pollTimeout),
		ParseMode: tele.ModeHTML,
	})
	if err != nil {
		return nil, fmt.Errorf("telegram: authorize: %w", err)
	}
	return &Bot{b: b}, nil
}

// NewBotOffline builds a binding that skips the getMe call, for tests.
func NewBotOffline(token string) (*Bot, error) {
	b, err := tele.NewBot(tele.Settings{Token: token, Offline: true, ParseMode: tele.ModeHTML})
	if err != nil {
		return nil, err
	}
	return &Bot{b: b}, nil
}

func (t *Bot) GetUpdates(ctx context.Context, offset, limit, timeoutSeconds int) ([]tele.Update, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	params := map[string]string{
		"offset":  strconv.Itoa(offset),
		"timeout": strconv.Itoa(timeoutSeconds),
	}
	if limit > 0 {
		params["limit"] = strconv.Itoa(limit)
	}

	data, err := t.b.Raw("getUpdates", params)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Result []tele.Update `json:"result"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("telegram: decode updates: %w", err)
	}
	return resp.Result, nil
}

func (t *Bot) SendMessage(ctx context.Context, chatID int64, text string, markup *tele.ReplyMarkup) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var opts []interface{}
	if markup != nil {
		opts = append(opts, markup)
	}
	msg, err := t.b.Send(tele.ChatID(chatID), text, opts...)
	if err != nil {
		return 0, err
	}
	return msg.ID, nil
}

func (t *Bot) EditMessage(ctx context.Context, chatID int64, messageID int, text string, markup *tele.ReplyMarkup) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	stored := tele.StoredMessage{MessageID: strconv.Itoa(messageID), ChatID: chatID}
	var opts []interface{}
	if markup != nil {
		opts = append(opts, markup)
	}
	_, err := t.b.Edit(stored, text, opts...)
	return err
}

func (t *Bot) DeleteMessage(ctx context.Context, chatID int64, messageID int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return t.b.Delete(tele.StoredMessage{MessageID: strconv.Itoa(messageID), ChatID: chatID})
}

func (t *Bot) AnswerCallback(ctx context.Context, callbackID, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return t.b.Respond(&tele.Callback{ID: callbackID}, &tele.CallbackResponse{Text: text})
}

func (t *Bot) DownloadFile(ctx context.Context, fileID string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return t.b.File(&tele.File{FileID: fileID})
}

func (t *Bot) BotUsername() string {
	if t.b.Me == nil {
		return ""
	}
	return t.b.Me.Username
}
