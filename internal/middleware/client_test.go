package middleware

import (
	"context"
	"io"
	"strings"

	tele "gopkg.in/telebot.v4"
)

type sentMessage struct {
	chatID int64
	text   string
}

type fakeClient struct {
	sent []sentMessage
}

func (f *fakeClient) GetUpdates(ctx context.Context, offset, limit, timeoutSeconds int) ([]tele.Update, error) {
	return nil, nil
}

func (f *fakeClient) SendMessage(ctx context.Context, chatID int64, text string, markup *tele.ReplyMarkup) (int, error) {
	f.sent = append(f.sent, sentMessage{chatID: chatID, text: text})
	return len(f.sent), nil
}

func (f *fakeClient) EditMessage(ctx context.Context, chatID int64, messageID int, text string, markup *tele.ReplyMarkup) error {
	return nil
}

func (f *fakeClient) DeleteMessage(ctx context.Context, chatID int64, messageID int) error {
	return nil
}

func (f *fakeClient) AnswerCallback(ctx context.Context, callbackID, text string) error { return nil }

func (f *fakeClient) DownloadFile(ctx context.Context, fileID string) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader("")), nil
}

func (f *fakeClient) BotUsername() string { return "testbot" }
