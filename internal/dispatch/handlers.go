package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"github.com/storedesk/ticketbot/core/logger"
	"github.com/storedesk/ticketbot/core/telegram"
	"github.com/storedesk/ticketbot/internal/domain"
	"github.com/storedesk/ticketbot/internal/middleware"
	"github.com/storedesk/ticketbot/internal/router"
	"github.com/storedesk/ticketbot/internal/workflow"
)

const (
	unknownCommandText = "❓ Неизвестная команда.\nИспользуйте /help для справки."
	commandErrorText   = "❌ Произошла ошибка при выполнении команды. Попробуйте позже."
)

// WizardEngine is the wizard surface the handlers drive.
type WizardEngine interface {
	HandleCallback(ctx context.Context, tgUserID, chatID int64, data string) error
	HandleText(ctx context.Context, tgUserID, chatID int64, messageID int, text string) error
	HandleMedia(ctx context.Context, tgUserID, chatID int64, messageID int, att domain.Attachment) error
}

// WorkflowService executes ticket lifecycle callbacks.
type WorkflowService interface {
	Handle(ctx context.Context, actorTelegramID, chatID int64, messageID int, action string, ticketID int64) error
}

// SpamGuard throttles the free-text path.
type SpamGuard interface {
	AllowUser(userID int64) bool
	CheckMessage(userID int64, text string) (middleware.Verdict, time.Duration)
	BanRemaining(userID int64) (time.Duration, bool)
}

// CommandHandler routes /commands through the command router.
type CommandHandler struct {
	router *router.Router
	client telegram.Client
}

func NewCommandHandler(r *router.Router, client telegram.Client) *CommandHandler {
	return &CommandHandler{router: r, client: client}
}

func (h *CommandHandler) Supports(u *tele.Update) bool {
	return u.Message != nil && strings.HasPrefix(u.Message.Text, "/")
}

func (h *CommandHandler) Handle(ctx context.Context, u *tele.Update) error {
	m := u.Message
	req := &router.Request{
		UserID:    m.Sender.ID,
		ChatID:    m.Chat.ID,
		MessageID: m.ID,
		Text:      m.Text,
	}
	err := h.router.Dispatch(ctx, req)
	if errors.Is(err, router.ErrCommandNotFound) {
		_, sendErr := h.client.SendMessage(ctx, m.Chat.ID, unknownCommandText, nil)
		return sendErr
	}
	if err != nil {
		logger.Error(ctx, logger.TG, "command.fail",
			slog.String("command", req.Command),
			slog.String("err", err.Error()),
		)
		_, sendErr := h.client.SendMessage(ctx, m.Chat.ID, commandErrorText, nil)
		return sendErr
	}
	return nil
}

// CallbackHandler answers the callback and routes its payload either to
// the ticket workflow (action:id) or to the wizard (everything else).
type CallbackHandler struct {
	client   telegram.Client
	wizard   WizardEngine
	workflow WorkflowService
}

func NewCallbackHandler(client telegram.Client, wiz WizardEngine, wf WorkflowService) *CallbackHandler {
	return &CallbackHandler{client: client, wizard: wiz, workflow: wf}
}

func (h *CallbackHandler) Supports(u *tele.Update) bool {
	return u.Callback != nil
}

func (h *CallbackHandler) Handle(ctx context.Context, u *tele.Update) error {
	cb := u.Callback
	// Acknowledge first so the button spinner goes away even when the
	// action below fails.
	if err := h.client.AnswerCallback(ctx, cb.ID, ""); err != nil {
		logger.Warn(ctx, logger.TG, "callback.answer.fail", slog.String("err", err.Error()))
	}

	if cb.Message == nil || cb.Message.Chat == nil || cb.Sender == nil {
		return nil
	}
	chatID := cb.Message.Chat.ID
	userID := cb.Sender.ID
	data := strings.TrimPrefix(strings.TrimSpace(cb.Data), "\f")

	if idx := strings.IndexByte(data, ':'); idx > 0 && workflow.IsAction(data[:idx]) {
		ticketID, err := strconv.ParseInt(data[idx+1:], 10, 64)
		if err != nil || ticketID <= 0 {
			logger.Warn(ctx, logger.TG, "callback.bad_payload",
				slog.String("data", logger.SanitizeLimit(data, 64)),
			)
			return nil
		}
		return h.workflow.Handle(ctx, userID, chatID, cb.Message.ID, data[:idx], ticketID)
	}
	return h.wizard.HandleCallback(ctx, userID, chatID, data)
}

// MediaHandler feeds photo, video, and document uploads to the wizard.
type MediaHandler struct {
	wizard WizardEngine
	guard  SpamGuard
}

func NewMediaHandler(wiz WizardEngine, guard SpamGuard) *MediaHandler {
	return &MediaHandler{wizard: wiz, guard: guard}
}

func (h *MediaHandler) Supports(u *tele.Update) bool {
	m := u.Message
	return m != nil && (m.Photo != nil || m.Video != nil || m.Document != nil)
}

func (h *MediaHandler) Handle(ctx context.Context, u *tele.Update) error {
	m := u.Message
	if _, banned := h.guard.BanRemaining(m.Sender.ID); banned {
		return nil
	}
	att, ok := extractAttachment(m)
	if !ok {
		return nil
	}
	return h.wizard.HandleMedia(ctx, m.Sender.ID, m.Chat.ID, m.ID, att)
}

func extractAttachment(m *tele.Message) (domain.Attachment, bool) {
	switch {
	case m.Photo != nil:
		return domain.Attachment{
			FileID: m.Photo.FileID,
			Kind:   domain.AttachmentPhoto,
			Size:   m.Photo.FileSize,
		}, true
	case m.Video != nil:
		return domain.Attachment{
			FileID: m.Video.FileID,
			Kind:   domain.AttachmentVideo,
			Size:   m.Video.FileSize,
			Name:   m.Video.FileName,
			MIME:   m.Video.MIME,
		}, true
	case m.Document != nil:
		return domain.Attachment{
			FileID: m.Document.FileID,
			Kind:   domain.AttachmentDocument,
			Size:   m.Document.FileSize,
			Name:   m.Document.FileName,
			MIME:   m.Document.MIME,
		}, true
	}
	return domain.Attachment{}, false
}

// TextHandler runs plain messages through the spam guard before the
// wizard sees them.
type TextHandler struct {
	client telegram.Client
	wizard WizardEngine
	guard  SpamGuard
}

func NewTextHandler(client telegram.Client, wiz WizardEngine, guard SpamGuard) *TextHandler {
	return &TextHandler{client: client, wizard: wiz, guard: guard}
}

func (h *TextHandler) Supports(u *tele.Update) bool {
	return u.Message != nil && u.Message.Text != "" && !strings.HasPrefix(u.Message.Text, "/")
}

func (h *TextHandler) Handle(ctx context.Context, u *tele.Update) error {
	m := u.Message
	userID := m.Sender.ID

	if _, banned := h.guard.BanRemaining(userID); banned {
		return nil
	}
	if !h.guard.AllowUser(userID) {
		_, err := h.client.SendMessage(ctx, m.Chat.ID, middleware.RateLimitedText, nil)
		return err
	}
	switch verdict, _ := h.guard.CheckMessage(userID, m.Text); verdict {
	case middleware.VerdictWarn:
		_, err := h.client.SendMessage(ctx, m.Chat.ID, middleware.SpamWarnText, nil)
		return err
	case middleware.VerdictBan:
		_, err := h.client.SendMessage(ctx, m.Chat.ID, middleware.SpamBanText, nil)
		return err
	}
	return h.wizard.HandleText(ctx, userID, m.Chat.ID, m.ID, m.Text)
}
