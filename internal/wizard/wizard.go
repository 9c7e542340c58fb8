// Package wizard drives the multi-step ticket creation dialog: one
// editable prompt per session, button-driven selection steps, free-text
// description, optional attachments, and a confirmation preview.
package wizard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"github.com/storedesk/ticketbot/core/logger"
	"github.com/storedesk/ticketbot/core/telegram"
	"github.com/storedesk/ticketbot/core/telegram/keyboard"
	"github.com/storedesk/ticketbot/internal/domain"
	"github.com/storedesk/ticketbot/internal/storage"
	"github.com/storedesk/ticketbot/internal/tickets"
)

// SessionStore persists wizard state between updates.
type SessionStore interface {
	Get(ctx context.Context, userID int64) (*domain.Session, error)
	Reset(ctx context.Context, userID, chatID int64) (*domain.Session, error)
	SetStep(ctx context.Context, userID int64, step domain.Step) error
	SetMessageID(ctx context.Context, userID int64, messageID int) error
	MergeData(ctx context.Context, userID int64, patch domain.SessionData) (*domain.Session, error)
	Clear(ctx context.Context, userID int64) error
}

// UserDirectory resolves employees by their Telegram identity.
type UserDirectory interface {
	ByTelegramID(ctx context.Context, telegramID int64) (*domain.User, error)
}

// Reference serves the dictionaries the prompts are built from.
type Reference interface {
	Stores(ctx context.Context) ([]domain.Store, error)
	StoreByID(ctx context.Context, id int64) (*domain.Store, error)
	Categories(ctx context.Context) ([]domain.Category, error)
	CategoryByID(ctx context.Context, id int64) (*domain.Category, error)
	Problems(ctx context.Context, categoryID int64) ([]domain.Problem, error)
	ProblemByID(ctx context.Context, id int64) (*domain.Problem, error)
}

// TicketCreator finalizes the collected data into a ticket.
type TicketCreator interface {
	Create(ctx context.Context, in tickets.CreateInput) (*domain.Ticket, error)
	SaveAttachment(ctx context.Context, ticketID int64, att domain.Attachment) error
}

// Engine is the wizard state machine.
type Engine struct {
	client         telegram.Client
	sessions       SessionStore
	users          UserDirectory
	dicts          Reference
	creator        TicketCreator
	maxAttachments int
	now            func() time.Time
}

func NewEngine(client telegram.Client, sessions SessionStore, users UserDirectory, dicts Reference, creator TicketCreator, maxAttachments int) *Engine {
	return &Engine{
		client:         client,
		sessions:       sessions,
		users:          users,
		dicts:          dicts,
		creator:        creator,
		maxAttachments: maxAttachments,
		now:            time.Now,
	}
}

// Start begins a new ticket dialog, unconditionally resetting any
// previous session.
func (e *Engine) Start(ctx context.Context, tgUserID, chatID int64) error {
	user, err := e.users.ByTelegramID(ctx, tgUserID)
	if errors.Is(err, storage.ErrNotFound) {
		_, sendErr := e.client.SendMessage(ctx, chatID,
			"❌ Вы не зарегистрированы в системе.\n\nОбратитесь к администратору для регистрации.", nil)
		return sendErr
	}
	if err != nil {
		return err
	}

	sess, err := e.sessions.Reset(ctx, tgUserID, chatID)
	if err != nil {
		return err
	}
	logger.Info(ctx, logger.WZ, "wizard.start",
		slog.Int64("user_id", user.ID),
		slog.Int64("chat_id", chatID),
	)
	return e.advance(ctx, sess, user)
}

// Cancel aborts the active dialog from the /cancel command.
func (e *Engine) Cancel(ctx context.Context, tgUserID, chatID int64) error {
	sess, err := e.sessions.Get(ctx, tgUserID)
	if err != nil {
		return err
	}
	if !sess.Active() {
		_, err := e.client.SendMessage(ctx, chatID, "❌ Нет активной заявки для отмены", nil)
		return err
	}
	return e.cancelSession(ctx, sess)
}

// Skip advances past the attachment step from the /skip command.
func (e *Engine) Skip(ctx context.Context, tgUserID, chatID int64) error {
	sess, user, err := e.activeSession(ctx, tgUserID, chatID)
	if err != nil || sess == nil {
		return err
	}
	if sess.Step != domain.StepUploadFile {
		_, err := e.client.SendMessage(ctx, chatID, "❌ Этот шаг нельзя пропустить", nil)
		return err
	}
	return e.skipAttachments(ctx, sess, user)
}

// HandleCallback processes a wizard button press. data is the raw
// callback payload in type_id form or a bare token.
func (e *Engine) HandleCallback(ctx context.Context, tgUserID, chatID int64, data string) error {
	sess, user, err := e.activeSession(ctx, tgUserID, chatID)
	if err != nil || sess == nil {
		return err
	}

	switch {
	case strings.HasPrefix(data, "category_"):
		return e.selectCategory(ctx, sess, user, parseID(data, "category_"))
	case strings.HasPrefix(data, "store_"):
		return e.selectStore(ctx, sess, user, parseID(data, "store_"))
	case strings.HasPrefix(data, "problem_"):
		return e.selectProblem(ctx, sess, user, parseID(data, "problem_"))
	case data == "attach":
		_, err := e.client.SendMessage(ctx, chatID,
			"📎 Отправьте фото, видео или файл.\n\nИли используйте /skip чтобы пропустить этот шаг.", nil)
		return err
	case data == "skip_attach":
		if sess.Step != domain.StepUploadFile {
			return nil
		}
		return e.skipAttachments(ctx, sess, user)
	case data == "confirm_create":
		if sess.Step != domain.StepConfirm {
			return nil
		}
		return e.finalize(ctx, sess, user)
	case data == "confirm_cancel", data == "cancel":
		return e.cancelSession(ctx, sess)
	default:
		_, err := e.client.SendMessage(ctx, chatID, "❓ Неизвестное действие", nil)
		return err
	}
}

// HandleText processes a plain text message. Only the description step
// accepts free text.
func (e *Engine) HandleText(ctx context.Context, tgUserID, chatID int64, messageID int, text string) error {
	sess, err := e.sessions.Get(ctx, tgUserID)
	if err != nil {
		return err
	}
	if !sess.Active() {
		_, err := e.client.SendMessage(ctx, chatID, "Используйте /start для создания заявки", nil)
		return err
	}
	if expired, err := e.expireIfNeeded(ctx, sess); expired || err != nil {
		return err
	}
	if sess.Step != domain.StepEnterDescription {
		_, err := e.client.SendMessage(ctx, chatID, "Используйте кнопки для выбора или /help для справки", nil)
		return err
	}

	user, err := e.users.ByTelegramID(ctx, tgUserID)
	if err != nil {
		return err
	}
	return e.handleDescription(ctx, sess, user, messageID, text)
}

// HandleMedia appends an uploaded file to the session.
func (e *Engine) HandleMedia(ctx context.Context, tgUserID, chatID int64, messageID int, att domain.Attachment) error {
	sess, err := e.sessions.Get(ctx, tgUserID)
	if err != nil {
		return err
	}
	if sess == nil || sess.Step != domain.StepUploadFile {
		_, err := e.client.SendMessage(ctx, chatID, "❌ Сначала используйте /start для создания заявки", nil)
		return err
	}

	merged, err := e.sessions.MergeData(ctx, tgUserID, domain.SessionData{Attachments: []domain.Attachment{att}})
	if err != nil {
		return err
	}
	merged.ChatID = sess.ChatID
	merged.MessageID = sess.MessageID

	// The user's media message is removed so the prompt stays the last
	// message in the chat.
	if messageID != 0 {
		if err := e.client.DeleteMessage(ctx, chatID, messageID); err != nil {
			logger.Warn(ctx, logger.WZ, "wizard.media.delete.fail", slog.String("err", err.Error()))
		}
	}

	user, err := e.users.ByTelegramID(ctx, tgUserID)
	if err != nil {
		return err
	}
	count := len(merged.Data.Attachments)
	logger.Debug(ctx, logger.WZ, "wizard.attachment.added",
		slog.String("kind", string(att.Kind)),
		slog.Int("total", count),
	)
	return e.showUploadProgress(ctx, merged, user, count)
}

func (e *Engine) activeSession(ctx context.Context, tgUserID, chatID int64) (*domain.Session, *domain.User, error) {
	sess, err := e.sessions.Get(ctx, tgUserID)
	if err != nil {
		return nil, nil, err
	}
	if sess == nil {
		_, err := e.client.SendMessage(ctx, chatID, "❌ Сессия не найдена. Используйте /start", nil)
		return nil, nil, err
	}
	if expired, err := e.expireIfNeeded(ctx, sess); expired || err != nil {
		return nil, nil, err
	}
	user, err := e.users.ByTelegramID(ctx, tgUserID)
	if err != nil {
		return nil, nil, err
	}
	return sess, user, nil
}

// expireIfNeeded clears a session whose data outlived its TTL.
func (e *Engine) expireIfNeeded(ctx context.Context, sess *domain.Session) (bool, error) {
	if !sess.Expired(e.now()) {
		return false, nil
	}
	if err := e.sessions.Clear(ctx, sess.UserID); err != nil {
		return true, err
	}
	_, err := e.client.SendMessage(ctx, sess.ChatID, "⏰ Сессия истекла. Используйте /start", nil)
	return true, err
}

// advance moves the dialog to the next step still missing data.
func (e *Engine) advance(ctx context.Context, sess *domain.Session, user *domain.User) error {
	cat, err := e.resolvedCategory(ctx, user, sess.Data)
	if err != nil {
		return err
	}
	switch NextStep(user, cat, sess.Data) {
	case domain.StepSelectCategory:
		return e.askCategory(ctx, sess, user)
	case domain.StepSelectStore:
		return e.askStore(ctx, sess, user)
	case domain.StepSelectProblem:
		return e.askProblem(ctx, sess, user, cat.ID)
	case domain.StepEnterDescription:
		return e.askDescription(ctx, sess, user)
	default:
		return e.showUploadPrompt(ctx, sess, user, false)
	}
}

// resolvedCategory returns the category chosen in the session or bound
// to the user, or nil when neither is set.
func (e *Engine) resolvedCategory(ctx context.Context, user *domain.User, data domain.SessionData) (*domain.Category, error) {
	id := data.CategoryID
	if id == nil {
		id = user.CategoryID
	}
	if id == nil {
		return nil, nil
	}
	cat, err := e.dicts.CategoryByID(ctx, *id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	return cat, err
}

func (e *Engine) askCategory(ctx context.Context, sess *domain.Session, user *domain.User) error {
	if err := e.setStep(ctx, sess, domain.StepSelectCategory); err != nil {
		return err
	}
	categories, err := e.dicts.Categories(ctx)
	if err != nil {
		return err
	}
	buttons := make([]keyboard.InlineBtn, 0, len(categories))
	for _, c := range categories {
		buttons = append(buttons, keyboard.InlineBtn{
			Text: "📁 " + c.Name,
			Data: "category_" + strconv.FormatInt(c.ID, 10),
		})
	}
	text, err := e.prompt(ctx, sess, user, "📁 <b>Шаг 1 из 5:</b> Выберите категорию")
	if err != nil {
		return err
	}
	return e.sendOrUpdate(ctx, sess, text, keyboard.WithCancelRow(keyboard.InlineButtons(buttons)), false)
}

func (e *Engine) askStore(ctx context.Context, sess *domain.Session, user *domain.User) error {
	if err := e.setStep(ctx, sess, domain.StepSelectStore); err != nil {
		return err
	}
	stores, err := e.dicts.Stores(ctx)
	if err != nil {
		return err
	}
	buttons := make([]keyboard.InlineBtn, 0, len(stores))
	for _, s := range stores {
		buttons = append(buttons, keyboard.InlineBtn{
			Text: "🏪 " + s.Name,
			Data: "store_" + strconv.FormatInt(s.ID, 10),
		})
	}
	text, err := e.prompt(ctx, sess, user, "🏪 <b>Шаг 2 из 5:</b> Выберите магазин")
	if err != nil {
		return err
	}
	return e.sendOrUpdate(ctx, sess, text, keyboard.WithCancelRow(keyboard.InlineButtons(buttons)), false)
}

func (e *Engine) askProblem(ctx context.Context, sess *domain.Session, user *domain.User, categoryID int64) error {
	if err := e.setStep(ctx, sess, domain.StepSelectProblem); err != nil {
		return err
	}
	problems, err := e.dicts.Problems(ctx, categoryID)
	if err != nil {
		return err
	}
	buttons := make([]keyboard.InlineBtn, 0, len(problems))
	for _, p := range problems {
		buttons = append(buttons, keyboard.InlineBtn{
			Text: p.Name,
			Data: "problem_" + strconv.FormatInt(p.ID, 10),
		})
	}
	text, err := e.prompt(ctx, sess, user, "🔧 <b>Шаг 3 из 5:</b> Выберите проблему")
	if err != nil {
		return err
	}
	return e.sendOrUpdate(ctx, sess, text, keyboard.WithCancelRow(keyboard.InlineButtonsNPerRow(buttons, 2)), false)
}

func (e *Engine) askDescription(ctx context.Context, sess *domain.Session, user *domain.User) error {
	if err := e.setStep(ctx, sess, domain.StepEnterDescription); err != nil {
		return err
	}
	text, err := e.prompt(ctx, sess, user,
		"📝 <b>Шаг 4 из 5:</b> Опишите проблему подробно\n\n"+
			"💡 <i>Минимум 20 символов. Просто отправьте текстовое сообщение.</i>")
	if err != nil {
		return err
	}
	return e.sendOrUpdate(ctx, sess, text, keyboard.SingleCancelMarkup(), false)
}

func (e *Engine) selectCategory(ctx context.Context, sess *domain.Session, user *domain.User, id int64) error {
	if id <= 0 {
		_, err := e.client.SendMessage(ctx, sess.ChatID, "❌ Некорректные данные", nil)
		return err
	}
	if _, err := e.dicts.CategoryByID(ctx, id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		return err
	}
	merged, err := e.mergeInto(ctx, sess, domain.SessionData{CategoryID: &id})
	if err != nil {
		return err
	}
	return e.advance(ctx, merged, user)
}

func (e *Engine) selectStore(ctx context.Context, sess *domain.Session, user *domain.User, id int64) error {
	if id <= 0 {
		_, err := e.client.SendMessage(ctx, sess.ChatID, "❌ Некорректные данные", nil)
		return err
	}
	if _, err := e.dicts.StoreByID(ctx, id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		return err
	}
	merged, err := e.mergeInto(ctx, sess, domain.SessionData{StoreID: &id})
	if err != nil {
		return err
	}
	return e.advance(ctx, merged, user)
}

func (e *Engine) selectProblem(ctx context.Context, sess *domain.Session, user *domain.User, id int64) error {
	if id <= 0 {
		_, err := e.client.SendMessage(ctx, sess.ChatID, "❌ Некорректные данные", nil)
		return err
	}
	if _, err := e.dicts.ProblemByID(ctx, id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		return err
	}
	merged, err := e.mergeInto(ctx, sess, domain.SessionData{ProblemID: &id})
	if err != nil {
		return err
	}
	return e.advance(ctx, merged, user)
}

func (e *Engine) handleDescription(ctx context.Context, sess *domain.Session, user *domain.User, messageID int, text string) error {
	if err := ValidateDescription(text); err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			_, sendErr := e.client.SendMessage(ctx, sess.ChatID,
				"❌ "+verr.Message+"\n\n💡 Попробуйте ещё раз:", nil)
			return sendErr
		}
		return err
	}

	if messageID != 0 {
		if err := e.client.DeleteMessage(ctx, sess.ChatID, messageID); err != nil {
			logger.Warn(ctx, logger.WZ, "wizard.text.delete.fail", slog.String("err", err.Error()))
		}
	}

	merged, err := e.mergeInto(ctx, sess, domain.SessionData{Description: SanitizeHTML(text)})
	if err != nil {
		return err
	}
	// The prompt is re-sent below the user's text entry, not edited.
	return e.showUploadPrompt(ctx, merged, user, true)
}

func (e *Engine) showUploadPrompt(ctx context.Context, sess *domain.Session, user *domain.User, forceNew bool) error {
	if err := e.setStep(ctx, sess, domain.StepUploadFile); err != nil {
		return err
	}
	markup := keyboard.InlineButtonsRows(
		[]keyboard.InlineBtn{{Text: "📎 Прикрепить файл", Data: "attach"}},
		[]keyboard.InlineBtn{{Text: "⏭️ Пропустить", Data: "skip_attach"}},
	)
	text, err := e.prompt(ctx, sess, user, "📎 <b>Шаг 5 из 5:</b> Хотите прикрепить фото или файл?")
	if err != nil {
		return err
	}
	return e.sendOrUpdate(ctx, sess, text, markup, forceNew)
}

func (e *Engine) showUploadProgress(ctx context.Context, sess *domain.Session, user *domain.User, count int) error {
	markup := keyboard.InlineButtonsRows(
		[]keyboard.InlineBtn{{Text: "📎 Прикрепить ещё", Data: "attach"}},
		[]keyboard.InlineBtn{{Text: "✅ Готово, продолжить", Data: "skip_attach"}},
	)
	text, err := e.prompt(ctx, sess, user, fmt.Sprintf(
		"📎 <b>Шаг 5 из 5:</b> Прикрепление файлов\n\n"+
			"✅ Прикреплено файлов: <b>%d</b>\n\n"+
			"Можете прикрепить ещё файлы или продолжить.", count))
	if err != nil {
		return err
	}
	return e.sendOrUpdate(ctx, sess, text, markup, true)
}

func (e *Engine) skipAttachments(ctx context.Context, sess *domain.Session, user *domain.User) error {
	if err := e.setStep(ctx, sess, domain.StepConfirm); err != nil {
		return err
	}
	markup := keyboard.InlineButtonsRows(
		[]keyboard.InlineBtn{{Text: "✅ Создать заявку", Data: "confirm_create"}},
		[]keyboard.InlineBtn{{Text: "❌ Отменить", Data: "confirm_cancel"}},
	)
	text, err := e.prompt(ctx, sess, user,
		"✅ <b>Все данные собраны!</b>\n\n📋 <b>Проверьте информацию и подтвердите создание заявки:</b>")
	if err != nil {
		return err
	}
	return e.sendOrUpdate(ctx, sess, text, markup, false)
}

// finalize re-validates the collected data, creates the ticket, persists
// attachments, and always clears the session afterwards.
func (e *Engine) finalize(ctx context.Context, sess *domain.Session, user *domain.User) error {
	data := sess.Data
	if errs := e.validateAll(user, data); len(errs) > 0 {
		_, err := e.client.SendMessage(ctx, sess.ChatID,
			"❌ Ошибки валидации:\n\n"+strings.Join(errs, "\n")+
				"\n\nИспользуйте /cancel для отмены и /start для начала заново.", nil)
		return err
	}

	categoryID := data.CategoryID
	if categoryID == nil {
		categoryID = user.CategoryID
	}
	storeID := data.StoreID
	if storeID == nil {
		storeID = user.StoreID
	}

	ticket, err := e.creator.Create(ctx, tickets.CreateInput{
		AuthorID:    user.ID,
		CategoryID:  *categoryID,
		ProblemID:   data.ProblemID,
		StoreID:     storeID,
		Description: data.Description,
	})
	if err != nil {
		logger.Error(ctx, logger.WZ, "wizard.finalize.fail",
			slog.Int64("user_id", user.ID),
			slog.String("err", err.Error()),
		)
		e.editPrompt(ctx, sess,
			"❌ <b>Ошибка при создании заявки</b>\n\n"+
				"Попробуйте позже или обратитесь к администратору.")
		return e.sessions.Clear(ctx, sess.UserID)
	}

	saved := 0
	for _, att := range data.Attachments {
		if err := e.creator.SaveAttachment(ctx, ticket.ID, att); err != nil {
			logger.Error(ctx, logger.WZ, "wizard.attachment.save.fail",
				slog.Int64("ticket_id", ticket.ID),
				slog.String("file_id", logger.SanitizeLimit(att.FileID, 64)),
				slog.String("err", err.Error()),
			)
			continue
		}
		saved++
	}

	attachText := ""
	if len(data.Attachments) > 0 {
		attachText = fmt.Sprintf("\n📎 Прикреплено файлов: %d", saved)
	}
	e.editPrompt(ctx, sess, fmt.Sprintf(
		"✅ <b>Заявка #%d успешно создана!</b>%s\n\n"+
			"🎉 Ваша заявка принята в обработку.\n"+
			"📊 Вы можете отслеживать её статус в системе.\n\n"+
			"Используйте /start для создания новой заявки.", ticket.ID, attachText))

	logger.Info(ctx, logger.WZ, "wizard.finalize",
		slog.Int64("ticket_id", ticket.ID),
		slog.Int64("user_id", user.ID),
		slog.Int("attachments", saved),
	)
	return e.sessions.Clear(ctx, sess.UserID)
}

func (e *Engine) validateAll(user *domain.User, data domain.SessionData) []string {
	var errs []string
	if data.Description == "" {
		errs = append(errs, "Отсутствует описание")
	} else if err := ValidateDescription(data.Description); err != nil {
		errs = append(errs, err.Error())
	}
	if data.ProblemID == nil {
		errs = append(errs, "Не выбрана проблема")
	}
	if data.CategoryID == nil && user.CategoryID == nil {
		errs = append(errs, "Не выбрана категория")
	}
	if err := ValidateAttachments(data.Attachments, e.maxAttachments); err != nil {
		errs = append(errs, err.Error())
	}
	return errs
}

func (e *Engine) cancelSession(ctx context.Context, sess *domain.Session) error {
	e.editPrompt(ctx, sess,
		"❌ <b>Создание заявки отменено</b>\n\nИспользуйте /start чтобы начать заново.")
	logger.Info(ctx, logger.WZ, "wizard.cancel", slog.Int64("user_id", sess.UserID))
	return e.sessions.Clear(ctx, sess.UserID)
}

// prompt builds the full wizard message for the session's current step.
func (e *Engine) prompt(ctx context.Context, sess *domain.Session, user *domain.User, stepText string) (string, error) {
	collected, err := e.collectSummary(ctx, user, sess.Data)
	if err != nil {
		return "", err
	}
	return buildMessage(sess.Step.Progress(), collected, stepText), nil
}

// collectSummary renders the already gathered fields for the prompt header.
func (e *Engine) collectSummary(ctx context.Context, user *domain.User, data domain.SessionData) ([]string, error) {
	var out []string

	storeID := data.StoreID
	if storeID == nil {
		storeID = user.StoreID
	}
	if storeID != nil {
		if store, err := e.dicts.StoreByID(ctx, *storeID); err == nil {
			out = append(out, "✅ <b>Магазин:</b> "+store.Name)
		} else if !errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}
	}

	cat, err := e.resolvedCategory(ctx, user, data)
	if err != nil {
		return nil, err
	}
	if cat != nil {
		out = append(out, "✅ <b>Категория:</b> "+cat.Name)
	}

	if data.ProblemID != nil {
		if problem, err := e.dicts.ProblemByID(ctx, *data.ProblemID); err == nil {
			out = append(out, "✅ <b>Проблема:</b> "+problem.Name)
		} else if !errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}
	}

	if data.Description != "" {
		out = append(out, "✅ <b>Описание:</b> "+shorten(data.Description))
	}
	if n := len(data.Attachments); n > 0 {
		out = append(out, fmt.Sprintf("✅ <b>Файлы:</b> прикреплено %d шт.", n))
	}
	return out, nil
}

// sendOrUpdate edits the persistent prompt in place, or deletes and
// re-sends it when forceNew keeps the prompt at the bottom of the chat.
func (e *Engine) sendOrUpdate(ctx context.Context, sess *domain.Session, text string, markup *tele.ReplyMarkup, forceNew bool) error {
	if sess.MessageID != nil && !forceNew {
		err := e.client.EditMessage(ctx, sess.ChatID, *sess.MessageID, text, markup)
		if err == nil {
			return nil
		}
		logger.Warn(ctx, logger.WZ, "wizard.prompt.edit.fail", slog.String("err", err.Error()))
	}
	if sess.MessageID != nil {
		if err := e.client.DeleteMessage(ctx, sess.ChatID, *sess.MessageID); err != nil {
			logger.Warn(ctx, logger.WZ, "wizard.prompt.delete.fail", slog.String("err", err.Error()))
		}
	}
	id, err := e.client.SendMessage(ctx, sess.ChatID, text, markup)
	if err != nil {
		return err
	}
	sess.MessageID = &id
	return e.sessions.SetMessageID(ctx, sess.UserID, id)
}

func (e *Engine) setStep(ctx context.Context, sess *domain.Session, step domain.Step) error {
	if err := e.sessions.SetStep(ctx, sess.UserID, step); err != nil {
		return err
	}
	sess.Step = step
	return nil
}

// mergeInto persists the patch and carries over in-memory prompt state.
func (e *Engine) mergeInto(ctx context.Context, sess *domain.Session, patch domain.SessionData) (*domain.Session, error) {
	merged, err := e.sessions.MergeData(ctx, sess.UserID, patch)
	if err != nil {
		return nil, err
	}
	merged.ChatID = sess.ChatID
	merged.Step = sess.Step
	merged.MessageID = sess.MessageID
	return merged, nil
}

// editPrompt rewrites the wizard message without buttons, falling back
// to a plain send when no prompt exists.
func (e *Engine) editPrompt(ctx context.Context, sess *domain.Session, text string) {
	if sess.MessageID != nil {
		if err := e.client.EditMessage(ctx, sess.ChatID, *sess.MessageID, text, nil); err == nil {
			return
		}
	}
	if _, err := e.client.SendMessage(ctx, sess.ChatID, text, nil); err != nil {
		logger.Warn(ctx, logger.WZ, "wizard.prompt.send.fail", slog.String("err", err.Error()))
	}
}

func parseID(data, prefix string) int64 {
	id, err := strconv.ParseInt(strings.TrimPrefix(data, prefix), 10, 64)
	if err != nil {
		return 0
	}
	return id
}
