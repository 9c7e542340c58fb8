// Package workflow implements the button-driven ticket lifecycle:
// executors claim and postpone tickets, authors confirm or reject
// completion, both sides can inspect the ticket details.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/storedesk/ticketbot/core/logger"
	"github.com/storedesk/ticketbot/core/telegram"
	"github.com/storedesk/ticketbot/core/telegram/keyboard"
	"github.com/storedesk/ticketbot/internal/domain"
	"github.com/storedesk/ticketbot/internal/events"
	"github.com/storedesk/ticketbot/internal/storage"
)

// Callback actions routed to this service. The payload carries the
// ticket id after a colon, e.g. "take_work:42".
const (
	ActionTake            = "take_work"
	ActionPostpone        = "postpone"
	ActionRemindAuthor    = "remind_author"
	ActionConfirmComplete = "confirm_complete"
	ActionRejectComplete  = "reject_complete"
	ActionView            = "view_ticket"
)

// IsAction reports whether name is a ticket workflow action.
func IsAction(name string) bool {
	switch name {
	case ActionTake, ActionPostpone, ActionRemindAuthor,
		ActionConfirmComplete, ActionRejectComplete, ActionView:
		return true
	}
	return false
}

const timeLayout = "02.01.2006 15:04"

// TicketStore is the subset of ticket persistence the workflow needs.
type TicketStore interface {
	ByID(ctx context.Context, id int64) (*domain.Ticket, error)
	Attachments(ctx context.Context, ticketID int64) ([]domain.TicketAttachment, error)
	Claim(ctx context.Context, ticketID, executorID int64) (*domain.Ticket, bool, error)
	UpdateStatusIf(ctx context.Context, ticketID int64, from, to domain.TicketStatus) (*domain.Ticket, bool, error)
}

// Directory resolves the people a ticket involves.
type Directory interface {
	ByTelegramID(ctx context.Context, telegramID int64) (*domain.User, error)
	ByID(ctx context.Context, id int64) (*domain.User, error)
	IsActiveExecutor(ctx context.Context, userID, categoryID int64) (bool, error)
}

// Reference resolves dictionary rows for the details view.
type Reference interface {
	StoreByID(ctx context.Context, id int64) (*domain.Store, error)
	CategoryByID(ctx context.Context, id int64) (*domain.Category, error)
	ProblemByID(ctx context.Context, id int64) (*domain.Problem, error)
}

type Service struct {
	client  telegram.Client
	tickets TicketStore
	users   Directory
	dicts   Reference
	bus     *events.Dispatcher
	now     func() time.Time
}

func NewService(client telegram.Client, tickets TicketStore, users Directory, dicts Reference, bus *events.Dispatcher) *Service {
	return &Service{
		client:  client,
		tickets: tickets,
		users:   users,
		dicts:   dicts,
		bus:     bus,
		now:     time.Now,
	}
}

// Handle executes one workflow action pressed by actorTelegramID.
// messageID is the message carrying the pressed button.
func (s *Service) Handle(ctx context.Context, actorTelegramID, chatID int64, messageID int, action string, ticketID int64) error {
	actor, err := s.users.ByTelegramID(ctx, actorTelegramID)
	if errors.Is(err, storage.ErrNotFound) {
		return s.reply(ctx, chatID, "❌ Пользователь не найден. Обратитесь к администратору.")
	}
	if err != nil {
		return err
	}

	ticket, err := s.tickets.ByID(ctx, ticketID)
	if errors.Is(err, storage.ErrNotFound) {
		return s.reply(ctx, chatID, "❌ Заявка не найдена.")
	}
	if err != nil {
		return err
	}

	logger.Debug(ctx, logger.WF, "workflow.action",
		slog.String("action", action),
		slog.Int64("ticket_id", ticketID),
		slog.Int64("actor_id", actor.ID),
	)

	switch action {
	case ActionTake:
		return s.takeToWork(ctx, actor, ticket, chatID, messageID)
	case ActionPostpone:
		return s.postpone(ctx, actor, ticket, chatID, messageID)
	case ActionRemindAuthor:
		return s.remindAuthor(ctx, actor, ticket, chatID)
	case ActionConfirmComplete:
		return s.confirmComplete(ctx, actor, ticket, chatID, messageID)
	case ActionRejectComplete:
		return s.rejectComplete(ctx, actor, ticket, chatID)
	case ActionView:
		return s.viewTicket(ctx, ticket, chatID)
	default:
		return s.reply(ctx, chatID, "❓ Неизвестное действие")
	}
}

func (s *Service) takeToWork(ctx context.Context, actor *domain.User, ticket *domain.Ticket, chatID int64, messageID int) error {
	allowed, err := s.users.IsActiveExecutor(ctx, actor.ID, ticket.CategoryID)
	if err != nil {
		return err
	}
	if !allowed {
		return s.reply(ctx, chatID, "❌ У вас нет прав на эту заявку.")
	}

	before, claimed, err := s.tickets.Claim(ctx, ticket.ID, actor.ID)
	if err != nil {
		return err
	}
	if !claimed {
		if before.Status == domain.StatusInProgress {
			return s.reply(ctx, chatID,
				fmt.Sprintf("⚠️ Заявка уже в работе у: %s", s.executorName(ctx, before.ExecutorID)))
		}
		return s.reply(ctx, chatID,
			fmt.Sprintf("⚠️ Заявку нельзя взять в работу. Текущий статус: %s", before.Status.Label()))
	}

	s.updateStatusCard(ctx, chatID, messageID, ticket.ID, domain.StatusInProgress)

	// The author gets a fresh message with the confirmation controls.
	author, err := s.users.ByID(ctx, ticket.AuthorID)
	if err == nil && author.TelegramID != 0 {
		markup := keyboard.InlineButtonsRows(
			[]keyboard.InlineBtn{{Text: "✅ Подтвердить выполнение", Data: fmt.Sprintf("%s:%d", ActionConfirmComplete, ticket.ID)}},
			[]keyboard.InlineBtn{{Text: "👁 Подробнее", Data: fmt.Sprintf("%s:%d", ActionView, ticket.ID)}},
		)
		text := fmt.Sprintf(
			"✅ <b>Ваша заявка #%d взята в работу!</b>\n\n"+
				"👷 <b>Исполнитель:</b> %s\n\n"+
				"Когда работа будет выполнена, подтвердите её завершение.",
			ticket.ID, actor.Name)
		if _, err := s.client.SendMessage(ctx, author.TelegramID, text, markup); err != nil {
			logger.Warn(ctx, logger.WF, "workflow.author.notify.fail",
				slog.Int64("ticket_id", ticket.ID),
				slog.String("err", err.Error()),
			)
		}
	}

	markup := keyboard.InlineButtonsRows(
		[]keyboard.InlineBtn{{Text: "⏸️ Отложить", Data: fmt.Sprintf("%s:%d", ActionPostpone, ticket.ID)}},
		[]keyboard.InlineBtn{{Text: "💬 Напомнить автору", Data: fmt.Sprintf("%s:%d", ActionRemindAuthor, ticket.ID)}},
		[]keyboard.InlineBtn{{Text: "👁 Подробнее", Data: fmt.Sprintf("%s:%d", ActionView, ticket.ID)}},
	)
	if _, err := s.client.SendMessage(ctx, chatID,
		fmt.Sprintf("🛠 Управление заявкой #%d:", ticket.ID), markup); err != nil {
		logger.Warn(ctx, logger.WF, "workflow.controls.send.fail",
			slog.Int64("ticket_id", ticket.ID),
			slog.String("err", err.Error()),
		)
	}

	s.bus.Publish(ctx, events.Event{
		Type:     events.TicketAssigned,
		TicketID: ticket.ID,
		ActorID:  actor.ID,
		Payload:  events.AssignedPayload{ExecutorID: actor.ID, ExecutorName: actor.Name},
	})
	if before.Status != domain.StatusInProgress {
		s.bus.Publish(ctx, events.Event{
			Type:     events.TicketStatusChanged,
			TicketID: ticket.ID,
			ActorID:  actor.ID,
			Payload:  events.StatusChangedPayload{OldStatus: before.Status, NewStatus: domain.StatusInProgress},
		})
	}
	return nil
}

func (s *Service) postpone(ctx context.Context, actor *domain.User, ticket *domain.Ticket, chatID int64, messageID int) error {
	if ticket.ExecutorID == nil || *ticket.ExecutorID != actor.ID {
		return s.reply(ctx, chatID, "❌ Вы не являетесь исполнителем этой заявки.")
	}

	before, ok, err := s.tickets.UpdateStatusIf(ctx, ticket.ID, domain.StatusInProgress, domain.StatusPostponed)
	if err != nil {
		return err
	}
	if !ok {
		return s.reply(ctx, chatID, "⚠️ Можно отложить только заявки в работе.")
	}

	s.updateStatusCard(ctx, chatID, messageID, ticket.ID, domain.StatusPostponed)
	s.bus.Publish(ctx, events.Event{
		Type:     events.TicketStatusChanged,
		TicketID: ticket.ID,
		ActorID:  actor.ID,
		Payload:  events.StatusChangedPayload{OldStatus: before.Status, NewStatus: domain.StatusPostponed},
	})
	return nil
}

func (s *Service) remindAuthor(ctx context.Context, actor *domain.User, ticket *domain.Ticket, chatID int64) error {
	if ticket.ExecutorID == nil || *ticket.ExecutorID != actor.ID {
		return s.reply(ctx, chatID, "❌ Вы не являетесь исполнителем этой заявки.")
	}

	author, err := s.users.ByID(ctx, ticket.AuthorID)
	if err != nil || author.TelegramID == 0 {
		return s.reply(ctx, chatID, "❌ Автор недоступен в Telegram.")
	}
	if _, err := s.client.SendMessage(ctx, author.TelegramID, fmt.Sprintf(
		"⏰ Напоминание о заявке #%d\n\n"+
			"Исполнитель просит вас проверить выполнение заявки.", ticket.ID), nil); err != nil {
		return err
	}
	return s.reply(ctx, chatID, "✅ Напоминание отправлено.")
}

func (s *Service) confirmComplete(ctx context.Context, actor *domain.User, ticket *domain.Ticket, chatID int64, messageID int) error {
	if ticket.AuthorID != actor.ID {
		return s.reply(ctx, chatID, "❌ Только автор может подтвердить выполнение.")
	}

	before, ok, err := s.tickets.UpdateStatusIf(ctx, ticket.ID, domain.StatusInProgress, domain.StatusCompleted)
	if err != nil {
		return err
	}
	if !ok {
		return s.reply(ctx, chatID, "⚠️ Заявка не в работе.")
	}

	if err := s.client.EditMessage(ctx, chatID, messageID, fmt.Sprintf(
		"✅ <b>Заявка #%d завершена!</b>\n\nСпасибо за подтверждение.", ticket.ID), nil); err != nil {
		logger.Warn(ctx, logger.WF, "workflow.card.edit.fail",
			slog.Int64("ticket_id", ticket.ID),
			slog.String("err", err.Error()),
		)
	}

	if executor := s.executorUser(ctx, ticket.ExecutorID); executor != nil && executor.TelegramID != 0 {
		if _, err := s.client.SendMessage(ctx, executor.TelegramID, fmt.Sprintf(
			"✅ Заявка #%d подтверждена автором и закрыта.", ticket.ID), nil); err != nil {
			logger.Warn(ctx, logger.WF, "workflow.executor.notify.fail",
				slog.Int64("ticket_id", ticket.ID),
				slog.String("err", err.Error()),
			)
		}
	}

	s.bus.Publish(ctx, events.Event{
		Type:     events.TicketStatusChanged,
		TicketID: ticket.ID,
		ActorID:  actor.ID,
		Payload:  events.StatusChangedPayload{OldStatus: before.Status, NewStatus: domain.StatusCompleted},
	})
	return nil
}

// rejectComplete sends the ticket back to the executor without touching
// its status.
func (s *Service) rejectComplete(ctx context.Context, actor *domain.User, ticket *domain.Ticket, chatID int64) error {
	if ticket.AuthorID != actor.ID {
		return s.reply(ctx, chatID, "❌ Только автор может отклонить выполнение.")
	}

	executor := s.executorUser(ctx, ticket.ExecutorID)
	if executor == nil || executor.TelegramID == 0 {
		return s.reply(ctx, chatID, "❌ У заявки нет исполнителя.")
	}
	if _, err := s.client.SendMessage(ctx, executor.TelegramID, fmt.Sprintf(
		"🔄 Заявка #%d возвращена в работу\n\n"+
			"Автор отклонил выполнение. Проверьте заявку ещё раз.", ticket.ID), nil); err != nil {
		return err
	}
	return s.reply(ctx, chatID, "🔄 Исполнитель уведомлён.")
}

func (s *Service) viewTicket(ctx context.Context, ticket *domain.Ticket, chatID int64) error {
	lines := []string{fmt.Sprintf("📋 <b>Детали заявки #%d</b>", ticket.ID), ""}

	if cat, err := s.dicts.CategoryByID(ctx, ticket.CategoryID); err == nil {
		lines = append(lines, "📁 <b>Категория:</b> "+cat.Name)
	}
	if ticket.StoreID != nil {
		if store, err := s.dicts.StoreByID(ctx, *ticket.StoreID); err == nil {
			lines = append(lines, "🏪 <b>Магазин:</b> "+store.Name)
		}
	}
	if ticket.ProblemID != nil {
		if problem, err := s.dicts.ProblemByID(ctx, *ticket.ProblemID); err == nil {
			lines = append(lines, "🔧 <b>Проблема:</b> "+problem.Name)
		}
	}
	lines = append(lines, "📊 <b>Статус:</b> "+ticket.Status.Label())
	lines = append(lines, "👷 <b>Исполнитель:</b> "+s.executorName(ctx, ticket.ExecutorID))
	if atts, err := s.tickets.Attachments(ctx, ticket.ID); err == nil && len(atts) > 0 {
		lines = append(lines, fmt.Sprintf("📎 <b>Файлы:</b> %d шт.", len(atts)))
	}
	lines = append(lines,
		"",
		"📝 <b>Название:</b> "+ticket.Title,
		"💬 <b>Описание:</b> "+ticket.Description,
		"",
		"⏰ <b>Создана:</b> "+ticket.CreatedAt.Format(timeLayout),
	)

	return s.reply(ctx, chatID, strings.Join(lines, "\n"))
}

// updateStatusCard rewrites the pressed message into a compact status card.
func (s *Service) updateStatusCard(ctx context.Context, chatID int64, messageID int, ticketID int64, status domain.TicketStatus) {
	if messageID == 0 {
		return
	}
	text := fmt.Sprintf("📌 <b>Заявка #%d</b>\n\n📊 <b>Статус:</b> %s\n⏰ %s",
		ticketID, status.Label(), s.now().Format(timeLayout))
	if err := s.client.EditMessage(ctx, chatID, messageID, text, nil); err != nil {
		logger.Warn(ctx, logger.WF, "workflow.card.edit.fail",
			slog.Int64("ticket_id", ticketID),
			slog.String("err", err.Error()),
		)
	}
}

func (s *Service) executorUser(ctx context.Context, executorID *int64) *domain.User {
	if executorID == nil {
		return nil
	}
	u, err := s.users.ByID(ctx, *executorID)
	if err != nil {
		return nil
	}
	return u
}

func (s *Service) executorName(ctx context.Context, executorID *int64) string {
	if u := s.executorUser(ctx, executorID); u != nil && u.Name != "" {
		return u.Name
	}
	return "неизвестен"
}

func (s *Service) reply(ctx context.Context, chatID int64, text string) error {
	_, err := s.client.SendMessage(ctx, chatID, text, nil)
	return err
}
