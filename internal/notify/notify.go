// Package notify turns ticket events into outgoing Telegram messages,
// delivered through the queued sender so event handlers never block.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"github.com/storedesk/ticketbot/core/logger"
	"github.com/storedesk/ticketbot/core/telegram"
	"github.com/storedesk/ticketbot/core/telegram/keyboard"
	"github.com/storedesk/ticketbot/core/telegram/sender"
	"github.com/storedesk/ticketbot/internal/domain"
	"github.com/storedesk/ticketbot/internal/events"
	"github.com/storedesk/ticketbot/internal/workflow"
)

const (
	descriptionPreview = 200
	timeLayout         = "02.01.2006 15:04"
)

// Directory resolves notification recipients.
type Directory interface {
	ByID(ctx context.Context, id int64) (*domain.User, error)
	ActiveExecutorsForCategory(ctx context.Context, categoryID int64) ([]domain.User, error)
}

// Reference resolves dictionary names for message bodies.
type Reference interface {
	StoreByID(ctx context.Context, id int64) (*domain.Store, error)
	CategoryByID(ctx context.Context, id int64) (*domain.Category, error)
	ProblemByID(ctx context.Context, id int64) (*domain.Problem, error)
}

// TicketSource loads the ticket an event refers to.
type TicketSource interface {
	ByID(ctx context.Context, id int64) (*domain.Ticket, error)
}

type Notifier struct {
	client  telegram.Client
	out     *sender.Dispatcher
	users   Directory
	dicts   Reference
	tickets TicketSource
}

func New(client telegram.Client, out *sender.Dispatcher, users Directory, dicts Reference, tickets TicketSource) *Notifier {
	return &Notifier{client: client, out: out, users: users, dicts: dicts, tickets: tickets}
}

// Register subscribes the notifier to the event bus.
func (n *Notifier) Register(bus *events.Dispatcher) {
	bus.Subscribe(events.TicketCreated, n.onTicketCreated)
	bus.Subscribe(events.TicketStatusChanged, n.onStatusChanged)
}

func (n *Notifier) onTicketCreated(ctx context.Context, e events.Event) error {
	payload, ok := e.Payload.(events.CreatedPayload)
	if !ok {
		return fmt.Errorf("unexpected payload %T for %s", e.Payload, e.Type)
	}
	ticket, err := n.tickets.ByID(ctx, e.TicketID)
	if err != nil {
		return fmt.Errorf("load ticket %d: %w", e.TicketID, err)
	}

	body := n.ticketSummary(ctx, ticket)

	// The author gets a receipt with the full summary.
	if author, err := n.users.ByID(ctx, payload.AuthorID); err == nil && author.TelegramID != 0 {
		text := fmt.Sprintf("🆕 <b>Новая заявка #%d</b>\n\n%s", ticket.ID, body)
		n.enqueue(ctx, sender.LaneNormal, author.TelegramID, text, nil, "ticket_created")
	}

	executors, err := n.users.ActiveExecutorsForCategory(ctx, payload.CategoryID)
	if err != nil {
		return fmt.Errorf("load executors for category %d: %w", payload.CategoryID, err)
	}
	markup := keyboard.InlineButtonsRows(
		[]keyboard.InlineBtn{{Text: "✅ Взять в работу", Data: fmt.Sprintf("%s:%d", workflow.ActionTake, ticket.ID)}},
		[]keyboard.InlineBtn{{Text: "👁 Подробнее", Data: fmt.Sprintf("%s:%d", workflow.ActionView, ticket.ID)}},
	)
	text := fmt.Sprintf("🆕 <b>Новая заявка #%d</b>\n\n%s\n\nВы можете взять её в работу.", ticket.ID, body)
	for _, exec := range executors {
		if exec.TelegramID == 0 {
			continue
		}
		n.enqueue(ctx, sender.LaneNormal, exec.TelegramID, text, markup, "ticket_created")
	}
	return nil
}

func (n *Notifier) onStatusChanged(ctx context.Context, e events.Event) error {
	payload, ok := e.Payload.(events.StatusChangedPayload)
	if !ok {
		return fmt.Errorf("unexpected payload %T for %s", e.Payload, e.Type)
	}
	ticket, err := n.tickets.ByID(ctx, e.TicketID)
	if err != nil {
		return fmt.Errorf("load ticket %d: %w", e.TicketID, err)
	}
	author, err := n.users.ByID(ctx, ticket.AuthorID)
	if err != nil || author.TelegramID == 0 {
		return nil
	}

	text := fmt.Sprintf(
		"🔄 <b>Изменен статус заявки #%d</b>\n\n"+
			"📊 <b>Было:</b> %s\n"+
			"📊 <b>Стало:</b> %s\n\n"+
			"⏰ %s",
		ticket.ID, payload.OldStatus.Label(), payload.NewStatus.Label(),
		time.Now().Format(timeLayout))
	// Status transitions are what the author is waiting on, so they go
	// through the urgent lane.
	n.enqueue(ctx, sender.LaneUrgent, author.TelegramID, text, nil, "status_changed")
	return nil
}

func (n *Notifier) ticketSummary(ctx context.Context, ticket *domain.Ticket) string {
	var lines []string
	if ticket.StoreID != nil {
		if store, err := n.dicts.StoreByID(ctx, *ticket.StoreID); err == nil {
			lines = append(lines, "🏪 <b>Магазин:</b> "+store.Name)
		}
	}
	if cat, err := n.dicts.CategoryByID(ctx, ticket.CategoryID); err == nil {
		lines = append(lines, "📁 <b>Категория:</b> "+cat.Name)
	}
	if ticket.ProblemID != nil {
		if problem, err := n.dicts.ProblemByID(ctx, *ticket.ProblemID); err == nil {
			lines = append(lines, "🔧 <b>Проблема:</b> "+problem.Name)
		}
	}
	lines = append(lines, "📊 <b>Статус:</b> "+ticket.Status.Label())

	desc := []rune(ticket.Description)
	if len(desc) > descriptionPreview {
		desc = append(desc[:descriptionPreview], []rune("...")...)
	}
	lines = append(lines, "", "💬 <b>Описание:</b> "+string(desc))

	return strings.Join(lines, "\n")
}

// enqueue schedules a plain message send. No dedupe key is passed:
// every published event is a distinct notification, even when two
// transitions share the same ticket and statuses.
func (n *Notifier) enqueue(ctx context.Context, lane sender.Lane, chatID int64, text string, markup *tele.ReplyMarkup, action string) {
	job := sender.Job{
		ChatID: chatID,
		Text:   text,
		Action: action,
		Run: func(ctx context.Context) error {
			_, err := n.client.SendMessage(ctx, chatID, text, markup)
			return err
		},
	}
	err := n.out.Enqueue(ctx, lane, job)
	if err == nil {
		return
	}
	logger.Warn(ctx, logger.SND, "notify.enqueue.fail",
		slog.Int64("chat_id", chatID),
		slog.String("action", action),
		slog.String("err", err.Error()),
	)
	// A saturated queue falls back to a direct send so the recipient
	// still hears about the ticket.
	if errors.Is(err, sender.ErrQueueFull) {
		if _, sendErr := n.client.SendMessage(ctx, chatID, text, markup); sendErr != nil {
			logger.Error(ctx, logger.SND, "notify.fallback.fail",
				slog.Int64("chat_id", chatID),
				slog.String("action", action),
				slog.String("err", sendErr.Error()),
			)
		}
	}
}
