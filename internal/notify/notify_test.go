package notify

import (
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	tele "gopkg.in/telebot.v4"

	"github.com/storedesk/ticketbot/core/telegram/sender"
	"github.com/storedesk/ticketbot/internal/domain"
	"github.com/storedesk/ticketbot/internal/events"
	"github.com/storedesk/ticketbot/internal/storage"
)

type sentMessage struct {
	chatID int64
	text   string
	markup *tele.ReplyMarkup
}

type fakeClient struct {
	mu   sync.Mutex
	sent []sentMessage
	// block, when set, holds every send until the channel is closed.
	block chan struct{}
}

func (f *fakeClient) GetUpdates(ctx context.Context, offset, limit, timeoutSeconds int) ([]tele.Update, error) {
	return nil, nil
}

func (f *fakeClient) SendMessage(ctx context.Context, chatID int64, text string, markup *tele.ReplyMarkup) (int, error) {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMessage{chatID: chatID, text: text, markup: markup})
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

func (f *fakeClient) sentTo(chatID int64) []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []sentMessage
	for _, m := range f.sent {
		if m.chatID == chatID {
			out = append(out, m)
		}
	}
	return out
}

type fakeUsers struct {
	byID      map[int64]*domain.User
	executors []domain.User
}

func (f *fakeUsers) ByID(ctx context.Context, id int64) (*domain.User, error) {
	u, ok := f.byID[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (f *fakeUsers) ActiveExecutorsForCategory(ctx context.Context, categoryID int64) ([]domain.User, error) {
	return f.executors, nil
}

type fakeDicts struct{}

func (fakeDicts) StoreByID(ctx context.Context, id int64) (*domain.Store, error) {
	return &domain.Store{ID: id, Name: "Центральный"}, nil
}

func (fakeDicts) CategoryByID(ctx context.Context, id int64) (*domain.Category, error) {
	return &domain.Category{ID: id, Name: "IT"}, nil
}

func (fakeDicts) ProblemByID(ctx context.Context, id int64) (*domain.Problem, error) {
	return &domain.Problem{ID: id, Name: "Не работает касса"}, nil
}

type fakeTickets struct {
	ticket *domain.Ticket
}

func (f *fakeTickets) ByID(ctx context.Context, id int64) (*domain.Ticket, error) {
	if f.ticket == nil || f.ticket.ID != id {
		return nil, storage.ErrNotFound
	}
	cp := *f.ticket
	return &cp, nil
}

func testNotifier(executors []domain.User) (*Notifier, *fakeClient, *sender.Dispatcher, *events.Dispatcher) {
	client := &fakeClient{}
	out := sender.NewDispatcher(sender.Options{
		QueueSize:      32,
		WorkersPerLane: 1,
		MaxAttempts:    1,
		Backoff:        []time.Duration{time.Millisecond},
	})
	storeID := int64(3)
	problemID := int64(5)
	users := &fakeUsers{
		byID: map[int64]*domain.User{
			1: {ID: 1, Name: "Иван", TelegramID: 1001},
		},
		executors: executors,
	}
	tickets := &fakeTickets{ticket: &domain.Ticket{
		ID:          42,
		Description: strings.Repeat("описание аварии на кассе ", 20),
		Status:      domain.StatusCreated,
		CategoryID:  7,
		ProblemID:   &problemID,
		StoreID:     &storeID,
		AuthorID:    1,
	}}
	n := New(client, out, users, fakeDicts{}, tickets)
	bus := events.NewDispatcher()
	n.Register(bus)
	return n, client, out, bus
}

func TestTicketCreatedFansOutToExecutors(t *testing.T) {
	executors := []domain.User{
		{ID: 2, Name: "Пётр", TelegramID: 1002},
		{ID: 3, Name: "Олег", TelegramID: 1003},
		{ID: 4, Name: "Без Телеграма"},
	}
	_, client, out, bus := testNotifier(executors)

	bus.Publish(context.Background(), events.Event{
		Type:     events.TicketCreated,
		TicketID: 42,
		ActorID:  1,
		Payload:  events.CreatedPayload{CategoryID: 7, AuthorID: 1, Title: "Заявка из Telegram"},
	})
	out.Close()

	author := client.sentTo(1001)
	if len(author) != 1 || !strings.Contains(author[0].text, "Новая заявка #42") {
		t.Fatalf("author receipt = %+v", author)
	}
	for _, chat := range []int64{1002, 1003} {
		msgs := client.sentTo(chat)
		if len(msgs) != 1 {
			t.Fatalf("executor %d got %d messages", chat, len(msgs))
		}
		if msgs[0].markup == nil {
			t.Fatalf("executor notice carries no buttons")
		}
		if !strings.Contains(msgs[0].text, "взять её в работу") {
			t.Fatalf("executor notice = %q", msgs[0].text)
		}
	}
	// The executor without a Telegram binding is skipped.
	if total := len(client.sentTo(1001)) + len(client.sentTo(1002)) + len(client.sentTo(1003)); total != 3 {
		t.Fatalf("unexpected extra deliveries: %d", total)
	}
}

func TestCreatedSummaryTruncatesDescription(t *testing.T) {
	_, client, out, bus := testNotifier(nil)

	bus.Publish(context.Background(), events.Event{
		Type:     events.TicketCreated,
		TicketID: 42,
		Payload:  events.CreatedPayload{CategoryID: 7, AuthorID: 1},
	})
	out.Close()

	msgs := client.sentTo(1001)
	if len(msgs) != 1 {
		t.Fatalf("author messages = %d", len(msgs))
	}
	if !strings.Contains(msgs[0].text, "...") {
		t.Fatalf("long description not truncated:\n%s", msgs[0].text)
	}
	if !strings.Contains(msgs[0].text, "Магазин:</b> Центральный") {
		t.Fatalf("summary missing store line:\n%s", msgs[0].text)
	}
}

func TestRepeatedStatusChangeDeliversEveryNotification(t *testing.T) {
	_, client, out, bus := testNotifier(nil)
	client.block = make(chan struct{})

	// The same transition happens twice in a row (postpone, take, postpone,
	// take). The second notification is published while the first send is
	// still in flight and must not be collapsed into it.
	e := events.Event{
		Type:     events.TicketStatusChanged,
		TicketID: 42,
		ActorID:  2,
		Payload: events.StatusChangedPayload{
			OldStatus: domain.StatusPostponed,
			NewStatus: domain.StatusInProgress,
		},
	}
	bus.Publish(context.Background(), e)
	bus.Publish(context.Background(), e)
	close(client.block)
	out.Close()

	if msgs := client.sentTo(1001); len(msgs) != 2 {
		t.Fatalf("author received %d status notifications, want 2", len(msgs))
	}
}

func TestStatusChangedNotifiesAuthor(t *testing.T) {
	_, client, out, bus := testNotifier(nil)

	bus.Publish(context.Background(), events.Event{
		Type:     events.TicketStatusChanged,
		TicketID: 42,
		ActorID:  2,
		Payload: events.StatusChangedPayload{
			OldStatus: domain.StatusCreated,
			NewStatus: domain.StatusInProgress,
		},
	})
	out.Close()

	msgs := client.sentTo(1001)
	if len(msgs) != 1 {
		t.Fatalf("author messages = %d", len(msgs))
	}
	if !strings.Contains(msgs[0].text, "Было:</b> Создана") || !strings.Contains(msgs[0].text, "Стало:</b> В работе") {
		t.Fatalf("status notice = %q", msgs[0].text)
	}
}
