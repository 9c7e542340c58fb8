package workflow

import (
	"context"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	tele "gopkg.in/telebot.v4"

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
	sent  []sentMessage
	edits []sentMessage
}

func (f *fakeClient) GetUpdates(ctx context.Context, offset, limit, timeoutSeconds int) ([]tele.Update, error) {
	return nil, nil
}

func (f *fakeClient) SendMessage(ctx context.Context, chatID int64, text string, markup *tele.ReplyMarkup) (int, error) {
	f.sent = append(f.sent, sentMessage{chatID: chatID, text: text, markup: markup})
	return len(f.sent), nil
}

func (f *fakeClient) EditMessage(ctx context.Context, chatID int64, messageID int, text string, markup *tele.ReplyMarkup) error {
	f.edits = append(f.edits, sentMessage{chatID: chatID, text: text, markup: markup})
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
	var out []sentMessage
	for _, m := range f.sent {
		if m.chatID == chatID {
			out = append(out, m)
		}
	}
	return out
}

type fakeTickets struct {
	byID        map[int64]*domain.Ticket
	attachments map[int64][]domain.TicketAttachment
}

func (f *fakeTickets) Attachments(ctx context.Context, ticketID int64) ([]domain.TicketAttachment, error) {
	return f.attachments[ticketID], nil
}

func (f *fakeTickets) ByID(ctx context.Context, id int64) (*domain.Ticket, error) {
	t, ok := f.byID[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (f *fakeTickets) Claim(ctx context.Context, ticketID, executorID int64) (*domain.Ticket, bool, error) {
	t, ok := f.byID[ticketID]
	if !ok {
		return nil, false, storage.ErrNotFound
	}
	before := *t
	switch {
	case t.Status == domain.StatusCreated:
	case t.Status == domain.StatusInProgress && t.ExecutorID != nil && *t.ExecutorID == executorID:
	default:
		return &before, false, nil
	}
	t.ExecutorID = &executorID
	t.Status = domain.StatusInProgress
	return &before, true, nil
}

func (f *fakeTickets) UpdateStatusIf(ctx context.Context, ticketID int64, from, to domain.TicketStatus) (*domain.Ticket, bool, error) {
	t, ok := f.byID[ticketID]
	if !ok {
		return nil, false, storage.ErrNotFound
	}
	before := *t
	if t.Status != from {
		return &before, false, nil
	}
	t.Status = to
	return &before, true, nil
}

type fakeUsers struct {
	byID      map[int64]*domain.User
	executors map[string]bool
}

func (f *fakeUsers) ByTelegramID(ctx context.Context, telegramID int64) (*domain.User, error) {
	for _, u := range f.byID {
		if u.TelegramID == telegramID {
			cp := *u
			return &cp, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (f *fakeUsers) ByID(ctx context.Context, id int64) (*domain.User, error) {
	u, ok := f.byID[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (f *fakeUsers) IsActiveExecutor(ctx context.Context, userID, categoryID int64) (bool, error) {
	return f.executors[fmt.Sprintf("%d:%d", userID, categoryID)], nil
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

type recordedEvents struct {
	list []events.Event
}

func (r *recordedEvents) handler(ctx context.Context, e events.Event) error {
	r.list = append(r.list, e)
	return nil
}

func (r *recordedEvents) ofType(t events.Type) []events.Event {
	var out []events.Event
	for _, e := range r.list {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// Fixture ids: author is user 1 (tg 1001), executor is user 2 (tg 1002),
// a rival executor is user 3 (tg 1003). Ticket 42 is in category 7.
func testService(ticketStatus domain.TicketStatus, executorID *int64) (*Service, *fakeClient, *fakeTickets, *recordedEvents) {
	client := &fakeClient{}
	tickets := &fakeTickets{byID: map[int64]*domain.Ticket{
		42: {
			ID:          42,
			Title:       "Заявка из Telegram",
			Description: "Касса не печатает чеки",
			Status:      ticketStatus,
			CategoryID:  7,
			AuthorID:    1,
			ExecutorID:  executorID,
			CreatedAt:   time.Date(2025, 3, 10, 14, 30, 0, 0, time.UTC),
		},
	}}
	users := &fakeUsers{
		byID: map[int64]*domain.User{
			1: {ID: 1, Name: "Иван", TelegramID: 1001},
			2: {ID: 2, Name: "Пётр", TelegramID: 1002},
			3: {ID: 3, Name: "Олег", TelegramID: 1003},
		},
		executors: map[string]bool{"2:7": true, "3:7": true},
	}
	rec := &recordedEvents{}
	bus := events.NewDispatcher()
	bus.Subscribe(events.TicketAssigned, rec.handler)
	bus.Subscribe(events.TicketStatusChanged, rec.handler)
	svc := NewService(client, tickets, users, fakeDicts{}, bus)
	return svc, client, tickets, rec
}

func TestTakeToWork(t *testing.T) {
	svc, client, tickets, rec := testService(domain.StatusCreated, nil)

	if err := svc.Handle(context.Background(), 1002, 1002, 77, ActionTake, 42); err != nil {
		t.Fatalf("handle: %v", err)
	}

	got := tickets.byID[42]
	if got.Status != domain.StatusInProgress || got.ExecutorID == nil || *got.ExecutorID != 2 {
		t.Fatalf("ticket after take: status=%v executor=%v", got.Status, got.ExecutorID)
	}
	if len(client.edits) != 1 || !strings.Contains(client.edits[0].text, "Статус:</b> В работе") {
		t.Fatalf("status card not updated: %+v", client.edits)
	}
	authorMsgs := client.sentTo(1001)
	if len(authorMsgs) != 1 || !strings.Contains(authorMsgs[0].text, "взята в работу") {
		t.Fatalf("author notice = %+v", authorMsgs)
	}
	if authorMsgs[0].markup == nil {
		t.Fatalf("author notice must carry confirmation buttons")
	}
	controls := client.sentTo(1002)
	if len(controls) != 1 || !strings.Contains(controls[0].text, "Управление заявкой #42") {
		t.Fatalf("management message = %+v", controls)
	}
	if len(rec.ofType(events.TicketAssigned)) != 1 {
		t.Fatalf("assigned events = %d", len(rec.ofType(events.TicketAssigned)))
	}
	changed := rec.ofType(events.TicketStatusChanged)
	if len(changed) != 1 {
		t.Fatalf("status events = %d", len(changed))
	}
	p := changed[0].Payload.(events.StatusChangedPayload)
	if p.OldStatus != domain.StatusCreated || p.NewStatus != domain.StatusInProgress {
		t.Fatalf("status payload = %+v", p)
	}
}

func TestTakeAlreadyTaken(t *testing.T) {
	other := int64(2)
	svc, client, _, rec := testService(domain.StatusInProgress, &other)

	if err := svc.Handle(context.Background(), 1003, 1003, 77, ActionTake, 42); err != nil {
		t.Fatalf("handle: %v", err)
	}
	msgs := client.sentTo(1003)
	if len(msgs) != 1 || !strings.Contains(msgs[0].text, "уже в работе у: Пётр") {
		t.Fatalf("denial = %+v", msgs)
	}
	if len(rec.list) != 0 {
		t.Fatalf("no events expected, got %d", len(rec.list))
	}
}

func TestTakeRejectedForFinishedTickets(t *testing.T) {
	exec := int64(2)
	for _, status := range []domain.TicketStatus{domain.StatusPostponed, domain.StatusCompleted} {
		svc, client, tickets, rec := testService(status, &exec)

		// A stale take_work button on the executor's own ticket must not
		// reopen it.
		if err := svc.Handle(context.Background(), 1002, 1002, 77, ActionTake, 42); err != nil {
			t.Fatalf("%v: handle: %v", status, err)
		}
		if got := tickets.byID[42].Status; got != status {
			t.Fatalf("%v: ticket status changed to %v", status, got)
		}
		msgs := client.sentTo(1002)
		if len(msgs) != 1 || !strings.Contains(msgs[0].text, "нельзя взять в работу") {
			t.Fatalf("%v: denial = %+v", status, msgs)
		}
		if !strings.Contains(msgs[0].text, status.Label()) {
			t.Fatalf("%v: denial does not name the status: %q", status, msgs[0].text)
		}
		if len(rec.list) != 0 {
			t.Fatalf("%v: no events expected, got %d", status, len(rec.list))
		}
	}
}

func TestTakeOwnInProgressTicketIsIdempotent(t *testing.T) {
	exec := int64(2)
	svc, _, tickets, rec := testService(domain.StatusInProgress, &exec)

	if err := svc.Handle(context.Background(), 1002, 1002, 77, ActionTake, 42); err != nil {
		t.Fatalf("handle: %v", err)
	}
	got := tickets.byID[42]
	if got.Status != domain.StatusInProgress || *got.ExecutorID != 2 {
		t.Fatalf("ticket after re-take: status=%v executor=%v", got.Status, got.ExecutorID)
	}
	// The status did not move, so no status-changed event fires.
	if len(rec.ofType(events.TicketStatusChanged)) != 0 {
		t.Fatalf("unexpected status events: %d", len(rec.ofType(events.TicketStatusChanged)))
	}
}

func TestTakeRequiresExecutorRole(t *testing.T) {
	svc, client, _, _ := testService(domain.StatusCreated, nil)

	// User 1 is the author, not an executor for category 7.
	if err := svc.Handle(context.Background(), 1001, 1001, 77, ActionTake, 42); err != nil {
		t.Fatalf("handle: %v", err)
	}
	msgs := client.sentTo(1001)
	if len(msgs) != 1 || !strings.Contains(msgs[0].text, "нет прав") {
		t.Fatalf("denial = %+v", msgs)
	}
}

func TestPostpone(t *testing.T) {
	exec := int64(2)
	svc, client, tickets, rec := testService(domain.StatusInProgress, &exec)
	ctx := context.Background()

	// Only the current executor may postpone.
	if err := svc.Handle(ctx, 1003, 1003, 77, ActionPostpone, 42); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if msgs := client.sentTo(1003); len(msgs) != 1 || !strings.Contains(msgs[0].text, "не являетесь исполнителем") {
		t.Fatalf("denial = %+v", msgs)
	}

	if err := svc.Handle(ctx, 1002, 1002, 78, ActionPostpone, 42); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if got := tickets.byID[42].Status; got != domain.StatusPostponed {
		t.Fatalf("status after postpone = %v", got)
	}
	if len(rec.ofType(events.TicketStatusChanged)) != 1 {
		t.Fatalf("expected one status event")
	}

	// Postponing again fails the in-progress check.
	if err := svc.Handle(ctx, 1002, 1002, 79, ActionPostpone, 42); err != nil {
		t.Fatalf("handle: %v", err)
	}
	msgs := client.sentTo(1002)
	if !strings.Contains(msgs[len(msgs)-1].text, "только заявки в работе") {
		t.Fatalf("denial = %q", msgs[len(msgs)-1].text)
	}
}

func TestConfirmComplete(t *testing.T) {
	exec := int64(2)
	svc, client, tickets, rec := testService(domain.StatusInProgress, &exec)
	ctx := context.Background()

	// Only the author may confirm.
	if err := svc.Handle(ctx, 1002, 1002, 77, ActionConfirmComplete, 42); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if msgs := client.sentTo(1002); len(msgs) != 1 || !strings.Contains(msgs[0].text, "Только автор") {
		t.Fatalf("denial = %+v", msgs)
	}

	if err := svc.Handle(ctx, 1001, 1001, 78, ActionConfirmComplete, 42); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if got := tickets.byID[42].Status; got != domain.StatusCompleted {
		t.Fatalf("status after confirm = %v", got)
	}
	if len(client.edits) != 1 || !strings.Contains(client.edits[0].text, "завершена") {
		t.Fatalf("completion edit = %+v", client.edits)
	}
	if msgs := client.sentTo(1002); len(msgs) != 2 || !strings.Contains(msgs[1].text, "подтверждена автором") {
		t.Fatalf("executor notice = %+v", msgs)
	}
	if len(rec.ofType(events.TicketStatusChanged)) != 1 {
		t.Fatalf("expected one status event")
	}
}

func TestConfirmCompleteRequiresInProgress(t *testing.T) {
	svc, client, _, _ := testService(domain.StatusCreated, nil)

	if err := svc.Handle(context.Background(), 1001, 1001, 77, ActionConfirmComplete, 42); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if msgs := client.sentTo(1001); len(msgs) != 1 || !strings.Contains(msgs[0].text, "не в работе") {
		t.Fatalf("denial = %+v", msgs)
	}
}

func TestRejectComplete(t *testing.T) {
	exec := int64(2)
	svc, client, tickets, rec := testService(domain.StatusInProgress, &exec)

	if err := svc.Handle(context.Background(), 1001, 1001, 77, ActionRejectComplete, 42); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if msgs := client.sentTo(1002); len(msgs) != 1 || !strings.Contains(msgs[0].text, "возвращена в работу") {
		t.Fatalf("executor notice = %+v", msgs)
	}
	// The status is untouched, the dialog continues in Telegram.
	if got := tickets.byID[42].Status; got != domain.StatusInProgress {
		t.Fatalf("status after reject = %v", got)
	}
	if len(rec.list) != 0 {
		t.Fatalf("no events expected, got %d", len(rec.list))
	}
}

func TestRemindAuthor(t *testing.T) {
	exec := int64(2)
	svc, client, _, _ := testService(domain.StatusInProgress, &exec)

	if err := svc.Handle(context.Background(), 1002, 1002, 77, ActionRemindAuthor, 42); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if msgs := client.sentTo(1001); len(msgs) != 1 || !strings.Contains(msgs[0].text, "Напоминание о заявке #42") {
		t.Fatalf("author reminder = %+v", msgs)
	}
}

func TestViewTicket(t *testing.T) {
	exec := int64(2)
	svc, client, tickets, _ := testService(domain.StatusInProgress, &exec)
	tickets.attachments = map[int64][]domain.TicketAttachment{
		42: {{ID: 1, TicketID: 42}, {ID: 2, TicketID: 42}},
	}

	if err := svc.Handle(context.Background(), 1001, 1001, 77, ActionView, 42); err != nil {
		t.Fatalf("handle: %v", err)
	}
	msg := client.sentTo(1001)[0]
	for _, want := range []string{
		"Детали заявки #42",
		"Категория:</b> IT",
		"Статус:</b> В работе",
		"Исполнитель:</b> Пётр",
		"Файлы:</b> 2 шт.",
		"Касса не печатает чеки",
		"10.03.2025 14:30",
	} {
		if !strings.Contains(msg.text, want) {
			t.Errorf("details missing %q:\n%s", want, msg.text)
		}
	}
}

func TestUnknownUserAndTicket(t *testing.T) {
	svc, client, _, _ := testService(domain.StatusCreated, nil)
	ctx := context.Background()

	if err := svc.Handle(ctx, 9999, 9999, 77, ActionTake, 42); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if msgs := client.sentTo(9999); len(msgs) != 1 || !strings.Contains(msgs[0].text, "Пользователь не найден") {
		t.Fatalf("denial = %+v", msgs)
	}

	if err := svc.Handle(ctx, 1002, 1002, 77, ActionTake, 777); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if msgs := client.sentTo(1002); len(msgs) != 1 || !strings.Contains(msgs[0].text, "Заявка не найдена") {
		t.Fatalf("denial = %+v", msgs)
	}
}

func TestIsAction(t *testing.T) {
	for _, a := range []string{ActionTake, ActionPostpone, ActionRemindAuthor, ActionConfirmComplete, ActionRejectComplete, ActionView} {
		if !IsAction(a) {
			t.Errorf("IsAction(%q) = false", a)
		}
	}
	if IsAction("skip_attach") || IsAction("") {
		t.Errorf("non-workflow payloads must not match")
	}
}
