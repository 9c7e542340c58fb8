// Package events is a synchronous in-process dispatcher for ticket
// lifecycle events.
package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/storedesk/ticketbot/core/logger"
	"github.com/storedesk/ticketbot/internal/domain"
)

// Type enumerates supported event identifiers.
type Type string

const (
	TicketCreated       Type = "ticket_created"
	TicketAssigned      Type = "ticket_assigned"
	TicketStatusChanged Type = "ticket_status_changed"
)

// Event is a domain event emitted by the ticket service and workflow.
type Event struct {
	ID        string
	Type      Type
	TicketID  int64
	ActorID   int64
	Timestamp time.Time
	Payload   any
}

// CreatedPayload accompanies TicketCreated.
type CreatedPayload struct {
	CategoryID int64
	ProblemID  *int64
	StoreID    *int64
	AuthorID   int64
	Title      string
}

// AssignedPayload accompanies TicketAssigned.
type AssignedPayload struct {
	ExecutorID   int64
	ExecutorName string
}

// StatusChangedPayload accompanies TicketStatusChanged.
type StatusChangedPayload struct {
	OldStatus domain.TicketStatus
	NewStatus domain.TicketStatus
}

// Handler consumes a published event.
type Handler func(context.Context, Event) error

// Dispatcher routes events to subscribed handlers.
type Dispatcher struct {
	mu        sync.RWMutex
	listeners map[Type][]Handler
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{listeners: make(map[Type][]Handler)}
}

// Subscribe registers a handler for the given event type.
func (d *Dispatcher) Subscribe(t Type, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listeners[t] = append(d.listeners[t], h)
}

// Publish invokes every handler for the event synchronously. A handler
// error is logged and does not stop the remaining handlers.
func (d *Dispatcher) Publish(ctx context.Context, e Event) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	d.mu.RLock()
	handlers := append([]Handler(nil), d.listeners[e.Type]...)
	d.mu.RUnlock()

	logger.Debug(ctx, logger.EVT, "event.publish",
		slog.String("event_id", e.ID),
		slog.String("type", string(e.Type)),
		slog.Int64("ticket_id", e.TicketID),
		slog.Int("handlers", len(handlers)),
	)
	for _, h := range handlers {
		if err := h(ctx, e); err != nil {
			logger.Error(ctx, logger.EVT, "event.handler.fail",
				slog.String("event_id", e.ID),
				slog.String("type", string(e.Type)),
				slog.Int64("ticket_id", e.TicketID),
				slog.String("err", err.Error()),
			)
		}
	}
}
