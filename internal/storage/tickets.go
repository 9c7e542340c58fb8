package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/storedesk/ticketbot/internal/domain"
)

// Tickets persists helpdesk tickets and their attachments.
type Tickets struct {
	db *sqlx.DB
}

func NewTickets(db *sqlx.DB) *Tickets {
	return &Tickets{db: db}
}

// DB exposes the underlying handle for cross-repo transactions.
func (t *Tickets) DB() *sqlx.DB {
	return t.db
}

// Create inserts a ticket within the given transaction and returns its id.
func (t *Tickets) Create(ctx context.Context, tx *sqlx.Tx, ticket *domain.Ticket) (int64, error) {
	now := time.Now()
	var id int64
	err := tx.QueryRowxContext(ctx,
		`INSERT INTO tickets
		   (title, description, status_id, category_id, problem_id, store_id,
		    author_id, executor_id, created_via, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, NULL, $8, $9, $9)
		 RETURNING id`,
		ticket.Title, ticket.Description, int(ticket.Status), ticket.CategoryID,
		ticket.ProblemID, ticket.StoreID, ticket.AuthorID, ticket.CreatedVia, now,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("ticket insert: %w", err)
	}
	return id, nil
}

// ByID loads a ticket by primary key.
func (t *Tickets) ByID(ctx context.Context, id int64) (*domain.Ticket, error) {
	var ticket domain.Ticket
	err := t.db.GetContext(ctx, &ticket,
		`SELECT id, title, description, status_id, category_id, problem_id, store_id,
		        author_id, executor_id, created_via, created_at, updated_at
		 FROM tickets WHERE id = $1`, id)
	if err != nil {
		return nil, wrapNotFound(fmt.Errorf("ticket by id: %w", err))
	}
	return &ticket, nil
}

// ByIDForUpdate loads a ticket inside tx with a row lock, so workflow
// authorization always sees current state.
func (t *Tickets) ByIDForUpdate(ctx context.Context, tx *sqlx.Tx, id int64) (*domain.Ticket, error) {
	var ticket domain.Ticket
	err := tx.GetContext(ctx, &ticket,
		`SELECT id, title, description, status_id, category_id, problem_id, store_id,
		        author_id, executor_id, created_via, created_at, updated_at
		 FROM tickets WHERE id = $1 FOR UPDATE`, id)
	if err != nil {
		return nil, wrapNotFound(fmt.Errorf("ticket lock: %w", err))
	}
	return &ticket, nil
}

// SetStatus updates the status inside tx.
func (t *Tickets) SetStatus(ctx context.Context, tx *sqlx.Tx, id int64, status domain.TicketStatus) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE tickets SET status_id = $2, updated_at = $3 WHERE id = $1`,
		id, int(status), time.Now())
	if err != nil {
		return fmt.Errorf("ticket set status: %w", err)
	}
	return nil
}

// Assign sets the executor and status inside tx.
func (t *Tickets) Assign(ctx context.Context, tx *sqlx.Tx, id, executorID int64, status domain.TicketStatus) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE tickets SET executor_id = $2, status_id = $3, updated_at = $4 WHERE id = $1`,
		id, executorID, int(status), time.Now())
	if err != nil {
		return fmt.Errorf("ticket assign: %w", err)
	}
	return nil
}

// AddAttachment records a persisted file for the ticket.
func (t *Tickets) AddAttachment(ctx context.Context, att *domain.TicketAttachment) error {
	_, err := t.db.ExecContext(ctx,
		`INSERT INTO ticket_attachments
		   (ticket_id, file_name, file_path, kind, telegram_file_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		att.TicketID, att.FileName, att.FilePath, att.Kind, att.FileID, time.Now())
	if err != nil {
		return fmt.Errorf("attachment insert: %w", err)
	}
	return nil
}

// Attachments lists files persisted for a ticket.
func (t *Tickets) Attachments(ctx context.Context, ticketID int64) ([]domain.TicketAttachment, error) {
	var out []domain.TicketAttachment
	err := t.db.SelectContext(ctx, &out,
		`SELECT id, ticket_id, file_name, file_path, kind, telegram_file_id, created_at
		 FROM ticket_attachments WHERE ticket_id = $1 ORDER BY id`, ticketID)
	if err != nil {
		return nil, fmt.Errorf("attachments: %w", err)
	}
	return out, nil
}

// Claim assigns the ticket to executorID. Only a freshly created ticket
// can be taken; re-claiming an in-progress ticket already held by the
// same executor is an idempotent success, so a stale button press does
// not reopen a postponed or completed ticket. The returned ticket
// reflects the state before the change.
func (t *Tickets) Claim(ctx context.Context, ticketID, executorID int64) (*domain.Ticket, bool, error) {
	var before *domain.Ticket
	claimed := false
	err := InTx(ctx, t.db, func(tx *sqlx.Tx) error {
		cur, err := t.ByIDForUpdate(ctx, tx, ticketID)
		if err != nil {
			return err
		}
		before = cur
		switch {
		case cur.Status == domain.StatusCreated:
		case cur.Status == domain.StatusInProgress && cur.ExecutorID != nil && *cur.ExecutorID == executorID:
		default:
			return nil
		}
		claimed = true
		return t.Assign(ctx, tx, ticketID, executorID, domain.StatusInProgress)
	})
	return before, claimed, err
}

// UpdateStatusIf moves the ticket from one status to another atomically.
// The returned ticket reflects the state before the change; ok is false
// when the ticket was not in the expected status.
func (t *Tickets) UpdateStatusIf(ctx context.Context, ticketID int64, from, to domain.TicketStatus) (*domain.Ticket, bool, error) {
	var before *domain.Ticket
	ok := false
	err := InTx(ctx, t.db, func(tx *sqlx.Tx) error {
		cur, err := t.ByIDForUpdate(ctx, tx, ticketID)
		if err != nil {
			return err
		}
		before = cur
		if cur.Status != from {
			return nil
		}
		ok = true
		return t.SetStatus(ctx, tx, ticketID, to)
	})
	return before, ok, err
}
