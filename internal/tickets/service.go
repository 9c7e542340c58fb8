// Package tickets creates helpdesk tickets and persists their attachments.
package tickets

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/storedesk/ticketbot/core/logger"
	"github.com/storedesk/ticketbot/core/telegram"
	"github.com/storedesk/ticketbot/internal/domain"
	"github.com/storedesk/ticketbot/internal/events"
	"github.com/storedesk/ticketbot/internal/storage"
)

const defaultTitle = "Заявка из Telegram"

// Service owns ticket creation and attachment persistence.
type Service struct {
	tickets   *storage.Tickets
	client    telegram.Client
	bus       *events.Dispatcher
	attachDir string
}

func NewService(tickets *storage.Tickets, client telegram.Client, bus *events.Dispatcher, attachDir string) *Service {
	return &Service{tickets: tickets, client: client, bus: bus, attachDir: attachDir}
}

// CreateInput carries the validated wizard output.
type CreateInput struct {
	AuthorID    int64
	CategoryID  int64
	ProblemID   *int64
	StoreID     *int64
	Description string
}

// Create inserts the ticket and fires TicketCreated after commit.
func (s *Service) Create(ctx context.Context, in CreateInput) (*domain.Ticket, error) {
	ticket := &domain.Ticket{
		Title:       defaultTitle,
		Description: in.Description,
		Status:      domain.StatusCreated,
		CategoryID:  in.CategoryID,
		ProblemID:   in.ProblemID,
		StoreID:     in.StoreID,
		AuthorID:    in.AuthorID,
		CreatedVia:  "telegram",
	}

	err := storage.InTx(ctx, s.tickets.DB(), func(tx *sqlx.Tx) error {
		id, err := s.tickets.Create(ctx, tx, ticket)
		if err != nil {
			return err
		}
		ticket.ID = id
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Info(ctx, logger.WF, "ticket.created",
		slog.Int64("ticket_id", ticket.ID),
		slog.Int64("author_id", in.AuthorID),
		slog.Int64("category_id", in.CategoryID),
	)
	s.bus.Publish(ctx, events.Event{
		Type:     events.TicketCreated,
		TicketID: ticket.ID,
		ActorID:  in.AuthorID,
		Payload: events.CreatedPayload{
			CategoryID: in.CategoryID,
			ProblemID:  in.ProblemID,
			StoreID:    in.StoreID,
			AuthorID:   in.AuthorID,
			Title:      ticket.Title,
		},
	})
	return ticket, nil
}

// SaveAttachment downloads the file from Telegram and records it for the ticket.
func (s *Service) SaveAttachment(ctx context.Context, ticketID int64, att domain.Attachment) error {
	name := fmt.Sprintf("ticket_%d_%s.%s", ticketID, uuid.NewString(), extensionFor(att.Kind))
	path := filepath.Join(s.attachDir, name)

	if err := s.download(ctx, att.FileID, path); err != nil {
		return fmt.Errorf("attachment download: %w", err)
	}
	return s.tickets.AddAttachment(ctx, &domain.TicketAttachment{
		TicketID: ticketID,
		FileName: name,
		FilePath: path,
		Kind:     string(att.Kind),
		FileID:   att.FileID,
	})
}

func (s *Service) download(ctx context.Context, fileID, path string) error {
	src, err := s.client.DownloadFile(ctx, fileID)
	if err != nil {
		return err
	}
	defer src.Close()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	dst, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		_ = os.Remove(path)
		return err
	}
	return dst.Close()
}

func extensionFor(kind domain.AttachmentKind) string {
	switch kind {
	case domain.AttachmentPhoto:
		return "jpg"
	case domain.AttachmentVideo:
		return "mp4"
	case domain.AttachmentDocument:
		return "file"
	default:
		return "bin"
	}
}
