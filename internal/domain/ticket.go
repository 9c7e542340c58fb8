package domain

import "time"

// TicketStatus mirrors the reference status dictionary ids.
type TicketStatus int

const (
	StatusCreated    TicketStatus = 1
	StatusInProgress TicketStatus = 2
	StatusConfirmed  TicketStatus = 3
	StatusPostponed  TicketStatus = 4
	StatusCompleted  TicketStatus = 5
)

// Label returns the user-facing Russian status name.
func (s TicketStatus) Label() string {
	switch s {
	case StatusCreated:
		return "Создана"
	case StatusInProgress:
		return "В работе"
	case StatusConfirmed:
		return "Подтверждена"
	case StatusPostponed:
		return "Отложена"
	case StatusCompleted:
		return "Завершена"
	default:
		return "Неизвестно"
	}
}

// Ticket is a helpdesk request row.
type Ticket struct {
	ID          int64        `db:"id"`
	Title       string       `db:"title"`
	Description string       `db:"description"`
	Status      TicketStatus `db:"status_id"`
	CategoryID  int64        `db:"category_id"`
	ProblemID   *int64       `db:"problem_id"`
	StoreID     *int64       `db:"store_id"`
	AuthorID    int64        `db:"author_id"`
	ExecutorID  *int64       `db:"executor_id"`
	CreatedVia  string       `db:"created_via"`
	CreatedAt   time.Time    `db:"created_at"`
	UpdatedAt   time.Time    `db:"updated_at"`
}

// TicketAttachment is a file persisted for a ticket at finalization.
type TicketAttachment struct {
	ID        int64     `db:"id"`
	TicketID  int64     `db:"ticket_id"`
	FileName  string    `db:"file_name"`
	FilePath  string    `db:"file_path"`
	Kind      string    `db:"kind"`
	FileID    string    `db:"telegram_file_id"`
	CreatedAt time.Time `db:"created_at"`
}
