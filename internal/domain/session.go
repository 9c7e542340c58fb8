// Package domain holds the core types shared by storage, wizard, and
// workflow: sessions, tickets, users, and reference dictionaries.
package domain

import "time"

// Step is a wizard position. Stored as text in telegram_sessions.
type Step string

const (
	StepIdle             Step = "idle"
	StepSelectCategory   Step = "select_category"
	StepSelectStore      Step = "select_store"
	StepSelectProblem    Step = "select_problem"
	StepEnterDescription Step = "enter_description"
	StepUploadFile       Step = "upload_file"
	StepConfirm          Step = "confirm"
)

// Progress returns the cosmetic completion fraction shown in the prompt.
func (s Step) Progress() float64 {
	switch s {
	case StepSelectStore:
		return 0.1
	case StepSelectCategory:
		return 0.3
	case StepSelectProblem:
		return 0.5
	case StepEnterDescription:
		return 0.7
	case StepUploadFile:
		return 0.85
	case StepConfirm:
		return 0.95
	default:
		return 0
	}
}

// AttachmentKind classifies an uploaded media item.
type AttachmentKind string

const (
	AttachmentPhoto    AttachmentKind = "photo"
	AttachmentVideo    AttachmentKind = "video"
	AttachmentDocument AttachmentKind = "document"
)

// Attachment references a file stored on Telegram servers, collected
// during the wizard and downloaded at finalization.
type Attachment struct {
	FileID string         `json:"file_id"`
	Kind   AttachmentKind `json:"kind"`
	Size   int64          `json:"size,omitempty"`
	Name   string         `json:"name,omitempty"`
	MIME   string         `json:"mime,omitempty"`
}

// SessionData is the state collected by the wizard.
type SessionData struct {
	StoreID     *int64       `json:"store_id,omitempty"`
	CategoryID  *int64       `json:"category_id,omitempty"`
	ProblemID   *int64       `json:"problem_id,omitempty"`
	Description string       `json:"description,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Merge overlays non-zero fields of other onto a copy of d.
// Attachments are appended, not replaced.
func (d SessionData) Merge(other SessionData) SessionData {
	out := d
	if other.StoreID != nil {
		out.StoreID = other.StoreID
	}
	if other.CategoryID != nil {
		out.CategoryID = other.CategoryID
	}
	if other.ProblemID != nil {
		out.ProblemID = other.ProblemID
	}
	if other.Description != "" {
		out.Description = other.Description
	}
	if len(other.Attachments) > 0 {
		out.Attachments = append(append([]Attachment(nil), d.Attachments...), other.Attachments...)
	}
	return out
}

// Session is the single live wizard state for a Telegram user.
type Session struct {
	UserID    int64
	ChatID    int64
	Step      Step
	Data      SessionData
	MessageID *int
	ExpiresAt time.Time
	UpdatedAt time.Time
}

// Expired reports whether the session data has outlived its TTL.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

// Active reports whether the wizard is mid-flight.
func (s *Session) Active() bool {
	return s != nil && s.Step != "" && s.Step != StepIdle
}
