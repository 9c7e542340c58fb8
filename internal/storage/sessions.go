package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/storedesk/ticketbot/internal/domain"
)

// Sessions persists wizard state in telegram_sessions, one row per user.
type Sessions struct {
	db  *sqlx.DB
	ttl time.Duration
}

func NewSessions(db *sqlx.DB, ttl time.Duration) *Sessions {
	return &Sessions{db: db, ttl: ttl}
}

type sessionRow struct {
	UserID    int64         `db:"user_id"`
	ChatID    int64         `db:"chat_id"`
	Step      string        `db:"step"`
	Data      []byte        `db:"data"`
	MessageID sql.NullInt64 `db:"message_id"`
	ExpiresAt time.Time     `db:"expires_at"`
	UpdatedAt time.Time     `db:"updated_at"`
}

func (r sessionRow) toDomain() (*domain.Session, error) {
	s := &domain.Session{
		UserID:    r.UserID,
		ChatID:    r.ChatID,
		Step:      domain.Step(r.Step),
		ExpiresAt: r.ExpiresAt,
		UpdatedAt: r.UpdatedAt,
	}
	if len(r.Data) > 0 {
		if err := json.Unmarshal(r.Data, &s.Data); err != nil {
			return nil, fmt.Errorf("session data decode: %w", err)
		}
	}
	if r.MessageID.Valid {
		id := int(r.MessageID.Int64)
		s.MessageID = &id
	}
	return s, nil
}

// Get returns the user's session or nil when none exists.
func (s *Sessions) Get(ctx context.Context, userID int64) (*domain.Session, error) {
	var row sessionRow
	err := s.db.GetContext(ctx, &row,
		`SELECT user_id, chat_id, step, data, message_id, expires_at, updated_at
		 FROM telegram_sessions WHERE user_id = $1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("session get: %w", err)
	}
	return row.toDomain()
}

// Reset replaces any existing session with a fresh idle one.
func (s *Sessions) Reset(ctx context.Context, userID, chatID int64) (*domain.Session, error) {
	now := time.Now()
	exp := now.Add(s.ttl)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO telegram_sessions (user_id, chat_id, step, data, message_id, expires_at, updated_at)
		 VALUES ($1, $2, $3, '{}', NULL, $4, $5)
		 ON CONFLICT (user_id) DO UPDATE
		 SET chat_id = $2, step = $3, data = '{}', message_id = NULL, expires_at = $4, updated_at = $5`,
		userID, chatID, string(domain.StepIdle), exp, now)
	if err != nil {
		return nil, fmt.Errorf("session reset: %w", err)
	}
	return &domain.Session{UserID: userID, ChatID: chatID, Step: domain.StepIdle, ExpiresAt: exp, UpdatedAt: now}, nil
}

// SetStep advances the wizard position and refreshes the TTL.
func (s *Sessions) SetStep(ctx context.Context, userID int64, step domain.Step) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE telegram_sessions SET step = $2, expires_at = $3, updated_at = $4 WHERE user_id = $1`,
		userID, string(step), time.Now().Add(s.ttl), time.Now())
	if err != nil {
		return fmt.Errorf("session set step: %w", err)
	}
	return requireRow(res)
}

// SetMessageID records the editable prompt message.
func (s *Sessions) SetMessageID(ctx context.Context, userID int64, messageID int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE telegram_sessions SET message_id = $2, updated_at = $3 WHERE user_id = $1`,
		userID, messageID, time.Now())
	if err != nil {
		return fmt.Errorf("session set message: %w", err)
	}
	return requireRow(res)
}

// MergeData reloads the session row under a lock, merges the patch into
// the freshly read data, and writes the result back. Concurrent updates
// from media uploads cannot clobber each other this way.
func (s *Sessions) MergeData(ctx context.Context, userID int64, patch domain.SessionData) (*domain.Session, error) {
	var merged *domain.Session
	err := InTx(ctx, s.db, func(tx *sqlx.Tx) error {
		var row sessionRow
		err := tx.GetContext(ctx, &row,
			`SELECT user_id, chat_id, step, data, message_id, expires_at, updated_at
			 FROM telegram_sessions WHERE user_id = $1 FOR UPDATE`, userID)
		if err != nil {
			return wrapNotFound(err)
		}
		cur, err := row.toDomain()
		if err != nil {
			return err
		}
		cur.Data = cur.Data.Merge(patch)
		raw, err := json.Marshal(cur.Data)
		if err != nil {
			return fmt.Errorf("session data encode: %w", err)
		}
		now := time.Now()
		cur.ExpiresAt = now.Add(s.ttl)
		cur.UpdatedAt = now
		_, err = tx.ExecContext(ctx,
			`UPDATE telegram_sessions SET data = $2, expires_at = $3, updated_at = $4 WHERE user_id = $1`,
			userID, raw, cur.ExpiresAt, now)
		if err != nil {
			return fmt.Errorf("session merge write: %w", err)
		}
		merged = cur
		return nil
	})
	if err != nil {
		return nil, err
	}
	return merged, nil
}

// Clear returns the session to idle and drops collected data.
func (s *Sessions) Clear(ctx context.Context, userID int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE telegram_sessions
		 SET step = $2, data = '{}', message_id = NULL, updated_at = $3
		 WHERE user_id = $1`,
		userID, string(domain.StepIdle), time.Now())
	if err != nil {
		return fmt.Errorf("session clear: %w", err)
	}
	return nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
