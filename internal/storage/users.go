package storage

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/storedesk/ticketbot/internal/domain"
)

// Users resolves employee accounts and executor bindings.
type Users struct {
	db *sqlx.DB
}

func NewUsers(db *sqlx.DB) *Users {
	return &Users{db: db}
}

// ByTelegramID resolves an employee by Telegram identity.
func (u *Users) ByTelegramID(ctx context.Context, telegramID int64) (*domain.User, error) {
	var user domain.User
	err := u.db.GetContext(ctx, &user,
		`SELECT id, name, telegram_id, store_id, category_id FROM users WHERE telegram_id = $1`, telegramID)
	if err != nil {
		return nil, wrapNotFound(fmt.Errorf("user by telegram id: %w", err))
	}
	return &user, nil
}

// ByID resolves an employee by primary key.
func (u *Users) ByID(ctx context.Context, id int64) (*domain.User, error) {
	var user domain.User
	err := u.db.GetContext(ctx, &user,
		`SELECT id, name, telegram_id, store_id, category_id FROM users WHERE id = $1`, id)
	if err != nil {
		return nil, wrapNotFound(fmt.Errorf("user by id: %w", err))
	}
	return &user, nil
}

// IsActiveExecutor reports whether the user actively works the category.
func (u *Users) IsActiveExecutor(ctx context.Context, userID, categoryID int64) (bool, error) {
	var active bool
	err := u.db.GetContext(ctx, &active,
		`SELECT EXISTS (
		   SELECT 1 FROM category_executors
		   WHERE user_id = $1 AND category_id = $2 AND is_active
		 )`, userID, categoryID)
	if err != nil {
		return false, fmt.Errorf("executor check: %w", err)
	}
	return active, nil
}

// ActiveExecutorsForCategory lists every active executor of the category.
func (u *Users) ActiveExecutorsForCategory(ctx context.Context, categoryID int64) ([]domain.User, error) {
	var users []domain.User
	err := u.db.SelectContext(ctx, &users,
		`SELECT u.id, u.name, u.telegram_id, u.store_id, u.category_id
		 FROM users u
		 JOIN category_executors ce ON ce.user_id = u.id
		 WHERE ce.category_id = $1 AND ce.is_active
		 ORDER BY u.id`, categoryID)
	if err != nil {
		return nil, fmt.Errorf("executors for category: %w", err)
	}
	return users, nil
}
