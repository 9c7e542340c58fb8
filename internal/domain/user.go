package domain

// User is an employee account bound to a Telegram identity.
type User struct {
	ID         int64  `db:"id"`
	Name       string `db:"name"`
	TelegramID int64  `db:"telegram_id"`
	// StoreID is the user's bound default store, if any. A bound store
	// skips the store selection step in the wizard.
	StoreID *int64 `db:"store_id"`
	// CategoryID is the user's default ticket category, if any. A bound
	// category skips the category selection step.
	CategoryID *int64 `db:"category_id"`
}
