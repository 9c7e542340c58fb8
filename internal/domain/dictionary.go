package domain

// Store is a retail location employees report from.
type Store struct {
	ID   int64  `db:"id"`
	Name string `db:"name"`
}

// Category is a ticket category. RequiresStore marks the category whose
// tickets must be pinned to a specific store.
type Category struct {
	ID            int64  `db:"id"`
	Name          string `db:"name"`
	RequiresStore bool   `db:"requires_store"`
}

// Problem is a predefined problem kind within a category.
type Problem struct {
	ID         int64  `db:"id"`
	CategoryID int64  `db:"category_id"`
	Name       string `db:"name"`
}
