package storage

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/storedesk/ticketbot/internal/domain"
)

// Dictionaries serves the reference data the wizard prompts are built from.
type Dictionaries struct {
	db *sqlx.DB
}

func NewDictionaries(db *sqlx.DB) *Dictionaries {
	return &Dictionaries{db: db}
}

func (d *Dictionaries) Stores(ctx context.Context) ([]domain.Store, error) {
	var out []domain.Store
	err := d.db.SelectContext(ctx, &out, `SELECT id, name FROM stores ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("stores: %w", err)
	}
	return out, nil
}

func (d *Dictionaries) StoreByID(ctx context.Context, id int64) (*domain.Store, error) {
	var s domain.Store
	err := d.db.GetContext(ctx, &s, `SELECT id, name FROM stores WHERE id = $1`, id)
	if err != nil {
		return nil, wrapNotFound(fmt.Errorf("store by id: %w", err))
	}
	return &s, nil
}

func (d *Dictionaries) Categories(ctx context.Context) ([]domain.Category, error) {
	var out []domain.Category
	err := d.db.SelectContext(ctx, &out,
		`SELECT id, name, requires_store FROM ticket_categories ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("categories: %w", err)
	}
	return out, nil
}

func (d *Dictionaries) CategoryByID(ctx context.Context, id int64) (*domain.Category, error) {
	var c domain.Category
	err := d.db.GetContext(ctx, &c,
		`SELECT id, name, requires_store FROM ticket_categories WHERE id = $1`, id)
	if err != nil {
		return nil, wrapNotFound(fmt.Errorf("category by id: %w", err))
	}
	return &c, nil
}

func (d *Dictionaries) Problems(ctx context.Context, categoryID int64) ([]domain.Problem, error) {
	var out []domain.Problem
	err := d.db.SelectContext(ctx, &out,
		`SELECT id, category_id, name FROM problems WHERE category_id = $1 ORDER BY id`, categoryID)
	if err != nil {
		return nil, fmt.Errorf("problems: %w", err)
	}
	return out, nil
}

func (d *Dictionaries) ProblemByID(ctx context.Context, id int64) (*domain.Problem, error) {
	var p domain.Problem
	err := d.db.GetContext(ctx, &p,
		`SELECT id, category_id, name FROM problems WHERE id = $1`, id)
	if err != nil {
		return nil, wrapNotFound(fmt.Errorf("problem by id: %w", err))
	}
	return &p, nil
}
