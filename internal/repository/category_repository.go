package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"clearance-watch/internal/domain"
)

var (
	ErrCategoryStateNotFound = errors.New("category state not found")
)

// CategoryRepository stores the outcome of the last pass per category
type CategoryRepository interface {
	SaveState(ctx context.Context, state *domain.CategoryState) error
	List(ctx context.Context) ([]*domain.CategoryState, error)
	FindByCategory(ctx context.Context, category string) (*domain.CategoryState, error)
}

type categoryRepository struct {
	db *sql.DB
}

// NewCategoryRepository creates a new instance of CategoryRepository
func NewCategoryRepository(db *sql.DB) CategoryRepository {
	return &categoryRepository{db: db}
}

// SaveState upserts the latest pass outcome of a category
func (r *categoryRepository) SaveState(ctx context.Context, state *domain.CategoryState) error {
	query := `
		INSERT INTO category_states (category, last_pass_at, last_status, last_error,
		                             product_count, new_count, evicted_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (category) DO UPDATE
		SET last_pass_at = EXCLUDED.last_pass_at,
		    last_status = EXCLUDED.last_status,
		    last_error = EXCLUDED.last_error,
		    product_count = EXCLUDED.product_count,
		    new_count = EXCLUDED.new_count,
		    evicted_count = EXCLUDED.evicted_count
	`

	_, err := r.db.ExecContext(
		ctx,
		query,
		state.Category,
		state.LastPassAt.UTC(),
		state.LastStatus,
		state.LastError,
		state.ProductCount,
		state.NewCount,
		state.EvictedCount,
	)
	if err != nil {
		return fmt.Errorf("failed to save state of category %s: %w", state.Category, err)
	}

	return nil
}

// List retrieves the state of every category that has run at least once
func (r *categoryRepository) List(ctx context.Context) ([]*domain.CategoryState, error) {
	query := `
		SELECT category, last_pass_at, last_status, last_error, product_count, new_count, evicted_count
		FROM category_states
		ORDER BY category ASC
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list category states: %w", err)
	}
	defer rows.Close()

	states := []*domain.CategoryState{}
	for rows.Next() {
		state := &domain.CategoryState{}
		err := rows.Scan(
			&state.Category,
			&state.LastPassAt,
			&state.LastStatus,
			&state.LastError,
			&state.ProductCount,
			&state.NewCount,
			&state.EvictedCount,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan category state: %w", err)
		}
		states = append(states, state)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating category states: %w", err)
	}

	return states, nil
}

// FindByCategory retrieves the state of one category
func (r *categoryRepository) FindByCategory(ctx context.Context, category string) (*domain.CategoryState, error) {
	query := `
		SELECT category, last_pass_at, last_status, last_error, product_count, new_count, evicted_count
		FROM category_states
		WHERE category = $1
	`

	state := &domain.CategoryState{}
	err := r.db.QueryRowContext(ctx, query, category).Scan(
		&state.Category,
		&state.LastPassAt,
		&state.LastStatus,
		&state.LastError,
		&state.ProductCount,
		&state.NewCount,
		&state.EvictedCount,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCategoryStateNotFound
		}
		return nil, fmt.Errorf("failed to find state of category %s: %w", category, err)
	}

	return state, nil
}
