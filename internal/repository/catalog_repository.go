package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"clearance-watch/internal/domain"
)

var (
	ErrProductNotFound = errors.New("product not found")
)

// CatalogRepository defines the persistent catalog store. Every write is an
// upsert; there is no separate create/update.
type CatalogRepository interface {
	UpsertProduct(ctx context.Context, product *domain.Product) error
	UpsertProducts(ctx context.Context, products []domain.Product) error
	ExistingCodes(ctx context.Context, codes []string) (map[string]struct{}, error)
	CodesByCategory(ctx context.Context, category string) (map[string]struct{}, error)
	EvictOlderThan(ctx context.Context, threshold time.Time) ([]string, error)
	FindByCode(ctx context.Context, articleCode string) (*domain.Product, error)
}

type catalogRepository struct {
	db *sql.DB
}

// NewCatalogRepository creates a new instance of CatalogRepository
func NewCatalogRepository(db *sql.DB) CatalogRepository {
	return &catalogRepository{db: db}
}

// UpsertProduct replaces a product and its variants in one transaction.
// The stored category of an existing article is never changed.
func (r *catalogRepository) UpsertProduct(ctx context.Context, product *domain.Product) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO products (article_code, category, image_src, product_url, title,
		                      regular_price, discount_price, discount_percentage, last_seen)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (article_code) DO UPDATE
		SET image_src = EXCLUDED.image_src,
		    product_url = EXCLUDED.product_url,
		    title = EXCLUDED.title,
		    regular_price = EXCLUDED.regular_price,
		    discount_price = EXCLUDED.discount_price,
		    discount_percentage = EXCLUDED.discount_percentage,
		    last_seen = EXCLUDED.last_seen
	`

	_, err = tx.ExecContext(
		ctx,
		query,
		product.ArticleCode,
		product.Category,
		product.ImageSrc,
		product.ProductURL,
		product.Title,
		product.RegularPrice,
		product.DiscountPrice,
		product.DiscountPercentage,
		product.LastSeen.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert product %s: %w", product.ArticleCode, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM variants WHERE article_code = $1`, product.ArticleCode); err != nil {
		return fmt.Errorf("failed to clear variants of %s: %w", product.ArticleCode, err)
	}

	for i, v := range product.Variants {
		_, err := tx.ExecContext(
			ctx,
			`INSERT INTO variants (article_code, size_code, name, availability, position)
			 VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (article_code, size_code) DO UPDATE
			 SET name = EXCLUDED.name, availability = EXCLUDED.availability, position = EXCLUDED.position`,
			product.ArticleCode,
			v.SizeCode,
			v.Name,
			int(v.Availability),
			i,
		)
		if err != nil {
			return fmt.Errorf("failed to insert variant %s/%s: %w", product.ArticleCode, v.SizeCode, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit product %s: %w", product.ArticleCode, err)
	}

	return nil
}

// UpsertProducts upserts each product in its own transaction and stops at
// the first failure; products written before it stay committed.
func (r *catalogRepository) UpsertProducts(ctx context.Context, products []domain.Product) error {
	for i := range products {
		if err := r.UpsertProduct(ctx, &products[i]); err != nil {
			return err
		}
	}
	return nil
}

// ExistingCodes returns the subset of codes already stored
func (r *catalogRepository) ExistingCodes(ctx context.Context, codes []string) (map[string]struct{}, error) {
	existing := make(map[string]struct{})
	if len(codes) == 0 {
		return existing, nil
	}

	rows, err := r.db.QueryContext(ctx, `SELECT article_code FROM products WHERE article_code = ANY($1)`, codes)
	if err != nil {
		return nil, fmt.Errorf("failed to query existing codes: %w", err)
	}
	defer rows.Close()

	return scanCodes(rows, existing)
}

// CodesByCategory returns every stored article code of a category
func (r *catalogRepository) CodesByCategory(ctx context.Context, category string) (map[string]struct{}, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT article_code FROM products WHERE category = $1`, category)
	if err != nil {
		return nil, fmt.Errorf("failed to query codes of category %s: %w", category, err)
	}
	defer rows.Close()

	return scanCodes(rows, make(map[string]struct{}))
}

// EvictOlderThan deletes products last seen strictly before threshold.
// Variants go with them through the cascading foreign key.
func (r *catalogRepository) EvictOlderThan(ctx context.Context, threshold time.Time) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`DELETE FROM products WHERE last_seen < $1 RETURNING article_code`,
		threshold.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to evict products: %w", err)
	}
	defer rows.Close()

	evicted := []string{}
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, fmt.Errorf("failed to scan evicted code: %w", err)
		}
		evicted = append(evicted, code)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating evicted codes: %w", err)
	}

	return evicted, nil
}

// FindByCode loads a product with its variants in stored order
func (r *catalogRepository) FindByCode(ctx context.Context, articleCode string) (*domain.Product, error) {
	query := `
		SELECT article_code, category, image_src, product_url, title,
		       regular_price, discount_price, discount_percentage, last_seen
		FROM products
		WHERE article_code = $1
	`

	product := &domain.Product{}
	err := r.db.QueryRowContext(ctx, query, articleCode).Scan(
		&product.ArticleCode,
		&product.Category,
		&product.ImageSrc,
		&product.ProductURL,
		&product.Title,
		&product.RegularPrice,
		&product.DiscountPrice,
		&product.DiscountPercentage,
		&product.LastSeen,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrProductNotFound
		}
		return nil, fmt.Errorf("failed to find product %s: %w", articleCode, err)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT size_code, name, availability FROM variants WHERE article_code = $1 ORDER BY position`,
		articleCode,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load variants of %s: %w", articleCode, err)
	}
	defer rows.Close()

	for rows.Next() {
		var v domain.Variant
		var availability int
		if err := rows.Scan(&v.SizeCode, &v.Name, &availability); err != nil {
			return nil, fmt.Errorf("failed to scan variant: %w", err)
		}
		v.Availability = domain.Availability(availability)
		product.Variants = append(product.Variants, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating variants: %w", err)
	}

	return product, nil
}

func scanCodes(rows *sql.Rows, into map[string]struct{}) (map[string]struct{}, error) {
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, fmt.Errorf("failed to scan article code: %w", err)
		}
		into[code] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating article codes: %w", err)
	}
	return into, nil
}
