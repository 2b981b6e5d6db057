// Package catalog is the read side of the product collection plus the admin
// path that creates products.
package catalog

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	sqlitedrv "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/hashstyles/hashstyles/internal/domain"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// NewInCount is the size of the "New In" shelf on the home screen.
const NewInCount = 12

var ErrDuplicateSlug = errors.New("slug already taken")

type ListOptions struct {
	Category string
	Limit    int
}

type SQLiteCatalog struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLiteCatalog(dbPath string) (*SQLiteCatalog, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// one connection keeps ":memory:" databases shared and serializes writers
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &SQLiteCatalog{db: db, now: time.Now}, nil
}

func (c *SQLiteCatalog) RunMigrations() error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("could not open migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(c.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("could not create migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("could not run migrations: %w", err)
	}
	return nil
}

func (c *SQLiteCatalog) Close() error {
	return c.db.Close()
}

const selectProduct = `
	SELECT id, title, slug, description, price, images, category, sizes, created_at
	FROM products`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (*domain.Product, error) {
	var (
		p              domain.Product
		price          string
		images, sizes  string
		createdAtMilli int64
	)
	if err := row.Scan(&p.ID, &p.Title, &p.Slug, &p.Description, &price, &images, &p.Category, &sizes, &createdAtMilli); err != nil {
		return nil, err
	}

	var err error
	if p.Price, err = decimal.NewFromString(price); err != nil {
		return nil, fmt.Errorf("bad price for product %s: %w", p.ID, err)
	}
	if err := json.Unmarshal([]byte(images), &p.Images); err != nil {
		return nil, fmt.Errorf("bad images for product %s: %w", p.ID, err)
	}
	if err := json.Unmarshal([]byte(sizes), &p.Sizes); err != nil {
		return nil, fmt.Errorf("bad sizes for product %s: %w", p.ID, err)
	}
	p.CreatedAt = time.UnixMilli(createdAtMilli).UTC()
	return &p, nil
}

func (c *SQLiteCatalog) getOne(ctx context.Context, where string, arg any) (*domain.Product, error) {
	p, err := scanProduct(c.db.QueryRowContext(ctx, selectProduct+" WHERE "+where, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: product %v", domain.ErrNotFound, arg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query product: %w", err)
	}
	return p, nil
}

func (c *SQLiteCatalog) Get(ctx context.Context, id string) (*domain.Product, error) {
	return c.getOne(ctx, "id = ?", id)
}

func (c *SQLiteCatalog) GetBySlug(ctx context.Context, slug string) (*domain.Product, error) {
	return c.getOne(ctx, "slug = ?", slug)
}

// GetBySlugs returns the products for slugs in the given order, skipping
// slugs that no longer resolve.
func (c *SQLiteCatalog) GetBySlugs(ctx context.Context, slugs []string) ([]domain.Product, error) {
	if len(slugs) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(slugs)), ",")
	args := make([]any, len(slugs))
	for i, s := range slugs {
		args[i] = s
	}

	rows, err := c.db.QueryContext(ctx, selectProduct+" WHERE slug IN ("+placeholders+")", args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}
	defer rows.Close()

	bySlug := make(map[string]domain.Product, len(slugs))
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		bySlug[p.Slug] = *p
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	out := make([]domain.Product, 0, len(bySlug))
	for _, s := range slugs {
		if p, ok := bySlug[s]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

// List returns products newest first.
func (c *SQLiteCatalog) List(ctx context.Context, opts ListOptions) ([]domain.Product, error) {
	query := selectProduct
	var args []any
	if opts.Category != "" {
		query += " WHERE category = ?"
		args = append(args, opts.Category)
	}
	query += " ORDER BY created_at DESC, id"
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}
	defer rows.Close()

	var products []domain.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		products = append(products, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return products, nil
}

// Create inserts p, filling in a missing id, slug or creation time.
func (c *SQLiteCatalog) Create(ctx context.Context, p *domain.Product) error {
	if strings.TrimSpace(p.Title) == "" {
		return fmt.Errorf("%w: product title is required", domain.ErrValidation)
	}
	if p.Price.IsNegative() {
		return fmt.Errorf("%w: price must not be negative", domain.ErrValidation)
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Slug == "" {
		p.Slug = Slugify(p.Title)
	}
	if p.Slug == "" {
		return fmt.Errorf("%w: title %q yields an empty slug", domain.ErrValidation, p.Title)
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = c.now().UTC()
	}
	if p.Images == nil {
		p.Images = []string{}
	}

	images, err := json.Marshal(p.Images)
	if err != nil {
		return fmt.Errorf("failed to encode images: %w", err)
	}
	sizes, err := json.Marshal(nonNil(p.Sizes))
	if err != nil {
		return fmt.Errorf("failed to encode sizes: %w", err)
	}

	_, err = c.db.ExecContext(ctx, `
		INSERT INTO products (id, title, slug, description, price, images, category, sizes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Title, p.Slug, p.Description, p.Price.String(), string(images), p.Category, string(sizes), p.CreatedAt.UnixMilli())
	if err != nil {
		var se *sqlitedrv.Error
		if errors.As(err, &se) && (se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE || se.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY) {
			return fmt.Errorf("%w: %w: %s", domain.ErrValidation, ErrDuplicateSlug, p.Slug)
		}
		return fmt.Errorf("failed to insert product: %w", err)
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
