package sequencer

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/lib/pq"

	"github.com/hashstyles/hashstyles/internal/docstore"
	"github.com/hashstyles/hashstyles/internal/domain"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type Credentials struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
}

func (c *Credentials) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		c.Host, c.Port, c.User, c.Password, c.DBName)
}

// PostgresSequencer locks the counter row with SELECT ... FOR UPDATE and
// writes the incremented value in the same transaction.
type PostgresSequencer struct {
	db    *sql.DB
	retry docstore.RetryPolicy
}

func NewPostgresSequencer(cred *Credentials, policy docstore.RetryPolicy) (*PostgresSequencer, error) {
	db, err := sql.Open("postgres", cred.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	return &PostgresSequencer{db: db, retry: policy}, nil
}

func (s *PostgresSequencer) RunMigrations() error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("could not open migrations: %w", err)
	}
	driver, err := postgres.WithInstance(s.db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("could not create migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("could not run migrations: %w", err)
	}
	return nil
}

func (s *PostgresSequencer) Next(ctx context.Context, prefix string) (string, error) {
	if prefix == "" {
		return "", fmt.Errorf("%w: empty prefix", domain.ErrValidation)
	}

	var next int64
	err := s.retry.Do(ctx, isRetryablePG, func() error {
		n, err := s.increment(ctx, prefix)
		if err != nil {
			return err
		}
		next = n
		return nil
	})
	if err != nil {
		return "", unavailable(err)
	}
	return Format(prefix, next), nil
}

func (s *PostgresSequencer) increment(ctx context.Context, prefix string) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var current int64
	err = tx.QueryRowContext(ctx,
		`SELECT seq FROM order_counters WHERE prefix = $1 FOR UPDATE`, prefix).Scan(&current)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		// a concurrent first insert surfaces as a unique violation and is retried
		_, err = tx.ExecContext(ctx,
			`INSERT INTO order_counters (prefix, seq) VALUES ($1, 1)`, prefix)
		if err != nil {
			return 0, fmt.Errorf("failed to create counter: %w", err)
		}
	case err != nil:
		return 0, fmt.Errorf("failed to lock counter: %w", err)
	default:
		_, err = tx.ExecContext(ctx,
			`UPDATE order_counters SET seq = $2, updated_at = NOW() WHERE prefix = $1`, prefix, current+1)
		if err != nil {
			return 0, fmt.Errorf("failed to update counter: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit counter: %w", err)
	}
	return current + 1, nil
}

// Current returns the stored counter value, zero when the prefix was never
// used.
func (s *PostgresSequencer) Current(ctx context.Context, prefix string) (int64, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx, `SELECT seq FROM order_counters WHERE prefix = $1`, prefix).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return seq, err
}

func (s *PostgresSequencer) Close() error {
	return s.db.Close()
}

func isRetryablePG(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	switch pqErr.Code {
	case "40001", "40P01", "23505":
		return true
	}
	return false
}
