package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xielinshan811-lab/svg-animate/internal/models"
	"github.com/xielinshan811-lab/svg-animate/internal/storage"
)

// Ensure Store satisfies the storage.Store interface at compile time.
var _ storage.Store = (*Store)(nil)

// Store provides Postgres-backed persistence for users and the credit ledger.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to Postgres and runs migrations.
func NewStore(ctx context.Context, databaseURL string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	s := &Store{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return s, nil
}

// Close releases database resources.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func (s *Store) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			email TEXT UNIQUE NOT NULL,
			name TEXT NOT NULL,
			credits BIGINT NOT NULL DEFAULT 0 CHECK (credits >= 0),
			password_hash TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`,
		`CREATE TABLE IF NOT EXISTS transactions (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL REFERENCES users(id),
			type TEXT NOT NULL,
			amount BIGINT NOT NULL,
			balance BIGINT NOT NULL,
			note TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`,
		`CREATE INDEX IF NOT EXISTS transactions_user_created_idx ON transactions (user_id, created_at DESC);`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply migrations: %w", err)
		}
	}
	return nil
}

// CreateUser inserts a new user row.
func (s *Store) CreateUser(ctx context.Context, user models.User) (models.User, error) {
	const query = `
		INSERT INTO users (id, email, name, credits, password_hash)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, email, name, credits, password_hash, created_at;`
	row := s.pool.QueryRow(ctx, query, uuid.NewString(), user.Email, user.Name, user.Credits, user.PasswordHash)
	created, err := scanUser(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return models.User{}, storage.ErrAlreadyExists
		}
		return models.User{}, err
	}
	return created, nil
}

// FindByEmail fetches a user by email address.
func (s *Store) FindByEmail(ctx context.Context, email string) (models.User, error) {
	const query = `
		SELECT id, email, name, credits, password_hash, created_at
		FROM users WHERE email = $1;`
	return scanUser(s.pool.QueryRow(ctx, query, email))
}

// FindByID fetches a user by ID.
func (s *Store) FindByID(ctx context.Context, id string) (models.User, error) {
	const query = `
		SELECT id, email, name, credits, password_hash, created_at
		FROM users WHERE id = $1;`
	return scanUser(s.pool.QueryRow(ctx, query, id))
}

// AdjustBalance updates the balance and appends the ledger row in one
// transaction. The balance update is a single conditional UPDATE, so two
// concurrent debits can never both read the same starting balance.
func (s *Store) AdjustBalance(ctx context.Context, userID string, delta int64, txType, note string) (models.Transaction, error) {
	dbTx, err := s.pool.Begin(ctx)
	if err != nil {
		return models.Transaction{}, fmt.Errorf("begin adjustment: %w", err)
	}
	defer dbTx.Rollback(ctx)

	const update = `
		UPDATE users SET credits = credits + $1
		WHERE id = $2 AND credits + $1 >= 0
		RETURNING credits;`
	var newBalance int64
	if err := dbTx.QueryRow(ctx, update, delta, userID).Scan(&newBalance); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Transaction{}, s.classifyAdjustFailure(ctx, userID)
		}
		return models.Transaction{}, fmt.Errorf("update balance: %w", err)
	}

	entry := models.Transaction{
		ID:      uuid.NewString(),
		UserID:  userID,
		Type:    txType,
		Amount:  delta,
		Balance: newBalance,
		Note:    note,
	}
	const insert = `
		INSERT INTO transactions (id, user_id, type, amount, balance, note)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at;`
	if err := dbTx.QueryRow(ctx, insert, entry.ID, entry.UserID, entry.Type, entry.Amount, entry.Balance, entry.Note).Scan(&entry.CreatedAt); err != nil {
		return models.Transaction{}, fmt.Errorf("append ledger entry: %w", err)
	}

	if err := dbTx.Commit(ctx); err != nil {
		return models.Transaction{}, fmt.Errorf("commit adjustment: %w", err)
	}
	return entry, nil
}

// classifyAdjustFailure distinguishes a missing user from a balance that the
// conditional update refused to drive negative.
func (s *Store) classifyAdjustFailure(ctx context.Context, userID string) error {
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1);`, userID).Scan(&exists); err != nil {
		return fmt.Errorf("check user: %w", err)
	}
	if !exists {
		return storage.ErrNotFound
	}
	return storage.ErrInsufficientBalance
}

// ListByUser returns the user's ledger entries, newest first.
func (s *Store) ListByUser(ctx context.Context, userID string) ([]models.Transaction, error) {
	const query = `
		SELECT id, user_id, type, amount, balance, note, created_at
		FROM transactions
		WHERE user_id = $1
		ORDER BY created_at DESC, id;`
	rows, err := s.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var out []models.Transaction
	for rows.Next() {
		var tx models.Transaction
		if err := rows.Scan(&tx.ID, &tx.UserID, &tx.Type, &tx.Amount, &tx.Balance, &tx.Note, &tx.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

func scanUser(row pgx.Row) (models.User, error) {
	var user models.User
	if err := row.Scan(&user.ID, &user.Email, &user.Name, &user.Credits, &user.PasswordHash, &user.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.User{}, storage.ErrNotFound
		}
		return models.User{}, err
	}
	return user, nil
}
