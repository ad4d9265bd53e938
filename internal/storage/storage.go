package storage

import (
	"context"
	"errors"

	"github.com/xielinshan811-lab/svg-animate/internal/models"
)

// ErrNotFound indicates a record does not exist.
var ErrNotFound = errors.New("record not found")

// ErrAlreadyExists indicates a uniqueness conflict.
var ErrAlreadyExists = errors.New("record already exists")

// ErrInsufficientBalance indicates a debit would drive the balance negative.
var ErrInsufficientBalance = errors.New("insufficient balance")

// UserStore captures user persistence operations needed by handlers.
type UserStore interface {
	CreateUser(ctx context.Context, user models.User) (models.User, error)
	FindByEmail(ctx context.Context, email string) (models.User, error)
	FindByID(ctx context.Context, id string) (models.User, error)
}

// LedgerStore captures the append-only transaction log. AdjustBalance applies
// the balance change and appends the matching ledger entry as one atomic unit
// per user: concurrent adjustments for the same user serialize, and a debit
// never persists a negative balance.
type LedgerStore interface {
	AdjustBalance(ctx context.Context, userID string, delta int64, txType, note string) (models.Transaction, error)
	ListByUser(ctx context.Context, userID string) ([]models.Transaction, error)
}

// Store is the full persistence surface. The backend is chosen once at
// startup: Postgres when a database URL is configured, in-memory otherwise.
type Store interface {
	UserStore
	LedgerStore
	Close()
}
