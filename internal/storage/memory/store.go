package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/xielinshan811-lab/svg-animate/internal/models"
	"github.com/xielinshan811-lab/svg-animate/internal/storage"
)

// Ensure Store satisfies the storage.Store interface at compile time.
var _ storage.Store = (*Store)(nil)

// Store is an in-memory implementation used when no database URL is
// configured, and by tests. The single mutex serializes balance adjustments,
// which is what gives AdjustBalance its per-user atomicity here.
type Store struct {
	mu      sync.Mutex
	users   map[string]models.User
	byEmail map[string]string
	ledger  map[string][]models.Transaction
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		users:   make(map[string]models.User),
		byEmail: make(map[string]string),
		ledger:  make(map[string][]models.Transaction),
	}
}

// Close is a no-op; it exists to satisfy storage.Store.
func (s *Store) Close() {}

// CreateUser inserts a new user, assigning its ID and creation time.
func (s *Store) CreateUser(ctx context.Context, user models.User) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byEmail[user.Email]; ok {
		return models.User{}, storage.ErrAlreadyExists
	}

	user.ID = uuid.NewString()
	user.CreatedAt = time.Now().UTC()
	s.users[user.ID] = user
	s.byEmail[user.Email] = user.ID
	return user, nil
}

// FindByEmail fetches a user by email address.
func (s *Store) FindByEmail(ctx context.Context, email string) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byEmail[email]
	if !ok {
		return models.User{}, storage.ErrNotFound
	}
	return s.users[id], nil
}

// FindByID fetches a user by ID.
func (s *Store) FindByID(ctx context.Context, id string) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[id]
	if !ok {
		return models.User{}, storage.ErrNotFound
	}
	return user, nil
}

// AdjustBalance applies delta to the user's balance and appends the matching
// ledger entry under one lock acquisition.
func (s *Store) AdjustBalance(ctx context.Context, userID string, delta int64, txType, note string) (models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[userID]
	if !ok {
		return models.Transaction{}, storage.ErrNotFound
	}

	newBalance := user.Credits + delta
	if newBalance < 0 {
		return models.Transaction{}, storage.ErrInsufficientBalance
	}

	user.Credits = newBalance
	s.users[userID] = user

	tx := models.Transaction{
		ID:        uuid.NewString(),
		UserID:    userID,
		Type:      txType,
		Amount:    delta,
		Balance:   newBalance,
		Note:      note,
		CreatedAt: time.Now().UTC(),
	}
	s.ledger[userID] = append(s.ledger[userID], tx)
	return tx, nil
}

// ListByUser returns the user's ledger entries, newest first.
func (s *Store) ListByUser(ctx context.Context, userID string) ([]models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.ledger[userID]
	out := make([]models.Transaction, len(entries))
	copy(out, entries)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}
