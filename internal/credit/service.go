package credit

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/xielinshan811-lab/svg-animate/internal/models"
	"github.com/xielinshan811-lab/svg-animate/internal/storage"
	"github.com/xielinshan811-lab/svg-animate/pkg/metrics"
)

// Amount of credits gifted to every new account.
const SignupGift = 10

// Service is the only mutation path for balances and the ledger. Every grant
// and debit in the system goes through Adjust.
type Service struct {
	store storage.LedgerStore
	log   *logrus.Logger
}

// NewService initializes the credit service.
func NewService(store storage.LedgerStore, log *logrus.Logger) *Service {
	return &Service{store: store, log: log}
}

// Adjust applies delta to the user's balance and records the matching ledger
// entry. Debits that would drive the balance negative fail with
// storage.ErrInsufficientBalance and leave no trace in the ledger.
func (s *Service) Adjust(ctx context.Context, userID string, delta int64, txType, note string) (models.Transaction, error) {
	tx, err := s.store.AdjustBalance(ctx, userID, delta, txType, note)
	if err != nil {
		return models.Transaction{}, fmt.Errorf("adjust balance for user %s: %w", userID, err)
	}

	metrics.RecordTransaction(txType)
	s.log.WithFields(logrus.Fields{
		"user_id": userID,
		"type":    txType,
		"amount":  delta,
		"balance": tx.Balance,
	}).Info("balance adjusted")
	return tx, nil
}

// GrantSignupGift credits the welcome bonus to a freshly registered user.
func (s *Service) GrantSignupGift(ctx context.Context, userID string) (models.Transaction, error) {
	return s.Adjust(ctx, userID, SignupGift, models.TxGift, "signup gift")
}

// History returns the user's ledger entries, newest first.
func (s *Service) History(ctx context.Context, userID string) ([]models.Transaction, error) {
	return s.store.ListByUser(ctx, userID)
}
