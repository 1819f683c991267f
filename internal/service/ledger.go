// Package service provides business logic implementations.
package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"discord-lottery-bot/internal/model"
	"discord-lottery-bot/internal/pkg/lock"
	"discord-lottery-bot/internal/repository"
)

// Ledger-related errors.
var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvalidAmount       = errors.New("invalid amount: must be positive")
	ErrSelfTransfer        = errors.New("cannot transfer to self")
)

// LedgerService handles skull balance operations. The database transaction
// inside the repository is the durability boundary for transfers; the
// per-user lock only serializes in-process flows (ticket purchases) that do
// a read before deciding to debit.
type LedgerService struct {
	ledgerRepo *repository.LedgerRepository
	txRepo     *repository.TransactionRepository
	userLock   *lock.UserLock
}

// NewLedgerService creates a new LedgerService instance.
func NewLedgerService(
	ledgerRepo *repository.LedgerRepository,
	txRepo *repository.TransactionRepository,
	userLock *lock.UserLock,
) *LedgerService {
	return &LedgerService{
		ledgerRepo: ledgerRepo,
		txRepo:     txRepo,
		userLock:   userLock,
	}
}

// GetBalance retrieves a user's current skull balance. Unknown users have a
// zero balance.
func (s *LedgerService) GetBalance(ctx context.Context, userID string) (int64, error) {
	balance, err := s.ledgerRepo.GetBalance(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to get balance: %w", err)
	}
	return balance, nil
}

// Grant credits skulls to a user, creating the account if absent. Returns
// the new balance. Callers are responsible for exactly-once invocation;
// repeated grants add repeatedly.
func (s *LedgerService) Grant(ctx context.Context, userID string, amount int64, description string) (int64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}

	balance, err := s.ledgerRepo.Credit(ctx, userID, amount)
	if err != nil {
		return 0, fmt.Errorf("failed to grant skulls: %w", err)
	}

	s.record(ctx, userID, amount, model.TxTypeGrant, description)

	return balance, nil
}

// Spend debits skulls from a user. Returns ErrInsufficientBalance when the
// balance is short; the account is left untouched in that case.
func (s *LedgerService) Spend(ctx context.Context, userID string, amount int64, txType, description string) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}

	ok, err := s.ledgerRepo.Debit(ctx, userID, amount)
	if err != nil {
		return fmt.Errorf("failed to spend skulls: %w", err)
	}
	if !ok {
		return ErrInsufficientBalance
	}

	s.record(ctx, userID, -amount, txType, description)

	return nil
}

// Transfer moves skulls from one user to another. The debit and credit are
// atomic: the repository runs both inside a single database transaction, so
// either both apply or neither does. Insufficient balance is reported as
// ErrInsufficientBalance without touching either account.
func (s *LedgerService) Transfer(ctx context.Context, fromID, toID string, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	if fromID == toID {
		return ErrSelfTransfer
	}

	var ok bool
	err := s.userLock.WithPairLock(fromID, toID, func() error {
		var err error
		ok, err = s.ledgerRepo.Transfer(ctx, fromID, toID, amount)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to transfer skulls: %w", err)
	}
	if !ok {
		return ErrInsufficientBalance
	}

	s.record(ctx, fromID, -amount, model.TxTypeTransfer, fmt.Sprintf("transfer to %s", toID))
	s.record(ctx, toID, amount, model.TxTypeTransfer, fmt.Sprintf("transfer from %s", fromID))

	return nil
}

// Leaderboard retrieves the top accounts by balance.
func (s *LedgerService) Leaderboard(ctx context.Context, limit int) ([]*model.SkullAccount, error) {
	return s.ledgerRepo.GetTopBalances(ctx, limit)
}

// History retrieves a user's most recent transactions.
func (s *LedgerService) History(ctx context.Context, userID string, limit int) ([]*model.Transaction, error) {
	return s.txRepo.GetByUserID(ctx, userID, limit)
}

// record writes a history row. The balance mutation already committed, so a
// failed history insert is logged and dropped rather than unwinding it.
func (s *LedgerService) record(ctx context.Context, userID string, amount int64, txType, description string) {
	var desc *string
	if description != "" {
		desc = &description
	}
	if _, err := s.txRepo.Create(ctx, userID, amount, txType, desc); err != nil {
		log.Warn().Err(err).Str("user_id", userID).Str("type", txType).
			Msg("Failed to record skull transaction")
	}
}
