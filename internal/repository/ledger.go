// Package repository provides data access layer implementations.
package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"discord-lottery-bot/internal/model"
)

// LedgerRepository handles skull account persistence. Accounts are created
// implicitly on first credit; a missing account reads as a zero balance.
type LedgerRepository struct {
	pool *pgxpool.Pool
}

// NewLedgerRepository creates a new LedgerRepository instance.
func NewLedgerRepository(pool *pgxpool.Pool) *LedgerRepository {
	return &LedgerRepository{pool: pool}
}

// GetBalance returns the skull balance for a user. A missing account
// returns 0 without error.
func (r *LedgerRepository) GetBalance(ctx context.Context, userID string) (int64, error) {
	const query = `SELECT balance FROM skulls WHERE user_id = $1`

	var balance int64
	err := r.pool.QueryRow(ctx, query, userID).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get balance: %w", err)
	}

	return balance, nil
}

// Credit adds skulls to a user's account, creating it if absent.
// Returns the new balance.
func (r *LedgerRepository) Credit(ctx context.Context, userID string, amount int64) (int64, error) {
	const query = `
		INSERT INTO skulls (user_id, balance)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET balance = skulls.balance + $2
		RETURNING balance
	`

	var balance int64
	err := r.pool.QueryRow(ctx, query, userID, amount).Scan(&balance)
	if err != nil {
		return 0, fmt.Errorf("failed to credit skulls: %w", err)
	}

	return balance, nil
}

// Debit removes skulls from a user's account. The balance guard lives in
// the WHERE clause so the check and the decrement are a single statement;
// a short balance leaves the row untouched and Debit reports false.
func (r *LedgerRepository) Debit(ctx context.Context, userID string, amount int64) (bool, error) {
	const query = `
		UPDATE skulls
		SET balance = balance - $2
		WHERE user_id = $1 AND balance >= $2
	`

	tag, err := r.pool.Exec(ctx, query, userID, amount)
	if err != nil {
		return false, fmt.Errorf("failed to debit skulls: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}

// Transfer moves skulls between two accounts inside a single database
// transaction. The source balance is re-checked by the guarded debit inside
// the transaction, so a concurrent withdrawal cannot slip between the check
// and the decrement. Any failure rolls the whole transfer back; the ledger
// is left as if the call never happened.
func (r *LedgerRepository) Transfer(ctx context.Context, fromID, toID string, amount int64) (bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to begin transfer: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE skulls
		SET balance = balance - $2
		WHERE user_id = $1 AND balance >= $2
	`, fromID, amount)
	if err != nil {
		return false, fmt.Errorf("failed to debit sender: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Insufficient balance or missing account. Not an error.
		return false, nil
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO skulls (user_id, balance)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET balance = skulls.balance + $2
	`, toID, amount)
	if err != nil {
		return false, fmt.Errorf("failed to credit receiver: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("failed to commit transfer: %w", err)
	}

	return true, nil
}

// GetTopBalances retrieves the top N accounts by balance for the leaderboard.
func (r *LedgerRepository) GetTopBalances(ctx context.Context, limit int) ([]*model.SkullAccount, error) {
	const query = `
		SELECT user_id, balance
		FROM skulls
		ORDER BY balance DESC
		LIMIT $1
	`

	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get top balances: %w", err)
	}
	defer rows.Close()

	var accounts []*model.SkullAccount
	for rows.Next() {
		var acc model.SkullAccount
		if err := rows.Scan(&acc.UserID, &acc.Balance); err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, &acc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating accounts: %w", err)
	}

	return accounts, nil
}
