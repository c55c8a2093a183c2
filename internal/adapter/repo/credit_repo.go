package repo

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"pictora/internal/domain"
)

// CreditRepositoryPG implements domain.CreditRepository. The ledger row is the
// serialization point for a user: every mutation is a single relative UPDATE,
// never a read-then-write.
type CreditRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewCreditRepository creates a credit ledger backed by PostgreSQL.
func NewCreditRepository(pool *pgxpool.Pool) *CreditRepositoryPG {
	return &CreditRepositoryPG{pool: pool}
}

// GetBalance returns the user's balance, 0 when no ledger row exists.
func (r *CreditRepositoryPG) GetBalance(ctx context.Context, userID string) (int64, error) {
	query := `
SELECT amount
FROM user_credits
WHERE user_id = $1;
`
	var amount int64
	err := withRetry(ctx, func() error {
		return r.pool.QueryRow(ctx, query, userID).Scan(&amount)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, err
	}
	return amount, nil
}

// TryDebit decrements the balance only when it covers amount. The marker row
// in ledger_debits makes the debit idempotent per ref: a redelivered debit for
// a ref that already settled is a no-op, so callers may retry on errors whose
// outcome is unknown. Balance guard and marker commit in one transaction.
func (r *CreditRepositoryPG) TryDebit(ctx context.Context, userID string, amount int64, ref string) error {
	markQuery := `
INSERT INTO ledger_debits (ref, user_id, amount)
VALUES ($1, $2, $3)
ON CONFLICT (ref) DO NOTHING;
`
	debitQuery := `
UPDATE user_credits
SET amount = amount - $2,
    updated_at = NOW()
WHERE user_id = $1 AND amount >= $2;
`
	return withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return err
		}
		defer tx.Rollback(ctx)

		mark, err := tx.Exec(ctx, markQuery, ref, userID, amount)
		if err != nil {
			return err
		}
		if mark.RowsAffected() == 0 {
			// Already settled for this ref.
			return tx.Commit(ctx)
		}
		tag, err := tx.Exec(ctx, debitQuery, userID, amount)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return domain.ErrInsufficientCredit
		}
		return tx.Commit(ctx)
	})
}

// Credit increments the balance, creating the ledger row when absent.
func (r *CreditRepositoryPG) Credit(ctx context.Context, userID string, amount int64) error {
	query := `
INSERT INTO user_credits (user_id, amount)
VALUES ($1, $2)
ON CONFLICT (user_id)
DO UPDATE SET amount = user_credits.amount + EXCLUDED.amount, updated_at = NOW();
`
	return withRetry(ctx, func() error {
		_, err := r.pool.Exec(ctx, query, userID, amount)
		return err
	})
}
