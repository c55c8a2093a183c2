package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"pictora/internal/domain"
)

// PaymentRepositoryPG implements domain.PaymentRepository.
type PaymentRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewPaymentRepository creates a payment store backed by PostgreSQL.
func NewPaymentRepository(pool *pgxpool.Pool) *PaymentRepositoryPG {
	return &PaymentRepositoryPG{pool: pool}
}

// CreateTransaction records a payment attempt. Transient connectivity errors
// are retried; the insert is keyed by a fresh id so a replay is harmless.
func (r *PaymentRepositoryPG) CreateTransaction(ctx context.Context, txn *domain.Transaction) error {
	query := `
INSERT INTO transactions (id, user_id, amount, currency, payment_id, order_id, plan, status)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8);
`
	if txn.ID == "" {
		txn.ID = uuid.NewString()
	}
	return withRetry(ctx, func() error {
		_, err := r.pool.Exec(ctx, query,
			txn.ID,
			txn.UserID,
			txn.Amount,
			txn.Currency,
			txn.PaymentID,
			txn.OrderID,
			txn.Plan,
			txn.Status,
		)
		return err
	})
}

// MarkTransactionFailed flips the pending transaction for the order to Failed.
// Terminal transactions are left untouched, keeping the transition one-way.
func (r *PaymentRepositoryPG) MarkTransactionFailed(ctx context.Context, orderID, userID, paymentID string) error {
	query := `
UPDATE transactions
SET status = $4,
    payment_id = CASE WHEN $3 <> '' THEN $3 ELSE payment_id END
WHERE order_id = $1 AND user_id = $2 AND status = $5;
`
	_, err := r.pool.Exec(ctx, query, orderID, userID, paymentID, domain.TransactionFailed, domain.TransactionPending)
	return err
}

// CompletePayment settles a verified payment: the pending transaction flips to
// Success, the subscription row is inserted and the ledger credited, all in one
// database transaction. The status-guarded UPDATE is the idempotency gate: a
// second invocation for the same order matches no row and grants nothing.
func (r *PaymentRepositoryPG) CompletePayment(ctx context.Context, grant domain.PlanGrant) (bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	flip := `
UPDATE transactions
SET status = $4,
    payment_id = CASE WHEN $3 <> '' THEN $3 ELSE payment_id END
WHERE order_id = $1 AND user_id = $2 AND status = $5
RETURNING id;
`
	var txnID string
	err = tx.QueryRow(ctx, flip, grant.OrderID, grant.UserID, grant.PaymentID, domain.TransactionSuccess, domain.TransactionPending).Scan(&txnID)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return false, err
		}
		var status domain.TransactionStatus
		lookup := `SELECT status FROM transactions WHERE order_id = $1 AND user_id = $2 ORDER BY created_at DESC LIMIT 1;`
		if perr := tx.QueryRow(ctx, lookup, grant.OrderID, grant.UserID).Scan(&status); perr != nil {
			if errors.Is(perr, pgx.ErrNoRows) {
				return false, domain.ErrNoPendingTransaction
			}
			return false, perr
		}
		if status == domain.TransactionSuccess {
			// Already settled: re-delivered confirmation, nothing to grant.
			return false, nil
		}
		return false, domain.ErrNoPendingTransaction
	}

	subIns := `
INSERT INTO subscriptions (id, user_id, plan, payment_id, order_id)
VALUES ($1, $2, $3, $4, $5);
`
	if _, err := tx.Exec(ctx, subIns, uuid.NewString(), grant.UserID, grant.Plan, grant.PaymentID, grant.OrderID); err != nil {
		return false, err
	}

	creditUp := `
INSERT INTO user_credits (user_id, amount)
VALUES ($1, $2)
ON CONFLICT (user_id)
DO UPDATE SET amount = user_credits.amount + EXCLUDED.amount, updated_at = NOW();
`
	if _, err := tx.Exec(ctx, creditUp, grant.UserID, grant.Credits); err != nil {
		return false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return true, nil
}

// ListTransactions returns the user's payment attempts, newest first.
func (r *PaymentRepositoryPG) ListTransactions(ctx context.Context, userID string) ([]domain.Transaction, error) {
	query := `
SELECT id, user_id, amount, currency, payment_id, order_id, plan, status, created_at
FROM transactions
WHERE user_id = $1
ORDER BY created_at DESC;
`
	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var txns []domain.Transaction
	for rows.Next() {
		var txn domain.Transaction
		if err := rows.Scan(
			&txn.ID,
			&txn.UserID,
			&txn.Amount,
			&txn.Currency,
			&txn.PaymentID,
			&txn.OrderID,
			&txn.Plan,
			&txn.Status,
			&txn.CreatedAt,
		); err != nil {
			return nil, err
		}
		txns = append(txns, txn)
	}
	return txns, rows.Err()
}

// LatestSubscription returns the user's most recent plan grant.
func (r *PaymentRepositoryPG) LatestSubscription(ctx context.Context, userID string) (*domain.Subscription, error) {
	query := `
SELECT id, user_id, plan, payment_id, order_id, created_at
FROM subscriptions
WHERE user_id = $1
ORDER BY created_at DESC
LIMIT 1;
`
	var sub domain.Subscription
	err := r.pool.QueryRow(ctx, query, userID).Scan(
		&sub.ID,
		&sub.UserID,
		&sub.Plan,
		&sub.PaymentID,
		&sub.OrderID,
		&sub.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &sub, nil
}
