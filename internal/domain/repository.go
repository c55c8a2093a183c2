package domain

import "context"

// CreditRepository is the per-user credit ledger. Implementations must make
// every mutation atomic with respect to concurrent debits and credits for the
// same user.
type CreditRepository interface {
	// GetBalance returns 0 for users without a ledger row.
	GetBalance(ctx context.Context, userID string) (int64, error)
	// TryDebit decrements the balance only if it currently covers amount,
	// otherwise returns ErrInsufficientCredit and leaves the balance unchanged.
	// ref is the idempotency key for the debit (job id or batch ref); a debit
	// whose ref already settled is a no-op, so callers may safely retry when
	// the outcome of an attempt is unknown.
	TryDebit(ctx context.Context, userID string, amount int64, ref string) error
	// Credit increments the balance, creating the row when absent.
	Credit(ctx context.Context, userID string, amount int64) error
}

// JobRepository persists jobs.
type JobRepository interface {
	Create(ctx context.Context, job *Job) error
	CreateBatch(ctx context.Context, jobs []*Job) error
	GetByID(ctx context.Context, id string) (*Job, error)
	GetForUser(ctx context.Context, id, userID string) (*Job, error)
	GetByProviderRequestID(ctx context.Context, requestID string) (*Job, error)
	ListByKind(ctx context.Context, userID string, kind JobKind, limit, offset int) ([]Job, error)
	// ListByIDs returns the user's jobs matching the given ids, most recent
	// first. Unknown ids and jobs owned by other users are skipped.
	ListByIDs(ctx context.Context, userID string, ids []string) ([]Job, error)
	// Claim marks the job for the request id as processing and records
	// outputRef, but only when the job is still live and no output has been
	// recorded yet. Exactly one of several concurrent claimants for the same
	// request id wins; the rest see false.
	Claim(ctx context.Context, providerRequestID, outputRef string) (bool, error)
	// Transition applies a status change guarded by the current status: the
	// update only lands when the stored status is one of from. It reports
	// whether a row was changed, so terminal states stay immutable and
	// concurrent webhook deliveries for the same request id cannot interleave.
	Transition(ctx context.Context, providerRequestID string, from []JobStatus, to JobStatus, outputRef, thumbnail *string) (bool, error)
}

// PaymentRepository persists payment attempts and settles grants.
type PaymentRepository interface {
	CreateTransaction(ctx context.Context, txn *Transaction) error
	// MarkTransactionFailed flips the pending transaction for the order to
	// Failed. Flipping an already-terminal transaction is a no-op.
	MarkTransactionFailed(ctx context.Context, orderID, userID, paymentID string) error
	// CompletePayment transitions the unique pending transaction for the order
	// to Success, inserts the subscription row and credits the ledger in one
	// atomic unit. It returns (false, nil) when the order was already settled
	// and ErrNoPendingTransaction when no transaction exists for the order.
	CompletePayment(ctx context.Context, grant PlanGrant) (bool, error)
	ListTransactions(ctx context.Context, userID string) ([]Transaction, error)
	LatestSubscription(ctx context.Context, userID string) (*Subscription, error)
}

// PackRepository serves the prompt-pack catalog.
type PackRepository interface {
	List(ctx context.Context) ([]Pack, error)
	ListPrompts(ctx context.Context, packID string) ([]PackPrompt, error)
}
