package domain

import "time"

// PlanType enumerates purchasable credit plans.
type PlanType string

const (
	PlanBasic   PlanType = "basic"
	PlanPremium PlanType = "premium"
)

// Valid reports whether the plan is one we sell.
func (p PlanType) Valid() bool {
	return p == PlanBasic || p == PlanPremium
}

// TransactionStatus enumerates payment attempt outcomes. The transition from
// Pending to a terminal status is one-way and happens at most once per order.
type TransactionStatus string

const (
	TransactionPending TransactionStatus = "pending"
	TransactionSuccess TransactionStatus = "success"
	TransactionFailed  TransactionStatus = "failed"
)

// Transaction is one payment attempt. OrderID is the idempotency key for
// reconciliation: for a given order id at most one transaction transitions
// out of Pending.
type Transaction struct {
	ID        string
	UserID    string
	Amount    int64
	Currency  string
	PaymentID string
	OrderID   string
	Plan      PlanType
	Status    TransactionStatus
	CreatedAt time.Time
}

// Subscription records a plan grant. Created exactly once per successful
// payment, always paired atomically with the matching ledger credit.
type Subscription struct {
	ID        string
	UserID    string
	Plan      PlanType
	PaymentID string
	OrderID   string
	CreatedAt time.Time
}

// PlanGrant carries everything needed to settle a successful payment: flip the
// pending transaction, insert the subscription row and credit the ledger, all
// in one unit.
type PlanGrant struct {
	UserID    string
	OrderID   string
	PaymentID string
	Plan      PlanType
	Credits   int64
}

// Pack is a curated set of prompts generated as a batch against one model.
type Pack struct {
	ID          string
	Name        string
	Description string
	CreatedAt   time.Time
}

// PackPrompt is a single prompt belonging to a pack.
type PackPrompt struct {
	ID     string
	PackID string
	Prompt string
}
