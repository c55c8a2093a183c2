package domain

import "time"

// UserCredit is the authoritative per-user balance. The amount is never
// observably negative and all mutations are relative increments or decrements.
type UserCredit struct {
	UserID    string
	Amount    int64
	UpdatedAt time.Time
}
