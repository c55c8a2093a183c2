package domain

import "errors"

var (
	ErrNotFound             = errors.New("not found")
	ErrValidation           = errors.New("invalid input")
	ErrInsufficientCredit   = errors.New("insufficient credit")
	ErrProviderFailure      = errors.New("provider failure")
	ErrMalformedCallback    = errors.New("malformed callback")
	ErrInvalidSignature     = errors.New("invalid signature")
	ErrNoPendingTransaction = errors.New("no pending transaction")
)
