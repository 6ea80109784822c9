package services

import "errors"

// Domain errors raised by the ledger. The HTTP layer maps these 1:1 to
// response status codes and never reinterprets them; anything not in this
// list surfaces as an opaque internal failure.
var (
	ErrPaymentNotFound   = errors.New("payment not found")
	ErrNotPaymentOwner   = errors.New("only own payments can be processed")
	ErrNotParticipant    = errors.New("no access to this payment")
	ErrAlreadyProcessed  = errors.New("payment already processed")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrSelfTransfer      = errors.New("cannot transfer to self")
	ErrReceiverNotFound  = errors.New("receiver not found")
	ErrSenderNotFound    = errors.New("sender not found")
	ErrPaymentShape      = errors.New("payment must specify either a receiver or card details")
	ErrInvalidAmount     = errors.New("amount must be positive")

	// ErrConcurrentUpdate signals an optimistic-lock miss on a balance row.
	// The transaction is rolled back; callers may retry, the ledger does not.
	ErrConcurrentUpdate = errors.New("concurrent update detected, please retry")
)
