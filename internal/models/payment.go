package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaymentStatus is the lifecycle state of a payment.
// created is the only non-terminal state; paid and cancelled are terminal.
type PaymentStatus string

const (
	PaymentStatusCreated   PaymentStatus = "created"
	PaymentStatusPaid      PaymentStatus = "paid"
	PaymentStatusCancelled PaymentStatus = "cancelled"
)

// Terminal reports whether no further transitions are permitted.
func (s PaymentStatus) Terminal() bool {
	switch s {
	case PaymentStatusPaid, PaymentStatusCancelled:
		return true
	case PaymentStatusCreated:
		return false
	}
	return false
}

// CanTransitionTo reports whether the transition s -> next is permitted.
func (s PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	switch s {
	case PaymentStatusCreated:
		return next == PaymentStatusPaid || next == PaymentStatusCancelled
	case PaymentStatusPaid, PaymentStatusCancelled:
		return false
	}
	return false
}

// Payment represents one transfer intent and its outcome. A payment is either
// internal (receiver_id set) or external (card fields set), never both.
type Payment struct {
	ID             uuid.UUID       `json:"id"`
	SenderID       int             `json:"sender_id"`
	ReceiverID     *int            `json:"receiver_id"`
	CardLastFour   *string         `json:"card_last_four"`
	CardHolderName *string         `json:"card_holder_name"`
	Amount         decimal.Decimal `json:"amount"`
	Description    string          `json:"description,omitempty"`
	Status         PaymentStatus   `json:"status"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      *time.Time      `json:"updated_at"`
	PaidAt         *time.Time      `json:"paid_at"`

	SenderUsername   string `json:"sender_username,omitempty"`
	ReceiverUsername string `json:"receiver_username,omitempty"`
}

// MarshalJSON renders the amount with exactly two fractional digits
// ("1000.00", not "1000"), matching the NUMERIC(10,2) column.
func (p Payment) MarshalJSON() ([]byte, error) {
	type alias Payment
	return json.Marshal(struct {
		alias
		Amount string `json:"amount"`
	}{alias(p), p.Amount.StringFixed(2)})
}

// Internal reports whether the payment moves funds between two platform users.
func (p *Payment) Internal() bool {
	return p.ReceiverID != nil
}

// IsParticipant reports whether userID is the sender or the receiver.
func (p *Payment) IsParticipant(userID int) bool {
	if p.SenderID == userID {
		return true
	}
	return p.ReceiverID != nil && *p.ReceiverID == userID
}
