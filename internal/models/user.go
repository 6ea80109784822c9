package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

type User struct {
	ID        int             `json:"id" example:"1"`                   // User ID
	Email     string          `json:"email" example:"user@example.com"` // User email
	Username  string          `json:"username" example:"johndoe"`       // Unique username
	FullName  string          `json:"full_name" example:"John Doe"`     // Display name
	Balance   decimal.Decimal `json:"balance" example:"1000.00"`        // Account balance, two fractional digits
	Version   int             `json:"-"`                                // Optimistic concurrency counter
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt *time.Time      `json:"updated_at,omitempty"`
}

// MarshalJSON renders the balance with exactly two fractional digits.
func (u User) MarshalJSON() ([]byte, error) {
	type alias User
	return json.Marshal(struct {
		alias
		Balance string `json:"balance"`
	}{alias(u), u.Balance.StringFixed(2)})
}
