package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Card status values. The ledger engine treats cards as read-only: a card
// gates access to its account but is never mutated by a transaction.
const (
	CardStatusActive  = "ACTIVE"
	CardStatusBlocked = "BLOCKED"
	CardStatusExpired = "EXPIRED"
	CardStatusLost    = "LOST"
)

// Card links a card number to an account and carries the per-channel daily
// limits that apply when the card is the access instrument.
type Card struct {
	CardNumber       string          `json:"card_number" db:"card_number"`
	AccountNumber    string          `json:"account_number" db:"account_number"`
	Status           string          `json:"status" db:"status"`
	ATMDailyLimit    decimal.Decimal `json:"atm_daily_limit" db:"atm_daily_limit"`
	POSDailyLimit    decimal.Decimal `json:"pos_daily_limit" db:"pos_daily_limit"`
	OnlineDailyLimit decimal.Decimal `json:"online_daily_limit" db:"online_daily_limit"`
	ExpiresAt        *time.Time      `json:"expires_at" db:"expires_at"`
	CreatedAt        time.Time       `json:"created_at" db:"created_at"`
}

// DailyLimit returns the card-level daily limit for the given channel.
func (c *Card) DailyLimit(channel Channel) decimal.Decimal {
	switch channel {
	case ChannelPOS:
		return c.POSDailyLimit
	case ChannelOnline:
		return c.OnlineDailyLimit
	default:
		return c.ATMDailyLimit
	}
}

// Metadata type for JSONB fields
type Metadata map[string]any

// Value implements driver.Valuer for Metadata
func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

// Scan implements sql.Scanner for Metadata
func (m *Metadata) Scan(value any) error {
	if value == nil {
		*m = nil
		return nil
	}

	b, ok := value.([]byte)
	if !ok {
		return errors.New("type assertion to []byte failed")
	}

	return json.Unmarshal(b, m)
}
