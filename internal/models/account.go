package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account status values. Only ACTIVE accounts accept ledger mutations.
const (
	AccountStatusActive  = "ACTIVE"
	AccountStatusDormant = "DORMANT"
	AccountStatusFrozen  = "FROZEN"
	AccountStatusClosed  = "CLOSED"
)

// Channel is the access method of a transaction. Each channel carries its
// own daily withdrawal limit on the card and on the account.
type Channel string

const (
	ChannelATM    Channel = "ATM"
	ChannelPOS    Channel = "POS"
	ChannelOnline Channel = "ONLINE"
)

// Valid reports whether c is one of the known channels.
func (c Channel) Valid() bool {
	switch c {
	case ChannelATM, ChannelPOS, ChannelOnline:
		return true
	}
	return false
}

// Account is the ledger-side view of a bank account. All monetary fields are
// fixed-point decimals with two fractional digits. Balance mutations happen
// exclusively through the ledger engine under a row lock.
type Account struct {
	AccountNumber     string          `json:"account_number" db:"account_number"`
	CustomerID        string          `json:"customer_id" db:"customer_id"`
	AccountName       string          `json:"account_name" db:"account_name"`
	Balance           decimal.Decimal `json:"balance" db:"balance"`
	MinimumBalance    decimal.Decimal `json:"minimum_balance" db:"minimum_balance"`
	Currency          string          `json:"currency" db:"currency"`
	Status            string          `json:"status" db:"status"`
	ATMDailyLimit     decimal.Decimal `json:"atm_daily_limit" db:"atm_daily_limit"`
	POSDailyLimit     decimal.Decimal `json:"pos_daily_limit" db:"pos_daily_limit"`
	OnlineDailyLimit  decimal.Decimal `json:"online_daily_limit" db:"online_daily_limit"`
	LastTransactionAt *time.Time      `json:"last_transaction_at" db:"last_transaction_at"`
	CreatedAt         time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at" db:"updated_at"`
}

// DailyLimit returns the account-level daily limit for the given channel.
func (a *Account) DailyLimit(channel Channel) decimal.Decimal {
	switch channel {
	case ChannelPOS:
		return a.POSDailyLimit
	case ChannelOnline:
		return a.OnlineDailyLimit
	default:
		return a.ATMDailyLimit
	}
}

// Headroom is the amount the account can still be debited before the
// minimum-balance reserve is breached.
func (a *Account) Headroom() decimal.Decimal {
	return a.Balance.Sub(a.MinimumBalance)
}
