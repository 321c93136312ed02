package ledger

import (
	"github.com/shopspring/decimal"

	"github.com/opencbs/ledger/internal/models"
)

// Rejection and validation reasons. Every rejection carries one of these so
// presentation layers can render actionable messages instead of a bare
// "failed".
const (
	ReasonAccountNotFound            = "account not found"
	ReasonSourceAccountNotFound      = "source account not found"
	ReasonDestinationAccountNotFound = "destination account not found"
	ReasonAccountDormant             = "account dormant"
	ReasonAccountFrozen              = "account frozen"
	ReasonAccountClosed              = "account closed"
	ReasonCardNotFound               = "card not found"
	ReasonCardNotActive              = "card not active"
	ReasonSameAccount                = "source and destination are the same account"
	ReasonInvalidAmount              = "amount must be positive with at most two decimal places"
	ReasonInvalidChannel             = "unknown channel"
	ReasonLimitExceeded              = "exceeds daily limit"
	ReasonInsufficientFunds          = "insufficient balance after minimum-balance reserve"
	ReasonMalformedTransactionID     = "malformed transaction id"
	ReasonTransactionNotFound        = "transaction not found"
	ReasonNotReversible              = "transaction is not reversible"
	ReasonAlreadyReversed            = "transaction already reversed"
)

// WithdrawRequest debits one account through a channel. Either CardNumber
// or AccountNumber identifies the instrument; when a card is given the
// account is resolved from it and the card's channel limit applies.
// TransactionID is set only when retrying a FAILED attempt.
type WithdrawRequest struct {
	CardNumber    string
	AccountNumber string
	Amount        decimal.Decimal
	Channel       models.Channel
	Remarks       string
	InitiatedBy   string
	TransactionID string
}

// TransferRequest moves funds between two accounts.
type TransferRequest struct {
	SourceAccount      string
	DestinationAccount string
	Amount             decimal.Decimal
	Remarks            string
	InitiatedBy        string
	TransactionID      string
}

// BillPaymentRequest debits one account against an external biller.
type BillPaymentRequest struct {
	AccountNumber string
	BillerCode    string
	Amount        decimal.Decimal
	Remarks       string
	InitiatedBy   string
	TransactionID string
}

// ReverseRequest undoes a committed transaction by writing a new linked
// REVERSAL row. The original row is never edited.
type ReverseRequest struct {
	OriginalTransactionID string
	Remarks               string
	InitiatedBy           string
	TransactionID         string
}

// Result is the outcome of one engine operation. RemainingLimit is set for
// withdrawals only: the channel allowance left after a commit, or the
// allowance that was available when a limit rejection occurred.
type Result struct {
	TransactionID  string           `json:"transaction_id"`
	Status         string           `json:"status"`
	Message        string           `json:"message"`
	RemainingLimit *decimal.Decimal `json:"remaining_limit,omitempty"`
}

// Decision is the eligibility verdict for a prospective debit.
// RemainingLimit is the channel allowance left after the requested amount
// when allowed, or without it when not.
type Decision struct {
	Allowed        bool            `json:"allowed"`
	Reason         string          `json:"reason,omitempty"`
	RemainingLimit decimal.Decimal `json:"remaining_limit"`
}

func validAmount(d decimal.Decimal) bool {
	return d.IsPositive() && d.Exponent() >= -2
}

// accountStatusReason maps a non-ACTIVE account status to its rejection
// reason; it returns "" for ACTIVE accounts.
func accountStatusReason(status string) string {
	switch status {
	case models.AccountStatusActive:
		return ""
	case models.AccountStatusDormant:
		return ReasonAccountDormant
	case models.AccountStatusFrozen:
		return ReasonAccountFrozen
	case models.AccountStatusClosed:
		return ReasonAccountClosed
	default:
		return "account status " + status
	}
}
