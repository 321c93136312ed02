package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Transaction types.
const (
	TransactionTypeWithdrawal = "WITHDRAWAL"
	TransactionTypeTransfer   = "TRANSFER"
	TransactionTypePayment    = "PAYMENT"
	TransactionTypeReversal   = "REVERSAL"
)

// Transaction statuses. INITIATED and VALIDATING exist only inside a single
// engine call; rows that reach storage are COMMITTED or REJECTED. FAILED
// attempts leave no row behind so the caller can retry with the same
// transaction ID. REVERSAL rows reference the original via ReversalOf;
// committed rows are never edited in place.
const (
	StatusInitiated  = "INITIATED"
	StatusValidating = "VALIDATING"
	StatusCommitted  = "COMMITTED"
	StatusRejected   = "REJECTED"
	StatusFailed     = "FAILED"
	StatusReversed   = "REVERSED"
)

// Transaction is one row of the transaction journal. BalanceBefore and
// BalanceAfter snapshot the source account around the mutation.
type Transaction struct {
	TransactionID      string          `json:"transaction_id" db:"transaction_id"`
	ReferenceNumber    string          `json:"reference_number" db:"reference_number"`
	Type               string          `json:"type" db:"type"`
	Channel            Channel         `json:"channel,omitempty" db:"channel"`
	Amount             decimal.Decimal `json:"amount" db:"amount"`
	Currency           string          `json:"currency" db:"currency"`
	BalanceBefore      decimal.Decimal `json:"balance_before" db:"balance_before"`
	BalanceAfter       decimal.Decimal `json:"balance_after" db:"balance_after"`
	Status             string          `json:"status" db:"status"`
	SourceAccount      string          `json:"source_account" db:"source_account"`
	DestinationAccount string          `json:"destination_account,omitempty" db:"destination_account"`
	CardNumber         string          `json:"card_number,omitempty" db:"card_number"`
	BillerCode         string          `json:"biller_code,omitempty" db:"biller_code"`
	ReversalOf         string          `json:"reversal_of,omitempty" db:"reversal_of"`
	Reason             string          `json:"reason,omitempty" db:"reason"`
	Remarks            string          `json:"remarks,omitempty" db:"remarks"`
	InitiatedBy        string          `json:"initiated_by" db:"initiated_by"`
	Metadata           Metadata        `json:"metadata,omitempty" db:"metadata"`
	CreatedAt          time.Time       `json:"created_at" db:"created_at"`
}
