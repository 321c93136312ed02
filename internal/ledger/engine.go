// Package ledger implements the atomic mutation core of the banking system:
// withdrawals, transfers, bill payments and reversals. Every operation runs
// as one database transaction that locks the affected account rows in a
// canonical order, re-validates eligibility under the lock, mutates
// balances, persists the journal row, and only then emits audit and
// notification events.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/opencbs/ledger/internal/audit"
	"github.com/opencbs/ledger/internal/config"
	"github.com/opencbs/ledger/internal/idgen"
	"github.com/opencbs/ledger/internal/models"
)

// querier is satisfied by *sql.DB and *sql.Tx so eligibility reads can run
// either inside the engine's lock scope or as an advisory check.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Engine is the ledger mutation engine. Accounts are the only shared state
// it locks; transaction IDs come from the identifier generator, whose
// counter locks are never held across engine work.
type Engine struct {
	db     *sql.DB
	ids    *idgen.Generator
	audit  audit.Sink
	notify audit.Notifier
	cfg    *config.EngineConfig
	now    func() time.Time
}

func NewEngine(db *sql.DB, ids *idgen.Generator, sink audit.Sink, notifier audit.Notifier, cfg *config.EngineConfig) *Engine {
	return &Engine{
		db:     db,
		ids:    ids,
		audit:  sink,
		notify: notifier,
		cfg:    cfg,
		now:    time.Now,
	}
}

// begin opens the operation's database transaction with a bounded lock
// wait, so a stuck row lock surfaces as a FAILED (retryable) result instead
// of hanging the caller.
func (e *Engine) begin(ctx context.Context) (*sql.Tx, error) {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin ledger tx: %w", err)
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", e.cfg.LockTimeout.Milliseconds())); err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("set lock timeout: %w", err)
	}
	return tx, nil
}

// resolveTransactionID allocates a fresh transaction ID, or, for a retry
// carrying its original ID, short-circuits when that attempt already
// reached a terminal state. A FAILED attempt left no row behind, so the
// retry proceeds under the same ID and cannot commit twice.
func (e *Engine) resolveTransactionID(ctx context.Context, provided string) (string, *Result, error) {
	if provided == "" {
		txID, err := e.ids.TransactionID(ctx)
		if err != nil {
			return "", nil, fmt.Errorf("allocate transaction id: %w", err)
		}
		return txID, nil, nil
	}

	if !idgen.ValidateTransactionID(provided) {
		return provided, rejected(provided, ReasonMalformedTransactionID), nil
	}

	var status, reason string
	err := e.db.QueryRowContext(ctx,
		`SELECT status, COALESCE(reason, '') FROM transactions WHERE transaction_id = $1`,
		provided).Scan(&status, &reason)
	if errors.Is(err, sql.ErrNoRows) {
		return provided, nil, nil
	}
	if err != nil {
		return provided, nil, fmt.Errorf("idempotency lookup for %s: %w", provided, err)
	}

	log.Printf("[LEDGER] duplicate attempt for transaction %s, status %s", provided, status)
	message := "transaction already processed"
	if reason != "" {
		message = reason
	}
	return provided, &Result{TransactionID: provided, Status: status, Message: message}, nil
}

// lockAccount takes the exclusive row lock on one account. A nil account
// with nil error means the account does not exist.
func (e *Engine) lockAccount(ctx context.Context, tx *sql.Tx, accountNumber string) (*models.Account, error) {
	var acct models.Account
	err := tx.QueryRowContext(ctx, `
		SELECT account_number, customer_id, balance, minimum_balance, currency, status,
		       atm_daily_limit, pos_daily_limit, online_daily_limit
		FROM accounts
		WHERE account_number = $1
		FOR UPDATE`, accountNumber).Scan(
		&acct.AccountNumber, &acct.CustomerID, &acct.Balance, &acct.MinimumBalance,
		&acct.Currency, &acct.Status,
		&acct.ATMDailyLimit, &acct.POSDailyLimit, &acct.OnlineDailyLimit)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lock account %s: %w", accountNumber, err)
	}
	return &acct, nil
}

// lockAccountPair locks two accounts in ascending account-number order, a
// total order over account identifiers rather than caller order, so two
// opposite-direction transfers between the same pair can never deadlock.
// The accounts come back in caller order.
func (e *Engine) lockAccountPair(ctx context.Context, tx *sql.Tx, first, second string) (*models.Account, *models.Account, error) {
	lockFirst, lockSecond := first, second
	if lockFirst > lockSecond {
		lockFirst, lockSecond = lockSecond, lockFirst
	}

	a, err := e.lockAccount(ctx, tx, lockFirst)
	if err != nil {
		return nil, nil, err
	}
	b, err := e.lockAccount(ctx, tx, lockSecond)
	if err != nil {
		return nil, nil, err
	}

	if lockFirst != first {
		a, b = b, a
	}
	return a, b, nil
}

// fetchCard reads a card without locking it; cards are read-only to the
// engine. A nil card with nil error means the card does not exist.
func (e *Engine) fetchCard(ctx context.Context, q querier, cardNumber string) (*models.Card, error) {
	var card models.Card
	err := q.QueryRowContext(ctx, `
		SELECT card_number, account_number, status, atm_daily_limit, pos_daily_limit, online_daily_limit
		FROM cards
		WHERE card_number = $1`, cardNumber).Scan(
		&card.CardNumber, &card.AccountNumber, &card.Status,
		&card.ATMDailyLimit, &card.POSDailyLimit, &card.OnlineDailyLimit)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetch card %s: %w", cardNumber, err)
	}
	return &card, nil
}

// updateBalance writes the new balance and stamps last_transaction_at.
func (e *Engine) updateBalance(ctx context.Context, tx *sql.Tx, accountNumber string, balance decimal.Decimal) error {
	result, err := tx.ExecContext(ctx, `
		UPDATE accounts
		SET balance = $1, last_transaction_at = $2, updated_at = $2
		WHERE account_number = $3`,
		balance, e.now(), accountNumber)
	if err != nil {
		return fmt.Errorf("update balance of %s: %w", accountNumber, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected != 1 {
		return fmt.Errorf("update balance of %s: %d rows affected", accountNumber, affected)
	}
	return nil
}

func (e *Engine) insertTransaction(ctx context.Context, tx *sql.Tx, row *models.Transaction) error {
	if row.ReferenceNumber == "" {
		row.ReferenceNumber = uuid.NewString()
	}
	if row.Currency == "" {
		row.Currency = e.cfg.DefaultCurrency
	}
	row.CreatedAt = e.now()
	_, err := tx.ExecContext(ctx, `
		INSERT INTO transactions
		(transaction_id, reference_number, type, channel, amount, currency, balance_before, balance_after,
		 status, source_account, destination_account, card_number, biller_code, reversal_of, reason,
		 remarks, initiated_by, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`,
		row.TransactionID, row.ReferenceNumber, row.Type, string(row.Channel), row.Amount, row.Currency,
		row.BalanceBefore, row.BalanceAfter, row.Status, row.SourceAccount, row.DestinationAccount,
		row.CardNumber, row.BillerCode, row.ReversalOf, row.Reason, row.Remarks, row.InitiatedBy,
		row.Metadata, row.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert transaction %s: %w", row.TransactionID, err)
	}
	return nil
}

// rejectAttempt persists a REJECTED journal row for an attempt that reached
// the mutation stage, commits it, and builds the caller-facing result. No
// balance changes are part of this commit.
func (e *Engine) rejectAttempt(ctx context.Context, tx *sql.Tx, row *models.Transaction, remaining *decimal.Decimal) (*Result, error) {
	row.Status = models.StatusRejected
	row.BalanceAfter = row.BalanceBefore
	if err := e.insertTransaction(ctx, tx, row); err != nil {
		return e.failed(row.TransactionID, err), err
	}
	if err := tx.Commit(); err != nil {
		wrapped := fmt.Errorf("commit rejected attempt %s: %w", row.TransactionID, err)
		return e.failed(row.TransactionID, wrapped), wrapped
	}

	message := row.Reason
	if row.Reason == ReasonLimitExceeded && remaining != nil {
		message = fmt.Sprintf("%s, remaining %s", ReasonLimitExceeded, remaining.StringFixed(2))
	}
	log.Printf("[LEDGER] transaction %s rejected: %s", row.TransactionID, row.Reason)

	e.audit.Record(audit.Event{
		EntityType:  "TRANSACTION",
		EntityID:    row.TransactionID,
		Action:      row.Type,
		NewValue:    models.StatusRejected,
		Criticality: audit.CriticalityLow,
		Details:     map[string]string{"reason": row.Reason},
	})

	return &Result{
		TransactionID:  row.TransactionID,
		Status:         models.StatusRejected,
		Message:        message,
		RemainingLimit: remaining,
	}, nil
}

// balanceChange describes one account mutation for post-commit auditing.
type balanceChange struct {
	account    *models.Account // pre-mutation snapshot
	newBalance decimal.Decimal
	action     string // DEBIT or CREDIT
}

// afterCommit emits the audit and notification side effects for a committed
// mutation. These are best-effort: a sink failure is logged for operators
// but never unwinds the commit.
func (e *Engine) afterCommit(ctx context.Context, row *models.Transaction, changes []balanceChange) {
	e.audit.Record(audit.Event{
		EntityType:  "TRANSACTION",
		EntityID:    row.TransactionID,
		Action:      row.Type,
		NewValue:    row.Status,
		Criticality: audit.CriticalityFor(row.Amount),
		Details: map[string]string{
			"source":      row.SourceAccount,
			"destination": row.DestinationAccount,
			"amount":      row.Amount.StringFixed(2),
		},
	})
	for _, ch := range changes {
		e.audit.Record(audit.Event{
			EntityType:  "ACCOUNT",
			EntityID:    ch.account.AccountNumber,
			Action:      ch.action,
			OldValue:    ch.account.Balance.StringFixed(2),
			NewValue:    ch.newBalance.StringFixed(2),
			Criticality: audit.CriticalityFor(ch.newBalance.Sub(ch.account.Balance)),
		})
	}

	if len(changes) == 0 {
		return
	}
	kind := audit.NotifyInfo
	if row.Amount.GreaterThanOrEqual(e.cfg.HighValueThreshold) {
		kind = audit.NotifySecurity
	}
	notification := audit.Notification{
		UserID:  changes[0].account.CustomerID,
		Title:   row.Type,
		Message: fmt.Sprintf("%s of %s %s committed, transaction %s", row.Type, row.Currency, row.Amount.StringFixed(2), row.TransactionID),
		Type:    kind,
	}
	if err := e.notify.Notify(ctx, notification); err != nil {
		log.Printf("[NOTIFY] failed to enqueue notification for %s: %v", row.TransactionID, err)
	}
}

// failed wraps an infrastructure error as a retryable FAILED result. The
// surrounding transaction rolls back, so no partial write survives and the
// caller may retry with the same transaction ID.
func (e *Engine) failed(txID string, err error) *Result {
	log.Printf("[LEDGER] transaction %s failed: %v", txID, err)
	return &Result{
		TransactionID: txID,
		Status:        models.StatusFailed,
		Message:       "operation failed, retry with the same transaction id",
	}
}

func rejected(txID, reason string) *Result {
	return &Result{TransactionID: txID, Status: models.StatusRejected, Message: reason}
}

// GetTransaction loads one journal row by transaction ID.
func (e *Engine) GetTransaction(ctx context.Context, txID string) (*models.Transaction, error) {
	var row models.Transaction
	var channel string
	err := e.db.QueryRowContext(ctx, `
		SELECT transaction_id, reference_number, type, channel, amount, currency,
		       balance_before, balance_after, status, source_account, destination_account,
		       card_number, biller_code, reversal_of, reason, remarks, initiated_by, created_at
		FROM transactions
		WHERE transaction_id = $1`, txID).Scan(
		&row.TransactionID, &row.ReferenceNumber, &row.Type, &channel, &row.Amount, &row.Currency,
		&row.BalanceBefore, &row.BalanceAfter, &row.Status, &row.SourceAccount, &row.DestinationAccount,
		&row.CardNumber, &row.BillerCode, &row.ReversalOf, &row.Reason, &row.Remarks, &row.InitiatedBy,
		&row.CreatedAt)
	if err != nil {
		return nil, err
	}
	row.Channel = models.Channel(channel)
	return &row, nil
}
