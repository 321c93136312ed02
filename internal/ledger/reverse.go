package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/opencbs/ledger/internal/idgen"
	"github.com/opencbs/ledger/internal/models"
)

// Reverse undoes a committed transaction by writing a new REVERSAL row
// linked to the original through reversal_of. The original row is never
// edited. Locking the original journal row first serializes concurrent
// reversal attempts; the lock order against account rows is fixed (journal
// row, then accounts in canonical order), so no cycle can form with the
// other operations.
func (e *Engine) Reverse(ctx context.Context, req ReverseRequest) (*Result, error) {
	if !idgen.ValidateTransactionID(req.OriginalTransactionID) {
		return rejected(req.TransactionID, ReasonMalformedTransactionID), nil
	}

	txID, prior, err := e.resolveTransactionID(ctx, req.TransactionID)
	if err != nil {
		return e.failed(txID, err), err
	}
	if prior != nil {
		return prior, nil
	}

	tx, err := e.begin(ctx)
	if err != nil {
		return e.failed(txID, err), err
	}
	defer tx.Rollback()

	orig, err := e.lockOriginal(ctx, tx, req.OriginalTransactionID)
	if err != nil {
		return e.failed(txID, err), err
	}
	if orig == nil {
		return rejected(txID, ReasonTransactionNotFound), nil
	}
	if orig.Status != models.StatusCommitted || orig.Type == models.TransactionTypeReversal {
		return rejected(txID, ReasonNotReversible), nil
	}

	var alreadyReversed bool
	err = tx.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM transactions WHERE reversal_of = $1 AND status = $2)`,
		orig.TransactionID, models.StatusCommitted).Scan(&alreadyReversed)
	if err != nil {
		wrapped := fmt.Errorf("reversal lookup for %s: %w", orig.TransactionID, err)
		return e.failed(txID, wrapped), wrapped
	}
	if alreadyReversed {
		return rejected(txID, ReasonAlreadyReversed), nil
	}

	switch orig.Type {
	case models.TransactionTypeTransfer:
		return e.reverseTransfer(ctx, tx, txID, orig, req)
	default:
		// Withdrawals and bill payments reverse as a single credit back to
		// the debited account.
		return e.reverseDebit(ctx, tx, txID, orig, req)
	}
}

// lockOriginal takes the row lock on the journal row being reversed.
func (e *Engine) lockOriginal(ctx context.Context, tx *sql.Tx, txID string) (*models.Transaction, error) {
	var row models.Transaction
	err := tx.QueryRowContext(ctx, `
		SELECT transaction_id, type, amount, currency, status, source_account, destination_account
		FROM transactions
		WHERE transaction_id = $1
		FOR UPDATE`, txID).Scan(
		&row.TransactionID, &row.Type, &row.Amount, &row.Currency, &row.Status,
		&row.SourceAccount, &row.DestinationAccount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lock transaction %s: %w", txID, err)
	}
	return &row, nil
}

func (e *Engine) reverseDebit(ctx context.Context, tx *sql.Tx, txID string, orig *models.Transaction, req ReverseRequest) (*Result, error) {
	acct, err := e.lockAccount(ctx, tx, orig.SourceAccount)
	if err != nil {
		return e.failed(txID, err), err
	}
	if acct == nil {
		return rejected(txID, ReasonAccountNotFound), nil
	}

	row := &models.Transaction{
		TransactionID: txID,
		Type:          models.TransactionTypeReversal,
		Amount:        orig.Amount,
		Currency:      orig.Currency,
		BalanceBefore: acct.Balance,
		SourceAccount: acct.AccountNumber,
		ReversalOf:    orig.TransactionID,
		Remarks:       req.Remarks,
		InitiatedBy:   req.InitiatedBy,
	}

	if reason := creditable(acct); reason != "" {
		row.Reason = reason
		return e.rejectAttempt(ctx, tx, row, nil)
	}

	newBalance := acct.Balance.Add(orig.Amount)
	if err := e.updateBalance(ctx, tx, acct.AccountNumber, newBalance); err != nil {
		return e.failed(txID, err), err
	}

	row.Status = models.StatusCommitted
	row.BalanceAfter = newBalance
	if err := e.insertTransaction(ctx, tx, row); err != nil {
		return e.failed(txID, err), err
	}
	if err := tx.Commit(); err != nil {
		return e.failed(txID, err), err
	}

	e.afterCommit(ctx, row, []balanceChange{
		{account: acct, newBalance: newBalance, action: "CREDIT"},
	})

	return &Result{TransactionID: txID, Status: models.StatusCommitted, Message: "reversal committed"}, nil
}

func (e *Engine) reverseTransfer(ctx context.Context, tx *sql.Tx, txID string, orig *models.Transaction, req ReverseRequest) (*Result, error) {
	// The reversal debits the original destination, so it must clear the
	// same minimum-balance gate as any other debit.
	src, dst, err := e.lockAccountPair(ctx, tx, orig.DestinationAccount, orig.SourceAccount)
	if err != nil {
		return e.failed(txID, err), err
	}
	if src == nil || dst == nil {
		return rejected(txID, ReasonAccountNotFound), nil
	}

	row := &models.Transaction{
		TransactionID:      txID,
		Type:               models.TransactionTypeReversal,
		Amount:             orig.Amount,
		Currency:           orig.Currency,
		BalanceBefore:      src.Balance,
		SourceAccount:      src.AccountNumber,
		DestinationAccount: dst.AccountNumber,
		ReversalOf:         orig.TransactionID,
		Remarks:            req.Remarks,
		InitiatedBy:        req.InitiatedBy,
	}

	if reason := checkDebit(src, orig.Amount); reason != "" {
		row.Reason = reason
		return e.rejectAttempt(ctx, tx, row, nil)
	}
	if reason := creditable(dst); reason != "" {
		row.Reason = "destination " + reason
		return e.rejectAttempt(ctx, tx, row, nil)
	}

	srcBalance := src.Balance.Sub(orig.Amount)
	dstBalance := dst.Balance.Add(orig.Amount)
	if err := e.updateBalance(ctx, tx, src.AccountNumber, srcBalance); err != nil {
		return e.failed(txID, err), err
	}
	if err := e.updateBalance(ctx, tx, dst.AccountNumber, dstBalance); err != nil {
		return e.failed(txID, err), err
	}

	row.Status = models.StatusCommitted
	row.BalanceAfter = srcBalance
	if err := e.insertTransaction(ctx, tx, row); err != nil {
		return e.failed(txID, err), err
	}
	if err := tx.Commit(); err != nil {
		return e.failed(txID, err), err
	}

	e.afterCommit(ctx, row, []balanceChange{
		{account: src, newBalance: srcBalance, action: "DEBIT"},
		{account: dst, newBalance: dstBalance, action: "CREDIT"},
	})

	return &Result{TransactionID: txID, Status: models.StatusCommitted, Message: "reversal committed"}, nil
}
