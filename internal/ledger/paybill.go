package ledger

import (
	"context"

	"github.com/opencbs/ledger/internal/models"
)

// PayBill debits one account against an external biller reference. It has
// the shape of a single-account debit: no channel limit applies, but the
// status gate and minimum-balance reserve do.
func (e *Engine) PayBill(ctx context.Context, req BillPaymentRequest) (*Result, error) {
	if !validAmount(req.Amount) {
		return rejected(req.TransactionID, ReasonInvalidAmount), nil
	}
	if req.BillerCode == "" {
		return rejected(req.TransactionID, "biller code is required"), nil
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

	acct, err := e.lockAccount(ctx, tx, req.AccountNumber)
	if err != nil {
		return e.failed(txID, err), err
	}
	if acct == nil {
		return rejected(txID, ReasonAccountNotFound), nil
	}

	row := &models.Transaction{
		TransactionID: txID,
		Type:          models.TransactionTypePayment,
		Amount:        req.Amount,
		Currency:      acct.Currency,
		BalanceBefore: acct.Balance,
		SourceAccount: acct.AccountNumber,
		BillerCode:    req.BillerCode,
		Remarks:       req.Remarks,
		InitiatedBy:   req.InitiatedBy,
	}

	if reason := checkDebit(acct, req.Amount); reason != "" {
		row.Reason = reason
		return e.rejectAttempt(ctx, tx, row, nil)
	}

	newBalance := acct.Balance.Sub(req.Amount)
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
		{account: acct, newBalance: newBalance, action: "DEBIT"},
	})

	return &Result{
		TransactionID: txID,
		Status:        models.StatusCommitted,
		Message:       "bill payment committed",
	}, nil
}
