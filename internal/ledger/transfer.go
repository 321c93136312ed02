package ledger

import (
	"context"

	"github.com/opencbs/ledger/internal/models"
)

// Transfer moves funds between two accounts. Both rows are locked in
// ascending account-number order before any read the decision depends on,
// and the debit and credit commit together or not at all.
func (e *Engine) Transfer(ctx context.Context, req TransferRequest) (*Result, error) {
	if !validAmount(req.Amount) {
		return rejected(req.TransactionID, ReasonInvalidAmount), nil
	}
	if req.SourceAccount == req.DestinationAccount {
		return rejected(req.TransactionID, ReasonSameAccount), nil
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

	src, dst, err := e.lockAccountPair(ctx, tx, req.SourceAccount, req.DestinationAccount)
	if err != nil {
		return e.failed(txID, err), err
	}
	if src == nil {
		return rejected(txID, ReasonSourceAccountNotFound), nil
	}
	if dst == nil {
		return rejected(txID, ReasonDestinationAccountNotFound), nil
	}

	row := &models.Transaction{
		TransactionID:      txID,
		Type:               models.TransactionTypeTransfer,
		Amount:             req.Amount,
		Currency:           src.Currency,
		BalanceBefore:      src.Balance,
		SourceAccount:      src.AccountNumber,
		DestinationAccount: dst.AccountNumber,
		Remarks:            req.Remarks,
		InitiatedBy:        req.InitiatedBy,
	}

	if reason := checkDebit(src, req.Amount); reason != "" {
		row.Reason = reason
		return e.rejectAttempt(ctx, tx, row, nil)
	}
	if reason := creditable(dst); reason != "" {
		row.Reason = "destination " + reason
		return e.rejectAttempt(ctx, tx, row, nil)
	}

	srcBalance := src.Balance.Sub(req.Amount)
	dstBalance := dst.Balance.Add(req.Amount)
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

	return &Result{
		TransactionID: txID,
		Status:        models.StatusCommitted,
		Message:       "transfer committed",
	}, nil
}
