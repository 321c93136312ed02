package ledger

import (
	"context"

	"github.com/opencbs/ledger/internal/models"
)

// Withdraw debits one account through a channel, enforcing the channel's
// daily limit and the minimum-balance reserve atomically with the mutation.
func (e *Engine) Withdraw(ctx context.Context, req WithdrawRequest) (*Result, error) {
	if !req.Channel.Valid() {
		return rejected(req.TransactionID, ReasonInvalidChannel), nil
	}
	if !validAmount(req.Amount) {
		return rejected(req.TransactionID, ReasonInvalidAmount), nil
	}
	if req.CardNumber == "" && req.AccountNumber == "" {
		return rejected(req.TransactionID, ReasonAccountNotFound), nil
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

	var card *models.Card
	accountNumber := req.AccountNumber
	if req.CardNumber != "" {
		card, err = e.fetchCard(ctx, tx, req.CardNumber)
		if err != nil {
			return e.failed(txID, err), err
		}
		if card == nil {
			return rejected(txID, ReasonCardNotFound), nil
		}
		if card.Status != models.CardStatusActive {
			return rejected(txID, ReasonCardNotActive), nil
		}
		accountNumber = card.AccountNumber
	}

	acct, err := e.lockAccount(ctx, tx, accountNumber)
	if err != nil {
		return e.failed(txID, err), err
	}
	if acct == nil {
		return rejected(txID, ReasonAccountNotFound), nil
	}

	// Eligibility is decided under the lock just taken; pre-lock reads of
	// balance or the accumulator are never reused.
	decision, err := e.checkWithdrawal(ctx, tx, acct, card, req.Amount, req.Channel)
	if err != nil {
		return e.failed(txID, err), err
	}

	row := &models.Transaction{
		TransactionID: txID,
		Type:          models.TransactionTypeWithdrawal,
		Channel:       req.Channel,
		Amount:        req.Amount,
		Currency:      acct.Currency,
		BalanceBefore: acct.Balance,
		SourceAccount: acct.AccountNumber,
		CardNumber:    req.CardNumber,
		Remarks:       req.Remarks,
		InitiatedBy:   req.InitiatedBy,
	}

	if !decision.Allowed {
		row.Reason = decision.Reason
		remaining := decision.RemainingLimit
		return e.rejectAttempt(ctx, tx, row, &remaining)
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

	remaining := decision.RemainingLimit
	return &Result{
		TransactionID:  txID,
		Status:         models.StatusCommitted,
		Message:        "withdrawal committed",
		RemainingLimit: &remaining,
	}, nil
}
