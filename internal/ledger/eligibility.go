package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opencbs/ledger/internal/models"
)

// dailyAccumulated sums today's committed amounts for the card (or, for
// cardless withdrawals, the account) on the given channel. It is a
// query-time aggregate, never a cached counter: the engine calls it inside
// the same lock scope as the mutation it gates, so two concurrent
// withdrawals cannot both read a stale total and jointly exceed the limit.
func (e *Engine) dailyAccumulated(ctx context.Context, q querier, cardNumber, accountNumber string, channel models.Channel) (decimal.Decimal, error) {
	now := e.now()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	dayEnd := dayStart.Add(24 * time.Hour)

	var accumulated decimal.Decimal
	var err error
	if cardNumber != "" {
		err = q.QueryRowContext(ctx, `
			SELECT COALESCE(SUM(amount), 0)
			FROM transactions
			WHERE card_number = $1 AND channel = $2 AND status = $3
			  AND created_at >= $4 AND created_at < $5`,
			cardNumber, string(channel), models.StatusCommitted, dayStart, dayEnd).Scan(&accumulated)
	} else {
		err = q.QueryRowContext(ctx, `
			SELECT COALESCE(SUM(amount), 0)
			FROM transactions
			WHERE source_account = $1 AND channel = $2 AND status = $3
			  AND created_at >= $4 AND created_at < $5`,
			accountNumber, string(channel), models.StatusCommitted, dayStart, dayEnd).Scan(&accumulated)
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("daily accumulator for channel %s: %w", channel, err)
	}
	return accumulated, nil
}

// checkWithdrawal evaluates status, daily-limit and minimum-balance gates
// for a channel debit. The caller must already hold the account row lock
// when this decision gates a mutation.
func (e *Engine) checkWithdrawal(ctx context.Context, q querier, acct *models.Account, card *models.Card, amount decimal.Decimal, channel models.Channel) (*Decision, error) {
	if card != nil && card.Status != models.CardStatusActive {
		return &Decision{Reason: ReasonCardNotActive}, nil
	}
	if reason := accountStatusReason(acct.Status); reason != "" {
		return &Decision{Reason: reason}, nil
	}

	limit := acct.DailyLimit(channel)
	cardNumber := ""
	if card != nil {
		limit = card.DailyLimit(channel)
		cardNumber = card.CardNumber
	}

	accumulated, err := e.dailyAccumulated(ctx, q, cardNumber, acct.AccountNumber, channel)
	if err != nil {
		return nil, err
	}

	remaining := limit.Sub(accumulated)
	if remaining.IsNegative() {
		remaining = decimal.Zero
	}
	if accumulated.Add(amount).GreaterThan(limit) {
		return &Decision{Reason: ReasonLimitExceeded, RemainingLimit: remaining}, nil
	}

	if amount.GreaterThan(acct.Headroom()) {
		return &Decision{Reason: ReasonInsufficientFunds, RemainingLimit: remaining}, nil
	}

	return &Decision{Allowed: true, RemainingLimit: remaining.Sub(amount)}, nil
}

// checkDebit evaluates the status and minimum-balance gates for debits that
// carry no channel limit (transfers, bill payments, reversal debits).
func checkDebit(acct *models.Account, amount decimal.Decimal) string {
	if reason := accountStatusReason(acct.Status); reason != "" {
		return reason
	}
	if amount.GreaterThan(acct.Headroom()) {
		return ReasonInsufficientFunds
	}
	return ""
}

// creditable reports whether an account may receive funds. Dormant accounts
// accept credits; frozen and closed ones do not.
func creditable(acct *models.Account) string {
	switch acct.Status {
	case models.AccountStatusActive, models.AccountStatusDormant:
		return ""
	default:
		return accountStatusReason(acct.Status)
	}
}

// CheckEligibility is the advisory, lock-free variant used by enquiry
// callers. The engine never trusts it for a mutation: the same checks run
// again under the account row lock, since status, balance and the daily
// accumulator may all change between this read and the commit.
func (e *Engine) CheckEligibility(ctx context.Context, accountNumber, cardNumber string, amount decimal.Decimal, channel models.Channel) (*Decision, error) {
	if !validAmount(amount) {
		return &Decision{Reason: ReasonInvalidAmount}, nil
	}
	if !channel.Valid() {
		return &Decision{Reason: ReasonInvalidChannel}, nil
	}

	var card *models.Card
	if cardNumber != "" {
		var err error
		card, err = e.fetchCard(ctx, e.db, cardNumber)
		if err != nil {
			return nil, err
		}
		if card == nil {
			return &Decision{Reason: ReasonCardNotFound}, nil
		}
		accountNumber = card.AccountNumber
	}

	var acct models.Account
	err := e.db.QueryRowContext(ctx, `
		SELECT account_number, customer_id, balance, minimum_balance, currency, status,
		       atm_daily_limit, pos_daily_limit, online_daily_limit
		FROM accounts
		WHERE account_number = $1`, accountNumber).Scan(
		&acct.AccountNumber, &acct.CustomerID, &acct.Balance, &acct.MinimumBalance,
		&acct.Currency, &acct.Status,
		&acct.ATMDailyLimit, &acct.POSDailyLimit, &acct.OnlineDailyLimit)
	if errors.Is(err, sql.ErrNoRows) {
		return &Decision{Reason: ReasonAccountNotFound}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetch account %s: %w", accountNumber, err)
	}

	return e.checkWithdrawal(ctx, e.db, &acct, card, amount, channel)
}
