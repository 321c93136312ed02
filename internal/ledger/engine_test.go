package ledger

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencbs/ledger/internal/audit"
	"github.com/opencbs/ledger/internal/config"
	"github.com/opencbs/ledger/internal/idgen"
	"github.com/opencbs/ledger/internal/models"
	"github.com/opencbs/ledger/internal/sequence"
)

const (
	acctA = "10234-0102-000001-42"
	acctB = "10234-0102-000002-57"
	cardA = "5196000000000001"
)

var testNow = time.Date(2026, time.June, 1, 12, 0, 0, 0, time.UTC)

func newTestEngine(t *testing.T) (*Engine, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cfg := &config.EngineConfig{
		LockTimeout:        5 * time.Second,
		HighValueThreshold: decimal.NewFromInt(50_000),
		DefaultCurrency:    "INR",
		NotificationQueue:  "notifications",
	}
	engine := NewEngine(db, idgen.NewGenerator(sequence.New(db)), audit.NewLogSink(), audit.NewQueueNotifier(nil, "notifications"), cfg)
	engine.now = func() time.Time { return testNow }
	return engine, mock
}

func expectNoPriorAttempt(mock sqlmock.Sqlmock, txID string) {
	mock.ExpectQuery("SELECT status, COALESCE\\(reason, ''\\) FROM transactions WHERE transaction_id = \\$1").
		WithArgs(txID).
		WillReturnError(sql.ErrNoRows)
}

func expectBeginWithLockTimeout(mock sqlmock.Sqlmock) {
	mock.ExpectBegin()
	mock.ExpectExec("SET LOCAL lock_timeout").
		WillReturnResult(sqlmock.NewResult(0, 0))
}

func accountColumns() []string {
	return []string{"account_number", "customer_id", "balance", "minimum_balance", "currency", "status",
		"atm_daily_limit", "pos_daily_limit", "online_daily_limit"}
}

func expectLockAccount(mock sqlmock.Sqlmock, accountNumber, balance, minimum, status string) {
	mock.ExpectQuery("SELECT account_number, customer_id, balance, minimum_balance, currency, status, atm_daily_limit, pos_daily_limit, online_daily_limit FROM accounts WHERE account_number = \\$1 FOR UPDATE").
		WithArgs(accountNumber).
		WillReturnRows(sqlmock.NewRows(accountColumns()).
			AddRow(accountNumber, "26074-10234-0042", balance, minimum, "INR", status,
				"10000.00", "25000.00", "50000.00"))
}

func expectAccumulator(mock sqlmock.Sqlmock, key, accumulated string) {
	mock.ExpectQuery("SELECT COALESCE\\(SUM\\(amount\\), 0\\) FROM transactions WHERE source_account = \\$1 AND channel = \\$2 AND status = \\$3").
		WithArgs(key, "ATM", models.StatusCommitted, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(accumulated))
}

// Account A holds 10,000 with a 1,000 minimum balance and a 10,000 ATM
// limit. A 9,500 withdrawal must be rejected on the minimum-balance
// reserve; an 8,500 withdrawal must commit, leaving 1,500 on the account
// and 1,500 of ATM allowance.
func TestWithdraw_MinimumBalanceScenario(t *testing.T) {
	engine, mock := newTestEngine(t)
	ctx := context.Background()

	t.Run("9500 rejected on minimum balance reserve", func(t *testing.T) {
		txID := "TRX-20260601-000101"
		expectNoPriorAttempt(mock, txID)
		expectBeginWithLockTimeout(mock)
		expectLockAccount(mock, acctA, "10000.00", "1000.00", models.AccountStatusActive)
		expectAccumulator(mock, acctA, "0")
		mock.ExpectExec("INSERT INTO transactions").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		res, err := engine.Withdraw(ctx, WithdrawRequest{
			AccountNumber: acctA,
			Amount:        decimal.RequireFromString("9500.00"),
			Channel:       models.ChannelATM,
			InitiatedBy:   "0417-03-0881",
			TransactionID: txID,
		})
		require.NoError(t, err)
		assert.Equal(t, models.StatusRejected, res.Status)
		assert.Equal(t, ReasonInsufficientFunds, res.Message)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("8500 commits and leaves 1500 of allowance", func(t *testing.T) {
		txID := "TRX-20260601-000102"
		expectNoPriorAttempt(mock, txID)
		expectBeginWithLockTimeout(mock)
		expectLockAccount(mock, acctA, "10000.00", "1000.00", models.AccountStatusActive)
		expectAccumulator(mock, acctA, "0")
		mock.ExpectExec("UPDATE accounts SET balance = \\$1, last_transaction_at = \\$2, updated_at = \\$2 WHERE account_number = \\$3").
			WithArgs(decimal.RequireFromString("1500.00"), sqlmock.AnyArg(), acctA).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO transactions").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		res, err := engine.Withdraw(ctx, WithdrawRequest{
			AccountNumber: acctA,
			Amount:        decimal.RequireFromString("8500.00"),
			Channel:       models.ChannelATM,
			InitiatedBy:   "0417-03-0881",
			TransactionID: txID,
		})
		require.NoError(t, err)
		assert.Equal(t, models.StatusCommitted, res.Status)
		require.NotNil(t, res.RemainingLimit)
		assert.True(t, res.RemainingLimit.Equal(decimal.NewFromInt(1500)),
			"remaining limit %s", res.RemainingLimit)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

// With a 10,000 ATM limit and 6,000 already committed today, a second
// 6,000 withdrawal must be rejected and report the 4,000 still available.
// The accumulator is read under the account lock, so the two requests
// serialize and cannot jointly exceed the limit.
func TestWithdraw_DailyLimit(t *testing.T) {
	engine, mock := newTestEngine(t)

	txID := "TRX-20260601-000103"
	expectNoPriorAttempt(mock, txID)
	expectBeginWithLockTimeout(mock)
	expectLockAccount(mock, acctA, "50000.00", "1000.00", models.AccountStatusActive)
	expectAccumulator(mock, acctA, "6000.00")
	mock.ExpectExec("INSERT INTO transactions").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	res, err := engine.Withdraw(context.Background(), WithdrawRequest{
		AccountNumber: acctA,
		Amount:        decimal.RequireFromString("6000.00"),
		Channel:       models.ChannelATM,
		TransactionID: txID,
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusRejected, res.Status)
	assert.Equal(t, "exceeds daily limit, remaining 4000.00", res.Message)
	require.NotNil(t, res.RemainingLimit)
	assert.True(t, res.RemainingLimit.Equal(decimal.NewFromInt(4000)))
	assert.NoError(t, mock.ExpectationsWereMet())
}

// Card withdrawals resolve the account through the card and apply the
// card's channel limit; blocked cards are rejected before the account is
// even locked.
func TestWithdraw_CardGating(t *testing.T) {
	engine, mock := newTestEngine(t)

	txID := "TRX-20260601-000104"
	expectNoPriorAttempt(mock, txID)
	expectBeginWithLockTimeout(mock)
	mock.ExpectQuery("SELECT card_number, account_number, status, atm_daily_limit, pos_daily_limit, online_daily_limit FROM cards WHERE card_number = \\$1").
		WithArgs(cardA).
		WillReturnRows(sqlmock.NewRows([]string{"card_number", "account_number", "status",
			"atm_daily_limit", "pos_daily_limit", "online_daily_limit"}).
			AddRow(cardA, acctA, models.CardStatusBlocked, "10000.00", "25000.00", "50000.00"))
	mock.ExpectRollback()

	res, err := engine.Withdraw(context.Background(), WithdrawRequest{
		CardNumber:    cardA,
		Amount:        decimal.RequireFromString("100.00"),
		Channel:       models.ChannelATM,
		TransactionID: txID,
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusRejected, res.Status)
	assert.Equal(t, ReasonCardNotActive, res.Message)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// A transfer locks both accounts in ascending account-number order
// regardless of direction, debits the source and credits the destination
// in the same commit.
func TestTransfer_Commit(t *testing.T) {
	engine, mock := newTestEngine(t)

	// Source B sorts after destination A, so A is locked first.
	txID := "TRX-20260601-000105"
	expectNoPriorAttempt(mock, txID)
	expectBeginWithLockTimeout(mock)
	expectLockAccount(mock, acctA, "1000.00", "0.00", models.AccountStatusActive)
	expectLockAccount(mock, acctB, "60000.00", "1000.00", models.AccountStatusActive)
	mock.ExpectExec("UPDATE accounts SET balance = \\$1, last_transaction_at = \\$2, updated_at = \\$2 WHERE account_number = \\$3").
		WithArgs(decimal.RequireFromString("35000.00"), sqlmock.AnyArg(), acctB).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE accounts SET balance = \\$1, last_transaction_at = \\$2, updated_at = \\$2 WHERE account_number = \\$3").
		WithArgs(decimal.RequireFromString("26000.00"), sqlmock.AnyArg(), acctA).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO transactions").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	res, err := engine.Transfer(context.Background(), TransferRequest{
		SourceAccount:      acctB,
		DestinationAccount: acctA,
		Amount:             decimal.RequireFromString("25000.00"),
		InitiatedBy:        "0417-03-0881",
		TransactionID:      txID,
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusCommitted, res.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransfer_InsufficientFunds(t *testing.T) {
	engine, mock := newTestEngine(t)

	txID := "TRX-20260601-000106"
	expectNoPriorAttempt(mock, txID)
	expectBeginWithLockTimeout(mock)
	expectLockAccount(mock, acctA, "1200.00", "1000.00", models.AccountStatusActive)
	expectLockAccount(mock, acctB, "60000.00", "1000.00", models.AccountStatusActive)
	mock.ExpectExec("INSERT INTO transactions").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	res, err := engine.Transfer(context.Background(), TransferRequest{
		SourceAccount:      acctA,
		DestinationAccount: acctB,
		Amount:             decimal.RequireFromString("500.00"),
		TransactionID:      txID,
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusRejected, res.Status)
	assert.Equal(t, ReasonInsufficientFunds, res.Message)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransfer_SameAccount(t *testing.T) {
	engine, _ := newTestEngine(t)

	res, err := engine.Transfer(context.Background(), TransferRequest{
		SourceAccount:      acctA,
		DestinationAccount: acctA,
		Amount:             decimal.RequireFromString("500.00"),
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusRejected, res.Status)
	assert.Equal(t, ReasonSameAccount, res.Message)
}

// A retry carrying a transaction ID that already reached a terminal state
// must short-circuit without touching any balance.
func TestIdempotentRetry(t *testing.T) {
	engine, mock := newTestEngine(t)

	txID := "TRX-20260601-000107"
	mock.ExpectQuery("SELECT status, COALESCE\\(reason, ''\\) FROM transactions WHERE transaction_id = \\$1").
		WithArgs(txID).
		WillReturnRows(sqlmock.NewRows([]string{"status", "reason"}).
			AddRow(models.StatusCommitted, ""))

	res, err := engine.Withdraw(context.Background(), WithdrawRequest{
		AccountNumber: acctA,
		Amount:        decimal.RequireFromString("8500.00"),
		Channel:       models.ChannelATM,
		TransactionID: txID,
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusCommitted, res.Status)
	assert.Equal(t, "transaction already processed", res.Message)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// An infrastructure error aborts the unit with nothing persisted; the
// caller gets FAILED and may retry with the same transaction ID.
func TestWithdraw_InfrastructureFailure(t *testing.T) {
	engine, mock := newTestEngine(t)

	txID := "TRX-20260601-000108"
	expectNoPriorAttempt(mock, txID)
	expectBeginWithLockTimeout(mock)
	expectLockAccount(mock, acctA, "10000.00", "1000.00", models.AccountStatusActive)
	expectAccumulator(mock, acctA, "0")
	mock.ExpectExec("UPDATE accounts SET balance = \\$1, last_transaction_at = \\$2, updated_at = \\$2 WHERE account_number = \\$3").
		WillReturnError(sql.ErrConnDone)
	mock.ExpectRollback()

	res, err := engine.Withdraw(context.Background(), WithdrawRequest{
		AccountNumber: acctA,
		Amount:        decimal.RequireFromString("100.00"),
		Channel:       models.ChannelATM,
		TransactionID: txID,
	})
	require.Error(t, err)
	assert.Equal(t, models.StatusFailed, res.Status)
	assert.Equal(t, txID, res.TransactionID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// A fresh request allocates its transaction ID through the sequence
// allocator before any account lock is taken.
func TestWithdraw_AllocatesTransactionID(t *testing.T) {
	engine, mock := newTestEngine(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT current_value, increment, min_value, max_value, cycle FROM sequences WHERE name = \\$1 FOR UPDATE").
		WithArgs(sequence.TransactionSeq).
		WillReturnRows(sqlmock.NewRows([]string{"current_value", "increment", "min_value", "max_value", "cycle"}).
			AddRow(500, 1, 1, 999999, false))
	mock.ExpectExec("UPDATE sequences SET current_value = \\$1 WHERE name = \\$2").
		WithArgs(int64(501), sequence.TransactionSeq).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	expectBeginWithLockTimeout(mock)
	expectLockAccount(mock, acctA, "10000.00", "1000.00", models.AccountStatusActive)
	expectAccumulator(mock, acctA, "0")
	mock.ExpectExec("UPDATE accounts SET balance = \\$1, last_transaction_at = \\$2, updated_at = \\$2 WHERE account_number = \\$3").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO transactions").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	res, err := engine.Withdraw(context.Background(), WithdrawRequest{
		AccountNumber: acctA,
		Amount:        decimal.RequireFromString("100.00"),
		Channel:       models.ChannelATM,
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusCommitted, res.Status)
	assert.True(t, idgen.ValidateTransactionID(res.TransactionID),
		"allocated id %s", res.TransactionID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// Reversing a committed transfer debits the original destination and
// credits the original source in one new linked journal row.
func TestReverse_Transfer(t *testing.T) {
	engine, mock := newTestEngine(t)

	origID := "TRX-20260530-000042"
	txID := "TRX-20260601-000109"
	expectNoPriorAttempt(mock, txID)
	expectBeginWithLockTimeout(mock)
	mock.ExpectQuery("SELECT transaction_id, type, amount, currency, status, source_account, destination_account FROM transactions WHERE transaction_id = \\$1 FOR UPDATE").
		WithArgs(origID).
		WillReturnRows(sqlmock.NewRows([]string{"transaction_id", "type", "amount", "currency", "status", "source_account", "destination_account"}).
			AddRow(origID, models.TransactionTypeTransfer, "25000.00", "INR", models.StatusCommitted, acctB, acctA))
	mock.ExpectQuery("SELECT EXISTS\\(SELECT 1 FROM transactions WHERE reversal_of = \\$1 AND status = \\$2\\)").
		WithArgs(origID, models.StatusCommitted).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	// Reversal debits A (the original destination); A sorts before B.
	expectLockAccount(mock, acctA, "26000.00", "0.00", models.AccountStatusActive)
	expectLockAccount(mock, acctB, "35000.00", "1000.00", models.AccountStatusActive)
	mock.ExpectExec("UPDATE accounts SET balance = \\$1, last_transaction_at = \\$2, updated_at = \\$2 WHERE account_number = \\$3").
		WithArgs(decimal.RequireFromString("1000.00"), sqlmock.AnyArg(), acctA).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE accounts SET balance = \\$1, last_transaction_at = \\$2, updated_at = \\$2 WHERE account_number = \\$3").
		WithArgs(decimal.RequireFromString("60000.00"), sqlmock.AnyArg(), acctB).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO transactions").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	res, err := engine.Reverse(context.Background(), ReverseRequest{
		OriginalTransactionID: origID,
		InitiatedBy:           "0417-03-0881",
		TransactionID:         txID,
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusCommitted, res.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReverse_AlreadyReversed(t *testing.T) {
	engine, mock := newTestEngine(t)

	origID := "TRX-20260530-000042"
	txID := "TRX-20260601-000110"
	expectNoPriorAttempt(mock, txID)
	expectBeginWithLockTimeout(mock)
	mock.ExpectQuery("SELECT transaction_id, type, amount, currency, status, source_account, destination_account FROM transactions WHERE transaction_id = \\$1 FOR UPDATE").
		WithArgs(origID).
		WillReturnRows(sqlmock.NewRows([]string{"transaction_id", "type", "amount", "currency", "status", "source_account", "destination_account"}).
			AddRow(origID, models.TransactionTypeWithdrawal, "8500.00", "INR", models.StatusCommitted, acctA, ""))
	mock.ExpectQuery("SELECT EXISTS\\(SELECT 1 FROM transactions WHERE reversal_of = \\$1 AND status = \\$2\\)").
		WithArgs(origID, models.StatusCommitted).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectRollback()

	res, err := engine.Reverse(context.Background(), ReverseRequest{
		OriginalTransactionID: origID,
		TransactionID:         txID,
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusRejected, res.Status)
	assert.Equal(t, ReasonAlreadyReversed, res.Message)
	assert.NoError(t, mock.ExpectationsWereMet())
}
