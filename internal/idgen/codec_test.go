package idgen

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"

	"github.com/opencbs/ledger/internal/sequence"
)

func TestCustomerID(t *testing.T) {
	issued := time.Date(2026, time.March, 15, 10, 0, 0, 0, time.UTC)

	id := FormatCustomerID(issued, 10234, 42)
	assert.Equal(t, "26074-10234-0042", id)
	assert.True(t, ValidateCustomerID(id))

	t.Run("day of year out of bounds", func(t *testing.T) {
		assert.False(t, ValidateCustomerID("26000-10234-0042"))
		assert.False(t, ValidateCustomerID("26367-10234-0042"))
	})

	t.Run("day 366 requires a leap year", func(t *testing.T) {
		// 2024 is a leap year, 2026 is not.
		assert.True(t, ValidateCustomerID("24366-10234-0042"))
		assert.False(t, ValidateCustomerID("26366-10234-0042"))
	})

	t.Run("malformed input", func(t *testing.T) {
		assert.False(t, ValidateCustomerID(""))
		assert.False(t, ValidateCustomerID("26074-10234-42"))
		assert.False(t, ValidateCustomerID("2607410234-0042"))
		assert.False(t, ValidateCustomerID("26074-1023A-0042"))
	})
}

func TestAccountNumber(t *testing.T) {
	acct := FormatAccountNumber(10234, 1, 2, 567890)
	assert.True(t, ValidateAccountNumber(acct))

	t.Run("round trip for a spread of inputs", func(t *testing.T) {
		for branch := 1; branch < 99999; branch += 12007 {
			for seq := int64(1); seq < 999999; seq += 199999 {
				id := FormatAccountNumber(branch, 7, 3, seq)
				assert.True(t, ValidateAccountNumber(id), "account number %s", id)
			}
		}
	})

	t.Run("single digit corruption is detected", func(t *testing.T) {
		for i, r := range acct {
			if r == '-' {
				continue
			}
			corrupted := []byte(acct)
			corrupted[i] = '0' + byte((int(r-'0')+1)%10)
			assert.False(t, ValidateAccountNumber(string(corrupted)),
				"corruption at position %d went undetected: %s", i, corrupted)
		}
	})

	t.Run("malformed input", func(t *testing.T) {
		assert.False(t, ValidateAccountNumber(""))
		assert.False(t, ValidateAccountNumber("10234-0102-567890"))
		assert.False(t, ValidateAccountNumber("10234-0102-567890-XX"))
	})
}

func TestTransactionID(t *testing.T) {
	booked := time.Date(2026, time.January, 31, 23, 59, 0, 0, time.UTC)

	id := FormatTransactionID(booked, 123)
	assert.Equal(t, "TRX-20260131-000123", id)
	assert.True(t, ValidateTransactionID(id))

	t.Run("calendar dates are validated", func(t *testing.T) {
		assert.True(t, ValidateTransactionID("TRX-20240229-000001"))  // leap year
		assert.False(t, ValidateTransactionID("TRX-20260229-000001")) // not a leap year
		assert.False(t, ValidateTransactionID("TRX-20260431-000001"))
		assert.False(t, ValidateTransactionID("TRX-20261301-000001"))
	})

	t.Run("malformed input", func(t *testing.T) {
		assert.False(t, ValidateTransactionID("TRX-2026013-000123"))
		assert.False(t, ValidateTransactionID("TXN-20260131-000123"))
		assert.False(t, ValidateTransactionID("TRX-20260131-123"))
	})
}

func TestEmployeeID(t *testing.T) {
	id := FormatEmployeeID(4, 17, 3, 881)
	assert.Equal(t, "0417-03-0881", id)
	assert.True(t, ValidateEmployeeID(id))
	assert.False(t, ValidateEmployeeID("417-03-0881"))
	assert.False(t, ValidateEmployeeID("0417-3-0881"))
}

func TestValidateDispatch(t *testing.T) {
	assert.True(t, Validate(KindTransaction, "TRX-20260131-000123"))
	assert.True(t, Validate(KindEmployee, "0417-03-0881"))
	assert.False(t, Validate(Kind("branch"), "anything"))
}

func TestGenerator(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	gen := NewGenerator(sequence.New(db))
	gen.now = func() time.Time {
		return time.Date(2026, time.June, 1, 9, 30, 0, 0, time.UTC)
	}

	expectNext := func(name string, current int64) {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT current_value, increment, min_value, max_value, cycle FROM sequences WHERE name = \\$1 FOR UPDATE").
			WithArgs(name).
			WillReturnRows(sqlmock.NewRows([]string{"current_value", "increment", "min_value", "max_value", "cycle"}).
				AddRow(current, 1, 1, 999999, false))
		mock.ExpectExec("UPDATE sequences SET current_value = \\$1 WHERE name = \\$2").
			WithArgs(current+1, name).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()
	}

	ctx := context.Background()

	expectNext(sequence.TransactionSeq, 776)
	txID, err := gen.TransactionID(ctx)
	assert.NoError(t, err)
	assert.Equal(t, "TRX-20260601-000777", txID)
	assert.True(t, ValidateTransactionID(txID))

	expectNext(sequence.CustomerSeq, 11)
	custID, err := gen.CustomerID(ctx, 10234)
	assert.NoError(t, err)
	assert.Equal(t, "26152-10234-0012", custID)
	assert.True(t, ValidateCustomerID(custID))

	expectNext(sequence.AccountSeq, 567889)
	acctNum, err := gen.AccountNumber(ctx, 10234, 1, 2)
	assert.NoError(t, err)
	assert.True(t, ValidateAccountNumber(acctNum))

	expectNext(sequence.EmployeeSeq, 880)
	empID, err := gen.EmployeeID(ctx, 4, 17, 3)
	assert.NoError(t, err)
	assert.Equal(t, "0417-03-0881", empID)

	assert.NoError(t, mock.ExpectationsWereMet())
}
