package sequence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"

	"github.com/opencbs/ledger/internal/models"
)

// Counter names used by the identifier generator.
const (
	CustomerSeq    = "customer_seq"
	AccountSeq     = "account_seq"
	TransactionSeq = "transaction_seq"
	EmployeeSeq    = "employee_seq"
)

var (
	// ErrSequenceNotFound indicates the named counter row does not exist.
	ErrSequenceNotFound = errors.New("sequence not found")
	// ErrSequenceExhausted indicates a non-cycling counter reached its max
	// value. The counter issues nothing further until operators intervene.
	ErrSequenceExhausted = errors.New("sequence exhausted")
)

// Allocator issues unique, monotonically increasing values from named
// counter rows in the sequences table. Every call runs in its own short
// transaction: the counter row lock is never held across ledger work and an
// account lock is never held while a counter is being advanced.
type Allocator struct {
	db *sql.DB
}

func New(db *sql.DB) *Allocator {
	return &Allocator{db: db}
}

// Next atomically reads and advances the named counter and returns the new
// value. Concurrent callers serialize on the counter row lock, so no value
// is ever issued twice and no update is lost.
//
// When the counter would pass max_value: a cycling counter wraps to
// min_value and the wrap is logged for operators, since wrapped values may
// collide with historical identifiers; a non-cycling counter returns
// ErrSequenceExhausted and stays at max_value.
func (a *Allocator) Next(ctx context.Context, name string) (int64, error) {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin sequence tx: %w", err)
	}
	defer tx.Rollback()

	seq := models.Sequence{Name: name}
	err = tx.QueryRowContext(ctx, `
		SELECT current_value, increment, min_value, max_value, cycle
		FROM sequences
		WHERE name = $1
		FOR UPDATE`, name).Scan(&seq.CurrentValue, &seq.Increment, &seq.MinValue, &seq.MaxValue, &seq.Cycle)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("%w: %s", ErrSequenceNotFound, name)
		}
		return 0, fmt.Errorf("lock sequence %s: %w", name, err)
	}

	next := seq.CurrentValue + seq.Increment
	if next > seq.MaxValue {
		if !seq.Cycle {
			return 0, fmt.Errorf("%w: %s reached max value %d", ErrSequenceExhausted, name, seq.MaxValue)
		}
		log.Printf("[SEQUENCE] counter %s wrapped to %d; wrapped values may collide with historical identifiers", name, seq.MinValue)
		next = seq.MinValue
	}

	if _, err := tx.ExecContext(ctx, `UPDATE sequences SET current_value = $1 WHERE name = $2`, next, name); err != nil {
		return 0, fmt.Errorf("advance sequence %s: %w", name, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit sequence %s: %w", name, err)
	}

	return next, nil
}
