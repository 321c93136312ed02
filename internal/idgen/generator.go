package idgen

import (
	"context"
	"time"

	"github.com/opencbs/ledger/internal/sequence"
)

// Generator produces identifiers backed by the sequence allocator. The
// allocator is the sole source of sequence components; nothing here draws
// random numbers, so generated identifiers cannot collide while a counter
// is monotonic.
type Generator struct {
	alloc *sequence.Allocator
	now   func() time.Time
}

func NewGenerator(alloc *sequence.Allocator) *Generator {
	return &Generator{alloc: alloc, now: time.Now}
}

// CustomerID issues the next customer ID for the given branch.
func (g *Generator) CustomerID(ctx context.Context, branch int) (string, error) {
	seq, err := g.alloc.Next(ctx, sequence.CustomerSeq)
	if err != nil {
		return "", err
	}
	return FormatCustomerID(g.now(), branch, seq), nil
}

// AccountNumber issues the next account number for the given branch,
// account type and subtype, including the mod-97 check digits.
func (g *Generator) AccountNumber(ctx context.Context, branch, accountType, subtype int) (string, error) {
	seq, err := g.alloc.Next(ctx, sequence.AccountSeq)
	if err != nil {
		return "", err
	}
	return FormatAccountNumber(branch, accountType, subtype, seq), nil
}

// TransactionID issues the next transaction ID, dated today.
func (g *Generator) TransactionID(ctx context.Context) (string, error) {
	seq, err := g.alloc.Next(ctx, sequence.TransactionSeq)
	if err != nil {
		return "", err
	}
	return FormatTransactionID(g.now(), seq), nil
}

// EmployeeID issues the next employee ID for the given zone, branch and
// designation.
func (g *Generator) EmployeeID(ctx context.Context, zone, branch, designation int) (string, error) {
	seq, err := g.alloc.Next(ctx, sequence.EmployeeSeq)
	if err != nil {
		return "", err
	}
	return FormatEmployeeID(zone, branch, designation, seq), nil
}
