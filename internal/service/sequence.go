package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"medledger/internal/repository"
)

// billNumberDigits is the zero-padded width of the counter part of a bill number.
const billNumberDigits = 6

// BillNumberGenerator issues bill numbers of the form PREFIX-YEAR-NNNNNN.
// Next must run inside the billing transaction: the epoch counter row stays
// locked until commit, which serialises concurrent billers and keeps numbers
// gap-free when a bill is rolled back.
type BillNumberGenerator struct {
	sequences repository.SequenceRepository
	bills     repository.BillRepository
	prefix    string
	now       func() time.Time
}

func NewBillNumberGenerator(sequences repository.SequenceRepository, bills repository.BillRepository, prefix string, now func() time.Time) *BillNumberGenerator {
	if now == nil {
		now = time.Now
	}
	return &BillNumberGenerator{sequences: sequences, bills: bills, prefix: prefix, now: now}
}

// Epoch is the counter scope for the current clock, e.g. "MC-2026".
func (g *BillNumberGenerator) Epoch() string {
	return fmt.Sprintf("%s-%d", g.prefix, g.now().Year())
}

func (g *BillNumberGenerator) Next(ctx context.Context) (string, error) {
	epoch := g.Epoch()
	n, err := g.sequences.Next(ctx, epoch, func(ctx context.Context) (int64, error) {
		return g.seed(ctx, epoch)
	})
	if err != nil {
		return "", err
	}
	return formatBillNumber(epoch, n), nil
}

// seed continues from bills issued before the counter row existed.
func (g *BillNumberGenerator) seed(ctx context.Context, epoch string) (int64, error) {
	last, err := g.bills.LastNumberWithPrefix(ctx, epoch+"-")
	if err != nil {
		return 0, err
	}
	if last == "" {
		return 0, nil
	}
	return parseBillSequence(epoch, last)
}

func formatBillNumber(epoch string, n int64) string {
	return fmt.Sprintf("%s-%0*d", epoch, billNumberDigits, n)
}

// parseBillSequence extracts the counter from a stored bill number. Anything
// that is not epoch-digits is corrupt data, not a retryable condition.
func parseBillSequence(epoch, number string) (int64, error) {
	suffix, ok := strings.CutPrefix(number, epoch+"-")
	if !ok || len(suffix) < billNumberDigits {
		return 0, dataIntegrity(fmt.Sprintf("bill number %q does not match %s-NNNNNN", number, epoch), nil)
	}
	n, err := strconv.ParseInt(suffix, 10, 64)
	if err != nil || n < 0 {
		return 0, dataIntegrity(fmt.Sprintf("bill number %q has a non-numeric sequence", number), err)
	}
	return n, nil
}
