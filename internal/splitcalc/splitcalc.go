// Package splitcalc computes per-debtor shares for a shared bill. All
// arithmetic uses exact decimals with two fractional digits; floats never
// enter the computation.
package splitcalc

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Mode identifies how a bill total is divided among its debtors.
type Mode string

const (
	// ModeEqual divides the total evenly across debtors and payer.
	ModeEqual Mode = "EQUAL"
	// ModeUnequal uses an explicit amount per debtor.
	ModeUnequal Mode = "UNEQUAL"
)

// ErrInvalidSplit is the base error every split validation failure wraps.
// Callers can match the category with errors.Is(err, ErrInvalidSplit) or a
// specific cause with the sentinels below.
var ErrInvalidSplit = errors.New("invalid split")

var (
	ErrEmptyParticipants = fmt.Errorf("%w: at least one debtor is required", ErrInvalidSplit)
	ErrDuplicateDebtor   = fmt.Errorf("%w: debtor listed more than once", ErrInvalidSplit)
	ErrPayerIsDebtor     = fmt.Errorf("%w: the payer cannot owe themselves", ErrInvalidSplit)
	ErrAmountNotPositive = fmt.Errorf("%w: amounts must be positive with at most two decimal places", ErrInvalidSplit)
	ErrMixedAmounts      = fmt.Errorf("%w: either every debtor carries an explicit amount or none does", ErrInvalidSplit)
	ErrShareOverflow     = fmt.Errorf("%w: debtor shares exceed the bill total", ErrInvalidSplit)
	ErrTotalMismatch     = fmt.Errorf("%w: explicit shares must add up to the bill total", ErrInvalidSplit)
)

// Debtor is one requested participant. A nil Amount means the share should
// be computed (equal mode); a non-nil Amount is an explicit share.
type Debtor struct {
	Key    string
	Amount *decimal.Decimal
}

// Input describes a requested split.
type Input struct {
	// Total is the full bill amount paid by the payer.
	Total decimal.Decimal
	// PayerKey identifies the payer among the participant keys.
	PayerKey string
	// PayerShare optionally fixes the payer's own retained share. Only
	// valid when every debtor carries an explicit amount, in which case
	// shares plus PayerShare must add up to Total exactly.
	PayerShare *decimal.Decimal
	// Debtors lists everyone who will owe a part of the bill.
	Debtors []Debtor
}

// Share is one debtor's computed obligation.
type Share struct {
	Key    string
	Amount decimal.Decimal
}

// Result is the outcome of a split computation. The sum of all shares plus
// the payer's retained share equals the input total exactly.
type Result struct {
	Mode   Mode
	Shares []Share
	// PayerShare is the part of the total the payer keeps for themselves.
	PayerShare decimal.Decimal
}

// Compute validates the input and derives each debtor's share. The mode is
// inferred from the debtor list: no explicit amounts means an equal split,
// all explicit amounts an unequal one, and a mixture is rejected.
func Compute(in Input) (*Result, error) {
	if !in.Total.IsPositive() || !centPrecision(in.Total) {
		return nil, fmt.Errorf("total %s: %w", in.Total, ErrAmountNotPositive)
	}
	if len(in.Debtors) == 0 {
		return nil, ErrEmptyParticipants
	}

	seen := make(map[string]bool, len(in.Debtors))
	explicit := 0
	for _, d := range in.Debtors {
		if d.Key == in.PayerKey {
			return nil, fmt.Errorf("%q: %w", d.Key, ErrPayerIsDebtor)
		}
		if seen[d.Key] {
			return nil, fmt.Errorf("%q: %w", d.Key, ErrDuplicateDebtor)
		}
		seen[d.Key] = true
		if d.Amount != nil {
			explicit++
		}
	}

	switch {
	case explicit == 0:
		return computeEqual(in)
	case explicit == len(in.Debtors):
		return computeUnequal(in)
	default:
		return nil, ErrMixedAmounts
	}
}

func computeEqual(in Input) (*Result, error) {
	if in.PayerShare != nil {
		return nil, fmt.Errorf("payer share: %w", ErrMixedAmounts)
	}

	// The payer counts as one head alongside every debtor. Each debtor owes
	// the total divided by the head count, rounded up to the next cent; the
	// payer keeps whatever remains.
	heads := int64(len(in.Debtors)) + 1
	share := ceilToCent(in.Total, heads)

	retained := in.Total.Sub(share.Mul(decimal.NewFromInt(int64(len(in.Debtors)))))
	if retained.IsNegative() {
		return nil, fmt.Errorf("share %s x %d on total %s: %w",
			share, len(in.Debtors), in.Total, ErrShareOverflow)
	}

	shares := make([]Share, len(in.Debtors))
	for i, d := range in.Debtors {
		shares[i] = Share{Key: d.Key, Amount: share}
	}

	return &Result{Mode: ModeEqual, Shares: shares, PayerShare: retained}, nil
}

func computeUnequal(in Input) (*Result, error) {
	shares := make([]Share, len(in.Debtors))
	sum := decimal.Zero
	for i, d := range in.Debtors {
		if !d.Amount.IsPositive() || !centPrecision(*d.Amount) {
			return nil, fmt.Errorf("%q owes %s: %w", d.Key, d.Amount, ErrAmountNotPositive)
		}
		shares[i] = Share{Key: d.Key, Amount: *d.Amount}
		sum = sum.Add(*d.Amount)
	}

	if in.PayerShare != nil {
		// An explicit payer share turns the input into a full accounting:
		// every part of the total must be spoken for.
		if in.PayerShare.IsNegative() || !centPrecision(*in.PayerShare) {
			return nil, fmt.Errorf("payer share %s: %w", in.PayerShare, ErrAmountNotPositive)
		}
		if !sum.Add(*in.PayerShare).Equal(in.Total) {
			return nil, fmt.Errorf("%s + payer %s != total %s: %w",
				sum, in.PayerShare, in.Total, ErrTotalMismatch)
		}
		return &Result{Mode: ModeUnequal, Shares: shares, PayerShare: *in.PayerShare}, nil
	}

	retained := in.Total.Sub(sum)
	if retained.IsNegative() {
		return nil, fmt.Errorf("shares %s on total %s: %w", sum, in.Total, ErrShareOverflow)
	}

	return &Result{Mode: ModeUnequal, Shares: shares, PayerShare: retained}, nil
}

// ceilToCent divides total by n and rounds the quotient up to the next cent.
func ceilToCent(total decimal.Decimal, n int64) decimal.Decimal {
	cents := total.Shift(2)
	return cents.Div(decimal.NewFromInt(n)).Ceil().Shift(-2)
}

// centPrecision reports whether d has no fraction beyond two decimal places.
func centPrecision(d decimal.Decimal) bool {
	return d.Equal(d.Truncate(2))
}
