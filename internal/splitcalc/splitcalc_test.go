package splitcalc_test

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/edgard/tallybot/internal/splitcalc"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func decPtr(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func equalDebtors(keys ...string) []splitcalc.Debtor {
	debtors := make([]splitcalc.Debtor, len(keys))
	for i, k := range keys {
		debtors[i] = splitcalc.Debtor{Key: k}
	}
	return debtors
}

func TestCompute_EqualSplit(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		total      string
		debtors    []string
		wantShare  string
		wantRetain string
	}{
		{
			name:       "Even division",
			total:      "300.00",
			debtors:    []string{"ana", "bruno"},
			wantShare:  "100.00",
			wantRetain: "100.00",
		},
		{
			name:       "Rounds up to the next cent",
			total:      "100.00",
			debtors:    []string{"ana", "bruno"},
			wantShare:  "33.34",
			wantRetain: "33.32",
		},
		{
			name:       "Single debtor pays half",
			total:      "99.99",
			debtors:    []string{"ana"},
			wantShare:  "50.00",
			wantRetain: "49.99",
		},
		{
			name:       "Four heads",
			total:      "10.00",
			debtors:    []string{"ana", "bruno", "carla"},
			wantShare:  "2.50",
			wantRetain: "2.50",
		},
		{
			name:       "Cent totals survive rounding",
			total:      "0.04",
			debtors:    []string{"ana", "bruno", "carla"},
			wantShare:  "0.01",
			wantRetain: "0.01",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			result, err := splitcalc.Compute(splitcalc.Input{
				Total:    dec(tt.total),
				PayerKey: "payer",
				Debtors:  equalDebtors(tt.debtors...),
			})
			if err != nil {
				t.Fatalf("Compute() error = %v", err)
			}
			if result.Mode != splitcalc.ModeEqual {
				t.Errorf("Mode = %q, want %q", result.Mode, splitcalc.ModeEqual)
			}
			if len(result.Shares) != len(tt.debtors) {
				t.Fatalf("len(Shares) = %d, want %d", len(result.Shares), len(tt.debtors))
			}
			for i, share := range result.Shares {
				if share.Key != tt.debtors[i] {
					t.Errorf("Shares[%d].Key = %q, want %q", i, share.Key, tt.debtors[i])
				}
				if !share.Amount.Equal(dec(tt.wantShare)) {
					t.Errorf("Shares[%d].Amount = %s, want %s", i, share.Amount, tt.wantShare)
				}
			}
			if !result.PayerShare.Equal(dec(tt.wantRetain)) {
				t.Errorf("PayerShare = %s, want %s", result.PayerShare, tt.wantRetain)
			}
		})
	}
}

func TestCompute_EqualSplitOverflow(t *testing.T) {
	t.Parallel()

	// Two debtors at one rounded-up cent each exceed a one cent total.
	_, err := splitcalc.Compute(splitcalc.Input{
		Total:    dec("0.01"),
		PayerKey: "payer",
		Debtors:  equalDebtors("ana", "bruno"),
	})
	if !errors.Is(err, splitcalc.ErrShareOverflow) {
		t.Fatalf("Compute() error = %v, want ErrShareOverflow", err)
	}
	if !errors.Is(err, splitcalc.ErrInvalidSplit) {
		t.Errorf("error does not unwrap to ErrInvalidSplit: %v", err)
	}
}

func TestCompute_UnequalSplit(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		total      string
		payerShare *decimal.Decimal
		debtors    []splitcalc.Debtor
		wantRetain string
	}{
		{
			name:  "Remainder stays with the payer",
			total: "1000.00",
			debtors: []splitcalc.Debtor{
				{Key: "ana", Amount: decPtr("400.00")},
				{Key: "bruno", Amount: decPtr("350.00")},
			},
			wantRetain: "250.00",
		},
		{
			name:  "Full advance leaves the payer nothing",
			total: "500.00",
			debtors: []splitcalc.Debtor{
				{Key: "ana", Amount: decPtr("500.00")},
			},
			wantRetain: "0.00",
		},
		{
			name:       "Explicit payer share accounts for the whole total",
			total:      "100.00",
			payerShare: decPtr("25.00"),
			debtors: []splitcalc.Debtor{
				{Key: "ana", Amount: decPtr("40.00")},
				{Key: "bruno", Amount: decPtr("35.00")},
			},
			wantRetain: "25.00",
		},
		{
			name:       "Explicit zero payer share",
			total:      "75.00",
			payerShare: decPtr("0.00"),
			debtors: []splitcalc.Debtor{
				{Key: "ana", Amount: decPtr("75.00")},
			},
			wantRetain: "0.00",
		},
		{
			name:  "Cent amounts add up exactly",
			total: "10.00",
			debtors: []splitcalc.Debtor{
				{Key: "ana", Amount: decPtr("3.33")},
				{Key: "bruno", Amount: decPtr("3.33")},
				{Key: "carla", Amount: decPtr("3.33")},
			},
			wantRetain: "0.01",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			result, err := splitcalc.Compute(splitcalc.Input{
				Total:      dec(tt.total),
				PayerKey:   "payer",
				PayerShare: tt.payerShare,
				Debtors:    tt.debtors,
			})
			if err != nil {
				t.Fatalf("Compute() error = %v", err)
			}
			if result.Mode != splitcalc.ModeUnequal {
				t.Errorf("Mode = %q, want %q", result.Mode, splitcalc.ModeUnequal)
			}
			if !result.PayerShare.Equal(dec(tt.wantRetain)) {
				t.Errorf("PayerShare = %s, want %s", result.PayerShare, tt.wantRetain)
			}

			sum := result.PayerShare
			for _, share := range result.Shares {
				sum = sum.Add(share.Amount)
			}
			if !sum.Equal(dec(tt.total)) {
				t.Errorf("shares + payer = %s, want %s", sum, tt.total)
			}
		})
	}
}

func TestCompute_ValidationErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   splitcalc.Input
		wantErr error
	}{
		{
			name: "No debtors",
			input: splitcalc.Input{
				Total:    dec("10.00"),
				PayerKey: "payer",
			},
			wantErr: splitcalc.ErrEmptyParticipants,
		},
		{
			name: "Zero total",
			input: splitcalc.Input{
				Total:    dec("0"),
				PayerKey: "payer",
				Debtors:  equalDebtors("ana"),
			},
			wantErr: splitcalc.ErrAmountNotPositive,
		},
		{
			name: "Negative total",
			input: splitcalc.Input{
				Total:    dec("-5.00"),
				PayerKey: "payer",
				Debtors:  equalDebtors("ana"),
			},
			wantErr: splitcalc.ErrAmountNotPositive,
		},
		{
			name: "Sub-cent total",
			input: splitcalc.Input{
				Total:    dec("10.001"),
				PayerKey: "payer",
				Debtors:  equalDebtors("ana"),
			},
			wantErr: splitcalc.ErrAmountNotPositive,
		},
		{
			name: "Payer listed as debtor",
			input: splitcalc.Input{
				Total:    dec("10.00"),
				PayerKey: "payer",
				Debtors:  equalDebtors("ana", "payer"),
			},
			wantErr: splitcalc.ErrPayerIsDebtor,
		},
		{
			name: "Duplicate debtor",
			input: splitcalc.Input{
				Total:    dec("10.00"),
				PayerKey: "payer",
				Debtors:  equalDebtors("ana", "ana"),
			},
			wantErr: splitcalc.ErrDuplicateDebtor,
		},
		{
			name: "Mixed explicit and computed amounts",
			input: splitcalc.Input{
				Total:    dec("10.00"),
				PayerKey: "payer",
				Debtors: []splitcalc.Debtor{
					{Key: "ana", Amount: decPtr("5.00")},
					{Key: "bruno"},
				},
			},
			wantErr: splitcalc.ErrMixedAmounts,
		},
		{
			name: "Payer share without explicit amounts",
			input: splitcalc.Input{
				Total:      dec("10.00"),
				PayerKey:   "payer",
				PayerShare: decPtr("5.00"),
				Debtors:    equalDebtors("ana"),
			},
			wantErr: splitcalc.ErrMixedAmounts,
		},
		{
			name: "Zero explicit amount",
			input: splitcalc.Input{
				Total:    dec("10.00"),
				PayerKey: "payer",
				Debtors: []splitcalc.Debtor{
					{Key: "ana", Amount: decPtr("0")},
				},
			},
			wantErr: splitcalc.ErrAmountNotPositive,
		},
		{
			name: "Sub-cent explicit amount",
			input: splitcalc.Input{
				Total:    dec("10.00"),
				PayerKey: "payer",
				Debtors: []splitcalc.Debtor{
					{Key: "ana", Amount: decPtr("3.555")},
				},
			},
			wantErr: splitcalc.ErrAmountNotPositive,
		},
		{
			name: "Explicit amounts exceed the total",
			input: splitcalc.Input{
				Total:    dec("100.00"),
				PayerKey: "payer",
				Debtors: []splitcalc.Debtor{
					{Key: "ana", Amount: decPtr("60.00")},
					{Key: "bruno", Amount: decPtr("50.00")},
				},
			},
			wantErr: splitcalc.ErrShareOverflow,
		},
		{
			name: "Negative payer share",
			input: splitcalc.Input{
				Total:      dec("100.00"),
				PayerKey:   "payer",
				PayerShare: decPtr("-10.00"),
				Debtors: []splitcalc.Debtor{
					{Key: "ana", Amount: decPtr("110.00")},
				},
			},
			wantErr: splitcalc.ErrAmountNotPositive,
		},
		{
			name: "Explicit shares do not reach the total",
			input: splitcalc.Input{
				Total:      dec("100.00"),
				PayerKey:   "payer",
				PayerShare: decPtr("20.00"),
				Debtors: []splitcalc.Debtor{
					{Key: "ana", Amount: decPtr("40.00")},
					{Key: "bruno", Amount: decPtr("35.00")},
				},
			},
			wantErr: splitcalc.ErrTotalMismatch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := splitcalc.Compute(tt.input)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Compute() error = %v, want %v", err, tt.wantErr)
			}
			if !errors.Is(err, splitcalc.ErrInvalidSplit) {
				t.Errorf("error does not unwrap to ErrInvalidSplit: %v", err)
			}
		})
	}
}

func TestCompute_EqualAccountingIsExact(t *testing.T) {
	t.Parallel()

	// Whatever the head count does to rounding, debtor shares plus the
	// payer's remainder must reproduce the total exactly.
	totals := []string{"100.00", "0.05", "7.77", "1234.56", "99999.99", "0.03"}
	headCounts := []int{1, 2, 3, 4, 7, 11}

	for _, total := range totals {
		for _, n := range headCounts {
			keys := make([]string, n)
			for i := range keys {
				keys[i] = string(rune('a' + i))
			}
			result, err := splitcalc.Compute(splitcalc.Input{
				Total:    dec(total),
				PayerKey: "payer",
				Debtors:  equalDebtors(keys...),
			})
			if errors.Is(err, splitcalc.ErrShareOverflow) {
				// Tiny totals with many debtors cannot be divided.
				continue
			}
			if err != nil {
				t.Fatalf("Compute(%s, %d debtors) error = %v", total, n, err)
			}

			sum := result.PayerShare
			for _, share := range result.Shares {
				sum = sum.Add(share.Amount)
			}
			if !sum.Equal(dec(total)) {
				t.Errorf("total %s with %d debtors: shares + payer = %s", total, n, sum)
			}
			if result.PayerShare.IsNegative() {
				t.Errorf("total %s with %d debtors: negative payer share %s", total, n, result.PayerShare)
			}
		}
	}
}
