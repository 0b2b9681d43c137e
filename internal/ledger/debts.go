package ledger

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// DebtItem is one unpaid share from the debtor's point of view.
type DebtItem struct {
	BillID      int64
	Description string
	PayerName   string
	Amount      decimal.Decimal
	BilledAt    time.Time
}

// DebtSummary lists a member's unpaid shares, oldest bill first, with the
// exact total owed.
type DebtSummary struct {
	Items []DebtItem
	Total decimal.Decimal
}

// DebtorBalance is one member's outstanding position across the group.
type DebtorBalance struct {
	MemberExternalID string
	MemberName       string
	Outstanding      decimal.Decimal
	UnpaidShares     int
	OldestDebt       time.Time
}

// MyDebts returns everything the actor still owes in the group, ordered by
// the bill's creation time so the oldest obligation is settled first.
func (s *Service) MyDebts(ctx context.Context, groupExt string, actor MemberRef) (*DebtSummary, error) {
	if err := requireIdentity(groupExt, actor); err != nil {
		return nil, err
	}

	group, err := s.store.EnsureGroup(ctx, groupExt)
	if err != nil {
		return nil, err
	}
	member, err := s.store.EnsureMember(ctx, group.ID, actor.ExternalID, actor.DisplayName)
	if err != nil {
		return nil, err
	}

	debts, err := s.store.ListUnpaidByDebtor(ctx, group.ID, member.ID)
	if err != nil {
		return nil, err
	}

	summary := &DebtSummary{Items: make([]DebtItem, len(debts))}
	for i, d := range debts {
		summary.Items[i] = DebtItem{
			BillID:      d.BillID,
			Description: d.Description,
			PayerName:   d.PayerName,
			Amount:      d.Amount,
			BilledAt:    d.BillCreatedAt,
		}
		summary.Total = summary.Total.Add(d.Amount)
	}
	return summary, nil
}

// GroupDebts aggregates every member's outstanding total across the
// group's non-archived bills, largest debt first. Ties are broken by whose
// unpaid share is oldest.
func (s *Service) GroupDebts(ctx context.Context, groupExt string) ([]DebtorBalance, error) {
	if groupExt == "" {
		return nil, fmt.Errorf("%w: group id is required", ErrValidation)
	}

	group, err := s.store.EnsureGroup(ctx, groupExt)
	if err != nil {
		return nil, err
	}
	debts, err := s.store.ListUnpaidByGroup(ctx, group.ID)
	if err != nil {
		return nil, err
	}

	// Rows arrive oldest bill first, so the first row seen per debtor
	// carries their oldest debt.
	index := make(map[int64]int, len(debts))
	balances := make([]DebtorBalance, 0, len(debts))
	for _, d := range debts {
		i, ok := index[d.DebtorID]
		if !ok {
			i = len(balances)
			index[d.DebtorID] = i
			balances = append(balances, DebtorBalance{
				MemberExternalID: d.DebtorExternalID,
				MemberName:       d.DebtorName,
				OldestDebt:       d.BillCreatedAt,
			})
		}
		balances[i].Outstanding = balances[i].Outstanding.Add(d.Amount)
		balances[i].UnpaidShares++
	}

	sort.SliceStable(balances, func(a, b int) bool {
		if !balances[a].Outstanding.Equal(balances[b].Outstanding) {
			return balances[a].Outstanding.GreaterThan(balances[b].Outstanding)
		}
		return balances[a].OldestDebt.Before(balances[b].OldestDebt)
	})
	return balances, nil
}
