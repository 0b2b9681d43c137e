package ledger

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/edgard/tallybot/internal/database"
)

// BillStatus is derived from stored state, never written: archived wins,
// then fully paid, then open.
type BillStatus string

const (
	StatusOpen      BillStatus = "OPEN"
	StatusFullyPaid BillStatus = "FULLY_PAID"
	StatusArchived  BillStatus = "ARCHIVED"
)

// SettlementReport summarizes a settlement sweep over the actor's bills.
// TotalBilled sums the examined bill totals, retained payer shares
// included; collected and outstanding cover debtor shares only.
type SettlementReport struct {
	BillsExamined    int
	FullyPaid        int
	PartiallyPaid    int
	Unpaid           int
	ArchivedBills    []int64
	TotalBilled      decimal.Decimal
	TotalCollected   decimal.Decimal
	TotalOutstanding decimal.Decimal
}

// CompleteSettlement scans every non-archived bill the actor paid for,
// archives the fully paid ones, and reports the exact money position of
// the rest. Bills with shares still owed are left open and reported.
func (s *Service) CompleteSettlement(ctx context.Context, groupExt string, actor MemberRef) (*SettlementReport, error) {
	if err := requireIdentity(groupExt, actor); err != nil {
		return nil, err
	}

	group, err := s.store.EnsureGroup(ctx, groupExt)
	if err != nil {
		return nil, err
	}
	actingMember, err := s.store.EnsureMember(ctx, group.ID, actor.ExternalID, actor.DisplayName)
	if err != nil {
		return nil, err
	}

	bills, err := s.store.ListBillsByPayer(ctx, group.ID, actingMember.ID, false)
	if err != nil {
		return nil, err
	}
	report := &SettlementReport{BillsExamined: len(bills)}
	if len(bills) == 0 {
		return report, nil
	}

	billIDs := make([]int64, len(bills))
	for i := range bills {
		billIDs[i] = bills[i].ID
	}
	participants, err := s.store.ParticipantsForBills(ctx, billIDs)
	if err != nil {
		return nil, err
	}

	var fullyPaid []int64
	for _, bill := range bills {
		report.TotalBilled = report.TotalBilled.Add(bill.Total)
		paid, unpaid := 0, 0
		for _, p := range participants[bill.ID] {
			if p.IsPaid {
				paid++
				report.TotalCollected = report.TotalCollected.Add(p.Amount)
			} else {
				unpaid++
				report.TotalOutstanding = report.TotalOutstanding.Add(p.Amount)
			}
		}
		switch {
		case unpaid == 0:
			// A bill with no debtor shares has nothing left to collect.
			report.FullyPaid++
			fullyPaid = append(fullyPaid, bill.ID)
		case paid > 0:
			report.PartiallyPaid++
		default:
			report.Unpaid++
		}
	}

	if len(fullyPaid) > 0 {
		archived, err := s.store.ArchiveBills(ctx, fullyPaid)
		if err != nil {
			return nil, err
		}
		if archived != int64(len(fullyPaid)) {
			s.logger.WarnContext(ctx, "Settlement archived fewer bills than selected",
				"selected", len(fullyPaid),
				"archived", archived)
		}
		report.ArchivedBills = fullyPaid
	}

	s.logger.InfoContext(ctx, "Settlement completed",
		"group", groupExt,
		"payer", actor.ExternalID,
		"examined", report.BillsExamined,
		"fully_paid", report.FullyPaid,
		"partially_paid", report.PartiallyPaid,
		"unpaid", report.Unpaid,
		"outstanding", report.TotalOutstanding)
	return report, nil
}

// billStatus derives a bill's status from its archived flag and shares.
func billStatus(archived bool, participants []database.ParticipantDetail) BillStatus {
	if archived {
		return StatusArchived
	}
	for i := range participants {
		if !participants[i].IsPaid {
			return StatusOpen
		}
	}
	return StatusFullyPaid
}
