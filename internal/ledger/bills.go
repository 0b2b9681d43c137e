package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/edgard/tallybot/internal/database"
	"github.com/edgard/tallybot/internal/splitcalc"
)

// MarkPaidResult reports what a mark-paid command changed. AlreadyPaid
// lists requested debtors whose shares were settled before the call;
// repeating a command moves everyone there and changes nothing.
type MarkPaidResult struct {
	Marked      []string
	AlreadyPaid []string
	FullyPaid   bool
}

// BillView is one bill in a listing, with its derived status.
type BillView struct {
	BillID      int64
	Description string
	Total       decimal.Decimal
	Mode        splitcalc.Mode
	PayerName   string
	Status      BillStatus
	CreatedAt   time.Time
}

// ShareDetail is one debtor's share with its payment state.
type ShareDetail struct {
	ShareLine
	Paid   bool
	PaidAt time.Time
}

// BillDetail is a single bill with all its shares.
type BillDetail struct {
	BillView
	Shares []ShareDetail
}

// GroupWipe reports what a full group deletion removed.
type GroupWipe struct {
	Bills            int64
	Participants     int64
	Members          int64
	DuplicateRecords int64
}

// MarkPaid records that the named debtors settled their shares on a bill.
// Only the bill's payer may call it. Shares already paid keep their original
// paid_at; the call reports them instead of failing, so redelivered commands
// converge. The bill itself is never archived here.
func (s *Service) MarkPaid(ctx context.Context, groupExt string, actor MemberRef, billID int64, debtorExternalIDs []string) (*MarkPaidResult, error) {
	if err := requireIdentity(groupExt, actor); err != nil {
		return nil, err
	}
	if billID <= 0 {
		return nil, fmt.Errorf("%w: bill id is required", ErrValidation)
	}
	debtorExternalIDs = dedupeStrings(debtorExternalIDs)
	if len(debtorExternalIDs) == 0 {
		return nil, fmt.Errorf("%w: at least one debtor is required", ErrValidation)
	}

	group, err := s.store.EnsureGroup(ctx, groupExt)
	if err != nil {
		return nil, err
	}
	actingMember, err := s.store.EnsureMember(ctx, group.ID, actor.ExternalID, actor.DisplayName)
	if err != nil {
		return nil, err
	}

	bill, err := s.store.GetBill(ctx, group.ID, billID)
	if err != nil {
		return nil, err
	}
	if bill == nil {
		return nil, fmt.Errorf("bill %d: %w", billID, ErrNotFound)
	}
	if bill.PayerID != actingMember.ID {
		return nil, fmt.Errorf("only the payer may mark shares paid: %w", ErrPermissionDenied)
	}
	if bill.IsArchived {
		return nil, fmt.Errorf("bill %d: %w", billID, ErrAlreadyArchived)
	}

	details, err := s.store.GetBillParticipants(ctx, billID)
	if err != nil {
		return nil, err
	}
	byExternal := make(map[string]*database.ParticipantDetail, len(details))
	unpaidBefore := 0
	for i := range details {
		byExternal[details[i].DebtorExternalID] = &details[i]
		if !details[i].IsPaid {
			unpaidBefore++
		}
	}

	debtorIDs := make([]int64, len(debtorExternalIDs))
	for i, ext := range debtorExternalIDs {
		detail, ok := byExternal[ext]
		if !ok {
			return nil, fmt.Errorf("member %q has no share on bill %d: %w", ext, billID, ErrNotFound)
		}
		debtorIDs[i] = detail.DebtorID
	}

	fp, err := markPaidFingerprint(groupExt, actor.ExternalID, billID, debtorExternalIDs)
	if err != nil {
		return nil, err
	}
	if err := s.reserve(ctx, group.ID, actingMember.ID, opMarkPaid, fp); err != nil {
		return nil, err
	}

	transitioned, err := s.store.MarkParticipantsPaid(ctx, billID, debtorIDs, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	marked := make(map[int64]bool, len(transitioned))
	for _, id := range transitioned {
		marked[id] = true
	}

	result := &MarkPaidResult{
		FullyPaid: unpaidBefore-len(transitioned) == 0,
	}
	for _, ext := range debtorExternalIDs {
		detail := byExternal[ext]
		if marked[detail.DebtorID] {
			result.Marked = append(result.Marked, detail.DebtorName)
		} else {
			result.AlreadyPaid = append(result.AlreadyPaid, detail.DebtorName)
		}
	}

	s.logger.InfoContext(ctx, "Shares marked paid",
		"group", groupExt,
		"bill_id", billID,
		"marked", len(result.Marked),
		"already_paid", len(result.AlreadyPaid),
		"fully_paid", result.FullyPaid)
	return result, nil
}

// ArchiveBill closes a bill regardless of outstanding shares. Only the
// payer may archive, and archiving is one way: a second call fails with
// ErrAlreadyArchived.
func (s *Service) ArchiveBill(ctx context.Context, groupExt string, actor MemberRef, billID int64) error {
	if err := requireIdentity(groupExt, actor); err != nil {
		return err
	}
	if billID <= 0 {
		return fmt.Errorf("%w: bill id is required", ErrValidation)
	}

	group, err := s.store.EnsureGroup(ctx, groupExt)
	if err != nil {
		return err
	}
	actingMember, err := s.store.EnsureMember(ctx, group.ID, actor.ExternalID, actor.DisplayName)
	if err != nil {
		return err
	}

	bill, err := s.store.GetBill(ctx, group.ID, billID)
	if err != nil {
		return err
	}
	if bill == nil {
		return fmt.Errorf("bill %d: %w", billID, ErrNotFound)
	}
	if bill.PayerID != actingMember.ID {
		return fmt.Errorf("only the payer may archive a bill: %w", ErrPermissionDenied)
	}
	if bill.IsArchived {
		return fmt.Errorf("bill %d: %w", billID, ErrAlreadyArchived)
	}

	affected, err := s.store.ArchiveBills(ctx, []int64{billID})
	if err != nil {
		return err
	}
	if affected == 0 {
		// Lost a race with another archiver.
		return fmt.Errorf("bill %d: %w", billID, ErrAlreadyArchived)
	}

	s.logger.InfoContext(ctx, "Bill archived", "group", groupExt, "bill_id", billID)
	return nil
}

// ListBills returns the group's non-archived bills, newest first.
func (s *Service) ListBills(ctx context.Context, groupExt string) ([]BillView, error) {
	if groupExt == "" {
		return nil, fmt.Errorf("%w: group id is required", ErrValidation)
	}

	group, err := s.store.EnsureGroup(ctx, groupExt)
	if err != nil {
		return nil, err
	}
	bills, err := s.store.ListActiveBills(ctx, group.ID)
	if err != nil {
		return nil, err
	}
	if len(bills) == 0 {
		return nil, nil
	}

	billIDs := make([]int64, len(bills))
	for i := range bills {
		billIDs[i] = bills[i].ID
	}
	participants, err := s.store.ParticipantsForBills(ctx, billIDs)
	if err != nil {
		return nil, err
	}

	views := make([]BillView, len(bills))
	for i := range bills {
		views[i] = billView(&bills[i], participants[bills[i].ID])
	}
	return views, nil
}

// GetBillDetail returns one bill with every share and its payment state.
func (s *Service) GetBillDetail(ctx context.Context, groupExt string, billID int64) (*BillDetail, error) {
	if groupExt == "" {
		return nil, fmt.Errorf("%w: group id is required", ErrValidation)
	}
	if billID <= 0 {
		return nil, fmt.Errorf("%w: bill id is required", ErrValidation)
	}

	group, err := s.store.EnsureGroup(ctx, groupExt)
	if err != nil {
		return nil, err
	}
	bill, err := s.store.GetBill(ctx, group.ID, billID)
	if err != nil {
		return nil, err
	}
	if bill == nil {
		return nil, fmt.Errorf("bill %d: %w", billID, ErrNotFound)
	}
	details, err := s.store.GetBillParticipants(ctx, billID)
	if err != nil {
		return nil, err
	}

	detail := &BillDetail{
		BillView: billView(bill, details),
		Shares:   make([]ShareDetail, len(details)),
	}
	for i := range details {
		d := &details[i]
		detail.Shares[i] = ShareDetail{
			ShareLine: ShareLine{
				MemberExternalID: d.DebtorExternalID,
				MemberName:       d.DebtorName,
				Amount:           d.Amount,
			},
			Paid: d.IsPaid,
		}
		if d.PaidAt.Valid {
			detail.Shares[i].PaidAt = d.PaidAt.Time
		}
	}
	return detail, nil
}

// DeletePersonal removes every bill the actor paid for in the group,
// archived or not, and returns how many were deleted. Unknown groups and
// members delete nothing.
func (s *Service) DeletePersonal(ctx context.Context, groupExt string, actor MemberRef) (int64, error) {
	if err := requireIdentity(groupExt, actor); err != nil {
		return 0, err
	}

	group, err := s.store.GetGroupByExternalID(ctx, groupExt)
	if err != nil {
		return 0, err
	}
	if group == nil {
		return 0, nil
	}
	member, err := s.store.GetMemberByExternalID(ctx, group.ID, actor.ExternalID)
	if err != nil {
		return 0, err
	}
	if member == nil {
		return 0, nil
	}

	deleted, err := s.store.DeleteBillsByPayer(ctx, group.ID, member.ID)
	if err != nil {
		return 0, err
	}
	s.logger.InfoContext(ctx, "Personal bills deleted",
		"group", groupExt,
		"member", actor.ExternalID,
		"bills", deleted)
	return deleted, nil
}

// DeleteGroup wipes the group's entire ledger and returns what was removed.
// An unknown group wipes nothing and reports zero counts.
func (s *Service) DeleteGroup(ctx context.Context, groupExt string, actor MemberRef) (*GroupWipe, error) {
	if err := requireIdentity(groupExt, actor); err != nil {
		return nil, err
	}

	group, err := s.store.GetGroupByExternalID(ctx, groupExt)
	if err != nil {
		return nil, err
	}
	if group == nil {
		return &GroupWipe{}, nil
	}

	deletion, err := s.store.DeleteGroupData(ctx, group.ID)
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "Group ledger deleted",
		"group", groupExt,
		"actor", actor.ExternalID,
		"bills", deletion.Bills,
		"members", deletion.Members)
	return &GroupWipe{
		Bills:            deletion.Bills,
		Participants:     deletion.Participants,
		Members:          deletion.Members,
		DuplicateRecords: deletion.DuplicateRecords,
	}, nil
}

// billView assembles a listing row from a bill and its participant rows.
func billView(bill *database.BillSummary, participants []database.ParticipantDetail) BillView {
	return BillView{
		BillID:      bill.ID,
		Description: bill.Description,
		Total:       bill.Total,
		Mode:        splitcalc.Mode(bill.SplitMode),
		PayerName:   bill.PayerName,
		Status:      billStatus(bill.IsArchived, participants),
		CreatedAt:   bill.CreatedAt,
	}
}

// dedupeStrings drops repeated entries preserving first-seen order.
func dedupeStrings(values []string) []string {
	seen := make(map[string]bool, len(values))
	out := values[:0:0]
	for _, v := range values {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
