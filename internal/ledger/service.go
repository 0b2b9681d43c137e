package ledger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/edgard/tallybot/internal/database"
	"github.com/edgard/tallybot/internal/splitcalc"
)

// Operation kinds recorded in duplicate-prevention records. Only the
// money-writing commands a chat platform is prone to redeliver carry a
// replay guard; archive, settlement, and the wipes are idempotent or
// explicitly destructive on their own terms.
const (
	opCreateBill = "create_bill"
	opMarkPaid   = "mark_paid"
)

// DefaultDedupWindow is used when the service is constructed without one.
const DefaultDedupWindow = 90 * time.Second

// MemberRef identifies a member by the identity the chat platform supplies.
// The transport resolves mentions to these before calling the ledger.
type MemberRef struct {
	ExternalID  string
	DisplayName string
}

// ParticipantInput is one requested debtor. A nil Amount asks for an equal
// share; a non-nil Amount is an explicit one. Mixing both in one bill is
// rejected.
type ParticipantInput struct {
	Member MemberRef
	Amount *decimal.Decimal
}

// CreateBillInput describes a bill to record. The payer may differ from the
// acting member: anyone in the group can record who paid.
type CreateBillInput struct {
	Payer       MemberRef
	Description string
	Total       decimal.Decimal
	// PayerShare optionally fixes the payer's own retained share; see
	// splitcalc.Input.
	PayerShare   *decimal.Decimal
	Participants []ParticipantInput
}

// ShareLine is one member's amount on a receipt or view.
type ShareLine struct {
	MemberExternalID string
	MemberName       string
	Amount           decimal.Decimal
}

// BillReceipt summarizes a successfully created bill.
type BillReceipt struct {
	BillID      int64
	Description string
	Total       decimal.Decimal
	Mode        splitcalc.Mode
	PayerName   string
	PayerShare  decimal.Decimal
	Shares      []ShareLine
	CreatedAt   time.Time
}

// Service exposes the ledger operation set. All operations take the
// external chat-group id and the acting member's platform identity; groups
// and members materialize lazily on first reference.
type Service struct {
	store       database.Store
	logger      *slog.Logger
	dedupWindow time.Duration
}

// NewService creates a ledger service on top of a store. A non-positive
// dedupWindow falls back to DefaultDedupWindow.
func NewService(store database.Store, logger *slog.Logger, dedupWindow time.Duration) *Service {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if dedupWindow <= 0 {
		dedupWindow = DefaultDedupWindow
	}
	return &Service{
		store:       store,
		logger:      logger.With("component", "ledger"),
		dedupWindow: dedupWindow,
	}
}

// ComputeSplit runs the split calculator without touching storage, for
// previews and validation ahead of CreateBill.
func (s *Service) ComputeSplit(in CreateBillInput) (*splitcalc.Result, error) {
	result, err := splitcalc.Compute(splitInput(in))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	return result, nil
}

// CreateBill validates, reserves, and records a bill in the acting group.
// The operation fingerprint is reserved before the write so a redelivered
// command fails with ErrDuplicateOperation; an identical active bill fails
// with ErrDuplicateBillContent regardless of timing.
func (s *Service) CreateBill(ctx context.Context, groupExt string, actor MemberRef, in CreateBillInput) (*BillReceipt, error) {
	if err := requireIdentity(groupExt, actor); err != nil {
		return nil, err
	}

	in.Description = strings.TrimSpace(in.Description)
	if in.Description == "" {
		return nil, fmt.Errorf("%w: description is required", ErrValidation)
	}
	if in.Payer.ExternalID == "" {
		return nil, fmt.Errorf("%w: payer is required", ErrValidation)
	}

	result, err := splitcalc.Compute(splitInput(in))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}

	debtorKeys := make([]string, len(result.Shares))
	amounts := make([]decimal.Decimal, len(result.Shares))
	for i, share := range result.Shares {
		debtorKeys[i] = share.Key
		amounts[i] = share.Amount
	}

	group, err := s.store.EnsureGroup(ctx, groupExt)
	if err != nil {
		return nil, err
	}
	actingMember, err := s.store.EnsureMember(ctx, group.ID, actor.ExternalID, actor.DisplayName)
	if err != nil {
		return nil, err
	}

	opFingerprint, err := createBillFingerprint(groupExt, actor.ExternalID, in.Payer.ExternalID, in.Description, in.Total, debtorKeys, amounts)
	if err != nil {
		return nil, err
	}
	if err := s.reserve(ctx, group.ID, actingMember.ID, opCreateBill, opFingerprint); err != nil {
		return nil, err
	}

	billFingerprint, err := contentFingerprint(groupExt, in.Payer.ExternalID, in.Description, in.Total, debtorKeys, amounts)
	if err != nil {
		return nil, err
	}

	payer, err := s.store.EnsureMember(ctx, group.ID, in.Payer.ExternalID, in.Payer.DisplayName)
	if err != nil {
		return nil, err
	}

	members := make(map[string]*database.Member, len(in.Participants))
	for _, p := range in.Participants {
		m, err := s.store.EnsureMember(ctx, group.ID, p.Member.ExternalID, p.Member.DisplayName)
		if err != nil {
			return nil, err
		}
		members[p.Member.ExternalID] = m
	}

	bill := &database.Bill{
		GroupID:            group.ID,
		PayerID:            payer.ID,
		Description:        in.Description,
		Total:              in.Total,
		SplitMode:          string(result.Mode),
		ContentFingerprint: billFingerprint,
		CreatedAt:          time.Now().UTC(),
	}

	participants := make([]database.Participant, len(result.Shares))
	for i, share := range result.Shares {
		participants[i] = database.Participant{
			DebtorID: members[share.Key].ID,
			Amount:   share.Amount,
		}
	}

	if err := s.store.CreateBill(ctx, bill, participants); err != nil {
		return nil, err
	}

	receipt := &BillReceipt{
		BillID:      bill.ID,
		Description: bill.Description,
		Total:       bill.Total,
		Mode:        result.Mode,
		PayerName:   payer.DisplayName,
		PayerShare:  result.PayerShare,
		CreatedAt:   bill.CreatedAt,
		Shares:      make([]ShareLine, len(result.Shares)),
	}
	for i, share := range result.Shares {
		m := members[share.Key]
		receipt.Shares[i] = ShareLine{
			MemberExternalID: m.ExternalID,
			MemberName:       m.DisplayName,
			Amount:           share.Amount,
		}
	}

	s.logger.InfoContext(ctx, "Bill created",
		"group", groupExt,
		"bill_id", bill.ID,
		"payer", payer.ExternalID,
		"total", bill.Total,
		"mode", bill.SplitMode,
		"debtors", len(participants))
	return receipt, nil
}

// reserve claims an operation fingerprint inside the dedup window.
func (s *Service) reserve(ctx context.Context, groupID, memberID int64, operation, fp string) error {
	record := &database.DuplicateRecord{
		GroupID:     groupID,
		MemberID:    memberID,
		Operation:   operation,
		Fingerprint: fp,
		CreatedAt:   time.Now().UTC(),
	}
	cutoff := record.CreatedAt.Add(-s.dedupWindow)
	return s.store.ReserveDuplicateRecord(ctx, record, cutoff)
}

// splitInput maps a bill request onto the calculator's input.
func splitInput(in CreateBillInput) splitcalc.Input {
	debtors := make([]splitcalc.Debtor, len(in.Participants))
	for i, p := range in.Participants {
		debtors[i] = splitcalc.Debtor{Key: p.Member.ExternalID, Amount: p.Amount}
	}
	return splitcalc.Input{
		Total:      in.Total,
		PayerKey:   in.Payer.ExternalID,
		PayerShare: in.PayerShare,
		Debtors:    debtors,
	}
}

// requireIdentity rejects operations missing the group or actor identity
// the transport is supposed to supply.
func requireIdentity(groupExt string, actor MemberRef) error {
	if groupExt == "" {
		return fmt.Errorf("%w: group id is required", ErrValidation)
	}
	if actor.ExternalID == "" {
		return fmt.Errorf("%w: acting member is required", ErrValidation)
	}
	return nil
}
