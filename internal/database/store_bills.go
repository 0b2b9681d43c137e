package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
)

// CreateBill inserts a bill and all of its participant rows in a single
// transaction. The partial unique index on (group_id, content_fingerprint)
// rejects an identical active bill; the insert itself is the duplicate
// check, there is no separate lookup.
func (s *sqlxStore) CreateBill(ctx context.Context, bill *Bill, participants []Participant) error {
	if bill == nil {
		return fmt.Errorf("cannot save nil bill")
	}
	if bill.GroupID == 0 {
		return fmt.Errorf("bill must have a non-zero group_id")
	}
	if bill.PayerID == 0 {
		return fmt.Errorf("bill must have a non-zero payer_id")
	}
	if len(participants) == 0 {
		return fmt.Errorf("bill must have at least one participant")
	}

	if bill.CreatedAt.IsZero() {
		bill.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to begin transaction for saving bill",
			"group_id", bill.GroupID, "payer_id", bill.PayerID, "error", err)
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if tx != nil {
			if rollbackErr := tx.Rollback(); rollbackErr != nil {
				if !errors.Is(rollbackErr, sql.ErrTxDone) {
					s.logger.WarnContext(ctx, "Error rolling back transaction", "error", rollbackErr)
				}
			}
		}
	}()

	billQuery := `
        INSERT INTO bills (group_id, payer_id, description, total, split_mode, content_fingerprint, is_archived, created_at)
        VALUES (:group_id, :payer_id, :description, :total, :split_mode, :content_fingerprint, :is_archived, :created_at);
    `

	result, err := tx.NamedExecContext(ctx, billQuery, bill)
	if err != nil {
		switch {
		// SQLite reports unique violations by column list, not index name.
		case isConstraintError(err) && strings.Contains(err.Error(), "bills.content_fingerprint"):
			s.logger.InfoContext(ctx, "Rejected duplicate bill content",
				"group_id", bill.GroupID, "payer_id", bill.PayerID)
			return fmt.Errorf("identical active bill exists: %w", ErrDuplicateBillContent)
		case isBusyError(err):
			return fmt.Errorf("%w: %v", ErrStorageConflict, err)
		}
		s.logger.ErrorContext(ctx, "Error saving bill",
			"group_id", bill.GroupID, "payer_id", bill.PayerID, "error", err)
		return fmt.Errorf("failed to save bill (group %d, payer %d): %w", bill.GroupID, bill.PayerID, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		// Participants cannot be attached without the bill id.
		s.logger.ErrorContext(ctx, "Could not retrieve last insert ID after saving bill",
			"group_id", bill.GroupID, "error", err)
		return fmt.Errorf("failed to retrieve bill id: %w", err)
	}
	bill.ID = id

	for i := range participants {
		participants[i].BillID = id
	}

	participantQuery := `
        INSERT INTO participants (bill_id, debtor_id, amount, is_paid, paid_at)
        VALUES (:bill_id, :debtor_id, :amount, :is_paid, :paid_at);
    `
	if _, err := tx.NamedExecContext(ctx, participantQuery, participants); err != nil {
		if isBusyError(err) {
			return fmt.Errorf("%w: %v", ErrStorageConflict, err)
		}
		s.logger.ErrorContext(ctx, "Error saving bill participants",
			"bill_id", id, "count", len(participants), "error", err)
		return fmt.Errorf("failed to save participants for bill %d: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		s.logger.ErrorContext(ctx, "Failed to commit transaction",
			"group_id", bill.GroupID, "bill_id", id, "error", err)
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	// Successfully committed, set tx to nil to avoid rollback
	tx = nil

	s.logger.DebugContext(ctx, "Bill saved successfully",
		"group_id", bill.GroupID, "bill_id", id, "participants", len(participants))
	return nil
}

// GetBill retrieves one bill scoped to a group, with its payer's display
// name. Returns nil, nil if not found.
func (s *sqlxStore) GetBill(ctx context.Context, groupID, billID int64) (*BillSummary, error) {
	if groupID == 0 {
		return nil, fmt.Errorf("group id cannot be zero")
	}

	var bill BillSummary
	query := `
        SELECT b.id, b.group_id, b.payer_id, b.description, b.total, b.split_mode, b.content_fingerprint, b.is_archived, b.created_at,
               payer.display_name AS payer_name
        FROM bills b
        JOIN members payer ON payer.id = b.payer_id
        WHERE b.group_id = ? AND b.id = ?
    `

	err := s.db.GetContext(ctx, &bill, query, groupID, billID)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		s.logger.DebugContext(ctx, "No bill found", "group_id", groupID, "bill_id", billID)
		return nil, nil

	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		return nil, err

	case err != nil:
		s.logger.ErrorContext(ctx, "Error getting bill", "group_id", groupID, "bill_id", billID, "error", err)
		return nil, fmt.Errorf("failed to get bill %d: %w", billID, err)
	}

	return &bill, nil
}

// GetBillParticipants retrieves a bill's participant rows with debtor identities.
func (s *sqlxStore) GetBillParticipants(ctx context.Context, billID int64) ([]ParticipantDetail, error) {
	var rows []ParticipantDetail
	query := `
        SELECT p.id, p.bill_id, p.debtor_id, p.amount, p.is_paid, p.paid_at,
               m.external_id AS debtor_external_id, m.display_name AS debtor_name
        FROM participants p
        JOIN members m ON m.id = p.debtor_id
        WHERE p.bill_id = ?
        ORDER BY p.id;
    `

	if err := s.db.SelectContext(ctx, &rows, query, billID); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, err
		}
		s.logger.ErrorContext(ctx, "Error getting bill participants", "bill_id", billID, "error", err)
		return nil, fmt.Errorf("failed to get participants for bill %d: %w", billID, err)
	}

	return rows, nil
}

// ListActiveBills retrieves a group's non-archived bills with payer names,
// newest first.
func (s *sqlxStore) ListActiveBills(ctx context.Context, groupID int64) ([]BillSummary, error) {
	if groupID == 0 {
		return nil, fmt.Errorf("group id cannot be zero")
	}

	var bills []BillSummary
	query := `
        SELECT b.id, b.group_id, b.payer_id, b.description, b.total, b.split_mode, b.content_fingerprint, b.is_archived, b.created_at,
               payer.display_name AS payer_name
        FROM bills b
        JOIN members payer ON payer.id = b.payer_id
        WHERE b.group_id = ? AND b.is_archived = 0
        ORDER BY b.created_at DESC, b.id DESC;
    `

	if err := s.db.SelectContext(ctx, &bills, query, groupID); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, err
		}
		s.logger.ErrorContext(ctx, "Error listing active bills", "group_id", groupID, "error", err)
		return nil, fmt.Errorf("failed to list active bills for group %d: %w", groupID, err)
	}

	s.logger.DebugContext(ctx, "Listed active bills", "group_id", groupID, "count", len(bills))
	return bills, nil
}

// ListBillsByPayer retrieves the bills a payer owns within a group, oldest
// first. The settlement sweep walks this set.
func (s *sqlxStore) ListBillsByPayer(ctx context.Context, groupID, payerID int64, includeArchived bool) ([]Bill, error) {
	if groupID == 0 {
		return nil, fmt.Errorf("group id cannot be zero")
	}
	if payerID == 0 {
		return nil, fmt.Errorf("payer id cannot be zero")
	}

	var bills []Bill
	query := `
        SELECT id, group_id, payer_id, description, total, split_mode, content_fingerprint, is_archived, created_at
        FROM bills
        WHERE group_id = ? AND payer_id = ?
    `
	if !includeArchived {
		query += ` AND is_archived = 0`
	}
	query += ` ORDER BY created_at ASC, id ASC;`

	if err := s.db.SelectContext(ctx, &bills, query, groupID, payerID); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, err
		}
		s.logger.ErrorContext(ctx, "Error listing bills by payer",
			"group_id", groupID, "payer_id", payerID, "error", err)
		return nil, fmt.Errorf("failed to list bills for payer %d: %w", payerID, err)
	}

	return bills, nil
}

// ParticipantsForBills retrieves participant rows for a set of bills,
// grouped by bill id.
func (s *sqlxStore) ParticipantsForBills(ctx context.Context, billIDs []int64) (map[int64][]ParticipantDetail, error) {
	byBill := make(map[int64][]ParticipantDetail, len(billIDs))
	if len(billIDs) == 0 {
		return byBill, nil
	}

	query, args, err := sqlx.In(`
        SELECT p.id, p.bill_id, p.debtor_id, p.amount, p.is_paid, p.paid_at,
               m.external_id AS debtor_external_id, m.display_name AS debtor_name
        FROM participants p
        JOIN members m ON m.id = p.debtor_id
        WHERE p.bill_id IN (?)
        ORDER BY p.bill_id, p.id;
    `, billIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to build participants query: %w", err)
	}

	var rows []ParticipantDetail
	query = s.db.Rebind(query)
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, err
		}
		s.logger.ErrorContext(ctx, "Error getting participants for bills", "bills", len(billIDs), "error", err)
		return nil, fmt.Errorf("failed to get participants for %d bills: %w", len(billIDs), err)
	}

	for _, row := range rows {
		byBill[row.BillID] = append(byBill[row.BillID], row)
	}
	return byBill, nil
}

// MarkParticipantsPaid flips the paid flag for the given debtors on a bill
// where it is not already set. Runs as one transaction so the set of rows
// reported as transitioned is exactly the set updated; paid_at is written
// only on the transition and never again.
func (s *sqlxStore) MarkParticipantsPaid(ctx context.Context, billID int64, debtorIDs []int64, paidAt time.Time) ([]int64, error) {
	if len(debtorIDs) == 0 {
		return nil, nil // Nothing to mark
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to begin transaction for marking participants", "bill_id", billID, "error", err)
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if tx != nil {
			if rollbackErr := tx.Rollback(); rollbackErr != nil {
				if !errors.Is(rollbackErr, sql.ErrTxDone) {
					s.logger.WarnContext(ctx, "Error rolling back transaction", "error", rollbackErr)
				}
			}
		}
	}()

	selectQuery, selectArgs, err := sqlx.In(
		`SELECT debtor_id FROM participants WHERE bill_id = ? AND is_paid = 0 AND debtor_id IN (?)`,
		billID, debtorIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to build selection query: %w", err)
	}

	var unpaid []int64
	selectQuery = tx.Rebind(selectQuery)
	if err := tx.SelectContext(ctx, &unpaid, selectQuery, selectArgs...); err != nil {
		s.logger.ErrorContext(ctx, "Error selecting unpaid participants", "bill_id", billID, "error", err)
		return nil, fmt.Errorf("failed to select unpaid participants for bill %d: %w", billID, err)
	}

	if len(unpaid) == 0 {
		// Every requested debtor is already settled; nothing to write.
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("failed to commit transaction: %w", err)
		}
		tx = nil
		return nil, nil
	}

	updateQuery, updateArgs, err := sqlx.In(
		`UPDATE participants SET is_paid = 1, paid_at = ? WHERE bill_id = ? AND is_paid = 0 AND debtor_id IN (?)`,
		paidAt, billID, unpaid)
	if err != nil {
		return nil, fmt.Errorf("failed to build update query: %w", err)
	}

	updateQuery = tx.Rebind(updateQuery)
	result, err := tx.ExecContext(ctx, updateQuery, updateArgs...)
	if err != nil {
		if isBusyError(err) {
			return nil, fmt.Errorf("%w: %v", ErrStorageConflict, err)
		}
		s.logger.ErrorContext(ctx, "Error marking participants paid", "bill_id", billID, "error", err)
		return nil, fmt.Errorf("failed to mark participants paid for bill %d: %w", billID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		s.logger.WarnContext(ctx, "Could not get affected row count", "bill_id", billID, "error", err)
	} else if int(affected) != len(unpaid) {
		s.logger.WarnContext(ctx, "Not all selected participants were marked paid",
			"bill_id", billID, "selected", len(unpaid), "affected", affected)
	}

	if err := tx.Commit(); err != nil {
		s.logger.ErrorContext(ctx, "Failed to commit transaction", "bill_id", billID, "error", err)
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	// Successfully committed, set tx to nil to avoid rollback
	tx = nil

	s.logger.DebugContext(ctx, "Marked participants paid", "bill_id", billID, "count", len(unpaid))
	return unpaid, nil
}

// ArchiveBills sets the archived flag on the given bills where not already
// set and returns how many rows flipped. The flag never flips back.
func (s *sqlxStore) ArchiveBills(ctx context.Context, billIDs []int64) (int64, error) {
	if len(billIDs) == 0 {
		return 0, nil // Nothing to archive
	}

	query, args, err := sqlx.In(`UPDATE bills SET is_archived = 1 WHERE id IN (?) AND is_archived = 0`, billIDs)
	if err != nil {
		return 0, fmt.Errorf("failed to build archive query: %w", err)
	}

	query = s.db.Rebind(query)
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		if isBusyError(err) {
			return 0, fmt.Errorf("%w: %v", ErrStorageConflict, err)
		}
		s.logger.ErrorContext(ctx, "Error archiving bills", "bills", len(billIDs), "error", err)
		return 0, fmt.Errorf("failed to archive bills: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		s.logger.WarnContext(ctx, "Could not get affected row count after archiving", "error", err)
		return 0, nil
	}

	s.logger.DebugContext(ctx, "Archived bills", "requested", len(billIDs), "archived", affected)
	return affected, nil
}

// DeleteBillsByPayer deletes every bill a payer owns within a group.
// Participant rows cascade with their bill.
func (s *sqlxStore) DeleteBillsByPayer(ctx context.Context, groupID, payerID int64) (int64, error) {
	if groupID == 0 {
		return 0, fmt.Errorf("group id cannot be zero")
	}
	if payerID == 0 {
		return 0, fmt.Errorf("payer id cannot be zero")
	}

	query := `DELETE FROM bills WHERE group_id = ? AND payer_id = ?`
	result, err := s.db.ExecContext(ctx, query, groupID, payerID)
	if err != nil {
		if isBusyError(err) {
			return 0, fmt.Errorf("%w: %v", ErrStorageConflict, err)
		}
		s.logger.ErrorContext(ctx, "Error deleting bills by payer",
			"group_id", groupID, "payer_id", payerID, "error", err)
		return 0, fmt.Errorf("failed to delete bills for payer %d: %w", payerID, err)
	}

	count, _ := result.RowsAffected()
	s.logger.InfoContext(ctx, "Deleted bills by payer",
		"group_id", groupID, "payer_id", payerID, "count", count)
	return count, nil
}

// DeleteGroupData deletes the group row and everything hanging off it in a
// single transaction. Counts are gathered before the delete so the caller
// can report what a wipe removed; foreign keys cascade the actual removal.
func (s *sqlxStore) DeleteGroupData(ctx context.Context, groupID int64) (*GroupDeletion, error) {
	if groupID == 0 {
		return nil, fmt.Errorf("group id cannot be zero")
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to begin transaction for group wipe", "group_id", groupID, "error", err)
		return nil, fmt.Errorf("failed to begin transaction for group wipe: %w", err)
	}
	defer func() {
		if tx != nil {
			if rollbackErr := tx.Rollback(); rollbackErr != nil {
				if !errors.Is(rollbackErr, sql.ErrTxDone) {
					s.logger.WarnContext(ctx, "Error rolling back transaction", "error", rollbackErr)
				}
			}
		}
	}()

	var deletion GroupDeletion
	counts := []struct {
		query string
		dest  *int64
	}{
		{`SELECT COUNT(*) FROM bills WHERE group_id = ?`, &deletion.Bills},
		{`SELECT COUNT(*) FROM participants WHERE bill_id IN (SELECT id FROM bills WHERE group_id = ?)`, &deletion.Participants},
		{`SELECT COUNT(*) FROM members WHERE group_id = ?`, &deletion.Members},
		{`SELECT COUNT(*) FROM duplicate_records WHERE group_id = ?`, &deletion.DuplicateRecords},
	}
	for _, c := range counts {
		if err := tx.GetContext(ctx, c.dest, c.query, groupID); err != nil {
			s.logger.ErrorContext(ctx, "Error counting group rows before wipe", "group_id", groupID, "error", err)
			return nil, fmt.Errorf("failed to count group %d rows: %w", groupID, err)
		}
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM groups WHERE id = ?`, groupID)
	if err != nil {
		if isBusyError(err) {
			return nil, fmt.Errorf("%w: %v", ErrStorageConflict, err)
		}
		s.logger.ErrorContext(ctx, "Error deleting group", "group_id", groupID, "error", err)
		return nil, fmt.Errorf("failed to delete group %d: %w", groupID, err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return nil, fmt.Errorf("group %d: %w", groupID, ErrNotFound)
	}

	if err := tx.Commit(); err != nil {
		s.logger.ErrorContext(ctx, "Failed to commit group wipe", "group_id", groupID, "error", err)
		return nil, fmt.Errorf("failed to commit group wipe: %w", err)
	}
	// Successfully committed, set tx to nil to avoid rollback
	tx = nil

	s.logger.InfoContext(ctx, "Group data wiped",
		"group_id", groupID,
		"bills_deleted", deletion.Bills,
		"participants_deleted", deletion.Participants,
		"members_deleted", deletion.Members,
		"duplicate_records_deleted", deletion.DuplicateRecords)
	return &deletion, nil
}
