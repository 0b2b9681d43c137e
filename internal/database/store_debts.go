package database

import (
	"context"
	"errors"
	"fmt"
)

const unpaidDebtColumns = `
        SELECT b.id AS bill_id, b.description, p.amount, p.debtor_id,
               d.external_id AS debtor_external_id, d.display_name AS debtor_name,
               payer.display_name AS payer_name,
               b.created_at AS bill_created_at
        FROM participants p
        JOIN bills b ON b.id = p.bill_id
        JOIN members d ON d.id = p.debtor_id
        JOIN members payer ON payer.id = b.payer_id
`

// ListUnpaidByDebtor retrieves a member's unpaid participant rows across the
// group's non-archived bills, oldest bill first.
func (s *sqlxStore) ListUnpaidByDebtor(ctx context.Context, groupID, debtorID int64) ([]UnpaidDebt, error) {
	if groupID == 0 {
		return nil, fmt.Errorf("group id cannot be zero")
	}
	if debtorID == 0 {
		return nil, fmt.Errorf("debtor id cannot be zero")
	}

	query := unpaidDebtColumns + `
        WHERE b.group_id = ? AND b.is_archived = 0 AND p.is_paid = 0 AND p.debtor_id = ?
        ORDER BY b.created_at ASC, b.id ASC;
    `

	var debts []UnpaidDebt
	err := s.db.SelectContext(ctx, &debts, query, groupID, debtorID)

	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		return nil, err

	case err != nil:
		s.logger.ErrorContext(ctx, "Error listing unpaid debts for member",
			"group_id", groupID, "debtor_id", debtorID, "error", err)
		return nil, fmt.Errorf("failed to list unpaid debts for member %d: %w", debtorID, err)
	}

	s.logger.DebugContext(ctx, "Listed unpaid debts for member",
		"group_id", groupID, "debtor_id", debtorID, "count", len(debts))
	return debts, nil
}

// ListUnpaidByGroup retrieves every unpaid participant row across the
// group's non-archived bills, oldest bill first. The debt views aggregate
// these rows in exact decimal arithmetic; SQLite's SUM over text amounts
// would fall back to floats.
func (s *sqlxStore) ListUnpaidByGroup(ctx context.Context, groupID int64) ([]UnpaidDebt, error) {
	if groupID == 0 {
		return nil, fmt.Errorf("group id cannot be zero")
	}

	query := unpaidDebtColumns + `
        WHERE b.group_id = ? AND b.is_archived = 0 AND p.is_paid = 0
        ORDER BY b.created_at ASC, b.id ASC;
    `

	var debts []UnpaidDebt
	err := s.db.SelectContext(ctx, &debts, query, groupID)

	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		return nil, err

	case err != nil:
		s.logger.ErrorContext(ctx, "Error listing unpaid debts for group", "group_id", groupID, "error", err)
		return nil, fmt.Errorf("failed to list unpaid debts for group %d: %w", groupID, err)
	}

	s.logger.DebugContext(ctx, "Listed unpaid debts for group", "group_id", groupID, "count", len(debts))
	return debts, nil
}
