package database

import (
	"context"
	"fmt"
	"time"
)

// ReserveDuplicateRecord atomically claims an operation fingerprint. The
// statement is the synchronization point: inserting either creates the
// record or, when the existing record is older than the cutoff, reclaims it
// in place. Zero affected rows means a live reservation holds and the
// operation is a replay.
func (s *sqlxStore) ReserveDuplicateRecord(ctx context.Context, record *DuplicateRecord, cutoff time.Time) error {
	if record == nil {
		return fmt.Errorf("cannot reserve nil duplicate record")
	}
	if record.GroupID == 0 {
		return fmt.Errorf("duplicate record must have a non-zero group_id")
	}
	if record.Fingerprint == "" {
		return fmt.Errorf("duplicate record must have a fingerprint")
	}

	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	query := `
        INSERT INTO duplicate_records (group_id, member_id, operation, fingerprint, created_at)
        VALUES (:group_id, :member_id, :operation, :fingerprint, :created_at)
        ON CONFLICT (group_id, fingerprint) DO UPDATE SET
            member_id = excluded.member_id,
            operation = excluded.operation,
            created_at = excluded.created_at
        WHERE duplicate_records.created_at <= :cutoff;
    `

	args := map[string]any{
		"group_id":    record.GroupID,
		"member_id":   record.MemberID,
		"operation":   record.Operation,
		"fingerprint": record.Fingerprint,
		"created_at":  record.CreatedAt,
		"cutoff":      cutoff,
	}

	result, err := s.db.NamedExecContext(ctx, query, args)
	if err != nil {
		if isBusyError(err) {
			return fmt.Errorf("%w: %v", ErrStorageConflict, err)
		}
		s.logger.ErrorContext(ctx, "Error reserving duplicate record",
			"group_id", record.GroupID, "operation", record.Operation, "error", err)
		return fmt.Errorf("failed to reserve operation fingerprint: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		s.logger.WarnContext(ctx, "Could not get affected row count after reservation",
			"group_id", record.GroupID, "error", err)
		return nil
	}
	if affected == 0 {
		s.logger.InfoContext(ctx, "Rejected duplicate operation",
			"group_id", record.GroupID, "member_id", record.MemberID, "operation", record.Operation)
		return fmt.Errorf("operation already reserved: %w", ErrDuplicateOperation)
	}

	s.logger.DebugContext(ctx, "Reserved operation fingerprint",
		"group_id", record.GroupID, "operation", record.Operation)
	return nil
}

// DeleteExpiredDuplicateRecords purges records created at or before the
// cutoff. Safe to run at any time: reservation treats expired records as
// reclaimable whether or not the purge got to them first.
func (s *sqlxStore) DeleteExpiredDuplicateRecords(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `DELETE FROM duplicate_records WHERE created_at <= ?`
	result, err := s.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		if isBusyError(err) {
			return 0, fmt.Errorf("%w: %v", ErrStorageConflict, err)
		}
		s.logger.ErrorContext(ctx, "Error purging expired duplicate records", "error", err)
		return 0, fmt.Errorf("failed to purge expired duplicate records: %w", err)
	}

	count, _ := result.RowsAffected()
	if count > 0 {
		s.logger.InfoContext(ctx, "Purged expired duplicate records", "count", count)
	} else {
		s.logger.DebugContext(ctx, "No expired duplicate records to purge")
	}
	return count, nil
}
