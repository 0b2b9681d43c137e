package database

import (
	"context"
	"database/sql" // Needed for sql.ErrNoRows
	"errors"       // Needed for errors.Is
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Common errors returned by the store. Callers classify with errors.Is; the
// store never swallows a conflict.
var (
	// ErrNotFound indicates the referenced record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrDuplicateOperation indicates an identical operation fingerprint is
	// still live inside the dedup window.
	ErrDuplicateOperation = errors.New("duplicate operation")

	// ErrDuplicateBillContent indicates an identical unarchived bill already
	// exists in the group.
	ErrDuplicateBillContent = errors.New("duplicate bill content")

	// ErrStorageConflict indicates a transient lock or busy condition; the
	// caller may retry the operation.
	ErrStorageConflict = errors.New("storage conflict")
)

// Store defines the interface for ledger persistence.
// Methods accept context.Context for cancellation and timeouts; every write
// runs as a single short transaction.
type Store interface {
	// Ping checks the database connection.
	Ping(ctx context.Context) error

	// EnsureGroup returns the group for an external chat-group id, creating
	// it on first reference.
	EnsureGroup(ctx context.Context, externalID string) (*Group, error)

	// GetGroupByExternalID retrieves a group without creating it. Returns
	// nil, nil if not found.
	GetGroupByExternalID(ctx context.Context, externalID string) (*Group, error)

	// EnsureMember returns the member for an external user id within a
	// group, creating it on first reference and refreshing the stored
	// display name when it changed.
	EnsureMember(ctx context.Context, groupID int64, externalID, displayName string) (*Member, error)

	// GetMemberByExternalID retrieves a member by external id. Returns nil,
	// nil if not found.
	GetMemberByExternalID(ctx context.Context, groupID int64, externalID string) (*Member, error)

	// ListMembers retrieves a group's member roster in the order members
	// were first seen.
	ListMembers(ctx context.Context, groupID int64) ([]Member, error)

	// CreateBill inserts a bill and all of its participant rows atomically.
	// An identical active bill in the group fails with ErrDuplicateBillContent.
	CreateBill(ctx context.Context, bill *Bill, participants []Participant) error

	// GetBill retrieves one bill scoped to a group, with its payer's display
	// name. Returns nil, nil if not found.
	GetBill(ctx context.Context, groupID, billID int64) (*BillSummary, error)

	// GetBillParticipants retrieves a bill's participant rows with debtor identities.
	GetBillParticipants(ctx context.Context, billID int64) ([]ParticipantDetail, error)

	// ListActiveBills retrieves a group's non-archived bills with payer
	// names, newest first.
	ListActiveBills(ctx context.Context, groupID int64) ([]BillSummary, error)

	// ListBillsByPayer retrieves the bills a payer owns within a group,
	// oldest first, optionally including archived ones.
	ListBillsByPayer(ctx context.Context, groupID, payerID int64, includeArchived bool) ([]Bill, error)

	// ParticipantsForBills retrieves participant rows for a set of bills,
	// grouped by bill id.
	ParticipantsForBills(ctx context.Context, billIDs []int64) (map[int64][]ParticipantDetail, error)

	// MarkParticipantsPaid flips the paid flag for the given debtors on a
	// bill where it is not already set, and returns the debtor ids that
	// actually transitioned. Already-paid rows are left untouched.
	MarkParticipantsPaid(ctx context.Context, billID int64, debtorIDs []int64, paidAt time.Time) ([]int64, error)

	// ArchiveBills sets the archived flag on the given bills where not
	// already set and returns how many rows flipped.
	ArchiveBills(ctx context.Context, billIDs []int64) (int64, error)

	// ListUnpaidByDebtor retrieves a member's unpaid participant rows across
	// the group's non-archived bills, oldest bill first.
	ListUnpaidByDebtor(ctx context.Context, groupID, debtorID int64) ([]UnpaidDebt, error)

	// ListUnpaidByGroup retrieves every unpaid participant row across the
	// group's non-archived bills, oldest bill first.
	ListUnpaidByGroup(ctx context.Context, groupID int64) ([]UnpaidDebt, error)

	// ReserveDuplicateRecord atomically claims an operation fingerprint. A
	// live record with the same (group, fingerprint) fails the reservation
	// with ErrDuplicateOperation; an expired record is reclaimed in place.
	ReserveDuplicateRecord(ctx context.Context, record *DuplicateRecord, cutoff time.Time) error

	// DeleteExpiredDuplicateRecords purges records created at or before the
	// cutoff and returns how many were removed.
	DeleteExpiredDuplicateRecords(ctx context.Context, cutoff time.Time) (int64, error)

	// DeleteBillsByPayer deletes every bill a payer owns within a group
	// (participants cascade) and returns how many bills were removed.
	DeleteBillsByPayer(ctx context.Context, groupID, payerID int64) (int64, error)

	// DeleteGroupData deletes the group row and everything hanging off it,
	// returning per-entity counts gathered in the same transaction.
	DeleteGroupData(ctx context.Context, groupID int64) (*GroupDeletion, error)

	// RunSQLMaintenance performs database maintenance tasks like VACUUM.
	RunSQLMaintenance(ctx context.Context) error
}

// sqlxStore provides an implementation of the Store interface using sqlx.
type sqlxStore struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStore creates a new Store implementation backed by sqlx.
// It requires a connected sqlx.DB instance and a logger.
func NewStore(db *sqlx.DB, logger *slog.Logger) Store {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &sqlxStore{
		db:     db,
		logger: logger.With("component", "store"),
	}
}

// Ping checks the database connection.
func (s *sqlxStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// EnsureGroup returns the group row for an external chat-group id, creating
// it on first reference. The unique index on external_id makes concurrent
// first references converge on a single row.
func (s *sqlxStore) EnsureGroup(ctx context.Context, externalID string) (*Group, error) {
	if externalID == "" {
		return nil, fmt.Errorf("group external id cannot be empty")
	}

	insert := `
        INSERT INTO groups (external_id, created_at)
        VALUES (?, ?)
        ON CONFLICT (external_id) DO NOTHING;
    `
	if _, err := s.db.ExecContext(ctx, insert, externalID, time.Now().UTC()); err != nil {
		if isBusyError(err) {
			return nil, fmt.Errorf("%w: %v", ErrStorageConflict, err)
		}
		s.logger.ErrorContext(ctx, "Error ensuring group", "group_external_id", externalID, "error", err)
		return nil, fmt.Errorf("failed to ensure group %q: %w", externalID, err)
	}

	var group Group
	query := `SELECT id, external_id, created_at FROM groups WHERE external_id = ?`
	if err := s.db.GetContext(ctx, &group, query, externalID); err != nil {
		s.logger.ErrorContext(ctx, "Error loading group after ensure", "group_external_id", externalID, "error", err)
		return nil, fmt.Errorf("failed to load group %q: %w", externalID, err)
	}

	return &group, nil
}

// GetGroupByExternalID retrieves a group without creating it. Returns nil,
// nil if not found.
func (s *sqlxStore) GetGroupByExternalID(ctx context.Context, externalID string) (*Group, error) {
	if externalID == "" {
		return nil, fmt.Errorf("group external id cannot be empty")
	}

	var group Group
	query := `SELECT id, external_id, created_at FROM groups WHERE external_id = ?`
	err := s.db.GetContext(ctx, &group, query, externalID)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		s.logger.DebugContext(ctx, "No group found", "group_external_id", externalID)
		return nil, nil

	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		return nil, err

	case err != nil:
		s.logger.ErrorContext(ctx, "Error getting group", "group_external_id", externalID, "error", err)
		return nil, fmt.Errorf("failed to get group %q: %w", externalID, err)
	}

	return &group, nil
}

// EnsureMember returns the member row for an external user id within a
// group, creating it lazily. A changed display name is refreshed in place;
// an empty one falls back to the external id on insert and never overwrites
// an existing name.
func (s *sqlxStore) EnsureMember(ctx context.Context, groupID int64, externalID, displayName string) (*Member, error) {
	if groupID == 0 {
		return nil, fmt.Errorf("group id cannot be zero")
	}
	if externalID == "" {
		return nil, fmt.Errorf("member external id cannot be empty")
	}
	insertName := displayName
	if insertName == "" {
		insertName = externalID
	}

	insert := `
        INSERT INTO members (group_id, external_id, display_name, created_at)
        VALUES (?, ?, ?, ?)
        ON CONFLICT (group_id, external_id) DO UPDATE SET
            display_name = excluded.display_name
        WHERE ? <> '' AND members.display_name <> excluded.display_name;
    `
	if _, err := s.db.ExecContext(ctx, insert, groupID, externalID, insertName, time.Now().UTC(), displayName); err != nil {
		if isBusyError(err) {
			return nil, fmt.Errorf("%w: %v", ErrStorageConflict, err)
		}
		s.logger.ErrorContext(ctx, "Error ensuring member",
			"group_id", groupID, "member_external_id", externalID, "error", err)
		return nil, fmt.Errorf("failed to ensure member %q: %w", externalID, err)
	}

	var member Member
	query := `
        SELECT id, group_id, external_id, display_name, created_at
        FROM members
        WHERE group_id = ? AND external_id = ?
    `
	if err := s.db.GetContext(ctx, &member, query, groupID, externalID); err != nil {
		s.logger.ErrorContext(ctx, "Error loading member after ensure",
			"group_id", groupID, "member_external_id", externalID, "error", err)
		return nil, fmt.Errorf("failed to load member %q: %w", externalID, err)
	}

	return &member, nil
}

// GetMemberByExternalID retrieves a member by external id. Returns nil, nil if not found.
func (s *sqlxStore) GetMemberByExternalID(ctx context.Context, groupID int64, externalID string) (*Member, error) {
	if groupID == 0 {
		return nil, fmt.Errorf("group id cannot be zero")
	}
	if externalID == "" {
		return nil, fmt.Errorf("member external id cannot be empty")
	}

	var member Member
	query := `
        SELECT id, group_id, external_id, display_name, created_at
        FROM members
        WHERE group_id = ? AND external_id = ?
    `
	err := s.db.GetContext(ctx, &member, query, groupID, externalID)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		s.logger.DebugContext(ctx, "No member found",
			"group_id", groupID, "member_external_id", externalID)
		return nil, nil

	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		return nil, err

	case err != nil:
		s.logger.ErrorContext(ctx, "Error getting member",
			"group_id", groupID, "member_external_id", externalID, "error", err)
		return nil, fmt.Errorf("failed to get member %q: %w", externalID, err)
	}

	return &member, nil
}

// ListMembers retrieves a group's member roster in the order members were
// first seen.
func (s *sqlxStore) ListMembers(ctx context.Context, groupID int64) ([]Member, error) {
	if groupID == 0 {
		return nil, fmt.Errorf("group id cannot be zero")
	}

	var members []Member
	query := `
        SELECT id, group_id, external_id, display_name, created_at
        FROM members
        WHERE group_id = ?
        ORDER BY id;
    `

	if err := s.db.SelectContext(ctx, &members, query, groupID); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, err
		}
		s.logger.ErrorContext(ctx, "Error listing members", "group_id", groupID, "error", err)
		return nil, fmt.Errorf("failed to list members for group %d: %w", groupID, err)
	}

	return members, nil
}

// RunSQLMaintenance compacts and re-optimizes the database. VACUUM must run
// outside a transaction in SQLite, so the steps execute as plain statements.
func (s *sqlxStore) RunSQLMaintenance(ctx context.Context) error {
	if ctx.Err() != nil {
		s.logger.WarnContext(ctx, "Context cancelled or timed out before starting maintenance", "error", ctx.Err())
		return ctx.Err()
	}

	s.logger.InfoContext(ctx, "Starting database maintenance...")

	if _, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE);"); err != nil {
		s.logger.WarnContext(ctx, "WAL checkpoint failed", "error", err)
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA optimize;"); err != nil {
		s.logger.WarnContext(ctx, "PRAGMA optimize failed", "error", err)
	}

	_, err := s.db.ExecContext(ctx, "VACUUM;")

	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		s.logger.WarnContext(ctx, "VACUUM operation timed out or was cancelled", "error", err)
		return fmt.Errorf("database maintenance (VACUUM) timed out: %w", err)

	case err != nil:
		s.logger.ErrorContext(ctx, "Database maintenance (VACUUM) failed", "error", err)
		return fmt.Errorf("failed to execute VACUUM: %w", err)

	default:
		s.logger.InfoContext(ctx, "Database maintenance completed successfully")
	}

	return nil
}

// isConstraintError reports whether err is a SQLite constraint violation.
func isConstraintError(err error) bool {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		code := sqliteErr.Code()
		return code == sqlite3.SQLITE_CONSTRAINT ||
			code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY ||
			code == sqlite3.SQLITE_CONSTRAINT_UNIQUE
	}
	return false
}

// isBusyError reports whether err is a transient SQLite lock condition.
func isBusyError(err error) bool {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		code := sqliteErr.Code()
		return code == sqlite3.SQLITE_BUSY || code == sqlite3.SQLITE_LOCKED
	}
	return false
}
