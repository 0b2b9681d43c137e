package database

import (
	"database/sql"
	"time"

	"github.com/shopspring/decimal"
)

// Split mode values stored on a bill row.
const (
	SplitModeEqual   = "EQUAL"
	SplitModeUnequal = "UNEQUAL"
)

// Group is the isolation boundary for all ledger data. One row per chat
// group, keyed by the identifier the chat platform assigns to the group.
type Group struct {
	ID         int64     `db:"id"`
	ExternalID string    `db:"external_id"`
	CreatedAt  time.Time `db:"created_at"`
}

// Member is a person known to a group's ledger. Members are created lazily
// the first time an operation references them; the display name follows
// whatever the chat platform reports and may be refreshed later.
type Member struct {
	ID          int64     `db:"id"`
	GroupID     int64     `db:"group_id"`
	ExternalID  string    `db:"external_id"`
	DisplayName string    `db:"display_name"`
	CreatedAt   time.Time `db:"created_at"`
}

// Bill is one shared expense paid up front by the payer. Amounts are exact
// decimals stored as text; the archived flag only ever flips one way.
type Bill struct {
	ID                 int64           `db:"id"`
	GroupID            int64           `db:"group_id"`
	PayerID            int64           `db:"payer_id"`
	Description        string          `db:"description"`
	Total              decimal.Decimal `db:"total"`
	SplitMode          string          `db:"split_mode"`
	ContentFingerprint string          `db:"content_fingerprint"`
	IsArchived         bool            `db:"is_archived"`
	CreatedAt          time.Time       `db:"created_at"`
}

// Participant is one debtor's obligation on a bill. PaidAt is set exactly
// once, when the paid flag flips.
type Participant struct {
	ID       int64           `db:"id"`
	BillID   int64           `db:"bill_id"`
	DebtorID int64           `db:"debtor_id"`
	Amount   decimal.Decimal `db:"amount"`
	IsPaid   bool            `db:"is_paid"`
	PaidAt   sql.NullTime    `db:"paid_at"`
}

// BillSummary is a bill row joined with its payer's display name, for read
// views and receipts.
type BillSummary struct {
	Bill
	PayerName string `db:"payer_name"`
}

// ParticipantDetail is a participant row joined with its debtor's identity,
// for receipts and read views.
type ParticipantDetail struct {
	Participant
	DebtorExternalID string `db:"debtor_external_id"`
	DebtorName       string `db:"debtor_name"`
}

// UnpaidDebt is one unpaid participant row joined with bill and member
// information, the unit the debt views aggregate over.
type UnpaidDebt struct {
	BillID           int64           `db:"bill_id"`
	Description      string          `db:"description"`
	Amount           decimal.Decimal `db:"amount"`
	DebtorID         int64           `db:"debtor_id"`
	DebtorExternalID string          `db:"debtor_external_id"`
	DebtorName       string          `db:"debtor_name"`
	PayerName        string          `db:"payer_name"`
	BillCreatedAt    time.Time       `db:"bill_created_at"`
}

// DuplicateRecord is a reserved operation fingerprint. While a record is
// younger than the dedup window, an identical operation in the same group is
// rejected; older records are inert and reclaimed or purged.
type DuplicateRecord struct {
	ID          int64     `db:"id"`
	GroupID     int64     `db:"group_id"`
	MemberID    int64     `db:"member_id"`
	Operation   string    `db:"operation"`
	Fingerprint string    `db:"fingerprint"`
	CreatedAt   time.Time `db:"created_at"`
}

// GroupDeletion reports what a full group wipe removed.
type GroupDeletion struct {
	Bills            int64
	Participants     int64
	Members          int64
	DuplicateRecords int64
}
