// Package ledger implements the group expense ledger: bill creation with
// duplicate suppression, payment tracking, settlement, and debt views. It is
// the surface a chat transport calls; everything here is group-scoped and
// deterministic.
package ledger

import (
	"errors"

	"github.com/edgard/tallybot/internal/database"
)

// Errors returned by ledger operations. Callers classify with errors.Is.
// Storage-level categories are aliased from the store so either package's
// sentinel matches.
var (
	// ErrValidation indicates malformed or inconsistent input. Split
	// computation failures match this too, alongside their own sentinel in
	// the splitcalc package.
	ErrValidation = errors.New("validation failed")

	// ErrPermissionDenied indicates the acting member is not allowed to
	// perform the operation, e.g. a non-payer settling a bill.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrAlreadyArchived indicates the bill's archived flag is already set.
	ErrAlreadyArchived = errors.New("bill already archived")

	// ErrNotFound indicates the referenced group, member, bill, or
	// participant does not exist.
	ErrNotFound = database.ErrNotFound

	// ErrDuplicateOperation indicates an identical operation was already
	// accepted inside the dedup window.
	ErrDuplicateOperation = database.ErrDuplicateOperation

	// ErrDuplicateBillContent indicates an identical unarchived bill
	// already exists in the group.
	ErrDuplicateBillContent = database.ErrDuplicateBillContent

	// ErrStorageConflict indicates a transient storage lock; the caller may
	// retry the operation as-is.
	ErrStorageConflict = database.ErrStorageConflict
)
