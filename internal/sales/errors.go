package sales

import (
	"fmt"

	"github.com/flooringops/opsdesk/internal/shared"
)

var (
	// ErrNotFound is returned when a sales record does not exist.
	ErrNotFound = fmt.Errorf("sales: record not found: %w", shared.ErrNotFound)
	// ErrHasDependents is returned when deleting a customer that quotes, jobs or invoices reference.
	ErrHasDependents = fmt.Errorf("sales: customer has dependent records: %w", shared.ErrConflict)
	// ErrInvalidStatus is returned when a record is not in a state that allows the operation.
	ErrInvalidStatus = fmt.Errorf("sales: invalid status: %w", shared.ErrInvalidState)
	// ErrNotEditable is returned when quote items change after the quote left draft/sent.
	ErrNotEditable = fmt.Errorf("sales: quote is no longer editable: %w", shared.ErrInvalidState)
	// ErrNotAssigned is returned when an installer acts on a job assigned to someone else.
	ErrNotAssigned = fmt.Errorf("sales: job is not assigned to you: %w", shared.ErrForbidden)
	// ErrStaffOnly is returned when an installer attempts an office-only operation.
	ErrStaffOnly = fmt.Errorf("sales: staff only: %w", shared.ErrForbidden)
	// ErrDuplicatePayment is returned when an Idempotency-Key was already used.
	ErrDuplicatePayment = fmt.Errorf("sales: payment already recorded: %w", shared.ErrConflict)
	// ErrOverpayment is returned when a payment exceeds the outstanding balance.
	ErrOverpayment = fmt.Errorf("sales: payment exceeds balance: %w", shared.ErrValidation)
)
