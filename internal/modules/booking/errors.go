package booking

import (
	"errors"
	"fmt"

	"bidride/internal/types"
)

var (
	ErrValidation         = errors.New("validation failed")
	ErrNotFound           = errors.New("not found")
	ErrConflict           = errors.New("booking state conflict")
	ErrForbidden          = errors.New("actor not allowed")
	ErrPreconditionFailed = errors.New("precondition failed")
	ErrInternal           = errors.New("internal error")

	// ErrInvalidTransition is the PreconditionFailed raised for a (status, event) pair
	// missing from the transition table.
	ErrInvalidTransition = fmt.Errorf("%w: invalid state transition", ErrPreconditionFailed)
)

// ConflictError is returned when a booking is no longer open for offers or acceptance.
// AlreadyAcceptedBy is the driver holding the booking, if any.
type ConflictError struct {
	BookingID         types.ID
	Status            Status
	AlreadyAcceptedBy *types.UserID
}

func (e *ConflictError) Error() string {
	if e.AlreadyAcceptedBy != nil {
		return fmt.Sprintf("booking %s already accepted by %s", e.BookingID, *e.AlreadyAcceptedBy)
	}
	return fmt.Sprintf("booking %s is %s", e.BookingID, e.Status)
}

// Is matches ErrConflict always, and ErrPreconditionFailed once the booking is terminal.
func (e *ConflictError) Is(target error) bool {
	switch target {
	case ErrConflict:
		return true
	case ErrPreconditionFailed:
		return e.Status.Terminal()
	}
	return false
}

func newConflict(b *Booking) *ConflictError {
	return &ConflictError{BookingID: b.ID, Status: b.Status, AlreadyAcceptedBy: b.DriverID}
}

func validation(msg string) error {
	return fmt.Errorf("%w: %s", ErrValidation, msg)
}

// internal wraps an unclassified storage error; classified errors pass through.
func internal(op string, err error) error {
	if err == nil {
		return nil
	}
	for _, known := range []error{ErrNotFound, ErrConflict, ErrValidation, ErrForbidden, ErrPreconditionFailed, ErrInternal} {
		if errors.Is(err, known) {
			return err
		}
	}
	return fmt.Errorf("%w: %s: %w", ErrInternal, op, err)
}
