// README: Booking repository contract shared by the registry, offer book and lifecycle.
package booking

import (
	"context"
	"time"

	"bidride/internal/types"
)

// Store persists bookings and offers. Implementations must make SubmitOffer,
// AcceptOffer and Transition single atomic guarded writes.
type Store interface {
	CreateBooking(ctx context.Context, b *Booking) error
	GetBooking(ctx context.Context, id types.ID) (*Booking, error)

	// SubmitOffer upserts the (booking, driver) offer and moves a requested booking to
	// proposed. Returns ErrNotFound for an unknown booking and ErrConflict when the
	// booking no longer accepts offers.
	SubmitOffer(ctx context.Context, o *Offer) (SubmitOutcome, error)
	GetOffer(ctx context.Context, bookingID types.ID, driverID types.UserID) (*Offer, error)
	ListOffers(ctx context.Context, bookingID types.ID) ([]Offer, error)

	// AcceptOffer commits the booking to one driver with a compare-and-swap on the
	// booking status and settles every offer of the booking in the same transaction.
	AcceptOffer(ctx context.Context, p AcceptParams) (AcceptOutcome, error)

	// Transition applies a lifecycle change guarded by the observed status and version.
	Transition(ctx context.Context, p TransitionParams) (bool, error)

	AppendEvent(ctx context.Context, e *Event) error
}

type SubmitOutcome struct {
	Offer *Offer
	// Proposed is true when this offer moved the booking from requested to proposed.
	Proposed bool
}

type AcceptParams struct {
	BookingID types.ID
	DriverID  types.UserID
	Fare      types.Money
	At        time.Time
}

type AcceptOutcome struct {
	Won bool
	// Rejected lists the drivers whose pending offers were rejected by the win.
	Rejected []types.UserID
}

type TransitionParams struct {
	BookingID types.ID
	From      Status
	Version   int
	To        Status
	ActorID   types.UserID
	Reason    string
	At        time.Time
}
