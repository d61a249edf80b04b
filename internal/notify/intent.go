// README: Notification intents emitted by the booking core and rating ledger.
package notify

import (
	"context"

	"bidride/internal/types"
)

type Kind string

const (
	KindBookingRequested Kind = "booking_requested"
	KindNewOffer         Kind = "new_offer"
	KindOfferAccepted    Kind = "offer_accepted"
	KindBookingTaken     Kind = "booking_taken"
	KindBookingCanceled  Kind = "booking_canceled"
	KindDriverArrived    Kind = "driver_arrived"
	KindJourneyStarted   Kind = "journey_started"
	KindJourneyCompleted Kind = "journey_completed"
	KindRatingReceived   Kind = "rating_received"
)

// Intent is one message addressed to any number of recipients.
type Intent struct {
	Kind       Kind
	Recipients []types.UserID
	Title      string
	Body       string
	Data       map[string]string
}

// Sender delivers a single message to a single recipient.
type Sender interface {
	Send(ctx context.Context, recipient types.UserID, title, body string, data map[string]string) error
}

// Notifier accepts intents without blocking the caller.
type Notifier interface {
	Dispatch(in Intent)
}

// Nop discards every intent.
type Nop struct{}

func (Nop) Dispatch(Intent) {}
