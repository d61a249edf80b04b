// README: Lifecycle drives an accepted booking through arrival, journey and cancellation.
package booking

import (
	"context"
	"log/slog"
	"time"

	"bidride/internal/notify"
	"bidride/internal/observability"
	"bidride/internal/types"
)

// maxTransitionAttempts bounds re-reads when a concurrent write bumps the version.
const maxTransitionAttempts = 3

type Lifecycle struct {
	store    Store
	notifier notify.Notifier
	releaser DriverTracker
	log      *slog.Logger
	now      func() time.Time
}

// NewLifecycle wires the state machine; notifier and releaser may be nil.
func NewLifecycle(store Store, notifier notify.Notifier, releaser DriverTracker, log *slog.Logger) *Lifecycle {
	return &Lifecycle{
		store:    store,
		notifier: orNop(notifier),
		releaser: releaser,
		log:      orDiscard(log).With("component", "booking.lifecycle"),
		now:      time.Now,
	}
}

type EventCommand struct {
	BookingID types.ID
	Actor     types.UserID
	Reason    string
}

func (l *Lifecycle) Arrive(ctx context.Context, cmd EventCommand) (*Booking, error) {
	return l.fire(ctx, EventDriverArrival, cmd)
}

func (l *Lifecycle) Start(ctx context.Context, cmd EventCommand) (*Booking, error) {
	return l.fire(ctx, EventJourneyStart, cmd)
}

func (l *Lifecycle) Complete(ctx context.Context, cmd EventCommand) (*Booking, error) {
	return l.fire(ctx, EventJourneyComplete, cmd)
}

// Cancel is legal from any non-terminal status; canceling a canceled booking is a no-op.
func (l *Lifecycle) Cancel(ctx context.Context, cmd EventCommand) (*Booking, error) {
	return l.fire(ctx, EventCancel, cmd)
}

func (l *Lifecycle) fire(ctx context.Context, event EventName, cmd EventCommand) (*Booking, error) {
	if cmd.Actor == "" {
		return nil, validation("actor is required")
	}

	var b *Booking
	for attempt := 0; attempt < maxTransitionAttempts; attempt++ {
		var err error
		b, err = l.store.GetBooking(ctx, cmd.BookingID)
		if err != nil {
			return nil, internal("get booking", err)
		}
		to, noop, err := classify(b, event, cmd.Actor)
		if err != nil {
			return nil, err
		}
		if noop {
			return b, nil
		}

		now := l.now().UTC()
		ok, err := l.store.Transition(ctx, TransitionParams{
			BookingID: b.ID,
			From:      b.Status,
			Version:   b.StatusVersion,
			To:        to,
			ActorID:   cmd.Actor,
			Reason:    cmd.Reason,
			At:        now,
		})
		if err != nil {
			return nil, internal("transition booking", err)
		}
		if !ok {
			continue
		}

		from := b.Status
		updated, err := l.store.GetBooking(ctx, b.ID)
		if err != nil {
			return nil, internal("get booking", err)
		}
		observability.TransitionsTotal.WithLabelValues(string(to)).Inc()
		if err := l.store.AppendEvent(ctx, &Event{
			BookingID:  b.ID,
			FromStatus: from,
			ToStatus:   to,
			ActorID:    types.UserIDPtr(cmd.Actor),
			CreatedAt:  now,
		}); err != nil {
			l.log.Warn("append booking event", "booking_id", b.ID, "err", err)
		}
		l.afterTransition(ctx, b, updated, cmd.Actor)
		l.log.Info("booking transition",
			"booking_id", b.ID,
			"from", from,
			"to", to,
			"actor", cmd.Actor,
		)
		return updated, nil
	}
	return nil, newConflict(b)
}

// classify resolves the target status of event for the actor, or reports a no-op
// when the booking already sits in the event's terminal target.
func classify(b *Booking, event EventName, actor types.UserID) (Status, bool, error) {
	to, ok := Next(b.Status, event)
	if !ok {
		target := transitions[event].to
		if target.Terminal() && b.Status == target && wasParty(b, actor) {
			return "", true, nil
		}
		return "", false, ErrInvalidTransition
	}
	switch actorRuleOf(event) {
	case ActorDriver:
		if !b.IsDriver(actor) {
			return "", false, ErrForbidden
		}
	case ActorRequester:
		if actor != b.RequesterID {
			return "", false, ErrForbidden
		}
	case ActorParty:
		if !b.IsParty(actor) {
			return "", false, ErrForbidden
		}
	}
	return to, false, nil
}

// wasParty also admits the canceling user, since cancel clears the driver binding.
func wasParty(b *Booking, actor types.UserID) bool {
	return b.IsParty(actor) || (b.CanceledBy != nil && *b.CanceledBy == actor)
}

// afterTransition runs side effects; prev is the booking as read before the
// transition and still carries the driver a cancel has since cleared.
func (l *Lifecycle) afterTransition(ctx context.Context, prev, b *Booking, actor types.UserID) {
	data := bookingData(b)
	switch b.Status {
	case StatusArrived:
		l.notifier.Dispatch(notify.Intent{
			Kind:       notify.KindDriverArrived,
			Recipients: []types.UserID{b.RequesterID},
			Title:      "Driver arrived",
			Body:       "Your driver is waiting at the pickup point",
			Data:       data,
		})
	case StatusInProgress:
		l.notifier.Dispatch(notify.Intent{
			Kind:       notify.KindJourneyStarted,
			Recipients: []types.UserID{b.RequesterID},
			Title:      "Journey started",
			Body:       "Enjoy your ride",
			Data:       data,
		})
	case StatusCompleted:
		l.notifier.Dispatch(notify.Intent{
			Kind:       notify.KindJourneyCompleted,
			Recipients: []types.UserID{b.RequesterID},
			Title:      "Journey completed",
			Body:       "You have arrived, rate your driver",
			Data:       data,
		})
		l.release(ctx, b.DriverID)
	case StatusCanceled:
		l.afterCancel(ctx, prev, b, actor)
	}
}

func (l *Lifecycle) afterCancel(ctx context.Context, prev, b *Booking, actor types.UserID) {
	data := bookingData(b)
	if b.CancelReason != nil {
		data["reason"] = *b.CancelReason
	}

	if prev.Status.Committed() && prev.DriverID != nil {
		recipient := *prev.DriverID
		if actor == recipient {
			recipient = b.RequesterID
		}
		l.notifier.Dispatch(notify.Intent{
			Kind:       notify.KindBookingCanceled,
			Recipients: []types.UserID{recipient},
			Title:      "Booking canceled",
			Body:       "The ride was canceled",
			Data:       data,
		})
		l.release(ctx, prev.DriverID)
		return
	}

	offers, err := l.store.ListOffers(ctx, b.ID)
	if err != nil {
		l.log.Warn("list offers for cancel notice", "booking_id", b.ID, "err", err)
		return
	}
	var drivers []types.UserID
	for _, o := range offers {
		if o.Status == OfferPending {
			drivers = append(drivers, o.DriverID)
		}
	}
	if len(drivers) == 0 {
		return
	}
	l.notifier.Dispatch(notify.Intent{
		Kind:       notify.KindBookingCanceled,
		Recipients: drivers,
		Title:      "Booking canceled",
		Body:       "The passenger canceled the request",
		Data:       data,
	})
}

func (l *Lifecycle) release(ctx context.Context, driver *types.UserID) {
	if l.releaser == nil || driver == nil {
		return
	}
	if err := l.releaser.Release(ctx, *driver); err != nil {
		l.log.Warn("release driver", "driver_id", *driver, "err", err)
	}
}

