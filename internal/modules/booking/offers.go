// README: Offer book handles driver offers and the single-winner acceptance.
package booking

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"bidride/internal/notify"
	"bidride/internal/observability"
	"bidride/internal/types"
)

type OfferBook struct {
	store    Store
	notifier notify.Notifier
	tracker  DriverTracker
	log      *slog.Logger
	now      func() time.Time
}

// NewOfferBook wires the offer book; notifier and tracker may be nil.
func NewOfferBook(store Store, notifier notify.Notifier, tracker DriverTracker, log *slog.Logger) *OfferBook {
	return &OfferBook{
		store:    store,
		notifier: orNop(notifier),
		tracker:  tracker,
		log:      orDiscard(log).With("component", "booking.offers"),
		now:      time.Now,
	}
}

type SubmitOfferCommand struct {
	BookingID types.ID
	DriverID  types.UserID
	Fare      types.Money
	Vehicle   string
}

type AcceptOfferCommand struct {
	BookingID   types.ID
	RequesterID types.UserID
	DriverID    types.UserID
	Fare        types.Money
}

type AcceptResult struct {
	Booking  *Booking
	Offer    *Offer
	Rejected []types.UserID
}

func (o *OfferBook) Submit(ctx context.Context, cmd SubmitOfferCommand) (*Offer, error) {
	if strings.TrimSpace(string(cmd.DriverID)) == "" {
		return nil, validation("driver is required")
	}
	if !cmd.Fare.IsPositive() {
		return nil, validation("fare must be greater than zero")
	}
	if strings.TrimSpace(cmd.Vehicle) == "" {
		return nil, validation("vehicle is required")
	}
	if cmd.Fare.Currency == "" {
		cmd.Fare.Currency = types.DefaultCurrency
	}

	b, err := o.store.GetBooking(ctx, cmd.BookingID)
	if err != nil {
		return nil, internal("get booking", err)
	}
	if !b.Status.Open() {
		return nil, newConflict(b)
	}
	if b.RequesterID == cmd.DriverID {
		return nil, validation("requester cannot offer on own booking")
	}

	now := o.now().UTC()
	out, err := o.store.SubmitOffer(ctx, &Offer{
		BookingID: cmd.BookingID,
		DriverID:  cmd.DriverID,
		Fare:      cmd.Fare,
		Vehicle:   strings.TrimSpace(cmd.Vehicle),
		Status:    OfferPending,
		OfferedAt: now,
	})
	if errors.Is(err, ErrConflict) {
		return nil, o.conflict(ctx, cmd.BookingID)
	}
	if err != nil {
		return nil, internal("submit offer", err)
	}
	observability.OffersSubmitted.Inc()

	if out.Proposed {
		observability.TransitionsTotal.WithLabelValues(string(StatusProposed)).Inc()
		o.appendEvent(ctx, &Event{
			BookingID:  cmd.BookingID,
			FromStatus: StatusRequested,
			ToStatus:   StatusProposed,
			ActorID:    types.UserIDPtr(cmd.DriverID),
			CreatedAt:  now,
		})
		b.Status = StatusProposed
	}

	o.notifier.Dispatch(notify.Intent{
		Kind:       notify.KindNewOffer,
		Recipients: []types.UserID{b.RequesterID},
		Title:      "New offer",
		Body:       "A driver offered " + out.Offer.Fare.String() + " for your ride",
		Data: withData(bookingData(b),
			"driver_id", string(cmd.DriverID),
			"offer_id", out.Offer.ID.String(),
			"fare", out.Offer.Fare.String(),
		),
	})
	o.log.Info("offer submitted",
		"booking_id", cmd.BookingID,
		"driver_id", cmd.DriverID,
		"fare", out.Offer.Fare.Amount,
	)
	return out.Offer, nil
}

// List returns offers cheapest first, earliest first on equal fares.
func (o *OfferBook) List(ctx context.Context, bookingID types.ID) ([]Offer, error) {
	if _, err := o.store.GetBooking(ctx, bookingID); err != nil {
		return nil, internal("get booking", err)
	}
	offers, err := o.store.ListOffers(ctx, bookingID)
	if err != nil {
		return nil, internal("list offers", err)
	}
	if offers == nil {
		offers = []Offer{}
	}
	return offers, nil
}

// Accept commits the booking to one driver. Exactly one of any number of
// concurrent calls wins; the others get a *ConflictError naming the winner.
func (o *OfferBook) Accept(ctx context.Context, cmd AcceptOfferCommand) (*AcceptResult, error) {
	res, err := o.accept(ctx, cmd)
	switch {
	case err == nil:
		observability.AcceptTotal.WithLabelValues("won").Inc()
	case errors.Is(err, ErrConflict):
		observability.AcceptTotal.WithLabelValues("conflict").Inc()
	case errors.Is(err, ErrInternal):
		observability.AcceptTotal.WithLabelValues("error").Inc()
	default:
		observability.AcceptTotal.WithLabelValues("rejected").Inc()
	}
	return res, err
}

func (o *OfferBook) accept(ctx context.Context, cmd AcceptOfferCommand) (*AcceptResult, error) {
	if strings.TrimSpace(string(cmd.DriverID)) == "" {
		return nil, validation("driver is required")
	}
	if !cmd.Fare.IsPositive() {
		return nil, validation("fare must be greater than zero")
	}
	if cmd.Fare.Currency == "" {
		cmd.Fare.Currency = types.DefaultCurrency
	}

	b, err := o.store.GetBooking(ctx, cmd.BookingID)
	if err != nil {
		return nil, internal("get booking", err)
	}
	if b.RequesterID != cmd.RequesterID {
		return nil, ErrForbidden
	}
	if !b.Status.Open() {
		return nil, newConflict(b)
	}

	offer, err := o.store.GetOffer(ctx, cmd.BookingID, cmd.DriverID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, internal("get offer", err)
	}
	if offer == nil || offer.Status != OfferPending {
		// A settled offer means someone else won between the two reads.
		if cerr := o.conflict(ctx, cmd.BookingID); isSettled(cerr) {
			return nil, cerr
		}
		return nil, ErrNotFound
	}
	if offer.Fare.Amount != cmd.Fare.Amount {
		return nil, validation("fare does not match the driver's current offer")
	}

	now := o.now().UTC()
	out, err := o.store.AcceptOffer(ctx, AcceptParams{
		BookingID: cmd.BookingID,
		DriverID:  cmd.DriverID,
		Fare:      offer.Fare,
		At:        now,
	})
	if err != nil {
		return nil, internal("accept offer", err)
	}
	if !out.Won {
		return nil, o.conflict(ctx, cmd.BookingID)
	}

	from := b.Status
	driver := cmd.DriverID
	fare := offer.Fare
	b.Status = StatusAccepted
	b.StatusVersion++
	b.DriverID = &driver
	b.CommittedFare = &fare
	b.AcceptedAt = &now
	offer.Status = OfferAccepted
	offer.RespondedAt = &now

	observability.TransitionsTotal.WithLabelValues(string(StatusAccepted)).Inc()
	o.appendEvent(ctx, &Event{
		BookingID:  b.ID,
		FromStatus: from,
		ToStatus:   StatusAccepted,
		ActorID:    types.UserIDPtr(cmd.RequesterID),
		CreatedAt:  now,
	})
	o.afterAccept(ctx, b, out.Rejected)

	o.log.Info("offer accepted",
		"booking_id", b.ID,
		"driver_id", cmd.DriverID,
		"fare", fare.Amount,
		"rejected", len(out.Rejected),
	)
	return &AcceptResult{Booking: b, Offer: offer, Rejected: out.Rejected}, nil
}

func (o *OfferBook) afterAccept(ctx context.Context, b *Booking, rejected []types.UserID) {
	o.notifier.Dispatch(notify.Intent{
		Kind:       notify.KindOfferAccepted,
		Recipients: []types.UserID{*b.DriverID},
		Title:      "Offer accepted",
		Body:       "Your offer was accepted, head to the pickup point",
		Data:       withData(bookingData(b), "fare", b.CommittedFare.String()),
	})
	if len(rejected) > 0 {
		o.notifier.Dispatch(notify.Intent{
			Kind:       notify.KindBookingTaken,
			Recipients: rejected,
			Title:      "Booking taken",
			Body:       "The passenger chose another driver",
			Data:       bookingData(b),
		})
	}
	o.markBusy(ctx, b.ID, *b.DriverID)
}

// markBusy flags the winner busy and then re-reads the booking. A cancel that
// committed before the re-read has already released the driver, so the flag is
// undone here; a later cancel releases after this mark.
func (o *OfferBook) markBusy(ctx context.Context, id types.ID, driver types.UserID) {
	if o.tracker == nil {
		return
	}
	if err := o.tracker.MarkBusy(ctx, driver); err != nil {
		o.log.Warn("mark driver busy", "driver_id", driver, "err", err)
		return
	}
	current, err := o.store.GetBooking(ctx, id)
	if err != nil {
		o.log.Warn("verify busy driver", "booking_id", id, "err", err)
		return
	}
	if current.Status.Committed() && current.IsDriver(driver) {
		return
	}
	if err := o.tracker.Release(ctx, driver); err != nil {
		o.log.Warn("release driver", "driver_id", driver, "err", err)
	}
}

// conflict re-reads the booking and describes why it no longer accepts offers.
func (o *OfferBook) conflict(ctx context.Context, id types.ID) error {
	b, err := o.store.GetBooking(ctx, id)
	if err != nil {
		return internal("get booking", err)
	}
	return newConflict(b)
}

func (o *OfferBook) appendEvent(ctx context.Context, e *Event) {
	if err := o.store.AppendEvent(ctx, e); err != nil {
		o.log.Warn("append booking event", "booking_id", e.BookingID, "err", err)
	}
}

func isSettled(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce) && !ce.Status.Open()
}
