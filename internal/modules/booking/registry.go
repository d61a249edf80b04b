// README: Booking registry creates bookings and resolves them by id.
package booking

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"bidride/internal/notify"
	"bidride/internal/observability"
	"bidride/internal/types"
)

type Registry struct {
	store   Store
	drivers EligibleDrivers
	log     *slog.Logger
	now     func() time.Time
}

// NewRegistry wires the registry; drivers may be nil when no presence source is configured.
func NewRegistry(store Store, drivers EligibleDrivers, log *slog.Logger) *Registry {
	return &Registry{
		store:   store,
		drivers: drivers,
		log:     orDiscard(log).With("component", "booking.registry"),
		now:     time.Now,
	}
}

type CreateCommand struct {
	RequesterID    types.UserID
	Pickup         Location
	Destination    Location
	PassengerCount int
}

type CreateResult struct {
	Booking         *Booking
	EligibleDrivers []types.UserID
	TripDistanceKm  float64
}

func (r *Registry) Create(ctx context.Context, cmd CreateCommand) (*CreateResult, error) {
	if err := validateCreate(cmd); err != nil {
		return nil, err
	}

	now := r.now().UTC()
	b := &Booking{
		ExternalRef:    newExternalRef(now),
		RequesterID:    cmd.RequesterID,
		Pickup:         cmd.Pickup,
		Destination:    cmd.Destination,
		PassengerCount: cmd.PassengerCount,
		Status:         StatusRequested,
		StatusVersion:  0,
		CreatedAt:      now,
	}
	if err := r.store.CreateBooking(ctx, b); err != nil {
		return nil, internal("create booking", err)
	}
	observability.BookingsCreated.Inc()
	if err := r.store.AppendEvent(ctx, &Event{
		BookingID:  b.ID,
		FromStatus: StatusNone,
		ToStatus:   StatusRequested,
		ActorID:    types.UserIDPtr(cmd.RequesterID),
		CreatedAt:  now,
	}); err != nil {
		r.log.Warn("append booking event", "booking_id", b.ID, "err", err)
	}

	res := &CreateResult{
		Booking:         b,
		EligibleDrivers: []types.UserID{},
		TripDistanceKm:  types.HaversineKm(cmd.Pickup.Point(), cmd.Destination.Point()),
	}
	if r.drivers != nil {
		ids, err := r.drivers.Eligible(ctx, cmd.Pickup.Point(), cmd.PassengerCount)
		if err != nil {
			r.log.Warn("eligible drivers lookup failed", "booking_id", b.ID, "err", err)
		} else if ids != nil {
			res.EligibleDrivers = ids
		}
	}
	r.log.Info("booking created",
		"booking_id", b.ID,
		"external_ref", b.ExternalRef,
		"eligible_drivers", len(res.EligibleDrivers),
	)
	return res, nil
}

func (r *Registry) Get(ctx context.Context, id types.ID) (*Booking, error) {
	b, err := r.store.GetBooking(ctx, id)
	if err != nil {
		return nil, internal("get booking", err)
	}
	return b, nil
}

// Events returns the audit trail when the store keeps one.
func (r *Registry) Events(ctx context.Context, id types.ID) ([]Event, error) {
	if _, err := r.Get(ctx, id); err != nil {
		return nil, err
	}
	lister, ok := r.store.(EventLister)
	if !ok {
		return []Event{}, nil
	}
	events, err := lister.ListEvents(ctx, id)
	if err != nil {
		return nil, internal("list events", err)
	}
	return events, nil
}

func validateCreate(cmd CreateCommand) error {
	if strings.TrimSpace(string(cmd.RequesterID)) == "" {
		return validation("requester is required")
	}
	if err := validateLocation("pickup", cmd.Pickup); err != nil {
		return err
	}
	if err := validateLocation("destination", cmd.Destination); err != nil {
		return err
	}
	if cmd.PassengerCount < 1 {
		return validation("passenger count must be at least 1")
	}
	if cmd.Pickup.Lat == cmd.Destination.Lat && cmd.Pickup.Lng == cmd.Destination.Lng {
		return validation("pickup and destination must differ")
	}
	return nil
}

func validateLocation(name string, l Location) error {
	if l.Lat < -90 || l.Lat > 90 {
		return validation(name + " latitude out of range")
	}
	if l.Lng < -180 || l.Lng > 180 {
		return validation(name + " longitude out of range")
	}
	if strings.TrimSpace(l.Address) == "" {
		return validation(name + " address is required")
	}
	return nil
}

// newExternalRef renders BK-<yyyymmddHHMMSS>-<8 hex>.
func newExternalRef(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return "BK-" + now.Format("20060102150405") + "-" + strings.ToUpper(suffix)
}

// RequestedIntent builds the fan-out that tells eligible drivers about a new booking.
func RequestedIntent(res *CreateResult) notify.Intent {
	b := res.Booking
	return notify.Intent{
		Kind:       notify.KindBookingRequested,
		Recipients: res.EligibleDrivers,
		Title:      "New ride request",
		Body:       "Pickup at " + b.Pickup.Address,
		Data: withData(bookingData(b),
			"pickup", b.Pickup.Address,
			"destination", b.Destination.Address,
			"passengers", strconv.Itoa(b.PassengerCount),
			"distance_km", formatKm(res.TripDistanceKm),
		),
	}
}
