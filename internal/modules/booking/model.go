// README: Booking aggregate, offer rows, status enums and the lifecycle transition table.
package booking

import (
	"fmt"
	"time"

	"bidride/internal/types"
)

type Status string

const (
	StatusNone       Status = "none"
	StatusRequested  Status = "requested"
	StatusProposed   Status = "proposed"
	StatusAccepted   Status = "accepted"
	StatusArrived    Status = "arrived"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCanceled   Status = "canceled"
)

func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusRequested, StatusProposed, StatusAccepted, StatusArrived,
		StatusInProgress, StatusCompleted, StatusCanceled:
		return st, nil
	}
	return "", fmt.Errorf("unknown booking status %q", s)
}

// Terminal reports whether no further transition can leave the status.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCanceled
}

// Committed reports whether a driver and fare are bound to the booking.
func (s Status) Committed() bool {
	switch s {
	case StatusAccepted, StatusArrived, StatusInProgress, StatusCompleted:
		return true
	}
	return false
}

// Open reports whether drivers may still submit offers, that is whether the
// booking can still be accepted.
func (s Status) Open() bool {
	_, ok := Next(s, EventAccept)
	return ok
}

type OfferStatus string

const (
	OfferPending  OfferStatus = "pending"
	OfferAccepted OfferStatus = "accepted"
	OfferRejected OfferStatus = "rejected"
)

type Location struct {
	Lat     float64
	Lng     float64
	Address string
}

func (l Location) Point() types.Point {
	return types.Point{Lat: l.Lat, Lng: l.Lng}
}

type Booking struct {
	ID             types.ID
	ExternalRef    string
	RequesterID    types.UserID
	Pickup         Location
	Destination    Location
	PassengerCount int
	Status         Status
	StatusVersion  int
	DriverID       *types.UserID
	CommittedFare  *types.Money
	CreatedAt      time.Time
	AcceptedAt     *time.Time
	ArrivedAt      *time.Time
	StartedAt      *time.Time
	CompletedAt    *time.Time
	CanceledAt     *time.Time
	CanceledBy     *types.UserID
	CancelReason   *string
}

// IsParty reports whether the user is the requester or the assigned driver.
func (b *Booking) IsParty(id types.UserID) bool {
	if id == b.RequesterID {
		return true
	}
	return b.DriverID != nil && *b.DriverID == id
}

func (b *Booking) IsDriver(id types.UserID) bool {
	return b.DriverID != nil && *b.DriverID == id
}

type Offer struct {
	ID          types.ID
	BookingID   types.ID
	DriverID    types.UserID
	Fare        types.Money
	Vehicle     string
	Status      OfferStatus
	OfferedAt   time.Time
	RespondedAt *time.Time
}

type Event struct {
	ID         int64
	BookingID  types.ID
	FromStatus Status
	ToStatus   Status
	ActorID    *types.UserID
	CreatedAt  time.Time
}

// EventName names a lifecycle trigger in the transition table.
type EventName string

const (
	EventOffer           EventName = "offer"
	EventAccept          EventName = "accept"
	EventDriverArrival   EventName = "driver_arrival"
	EventJourneyStart    EventName = "journey_start"
	EventJourneyComplete EventName = "journey_complete"
	EventCancel          EventName = "cancel"
)

// ActorRule restricts who may trigger an event.
type ActorRule int

const (
	ActorSystem ActorRule = iota
	ActorRequester
	ActorDriver
	ActorParty
)

type transition struct {
	from  []Status
	to    Status
	actor ActorRule
}

// transitions is the booking state flow as code; every status change goes through it.
var transitions = map[EventName]transition{
	EventOffer:           {from: []Status{StatusRequested}, to: StatusProposed, actor: ActorSystem},
	EventAccept:          {from: []Status{StatusRequested, StatusProposed}, to: StatusAccepted, actor: ActorRequester},
	EventDriverArrival:   {from: []Status{StatusAccepted}, to: StatusArrived, actor: ActorDriver},
	EventJourneyStart:    {from: []Status{StatusArrived}, to: StatusInProgress, actor: ActorDriver},
	EventJourneyComplete: {from: []Status{StatusInProgress}, to: StatusCompleted, actor: ActorDriver},
	EventCancel: {
		from:  []Status{StatusRequested, StatusProposed, StatusAccepted, StatusArrived, StatusInProgress},
		to:    StatusCanceled,
		actor: ActorParty,
	},
}

// Next returns the target status of event when fired from the given status.
func Next(from Status, event EventName) (Status, bool) {
	t, ok := transitions[event]
	if !ok {
		return "", false
	}
	for _, s := range t.from {
		if s == from {
			return t.to, true
		}
	}
	return "", false
}

// CanTransition reports whether some event moves a booking from one status to another.
func CanTransition(from, to Status) bool {
	for event, t := range transitions {
		if t.to != to {
			continue
		}
		if _, ok := Next(from, event); ok {
			return true
		}
	}
	return false
}

// sourcesOf returns the statuses event may fire from, as plain strings for SQL guards.
func sourcesOf(event EventName) []string {
	t := transitions[event]
	out := make([]string, len(t.from))
	for i, s := range t.from {
		out[i] = string(s)
	}
	return out
}

func actorRuleOf(event EventName) ActorRule {
	return transitions[event].actor
}
