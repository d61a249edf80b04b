// README: In-process booking store with the same guarded-write semantics as PGStore.
package booking

import (
	"context"
	"sort"
	"sync"

	"bidride/internal/types"
)

// MemoryStore keeps everything behind one mutex, so each guarded write is atomic.
type MemoryStore struct {
	mu       sync.Mutex
	nextID   int64
	bookings map[types.ID]*Booking
	offers   map[types.ID][]*Offer
	events   []Event
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		bookings: make(map[types.ID]*Booking),
		offers:   make(map[types.ID][]*Offer),
	}
}

func (s *MemoryStore) id() types.ID {
	s.nextID++
	return types.ID(s.nextID)
}

func (s *MemoryStore) CreateBooking(_ context.Context, b *Booking) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b.ID = s.id()
	s.bookings[b.ID] = cloneBooking(b)
	return nil
}

func (s *MemoryStore) GetBooking(_ context.Context, id types.ID) (*Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneBooking(b), nil
}

func (s *MemoryStore) SubmitOffer(_ context.Context, o *Offer) (SubmitOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out SubmitOutcome
	b, ok := s.bookings[o.BookingID]
	if !ok {
		return out, ErrNotFound
	}
	if !b.Status.Open() {
		return out, ErrConflict
	}

	var saved *Offer
	for _, existing := range s.offers[o.BookingID] {
		if existing.DriverID != o.DriverID {
			continue
		}
		if existing.Status != OfferPending {
			return out, ErrConflict
		}
		existing.Fare = o.Fare
		existing.Vehicle = o.Vehicle
		existing.OfferedAt = o.OfferedAt
		saved = existing
		break
	}
	if saved == nil {
		saved = &Offer{
			ID:        s.id(),
			BookingID: o.BookingID,
			DriverID:  o.DriverID,
			Fare:      o.Fare,
			Vehicle:   o.Vehicle,
			Status:    OfferPending,
			OfferedAt: o.OfferedAt,
		}
		s.offers[o.BookingID] = append(s.offers[o.BookingID], saved)
	}

	if to, ok := Next(b.Status, EventOffer); ok {
		b.Status = to
		b.StatusVersion++
		out.Proposed = true
	}
	c := *saved
	out.Offer = &c
	return out, nil
}

func (s *MemoryStore) GetOffer(_ context.Context, bookingID types.ID, driverID types.UserID) (*Offer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.offers[bookingID] {
		if o.DriverID == driverID {
			c := *o
			return &c, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) ListOffers(_ context.Context, bookingID types.ID) ([]Offer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Offer, 0, len(s.offers[bookingID]))
	for _, o := range s.offers[bookingID] {
		out = append(out, *o)
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Fare.Amount != b.Fare.Amount {
			return a.Fare.Amount < b.Fare.Amount
		}
		if !a.OfferedAt.Equal(b.OfferedAt) {
			return a.OfferedAt.Before(b.OfferedAt)
		}
		return a.ID < b.ID
	})
	return out, nil
}

func (s *MemoryStore) AcceptOffer(_ context.Context, p AcceptParams) (AcceptOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out AcceptOutcome
	b, ok := s.bookings[p.BookingID]
	if !ok || !b.Status.Open() {
		return out, nil
	}
	var winner *Offer
	for _, o := range s.offers[p.BookingID] {
		if o.DriverID == p.DriverID && o.Status == OfferPending && o.Fare.Amount == p.Fare.Amount {
			winner = o
			break
		}
	}
	if winner == nil {
		return out, nil
	}

	at := p.At
	driver := p.DriverID
	fare := p.Fare
	b.Status = StatusAccepted
	b.StatusVersion++
	b.DriverID = &driver
	b.CommittedFare = &fare
	b.AcceptedAt = &at

	for _, o := range s.offers[p.BookingID] {
		if o.Status != OfferPending {
			continue
		}
		o.RespondedAt = &at
		if o == winner {
			o.Status = OfferAccepted
			continue
		}
		o.Status = OfferRejected
		out.Rejected = append(out.Rejected, o.DriverID)
	}
	out.Won = true
	return out, nil
}

func (s *MemoryStore) Transition(_ context.Context, p TransitionParams) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.bookings[p.BookingID]
	if !ok || b.Status != p.From || b.StatusVersion != p.Version {
		return false, nil
	}
	at := p.At
	b.Status = p.To
	b.StatusVersion++
	switch p.To {
	case StatusArrived:
		b.ArrivedAt = &at
	case StatusInProgress:
		b.StartedAt = &at
	case StatusCompleted:
		b.CompletedAt = &at
	case StatusCanceled:
		b.CanceledAt = &at
		actor := p.ActorID
		b.CanceledBy = &actor
		b.DriverID = nil
		b.CommittedFare = nil
		if p.Reason != "" {
			r := p.Reason
			b.CancelReason = &r
		}
	}
	return true, nil
}

func (s *MemoryStore) AppendEvent(_ context.Context, e *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	c := *e
	c.ID = s.nextID
	s.events = append(s.events, c)
	return nil
}

func (s *MemoryStore) ListEvents(_ context.Context, bookingID types.ID) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Event
	for _, e := range s.events {
		if e.BookingID == bookingID {
			out = append(out, e)
		}
	}
	return out, nil
}

func cloneBooking(b *Booking) *Booking {
	c := *b
	if b.DriverID != nil {
		d := *b.DriverID
		c.DriverID = &d
	}
	if b.CommittedFare != nil {
		f := *b.CommittedFare
		c.CommittedFare = &f
	}
	if b.CanceledBy != nil {
		v := *b.CanceledBy
		c.CanceledBy = &v
	}
	if b.CancelReason != nil {
		v := *b.CancelReason
		c.CancelReason = &v
	}
	return &c
}
