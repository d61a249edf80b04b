package rating

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	"bidride/internal/modules/booking"
	"bidride/internal/testutil"
	"bidride/internal/types"
)

type fixture struct {
	registry  *booking.Registry
	offers    *booking.OfferBook
	lifecycle *booking.Lifecycle
	svc       *Service
}

func newFixture(t *testing.T, bookings booking.Store, ratings Store) *fixture {
	t.Helper()
	reg := booking.NewRegistry(bookings, nil, nil)
	return &fixture{
		registry:  reg,
		offers:    booking.NewOfferBook(bookings, nil, nil, nil),
		lifecycle: booking.NewLifecycle(bookings, nil, nil, nil),
		svc:       NewService(ratings, reg, nil, nil),
	}
}

func newMemoryFixture(t *testing.T) *fixture {
	return newFixture(t, booking.NewMemoryStore(), NewMemoryStore())
}

// booked creates a booking for requester, accepted by driver.
func (f *fixture) booked(t *testing.T, requester, driver types.UserID) *booking.Booking {
	t.Helper()
	ctx := context.Background()
	res, err := f.registry.Create(ctx, booking.CreateCommand{
		RequesterID:    requester,
		Pickup:         booking.Location{Lat: 25.033, Lng: 121.565, Address: "Taipei 101"},
		Destination:    booking.Location{Lat: 25.0478, Lng: 121.5318, Address: "Taipei Main Station"},
		PassengerCount: 1,
	})
	if err != nil {
		t.Fatalf("create booking: %v", err)
	}
	b := res.Booking
	fare := types.MoneyFromFloat(250, "")
	if _, err := f.offers.Submit(ctx, booking.SubmitOfferCommand{BookingID: b.ID, DriverID: driver, Fare: fare, Vehicle: "Yellow cab"}); err != nil {
		t.Fatalf("submit offer: %v", err)
	}
	if _, err := f.offers.Accept(ctx, booking.AcceptOfferCommand{BookingID: b.ID, RequesterID: requester, DriverID: driver, Fare: fare}); err != nil {
		t.Fatalf("accept: %v", err)
	}
	return b
}

func (f *fixture) completed(t *testing.T, requester, driver types.UserID) *booking.Booking {
	t.Helper()
	b := f.booked(t, requester, driver)
	ctx := context.Background()
	cmd := booking.EventCommand{BookingID: b.ID, Actor: driver}
	for _, fire := range []func(context.Context, booking.EventCommand) (*booking.Booking, error){
		f.lifecycle.Arrive, f.lifecycle.Start, f.lifecycle.Complete,
	} {
		if _, err := fire(ctx, cmd); err != nil {
			t.Fatalf("advance booking: %v", err)
		}
	}
	return b
}

func TestRatingGate(t *testing.T) {
	f := newMemoryFixture(t)
	ctx := context.Background()
	b := f.booked(t, "p1", "d1")

	cmd := SubmitCommand{BookingID: b.ID, RaterID: "p1", RatedID: "d1", Score: 5, IsDriverRating: true}
	if _, _, err := f.svc.Submit(ctx, cmd); !errors.Is(err, booking.ErrPreconditionFailed) {
		t.Fatalf("expected precondition failure before completion, got %v", err)
	}

	dcmd := booking.EventCommand{BookingID: b.ID, Actor: "d1"}
	for _, fire := range []func(context.Context, booking.EventCommand) (*booking.Booking, error){
		f.lifecycle.Arrive, f.lifecycle.Start, f.lifecycle.Complete,
	} {
		if _, err := fire(ctx, dcmd); err != nil {
			t.Fatalf("advance booking: %v", err)
		}
	}

	r, avg, err := f.svc.Submit(ctx, cmd)
	if err != nil {
		t.Fatalf("submit after completion: %v", err)
	}
	if r.ID == 0 {
		t.Fatalf("rating id not assigned")
	}
	if avg.Count != 1 || avg.Average != 5 {
		t.Fatalf("unexpected average %+v", avg)
	}
}

func TestAverageReflectsNewMean(t *testing.T) {
	f := newMemoryFixture(t)
	ctx := context.Background()

	empty, err := f.svc.Average(ctx, "d1")
	if err != nil {
		t.Fatalf("average: %v", err)
	}
	if empty != (Average{}) {
		t.Fatalf("expected {0,0}, got %+v", empty)
	}

	scores := []int{5, 4, 2}
	for i, score := range scores {
		rider := types.UserID("p" + string(rune('1'+i)))
		b := f.completed(t, rider, "d1")
		if _, _, err := f.svc.Submit(ctx, SubmitCommand{
			BookingID: b.ID, RaterID: rider, RatedID: "d1", Score: score, IsDriverRating: true,
		}); err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}

	avg, err := f.svc.Average(ctx, "d1")
	if err != nil {
		t.Fatalf("average: %v", err)
	}
	if avg.Count != 3 || math.Abs(avg.Average-11.0/3.0) > 1e-9 {
		t.Fatalf("unexpected average %+v", avg)
	}
}

func TestSubmitValidation(t *testing.T) {
	f := newMemoryFixture(t)
	ctx := context.Background()
	b := f.completed(t, "p1", "d1")

	cases := []struct {
		name string
		cmd  SubmitCommand
		want error
	}{
		{"score too low", SubmitCommand{BookingID: b.ID, RaterID: "p1", RatedID: "d1", Score: 0, IsDriverRating: true}, booking.ErrValidation},
		{"score too high", SubmitCommand{BookingID: b.ID, RaterID: "p1", RatedID: "d1", Score: 6, IsDriverRating: true}, booking.ErrValidation},
		{"self rating", SubmitCommand{BookingID: b.ID, RaterID: "p1", RatedID: "p1", Score: 3}, booking.ErrValidation},
		{"long comment", SubmitCommand{BookingID: b.ID, RaterID: "p1", RatedID: "d1", Score: 3, IsDriverRating: true, Comment: strings.Repeat("x", MaxCommentLength+1)}, booking.ErrValidation},
		{"stranger", SubmitCommand{BookingID: b.ID, RaterID: "x1", RatedID: "d1", Score: 3, IsDriverRating: true}, booking.ErrValidation},
		{"wrong direction", SubmitCommand{BookingID: b.ID, RaterID: "p1", RatedID: "d1", Score: 3, IsDriverRating: false}, booking.ErrValidation},
		{"unknown booking", SubmitCommand{BookingID: 999, RaterID: "p1", RatedID: "d1", Score: 3, IsDriverRating: true}, booking.ErrNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, _, err := f.svc.Submit(ctx, tc.cmd); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestBothDirectionsAndDuplicate(t *testing.T) {
	f := newMemoryFixture(t)
	ctx := context.Background()
	b := f.completed(t, "p1", "d1")

	if _, _, err := f.svc.Submit(ctx, SubmitCommand{BookingID: b.ID, RaterID: "p1", RatedID: "d1", Score: 4, IsDriverRating: true}); err != nil {
		t.Fatalf("passenger rates driver: %v", err)
	}
	if _, _, err := f.svc.Submit(ctx, SubmitCommand{BookingID: b.ID, RaterID: "d1", RatedID: "p1", Score: 5, Comment: "polite"}); err != nil {
		t.Fatalf("driver rates passenger: %v", err)
	}
	_, _, err := f.svc.Submit(ctx, SubmitCommand{BookingID: b.ID, RaterID: "p1", RatedID: "d1", Score: 1, IsDriverRating: true})
	if !errors.Is(err, booking.ErrConflict) {
		t.Fatalf("expected conflict on duplicate rating, got %v", err)
	}

	list, err := f.svc.ListForBooking(ctx, b.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 ratings, got %d", len(list))
	}
	avg, _ := f.svc.Average(ctx, "d1")
	if avg.Count != 1 || avg.Average != 4 {
		t.Fatalf("duplicate must not change the average, got %+v", avg)
	}
}

func TestPGRatingLedger(t *testing.T) {
	db := testutil.Postgres(t)
	f := newFixture(t, booking.NewPGStore(db), NewPGStore(db))
	ctx := context.Background()

	b1 := f.completed(t, "p1", "d1")
	b2 := f.completed(t, "p2", "d1")
	for _, b := range []*booking.Booking{b1, b2} {
		if _, _, err := f.svc.Submit(ctx, SubmitCommand{BookingID: b.ID, RaterID: b.RequesterID, RatedID: "d1", Score: 3 + int(b.ID%2), IsDriverRating: true}); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}
	if _, _, err := f.svc.Submit(ctx, SubmitCommand{BookingID: b1.ID, RaterID: "p1", RatedID: "d1", Score: 5, IsDriverRating: true}); !errors.Is(err, booking.ErrConflict) {
		t.Fatalf("expected conflict on duplicate rating, got %v", err)
	}

	avg, err := f.svc.Average(ctx, "d1")
	if err != nil {
		t.Fatalf("average: %v", err)
	}
	if avg.Count != 2 || avg.Average != 3.5 {
		t.Fatalf("unexpected average %+v", avg)
	}
	none, err := f.svc.Average(ctx, "nobody")
	if err != nil || none != (Average{}) {
		t.Fatalf("expected {0,0}, got %+v %v", none, err)
	}
}
