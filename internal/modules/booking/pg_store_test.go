// README: Store tests against a live Postgres (set BIDRIDE_TEST_DSN, run with -race).
package booking

import (
	"context"
	"testing"

	"bidride/internal/testutil"
)

func newPGHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWithStore(t, NewPGStore(testutil.Postgres(t)))
}

func TestPGConcurrentAcceptSingleWinner(t *testing.T) {
	runConcurrentAccept(t, newPGHarness(t), 8)
}

func TestPGOfferScenario(t *testing.T) {
	h := newPGHarness(t)
	ctx := context.Background()
	b := h.mustCreate(t, "p1")

	first := h.mustOffer(t, b.ID, "d1", 500)
	h.mustOffer(t, b.ID, "d2", 450)
	again := h.mustOffer(t, b.ID, "d1", 520)
	if again.ID != first.ID {
		t.Fatalf("re-offer created a new row: %s vs %s", again.ID, first.ID)
	}

	offers, err := h.offers.List(ctx, b.ID)
	if err != nil {
		t.Fatalf("list offers: %v", err)
	}
	if len(offers) != 2 || offers[0].DriverID != "d2" || offers[1].Fare.Amount != 52000 {
		t.Fatalf("unexpected offers: %+v", offers)
	}

	res := h.mustAccept(t, b, "d2", 450)
	if len(res.Rejected) != 1 || res.Rejected[0] != "d1" {
		t.Fatalf("expected d1 rejected, got %v", res.Rejected)
	}
	assertStatus(t, h, b.ID, StatusAccepted)
}

func TestPGLifecycleAndCancelIdempotency(t *testing.T) {
	h := newPGHarness(t)
	ctx := context.Background()
	b := h.mustCreate(t, "p1")

	_, err := h.lifecycle.Arrive(ctx, EventCommand{BookingID: b.ID, Actor: "d1"})
	assertErrIs(t, err, ErrInvalidTransition)

	h.mustOffer(t, b.ID, "d1", 500)
	h.mustAccept(t, b, "d1", 500)
	for _, fire := range []func(context.Context, EventCommand) (*Booking, error){
		h.lifecycle.Arrive, h.lifecycle.Start,
	} {
		if _, err := fire(ctx, EventCommand{BookingID: b.ID, Actor: "d1"}); err != nil {
			t.Fatalf("transition: %v", err)
		}
	}
	got, err := h.lifecycle.Cancel(ctx, EventCommand{BookingID: b.ID, Actor: "d1", Reason: "flat tyre"})
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got.Status != StatusCanceled || got.CancelReason == nil || *got.CancelReason != "flat tyre" {
		t.Fatalf("unexpected booking after cancel: %+v", got)
	}
	if got.DriverID != nil || got.CommittedFare != nil {
		t.Fatalf("cancel must clear the driver and fare, got driver=%v fare=%v", got.DriverID, got.CommittedFare)
	}
	if _, err := h.lifecycle.Cancel(ctx, EventCommand{BookingID: b.ID, Actor: "d1"}); err != nil {
		t.Fatalf("repeat cancel by the canceling driver should be a no-op: %v", err)
	}
	if _, err := h.lifecycle.Cancel(ctx, EventCommand{BookingID: b.ID, Actor: "p1"}); err != nil {
		t.Fatalf("second cancel should be a no-op: %v", err)
	}

	events, err := h.registry.Events(ctx, b.ID)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if n := len(events); n != 6 {
		t.Fatalf("expected 6 audit events, got %d", n)
	}
}
