package booking

import (
	"context"
	"errors"
	"sync"
	"testing"

	"bidride/internal/notify"
	"bidride/internal/types"
)

type recordingNotifier struct {
	mu      sync.Mutex
	intents []notify.Intent
}

func (r *recordingNotifier) Dispatch(in notify.Intent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.intents = append(r.intents, in)
}

func (r *recordingNotifier) byKind(kind notify.Kind) []notify.Intent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []notify.Intent
	for _, in := range r.intents {
		if in.Kind == kind {
			out = append(out, in)
		}
	}
	return out
}

type fakeTracker struct {
	mu       sync.Mutex
	busy     []types.UserID
	released []types.UserID
	state    map[types.UserID]bool
	// onBusy runs after a driver is marked busy, outside the lock.
	onBusy func(types.UserID)
}

func (f *fakeTracker) MarkBusy(_ context.Context, id types.UserID) error {
	f.mu.Lock()
	f.busy = append(f.busy, id)
	f.set(id, true)
	hook := f.onBusy
	f.mu.Unlock()
	if hook != nil {
		hook(id)
	}
	return nil
}

func (f *fakeTracker) Release(_ context.Context, id types.UserID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = append(f.released, id)
	f.set(id, false)
	return nil
}

func (f *fakeTracker) set(id types.UserID, busy bool) {
	if f.state == nil {
		f.state = make(map[types.UserID]bool)
	}
	f.state[id] = busy
}

func (f *fakeTracker) isBusy(id types.UserID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state[id]
}

type fakeDrivers struct {
	ids []types.UserID
	err error
}

func (f fakeDrivers) Eligible(context.Context, types.Point, int) ([]types.UserID, error) {
	return f.ids, f.err
}

type harness struct {
	store     Store
	registry  *Registry
	offers    *OfferBook
	lifecycle *Lifecycle
	notifier  *recordingNotifier
	tracker   *fakeTracker
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWithStore(t, NewMemoryStore())
}

func newHarnessWithStore(t *testing.T, store Store) *harness {
	t.Helper()
	n := &recordingNotifier{}
	tr := &fakeTracker{}
	return &harness{
		store:     store,
		registry:  NewRegistry(store, fakeDrivers{ids: []types.UserID{"d1", "d2"}}, nil),
		offers:    NewOfferBook(store, n, tr, nil),
		lifecycle: NewLifecycle(store, n, tr, nil),
		notifier:  n,
		tracker:   tr,
	}
}

func scenarioCommand(requester types.UserID) CreateCommand {
	return CreateCommand{
		RequesterID:    requester,
		Pickup:         Location{Lat: 25.00, Lng: 62.30, Address: "Gwadar Port"},
		Destination:    Location{Lat: 25.10, Lng: 62.40, Address: "Gwadar Airport"},
		PassengerCount: 2,
	}
}

func (h *harness) mustCreate(t *testing.T, requester types.UserID) *Booking {
	t.Helper()
	res, err := h.registry.Create(context.Background(), scenarioCommand(requester))
	if err != nil {
		t.Fatalf("create booking: %v", err)
	}
	return res.Booking
}

func (h *harness) mustOffer(t *testing.T, id types.ID, driver types.UserID, fare float64) *Offer {
	t.Helper()
	o, err := h.offers.Submit(context.Background(), SubmitOfferCommand{
		BookingID: id,
		DriverID:  driver,
		Fare:      types.MoneyFromFloat(fare, ""),
		Vehicle:   "Toyota Corolla ABC-123",
	})
	if err != nil {
		t.Fatalf("submit offer %s: %v", driver, err)
	}
	return o
}

func (h *harness) mustAccept(t *testing.T, b *Booking, driver types.UserID, fare float64) *AcceptResult {
	t.Helper()
	res, err := h.offers.Accept(context.Background(), AcceptOfferCommand{
		BookingID:   b.ID,
		RequesterID: b.RequesterID,
		DriverID:    driver,
		Fare:        types.MoneyFromFloat(fare, ""),
	})
	if err != nil {
		t.Fatalf("accept %s: %v", driver, err)
	}
	return res
}

func assertStatus(t *testing.T, h *harness, id types.ID, want Status) {
	t.Helper()
	b, err := h.registry.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get booking: %v", err)
	}
	if b.Status != want {
		t.Fatalf("expected status %s, got %s", want, b.Status)
	}
}

func assertErrIs(t *testing.T, err, target error) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Fatalf("expected %v, got %v", target, err)
	}
}
