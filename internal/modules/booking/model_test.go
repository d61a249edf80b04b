package booking

import (
	"errors"
	"testing"

	"bidride/internal/types"
)

// TestCanTransition verifies the transition table without a store.
func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to Status
		want     bool
	}{
		// forward path
		{StatusRequested, StatusProposed, true},
		{StatusRequested, StatusAccepted, true},
		{StatusProposed, StatusAccepted, true},
		{StatusAccepted, StatusArrived, true},
		{StatusArrived, StatusInProgress, true},
		{StatusInProgress, StatusCompleted, true},
		// cancel from every non-terminal state
		{StatusRequested, StatusCanceled, true},
		{StatusProposed, StatusCanceled, true},
		{StatusAccepted, StatusCanceled, true},
		{StatusArrived, StatusCanceled, true},
		{StatusInProgress, StatusCanceled, true},
		// terminal states have no outgoing transitions
		{StatusCompleted, StatusCanceled, false},
		{StatusCanceled, StatusCanceled, false},
		{StatusCanceled, StatusRequested, false},
		// skipping states
		{StatusRequested, StatusArrived, false},
		{StatusProposed, StatusInProgress, false},
		{StatusAccepted, StatusCompleted, false},
		// no way back
		{StatusAccepted, StatusProposed, false},
		{StatusProposed, StatusRequested, false},
	}
	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to); got != tc.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestNext(t *testing.T) {
	if to, ok := Next(StatusAccepted, EventDriverArrival); !ok || to != StatusArrived {
		t.Fatalf("driver_arrival from accepted: got %s %v", to, ok)
	}
	if _, ok := Next(StatusRequested, EventDriverArrival); ok {
		t.Fatalf("driver_arrival must not apply to requested")
	}
	if _, ok := Next(StatusRequested, EventName("teleport")); ok {
		t.Fatalf("unknown event must not apply")
	}
}

func TestOpenFollowsAcceptSources(t *testing.T) {
	sources := map[Status]bool{}
	for _, s := range sourcesOf(EventAccept) {
		sources[Status(s)] = true
	}
	all := []Status{
		StatusRequested, StatusProposed, StatusAccepted,
		StatusArrived, StatusInProgress, StatusCompleted, StatusCanceled,
	}
	for _, s := range all {
		if s.Open() != sources[s] {
			t.Errorf("%s: Open() = %v, accept sources say %v", s, s.Open(), sources[s])
		}
	}
	if !StatusRequested.Open() || !StatusProposed.Open() || StatusAccepted.Open() {
		t.Fatalf("only requested and proposed take offers")
	}
}

func TestParseStatus(t *testing.T) {
	for _, s := range []string{"requested", "proposed", "accepted", "arrived", "in_progress", "completed", "canceled"} {
		if _, err := ParseStatus(s); err != nil {
			t.Fatalf("ParseStatus(%q): %v", s, err)
		}
	}
	for _, s := range []string{"", "none", "cancelled", "ACCEPTED"} {
		if _, err := ParseStatus(s); err == nil {
			t.Fatalf("ParseStatus(%q) should fail", s)
		}
	}
}

func TestConflictErrorMatching(t *testing.T) {
	d := types.UserID("d2")
	open := &ConflictError{BookingID: 1, Status: StatusAccepted, AlreadyAcceptedBy: &d}
	if !errors.Is(open, ErrConflict) {
		t.Fatalf("accepted conflict should match ErrConflict")
	}
	if errors.Is(open, ErrPreconditionFailed) {
		t.Fatalf("accepted conflict should not match ErrPreconditionFailed")
	}

	terminal := &ConflictError{BookingID: 1, Status: StatusCanceled}
	if !errors.Is(terminal, ErrConflict) || !errors.Is(terminal, ErrPreconditionFailed) {
		t.Fatalf("terminal conflict should match both sentinels")
	}
	if !errors.Is(ErrInvalidTransition, ErrPreconditionFailed) {
		t.Fatalf("invalid transition should be a precondition failure")
	}
}

func TestInternalWrapsUnknownErrors(t *testing.T) {
	err := internal("get booking", errors.New("connection reset"))
	if !errors.Is(err, ErrInternal) {
		t.Fatalf("expected ErrInternal, got %v", err)
	}
	if got := internal("get booking", ErrNotFound); got != ErrNotFound {
		t.Fatalf("known sentinel should pass through, got %v", got)
	}
}
