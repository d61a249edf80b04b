package booking

import (
	"context"
	"log/slog"
	"strconv"

	"bidride/internal/logging"
	"bidride/internal/notify"
	"bidride/internal/types"
)

// EligibleDrivers lists online, available drivers near a pickup point with enough seats.
type EligibleDrivers interface {
	Eligible(ctx context.Context, pickup types.Point, seats int) ([]types.UserID, error)
}

// DriverTracker flips a driver between busy and available.
type DriverTracker interface {
	MarkBusy(ctx context.Context, driverID types.UserID) error
	Release(ctx context.Context, driverID types.UserID) error
}

// EventLister is implemented by stores that expose the audit trail.
type EventLister interface {
	ListEvents(ctx context.Context, bookingID types.ID) ([]Event, error)
}

func orNop(n notify.Notifier) notify.Notifier {
	if n == nil {
		return notify.Nop{}
	}
	return n
}

func orDiscard(log *slog.Logger) *slog.Logger {
	if log == nil {
		return logging.Discard()
	}
	return log
}

func bookingData(b *Booking) map[string]string {
	return map[string]string{
		"booking_id":   b.ID.String(),
		"external_ref": b.ExternalRef,
		"status":       string(b.Status),
	}
}

func withData(base map[string]string, kv ...string) map[string]string {
	for i := 0; i+1 < len(kv); i += 2 {
		base[kv[i]] = kv[i+1]
	}
	return base
}

func formatKm(km float64) string {
	return strconv.FormatFloat(km, 'f', 2, 64)
}
