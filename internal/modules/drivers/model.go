// README: Driver presence records kept in Redis for offer fan-out.
package drivers

import (
	"errors"
	"time"

	"bidride/internal/types"
)

type Status string

const (
	StatusAvailable Status = "available"
	StatusBusy      Status = "busy"
)

var (
	ErrInvalidPresence = errors.New("invalid presence")
	ErrUnknownDriver   = errors.New("driver not online")
)

// Presence is what a driver reports when going online or moving.
type Presence struct {
	DriverID    types.UserID
	Position    types.Point
	Seats       int
	Vehicle     string
	DeviceToken string
}

type Driver struct {
	ID         types.UserID
	Position   types.Point
	Seats      int
	Vehicle    string
	Status     Status
	DistanceKm float64
	UpdatedAt  time.Time
}

type Config struct {
	RadiusKm float64
	// MaxCandidates caps the eligible list handed to notification fan-out.
	MaxCandidates int
	// PresenceTTL drops drivers that stop reporting.
	PresenceTTL time.Duration
}

func DefaultConfig() Config {
	return Config{RadiusKm: 5, MaxCandidates: 20, PresenceTTL: 10 * time.Minute}
}
