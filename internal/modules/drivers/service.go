// README: Driver presence service; feeds eligible drivers to new bookings and tracks busy drivers.
package drivers

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"bidride/internal/logging"
	"bidride/internal/observability"
	"bidride/internal/types"
)

type Service struct {
	store *Store
	cfg   Config
	log   *slog.Logger
	now   func() time.Time
}

func NewService(store *Store, cfg Config, log *slog.Logger) *Service {
	if cfg.RadiusKm <= 0 {
		cfg.RadiusKm = DefaultConfig().RadiusKm
	}
	if cfg.MaxCandidates <= 0 {
		cfg.MaxCandidates = DefaultConfig().MaxCandidates
	}
	if cfg.PresenceTTL <= 0 {
		cfg.PresenceTTL = DefaultConfig().PresenceTTL
	}
	if log == nil {
		log = logging.Discard()
	}
	return &Service{store: store, cfg: cfg, log: log.With("component", "drivers"), now: time.Now}
}

func (s *Service) UpdatePresence(ctx context.Context, p Presence) error {
	if strings.TrimSpace(string(p.DriverID)) == "" {
		return fmt.Errorf("%w: driver is required", ErrInvalidPresence)
	}
	if !p.Position.Valid() {
		return fmt.Errorf("%w: position out of range", ErrInvalidPresence)
	}
	if p.Seats < 1 {
		return fmt.Errorf("%w: seats must be at least 1", ErrInvalidPresence)
	}
	if err := s.store.Upsert(ctx, p, s.cfg.PresenceTTL, s.now()); err != nil {
		return err
	}
	observability.DriversOnline.Inc()
	s.log.Debug("presence updated", "driver_id", p.DriverID, "seats", p.Seats)
	return nil
}

func (s *Service) GoOffline(ctx context.Context, id types.UserID) error {
	if err := s.store.Remove(ctx, id); err != nil {
		return err
	}
	observability.DriversOnline.Dec()
	return nil
}

func (s *Service) Get(ctx context.Context, id types.UserID) (*Driver, error) {
	return s.store.Get(ctx, id)
}

// Eligible lists available drivers near pickup with at least seats free seats, closest first.
func (s *Service) Eligible(ctx context.Context, pickup types.Point, seats int) ([]types.UserID, error) {
	nearby, err := s.store.Nearby(ctx, pickup, s.cfg.RadiusKm)
	if err != nil {
		return nil, err
	}
	return selectEligible(nearby, seats, s.cfg.MaxCandidates), nil
}

func (s *Service) MarkBusy(ctx context.Context, id types.UserID) error {
	return s.setStatus(ctx, id, StatusBusy)
}

func (s *Service) Release(ctx context.Context, id types.UserID) error {
	return s.setStatus(ctx, id, StatusAvailable)
}

// setStatus ignores drivers that already went offline.
func (s *Service) setStatus(ctx context.Context, id types.UserID, st Status) error {
	err := s.store.SetStatus(ctx, id, st)
	if err == ErrUnknownDriver {
		s.log.Debug("status change for offline driver", "driver_id", id, "status", st)
		return nil
	}
	return err
}

func (s *Service) RegisterDevice(ctx context.Context, id types.UserID, token string) error {
	if strings.TrimSpace(token) == "" {
		return fmt.Errorf("%w: device token is required", ErrInvalidPresence)
	}
	return s.store.SetDeviceToken(ctx, id, strings.TrimSpace(token))
}

// DeviceToken resolves a user's push token for the FCM sender.
func (s *Service) DeviceToken(ctx context.Context, id types.UserID) (string, error) {
	return s.store.DeviceToken(ctx, id)
}

func selectEligible(nearby []Driver, seats, limit int) []types.UserID {
	candidates := make([]Driver, 0, len(nearby))
	for _, d := range nearby {
		if d.Status != StatusAvailable || d.Seats < seats {
			continue
		}
		candidates = append(candidates, d)
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].DistanceKm < candidates[j].DistanceKm
	})
	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}
	out := make([]types.UserID, len(candidates))
	for i, d := range candidates {
		out[i] = d.ID
	}
	return out
}
