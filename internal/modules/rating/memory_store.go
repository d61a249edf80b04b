package rating

import (
	"context"
	"sync"

	"bidride/internal/modules/booking"
	"bidride/internal/types"
)

type MemoryStore struct {
	mu      sync.Mutex
	nextID  int64
	ratings []Rating
	stats   map[types.UserID]Average
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{stats: make(map[types.UserID]Average)}
}

func (s *MemoryStore) Insert(_ context.Context, r *Rating) (Average, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.ratings {
		if existing.BookingID == r.BookingID && existing.RaterID == r.RaterID {
			return Average{}, booking.ErrConflict
		}
	}
	s.nextID++
	r.ID = types.ID(s.nextID)
	s.ratings = append(s.ratings, *r)

	var sum, n int
	for _, existing := range s.ratings {
		if existing.RatedID == r.RatedID {
			sum += existing.Score
			n++
		}
	}
	avg := Average{Average: float64(sum) / float64(n), Count: n}
	s.stats[r.RatedID] = avg
	return avg, nil
}

func (s *MemoryStore) Average(_ context.Context, userID types.UserID) (Average, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats[userID], nil
}

func (s *MemoryStore) ListForBooking(_ context.Context, bookingID types.ID) ([]Rating, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Rating
	for _, r := range s.ratings {
		if r.BookingID == bookingID {
			out = append(out, r)
		}
	}
	return out, nil
}
