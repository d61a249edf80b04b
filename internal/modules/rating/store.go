package rating

import (
	"context"

	"bidride/internal/types"
)

// Store appends ratings and keeps user_rating_stats in step with them.
type Store interface {
	// Insert records the rating and recomputes the rated user's average in the
	// same transaction. A second rating by the same rater on the same booking
	// returns booking.ErrConflict.
	Insert(ctx context.Context, r *Rating) (Average, error)
	Average(ctx context.Context, userID types.UserID) (Average, error)
	ListForBooking(ctx context.Context, bookingID types.ID) ([]Rating, error)
}
