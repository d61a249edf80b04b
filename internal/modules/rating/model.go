// README: Rating rows and the denormalised per-user average.
package rating

import (
	"time"

	"bidride/internal/types"
)

const (
	MinScore         = 1
	MaxScore         = 5
	MaxCommentLength = 1000
)

type Rating struct {
	ID             types.ID
	BookingID      types.ID
	RaterID        types.UserID
	RatedID        types.UserID
	Score          int
	Comment        string
	IsDriverRating bool
	CreatedAt      time.Time
}

// Average is the rated user's running mean; {0, 0} when nobody rated them yet.
type Average struct {
	Average float64
	Count   int
}
