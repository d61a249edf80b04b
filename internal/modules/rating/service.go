// README: Rating ledger; ratings open once a booking is completed.
package rating

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"bidride/internal/logging"
	"bidride/internal/modules/booking"
	"bidride/internal/notify"
	"bidride/internal/observability"
	"bidride/internal/types"
)

// Bookings resolves the booking a rating refers to.
type Bookings interface {
	Get(ctx context.Context, id types.ID) (*booking.Booking, error)
}

type Service struct {
	store    Store
	bookings Bookings
	notifier notify.Notifier
	log      *slog.Logger
	now      func() time.Time
}

func NewService(store Store, bookings Bookings, notifier notify.Notifier, log *slog.Logger) *Service {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if log == nil {
		log = logging.Discard()
	}
	return &Service{
		store:    store,
		bookings: bookings,
		notifier: notifier,
		log:      log.With("component", "rating"),
		now:      time.Now,
	}
}

type SubmitCommand struct {
	BookingID      types.ID
	RaterID        types.UserID
	RatedID        types.UserID
	Score          int
	Comment        string
	IsDriverRating bool
}

func (s *Service) Submit(ctx context.Context, cmd SubmitCommand) (*Rating, Average, error) {
	if err := validate(cmd); err != nil {
		return nil, Average{}, err
	}

	b, err := s.bookings.Get(ctx, cmd.BookingID)
	if err != nil {
		return nil, Average{}, err
	}
	if b.Status != booking.StatusCompleted {
		return nil, Average{}, fmt.Errorf("%w: booking %s is %s, not completed", booking.ErrPreconditionFailed, b.ID, b.Status)
	}
	if err := checkParties(b, cmd); err != nil {
		return nil, Average{}, err
	}

	r := &Rating{
		BookingID:      cmd.BookingID,
		RaterID:        cmd.RaterID,
		RatedID:        cmd.RatedID,
		Score:          cmd.Score,
		Comment:        strings.TrimSpace(cmd.Comment),
		IsDriverRating: cmd.IsDriverRating,
		CreatedAt:      s.now().UTC(),
	}
	avg, err := s.store.Insert(ctx, r)
	if errors.Is(err, booking.ErrConflict) {
		return nil, Average{}, fmt.Errorf("%w: %s already rated booking %s", booking.ErrConflict, cmd.RaterID, cmd.BookingID)
	}
	if err != nil {
		return nil, Average{}, fmt.Errorf("%w: insert rating: %w", booking.ErrInternal, err)
	}
	observability.RatingsSubmitted.Inc()

	s.notifier.Dispatch(notify.Intent{
		Kind:       notify.KindRatingReceived,
		Recipients: []types.UserID{cmd.RatedID},
		Title:      "New rating",
		Body:       "You received " + strconv.Itoa(cmd.Score) + " stars",
		Data: map[string]string{
			"booking_id": cmd.BookingID.String(),
			"score":      strconv.Itoa(cmd.Score),
		},
	})
	s.log.Info("rating recorded",
		"booking_id", cmd.BookingID,
		"rated_id", cmd.RatedID,
		"score", cmd.Score,
		"average", avg.Average,
		"count", avg.Count,
	)
	return r, avg, nil
}

func (s *Service) Average(ctx context.Context, userID types.UserID) (Average, error) {
	if strings.TrimSpace(string(userID)) == "" {
		return Average{}, fmt.Errorf("%w: user is required", booking.ErrValidation)
	}
	avg, err := s.store.Average(ctx, userID)
	if err != nil {
		return Average{}, fmt.Errorf("%w: rating average: %w", booking.ErrInternal, err)
	}
	return avg, nil
}

func (s *Service) ListForBooking(ctx context.Context, bookingID types.ID) ([]Rating, error) {
	if _, err := s.bookings.Get(ctx, bookingID); err != nil {
		return nil, err
	}
	out, err := s.store.ListForBooking(ctx, bookingID)
	if err != nil {
		return nil, fmt.Errorf("%w: list ratings: %w", booking.ErrInternal, err)
	}
	if out == nil {
		out = []Rating{}
	}
	return out, nil
}

func validate(cmd SubmitCommand) error {
	switch {
	case cmd.RaterID == "" || cmd.RatedID == "":
		return fmt.Errorf("%w: rater and rated user are required", booking.ErrValidation)
	case cmd.RaterID == cmd.RatedID:
		return fmt.Errorf("%w: cannot rate yourself", booking.ErrValidation)
	case cmd.Score < MinScore || cmd.Score > MaxScore:
		return fmt.Errorf("%w: score must be between %d and %d", booking.ErrValidation, MinScore, MaxScore)
	case utf8.RuneCountInString(cmd.Comment) > MaxCommentLength:
		return fmt.Errorf("%w: comment longer than %d characters", booking.ErrValidation, MaxCommentLength)
	}
	return nil
}

// checkParties enforces that a driver rating goes requester -> driver and a
// passenger rating goes driver -> requester.
func checkParties(b *booking.Booking, cmd SubmitCommand) error {
	if b.DriverID == nil {
		return fmt.Errorf("%w: booking has no driver", booking.ErrPreconditionFailed)
	}
	rater, rated := *b.DriverID, b.RequesterID
	if cmd.IsDriverRating {
		rater, rated = b.RequesterID, *b.DriverID
	}
	if cmd.RaterID != rater || cmd.RatedID != rated {
		return fmt.Errorf("%w: rater and rated user must be the booking's parties", booking.ErrValidation)
	}
	return nil
}
