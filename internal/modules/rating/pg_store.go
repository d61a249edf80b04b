// README: Rating store backed by PostgreSQL.
package rating

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"bidride/internal/modules/booking"
	"bidride/internal/types"
)

type PGStore struct {
	db *pgxpool.Pool
}

func NewPGStore(db *pgxpool.Pool) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Insert(ctx context.Context, r *Rating) (Average, error) {
	var avg Average

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return avg, err
	}
	defer tx.Rollback(ctx)

	// Lock the stats row first so concurrent ratings of one user recompute in turn.
	if _, err := tx.Exec(ctx, `
		INSERT INTO user_rating_stats (user_id, average, count, updated_at)
		VALUES ($1, 0, 0, NOW())
		ON CONFLICT (user_id) DO UPDATE SET updated_at = NOW()`,
		string(r.RatedID),
	); err != nil {
		return avg, err
	}

	var id int64
	err = tx.QueryRow(ctx, `
		INSERT INTO ratings (booking_id, rater_id, rated_id, score, comment, is_driver_rating, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		int64(r.BookingID),
		string(r.RaterID),
		string(r.RatedID),
		r.Score,
		r.Comment,
		r.IsDriverRating,
		r.CreatedAt,
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" { // unique_violation
			return avg, booking.ErrConflict
		}
		return avg, err
	}
	r.ID = types.ID(id)

	err = tx.QueryRow(ctx, `
		UPDATE user_rating_stats s
		SET average = agg.average, count = agg.count, updated_at = NOW()
		FROM (
			SELECT AVG(score)::float8 AS average, COUNT(*)::int AS count
			FROM ratings
			WHERE rated_id = $1
		) agg
		WHERE s.user_id = $1
		RETURNING s.average, s.count`,
		string(r.RatedID),
	).Scan(&avg.Average, &avg.Count)
	if err != nil {
		return Average{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Average{}, err
	}
	return avg, nil
}

func (s *PGStore) Average(ctx context.Context, userID types.UserID) (Average, error) {
	var avg Average
	err := s.db.QueryRow(ctx, `
		SELECT average, count FROM user_rating_stats WHERE user_id = $1`,
		string(userID),
	).Scan(&avg.Average, &avg.Count)
	if errors.Is(err, pgx.ErrNoRows) {
		return Average{}, nil
	}
	return avg, err
}

func (s *PGStore) ListForBooking(ctx context.Context, bookingID types.ID) ([]Rating, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, booking_id, rater_id, rated_id, score, comment, is_driver_rating, created_at
		FROM ratings
		WHERE booking_id = $1
		ORDER BY id ASC`,
		int64(bookingID),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Rating
	for rows.Next() {
		var r Rating
		var id, bid int64
		var rater, rated string
		if err := rows.Scan(&id, &bid, &rater, &rated, &r.Score, &r.Comment, &r.IsDriverRating, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.ID = types.ID(id)
		r.BookingID = types.ID(bid)
		r.RaterID = types.UserID(rater)
		r.RatedID = types.UserID(rated)
		out = append(out, r)
	}
	return out, rows.Err()
}
