// README: Booking store backed by PostgreSQL; every status change is a guarded UPDATE.
package booking

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"bidride/internal/types"
)

type PGStore struct {
	db *pgxpool.Pool
}

func NewPGStore(db *pgxpool.Pool) *PGStore {
	return &PGStore{db: db}
}

const bookingColumns = `
	id, external_ref, requester_id,
	pickup_lat, pickup_lng, pickup_address,
	dest_lat, dest_lng, dest_address,
	passenger_count, status, status_version,
	driver_id, committed_fare, fare_currency,
	created_at, accepted_at, arrived_at, started_at, completed_at, canceled_at,
	canceled_by, cancel_reason`

const offerColumns = `id, booking_id, driver_id, fare, currency, vehicle, status, offered_at, responded_at`

func (s *PGStore) CreateBooking(ctx context.Context, b *Booking) error {
	row := s.db.QueryRow(ctx, `
		INSERT INTO bookings (
			external_ref, requester_id,
			pickup_lat, pickup_lng, pickup_address,
			dest_lat, dest_lng, dest_address,
			passenger_count, status, status_version, created_at
		) VALUES (
			$1, $2,
			$3, $4, $5,
			$6, $7, $8,
			$9, $10, $11, $12
		)
		RETURNING id`,
		b.ExternalRef,
		string(b.RequesterID),
		b.Pickup.Lat, b.Pickup.Lng, b.Pickup.Address,
		b.Destination.Lat, b.Destination.Lng, b.Destination.Address,
		b.PassengerCount,
		string(b.Status),
		b.StatusVersion,
		b.CreatedAt,
	)
	var id int64
	if err := row.Scan(&id); err != nil {
		return err
	}
	b.ID = types.ID(id)
	return nil
}

func (s *PGStore) GetBooking(ctx context.Context, id types.ID) (*Booking, error) {
	row := s.db.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, int64(id))
	b, err := scanBooking(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (s *PGStore) SubmitOffer(ctx context.Context, o *Offer) (SubmitOutcome, error) {
	var out SubmitOutcome

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return out, err
	}
	defer tx.Rollback(ctx)

	// The row lock serialises this upsert against a concurrent accept's reject batch.
	var status Status
	err = tx.QueryRow(ctx, `SELECT status FROM bookings WHERE id = $1 FOR UPDATE`, int64(o.BookingID)).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return out, ErrNotFound
	}
	if err != nil {
		return out, err
	}
	if !status.Open() {
		return out, ErrConflict
	}

	if to, ok := Next(status, EventOffer); ok {
		tag, err := tx.Exec(ctx, `
			UPDATE bookings
			SET status = $2::text, status_version = status_version + 1
			WHERE id = $1 AND status = $3::text`,
			int64(o.BookingID),
			string(to),
			string(status),
		)
		if err != nil {
			return out, err
		}
		out.Proposed = tag.RowsAffected() == 1
	}

	row := tx.QueryRow(ctx, `
		INSERT INTO offers (booking_id, driver_id, fare, currency, vehicle, status, offered_at)
		VALUES ($1, $2, $3, $4, $5, 'pending', $6)
		ON CONFLICT (booking_id, driver_id) DO UPDATE
		SET fare = EXCLUDED.fare,
		    currency = EXCLUDED.currency,
		    vehicle = EXCLUDED.vehicle,
		    offered_at = EXCLUDED.offered_at
		WHERE offers.status = 'pending'
		RETURNING `+offerColumns,
		int64(o.BookingID),
		string(o.DriverID),
		o.Fare.Amount,
		o.Fare.Currency,
		o.Vehicle,
		o.OfferedAt,
	)
	saved, err := scanOffer(row)
	if errors.Is(err, pgx.ErrNoRows) {
		// The driver's offer was already settled.
		return out, ErrConflict
	}
	if err != nil {
		return out, err
	}
	if err := tx.Commit(ctx); err != nil {
		return out, err
	}
	out.Offer = saved
	return out, nil
}

func (s *PGStore) GetOffer(ctx context.Context, bookingID types.ID, driverID types.UserID) (*Offer, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+offerColumns+`
		FROM offers
		WHERE booking_id = $1 AND driver_id = $2`,
		int64(bookingID), string(driverID),
	)
	o, err := scanOffer(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return o, nil
}

func (s *PGStore) ListOffers(ctx context.Context, bookingID types.ID) ([]Offer, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+offerColumns+`
		FROM offers
		WHERE booking_id = $1
		ORDER BY fare ASC, offered_at ASC, id ASC`,
		int64(bookingID),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Offer
	for rows.Next() {
		o, err := scanOffer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

func (s *PGStore) AcceptOffer(ctx context.Context, p AcceptParams) (AcceptOutcome, error) {
	var out AcceptOutcome

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return out, err
	}
	defer tx.Rollback(ctx)

	// Under READ COMMITTED a competing accept blocks on the row lock and then
	// re-evaluates the status guard against the committed row, so only one wins.
	tag, err := tx.Exec(ctx, `
		UPDATE bookings b
		SET status = 'accepted',
		    status_version = b.status_version + 1,
		    driver_id = $2,
		    committed_fare = $3,
		    fare_currency = $4,
		    accepted_at = $5
		WHERE b.id = $1
		  AND b.status = ANY($6::text[])
		  AND EXISTS (
		      SELECT 1 FROM offers o
		      WHERE o.booking_id = b.id
		        AND o.driver_id = $2
		        AND o.status = 'pending'
		        AND o.fare = $3
		  )`,
		int64(p.BookingID),
		string(p.DriverID),
		p.Fare.Amount,
		p.Fare.Currency,
		p.At,
		sourcesOf(EventAccept),
	)
	if err != nil {
		return out, err
	}
	if tag.RowsAffected() != 1 {
		return out, nil
	}

	if _, err := tx.Exec(ctx, `
		UPDATE offers
		SET status = 'accepted', responded_at = $3
		WHERE booking_id = $1 AND driver_id = $2 AND status = 'pending'`,
		int64(p.BookingID), string(p.DriverID), p.At,
	); err != nil {
		return out, err
	}

	rows, err := tx.Query(ctx, `
		UPDATE offers
		SET status = 'rejected', responded_at = $2
		WHERE booking_id = $1 AND status = 'pending'
		RETURNING driver_id`,
		int64(p.BookingID), p.At,
	)
	if err != nil {
		return out, err
	}
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			rows.Close()
			return out, err
		}
		out.Rejected = append(out.Rejected, types.UserID(d))
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return out, err
	}

	if err := tx.Commit(ctx); err != nil {
		return AcceptOutcome{}, err
	}
	out.Won = true
	return out, nil
}

func (s *PGStore) Transition(ctx context.Context, p TransitionParams) (bool, error) {
	var canceledBy, reason *string
	if p.To == StatusCanceled {
		actor := string(p.ActorID)
		canceledBy = &actor
		if p.Reason != "" {
			r := p.Reason
			reason = &r
		}
	}
	tag, err := s.db.Exec(ctx, `
		UPDATE bookings
		SET status = $1::text,
		    status_version = status_version + 1,
		    arrived_at = CASE WHEN $1::text = 'arrived' THEN $2 ELSE arrived_at END,
		    started_at = CASE WHEN $1::text = 'in_progress' THEN $2 ELSE started_at END,
		    completed_at = CASE WHEN $1::text = 'completed' THEN $2 ELSE completed_at END,
		    canceled_at = CASE WHEN $1::text = 'canceled' THEN $2 ELSE canceled_at END,
		    driver_id = CASE WHEN $1::text = 'canceled' THEN NULL ELSE driver_id END,
		    committed_fare = CASE WHEN $1::text = 'canceled' THEN NULL ELSE committed_fare END,
		    fare_currency = CASE WHEN $1::text = 'canceled' THEN NULL ELSE fare_currency END,
		    canceled_by = COALESCE($3, canceled_by),
		    cancel_reason = COALESCE($4, cancel_reason)
		WHERE id = $5 AND status = $6 AND status_version = $7`,
		string(p.To),
		p.At,
		canceledBy,
		reason,
		int64(p.BookingID),
		string(p.From),
		p.Version,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PGStore) AppendEvent(ctx context.Context, e *Event) error {
	var actor *string
	if e.ActorID != nil {
		a := string(*e.ActorID)
		actor = &a
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO booking_events (booking_id, from_status, to_status, actor_id, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		int64(e.BookingID),
		string(e.FromStatus),
		string(e.ToStatus),
		actor,
		e.CreatedAt,
	)
	return err
}

// ListEvents returns the audit trail of a booking, oldest first.
func (s *PGStore) ListEvents(ctx context.Context, bookingID types.ID) ([]Event, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, booking_id, from_status, to_status, actor_id, created_at
		FROM booking_events
		WHERE booking_id = $1
		ORDER BY id ASC`,
		int64(bookingID),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		var bid int64
		var from, to string
		var actor sql.NullString
		if err := rows.Scan(&e.ID, &bid, &from, &to, &actor, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.BookingID = types.ID(bid)
		e.FromStatus = Status(from)
		e.ToStatus = Status(to)
		if actor.Valid {
			a := types.UserID(actor.String)
			e.ActorID = &a
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanBooking(row pgx.Row) (*Booking, error) {
	var b Booking
	var id int64
	var requester, status string
	var driverID, currency, canceledBy, cancelReason sql.NullString
	var fare sql.NullInt64
	var acceptedAt, arrivedAt, startedAt, completedAt, canceledAt sql.NullTime

	err := row.Scan(
		&id, &b.ExternalRef, &requester,
		&b.Pickup.Lat, &b.Pickup.Lng, &b.Pickup.Address,
		&b.Destination.Lat, &b.Destination.Lng, &b.Destination.Address,
		&b.PassengerCount, &status, &b.StatusVersion,
		&driverID, &fare, &currency,
		&b.CreatedAt, &acceptedAt, &arrivedAt, &startedAt, &completedAt, &canceledAt,
		&canceledBy, &cancelReason,
	)
	if err != nil {
		return nil, err
	}

	b.ID = types.ID(id)
	b.RequesterID = types.UserID(requester)
	st, err := ParseStatus(status)
	if err != nil {
		return nil, fmt.Errorf("booking %d: %w", id, err)
	}
	b.Status = st
	if driverID.Valid {
		d := types.UserID(driverID.String)
		b.DriverID = &d
	}
	if fare.Valid {
		cur := currency.String
		if cur == "" {
			cur = types.DefaultCurrency
		}
		b.CommittedFare = &types.Money{Amount: fare.Int64, Currency: cur}
	}
	b.AcceptedAt = toTimePtr(acceptedAt)
	b.ArrivedAt = toTimePtr(arrivedAt)
	b.StartedAt = toTimePtr(startedAt)
	b.CompletedAt = toTimePtr(completedAt)
	b.CanceledAt = toTimePtr(canceledAt)
	if canceledBy.Valid {
		c := types.UserID(canceledBy.String)
		b.CanceledBy = &c
	}
	if cancelReason.Valid {
		b.CancelReason = &cancelReason.String
	}
	return &b, nil
}

func scanOffer(row pgx.Row) (*Offer, error) {
	var o Offer
	var id, bookingID int64
	var driverID, status string
	var respondedAt sql.NullTime

	err := row.Scan(
		&id, &bookingID, &driverID, &o.Fare.Amount, &o.Fare.Currency,
		&o.Vehicle, &status, &o.OfferedAt, &respondedAt,
	)
	if err != nil {
		return nil, err
	}
	o.ID = types.ID(id)
	o.BookingID = types.ID(bookingID)
	o.DriverID = types.UserID(driverID)
	o.Status = OfferStatus(status)
	o.RespondedAt = toTimePtr(respondedAt)
	return &o, nil
}

func toTimePtr(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time
	return &t
}
