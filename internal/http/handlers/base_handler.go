// README: Base handler utilities (JSON helpers, error mapping, DTOs).
package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"bidride/internal/http/middleware"
	"bidride/internal/modules/booking"
	"bidride/internal/types"
)

type errorResponse struct {
	Error string `json:"error"`
}

type conflictResponse struct {
	Error             string        `json:"error"`
	Status            string        `json:"status"`
	AlreadyAcceptedBy *types.UserID `json:"already_accepted_by"`
}

func writeJSON(c *gin.Context, status int, v any) {
	c.JSON(status, v)
}

func writeError(c *gin.Context, status int, msg string) {
	writeJSON(c, status, errorResponse{Error: msg})
}

// writeBookingError maps core errors to status codes. A conflict on a terminal
// booking is a failed precondition, so that check runs before the plain 409.
func writeBookingError(c *gin.Context, err error) {
	var ce *booking.ConflictError
	switch {
	case errors.As(err, &ce) && !ce.Status.Terminal():
		writeJSON(c, http.StatusConflict, conflictResponse{
			Error:             ce.Error(),
			Status:            string(ce.Status),
			AlreadyAcceptedBy: ce.AlreadyAcceptedBy,
		})
	case errors.Is(err, booking.ErrPreconditionFailed):
		writeError(c, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, booking.ErrValidation):
		writeError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, booking.ErrForbidden):
		writeError(c, http.StatusForbidden, err.Error())
	case errors.Is(err, booking.ErrNotFound):
		writeError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, booking.ErrConflict):
		writeError(c, http.StatusConflict, err.Error())
	default:
		_ = c.Error(err)
		writeError(c, http.StatusInternalServerError, "internal error")
	}
}

// pathID parses the :id route parameter, answering 400 when it is not a positive integer.
func pathID(c *gin.Context) (types.ID, bool) {
	id, err := types.ParseID(c.Param("id"))
	if err != nil || id <= 0 {
		writeError(c, http.StatusBadRequest, "invalid booking id")
		return 0, false
	}
	return id, true
}

func requireDriver(c *gin.Context) bool {
	if !middleware.IsDriver(c) {
		writeError(c, http.StatusForbidden, "forbidden: driver role required")
		return false
	}
	return true
}

func requirePassenger(c *gin.Context) bool {
	if middleware.IsDriver(c) {
		writeError(c, http.StatusForbidden, "forbidden: passenger role required")
		return false
	}
	return true
}

type locationDTO struct {
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
	Address string  `json:"address"`
}

func (l locationDTO) toLocation() booking.Location {
	return booking.Location{Lat: l.Lat, Lng: l.Lng, Address: l.Address}
}

func fromLocation(l booking.Location) locationDTO {
	return locationDTO{Lat: l.Lat, Lng: l.Lng, Address: l.Address}
}

type moneyDTO struct {
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
}

func fromMoney(m types.Money) moneyDTO {
	return moneyDTO{Amount: m.Float(), Currency: m.Currency}
}

type bookingResponse struct {
	ID                types.ID      `json:"booking_id"`
	ExternalReference string        `json:"external_reference"`
	RequesterID       types.UserID  `json:"requester_id"`
	Pickup            locationDTO   `json:"pickup"`
	Destination       locationDTO   `json:"destination"`
	PassengerCount    int           `json:"passenger_count"`
	Status            string        `json:"status"`
	DriverID          *types.UserID `json:"driver_id,omitempty"`
	CommittedFare     *moneyDTO     `json:"committed_fare,omitempty"`
	CreatedAt         time.Time     `json:"created_at"`
	AcceptedAt        *time.Time    `json:"accepted_at,omitempty"`
	ArrivedAt         *time.Time    `json:"arrived_at,omitempty"`
	StartedAt         *time.Time    `json:"started_at,omitempty"`
	CompletedAt       *time.Time    `json:"completed_at,omitempty"`
	CanceledAt        *time.Time    `json:"canceled_at,omitempty"`
	CanceledBy        *types.UserID `json:"canceled_by,omitempty"`
	CancelReason      *string       `json:"cancel_reason,omitempty"`
}

func toBookingResponse(b *booking.Booking) bookingResponse {
	out := bookingResponse{
		ID:                b.ID,
		ExternalReference: b.ExternalRef,
		RequesterID:       b.RequesterID,
		Pickup:            fromLocation(b.Pickup),
		Destination:       fromLocation(b.Destination),
		PassengerCount:    b.PassengerCount,
		Status:            string(b.Status),
		DriverID:          b.DriverID,
		CreatedAt:         b.CreatedAt,
		AcceptedAt:        b.AcceptedAt,
		ArrivedAt:         b.ArrivedAt,
		StartedAt:         b.StartedAt,
		CompletedAt:       b.CompletedAt,
		CanceledAt:        b.CanceledAt,
		CanceledBy:        b.CanceledBy,
		CancelReason:      b.CancelReason,
	}
	if b.CommittedFare != nil {
		fare := fromMoney(*b.CommittedFare)
		out.CommittedFare = &fare
	}
	return out
}

type offerResponse struct {
	ID          types.ID     `json:"offer_id"`
	BookingID   types.ID     `json:"booking_id"`
	DriverID    types.UserID `json:"driver_id"`
	Fare        moneyDTO     `json:"fare"`
	Vehicle     string       `json:"vehicle"`
	Status      string       `json:"status"`
	OfferedAt   time.Time    `json:"offered_at"`
	RespondedAt *time.Time   `json:"responded_at,omitempty"`
}

func toOfferResponse(o *booking.Offer) offerResponse {
	return offerResponse{
		ID:          o.ID,
		BookingID:   o.BookingID,
		DriverID:    o.DriverID,
		Fare:        fromMoney(o.Fare),
		Vehicle:     o.Vehicle,
		Status:      string(o.Status),
		OfferedAt:   o.OfferedAt,
		RespondedAt: o.RespondedAt,
	}
}
