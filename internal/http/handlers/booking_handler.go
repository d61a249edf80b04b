// README: Booking handlers (create/get/audit trail).
package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"bidride/internal/http/middleware"
	"bidride/internal/modules/booking"
	"bidride/internal/notify"
	"bidride/internal/types"
)

type BookingHandler struct {
	registry *booking.Registry
	notifier notify.Notifier
}

func NewBookingHandler(registry *booking.Registry, notifier notify.Notifier) *BookingHandler {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &BookingHandler{registry: registry, notifier: notifier}
}

type createBookingReq struct {
	Pickup         locationDTO `json:"pickup"`
	Destination    locationDTO `json:"destination"`
	PassengerCount int         `json:"passenger_count"`
}

type createBookingResp struct {
	ID                types.ID       `json:"booking_id"`
	ExternalReference string         `json:"external_reference"`
	Status            string         `json:"status"`
	EligibleDrivers   []types.UserID `json:"eligible_drivers"`
	TripDistanceKm    float64        `json:"trip_distance_km"`
}

func (h *BookingHandler) Create(c *gin.Context) {
	if !requirePassenger(c) {
		return
	}
	var req createBookingReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	res, err := h.registry.Create(c.Request.Context(), booking.CreateCommand{
		RequesterID:    middleware.CallerID(c),
		Pickup:         req.Pickup.toLocation(),
		Destination:    req.Destination.toLocation(),
		PassengerCount: req.PassengerCount,
	})
	if err != nil {
		writeBookingError(c, err)
		return
	}
	if len(res.EligibleDrivers) > 0 {
		h.notifier.Dispatch(booking.RequestedIntent(res))
	}
	writeJSON(c, http.StatusCreated, createBookingResp{
		ID:                res.Booking.ID,
		ExternalReference: res.Booking.ExternalRef,
		Status:            string(res.Booking.Status),
		EligibleDrivers:   res.EligibleDrivers,
		TripDistanceKm:    res.TripDistanceKm,
	})
}

func (h *BookingHandler) Get(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	b, err := h.registry.Get(c.Request.Context(), id)
	if err != nil {
		writeBookingError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, toBookingResponse(b))
}

type eventResp struct {
	From      string        `json:"from"`
	To        string        `json:"to"`
	ActorID   *types.UserID `json:"actor_id,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
}

// Events returns the audit trail; only the booking's parties may read it.
func (h *BookingHandler) Events(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	b, err := h.registry.Get(ctx, id)
	if err != nil {
		writeBookingError(c, err)
		return
	}
	if !b.IsParty(middleware.CallerID(c)) {
		writeError(c, http.StatusForbidden, "forbidden: not a party to this booking")
		return
	}
	events, err := h.registry.Events(ctx, id)
	if err != nil {
		writeBookingError(c, err)
		return
	}
	out := make([]eventResp, len(events))
	for i, e := range events {
		out[i] = eventResp{From: string(e.FromStatus), To: string(e.ToStatus), ActorID: e.ActorID, CreatedAt: e.CreatedAt}
	}
	writeJSON(c, http.StatusOK, gin.H{"booking_id": id, "events": out})
}
