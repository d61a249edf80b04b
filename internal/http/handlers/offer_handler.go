// README: Offer handlers; drivers bid, the requester accepts one bid.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"bidride/internal/http/middleware"
	"bidride/internal/modules/booking"
	"bidride/internal/types"
)

type OfferHandler struct {
	offers *booking.OfferBook
}

func NewOfferHandler(offers *booking.OfferBook) *OfferHandler {
	return &OfferHandler{offers: offers}
}

type submitOfferReq struct {
	Fare     float64 `json:"fare"`
	Currency string  `json:"currency"`
	Vehicle  string  `json:"vehicle"`
}

func (h *OfferHandler) Submit(c *gin.Context) {
	id, ok := pathID(c)
	if !ok || !requireDriver(c) {
		return
	}
	var req submitOfferReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	o, err := h.offers.Submit(c.Request.Context(), booking.SubmitOfferCommand{
		BookingID: id,
		DriverID:  middleware.CallerID(c),
		Fare:      types.MoneyFromFloat(req.Fare, req.Currency),
		Vehicle:   req.Vehicle,
	})
	if err != nil {
		writeBookingError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, toOfferResponse(o))
}

func (h *OfferHandler) List(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	offers, err := h.offers.List(c.Request.Context(), id)
	if err != nil {
		writeBookingError(c, err)
		return
	}
	out := make([]offerResponse, len(offers))
	for i := range offers {
		out[i] = toOfferResponse(&offers[i])
	}
	writeJSON(c, http.StatusOK, gin.H{"booking_id": id, "offers": out})
}

type acceptOfferReq struct {
	DriverID string  `json:"driver_id"`
	Fare     float64 `json:"fare"`
	Currency string  `json:"currency"`
}

type acceptOfferResp struct {
	ID       types.ID       `json:"booking_id"`
	Status   string         `json:"status"`
	DriverID types.UserID   `json:"driver_id"`
	Fare     moneyDTO       `json:"fare"`
	Rejected []types.UserID `json:"rejected_drivers"`
}

func (h *OfferHandler) Accept(c *gin.Context) {
	id, ok := pathID(c)
	if !ok || !requirePassenger(c) {
		return
	}
	var req acceptOfferReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	res, err := h.offers.Accept(c.Request.Context(), booking.AcceptOfferCommand{
		BookingID:   id,
		RequesterID: middleware.CallerID(c),
		DriverID:    types.UserID(req.DriverID),
		Fare:        types.MoneyFromFloat(req.Fare, req.Currency),
	})
	if err != nil {
		writeBookingError(c, err)
		return
	}
	rejected := res.Rejected
	if rejected == nil {
		rejected = []types.UserID{}
	}
	writeJSON(c, http.StatusOK, acceptOfferResp{
		ID:       res.Booking.ID,
		Status:   string(res.Booking.Status),
		DriverID: res.Offer.DriverID,
		Fare:     fromMoney(res.Offer.Fare),
		Rejected: rejected,
	})
}
