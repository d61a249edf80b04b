// README: Lifecycle handlers (arrive/start/complete/cancel).
package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"bidride/internal/http/middleware"
	"bidride/internal/modules/booking"
)

type LifecycleHandler struct {
	lifecycle *booking.Lifecycle
}

func NewLifecycleHandler(lifecycle *booking.Lifecycle) *LifecycleHandler {
	return &LifecycleHandler{lifecycle: lifecycle}
}

type fireFunc func(context.Context, booking.EventCommand) (*booking.Booking, error)

func (h *LifecycleHandler) Arrive(c *gin.Context) {
	h.driverEvent(c, h.lifecycle.Arrive)
}

func (h *LifecycleHandler) Start(c *gin.Context) {
	h.driverEvent(c, h.lifecycle.Start)
}

func (h *LifecycleHandler) Complete(c *gin.Context) {
	h.driverEvent(c, h.lifecycle.Complete)
}

func (h *LifecycleHandler) driverEvent(c *gin.Context, fire fireFunc) {
	id, ok := pathID(c)
	if !ok || !requireDriver(c) {
		return
	}
	h.respond(c, fire, booking.EventCommand{BookingID: id, Actor: middleware.CallerID(c)})
}

type cancelReq struct {
	Reason string `json:"reason"`
}

// Cancel is open to either party; the body is optional.
func (h *LifecycleHandler) Cancel(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req cancelReq
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	h.respond(c, h.lifecycle.Cancel, booking.EventCommand{
		BookingID: id,
		Actor:     middleware.CallerID(c),
		Reason:    req.Reason,
	})
}

func (h *LifecycleHandler) respond(c *gin.Context, fire fireFunc, cmd booking.EventCommand) {
	b, err := fire(c.Request.Context(), cmd)
	if err != nil {
		writeBookingError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, toBookingResponse(b))
}
