// README: Driver presence and device registration handlers.
package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"bidride/internal/http/middleware"
	"bidride/internal/modules/drivers"
	"bidride/internal/types"
)

// Presence is the slice of the drivers service the HTTP layer needs.
type Presence interface {
	UpdatePresence(ctx context.Context, p drivers.Presence) error
	GoOffline(ctx context.Context, id types.UserID) error
	RegisterDevice(ctx context.Context, id types.UserID, token string) error
}

type DriverHandler struct {
	drivers Presence
}

func NewDriverHandler(svc Presence) *DriverHandler {
	return &DriverHandler{drivers: svc}
}

type presenceReq struct {
	Lat         float64 `json:"lat"`
	Lng         float64 `json:"lng"`
	Seats       int     `json:"seats"`
	Vehicle     string  `json:"vehicle"`
	DeviceToken string  `json:"device_token"`
}

func (h *DriverHandler) UpdatePresence(c *gin.Context) {
	if !requireDriver(c) {
		return
	}
	var req presenceReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	err := h.drivers.UpdatePresence(c.Request.Context(), drivers.Presence{
		DriverID:    middleware.CallerID(c),
		Position:    types.Point{Lat: req.Lat, Lng: req.Lng},
		Seats:       req.Seats,
		Vehicle:     req.Vehicle,
		DeviceToken: req.DeviceToken,
	})
	if err != nil {
		writeDriverError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, map[string]any{"status": drivers.StatusAvailable})
}

func (h *DriverHandler) GoOffline(c *gin.Context) {
	if !requireDriver(c) {
		return
	}
	if err := h.drivers.GoOffline(c.Request.Context(), middleware.CallerID(c)); err != nil {
		writeDriverError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type deviceReq struct {
	Token string `json:"token"`
}

// RegisterDevice stores the caller's push token; passengers and drivers alike.
func (h *DriverHandler) RegisterDevice(c *gin.Context) {
	var req deviceReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	if err := h.drivers.RegisterDevice(c.Request.Context(), middleware.CallerID(c), req.Token); err != nil {
		writeDriverError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func writeDriverError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, drivers.ErrInvalidPresence):
		writeError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, drivers.ErrUnknownDriver):
		writeError(c, http.StatusNotFound, err.Error())
	default:
		_ = c.Error(err)
		writeError(c, http.StatusInternalServerError, "internal error")
	}
}
