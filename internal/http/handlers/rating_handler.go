// README: Rating handlers (submit after completion, per-user average).
package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"bidride/internal/http/middleware"
	"bidride/internal/modules/rating"
	"bidride/internal/types"
)

type RatingHandler struct {
	ratings *rating.Service
}

func NewRatingHandler(ratings *rating.Service) *RatingHandler {
	return &RatingHandler{ratings: ratings}
}

type submitRatingReq struct {
	RatedID string `json:"rated_id"`
	Score   int    `json:"score"`
	Comment string `json:"comment"`
}

type ratingResp struct {
	ID             types.ID     `json:"rating_id"`
	BookingID      types.ID     `json:"booking_id"`
	RaterID        types.UserID `json:"rater_id"`
	RatedID        types.UserID `json:"rated_id"`
	Score          int          `json:"score"`
	Comment        string       `json:"comment,omitempty"`
	IsDriverRating bool         `json:"is_driver_rating"`
	CreatedAt      time.Time    `json:"created_at"`
}

func toRatingResp(r *rating.Rating) ratingResp {
	return ratingResp{
		ID:             r.ID,
		BookingID:      r.BookingID,
		RaterID:        r.RaterID,
		RatedID:        r.RatedID,
		Score:          r.Score,
		Comment:        r.Comment,
		IsDriverRating: r.IsDriverRating,
		CreatedAt:      r.CreatedAt,
	}
}

type averageResp struct {
	UserID  types.UserID `json:"user_id"`
	Average float64      `json:"average"`
	Count   int          `json:"count"`
}

// Submit records the caller's rating. Passengers rate drivers; drivers rate passengers.
func (h *RatingHandler) Submit(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req submitRatingReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	r, avg, err := h.ratings.Submit(c.Request.Context(), rating.SubmitCommand{
		BookingID:      id,
		RaterID:        middleware.CallerID(c),
		RatedID:        types.UserID(strings.TrimSpace(req.RatedID)),
		Score:          req.Score,
		Comment:        req.Comment,
		IsDriverRating: !middleware.IsDriver(c),
	})
	if err != nil {
		writeBookingError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, gin.H{
		"rating":     toRatingResp(r),
		"rated_user": averageResp{UserID: r.RatedID, Average: avg.Average, Count: avg.Count},
	})
}

func (h *RatingHandler) ListForBooking(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	list, err := h.ratings.ListForBooking(c.Request.Context(), id)
	if err != nil {
		writeBookingError(c, err)
		return
	}
	out := make([]ratingResp, len(list))
	for i := range list {
		out[i] = toRatingResp(&list[i])
	}
	writeJSON(c, http.StatusOK, gin.H{"booking_id": id, "ratings": out})
}

func (h *RatingHandler) Average(c *gin.Context) {
	userID := types.UserID(c.Param("id"))
	avg, err := h.ratings.Average(c.Request.Context(), userID)
	if err != nil {
		writeBookingError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, averageResp{UserID: userID, Average: avg.Average, Count: avg.Count})
}
