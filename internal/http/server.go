// README: API gateway; registers gin routes and delegates to module services.
package http

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"bidride/internal/http/handlers"
	"bidride/internal/http/middleware"
	"bidride/internal/infra"
	"bidride/internal/logging"
	"bidride/internal/modules/booking"
	"bidride/internal/modules/rating"
	"bidride/internal/notify"
)

type ServerDeps struct {
	Registry  *booking.Registry
	Offers    *booking.OfferBook
	Lifecycle *booking.Lifecycle
	Ratings   *rating.Service
	Drivers   handlers.Presence
	Notifier  notify.Notifier
	Verifier  infra.TokenVerifier
	Logger    *slog.Logger
}

type Server struct {
	deps ServerDeps
	log  *slog.Logger
}

func NewServer(deps ServerDeps) *Server {
	log := deps.Logger
	if log == nil {
		log = logging.Discard()
	}
	return &Server{deps: deps, log: log.With("component", "http")}
}

func (s *Server) Routes() http.Handler {
	r := gin.New()
	r.Use(
		middleware.RequestID(),
		middleware.Recovery(s.log),
		middleware.Logging(s.log),
		middleware.Metrics(),
	)

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api", middleware.Auth(s.deps.Verifier))

	bookingHandler := handlers.NewBookingHandler(s.deps.Registry, s.deps.Notifier)
	api.POST("/bookings", bookingHandler.Create)
	api.GET("/bookings/:id", bookingHandler.Get)
	api.GET("/bookings/:id/events", bookingHandler.Events)

	offerHandler := handlers.NewOfferHandler(s.deps.Offers)
	api.POST("/bookings/:id/offers", offerHandler.Submit)
	api.GET("/bookings/:id/offers", offerHandler.List)
	api.POST("/bookings/:id/accept", offerHandler.Accept)

	lifecycleHandler := handlers.NewLifecycleHandler(s.deps.Lifecycle)
	api.POST("/bookings/:id/arrive", lifecycleHandler.Arrive)
	api.POST("/bookings/:id/start", lifecycleHandler.Start)
	api.POST("/bookings/:id/complete", lifecycleHandler.Complete)
	api.POST("/bookings/:id/cancel", lifecycleHandler.Cancel)

	ratingHandler := handlers.NewRatingHandler(s.deps.Ratings)
	api.POST("/bookings/:id/ratings", ratingHandler.Submit)
	api.GET("/bookings/:id/ratings", ratingHandler.ListForBooking)
	api.GET("/users/:id/rating", ratingHandler.Average)

	if s.deps.Drivers != nil {
		driverHandler := handlers.NewDriverHandler(s.deps.Drivers)
		api.PUT("/drivers/me/presence", driverHandler.UpdatePresence)
		api.DELETE("/drivers/me/presence", driverHandler.GoOffline)
		api.PUT("/devices/me", driverHandler.RegisterDevice)
	}

	return r
}
