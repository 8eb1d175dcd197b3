package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/antiquefeed/antiquefeed-backend/api/controllers"
	"github.com/antiquefeed/antiquefeed-backend/api/middleware"
	"github.com/antiquefeed/antiquefeed-backend/internal/broadcast"
	"github.com/antiquefeed/antiquefeed-backend/internal/eventlog"
	sessionsvc "github.com/antiquefeed/antiquefeed-backend/internal/livesessions"
	mediasvc "github.com/antiquefeed/antiquefeed-backend/internal/media"
	productsvc "github.com/antiquefeed/antiquefeed-backend/internal/products"
	reservationsvc "github.com/antiquefeed/antiquefeed-backend/internal/reservations"
	"github.com/antiquefeed/antiquefeed-backend/pkg/config"
	"github.com/antiquefeed/antiquefeed-backend/pkg/logger"
)

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	healthDeps map[string]controllers.Pinger,
	hub *broadcast.Hub,
	eventService eventlog.Service,
	sessionService sessionsvc.Service,
	productService productsvc.Service,
	reservationService reservationsvc.Service,
	mediaService mediasvc.Service,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive())
		r.Get("/ready", controllers.HealthReady(logg, healthDeps))
	})

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))

		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", controllers.CreateSession(sessionService, logg))
			r.Get("/", controllers.ListSessions(sessionService, logg))

			r.Route("/{sessionID}", func(r chi.Router) {
				r.Get("/", controllers.GetSession(sessionService, logg))
				r.Post("/end", controllers.EndSession(sessionService, logg))

				r.Post("/messages", controllers.PostMessage(eventService, logg))
				r.Get("/events", controllers.ListSessionEvents(eventService, logg))
				r.Get("/subscribe", controllers.SubscribeSession(hub, eventService, sessionService, cfg.Broadcast, logg))

				r.Post("/products", controllers.PostProduct(productService, logg))
				r.Get("/products", controllers.ListSessionProducts(productService, logg))
			})
		})

		r.Route("/products", func(r chi.Router) {
			r.Get("/feed", controllers.ProductFeed(productService, logg))
			r.Route("/{productID}", func(r chi.Router) {
				r.Get("/", controllers.GetProduct(productService, logg))
				r.Patch("/status", controllers.UpdateProductStatus(productService, logg))
				r.Post("/reserve", controllers.ReserveProduct(reservationService, logg))
			})
		})

		r.Route("/reservations", func(r chi.Router) {
			r.Get("/mine", controllers.ListMyReservations(reservationService, logg))
			r.Post("/{reservationID}/cancel", controllers.CancelReservation(reservationService, logg))
			r.Post("/{reservationID}/complete", controllers.CompleteReservation(reservationService, logg))
		})

		r.Post("/media/presign", controllers.PresignUpload(mediaService, logg))
	})

	return r
}
