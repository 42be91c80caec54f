package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lumenworks/studiobook-backend/api/controllers"
	webhookcontrollers "github.com/lumenworks/studiobook-backend/api/controllers/webhooks"
	"github.com/lumenworks/studiobook-backend/api/middleware"
	"github.com/lumenworks/studiobook-backend/internal/checkout"
	"github.com/lumenworks/studiobook-backend/internal/reconcile"
	"github.com/lumenworks/studiobook-backend/internal/reservations"
	pkgauth "github.com/lumenworks/studiobook-backend/pkg/auth"
	"github.com/lumenworks/studiobook-backend/pkg/config"
	"github.com/lumenworks/studiobook-backend/pkg/db"
	"github.com/lumenworks/studiobook-backend/pkg/logger"
	"github.com/lumenworks/studiobook-backend/pkg/redis"
)

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisClient *redis.Client,
	gatewayClient webhookcontrollers.SigningClient,
	reconcileService reconcile.Service,
	checkoutService checkout.Service,
	reservationsRepo reservations.Repository,
	webhookService webhookcontrollers.PaymentEventService,
	webhookGuard webhookcontrollers.WebhookGuard,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, dbP, redisClient))
	})

	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		handler := webhookcontrollers.PaymentWebhook(webhookService, gatewayClient, webhookGuard, logg)
		r.Post("/payments", handler)
		r.Head("/payments", handler)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.Idempotency(redisClient, logg))

		r.Route("/reservations/{reservationId}", func(r chi.Router) {
			checkoutPolicy := middleware.NewRateLimitPolicy(
				"checkout",
				cfg.Checkout.RateLimitWindow,
				cfg.Checkout.RateLimitIP,
				cfg.Checkout.RateLimitUser,
			)
			r.With(middleware.RateLimit(checkoutPolicy, redisClient, logg)).
				Post("/checkout", controllers.StartCheckout(checkoutService, logg))
		})

		r.Route("/staff/reservations/{reservationId}", func(r chi.Router) {
			r.Use(middleware.RequireRole(logg, pkgauth.RoleStaff, pkgauth.RoleAdmin))
			r.Get("/", controllers.StaffReservationDetail(reservationsRepo, logg))
			r.Post("/confirm", controllers.StaffConfirmReservation(reconcileService, logg))
		})
	})

	return r
}
