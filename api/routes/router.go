package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/storefront-payments/api/controllers"
	paymentcontrollers "github.com/angelmondragon/storefront-payments/api/controllers/payments"
	"github.com/angelmondragon/storefront-payments/api/middleware"
	"github.com/angelmondragon/storefront-payments/pkg/config"
	"github.com/angelmondragon/storefront-payments/pkg/db"
	"github.com/angelmondragon/storefront-payments/pkg/logger"
	"github.com/angelmondragon/storefront-payments/pkg/redis"
)

type redisClient interface {
	redis.Pinger
	middleware.ResponseStore
	middleware.CounterStore
}

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisClient redisClient,
	paymentsService paymentcontrollers.Service,
	metricsHandler http.Handler,
) http.Handler {
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, dbP, redisClient))
	})
	r.Method(http.MethodGet, "/metrics", metricsHandler)

	r.Route("/api/v1/payments", func(r chi.Router) {
		// Gateway-facing endpoints authenticate by signature or redirect only.
		r.Post("/webhook", paymentcontrollers.Webhook(paymentsService, logg))
		r.Get("/callback", paymentcontrollers.Callback(paymentsService, logg))

		r.Group(func(r chi.Router) {
			r.Use(middleware.CORS(cfg.App.CORSAllowedOrigins))
			r.Use(middleware.Auth(cfg.JWT, logg))
			r.Use(middleware.RateLimit(middleware.RateLimitPolicy{
				Name:   "payments",
				Window: cfg.RateLimit.Window,
				Limit:  cfg.RateLimit.PerWindow,
			}, redisClient, logg))
			r.Use(middleware.Idempotency(redisClient, logg))

			r.Post("/initialize", paymentcontrollers.Initialize(paymentsService, logg))
			r.Get("/verify/{reference}", paymentcontrollers.Verify(paymentsService, logg))
		})
	})

	return r
}
