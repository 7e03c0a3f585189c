package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lmdrive/drive-backend/api/controllers"
	ordercontrollers "github.com/lmdrive/drive-backend/api/controllers/orders"
	paymentcontrollers "github.com/lmdrive/drive-backend/api/controllers/payments"
	stockcontrollers "github.com/lmdrive/drive-backend/api/controllers/stock"
	webhookcontrollers "github.com/lmdrive/drive-backend/api/controllers/webhooks"
	"github.com/lmdrive/drive-backend/api/middleware"
	"github.com/lmdrive/drive-backend/pkg/config"
	"github.com/lmdrive/drive-backend/pkg/db"
	"github.com/lmdrive/drive-backend/pkg/enums"
	"github.com/lmdrive/drive-backend/pkg/logger"
	"github.com/lmdrive/drive-backend/pkg/metrics"
	pkgredis "github.com/lmdrive/drive-backend/pkg/redis"
)

// redisStore is the slice of the redis client the HTTP layer uses.
type redisStore interface {
	middleware.ReplayStore
	pkgredis.Pinger
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
	CounterKey(name string) string
}

type stripeSigner interface {
	SigningSecret() string
}

type stripeDedupe interface {
	Claim(ctx context.Context, eventID string) (bool, error)
	Release(ctx context.Context, eventID string) error
}

// RouterParams carries everything the HTTP surface is wired to.
type RouterParams struct {
	Config      *config.Config
	Logger      *logger.Logger
	DB          db.Pinger
	Redis       redisStore
	HTTPMetrics *metrics.HTTPMetrics
	Gatherer    prometheus.Gatherer

	Orders       ordercontrollers.OrderService
	Transitions  ordercontrollers.Transitioner
	Checkout     paymentcontrollers.CheckoutService
	Stock        stockcontrollers.StockService
	StripeEvents webhookcontrollers.StripeWebhookService
	StripeClient stripeSigner
	StripeDedupe stripeDedupe
}

func NewRouter(p RouterParams) http.Handler {
	cfg, logg := p.Config, p.Logger
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.Metrics(p.HTTPMetrics),
	)

	chargePolicy := middleware.RateLimitPolicy{
		Name:   "charge",
		Window: cfg.RateLimit.ChargeWindow,
		Limit:  cfg.RateLimit.ChargeLimit,
	}

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, p.DB, p.Redis))
	})
	if p.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(p.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/stripe", webhookcontrollers.StripeWebhook(p.StripeEvents, p.StripeClient, p.StripeDedupe, logg))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.Idempotency(p.Redis, logg))

		staff := middleware.RequireRole(logg, enums.ActorRoleStaff)
		customer := middleware.RequireRole(logg, enums.ActorRoleCustomer)

		r.Route("/orders", func(r chi.Router) {
			r.Get("/", ordercontrollers.List(p.Orders, logg))
			r.With(customer).Post("/", ordercontrollers.Create(p.Orders, logg))
			r.Get("/{orderId}", ordercontrollers.Detail(p.Orders, logg))
			r.With(staff).Delete("/{orderId}", ordercontrollers.Delete(p.Orders, logg))

			r.Post("/{orderId}/lines", ordercontrollers.AddLine(p.Orders, logg))
			r.Patch("/{orderId}/lines/{productId}", ordercontrollers.UpdateLine(p.Orders, logg))
			r.Delete("/{orderId}/lines/{productId}", ordercontrollers.RemoveLine(p.Orders, logg))

			r.Post("/{orderId}/transition", ordercontrollers.Transition(p.Transitions, logg))

			r.Get("/{orderId}/payments", paymentcontrollers.List(p.Checkout, logg))
			r.With(customer, middleware.RateLimit(chargePolicy, p.Redis, logg)).
				Post("/{orderId}/payments", paymentcontrollers.Charge(p.Checkout, logg))
		})

		r.Get("/products/{productId}/stock", stockcontrollers.ProductSummary(p.Stock, logg))
		r.Route("/stores/{storeId}", func(r chi.Router) {
			r.Use(staff)
			r.Get("/stock/{productId}", stockcontrollers.Get(p.Stock, logg))
			r.Put("/stock/{productId}", stockcontrollers.Set(p.Stock, logg))
			r.Post("/restock", stockcontrollers.Restock(p.Stock, logg))
		})
	})

	return r
}
