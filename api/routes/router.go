package routes

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/meterly-backend/api/controllers"
	creditcontrollers "github.com/angelmondragon/meterly-backend/api/controllers/credits"
	shopcontrollers "github.com/angelmondragon/meterly-backend/api/controllers/shops"
	subscriptioncontrollers "github.com/angelmondragon/meterly-backend/api/controllers/subscriptions"
	usagecontrollers "github.com/angelmondragon/meterly-backend/api/controllers/usage"
	"github.com/angelmondragon/meterly-backend/api/middleware"
	"github.com/angelmondragon/meterly-backend/internal/credits"
	"github.com/angelmondragon/meterly-backend/internal/notifications"
	"github.com/angelmondragon/meterly-backend/internal/subscriptions"
	"github.com/angelmondragon/meterly-backend/pkg/config"
	"github.com/angelmondragon/meterly-backend/pkg/db"
	"github.com/angelmondragon/meterly-backend/pkg/db/models"
	"github.com/angelmondragon/meterly-backend/pkg/logger"
	"github.com/angelmondragon/meterly-backend/pkg/redis"
)

type shopDirectory interface {
	shopcontrollers.Registrar
	FindShopByName(ctx context.Context, name string) (*models.Shop, error)
}

type redisClient interface {
	middleware.IdempotencyStore
	redis.Pinger
}

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisClient redisClient,
	shops shopDirectory,
	subscriptionsService subscriptions.Service,
	ledgerService usagecontrollers.LedgerService,
	creditsService credits.Service,
	notificationsService notifications.Service,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	ready := []controllers.ReadyCheck{{Name: "postgres", Ping: dbP}, {Name: "redis"}}
	if redisClient != nil {
		ready[1].Ping = redisClient
	}
	r.Handle("/metrics", promhttp.Handler())
	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, ready...))
	})

	var idempotencyStore middleware.IdempotencyStore
	if redisClient != nil {
		idempotencyStore = redisClient
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/shops", shopcontrollers.Register(shops, logg))

		r.Group(func(r chi.Router) {
			r.Use(middleware.ShopContext(shops, logg))
			r.Use(middleware.Idempotency(idempotencyStore, cfg.Billing.UsageIdempotencyTTL, logg))

			r.Route("/subscriptions", func(r chi.Router) {
				r.Post("/", subscriptioncontrollers.Subscribe(subscriptionsService, logg))
				r.Put("/", subscriptioncontrollers.Update(subscriptionsService, logg))
				r.Get("/current", subscriptioncontrollers.Current(subscriptionsService, logg))
				r.Post("/renew", subscriptioncontrollers.Renew(subscriptionsService, logg))
				r.Post("/cancel", subscriptioncontrollers.Cancel(subscriptionsService, logg))
				r.Post("/freeze", subscriptioncontrollers.Freeze(subscriptionsService, logg))
				r.Post("/unfreeze", subscriptioncontrollers.Unfreeze(subscriptionsService, logg))
				r.Patch("/{subscriptionId}/status", subscriptioncontrollers.UpdateStatus(subscriptionsService, logg))
			})

			r.Route("/usage", func(r chi.Router) {
				r.Get("/", usagecontrollers.State(ledgerService, logg))
				r.Post("/", usagecontrollers.Report(ledgerService, logg))
			})

			r.Route("/credits/purchases", func(r chi.Router) {
				r.Get("/", creditcontrollers.List(creditsService, logg))
				r.Post("/", creditcontrollers.Purchase(creditsService, logg))
			})

			r.Route("/notifications", func(r chi.Router) {
				r.Get("/", controllers.ListNotifications(notificationsService, logg))
				r.Post("/read-all", controllers.MarkAllNotificationsRead(notificationsService, logg))
				r.Post("/{notificationId}/read", controllers.MarkNotificationRead(notificationsService, logg))
			})
		})
	})

	return r
}
