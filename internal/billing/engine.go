package billing

import (
	"fmt"
	"time"

	"github.com/angelmondragon/meterly-backend/internal/catalog"
	"github.com/angelmondragon/meterly-backend/internal/credits"
	"github.com/angelmondragon/meterly-backend/internal/idempotency"
	"github.com/angelmondragon/meterly-backend/internal/notifications"
	"github.com/angelmondragon/meterly-backend/internal/promotions"
	"github.com/angelmondragon/meterly-backend/internal/shops"
	"github.com/angelmondragon/meterly-backend/internal/subscriptions"
	"github.com/angelmondragon/meterly-backend/internal/usage"
	"github.com/angelmondragon/meterly-backend/pkg/config"
	"github.com/angelmondragon/meterly-backend/pkg/db"
	"github.com/angelmondragon/meterly-backend/pkg/email"
	"github.com/angelmondragon/meterly-backend/pkg/logger"
	"github.com/angelmondragon/meterly-backend/pkg/metrics"
)

// EngineParams groups what the binaries share when wiring the engine.
type EngineParams struct {
	DB      *db.Client
	Config  config.BillingConfig
	Cache   catalog.Cache
	Sender  email.Sender
	Metrics *metrics.LedgerMetrics
	Logger  *logger.Logger
	Now     func() time.Time
}

// Engine is the wired set of billing services.
type Engine struct {
	Shops         shops.Directory
	Catalog       catalog.Service
	Subscriptions *subscriptions.Manager
	Ledger        *usage.Ledger
	Credits       credits.Service
	Notifications notifications.Service
	Dispatcher    *notifications.Dispatcher
}

// NewEngine builds every service over one database client. A nil Sender
// records notifications without sending email.
func NewEngine(params EngineParams) (*Engine, error) {
	if params.DB == nil {
		return nil, fmt.Errorf("db client required")
	}
	conn := params.DB.DB()
	now := params.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}

	subPolicy, err := subscriptions.PolicyFromConfig(params.Config)
	if err != nil {
		return nil, err
	}
	usagePolicy := usage.PolicyFromConfig(params.Config)

	directory, err := shops.NewService(shops.NewRepository(conn))
	if err != nil {
		return nil, err
	}
	catalogSvc, err := catalog.NewService(catalog.ServiceParams{
		Repo:         catalog.NewRepository(conn),
		Cache:        params.Cache,
		CacheTTL:     params.Config.CatalogCacheTTL,
		FreePlanName: subPolicy.FreePlanName,
		Logger:       params.Logger,
	})
	if err != nil {
		return nil, err
	}
	resolver, err := promotions.NewResolver(promotions.NewRepository(conn))
	if err != nil {
		return nil, err
	}

	notificationsRepo := notifications.NewRepository(conn)
	notificationsSvc, err := notifications.NewService(notificationsRepo)
	if err != nil {
		return nil, err
	}
	dispatcherParams := notifications.DispatcherParams{
		Repo:        notificationsRepo,
		DedupWindow: params.Config.NotificationDedup,
		Now:         now,
		Logger:      params.Logger,
	}
	if params.Sender != nil {
		mailer, err := email.NewMailer(params.Sender)
		if err != nil {
			return nil, err
		}
		dispatcherParams.Mailer = mailer
		dispatcherParams.Recipients = directory
	}
	dispatcher, err := notifications.NewDispatcher(dispatcherParams)
	if err != nil {
		return nil, err
	}

	usageRepo := usage.NewRepository(conn)
	buckets := usage.NewBuckets(usageRepo, usagePolicy)
	keys := idempotency.NewRepository(conn)

	manager, err := subscriptions.NewManager(subscriptions.ManagerParams{
		DB:          params.DB,
		Repo:        subscriptions.NewRepository(conn),
		Catalog:     catalogSvc,
		Promotions:  resolver,
		Buckets:     buckets,
		Idempotency: keys,
		Notifier:    dispatcher,
		Policy:      subPolicy,
		Logger:      params.Logger,
		Now:         now,
	})
	if err != nil {
		return nil, err
	}
	ledger, err := usage.NewLedger(usage.LedgerParams{
		DB:            params.DB,
		Repo:          usageRepo,
		Subscriptions: manager,
		Notifier:      dispatcher,
		Policy:        usagePolicy,
		Metrics:       params.Metrics,
		Logger:        params.Logger,
		Now:           now,
	})
	if err != nil {
		return nil, err
	}
	creditsSvc, err := credits.NewService(credits.ServiceParams{
		DB:          params.DB,
		Repo:        credits.NewRepository(conn),
		Catalog:     catalogSvc,
		Buckets:     buckets,
		Idempotency: keys,
		Notifier:    dispatcher,
		Logger:      params.Logger,
		Now:         now,
	})
	if err != nil {
		return nil, err
	}

	return &Engine{
		Shops:         directory,
		Catalog:       catalogSvc,
		Subscriptions: manager,
		Ledger:        ledger,
		Credits:       creditsSvc,
		Notifications: notificationsSvc,
		Dispatcher:    dispatcher,
	}, nil
}
