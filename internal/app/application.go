package app

import (
	"context"
	"fmt"
	"time"

	"github.com/lanternhq/lantern-api/internal/app/pubsub"
	"github.com/lanternhq/lantern-api/internal/app/services/cleanup"
	"github.com/lanternhq/lantern-api/internal/app/services/mailer"
	"github.com/lanternhq/lantern-api/internal/app/services/notifications"
	"github.com/lanternhq/lantern-api/internal/app/services/subscriptions"
	"github.com/lanternhq/lantern-api/internal/app/services/users"
	"github.com/lanternhq/lantern-api/internal/app/storage"
	"github.com/lanternhq/lantern-api/internal/app/storage/memory"
	"github.com/lanternhq/lantern-api/internal/app/system"
	"github.com/lanternhq/lantern-api/internal/auth"
	"github.com/lanternhq/lantern-api/pkg/logger"
)

// Stores encapsulates persistence dependencies. Nil stores default to the
// in-memory implementation.
type Stores struct {
	Users         storage.UserStore
	Subscriptions storage.SubscriptionStore
	Notifications storage.NotificationStore
}

// Options carries the non-storage dependencies of the application. Nil
// fields select in-process defaults where one exists.
type Options struct {
	// Bus fans notification events out to the mailer and stream consumers.
	// Nil selects the in-process bus.
	Bus pubsub.Bus

	// Sessions tracks issued legacy tokens for revocation. Nil selects the
	// in-memory store.
	Sessions auth.SessionStore

	// Signer produces one-click unsubscribe tokens. Nil disables signed
	// unsubscribe links.
	Signer *auth.UnsubscribeSigner

	// Dialer delivers outbound email. Nil disables the mailer worker.
	Dialer mailer.Dialer
	Mailer mailer.Config

	// CleanupSchedule is a five-field cron expression; empty selects the
	// default nightly run. Retention zero selects the default window.
	CleanupSchedule string
	Retention       time.Duration
}

// Application ties domain services together and manages their lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	Bus      pubsub.Bus
	Sessions auth.SessionStore

	Users         *users.Service
	Subscriptions *subscriptions.Service
	Notifications *notifications.Service
	Mailer        *mailer.Worker
}

// New builds a fully initialised application with the provided stores.
func New(stores Stores, opts Options, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}

	mem := memory.New()
	if stores.Users == nil {
		stores.Users = mem
	}
	if stores.Subscriptions == nil {
		stores.Subscriptions = mem
	}
	if stores.Notifications == nil {
		stores.Notifications = mem
	}
	if opts.Bus == nil {
		opts.Bus = pubsub.NewMemoryBus()
	}
	if opts.Sessions == nil {
		opts.Sessions = auth.NewMemorySessionStore()
	}

	manager := system.NewManager()

	userService := users.New(stores.Users, log)
	subService := subscriptions.New(stores.Users, stores.Subscriptions, opts.Signer, log)
	notifService := notifications.New(stores.Users, stores.Notifications, opts.Bus, log)

	for _, name := range []string{"users", "subscriptions", "notifications"} {
		if err := manager.Register(system.NoopService{ServiceName: name}); err != nil {
			return nil, fmt.Errorf("register %s service: %w", name, err)
		}
	}

	var worker *mailer.Worker
	if opts.Dialer != nil {
		worker = mailer.NewWorker(opts.Bus, stores.Users, subService, notifService, opts.Dialer, opts.Mailer, log)
		if err := manager.Register(worker); err != nil {
			return nil, fmt.Errorf("register mailer: %w", err)
		}
	} else {
		log.Warn("no SMTP dialer configured; mailer worker disabled")
	}

	janitor := cleanup.New(notifService, opts.Sessions, opts.CleanupSchedule, opts.Retention, log)
	if err := manager.Register(janitor); err != nil {
		return nil, fmt.Errorf("register cleanup: %w", err)
	}

	return &Application{
		manager:       manager,
		log:           log,
		Bus:           opts.Bus,
		Sessions:      opts.Sessions,
		Users:         userService,
		Subscriptions: subService,
		Notifications: notifService,
		Mailer:        worker,
	}, nil
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}
