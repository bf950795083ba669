// Package runtime assembles the configured application: storage backends,
// the event bus, token verifiers, both HTTP listeners and their lifecycle.
package runtime

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"

	app "github.com/lanternhq/lantern-api/internal/app"
	"github.com/lanternhq/lantern-api/internal/app/httpapi"
	"github.com/lanternhq/lantern-api/internal/app/pubsub"
	"github.com/lanternhq/lantern-api/internal/app/services/mailer"
	"github.com/lanternhq/lantern-api/internal/app/storage/postgres"
	"github.com/lanternhq/lantern-api/internal/auth"
	"github.com/lanternhq/lantern-api/internal/config"
	"github.com/lanternhq/lantern-api/internal/logging"
	"github.com/lanternhq/lantern-api/internal/middleware"
	"github.com/lanternhq/lantern-api/internal/platform/migrations"
	"github.com/lanternhq/lantern-api/pkg/logger"
)

// Application wires core dependencies and manages the HTTP server lifecycle.
type Application struct {
	cfg       *config.Config
	log       *logger.Logger
	app       *app.Application
	apiServer *http.Server
	opsServer *http.Server
	db        *sql.DB
	redis     *redis.Client
}

// NewApplication constructs an application from the environment.
func NewApplication() (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return NewApplicationFromConfig(cfg)
}

// NewApplicationFromConfig constructs an application from an explicit
// configuration. Used by tests and tooling.
func NewApplicationFromConfig(cfg *config.Config) (*Application, error) {
	log := logger.New(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		FilePrefix: cfg.Logging.FilePrefix,
	})
	httpLog := logging.New("httpapi", cfg.Logging.Level, cfg.Logging.Format)

	stores, db, err := buildStores(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("configure stores: %w", err)
	}

	bus, sessions, redisClient := buildBus(cfg, log)

	var signer *auth.UnsubscribeSigner
	if cfg.Auth.UnsubscribeSecret != "" {
		signer = auth.NewUnsubscribeSigner(cfg.Auth.UnsubscribeSecret, cfg.Auth.UnsubscribeMaxAge)
	} else {
		log.Warn("LANTERN_UNSUBSCRIBE_SECRET not set; unsubscribe links disabled")
	}

	var dialer mailer.Dialer
	if cfg.SMTP.Host != "" {
		dialer = mailer.NewSMTPDialer(cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.Username, cfg.SMTP.Password)
	} else {
		log.Warn("LANTERN_SMTP_HOST not set; email delivery disabled")
	}

	application, err := app.New(stores, app.Options{
		Bus:      bus,
		Sessions: sessions,
		Signer:   signer,
		Dialer:   dialer,
		Mailer: mailer.Config{
			Sender:  cfg.SMTP.Sender,
			BaseURL: fmt.Sprintf("http://%s:%d", cfg.Server.Host, cfg.Server.Port),
		},
		CleanupSchedule: cfg.Retention.CleanupSchedule,
		Retention:       cfg.Retention.NotificationMaxAge,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("build application: %w", err)
	}

	if err := application.Users.EnsureAdmin(context.Background(), cfg.Auth.AdminBootstrapUser, cfg.Auth.AdminBootstrapPass); err != nil {
		return nil, fmt.Errorf("bootstrap admin: %w", err)
	}

	legacy := auth.NewLegacyVerifier(cfg.Auth.LegacySecret, cfg.Auth.TokenTTL)
	verifiers := []auth.TokenVerifier{legacy}
	if cfg.Auth.FirebaseProjectID != "" {
		verifiers = append(verifiers, auth.NewFirebaseVerifier(auth.FirebaseConfig{
			ProjectID: cfg.Auth.FirebaseProjectID,
			CertURL:   cfg.Auth.FirebaseCertURL,
			LookupURL: cfg.Auth.FirebaseLookupURL,
			WebAPIKey: cfg.Auth.FirebaseWebAPIKey,
		}, nil, nil))
	} else {
		log.Warn("LANTERN_FIREBASE_PROJECT_ID not set; Firebase tokens rejected")
	}

	var serviceAuth *middleware.ServiceAuthMiddleware
	if cfg.Auth.ServiceAuthPublicKeyFile != "" {
		pemBytes, err := os.ReadFile(cfg.Auth.ServiceAuthPublicKeyFile)
		if err != nil {
			return nil, fmt.Errorf("read service auth key: %w", err)
		}
		key, err := middleware.ParseServiceAuthPublicKey(pemBytes)
		if err != nil {
			return nil, fmt.Errorf("parse service auth key: %w", err)
		}
		serviceAuth = middleware.NewServiceAuthMiddleware(middleware.ServiceAuthConfig{
			PublicKey:       key,
			Logger:          httpLog,
			AllowedServices: cfg.Auth.AllowedServices,
		})
	}

	auditSink, err := httpapi.NewFileAuditSink(cfg.Logging.AuditPath)
	if err != nil {
		return nil, fmt.Errorf("open audit sink: %w", err)
	}
	var audit *httpapi.AuditLog
	if auditSink != nil {
		audit = httpapi.NewAuditLog(200, auditSink)
	} else {
		audit = httpapi.NewAuditLog(200, nil)
	}

	apiHandler := httpapi.NewHandler(application, httpapi.Config{
		Legacy:         legacy,
		Verifier:       auth.NewChainVerifier(verifiers...),
		Sessions:       sessions,
		SessionTTL:     cfg.Auth.SessionTTL,
		ServiceAuth:    serviceAuth,
		RateLimit:      middleware.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst, httpLog),
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		Audit:          audit,
		Log:            httpLog,
		MaxBodyBytes:   cfg.Server.MaxBodyBytes,
	})

	apiServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      apiHandler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	opsServer := &http.Server{
		Addr:        fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.OpsPort),
		Handler:     httpapi.NewOpsHandler(dbPinger(db), audit),
		ReadTimeout: cfg.Server.ReadTimeout,
	}

	return &Application{
		cfg:       cfg,
		log:       log,
		app:       application,
		apiServer: apiServer,
		opsServer: opsServer,
		db:        db,
		redis:     redisClient,
	}, nil
}

// App exposes the wired domain services.
func (a *Application) App() *app.Application {
	return a.app
}

// Run starts background services and both HTTP listeners, blocking until the
// context is cancelled or a listener fails.
func (a *Application) Run(ctx context.Context) error {
	if err := a.app.Start(ctx); err != nil {
		return fmt.Errorf("start services: %w", err)
	}

	errCh := make(chan error, 2)
	go func() {
		a.log.Infof("API listening on %s", a.apiServer.Addr)
		if err := a.apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	go func() {
		a.log.Infof("ops listening on %s", a.opsServer.Addr)
		if err := a.opsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Shutdown gracefully stops the listeners, background services and
// connections.
func (a *Application) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, a.cfg.Server.ShutdownTimeout)
	defer cancel()

	var firstErr error
	if err := a.apiServer.Shutdown(shutdownCtx); err != nil {
		firstErr = err
	}
	if err := a.opsServer.Shutdown(shutdownCtx); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := a.app.Stop(shutdownCtx); err != nil && firstErr == nil {
		firstErr = err
	}

	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.WithError(err).Warn("error closing redis connection")
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.WithError(err).Warn("error closing database connection")
		}
	}
	return firstErr
}

// dbPinger adapts a possibly-nil *sql.DB to the ops readiness check. A nil
// database means in-memory mode, which is always ready.
func dbPinger(db *sql.DB) httpapi.Pinger {
	if db == nil {
		return nil
	}
	return db
}

// buildStores opens Postgres when a DSN is configured and falls back to the
// in-memory stores otherwise.
func buildStores(cfg *config.Config, log *logger.Logger) (app.Stores, *sql.DB, error) {
	if cfg.Database.DSN == "" {
		log.Warn("DATABASE_URL not set; using in-memory stores")
		return app.Stores{}, nil, nil
	}

	db, err := openDatabase(cfg.Database)
	if err != nil {
		return app.Stores{}, nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := migrations.Apply(ctx, db); err != nil {
		db.Close()
		return app.Stores{}, nil, fmt.Errorf("apply migrations: %w", err)
	}

	store := postgres.NewFromSQL(db)
	return app.Stores{
		Users:         store,
		Subscriptions: store,
		Notifications: store,
	}, db, nil
}

// buildBus selects Redis-backed pubsub and sessions when configured and
// reachable, degrading to the in-process implementations otherwise.
func buildBus(cfg *config.Config, log *logger.Logger) (pubsub.Bus, auth.SessionStore, *redis.Client) {
	if cfg.Redis.Addr == "" {
		log.Warn("LANTERN_REDIS_ADDR not set; using in-process bus and sessions")
		return pubsub.NewMemoryBus(), auth.NewMemorySessionStore(), nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		log.WithError(err).Warn("redis unreachable; using in-process bus and sessions")
		_ = client.Close()
		return pubsub.NewMemoryBus(), auth.NewMemorySessionStore(), nil
	}

	return pubsub.NewRedisBus(client, log), auth.NewRedisSessionStore(client), client
}

func openDatabase(cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, err
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Second)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}
