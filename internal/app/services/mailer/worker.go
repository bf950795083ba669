// Package mailer consumes notification events from the bus and delivers
// their email copies over SMTP, honoring user preferences.
package mailer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	gomail "gopkg.in/gomail.v2"

	"github.com/lanternhq/lantern-api/internal/app/domain/notification"
	"github.com/lanternhq/lantern-api/internal/app/metrics"
	"github.com/lanternhq/lantern-api/internal/app/pubsub"
	"github.com/lanternhq/lantern-api/internal/app/storage"
	"github.com/lanternhq/lantern-api/internal/app/system"
	"github.com/lanternhq/lantern-api/pkg/logger"
)

var _ system.Service = (*Worker)(nil)

// Dialer sends assembled messages. gomail's SMTP dialer satisfies it;
// tests substitute a recorder.
type Dialer interface {
	DialAndSend(m ...*gomail.Message) error
}

// NewSMTPDialer builds the production SMTP dialer.
func NewSMTPDialer(host string, port int, username, password string) Dialer {
	return gomail.NewDialer(host, port, username, password)
}

// Preferences resolves whether a user receives email for a type key and
// issues unsubscribe tokens for the footer link.
type Preferences interface {
	EmailEnabled(ctx context.Context, userID, typeKey string) (bool, error)
	UnsubscribeToken(userID, typeKey string) (string, error)
}

// StatusRecorder writes the delivery outcome back onto the notification.
type StatusRecorder interface {
	SetEmailStatus(ctx context.Context, notificationID string, status notification.EmailStatus, emailErr string) error
}

// Worker subscribes to notification events and sends email.
type Worker struct {
	bus         pubsub.Bus
	users       storage.UserStore
	prefs       Preferences
	status      StatusRecorder
	dialer      Dialer
	log         *logger.Logger
	sender      string
	baseURL     string
	template    Template
	maxAttempts int

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// Config configures the mailer worker.
type Config struct {
	Sender      string
	BaseURL     string
	Template    Template
	MaxAttempts int
}

// NewWorker creates a lifecycle-managed mailer worker.
func NewWorker(bus pubsub.Bus, users storage.UserStore, prefs Preferences, status StatusRecorder, dialer Dialer, cfg Config, log *logger.Logger) *Worker {
	if log == nil {
		log = logger.NewDefault("mailer")
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.Template.Subject == "" && cfg.Template.Body == "" {
		cfg.Template = DefaultTemplate
	}
	return &Worker{
		bus:         bus,
		users:       users,
		prefs:       prefs,
		status:      status,
		dialer:      dialer,
		log:         log,
		sender:      cfg.Sender,
		baseURL:     cfg.BaseURL,
		template:    cfg.Template,
		maxAttempts: cfg.MaxAttempts,
	}
}

func (w *Worker) Name() string { return "mailer" }

func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)

	messages, unsubscribe, err := w.bus.Subscribe(runCtx, pubsub.TopicNotificationCreated)
	if err != nil {
		cancel()
		w.mu.Unlock()
		return fmt.Errorf("subscribe: %w", err)
	}

	w.cancel = cancel
	w.running = true
	w.mu.Unlock()

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer unsubscribe()

		for {
			select {
			case <-runCtx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				w.handle(runCtx, msg)
			}
		}
	}()

	w.log.Info("mailer worker started")
	return nil
}

func (w *Worker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	cancel := w.cancel
	w.running = false
	w.cancel = nil
	w.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		w.wg.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	w.log.Info("mailer worker stopped")
	return nil
}

func (w *Worker) handle(ctx context.Context, msg pubsub.Message) {
	var event notification.Event
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		w.log.WithError(err).Warn("decode notification event")
		return
	}
	if event.NotificationID == "" || event.UserID == "" {
		w.log.Warn("notification event missing identifiers")
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	enabled, err := w.prefs.EmailEnabled(ctx, event.UserID, event.TypeKey)
	if err != nil {
		w.recordStatus(ctx, event, notification.EmailFailed, fmt.Sprintf("resolve preferences: %v", err))
		return
	}
	if !enabled {
		metrics.RecordEmailDelivery(string(notification.EmailSkipped), 0)
		w.recordStatus(ctx, event, notification.EmailSkipped, "")
		return
	}

	u, err := w.users.GetUser(ctx, event.UserID)
	if err != nil {
		w.recordStatus(ctx, event, notification.EmailFailed, fmt.Sprintf("lookup user: %v", err))
		return
	}
	if u.Email == "" {
		w.recordStatus(ctx, event, notification.EmailSkipped, "")
		return
	}

	message := w.compose(u.Email, event)

	start := time.Now()
	err = w.sendWithRetry(ctx, message)
	duration := time.Since(start)

	if err != nil {
		metrics.RecordEmailDelivery(string(notification.EmailFailed), duration)
		w.log.WithError(err).
			WithField("notification_id", event.NotificationID).
			Warn("email delivery failed")
		w.recordStatus(ctx, event, notification.EmailFailed, err.Error())
		return
	}

	metrics.RecordEmailDelivery(string(notification.EmailSent), duration)
	w.log.WithField("notification_id", event.NotificationID).
		WithField("user_id", event.UserID).
		Info("email delivered")
	w.recordStatus(ctx, event, notification.EmailSent, "")
}

func (w *Worker) compose(recipient string, event notification.Event) *gomail.Message {
	payload := map[string]interface{}{
		"notification_id": event.NotificationID,
		"user_id":         event.UserID,
		"type_key":        event.TypeKey,
		"title":           event.Title,
		"body":            event.Body,
		"metadata":        event.Metadata,
		"unsubscribe_url": w.unsubscribeURL(event),
	}

	m := gomail.NewMessage()
	m.SetHeader("From", w.sender)
	m.SetHeader("To", recipient)
	m.SetHeader("Subject", Render(w.template.Subject, payload))
	m.SetBody("text/plain", Render(w.template.Body, payload))
	return m
}

func (w *Worker) unsubscribeURL(event notification.Event) string {
	token, err := w.prefs.UnsubscribeToken(event.UserID, event.TypeKey)
	if err != nil || token == "" {
		return ""
	}
	return w.baseURL + "/preferences/email/unsubscribe?token=" + token
}

func (w *Worker) sendWithRetry(ctx context.Context, m *gomail.Message) error {
	var lastErr error
	for attempt := 1; attempt <= w.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if lastErr = w.dialer.DialAndSend(m); lastErr == nil {
			return nil
		}
		if attempt < w.maxAttempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * time.Second):
			}
		}
	}
	return fmt.Errorf("send after %d attempts: %w", w.maxAttempts, lastErr)
}

func (w *Worker) recordStatus(ctx context.Context, event notification.Event, status notification.EmailStatus, emailErr string) {
	if err := w.status.SetEmailStatus(ctx, event.NotificationID, status, emailErr); err != nil {
		w.log.WithError(err).
			WithField("notification_id", event.NotificationID).
			Warn("record email status")
	}
}
