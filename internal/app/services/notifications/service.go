// Package notifications manages notification records and publishes
// creation events for downstream consumers (mailer, websocket stream).
package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lanternhq/lantern-api/internal/app/domain/notification"
	"github.com/lanternhq/lantern-api/internal/app/metrics"
	"github.com/lanternhq/lantern-api/internal/app/pubsub"
	"github.com/lanternhq/lantern-api/internal/app/storage"
	"github.com/lanternhq/lantern-api/pkg/logger"
)

// Service manages notifications.
type Service struct {
	users storage.UserStore
	store storage.NotificationStore
	bus   pubsub.Bus
	log   *logger.Logger
}

// New constructs a notification service. bus may be nil when fan-out is
// not wired (tests, one-off tools).
func New(users storage.UserStore, store storage.NotificationStore, bus pubsub.Bus, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("notifications")
	}
	return &Service{users: users, store: store, bus: bus, log: log}
}

// Create validates and persists a notification, then publishes the
// creation event. Publish failures are logged and never fail the create:
// the notification row is the source of truth, fan-out is best effort.
func (s *Service) Create(ctx context.Context, n notification.Notification) (notification.Notification, error) {
	n.TypeKey = strings.ToLower(strings.TrimSpace(n.TypeKey))
	n.Title = strings.TrimSpace(n.Title)
	if n.UserID == "" {
		return notification.Notification{}, fmt.Errorf("user_id is required")
	}
	if n.TypeKey == "" {
		return notification.Notification{}, fmt.Errorf("type_key is required")
	}
	if n.Title == "" {
		return notification.Notification{}, fmt.Errorf("title is required")
	}

	if _, err := s.users.GetUser(ctx, n.UserID); err != nil {
		return notification.Notification{}, fmt.Errorf("user validation failed: %w", err)
	}

	n.Read = false
	n.ReadAt = nil
	n.EmailStatus = notification.EmailPending
	n.EmailError = ""

	created, err := s.store.CreateNotification(ctx, n)
	if err != nil {
		return notification.Notification{}, err
	}
	metrics.RecordNotificationCreated(created.TypeKey)
	s.log.WithField("notification_id", created.ID).
		WithField("user_id", created.UserID).
		WithField("type_key", created.TypeKey).
		Info("notification created")

	s.publishCreated(ctx, created)
	return created, nil
}

func (s *Service) publishCreated(ctx context.Context, n notification.Notification) {
	if s.bus == nil {
		return
	}

	payload, err := json.Marshal(notification.Event{
		NotificationID: n.ID,
		UserID:         n.UserID,
		TypeKey:        n.TypeKey,
		Title:          n.Title,
		Body:           n.Body,
		Metadata:       n.Metadata,
		CreatedAt:      n.CreatedAt,
	})
	if err != nil {
		s.log.WithError(err).Warn("encode notification event")
		return
	}

	if err := s.bus.Publish(ctx, pubsub.TopicNotificationCreated, payload); err != nil {
		metrics.RecordPubsubPublish(pubsub.TopicNotificationCreated, false)
		s.log.WithError(err).
			WithField("notification_id", n.ID).
			Warn("publish notification event")
		return
	}
	metrics.RecordPubsubPublish(pubsub.TopicNotificationCreated, true)
}

// Get fetches a notification by ID.
func (s *Service) Get(ctx context.Context, id string) (notification.Notification, error) {
	return s.store.GetNotification(ctx, id)
}

// List lists a user's notifications, optionally only unread ones.
func (s *Service) List(ctx context.Context, userID string, unreadOnly bool) ([]notification.Notification, error) {
	return s.store.ListNotifications(ctx, userID, unreadOnly)
}

// MarkRead marks one notification read after an ownership check.
func (s *Service) MarkRead(ctx context.Context, userID, notificationID string) (notification.Notification, error) {
	n, err := s.store.GetNotification(ctx, notificationID)
	if err != nil {
		return notification.Notification{}, err
	}
	if n.UserID != userID {
		// Do not reveal other users' notifications.
		return notification.Notification{}, fmt.Errorf("notification %s: %w", notificationID, storage.ErrNotFound)
	}
	if n.Read {
		return n, nil
	}

	now := time.Now().UTC()
	n.Read = true
	n.ReadAt = &now
	n.UpdatedAt = now
	return s.store.UpdateNotification(ctx, n)
}

// MarkAllRead marks every unread notification of the user read and
// returns how many were affected.
func (s *Service) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	count, err := s.store.MarkAllRead(ctx, userID, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	if count > 0 {
		s.log.WithField("user_id", userID).
			WithField("count", count).
			Info("notifications marked read")
	}
	return count, nil
}

// Delete removes a notification after an ownership check.
func (s *Service) Delete(ctx context.Context, userID, notificationID string) error {
	n, err := s.store.GetNotification(ctx, notificationID)
	if err != nil {
		return err
	}
	if n.UserID != userID {
		return fmt.Errorf("notification %s: %w", notificationID, storage.ErrNotFound)
	}
	return s.store.DeleteNotification(ctx, notificationID)
}

// SetEmailStatus records the mailer's delivery outcome for a notification.
func (s *Service) SetEmailStatus(ctx context.Context, notificationID string, status notification.EmailStatus, emailErr string) error {
	n, err := s.store.GetNotification(ctx, notificationID)
	if err != nil {
		return err
	}
	n.EmailStatus = status
	n.EmailError = emailErr
	n.UpdatedAt = time.Now().UTC()
	_, err = s.store.UpdateNotification(ctx, n)
	return err
}

// PurgeRead deletes read notifications older than the cutoff.
func (s *Service) PurgeRead(ctx context.Context, cutoff time.Time) (int64, error) {
	return s.store.DeleteReadBefore(ctx, cutoff)
}
