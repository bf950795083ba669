package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lanternhq/lantern-api/internal/app/domain/notification"
	"github.com/lanternhq/lantern-api/internal/app/domain/subscription"
	"github.com/lanternhq/lantern-api/internal/app/domain/user"
)

// ErrNotFound is returned by every store when a record does not exist.
// It aliases sql.ErrNoRows so database rows and memory maps report misses
// the same way.
var ErrNotFound = sql.ErrNoRows

// ErrConflict is returned when a uniqueness constraint is violated.
var ErrConflict = errors.New("storage: conflict")

// UserStore persists user records.
type UserStore interface {
	CreateUser(ctx context.Context, u user.User) (user.User, error)
	UpdateUser(ctx context.Context, u user.User) (user.User, error)
	GetUser(ctx context.Context, id string) (user.User, error)
	GetUserByEmail(ctx context.Context, email string) (user.User, error)
	GetUserByFirebaseUID(ctx context.Context, uid string) (user.User, error)
	ListUsers(ctx context.Context) ([]user.User, error)
	DeleteUser(ctx context.Context, id string) error
}

// SubscriptionStore persists subscription types and per-user subscriptions.
type SubscriptionStore interface {
	CreateSubscriptionType(ctx context.Context, st subscription.Type) (subscription.Type, error)
	UpdateSubscriptionType(ctx context.Context, st subscription.Type) (subscription.Type, error)
	GetSubscriptionType(ctx context.Context, id string) (subscription.Type, error)
	GetSubscriptionTypeByKey(ctx context.Context, key string) (subscription.Type, error)
	ListSubscriptionTypes(ctx context.Context) ([]subscription.Type, error)
	DeleteSubscriptionType(ctx context.Context, id string) error

	CreateSubscription(ctx context.Context, sub subscription.Subscription) (subscription.Subscription, error)
	UpdateSubscription(ctx context.Context, sub subscription.Subscription) (subscription.Subscription, error)
	GetSubscription(ctx context.Context, id string) (subscription.Subscription, error)
	GetSubscriptionForUser(ctx context.Context, userID, typeID string, channel subscription.Channel) (subscription.Subscription, error)
	ListSubscriptions(ctx context.Context, userID string) ([]subscription.Subscription, error)
	DeleteSubscription(ctx context.Context, id string) error
}

// NotificationStore persists notifications.
type NotificationStore interface {
	CreateNotification(ctx context.Context, n notification.Notification) (notification.Notification, error)
	UpdateNotification(ctx context.Context, n notification.Notification) (notification.Notification, error)
	GetNotification(ctx context.Context, id string) (notification.Notification, error)
	ListNotifications(ctx context.Context, userID string, unreadOnly bool) ([]notification.Notification, error)
	MarkAllRead(ctx context.Context, userID string, at time.Time) (int64, error)
	DeleteNotification(ctx context.Context, id string) error
	DeleteReadBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
