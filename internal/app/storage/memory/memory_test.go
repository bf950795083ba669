package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lanternhq/lantern-api/internal/app/domain/notification"
	"github.com/lanternhq/lantern-api/internal/app/domain/subscription"
	"github.com/lanternhq/lantern-api/internal/app/domain/user"
	"github.com/lanternhq/lantern-api/internal/app/storage"
)

func TestCreateUserRejectsDuplicateEmail(t *testing.T) {
	store := New()
	ctx := context.Background()

	if _, err := store.CreateUser(ctx, user.User{Email: "a@example.com"}); err != nil {
		t.Fatalf("first create: %v", err)
	}
	_, err := store.CreateUser(ctx, user.User{Email: "A@Example.com"})
	if !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}
}

func TestGetUserByEmailIsCaseInsensitive(t *testing.T) {
	store := New()
	ctx := context.Background()

	created, err := store.CreateUser(ctx, user.User{Email: "Mixed@Example.com"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := store.GetUserByEmail(ctx, "mixed@example.com")
	if err != nil {
		t.Fatalf("get by email: %v", err)
	}
	if got.ID != created.ID {
		t.Fatalf("id = %s, want %s", got.ID, created.ID)
	}
}

func TestDeleteUserCascades(t *testing.T) {
	store := New()
	ctx := context.Background()

	u, _ := store.CreateUser(ctx, user.User{Email: "a@example.com"})
	st, _ := store.CreateSubscriptionType(ctx, subscription.Type{Key: "billing", Name: "Billing"})
	sub, _ := store.CreateSubscription(ctx, subscription.Subscription{
		UserID: u.ID, TypeID: st.ID, Channel: subscription.ChannelEmail, Active: true,
	})
	n, _ := store.CreateNotification(ctx, notification.Notification{UserID: u.ID, TypeKey: "billing", Title: "t"})

	if err := store.DeleteUser(ctx, u.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	if _, err := store.GetSubscription(ctx, sub.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("subscription should be gone, got %v", err)
	}
	if _, err := store.GetNotification(ctx, n.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("notification should be gone, got %v", err)
	}
}

func TestSubscriptionUniquePerUserTypeChannel(t *testing.T) {
	store := New()
	ctx := context.Background()

	u, _ := store.CreateUser(ctx, user.User{Email: "a@example.com"})
	st, _ := store.CreateSubscriptionType(ctx, subscription.Type{Key: "digest", Name: "Digest"})

	sub := subscription.Subscription{UserID: u.ID, TypeID: st.ID, Channel: subscription.ChannelEmail, Active: true}
	if _, err := store.CreateSubscription(ctx, sub); err != nil {
		t.Fatalf("first create: %v", err)
	}
	if _, err := store.CreateSubscription(ctx, sub); !errors.Is(err, storage.ErrConflict) {
		t.Fatal("duplicate subscription should conflict")
	}

	// Same type on a different channel is allowed.
	sub.Channel = subscription.ChannelWebPush
	if _, err := store.CreateSubscription(ctx, sub); err != nil {
		t.Fatalf("webpush create: %v", err)
	}
}

func TestCreateNotificationRequiresUser(t *testing.T) {
	store := New()

	_, err := store.CreateNotification(context.Background(), notification.Notification{
		UserID: "ghost", TypeKey: "billing", Title: "t",
	})
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestMarkAllRead(t *testing.T) {
	store := New()
	ctx := context.Background()

	u, _ := store.CreateUser(ctx, user.User{Email: "a@example.com"})
	for i := 0; i < 3; i++ {
		if _, err := store.CreateNotification(ctx, notification.Notification{
			UserID: u.ID, TypeKey: "digest", Title: "t",
		}); err != nil {
			t.Fatalf("create notification: %v", err)
		}
	}

	count, err := store.MarkAllRead(ctx, u.ID, time.Now())
	if err != nil {
		t.Fatalf("mark all read: %v", err)
	}
	if count != 3 {
		t.Fatalf("count = %d, want 3", count)
	}

	unread, _ := store.ListNotifications(ctx, u.ID, true)
	if len(unread) != 0 {
		t.Fatalf("unread = %d, want 0", len(unread))
	}
}

func TestDeleteReadBeforeKeepsUnread(t *testing.T) {
	store := New()
	ctx := context.Background()

	u, _ := store.CreateUser(ctx, user.User{Email: "a@example.com"})
	read, _ := store.CreateNotification(ctx, notification.Notification{UserID: u.ID, TypeKey: "digest", Title: "old"})
	if _, err := store.MarkAllRead(ctx, u.ID, time.Now()); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	unread, _ := store.CreateNotification(ctx, notification.Notification{UserID: u.ID, TypeKey: "digest", Title: "new"})

	count, err := store.DeleteReadBefore(ctx, time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("delete read before: %v", err)
	}
	if count != 1 {
		t.Fatalf("count = %d, want 1", count)
	}
	if _, err := store.GetNotification(ctx, read.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Fatal("read notification should be purged")
	}
	if _, err := store.GetNotification(ctx, unread.ID); err != nil {
		t.Fatalf("unread notification should survive: %v", err)
	}
}

func TestUpdateSubscriptionPreservesOwner(t *testing.T) {
	store := New()
	ctx := context.Background()

	u, _ := store.CreateUser(ctx, user.User{Email: "a@example.com"})
	st, _ := store.CreateSubscriptionType(ctx, subscription.Type{Key: "digest", Name: "Digest"})
	sub, _ := store.CreateSubscription(ctx, subscription.Subscription{
		UserID: u.ID, TypeID: st.ID, Channel: subscription.ChannelEmail, Active: true,
	})

	sub.UserID = "other"
	sub.Active = false
	updated, err := store.UpdateSubscription(ctx, sub)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.UserID != u.ID {
		t.Fatalf("owner changed to %s", updated.UserID)
	}
	if updated.Active {
		t.Fatal("active should be false")
	}
}
