package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lanternhq/lantern-api/internal/app/domain/notification"
	"github.com/lanternhq/lantern-api/internal/app/domain/subscription"
	"github.com/lanternhq/lantern-api/internal/app/domain/user"
	"github.com/lanternhq/lantern-api/internal/app/storage"
)

// Store is an in-memory implementation of the storage interfaces. It is safe
// for concurrent use and is primarily intended for tests and local development.
type Store struct {
	mu                 sync.RWMutex
	users              map[string]user.User
	usersByEmail       map[string]string
	usersByFirebaseUID map[string]string
	types              map[string]subscription.Type
	typesByKey         map[string]string
	subscriptions      map[string]subscription.Subscription
	notifications      map[string]notification.Notification
}

var _ storage.UserStore = (*Store)(nil)
var _ storage.SubscriptionStore = (*Store)(nil)
var _ storage.NotificationStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		users:              make(map[string]user.User),
		usersByEmail:       make(map[string]string),
		usersByFirebaseUID: make(map[string]string),
		types:              make(map[string]subscription.Type),
		typesByKey:         make(map[string]string),
		subscriptions:      make(map[string]subscription.Subscription),
		notifications:      make(map[string]notification.Notification),
	}
}

// UserStore implementation ----------------------------------------------------

func (s *Store) CreateUser(_ context.Context, u user.User) (user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if u.ID == "" {
		u.ID = uuid.NewString()
	} else if _, exists := s.users[u.ID]; exists {
		return user.User{}, fmt.Errorf("user %s already exists: %w", u.ID, storage.ErrConflict)
	}

	emailKey := strings.ToLower(strings.TrimSpace(u.Email))
	if existing, exists := s.usersByEmail[emailKey]; exists {
		return user.User{}, fmt.Errorf("email %s already registered to user %s: %w", u.Email, existing, storage.ErrConflict)
	}
	if u.FirebaseUID != "" {
		if existing, exists := s.usersByFirebaseUID[u.FirebaseUID]; exists {
			return user.User{}, fmt.Errorf("firebase uid already registered to user %s: %w", existing, storage.ErrConflict)
		}
	}

	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now
	u.Metadata = cloneMap(u.Metadata)

	s.users[u.ID] = u
	s.usersByEmail[emailKey] = u.ID
	if u.FirebaseUID != "" {
		s.usersByFirebaseUID[u.FirebaseUID] = u.ID
	}
	return cloneUser(u), nil
}

func (s *Store) UpdateUser(_ context.Context, u user.User) (user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.users[u.ID]
	if !ok {
		return user.User{}, fmt.Errorf("user %s not found: %w", u.ID, storage.ErrNotFound)
	}

	oldEmail := strings.ToLower(strings.TrimSpace(original.Email))
	newEmail := strings.ToLower(strings.TrimSpace(u.Email))
	if newEmail != oldEmail {
		if existing, exists := s.usersByEmail[newEmail]; exists && existing != u.ID {
			return user.User{}, fmt.Errorf("email %s already registered to user %s: %w", u.Email, existing, storage.ErrConflict)
		}
	}

	u.CreatedAt = original.CreatedAt
	u.UpdatedAt = time.Now().UTC()
	u.Metadata = cloneMap(u.Metadata)

	s.users[u.ID] = u
	if newEmail != oldEmail {
		delete(s.usersByEmail, oldEmail)
		s.usersByEmail[newEmail] = u.ID
	}
	if u.FirebaseUID != original.FirebaseUID {
		if original.FirebaseUID != "" {
			delete(s.usersByFirebaseUID, original.FirebaseUID)
		}
		if u.FirebaseUID != "" {
			s.usersByFirebaseUID[u.FirebaseUID] = u.ID
		}
	}
	return cloneUser(u), nil
}

func (s *Store) GetUser(_ context.Context, id string) (user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return user.User{}, fmt.Errorf("user %s not found: %w", id, storage.ErrNotFound)
	}
	return cloneUser(u), nil
}

func (s *Store) GetUserByEmail(_ context.Context, email string) (user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.usersByEmail[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return user.User{}, fmt.Errorf("user with email %s not found: %w", email, storage.ErrNotFound)
	}
	return cloneUser(s.users[id]), nil
}

func (s *Store) GetUserByFirebaseUID(_ context.Context, uid string) (user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.usersByFirebaseUID[uid]
	if !ok {
		return user.User{}, fmt.Errorf("user with firebase uid %s not found: %w", uid, storage.ErrNotFound)
	}
	return cloneUser(s.users[id]), nil
}

func (s *Store) ListUsers(_ context.Context) ([]user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]user.User, 0, len(s.users))
	for _, u := range s.users {
		result = append(result, cloneUser(u))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (s *Store) DeleteUser(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return fmt.Errorf("user %s not found: %w", id, storage.ErrNotFound)
	}
	delete(s.users, id)
	delete(s.usersByEmail, strings.ToLower(strings.TrimSpace(u.Email)))
	if u.FirebaseUID != "" {
		delete(s.usersByFirebaseUID, u.FirebaseUID)
	}

	// Cascade like the relational schema does.
	for subID, sub := range s.subscriptions {
		if sub.UserID == id {
			delete(s.subscriptions, subID)
		}
	}
	for nID, n := range s.notifications {
		if n.UserID == id {
			delete(s.notifications, nID)
		}
	}
	return nil
}

// SubscriptionStore implementation -------------------------------------------

func (s *Store) CreateSubscriptionType(_ context.Context, st subscription.Type) (subscription.Type, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if st.ID == "" {
		st.ID = uuid.NewString()
	} else if _, exists := s.types[st.ID]; exists {
		return subscription.Type{}, fmt.Errorf("subscription type %s already exists: %w", st.ID, storage.ErrConflict)
	}

	key := strings.ToLower(strings.TrimSpace(st.Key))
	if existing, exists := s.typesByKey[key]; exists {
		return subscription.Type{}, fmt.Errorf("subscription type key %s already used by %s: %w", st.Key, existing, storage.ErrConflict)
	}

	now := time.Now().UTC()
	st.CreatedAt = now
	st.UpdatedAt = now

	s.types[st.ID] = st
	s.typesByKey[key] = st.ID
	return st, nil
}

func (s *Store) UpdateSubscriptionType(_ context.Context, st subscription.Type) (subscription.Type, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.types[st.ID]
	if !ok {
		return subscription.Type{}, fmt.Errorf("subscription type %s not found: %w", st.ID, storage.ErrNotFound)
	}

	oldKey := strings.ToLower(strings.TrimSpace(original.Key))
	newKey := strings.ToLower(strings.TrimSpace(st.Key))
	if newKey != oldKey {
		if existing, exists := s.typesByKey[newKey]; exists && existing != st.ID {
			return subscription.Type{}, fmt.Errorf("subscription type key %s already used by %s: %w", st.Key, existing, storage.ErrConflict)
		}
	}

	st.CreatedAt = original.CreatedAt
	st.UpdatedAt = time.Now().UTC()

	s.types[st.ID] = st
	if newKey != oldKey {
		delete(s.typesByKey, oldKey)
		s.typesByKey[newKey] = st.ID
	}
	return st, nil
}

func (s *Store) GetSubscriptionType(_ context.Context, id string) (subscription.Type, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.types[id]
	if !ok {
		return subscription.Type{}, fmt.Errorf("subscription type %s not found: %w", id, storage.ErrNotFound)
	}
	return st, nil
}

func (s *Store) GetSubscriptionTypeByKey(_ context.Context, key string) (subscription.Type, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.typesByKey[strings.ToLower(strings.TrimSpace(key))]
	if !ok {
		return subscription.Type{}, fmt.Errorf("subscription type with key %s not found: %w", key, storage.ErrNotFound)
	}
	return s.types[id], nil
}

func (s *Store) ListSubscriptionTypes(_ context.Context) ([]subscription.Type, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]subscription.Type, 0, len(s.types))
	for _, st := range s.types {
		result = append(result, st)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Key < result[j].Key })
	return result, nil
}

func (s *Store) DeleteSubscriptionType(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.types[id]
	if !ok {
		return fmt.Errorf("subscription type %s not found: %w", id, storage.ErrNotFound)
	}
	delete(s.types, id)
	delete(s.typesByKey, strings.ToLower(strings.TrimSpace(st.Key)))

	for subID, sub := range s.subscriptions {
		if sub.TypeID == id {
			delete(s.subscriptions, subID)
		}
	}
	return nil
}

func (s *Store) CreateSubscription(_ context.Context, sub subscription.Subscription) (subscription.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sub.ID == "" {
		sub.ID = uuid.NewString()
	} else if _, exists := s.subscriptions[sub.ID]; exists {
		return subscription.Subscription{}, fmt.Errorf("subscription %s already exists: %w", sub.ID, storage.ErrConflict)
	}

	for _, existing := range s.subscriptions {
		if existing.UserID == sub.UserID && existing.TypeID == sub.TypeID && existing.Channel == sub.Channel {
			return subscription.Subscription{}, fmt.Errorf("subscription for user %s type %s channel %s already exists: %w",
				sub.UserID, sub.TypeID, sub.Channel, storage.ErrConflict)
		}
	}

	now := time.Now().UTC()
	sub.CreatedAt = now
	sub.UpdatedAt = now
	sub.Metadata = cloneMap(sub.Metadata)

	s.subscriptions[sub.ID] = sub
	return cloneSubscription(sub), nil
}

func (s *Store) UpdateSubscription(_ context.Context, sub subscription.Subscription) (subscription.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.subscriptions[sub.ID]
	if !ok {
		return subscription.Subscription{}, fmt.Errorf("subscription %s not found: %w", sub.ID, storage.ErrNotFound)
	}

	sub.UserID = original.UserID
	sub.TypeID = original.TypeID
	sub.CreatedAt = original.CreatedAt
	sub.UpdatedAt = time.Now().UTC()
	sub.Metadata = cloneMap(sub.Metadata)

	s.subscriptions[sub.ID] = sub
	return cloneSubscription(sub), nil
}

func (s *Store) GetSubscription(_ context.Context, id string) (subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, ok := s.subscriptions[id]
	if !ok {
		return subscription.Subscription{}, fmt.Errorf("subscription %s not found: %w", id, storage.ErrNotFound)
	}
	return cloneSubscription(sub), nil
}

func (s *Store) GetSubscriptionForUser(_ context.Context, userID, typeID string, channel subscription.Channel) (subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, sub := range s.subscriptions {
		if sub.UserID == userID && sub.TypeID == typeID && sub.Channel == channel {
			return cloneSubscription(sub), nil
		}
	}
	return subscription.Subscription{}, fmt.Errorf("subscription for user %s type %s not found: %w", userID, typeID, storage.ErrNotFound)
}

func (s *Store) ListSubscriptions(_ context.Context, userID string) ([]subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]subscription.Subscription, 0)
	for _, sub := range s.subscriptions {
		if userID == "" || sub.UserID == userID {
			result = append(result, cloneSubscription(sub))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (s *Store) DeleteSubscription(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.subscriptions[id]; !ok {
		return fmt.Errorf("subscription %s not found: %w", id, storage.ErrNotFound)
	}
	delete(s.subscriptions, id)
	return nil
}

// NotificationStore implementation -------------------------------------------

func (s *Store) CreateNotification(_ context.Context, n notification.Notification) (notification.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n.ID == "" {
		n.ID = uuid.NewString()
	} else if _, exists := s.notifications[n.ID]; exists {
		return notification.Notification{}, fmt.Errorf("notification %s already exists: %w", n.ID, storage.ErrConflict)
	}

	if _, ok := s.users[n.UserID]; !ok {
		return notification.Notification{}, fmt.Errorf("user %s not found: %w", n.UserID, storage.ErrNotFound)
	}

	now := time.Now().UTC()
	n.CreatedAt = now
	n.UpdatedAt = now
	if n.EmailStatus == "" {
		n.EmailStatus = notification.EmailPending
	}
	n.Metadata = cloneMap(n.Metadata)

	s.notifications[n.ID] = n
	return cloneNotification(n), nil
}

func (s *Store) UpdateNotification(_ context.Context, n notification.Notification) (notification.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.notifications[n.ID]
	if !ok {
		return notification.Notification{}, fmt.Errorf("notification %s not found: %w", n.ID, storage.ErrNotFound)
	}

	n.UserID = original.UserID
	n.CreatedAt = original.CreatedAt
	n.UpdatedAt = time.Now().UTC()
	n.Metadata = cloneMap(n.Metadata)

	s.notifications[n.ID] = n
	return cloneNotification(n), nil
}

func (s *Store) GetNotification(_ context.Context, id string) (notification.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, ok := s.notifications[id]
	if !ok {
		return notification.Notification{}, fmt.Errorf("notification %s not found: %w", id, storage.ErrNotFound)
	}
	return cloneNotification(n), nil
}

func (s *Store) ListNotifications(_ context.Context, userID string, unreadOnly bool) ([]notification.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]notification.Notification, 0)
	for _, n := range s.notifications {
		if n.UserID != userID {
			continue
		}
		if unreadOnly && n.Read {
			continue
		}
		result = append(result, cloneNotification(n))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	return result, nil
}

func (s *Store) MarkAllRead(_ context.Context, userID string, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	at = at.UTC()
	var count int64
	for id, n := range s.notifications {
		if n.UserID != userID || n.Read {
			continue
		}
		n.Read = true
		readAt := at
		n.ReadAt = &readAt
		n.UpdatedAt = at
		s.notifications[id] = n
		count++
	}
	return count, nil
}

func (s *Store) DeleteNotification(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.notifications[id]; !ok {
		return fmt.Errorf("notification %s not found: %w", id, storage.ErrNotFound)
	}
	delete(s.notifications, id)
	return nil
}

func (s *Store) DeleteReadBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int64
	for id, n := range s.notifications {
		if n.Read && n.CreatedAt.Before(cutoff) {
			delete(s.notifications, id)
			count++
		}
	}
	return count, nil
}

// Helpers --------------------------------------------------------------------

func cloneMap(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	dst := make(map[string]string, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func cloneUser(u user.User) user.User {
	u.Metadata = cloneMap(u.Metadata)
	return u
}

func cloneSubscription(sub subscription.Subscription) subscription.Subscription {
	sub.Metadata = cloneMap(sub.Metadata)
	return sub
}

func cloneNotification(n notification.Notification) notification.Notification {
	n.Metadata = cloneMap(n.Metadata)
	if n.ReadAt != nil {
		readAt := *n.ReadAt
		n.ReadAt = &readAt
	}
	return n
}
