// Package subscriptions manages subscription types, per-user subscriptions
// and the email preference resolution the mailer consults before sending.
package subscriptions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lanternhq/lantern-api/internal/app/domain/subscription"
	"github.com/lanternhq/lantern-api/internal/app/storage"
	"github.com/lanternhq/lantern-api/internal/auth"
	"github.com/lanternhq/lantern-api/pkg/logger"
)

// Service manages subscription types and user subscriptions.
type Service struct {
	users  storage.UserStore
	store  storage.SubscriptionStore
	signer *auth.UnsubscribeSigner
	log    *logger.Logger
}

// New constructs a subscription service. signer may be nil when unsubscribe
// links are not issued.
func New(users storage.UserStore, store storage.SubscriptionStore, signer *auth.UnsubscribeSigner, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("subscriptions")
	}
	return &Service{users: users, store: store, signer: signer, log: log}
}

// Subscription type management ------------------------------------------------

// CreateType creates a subscription type.
func (s *Service) CreateType(ctx context.Context, st subscription.Type) (subscription.Type, error) {
	st.Key = normalizeKey(st.Key)
	st.Name = strings.TrimSpace(st.Name)
	if st.Key == "" {
		return subscription.Type{}, fmt.Errorf("key is required")
	}
	if st.Name == "" {
		return subscription.Type{}, fmt.Errorf("name is required")
	}

	created, err := s.store.CreateSubscriptionType(ctx, st)
	if err != nil {
		return subscription.Type{}, err
	}
	s.log.WithField("type_id", created.ID).
		WithField("key", created.Key).
		Info("subscription type created")
	return created, nil
}

// UpdateType updates name, description and default opt-in of a type. The
// key is stable once created: notifications reference it.
func (s *Service) UpdateType(ctx context.Context, id string, name, description *string, defaultOptIn *bool) (subscription.Type, error) {
	st, err := s.store.GetSubscriptionType(ctx, id)
	if err != nil {
		return subscription.Type{}, err
	}

	if name != nil {
		trimmed := strings.TrimSpace(*name)
		if trimmed == "" {
			return subscription.Type{}, fmt.Errorf("name cannot be empty")
		}
		st.Name = trimmed
	}
	if description != nil {
		st.Description = strings.TrimSpace(*description)
	}
	if defaultOptIn != nil {
		st.DefaultOptIn = *defaultOptIn
	}
	st.UpdatedAt = time.Now().UTC()

	updated, err := s.store.UpdateSubscriptionType(ctx, st)
	if err != nil {
		return subscription.Type{}, err
	}
	s.log.WithField("type_id", id).Info("subscription type updated")
	return updated, nil
}

// GetType fetches a type by ID.
func (s *Service) GetType(ctx context.Context, id string) (subscription.Type, error) {
	return s.store.GetSubscriptionType(ctx, id)
}

// ListTypes lists all subscription types.
func (s *Service) ListTypes(ctx context.Context) ([]subscription.Type, error) {
	return s.store.ListSubscriptionTypes(ctx)
}

// DeleteType removes a type and all subscriptions referencing it.
func (s *Service) DeleteType(ctx context.Context, id string) error {
	if err := s.store.DeleteSubscriptionType(ctx, id); err != nil {
		return err
	}
	s.log.WithField("type_id", id).Info("subscription type deleted")
	return nil
}

// User subscriptions ----------------------------------------------------------

// Subscribe creates or reactivates a subscription for a user on a channel.
func (s *Service) Subscribe(ctx context.Context, userID, typeID string, channel subscription.Channel, metadata map[string]string) (subscription.Subscription, error) {
	return s.setSubscription(ctx, userID, typeID, channel, true, metadata)
}

// Unsubscribe records an explicit opt-out, overriding the type default.
func (s *Service) Unsubscribe(ctx context.Context, userID, typeID string, channel subscription.Channel) (subscription.Subscription, error) {
	return s.setSubscription(ctx, userID, typeID, channel, false, nil)
}

func (s *Service) setSubscription(ctx context.Context, userID, typeID string, channel subscription.Channel, active bool, metadata map[string]string) (subscription.Subscription, error) {
	if err := validateChannel(channel); err != nil {
		return subscription.Subscription{}, err
	}
	if _, err := s.users.GetUser(ctx, userID); err != nil {
		return subscription.Subscription{}, fmt.Errorf("user validation failed: %w", err)
	}
	if _, err := s.store.GetSubscriptionType(ctx, typeID); err != nil {
		return subscription.Subscription{}, fmt.Errorf("type validation failed: %w", err)
	}

	existing, err := s.store.GetSubscriptionForUser(ctx, userID, typeID, channel)
	if err == nil {
		existing.Active = active
		if metadata != nil {
			existing.Metadata = metadata
		}
		existing.UpdatedAt = time.Now().UTC()
		updated, err := s.store.UpdateSubscription(ctx, existing)
		if err != nil {
			return subscription.Subscription{}, err
		}
		s.log.WithField("subscription_id", updated.ID).
			WithField("user_id", userID).
			WithField("active", active).
			Info("subscription updated")
		return updated, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return subscription.Subscription{}, err
	}

	created, err := s.store.CreateSubscription(ctx, subscription.Subscription{
		UserID:   userID,
		TypeID:   typeID,
		Channel:  channel,
		Active:   active,
		Metadata: metadata,
	})
	if err != nil {
		return subscription.Subscription{}, err
	}
	s.log.WithField("subscription_id", created.ID).
		WithField("user_id", userID).
		WithField("active", active).
		Info("subscription created")
	return created, nil
}

// SetActive toggles an existing subscription after an ownership check.
func (s *Service) SetActive(ctx context.Context, userID, subscriptionID string, active bool) (subscription.Subscription, error) {
	sub, err := s.store.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return subscription.Subscription{}, err
	}
	if sub.UserID != userID {
		// Do not reveal other users' subscriptions.
		return subscription.Subscription{}, fmt.Errorf("subscription %s: %w", subscriptionID, storage.ErrNotFound)
	}

	sub.Active = active
	sub.UpdatedAt = time.Now().UTC()
	return s.store.UpdateSubscription(ctx, sub)
}

// Get fetches a subscription by ID.
func (s *Service) Get(ctx context.Context, id string) (subscription.Subscription, error) {
	return s.store.GetSubscription(ctx, id)
}

// ListForUser lists a user's subscriptions.
func (s *Service) ListForUser(ctx context.Context, userID string) ([]subscription.Subscription, error) {
	return s.store.ListSubscriptions(ctx, userID)
}

// Delete removes a subscription after an ownership check.
func (s *Service) Delete(ctx context.Context, userID, subscriptionID string) error {
	sub, err := s.store.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return err
	}
	if sub.UserID != userID {
		return fmt.Errorf("subscription %s: %w", subscriptionID, storage.ErrNotFound)
	}
	return s.store.DeleteSubscription(ctx, subscriptionID)
}

// Email preferences -----------------------------------------------------------

// EmailPreference is the resolved email setting for one type.
type EmailPreference struct {
	TypeID          string `json:"type_id"`
	TypeKey         string `json:"type_key"`
	TypeName        string `json:"type_name"`
	Enabled         bool   `json:"enabled"`
	Explicit        bool   `json:"explicit"`
	UnsubscribeLink string `json:"unsubscribe_token,omitempty"`
}

// EmailEnabled resolves whether email delivery applies for a user and type
// key. The user's global opt-out wins; otherwise an explicit subscription
// row decides; otherwise the type default applies.
func (s *Service) EmailEnabled(ctx context.Context, userID, typeKey string) (bool, error) {
	u, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return false, err
	}
	if u.EmailOptOut {
		return false, nil
	}

	st, err := s.store.GetSubscriptionTypeByKey(ctx, normalizeKey(typeKey))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			// Unknown type keys default to no email.
			return false, nil
		}
		return false, err
	}

	sub, err := s.store.GetSubscriptionForUser(ctx, userID, st.ID, subscription.ChannelEmail)
	if err == nil {
		return sub.Active, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return false, err
	}
	return st.DefaultOptIn, nil
}

// EmailPreferences resolves the email setting for every type, with an
// unsubscribe token per enabled type when a signer is configured.
func (s *Service) EmailPreferences(ctx context.Context, userID string) ([]EmailPreference, error) {
	u, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	types, err := s.store.ListSubscriptionTypes(ctx)
	if err != nil {
		return nil, err
	}

	prefs := make([]EmailPreference, 0, len(types))
	for _, st := range types {
		pref := EmailPreference{
			TypeID:   st.ID,
			TypeKey:  st.Key,
			TypeName: st.Name,
			Enabled:  st.DefaultOptIn,
		}

		sub, err := s.store.GetSubscriptionForUser(ctx, userID, st.ID, subscription.ChannelEmail)
		if err == nil {
			pref.Enabled = sub.Active
			pref.Explicit = true
		} else if !errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}

		if u.EmailOptOut {
			pref.Enabled = false
		}
		if pref.Enabled && s.signer != nil {
			pref.UnsubscribeLink = s.signer.Sign(userID, st.Key)
		}
		prefs = append(prefs, pref)
	}
	return prefs, nil
}

// UnsubscribeToken issues a signed unsubscribe token. An empty typeKey
// issues a global opt-out token.
func (s *Service) UnsubscribeToken(userID, typeKey string) (string, error) {
	if s.signer == nil {
		return "", fmt.Errorf("unsubscribe signing not configured")
	}
	return s.signer.Sign(userID, normalizeKey(typeKey)), nil
}

// ApplyUnsubscribeToken honors a one-click unsubscribe token without any
// authenticated caller. A token without a type key opts the user out of
// all email.
func (s *Service) ApplyUnsubscribeToken(ctx context.Context, token string) error {
	if s.signer == nil {
		return fmt.Errorf("unsubscribe signing not configured")
	}
	parsed, err := s.signer.Verify(token)
	if err != nil {
		return err
	}

	u, err := s.users.GetUser(ctx, parsed.UserID)
	if err != nil {
		return err
	}

	if parsed.TypeKey == "" {
		u.EmailOptOut = true
		u.UpdatedAt = time.Now().UTC()
		if _, err := s.users.UpdateUser(ctx, u); err != nil {
			return err
		}
		s.log.WithField("user_id", u.ID).Info("global email opt-out via unsubscribe token")
		return nil
	}

	st, err := s.store.GetSubscriptionTypeByKey(ctx, parsed.TypeKey)
	if err != nil {
		return err
	}
	if _, err := s.Unsubscribe(ctx, u.ID, st.ID, subscription.ChannelEmail); err != nil {
		return err
	}
	s.log.WithField("user_id", u.ID).
		WithField("type_key", st.Key).
		Info("email opt-out via unsubscribe token")
	return nil
}

func validateChannel(channel subscription.Channel) error {
	switch channel {
	case subscription.ChannelEmail, subscription.ChannelWebPush:
		return nil
	default:
		return fmt.Errorf("unsupported channel %q", channel)
	}
}

func normalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}
