// Package users manages accounts for both authentication schemes: legacy
// password accounts and Firebase-backed accounts provisioned on first use.
package users

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/lanternhq/lantern-api/internal/app/domain/user"
	"github.com/lanternhq/lantern-api/internal/app/storage"
	"github.com/lanternhq/lantern-api/internal/auth"
	"github.com/lanternhq/lantern-api/pkg/logger"
)

// Service manages user records.
type Service struct {
	store storage.UserStore
	log   *logger.Logger
}

// New constructs a user service.
func New(store storage.UserStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("users")
	}
	return &Service{store: store, log: log}
}

// Register creates a legacy password account.
func (s *Service) Register(ctx context.Context, email, password, displayName string) (user.User, error) {
	email = normalizeEmail(email)
	if email == "" || !strings.Contains(email, "@") {
		return user.User{}, fmt.Errorf("a valid email is required")
	}
	if len(password) < 8 {
		return user.User{}, fmt.Errorf("password must be at least 8 characters")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return user.User{}, fmt.Errorf("hash password: %w", err)
	}

	created, err := s.store.CreateUser(ctx, user.User{
		Email:         email,
		DisplayName:   strings.TrimSpace(displayName),
		Role:          user.RoleMember,
		AuthProvider:  user.ProviderLegacy,
		PasswordHash:  string(hash),
		EmailVerified: false,
	})
	if err != nil {
		return user.User{}, err
	}
	s.log.WithField("user_id", created.ID).Info("user registered")
	return created, nil
}

// Authenticate checks a legacy password credential.
func (s *Service) Authenticate(ctx context.Context, email, password string) (user.User, error) {
	u, err := s.store.GetUserByEmail(ctx, normalizeEmail(email))
	if err != nil {
		// A uniform failure hides whether the account exists.
		return user.User{}, fmt.Errorf("invalid email or password")
	}
	if u.Disabled {
		return user.User{}, fmt.Errorf("account is disabled")
	}
	if u.PasswordHash == "" {
		return user.User{}, fmt.Errorf("invalid email or password")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return user.User{}, fmt.Errorf("invalid email or password")
	}
	return u, nil
}

// ResolveIdentity completes a verified identity with the local account,
// creating one on first contact for Firebase users.
func (s *Service) ResolveIdentity(ctx context.Context, identity *auth.Identity) (*auth.Identity, error) {
	if identity.UserID != "" {
		return identity, nil
	}
	if identity.FirebaseUID == "" {
		return nil, fmt.Errorf("identity carries no user reference")
	}

	u, err := s.store.GetUserByFirebaseUID(ctx, identity.FirebaseUID)
	if err != nil {
		u, err = s.provisionFirebaseUser(ctx, identity)
		if err != nil {
			return nil, err
		}
	}
	if u.Disabled {
		return nil, fmt.Errorf("account is disabled")
	}

	resolved := *identity
	resolved.UserID = u.ID
	resolved.Role = string(u.Role)
	if resolved.Email == "" {
		resolved.Email = u.Email
	}
	return &resolved, nil
}

// provisionFirebaseUser creates an account for a first-time Firebase
// identity. If an account with the same email already exists it is linked
// instead of duplicated.
func (s *Service) provisionFirebaseUser(ctx context.Context, identity *auth.Identity) (user.User, error) {
	email := normalizeEmail(identity.Email)

	if email != "" {
		existing, err := s.store.GetUserByEmail(ctx, email)
		if err == nil {
			existing.FirebaseUID = identity.FirebaseUID
			existing.EmailVerified = existing.EmailVerified || identity.EmailVerified
			linked, err := s.store.UpdateUser(ctx, existing)
			if err != nil {
				return user.User{}, err
			}
			s.log.WithField("user_id", linked.ID).Info("linked existing account to firebase identity")
			return linked, nil
		}
	}

	created, err := s.store.CreateUser(ctx, user.User{
		Email:         email,
		Role:          user.RoleMember,
		AuthProvider:  user.ProviderFirebase,
		FirebaseUID:   identity.FirebaseUID,
		EmailVerified: identity.EmailVerified,
	})
	if err != nil {
		return user.User{}, err
	}
	s.log.WithField("user_id", created.ID).Info("provisioned firebase user")
	return created, nil
}

// EnsureAdmin creates the bootstrap admin account if it does not exist.
func (s *Service) EnsureAdmin(ctx context.Context, email, password string) error {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil
	}

	if _, err := s.store.GetUserByEmail(ctx, email); err == nil {
		return nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}
	created, err := s.store.CreateUser(ctx, user.User{
		Email:         email,
		Role:          user.RoleAdmin,
		AuthProvider:  user.ProviderLegacy,
		PasswordHash:  string(hash),
		EmailVerified: true,
	})
	if err != nil {
		return err
	}
	s.log.WithField("user_id", created.ID).Info("bootstrap admin created")
	return nil
}

// Get fetches a user by ID.
func (s *Service) Get(ctx context.Context, id string) (user.User, error) {
	return s.store.GetUser(ctx, id)
}

// List lists all users.
func (s *Service) List(ctx context.Context) ([]user.User, error) {
	return s.store.ListUsers(ctx)
}

// UpdateParams carries optional user fields for Update. Nil means keep.
type UpdateParams struct {
	DisplayName *string
	EmailOptOut *bool
	Disabled    *bool
	Role        *user.Role
	Metadata    map[string]string
}

// Update applies partial changes to a user.
func (s *Service) Update(ctx context.Context, id string, params UpdateParams) (user.User, error) {
	u, err := s.store.GetUser(ctx, id)
	if err != nil {
		return user.User{}, err
	}

	if params.DisplayName != nil {
		u.DisplayName = strings.TrimSpace(*params.DisplayName)
	}
	if params.EmailOptOut != nil {
		u.EmailOptOut = *params.EmailOptOut
	}
	if params.Disabled != nil {
		u.Disabled = *params.Disabled
	}
	if params.Role != nil {
		switch *params.Role {
		case user.RoleMember, user.RoleAdmin:
			u.Role = *params.Role
		default:
			return user.User{}, fmt.Errorf("unsupported role %q", *params.Role)
		}
	}
	if params.Metadata != nil {
		u.Metadata = params.Metadata
	}
	u.UpdatedAt = time.Now().UTC()

	updated, err := s.store.UpdateUser(ctx, u)
	if err != nil {
		return user.User{}, err
	}
	s.log.WithField("user_id", id).Info("user updated")
	return updated, nil
}

// SetEmailOptOut flips the user's global email preference.
func (s *Service) SetEmailOptOut(ctx context.Context, id string, optOut bool) (user.User, error) {
	return s.Update(ctx, id, UpdateParams{EmailOptOut: &optOut})
}

// Delete removes a user and, through the store, all dependent records.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.store.DeleteUser(ctx, id); err != nil {
		return err
	}
	s.log.WithField("user_id", id).Info("user deleted")
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
