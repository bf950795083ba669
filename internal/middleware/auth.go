// Package middleware provides HTTP middleware for the API server
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/lanternhq/lantern-api/internal/auth"
	"github.com/lanternhq/lantern-api/internal/errors"
	internalhttputil "github.com/lanternhq/lantern-api/internal/httputil"
	"github.com/lanternhq/lantern-api/internal/logging"
)

type contextKey string

// IdentityKey carries the verified auth.Identity in the request context.
const IdentityKey contextKey = "auth_identity"

// Provisioner resolves a verified identity to a local account, creating
// one on first contact. Firebase tokens carry no local user ID, so the
// identity must be completed before handlers see it.
type Provisioner interface {
	ResolveIdentity(ctx context.Context, identity *auth.Identity) (*auth.Identity, error)
}

// AuthMiddleware authenticates requests through a token verifier chain.
// Both legacy shared-secret tokens and Firebase ID tokens arrive on the
// same Authorization header; the chain decides which scheme applies.
type AuthMiddleware struct {
	verifier    auth.TokenVerifier
	sessions    auth.SessionStore
	provisioner Provisioner
	logger      *logging.Logger
	skipPaths   map[string]bool
}

// NewAuthMiddleware creates a new authentication middleware. sessions and
// provisioner may be nil when session revocation or just-in-time account
// creation are not in play (tests, internal tools).
func NewAuthMiddleware(verifier auth.TokenVerifier, sessions auth.SessionStore, provisioner Provisioner, logger *logging.Logger, skipPaths []string) *AuthMiddleware {
	skip := make(map[string]bool)
	for _, path := range skipPaths {
		skip[path] = true
	}

	return &AuthMiddleware{
		verifier:    verifier,
		sessions:    sessions,
		provisioner: provisioner,
		logger:      logger,
		skipPaths:   skip,
	}
}

// Handler returns the middleware handler
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Skip authentication for certain paths
		if m.skipPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		// Extract token from Authorization header
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			m.respondError(w, r, errors.Unauthorized("Missing Authorization header"))
			return
		}

		// Check Bearer prefix
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			m.respondError(w, r, errors.Unauthorized("Invalid Authorization header format"))
			return
		}

		tokenString := parts[1]

		identity, err := m.verifier.Verify(r.Context(), tokenString)
		if err != nil {
			m.logger.WithContext(r.Context()).WithError(err).Warn("Token verification failed")
			m.respondError(w, r, err)
			return
		}

		// Legacy tokens stay valid until expiry unless logout revoked
		// their session.
		if identity.Method == auth.MethodLegacy && m.sessions != nil {
			if _, err := m.sessions.Get(r.Context(), tokenString); err != nil {
				m.logger.LogSecurityEvent(r.Context(), "revoked_token_used", map[string]interface{}{
					"user_id": identity.UserID,
				})
				m.respondError(w, r, errors.InvalidToken(nil))
				return
			}
		}

		if identity.UserID == "" && m.provisioner != nil {
			identity, err = m.provisioner.ResolveIdentity(r.Context(), identity)
			if err != nil {
				m.logger.WithContext(r.Context()).WithError(err).Warn("Identity provisioning failed")
				m.respondError(w, r, err)
				return
			}
		}

		// Add identity to context
		ctx := context.WithValue(r.Context(), IdentityKey, identity)
		ctx = context.WithValue(ctx, logging.UserIDKey, identity.UserID)
		if identity.Role != "" {
			ctx = context.WithValue(ctx, logging.RoleKey, identity.Role)
		}
		ctx = logging.WithTraceID(ctx, logging.GetTraceID(r.Context()))

		m.logger.WithContext(ctx).WithFields(map[string]interface{}{
			"user_id":     identity.UserID,
			"auth_method": identity.Method,
		}).Debug("Authentication successful")

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// respondError sends an error response
func (m *AuthMiddleware) respondError(w http.ResponseWriter, r *http.Request, err error) {
	serviceErr := errors.GetServiceError(err)
	if serviceErr == nil {
		serviceErr = errors.Internal("Authentication failed", err)
	}

	internalhttputil.WriteErrorResponse(w, r, serviceErr.HTTPStatus, string(serviceErr.Code), serviceErr.Message, serviceErr.Details)

	// Log the error
	m.logger.WithContext(r.Context()).WithError(err).WithFields(map[string]interface{}{
		"path":   r.URL.Path,
		"method": r.Method,
		"status": serviceErr.HTTPStatus,
	}).Warn("Authentication failed")
}

// GetIdentity extracts the verified identity from context
func GetIdentity(ctx context.Context) *auth.Identity {
	identity, _ := ctx.Value(IdentityKey).(*auth.Identity)
	return identity
}

// GetUserID extracts user ID from context
func GetUserID(ctx context.Context) string {
	return logging.GetUserID(ctx)
}

// GetUserRole extracts user role from context
func GetUserRole(ctx context.Context) string {
	return logging.GetRole(ctx)
}

// RequireUserID middleware ensures user ID is present in context
func RequireUserID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := GetUserID(r.Context())
		if userID == "" {
			internalhttputil.Unauthorized(w, "")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireRole ensures the caller holds the given role.
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if GetUserID(r.Context()) == "" {
				internalhttputil.Unauthorized(w, "")
				return
			}
			if GetUserRole(r.Context()) != role {
				serviceErr := errors.Forbidden("Insufficient permissions")
				internalhttputil.WriteErrorResponse(w, r, serviceErr.HTTPStatus, string(serviceErr.Code), serviceErr.Message, nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
