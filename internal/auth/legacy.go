package auth

import (
	"context"
	"time"

	jwt "github.com/dgrijalva/jwt-go"

	"github.com/lanternhq/lantern-api/internal/errors"
)

// LegacyClaims is the claim set carried by tokens issued before the
// Firebase migration. Existing clients still present these tokens, so
// both the claim layout and the HS256 signing scheme are frozen.
type LegacyClaims struct {
	UserID string `json:"user_id"`
	Email  string `json:"email,omitempty"`
	Role   string `json:"role,omitempty"`
	jwt.StandardClaims
}

// LegacyVerifier issues and verifies HS256 tokens signed with a shared
// secret. It remains the issuing side for password-based logins.
type LegacyVerifier struct {
	secret   []byte
	tokenTTL time.Duration
	issuer   string
}

// NewLegacyVerifier creates a verifier for the shared-secret token scheme.
func NewLegacyVerifier(secret string, tokenTTL time.Duration) *LegacyVerifier {
	if tokenTTL <= 0 {
		tokenTTL = 24 * time.Hour
	}
	return &LegacyVerifier{
		secret:   []byte(secret),
		tokenTTL: tokenTTL,
		issuer:   "lantern",
	}
}

// Issue signs a new token for the given user.
func (v *LegacyVerifier) Issue(userID, email, role string) (string, error) {
	now := time.Now()
	claims := &LegacyClaims{
		UserID: userID,
		Email:  email,
		Role:   role,
		StandardClaims: jwt.StandardClaims{
			Issuer:    v.issuer,
			Subject:   userID,
			IssuedAt:  now.Unix(),
			ExpiresAt: now.Add(v.tokenTTL).Unix(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(v.secret)
	if err != nil {
		return "", errors.Internal("Failed to sign token", err)
	}
	return signed, nil
}

// Verify parses and validates a legacy token.
func (v *LegacyVerifier) Verify(_ context.Context, tokenString string) (*Identity, error) {
	claims := &LegacyClaims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.InvalidToken(nil).WithDetails("method", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, errors.InvalidToken(err)
	}
	if !token.Valid {
		return nil, errors.InvalidToken(nil)
	}
	if claims.UserID == "" {
		return nil, errors.InvalidToken(nil).WithDetails("reason", "missing user_id claim")
	}

	return &Identity{
		UserID:        claims.UserID,
		Email:         claims.Email,
		Role:          claims.Role,
		Method:        MethodLegacy,
		EmailVerified: true,
	}, nil
}
