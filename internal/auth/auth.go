// Package auth verifies bearer tokens from both supported identity
// providers and exposes a single Identity to the rest of the service.
package auth

import (
	"context"

	"github.com/lanternhq/lantern-api/internal/errors"
)

// Auth methods reported on Identity.Method.
const (
	MethodLegacy   = "legacy"
	MethodFirebase = "firebase"
)

// Identity is the provider-independent result of token verification.
type Identity struct {
	UserID        string
	Email         string
	Role          string
	Method        string
	FirebaseUID   string
	EmailVerified bool
}

// TokenVerifier validates a bearer token and resolves the caller's identity.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*Identity, error)
}

// ChainVerifier tries each verifier in order and returns the first identity
// that validates. Order matters: cheaper local verification should come
// before verifiers that may hit the network.
type ChainVerifier struct {
	verifiers []TokenVerifier
}

// NewChainVerifier creates a verifier chain. Nil entries are skipped.
func NewChainVerifier(verifiers ...TokenVerifier) *ChainVerifier {
	chain := &ChainVerifier{}
	for _, v := range verifiers {
		if v != nil {
			chain.verifiers = append(chain.verifiers, v)
		}
	}
	return chain
}

// Verify tries each verifier in order.
func (c *ChainVerifier) Verify(ctx context.Context, token string) (*Identity, error) {
	var lastErr error
	for _, v := range c.verifiers {
		identity, err := v.Verify(ctx, token)
		if err == nil {
			return identity, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = errors.InvalidToken(nil)
	}
	return nil, lastErr
}
