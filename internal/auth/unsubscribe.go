package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lanternhq/lantern-api/internal/errors"
)

// UnsubscribeToken identifies a one-click unsubscribe request. The token
// is embedded in outgoing email and must be honored without a login.
type UnsubscribeToken struct {
	UserID  string
	TypeKey string
	Expires time.Time
}

// UnsubscribeSigner signs and verifies unsubscribe tokens with HMAC-SHA256.
type UnsubscribeSigner struct {
	secret []byte
	maxAge time.Duration
}

// NewUnsubscribeSigner creates a signer. maxAge bounds the lifetime of
// issued tokens.
func NewUnsubscribeSigner(secret string, maxAge time.Duration) *UnsubscribeSigner {
	if maxAge <= 0 {
		maxAge = 30 * 24 * time.Hour
	}
	return &UnsubscribeSigner{secret: []byte(secret), maxAge: maxAge}
}

// Sign issues a token for the given user and subscription type. An empty
// typeKey signs a global opt-out token.
func (s *UnsubscribeSigner) Sign(userID, typeKey string) string {
	expires := time.Now().Add(s.maxAge).Unix()
	payload := fmt.Sprintf("%s|%s|%d", userID, typeKey, expires)
	return base64.RawURLEncoding.EncodeToString([]byte(payload)) + "." +
		base64.RawURLEncoding.EncodeToString(s.mac(payload))
}

// Verify checks the token's signature and expiry.
func (s *UnsubscribeSigner) Verify(token string) (*UnsubscribeToken, error) {
	payloadPart, macPart, ok := strings.Cut(token, ".")
	if !ok {
		return nil, errors.InvalidToken(nil)
	}

	payload, err := base64.RawURLEncoding.DecodeString(payloadPart)
	if err != nil {
		return nil, errors.InvalidToken(err)
	}
	gotMAC, err := base64.RawURLEncoding.DecodeString(macPart)
	if err != nil {
		return nil, errors.InvalidToken(err)
	}

	if !hmac.Equal(gotMAC, s.mac(string(payload))) {
		return nil, errors.InvalidToken(nil)
	}

	fields := strings.Split(string(payload), "|")
	if len(fields) != 3 {
		return nil, errors.InvalidToken(nil)
	}
	expires, err := strconv.ParseInt(fields[2], 10, 64)
	if err != nil {
		return nil, errors.InvalidToken(err)
	}
	if time.Now().Unix() > expires {
		return nil, errors.InvalidToken(fmt.Errorf("token expired"))
	}
	if fields[0] == "" {
		return nil, errors.InvalidToken(nil)
	}

	return &UnsubscribeToken{
		UserID:  fields[0],
		TypeKey: fields[1],
		Expires: time.Unix(expires, 0),
	}, nil
}

func (s *UnsubscribeSigner) mac(payload string) []byte {
	h := hmac.New(sha256.New, s.secret)
	h.Write([]byte(payload))
	return h.Sum(nil)
}
