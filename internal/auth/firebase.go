package auth

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/tidwall/gjson"

	"github.com/lanternhq/lantern-api/internal/errors"
	"github.com/lanternhq/lantern-api/internal/httputil"
	"github.com/lanternhq/lantern-api/pkg/logger"
)

// Google's public signing certificates for Firebase ID tokens.
const DefaultCertURL = "https://www.googleapis.com/robot/v1/metadata/x509/securetoken@system.gserviceaccount.com"

// Identity Toolkit endpoint used when local verification is not possible.
const DefaultLookupURL = "https://identitytoolkit.googleapis.com/v1/accounts:lookup"

// FirebaseConfig configures Firebase ID token verification.
type FirebaseConfig struct {
	ProjectID string
	CertURL   string
	LookupURL string
	WebAPIKey string
}

// FirebaseVerifier validates Firebase ID tokens. Tokens are verified
// locally against Google's rotating RS256 certificates; if the signing
// certificate cannot be fetched, verification falls back to the remote
// accounts:lookup endpoint.
type FirebaseVerifier struct {
	cfg    FirebaseConfig
	client *httputil.Client
	log    *logger.Logger

	mu          sync.RWMutex
	certs       map[string]*rsa.PublicKey
	certsExpiry time.Time
}

// NewFirebaseVerifier creates a verifier for the given project.
func NewFirebaseVerifier(cfg FirebaseConfig, client *httputil.Client, log *logger.Logger) *FirebaseVerifier {
	if cfg.CertURL == "" {
		cfg.CertURL = DefaultCertURL
	}
	if cfg.LookupURL == "" {
		cfg.LookupURL = DefaultLookupURL
	}
	if client == nil {
		client = httputil.NewClient(httputil.ClientConfig{Timeout: 10 * time.Second})
	}
	if log == nil {
		log = logger.NewDefault("firebase-auth")
	}
	return &FirebaseVerifier{
		cfg:    cfg,
		client: client,
		log:    log,
	}
}

// Verify validates a Firebase ID token and maps it to an Identity.
func (v *FirebaseVerifier) Verify(ctx context.Context, tokenString string) (*Identity, error) {
	identity, err := v.verifyLocal(ctx, tokenString)
	if err == nil {
		return identity, nil
	}

	// Certificate fetch problems are transient; claim-level rejections
	// are not worth a network round trip.
	if svcErr := errors.GetServiceError(err); svcErr != nil && svcErr.Code == errors.CodeInvalidToken {
		return nil, err
	}

	v.log.WithError(err).Warn("Local Firebase verification unavailable, falling back to remote lookup")
	return v.verifyRemote(ctx, tokenString)
}

func (v *FirebaseVerifier) verifyLocal(ctx context.Context, tokenString string) (*Identity, error) {
	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, errors.InvalidToken(nil).WithDetails("method", token.Header["alg"])
		}
		kid, _ := token.Header["kid"].(string)
		if kid == "" {
			return nil, errors.InvalidToken(nil).WithDetails("reason", "missing kid header")
		}
		return v.certificate(ctx, kid)
	},
		jwt.WithIssuer("https://securetoken.google.com/"+v.cfg.ProjectID),
		jwt.WithAudience(v.cfg.ProjectID),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if svcErr := errors.GetServiceError(err); svcErr != nil && svcErr.Code != errors.CodeInvalidToken {
			return nil, err
		}
		return nil, errors.InvalidToken(err)
	}
	if !token.Valid {
		return nil, errors.InvalidToken(nil)
	}

	sub, _ := claims["sub"].(string)
	if sub == "" {
		return nil, errors.InvalidToken(nil).WithDetails("reason", "missing sub claim")
	}
	email, _ := claims["email"].(string)
	verified, _ := claims["email_verified"].(bool)

	return &Identity{
		Email:         email,
		Method:        MethodFirebase,
		FirebaseUID:   sub,
		EmailVerified: verified,
	}, nil
}

// certificate returns the RSA public key for the given key ID, refreshing
// the cached certificate set when it has expired.
func (v *FirebaseVerifier) certificate(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	v.mu.RLock()
	key, ok := v.certs[kid]
	fresh := time.Now().Before(v.certsExpiry)
	v.mu.RUnlock()
	if ok && fresh {
		return key, nil
	}

	if err := v.refreshCerts(ctx); err != nil {
		return nil, err
	}

	v.mu.RLock()
	key, ok = v.certs[kid]
	v.mu.RUnlock()
	if !ok {
		return nil, errors.InvalidToken(nil).WithDetails("reason", "unknown signing key")
	}
	return key, nil
}

func (v *FirebaseVerifier) refreshCerts(ctx context.Context) error {
	resp, err := v.client.Get(ctx, v.cfg.CertURL)
	if err != nil {
		return errors.Unavailable("Failed to fetch signing certificates", err)
	}

	var pemByKID map[string]string
	if err := httputil.DecodeResponse(resp, &pemByKID); err != nil {
		return errors.Unavailable("Failed to decode signing certificates", err)
	}

	certs := make(map[string]*rsa.PublicKey, len(pemByKID))
	for kid, pemData := range pemByKID {
		key, err := parseCertificateKey(pemData)
		if err != nil {
			v.log.WithError(err).WithField("kid", kid).Warn("Skipping unparseable signing certificate")
			continue
		}
		certs[kid] = key
	}
	if len(certs) == 0 {
		return errors.Unavailable("No usable signing certificates", nil)
	}

	v.mu.Lock()
	v.certs = certs
	v.certsExpiry = time.Now().Add(certMaxAge(resp.Header.Get("Cache-Control")))
	v.mu.Unlock()
	return nil
}

func parseCertificateKey(pemData string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, err
	}
	key, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("certificate key is %T, want RSA", cert.PublicKey)
	}
	return key, nil
}

// certMaxAge extracts a cache lifetime from a Cache-Control header.
// Google rotates certificates on the order of hours; a short default
// keeps us correct when the header is absent.
func certMaxAge(cacheControl string) time.Duration {
	for _, directive := range strings.Split(cacheControl, ",") {
		directive = strings.TrimSpace(directive)
		if !strings.HasPrefix(directive, "max-age=") {
			continue
		}
		seconds, err := strconv.Atoi(strings.TrimPrefix(directive, "max-age="))
		if err == nil && seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
	}
	return 5 * time.Minute
}

// verifyRemote asks the Identity Toolkit API to validate the token.
func (v *FirebaseVerifier) verifyRemote(ctx context.Context, tokenString string) (*Identity, error) {
	if v.cfg.WebAPIKey == "" {
		return nil, errors.Unavailable("Token verification unavailable", nil)
	}

	url := v.cfg.LookupURL + "?key=" + v.cfg.WebAPIKey
	resp, err := v.client.Post(ctx, url, map[string]string{"idToken": tokenString})
	if err != nil {
		return nil, errors.Unavailable("Token verification unavailable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		return nil, errors.InvalidToken(fmt.Errorf("accounts:lookup returned %d", resp.StatusCode))
	}

	body, err := httputil.ReadAllStrict(resp.Body, 1<<20)
	if err != nil {
		return nil, errors.Unavailable("Token verification unavailable", err)
	}

	user := gjson.GetBytes(body, "users.0")
	if !user.Exists() {
		return nil, errors.InvalidToken(nil)
	}
	uid := user.Get("localId").String()
	if uid == "" {
		return nil, errors.InvalidToken(nil)
	}
	if user.Get("disabled").Bool() {
		return nil, errors.Forbidden("Account is disabled")
	}

	return &Identity{
		Email:         user.Get("email").String(),
		Method:        MethodFirebase,
		FirebaseUID:   uid,
		EmailVerified: user.Get("emailVerified").Bool(),
	}, nil
}
