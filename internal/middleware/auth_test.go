package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lanternhq/lantern-api/internal/auth"
	"github.com/lanternhq/lantern-api/internal/errors"
	"github.com/lanternhq/lantern-api/internal/logging"
)

func newTestVerifier(t *testing.T) *auth.LegacyVerifier {
	t.Helper()
	return auth.NewLegacyVerifier("test-secret", time.Hour)
}

func issueTestToken(t *testing.T, verifier *auth.LegacyVerifier, userID, role string) string {
	t.Helper()
	token, err := verifier.Issue(userID, "test@example.com", role)
	if err != nil {
		t.Fatalf("Failed to issue token: %v", err)
	}
	return token
}

func TestNewAuthMiddleware(t *testing.T) {
	verifier := newTestVerifier(t)
	logger := logging.New("test", "info", "json")
	skipPaths := []string{"/health", "/metrics"}

	middleware := NewAuthMiddleware(verifier, nil, nil, logger, skipPaths)

	if middleware == nil {
		t.Fatal("NewAuthMiddleware() returned nil")
	}

	if middleware.logger != logger {
		t.Error("logger not set correctly")
	}

	if len(middleware.skipPaths) != 2 {
		t.Errorf("skipPaths length = %d, want 2", len(middleware.skipPaths))
	}

	if !middleware.skipPaths["/health"] {
		t.Error("skipPaths does not contain /health")
	}
}

func TestAuthMiddleware_Handler_SkipPaths(t *testing.T) {
	verifier := newTestVerifier(t)
	logger := logging.New("test", "info", "json")
	skipPaths := []string{"/health"}

	middleware := NewAuthMiddleware(verifier, nil, nil, logger, skipPaths)

	handler := middleware.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/health", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("Status code = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestAuthMiddleware_Handler_MissingAuthHeader(t *testing.T) {
	verifier := newTestVerifier(t)
	logger := logging.New("test", "info", "json")

	middleware := NewAuthMiddleware(verifier, nil, nil, logger, nil)

	handler := middleware.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/api/test", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("Status code = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestAuthMiddleware_Handler_InvalidAuthHeaderFormat(t *testing.T) {
	verifier := newTestVerifier(t)
	logger := logging.New("test", "info", "json")

	middleware := NewAuthMiddleware(verifier, nil, nil, logger, nil)

	handler := middleware.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name   string
		header string
	}{
		{"no bearer prefix", "token123"},
		{"wrong prefix", "Basic token123"},
		{"empty token", "Bearer "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/api/test", nil)
			req.Header.Set("Authorization", tt.header)
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			if rec.Code != http.StatusUnauthorized {
				t.Errorf("Status code = %d, want %d", rec.Code, http.StatusUnauthorized)
			}
		})
	}
}

func TestAuthMiddleware_Handler_ValidToken(t *testing.T) {
	verifier := newTestVerifier(t)
	logger := logging.New("test", "info", "json")

	middleware := NewAuthMiddleware(verifier, nil, nil, logger, nil)

	var capturedUserID string
	var capturedIdentity *auth.Identity
	handler := middleware.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capturedUserID = GetUserID(r.Context())
		capturedIdentity = GetIdentity(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	token := issueTestToken(t, verifier, "user-123", "member")

	req := httptest.NewRequest("GET", "/api/test", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("Status code = %d, want %d", rec.Code, http.StatusOK)
	}

	if capturedUserID != "user-123" {
		t.Errorf("User ID = %v, want user-123", capturedUserID)
	}
	if capturedIdentity == nil || capturedIdentity.Method != auth.MethodLegacy {
		t.Errorf("Identity = %+v, want legacy identity", capturedIdentity)
	}
}

func TestAuthMiddleware_Handler_ExpiredToken(t *testing.T) {
	expiredIssuer := auth.NewLegacyVerifier("test-secret", -time.Hour)
	verifier := newTestVerifier(t)
	logger := logging.New("test", "info", "json")

	middleware := NewAuthMiddleware(verifier, nil, nil, logger, nil)

	handler := middleware.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	token := issueTestToken(t, expiredIssuer, "user-123", "member")

	req := httptest.NewRequest("GET", "/api/test", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("Status code = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestAuthMiddleware_Handler_InvalidToken(t *testing.T) {
	verifier := newTestVerifier(t)
	logger := logging.New("test", "info", "json")

	middleware := NewAuthMiddleware(verifier, nil, nil, logger, nil)

	handler := middleware.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/api/test", nil)
	req.Header.Set("Authorization", "Bearer invalid.token.here")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("Status code = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestAuthMiddleware_Handler_RevokedSession(t *testing.T) {
	verifier := newTestVerifier(t)
	logger := logging.New("test", "info", "json")
	sessions := auth.NewMemorySessionStore()

	middleware := NewAuthMiddleware(verifier, sessions, nil, logger, nil)

	handler := middleware.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	token := issueTestToken(t, verifier, "user-123", "member")

	// No session saved for the token: treated as revoked.
	req := httptest.NewRequest("GET", "/api/test", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("Status code = %d, want %d", rec.Code, http.StatusUnauthorized)
	}

	// With an active session the same token passes.
	err := sessions.Save(context.Background(), token, auth.Session{
		UserID:    "user-123",
		ExpiresAt: time.Now().Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("save session: %v", err)
	}

	rec = httptest.NewRecorder()
	req = httptest.NewRequest("GET", "/api/test", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("Status code = %d, want %d", rec.Code, http.StatusOK)
	}
}

type staticProvisioner struct {
	userID string
	err    error
}

func (p *staticProvisioner) ResolveIdentity(_ context.Context, identity *auth.Identity) (*auth.Identity, error) {
	if p.err != nil {
		return nil, p.err
	}
	resolved := *identity
	resolved.UserID = p.userID
	resolved.Role = "member"
	return &resolved, nil
}

type staticTokenVerifier struct {
	identity *auth.Identity
	err      error
}

func (v *staticTokenVerifier) Verify(context.Context, string) (*auth.Identity, error) {
	return v.identity, v.err
}

func TestAuthMiddleware_Handler_ProvisionsFirebaseIdentity(t *testing.T) {
	logger := logging.New("test", "info", "json")
	verifier := &staticTokenVerifier{identity: &auth.Identity{
		Method:      auth.MethodFirebase,
		FirebaseUID: "fb-1",
		Email:       "new@example.com",
	}}
	provisioner := &staticProvisioner{userID: "user-777"}

	middleware := NewAuthMiddleware(verifier, nil, provisioner, logger, nil)

	var capturedUserID string
	handler := middleware.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capturedUserID = GetUserID(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/api/test", nil)
	req.Header.Set("Authorization", "Bearer some-firebase-token")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("Status code = %d, want %d", rec.Code, http.StatusOK)
	}
	if capturedUserID != "user-777" {
		t.Errorf("User ID = %q, want user-777", capturedUserID)
	}
}

func TestAuthMiddleware_Handler_ProvisioningFailure(t *testing.T) {
	logger := logging.New("test", "info", "json")
	verifier := &staticTokenVerifier{identity: &auth.Identity{
		Method:      auth.MethodFirebase,
		FirebaseUID: "fb-1",
	}}
	provisioner := &staticProvisioner{err: errors.Forbidden("Account is disabled")}

	middleware := NewAuthMiddleware(verifier, nil, provisioner, logger, nil)

	handler := middleware.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/api/test", nil)
	req.Header.Set("Authorization", "Bearer some-firebase-token")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("Status code = %d, want %d", rec.Code, http.StatusForbidden)
	}
}

func TestGetUserID(t *testing.T) {
	tests := []struct {
		name string
		ctx  context.Context
		want string
	}{
		{
			name: "with user ID",
			ctx:  logging.WithUserID(context.Background(), "user-123"),
			want: "user-123",
		},
		{
			name: "without user ID",
			ctx:  context.Background(),
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetUserID(tt.ctx); got != tt.want {
				t.Errorf("GetUserID() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRequireUserID(t *testing.T) {
	handler := RequireUserID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name       string
		ctx        context.Context
		wantStatus int
	}{
		{
			name:       "with user ID",
			ctx:        logging.WithUserID(context.Background(), "user-123"),
			wantStatus: http.StatusOK,
		},
		{
			name:       "without user ID",
			ctx:        context.Background(),
			wantStatus: http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/api/test", nil)
			req = req.WithContext(tt.ctx)
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("Status code = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}

func TestRequireRole(t *testing.T) {
	handler := RequireRole("admin")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name       string
		ctx        context.Context
		wantStatus int
	}{
		{
			name: "admin caller",
			ctx: logging.WithRole(
				logging.WithUserID(context.Background(), "user-123"), "admin"),
			wantStatus: http.StatusOK,
		},
		{
			name: "member caller",
			ctx: logging.WithRole(
				logging.WithUserID(context.Background(), "user-123"), "member"),
			wantStatus: http.StatusForbidden,
		},
		{
			name:       "anonymous caller",
			ctx:        context.Background(),
			wantStatus: http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/api/test", nil)
			req = req.WithContext(tt.ctx)
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("Status code = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}

func TestAuthMiddleware_Handler_PreservesTraceID(t *testing.T) {
	verifier := newTestVerifier(t)
	logger := logging.New("test", "info", "json")

	middleware := NewAuthMiddleware(verifier, nil, nil, logger, nil)

	var capturedTraceID string
	handler := middleware.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capturedTraceID = logging.GetTraceID(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	token := issueTestToken(t, verifier, "user-123", "member")

	req := httptest.NewRequest("GET", "/api/test", nil)
	ctx := logging.WithTraceID(req.Context(), "trace-456")
	req = req.WithContext(ctx)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("Status code = %d, want %d", rec.Code, http.StatusOK)
	}

	if capturedTraceID != "trace-456" {
		t.Errorf("Trace ID = %v, want trace-456", capturedTraceID)
	}
}
