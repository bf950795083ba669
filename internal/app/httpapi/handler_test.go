package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	app "github.com/lanternhq/lantern-api/internal/app"
	"github.com/lanternhq/lantern-api/internal/app/domain/notification"
	"github.com/lanternhq/lantern-api/internal/auth"
	"github.com/lanternhq/lantern-api/internal/logging"
)

const (
	testAdminEmail  = "admin@example.com"
	testAdminPass   = "admin-pass-123"
	testMemberEmail = "alice@example.com"
	testMemberPass  = "member-pass-123"
)

func newTestHandler(t *testing.T) (http.Handler, *app.Application) {
	t.Helper()

	signer := auth.NewUnsubscribeSigner("unsub-secret", time.Hour)
	application, err := app.New(app.Stores{}, app.Options{Signer: signer}, nil)
	if err != nil {
		t.Fatalf("new application: %v", err)
	}
	if err := application.Start(context.Background()); err != nil {
		t.Fatalf("start application: %v", err)
	}
	t.Cleanup(func() { _ = application.Stop(context.Background()) })

	if err := application.Users.EnsureAdmin(context.Background(), testAdminEmail, testAdminPass); err != nil {
		t.Fatalf("ensure admin: %v", err)
	}

	legacy := auth.NewLegacyVerifier("handler-test-secret", time.Hour)
	handler := NewHandler(application, Config{
		Legacy:   legacy,
		Verifier: auth.NewChainVerifier(legacy),
		Sessions: application.Sessions,
		Log:      logging.NewNop(),
	})
	return handler, application
}

func doRequest(t *testing.T, handler http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(buf)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	return resp
}

func decodeBody(t *testing.T, resp *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(resp.Body.Bytes(), &out); err != nil {
		t.Fatalf("unmarshal response %q: %v", resp.Body.String(), err)
	}
	return out
}

func TestHandlerLifecycle(t *testing.T) {
	handler, application := newTestHandler(t)

	login := doRequest(t, handler, http.MethodPost, "/auth/login", "", map[string]any{
		"email": testAdminEmail, "password": testAdminPass,
	})
	if login.Code != http.StatusOK {
		t.Fatalf("expected 200 admin login, got %d: %s", login.Code, login.Body.String())
	}
	adminToken := decodeBody(t, login)["token"].(string)

	register := doRequest(t, handler, http.MethodPost, "/auth/register", "", map[string]any{
		"email": testMemberEmail, "password": testMemberPass, "display_name": "Alice",
	})
	if register.Code != http.StatusCreated {
		t.Fatalf("expected 201 register, got %d: %s", register.Code, register.Body.String())
	}
	registered := decodeBody(t, register)
	memberToken := registered["token"].(string)
	memberID := registered["user"].(map[string]any)["id"].(string)

	me := doRequest(t, handler, http.MethodGet, "/auth/me", memberToken, nil)
	if me.Code != http.StatusOK {
		t.Fatalf("expected 200 me, got %d", me.Code)
	}
	if got := decodeBody(t, me)["email"]; got != testMemberEmail {
		t.Fatalf("expected me email %s, got %v", testMemberEmail, got)
	}

	resp := doRequest(t, handler, http.MethodPost, "/subscription-types", adminToken, map[string]any{
		"key": "weekly-digest", "name": "Weekly digest", "default_opt_in": true,
	})
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201 create type, got %d: %s", resp.Code, resp.Body.String())
	}
	typeID := decodeBody(t, resp)["id"].(string)

	resp = doRequest(t, handler, http.MethodPost, "/subscription-types", memberToken, map[string]any{
		"key": "forbidden", "name": "Forbidden",
	})
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403 member create type, got %d", resp.Code)
	}

	resp = doRequest(t, handler, http.MethodGet, "/subscription-types", memberToken, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 list types, got %d", resp.Code)
	}

	resp = doRequest(t, handler, http.MethodPost, "/users/"+memberID+"/subscriptions", memberToken, map[string]any{
		"type_id": typeID, "channel": "email",
	})
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201 subscribe, got %d: %s", resp.Code, resp.Body.String())
	}
	subID := decodeBody(t, resp)["id"].(string)

	resp = doRequest(t, handler, http.MethodPatch, "/users/"+memberID+"/subscriptions/"+subID, memberToken, map[string]any{
		"active": false,
	})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 patch subscription, got %d", resp.Code)
	}
	if active := decodeBody(t, resp)["active"]; active != false {
		t.Fatalf("expected inactive subscription, got %v", active)
	}

	resp = doRequest(t, handler, http.MethodGet, "/preferences/email", memberToken, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 preferences, got %d", resp.Code)
	}
	prefs := decodeBody(t, resp)
	if prefs["email_opt_out"] != false {
		t.Fatalf("expected opt-out false, got %v", prefs["email_opt_out"])
	}

	resp = doRequest(t, handler, http.MethodPut, "/preferences/email", memberToken, map[string]any{
		"types": []map[string]any{{"type_id": typeID, "enabled": true}},
	})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 put preferences, got %d: %s", resp.Code, resp.Body.String())
	}

	resp = doRequest(t, handler, http.MethodPost, "/users/"+memberID+"/notifications", adminToken, map[string]any{
		"type_key": "weekly-digest", "title": "Your digest", "body": "Hello",
	})
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201 create notification, got %d: %s", resp.Code, resp.Body.String())
	}
	notifID := decodeBody(t, resp)["id"].(string)

	resp = doRequest(t, handler, http.MethodPost, "/users/"+memberID+"/notifications", memberToken, map[string]any{
		"type_key": "weekly-digest", "title": "Not allowed",
	})
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403 member create notification, got %d", resp.Code)
	}

	resp = doRequest(t, handler, http.MethodGet, "/users/"+memberID+"/notifications?unread=true", memberToken, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 list notifications, got %d", resp.Code)
	}
	var list []map[string]any
	if err := json.Unmarshal(resp.Body.Bytes(), &list); err != nil {
		t.Fatalf("unmarshal notifications: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 unread notification, got %d", len(list))
	}

	resp = doRequest(t, handler, http.MethodPut, "/users/"+memberID+"/notifications/"+notifID+"/read", memberToken, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 mark read, got %d", resp.Code)
	}
	if read := decodeBody(t, resp)["read"]; read != true {
		t.Fatalf("expected read true, got %v", read)
	}

	resp = doRequest(t, handler, http.MethodPut, "/users/"+memberID+"/notifications/read-all", memberToken, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 read-all, got %d", resp.Code)
	}

	resp = doRequest(t, handler, http.MethodDelete, "/users/"+memberID+"/notifications/"+notifID, memberToken, nil)
	if resp.Code != http.StatusNoContent {
		t.Fatalf("expected 204 delete notification, got %d", resp.Code)
	}

	resp = doRequest(t, handler, http.MethodGet, "/users/"+memberID+"/notifications/"+notifID, memberToken, nil)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", resp.Code)
	}

	token, err := application.Subscriptions.UnsubscribeToken(memberID, "weekly-digest")
	if err != nil {
		t.Fatalf("unsubscribe token: %v", err)
	}
	resp = doRequest(t, handler, http.MethodPost, "/preferences/email/unsubscribe", "", map[string]any{
		"token": token,
	})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 unsubscribe, got %d: %s", resp.Code, resp.Body.String())
	}
	enabled, err := application.Subscriptions.EmailEnabled(context.Background(), memberID, "weekly-digest")
	if err != nil {
		t.Fatalf("email enabled: %v", err)
	}
	if enabled {
		t.Fatalf("expected email disabled after unsubscribe")
	}

	resp = doRequest(t, handler, http.MethodPost, "/auth/logout", memberToken, nil)
	if resp.Code != http.StatusNoContent {
		t.Fatalf("expected 204 logout, got %d", resp.Code)
	}
	resp = doRequest(t, handler, http.MethodGet, "/auth/me", memberToken, nil)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 after logout, got %d", resp.Code)
	}
}

func TestHandlerOwnership(t *testing.T) {
	handler, _ := newTestHandler(t)

	register := doRequest(t, handler, http.MethodPost, "/auth/register", "", map[string]any{
		"email": testMemberEmail, "password": testMemberPass,
	})
	if register.Code != http.StatusCreated {
		t.Fatalf("expected 201 register, got %d", register.Code)
	}
	memberToken := decodeBody(t, register)["token"].(string)

	other := doRequest(t, handler, http.MethodPost, "/auth/register", "", map[string]any{
		"email": "bob@example.com", "password": "another-pass-123",
	})
	otherID := decodeBody(t, other)["user"].(map[string]any)["id"].(string)

	resp := doRequest(t, handler, http.MethodGet, "/users/"+otherID+"/notifications", memberToken, nil)
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403 foreign notifications, got %d", resp.Code)
	}

	resp = doRequest(t, handler, http.MethodGet, "/users/"+otherID, memberToken, nil)
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403 foreign user, got %d", resp.Code)
	}

	resp = doRequest(t, handler, http.MethodGet, "/users", memberToken, nil)
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403 member list users, got %d", resp.Code)
	}

	resp = doRequest(t, handler, http.MethodPatch, "/users/"+otherID, memberToken, map[string]any{
		"display_name": "hijack",
	})
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403 foreign patch, got %d", resp.Code)
	}
}

func TestHandlerAuthRequired(t *testing.T) {
	handler, _ := newTestHandler(t)

	resp := doRequest(t, handler, http.MethodGet, "/users", "", nil)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.Code)
	}

	resp = doRequest(t, handler, http.MethodGet, "/auth/me", "not-a-token", nil)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 bad token, got %d", resp.Code)
	}

	resp = doRequest(t, handler, http.MethodGet, "/healthz", "", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 health, got %d", resp.Code)
	}
}

func TestOpsHandler(t *testing.T) {
	audit := NewAuditLog(10, nil)
	audit.Add(AuditEntry{User: "u1", Method: http.MethodGet, Path: "/users", Status: 200})

	ops := NewOpsHandler(nil, audit)

	for _, path := range []string{"/healthz", "/readyz", "/system"} {
		resp := httptest.NewRecorder()
		ops.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, path, nil))
		if resp.Code != http.StatusOK {
			t.Fatalf("expected 200 for %s, got %d", path, resp.Code)
		}
	}

	resp := httptest.NewRecorder()
	ops.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 metrics, got %d", resp.Code)
	}
	if resp.Body.Len() == 0 {
		t.Fatalf("expected metrics output to be non-empty")
	}

	resp = httptest.NewRecorder()
	ops.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/audit?limit=5", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 audit, got %d", resp.Code)
	}
	var entries []AuditEntry
	if err := json.Unmarshal(resp.Body.Bytes(), &entries); err != nil {
		t.Fatalf("unmarshal audit: %v", err)
	}
	if len(entries) != 1 || entries[0].User != "u1" {
		t.Fatalf("unexpected audit entries: %+v", entries)
	}
}

func TestAuditLogEviction(t *testing.T) {
	audit := NewAuditLog(3, nil)
	for i := 0; i < 5; i++ {
		audit.Add(AuditEntry{Status: 200 + i})
	}
	entries := audit.List()
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries after eviction, got %d", len(entries))
	}
	if entries[0].Status != 202 {
		t.Fatalf("expected oldest surviving status 202, got %d", entries[0].Status)
	}
}

func errorCode(t *testing.T, resp *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal error response %q: %v", resp.Body.String(), err)
	}
	if body.Error.Code == "" || body.Error.Message == "" {
		t.Fatalf("error response missing code or message: %s", resp.Body.String())
	}
	return body.Error.Code
}

func TestHandlerErrorEnvelope(t *testing.T) {
	handler, _ := newTestHandler(t)

	// Middleware rejections and handler rejections share one envelope.
	resp := doRequest(t, handler, http.MethodGet, "/auth/me", "not-a-token", nil)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 bad token, got %d", resp.Code)
	}
	if code := errorCode(t, resp); code != "invalid_token" {
		t.Fatalf("expected invalid_token, got %q", code)
	}

	resp = doRequest(t, handler, http.MethodPost, "/auth/login", "", map[string]any{
		"email": testAdminEmail, "password": "wrong-password",
	})
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 wrong password, got %d", resp.Code)
	}
	if code := errorCode(t, resp); code != "unauthorized" {
		t.Fatalf("expected unauthorized, got %q", code)
	}

	login := doRequest(t, handler, http.MethodPost, "/auth/login", "", map[string]any{
		"email": testAdminEmail, "password": testAdminPass,
	})
	adminToken := decodeBody(t, login)["token"].(string)

	resp = doRequest(t, handler, http.MethodGet, "/users/no-such-user", adminToken, nil)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 missing user, got %d", resp.Code)
	}
	if code := errorCode(t, resp); code != "not_found" {
		t.Fatalf("expected not_found, got %q", code)
	}

	register := map[string]any{"email": "dup@example.com", "password": "dup-pass-123"}
	if resp = doRequest(t, handler, http.MethodPost, "/auth/register", "", register); resp.Code != http.StatusCreated {
		t.Fatalf("expected 201 register, got %d: %s", resp.Code, resp.Body.String())
	}
	resp = doRequest(t, handler, http.MethodPost, "/auth/register", "", register)
	if resp.Code != http.StatusConflict {
		t.Fatalf("expected 409 duplicate email, got %d", resp.Code)
	}
	if code := errorCode(t, resp); code != "conflict" {
		t.Fatalf("expected conflict, got %q", code)
	}

	resp = doRequest(t, handler, http.MethodPost, "/subscription-types", adminToken, map[string]any{})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 empty type, got %d", resp.Code)
	}
	errorCode(t, resp)
}

func TestMarkReadForeignNotificationNotFound(t *testing.T) {
	handler, application := newTestHandler(t)

	login := doRequest(t, handler, http.MethodPost, "/auth/login", "", map[string]any{
		"email": testAdminEmail, "password": testAdminPass,
	})
	adminBody := decodeBody(t, login)
	adminToken := adminBody["token"].(string)
	adminID := adminBody["user"].(map[string]any)["id"].(string)

	member, err := application.Users.Register(context.Background(), "bob@example.com", "member-pass-456", "Bob")
	if err != nil {
		t.Fatalf("register member: %v", err)
	}
	n, err := application.Notifications.Create(context.Background(), notification.Notification{
		UserID: member.ID, TypeKey: "announcements", Title: "hello",
	})
	if err != nil {
		t.Fatalf("create notification: %v", err)
	}

	// The notification belongs to the member, not to the user in the path.
	resp := doRequest(t, handler, http.MethodPut, "/users/"+adminID+"/notifications/"+n.ID+"/read", adminToken, nil)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 marking foreign notification, got %d: %s", resp.Code, resp.Body.String())
	}
	if code := errorCode(t, resp); code != "not_found" {
		t.Fatalf("expected not_found, got %q", code)
	}

	resp = doRequest(t, handler, http.MethodDelete, "/users/"+adminID+"/notifications/"+n.ID, adminToken, nil)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 deleting foreign notification, got %d: %s", resp.Code, resp.Body.String())
	}

	// The owner still sees it unread.
	got, err := application.Notifications.Get(context.Background(), n.ID)
	if err != nil {
		t.Fatalf("get notification: %v", err)
	}
	if got.Read {
		t.Fatal("foreign mark-read must not flip the read flag")
	}
}
