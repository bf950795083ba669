package httpapi

import (
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	app "github.com/lanternhq/lantern-api/internal/app"
	"github.com/lanternhq/lantern-api/internal/app/domain/notification"
	"github.com/lanternhq/lantern-api/internal/app/domain/subscription"
	"github.com/lanternhq/lantern-api/internal/app/domain/user"
	"github.com/lanternhq/lantern-api/internal/app/services/subscriptions"
	"github.com/lanternhq/lantern-api/internal/app/services/users"
	"github.com/lanternhq/lantern-api/internal/app/storage"
	"github.com/lanternhq/lantern-api/internal/auth"
	"github.com/lanternhq/lantern-api/internal/errors"
	"github.com/lanternhq/lantern-api/internal/httputil"
	"github.com/lanternhq/lantern-api/internal/logging"
	"github.com/lanternhq/lantern-api/internal/middleware"
)

// Config carries the handler's auth and middleware dependencies.
type Config struct {
	// Legacy issues tokens for /auth/login and /auth/register. Required.
	Legacy *auth.LegacyVerifier

	// Verifier authenticates incoming requests; usually a chain of the
	// legacy and Firebase verifiers.
	Verifier auth.TokenVerifier

	// Sessions backs legacy token revocation. May be nil in tests.
	Sessions   auth.SessionStore
	SessionTTL time.Duration

	// ServiceAuth guards the internal notification endpoint. Nil disables
	// the endpoint.
	ServiceAuth *middleware.ServiceAuthMiddleware

	RateLimit      *middleware.RateLimiter
	AllowedOrigins []string
	Audit          *AuditLog
	Log            *logging.Logger
	MaxBodyBytes   int64
}

// handler bundles HTTP endpoints for the application services.
type handler struct {
	app        *app.Application
	legacy     *auth.LegacyVerifier
	sessions   auth.SessionStore
	sessionTTL time.Duration
	log        *logging.Logger
	upgrader   websocket.Upgrader
}

// NewHandler returns the public REST API router.
func NewHandler(application *app.Application, cfg Config) http.Handler {
	if cfg.Log == nil {
		cfg.Log = logging.New("httpapi", "info", "json")
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 24 * time.Hour
	}

	h := &handler{
		app:        application,
		legacy:     cfg.Legacy,
		sessions:   cfg.Sessions,
		sessionTTL: cfg.SessionTTL,
		log:        cfg.Log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}

	r := mux.NewRouter()
	r.Use(middleware.NewTracingMiddleware(cfg.Log).Handler)
	r.Use(middleware.MetricsMiddleware())
	r.Use(middleware.LoggingMiddleware(cfg.Log))
	r.Use(middleware.NewCORSMiddleware(cfg.AllowedOrigins).Handler)
	if cfg.MaxBodyBytes > 0 {
		limit := cfg.MaxBodyBytes
		r.Use(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
				if req.Body != nil {
					req.Body = http.MaxBytesReader(w, req.Body, limit)
				}
				next.ServeHTTP(w, req)
			})
		})
	}
	if cfg.RateLimit != nil {
		r.Use(cfg.RateLimit.Handler)
	}
	if cfg.Audit != nil {
		r.Use(cfg.Audit.Middleware)
	}

	skipPaths := []string{
		"/healthz",
		"/auth/register",
		"/auth/login",
		"/preferences/email/unsubscribe",
		"/internal/notifications",
	}
	authMW := middleware.NewAuthMiddleware(cfg.Verifier, cfg.Sessions, application.Users, cfg.Log, skipPaths)
	r.Use(authMW.Handler)

	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)

	r.HandleFunc("/auth/register", h.register).Methods(http.MethodPost)
	r.HandleFunc("/auth/login", h.login).Methods(http.MethodPost)
	r.HandleFunc("/auth/logout", h.logout).Methods(http.MethodPost)
	r.HandleFunc("/auth/me", h.me).Methods(http.MethodGet)

	admin := middleware.RequireRole(string(user.RoleAdmin))
	r.Handle("/users", admin(http.HandlerFunc(h.listUsers))).Methods(http.MethodGet)
	r.Handle("/users", admin(http.HandlerFunc(h.createUser))).Methods(http.MethodPost)
	r.HandleFunc("/users/{id}", h.getUser).Methods(http.MethodGet)
	r.HandleFunc("/users/{id}", h.updateUser).Methods(http.MethodPatch)
	r.HandleFunc("/users/{id}", h.deleteUser).Methods(http.MethodDelete)

	r.HandleFunc("/users/{id}/subscriptions", h.listSubscriptions).Methods(http.MethodGet)
	r.HandleFunc("/users/{id}/subscriptions", h.createSubscription).Methods(http.MethodPost)
	r.HandleFunc("/users/{id}/subscriptions/{subID}", h.updateSubscription).Methods(http.MethodPatch)
	r.HandleFunc("/users/{id}/subscriptions/{subID}", h.deleteSubscription).Methods(http.MethodDelete)

	r.HandleFunc("/subscription-types", h.listTypes).Methods(http.MethodGet)
	r.Handle("/subscription-types", admin(http.HandlerFunc(h.createType))).Methods(http.MethodPost)
	r.HandleFunc("/subscription-types/{id}", h.getType).Methods(http.MethodGet)
	r.Handle("/subscription-types/{id}", admin(http.HandlerFunc(h.updateType))).Methods(http.MethodPatch)
	r.Handle("/subscription-types/{id}", admin(http.HandlerFunc(h.deleteType))).Methods(http.MethodDelete)

	r.HandleFunc("/users/{id}/notifications", h.listNotifications).Methods(http.MethodGet)
	r.Handle("/users/{id}/notifications", admin(http.HandlerFunc(h.createNotification))).Methods(http.MethodPost)
	r.HandleFunc("/users/{id}/notifications/read-all", h.markAllRead).Methods(http.MethodPut)
	r.HandleFunc("/users/{id}/notifications/{nid}", h.getNotification).Methods(http.MethodGet)
	r.HandleFunc("/users/{id}/notifications/{nid}", h.deleteNotification).Methods(http.MethodDelete)
	r.HandleFunc("/users/{id}/notifications/{nid}/read", h.markRead).Methods(http.MethodPut)

	r.HandleFunc("/preferences/email", h.getEmailPreferences).Methods(http.MethodGet)
	r.HandleFunc("/preferences/email", h.putEmailPreferences).Methods(http.MethodPut)
	r.HandleFunc("/preferences/email/unsubscribe", h.unsubscribeByToken).Methods(http.MethodPost)

	r.HandleFunc("/notifications/stream", h.stream).Methods(http.MethodGet)

	if cfg.ServiceAuth != nil {
		r.Handle("/internal/notifications",
			cfg.ServiceAuth.Handler(middleware.RequireServiceAuth(http.HandlerFunc(h.createInternalNotification)))).
			Methods(http.MethodPost)
	}

	return r
}

// Auth endpoints ------------------------------------------------------------

func (h *handler) register(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Email       string `json:"email"`
		Password    string `json:"password"`
		DisplayName string `json:"display_name"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, r, errors.BadRequest(err.Error()))
		return
	}

	u, err := h.app.Users.Register(r.Context(), payload.Email, payload.Password, payload.DisplayName)
	if err != nil {
		writeError(w, r, err)
		return
	}

	token, expiresAt, err := h.issueSession(r, u)
	if err != nil {
		writeError(w, r, errors.Internal("", err))
		return
	}
	writeJSON(w, http.StatusCreated, loginResponse{User: u, Token: token, ExpiresAt: expiresAt})
}

func (h *handler) login(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, r, errors.BadRequest(err.Error()))
		return
	}

	u, err := h.app.Users.Authenticate(r.Context(), payload.Email, payload.Password)
	if err != nil {
		writeError(w, r, errors.Unauthorized(err.Error()))
		return
	}

	token, expiresAt, err := h.issueSession(r, u)
	if err != nil {
		writeError(w, r, errors.Internal("", err))
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{User: u, Token: token, ExpiresAt: expiresAt})
}

type loginResponse struct {
	User      user.User `json:"user"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (h *handler) issueSession(r *http.Request, u user.User) (string, time.Time, error) {
	if h.legacy == nil {
		return "", time.Time{}, fmt.Errorf("token issuing not configured")
	}
	token, err := h.legacy.Issue(u.ID, u.Email, string(u.Role))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("issue token: %w", err)
	}
	now := time.Now().UTC()
	expiresAt := now.Add(h.sessionTTL)
	if h.sessions != nil {
		session := auth.Session{UserID: u.ID, Role: string(u.Role), CreatedAt: now, ExpiresAt: expiresAt}
		if err := h.sessions.Save(r.Context(), token, session); err != nil {
			return "", time.Time{}, fmt.Errorf("save session: %w", err)
		}
	}
	return token, expiresAt, nil
}

func (h *handler) logout(w http.ResponseWriter, r *http.Request) {
	if h.sessions != nil {
		if token := bearerToken(r); token != "" {
			if err := h.sessions.Delete(r.Context(), token); err != nil && !stderrors.Is(err, storage.ErrNotFound) {
				writeError(w, r, errors.Internal("", err))
				return
			}
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) me(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	u, err := h.app.Users.Get(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// User endpoints ------------------------------------------------------------

func (h *handler) listUsers(w http.ResponseWriter, r *http.Request) {
	list, err := h.app.Users.List(r.Context())
	if err != nil {
		writeError(w, r, errors.Internal("", err))
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *handler) createUser(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Email       string `json:"email"`
		Password    string `json:"password"`
		DisplayName string `json:"display_name"`
		Role        string `json:"role"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, r, errors.BadRequest(err.Error()))
		return
	}

	u, err := h.app.Users.Register(r.Context(), payload.Email, payload.Password, payload.DisplayName)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if role := strings.TrimSpace(payload.Role); role != "" && role != string(u.Role) {
		r2 := user.Role(role)
		u, err = h.app.Users.Update(r.Context(), u.ID, users.UpdateParams{Role: &r2})
		if err != nil {
			writeError(w, r, err)
			return
		}
	}
	writeJSON(w, http.StatusCreated, u)
}

func (h *handler) getUser(w http.ResponseWriter, r *http.Request) {
	targetID := mux.Vars(r)["id"]
	if !h.requireOwner(w, r, targetID) {
		return
	}
	u, err := h.app.Users.Get(r.Context(), targetID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (h *handler) updateUser(w http.ResponseWriter, r *http.Request) {
	targetID := mux.Vars(r)["id"]
	if !h.requireOwner(w, r, targetID) {
		return
	}

	var payload struct {
		DisplayName *string           `json:"display_name"`
		EmailOptOut *bool             `json:"email_opt_out"`
		Disabled    *bool             `json:"disabled"`
		Role        *string           `json:"role"`
		Metadata    map[string]string `json:"metadata"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, r, errors.BadRequest(err.Error()))
		return
	}

	// Role and disabled changes are admin operations even on own account.
	if (payload.Role != nil || payload.Disabled != nil) && !isAdmin(r) {
		writeError(w, r, errors.Forbidden("admin role required"))
		return
	}

	params := users.UpdateParams{
		DisplayName: payload.DisplayName,
		EmailOptOut: payload.EmailOptOut,
		Disabled:    payload.Disabled,
		Metadata:    payload.Metadata,
	}
	if payload.Role != nil {
		role := user.Role(*payload.Role)
		params.Role = &role
	}

	u, err := h.app.Users.Update(r.Context(), targetID, params)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (h *handler) deleteUser(w http.ResponseWriter, r *http.Request) {
	targetID := mux.Vars(r)["id"]
	if !h.requireOwner(w, r, targetID) {
		return
	}
	if err := h.app.Users.Delete(r.Context(), targetID); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Subscription endpoints ----------------------------------------------------

func (h *handler) listSubscriptions(w http.ResponseWriter, r *http.Request) {
	targetID := mux.Vars(r)["id"]
	if !h.requireOwner(w, r, targetID) {
		return
	}
	subs, err := h.app.Subscriptions.ListForUser(r.Context(), targetID)
	if err != nil {
		writeError(w, r, errors.Internal("", err))
		return
	}
	writeJSON(w, http.StatusOK, subs)
}

func (h *handler) createSubscription(w http.ResponseWriter, r *http.Request) {
	targetID := mux.Vars(r)["id"]
	if !h.requireOwner(w, r, targetID) {
		return
	}

	var payload struct {
		TypeID   string            `json:"type_id"`
		Channel  string            `json:"channel"`
		Active   *bool             `json:"active"`
		Metadata map[string]string `json:"metadata"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, r, errors.BadRequest(err.Error()))
		return
	}

	channel := subscription.Channel(payload.Channel)
	var sub subscription.Subscription
	var err error
	if payload.Active != nil && !*payload.Active {
		sub, err = h.app.Subscriptions.Unsubscribe(r.Context(), targetID, payload.TypeID, channel)
	} else {
		sub, err = h.app.Subscriptions.Subscribe(r.Context(), targetID, payload.TypeID, channel, payload.Metadata)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sub)
}

func (h *handler) updateSubscription(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	targetID := vars["id"]
	if !h.requireOwner(w, r, targetID) {
		return
	}

	var payload struct {
		Active *bool `json:"active"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, r, errors.BadRequest(err.Error()))
		return
	}
	if payload.Active == nil {
		writeError(w, r, errors.Validation("active is required"))
		return
	}

	sub, err := h.app.Subscriptions.SetActive(r.Context(), targetID, vars["subID"], *payload.Active)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func (h *handler) deleteSubscription(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	targetID := vars["id"]
	if !h.requireOwner(w, r, targetID) {
		return
	}
	if err := h.app.Subscriptions.Delete(r.Context(), targetID, vars["subID"]); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Subscription type endpoints -----------------------------------------------

func (h *handler) listTypes(w http.ResponseWriter, r *http.Request) {
	types, err := h.app.Subscriptions.ListTypes(r.Context())
	if err != nil {
		writeError(w, r, errors.Internal("", err))
		return
	}
	writeJSON(w, http.StatusOK, types)
}

func (h *handler) createType(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Key          string `json:"key"`
		Name         string `json:"name"`
		Description  string `json:"description"`
		DefaultOptIn bool   `json:"default_opt_in"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, r, errors.BadRequest(err.Error()))
		return
	}

	st, err := h.app.Subscriptions.CreateType(r.Context(), subscription.Type{
		Key:          payload.Key,
		Name:         payload.Name,
		Description:  payload.Description,
		DefaultOptIn: payload.DefaultOptIn,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, st)
}

func (h *handler) getType(w http.ResponseWriter, r *http.Request) {
	st, err := h.app.Subscriptions.GetType(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *handler) updateType(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Name         *string `json:"name"`
		Description  *string `json:"description"`
		DefaultOptIn *bool   `json:"default_opt_in"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, r, errors.BadRequest(err.Error()))
		return
	}

	st, err := h.app.Subscriptions.UpdateType(r.Context(), mux.Vars(r)["id"], payload.Name, payload.Description, payload.DefaultOptIn)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *handler) deleteType(w http.ResponseWriter, r *http.Request) {
	if err := h.app.Subscriptions.DeleteType(r.Context(), mux.Vars(r)["id"]); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Notification endpoints ----------------------------------------------------

func (h *handler) listNotifications(w http.ResponseWriter, r *http.Request) {
	targetID := mux.Vars(r)["id"]
	if !h.requireOwner(w, r, targetID) {
		return
	}
	unreadOnly := r.URL.Query().Get("unread") == "true"
	list, err := h.app.Notifications.List(r.Context(), targetID, unreadOnly)
	if err != nil {
		writeError(w, r, errors.Internal("", err))
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *handler) createNotification(w http.ResponseWriter, r *http.Request) {
	h.createNotificationFor(w, r, mux.Vars(r)["id"])
}

// createInternalNotification accepts notifications from trusted backend
// services. The target user comes from the X-User-ID header validated by
// the service auth middleware, or from the body when the header is absent.
func (h *handler) createInternalNotification(w http.ResponseWriter, r *http.Request) {
	h.createNotificationFor(w, r, middleware.GetUserIDFromContext(r.Context()))
}

func (h *handler) createNotificationFor(w http.ResponseWriter, r *http.Request, userID string) {
	var payload struct {
		UserID   string            `json:"user_id"`
		TypeKey  string            `json:"type_key"`
		Title    string            `json:"title"`
		Body     string            `json:"body"`
		Metadata map[string]string `json:"metadata"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, r, errors.BadRequest(err.Error()))
		return
	}
	if userID == "" {
		userID = payload.UserID
	}

	n, err := h.app.Notifications.Create(r.Context(), notification.Notification{
		UserID:   userID,
		TypeKey:  payload.TypeKey,
		Title:    payload.Title,
		Body:     payload.Body,
		Metadata: payload.Metadata,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, n)
}

func (h *handler) getNotification(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	targetID := vars["id"]
	if !h.requireOwner(w, r, targetID) {
		return
	}
	n, err := h.app.Notifications.Get(r.Context(), vars["nid"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	if n.UserID != targetID {
		writeError(w, r, errors.NotFound("notification", vars["nid"]))
		return
	}
	writeJSON(w, http.StatusOK, n)
}

func (h *handler) markRead(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	targetID := vars["id"]
	if !h.requireOwner(w, r, targetID) {
		return
	}
	n, err := h.app.Notifications.MarkRead(r.Context(), targetID, vars["nid"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

func (h *handler) markAllRead(w http.ResponseWriter, r *http.Request) {
	targetID := mux.Vars(r)["id"]
	if !h.requireOwner(w, r, targetID) {
		return
	}
	count, err := h.app.Notifications.MarkAllRead(r.Context(), targetID)
	if err != nil {
		writeError(w, r, errors.Internal("", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"updated": count})
}

func (h *handler) deleteNotification(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	targetID := vars["id"]
	if !h.requireOwner(w, r, targetID) {
		return
	}
	if err := h.app.Notifications.Delete(r.Context(), targetID, vars["nid"]); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Email preference endpoints ------------------------------------------------

func (h *handler) getEmailPreferences(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	u, err := h.app.Users.Get(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	prefs, err := h.app.Subscriptions.EmailPreferences(r.Context(), userID)
	if err != nil {
		writeError(w, r, errors.Internal("", err))
		return
	}
	writeJSON(w, http.StatusOK, struct {
		EmailOptOut bool                            `json:"email_opt_out"`
		Types       []subscriptions.EmailPreference `json:"types"`
	}{
		EmailOptOut: u.EmailOptOut,
		Types:       prefs,
	})
}

func (h *handler) putEmailPreferences(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	var payload struct {
		EmailOptOut *bool `json:"email_opt_out"`
		Types       []struct {
			TypeID  string `json:"type_id"`
			Enabled bool   `json:"enabled"`
		} `json:"types"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, r, errors.BadRequest(err.Error()))
		return
	}

	if payload.EmailOptOut != nil {
		if _, err := h.app.Users.SetEmailOptOut(r.Context(), userID, *payload.EmailOptOut); err != nil {
			writeError(w, r, err)
			return
		}
	}
	for _, t := range payload.Types {
		var err error
		if t.Enabled {
			_, err = h.app.Subscriptions.Subscribe(r.Context(), userID, t.TypeID, subscription.ChannelEmail, nil)
		} else {
			_, err = h.app.Subscriptions.Unsubscribe(r.Context(), userID, t.TypeID, subscription.ChannelEmail)
		}
		if err != nil {
			writeError(w, r, err)
			return
		}
	}

	h.getEmailPreferences(w, r)
}

func (h *handler) unsubscribeByToken(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Token string `json:"token"`
	}
	if r.Body != nil && r.ContentLength != 0 {
		if err := decodeJSON(r.Body, &payload); err != nil {
			writeError(w, r, errors.BadRequest(err.Error()))
			return
		}
	}
	if payload.Token == "" {
		payload.Token = r.URL.Query().Get("token")
	}
	if strings.TrimSpace(payload.Token) == "" {
		writeError(w, r, errors.Validation("token is required"))
		return
	}

	if err := h.app.Subscriptions.ApplyUnsubscribeToken(r.Context(), payload.Token); err != nil {
		writeError(w, r, errors.BadRequest(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "unsubscribed"})
}

// Helpers -------------------------------------------------------------------

// requireOwner allows the request when the caller is the target user or an
// admin. It writes the error response itself and reports whether the caller
// may proceed.
func (h *handler) requireOwner(w http.ResponseWriter, r *http.Request, targetID string) bool {
	identity := middleware.GetIdentity(r.Context())
	if identity == nil || identity.UserID == "" {
		writeError(w, r, errors.Unauthorized(""))
		return false
	}
	if identity.UserID != targetID && identity.Role != string(user.RoleAdmin) {
		writeError(w, r, errors.Forbidden(fmt.Sprintf("user %s not accessible", targetID)))
		return false
	}
	return true
}

func isAdmin(r *http.Request) bool {
	return middleware.GetUserRole(r.Context()) == string(user.RoleAdmin)
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return ""
	}
	return parts[1]
}

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError serializes every handler failure through the canonical error
// envelope. Storage sentinels from the services are translated into the
// service error model; anything else is treated as a validation failure.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	svcErr := errors.GetServiceError(err)
	if svcErr == nil {
		switch {
		case stderrors.Is(err, sql.ErrNoRows):
			svcErr = errors.NotFound("resource", "")
		case stderrors.Is(err, storage.ErrConflict):
			svcErr = errors.Conflict(err.Error())
		default:
			svcErr = errors.Validation(err.Error())
		}
	}
	httputil.WriteErrorResponse(w, r, svcErr.HTTPStatus, string(svcErr.Code), svcErr.Message, svcErr.Details)
}
