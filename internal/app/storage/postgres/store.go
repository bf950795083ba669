package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/lanternhq/lantern-api/internal/app/domain/notification"
	"github.com/lanternhq/lantern-api/internal/app/domain/subscription"
	"github.com/lanternhq/lantern-api/internal/app/domain/user"
	"github.com/lanternhq/lantern-api/internal/app/storage"
)

// Store implements the storage interfaces backed by PostgreSQL.
type Store struct {
	db *sqlx.DB
}

var _ storage.UserStore = (*Store)(nil)
var _ storage.SubscriptionStore = (*Store)(nil)
var _ storage.NotificationStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// NewFromSQL wraps a raw database handle. Used by tests built on sqlmock.
func NewFromSQL(db *sql.DB) *Store {
	return &Store{db: sqlx.NewDb(db, "postgres")}
}

// mapError translates driver-level constraint failures into the sentinel
// errors the rest of the code matches on.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Name() {
		case "unique_violation":
			return fmt.Errorf("%s: %w", pqErr.Detail, storage.ErrConflict)
		case "foreign_key_violation":
			return fmt.Errorf("%s: %w", pqErr.Detail, storage.ErrNotFound)
		}
	}
	return err
}

// --- UserStore --------------------------------------------------------------

func (s *Store) CreateUser(ctx context.Context, u user.User) (user.User, error) {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now

	metadataJSON, err := json.Marshal(u.Metadata)
	if err != nil {
		return user.User{}, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO users (id, email, display_name, role, auth_provider, firebase_uid,
			password_hash, email_verified, email_opt_out, disabled, metadata, created_at, updated_at)
		VALUES ($1, lower($2), $3, $4, $5, NULLIF($6, ''), $7, $8, $9, $10, $11, $12, $13)
	`, u.ID, u.Email, u.DisplayName, u.Role, u.AuthProvider, u.FirebaseUID,
		u.PasswordHash, u.EmailVerified, u.EmailOptOut, u.Disabled, metadataJSON, u.CreatedAt, u.UpdatedAt)
	if err != nil {
		return user.User{}, mapError(err)
	}
	return u, nil
}

func (s *Store) UpdateUser(ctx context.Context, u user.User) (user.User, error) {
	existing, err := s.GetUser(ctx, u.ID)
	if err != nil {
		return user.User{}, err
	}

	u.CreatedAt = existing.CreatedAt
	u.UpdatedAt = time.Now().UTC()

	metadataJSON, err := json.Marshal(u.Metadata)
	if err != nil {
		return user.User{}, err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET email = lower($2), display_name = $3, role = $4, auth_provider = $5,
			firebase_uid = NULLIF($6, ''), password_hash = $7, email_verified = $8,
			email_opt_out = $9, disabled = $10, metadata = $11, updated_at = $12
		WHERE id = $1
	`, u.ID, u.Email, u.DisplayName, u.Role, u.AuthProvider, u.FirebaseUID,
		u.PasswordHash, u.EmailVerified, u.EmailOptOut, u.Disabled, metadataJSON, u.UpdatedAt)
	if err != nil {
		return user.User{}, mapError(err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return user.User{}, sql.ErrNoRows
	}
	return u, nil
}

const userColumns = `id, email, COALESCE(display_name, ''), role, auth_provider,
	COALESCE(firebase_uid, ''), COALESCE(password_hash, ''), email_verified,
	email_opt_out, disabled, metadata, created_at, updated_at`

func scanUser(row *sql.Row) (user.User, error) {
	var (
		u           user.User
		metadataRaw []byte
	)
	if err := row.Scan(&u.ID, &u.Email, &u.DisplayName, &u.Role, &u.AuthProvider,
		&u.FirebaseUID, &u.PasswordHash, &u.EmailVerified, &u.EmailOptOut,
		&u.Disabled, &metadataRaw, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return user.User{}, err
	}
	if len(metadataRaw) > 0 {
		_ = json.Unmarshal(metadataRaw, &u.Metadata)
	}
	return u, nil
}

func (s *Store) GetUser(ctx context.Context, id string) (user.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row)
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (user.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = lower($1)`, email)
	return scanUser(row)
}

func (s *Store) GetUserByFirebaseUID(ctx context.Context, uid string) (user.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE firebase_uid = $1`, uid)
	return scanUser(row)
}

func (s *Store) ListUsers(ctx context.Context) ([]user.User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]user.User, 0)
	for rows.Next() {
		var (
			u           user.User
			metadataRaw []byte
		)
		if err := rows.Scan(&u.ID, &u.Email, &u.DisplayName, &u.Role, &u.AuthProvider,
			&u.FirebaseUID, &u.PasswordHash, &u.EmailVerified, &u.EmailOptOut,
			&u.Disabled, &metadataRaw, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, err
		}
		if len(metadataRaw) > 0 {
			_ = json.Unmarshal(metadataRaw, &u.Metadata)
		}
		result = append(result, u)
	}
	return result, rows.Err()
}

func (s *Store) DeleteUser(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return mapError(err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// --- SubscriptionStore: types -----------------------------------------------

func (s *Store) CreateSubscriptionType(ctx context.Context, st subscription.Type) (subscription.Type, error) {
	if st.ID == "" {
		st.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	st.CreatedAt = now
	st.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO subscription_types (id, key, name, description, default_opt_in, created_at, updated_at)
		VALUES ($1, lower($2), $3, $4, $5, $6, $7)
	`, st.ID, st.Key, st.Name, st.Description, st.DefaultOptIn, st.CreatedAt, st.UpdatedAt)
	if err != nil {
		return subscription.Type{}, mapError(err)
	}
	return st, nil
}

func (s *Store) UpdateSubscriptionType(ctx context.Context, st subscription.Type) (subscription.Type, error) {
	existing, err := s.GetSubscriptionType(ctx, st.ID)
	if err != nil {
		return subscription.Type{}, err
	}

	st.CreatedAt = existing.CreatedAt
	st.UpdatedAt = time.Now().UTC()

	result, err := s.db.ExecContext(ctx, `
		UPDATE subscription_types
		SET key = lower($2), name = $3, description = $4, default_opt_in = $5, updated_at = $6
		WHERE id = $1
	`, st.ID, st.Key, st.Name, st.Description, st.DefaultOptIn, st.UpdatedAt)
	if err != nil {
		return subscription.Type{}, mapError(err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return subscription.Type{}, sql.ErrNoRows
	}
	return st, nil
}

const typeColumns = `id, key, name, COALESCE(description, ''), default_opt_in, created_at, updated_at`

func scanType(row *sql.Row) (subscription.Type, error) {
	var st subscription.Type
	if err := row.Scan(&st.ID, &st.Key, &st.Name, &st.Description, &st.DefaultOptIn,
		&st.CreatedAt, &st.UpdatedAt); err != nil {
		return subscription.Type{}, err
	}
	return st, nil
}

func (s *Store) GetSubscriptionType(ctx context.Context, id string) (subscription.Type, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+typeColumns+` FROM subscription_types WHERE id = $1`, id)
	return scanType(row)
}

func (s *Store) GetSubscriptionTypeByKey(ctx context.Context, key string) (subscription.Type, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+typeColumns+` FROM subscription_types WHERE key = lower($1)`, key)
	return scanType(row)
}

func (s *Store) ListSubscriptionTypes(ctx context.Context) ([]subscription.Type, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+typeColumns+` FROM subscription_types ORDER BY key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]subscription.Type, 0)
	for rows.Next() {
		var st subscription.Type
		if err := rows.Scan(&st.ID, &st.Key, &st.Name, &st.Description, &st.DefaultOptIn,
			&st.CreatedAt, &st.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, st)
	}
	return result, rows.Err()
}

func (s *Store) DeleteSubscriptionType(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM subscription_types WHERE id = $1`, id)
	if err != nil {
		return mapError(err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// --- SubscriptionStore: subscriptions ---------------------------------------

func (s *Store) CreateSubscription(ctx context.Context, sub subscription.Subscription) (subscription.Subscription, error) {
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	sub.CreatedAt = now
	sub.UpdatedAt = now

	metadataJSON, err := json.Marshal(sub.Metadata)
	if err != nil {
		return subscription.Subscription{}, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO subscriptions (id, user_id, type_id, channel, active, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, sub.ID, sub.UserID, sub.TypeID, sub.Channel, sub.Active, metadataJSON, sub.CreatedAt, sub.UpdatedAt)
	if err != nil {
		return subscription.Subscription{}, mapError(err)
	}
	return sub, nil
}

func (s *Store) UpdateSubscription(ctx context.Context, sub subscription.Subscription) (subscription.Subscription, error) {
	existing, err := s.GetSubscription(ctx, sub.ID)
	if err != nil {
		return subscription.Subscription{}, err
	}

	sub.UserID = existing.UserID
	sub.TypeID = existing.TypeID
	sub.CreatedAt = existing.CreatedAt
	sub.UpdatedAt = time.Now().UTC()

	metadataJSON, err := json.Marshal(sub.Metadata)
	if err != nil {
		return subscription.Subscription{}, err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE subscriptions
		SET channel = $2, active = $3, metadata = $4, updated_at = $5
		WHERE id = $1
	`, sub.ID, sub.Channel, sub.Active, metadataJSON, sub.UpdatedAt)
	if err != nil {
		return subscription.Subscription{}, mapError(err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return subscription.Subscription{}, sql.ErrNoRows
	}
	return sub, nil
}

const subscriptionColumns = `id, user_id, type_id, channel, active, metadata, created_at, updated_at`

func scanSubscription(row *sql.Row) (subscription.Subscription, error) {
	var (
		sub         subscription.Subscription
		metadataRaw []byte
	)
	if err := row.Scan(&sub.ID, &sub.UserID, &sub.TypeID, &sub.Channel, &sub.Active,
		&metadataRaw, &sub.CreatedAt, &sub.UpdatedAt); err != nil {
		return subscription.Subscription{}, err
	}
	if len(metadataRaw) > 0 {
		_ = json.Unmarshal(metadataRaw, &sub.Metadata)
	}
	return sub, nil
}

func (s *Store) GetSubscription(ctx context.Context, id string) (subscription.Subscription, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = $1`, id)
	return scanSubscription(row)
}

func (s *Store) GetSubscriptionForUser(ctx context.Context, userID, typeID string, channel subscription.Channel) (subscription.Subscription, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE user_id = $1 AND type_id = $2 AND channel = $3
	`, userID, typeID, channel)
	return scanSubscription(row)
}

func (s *Store) ListSubscriptions(ctx context.Context, userID string) ([]subscription.Subscription, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE $1 = '' OR user_id = $1
		ORDER BY created_at
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]subscription.Subscription, 0)
	for rows.Next() {
		var (
			sub         subscription.Subscription
			metadataRaw []byte
		)
		if err := rows.Scan(&sub.ID, &sub.UserID, &sub.TypeID, &sub.Channel, &sub.Active,
			&metadataRaw, &sub.CreatedAt, &sub.UpdatedAt); err != nil {
			return nil, err
		}
		if len(metadataRaw) > 0 {
			_ = json.Unmarshal(metadataRaw, &sub.Metadata)
		}
		result = append(result, sub)
	}
	return result, rows.Err()
}

func (s *Store) DeleteSubscription(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE id = $1`, id)
	if err != nil {
		return mapError(err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// --- NotificationStore ------------------------------------------------------

func (s *Store) CreateNotification(ctx context.Context, n notification.Notification) (notification.Notification, error) {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	n.CreatedAt = now
	n.UpdatedAt = now
	if n.EmailStatus == "" {
		n.EmailStatus = notification.EmailPending
	}

	metadataJSON, err := json.Marshal(n.Metadata)
	if err != nil {
		return notification.Notification{}, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO notifications (id, user_id, type_key, title, body, read, read_at,
			email_status, email_error, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, n.ID, n.UserID, n.TypeKey, n.Title, n.Body, n.Read, toNullTime(n.ReadAt),
		n.EmailStatus, n.EmailError, metadataJSON, n.CreatedAt, n.UpdatedAt)
	if err != nil {
		return notification.Notification{}, mapError(err)
	}
	return n, nil
}

func (s *Store) UpdateNotification(ctx context.Context, n notification.Notification) (notification.Notification, error) {
	existing, err := s.GetNotification(ctx, n.ID)
	if err != nil {
		return notification.Notification{}, err
	}

	n.UserID = existing.UserID
	n.CreatedAt = existing.CreatedAt
	n.UpdatedAt = time.Now().UTC()

	metadataJSON, err := json.Marshal(n.Metadata)
	if err != nil {
		return notification.Notification{}, err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE notifications
		SET title = $2, body = $3, read = $4, read_at = $5, email_status = $6,
			email_error = $7, metadata = $8, updated_at = $9
		WHERE id = $1
	`, n.ID, n.Title, n.Body, n.Read, toNullTime(n.ReadAt), n.EmailStatus,
		n.EmailError, metadataJSON, n.UpdatedAt)
	if err != nil {
		return notification.Notification{}, mapError(err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return notification.Notification{}, sql.ErrNoRows
	}
	return n, nil
}

const notificationColumns = `id, user_id, type_key, title, body, read, read_at,
	email_status, COALESCE(email_error, ''), metadata, created_at, updated_at`

func (s *Store) GetNotification(ctx context.Context, id string) (notification.Notification, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+notificationColumns+` FROM notifications WHERE id = $1`, id)

	var (
		n           notification.Notification
		readAt      sql.NullTime
		metadataRaw []byte
	)
	if err := row.Scan(&n.ID, &n.UserID, &n.TypeKey, &n.Title, &n.Body, &n.Read, &readAt,
		&n.EmailStatus, &n.EmailError, &metadataRaw, &n.CreatedAt, &n.UpdatedAt); err != nil {
		return notification.Notification{}, err
	}
	if readAt.Valid {
		t := readAt.Time
		n.ReadAt = &t
	}
	if len(metadataRaw) > 0 {
		_ = json.Unmarshal(metadataRaw, &n.Metadata)
	}
	return n, nil
}

func (s *Store) ListNotifications(ctx context.Context, userID string, unreadOnly bool) ([]notification.Notification, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+notificationColumns+` FROM notifications
		WHERE user_id = $1 AND ($2 = false OR read = false)
		ORDER BY created_at DESC
	`, userID, unreadOnly)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]notification.Notification, 0)
	for rows.Next() {
		var (
			n           notification.Notification
			readAt      sql.NullTime
			metadataRaw []byte
		)
		if err := rows.Scan(&n.ID, &n.UserID, &n.TypeKey, &n.Title, &n.Body, &n.Read, &readAt,
			&n.EmailStatus, &n.EmailError, &metadataRaw, &n.CreatedAt, &n.UpdatedAt); err != nil {
			return nil, err
		}
		if readAt.Valid {
			t := readAt.Time
			n.ReadAt = &t
		}
		if len(metadataRaw) > 0 {
			_ = json.Unmarshal(metadataRaw, &n.Metadata)
		}
		result = append(result, n)
	}
	return result, rows.Err()
}

func (s *Store) MarkAllRead(ctx context.Context, userID string, at time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE notifications
		SET read = true, read_at = $2, updated_at = $2
		WHERE user_id = $1 AND read = false
	`, userID, at.UTC())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (s *Store) DeleteNotification(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM notifications WHERE id = $1`, id)
	if err != nil {
		return mapError(err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *Store) DeleteReadBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM notifications WHERE read = true AND created_at < $1
	`, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func toNullTime(t *time.Time) sql.NullTime {
	if t == nil || t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
