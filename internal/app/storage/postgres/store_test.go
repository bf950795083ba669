package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"

	"github.com/lanternhq/lantern-api/internal/app/domain/notification"
	"github.com/lanternhq/lantern-api/internal/app/domain/user"
	"github.com/lanternhq/lantern-api/internal/app/storage"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewFromSQL(db), mock
}

func TestCreateUserInsertsRow(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO users")).
		WillReturnResult(sqlmock.NewResult(1, 1))

	u, err := store.CreateUser(context.Background(), user.User{
		Email: "a@example.com",
		Role:  user.RoleMember,
	})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if u.ID == "" {
		t.Fatal("expected generated id")
	}
	if u.CreatedAt.IsZero() || u.UpdatedAt.IsZero() {
		t.Fatal("expected timestamps set")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCreateUserMapsUniqueViolation(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO users")).
		WillReturnError(&pq.Error{Code: "23505", Detail: "Key (email) already exists."})

	_, err := store.CreateUser(context.Background(), user.User{Email: "a@example.com"})
	if !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}
}

func TestGetUserNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT .+ FROM users WHERE id").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := store.GetUser(context.Background(), "missing")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestUpdateNotificationZeroRowsIsNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{
		"id", "user_id", "type_key", "title", "body", "read", "read_at",
		"email_status", "email_error", "metadata", "created_at", "updated_at",
	}).AddRow("n1", "u1", "billing", "t", "b", false, nil, "pending", "", []byte(`{}`), now, now)

	mock.ExpectQuery("SELECT .+ FROM notifications WHERE id").WillReturnRows(rows)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE notifications")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	_, err := store.UpdateNotification(context.Background(), notification.Notification{
		ID: "n1", Title: "t", Body: "b", EmailStatus: notification.EmailSent,
	})
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestMarkAllReadReturnsCount(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE notifications")).
		WillReturnResult(sqlmock.NewResult(0, 3))

	count, err := store.MarkAllRead(context.Background(), "u1", time.Now())
	if err != nil {
		t.Fatalf("MarkAllRead: %v", err)
	}
	if count != 3 {
		t.Fatalf("count = %d, want 3", count)
	}
}

func TestDeleteReadBefore(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM notifications WHERE read = true")).
		WillReturnResult(sqlmock.NewResult(0, 7))

	count, err := store.DeleteReadBefore(context.Background(), time.Now().Add(-90*24*time.Hour))
	if err != nil {
		t.Fatalf("DeleteReadBefore: %v", err)
	}
	if count != 7 {
		t.Fatalf("count = %d, want 7", count)
	}
}
