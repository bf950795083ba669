package migrations

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

func expectStep(mock sqlmock.Sqlmock, statements int) {
	mock.ExpectBegin()
	for i := 0; i < statements; i++ {
		mock.ExpectExec(".*").WillReturnResult(sqlmock.NewResult(0, 0))
	}
	mock.ExpectExec("INSERT INTO schema_version").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
}

func TestApplyRunsAllStepsFromScratch(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_version").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT COALESCE").
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(0))

	expectStep(mock, 3) // users
	expectStep(mock, 2) // subscription_types
	expectStep(mock, 3) // subscriptions
	expectStep(mock, 2) // notifications
	expectStep(mock, 2) // email delivery columns

	if err := Apply(context.Background(), db); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestApplySkipsAppliedSteps(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_version").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT COALESCE").
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(Latest()))

	if err := Apply(context.Background(), db); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestStepsAreOrdered(t *testing.T) {
	for i := 1; i < len(steps); i++ {
		if steps[i].version <= steps[i-1].version {
			t.Fatalf("step %d (%s) out of order", steps[i].version, steps[i].name)
		}
	}
	if Latest() != steps[len(steps)-1].version {
		t.Fatal("Latest() disagrees with step table")
	}
}
