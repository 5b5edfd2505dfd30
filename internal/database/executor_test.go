package database

import (
	"context"
	"errors"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
)

func newMockExecutor(t *testing.T, driver string) (*SQLExecutor, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return NewFromDB(db, driver), mock
}

func TestExecuteReportsRowsAffected(t *testing.T) {
	e, mock := newMockExecutor(t, "mysql")
	stmt := "INSERT INTO t VALUES (1), (2), (3)"
	mock.ExpectExec(stmt).WillReturnResult(sqlmock.NewResult(0, 3))

	res, err := e.Execute(context.Background(), stmt)
	if err != nil {
		t.Fatal(err)
	}
	if res.RowsAffected != 3 {
		t.Errorf("rows affected = %d, want 3", res.RowsAffected)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestExecutePropagatesError(t *testing.T) {
	e, mock := newMockExecutor(t, "mysql")
	stmt := "CREATE TABLE t (id INT)"
	dbErr := errors.New("Error 1050: Table 't' already exists")
	mock.ExpectExec(stmt).WillReturnError(dbErr)

	if _, err := e.Execute(context.Background(), stmt); !errors.Is(err, dbErr) {
		t.Errorf("error = %v, want %v", err, dbErr)
	}
}

func TestPrepareBulkSession(t *testing.T) {
	t.Run("mysql issues session statements", func(t *testing.T) {
		e, mock := newMockExecutor(t, "mysql")
		mock.ExpectExec("SET SESSION foreign_key_checks = 0").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec("SET SESSION unique_checks = 0").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec("SET SESSION sql_mode = 'NO_AUTO_VALUE_ON_ZERO'").WillReturnResult(sqlmock.NewResult(0, 0))

		if err := e.PrepareBulkSession(context.Background()); err != nil {
			t.Fatal(err)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Error(err)
		}
	})

	t.Run("postgres is a no-op", func(t *testing.T) {
		e, mock := newMockExecutor(t, "pgx")
		if err := e.PrepareBulkSession(context.Background()); err != nil {
			t.Fatal(err)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Error(err)
		}
	})
}

func TestDDLWithoutRowCount(t *testing.T) {
	e, mock := newMockExecutor(t, "pgx")
	stmt := "CREATE INDEX i ON t (c)"
	mock.ExpectExec(stmt).WillReturnResult(sqlmock.NewErrorResult(errors.New("no RowsAffected available")))

	res, err := e.Execute(context.Background(), stmt)
	if err != nil {
		t.Fatalf("DDL failed on missing row count: %v", err)
	}
	if res.RowsAffected != 0 {
		t.Errorf("rows affected = %d, want 0", res.RowsAffected)
	}
}
