package wolke

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

// testConn opens an in-memory sqlite database, applies the schema statements
// and wraps it in a connection.
func testConn(t *testing.T, schema ...string) *Connection {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	for _, stmt := range schema {
		if _, err := db.ExecContext(context.Background(), stmt); err != nil {
			t.Fatalf("apply schema: %v", err)
		}
	}

	return &Connection{Name: "test", Dialect: Dialects.SQLite3, DB: db}
}

// mockConn wraps a sqlmock handle in a connection, matching queries by
// exact string so generated SQL is pinned down.
func mockConn(t *testing.T) (*Connection, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	if err != nil {
		t.Fatalf("open sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	return &Connection{Name: "mock", Dialect: Dialects.SQLite3, DB: db}, mock
}

// recordDescriptor is a descriptor whose New hydrates a plain Record for the
// given table.
func recordDescriptor(alias, tableName string) TypeDescriptor {
	return TypeDescriptor{
		Alias: alias,
		Table: tableName,
		New: func(row map[string]any) Model {
			return NewRecord(RecordConfig{Table: tableName, MorphClass: alias}).
				SetRawAttributes(row, true).
				MarkExists(true)
		},
	}
}

// newParent builds a persisted parent record for relation tests.
func newParent(tableName string, attrs map[string]any) *Record {
	return NewRecord(RecordConfig{Table: tableName}).
		SetRawAttributes(attrs, true).
		MarkExists(true)
}
