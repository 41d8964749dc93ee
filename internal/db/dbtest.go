package db

import (
	"context"
	"testing"

	"github.com/google/uuid"
)

// OpenTest returns a migrated, private in-memory SQLite database that is
// closed when the test ends.
func OpenTest(t testing.TB) *DB {
	t.Helper()
	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared&_pragma=foreign_keys(1)"
	ctx := context.Background()
	sqlDB, err := Open(ctx, DriverSQLite, dsn)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := EnsureSchema(ctx, sqlDB, DriverSQLite); err != nil {
		t.Fatalf("schema: %v", err)
	}
	return New(sqlDB, DriverSQLite, nil)
}
